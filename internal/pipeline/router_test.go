package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"stackanalyser/internal/analysis"
	"stackanalyser/internal/extract"
	"stackanalyser/internal/imagestore"
	"stackanalyser/internal/params"
	"stackanalyser/internal/storage"
)

type stubEngine struct {
	res   analysis.Result
	err   error
	calls []analysis.Request
}

func (s *stubEngine) Execute(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	s.calls = append(s.calls, req)
	return s.res, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterRecordsImageOutcomes(t *testing.T) {
	store, err := storage.New("sqlite", filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	eng := &stubEngine{res: analysis.Result{
		Processed:   1,
		Images:      []imagestore.ImageRef{{ID: 42}, {ID: 43}},
		Exported:    2,
		Results:     extract.Results{42: {Rows: []string{"t1", "t2"}}},
		Attachments: map[int64]string{42: "42.Correlation_Otsu.csv"},
	}}
	r := NewRouter(quietLogger(), store, eng)

	res := r.Process(context.Background(), Job{ID: "run-1", Variant: "correlation", Params: params.DefaultCorrelation()})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if res.Processed != 1 || res.Status != storage.StatusCompleted {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(eng.calls) != 1 || eng.calls[0].Variant.Key() != "correlation" {
		t.Fatalf("expected correlation variant to be executed")
	}

	images, err := store.RunImages("run-1")
	if err != nil {
		t.Fatalf("RunImages: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 image rows, got %d", len(images))
	}
	if images[0].Status != "uploaded" || images[0].Rows != 2 {
		t.Fatalf("unexpected image 42 record %+v", images[0])
	}
	if images[1].Status != "no_result" {
		t.Fatalf("unexpected image 43 record %+v", images[1])
	}
}

func TestRouterUnknownVariant(t *testing.T) {
	r := NewRouter(quietLogger(), nil, &stubEngine{})
	res := r.Process(context.Background(), Job{ID: "x", Variant: "segmentation"})
	if res.Error == nil || res.Status != storage.StatusFailed {
		t.Fatalf("expected failure for unknown variant, got %+v", res)
	}
}

func TestRouterValidationFailure(t *testing.T) {
	verr := &params.ValidationError{Violations: []params.Violation{{Code: params.CodeNoDistribution, Message: "no results option selected"}}}
	r := NewRouter(quietLogger(), nil, &stubEngine{err: verr})

	res := r.Process(context.Background(), Job{ID: "x", Variant: "colocalisation"})
	if res.Status != storage.StatusInvalid {
		t.Fatalf("expected invalid status, got %s", res.Status)
	}
	if res.Processed != analysis.ValidationFailed {
		t.Fatalf("expected sentinel count, got %d", res.Processed)
	}
	if !errors.As(res.Error, &verr) {
		t.Fatalf("expected validation error to be preserved")
	}
}

type stubProcessor struct{}

func (stubProcessor) Process(ctx context.Context, job Job) Result {
	return Result{Job: job, Processed: len(job.Selection.IDs)}
}

func TestPipelineBroadcastsResults(t *testing.T) {
	store, err := storage.New("sqlite", filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	p := New(context.Background(), 1, 4, quietLogger(), store, stubProcessor{})
	results, unsub := p.Subscribe()
	defer unsub()

	job, err := p.Submit(Job{Variant: "correlation", Selection: params.Selection{IDs: []int64{1, 2}}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID == "" {
		t.Fatalf("expected generated run id")
	}

	select {
	case res := <-results:
		if res.Job.ID != job.ID || res.Processed != 2 || res.Status != storage.StatusCompleted {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for result")
	}
	p.Stop()

	rec, err := store.Run(job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != storage.StatusCompleted || rec.Processed != 2 {
		t.Fatalf("unexpected stored run %+v", rec)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := New(context.Background(), 1, 1, quietLogger(), nil, stubProcessor{})
	p.Stop()
	if _, err := p.Submit(Job{Variant: "correlation"}); err == nil {
		t.Fatalf("expected error after stop")
	}
}
