package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stackanalyser/internal/analysis"
	"stackanalyser/internal/params"
	"stackanalyser/internal/storage"
)

// router implements Processor and routes jobs to the analysis variant they name.
type router struct {
	log    *slog.Logger
	store  *storage.Store
	engine executor
	lookup func(string) (analysis.Variant, bool)
}

type executor interface {
	Execute(ctx context.Context, req analysis.Request) (analysis.Result, error)
}

// NewRouter returns a Processor running jobs on engine and recording
// per-image outcomes in store.
func NewRouter(logger *slog.Logger, store *storage.Store, engine executor) Processor {
	return &router{log: logger, store: store, engine: engine, lookup: analysis.Lookup}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	v, ok := r.lookup(job.Variant)
	if !ok {
		return Result{Job: job, Status: storage.StatusFailed, Error: fmt.Errorf("unknown analysis: %s", job.Variant)}
	}

	res, err := r.engine.Execute(ctx, analysis.Request{
		ID:        job.ID,
		Variant:   v,
		Selection: job.Selection,
		Params:    job.Params,
	})
	if err != nil {
		var verr *params.ValidationError
		if errors.As(err, &verr) {
			msgs := make([]string, len(verr.Violations))
			for i, viol := range verr.Violations {
				msgs[i] = viol.Message
			}
			return Result{
				Job:       job,
				Status:    storage.StatusInvalid,
				Processed: analysis.ValidationFailed,
				Error:     err,
				Meta:      map[string]any{"violations": msgs},
			}
		}
		return Result{Job: job, Status: storage.StatusFailed, Error: err}
	}

	r.recordImages(job.ID, res)
	meta := map[string]any{
		"images":      len(res.Images),
		"exported":    res.Exported,
		"processed":   res.Processed,
		"rows":        res.Report.Len(),
		"attachments": len(res.Attachments),
		"emailed":     res.Emailed,
	}
	if res.ProcessErr != nil {
		meta["process_error"] = res.ProcessErr.Error()
	}
	return Result{Job: job, Status: storage.StatusCompleted, Processed: res.Processed, Meta: meta, Report: res.Report}
}

func (r *router) recordImages(runID string, res analysis.Result) {
	if r.store == nil {
		return
	}
	for _, img := range res.Images {
		rec := storage.ImageResult{RunID: runID, ImageID: img.ID, Status: "no_result"}
		if block, ok := res.Results[img.ID]; ok {
			rec.Rows = len(block.Rows)
			rec.Status = "reported"
		}
		if name, ok := res.Attachments[img.ID]; ok {
			rec.Attachment = name
			rec.Status = "uploaded"
		}
		if err := r.store.RecordImageResult(rec); err != nil {
			r.log.Warn("failed to record image result", "run_id", runID, "image_id", img.ID, "error", err)
		}
	}
}
