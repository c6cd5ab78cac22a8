package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stackanalyser/internal/extract"
	"stackanalyser/internal/imagestore"
	"stackanalyser/internal/logging"
	"stackanalyser/internal/mail"
	"stackanalyser/internal/metrics"
	"stackanalyser/internal/params"
	"stackanalyser/internal/report"
	"stackanalyser/internal/workspace"
)

// ValidationFailed is the processed count returned when parameters are rejected.
const ValidationFailed = -1

// Runner executes a macro and captures the tool's standard output.
type Runner interface {
	Run(ctx context.Context, macroPath, capturePath string) error
}

// Engine sequences a run. A run is strictly sequential and owns its workspace.
type Engine struct {
	Source   imagestore.Source
	Attacher imagestore.Attacher
	Runner   Runner
	Mailer   mail.Sender

	Workspace workspace.Options
	ChunkSize int

	MailFrom string
	// DefaultRecipient is used when email is requested without an address.
	DefaultRecipient string
	Host             string

	Log *slog.Logger
}

// Request is one run.
type Request struct {
	ID        string
	Variant   Variant
	Selection params.Selection
	Params    params.Parameters
}

// Result summarises a finished run.
type Result struct {
	RunID     string
	Processed int
	Images    []imagestore.ImageRef
	Exported  int
	Results   extract.Results
	Report    report.Report
	// Attachments maps an image id to its uploaded attachment name.
	Attachments map[int64]string
	Emailed     bool
	// ProcessErr is set when the tool failed; the run still completes with no results.
	ProcessErr error
}

// Run executes variant v over the selection. It returns the number of images
// that produced results, or ValidationFailed with a *params.ValidationError.
func (e *Engine) Run(ctx context.Context, v Variant, sel params.Selection, p params.Parameters) (int, error) {
	res, err := e.Execute(ctx, Request{Variant: v, Selection: sel, Params: p})
	if err != nil {
		var verr *params.ValidationError
		if errors.As(err, &verr) {
			return ValidationFailed, err
		}
		return 0, err
	}
	return res.Processed, nil
}

// Resolve expands the selection to image snapshots. Dataset ids expand to
// their images; unknown ids are skipped and duplicates collapse to the first
// occurrence.
func (e *Engine) Resolve(ctx context.Context, sel params.Selection) ([]imagestore.ImageRef, error) {
	log := e.logger()
	seen := map[int64]bool{}
	var out []imagestore.ImageRef
	add := func(img imagestore.ImageRef) {
		if !seen[img.ID] {
			seen[img.ID] = true
			out = append(out, img)
		}
	}

	for _, id := range sel.IDs {
		switch sel.Type {
		case params.DataTypeDataset:
			imgs, err := e.Source.ListImages(ctx, id)
			if errors.Is(err, imagestore.ErrNotFound) {
				log.Warn("dataset not found", "dataset_id", id)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("list dataset %d: %w", id, err)
			}
			for _, img := range imgs {
				add(img)
			}
		default:
			img, err := e.Source.GetImage(ctx, id)
			if errors.Is(err, imagestore.ErrNotFound) {
				log.Warn("image not found", "image_id", id)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get image %d: %w", id, err)
			}
			add(img)
		}
	}
	return out, nil
}

// Execute runs the full pipeline: validate, export, build the macro, run
// ImageJ, extract and distribute. Validation happens before any workspace is
// created; the workspace is always disposed.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	v := req.Variant
	runID := req.ID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := e.logger().With("run_id", runID)
	res := Result{RunID: runID, Attachments: map[int64]string{}}

	images, err := e.Resolve(ctx, req.Selection)
	if err != nil {
		metrics.RecordRun(v.Key(), "failed", time.Since(start))
		logging.LogRunError(log, v.Key(), runID, time.Since(start), err, nil)
		return res, err
	}
	res.Images = images

	p := req.Params
	if p.Email && p.Recipient == "" {
		p.Recipient = e.DefaultRecipient
	}
	if err := params.Validate(images, p, v.Schema()); err != nil {
		var verr *params.ValidationError
		if errors.As(err, &verr) {
			for _, viol := range verr.Violations {
				log.Error("invalid parameter", "field", viol.Field, "image_id", viol.ImageID, "error", viol.Message)
			}
		}
		metrics.RecordRun(v.Key(), "invalid", time.Since(start))
		return res, err
	}

	logging.LogRunStart(log, v.Key(), runID, len(images), map[string]any{
		"method": string(p.Method), "upload": p.Upload, "email": p.Email,
	})

	opts := e.Workspace
	if opts.Logger == nil {
		opts.Logger = log
	}
	ws, err := workspace.Create(v.Key(), opts)
	if err != nil {
		metrics.RecordRun(v.Key(), "failed", time.Since(start))
		logging.LogRunError(log, v.Key(), runID, time.Since(start), err, nil)
		return res, err
	}
	defer ws.Dispose()

	exporter := Exporter{Source: e.Source, ChunkSize: e.ChunkSize, Log: log}
	exported := exporter.Export(ctx, images, ws)
	res.Exported = len(exported)
	logging.LogProcessingStep(log, runID, "export", "done", map[string]any{"exported": len(exported), "selected": len(images)})

	res.Results = extract.Results{}
	if len(exported) > 0 {
		res.Results, res.ProcessErr = e.analyse(ctx, v, exported, p, ws, log)
		logging.LogProcessingStep(log, runID, "extract", "done", map[string]any{"images": len(res.Results), "rows": res.Results.RowCount()})
	}
	for _, id := range res.Results.IDs() {
		metrics.RecordRows(v.Key(), len(res.Results[id].Rows))
	}

	byID := make(map[int64]imagestore.ImageRef, len(images))
	for _, img := range images {
		byID[img.ID] = img
	}

	if len(res.Results) > 0 {
		dist := (&Distributor{
			Variant:  v,
			Attacher: e.Attacher,
			Mailer:   e.Mailer,
			From:     e.MailFrom,
			Host:     e.Host,
			Log:      log,
		}).Distribute(ctx, res.Results, p, byID, ws)
		res.Report = dist.Report
		res.Attachments = dist.Attachments
		res.Emailed = dist.Emailed
	} else if len(exported) > 0 {
		log.Warn("no results generated", "images", len(exported))
	}

	res.Processed = len(res.Results)
	outcome := "completed"
	if res.Processed == 0 {
		outcome = "empty"
	}
	metrics.RecordRun(v.Key(), outcome, time.Since(start))
	logging.LogRunComplete(log, v.Key(), runID, time.Since(start), res.Processed, map[string]any{
		"rows": res.Report.Len(), "attachments": len(res.Attachments), "emailed": res.Emailed,
	})
	return res, nil
}

// analyse writes the macro, runs the tool and parses its output. A tool
// failure yields no results and is returned for reporting only.
func (e *Engine) analyse(ctx context.Context, v Variant, exported []Exported, p params.Parameters, ws *workspace.Workspace, log *slog.Logger) (extract.Results, error) {
	macro, err := ScriptBuilder{Variant: v}.Build(exported, p, ws)
	if err != nil {
		log.Warn("macro generation failed", "error", err)
		return extract.Results{}, err
	}

	capture, err := ws.File(v.ScriptName() + ".stdout")
	if err != nil {
		return extract.Results{}, err
	}
	if err := e.Runner.Run(ctx, macro, capture); err != nil {
		log.Warn("analysis tool failed", "error", err)
		metrics.RecordProcessFailure(v.Key())
		return extract.Results{}, err
	}

	results, err := extract.ExtractFile(capture, v.Grammar())
	if err != nil {
		log.Warn("capture unreadable", "error", err)
		return extract.Results{}, err
	}
	return results, nil
}

func (e *Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}
