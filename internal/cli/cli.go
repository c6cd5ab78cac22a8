package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"stackanalyser/internal/analysis"
	"stackanalyser/internal/catalog"
	"stackanalyser/internal/config"
	"stackanalyser/internal/params"
	"stackanalyser/internal/pipeline"
	"stackanalyser/internal/probe"
	"stackanalyser/internal/report"
	"stackanalyser/internal/server"
	"stackanalyser/internal/storage"
	"stackanalyser/internal/tasks"
)

// Version is overridden at build time.
var Version = "0.1.0-dev"

type pipelineClient interface {
	Submit(job pipeline.Job) (pipeline.Job, error)
	Subscribe() (<-chan pipeline.Result, func())
}

type toolManager interface {
	Status() map[string]tasks.ToolStatus
}

type toolManagerFactory func(config.ImageJ) toolManager

type serverFunc func(ctx context.Context, cfg config.Server, store *storage.Store, pipe pipelineClient, log *slog.Logger) error

func defaultServe(ctx context.Context, cfg config.Server, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
	return server.New(cfg, store, pipe, log).Start(ctx)
}

// Root wires CLI commands to the pipeline and the image catalog.
type Root struct {
	pipeline    pipelineClient
	cfg         *config.Config
	log         *slog.Logger
	store       *storage.Store
	catalog     *catalog.Catalog
	prober      probe.Prober
	toolFactory toolManagerFactory
	serveFn     serverFunc
}

// NewRoot constructs the CLI root.
func NewRoot(pl pipelineClient, cfg *config.Config, logger *slog.Logger, store *storage.Store, cat *catalog.Catalog) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		catalog:  cat,
		prober:   probe.Magick{},
		toolFactory: func(cfg config.ImageJ) toolManager {
			return tasks.NewToolManager(cfg)
		},
		serveFn: defaultServe,
	}
}

func (r *Root) newToolManager() toolManager {
	if r.toolFactory != nil {
		return r.toolFactory(r.cfg.ImageJ)
	}
	return tasks.NewToolManager(r.cfg.ImageJ)
}

// enqueueAndWait submits job and blocks until its result is broadcast.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()

	job, err := r.enqueue(ctx, job)
	if err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) (pipeline.Job, error) {
	select {
	case <-ctx.Done():
		return job, ctx.Err()
	default:
	}

	job, err := r.pipeline.Submit(job)
	if err != nil {
		return job, err
	}
	r.log.Info("run queued", "variant", job.Variant, "id", job.ID, "images", len(job.Selection.IDs))
	return job, nil
}

// runAnalysis queues one run and prints its outcome.
func (r *Root) runAnalysis(ctx context.Context, out io.Writer, v analysis.Variant, sel params.Selection, p params.Parameters) error {
	res, err := r.enqueueAndWait(ctx, pipeline.Job{Variant: v.Key(), Selection: sel, Params: p})

	var verr *params.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintf(out, "%s analysis rejected:\n", v.Name())
		for _, viol := range verr.Violations {
			fmt.Fprintf(out, "  - %s\n", viol.Message)
		}
		return fmt.Errorf("invalid parameters")
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s analysis finished (run %s)\n", v.Name(), res.Job.ID)
	for _, line := range p.Summary(v.Schema()) {
		fmt.Fprintf(out, "  %s\n", line)
	}
	fmt.Fprintf(out, "Images with results: %d\n", res.Processed)
	if msg, ok := res.Meta["process_error"].(string); ok {
		fmt.Fprintf(out, "ImageJ failed: %s\n", msg)
	}
	if res.Report.Len() == 0 {
		return nil
	}

	summaries := report.Summarize(res.Report, v.KeyMetric())
	if isTerminal(out) {
		fmt.Fprintln(out, report.RenderTable(summaries, v.KeyMetric()))
		return nil
	}
	fmt.Fprintln(out, res.Report.CSV())
	return nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeRows renders a table on a terminal and tab separated lines otherwise.
func writeRows(out io.Writer, headers []string, rows [][]string, aligns []columnAlignment) {
	if isTerminal(out) {
		fmt.Fprintln(out, renderTable(headers, rows, aligns))
		return
	}
	fmt.Fprintln(out, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(out, strings.Join(row, "\t"))
	}
}
