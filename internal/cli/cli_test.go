package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackanalyser/internal/catalog"
	"stackanalyser/internal/config"
	"stackanalyser/internal/params"
	"stackanalyser/internal/pipeline"
	"stackanalyser/internal/probe"
	"stackanalyser/internal/report"
	"stackanalyser/internal/storage"
	"stackanalyser/internal/tasks"
)

func TestAnalysisCommandBuildsJob(t *testing.T) {
	root, fakePipe := newTestRoot(t)

	out, err := execute(root, "colocalisation", "--ids", "101,102", "--channel1", "DAPI", "--permutations", "20", "--upload", "--email=false")
	require.NoError(t, err)

	require.Len(t, fakePipe.jobs, 1)
	job := fakePipe.jobs[0]
	assert.Equal(t, "colocalisation", job.Variant)
	assert.Equal(t, params.DataTypeImage, job.Selection.Type)
	assert.Equal(t, []int64{101, 102}, job.Selection.IDs)
	assert.Equal(t, "DAPI", job.Params.Channel1)
	assert.Equal(t, "2", job.Params.Channel2)
	assert.Equal(t, 20, job.Params.Permutations)
	assert.True(t, job.Params.Upload)
	assert.False(t, job.Params.Email)

	assert.Contains(t, out, "Colocalisation analysis finished")
	assert.Contains(t, out, "Permutations  : 20")
	assert.Contains(t, out, "Images with results: 1")
	assert.Contains(t, out, "Project,Dataset,Image ID,Name,p,Method,R")
}

func TestAnalysisCommandParamsFile(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Data_Type: Dataset\nIDs: [7]\nMethod: Moments\nAggregate z-stack: false\n"), 0o644))

	_, err := execute(root, "correlation", "--params-file", path, "--method", "Otsu")
	require.NoError(t, err)

	require.Len(t, fakePipe.jobs, 1)
	job := fakePipe.jobs[0]
	assert.Equal(t, "correlation", job.Variant)
	assert.Equal(t, params.DataTypeDataset, job.Selection.Type)
	assert.Equal(t, []int64{7}, job.Selection.IDs)
	assert.Equal(t, params.MethodOtsu, job.Params.Method)
	assert.False(t, job.Params.Aggregate)
	assert.True(t, job.Params.Intersect)
}

func TestAnalysisCommandProfileEmail(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	root.cfg.Mail.DefaultRecipient = "lab@example.org"

	_, err := execute(root, "correlation", "--ids", "3", "--profile-email")
	require.NoError(t, err)
	require.Len(t, fakePipe.jobs, 1)
	assert.Equal(t, "lab@example.org", fakePipe.jobs[0].Params.Recipient)
}

func TestAnalysisCommandReportsViolations(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	fakePipe.err = &params.ValidationError{Violations: []params.Violation{
		{Code: params.CodeNoDistribution, Message: "no results option selected"},
	}}

	out, err := execute(root, "correlation", "--ids", "1", "--email=false")
	require.Error(t, err)
	assert.Contains(t, out, "Correlation analysis rejected")
	assert.Contains(t, out, "no results option selected")
}

func TestAnalysisCommandRequiresIDs(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	_, err := execute(root, "correlation")
	require.Error(t, err)
	assert.Empty(t, fakePipe.jobs)

	_, err = execute(root, "correlation", "--ids", "1", "--data-type", "Plate")
	require.Error(t, err)
}

func TestImportAndListImages(t *testing.T) {
	root, _ := newTestRoot(t)
	root.prober = stubProber{info: probe.Info{Width: 64, Height: 32, Planes: 6, Depth: 16, Format: "TIFF"}}

	dir := t.TempDir()
	fileA := filepath.Join(dir, "cells_a.tif")
	touch(t, fileA)

	out, err := execute(root, "import", "--name", "Screen 1", "--project", "Lab", "--channels", "DAPI,GFP", fileA)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 of 1 files")

	out, err = execute(root, "images")
	require.NoError(t, err)
	assert.Contains(t, out, "Screen 1")
	assert.Contains(t, out, "Lab")

	sets, err := root.catalog.Datasets(context.Background())
	require.NoError(t, err)
	require.Len(t, sets, 1)

	out, err = execute(root, "images", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "cells_a.tif")
	assert.Contains(t, out, "64x32x2x3x1")
	assert.Contains(t, out, "DAPI,GFP")
	assert.Contains(t, out, "24 KiB")
}

func TestImportScansDirectories(t *testing.T) {
	root, _ := newTestRoot(t)
	root.prober = stubProber{info: probe.Info{Width: 8, Height: 8, Planes: 2, Depth: 8}}

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.tif"))
	touch(t, filepath.Join(dir, "nested", "b.tiff"))
	touch(t, filepath.Join(dir, "readme.txt"))

	out, err := execute(root, "import", "--name", "scan", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 of 2 files")

	_, err = execute(root, "import", "--dataset", "1", "--watch", filepath.Join(dir, "a.tif"))
	require.Error(t, err)
}

func TestImportRequiresDataset(t *testing.T) {
	root, _ := newTestRoot(t)
	file := filepath.Join(t.TempDir(), "some.tif")
	touch(t, file)
	_, err := execute(root, "import", file)
	require.Error(t, err)
}

func TestAttachmentsCommand(t *testing.T) {
	root, _ := newTestRoot(t)
	ctx := context.Background()

	ds, err := root.catalog.CreateDataset(ctx, "ds", "")
	require.NoError(t, err)
	img := filepath.Join(t.TempDir(), "img.tif")
	touch(t, img)
	id, err := root.catalog.AddImage(ctx, ds, catalog.NewImage{Name: "img.tif", Path: img, SizeX: 1, SizeY: 1, SizeC: 1, SizeZ: 1, SizeT: 1, PixelType: "uint8"})
	require.NoError(t, err)

	result := filepath.Join(t.TempDir(), "result.csv")
	require.NoError(t, os.WriteFile(result, []byte("a,b\n1,2\n"), 0o644))
	require.NoError(t, root.catalog.AttachFile(ctx, id, result, "1.Correlation_Otsu.csv", "stackanalyser/correlation"))

	out, err := execute(root, "attachments", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1.Correlation_Otsu.csv")
	assert.Contains(t, out, "stackanalyser/correlation")

	_, err = execute(root, "attachments", "abc")
	require.Error(t, err)
}

func TestRunsCommand(t *testing.T) {
	root, _ := newTestRoot(t)
	require.NoError(t, root.store.RecordRunQueued(storage.RunRecord{ID: "run-a", Variant: "correlation", Status: storage.StatusQueued, ImageCount: 2}))
	require.NoError(t, root.store.RecordRunStart("run-a", 2))
	require.NoError(t, root.store.RecordRunResult("run-a", storage.StatusCompleted, 2, nil, ""))

	out, err := execute(root, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "run-a")
	assert.Contains(t, out, "completed")
}

func TestToolsCommand(t *testing.T) {
	root, _ := newTestRoot(t)
	root.toolFactory = func(config.ImageJ) toolManager {
		return stubToolManager{status: map[string]tasks.ToolStatus{
			"java":   {Available: true, Version: "17.0.2", Path: "/usr/bin/java"},
			"imagej": {Available: false, Error: errors.New("ij.jar not found")},
		}}
	}

	out, err := execute(root, "tools", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "17.0.2")
	assert.Contains(t, out, "missing")
	assert.Contains(t, out, "ij.jar not found")
}

func TestServeUsesFlags(t *testing.T) {
	root, _ := newTestRoot(t)
	var got config.Server
	root.serveFn = func(ctx context.Context, cfg config.Server, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
		got = cfg
		return nil
	}

	_, err := execute(root, "serve", "--addr", "127.0.0.1:9999")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", got.HTTPAddr)
	assert.Equal(t, root.cfg.Server.GRPCAddr, got.GRPCAddr)
}

func TestConfigShowAndVersion(t *testing.T) {
	root, _ := newTestRoot(t)

	out, err := execute(root, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Driver: sqlite")
	assert.Contains(t, out, "Java: java")

	out, err = execute(root, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "stackanalyser "+Version)
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DatabasePath = filepath.Join(dir, "runs.db")
	cfg.Paths.CatalogPath = filepath.Join(dir, "catalog.db")

	store, err := storage.New(cfg.Paths.DatabaseDriver, cfg.Paths.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cat, err := catalog.New(cfg.Paths.DatabaseDriver, cfg.Paths.CatalogPath)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	fakePipe := newFakePipeline()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := NewRoot(fakePipe, cfg, log, store, cat)
	root.toolFactory = func(config.ImageJ) toolManager { return stubToolManager{} }
	root.serveFn = func(context.Context, config.Server, *storage.Store, pipelineClient, *slog.Logger) error { return nil }
	return root, fakePipe
}

func execute(root *Root, args ...string) (string, error) {
	cmd := NewRootCmd(root)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	subs      map[int]chan pipeline.Result
	nextSubID int
	err       error
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{subs: make(map[int]chan pipeline.Result)}
}

func (f *fakePipeline) Submit(job pipeline.Job) (pipeline.Job, error) {
	f.mu.Lock()
	if job.ID == "" {
		job.ID = "run-" + strings.Repeat("x", len(f.jobs)+1)
	}
	f.jobs = append(f.jobs, job)
	subs := make([]chan pipeline.Result, 0, len(f.subs))
	for _, ch := range f.subs {
		subs = append(subs, ch)
	}
	err := f.err
	f.mu.Unlock()

	res := pipeline.Result{Job: job, Error: err, Status: storage.StatusCompleted, Meta: map[string]any{}}
	if err == nil {
		res.Processed = 1
		res.Report = report.Report{
			Header: report.Prefix + ",p,Method,R",
			Rows:   []string{"-,-,101,a.tif,1,Otsu,0.5"},
		}
	}
	go func() {
		for _, ch := range subs {
			ch <- res
		}
	}()
	return job, nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan pipeline.Result, 2)
	f.subs[id] = ch
	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
	return ch, unsub
}

type stubToolManager struct {
	status map[string]tasks.ToolStatus
}

func (m stubToolManager) Status() map[string]tasks.ToolStatus {
	if m.status == nil {
		return map[string]tasks.ToolStatus{}
	}
	return m.status
}

type stubProber struct {
	info probe.Info
	err  error
}

func (p stubProber) Probe(string) (probe.Info, error) {
	return p.info, p.err
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
}
