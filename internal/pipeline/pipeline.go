package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stackanalyser/internal/logging"
	"stackanalyser/internal/metrics"
	"stackanalyser/internal/params"
	"stackanalyser/internal/report"
	"stackanalyser/internal/storage"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("run queue is full")

// Job is one queued analysis run.
type Job struct {
	ID        string            `json:"id"`
	Variant   string            `json:"variant"`
	Selection params.Selection  `json:"selection"`
	Params    params.Parameters `json:"params"`
}

// Result captures the outcome of a Job.
type Result struct {
	Job       Job            `json:"job"`
	Status    string         `json:"status"`
	Processed int            `json:"processed"`
	Error     error          `json:"-"`
	Meta      map[string]any `json:"meta,omitempty"`
	// Report is the combined CSV report; it is not persisted.
	Report report.Report `json:"-"`
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
	stopped   bool
}

// New starts concurrency workers feeding jobs to processor.
func New(ctx context.Context, concurrency, queueSize int, logger *slog.Logger, store *storage.Store, processor Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = concurrency * 2
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: processor,
		log:       logger,
		jobs:      make(chan Job, queueSize),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Submit adds a job to the queue, assigning an id when it has none.
func (p *Pipeline) Submit(job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return job, errors.New("pipeline stopped")
	}

	if len(p.jobs) == cap(p.jobs) {
		return job, ErrQueueFull
	}

	// Recorded before the send so a fast worker never updates a missing row.
	if p.store != nil {
		paramsJSON, _ := json.Marshal(job.Params)
		if err := p.store.RecordRunQueued(storage.RunRecord{
			ID:         job.ID,
			Variant:    job.Variant,
			Status:     storage.StatusQueued,
			ParamsJSON: string(paramsJSON),
			ImageCount: len(job.Selection.IDs),
		}); err != nil {
			p.log.Warn("failed to record queued run", "run_id", job.ID, "error", err)
		}
	}

	select {
	case p.jobs <- job:
	default:
		if p.store != nil {
			_ = p.store.RecordRunResult(job.ID, storage.StatusFailed, 0, nil, ErrQueueFull.Error())
		}
		return job, ErrQueueFull
	}
	metrics.SetQueueDepth(len(p.jobs))
	return job, nil
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()

		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			metrics.SetQueueDepth(len(p.jobs))
			start := time.Now()

			if p.store != nil {
				_ = p.store.RecordRunStart(job.ID, len(job.Selection.IDs))
			}
			res := p.processor.Process(ctx, job)
			if res.Status == "" {
				res.Status = storage.StatusCompleted
				if res.Error != nil {
					res.Status = storage.StatusFailed
				}
			}

			if res.Error != nil {
				logging.LogRunError(p.log, job.Variant, job.ID, time.Since(start), res.Error, map[string]any{
					"worker": id,
					"status": res.Status,
				})
			}
			if p.store != nil {
				if err := p.store.RecordRunResult(job.ID, res.Status, res.Processed, res.Meta, errString(res.Error)); err != nil {
					p.log.Warn("failed to record run result", "run_id", job.ID, "error", err)
				}
			}

			p.broadcast(res)
		}
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "run_id", res.Job.ID)
		}
	}
}
