package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"stackanalyser/internal/analysis"
	"stackanalyser/internal/config"
	"stackanalyser/internal/params"
	"stackanalyser/internal/pipeline"
	"stackanalyser/internal/storage"
)

// Queue is the part of the pipeline the server drives.
type Queue interface {
	Submit(job pipeline.Job) (pipeline.Job, error)
	Subscribe() (<-chan pipeline.Result, func())
}

// Server exposes the run queue over HTTP, a websocket feed and a gRPC health endpoint.
type Server struct {
	cfg    config.Server
	store  *storage.Store
	queue  Queue
	log    *slog.Logger
	hub    *hub
	health *health.Server
	lock   *flock.Flock
}

// New creates a server. Nothing listens until Start.
func New(cfg config.Server, store *storage.Store, queue Queue, log *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		queue:  queue,
		log:    log,
		hub:    newHub(log),
		health: health.NewServer(),
	}
	if cfg.LockFile != "" {
		s.lock = flock.New(cfg.LockFile)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/analyses", s.handleAnalyses).Methods("GET")
	r.HandleFunc("/runs", s.handleRuns).Methods("GET")
	r.HandleFunc("/runs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/runs/{id}", s.handleRun).Methods("GET")
	r.HandleFunc("/ws", s.hub.serveWS).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return r
}

// Start serves until ctx is cancelled. Only one server may hold the lock file.
func (s *Server) Start(ctx context.Context) error {
	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another server holds %s", s.cfg.LockFile)
		}
		defer s.lock.Unlock()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()
	go s.hub.run(ctx)
	go s.forward(ctx, results)

	var gs *grpc.Server
	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		gs = grpc.NewServer()
		healthpb.RegisterHealthServer(gs, s.health)
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			s.log.Info("gRPC health server starting", "addr", s.cfg.GRPCAddr)
			if err := gs.Serve(lis); err != nil {
				s.log.Error("gRPC server stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		s.health.Shutdown()
		if gs != nil {
			gs.GracefulStop()
		}
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.cfg.HTTPAddr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// forward relays finished runs to websocket clients.
func (s *Server) forward(ctx context.Context, results <-chan pipeline.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			s.hub.publish(newRunEvent(res))
		}
	}
}

// runEvent is the wire form of a finished run.
type runEvent struct {
	ID        string         `json:"id"`
	Variant   string         `json:"variant"`
	Status    string         `json:"status"`
	Processed int            `json:"processed"`
	Error     string         `json:"error,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

func newRunEvent(res pipeline.Result) runEvent {
	ev := runEvent{
		ID:        res.Job.ID,
		Variant:   res.Job.Variant,
		Status:    res.Status,
		Processed: res.Processed,
		Meta:      res.Meta,
	}
	if res.Error != nil {
		ev.Error = res.Error.Error()
	}
	return ev
}

// submitRequest carries the same keys an operator form or parameters file would.
type submitRequest struct {
	Variant    string     `json:"variant"`
	Parameters params.Bag `json:"parameters"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	type analysisInfo struct {
		Key      string            `json:"key"`
		Name     string            `json:"name"`
		Defaults params.Parameters `json:"defaults"`
	}
	var out []analysisInfo
	for _, v := range analysis.Variants() {
		out = append(out, analysisInfo{Key: v.Key(), Name: v.Name(), Defaults: v.Defaults()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Run(id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	meta, _ := s.store.RunMeta(id)
	images, err := s.store.RunImages(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":    rec,
		"meta":   meta,
		"images": images,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	v, ok := analysis.Lookup(req.Variant)
	if !ok {
		http.Error(w, "unknown analysis: "+req.Variant, http.StatusBadRequest)
		return
	}
	sel, err := params.SelectionFromBag(req.Parameters)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := params.FromBag(req.Parameters, v.Defaults())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.queue.Submit(pipeline.Job{Variant: v.Key(), Selection: sel, Params: p})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.log.Info("run submitted", "run_id", job.ID, "variant", job.Variant, "images", len(sel.IDs))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
