package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/audit"
	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/monitoring"
	"github.com/sells-group/audit-cli/internal/store"
)

const (
	// runIDWait bounds how long POST /api/audits waits for the pipeline
	// to create the run row before answering without an ID.
	runIDWait = 5 * time.Second

	dlqRetryInterval = 15 * time.Minute
	dlqRetryBatch    = 5
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the audit HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAudit(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}
		go dlqRetryLoop(ctx, env)

		router := buildRouter(ctx, env, defaultRunOptions(), cfg.Monitoring, cfg.Server.AllowedOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the API routes. env may carry a nil pipeline or store;
// handlers answer 503 for what they then cannot do.
func buildRouter(ctx context.Context, env *auditEnv, baseOpts model.RunOptions, mcfg config.MonitoringConfig, origins []string) *chi.Mux {
	s := &apiServer{
		ctx:      ctx,
		env:      env,
		hub:      newProgressHub(),
		baseOpts: baseOpts,
		mcfg:     mcfg,
		inflight: make(map[string]string),
	}
	if env != nil && env.Store != nil {
		s.collector = monitoring.NewCollector(env.Store)
	}

	router := chi.NewRouter()
	router.Use(requestLogger)
	if len(origins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	router.Get("/api/health", s.health)
	router.Get("/api/metrics", s.metrics)
	router.Post("/api/audits", s.createAudit)
	router.Get("/api/audits", s.listAudits)
	router.Get("/api/audits/{id}", s.getAudit)
	router.Get("/api/audits/{id}/events", s.streamEvents)
	router.Get("/api/blobs/*", s.getBlob)

	return router
}

// apiServer carries what the HTTP handlers need.
type apiServer struct {
	ctx       context.Context
	env       *auditEnv
	hub       *progressHub
	baseOpts  model.RunOptions
	mcfg      config.MonitoringConfig
	collector *monitoring.Collector

	mu       sync.Mutex
	inflight map[string]string // dedupe key -> run ID
}

func (s *apiServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) metrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	hours := s.mcfg.LookbackWindowHours
	if h := r.URL.Query().Get("hours"); h != "" {
		if n, err := strconv.Atoi(h); err == nil && n > 0 {
			hours = n
		}
	}

	snap, err := s.collector.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("collect metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "metrics collection failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) createAudit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		Name     string `json:"name"`
		Industry string `json:"industry"`
		Location string `json:"location"`
		Pages    int    `json:"pages"`
		Debug    bool   `json:"debug"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	company := model.Company{Name: req.Name, Industry: req.Industry, Location: req.Location}
	if company.Name == "" {
		company.Name = hostName(req.URL)
	}

	opts := s.baseOpts
	opts.MaxPagesPerModule = req.Pages
	opts.EnableDebug = req.Debug

	key := audit.RunKey(req.URL, opts)

	s.mu.Lock()
	rid, running := s.inflight[key]
	s.mu.Unlock()
	if running {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":       "accepted",
			"run_id":       rid,
			"deduplicated": true,
		})
		return
	}

	idCh := make(chan string, 1)
	go s.runAudit(req.URL, company, opts, key, idCh)

	select {
	case rid := <-idCh:
		if rid != "" {
			writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "run_id": rid})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
	case <-time.After(runIDWait):
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
	case <-r.Context().Done():
	}
}

// runAudit executes one audit in the background: progress fans out to SSE
// subscribers, the in-flight table answers duplicate POSTs, and the report
// is persisted on success.
func (s *apiServer) runAudit(target string, company model.Company, opts model.RunOptions, key string, idCh chan<- string) {
	// An empty sentinel on exit stops the POST handler waiting out its
	// timeout when no run ID will ever arrive.
	defer func() {
		select {
		case idCh <- "":
		default:
		}
	}()

	if s.env == nil || s.env.Pipeline == nil {
		return
	}

	var runID atomic.Value // string, set by the run_created event
	progress := func(ev model.ProgressEvent) {
		if ev.Step == "run_created" {
			if rid, ok := ev.Extra["run_id"].(string); ok && rid != "" {
				runID.Store(rid)
				s.mu.Lock()
				s.inflight[key] = rid
				s.mu.Unlock()
				select {
				case idCh <- rid:
				default:
				}
			}
		}
		if rid, _ := runID.Load().(string); rid != "" {
			s.hub.Publish(rid, ev)
		}
	}

	result, shared, err := s.env.Deduper.Audit(target, opts, func() (*model.AnalysisResult, error) {
		return s.env.Pipeline.Run(s.ctx, audit.Request{
			TargetURL: target,
			Company:   company,
			Options:   opts,
			Progress:  progress,
		})
	})

	if rid, _ := runID.Load().(string); rid != "" {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
		s.hub.Finish(rid)
	}

	if err != nil {
		zap.L().Error("api audit failed", zap.String("url", target), zap.Error(err))
		return
	}
	if !shared {
		persistReport(s.ctx, s.env.Store, result)
	}
	zap.L().Info("api audit complete",
		zap.String("run_id", result.RunID),
		zap.String("url", target),
		zap.String("grade", gradeLetter(result)),
	)
}

func (s *apiServer) listAudits(w http.ResponseWriter, r *http.Request) {
	if s.env == nil || s.env.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	q := r.URL.Query()
	filter := store.RunFilter{
		Status:    model.RunStatus(q.Get("status")),
		TargetURL: q.Get("url"),
		Limit:     50,
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		filter.Limit = n
	}

	runs, err := s.env.Store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *apiServer) getAudit(w http.ResponseWriter, r *http.Request) {
	if s.env == nil || s.env.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	run, err := s.env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		zap.L().Error("get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if s.env == nil || s.env.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.env.Store.GetRun(r.Context(), id)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		zap.L().Error("get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Subscribe before the status check so a run finishing in between
	// still closes the stream instead of stranding it.
	ch, cancel := s.hub.Subscribe(id)
	defer cancel()

	writeSSE(w, "status", map[string]any{"run_id": run.ID, "status": run.Status})
	flusher.Flush()

	if run.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, "progress", ev)
			flusher.Flush()
		}
	}
}

func (s *apiServer) getBlob(w http.ResponseWriter, r *http.Request) {
	if s.env == nil || s.env.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	blobPath := chi.URLParam(r, "*")
	data, err := s.env.Store.GetBlob(r.Context(), blobPath)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "blob not found")
			return
		}
		zap.L().Error("get blob", zap.String("path", blobPath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	w.Header().Set("Content-Type", blobContentType(blobPath))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func blobContentType(p string) string {
	switch path.Ext(p) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".html":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func writeSSE(w io.Writer, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs each request after it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// dlqRetryLoop periodically re-runs transient failures that are due for
// another attempt.
func dlqRetryLoop(ctx context.Context, env *auditEnv) {
	log := zap.L().With(zap.String("component", "serve.dlq"))
	ticker := time.NewTicker(dlqRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := dlqEntriesToRetry(ctx, env.Store, "", dlqRetryBatch)
			if err != nil {
				log.Warn("dead letter scan failed", zap.Error(err))
				continue
			}
			for _, e := range entries {
				if ctx.Err() != nil {
					return
				}
				_ = retryEntry(ctx, env, e)
			}
		}
	}
}

// progressHub fans per-run progress events out to SSE subscribers.
type progressHub struct {
	mu   sync.Mutex
	subs map[string]map[chan model.ProgressEvent]struct{}
}

func newProgressHub() *progressHub {
	return &progressHub{subs: make(map[string]map[chan model.ProgressEvent]struct{})}
}

// Subscribe registers for a run's events. The channel closes when the
// run finishes. Callers must invoke the returned cancel.
func (h *progressHub) Subscribe(runID string) (<-chan model.ProgressEvent, func()) {
	ch := make(chan model.ProgressEvent, 32)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan model.ProgressEvent]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		set, ok := h.subs[runID]
		if !ok {
			return // Finish already closed everything
		}
		if _, live := set[ch]; live {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(h.subs, runID)
		}
	}
	return ch, cancel
}

// Publish sends an event to every subscriber of a run. Slow subscribers
// drop events rather than block the pipeline.
func (h *progressHub) Publish(runID string, ev model.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[runID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Finish closes every subscriber channel for a run.
func (h *progressHub) Finish(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[runID] {
		close(ch)
	}
	delete(h.subs, runID)
}
