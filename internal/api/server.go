// Package api serves the local admin surface: health, status, manual
// triggers, metrics and the notification stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"walletd/internal/auth"
	"walletd/internal/core"
	"walletd/internal/infrastructure/health"
	"walletd/internal/refill"
	"walletd/pkg/concurrency"
	apperrors "walletd/pkg/errors"
	"walletd/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RefillController is the slice of the orchestrator the admin API drives
type RefillController interface {
	Status() []refill.ChannelStatus
	TriggerNow(ctx context.Context, ch refill.Channel) (refill.Decision, error)
}

// Batcher is the slice of the persistence batcher the admin API drives
type Batcher interface {
	QueueUpdate(item core.Conversation)
	RemoveConversation(id string)
	Snapshot() []core.Conversation
	Flush(ctx context.Context) error
	Pending() []string
}

// Deps are the components behind the routes. Nil entries disable their routes.
type Deps struct {
	Health  *health.HealthManager
	Refill  RefillController
	Batcher Batcher
	Pools   []*concurrency.WorkerPool
	Stream  http.Handler

	// Auth guards the mutating routes when set
	Auth *auth.APIKeyValidator
}

type Server struct {
	addr   string
	deps   Deps
	logger core.ILogger
	srv    *http.Server
}

func NewServer(addr string, deps Deps, logger core.ILogger) *Server {
	return &Server{
		addr:   addr,
		deps:   deps,
		logger: logger.WithField("component", "admin_api"),
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.deps.Auth != nil {
			r.Use(s.deps.Auth.Middleware)
		}
		if s.deps.Batcher != nil {
			r.Post("/flush", s.handleFlush)
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", s.listConversations)
				r.Put("/{id}", s.putConversation)
				r.Delete("/{id}", s.deleteConversation)
			})
		}
		if s.deps.Refill != nil {
			r.Post("/refill/{channel}/trigger", s.handleTrigger)
		}
	})
	if s.deps.Stream != nil {
		r.Handle("/ws", s.deps.Stream)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting admin API", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Stopping admin API")
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		// The stream route logs its own lifecycle.
		if r.URL.Path == "/ws" {
			return
		}
		s.logger.Debug("Admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, health.Report{Status: "ok", Components: map[string]string{}, CheckedAt: time.Now()})
		return
	}
	report := s.deps.Health.Report()
	code := http.StatusOK
	if report.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

type statusResponse struct {
	Refill         []refill.ChannelStatus  `json:"refill"`
	WalletBalances map[string]int64        `json:"wallet_balances"`
	PendingWrites  []string                `json:"pending_writes"`
	Pools          []concurrency.PoolStats `json:"pools"`
	Time           time.Time               `json:"time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Refill:         []refill.ChannelStatus{},
		WalletBalances: telemetry.GetGlobalMetrics().GetWalletBalances(),
		PendingWrites:  []string{},
		Pools:          make([]concurrency.PoolStats, 0, len(s.deps.Pools)),
		Time:           time.Now(),
	}
	if s.deps.Refill != nil {
		resp.Refill = s.deps.Refill.Status()
	}
	if s.deps.Batcher != nil {
		resp.PendingWrites = s.deps.Batcher.Pending()
	}
	for _, p := range s.deps.Pools {
		resp.Pools = append(resp.Pools, p.Stats())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Batcher.Flush(r.Context()); err != nil {
		writeErr(w, http.StatusInternalServerError, "flush_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": s.deps.Batcher.Pending()})
}

func (s *Server) listConversations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Batcher.Snapshot())
}

func (s *Server) putConversation(w http.ResponseWriter, r *http.Request) {
	var c core.Conversation
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	if c.ID != "" && c.ID != id {
		writeErr(w, http.StatusBadRequest, "id_mismatch", "body id does not match path")
		return
	}
	c.ID = id
	s.deps.Batcher.QueueUpdate(c)
	writeJSON(w, http.StatusAccepted, c)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	s.deps.Batcher.RemoveConversation(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ch := refill.Channel(chi.URLParam(r, "channel"))
	d, err := s.deps.Refill.TriggerNow(r.Context(), ch)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnknownChannel) {
			writeErr(w, http.StatusNotFound, "unknown_channel", err.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, "trigger_failed", err.Error())
		return
	}
	s.logger.Info("Manual refill trigger", "channel", ch, "execute", d.Execute, "reason", d.Reason)
	writeJSON(w, http.StatusAccepted, d)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, map[string]errorBody{"error": {Code: errCode, Message: message}})
}
