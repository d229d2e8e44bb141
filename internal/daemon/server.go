package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/config"
	"github.com/chirpchat/chirp/internal/retry"
	"github.com/chirpchat/chirp/internal/store"
)

// Server exposes the daemon's localhost diagnostics surface: health,
// Prometheus metrics, and debug views of the retry queue and suggestion
// store.
type Server struct {
	httpServer *http.Server
	addr       string
	logger     *zap.Logger
}

// NewServer builds the diagnostics HTTP server.
func NewServer(p Params, cfg *config.Config, db *store.DB, queue *retry.Queue, logger *zap.Logger) *Server {
	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.Diagnostics.ListenAddr
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/debug/retry", func(w http.ResponseWriter, _ *http.Request) {
		type queueItem struct {
			ID          string    `json:"id"`
			RetryCount  int       `json:"retryCount"`
			NextRetryAt time.Time `json:"nextRetryAt"`
			ErrorType   string    `json:"errorType"`
			Error       string    `json:"error"`
		}
		items := queue.Snapshot()
		out := make([]queueItem, 0, len(items))
		for _, it := range items {
			out = append(out, queueItem{
				ID:          it.ID,
				RetryCount:  it.RetryCount,
				NextRetryAt: it.NextRetryAt,
				ErrorType:   string(it.Err.Type),
				Error:       it.Err.Message,
			})
		}
		writeJSON(w, map[string]any{"size": len(out), "items": out})
	})

	r.Get("/debug/suggestions/{userID}", func(w http.ResponseWriter, req *http.Request) {
		userID := chi.URLParam(req, "userID")
		list, err := db.ListSuggestions(userID, 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, list)
	})

	return &Server{
		httpServer: &http.Server{Handler: r},
		addr:       addr,
		logger:     logger,
	}
}

// Start listens and serves until Stop. Blocks.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("diagnostics server listening", zap.String("addr", listener.Addr().String()))
	if err := s.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("diagnostics server shutdown", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
