package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webitel/im-routing-service/internal/adapter/pubsub"
	"github.com/webitel/im-routing-service/internal/domain/index"
	"github.com/webitel/im-routing-service/internal/domain/model"
)

// Server is the ops surface: liveness, the /stats snapshot the dashboard
// polls, and the prometheus scrape endpoint. It carries no routing traffic.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(addr string, idx index.Indexer, pub pubsub.InstancePublisher, reg *prom.Registry, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := model.EngineStats{
			Index:  idx.Stats(),
			Outbox: pub.Stats(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logger.Error("STATS_ENCODE_FAILED", "err", err)
		}
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Operator remedy for suspected index corruption: drop all routing state
	// and let the presence stream rebuild it.
	r.Post("/index/clear", func(w http.ResponseWriter, _ *http.Request) {
		idx.Clear()
		logger.Warn("INDEX_CLEARED_BY_OPERATOR")
		w.WriteHeader(http.StatusAccepted)
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Start() {
	go func() {
		s.logger.Info("OPS_SERVER_LISTENING", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("OPS_SERVER_FAILED", "err", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
