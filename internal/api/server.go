// Package api serves the supervisor's HTTP surface: node lifecycle
// endpoints, batch scheduling, settings, fleet stats and a server-sent
// event stream of node lifecycle events.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/formicaio/formicaiod/internal/batcher"
	"github.com/formicaio/formicaiod/internal/bgtasks"
	"github.com/formicaio/formicaiod/internal/eventbus"
	"github.com/formicaio/formicaiod/internal/nodemgr"
	"github.com/formicaio/formicaiod/internal/storage"
	"github.com/formicaio/formicaiod/internal/telemetry"
)

// MCPInfo reports where (and whether) the MCP transport is serving.
type MCPInfo struct {
	Serving bool   `json:"serving"`
	Addr    string `json:"addr,omitempty"`
}

// Server is the HTTP API front end.
type Server struct {
	mgr     *nodemgr.NodeManager
	batcher *batcher.Batcher
	runner  *bgtasks.Runner
	stats   *bgtasks.StatsCell
	store   storage.Store
	bus     *eventbus.Bus
	tel     *telemetry.Telemetry
	logger  *slog.Logger

	mcpInfo func() MCPInfo
	router  *mux.Router
}

// New builds the API server. mcpInfo may be nil when the MCP transport
// is disabled.
func New(mgr *nodemgr.NodeManager, b *batcher.Batcher, runner *bgtasks.Runner,
	stats *bgtasks.StatsCell, store storage.Store, bus *eventbus.Bus,
	tel *telemetry.Telemetry, mcpInfo func() MCPInfo, logger *slog.Logger,
) *Server {
	s := &Server{
		mgr:     mgr,
		batcher: b,
		runner:  runner,
		stats:   stats,
		store:   store,
		bus:     bus,
		tel:     tel,
		logger:  logger,
		mcpInfo: mcpInfo,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLog)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/nodes/list", s.handleListNodes).Methods(http.MethodPost)
	api.HandleFunc("/nodes/create", s.handleCreateNode).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}/start", s.nodeAction("start", s.mgr.StartNode)).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}/stop", s.nodeAction("stop", s.mgr.StopNode)).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}/upgrade", s.nodeAction("upgrade", s.mgr.UpgradeNode)).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}/recycle", s.nodeAction("recycle", s.mgr.RecycleNode)).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}/delete", s.nodeAction("delete", s.mgr.DeleteNode)).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}/logs", s.handleNodeLogs).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}/metrics", s.handleNodeMetrics).Methods(http.MethodGet)

	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)

	api.HandleFunc("/batches", s.handleCreateBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches/on_match", s.handleCreateBatchOnMatch).Methods(http.MethodPost)
	api.HandleFunc("/batches", s.handleListBatches).Methods(http.MethodGet)
	api.HandleFunc("/batches/{id}", s.handleCancelBatch).Methods(http.MethodDelete)

	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/mcp/info", s.handleMCPInfo).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	return r
}

// requestLog tags every request with a correlation id and logs it.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		s.logger.Debug("http request", "request_id", reqID, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("api server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
