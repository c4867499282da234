package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/bryanchriswhite/Nudger/internal/history"
	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/bryanchriswhite/Nudger/internal/metrics"
	"github.com/bryanchriswhite/Nudger/internal/monitor"
	"github.com/bryanchriswhite/Nudger/internal/preview"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Server represents the HTTP control API
type Server struct {
	router     *mux.Router
	controller *monitor.Controller
	configMgr  *config.Manager
	preview    *preview.Stream
	history    *history.Store
	upgrader   websocket.Upgrader
	log        *zerolog.Logger
	httpServer *http.Server
}

// NewServer creates a new API server. stream and store may be nil.
func NewServer(controller *monitor.Controller, configMgr *config.Manager, stream *preview.Stream, store *history.Store) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		controller: controller,
		configMgr:  configMgr,
		preview:    stream,
		history:    store,
		log:        logger.WithComponent("api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local control surface
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Use(metrics.Middleware)

	api := s.router.PathPrefix("/api").Subrouter()

	// Monitor control
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/status/stream", s.handleStatusStream)
	api.HandleFunc("/start", s.control(s.controller.Start)).Methods("POST")
	api.HandleFunc("/stop", s.control(s.controller.Stop)).Methods("POST")
	api.HandleFunc("/pause", s.control(s.controller.Pause)).Methods("POST")
	api.HandleFunc("/resume", s.control(s.controller.Resume)).Methods("POST")
	api.HandleFunc("/restart", s.control(s.controller.Restart)).Methods("POST")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config/validate", s.handleValidateConfig).Methods("POST")
	api.HandleFunc("/config/reload", s.handleReloadConfig).Methods("POST")

	// Diagnostics
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/windows", s.handleWindows).Methods("GET")
	api.HandleFunc("/preview/stream", s.handlePreviewStream).Methods("GET")
	api.HandleFunc("/preview/snapshot", s.handlePreviewSnapshot).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Starting control API")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control API failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control API shutdown: %w", err)
	}
	s.log.Info().Msg("Control API stopped")
	return nil
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func writeConfigError(w http.ResponseWriter, err error) {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid config", Problems: verr.Problems})
		return
	}
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
}

// HTTP Handlers

func (s *Server) control(op func() monitor.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, op())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.controller.Subscribe()
	defer s.controller.Unsubscribe(updates)

	// Detect client disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.controller.Status()); err != nil {
		s.log.Debug().Err(err).Msg("WebSocket write failed")
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(st); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if _, err := config.Parse(body); err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configMgr.Reload()
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("rejected").Inc()
		writeConfigError(w, err)
		return
	}
	metrics.ConfigReloads.WithLabelValues("applied").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"version": cfg.Version})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") != "db" {
		writeJSON(w, http.StatusOK, s.controller.Scheduler().History())
		return
	}

	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history database disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	records, err := s.history.Recent(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.controller.Scheduler().Windows()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

func (s *Server) handlePreviewStream(w http.ResponseWriter, r *http.Request) {
	if s.preview == nil {
		http.Error(w, "preview disabled", http.StatusServiceUnavailable)
		return
	}
	s.preview.StreamHandler()(w, r)
}

func (s *Server) handlePreviewSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.preview == nil {
		http.Error(w, "preview disabled", http.StatusServiceUnavailable)
		return
	}
	s.preview.SnapshotHandler()(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.controller.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"version":    Version,
		"running":    st.Running,
		"loop_alive": st.LoopAlive,
	})
}
