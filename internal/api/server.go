package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"samplecart/internal/bridge"
	"samplecart/internal/faults"
	"samplecart/internal/logging"
)

// StatusFunc reports the daemon status served on /api/status.
type StatusFunc func() DaemonStatus

// Server is the HTTP + WebSocket front.
type Server struct {
	bind    string
	token   string
	gateway *bridge.Gateway
	status  StatusFunc
	logger  *slog.Logger

	listener net.Listener
	server   *http.Server

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewServer configures a server on bind. It returns nil when bind is empty.
func NewServer(bind, token string, gw *bridge.Gateway, status StatusFunc, logger *slog.Logger) *Server {
	bind = strings.TrimSpace(bind)
	if bind == "" || gw == nil {
		return nil
	}
	s := &Server{
		bind:    bind,
		token:   token,
		gateway: gw,
		status:  status,
		logger:  logging.NewComponentLogger(logger, "api-server"),
		clients: make(map[*wsClient]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, s.handleStatus))
	mux.HandleFunc("/api/volumes", authMiddleware(token, s.handleVolumes))
	mux.HandleFunc("/api/volumes/", authMiddleware(token, s.handleVolume))
	mux.HandleFunc("/api/events", authMiddleware(token, s.handleEvents))

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start listens and serves in the background until ctx ends or Stop.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check api_bind and whether another process holds the port"),
			)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and disconnects WebSocket clients.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload DaemonStatus
	if s.status != nil {
		payload = s.status()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleVolumes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, VolumeListResponse{Volumes: s.gateway.EnumerateVolumes()})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/volumes/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, faults.Wrap(faults.ErrNotFound, "api", "volume", "volume not found", nil))
		return
	}
	vol, err := s.gateway.GetVolumeInfo(id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, VolumeResponse{Volume: vol})
}

func (s *Server) track(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func statusForError(err error) int {
	switch faults.Code(err) {
	case faults.CodeNotFound:
		return http.StatusNotFound
	case faults.CodePermission, faults.CodePathSecurity:
		return http.StatusForbidden
	case faults.CodeDeviceBusy, faults.CodeCollision:
		return http.StatusConflict
	case faults.CodeDeviceGone:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: faults.Code(err)})
}
