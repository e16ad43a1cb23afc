// Package api serves recording status over HTTP and streams recording
// events over WebSocket, for status bars and dashboards that want
// push updates instead of polling the D-Bus service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
)

// StatusProvider reports the current recording state.
type StatusProvider interface {
	Status() (recording bool, file string)
}

// statusResponse is the GET /api/v1/status payload.
type statusResponse struct {
	Recording bool   `json:"recording"`
	File      string `json:"file,omitempty"`
}

// Server is the HTTP status server. It implements session.Events so
// the controller's transitions reach WebSocket subscribers.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	provider   StatusProvider
	ws         *wsHub
}

// NewServer creates a status server bound to addr. The listener is
// created eagerly to catch address-in-use errors at startup.
func NewServer(addr string, provider StatusProvider) (*Server, error) {
	s := &Server{
		provider: provider,
		ws:       newWSHub(provider),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/ws", s.ws.handleWS)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s.listener = listener
	s.httpServer = &http.Server{Handler: mux}
	return s, nil
}

// Start begins serving HTTP requests. Non-blocking.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			slog.Error("status server error", "error", err)
		}
	}()
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	recording, file := s.provider.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{Recording: recording, File: file}) //nolint:errcheck
}

// RecordingStarted implements session.Events.
func (s *Server) RecordingStarted(sessionID, file string) {
	s.ws.broadcast(wsMessage{
		Type:      "recording_started",
		Recording: true,
		SessionID: sessionID,
		File:      file,
	})
}

// RecordingStopped implements session.Events.
func (s *Server) RecordingStopped(sessionID, file string) {
	s.ws.broadcast(wsMessage{
		Type:      "recording_stopped",
		SessionID: sessionID,
		File:      file,
	})
}
