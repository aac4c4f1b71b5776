// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aiku/rocketchat-relay/pkg/relay"
)

// maxRelayBodySize is the maximum allowed request body for /api/relay (1 MB).
const maxRelayBodySize = 1 << 20

// adminSource names the admin API in relayed events.
const adminSource = "admin_api"

type statusResponse struct {
	Status        string   `json:"status"`
	Authenticated bool     `json:"authenticated"`
	RoomID        string   `json:"room_id"`
	Frontends     []string `json:"frontends"`
}

type relayRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

type relayResponse struct {
	Relayed bool `json:"relayed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// AdminHandler returns the admin HTTP API:
//
//	GET  /api/status  liveness and session state
//	POST /api/relay   relay {"text", "source"} to the Rocket.Chat room
func (b *Bridge) AdminHandler() http.Handler {
	r := mux.NewRouter()
	r.Use(b.requestLogger)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", b.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/relay", b.handleRelay).Methods(http.MethodPost)
	return r
}

func (b *Bridge) handleStatus(w http.ResponseWriter, _ *http.Request) {
	b.writeJSON(w, http.StatusOK, statusResponse{
		Status:        b.Dispatcher.StatusReply(),
		Authenticated: b.Client.IsAuthenticated(),
		RoomID:        b.Dispatcher.RoomID(),
		Frontends:     b.FrontendNames(),
	})
}

// handleRelay relays text without an echo. A message Rocket.Chat did not
// accept is answered with 502 and {"relayed": false}.
func (b *Bridge) handleRelay(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRelayBodySize)
	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			b.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		b.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	if req.Text == "" {
		b.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}
	if req.Source == "" {
		req.Source = adminSource
	}

	ok := b.Dispatcher.Relay(r.Context(), relay.InboundEvent{
		Source: req.Source,
		ChatID: r.RemoteAddr,
		Text:   req.Text,
	})
	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	b.writeJSON(w, status, relayResponse{Relayed: ok})
}

func (b *Bridge) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		b.log.Warn().Err(err).Msg("Failed to write admin API response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (b *Bridge) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		evt := b.log.Debug()
		if rec.status >= 500 {
			evt = b.log.Error()
		} else if rec.status >= 400 {
			evt = b.log.Warn()
		}
		evt.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("Admin API request")
	})
}
