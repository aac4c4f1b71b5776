// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/rocketchat-relay/pkg/relay"
)

// recordingHandler records which handler method received each event.
type recordingHandler struct {
	mu     sync.Mutex
	texts  []relay.InboundEvent
	status []relay.InboundEvent
}

func (h *recordingHandler) OnInboundText(_ context.Context, _ relay.Replier, evt relay.InboundEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.texts = append(h.texts, evt)
	return true
}

func (h *recordingHandler) OnStatus(_ context.Context, _ relay.Replier, evt relay.InboundEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = append(h.status, evt)
	return nil
}

func (h *recordingHandler) counts() (texts, status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.texts), len(h.status)
}

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// parts of the Mattermost API the front end uses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs.
	TokenToUser map[string]string
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:       make(map[string]*model.User),
		TokenToUser: make(map[string]string),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, endpointCall{Method: r.Method, Path: r.URL.Path, Body: string(body)})
	f.mu.Unlock()

	uid := f.resolveToken(r)
	if uid == "" {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v4/users/me":
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case r.Method == http.MethodPost && r.URL.Path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + r.URL.Path})
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postedEvent builds a posted event carrying post, serialized the way the
// server sends it.
func postedEvent(post *model.Post, senderName string) *model.WebSocketEvent {
	postJSON, _ := json.Marshal(post)
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":        string(postJSON),
		"sender_name": senderName,
	})
}

// mockPoster records CreatePost calls.
type mockPoster struct {
	posts []*model.Post
	err   error
}

func (m *mockPoster) CreatePost(_ context.Context, post *model.Post) (*model.Post, *model.Response, error) {
	m.posts = append(m.posts, post)
	if m.err != nil {
		return nil, nil, m.err
	}
	return post, &model.Response{StatusCode: http.StatusCreated}, nil
}
