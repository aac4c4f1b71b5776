// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package rocketchat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Query  string
	Body   string
	Header http.Header
}

// fakeUser is an account known to fakeRC.
type fakeUser struct {
	Password  string
	AuthToken string
	UserID    string
}

// cannedResponse overrides the fake's behavior for one path.
type cannedResponse struct {
	Status int
	Body   string
}

// fakeRC is a test helper that wraps an httptest.Server simulating the
// Rocket.Chat REST API. It records calls and provides canned responses.
type fakeRC struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps login names to accounts.
	Users map[string]fakeUser
	// Canned maps exact paths to a fixed response, bypassing the default
	// handlers.
	Canned map[string]cannedResponse
}

func newFakeRC() *fakeRC {
	f := &fakeRC{
		Users:  make(map[string]fakeUser),
		Canned: make(map[string]cannedResponse),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeRC) Close() {
	f.Server.Close()
}

// AddUser registers an account with the fake.
func (f *fakeRC) AddUser(login string, u fakeUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Users[login] = u
}

// SetCanned makes the fake answer path with a fixed response.
func (f *fakeRC) SetCanned(path string, resp cannedResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Canned[path] = resp
}

func (f *fakeRC) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// LastCall returns the most recent call, failing the test if there is none.
func (f *fakeRC) LastCall(t *testing.T) endpointCall {
	t.Helper()
	calls := f.Calls()
	if len(calls) == 0 {
		t.Fatal("expected at least one call to the fake server")
	}
	return calls[len(calls)-1]
}

func (f *fakeRC) authenticated(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := r.Header.Get(HeaderAuthToken)
	userID := r.Header.Get(HeaderUserID)
	for _, u := range f.Users {
		if u.AuthToken == token && u.UserID == userID {
			return true
		}
	}
	return false
}

func (f *fakeRC) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, endpointCall{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   string(body),
		Header: r.Header.Clone(),
	})
	canned, hasCanned := f.Canned[r.URL.Path]
	f.mu.Unlock()

	if hasCanned {
		w.WriteHeader(canned.Status)
		_, _ = io.WriteString(w, canned.Body)
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == PathInfo:
		_ = json.NewEncoder(w).Encode(map[string]any{"version": "0.5.0"})
		return

	case r.Method == http.MethodPost && path == PathLogin:
		form, _ := url.ParseQuery(string(body))
		f.mu.Lock()
		u, ok := f.Users[form.Get("user")]
		f.mu.Unlock()
		if !ok || u.Password != form.Get("password") {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "Unauthorized"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]string{"authToken": u.AuthToken, "userId": u.UserID},
		})
		return
	}

	if !f.authenticated(r) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "You must be logged in to do this."})
		return
	}

	switch {
	case r.Method == http.MethodGet && path == PathJoinedRooms:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"channels": []map[string]string{{"_id": "GENERAL", "name": "general"}},
			"success":  true,
		})

	case r.Method == http.MethodGet && path == PathRoomMessages:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"rid": r.URL.Query().Get("roomId"), "msg": "hello"}},
			"success":  true,
		})

	case r.Method == http.MethodPost && path == PathPostMessage:
		var req map[string]string
		_ = json.Unmarshal(body, &req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"channel": req["channel"],
			"message": map[string]string{"msg": req["text"]},
			"success": true,
		})

	case r.Method == http.MethodPost && strings.HasPrefix(path, PathRooms) &&
		(strings.HasSuffix(path, "/join") || strings.HasSuffix(path, "/leave")):
		_, _ = io.WriteString(w, "OK")

	case r.Method == http.MethodPost && (path == PathCreateChannel || path == PathCreateUser || path == PathUpdateUser):
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

// newTestClient creates a Client pointed at the fake server.
func newTestClient(t *testing.T, f *fakeRC) *Client {
	t.Helper()
	c, err := NewClient(f.Server.URL, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// newLoggedInClient creates a Client logged in as the fake user "relay".
func newLoggedInClient(t *testing.T, f *fakeRC) *Client {
	t.Helper()
	f.AddUser("relay", fakeUser{Password: "secret", AuthToken: "T", UserID: "U"})
	c := newTestClient(t, f)
	if err := c.Login(context.Background(), "relay", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return c
}
