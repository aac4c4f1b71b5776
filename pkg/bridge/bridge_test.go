// Copyright 2024-2026 Aiku AI

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/rocketchat-relay/pkg/rocketchat"
)

// fakeRC simulates the Rocket.Chat endpoints the bridge uses.
type fakeRC struct {
	Server *httptest.Server

	mu       sync.Mutex
	posted   []map[string]string
	failPost bool
}

func newFakeRC(t *testing.T) *fakeRC {
	t.Helper()
	f := &fakeRC{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *fakeRC) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	switch {
	case r.Method == http.MethodPost && r.URL.Path == rocketchat.PathLogin:
		form, _ := url.ParseQuery(string(body))
		if form.Get("user") != "relay" || form.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"status":"error","message":"Unauthorized"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"success","data":{"authToken":"T","userId":"U"}}`)

	case r.Method == http.MethodPost && r.URL.Path == rocketchat.PathPostMessage:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failPost || r.Header.Get(rocketchat.HeaderAuthToken) != "T" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"success":false}`)
			return
		}
		var req map[string]string
		_ = json.Unmarshal(body, &req)
		f.posted = append(f.posted, req)
		_, _ = io.WriteString(w, `{"success":true}`)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeRC) Posted() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.posted...)
}

func (f *fakeRC) SetFailPost(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPost = fail
}

func testConfig(serverURL string) *Config {
	return &Config{
		RocketChat: RocketChatConfig{ServerURL: serverURL, Login: "relay", Password: "secret", Timeout: 5},
		Relay:      RelayConfig{RoomID: "MR", MessageTemplate: "MR: {{.Text}}"},
	}
}

func newTestBridge(t *testing.T, cfg *Config) *Bridge {
	t.Helper()
	b, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNew(t *testing.T) {
	t.Parallel()
	b := newTestBridge(t, testConfig("http://rc.local:3000"))
	if b.Client.HTTPClient.Timeout != 5*time.Second {
		t.Errorf("timeout: got %v, want 5s", b.Client.HTTPClient.Timeout)
	}
	if b.Dispatcher.RoomID() != "MR" {
		t.Errorf("room: got %q", b.Dispatcher.RoomID())
	}
	if b.Client.IsAuthenticated() {
		t.Error("New must not log in")
	}
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	badURL := testConfig("rc.local")
	if _, err := New(badURL, zerolog.Nop()); !errors.Is(err, rocketchat.ErrAPI) {
		t.Errorf("expected configuration error, got %v", err)
	}

	badTemplate := testConfig("http://rc.local")
	badTemplate.Relay.MessageTemplate = "{{.Text"
	if _, err := New(badTemplate, zerolog.Nop()); err == nil {
		t.Error("expected template error")
	}
}

func TestStartLoginFailure(t *testing.T) {
	t.Parallel()
	rc := newFakeRC(t)
	cfg := testConfig(rc.Server.URL)
	cfg.RocketChat.Password = "wrong"
	b := newTestBridge(t, cfg)

	err := b.Start(context.Background())
	var notAuth *rocketchat.NotAuthenticatedError
	if !errors.As(err, &notAuth) {
		t.Fatalf("expected NotAuthenticatedError, got %v", err)
	}
	if notAuth.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d", notAuth.StatusCode)
	}
}

func TestStartWithAdminAPIOnly(t *testing.T) {
	t.Parallel()
	rc := newFakeRC(t)
	cfg := testConfig(rc.Server.URL)
	cfg.AdminAPIAddr = "127.0.0.1:0"
	b := newTestBridge(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !b.Client.IsAuthenticated() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !b.Client.IsAuthenticated() {
		t.Fatal("Start did not log in")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStartConnectsMattermost(t *testing.T) {
	t.Parallel()
	rc := newFakeRC(t)
	mm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v4/users/me" {
			_, _ = io.WriteString(w, `{"id":"u1","username":"relay"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer mm.Close()

	cfg := testConfig(rc.Server.URL)
	cfg.Mattermost = MattermostConfig{Enabled: true, ServerURL: mm.URL, Token: "tok"}
	b := newTestBridge(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if names := b.FrontendNames(); len(names) != 1 || names[0] != "mattermost" {
		t.Errorf("front ends: got %v", names)
	}
}

type fakeFrontend struct {
	err     error
	started chan struct{}
}

func (f *fakeFrontend) Run(ctx context.Context) error {
	close(f.started)
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

func TestRunSupervisesFrontends(t *testing.T) {
	t.Parallel()
	b := newTestBridge(t, testConfig("http://rc.local"))
	healthy := &fakeFrontend{started: make(chan struct{})}
	failing := &fakeFrontend{started: make(chan struct{}), err: errors.New("boom")}
	b.AddFrontend("healthy", healthy)
	b.AddFrontend("failing", failing)

	err := b.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failing front end: boom") {
		t.Fatalf("expected failing front end error, got %v", err)
	}
	select {
	case <-healthy.started:
	default:
		t.Error("healthy front end was not started")
	}
}

func TestSetupLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, closer, err := SetupLogger(LoggingConfig{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	defer closer.Close()
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("level filtering failed: %q", buf.String())
	}

	if _, _, err := SetupLogger(LoggingConfig{Level: "loud"}, &buf); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestSetupLoggerFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relay.log")
	log, closer, err := SetupLogger(LoggingConfig{File: path, Pretty: true}, io.Discard)
	if err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	log.Info().Str("room_id", "MR").Msg("Relayed message to Rocket.Chat")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "Relayed message to Rocket.Chat") {
		t.Errorf("log file: got %q", data)
	}
}
