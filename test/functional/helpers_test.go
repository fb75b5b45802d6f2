//go:build functional

// Package functional runs the items API in-process over a real listener
// and exercises it through HTTP and WebSocket clients.
package functional

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/auth"
	"github.com/vyrodovalexey/mongo-items-api/internal/config"
	"github.com/vyrodovalexey/mongo-items-api/internal/model"
	"github.com/vyrodovalexey/mongo-items-api/internal/repository"
	"github.com/vyrodovalexey/mongo-items-api/internal/server"
	"github.com/vyrodovalexey/mongo-items-api/internal/store"
)

// EnvTestLogLevel switches the server logger from nop to a development
// logger at the given level.
const EnvTestLogLevel = "TEST_LOG_LEVEL"

// Timeouts used across the suite.
const (
	DefaultRequestTimeout   = 5 * time.Second
	DefaultWebSocketTimeout = 5 * time.Second
	DefaultShutdownTimeout  = 5 * time.Second
)

// TestServer is a running items API backed by the memory store.
type TestServer struct {
	Server  *server.Server
	Repo    repository.ItemRepository
	BaseURL string
	WSURL   string

	errs chan error
}

// serverOption adjusts the configuration and authenticator before start.
type serverOption func(t *testing.T, cfg *config.Config) auth.Authenticator

// withAPIKeys enables API key authentication for the given "key:name" list.
func withAPIKeys(keys string) serverOption {
	return func(t *testing.T, cfg *config.Config) auth.Authenticator {
		t.Helper()
		cfg.AuthMode = string(auth.MethodAPIKey)
		cfg.APIKeys = keys
		a, err := auth.NewAPIKeyAuthenticator(keys)
		if err != nil {
			t.Fatalf("api key authenticator: %v", err)
		}
		return a
	}
}

// withBulkMaxItems caps the bulk endpoint.
func withBulkMaxItems(n int) serverOption {
	return func(_ *testing.T, cfg *config.Config) auth.Authenticator {
		cfg.BulkMaxItems = n
		return nil
	}
}

// StartTestServer starts a server on a random local port and stops it
// when the test ends.
func StartTestServer(t *testing.T, opts ...serverOption) *TestServer {
	t.Helper()

	cfg := config.Default()
	cfg.StoreBackend = config.StoreBackendMemory
	cfg.ServerPort = 0
	cfg.ShutdownTimeout = DefaultShutdownTimeout
	cfg.CORSAllowedOrigins = "http://localhost:3000"

	var authenticator auth.Authenticator
	for _, opt := range opts {
		if a := opt(t, cfg); a != nil {
			authenticator = a
		}
	}

	logger := testLogger(t)
	repo := repository.New(store.NewMemoryStore(), logger)
	srv := server.New(cfg, logger, repo, authenticator)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	ts := &TestServer{
		Server:  srv,
		Repo:    repo,
		BaseURL: "http://" + addr,
		WSURL:   "ws://" + addr + "/ws/items",
		errs:    make(chan error, 1),
	}

	go func() {
		ts.errs <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		if err := <-ts.errs; err != nil {
			t.Errorf("serve: %v", err)
		}
	})

	return ts
}

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()

	level := os.Getenv(EnvTestLogLevel)
	if level == "" {
		return zap.NewNop()
	}

	cfg := zap.NewDevelopmentConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		t.Fatalf("invalid %s: %v", EnvTestLogLevel, err)
	}
	logger, err := cfg.Build()
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	return logger
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Request describes one call against the test server. A string or []byte
// Body is sent as is; anything else is JSON encoded.
type Request struct {
	Method  string
	Path    string
	Body    any
	Headers map[string]string
}

// Do executes req and reads the whole response.
func (ts *TestServer) Do(t *testing.T, req Request) *Response {
	t.Helper()

	var body io.Reader
	switch v := req.Body.(type) {
	case nil:
	case string:
		body = bytes.NewBufferString(v)
	case []byte:
		body = bytes.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, ts.BaseURL+req.Path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: raw}
}

// Get performs a GET request.
func (ts *TestServer) Get(t *testing.T, path string) *Response {
	t.Helper()
	return ts.Do(t, Request{Method: http.MethodGet, Path: path})
}

// Post performs a POST request with a JSON body.
func (ts *TestServer) Post(t *testing.T, path string, body any) *Response {
	t.Helper()
	return ts.Do(t, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT request with a JSON body.
func (ts *TestServer) Put(t *testing.T, path string, body any) *Response {
	t.Helper()
	return ts.Do(t, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Delete performs a DELETE request.
func (ts *TestServer) Delete(t *testing.T, path string) *Response {
	t.Helper()
	return ts.Do(t, Request{Method: http.MethodDelete, Path: path})
}

// CreateItem creates an item through the API and returns it.
func (ts *TestServer) CreateItem(t *testing.T, name, description string) model.Item {
	t.Helper()

	resp := ts.Post(t, "/api/v1/items", map[string]string{"name": name, "description": description})
	AssertStatusCode(t, resp, http.StatusCreated)
	return DecodeData[model.Item](t, resp)
}

// Envelope mirrors the API response wrapper with the data left raw.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// DecodeEnvelope parses the response wrapper.
func DecodeEnvelope(t *testing.T, resp *Response) Envelope {
	t.Helper()

	var env Envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, resp.Body)
	}
	return env
}

// DecodeData parses the envelope data field as T.
func DecodeData[T any](t *testing.T, resp *Response) T {
	t.Helper()

	var out T
	env := DecodeEnvelope(t, resp)
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v (body %s)", err, resp.Body)
	}
	return out
}

// DecodeError parses an error response and checks success is false.
func DecodeError(t *testing.T, resp *Response) model.ErrorResponse {
	t.Helper()

	env := DecodeEnvelope(t, resp)
	if env.Success {
		t.Fatalf("expected success=false, body %s", resp.Body)
	}
	return DecodeData[model.ErrorResponse](t, resp)
}

// AssertStatusCode fails the test when the status differs.
func AssertStatusCode(t *testing.T, resp *Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d, body %s", resp.StatusCode, want, resp.Body)
	}
}

// DialEvents opens a WebSocket subscription to item events.
func (ts *TestServer) DialEvents(t *testing.T) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", ts.WSURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// WaitForSubscribers blocks until the server has n event subscribers.
func (ts *TestServer) WaitForSubscribers(t *testing.T, n int) {
	t.Helper()

	deadline := time.Now().Add(DefaultWebSocketTimeout)
	for ts.Server.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", ts.Server.Subscribers(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ReadEvent reads the next item event or fails after the timeout.
func ReadEvent(t *testing.T, conn *websocket.Conn) model.ItemEvent {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(DefaultWebSocketTimeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var ev model.ItemEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

// itemsPath builds /api/v1/items with an optional suffix.
func itemsPath(suffix string, args ...any) string {
	return "/api/v1/items" + fmt.Sprintf(suffix, args...)
}
