package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/marcus/sn/internal/serverdb"
)

// TestHarness wraps a full Server with a real HTTP listener for integration tests.
type TestHarness struct {
	t       *testing.T
	Server  *Server
	Store   *serverdb.ServerDB
	BaseURL string
	client  *http.Client
}

func testConfig(dbPath string) Config {
	return Config{
		RateLimitAuth:  100000,
		RateLimitWrite: 100000,
		RateLimitRead:  100000,
		ListenAddr:     ":0",
		ServerDBPath:   dbPath,
	}
}

// newTestHarness creates a TestHarness with a real HTTP server on a random port.
func newTestHarness(t *testing.T, opts ...func(*Config)) *TestHarness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "server.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}

	cfg := testConfig(dbPath)
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	httpSrv := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		httpSrv.Close()
		srv.rateLimiter.Close()
		store.Close()
	})

	return &TestHarness{t: t, Server: srv, Store: store, BaseURL: httpSrv.URL, client: &http.Client{}}
}

// CreateUser creates a user and returns its id and a fresh API key.
func (h *TestHarness) CreateUser(email string) (userID, token string) {
	h.t.Helper()
	u, err := h.Store.CreateUser(email)
	if err != nil {
		h.t.Fatalf("create user: %v", err)
	}
	token, _, err = h.Store.GenerateAPIKey(u.ID, "test", nil)
	if err != nil {
		h.t.Fatalf("generate api key: %v", err)
	}
	return u.ID, token
}

// Do sends an HTTP request and returns the response. The caller closes the
// body unless it uses ReadJSON or AssertError.
func (h *TestHarness) Do(method, path, token string, body any) *http.Response {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		reader = &buf
	}

	req, err := http.NewRequest(method, h.BaseURL+path, reader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Device-ID", "dev-test")

	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("do request %s %s: %v", method, path, err)
	}
	return resp
}

// ReadJSON checks the status and decodes the body into v.
func (h *TestHarness) ReadJSON(resp *http.Response, wantStatus int, v any) {
	h.t.Helper()
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		h.t.Fatalf("status = %d, want %d: %s", resp.StatusCode, wantStatus, data)
	}
	if v != nil {
		if err := json.Unmarshal(data, v); err != nil {
			h.t.Fatalf("decode %s: %v", data, err)
		}
	}
}

// AssertError checks the status and error code of an error response and
// returns the decoded envelope.
func (h *TestHarness) AssertError(resp *http.Response, wantStatus int, wantCode string) ErrorResponse {
	h.t.Helper()
	var env ErrorResponse
	h.ReadJSON(resp, wantStatus, &env)
	if env.Error.Code != wantCode {
		h.t.Errorf("error code = %q, want %q", env.Error.Code, wantCode)
	}
	return env
}
