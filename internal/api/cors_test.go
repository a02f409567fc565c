package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubHandler is a simple handler that returns 200 OK.
var stubHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newCORSServer(origins []string) *Server {
	return &Server{config: Config{CORSAllowedOrigins: origins}}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantAllow  string
		wantStatus int
	}{
		{"no origins configured", nil, "GET", "https://example.com", "", http.StatusOK},
		{"no origin header", []string{"https://example.com"}, "GET", "", "", http.StatusOK},
		{"allowed origin", []string{"https://app.example.com"}, "GET", "https://app.example.com", "https://app.example.com", http.StatusOK},
		{"disallowed origin", []string{"https://app.example.com"}, "GET", "https://evil.com", "", http.StatusOK},
		{"preflight", []string{"https://app.example.com"}, "OPTIONS", "https://app.example.com", "https://app.example.com", http.StatusNoContent},
		{"wildcard", []string{"*"}, "PUT", "https://anything.example.com", "https://anything.example.com", http.StatusOK},
		{"second of many", []string{"https://one.example.com", "https://two.example.com"}, "GET", "https://two.example.com", "https://two.example.com", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newCORSServer(tt.origins).corsMiddleware(stubHandler)
			req := httptest.NewRequest(tt.method, "/v1/notes", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestCORS_AllowsSyncHeaders(t *testing.T) {
	handler := newCORSServer([]string{"*"}).corsMiddleware(stubHandler)
	req := httptest.NewRequest("OPTIONS", "/v1/notes/n1", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Authorization, Content-Type, X-Device-ID, X-Request-ID" {
		t.Errorf("Allow-Headers = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, DELETE, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
}

func TestCORS_PreflightThroughRouter(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.CORSAllowedOrigins = []string{"https://app.example.com"} })
	req, _ := http.NewRequest("OPTIONS", h.BaseURL+"/v1/notes", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
}
