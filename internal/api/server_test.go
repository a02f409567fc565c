package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/marcus/sn/internal/serverdb"
)

func TestHealthz(t *testing.T) {
	h := newTestHarness(t)
	var body map[string]string
	h.ReadJSON(h.Do("GET", "/healthz", "", nil), http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestHarness(t)
	resp := h.Do("GET", "/healthz", "", nil)
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestHarness(t)
	h.AssertError(h.Do("GET", "/v1/notes", "", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
	h.AssertError(h.Do("GET", "/v1/notes", "sn_live_bogus", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestFailedAuthIsRateLimited(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.RateLimitAuth = 2 })
	for i := 0; i < 2; i++ {
		h.AssertError(h.Do("GET", "/v1/whoami", "bad", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
	}
	h.AssertError(h.Do("GET", "/v1/whoami", "bad", nil), http.StatusTooManyRequests, ErrCodeRateLimited)
}

func TestWhoAmI(t *testing.T) {
	h := newTestHarness(t)
	uid, token := h.CreateUser("me@test.com")
	var body map[string]string
	h.ReadJSON(h.Do("GET", "/v1/whoami", token, nil), http.StatusOK, &body)
	if body["user_id"] != uid || body["key_id"] == "" {
		t.Errorf("whoami = %v", body)
	}
}

func TestUnknownTable(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("me@test.com")
	h.AssertError(h.Do("GET", "/v1/widgets", token, nil), http.StatusNotFound, ErrCodeUnknownTable)
}

func TestRecordLifecycle(t *testing.T) {
	h := newTestHarness(t)
	uid, token := h.CreateUser("me@test.com")

	var rec serverdb.Record
	h.ReadJSON(h.Do("POST", "/v1/notes", token, map[string]any{
		"id": "n1", "owner_id": "spoofed", "payload": map[string]string{"title": "hi"},
	}), http.StatusCreated, &rec)
	if rec.Version != 1 || rec.OwnerID != uid || rec.ModifiedBy != "dev-test" {
		t.Fatalf("created = %+v", rec)
	}

	h.ReadJSON(h.Do("PUT", "/v1/notes/n1", token, map[string]any{
		"payload": map[string]string{"title": "edited"}, "base_version": 1,
	}), http.StatusOK, &rec)
	if rec.Version != 2 {
		t.Errorf("version after update = %d", rec.Version)
	}

	h.ReadJSON(h.Do("GET", "/v1/notes/n1", token, nil), http.StatusOK, &rec)
	var p map[string]string
	json.Unmarshal(rec.Payload, &p)
	if p["title"] != "edited" {
		t.Errorf("fetched title = %q", p["title"])
	}

	h.ReadJSON(h.Do("DELETE", "/v1/notes/n1", token, map[string]any{"base_version": 2}), http.StatusOK, &rec)
	if !rec.Deleted {
		t.Error("delete did not tombstone")
	}
	h.ReadJSON(h.Do("GET", "/v1/notes/n1", token, nil), http.StatusOK, &rec)
	if !rec.Deleted {
		t.Error("fetch of tombstone not marked deleted")
	}
}

func TestConflictCarriesCurrent(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("me@test.com")
	h.ReadJSON(h.Do("POST", "/v1/decks", token, map[string]any{"id": "d1", "payload": map[string]string{"name": "Go"}}), http.StatusCreated, nil)
	h.ReadJSON(h.Do("PUT", "/v1/decks/d1", token, map[string]any{"payload": map[string]string{"name": "Rust"}, "base_version": 1}), http.StatusOK, nil)

	env := h.AssertError(h.Do("PUT", "/v1/decks/d1", token, map[string]any{
		"payload": map[string]string{"name": "Zig"}, "base_version": 1,
	}), http.StatusConflict, ErrCodeConflict)
	if env.Current == nil || env.Current.Version != 2 {
		t.Fatalf("current = %+v", env.Current)
	}

	var rec serverdb.Record
	h.ReadJSON(h.Do("PUT", "/v1/decks/d1", token, map[string]any{
		"payload": map[string]string{"name": "Zig"}, "base_version": 1, "force": true,
	}), http.StatusOK, &rec)
	if rec.Version != 3 {
		t.Errorf("forced version = %d, want 3", rec.Version)
	}

	h.AssertError(h.Do("POST", "/v1/decks", token, map[string]any{"id": "d1", "payload": map[string]string{"name": "Go"}}),
		http.StatusConflict, ErrCodeConflict)
}

func TestValidation(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("me@test.com")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing id", "POST", "/v1/notes", map[string]any{"payload": map[string]string{"title": "x"}}, 400, ErrCodeBadRequest},
		{"missing payload", "POST", "/v1/notes", map[string]any{"id": "n1"}, 422, ErrCodeInvalidPayload},
		{"empty note", "POST", "/v1/notes", map[string]any{"id": "n1", "payload": map[string]string{}}, 422, ErrCodeInvalidPayload},
		{"unknown field", "POST", "/v1/decks", map[string]any{"id": "d1", "payload": map[string]string{"name": "x", "color": "red"}}, 422, ErrCodeInvalidPayload},
		{"update missing record", "PUT", "/v1/notes/nope", map[string]any{"payload": map[string]string{"title": "x"}}, 404, ErrCodeNotFound},
		{"delete missing record", "DELETE", "/v1/notes/nope", nil, 404, ErrCodeNotFound},
		{"bad cursor", "GET", "/v1/notes?after=x", nil, 400, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.AssertError(h.Do(tt.method, tt.path, token, tt.body), tt.status, tt.code)
		})
	}
}

func TestRecordsIsolatedPerUser(t *testing.T) {
	h := newTestHarness(t)
	_, alice := h.CreateUser("alice@test.com")
	_, bob := h.CreateUser("bob@test.com")

	h.ReadJSON(h.Do("POST", "/v1/notes", alice, map[string]any{"id": "n1", "payload": map[string]string{"title": "a"}}), http.StatusCreated, nil)

	h.AssertError(h.Do("GET", "/v1/notes/n1", bob, nil), http.StatusNotFound, ErrCodeNotFound)
	h.AssertError(h.Do("POST", "/v1/notes", bob, map[string]any{"id": "n1", "payload": map[string]string{"title": "b"}}),
		http.StatusForbidden, ErrCodeForbidden)

	var page listResponse
	h.ReadJSON(h.Do("GET", "/v1/notes", bob, nil), http.StatusOK, &page)
	if len(page.Records) != 0 {
		t.Errorf("bob sees %d records", len(page.Records))
	}
}

func TestListPaging(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("me@test.com")
	for _, id := range []string{"a", "b", "c"} {
		h.ReadJSON(h.Do("POST", "/v1/notes", token, map[string]any{"id": id, "payload": map[string]string{"title": id}}), http.StatusCreated, nil)
	}

	var page listResponse
	h.ReadJSON(h.Do("GET", "/v1/notes?limit=2", token, nil), http.StatusOK, &page)
	if len(page.Records) != 2 || !page.HasMore || page.Next != 2 {
		t.Fatalf("page 1 = %+v", page)
	}
	h.ReadJSON(h.Do("GET", "/v1/notes?limit=2&after=2", token, nil), http.StatusOK, &page)
	if len(page.Records) != 1 || page.HasMore || page.Records[0].ID != "c" {
		t.Errorf("page 2 = %+v", page)
	}
}

func TestWriteRateLimit(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.RateLimitWrite = 1 })
	_, token := h.CreateUser("me@test.com")
	h.ReadJSON(h.Do("POST", "/v1/notes", token, map[string]any{"id": "a", "payload": map[string]string{"title": "a"}}), http.StatusCreated, nil)
	h.AssertError(h.Do("POST", "/v1/notes", token, map[string]any{"id": "b", "payload": map[string]string{"title": "b"}}),
		http.StatusTooManyRequests, ErrCodeRateLimited)

	// Reads have their own budget
	h.ReadJSON(h.Do("GET", "/v1/notes", token, nil), http.StatusOK, nil)
}

func TestMetricz(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("me@test.com")
	h.ReadJSON(h.Do("POST", "/v1/notes", token, map[string]any{"id": "a", "payload": map[string]string{"title": "a"}}), http.StatusCreated, nil)
	h.AssertError(h.Do("POST", "/v1/notes", token, map[string]any{"id": "a", "payload": map[string]string{"title": "a"}}), http.StatusConflict, ErrCodeConflict)

	var snap MetricsSnapshot
	h.ReadJSON(h.Do("GET", "/metricz", "", nil), http.StatusOK, &snap)
	if snap.WritesAccepted != 1 || snap.Conflicts != 1 || snap.Records["notes"] != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestCleanupPurgesTombstones(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.TombstoneRetention = time.Hour })
	_, token := h.CreateUser("me@test.com")
	h.Store.SetNow(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	h.ReadJSON(h.Do("POST", "/v1/notes", token, map[string]any{"id": "a", "payload": map[string]string{"title": "a"}}), http.StatusCreated, nil)
	h.ReadJSON(h.Do("DELETE", "/v1/notes/a", token, map[string]any{"base_version": 1}), http.StatusOK, nil)

	h.Store.SetNow(time.Now)
	h.Server.cleanup()
	h.AssertError(h.Do("GET", "/v1/notes/a", token, nil), http.StatusNotFound, ErrCodeNotFound)
}
