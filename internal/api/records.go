package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/serverdb"
)

const maxIDLen = 128

// writeRequest is the body of create, update and delete calls. OwnerID is
// accepted for compatibility but ignored: the owner is always the caller.
type writeRequest struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	BaseVersion int64           `json:"base_version"`
	Force       bool            `json:"force,omitempty"`
}

// listResponse is one page of GET /v1/{table}.
type listResponse struct {
	Records []serverdb.Record `json:"records"`
	HasMore bool              `json:"has_more"`
	Next    int64             `json:"next"`
}

// requireTable rejects tables the models package does not know.
func requireTable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !events.IsValidTable(chi.URLParam(r, "table")) {
			writeError(w, http.StatusNotFound, ErrCodeUnknownTable, "unknown table "+chi.URLParam(r, "table"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && !strings.ContainsAny(id, "/?#")
}

// decodeWrite reads a write body. An empty body is allowed when optional.
func decodeWrite(r *http.Request, optional bool) (writeRequest, error) {
	var req writeRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if errors.Is(err, io.EOF) && optional {
		return req, nil
	}
	return req, err
}

// checkPayload validates payload against the table's schema.
func checkPayload(w http.ResponseWriter, table string, payload json.RawMessage) bool {
	if len(payload) == 0 {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidPayload, "payload is required")
		return false
	}
	if _, err := models.DecodePayload(models.Table(table), payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidPayload, err.Error())
		return false
	}
	return true
}

// writeStoreError maps store errors onto responses.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ce *serverdb.ConflictError
	switch {
	case errors.As(err, &ce):
		writeConflict(w, ce.Error(), ce.Current)
	case errors.Is(err, serverdb.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "record not found")
	case errors.Is(err, serverdb.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	default:
		logFor(r.Context()).Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to "+op)
	}
}

// handleCreate handles POST /v1/{table}.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	req, err := decodeWrite(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if !validID(req.ID) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "a valid id is required")
		return
	}
	if !checkPayload(w, table, req.Payload) {
		return
	}

	user := getUserFromContext(r.Context())
	rec, err := s.store.CreateRecord(table, req.ID, user.UserID, req.Payload, r.Header.Get("X-Device-ID"))
	if err != nil {
		s.writeStoreError(w, r, "create record", err)
		return
	}
	s.metrics.RecordWrite()
	writeJSON(w, http.StatusCreated, rec)
}

// handleUpdate handles PUT /v1/{table}/{id}.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")
	req, err := decodeWrite(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if !checkPayload(w, table, req.Payload) {
		return
	}

	user := getUserFromContext(r.Context())
	rec, err := s.store.UpdateRecord(table, id, user.UserID, req.Payload, req.BaseVersion, req.Force, r.Header.Get("X-Device-ID"))
	if err != nil {
		s.writeStoreError(w, r, "update record", err)
		return
	}
	if req.Force {
		logFor(r.Context()).Info("forced update", "table", table, "id", id, "base", req.BaseVersion, "version", rec.Version)
	}
	s.metrics.RecordWrite()
	writeJSON(w, http.StatusOK, rec)
}

// handleDelete handles DELETE /v1/{table}/{id}. The body is optional; a
// missing body means base version 0 without force.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")
	req, err := decodeWrite(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	user := getUserFromContext(r.Context())
	rec, err := s.store.DeleteRecord(table, id, user.UserID, req.BaseVersion, req.Force, r.Header.Get("X-Device-ID"))
	if err != nil {
		s.writeStoreError(w, r, "delete record", err)
		return
	}
	s.metrics.RecordWrite()
	writeJSON(w, http.StatusOK, rec)
}

// handleFetch handles GET /v1/{table}/{id}.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	rec, err := s.store.GetRecord(chi.URLParam(r, "table"), chi.URLParam(r, "id"), user.UserID)
	if err != nil {
		s.writeStoreError(w, r, "get record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleList handles GET /v1/{table}?after=&limit=.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, err := parseInt(q.Get("after"), 0)
	if err != nil || after < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid after cursor")
		return
	}
	limit, err := parseInt(q.Get("limit"), 100)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid limit")
		return
	}
	limit = min(limit, int64(s.config.ListMaxLimit))

	user := getUserFromContext(r.Context())
	recs, more, err := s.store.ListRecords(chi.URLParam(r, "table"), user.UserID, after, int(limit))
	if err != nil {
		s.writeStoreError(w, r, "list records", err)
		return
	}
	s.metrics.RecordList()

	resp := listResponse{Records: recs, HasMore: more, Next: after}
	if resp.Records == nil {
		resp.Records = []serverdb.Record{}
	}
	if len(recs) > 0 {
		resp.Next = recs[len(recs)-1].Version
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseInt(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
