package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/syncerr"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Outcome classifies a remote call for the engine.
type Outcome int

const (
	OK Outcome = iota
	Conflict
	Retryable
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Conflict:
		return "conflict"
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Result is the tagged outcome of a single remote call. Record is the
// remote's current view on OK and, when the server sent one, on Conflict.
type Result struct {
	Kind   Outcome
	Record *models.RemoteRecord
	Err    error
}

// Page is one page of a List call.
type Page struct {
	Records []models.RemoteRecord `json:"records"`
	HasMore bool                  `json:"has_more"`
	// Next is the cursor for the following page.
	Next int64 `json:"next"`
}

// WhoAmIResponse identifies the owner of an API key.
type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	KeyID  string `json:"key_id"`
	Email  string `json:"email,omitempty"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// Client is an HTTP client for the sn-sync server. It never retries;
// retry policy belongs to the engine.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new sync client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// writeRequest is the body of create, update and delete calls.
type writeRequest struct {
	ID          string          `json:"id,omitempty"`
	OwnerID     string          `json:"owner_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	BaseVersion int64           `json:"base_version"`
	Force       bool            `json:"force,omitempty"`
}

// Create inserts a new record. A record that already exists remotely comes
// back as a Conflict carrying its current state.
func (c *Client) Create(ctx context.Context, table models.Table, id, ownerID string, payload json.RawMessage) Result {
	body := writeRequest{ID: id, OwnerID: ownerID, Payload: payload}
	return c.write(ctx, "create", http.MethodPost, "/v1/"+string(table), body)
}

// Update replaces the payload of id. Unless force is set the server rejects
// the write with a Conflict when its version differs from baseVersion.
func (c *Client) Update(ctx context.Context, table models.Table, id string, payload json.RawMessage, baseVersion int64, force bool) Result {
	body := writeRequest{Payload: payload, BaseVersion: baseVersion, Force: force}
	return c.write(ctx, "update", http.MethodPut, recordPath(table, id), body)
}

// Delete tombstones id remotely. Deleting a record the server has never
// seen succeeds, so replays are harmless.
func (c *Client) Delete(ctx context.Context, table models.Table, id string, baseVersion int64, force bool) Result {
	body := writeRequest{BaseVersion: baseVersion, Force: force}
	res := c.write(ctx, "delete", http.MethodDelete, recordPath(table, id), body)
	if res.Kind == Permanent && errors.Is(res.Err, ErrNotFound) {
		return Result{Kind: OK, Record: &models.RemoteRecord{Table: table, ID: id, Deleted: true}}
	}
	return res
}

// Fetch returns the remote's current view of id. A record the server does
// not know is reported as deleted.
func (c *Client) Fetch(ctx context.Context, table models.Table, id string) Result {
	var rr models.RemoteRecord
	status, err := c.do(ctx, http.MethodGet, recordPath(table, id), nil, &rr)
	if err != nil {
		if status == http.StatusNotFound {
			return Result{Kind: OK, Record: &models.RemoteRecord{Table: table, ID: id, Deleted: true}}
		}
		return classify("fetch", status, err)
	}
	return Result{Kind: OK, Record: &rr}
}

// List returns records of table with a version above after, oldest first.
func (c *Client) List(ctx context.Context, table models.Table, after int64, limit int) (*Page, error) {
	params := url.Values{}
	params.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var page Page
	status, err := c.do(ctx, http.MethodGet, "/v1/"+string(table)+"?"+params.Encode(), nil, &page)
	if err != nil {
		return nil, classify("list", status, err).Err
	}
	return &page, nil
}

// WhoAmI verifies the API key and reports its owner.
func (c *Client) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	var resp WhoAmIResponse
	status, err := c.do(ctx, http.MethodGet, "/v1/whoami", nil, &resp)
	if err != nil {
		return nil, classify("whoami", status, err).Err
	}
	return &resp, nil
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	status, err := c.doRequest(ctx, http.MethodGet, "/healthz", nil, &resp, false)
	if err != nil {
		return nil, classify("health", status, err).Err
	}
	return &resp, nil
}

// Ping satisfies the engine's connectivity probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.HealthCheck(ctx)
	return err
}

func recordPath(table models.Table, id string) string {
	return "/v1/" + string(table) + "/" + url.PathEscape(id)
}

func (c *Client) write(ctx context.Context, op, method, path string, body writeRequest) Result {
	var rr models.RemoteRecord
	status, err := c.do(ctx, method, path, body, &rr)
	if err != nil {
		return classify(op, status, err)
	}
	if rr.ID == "" {
		return Result{Kind: OK}
	}
	return Result{Kind: OK, Record: &rr}
}

// classify maps a failed call onto the engine's outcome classes.
func classify(op string, status int, err error) Result {
	var ce *conflictError
	if errors.As(err, &ce) {
		return Result{Kind: Conflict, Record: ce.current, Err: syncerr.Wrap(syncerr.KindConflict, op, err)}
	}

	switch {
	case status == 0:
		if isTimeout(err) {
			return Result{Kind: Retryable, Err: syncerr.Wrap(syncerr.KindTimeout, op, err)}
		}
		return Result{Kind: Retryable, Err: syncerr.Wrap(syncerr.KindNetworkUnavailable, op, err)}
	case status == http.StatusUnauthorized:
		return Result{Kind: Permanent, Err: syncerr.Wrap(syncerr.KindUnauthenticated, op, err)}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return Result{Kind: Retryable, Err: syncerr.Wrap(syncerr.KindServerError, op, err)}
	case status == http.StatusConflict:
		return Result{Kind: Conflict, Err: syncerr.Wrap(syncerr.KindConflict, op, err)}
	default:
		// 400, 403, 404, 422 and anything else the server should never send
		return Result{Kind: Permanent, Err: syncerr.Wrap(syncerr.KindValidation, op, err)}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// errorEnvelope is the body of every error response. Conflicts also carry
// the record as the server currently holds it.
type errorEnvelope struct {
	Error   apiError             `json:"error"`
	Current *models.RemoteRecord `json:"current,omitempty"`
}

type conflictError struct {
	api     apiError
	current *models.RemoteRecord
}

func (e *conflictError) Error() string { return e.api.Error() }

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) (int, error) {
	return c.doRequest(ctx, method, path, body, result, true)
}

// doRequest returns the HTTP status alongside any error; status is zero when
// no response arrived.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error.Code != "" {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return resp.StatusCode, fmt.Errorf("%w: %s", ErrUnauthorized, env.Error.Message)
			case http.StatusForbidden:
				return resp.StatusCode, fmt.Errorf("%w: %s", ErrForbidden, env.Error.Message)
			case http.StatusNotFound:
				return resp.StatusCode, fmt.Errorf("%w: %s", ErrNotFound, env.Error.Message)
			case http.StatusConflict:
				return resp.StatusCode, &conflictError{api: env.Error, current: env.Current}
			default:
				return resp.StatusCode, &env.Error
			}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return resp.StatusCode, ErrUnauthorized
		}
		if resp.StatusCode == http.StatusNotFound {
			return resp.StatusCode, ErrNotFound
		}
		return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return resp.StatusCode, nil
}
