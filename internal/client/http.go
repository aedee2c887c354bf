package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/spine/internal/model"
)

// HTTPClient implements ActivityClient using the spine HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Writes ---

func (c *HTTPClient) CreateActivity(ctx context.Context, d *model.Draft) (*model.Activity, bool, error) {
	var a model.Activity
	status, err := c.do(ctx, http.MethodPost, "/v1/activities", d, &a)
	if err != nil {
		return nil, false, err
	}
	return &a, status == http.StatusCreated, nil
}

func (c *HTTPClient) Ingest(ctx context.Context, source, tenantID string, payload json.RawMessage) (*model.Activity, bool, error) {
	path := "/v1/ingest/" + url.PathEscape(source)
	if tenantID != "" {
		path += "?" + url.Values{"tenant_id": {tenantID}}.Encode()
	}
	var a model.Activity
	status, err := c.do(ctx, http.MethodPost, path, payload, &a)
	if err != nil {
		return nil, false, err
	}
	return &a, status == http.StatusCreated, nil
}

// --- Reads ---

func (c *HTTPClient) GetActivity(ctx context.Context, tenantID, id string) (*model.Activity, error) {
	var a model.Activity
	if err := c.doJSON(ctx, http.MethodGet, activityPath(id, tenantID), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *HTTPClient) ListActivities(ctx context.Context, tenantID string, filter model.ActivityFilter) (*model.Page, error) {
	var page model.Page
	path := "/v1/activities?" + filterQuery(tenantID, filter).Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) GetStats(ctx context.Context, tenantID string, start, end *time.Time) (*model.Stats, error) {
	q := url.Values{"tenant_id": {tenantID}}
	setTime(q, "start_date", start)
	setTime(q, "end_date", end)
	var st model.Stats
	if err := c.doJSON(ctx, http.MethodGet, "/v1/activities/stats?"+q.Encode(), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// --- Read state ---

func (c *HTTPClient) MarkAsRead(ctx context.Context, tenantID, id string) (*model.Activity, error) {
	var a model.Activity
	if err := c.doJSON(ctx, http.MethodPatch, activityPath(id+"/read", tenantID), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *HTTPClient) MarkAllAsRead(ctx context.Context, tenantID string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	q := url.Values{"tenant_id": {tenantID}}
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/activities/read-all?"+q.Encode(), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// --- Streaming ---

// Watch reads the SSE stream. Heartbeat comments are skipped.
func (c *HTTPClient) Watch(ctx context.Context, tenantID string, fn func(*model.Delta) error) error {
	q := url.Values{"tenant_id": {tenantID}}
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/activities/stream?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		var d model.Delta
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &d); err != nil {
			return fmt.Errorf("decoding delta: %w", err)
		}
		if err := fn(&d); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Fields     []model.FieldError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 or a gRPC NotFound from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusNotFound
	}
	return status.Code(err) == codes.NotFound
}

func activityPath(suffix, tenantID string) string {
	id, rest, _ := strings.Cut(suffix, "/")
	path := "/v1/activities/" + url.PathEscape(id)
	if rest != "" {
		path += "/" + rest
	}
	return path + "?" + url.Values{"tenant_id": {tenantID}}.Encode()
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	_, err := c.do(ctx, method, path, body, result)
	return err
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		bodyReader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do performs the request and returns the response status code.
func (c *HTTPClient) do(ctx context.Context, method, path string, body any, result any) (int, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, apiError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func apiError(status int, body []byte) *APIError {
	var errResp struct {
		Error  string             `json:"error"`
		Fields []model.FieldError `json:"fields"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error, Fields: errResp.Fields}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}
