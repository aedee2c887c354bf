package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/spine/internal/model"
)

// sseReader reads SSE lines from a live response on a background goroutine.
type sseReader struct {
	lines chan string
}

func newSSEReader(resp *http.Response) *sseReader {
	r := &sseReader{lines: make(chan string, 64)}
	go func() {
		defer close(r.lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			r.lines <- sc.Text()
		}
	}()
	return r
}

// next returns the next non-empty line, failing the test on timeout.
func (r *sseReader) next(t *testing.T) string {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-r.lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if line != "" {
				return line
			}
		case <-timeout:
			t.Fatal("timed out waiting for SSE line")
		}
	}
}

// nextDelta skips comments and returns the next data payload as a Delta.
func (r *sseReader) nextDelta(t *testing.T) *model.Delta {
	t.Helper()
	for {
		line := r.next(t)
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var d model.Delta
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			t.Fatalf("decoding delta %q: %v", data, err)
		}
		return &d
	}
}

func openStream(t *testing.T, ts *httptest.Server, tenant string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/activities/stream?tenant_id="+tenant, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("opening stream: %v", err)
	}
	return resp, func() {
		cancel()
		resp.Body.Close()
	}
}

func TestHandleStream_ConnectedThenCreated(t *testing.T) {
	s, _, h := newTestServer()
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, closeStream := openStream(t, ts, "t1")
	defer closeStream()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected Content-Type=text/event-stream, got %q", ct)
	}
	r := newSSEReader(resp)

	hello := r.nextDelta(t)
	if hello.Action != model.ActionConnected || hello.TenantID != "t1" || hello.ConnectionID == "" {
		t.Fatalf("unexpected first message: %+v", hello)
	}
	if s.Hub().Count("t1") != 1 {
		t.Fatalf("expected 1 subscriber, got %d", s.Hub().Count("t1"))
	}

	requireStatus(t, doJSON(t, h, "POST", "/v1/activities", draftBody("t2", "other")), http.StatusCreated)
	requireStatus(t, doJSON(t, h, "POST", "/v1/activities", draftBody("t1", "mine")), http.StatusCreated)

	d := r.nextDelta(t)
	if d.Action != model.ActionCreated || d.Activity == nil {
		t.Fatalf("unexpected delta: %+v", d)
	}
	if d.Activity.TenantID != "t1" || d.Activity.SourceObjectID != "mine" {
		t.Fatalf("received another tenant's activity: %+v", d.Activity)
	}
	if d.Activity.IdempotencyKey != "" {
		t.Error("idempotency key leaked into the delta")
	}
}

func TestHandleStream_ReadAllDelta(t *testing.T) {
	_, _, h := newTestServer()
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, closeStream := openStream(t, ts, "t1")
	defer closeStream()
	r := newSSEReader(resp)
	r.nextDelta(t)

	for _, id := range []string{"a", "b"} {
		requireStatus(t, doJSON(t, h, "POST", "/v1/activities", draftBody("t1", id)), http.StatusCreated)
	}
	for i := 0; i < 2; i++ {
		if d := r.nextDelta(t); d.Action != model.ActionCreated {
			t.Fatalf("expected created delta, got %+v", d)
		}
	}

	requireStatus(t, doJSON(t, h, "PATCH", "/v1/activities/read-all?tenant_id=t1", nil), http.StatusOK)
	d := r.nextDelta(t)
	if d.Action != model.ActionUpdated || !d.ReadAll || d.Count != 2 || d.TenantID != "t1" {
		t.Fatalf("unexpected delta: %+v", d)
	}
	if d.Activity != nil {
		t.Errorf("read-all delta carries an activity: %+v", d.Activity)
	}

	// Nothing left unread: no further delta.
	requireStatus(t, doJSON(t, h, "PATCH", "/v1/activities/read-all?tenant_id=t1", nil), http.StatusOK)
	requireStatus(t, doJSON(t, h, "POST", "/v1/activities", draftBody("t1", "c")), http.StatusCreated)
	if next := r.nextDelta(t); next.Action != model.ActionCreated {
		t.Fatalf("expected the created delta next, got %+v", next)
	}
}

func TestHandleStream_Keepalive(t *testing.T) {
	_, _, h := newTestServer(WithKeepalive(20 * time.Millisecond))
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, closeStream := openStream(t, ts, "t1")
	defer closeStream()
	r := newSSEReader(resp)

	r.nextDelta(t)
	if line := r.next(t); line != ": keepalive" {
		t.Fatalf("expected keepalive comment, got %q", line)
	}
}

func TestHandleStream_UnsubscribesOnDisconnect(t *testing.T) {
	s, _, h := newTestServer()
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, closeStream := openStream(t, ts, "t1")
	newSSEReader(resp).nextDelta(t)
	closeStream()

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().Count("t1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleStream_RequiresTenant(t *testing.T) {
	_, _, h := newTestServer()
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/activities/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWriteSSEData(t *testing.T) {
	rec := httptest.NewRecorder()
	d := &model.Delta{Action: model.ActionConnected, TenantID: "t1", ConnectionID: "c-1"}
	if err := writeSSEData(rec, d); err != nil {
		t.Fatal(err)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: {") || !strings.HasSuffix(body, "}\n\n") {
		t.Fatalf("unexpected SSE framing: %q", body)
	}
	if !strings.Contains(body, `"action":"connected"`) {
		t.Fatalf("missing action in %q", body)
	}
}
