package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/alfredjeanlab/spine/internal/broadcast"
	"github.com/alfredjeanlab/spine/internal/model"
	"github.com/alfredjeanlab/spine/internal/server"
	"github.com/alfredjeanlab/spine/internal/store/memory"
)

func newGRPCTestClient(t *testing.T, token string) (*GRPCClient, *health.Server) {
	t.Helper()
	s := server.NewActivityServer(memory.New(), broadcast.NewHub())
	hs := health.NewServer()
	srv := server.NewGRPCServer(s, hs, "tok")
	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := NewGRPCClient("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("NewGRPCClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, hs
}

func TestGRPCClient_RoundTrip(t *testing.T) {
	c, _ := newGRPCTestClient(t, "tok")
	ctx := context.Background()

	a, created, err := c.CreateActivity(ctx, &model.Draft{
		TenantID:       "t1",
		Type:           model.TypeMeetingScheduled,
		Source:         model.SourceInternal,
		SourceObjectID: "mtg-1",
		Title:          "Demo call",
		Timestamp:      time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC),
		Tags:           []string{"demo"},
	})
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	if a.ID == "" || a.TenantID != "t1" || !a.HasTag("demo") {
		t.Fatalf("unexpected activity: %+v", a)
	}

	b, created, err := c.Ingest(ctx, "hubspot", "t1", json.RawMessage(`{"subscriptionType":"email.open","objectId":77}`))
	if err != nil || !created {
		t.Fatalf("ingest: created=%v err=%v", created, err)
	}
	if b.Type != model.TypeEmailOpened || b.SourceObjectID != "77" {
		t.Fatalf("unexpected ingested activity: %+v", b)
	}

	got, err := c.GetActivity(ctx, "t1", a.ID)
	if err != nil || got.ID != a.ID {
		t.Fatalf("get: %+v %v", got, err)
	}

	page, err := c.ListActivities(ctx, "t1", model.ActivityFilter{Types: []model.ActivityType{model.TypeEmailOpened}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != b.ID {
		t.Fatalf("unexpected page: %+v", page)
	}

	if _, err := c.MarkAsRead(ctx, "t1", a.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	n, err := c.MarkAllAsRead(ctx, "t1")
	if err != nil || n != 1 {
		t.Fatalf("mark all: n=%d err=%v", n, err)
	}

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	st, err := c.GetStats(ctx, "t1", &start, &end)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 1 || st.ByType["meeting-scheduled"] != 1 {
		t.Fatalf("windowed stats: %+v", st)
	}
}

func TestGRPCClient_Errors(t *testing.T) {
	c, _ := newGRPCTestClient(t, "tok")
	_, err := c.GetActivity(context.Background(), "t1", "act-missing")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound should recognize gRPC NotFound")
	}

	anon, _ := newGRPCTestClient(t, "")
	_, err = anon.MarkAllAsRead(context.Background(), "t1")
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	if _, _, err := c.Ingest(context.Background(), "webhook", "t1", json.RawMessage(`[1]`)); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}

func TestGRPCClient_Health(t *testing.T) {
	c, hs := newGRPCTestClient(t, "")
	hs.SetServingStatus(activityService, healthpb.HealthCheckResponse_SERVING)
	got, err := c.Health(context.Background())
	if err != nil || got != "ok" {
		t.Fatalf("health = %q, %v", got, err)
	}
	hs.SetServingStatus(activityService, healthpb.HealthCheckResponse_NOT_SERVING)
	got, err = c.Health(context.Background())
	if err != nil || got != "degraded" {
		t.Fatalf("health = %q, %v", got, err)
	}
}

func TestGRPCClient_Watch(t *testing.T) {
	c, _ := newGRPCTestClient(t, "tok")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connected := make(chan struct{})
	done := make(chan error, 1)
	var got *model.Delta
	go func() {
		done <- c.Watch(ctx, "t1", func(d *model.Delta) error {
			switch d.Action {
			case model.ActionConnected:
				close(connected)
				return nil
			default:
				got = d
				return errStop
			}
		})
	}()

	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatal("never connected")
	}
	if _, _, err := c.CreateActivity(ctx, &model.Draft{
		TenantID: "t1", Type: model.TypeEmailSent, Source: model.SourceInternal, Title: "ping",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := <-done; !errors.Is(err, errStop) {
		t.Fatalf("Watch returned %v", err)
	}
	if got == nil || got.Action != model.ActionCreated || got.Activity.Title != "ping" {
		t.Fatalf("unexpected delta: %+v", got)
	}
}
