package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/spine/internal/model"
)

// activityService is the fully-qualified name of the server's gRPC service.
const activityService = "spine.v1.ActivityService"

// GRPCClient implements ActivityClient using the gRPC transport. Requests
// and responses are google.protobuf.Struct values shaped like the HTTP
// JSON bodies.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

// invoke marshals req into a Struct, calls method and decodes the reply into out.
func (c *GRPCClient) invoke(ctx context.Context, method string, req, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), "/"+activityService+"/"+method, in, reply); err != nil {
		return err
	}
	return fromStruct(reply, out)
}

// --- Writes ---

type createReply struct {
	Activity *model.Activity `json:"activity"`
	Created  bool            `json:"created"`
}

func (c *GRPCClient) CreateActivity(ctx context.Context, d *model.Draft) (*model.Activity, bool, error) {
	var resp createReply
	if err := c.invoke(ctx, "CreateActivity", d, &resp); err != nil {
		return nil, false, err
	}
	return resp.Activity, resp.Created, nil
}

func (c *GRPCClient) Ingest(ctx context.Context, source, tenantID string, payload json.RawMessage) (*model.Activity, bool, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, false, fmt.Errorf("decoding payload: %w", err)
	}
	if raw == nil {
		return nil, false, errors.New("payload must be a JSON object")
	}
	if tenantID != "" && raw["tenant_id"] == nil && raw["tenantId"] == nil && raw["orgTenantId"] == nil {
		raw["tenant_id"] = tenantID
	}
	var resp createReply
	req := map[string]any{"source": source, "payload": raw}
	if err := c.invoke(ctx, "CreateActivity", req, &resp); err != nil {
		return nil, false, err
	}
	return resp.Activity, resp.Created, nil
}

// --- Reads ---

type idRequest struct {
	TenantID string `json:"tenant_id"`
	ID       string `json:"id,omitempty"`
}

func (c *GRPCClient) GetActivity(ctx context.Context, tenantID, id string) (*model.Activity, error) {
	var a model.Activity
	if err := c.invoke(ctx, "GetActivity", idRequest{TenantID: tenantID, ID: id}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *GRPCClient) ListActivities(ctx context.Context, tenantID string, filter model.ActivityFilter) (*model.Page, error) {
	req := struct {
		TenantID string `json:"tenant_id"`
		model.ActivityFilter
	}{tenantID, filter}
	var page model.Page
	if err := c.invoke(ctx, "ListActivities", req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *GRPCClient) GetStats(ctx context.Context, tenantID string, start, end *time.Time) (*model.Stats, error) {
	req := struct {
		TenantID string     `json:"tenant_id"`
		Start    *time.Time `json:"start,omitempty"`
		End      *time.Time `json:"end,omitempty"`
	}{tenantID, start, end}
	var st model.Stats
	if err := c.invoke(ctx, "GetStats", req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// --- Read state ---

func (c *GRPCClient) MarkAsRead(ctx context.Context, tenantID, id string) (*model.Activity, error) {
	var a model.Activity
	if err := c.invoke(ctx, "MarkAsRead", idRequest{TenantID: tenantID, ID: id}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *GRPCClient) MarkAllAsRead(ctx context.Context, tenantID string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.invoke(ctx, "MarkAllAsRead", idRequest{TenantID: tenantID}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// --- Streaming ---

var watchDesc = &grpc.StreamDesc{StreamName: "Watch", ServerStreams: true}

func (c *GRPCClient) Watch(ctx context.Context, tenantID string, fn func(*model.Delta) error) error {
	stream, err := c.conn.NewStream(c.outgoing(ctx), watchDesc, "/"+activityService+"/Watch")
	if err != nil {
		return err
	}
	in, err := toStruct(idRequest{TenantID: tenantID})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var d model.Delta
		if err := fromStruct(msg, &d); err != nil {
			return err
		}
		if err := fn(&d); err != nil {
			return err
		}
	}
}

// --- Health ---

// Health queries the standard gRPC health service for the activity service.
func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: activityService})
	if err != nil {
		return "", err
	}
	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		return "ok", nil
	}
	return "degraded", nil
}

// --- conversion helpers ---

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	s := new(structpb.Struct)
	if err := s.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, out any) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
