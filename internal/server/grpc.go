package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/spine/internal/model"
)

// ActivityServiceName is the fully-qualified gRPC service name.
const ActivityServiceName = "spine.v1.ActivityService"

// ActivityServiceServer is the gRPC surface. Messages are
// google.protobuf.Struct values shaped like the HTTP JSON bodies.
type ActivityServiceServer interface {
	CreateActivity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetActivity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListActivities(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkAsRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkAllAsRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

var _ ActivityServiceServer = (*ActivityServer)(nil)

type unaryCall func(ActivityServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ActivityServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ActivityServiceServer), ctx, req.(*structpb.Struct))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}

// activityServiceDesc registers ActivityServiceServer without generated code.
var activityServiceDesc = grpc.ServiceDesc{
	ServiceName: ActivityServiceName,
	HandlerType: (*ActivityServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateActivity", ActivityServiceServer.CreateActivity),
		unaryMethod("GetActivity", ActivityServiceServer.GetActivity),
		unaryMethod("ListActivities", ActivityServiceServer.ListActivities),
		unaryMethod("MarkAsRead", ActivityServiceServer.MarkAsRead),
		unaryMethod("MarkAllAsRead", ActivityServiceServer.MarkAllAsRead),
		unaryMethod("GetStats", ActivityServiceServer.GetStats),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return srv.(ActivityServiceServer).Watch(in, stream)
		},
	}},
	Metadata: activityProtoFile,
}

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the activity service, the health service and reflection.
func NewGRPCServer(s *ActivityServer, hs *health.Server, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamAuthInterceptor(authToken),
		),
	)
	srv.RegisterService(&activityServiceDesc, s)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv
}

// WatchStoreHealth keeps the health status of "" and the activity service in
// line with store reachability until ctx is done.
func (s *ActivityServer) WatchStoreHealth(ctx context.Context, hs *health.Server, interval time.Duration) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		st := healthpb.HealthCheckResponse_SERVING
		if err := s.store.Ping(pctx); err != nil {
			slog.Warn("store ping failed", "err", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", st)
		hs.SetServingStatus(ActivityServiceName, st)
	}
	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			check()
		}
	}
}

// rpcRequest is the decoded form of every request Struct.
type rpcRequest struct {
	TenantID string `json:"tenant_id"`
	ID       string `json:"id"`
	Source   string `json:"source"`
	model.ActivityFilter
}

func decodeStruct(in *structpb.Struct, v any) error {
	raw, err := in.MarshalJSON()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	return nil
}

func decodeRequest(in *structpb.Struct, needTenant bool) (*rpcRequest, error) {
	var req rpcRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	if needTenant && req.TenantID == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id is required")
	}
	return &req, nil
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// rpcError maps service errors onto gRPC status codes.
func rpcError(op string, err error) error {
	switch classify(err) {
	case kindInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case kindNotFound:
		return status.Error(codes.NotFound, "activity not found")
	case kindConflict:
		return status.Error(codes.AlreadyExists, "idempotency key already used by another tenant")
	}
	slog.Error(op+" failed", "err", err)
	return status.Errorf(codes.Internal, "failed to %s", op)
}

// CreateActivity stores a canonical draft, or a raw payload when the
// request carries "source" and "payload".
func (s *ActivityServer) CreateActivity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var (
		a       *model.Activity
		created bool
		err     error
	)
	if payload := in.GetFields()["payload"].GetStructValue(); payload != nil {
		source := in.GetFields()["source"].GetStringValue()
		if source == "" {
			return nil, status.Error(codes.InvalidArgument, "source is required with payload")
		}
		a, created, err = s.ingest(ctx, source, payload.AsMap())
	} else {
		var d model.Draft
		if err := decodeStruct(in, &d); err != nil {
			return nil, err
		}
		a, created, err = s.submit(ctx, &d)
	}
	if err != nil {
		return nil, rpcError("create activity", err)
	}
	return toStruct(map[string]any{"activity": a.View(), "created": created})
}

func (s *ActivityServer) GetActivity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in, true)
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetEvent(ctx, req.TenantID, req.ID)
	if err != nil {
		return nil, rpcError("get activity", err)
	}
	return toStruct(a.View())
}

func (s *ActivityServer) ListActivities(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in, true)
	if err != nil {
		return nil, err
	}
	f := req.ActivityFilter
	if err := model.ValidateFilter(&f); err != nil {
		return nil, rpcError("list activities", err)
	}
	f.Normalize()
	items, total, err := s.store.ListEvents(ctx, req.TenantID, f)
	if err != nil {
		return nil, rpcError("list activities", err)
	}
	views := make([]*model.Activity, len(items))
	for i, a := range items {
		views[i] = a.View()
	}
	return toStruct(model.NewPage(views, total, f.Page, f.PageSize))
}

func (s *ActivityServer) MarkAsRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in, true)
	if err != nil {
		return nil, err
	}
	a, err := s.markRead(ctx, req.TenantID, req.ID)
	if err != nil {
		return nil, rpcError("mark activity read", err)
	}
	return toStruct(a.View())
}

func (s *ActivityServer) MarkAllAsRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in, true)
	if err != nil {
		return nil, err
	}
	n, err := s.markAllRead(ctx, req.TenantID)
	if err != nil {
		return nil, rpcError("mark all read", err)
	}
	return toStruct(map[string]int{"count": n})
}

func (s *ActivityServer) GetStats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in, true)
	if err != nil {
		return nil, err
	}
	st, err := s.store.GetStats(ctx, req.TenantID, req.Start, req.End)
	if err != nil {
		return nil, rpcError("get stats", err)
	}
	return toStruct(st)
}

// Watch streams the tenant's deltas, starting with a connected delta, until
// the client goes away.
func (s *ActivityServer) Watch(in *structpb.Struct, stream grpc.ServerStream) error {
	req, err := decodeRequest(in, true)
	if err != nil {
		return err
	}
	sub := s.hub.Subscribe(req.TenantID)
	defer s.hub.Unsubscribe(sub)

	send := func(d *model.Delta) error {
		msg, err := toStruct(d)
		if err != nil {
			return err
		}
		return stream.SendMsg(msg)
	}
	if err := send(&model.Delta{
		Action:       model.ActionConnected,
		TenantID:     req.TenantID,
		ConnectionID: sub.ID,
		Timestamp:    s.now().UTC(),
	}); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-sub.Deltas():
			if !ok {
				return nil
			}
			if err := send(d); err != nil {
				return err
			}
		}
	}
}
