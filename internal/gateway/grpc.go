// ABOUTME: gRPC services: standard health checking and the toolgate.v1.Tools catalog service.
// ABOUTME: Tools messages are structpb.Struct so no generated code is needed.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/toolgate/internal/tools"
)

// ToolsServiceName is the fully qualified gRPC service name.
const ToolsServiceName = "toolgate.v1.Tools"

// errorDomain is reported in ErrorInfo details of failed calls.
const errorDomain = "toolgate"

// ToolsServer is the server API for the toolgate.v1.Tools service.
//
//	List({})                                    -> {tools: [{name, title, description, input_schema, output_schema}]}
//	Call({name, arguments, request_id?, budget?}) -> {request_id, tool, value, structured?, duration_ms}
type ToolsServer interface {
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Call(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ToolsServiceDesc describes the toolgate.v1.Tools service for grpc.Server.RegisterService.
var ToolsServiceDesc = grpc.ServiceDesc{
	ServiceName: ToolsServiceName,
	HandlerType: (*ToolsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "List", Handler: toolsListHandler},
		{MethodName: "Call", Handler: toolsCallHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "toolgate/v1/tools.proto",
}

func toolsListHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ToolsServer).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ToolsServiceName + "/List"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ToolsServer).List(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func toolsCallHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ToolsServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ToolsServiceName + "/Call"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ToolsServer).Call(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// toolsService implements ToolsServer over the shared Dispatcher.
type toolsService struct {
	dispatcher *tools.Dispatcher
	logger     *slog.Logger
}

// registerGRPCServices registers health and Tools on server and returns the
// health server so shutdown can flip it to NOT_SERVING.
func registerGRPCServices(server *grpc.Server, dispatcher *tools.Dispatcher, logger *slog.Logger) *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ToolsServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	server.RegisterService(&ToolsServiceDesc, &toolsService{dispatcher: dispatcher, logger: logger})
	return hs
}

// List returns the catalog in registration order.
func (s *toolsService) List(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	fns := s.dispatcher.Registry().List()
	entries := make([]any, 0, len(fns))
	for _, fn := range fns {
		desc := fn.Descriptor()
		entry := map[string]any{
			"name":         desc.Name,
			"title":        desc.Title,
			"description":  desc.Description,
			"source":       desc.Source,
			"input_schema": fn.InputSchema(),
		}
		if out := fn.OutputSchema(); out != nil {
			entry["output_schema"] = out
		}
		entries = append(entries, entry)
	}

	out, err := toStruct(map[string]any{"tools": entries})
	if err != nil {
		s.logger.Error("failed to encode tool list", "error", err)
		return nil, status.Error(codes.Internal, "encoding tool list")
	}
	return out, nil
}

// Call dispatches one tool invocation.
func (s *toolsService) Call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	name := fields["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}

	inv := tools.Invocation{
		RequestID: fields["request_id"].GetStringValue(),
		Scope:     "grpc",
		Tool:      name,
		Source:    tools.SourceGRPC,
	}
	if raw := fields["budget"].GetStringValue(); raw != "" {
		budget, err := time.ParseDuration(raw)
		if err != nil || budget <= 0 {
			return nil, status.Errorf(codes.InvalidArgument, "invalid budget %q", raw)
		}
		inv.Budget = budget
	}
	if args := fields["arguments"].GetStructValue(); args != nil {
		raw, err := json.Marshal(args.AsMap())
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "arguments must be an object")
		}
		inv.Arguments = raw
	}

	res, err := s.dispatcher.Dispatch(ctx, inv)
	if err != nil {
		return nil, s.statusError(err)
	}

	result := map[string]any{
		"request_id":  res.RequestID,
		"tool":        res.Tool,
		"value":       res.Value,
		"duration_ms": float64(res.Duration.Microseconds()) / 1000,
	}
	if res.Structured != nil {
		result["structured"] = res.Structured
	}
	out, err := toStruct(result)
	if err != nil {
		s.logger.Error("failed to encode tool result", "tool", name, "error", err)
		return nil, status.Error(codes.Internal, "encoding tool result")
	}
	return out, nil
}

// grpcCode maps an error kind to a gRPC status code.
func grpcCode(kind tools.Kind) codes.Code {
	switch kind {
	case tools.KindUnknownTool:
		return codes.NotFound
	case tools.KindInvalidArguments:
		return codes.InvalidArgument
	case tools.KindTimeout:
		return codes.DeadlineExceeded
	case tools.KindCancelled:
		return codes.Canceled
	case tools.KindDuplicateRequest:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

// statusError converts a dispatch error to a status carrying an ErrorInfo
// detail whose reason is the error kind.
func (s *toolsService) statusError(err error) error {
	info := tools.Describe(err)
	if info.Kind == tools.KindHandlerError {
		s.logger.Error("gRPC tool call failed", "error", err)
	}

	st := status.New(grpcCode(info.Kind), info.Message)
	detail := &errdetails.ErrorInfo{Reason: string(info.Kind), Domain: errorDomain}
	if info.Detail != nil {
		if b, merr := json.Marshal(info.Detail); merr == nil {
			detail.Metadata = map[string]string{"detail": string(b)}
		}
	}
	if withDetail, derr := st.WithDetails(detail); derr == nil {
		st = withDetail
	}
	return st.Err()
}

// toStruct converts v to a Struct by round-tripping through JSON, so schemas
// and handler results of any Go type become plain JSON values.
func toStruct(v map[string]any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling: %w", err)
	}
	return structpb.NewStruct(m)
}
