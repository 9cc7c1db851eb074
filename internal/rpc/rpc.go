// Package rpc serves policy sampling over gRPC. Requests and responses
// are google.protobuf.Struct messages carrying the same fields as the
// HTTP API, so no generated stubs are needed.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vbprojects/finagg/internal/batch"
	"github.com/vbprojects/finagg/internal/dist"
	"github.com/vbprojects/finagg/internal/events"
	"github.com/vbprojects/finagg/internal/metrics"
	"github.com/vbprojects/finagg/internal/model"
	"github.com/vbprojects/finagg/internal/policy"
	"github.com/vbprojects/finagg/internal/tensor"
)

// Service and method names.
const (
	ServiceName  = "finagg.policy.v1.PolicyService"
	SampleMethod = "/" + ServiceName + "/Sample"
)

// PolicyServer is the server API for the policy service.
type PolicyServer interface {
	Sample(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func sampleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PolicyServer).Sample(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SampleMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PolicyServer).Sample(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the policy service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PolicyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sample", Handler: sampleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "finagg/policy/v1/policy.proto",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv PolicyServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Service implements PolicyServer over a sampler. Calls are serialised.
type Service struct {
	sampler   policy.Sampler
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    zerolog.Logger
}

// NewService wraps sampler. A nil publisher or collector disables that
// output.
func NewService(sampler policy.Sampler, publisher events.Publisher, m *metrics.Collector, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		sampler:   policy.NewLocked(sampler),
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Sample decodes a policy.Request from in and returns the sampled fields.
func (s *Service) Sample(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	var req policy.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	start := time.Now()
	out, rows, err := policy.SampleRequest(s.sampler, req)
	event := events.SampleEvent{
		RequestID:     requestID(ctx),
		Transport:     "grpc",
		Kind:          req.Kind,
		Rows:          rows,
		Deterministic: req.Deterministic,
	}
	if err != nil {
		event.LastError = err.Error()
	} else if s.metrics != nil {
		s.metrics.PolicySample("grpc", req.Kind, rows, time.Since(start))
	}
	if perr := s.publisher.PublishSample(ctx, event); perr != nil {
		s.logger.Error().Err(perr).Msg("Failed to publish sample event")
	}
	if err != nil {
		return nil, toStatus(err)
	}

	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return resp, nil
}

// requestID returns the caller's x-correlation-id, or a fresh one.
func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-correlation-id"); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.NewString()
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, policy.ErrBadRequest), errors.Is(err, model.ErrInvalidKind):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, batch.ErrShapeMismatch), errors.Is(err, tensor.ErrShapeMismatch),
		errors.Is(err, batch.ErrMissingField), errors.Is(err, dist.ErrNonFinite):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// LoggingInterceptor logs every unary call with its duration and code.
func LoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		event := logger.Info()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("elapsed", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}

// NewServer returns a gRPC server with svc registered and request
// logging installed.
func NewServer(svc PolicyServer, logger zerolog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.UnaryInterceptor(LoggingInterceptor(logger))}, opts...)
	s := grpc.NewServer(opts...)
	Register(s, svc)
	return s
}

// Client calls the policy service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Sample sends req and returns the sampled fields as nested slices.
func (c *Client) Sample(ctx context.Context, req policy.Request, opts ...grpc.CallOption) (map[string]any, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	in := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, in); err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, SampleMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
