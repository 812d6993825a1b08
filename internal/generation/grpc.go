package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the unary method served by a remote generation service.
// Requests and responses are google.protobuf.Struct values: the request
// carries prompt, model, max_tokens and temperature; the response carries text.
const GenerateMethod = "/pal.generation.v1.Generator/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds connection settings for the gRPC backend.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// GRPCBackend forwards prompts to a remote generation service.
type GRPCBackend struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGRPCBackend dials the service and waits until the connection is ready.
func NewGRPCBackend(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = 2 * time.Minute
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = 10 * time.Second
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generation service at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generation service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to generation service", "address", cfg.Address)
	return &GRPCBackend{conn: conn, addr: cfg.Address, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Name implements Backend.
func (b *GRPCBackend) Name() string { return "grpc" }

// Generate implements Backend.
func (b *GRPCBackend) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"prompt":      prompt,
		"model":       p.Model,
		"max_tokens":  p.MaxTokens,
		"temperature": p.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("grpc: build request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := b.conn.Invoke(ctx, GenerateMethod, req, resp); err != nil {
		return "", fmt.Errorf("grpc: generate: %w", err)
	}
	if msg := resp.GetFields()["error"].GetStringValue(); msg != "" {
		return "", fmt.Errorf("grpc: generate: %s", msg)
	}
	return resp.GetFields()["text"].GetStringValue(), nil
}

// Close closes the gRPC connection.
func (b *GRPCBackend) Close() {
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			b.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// GeneratorServer is implemented by a remote generation service.
type GeneratorServer interface {
	Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterGeneratorServer registers srv to serve GenerateMethod on s.
func RegisterGeneratorServer(s grpc.ServiceRegistrar, srv GeneratorServer) {
	s.RegisterService(&generatorServiceDesc, srv)
}

var generatorServiceDesc = grpc.ServiceDesc{
	ServiceName: "pal.generation.v1.Generator",
	HandlerType: (*GeneratorServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Generate",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return srv.(GeneratorServer).Generate(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GenerateMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return srv.(GeneratorServer).Generate(ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}},
	Streams: []grpc.StreamDesc{},
}

// BackendServer serves GenerateMethod on top of any local Backend.
type BackendServer struct {
	Backend Backend
}

// Generate implements GeneratorServer.
func (s BackendServer) Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	text, err := s.Backend.Generate(ctx, f["prompt"].GetStringValue(), Params{
		Model:       f["model"].GetStringValue(),
		MaxTokens:   int(f["max_tokens"].GetNumberValue()),
		Temperature: f["temperature"].GetNumberValue(),
	})
	if err != nil {
		return structpb.NewStruct(map[string]any{"error": err.Error()})
	}
	return structpb.NewStruct(map[string]any{"text": text})
}
