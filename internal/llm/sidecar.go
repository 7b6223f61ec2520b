package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	generatorService = "anton.generation.v1.Generator"
	generateMethod   = "/" + generatorService + "/Generate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// SidecarConfig holds configuration for the sidecar client.
type SidecarConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultSidecarConfig returns default configuration.
func DefaultSidecarConfig(addr string) SidecarConfig {
	return SidecarConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Sidecar calls a model server over gRPC. Requests and responses are
// structpb.Struct messages: {prompt, max_tokens} -> {text}.
type Sidecar struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewSidecar dials the model server and waits until the connection is ready.
func NewSidecar(cfg SidecarConfig, logger *slog.Logger) (*Sidecar, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for model server at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("model server at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to model server", "address", cfg.Address)
	return &Sidecar{conn: conn, addr: cfg.Address, logger: logger}, nil
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

// Name implements Generator.
func (s *Sidecar) Name() string { return "grpc" }

// Generate implements Generator.
func (s *Sidecar) Generate(ctx context.Context, req Request) (string, error) {
	in, err := structpb.NewStruct(map[string]any{
		"prompt":     req.Prompt,
		"max_tokens": req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	out := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, generateMethod, in, out); err != nil {
		switch status.Code(err) {
		case codes.Unauthenticated, codes.PermissionDenied:
			return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		case codes.DeadlineExceeded:
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		default:
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	text, ok := out.GetFields()["text"]
	if !ok {
		return "", fmt.Errorf("%w: response missing text", ErrUnavailable)
	}
	return text.GetStringValue(), nil
}

// Close closes the gRPC connection.
func (s *Sidecar) Close() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// RegisterGeneratorServer exposes gen on srv under the same method the
// Sidecar client calls, so any backend can be served to other processes.
func RegisterGeneratorServer(srv *grpc.Server, gen Generator) {
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: generatorService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Generate",
			Handler:    generateHandler,
		}},
		Metadata: "anton/generation/v1/generator.proto",
	}, gen)
}

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return serveGenerate(ctx, srv.(Generator), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: generateMethod}
	return interceptor(ctx, in, info, call)
}

func serveGenerate(ctx context.Context, gen Generator, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	prompt := fields["prompt"].GetStringValue()
	if prompt == "" {
		return nil, status.Error(codes.InvalidArgument, "prompt is required")
	}
	maxTokens := int(fields["max_tokens"].GetNumberValue())

	text, err := gen.Generate(ctx, Request{Prompt: prompt, MaxTokens: maxTokens})
	if err != nil {
		switch Classify(err) {
		case OutcomeMissingCredential, OutcomeUnauthenticated:
			return nil, status.Error(codes.Unauthenticated, err.Error())
		case OutcomeTimeout:
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		default:
			return nil, status.Error(codes.Unavailable, err.Error())
		}
	}
	return structpb.NewStruct(map[string]any{"text": text})
}
