package agent

import (
	"context"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeGenerationService struct {
	reply   string
	failure string
}

func (f *fakeGenerationService) generate(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if f.failure != "" {
		return structpb.NewStruct(map[string]interface{}{"error": f.failure})
	}
	prompt := req.GetFields()["prompt"].GetStringValue()
	return structpb.NewStruct(map[string]interface{}{
		"content":     f.reply + " " + prompt,
		"tokens_used": 42,
	})
}

var fakeGenerationDesc = grpc.ServiceDesc{
	ServiceName: "techflow.agent.v1.GenerationService",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Generate",
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
			req := &structpb.Struct{}
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(*fakeGenerationService).generate(ctx, req)
		},
	}},
}

func startFakeGenerationServer(t *testing.T, svc *fakeGenerationService) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	srv := grpc.NewServer()
	srv.RegisterService(&fakeGenerationDesc, svc)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestGrpcClientGenerate(t *testing.T) {
	t.Parallel()
	addr := startFakeGenerationServer(t, &fakeGenerationService{reply: "remote:"})

	client, err := NewGrpcClient(addr, nil)
	if err != nil {
		t.Fatalf("NewGrpcClient failed: %v", err)
	}
	defer client.Close()

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}

	res, err := client.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Content != "remote: hello" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
	if res.TokensUsed != 42 {
		t.Fatalf("expected 42 tokens, got %d", res.TokensUsed)
	}
	if client.Name() != BackendGrpc {
		t.Fatalf("unexpected name %q", client.Name())
	}
}

func TestGrpcClientRemoteError(t *testing.T) {
	t.Parallel()
	addr := startFakeGenerationServer(t, &fakeGenerationService{failure: "quota exceeded"})

	client, err := NewGrpcClient(addr, nil)
	if err != nil {
		t.Fatalf("NewGrpcClient failed: %v", err)
	}
	defer client.Close()

	_, err = client.Generate(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestGrpcClientHonoursCancellation(t *testing.T) {
	t.Parallel()
	addr := startFakeGenerationServer(t, &fakeGenerationService{reply: "x"})

	client, err := NewGrpcClient(addr, nil)
	if err != nil {
		t.Fatalf("NewGrpcClient failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Generate(ctx, "hello"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
