package service

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mpchat/meshline/registry"
	"github.com/mpchat/meshline/rpcprovider"
	"go.uber.org/zap"
)

type pingService struct{}

type pingArgs struct{ Text string }
type pingReply struct{ Text string }

func (p *pingService) Ping(args *pingArgs, reply *pingReply) error {
	reply.Text = args.Text
	return nil
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pickFreeAddr: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestNewShellRequiresInitRPC(t *testing.T) {
	reg := registry.NewMockRegistry()
	provider := rpcprovider.NewProvider(reg, zap.NewNop())
	_, err := NewShell("PingService", "tcp", ":0", ":0", provider, zap.NewNop(), Lifecycle{})
	if err == nil {
		t.Fatal("expected error when InitRPC is nil")
	}
}

func TestShellStartStopsOnContextCancel(t *testing.T) {
	reg := registry.NewMockRegistry()
	provider := rpcprovider.NewProvider(reg, zap.NewNop())
	addr := pickFreeAddr(t)

	shell, err := NewShell("PingService", "tcp", addr, addr, provider, zap.NewNop(), Lifecycle{
		InitRPC: func(p *rpcprovider.Provider) error { return p.NotifyService(&pingService{}) },
	})
	if err != nil {
		t.Fatalf("NewShell: %v", err)
	}
	if shell.Monitor == nil || shell.Breaker == nil {
		t.Fatal("expected default Monitor and Breaker to be constructed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- shell.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
