package rpcconsumer

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/mpchat/meshline/loadbalance"
	"github.com/mpchat/meshline/registry"
	"github.com/mpchat/meshline/rpcprovider"
	"go.uber.org/zap"
)

// pickFreeAddr finds an ephemeral port by briefly binding to it. There is a
// small race between closing this listener and Provider.Start rebinding the
// same address, acceptable for this test's purposes.
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

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for listener on %s", addr)
}

type echoArgs struct {
	Text string
}

type echoReply struct {
	Text string
}

type EchoService struct{}

func (s *EchoService) Echo(args *echoArgs, reply *echoReply) error {
	reply.Text = "echo:" + args.Text
	return nil
}

func (s *EchoService) Fail(args *echoArgs, reply *echoReply) error {
	return fmt.Errorf("always fails")
}

func startTestProvider(t *testing.T, reg registry.Registry) string {
	t.Helper()
	log := zap.NewNop()
	p := rpcprovider.NewProvider(reg, log)
	if err := p.NotifyService(&EchoService{}); err != nil {
		t.Fatalf("NotifyService: %v", err)
	}

	addr := pickFreeAddr(t)
	go func() {
		if err := p.Start("tcp", addr, addr); err != nil {
			t.Logf("provider stopped: %v", err)
		}
	}()
	waitForListener(t, addr)
	t.Cleanup(func() { p.Stop(time.Second) })
	return addr
}

func TestChannelCallMethodRoundTrip(t *testing.T) {
	reg := registry.NewMockRegistry()
	addr := startTestProvider(t, reg)
	reg.Register("EchoService", registry.ServiceInstance{Addr: addr}, 10)

	ch := NewChannel(reg, zap.NewNop())
	var reply echoReply
	if err := ch.CallMethod("EchoService.Echo", 7, &echoArgs{Text: "hi"}, &reply); err != nil {
		t.Fatalf("CallMethod: %v", err)
	}
	if reply.Text != "echo:hi" {
		t.Fatalf("reply.Text = %q, want %q", reply.Text, "echo:hi")
	}
}

func TestChannelCallMethodPropagatesHandlerError(t *testing.T) {
	reg := registry.NewMockRegistry()
	addr := startTestProvider(t, reg)
	reg.Register("EchoService", registry.ServiceInstance{Addr: addr}, 10)

	ch := NewChannel(reg, zap.NewNop())
	var reply echoReply
	if err := ch.CallMethod("EchoService.Fail", 1, &echoArgs{}, &reply); err == nil {
		t.Fatal("expected error from failing handler")
	}
}

func TestChannelCallMethodNoInstances(t *testing.T) {
	reg := registry.NewMockRegistry()
	ch := NewChannel(reg, zap.NewNop())
	var reply echoReply
	if err := ch.CallMethod("MissingService.Echo", 1, &echoArgs{}, &reply); err == nil {
		t.Fatal("expected error when no instances are registered")
	}
}

// TestChannelWithRetryEventuallyGivesUp dials a service registered under an
// address nothing listens on, so every attempt fails with "connection
// refused" — a retryable error per middleware.RetryMiddleware. It should
// retry maxRetries times and still return an error, bounded well under the
// test timeout rather than hanging.
func TestChannelWithRetryEventuallyGivesUp(t *testing.T) {
	reg := registry.NewMockRegistry()
	deadAddr := pickFreeAddr(t)
	reg.Register("EchoService", registry.ServiceInstance{Addr: deadAddr}, 10)

	ch := NewChannel(reg, zap.NewNop(), WithRetry(2, 5*time.Millisecond))
	var reply echoReply

	done := make(chan error, 1)
	go func() {
		done <- ch.CallMethod("EchoService.Echo", 1, &echoArgs{Text: "hi"}, &reply)
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error calling a dead address")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("CallMethod with retry did not return within 5s")
	}
}

// TestWithBalancerSelectsStrategy pins that WithBalancer controls the
// per-service balancer the channel constructs, and that the default stays
// consistent hash when the option is absent.
func TestWithBalancerSelectsStrategy(t *testing.T) {
	reg := registry.NewMockRegistry()

	ch := NewChannel(reg, zap.NewNop(),
		WithBalancer(func() loadbalance.Balancer { return loadbalance.NewRoundRobinBalancer() }))
	got := ch.balancerFor("UserService")
	if _, ok := got.(*loadbalance.RoundRobinBalancer); !ok {
		t.Fatalf("balancerFor = %T, want *loadbalance.RoundRobinBalancer", got)
	}

	def := NewChannel(reg, zap.NewNop()).balancerFor("UserService")
	if _, ok := def.(*loadbalance.ConsistentHashBalancer); !ok {
		t.Fatalf("default balancerFor = %T, want *loadbalance.ConsistentHashBalancer", def)
	}
}

func TestSplitServiceMethod(t *testing.T) {
	svc, method, err := splitServiceMethod("UserService.Login")
	if err != nil || svc != "UserService" || method != "Login" {
		t.Fatalf("got (%q, %q, %v), want (UserService, Login, nil)", svc, method, err)
	}
	if _, _, err := splitServiceMethod("malformed"); err == nil {
		t.Fatal("expected error for a service method with no dot")
	}
}
