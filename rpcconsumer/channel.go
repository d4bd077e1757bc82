// Package rpcconsumer implements meshline's RPC client side: it resolves a
// "Service.Method" name via the registry, picks a backend address with a
// loadbalance.Balancer, and performs a single dial-per-call round trip
// through the protocol frame format. A circuitbreaker.Breaker gates calls to
// failing backends and a monitor.Monitor records per-method latency, mirroring
// what rpcprovider records on the server side.
package rpcconsumer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/mpchat/meshline/circuitbreaker"
	"github.com/mpchat/meshline/codec"
	"github.com/mpchat/meshline/loadbalance"
	"github.com/mpchat/meshline/message"
	"github.com/mpchat/meshline/middleware"
	"github.com/mpchat/meshline/monitor"
	"github.com/mpchat/meshline/protocol"
	"github.com/mpchat/meshline/registry"
	"go.uber.org/zap"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultCallTimeout  = 5 * time.Second
	maxResponseBodySize = 1 << 20
)

// Channel is a lightweight, dial-per-call client to a service discovered
// through reg. A Channel is safe for concurrent use.
type Channel struct {
	reg       registry.Registry
	log       *zap.Logger
	mon       *monitor.Monitor
	codecType codec.CodecType

	dialTimeout time.Duration
	callTimeout time.Duration

	retry middleware.Middleware

	newBalancer func() loadbalance.Balancer

	mu        sync.Mutex
	balancers map[string]loadbalance.Balancer // keyed by service name
	breakers  map[string]*circuitbreaker.Breaker
}

// Option configures a Channel.
type Option func(*Channel)

func WithMonitor(m *monitor.Monitor) Option { return func(c *Channel) { c.mon = m } }
func WithCodec(t codec.CodecType) Option    { return func(c *Channel) { c.codecType = t } }
func WithDialTimeout(d time.Duration) Option {
	return func(c *Channel) { c.dialTimeout = d }
}
func WithCallTimeout(d time.Duration) Option {
	return func(c *Channel) { c.callTimeout = d }
}

// WithBalancer selects the load-balancing strategy: newBalancer is called
// once per discovered service, so each service gets its own independent
// node set. The default is loadbalance.NewConsistentHashBalancer; pass
// loadbalance.NewRoundRobinBalancer for modulo user-id spreading instead
// of ring affinity.
func WithBalancer(newBalancer func() loadbalance.Balancer) Option {
	return func(c *Channel) { c.newBalancer = newBalancer }
}

// WithRetry retries a failed dial/timeout up to maxRetries times with
// exponential backoff starting at baseDelay, using middleware.RetryMiddleware.
// Off by default: a caller with its own retry policy (or one that wants
// failures surfaced immediately to the circuit breaker) shouldn't pay for it.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Channel) { c.retry = middleware.RetryMiddleware(c.log, maxRetries, baseDelay) }
}

// NewChannel creates a Channel that discovers backends through reg.
func NewChannel(reg registry.Registry, log *zap.Logger, opts ...Option) *Channel {
	c := &Channel{
		reg:         reg,
		log:         log,
		codecType:   codec.CodecTypeJSON,
		dialTimeout: defaultDialTimeout,
		callTimeout: defaultCallTimeout,
		newBalancer: func() loadbalance.Balancer { return loadbalance.NewConsistentHashBalancer() },
		balancers:   make(map[string]loadbalance.Balancer),
		breakers:    make(map[string]*circuitbreaker.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallMethod invokes "Service.Method" with args, unmarshaling the reply into
// reply. userID selects session affinity on load balancers that honor it
// (ConsistentHash, RoundRobin); pass 0 if the caller has no natural id.
func (c *Channel) CallMethod(serviceMethod string, userID int32, args, reply any) error {
	serviceName, methodName, err := splitServiceMethod(serviceMethod)
	if err != nil {
		return err
	}

	breaker := c.breakerFor(serviceName)
	if !breaker.CanPass() {
		return fmt.Errorf("rpcconsumer: circuit open for %s", serviceName)
	}

	argBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("rpcconsumer: marshal args: %w", err)
	}

	// Retry must wrap TimeOut, not the reverse: each attempt needs its own
	// fresh callTimeout budget, and Retry decides whether to re-invoke based
	// on TimeOutMiddleware's own "request timed out" error, which it would
	// never see if TimeOut sat outside it.
	chain := []middleware.Middleware{middleware.LoggingMiddleware(c.log)}
	if c.retry != nil {
		chain = append(chain, c.retry)
	}
	chain = append(chain, middleware.TimeOutMiddleware(c.callTimeout))
	handler := middleware.Chain(chain...)(c.networkCall(serviceName, methodName, userID, argBytes))

	start := time.Now()
	resp := handler(context.Background(), &message.RPCMessage{ServiceMethod: serviceMethod, Payload: argBytes})
	elapsed := time.Since(start).Milliseconds()

	if c.mon != nil {
		c.mon.Record(serviceMethod, resp.Error == "", elapsed)
	}
	if resp.Error != "" {
		breaker.OnFailure()
		if c.mon != nil {
			c.mon.RecordError(serviceMethod, "call_failed")
		}
		return fmt.Errorf("rpcconsumer: %s", resp.Error)
	}
	breaker.OnSuccess()

	if reply == nil {
		return nil
	}
	return json.Unmarshal(resp.Payload, reply)
}

// networkCall returns the innermost HandlerFunc that performs the actual
// discover -> select -> dial -> encode -> decode round trip. argBytes is
// captured by closure rather than read off req.Payload so the args only
// need marshaling once, before the middleware chain runs.
func (c *Channel) networkCall(serviceName, methodName string, userID int32, argBytes []byte) middleware.HandlerFunc {
	return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		addr, err := c.pickAddr(serviceName, userID)
		if err != nil {
			return &message.RPCMessage{Error: err.Error()}
		}

		dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return &message.RPCMessage{Error: fmt.Sprintf("dial %s: %v", addr, err)}
		}
		defer conn.Close()

		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
		} else {
			conn.SetDeadline(time.Now().Add(c.callTimeout))
		}

		if err := protocol.Encode(conn, serviceName, methodName, argBytes); err != nil {
			return &message.RPCMessage{Error: fmt.Sprintf("encode request: %v", err)}
		}

		_, _, body, err := protocol.Decode(conn)
		if err != nil {
			return &message.RPCMessage{Error: fmt.Sprintf("decode response: %v", err)}
		}
		if len(body) > maxResponseBodySize {
			return &message.RPCMessage{Error: "response exceeds maximum allowed size"}
		}

		var rpcMsg message.RPCMessage
		if err := codec.GetCodec(c.codecType).Decode(body, &rpcMsg); err != nil {
			return &message.RPCMessage{Error: fmt.Sprintf("decode envelope: %v", err)}
		}
		return &rpcMsg
	}
}

func (c *Channel) pickAddr(serviceName string, userID int32) (string, error) {
	instances, err := c.reg.Discover(serviceName)
	if err != nil {
		return "", fmt.Errorf("rpcconsumer: discover %s: %w", serviceName, err)
	}
	if len(instances) == 0 {
		return "", fmt.Errorf("rpcconsumer: no instances for %s", serviceName)
	}

	b := c.balancerFor(serviceName)
	known := make(map[string]bool, len(instances))
	for _, inst := range instances {
		known[inst.Addr] = true
		b.AddNode(inst.Addr)
	}
	for _, addr := range b.GetNodes() {
		if !known[addr] {
			b.RemoveNode(addr)
		}
	}

	addr := b.SelectNode(userID)
	if addr == "" {
		return "", fmt.Errorf("rpcconsumer: balancer returned no node for %s", serviceName)
	}
	return addr, nil
}

func (c *Channel) balancerFor(serviceName string) loadbalance.Balancer {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.balancers[serviceName]
	if !ok {
		b = c.newBalancer()
		c.balancers[serviceName] = b
	}
	return b
}

func (c *Channel) breakerFor(serviceName string) *circuitbreaker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[serviceName]
	if !ok {
		b = circuitbreaker.New(circuitbreaker.Config{})
		c.breakers[serviceName] = b
	}
	return b
}

func splitServiceMethod(serviceMethod string) (service, method string, err error) {
	i := strings.LastIndex(serviceMethod, ".")
	if i < 0 {
		return "", "", fmt.Errorf("rpcconsumer: malformed service method %q", serviceMethod)
	}
	return serviceMethod[:i], serviceMethod[i+1:], nil
}
