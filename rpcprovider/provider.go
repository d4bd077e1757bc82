// Package rpcprovider implements meshline's RPC server side: it exposes
// registered Go services over the protocol frame format, registers each
// method with the registry as a persistent service node plus an ephemeral
// method node, and dispatches incoming calls through a bounded worker pool
// rather than one goroutine per request.
package rpcprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/mpchat/meshline/codec"
	"github.com/mpchat/meshline/message"
	"github.com/mpchat/meshline/middleware"
	"github.com/mpchat/meshline/monitor"
	"github.com/mpchat/meshline/protocol"
	"github.com/mpchat/meshline/registry"
	"go.uber.org/zap"
)

// Errors returned (and logged, never panicked) when a frame can't be served.
var (
	ErrUnknownService = errors.New("rpcprovider: unknown service")
	ErrUnknownMethod  = errors.New("rpcprovider: unknown method")
)

const defaultWorkers = 4

// job is one decoded frame waiting to be dispatched by a worker.
type job struct {
	service string
	method  string
	args    []byte
	conn    net.Conn
	writeMu *sync.Mutex
}

// Provider serves registered Go services over the network, registering
// each with reg so rpcconsumer.Channel can discover it.
type Provider struct {
	reg       registry.Registry
	log       *zap.Logger
	mon       *monitor.Monitor
	codecType codec.CodecType
	workers   int

	services map[string]*service
	jobs     chan job
	limiter  middleware.Middleware

	listener      net.Listener
	advertiseAddr string
	wg            sync.WaitGroup
	shutdown      bool
	shutdownMu    sync.Mutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithWorkers overrides the number of dispatch goroutines (default 4).
func WithWorkers(n int) Option {
	return func(p *Provider) { p.workers = n }
}

// WithCodec selects the codec used to serialize responses on the wire.
func WithCodec(t codec.CodecType) Option {
	return func(p *Provider) { p.codecType = t }
}

// WithMonitor attaches a monitor.Monitor that records request counts and
// latency per method.
func WithMonitor(m *monitor.Monitor) Option {
	return func(p *Provider) { p.mon = m }
}

// WithRateLimit rejects calls past r requests/sec (burst allowance burst)
// across every service this provider hosts, using the same token-bucket
// middleware.RateLimitMiddleware the gateway uses for per-connection login
// throttling.
func WithRateLimit(r float64, burst int) Option {
	return func(p *Provider) { p.limiter = middleware.RateLimitMiddleware(r, burst) }
}

// NewProvider creates a provider that registers services with reg.
func NewProvider(reg registry.Registry, log *zap.Logger, opts ...Option) *Provider {
	p := &Provider{
		reg:       reg,
		log:       log,
		codecType: codec.CodecTypeJSON,
		workers:   defaultWorkers,
		services:  make(map[string]*service),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.jobs = make(chan job, p.workers*4)
	return p
}

// NotifyService registers rcvr's exported RPC-shaped methods under its
// struct name, e.g. &UserService{} is reachable as "UserService.Login".
func (p *Provider) NotifyService(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	p.services[svc.name] = svc
	return nil
}

// Start binds listenAddr, starts the worker pool, registers every known
// service's methods under advertiseAddr, and runs the accept loop until
// Stop is called.
func (p *Provider) Start(network, listenAddr, advertiseAddr string) error {
	listener, err := net.Listen(network, listenAddr)
	if err != nil {
		return err
	}
	p.listener = listener
	p.advertiseAddr = advertiseAddr

	for i := 0; i < p.workers; i++ {
		go p.worker()
	}

	for serviceName, svc := range p.services {
		if err := p.reg.Register(serviceName, registry.ServiceInstance{Addr: advertiseAddr}, 10); err != nil {
			return fmt.Errorf("rpcprovider: register service %s: %w", serviceName, err)
		}
		for methodName := range svc.method {
			path := serviceName + "/" + methodName
			if err := p.reg.Register(path, registry.ServiceInstance{Addr: advertiseAddr}, 10); err != nil {
				return fmt.Errorf("rpcprovider: register method %s: %w", path, err)
			}
		}
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			p.shutdownMu.Lock()
			stopped := p.shutdown
			p.shutdownMu.Unlock()
			if stopped {
				return nil
			}
			return err
		}
		p.wg.Add(1)
		go p.handleConn(conn)
	}
}

// Stop deregisters every service, stops accepting new connections, and
// waits up to timeout for in-flight connections to finish.
func (p *Provider) Stop(timeout time.Duration) error {
	for serviceName, svc := range p.services {
		p.reg.Deregister(serviceName, p.advertiseAddr)
		for methodName := range svc.method {
			p.reg.Deregister(serviceName+"/"+methodName, p.advertiseAddr)
		}
	}

	p.shutdownMu.Lock()
	p.shutdown = true
	p.shutdownMu.Unlock()
	p.listener.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(p.jobs) // safe only once every handleConn producer has exited
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("rpcprovider: timeout waiting for in-flight connections")
	}
}

func (p *Provider) handleConn(conn net.Conn) {
	defer p.wg.Done()
	defer conn.Close()
	writeMu := &sync.Mutex{}
	for {
		service, method, args, err := protocol.Decode(conn)
		if err != nil {
			return
		}
		p.jobs <- job{service: service, method: method, args: args, conn: conn, writeMu: writeMu}
	}
}

func (p *Provider) worker() {
	for j := range p.jobs {
		p.dispatch(j)
	}
}

// dispatch runs j through the middleware chain and invoke. Unknown
// service/method, argument parse failures, and reply serialize failures are
// protocol violations, not business errors: the connection is closed with
// no response written rather than told anything at all.
func (p *Provider) dispatch(j job) {
	start := time.Now()
	var fatal bool

	handler := middleware.HandlerFunc(func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		rpcMsg, isFatal := p.invoke(j.service, j.method, req.Payload)
		fatal = isFatal
		return rpcMsg
	})
	if p.limiter != nil {
		handler = p.limiter(handler)
	}
	rpcMsg := handler(context.Background(), &message.RPCMessage{ServiceMethod: j.service + "." + j.method, Payload: j.args})

	if fatal {
		j.conn.Close()
		return
	}

	if p.mon != nil {
		p.mon.Record(j.service+"."+j.method, rpcMsg.Error == "", time.Since(start).Milliseconds())
	}

	c := codec.GetCodec(p.codecType)
	body, err := c.Encode(rpcMsg)
	if err != nil {
		p.log.Error("rpcprovider: encode response", zap.Error(err))
		return
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	if err := protocol.Encode(j.conn, j.service, j.method, body); err != nil {
		p.log.Error("rpcprovider: write response", zap.Error(err))
	}
}

// invoke looks up the service/method and calls it via reflection, returning
// an RPCMessage describing the serialized reply (possibly carrying a
// business-level Error from the method itself). The second return value
// reports a fatal protocol violation — unknown service, unknown method, bad
// argument encoding, or a reply that can't be serialized — in which case the
// RPCMessage is nil and the caller must close the connection without
// writing anything back.
func (p *Provider) invoke(serviceName, methodName string, args []byte) (*message.RPCMessage, bool) {
	svc, ok := p.services[serviceName]
	if !ok {
		p.log.Error("unknown service, closing connection", zap.String("service", serviceName))
		return nil, true
	}
	mType, ok := svc.method[methodName]
	if !ok {
		p.log.Error("unknown method, closing connection", zap.String("service", serviceName), zap.String("method", methodName))
		return nil, true
	}

	argv := reflect.New(mType.ArgType)
	replyv := reflect.New(mType.ReplyType)

	if len(args) > 0 {
		if err := json.Unmarshal(args, argv.Interface()); err != nil {
			p.log.Error("rpcprovider: parse args, closing connection", zap.String("service", serviceName), zap.String("method", methodName), zap.Error(err))
			return nil, true
		}
	}

	callErr := svc.call(mType, argv, replyv)

	replyBytes, err := json.Marshal(replyv.Interface())
	if err != nil {
		p.log.Error("rpcprovider: serialize reply, closing connection", zap.String("service", serviceName), zap.String("method", methodName), zap.Error(err))
		return nil, true
	}

	rpcMsg := &message.RPCMessage{
		ServiceMethod: serviceName + "." + methodName,
		Payload:       replyBytes,
	}
	if callErr != nil {
		rpcMsg.Error = callErr.Error()
	}
	return rpcMsg, false
}
