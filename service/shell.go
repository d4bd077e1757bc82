// Package service provides the bootstrap shell meshline's backend binaries
// (userservice, relationservice, messageservice) run through: a fixed init
// order followed by serve-until-cancelled.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mpchat/meshline/circuitbreaker"
	"github.com/mpchat/meshline/monitor"
	"github.com/mpchat/meshline/rpcprovider"
	"go.uber.org/zap"
)

// Lifecycle is the set of init hooks a Shell runs, in order, before
// serving. InitRPC is mandatory; the rest default to a no-op or a sane
// construction, so a binary only writes the hooks it actually needs.
type Lifecycle struct {
	// InitRPC registers every service this binary exposes with provider.
	// Mandatory: NewShell fails if nil.
	InitRPC func(provider *rpcprovider.Provider) error

	// InitDatabasePool optionally opens a connection pool this binary's
	// handlers will use, stashing it wherever the caller's closure
	// captures it. Defaults to a no-op: nothing in the store/memstore
	// code path needs one.
	InitDatabasePool func(ctx context.Context) error

	// InitPubSub optionally connects a pubsub.Bridge. Defaults to a no-op.
	InitPubSub func(ctx context.Context) error

	// InitMonitor defaults to constructing a monitor.Monitor named after
	// the service.
	InitMonitor func(serviceName string) *monitor.Monitor

	// InitBreaker defaults to constructing a circuitbreaker.Breaker with
	// the package's default thresholds.
	InitBreaker func() *circuitbreaker.Breaker
}

// Shell owns one rpcprovider.Provider and runs a Lifecycle's hooks around
// its Start/Stop pair.
type Shell struct {
	ServiceName   string
	Network       string
	ListenAddr    string
	AdvertiseAddr string
	Provider      *rpcprovider.Provider
	Log           *zap.Logger

	Monitor *monitor.Monitor
	Breaker *circuitbreaker.Breaker
}

// NewShell wires defaults into any nil Lifecycle hooks and returns a Shell
// ready for Start.
func NewShell(serviceName, network, listenAddr, advertiseAddr string, provider *rpcprovider.Provider, log *zap.Logger, lc Lifecycle) (*Shell, error) {
	if lc.InitRPC == nil {
		return nil, fmt.Errorf("service: Lifecycle.InitRPC is required")
	}
	if lc.InitMonitor == nil {
		lc.InitMonitor = monitor.New
	}
	if lc.InitBreaker == nil {
		lc.InitBreaker = func() *circuitbreaker.Breaker { return circuitbreaker.New(circuitbreaker.Config{}) }
	}

	s := &Shell{
		ServiceName:   serviceName,
		Network:       network,
		ListenAddr:    listenAddr,
		AdvertiseAddr: advertiseAddr,
		Provider:      provider,
		Log:           log,
		Monitor:       lc.InitMonitor(serviceName),
		Breaker:       lc.InitBreaker(),
	}

	if err := lc.InitRPC(provider); err != nil {
		return nil, fmt.Errorf("service: InitRPC: %w", err)
	}
	if lc.InitDatabasePool != nil {
		if err := lc.InitDatabasePool(context.Background()); err != nil {
			return nil, fmt.Errorf("service: InitDatabasePool: %w", err)
		}
	}
	if lc.InitPubSub != nil {
		if err := lc.InitPubSub(context.Background()); err != nil {
			return nil, fmt.Errorf("service: InitPubSub: %w", err)
		}
	}

	log.Info("service: shell initialized", zap.String("service", serviceName), zap.String("advertise_addr", advertiseAddr))
	return s, nil
}

// Start runs the provider's accept loop until ctx is cancelled, then stops
// it gracefully with a fixed drain timeout.
func (s *Shell) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.Provider.Start(s.Network, s.ListenAddr, s.AdvertiseAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop deregisters and drains in-flight connections with a 10s timeout.
func (s *Shell) Stop() error {
	s.Log.Info("service: shutting down", zap.String("service", s.ServiceName))
	return s.Provider.Stop(10 * time.Second)
}
