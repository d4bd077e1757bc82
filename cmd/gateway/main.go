// Command gateway runs meshline's client-facing edge: it accepts plain TCP
// connections (one per logged-in user), reads one newline-delimited JSON
// envelope per message, and dispatches through gateway.Gateway to the user/relation/
// message services over the RPC backplane.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mpchat/meshline/cmdutil"
	"github.com/mpchat/meshline/config"
	"github.com/mpchat/meshline/gateway"
	"github.com/mpchat/meshline/loadbalance"
	"github.com/mpchat/meshline/pubsub"
	"github.com/mpchat/meshline/rpcconsumer"
	"github.com/mpchat/meshline/userservice"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath   string
	redisAddr    string
	logDir       string
	balancerName string
)

var rootCmd = &cobra.Command{
	Use:   "gateway [serverIP] [serverPort]",
	Short: "Accepts client connections and routes chat traffic",
	Args:  cobra.MaximumNArgs(2),
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "i", "mprpc.conf", "path to the rpc config file")
	rootCmd.Flags().StringVar(&redisAddr, "redis", "", "redis address for cross-gateway pub/sub (empty uses an in-process bridge, single-instance only)")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "logs", "directory for the async file log")
	rootCmd.Flags().StringVar(&balancerName, "balancer", "consistent-hash", "backend selection strategy: consistent-hash or round-robin")
}

// newBalancer maps the --balancer flag to a strategy constructor for the
// RPC channel; consistent-hash keeps one user's calls on one backend
// instance, round-robin spreads users across instances by id modulo.
func newBalancer(name string) (func() loadbalance.Balancer, error) {
	switch name {
	case "consistent-hash":
		return func() loadbalance.Balancer { return loadbalance.NewConsistentHashBalancer() }, nil
	case "round-robin":
		return func() loadbalance.Balancer { return loadbalance.NewRoundRobinBalancer() }, nil
	default:
		return nil, fmt.Errorf("gateway: unknown balancer %q (want consistent-hash or round-robin)", name)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("gateway: log dir: %w", err)
	}
	log, closeLog, err := cmdutil.NewLogger("gateway", logDir)
	if err != nil {
		return fmt.Errorf("gateway: logger: %w", err)
	}
	defer closeLog()

	cfg, err := config.LoadRPCConfig(configPath)
	if err != nil {
		return fmt.Errorf("gateway: load config: %w", err)
	}
	if len(args) > 0 {
		cfg.ServerIP = args[0]
	}
	if len(args) > 1 {
		cfg.ServerPort = args[1]
	}

	reg, err := cmdutil.ConnectRegistry(cfg.RegistryEndpoints)
	if err != nil {
		return fmt.Errorf("gateway: registry: %w", err)
	}
	defer reg.Close()

	var bridge pubsub.Bridge
	if redisAddr != "" {
		rb, err := pubsub.NewRedisBridge(pubsub.Options{Addr: redisAddr})
		if err != nil {
			return fmt.Errorf("gateway: redis bridge: %w", err)
		}
		defer rb.Close()
		bridge = rb
	} else {
		bridge = pubsub.NewLocalBridge()
	}

	balancer, err := newBalancer(balancerName)
	if err != nil {
		return err
	}

	channel := rpcconsumer.NewChannel(reg, log,
		rpcconsumer.WithBalancer(balancer),
		rpcconsumer.WithRetry(2, 50*time.Millisecond))
	gw := gateway.NewGateway(channel, bridge, log)

	listenAddr := net.JoinHostPort(cfg.ServerIP, cfg.ServerPort)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", listenAddr, err)
	}
	log.Info("gateway: listening", zap.String("addr", listenAddr))

	ctx, stop := cmdutil.SignalContext()
	defer stop()

	go acceptLoop(ctx, listener, gw, log)

	<-ctx.Done()
	log.Info("gateway: shutting down")
	listener.Close()

	var reply userservice.OKReply
	if err := channel.CallMethod("UserService.ResetAllOffline", 0, &userservice.Empty{}, &reply); err != nil {
		log.Error("gateway: reset all users offline failed", zap.Error(err))
	}
	return nil
}

// acceptLoop serves client connections until ctx is done or listener closes.
func acceptLoop(ctx context.Context, listener net.Listener, gw *gateway.Gateway, log *zap.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Error("gateway: accept failed", zap.Error(err))
				return
			}
		}
		gw.OnAccept(conn)
		go serveConn(ctx, conn, gw)
	}
}

// serveConn reads newline-delimited JSON envelopes off conn until it
// errors or closes, dispatching each through gw. The client-facing socket
// deliberately does not use the RPC backplane's length-prefixed framing:
// the envelope protocol is a frozen contract with deployed chat clients.
func serveConn(ctx context.Context, conn net.Conn, gw *gateway.Gateway) {
	defer conn.Close()
	defer gw.OnDisconnect(conn)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		resp := gw.Dispatch(ctx, conn, []byte(line))
		if _, err := conn.Write(append(resp, '\n')); err != nil {
			return
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
