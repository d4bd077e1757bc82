// Command messageservice runs meshline's offline mailbox service: messages
// addressed to a user while they were offline wait here until next login.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/mpchat/meshline/cmdutil"
	"github.com/mpchat/meshline/config"
	"github.com/mpchat/meshline/messageservice"
	"github.com/mpchat/meshline/rpcprovider"
	"github.com/mpchat/meshline/service"
	"github.com/mpchat/meshline/store/memstore"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logDir     string
)

var rootCmd = &cobra.Command{
	Use:   "messageservice [serverIP] [serverPort]",
	Short: "Serves MessageService over meshline's RPC protocol",
	Args:  cobra.MaximumNArgs(2),
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "i", "mprpc.conf", "path to the rpc config file")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "logs", "directory for the async file log")
}

func run(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("messageservice: log dir: %w", err)
	}
	log, closeLog, err := cmdutil.NewLogger("messageservice", logDir)
	if err != nil {
		return fmt.Errorf("messageservice: logger: %w", err)
	}
	defer closeLog()

	cfg, err := config.LoadRPCConfig(configPath)
	if err != nil {
		return fmt.Errorf("messageservice: load config: %w", err)
	}
	if len(args) > 0 {
		cfg.ServerIP = args[0]
	}
	if len(args) > 1 {
		cfg.ServerPort = args[1]
	}

	reg, err := cmdutil.ConnectRegistry(cfg.RegistryEndpoints)
	if err != nil {
		return fmt.Errorf("messageservice: registry: %w", err)
	}
	defer reg.Close()

	listenAddr := net.JoinHostPort(cfg.ServerIP, cfg.ServerPort)
	provider := rpcprovider.NewProvider(reg, log, rpcprovider.WithRateLimit(200, 100))

	shell, err := service.NewShell("MessageService", "tcp", listenAddr, listenAddr, provider, log, service.Lifecycle{
		InitRPC: func(p *rpcprovider.Provider) error {
			return p.NotifyService(messageservice.New(memstore.NewOfflineMailboxStore()))
		},
	})
	if err != nil {
		return fmt.Errorf("messageservice: new shell: %w", err)
	}

	ctx, stop := cmdutil.SignalContext()
	defer stop()
	return shell.Start(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
