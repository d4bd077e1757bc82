// Command userservice runs meshline's account-of-record service: login,
// registration, and online/offline state, backed by store.UserStore.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mpchat/meshline/cmdutil"
	"github.com/mpchat/meshline/config"
	"github.com/mpchat/meshline/pool"
	"github.com/mpchat/meshline/rpcprovider"
	"github.com/mpchat/meshline/service"
	"github.com/mpchat/meshline/store/memstore"
	"github.com/mpchat/meshline/userservice"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	withDB     bool
	logDir     string
)

var rootCmd = &cobra.Command{
	Use:   "userservice [serverIP] [serverPort]",
	Short: "Serves UserService over meshline's RPC protocol",
	Args:  cobra.MaximumNArgs(2),
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "i", "mprpc.conf", "path to the rpc config file")
	rootCmd.Flags().BoolVar(&withDB, "db", false, "open the postgres connection pool named in the config file")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "logs", "directory for the async file log")
}

// openDBPool opens a pool.Pool of database/sql connections against the
// postgres instance named in cfg, using pgx's stdlib driver, validating
// each borrow with a ping. Release returns a handle to the idle queue; a
// *sql.DB is closed only when the pool discards it (failed validation,
// Discard, idle reaping) or shuts down. UserService itself still
// reads and writes through store.UserStore (memstore here); the pool
// stands in for the durable connection a production deployment would
// layer underneath, proving pool.Pool against a real driver without
// pulling database CRUD into scope.
func openDBPool(cfg *config.PoolConfig) (*pool.Pool[*sql.DB], error) {
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cfg.Username, cfg.Password, cfg.IP, cfg.Port, cfg.DBName)
	return pool.New(pool.Config{
		InitSize:       cfg.InitSize,
		MaxSize:        cfg.MaxSize,
		MaxIdleTime:    cfg.MaxIdleTime,
		AcquireTimeout: cfg.ConnectionTimeOut,
	}, func() (*sql.DB, error) {
		db, err := sql.Open("pgx", connString)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}, func(db *sql.DB) bool {
		return db.Ping() == nil
	}, func(db *sql.DB) {
		db.Close()
	})
}

func run(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("userservice: log dir: %w", err)
	}
	log, closeLog, err := cmdutil.NewLogger("userservice", logDir)
	if err != nil {
		return fmt.Errorf("userservice: logger: %w", err)
	}
	defer closeLog()

	cfg, err := config.LoadRPCConfig(configPath)
	if err != nil {
		return fmt.Errorf("userservice: load config: %w", err)
	}
	if len(args) > 0 {
		cfg.ServerIP = args[0]
	}
	if len(args) > 1 {
		cfg.ServerPort = args[1]
	}

	reg, err := cmdutil.ConnectRegistry(cfg.RegistryEndpoints)
	if err != nil {
		return fmt.Errorf("userservice: registry: %w", err)
	}
	defer reg.Close()

	listenAddr := net.JoinHostPort(cfg.ServerIP, cfg.ServerPort)
	provider := rpcprovider.NewProvider(reg, log, rpcprovider.WithRateLimit(200, 100))

	var dbPool *pool.Pool[*sql.DB]
	lc := service.Lifecycle{
		InitRPC: func(p *rpcprovider.Provider) error {
			return p.NotifyService(userservice.New(memstore.NewUserStore()))
		},
	}
	if withDB {
		poolCfg, err := config.LoadPoolConfig(configPath)
		if err != nil {
			return fmt.Errorf("userservice: load pool config: %w", err)
		}
		lc.InitDatabasePool = func(ctx context.Context) error {
			p, err := openDBPool(poolCfg)
			if err != nil {
				return err
			}
			dbPool = p
			log.Info("userservice: database pool ready", zap.String("dbname", poolCfg.DBName))
			return nil
		}
	}

	shell, err := service.NewShell("UserService", "tcp", listenAddr, listenAddr, provider, log, lc)
	if err != nil {
		return fmt.Errorf("userservice: new shell: %w", err)
	}
	if dbPool != nil {
		defer dbPool.Close()
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
