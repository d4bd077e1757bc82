// Package cmdutil holds the bootstrap steps shared by every meshline
// service binary's cobra root command: connecting to the registry and
// turning process signals into a cancellable context for service.Shell.
package cmdutil

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mpchat/meshline/logging"
	"github.com/mpchat/meshline/registry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConnectRegistry dials etcd at endpoints and blocks until it's ready.
func ConnectRegistry(endpoints []string) (*registry.EtcdRegistry, error) {
	reg, err := registry.NewEtcdRegistry(endpoints)
	if err != nil {
		return nil, fmt.Errorf("cmdutil: new registry: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.Start(ctx); err != nil {
		return nil, fmt.Errorf("cmdutil: connect registry: %w", err)
	}
	return reg, nil
}

// SignalContext returns a context cancelled on SIGINT/SIGTERM, and the stop
// function to release the signal handler early.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// NewLogger builds the logger every meshline binary runs with: INFO/ERROR
// records go to both stderr (for the operator watching the process) and
// logging's async file core under logDir, with every record tagged by
// serviceName. The returned func stops the file core's drain goroutine.
func NewLogger(serviceName, logDir string) (*zap.Logger, func() error, error) {
	fileCore, closeFn := logging.NewAsyncCore(logDir)

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), zapcore.InfoLevel)

	core := zapcore.NewTee(fileCore, consoleCore)
	log := zap.New(core).With(zap.String("service", serviceName))
	return log, closeFn, nil
}
