package middleware

import (
	"context"
	"time"

	"github.com/mpchat/meshline/message"
	"go.uber.org/zap"
)

// LoggingMiddleware records the service method, duration, and any error for
// each call. It captures the start time before calling next, and logs the
// elapsed time after next returns.
func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()

			rpcMessage := next(ctx, req)

			log.Info("rpc call",
				zap.String("service_method", req.ServiceMethod),
				zap.Duration("duration", time.Since(start)))
			if rpcMessage.Error != "" {
				log.Error("rpc call failed",
					zap.String("service_method", req.ServiceMethod),
					zap.String("error", rpcMessage.Error))
			}
			return rpcMessage
		}
	}
}
