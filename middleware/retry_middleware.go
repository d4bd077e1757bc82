package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/mpchat/meshline/message"
	"go.uber.org/zap"
)

// retryableError reports whether an error string describes a transient
// transport failure worth another attempt. Business errors returned by the
// remote handler are never retried: the call reached the service once, and
// delivery here is at-least-once, not exactly-once.
func retryableError(errmsg string) bool {
	return strings.Contains(errmsg, "timed out") ||
		strings.Contains(errmsg, "timeout") ||
		strings.Contains(errmsg, "connection refused")
}

// RetryMiddleware re-invokes next up to maxRetries times on transient
// transport errors, with exponential backoff starting at baseDelay. Note the
// matched strings include TimeOutMiddleware's own "request timed out", so a
// per-attempt timeout placed inside this layer triggers a retry.
func RetryMiddleware(log *zap.Logger, maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			rpcMessage := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if rpcMessage.Error == "" {
					return rpcMessage
				}
				if !retryableError(rpcMessage.Error) {
					return rpcMessage
				}
				log.Info("retrying rpc call",
					zap.Int("attempt", i+1),
					zap.String("service_method", req.ServiceMethod),
					zap.String("error", rpcMessage.Error))
				time.Sleep(baseDelay * time.Duration(1<<i))
				rpcMessage = next(ctx, req)
			}
			return rpcMessage
		}
	}
}
