package middleware

import (
	"context"

	"github.com/mpchat/meshline/message"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects calls past r requests/sec, using a token
// bucket: tokens refill at rate r up to burst, each request consumes one,
// and an empty bucket short-circuits the call without invoking next. The
// bucket tolerates short bursts, which suits chat traffic better than a
// constant-drain leaky bucket.
//
// The limiter lives in the outer closure, created once per middleware
// instance — one shared bucket across every request that flows through it.
// rpcprovider installs one instance per provider (an aggregate cap on the
// services it hosts); the gateway installs one instance per client
// connection (a per-connection login throttle).
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return &message.RPCMessage{
					Error: "rate limit exceeded",
				}
			}
			return next(ctx, req)
		}
	}
}
