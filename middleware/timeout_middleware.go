package middleware

import (
	"context"
	"time"

	"github.com/mpchat/meshline/message"
)

// TimeOutMiddleware bounds how long the caller waits for next to complete.
// It runs next on its own goroutine, racing the result channel against a
// context deadline.
//
// The handler goroutine is not cancelled — it keeps running after the
// timeout fires and its eventual result is dropped into the buffered
// channel. The timeout only controls when the caller gives up waiting;
// a handler that wants true cancellation must watch ctx.Done() itself.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1) // buffered so the goroutine never leaks
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case rpcMessage := <-done:
				return rpcMessage
			case <-ctx.Done():
				return &message.RPCMessage{
					Error: "request timed out",
				}
			}
		}
	}
}
