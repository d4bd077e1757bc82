package pubsub

import (
	"context"
	"fmt"
	"sync"
)

// LocalBridge is an in-process Bridge for tests: Publish delivers directly
// to any local Subscribe callback instead of going through a redis server.
type LocalBridge struct {
	mu   sync.Mutex
	subs map[int32]func(body string)
}

func NewLocalBridge() *LocalBridge {
	return &LocalBridge{subs: make(map[int32]func(body string))}
}

func (b *LocalBridge) Subscribe(ctx context.Context, userID int32, onMessage func(body string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[userID]; ok {
		return fmt.Errorf("pubsub: user %d already subscribed", userID)
	}
	b.subs[userID] = onMessage
	return nil
}

func (b *LocalBridge) Unsubscribe(userID int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, userID)
	return nil
}

func (b *LocalBridge) Publish(ctx context.Context, userID int32, body string) error {
	b.mu.Lock()
	onMessage, ok := b.subs[userID]
	b.mu.Unlock()
	if ok {
		onMessage(body)
	}
	return nil
}
