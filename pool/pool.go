// Package pool implements a generic resource pool: an initial batch of
// connections, a producer goroutine that adds one new connection each time
// consumers drain the idle queue (while the pool is under MaxSize), and a
// scanner goroutine that reaps
// connections that have sat idle past MaxIdleTime (down to InitSize, never
// below it).
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pool manages a bounded set of reusable resources of type C.
type Pool[C any] struct {
	factory  func() (C, error)
	validate func(C) bool
	closeFn  func(C)

	initSize       int
	maxSize        int
	maxIdleTime    time.Duration
	acquireTimeout time.Duration

	mu       sync.Mutex
	cond     *sync.Cond
	idle     []entry[C]
	inUse    int
	count    int
	stopScan chan struct{}
}

type entry[C any] struct {
	conn     C
	lastUsed time.Time
}

// Config bundles the tuning knobs for New.
type Config struct {
	InitSize       int
	MaxSize        int
	MaxIdleTime    time.Duration
	AcquireTimeout time.Duration
}

// ErrAcquireTimeout is returned when no connection becomes available
// before AcquireTimeout elapses.
var ErrAcquireTimeout = fmt.Errorf("pool: acquire timeout")

// New creates a pool, eagerly opening InitSize connections via factory,
// then starting the producer and idle-reaper goroutines.
func New[C any](cfg Config, factory func() (C, error), validate func(C) bool, closeFn func(C)) (*Pool[C], error) {
	p := &Pool[C]{
		factory:        factory,
		validate:       validate,
		closeFn:        closeFn,
		initSize:       cfg.InitSize,
		maxSize:        cfg.MaxSize,
		maxIdleTime:    cfg.MaxIdleTime,
		acquireTimeout: cfg.AcquireTimeout,
		stopScan:       make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < cfg.InitSize; i++ {
		c, err := factory()
		if err != nil {
			continue
		}
		p.idle = append(p.idle, entry[C]{conn: c, lastUsed: time.Now()})
		p.count++
	}

	go p.produce()
	go p.scan()
	return p, nil
}

// Borrowed is a scoped handle on a pooled resource; Release returns it to
// the pool exactly once.
type Borrowed[C any] struct {
	Conn    C
	pool    *Pool[C]
	once    sync.Once
	discard bool
}

// Release returns the resource to the pool. Calling Release more than
// once is a no-op.
func (b *Borrowed[C]) Release() {
	b.once.Do(func() {
		b.pool.release(b.Conn, b.discard)
	})
}

// Discard marks the resource as unusable; Release will close it instead of
// returning it to the idle queue.
func (b *Borrowed[C]) Discard() {
	b.discard = true
}

// Get acquires a resource, creating one inline if under MaxSize, or
// waiting (bounded by ctx and AcquireTimeout) for one to be released.
func (p *Pool[C]) Get(ctx context.Context) (*Borrowed[C], error) {
	deadline := time.Now().Add(p.acquireTimeout)

	p.mu.Lock()
	for {
		for len(p.idle) > 0 {
			e := p.idle[0]
			p.idle = p.idle[1:]
			if p.validate != nil && !p.validate(e.conn) {
				p.count--
				p.closeFn(e.conn)
				continue
			}
			p.inUse++
			if len(p.idle) == 0 {
				p.cond.Broadcast()
			}
			p.mu.Unlock()
			return &Borrowed[C]{Conn: e.conn, pool: p}, nil
		}

		if p.count < p.maxSize {
			p.count++
			p.mu.Unlock()
			c, err := p.factory()
			if err != nil {
				p.mu.Lock()
				p.count--
				p.mu.Unlock()
				return nil, err
			}
			p.mu.Lock()
			p.inUse++
			p.mu.Unlock()
			return &Borrowed[C]{Conn: c, pool: p}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			return nil, ErrAcquireTimeout
		}

		// cond.Wait must be called by the goroutine already holding p.mu, so
		// bounding it needs a watcher that broadcasts on timeout/cancel
		// instead of a second goroutine calling Wait on our behalf.
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		stop := make(chan struct{})
		if done := ctx.Done(); done != nil {
			go func() {
				select {
				case <-done:
					p.mu.Lock()
					p.cond.Broadcast()
					p.mu.Unlock()
				case <-stop:
				}
			}()
		}

		p.cond.Wait()
		close(stop)
		timer.Stop()

		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
		if time.Now().After(deadline) {
			p.mu.Unlock()
			return nil, ErrAcquireTimeout
		}
	}
}

func (p *Pool[C]) release(c C, discard bool) {
	p.mu.Lock()
	p.inUse--
	if discard {
		p.count--
		p.mu.Unlock()
		p.closeFn(c)
		p.cond.Broadcast()
		return
	}
	p.idle = append(p.idle, entry[C]{conn: c, lastUsed: time.Now()})
	p.mu.Unlock()
	p.cond.Broadcast()
}

// produce tops the idle queue back up whenever it runs dry and the pool
// hasn't hit MaxSize.
func (p *Pool[C]) produce() {
	for {
		p.mu.Lock()
		for len(p.idle) > 0 || p.count >= p.maxSize {
			select {
			case <-p.stopScan:
				p.mu.Unlock()
				return
			default:
			}
			p.cond.Wait()
		}
		c, err := p.factory()
		if err == nil {
			p.idle = append(p.idle, entry[C]{conn: c, lastUsed: time.Now()})
			p.count++
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	}
}

// scan periodically reaps idle connections older than MaxIdleTime, down to
// InitSize.
func (p *Pool[C]) scan() {
	ticker := time.NewTicker(p.maxIdleTime)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopScan:
			return
		case <-ticker.C:
			p.mu.Lock()
			kept := p.idle[:0]
			for _, e := range p.idle {
				if p.count > p.initSize && time.Since(e.lastUsed) >= p.maxIdleTime {
					p.count--
					p.closeFn(e.conn)
					continue
				}
				kept = append(kept, e)
			}
			p.idle = kept
			p.mu.Unlock()
		}
	}
}

// Close stops the background goroutines and closes every idle resource.
func (p *Pool[C]) Close() {
	close(p.stopScan)
	p.cond.Broadcast()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.idle {
		p.closeFn(e.conn)
	}
	p.idle = nil
}
