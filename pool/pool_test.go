package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct{ id int64 }

func TestPoolGetRelease(t *testing.T) {
	var created int64
	p, err := New(Config{InitSize: 2, MaxSize: 4, MaxIdleTime: time.Hour, AcquireTimeout: time.Second},
		func() (*fakeConn, error) {
			id := atomic.AddInt64(&created, 1)
			return &fakeConn{id: id}, nil
		},
		func(*fakeConn) bool { return true },
		func(*fakeConn) {},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	b, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Conn == nil {
		t.Fatal("expected a connection")
	}
	b.Release()

	b2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get after release: %v", err)
	}
	b2.Release()
}

func TestPoolAcquireTimeout(t *testing.T) {
	p, err := New(Config{InitSize: 1, MaxSize: 1, MaxIdleTime: time.Hour, AcquireTimeout: 50 * time.Millisecond},
		func() (*fakeConn, error) { return &fakeConn{}, nil },
		func(*fakeConn) bool { return true },
		func(*fakeConn) {},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	b, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer b.Release()

	_, err = p.Get(context.Background())
	if err != ErrAcquireTimeout {
		t.Fatalf("Get while exhausted = %v, want ErrAcquireTimeout", err)
	}
}

func TestPoolDiscardClosesInsteadOfReturning(t *testing.T) {
	var closed int64
	p, err := New(Config{InitSize: 1, MaxSize: 2, MaxIdleTime: time.Hour, AcquireTimeout: time.Second},
		func() (*fakeConn, error) { return &fakeConn{}, nil },
		func(*fakeConn) bool { return true },
		func(*fakeConn) { atomic.AddInt64(&closed, 1) },
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	b, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b.Discard()
	b.Release()

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&closed) == 0 {
		t.Error("expected discarded connection to be closed")
	}
}

// TestPoolGetClosesFailedValidation ensures an idle connection that fails
// validation is closed via closeFn before being discarded, rather than
// leaked, and that Get transparently falls through to a fresh connection.
func TestPoolGetClosesFailedValidation(t *testing.T) {
	var created, closed int64
	var valid int32 = 1
	p, err := New(Config{InitSize: 1, MaxSize: 2, MaxIdleTime: time.Hour, AcquireTimeout: time.Second},
		func() (*fakeConn, error) {
			id := atomic.AddInt64(&created, 1)
			return &fakeConn{id: id}, nil
		},
		func(*fakeConn) bool { return atomic.LoadInt32(&valid) != 0 },
		func(*fakeConn) { atomic.AddInt64(&closed, 1) },
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	b, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b.Release()

	atomic.StoreInt32(&valid, 0)
	b2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get after invalidation: %v", err)
	}
	b2.Release()

	if atomic.LoadInt64(&closed) == 0 {
		t.Error("expected the failed-validation idle connection to be closed via closeFn")
	}
}
