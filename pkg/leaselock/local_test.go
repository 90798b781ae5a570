package leaselock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	l := NewLocal()
	opts := Options{Wait: true, WaitInterval: time.Millisecond}

	var active, maxActive int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLease(context.Background(), "session:1", opts, func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				t.Errorf("WithLease() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxActive)
	}
}

func TestLocalLockerBusyWithoutWait(t *testing.T) {
	l := NewLocal()
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = l.WithLease(context.Background(), "k", Options{}, func(ctx context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := l.WithLease(context.Background(), "k", Options{}, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("error = %v, want ErrBusy", err)
	}
	if err := l.WithLease(context.Background(), "other", Options{}, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("different key: error = %v", err)
	}
	close(done)
}

func TestLocalLockerWaitHonorsContext(t *testing.T) {
	l := NewLocal()
	held := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		_ = l.WithLease(context.Background(), "k", Options{}, func(ctx context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithLease(ctx, "k", Options{Wait: true, WaitInterval: time.Millisecond}, func(ctx context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
}

func TestLocalLockerExpiredLeaseCanBeTaken(t *testing.T) {
	l := NewLocal()
	now := time.Now()
	l.now = func() time.Time { return now }

	ok, _ := l.tryAcquire(context.Background(), "k", "a", time.Second)
	if !ok {
		t.Fatal("first acquire failed")
	}
	if ok, _ := l.tryAcquire(context.Background(), "k", "b", time.Second); ok {
		t.Fatal("held lease was taken")
	}
	now = now.Add(2 * time.Second)
	if ok, _ := l.tryAcquire(context.Background(), "k", "b", time.Second); !ok {
		t.Fatal("expired lease was not taken")
	}
	if err := l.renew(context.Background(), "k", "a", time.Second); !errors.Is(err, ErrLost) {
		t.Fatalf("renew by previous holder: error = %v, want ErrLost", err)
	}
}

func TestLocalLockerReleasesOnError(t *testing.T) {
	l := NewLocal()
	boom := errors.New("boom")
	if err := l.WithLease(context.Background(), "k", Options{}, func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if err := l.WithLease(context.Background(), "k", Options{}, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("lease not released after error: %v", err)
	}
}
