package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func isReady[T any](p *Pending[T]) bool {
	select {
	case <-p.Ready():
		return true
	default:
		return false
	}
}

func mustWait[T any](t *testing.T, p *Pending[T]) *Holder[T] {
	t.Helper()
	h, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Pending.Wait() error = %v, ERROR expected nil", err)
	}
	return h
}

func TestAcquireFree(t *testing.T) {
	l := New("stream")

	h, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if h.Value() != "stream" {
		t.Errorf("Holder.Value() = %q, ERROR expected %q", h.Value(), "stream")
	}
	h.Release()

	h, err = l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	h.Release()
}

func TestFIFOHandoff(t *testing.T) {
	l := New(0)
	first := mustWait(t, l.TryAcquireCancelable())

	const n = 8
	pending := make([]*Pending[int], n)
	for i := range pending {
		pending[i] = l.TryAcquireCancelable()
	}
	if l.Queued() != n {
		t.Errorf("Queued() = %d, ERROR expected %d", l.Queued(), n)
	}

	current := first
	for i, p := range pending {
		for j, other := range pending[i:] {
			if isReady(other) {
				t.Fatalf("waiter %d granted while %d still queued ahead", i+j, i)
			}
		}

		current.Release()

		if !isReady(p) {
			t.Fatalf("waiter %d not granted after release, ERROR expected FIFO handoff", i)
		}
		for j, other := range pending[i+1:] {
			if isReady(other) {
				t.Fatalf("waiter %d granted together with %d, ERROR expected exactly one holder", i+1+j, i)
			}
		}
		current = mustWait(t, p)
		t.Logf("waiter %d granted, OK", i)
	}
	current.Release()
}

func TestCancelBeforeGrant(t *testing.T) {
	l := New(0)
	h := mustWait(t, l.TryAcquireCancelable())

	cancelled := l.TryAcquireCancelable()
	next := l.TryAcquireCancelable()

	cancelled.Cancel()
	h.Release()

	if isReady(cancelled) {
		t.Errorf("cancelled waiter was granted, ERROR expected it to be skipped")
	}
	if !isReady(next) {
		t.Fatalf("waiter after cancelled one not granted")
	}
	mustWait(t, next).Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := cancelled.Wait(ctx)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Wait() on cancelled = %v, ERROR expected %v", err, ErrCancelled)
	}
}

func TestCancelAfterGrantReleases(t *testing.T) {
	l := New(0)
	h := mustWait(t, l.TryAcquireCancelable())

	racing := l.TryAcquireCancelable()
	next := l.TryAcquireCancelable()

	// grant lands before the cancel is processed
	h.Release()
	if !isReady(racing) {
		t.Fatalf("racing waiter not granted")
	}
	racing.Cancel()
	racing.Cancel()

	if !isReady(next) {
		t.Fatalf("Cancel() of granted waiter did not hand the lock on, ERROR expected next waiter granted")
	}
	mustWait(t, next).Release()

	h, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after cancel race error = %v, ERROR expected lock free", err)
	}
	h.Release()
}

func TestCancelAfterClaimIsNoop(t *testing.T) {
	l := New(0)
	p := l.TryAcquireCancelable()
	h := mustWait(t, p)

	p.Cancel()

	other := l.TryAcquireCancelable()
	if isReady(other) {
		t.Fatalf("Cancel() after Wait released a claimed holder")
	}
	h.Release()
	mustWait(t, other).Release()
}

func TestDoubleReleasePanics(t *testing.T) {
	l := New(0)
	h := mustWait(t, l.TryAcquireCancelable())
	h.Release()

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrInvariant) {
			t.Errorf("second Release() recovered %v, ERROR expected %v", r, ErrInvariant)
		}

		h, err := l.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() after invariant panic error = %v", err)
		}
		h.Release()
	}()

	h.Release()
}

func TestStaleHolderPanics(t *testing.T) {
	l := New(0)
	stale := mustWait(t, l.TryAcquireCancelable())
	stale.Release()
	current := mustWait(t, l.TryAcquireCancelable())
	defer current.Release()

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Release() of stale holder did not panic")
		}
	}()
	stale.Release()
}

func TestAcquireContextCancelled(t *testing.T) {
	l := New(0)
	h := mustWait(t, l.TryAcquireCancelable())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.Acquire(ctx)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() on held lock error = %v, ERROR expected cancelled deadline", err)
	}

	h.Release()
	h, err = l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after timed out waiter error = %v", err)
	}
	h.Release()
}

func TestMutualExclusion(t *testing.T) {
	l := New(new(int))

	const workers = 32
	const rounds = 100

	var inside int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				h, err := l.Acquire(context.Background())
				if err != nil {
					t.Error(err)
					return
				}

				mu.Lock()
				inside++
				if inside != 1 {
					t.Errorf("%d holders inside critical section, ERROR expected 1", inside)
				}
				mu.Unlock()

				*h.Value()++

				mu.Lock()
				inside--
				mu.Unlock()

				h.Release()
			}
		}()
	}
	wg.Wait()

	h := mustWait(t, l.TryAcquireCancelable())
	defer h.Release()
	if *h.Value() != workers*rounds {
		t.Errorf("counter = %d, ERROR expected %d", *h.Value(), workers*rounds)
	}
}

func TestConcurrentCancelRace(t *testing.T) {
	l := New(0)

	for i := 0; i < 200; i++ {
		h := mustWait(t, l.TryAcquireCancelable())
		p := l.TryAcquireCancelable()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Release()
		}()
		go func() {
			defer wg.Done()
			p.Cancel()
		}()
		wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		got, err := l.Acquire(ctx)
		cancel()
		if err != nil {
			t.Fatalf("iteration %d: lock leaked after release/cancel race: %v", i, err)
		}
		got.Release()
	}
}
