// Package lock provides a FIFO, context-aware exclusive lock that hands out
// access to a guarded value only through a Holder capability.
//
// The bookkeeping mutex is held only while the queue and owner are updated;
// the guarded value is never touched under it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"
)

var (
	// Release by something that is not the current holder. Always a bug in the caller.
	ErrInvariant = errors.New("lock invariant violation")
	// Acquisition withdrawn before it was granted.
	ErrCancelled = errors.New("operation cancelled")
)

type Lock[T any] struct {
	value T

	mu      sync.Mutex
	owner   *Holder[T]
	waiters *queue.Queue
}

// Holder proves exclusive ownership of a Lock. It must be released exactly once.
type Holder[T any] struct {
	l *Lock[T]
}

type waiter[T any] struct {
	ready  chan struct{}
	holder *Holder[T]

	withdrawn bool
	claimed   bool
}

func New[T any](value T) *Lock[T] {
	return &Lock[T]{
		value:   value,
		waiters: queue.New(),
	}
}

// Acquire blocks until the lock is granted or ctx is done.
func (l *Lock[T]) Acquire(ctx context.Context) (*Holder[T], error) {
	return l.TryAcquireCancelable().Wait(ctx)
}

// TryAcquireCancelable queues an acquisition without waiting for it.
func (l *Lock[T]) TryAcquireCancelable() *Pending[T] {
	w := &waiter[T]{ready: make(chan struct{})}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner == nil {
		l.grantLocked(w)
	} else {
		l.waiters.Add(w)
	}

	return &Pending[T]{l: l, w: w}
}

// Queued is the number of waiters not yet granted, withdrawn ones included
// until they reach the head of the queue.
func (l *Lock[T]) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Length()
}

func (l *Lock[T]) grantLocked(w *waiter[T]) {
	h := &Holder[T]{l: l}
	l.owner = h
	w.holder = h
	close(w.ready)
}

func (l *Lock[T]) releaseLocked(h *Holder[T]) {
	if l.owner != h {
		panic(fmt.Errorf("%w: released by a non-holder", ErrInvariant))
	}
	l.owner = nil

	for l.waiters.Length() > 0 {
		next := l.waiters.Remove().(*waiter[T])
		if next.withdrawn {
			continue
		}
		l.grantLocked(next)
		return
	}
}

func (h *Holder[T]) Value() T {
	return h.l.value
}

// Release hands the lock to the next queued waiter, or frees it.
// Releasing twice, or releasing a stale holder, panics with ErrInvariant.
func (h *Holder[T]) Release() {
	h.l.mu.Lock()
	defer h.l.mu.Unlock()
	h.l.releaseLocked(h)
}

// Pending is a queued acquisition that can be abandoned.
type Pending[T any] struct {
	l *Lock[T]
	w *waiter[T]
}

// Ready is closed once the lock has been granted to this acquisition.
func (p *Pending[T]) Ready() <-chan struct{} {
	return p.w.ready
}

// Wait returns the holder once granted. If ctx is done first the acquisition
// is cancelled.
func (p *Pending[T]) Wait(ctx context.Context) (*Holder[T], error) {
	select {
	case <-p.w.ready:
	case <-ctx.Done():
		// the grant may have won the race
		if h, ok := p.claim(); ok {
			return h, nil
		}
		p.Cancel()
		return nil, fmt.Errorf("%w: [%w]", ErrCancelled, ctx.Err())
	}

	if h, ok := p.claim(); ok {
		return h, nil
	}
	return nil, ErrCancelled
}

func (p *Pending[T]) claim() (*Holder[T], bool) {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()

	if p.w.withdrawn || p.w.holder == nil {
		return nil, false
	}
	p.w.claimed = true
	return p.w.holder, true
}

// Cancel withdraws the acquisition. A grant that nobody claimed yet is
// released to the next waiter; once Wait returned the holder, Cancel does
// nothing.
func (p *Pending[T]) Cancel() {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()

	w := p.w
	if w.withdrawn || w.claimed {
		return
	}
	w.withdrawn = true

	if w.holder != nil {
		p.l.releaseLocked(w.holder)
	}
}
