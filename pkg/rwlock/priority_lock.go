// Package rwlock provides the read/write lock guarding the shared knowledge index.
//
// Readers share a single exclusive permit: the first reader in takes it on behalf
// of the group and the last reader out gives it back. Writers take the same permit
// directly. Both readers and writers pass through one FIFO admission queue, and a
// writer keeps its place at the head of that queue until the permit is free, so no
// reader that arrives after a queued writer can get in ahead of it.
package rwlock

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// LockState is a point-in-time view of the lock.
type LockState struct {
	Readers        int
	Writing        bool
	WritersWaiting int
}

// PriorityLock is safe for concurrent use. The zero value is not usable, use New.
// Acquisition is not re-entrant.
type PriorityLock struct {
	// admission is the FIFO turnstile shared by readers and writers.
	admission *semaphore.Weighted
	// permit is the single exclusive permit, held either by the reader group or a writer.
	permit *semaphore.Weighted

	mu      sync.Mutex
	readers int

	writing        atomic.Bool
	writersWaiting atomic.Int32
}

func New() *PriorityLock {
	return &PriorityLock{
		admission: semaphore.NewWeighted(1),
		permit:    semaphore.NewWeighted(1),
	}
}

// RLock blocks until the caller is admitted as a reader.
// It only fails when ctx is done before admission, in which case nothing is held.
func (l *PriorityLock) RLock(ctx context.Context) error {
	if err := l.admission.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.admission.Release(1)

	l.mu.Lock()
	if l.readers > 0 {
		l.readers++
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	// First reader in. Only a writer can contend here: other readers are behind
	// the admission queue and nobody can be releasing while the count is zero.
	// mu is not held while waiting so State stays readable.
	if err := l.permit.Acquire(ctx, 1); err != nil {
		return err
	}
	l.mu.Lock()
	l.readers++
	l.mu.Unlock()
	return nil
}

// RUnlock releases a read hold. Calling it without a matching RLock panics.
func (l *PriorityLock) RUnlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readers <= 0 {
		panic("rwlock: RUnlock of unlocked PriorityLock")
	}
	l.readers--
	if l.readers == 0 {
		l.permit.Release(1)
	}
}

// Lock blocks until the caller holds the lock exclusively.
// It only fails when ctx is done before acquisition, in which case nothing is held.
func (l *PriorityLock) Lock(ctx context.Context) error {
	l.writersWaiting.Add(1)
	defer l.writersWaiting.Add(-1)

	if err := l.admission.Acquire(ctx, 1); err != nil {
		return err
	}
	// Holding admission while waiting for the permit is what keeps later readers out.
	defer l.admission.Release(1)

	if err := l.permit.Acquire(ctx, 1); err != nil {
		return err
	}
	l.writing.Store(true)
	return nil
}

// Unlock releases the exclusive hold.
func (l *PriorityLock) Unlock() {
	if !l.writing.CompareAndSwap(true, false) {
		panic("rwlock: Unlock of unlocked PriorityLock")
	}
	l.permit.Release(1)
}

// WithRead runs fn while holding a read lock.
func (l *PriorityLock) WithRead(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.RLock(ctx); err != nil {
		return err
	}
	defer l.RUnlock()
	return fn(ctx)
}

// WithWrite runs fn while holding the write lock.
func (l *PriorityLock) WithWrite(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock()
	return fn(ctx)
}

func (l *PriorityLock) State() LockState {
	l.mu.Lock()
	readers := l.readers
	l.mu.Unlock()

	return LockState{
		Readers:        readers,
		Writing:        l.writing.Load(),
		WritersWaiting: int(l.writersWaiting.Load()),
	}
}
