package billinglock

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrLockNotHeld = errors.New("lock_not_held")
	ErrEmptyKey    = errors.New("lock key is empty")
)

// Locker serializes work per key. Callers must invoke release exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker runs holders of the same key one at a time in arrival order.
// Different keys never block each other.
type LocalLocker struct {
	mu     sync.Mutex
	queues map[string]*localQueue
}

type localQueue struct {
	waiters []chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{queues: map[string]*localQueue{}}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	l.mu.Lock()
	q, busy := l.queues[key]
	if !busy {
		l.queues[key] = &localQueue{}
		l.mu.Unlock()
		return l.releaser(key), nil
	}
	turn := make(chan struct{})
	q.waiters = append(q.waiters, turn)
	l.mu.Unlock()

	select {
	case <-turn:
		return l.releaser(key), nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, ch := range q.waiters {
			if ch == turn {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				l.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		l.mu.Unlock()
		// ownership was handed over while we gave up; pass it on
		l.release(key)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key) })
	}
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.queues[key]
	if !ok {
		return
	}
	if len(q.waiters) == 0 {
		delete(l.queues, key)
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}
