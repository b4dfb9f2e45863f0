package appointment

import (
	"context"
	"sync"
)

// LocalLocker is an in-process keyed mutex. It only serializes callers that
// share the same process; multi-instance deployments use the Redis locker.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot)}
}

// WithSlotLock waits for the key until ctx is done and runs fn while holding it.
func (l *LocalLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	slot := l.acquireRef(key)
	defer l.releaseRef(key, slot)

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		return transient("acquire slot lock", ctx.Err())
	}
	defer func() { <-slot.sem }()

	return fn(ctx)
}

func (l *LocalLocker) acquireRef(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		slot = &localSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *LocalLocker) releaseRef(key string, slot *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}
