package receipts

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// customerLocks serializes automatic decisions per customer, so the
// cooldown check and the approval it guards run as one step.
type customerLocks struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// acquire blocks until the customer's lock is free or ctx is done.
func (l *customerLocks) acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	if l.slots == nil {
		l.slots = make(map[uuid.UUID]*lockSlot)
	}
	slot, ok := l.slots[id]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[id] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			l.drop(id, slot)
		}, nil
	case <-ctx.Done():
		l.drop(id, slot)
		return nil, ctx.Err()
	}
}

func (l *customerLocks) drop(id uuid.UUID, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, id)
	}
}
