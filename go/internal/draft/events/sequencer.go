package events

import (
	"context"
	"sync"
)

// Sequencer runs post-commit work in the order slots were reserved. Reserving
// inside a draft's exclusive section makes that order the commit order, so
// subscribers see each draft's versions ascending.
type Sequencer struct {
	slots   chan *Slot
	pending sync.WaitGroup
}

// Slot is one reserved position in a Sequencer.
type Slot struct {
	ready chan struct{}
	once  sync.Once
	fn    func(ctx context.Context)
}

func NewSequencer(buffer int) *Sequencer {
	if buffer < 1 {
		buffer = 1
	}
	return &Sequencer{slots: make(chan *Slot, buffer)}
}

// Reserve claims the next position, or returns nil when the queue is full.
func (s *Sequencer) Reserve() *Slot {
	slot := &Slot{ready: make(chan struct{})}
	s.pending.Add(1)
	select {
	case s.slots <- slot:
		return slot
	default:
		s.pending.Done()
		return nil
	}
}

// Commit hands the slot its work. It is a no-op on a nil or resolved slot.
func (sl *Slot) Commit(fn func(ctx context.Context)) {
	if sl == nil {
		return
	}
	sl.once.Do(func() {
		sl.fn = fn
		close(sl.ready)
	})
}

// Cancel releases the slot without running anything, for transactions that
// did not commit.
func (sl *Slot) Cancel() {
	sl.Commit(nil)
}

// Track counts background work towards Wait. Call the returned func when it
// finishes.
func (s *Sequencer) Track() func() {
	s.pending.Add(1)
	return s.pending.Done
}

// Run executes slots in order until ctx is done. A slot blocks the ones
// behind it until it is committed or cancelled.
func (s *Sequencer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case slot := <-s.slots:
			select {
			case <-slot.ready:
			case <-ctx.Done():
				return
			}
			if slot.fn != nil {
				slot.fn(ctx)
			}
			s.pending.Done()
		}
	}
}

// Wait blocks until every reserved slot and tracked task has finished.
func (s *Sequencer) Wait() {
	s.pending.Wait()
}
