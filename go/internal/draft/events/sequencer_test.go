package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	mu  sync.Mutex
	ran []string
}

func (tr *trace) step(name string) func(context.Context) {
	return func(context.Context) {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		tr.ran = append(tr.ran, name)
	}
}

func (tr *trace) steps() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.ran...)
}

func TestSequencer_RunsInReservationOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSequencer(8)
	first, second, third := s.Reserve(), s.Reserve(), s.Reserve()
	require.NotNil(t, first)
	require.NotNil(t, second)
	require.NotNil(t, third)
	go s.Run(ctx)

	tr := &trace{}
	third.Commit(tr.step("third"))
	second.Cancel()
	first.Commit(tr.step("first"))
	s.Wait()

	assert.Equal(t, []string{"first", "third"}, tr.steps())
}

func TestSequencer_SlotResolvesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSequencer(1)
	slot := s.Reserve()
	tr := &trace{}
	slot.Cancel()
	slot.Commit(tr.step("late"))

	go s.Run(ctx)
	s.Wait()
	assert.Empty(t, tr.steps())

	// Nil slots are what a full queue hands out.
	var none *Slot
	none.Commit(tr.step("nil"))
	none.Cancel()
	assert.Empty(t, tr.steps())
}

func TestSequencer_FullQueue(t *testing.T) {
	s := NewSequencer(1)
	held := s.Reserve()
	require.NotNil(t, held)
	assert.Nil(t, s.Reserve())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	held.Cancel()
	s.Wait()

	assert.NotNil(t, s.Reserve())
}

func TestSequencer_WaitCoversTracked(t *testing.T) {
	s := NewSequencer(1)
	done := s.Track()
	released := make(chan struct{})
	go func() {
		s.Wait()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("Wait returned before tracked work finished")
	default:
	}
	done()
	<-released
}
