package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunQueueFIFOOrder(t *testing.T) {
	q := NewRunQueue(4)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	assert.Equal(t, 3, q.Len())

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.Pop()
	assert.False(t, ok, "an empty queue has nothing to pop")
	assert.True(t, q.IsEmpty())
}

func TestRunQueuePushOnFullPanics(t *testing.T) {
	q := NewRunQueue(1)
	q.Push(1)
	assert.Panics(t, func() { q.Push(2) })
}

func TestPopOrStealFallsBackToPeer(t *testing.T) {
	s := NewSched(2, 4)
	s.PushCPU(1, 42)

	idx, ok := s.PopOrSteal(0)
	require.True(t, ok, "cpu 0's empty queue should steal from cpu 1")
	assert.Equal(t, 42, idx)

	assert.True(t, s.IsEmpty(1), "the stolen slot is gone from the victim's queue")
}

func TestPopOrStealPrefersLocalQueue(t *testing.T) {
	s := NewSched(2, 4)
	s.PushCPU(0, 7)
	s.PushCPU(1, 9)

	idx, ok := s.PopOrSteal(0)
	require.True(t, ok)
	assert.Equal(t, 7, idx, "a cpu must drain its own queue before stealing")
}

func TestPopOrStealEmptyEverywhere(t *testing.T) {
	s := NewSched(3, 4)
	_, ok := s.PopOrSteal(0)
	assert.False(t, ok)
}

func TestAsyncExecDrainRespectsMax(t *testing.T) {
	var a AsyncExec_t
	var ran int
	for i := 0; i < 5; i++ {
		a.Post(func() { ran++ })
	}
	require.True(t, a.Pending())

	n := a.Drain(3)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, ran)
	require.True(t, a.Pending(), "two tasks should remain queued")

	n = a.Drain(10)
	assert.Equal(t, 2, n)
	assert.Equal(t, 5, ran)
	assert.False(t, a.Pending())
}

func TestSleepWakeupRendezvous(t *testing.T) {
	var mu sync.Mutex
	ready := false
	key := &struct{}{}

	woke := make(chan struct{})
	go func() {
		mu.Lock()
		for !ready {
			Sleep(key, &mu)
		}
		mu.Unlock()
		close(woke)
	}()

	select {
	case <-woke:
		t.Fatal("sleeper woke before Wakeup was ever called")
	case <-time.After(20 * time.Millisecond):
	}

	mu.Lock()
	ready = true
	mu.Unlock()
	Wakeup(key)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("sleeper never woke up after Wakeup")
	}
}

func TestWakeupWithNoSleepersIsNoop(t *testing.T) {
	key := &struct{}{}
	assert.NotPanics(t, func() { Wakeup(key) })
}
