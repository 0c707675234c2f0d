package sem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/tinfo"
)

func withNote(note *tinfo.Tnote_t) context.Context {
	return tinfo.WithNote(context.Background(), note)
}

func TestTryWaitAndPost(t *testing.T) {
	s, err := MkSem(1, 2)
	require.Zero(t, err)

	ok, err := s.TryWait()
	require.Zero(t, err)
	assert.True(t, ok)

	ok, err = s.TryWait()
	require.Zero(t, err)
	assert.False(t, ok, "count was already drained to zero")

	require.Zero(t, s.Post())
	ok, err = s.TryWait()
	require.Zero(t, err)
	assert.True(t, ok)
}

func TestPostBeyondMaxFails(t *testing.T) {
	s, err := MkSem(2, 2)
	require.Zero(t, err)
	assert.Equal(t, -defs.EINVAL, s.Post())
}

func TestWaitBlocksUntilPost(t *testing.T) {
	s, err := MkSem(0, 1)
	require.Zero(t, err)
	note := &tinfo.Tnote_t{Alive: true}
	ctx := withNote(note)

	done := make(chan defs.Err_t, 1)
	go func() { done <- s.Wait(ctx) }()

	select {
	case <-done:
		t.Fatal("Wait returned before any Post")
	case <-time.After(20 * time.Millisecond):
	}

	require.Zero(t, s.Post())
	select {
	case err := <-done:
		assert.Zero(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait never woke up after Post")
	}
}

func TestKillUnblocksWaitWithEINTR(t *testing.T) {
	s, err := MkSem(0, 1)
	require.Zero(t, err)
	note := &tinfo.Tnote_t{Alive: true}
	ctx := withNote(note)

	done := make(chan defs.Err_t, 1)
	go func() { done <- s.Wait(ctx) }()

	time.Sleep(20 * time.Millisecond)
	note.Lock()
	note.Killed = true
	note.Unlock()
	s.Close()

	select {
	case err := <-done:
		assert.Equal(t, -defs.EINTR, err)
	case <-time.After(time.Second):
		t.Fatal("Wait never observed the kill")
	}
}

func TestTableCreateGetClose(t *testing.T) {
	var table Table_t
	id, err := table.Create(1)
	require.Zero(t, err)
	require.Equal(t, 1, id)

	s, err := table.Get(id)
	require.Zero(t, err)
	ok, err := s.TryWait()
	require.Zero(t, err)
	assert.True(t, ok)

	require.Zero(t, table.Close(id))
	_, err = table.Get(id)
	assert.Equal(t, -defs.EINVAL, err)
}
