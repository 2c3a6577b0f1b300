//go:build linux

package reactor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/usock/api"
	"github.com/momentics/usock/reactor"
)

// socketPair returns a connected non-blocking stream pair closed on cleanup.
func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newEvent(t *testing.T, fd int) *reactor.Event {
	t.Helper()
	ev, err := reactor.NewEvent()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ev.Close() })
	require.NoError(t, ev.Associate(fd, false))
	return ev
}

type waitResult struct {
	slot int
	err  error
}

func waitAsync(reg *reactor.Registry) <-chan waitResult {
	ch := make(chan waitResult, 1)
	go func() {
		slot, err := reg.Wait()
		ch <- waitResult{slot, err}
	}()
	return ch
}

func TestRegistry_CapacityExceeded(t *testing.T) {
	reg, err := reactor.NewRegistry(3)
	require.NoError(t, err)
	defer reg.Release()

	for i := 0; i < 3; i++ {
		slot, err := reg.Reserve()
		require.NoError(t, err)
		assert.Equal(t, i, slot)
	}
	a, _ := socketPair(t)
	ev := newEvent(t, a)
	require.NoError(t, reg.Bind(1, ev))

	slot, err := reg.Reserve()
	require.ErrorIs(t, err, api.ErrCapacityExceeded)
	assert.Equal(t, -1, slot)
	assert.Equal(t, api.ErrCodeCapacity, api.Classify(err))

	// The first capacity entries are intact.
	assert.Equal(t, 3, reg.Len())
	assert.Same(t, ev, reg.Event(1))
	assert.Nil(t, reg.Event(0))
	assert.Nil(t, reg.Event(2))
	assert.True(t, reg.Armed(1))
}

func TestRegistry_DefaultCapacity(t *testing.T) {
	reg, err := reactor.NewRegistry(0)
	require.NoError(t, err)
	defer reg.Release()
	assert.Equal(t, reactor.DefaultCapacity, reg.Capacity())
}

func TestRegistry_WaitReturnsSignalledSlot(t *testing.T) {
	reg, err := reactor.NewRegistry(4)
	require.NoError(t, err)
	defer reg.Release()

	a0, b0 := socketPair(t)
	a1, b1 := socketPair(t)
	for _, fd := range []int{a0, a1} {
		slot, err := reg.Reserve()
		require.NoError(t, err)
		require.NoError(t, reg.Bind(slot, newEvent(t, fd)))
	}
	// Drain initial writable edges.
	for slot := 0; slot < 2; slot++ {
		_, _ = reg.Event(slot).Enumerate()
	}

	_, err = unix.Write(b1, []byte("x"))
	require.NoError(t, err)
	got := <-waitAsync(reg)
	require.NoError(t, got.err)
	assert.Equal(t, 1, got.slot)

	r, err := reg.Event(1).Enumerate()
	require.NoError(t, err)
	assert.True(t, r.Has(api.ReadyRead))

	_, err = unix.Write(b0, []byte("y"))
	require.NoError(t, err)
	got = <-waitAsync(reg)
	require.NoError(t, got.err)
	assert.Equal(t, 0, got.slot)
}

func TestRegistry_DisarmIsolatesSlot(t *testing.T) {
	reg, err := reactor.NewRegistry(4)
	require.NoError(t, err)
	defer reg.Release()

	a0, b0 := socketPair(t)
	a1, b1 := socketPair(t)
	ev0, ev1 := newEvent(t, a0), newEvent(t, a1)
	for _, ev := range []*reactor.Event{ev0, ev1} {
		slot, err := reg.Reserve()
		require.NoError(t, err)
		require.NoError(t, reg.Bind(slot, ev))
		_, _ = ev.Enumerate()
	}
	require.NoError(t, reg.Disarm(0))
	assert.False(t, reg.Armed(0))

	// A signal on the disarmed slot is seen by its isolated wait only.
	_, err = unix.Write(b0, []byte("x"))
	require.NoError(t, err)
	r, err := ev0.Wait()
	require.NoError(t, err)
	assert.True(t, r.Has(api.ReadyRead))

	_, err = unix.Write(b1, []byte("y"))
	require.NoError(t, err)
	got := <-waitAsync(reg)
	require.NoError(t, got.err)
	assert.Equal(t, 1, got.slot)

	require.NoError(t, reg.Arm(0))
	assert.True(t, reg.Armed(0))
}

func TestRegistry_PeerCloseReadiness(t *testing.T) {
	a, b := socketPair(t)
	ev := newEvent(t, a)
	_, _ = ev.Enumerate()

	require.NoError(t, unix.Close(b))
	r, err := ev.Wait()
	require.NoError(t, err)
	assert.True(t, r.Has(api.ReadyClose), "got %s", r)
}

func TestRegistry_CloseWakesWait(t *testing.T) {
	reg, err := reactor.NewRegistry(1)
	require.NoError(t, err)
	ch := waitAsync(reg)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Close())

	select {
	case got := <-ch:
		assert.ErrorIs(t, got.err, api.ErrRegistryClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Close")
	}
	require.NoError(t, reg.Release())

	_, err = reg.Reserve()
	assert.ErrorIs(t, err, api.ErrRegistryClosed)
}

func TestEvent_InterruptIsolatedWait(t *testing.T) {
	a, _ := socketPair(t)
	ev := newEvent(t, a)
	_, _ = ev.Enumerate()

	done := make(chan error, 1)
	go func() {
		_, err := ev.Wait()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ev.Interrupt())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, api.ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Interrupt")
	}
}

func TestRegistry_UnbindAndRebind(t *testing.T) {
	reg, err := reactor.NewRegistry(2)
	require.NoError(t, err)
	defer reg.Release()

	slot, err := reg.Reserve()
	require.NoError(t, err)
	a, _ := socketPair(t)
	c, _ := socketPair(t)
	first, second := newEvent(t, a), newEvent(t, c)

	require.NoError(t, reg.Bind(slot, first))
	require.NoError(t, reg.Bind(slot, second))
	assert.Same(t, second, reg.Event(slot))
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, reg.Unbind(slot))
	assert.Nil(t, reg.Event(slot))
	assert.ErrorIs(t, reg.Disarm(slot), api.ErrInvalidArgument)
	assert.ErrorIs(t, reg.Bind(5, first), api.ErrInvalidArgument)
}
