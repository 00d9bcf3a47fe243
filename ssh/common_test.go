package ssh

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigSetDefaultsKeepaliveMaxMissed(t *testing.T) {
	var c Config
	c.KeepaliveInterval = 30
	c.SetDefaults()
	require.Equal(t, 3, c.KeepaliveMaxMissed)

	var untouched Config
	untouched.SetDefaults()
	require.Zero(t, untouched.KeepaliveMaxMissed)
}

func TestFindCommonPrefersClientOrder(t *testing.T) {
	got, err := findCommon("cipher", []string{"a", "b", "c"}, []string{"c", "b"})
	require.NoError(t, err)
	require.Equal(t, "b", got)
}

func TestFindCommonNoOverlap(t *testing.T) {
	_, err := findCommon("cipher", []string{"a"}, []string{"b"})
	require.Error(t, err)
}

func TestWindowReserveBlocksUntilAdd(t *testing.T) {
	w := &window{Cond: newCond()}

	released := make(chan uint32, 1)
	go func() {
		n, err := w.reserve(10)
		require.NoError(t, err)
		released <- n
	}()

	w.waitWriterBlocked()
	require.True(t, w.add(10))

	select {
	case n := <-released:
		require.Equal(t, uint32(10), n)
	case <-time.After(time.Second):
		t.Fatal("reserve did not unblock after add")
	}
}

func TestWindowCloseUnblocksReserveWithEOF(t *testing.T) {
	w := &window{Cond: newCond()}
	done := make(chan error, 1)
	go func() {
		_, err := w.reserve(1)
		done <- err
	}()

	w.waitWriterBlocked()
	w.close()
	require.ErrorIs(t, <-done, io.EOF)
}

func TestWindowBlocked(t *testing.T) {
	w := &window{Cond: newCond()}
	require.True(t, w.blocked())
	w.add(5)
	require.False(t, w.blocked())
}
