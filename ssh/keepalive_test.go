package ssh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithKeepaliveZeroIntervalIsNoop(t *testing.T) {
	c := &Client{}
	opt := WithKeepalive(0, 0)
	require.NotPanics(t, func() { opt(c) })
}
