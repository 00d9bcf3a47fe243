package ssh

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthAbortErrorMessage(t *testing.T) {
	err := &AuthAbortError{Reason: "exceeded 20 attempt(s)"}
	require.Contains(t, err.Error(), "exceeded 20 attempt(s)")
}

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func TestIsTimeoutErrorDetectsNetTimeout(t *testing.T) {
	require.True(t, isTimeoutError(fakeTimeoutError{}))
	require.True(t, isTimeoutError(fmt.Errorf("wrapped: %w", fakeTimeoutError{})))
}

func TestIsTimeoutErrorFalseForOrdinaryErrors(t *testing.T) {
	require.False(t, isTimeoutError(fmt.Errorf("short packet")))
}

func TestIsTimeoutErrorMatchesNetOpError(t *testing.T) {
	opErr := &net.OpError{Op: "read", Err: fakeTimeoutError{}}
	require.True(t, isTimeoutError(opErr))
}
