package terminal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTerminalFalseForRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	require.NoError(t, err)
	defer f.Close()

	require.False(t, IsTerminal(int(f.Fd())))
}

func TestGetSizeFailsForRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	require.NoError(t, err)
	defer f.Close()

	_, _, err = GetSize(int(f.Fd()))
	require.Error(t, err)
}

func TestMakeRawFailsForRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	require.NoError(t, err)
	defer f.Close()

	_, err = MakeRaw(int(f.Fd()))
	require.Error(t, err)
}
