// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package terminal provides the raw-mode handling cmd/sshc needs to
// run an interactive remote shell: putting the local pty into raw
// mode before forwarding keystrokes, and restoring it on exit.
package terminal

import (
	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
)

// State contains the state of a terminal, captured before putting it
// into raw mode, so it can later be restored.
type State struct {
	termios unix.Termios
}

// IsTerminal returns whether fd is connected to a terminal.
func IsTerminal(fd int) bool {
	return isatty.IsTerminal(uintptr(fd))
}

// GetSize returns the dimensions of fd, in characters.
func GetSize(fd int) (width, height int, err error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Col), int(ws.Row), nil
}

// MakeRaw puts the terminal connected to fd into raw mode and returns
// the previous state so the caller can restore it with Restore.
func MakeRaw(fd int) (*State, error) {
	termios, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return nil, err
	}

	oldState := &State{termios: *termios}

	raw := *termios
	raw.Iflag &^= unix.ISTRIP | unix.INLCR | unix.ICRNL | unix.IGNCR | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.ISIG
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, ioctlWriteTermios, &raw); err != nil {
		return nil, err
	}
	return oldState, nil
}

// Restore restores the terminal connected to fd to a previous state.
func Restore(fd int, state *State) error {
	return unix.IoctlSetTermios(fd, ioctlWriteTermios, &state.termios)
}
