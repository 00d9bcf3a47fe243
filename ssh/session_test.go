package ssh

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeChannel is a minimal in-memory Channel for exercising Session
// without a real mux/transport.
type fakeChannel struct {
	written  bytes.Buffer
	reqs     []string
	replyOK  bool
	stderr   bytes.Buffer
	closed   bool
	closedWr bool
}

func (f *fakeChannel) Read(p []byte) (int, error)  { return 0, io.EOF }
func (f *fakeChannel) Write(p []byte) (int, error) { return f.written.Write(p) }
func (f *fakeChannel) Close() error                { f.closed = true; return nil }
func (f *fakeChannel) CloseWrite() error            { f.closedWr = true; return nil }
func (f *fakeChannel) SendRequest(name string, wantReply bool, payload []byte) (bool, error) {
	f.reqs = append(f.reqs, name)
	return f.replyOK, nil
}
func (f *fakeChannel) Stderr() io.ReadWriter { return &stderrRW{&f.stderr} }

type stderrRW struct{ buf *bytes.Buffer }

func (s *stderrRW) Read(p []byte) (int, error)  { return 0, io.EOF }
func (s *stderrRW) Write(p []byte) (int, error) { return s.buf.Write(p) }

func TestTerminalModesEncodeTerminatesWithEnd(t *testing.T) {
	modes := TerminalModes{ECHO: 1}
	encoded := modes.encode()
	require.Equal(t, byte(tty_OP_END), encoded[len(encoded)-1])
	require.Equal(t, byte(ECHO), encoded[0])
}

func TestSessionStartSendsExecRequest(t *testing.T) {
	ch := &fakeChannel{replyOK: true}
	s, err := newSession(ch, make(chan *Request))
	require.NoError(t, err)

	require.NoError(t, s.Start("uptime"))
	require.Contains(t, ch.reqs, "exec")
	require.True(t, s.started)

	err = s.Start("again")
	require.Error(t, err)
}

func TestSessionWaitReportsExitStatus(t *testing.T) {
	ch := &fakeChannel{replyOK: true}
	in := make(chan *Request)
	s, err := newSession(ch, in)
	require.NoError(t, err)
	require.NoError(t, s.Start("false"))

	go func() {
		in <- &Request{Type: "exit-status", Payload: Marshal(&exitStatusMsg{Status: 1})}
		close(in)
	}()

	err = s.Wait()
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.ExitStatus)
}

func TestSessionOutputRejectsPresetStdout(t *testing.T) {
	ch := &fakeChannel{replyOK: true}
	s, err := newSession(ch, make(chan *Request))
	require.NoError(t, err)
	s.Stdout = &bytes.Buffer{}

	_, err = s.Output("echo hi")
	require.Error(t, err)
}

func TestStdinPipeRegistersExactlyOneCopy(t *testing.T) {
	ch := &fakeChannel{replyOK: true}
	s, err := newSession(ch, make(chan *Request))
	require.NoError(t, err)

	pw, err := s.StdinPipe()
	require.NoError(t, err)
	defer pw.Close()

	require.NoError(t, s.Start("cat"))
	require.Len(t, s.copyFuncs, 1)
}
