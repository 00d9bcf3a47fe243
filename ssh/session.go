package ssh

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Signal names the POSIX signals recognized by RFC 4254 section 6.9.
type Signal string

const (
	SIGABRT Signal = "ABRT"
	SIGALRM Signal = "ALRM"
	SIGFPE  Signal = "FPE"
	SIGHUP  Signal = "HUP"
	SIGILL  Signal = "ILL"
	SIGINT  Signal = "INT"
	SIGKILL Signal = "KILL"
	SIGPIPE Signal = "PIPE"
	SIGQUIT Signal = "QUIT"
	SIGSEGV Signal = "SEGV"
	SIGTERM Signal = "TERM"
	SIGUSR1 Signal = "USR1"
	SIGUSR2 Signal = "USR2"
)

// TerminalModes encodes an RFC 4254 section 8 terminal mode string: a
// sequence of opcode/uint32 pairs terminated by TTY_OP_END.
type TerminalModes map[uint8]uint32

// POSIX terminal mode opcodes, RFC 4254 section 8.
const (
	tty_OP_END = 0

	VINTR    = 1
	VQUIT    = 2
	VERASE   = 3
	VEOF     = 5
	ISIG     = 50
	ICANON   = 51
	ECHO     = 53
	ECHOE    = 54
	ICRNL    = 36
	OPOST    = 70
	TTY_OP_ISPEED = 128
	TTY_OP_OSPEED = 129
)

func (m TerminalModes) encode() []byte {
	var buf bytes.Buffer
	for opcode, value := range m {
		buf.WriteByte(opcode)
		binary.Write(&buf, binary.BigEndian, value)
	}
	buf.WriteByte(tty_OP_END)
	return buf.Bytes()
}

// ExitError reports unsuccessful completion of a remote command: either
// an explicit nonzero exit status, or termination by signal.
type ExitError struct {
	ExitStatus int
	Signal     string
	Msg        string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("ssh: process terminated by signal %s: %s", e.Signal, e.Msg)
	}
	return fmt.Sprintf("ssh: process exited with status %d", e.ExitStatus)
}

// Session represents one RFC 4254 session channel: an exec, shell, or
// subsystem request together with its standard streams.
type Session struct {
	// Stdin, if non-nil, is copied to the remote process's stdin
	// once the session's run request has been accepted.
	Stdin io.Reader

	// Stdout and Stderr, if non-nil, receive the remote process's
	// standard output and standard error streams.
	Stdout io.Writer
	Stderr io.Writer

	ch  Channel
	in  <-chan *Request

	started   bool
	copyFuncs []func() error
	mu        sync.Mutex
}

// newSession wraps an opened "session" channel as a Session. Requests
// the peer sends on the channel (exit-status, exit-signal, and any
// others) are read by Wait once the session has been started.
func newSession(ch Channel, in <-chan *Request) (*Session, error) {
	s := &Session{
		ch: ch,
		in: in,
	}
	return s, nil
}

// RequestPty requests the association of a pty with the session,
// RFC 4254 section 6.2.
func (s *Session) RequestPty(term string, h, w int, modes TerminalModes) error {
	req := ptyRequestMsg{
		Term:     term,
		Columns:  uint32(w),
		Rows:     uint32(h),
		Width:    0,
		Height:   0,
		Modelist: string(modes.encode()),
	}
	ok, err := s.ch.SendRequest("pty-req", true, Marshal(&req))
	if err == nil && !ok {
		return errors.New("ssh: pty-req failed")
	}
	return err
}

// WindowChange informs the remote host of a local terminal window
// size change, RFC 4254 section 6.7.
func (s *Session) WindowChange(h, w int) error {
	req := ptyWindowChangeMsg{
		Columns: uint32(w),
		Rows:    uint32(h),
	}
	_, err := s.ch.SendRequest("window-change", false, Marshal(&req))
	return err
}

// Signal sends a signal to the remote process, RFC 4254 section 6.9.
// Signal names are appended to "SIG" by the remote side per the RFC.
func (s *Session) Signal(sig Signal) error {
	req := signalMsg{
		Signal: string(sig),
	}
	_, err := s.ch.SendRequest("signal", false, Marshal(&req))
	return err
}

// Setenv sets an environment variable that will be applied to any
// command executed by Shell, Run, Start or Output. Most servers
// restrict which variables may be set this way; see AcceptEnv in
// sshd_config(5).
func (s *Session) Setenv(name, value string) error {
	req := struct {
		Name  string
		Value string
	}{name, value}
	ok, err := s.ch.SendRequest("env", true, Marshal(&req))
	if err == nil && !ok {
		return fmt.Errorf("ssh: setenv %q failed", name)
	}
	return err
}

func (s *Session) start(req []byte, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("ssh: session already started")
	}
	s.started = true

	ok, err := s.ch.SendRequest(name, true, req)
	if err == nil && !ok {
		return fmt.Errorf("ssh: %s request failed", name)
	}
	if err != nil {
		return err
	}

	s.stdin()
	s.stdout()
	s.stderr()
	for i, fn := range s.copyFuncs {
		errc := make(chan error, 1)
		go func(fn func() error) { errc <- fn() }(fn)
		s.copyFuncs[i] = func() error { return <-errc }
	}
	return nil
}

// Shell starts a login shell on the remote host, RFC 4254 section 6.5.
func (s *Session) Shell() error {
	return s.start(nil, "shell")
}

// Run runs cmd on the remote host, waiting for it to terminate. Stdin,
// Stdout and Stderr are wired to the same-named fields, if set, before
// the command starts.
func (s *Session) Run(cmd string) error {
	if err := s.Start(cmd); err != nil {
		return err
	}
	return s.Wait()
}

// Start runs cmd on the remote host, but does not wait for it to
// complete.
func (s *Session) Start(cmd string) error {
	req := struct {
		Command string
	}{cmd}
	return s.start(Marshal(&req), "exec")
}

// Subsystem starts an RFC 4254 section 6.5 subsystem, such as sftp.
func (s *Session) Subsystem(subsystem string) error {
	req := struct {
		Subsystem string
	}{subsystem}
	return s.start(Marshal(&req), "subsystem")
}

// Output runs cmd on the remote host and returns its standard output.
func (s *Session) Output(cmd string) ([]byte, error) {
	if s.Stdout != nil {
		return nil, errors.New("ssh: Stdout already set")
	}
	var b bytes.Buffer
	s.Stdout = &b
	err := s.Run(cmd)
	return b.Bytes(), err
}

// CombinedOutput runs cmd on the remote host and returns its combined
// standard output and standard error.
func (s *Session) CombinedOutput(cmd string) ([]byte, error) {
	if s.Stdout != nil {
		return nil, errors.New("ssh: Stdout already set")
	}
	if s.Stderr != nil {
		return nil, errors.New("ssh: Stderr already set")
	}
	var b singleWriteBuffer
	s.Stdout = &b
	s.Stderr = &b
	err := s.Run(cmd)
	return b.Bytes(), err
}

// singleWriteBuffer wraps bytes.Buffer with a mutex, since Run may
// copy stdout and stderr into it concurrently.
type singleWriteBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (w *singleWriteBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}

func (w *singleWriteBuffer) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Bytes()
}

func (s *Session) stdin() {
	if s.Stdin == nil {
		return
	}
	s.copyFuncs = append(s.copyFuncs, func() error {
		_, err := io.Copy(s.ch, s.Stdin)
		if err1 := s.ch.CloseWrite(); err == nil && err1 != io.EOF {
			err = err1
		}
		return err
	})
}

func (s *Session) stdout() {
	if s.Stdout == nil {
		return
	}
	s.copyFuncs = append(s.copyFuncs, func() error {
		_, err := io.Copy(s.Stdout, s.ch)
		return err
	})
}

func (s *Session) stderr() {
	if s.Stderr == nil {
		return
	}
	s.copyFuncs = append(s.copyFuncs, func() error {
		_, err := io.Copy(s.Stderr, s.ch.Stderr())
		return err
	})
}

// Wait waits for the remote command to exit and for the
// stdin/stdout/stderr copies started by Start to finish. It returns
// an *ExitError if the command exited with a nonzero status or was
// killed by a signal.
func (s *Session) Wait() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("ssh: session not started")
	}
	s.mu.Unlock()

	copyErrs := make(chan error, len(s.copyFuncs))
	for _, fn := range s.copyFuncs {
		go func(fn func() error) {
			copyErrs <- fn()
		}(fn)
	}

	var waitErr error
	for req := range s.in {
		switch req.Type {
		case "exit-status":
			var msg exitStatusMsg
			if err := Unmarshal(req.Payload, &msg); err != nil {
				waitErr = err
				continue
			}
			if msg.Status != 0 {
				waitErr = &ExitError{ExitStatus: int(msg.Status)}
			}
		case "exit-signal":
			var msg exitSignalMsg
			if err := Unmarshal(req.Payload, &msg); err != nil {
				waitErr = err
				continue
			}
			waitErr = &ExitError{Signal: msg.Signal, Msg: msg.Message}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}

	for range s.copyFuncs {
		if err := <-copyErrs; err != nil && waitErr == nil {
			waitErr = err
		}
	}

	return waitErr
}

// Close closes the session channel.
func (s *Session) Close() error {
	return s.ch.Close()
}

// StdinPipe returns a pipe connected to the remote command's stdin.
// The caller must close the pipe once all data has been written, and
// must not use Run/Start's Stdin field at the same time.
func (s *Session) StdinPipe() (io.WriteCloser, error) {
	if s.Stdin != nil {
		return nil, errors.New("ssh: Stdin already set")
	}
	pr, pw := io.Pipe()
	s.Stdin = pr
	return pw, nil
}

// StdoutPipe returns a pipe connected to the remote command's stdout.
// There is a fixed amount of buffering; the caller must read the pipe
// promptly or the remote command may block.
func (s *Session) StdoutPipe() (io.Reader, error) {
	if s.Stdout != nil {
		return nil, errors.New("ssh: Stdout already set")
	}
	pr, pw := io.Pipe()
	s.Stdout = pw
	return pr, nil
}

// StderrPipe returns a pipe connected to the remote command's extended
// data stream for stderr. There is a fixed amount of buffering; the
// caller must read the pipe promptly.
func (s *Session) StderrPipe() (io.Reader, error) {
	if s.Stderr != nil {
		return nil, errors.New("ssh: Stderr already set")
	}
	pr, pw := io.Pipe()
	s.Stderr = pw
	return pr, nil
}
