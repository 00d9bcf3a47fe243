// Command sshc is a minimal interactive SSH client exercising the
// Client/Session façade end to end: dialing, host key verification,
// password or public-key authentication, and an interactive or
// one-shot remote command session.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/zmap/zflags"

	"github.com/corvid-labs/gossh/ssh"
	"github.com/corvid-labs/gossh/ssh/terminal"
)

// Flags are the command-line options sshc accepts.
type Flags struct {
	Host               string `long:"host" description:"target host" required:"true"`
	Port               int    `long:"port" default:"22" description:"target port"`
	User               string `long:"user" description:"username to authenticate as" required:"true"`
	IdentityFile       string `long:"identity" short:"i" description:"path to a PEM or OpenSSH private key"`
	Password           string `long:"password" description:"password to authenticate with, if no identity is given"`
	Command            string `long:"command" short:"c" description:"command to run non-interactively; omit for an interactive shell"`
	InsecureIgnoreHost bool   `long:"insecure-ignore-host-key" description:"skip host key verification (testing only)"`
	KeepaliveSeconds   int    `long:"keepalive" default:"30" description:"seconds between keepalive@openssh.com probes; 0 disables"`
	LocalPTYShell      string `long:"local-pty-shell" description:"instead of dialing, spawn this local command under a pty and pipe it through the same raw-mode/resize plumbing a remote session would use; for demoing the terminal handling without a server"`
}

func main() {
	var opts Flags
	parser := zflags.NewParser(&opts, zflags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	if err := run(&opts); err != nil {
		fmt.Fprintln(os.Stderr, "sshc:", err)
		os.Exit(1)
	}
}

func run(opts *Flags) error {
	if opts.LocalPTYShell != "" {
		return runLocalPTY(opts.LocalPTYShell)
	}

	auth, err := authMethod(opts)
	if err != nil {
		return err
	}

	if !opts.InsecureIgnoreHost {
		return fmt.Errorf("refusing to connect without -insecure-ignore-host-key: no known_hosts verification is wired up")
	}

	config := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		BannerCallback:  ssh.BannerDisplayStderr(),
	}
	config.KeepaliveInterval = time.Duration(opts.KeepaliveSeconds) * time.Second

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	if opts.Command != "" {
		return runCommand(session, opts.Command)
	}
	return runShell(session)
}

func authMethod(opts *Flags) (ssh.AuthMethod, error) {
	if opts.IdentityFile != "" {
		keyBytes, err := os.ReadFile(opts.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse identity file: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(opts.Password), nil
}

// runCommand executes a single remote command and copies its stdout and
// stderr to the local stdout and stderr, mirroring ssh(1)'s
// non-interactive mode.
func runCommand(session *ssh.Session, command string) error {
	session.Stdout = os.Stdout
	session.Stderr = os.Stderr
	return session.Run(command)
}

// runShell requests a pty and an interactive shell, forwarding the
// local terminal's raw keystrokes and resize events to the remote
// side. If stdin isn't a terminal (piped input, a script) it falls
// back to a plain, non-pty shell with stdio wired straight through.
func runShell(session *ssh.Session) error {
	fd := int(os.Stdin.Fd())
	if !terminal.IsTerminal(fd) {
		session.Stdin = os.Stdin
		session.Stdout = os.Stdout
		session.Stderr = os.Stderr
		if err := session.Shell(); err != nil {
			return err
		}
		return session.Wait()
	}

	width, height, err := terminal.GetSize(fd)
	if err != nil {
		width, height = 80, 24
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(termType(), height, width, modes); err != nil {
		return fmt.Errorf("request pty: %w", err)
	}

	state, err := terminal.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("make raw: %w", err)
	}
	defer terminal.Restore(fd, state)

	session.Stdin = os.Stdin
	session.Stdout = os.Stdout
	session.Stderr = os.Stderr

	done := make(chan struct{})
	defer close(done)
	go watchResize(session, fd, done)

	if err := session.Shell(); err != nil {
		return fmt.Errorf("shell: %w", err)
	}
	return session.Wait()
}

// runLocalPTY spawns shellCmd under a local pty and puts the caller's
// terminal in raw mode around it, exercising the same pty-allocation
// and resize plumbing runShell drives against a remote session, without
// needing a server to connect to.
func runLocalPTY(shellCmd string) error {
	cmd := exec.Command(shellCmd)
	master, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start local pty: %w", err)
	}
	defer master.Close()

	fd := int(os.Stdin.Fd())
	if terminal.IsTerminal(fd) {
		state, err := terminal.MakeRaw(fd)
		if err == nil {
			defer terminal.Restore(fd, state)
		}
		if w, h, err := terminal.GetSize(fd); err == nil {
			pty.Setsize(master, &pty.Winsize{Cols: uint16(w), Rows: uint16(h)})
		}

		resize := make(chan os.Signal, 1)
		signal.Notify(resize, syscall.SIGWINCH)
		defer signal.Stop(resize)
		go func() {
			for range resize {
				if w, h, err := terminal.GetSize(fd); err == nil {
					pty.Setsize(master, &pty.Winsize{Cols: uint16(w), Rows: uint16(h)})
				}
			}
		}()
	}

	go io.Copy(master, os.Stdin)
	io.Copy(os.Stdout, master)
	return cmd.Wait()
}

func watchResize(session *ssh.Session, fd int, done <-chan struct{}) {
	resize := make(chan os.Signal, 1)
	signal.Notify(resize, syscall.SIGWINCH)
	defer signal.Stop(resize)
	for {
		select {
		case <-done:
			return
		case <-resize:
			if w, h, err := terminal.GetSize(fd); err == nil {
				session.WindowChange(h, w)
			}
		}
	}
}

func termType() string {
	if t := os.Getenv("TERM"); t != "" {
		return t
	}
	return "xterm-256color"
}
