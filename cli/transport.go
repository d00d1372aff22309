package cli

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// Transport is the byte stream carrying an interactive shell.
type Transport interface {
	io.ReadWriteCloser
}

type sshTransport struct {
	client  *ssh.Client
	session *ssh.Session
	io.Reader
	io.WriteCloser
}

// NewSSHTransport connects to target and starts a login shell on a dumb terminal with
// echo disabled.
func NewSSHTransport(ctx context.Context, sshcfg *ssh.ClientConfig, target string) (rt Transport, err error) {
	t := &sshTransport{}
	defer func() {
		if err != nil {
			_ = t.Close()
		}
	}()

	if t.client, err = dial(ctx, target, sshcfg); err != nil {
		return nil, errors.Wrap(err, "ssh dial failed")
	}
	if t.session, err = t.client.NewSession(); err != nil {
		return nil, errors.Wrap(err, "new ssh session failed")
	}
	if t.Reader, err = t.session.StdoutPipe(); err != nil {
		return nil, err
	}
	if t.WriteCloser, err = t.session.StdinPipe(); err != nil {
		return nil, err
	}

	terminalMode := ssh.TerminalModes{
		ssh.ECHO: 0,
	}
	if err = t.session.RequestPty("dumb", 80, 200, terminalMode); err != nil {
		return nil, errors.Wrap(err, "request pty failed")
	}
	if err = t.session.Shell(); err != nil {
		return nil, errors.Wrap(err, "login shell failed")
	}
	return t, nil
}

func dial(ctx context.Context, target string, sshcfg *ssh.ClientConfig) (*ssh.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, target, sshcfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func (t *sshTransport) Close() error {
	if t.WriteCloser != nil {
		_ = t.WriteCloser.Close()
	}
	if t.session != nil {
		_ = t.session.Close()
	}
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}
