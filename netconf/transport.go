package netconf

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// Transport is the byte stream carrying a netconf session.
type Transport interface {
	io.ReadWriteCloser
}

type sshTransport struct {
	io.Reader
	io.WriteCloser
	sshSession *ssh.Session
	sshClient  *ssh.Client
	target     string
	trace      *SessionTrace
}

// NewSSHTransport creates a new SSH transport, connecting to the target with the supplied client configuration
// and requesting the specified subsystem.
func NewSSHTransport(ctx context.Context, clientConfig *ssh.ClientConfig, target, subsystem string) (rt Transport, err error) {
	t := &sshTransport{target: target, trace: ContextSessionTrace(ctx)}
	t.trace.ConnectStart(clientConfig, target)
	defer func(begin time.Time) {
		t.trace.ConnectDone(clientConfig, target, err, time.Since(begin))
	}(time.Now())

	defer func() {
		if err != nil {
			_ = t.Close()
		}
	}()

	if t.sshClient, err = dial(ctx, target, clientConfig); err != nil {
		return nil, errors.Wrap(err, "ssh dial failed")
	}
	if t.sshSession, err = t.sshClient.NewSession(); err != nil {
		return nil, errors.Wrap(err, "new ssh session failed")
	}
	if t.WriteCloser, err = t.sshSession.StdinPipe(); err != nil {
		return nil, err
	}
	if t.Reader, err = t.sshSession.StdoutPipe(); err != nil {
		return nil, err
	}
	if err = t.sshSession.RequestSubsystem(subsystem); err != nil {
		return nil, errors.Wrapf(err, "request subsystem %s failed", subsystem)
	}
	return t, nil
}

// dial connects to the target, abandoning the attempt if ctx is done first.
func dial(ctx context.Context, target string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", target, clientConfig)
		done <- result{c, err}
	}()
	select {
	case r := <-done:
		return r.client, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close closes all session resources in the following order:
//
//  1. stdin pipe
//  2. SSH session
//  3. SSH client
//
// Errors are returned with priority matching the same order.
func (t *sshTransport) Close() (err error) {
	defer func() {
		t.trace.ConnectionClosed(t.target, err)
	}()

	var writeCloseErr, sessionCloseErr error
	if t.WriteCloser != nil {
		writeCloseErr = t.WriteCloser.Close()
	}
	if t.sshSession != nil {
		sessionCloseErr = t.sshSession.Close()
	}
	if t.sshClient != nil {
		err = t.sshClient.Close()
	}
	if err == nil {
		err = writeCloseErr
	}
	if err == nil && sessionCloseErr != io.EOF {
		err = sessionCloseErr
	}
	return err
}
