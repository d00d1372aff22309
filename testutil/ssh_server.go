// Package testutil provides an in-process SSH server for exercising device collaborators.
package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/ssh"
)

// Handler serves a session channel once the client has started a shell or requested a
// subsystem. service is "shell" or the subsystem name. The channel is closed when the
// handler returns.
type Handler func(service string, ch io.ReadWriter)

// SSHServer represents a test SSH Server
type SSHServer struct {
	listener net.Listener
}

// NewSSHServer delivers a new test SSH Server listening on an ephemeral localhost port.
// The server implements password authentication with the given credentials.
func NewSSHServer(t *testing.T, uname, password string, handler Handler) *SSHServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err, "Listen failed")

	go acceptConnections(t, listener, newSSHServerConfig(t, uname, password), handler)

	return &SSHServer{listener: listener}
}

// Address delivers the host:port on which the server is listening.
func (ts *SSHServer) Address() string {
	return ts.listener.Addr().String()
}

// Close closes any resources used by the server.
func (ts *SSHServer) Close() {
	_ = ts.listener.Close()
}

// ClientConfig returns a client configuration that authenticates with the given credentials
// and accepts any host key.
func ClientConfig(uname, password string) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            uname,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // nolint: gosec
	}
}

func acceptConnections(t *testing.T, listener net.Listener, config *ssh.ServerConfig, handler Handler) {
	for {
		nConn, err := listener.Accept()
		if err != nil {
			return
		}
		go serveConnection(t, nConn, config, handler)
	}
}

func serveConnection(t *testing.T, nConn net.Conn, config *ssh.ServerConfig, handler Handler) {
	conn, chch, reqch, err := ssh.NewServerConn(nConn, config)
	if err != nil {
		return
	}
	defer conn.Close()

	go ssh.DiscardRequests(reqch)

	for newChannel := range chch {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newChannel.Accept()
		assert.NoError(t, err, "Failed to accept new channel")
		if err != nil {
			return
		}
		go serveRequests(t, ch, requests, handler)
	}
}

func serveRequests(t *testing.T, ch ssh.Channel, requests <-chan *ssh.Request, handler Handler) {
	for req := range requests {
		service := ""
		switch req.Type {
		case "shell":
			service = "shell"
		case "subsystem":
			// The payload is an ssh string; a uint32 length followed by the name.
			if len(req.Payload) >= 4 {
				n := binary.BigEndian.Uint32(req.Payload)
				if int(n) <= len(req.Payload)-4 {
					service = string(req.Payload[4 : 4+n])
				}
			}
		}
		ok := service != "" || req.Type == "pty-req"
		if req.WantReply {
			assert.NoError(t, req.Reply(ok, nil), "Request reply failed")
		}
		if service != "" {
			go func() {
				defer ch.Close()
				handler(service, ch)
			}()
		}
	}
}

func newSSHServerConfig(t *testing.T, uname, password string) *ssh.ServerConfig {
	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == uname && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}

	config.AddHostKey(generateHostKey(t))
	return config
}

func generateHostKey(t *testing.T) ssh.Signer {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	assert.NoError(t, err, "Failed to generate host key")
	signer, err := ssh.NewSignerFromKey(key)
	assert.NoError(t, err, "Failed to create host key signer")
	return signer
}
