// Package netconf carries table fetches and resource writes to a device over NETCONF.
package netconf

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/damianoneill/nettables/common"
)

// Request is the body of an rpc; either an XML string used verbatim, or a value marshalled
// with encoding/xml.
type Request interface{}

// HelloMessage defines the message sent/received during session negotiation.
type HelloMessage struct {
	XMLName      xml.Name `xml:"urn:ietf:params:xml:ns:netconf:base:1.0 hello"`
	Capabilities []string `xml:"capabilities>capability"`
	SessionID    uint64   `xml:"session-id,omitempty"`
}

// Define netconf URNs.
const (
	NetconfNS = "urn:ietf:params:xml:ns:netconf:base:1.0"
	CapBase10 = "urn:ietf:params:netconf:base:1.0"
	CapBase11 = "urn:ietf:params:netconf:base:1.1"
	CapXpath  = "urn:ietf:params:netconf:capability:xpath:1.0"
)

// DefaultCapabilities sets the capabilities advertised by a session.
var DefaultCapabilities = []string{CapBase10, CapBase11, CapXpath}

func supportsChunkedFraming(caps []string) bool {
	for _, c := range caps {
		if c == CapBase11 {
			return true
		}
	}
	return false
}

// EncodeRequest renders the body of an rpc.
func EncodeRequest(req Request) (string, error) {
	switch r := req.(type) {
	case string:
		return r, nil
	case *common.Element:
		return r.String(), nil
	}
	b, err := xml.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "encode request")
	}
	return string(b), nil
}

// Session is a netconf session over a single transport. Requests may be executed
// concurrently; replies are delivered in request order.
type Session struct {
	cfg    *Config
	t      Transport
	fr     *framer
	trace  *SessionTrace
	target string
	hello  *HelloMessage

	reqLock sync.Mutex
	qLock   sync.Mutex
	queue   []chan *common.RPCReply
	closed  bool
}

// Dial connects to the target using the ssh configuration and establishes a netconf session.
func Dial(ctx context.Context, sshcfg *ssh.ClientConfig, target string, cfg *Config) (*Session, error) {
	t, err := NewSSHTransport(ctx, sshcfg, target, "netconf")
	if err != nil {
		return nil, err
	}
	s, err := NewSession(ctx, t, target, cfg)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return s, nil
}

// NewSession exchanges hello messages over t and starts reading replies.
func NewSession(ctx context.Context, t Transport, target string, cfg *Config) (*Session, error) {
	resolved := resolveConfig(cfg)
	s := &Session{cfg: resolved, t: t, fr: newFramer(t), trace: ContextSessionTrace(ctx), target: target}

	b, err := xml.Marshal(&HelloMessage{Capabilities: DefaultCapabilities})
	if err == nil {
		err = s.fr.writeMessage(b)
	}
	if err != nil {
		s.trace.Error("Failed to send hello", target, err)
		return nil, errors.Wrap(err, "send hello")
	}

	if err = s.waitForServerHello(ctx); err != nil {
		s.trace.Error("Failed to receive hello", target, err)
		_ = t.Close()
		return nil, err
	}
	if supportsChunkedFraming(s.hello.Capabilities) {
		s.fr.chunked = true
	}
	s.trace.HelloDone(s.hello)

	go s.handleIncomingMessages()
	return s, nil
}

func resolveConfig(cfg *Config) *Config {
	resolved := Config{}
	if cfg != nil {
		resolved = *cfg
	}
	_ = mergo.Merge(&resolved, DefaultConfig)
	return &resolved
}

func (s *Session) waitForServerHello(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		msg, err := s.fr.readMessage()
		if err == nil {
			s.hello = &HelloMessage{}
			err = xml.Unmarshal(msg, s.hello)
		}
		done <- err
	}()

	select {
	case err := <-done:
		return errors.Wrap(err, "read hello")
	case <-time.After(time.Duration(s.cfg.SetupTimeoutSecs) * time.Second):
		return errors.New("failed to get hello from server")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute sends the request and waits for its reply. A reply holding an error of fatal
// severity is returned along with that error.
func (s *Session) Execute(req Request) (reply *common.RPCReply, err error) {
	s.trace.ExecuteStart(req)
	defer func(begin time.Time) {
		s.trace.ExecuteDone(req, reply, err, time.Since(begin))
	}(time.Now())

	body, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf(`<rpc xmlns=%q message-id=%q>%s</rpc>`, NetconfNS, uuid.NewString(), body)

	rchan := make(chan *common.RPCReply, 1)
	s.reqLock.Lock()
	if !s.pushRespChan(rchan) {
		s.reqLock.Unlock()
		return nil, io.ErrUnexpectedEOF
	}
	if err = s.fr.writeMessage([]byte(msg)); err != nil {
		s.dropRespChan(rchan)
	}
	s.reqLock.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "send rpc")
	}

	reply = <-rchan
	if reply == nil {
		return nil, io.ErrUnexpectedEOF
	}
	if fatal, _ := reply.SplitErrors(); fatal != nil {
		return reply, fatal
	}
	return reply, nil
}

// Close closes the session and releases any associated resources. Outstanding requests
// return io.ErrUnexpectedEOF.
func (s *Session) Close() error {
	return s.t.Close()
}

// ID delivers the server-allocated id of the session.
func (s *Session) ID() uint64 {
	return s.hello.SessionID
}

// ServerCapabilities delivers the server-supplied capabilities.
func (s *Session) ServerCapabilities() []string {
	return s.hello.Capabilities
}

func (s *Session) handleIncomingMessages() {
	defer s.closeAllResponseChannels()

	for {
		msg, err := s.fr.readMessage()
		if err != nil {
			if err != io.EOF {
				s.trace.Error("Failed to read message", s.target, err)
			}
			return
		}
		name, err := rootName(msg)
		if err != nil {
			s.trace.Error("Failed to decode message", s.target, err)
			continue
		}
		// Anything other than a reply (a notification) is ignored.
		if name != "rpc-reply" {
			continue
		}
		reply := &common.RPCReply{}
		if err = xml.Unmarshal(msg, reply); err != nil {
			s.trace.Error("Failed to decode rpc-reply", s.target, err)
			reply = &common.RPCReply{Errors: []common.RPCError{{Severity: common.SeverityError, Message: err.Error()}}}
		}
		reply.RawReply = string(msg)
		if ch := s.popRespChan(); ch != nil {
			ch <- reply
		}
	}
}

func rootName(msg []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(msg))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

// pushRespChan queues ch for the next reply, returning false once the session has ended.
func (s *Session) pushRespChan(ch chan *common.RPCReply) bool {
	s.qLock.Lock()
	defer s.qLock.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, ch)
	return true
}

func (s *Session) popRespChan() (ch chan *common.RPCReply) {
	s.qLock.Lock()
	defer s.qLock.Unlock()
	if len(s.queue) > 0 {
		s.queue, ch = s.queue[1:], s.queue[0]
	}
	return
}

func (s *Session) dropRespChan(ch chan *common.RPCReply) {
	s.qLock.Lock()
	defer s.qLock.Unlock()
	for i, c := range s.queue {
		if c == ch {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *Session) closeAllResponseChannels() {
	s.qLock.Lock()
	s.closed = true
	s.qLock.Unlock()
	for {
		ch := s.popRespChan()
		if ch == nil {
			return
		}
		close(ch)
	}
}
