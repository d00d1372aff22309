// Package cli runs command tables against a device's interactive command line over SSH.
package cli

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
)

// SendOption implements options for configuring Send behaviour.
type SendOption func(*sendConfig)

// WaitFor defines the pattern that marks the end of the response to the send.
// Defaults to the current prompt.
func WaitFor(sentinel string) SendOption {
	return func(c *sendConfig) {
		c.responseSentinel = sentinel
	}
}

// NoNewline suppresses the newline that is by default appended to the Send string.
func NoNewline() SendOption {
	return func(c *sendConfig) {
		c.suppressNewline = true
	}
}

// ResetPrompt resets the current session prompt to the last unterminated line of response.
func ResetPrompt() SendOption {
	return func(c *sendConfig) {
		c.resetPrompt = true
	}
}

// NoWait indicates the Send should not wait for a response.
func NoWait() SendOption {
	return func(c *sendConfig) {
		c.noResponse = true
	}
}

type sendConfig struct {
	suppressNewline  bool
	resetPrompt      bool
	noResponse       bool
	responseSentinel string
}

// Option implements options for configuring session behaviour.
type Option func(*Config)

// WithCommands defines commands executed, responses discarded, once the session is established.
func WithCommands(cmds ...string) Option {
	return func(c *Config) {
		c.InitCommands = cmds
	}
}

// WithPrompt overrides prompt detection with a regular expression matching the cli prompt.
func WithPrompt(pattern string) Option {
	return func(c *Config) {
		c.Prompt = pattern
	}
}

// WithTimeout defines how long the session waits without receiving input before deciding
// the server has finished writing. Only used when detecting the prompt.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = timeout
	}
}

// Config defines properties controlling session behaviour.
type Config struct {
	// InitCommands are executed after establishing a new session.
	InitCommands []string
	// Prompt is a regular expression identifying the cli prompt. When empty the prompt is
	// detected as the last line the server writes at startup.
	Prompt string
	// ReadTimeout; see WithTimeout.
	ReadTimeout time.Duration
}

// DefaultConfig supplies values for any Config fields left unset.
var DefaultConfig = Config{
	ReadTimeout: time.Second,
}

// Session is an interactive cli session. It is not safe for concurrent use.
type Session struct {
	cfg   *Config
	tport Transport
	// prompt marks the end of a response.
	prompt *regexp.Regexp
	inputs chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewSession establishes a cli session over tport, capturing the prompt and running any
// initial commands.
func NewSession(ctx context.Context, tport Transport, opts ...Option) (*Session, error) {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	_ = mergo.Merge(&cfg, DefaultConfig)

	s := &Session{cfg: &cfg, tport: tport, inputs: make(chan []byte), done: make(chan struct{})}
	s.launchReader()

	var err error
	if cfg.Prompt == "" {
		err = s.capturePrompt(ctx)
	} else if s.prompt, err = regexp.Compile(cfg.Prompt); err != nil {
		err = errors.Wrap(err, "invalid prompt pattern")
	} else {
		// Swallow the banner up to the first prompt.
		_, err = s.readUntil(ctx, s.prompt)
	}
	if err != nil {
		s.stop()
		return nil, errors.Wrap(err, "failed to capture cli prompt")
	}

	for _, cmd := range cfg.InitCommands {
		if _, err = s.Send(ctx, cmd); err != nil {
			s.stop()
			return nil, errors.Wrap(err, "failed to execute initial command "+cmd)
		}
	}
	return s, nil
}

// Prompt returns the pattern currently marking the end of a response.
func (s *Session) Prompt() string {
	return s.prompt.String()
}

// capturePrompt reads until the server falls silent and takes the last line as the prompt.
func (s *Session) capturePrompt(ctx context.Context) error {
	b, err := s.readUntilTimeout(ctx)
	if err != nil {
		return err
	}
	b = bytes.ReplaceAll(b, []byte("\r"), nil)
	last := b[bytes.LastIndex(b, []byte("\n"))+1:]
	if len(bytes.TrimSpace(last)) == 0 {
		return errors.New("no prompt received")
	}
	s.prompt = regexp.MustCompile(regexp.QuoteMeta(string(last)) + "$")
	return nil
}

func (s *Session) readUntilTimeout(ctx context.Context) ([]byte, error) {
	var output bytes.Buffer
	for {
		select {
		case rd, ok := <-s.inputs:
			if !ok {
				return nil, io.EOF
			}
			output.Write(rd)
		case <-time.After(s.cfg.ReadTimeout):
			return output.Bytes(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Send writes value to the server and returns the response, up to but excluding the line
// holding the prompt.
func (s *Session) Send(ctx context.Context, value string, opts ...SendOption) (string, error) {
	config := &sendConfig{}
	for _, opt := range opts {
		opt(config)
	}

	var sentinel *regexp.Regexp
	if config.responseSentinel != "" {
		var err error
		if sentinel, err = regexp.Compile(config.responseSentinel); err != nil {
			return "", errors.Wrap(err, "invalid WaitFor value")
		}
	}

	if len(value) > 0 {
		if !config.suppressNewline {
			value += "\n"
		}
		if _, err := s.tport.Write([]byte(value)); err != nil {
			return "", errors.Wrap(err, "failed to send command")
		}
	}

	switch {
	case config.noResponse:
		return "", nil
	case config.resetPrompt:
		return "", s.capturePrompt(ctx)
	case sentinel == nil:
		sentinel = s.prompt
	}
	return s.readUntil(ctx, sentinel)
}

// Close closes the underlying transport. Later calls return nil.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.tport.Close()
	})
	return err
}

// stop ends the reader without closing the transport, which the caller owns.
func (s *Session) stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

// readUntil reads until the last line of input matches sentinel.
func (s *Session) readUntil(ctx context.Context, sentinel *regexp.Regexp) (string, error) {
	var output bytes.Buffer
	for {
		var b []byte
		select {
		case rd, ok := <-s.inputs:
			if !ok {
				return "", io.EOF
			}
			b = rd
		case <-ctx.Done():
			return "", ctx.Err()
		}

		output.Write(b)
		text := bytes.ReplaceAll(output.Bytes(), []byte("\r\n"), []byte("\n"))
		text = bytes.ReplaceAll(text, []byte("\r"), []byte("\n"))
		lastNl := bytes.LastIndex(text, []byte("\n"))
		lastLine := text
		if lastNl >= 0 {
			lastLine = text[lastNl+1:]
		} else {
			lastNl = 0
		}
		if sentinel.Match(lastLine) {
			return string(text[:lastNl]), nil
		}
	}
}

func (s *Session) launchReader() {
	go func() {
		defer close(s.inputs)
		for {
			buf := make([]byte, 10000)
			n, err := s.tport.Read(buf)
			if n > 0 {
				select {
				case s.inputs <- buf[:n]:
				case <-s.done:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
}
