package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/schema"
)

// Fetcher runs command table requests on a cli session. Configuration cannot be written
// through the command line, so Submit always fails.
type Fetcher struct {
	mu sync.Mutex
	s  *Session
}

var _ common.Target = (*Fetcher)(nil)

// Dial connects to target and establishes a cli session.
func Dial(ctx context.Context, sshcfg *ssh.ClientConfig, target string, opts ...Option) (*Fetcher, error) {
	t, err := NewSSHTransport(ctx, sshcfg, target)
	if err != nil {
		return nil, err
	}
	s, err := NewSession(ctx, t, opts...)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return NewFetcher(s), nil
}

// NewFetcher creates a Fetcher over an established session.
func NewFetcher(s *Session) *Fetcher {
	return &Fetcher{s: s}
}

// Fetch implements common.Fetcher. Only command requests are supported; a request with
// an xml format has its output piped through "display xml".
func (f *Fetcher) Fetch(ctx context.Context, req *common.FetchRequest) (*common.Payload, error) {
	if req.Kind != common.CommandRequest {
		return nil, &common.StateError{Op: "fetch", Reason: req.Kind.String() + " requests are not supported over the cli"}
	}
	cmd, err := req.Command()
	if err != nil {
		return nil, err
	}
	if target := req.Args[schema.TargetArg]; target != "" {
		cmd = fmt.Sprintf("request pfe execute target %s command %q", target, cmd)
	}
	xml := req.Format == "xml"
	if xml {
		cmd += " | display xml"
	}

	f.mu.Lock()
	out, err := f.s.Send(ctx, cmd)
	f.mu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(err, "run %q", cmd)
	}
	common.Logger.Debug().Str("command", cmd).Int("bytes", len(out)).Msg("CLI-Output")

	if !xml {
		return &common.Payload{Text: out}, nil
	}
	// Anything ahead of the document, such as a "{master}" banner, is dropped.
	if i := strings.Index(out, "<"); i > 0 {
		out = out[i:]
	}
	p, err := common.ParseXML(out)
	return p, errors.Wrap(err, "parse output")
}

// Submit implements common.Submitter.
func (f *Fetcher) Submit(context.Context, *common.ChangeDocument, common.Mode) (*common.Result, error) {
	return nil, &common.StateError{Op: "submit", Reason: "configuration cannot be written over the cli"}
}

// Close closes the session.
func (f *Fetcher) Close() error {
	return f.s.Close()
}
