package netconf

import (
	"context"
	"encoding/xml"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/schema"
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/damianoneill/nettables/netconf Executor

// Executor executes a single rpc and returns its reply. A reply carrying an error of fatal
// severity is returned together with that error as *common.RPCError. *Session implements it.
type Executor interface {
	Execute(req Request) (*common.RPCReply, error)
}

// Config defines properties that configure netconf session and target behaviour.
type Config struct {
	// Source is the datastore read by configuration requests.
	Source string
	// Target is the datastore edited by submits.
	Target string
	// ErrorOption and TestOption qualify edit-config when set.
	ErrorOption string
	TestOption  string
	// Commit issues a commit after each accepted edit.
	Commit bool
	// Defines the time in seconds that the client will wait to receive a hello message from the server.
	SetupTimeoutSecs int
}

// DefaultConfig supplies values for any Config fields left unset.
var DefaultConfig = &Config{
	Source:           "running",
	Target:           "candidate",
	SetupTimeoutSecs: 5,
}

// Target reads and writes a device through an Executor.
type Target struct {
	exec Executor
	cfg  *Config
}

var _ common.Target = (*Target)(nil)

// NewTarget creates a Target issuing rpcs through exec.
func NewTarget(exec Executor, cfg *Config) *Target {
	return &Target{exec: exec, cfg: resolveConfig(cfg)}
}

// Request structs.

type datastore struct {
	Name string `xml:",innerxml"`
}

func store(name string) *datastore {
	// xml Marshaller will not create self-closing tags (and some devices require it)...
	return &datastore{Name: "<" + name + "/>"}
}

type getConfigReq struct {
	XMLName xml.Name   `xml:"get-config"`
	Source  *datastore `xml:"source"`
	Filter  *filter
}

type filter struct {
	XMLName xml.Name `xml:"filter"`
	Type    string   `xml:"type,attr"`
	Select  string   `xml:"select,attr"`
}

type editConfigReq struct {
	XMLName          xml.Name   `xml:"edit-config"`
	Target           *datastore `xml:"target"`
	DefaultOperation string     `xml:"default-operation,omitempty"`
	TestOption       string     `xml:"test-option,omitempty"`
	ErrorOption      string     `xml:"error-option,omitempty"`
	Config           *common.Element
}

type lockReq struct {
	XMLName xml.Name   `xml:"lock"`
	Target  *datastore `xml:"target"`
}

type unlockReq struct {
	XMLName xml.Name   `xml:"unlock"`
	Target  *datastore `xml:"target"`
}

// Fetch implements common.Fetcher.
func (t *Target) Fetch(ctx context.Context, req *common.FetchRequest) (*common.Payload, error) {
	var rpc Request
	switch req.Kind {
	case common.RPCRequest:
		rpc = rpcElement(req)
	case common.ConfigRequest:
		rpc = &getConfigReq{Source: store(t.cfg.Source), Filter: configFilter(req.Locator)}
	case common.CommandRequest:
		cmd, err := req.Command()
		if err != nil {
			return nil, err
		}
		rpc = commandElement(req, cmd)
	default:
		return nil, errors.Errorf("unsupported request kind %s", req.Kind)
	}

	reply, err := t.exec.Execute(rpc)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		reply = &common.RPCReply{}
	}
	if req.Format == "text" {
		return textPayload(reply.Data)
	}
	p, err := common.ParseXML(reply.Data)
	if err != nil {
		return nil, errors.Wrap(err, "parse reply")
	}
	if req.Kind == common.ConfigRequest {
		return configPayload(p)
	}
	return p, nil
}

// rpcElement builds an operational rpc, with each argument a child element. Empty values
// become flags; underscores in names become hyphens.
func rpcElement(req *common.FetchRequest) *common.Element {
	e := common.NewElement(req.Locator)
	if req.Format != "" {
		e.SetAttr("format", req.Format)
	}
	names := make([]string, 0, len(req.Args))
	for k := range req.Args {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		e.Add(strings.ReplaceAll(k, "_", "-"), req.Args[k])
	}
	return e
}

// commandElement runs a command; on a named component (such as a line card) when the
// request carries a target argument.
func commandElement(req *common.FetchRequest, cmd string) *common.Element {
	if target := req.Args[schema.TargetArg]; target != "" {
		e := common.NewElement("request-pfe-execute")
		e.Add("target", target)
		e.Add("command", cmd)
		return e
	}
	e := common.NewElement("command", cmd)
	format := req.Format
	if format == "" {
		format = "text"
	}
	e.SetAttr("format", format)
	return e
}

func configFilter(locator string) *filter {
	if locator == "" {
		return nil
	}
	if !strings.HasPrefix(locator, "/") {
		locator = "/configuration/" + locator
	}
	return &filter{Type: "xpath", Select: locator}
}

// configPayload roots a get-config reply at its configuration element.
func configPayload(p *common.Payload) (*common.Payload, error) {
	root := common.RootElement(p.XML)
	if root == nil || root.Data != "data" {
		return p, nil
	}
	inner := strings.TrimSpace(root.OutputXML(false))
	out, err := common.ParseXML(inner)
	return out, errors.Wrap(err, "parse configuration")
}

// textPayload extracts the text of an <output> element, or the reply itself when it holds none.
func textPayload(data string) (*common.Payload, error) {
	p, err := common.ParseXML(data)
	if err != nil {
		return &common.Payload{Text: data}, nil
	}
	root := common.RootElement(p.XML)
	if root == nil {
		return &common.Payload{Text: data}, nil
	}
	return &common.Payload{Text: root.InnerText()}, nil
}

// operations maps a submit mode onto the edit-config default operation.
var operations = map[common.Mode]string{
	common.MergeMode:    "merge",
	common.ReplaceMode:  "replace",
	common.OverrideMode: "replace",
	common.DeleteMode:   "none",
}

// Submit implements common.Submitter using edit-config on the configured target, followed
// by a commit when configured.
func (t *Target) Submit(ctx context.Context, doc *common.ChangeDocument, mode common.Mode) (*common.Result, error) {
	op, ok := operations[mode]
	if !ok {
		return nil, &common.StateError{Op: "submit", Reason: "mode " + string(mode) + " not supported over netconf"}
	}
	root := doc.Root
	if mode == common.DeleteMode {
		marked := *root
		marked.Attrs = append(append([]xml.Attr(nil), root.Attrs...), xml.Attr{Name: xml.Name{Local: "operation"}, Value: "delete"})
		root = &marked
	}
	cfg := common.NewElement("config").Append(root)

	reply, err := t.exec.Execute(&editConfigReq{
		Target:           store(t.cfg.Target),
		DefaultOperation: op,
		TestOption:       t.cfg.TestOption,
		ErrorOption:      t.cfg.ErrorOption,
		Config:           cfg,
	})
	if err != nil {
		return nil, err
	}
	res := result(reply)
	if t.cfg.Commit {
		reply, err = t.exec.Execute("<commit/>")
		if err != nil {
			return nil, err
		}
		res.Warnings = append(res.Warnings, result(reply).Warnings...)
	}
	return res, nil
}

func result(reply *common.RPCReply) *common.Result {
	if reply == nil {
		return &common.Result{}
	}
	_, warnings := reply.SplitErrors()
	return &common.Result{Warnings: warnings, Reply: reply.Data}
}

// Lock locks the target datastore.
func (t *Target) Lock(ctx context.Context) error {
	_, err := t.exec.Execute(&lockReq{Target: store(t.cfg.Target)})
	return err
}

// Unlock unlocks the target datastore.
func (t *Target) Unlock(ctx context.Context) error {
	_, err := t.exec.Execute(&unlockReq{Target: store(t.cfg.Target)})
	return err
}

// Commit commits the candidate datastore.
func (t *Target) Commit(ctx context.Context) error {
	_, err := t.exec.Execute("<commit/>")
	return err
}

// Discard discards uncommitted changes to the candidate datastore.
func (t *Target) Discard(ctx context.Context) error {
	_, err := t.exec.Execute("<discard-changes/>")
	return err
}

// Locked runs fn with the target datastore locked, unlocking it afterwards.
func (t *Target) Locked(ctx context.Context, fn func() error) (err error) {
	if err = t.Lock(ctx); err != nil {
		return errors.Wrap(err, "lock")
	}
	defer func() {
		if uerr := t.Unlock(ctx); uerr != nil && err == nil {
			err = errors.Wrap(uerr, "unlock")
		}
	}()
	return fn()
}
