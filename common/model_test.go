package common

import (
	"context"
	"errors"
	"testing"
	"time"

	assert "github.com/stretchr/testify/require"
)

func TestRPCErrorString(t *testing.T) {

	err := &RPCError{
		Severity: "Severity",
		Message:  " Message\n",
	}

	assert.Equal(t, "rpc [Severity] 'Message'", err.Error())
	assert.True(t, err.Fatal())
	assert.False(t, (&RPCError{Severity: SeverityWarning}).Fatal())
}

func TestSplitErrors(t *testing.T) {
	reply := &RPCReply{Errors: []RPCError{
		{Severity: SeverityWarning, Message: "w1"},
		{Severity: SeverityError, Message: "e1"},
		{Severity: SeverityError, Message: "e2"},
		{Severity: SeverityWarning, Message: "w2"},
	}}

	fatal, warnings := reply.SplitErrors()
	assert.Equal(t, "e1", fatal.Message)
	assert.Len(t, warnings, 2)
	assert.Equal(t, "w2", warnings[1].Message)

	fatal, warnings = (&RPCReply{}).SplitErrors()
	assert.Nil(t, fatal)
	assert.Empty(t, warnings)
}

func TestPayloadEmpty(t *testing.T) {
	var p *Payload
	assert.True(t, p.Empty())
	assert.True(t, (&Payload{Text: " \n"}).Empty())
	assert.False(t, (&Payload{Text: "x"}).Empty())

	p, err := ParseXML(`<?xml version="1.0"?><top><a>1</a></top>`)
	assert.NoError(t, err)
	assert.False(t, p.Empty())
	assert.Equal(t, "top", RootElement(p.XML).Data)

	for _, blank := range []string{``, " \n\t"} {
		p, err = ParseXML(blank)
		assert.NoError(t, err)
		assert.True(t, p.Empty())
		assert.Nil(t, p.XML)
	}
}

func TestElementString(t *testing.T) {
	root := NewElement("configuration")
	zone := root.Add("security").Add("zones").Add("security-zone")
	zone.Add("name", "trust")
	zone.SetAttr("inactive", "inactive")
	zone.SetAttr("inactive", "yes")

	assert.Equal(t,
		`<configuration><security><zones><security-zone inactive="yes"><name>trust</name></security-zone></zones></security></configuration>`,
		root.String())
	assert.Equal(t, zone, root.Leaf("security", "zones", "security-zone"))
	assert.Nil(t, root.Leaf("security", "policies"))
	v, ok := zone.Attr("inactive")
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
	assert.False(t, root.Empty())
	assert.True(t, NewElement("x").Empty())

	assert.Same(t, zone, root.Ensure("security", "zones", "security-zone"))
	policy := root.Ensure("security", "policies", "policy")
	assert.Same(t, policy, root.Leaf("security", "policies", "policy"))
	assert.Len(t, root.Child("security").Children, 2)
}

func TestChangeDocumentIDs(t *testing.T) {
	d1 := NewChangeDocument(NewElement("a"))
	d2 := NewChangeDocument(NewElement("a"))
	assert.NotEmpty(t, d1.ID)
	assert.NotEqual(t, d1.ID, d2.ID)
	assert.Equal(t, "<a></a>", d1.String())
}

func TestErrorStrings(t *testing.T) {
	assert.Equal(t, "schema Tbl.fld: bad", NewSchemaError("Tbl", "fld", "bad").Error())
	assert.Equal(t, "schema Tbl: bad 1", NewSchemaError("Tbl", "", "bad %d", 1).Error())
	assert.Equal(t, `extract "name": multiple matches`, (&ExtractionError{Locator: "name", Reason: "multiple matches"}).Error())
	assert.Equal(t, "unknown property: x (have a, b)", (&PropertyError{Name: "x", Known: []string{"a", "b"}}).Error())

	wc := &WriteConflict{Err: &RPCError{Severity: SeverityError, Message: "locked"}}
	var rpcErr *RPCError
	assert.True(t, errors.As(wc, &rpcErr))
	assert.Equal(t, "locked", rpcErr.Message)
}

type fetchFunc func(ctx context.Context, req *FetchRequest) (*Payload, error)

func (f fetchFunc) Fetch(ctx context.Context, req *FetchRequest) (*Payload, error) {
	return f(ctx, req)
}

func TestTracedFetch(t *testing.T) {
	var started, done bool
	var doneErr error
	trace := &Trace{
		FetchStart: func(req *FetchRequest) { started = true },
		FetchDone: func(req *FetchRequest, err error, d time.Duration) {
			done = true
			doneErr = err
		},
	}
	ctx := WithTrace(context.Background(), trace)

	failure := errors.New("failed")
	_, err := TracedFetch(ctx, fetchFunc(func(ctx context.Context, req *FetchRequest) (*Payload, error) {
		return nil, failure
	}), &FetchRequest{Kind: RPCRequest, Locator: "get-interface-information"})

	assert.Equal(t, failure, err)
	assert.True(t, started)
	assert.True(t, done)
	assert.Equal(t, failure, doneErr)
	// Unset hooks are filled from the no-op set.
	assert.NotNil(t, trace.SubmitStart)
	assert.NotNil(t, trace.Error)
}

func TestContextTraceDefault(t *testing.T) {
	assert.Equal(t, NoOpLoggingHooks, ContextTrace(context.Background()))
	assert.Equal(t, "config", ConfigRequest.String())
	assert.Equal(t, "kind(9)", RequestKind(9).String())
}

func TestRequestCommand(t *testing.T) {
	req := &FetchRequest{Kind: CommandRequest, Locator: "show interfaces {{ name }} {{detail}}", Args: map[string]string{"name": "ge-0/0/0", "detail": "extensive"}}
	cmd, err := req.Command()
	assert.NoError(t, err)
	assert.Equal(t, "show interfaces ge-0/0/0 extensive", cmd)

	req = &FetchRequest{Kind: CommandRequest, Locator: "show version"}
	cmd, err = req.Command()
	assert.NoError(t, err)
	assert.Equal(t, "show version", cmd)

	req = &FetchRequest{Kind: CommandRequest, Locator: "show route {{ prefix }}"}
	_, err = req.Command()
	assert.EqualError(t, err, `command "show route {{ prefix }}": no value for prefix`)
}
