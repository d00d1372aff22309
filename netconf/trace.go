package netconf

import (
	"context"
	"time"

	"github.com/imdario/mergo"
	"golang.org/x/crypto/ssh"

	"github.com/damianoneill/nettables/common"
)

// unique type to prevent assignment.
type sessionTraceContextKey struct{}

// ContextSessionTrace returns the SessionTrace associated with the
// provided context. If none, it returns the no-op hooks.
func ContextSessionTrace(ctx context.Context) *SessionTrace {
	trace, _ := ctx.Value(sessionTraceContextKey{}).(*SessionTrace)
	if trace == nil {
		trace = NoOpLoggingHooks
	} else {
		_ = mergo.Merge(trace, NoOpLoggingHooks)
	}
	return trace
}

// WithSessionTrace returns a new context based on the provided parent
// ctx. Netconf sessions established with the returned context will use
// the provided trace hooks.
func WithSessionTrace(ctx context.Context, trace *SessionTrace) context.Context {
	return context.WithValue(ctx, sessionTraceContextKey{}, trace)
}

// SessionTrace defines a structure for handling netconf session trace events
type SessionTrace struct {
	// ConnectStart is called when starting to connect to a remote server.
	ConnectStart func(clientConfig *ssh.ClientConfig, target string)

	// ConnectDone is called when the connection attempt completes, with err indicating
	// whether it was successful.
	ConnectDone func(clientConfig *ssh.ClientConfig, target string, err error, d time.Duration)

	// ConnectionClosed is called after a transport connection has been closed, with
	// err indicating any error condition.
	ConnectionClosed func(target string, err error)

	// HelloDone is called when the server hello has been received.
	HelloDone func(msg *HelloMessage)

	// ExecuteStart is called before the execution of an rpc request.
	ExecuteStart func(req Request)

	// ExecuteDone is called after the execution of an rpc request.
	ExecuteDone func(req Request, res *common.RPCReply, err error, d time.Duration)

	// Error is called after an error condition has been detected.
	Error func(context, target string, err error)
}

// DefaultLoggingHooks provides a default logging hook to report errors.
var DefaultLoggingHooks = &SessionTrace{
	Error: func(context, target string, err error) {
		common.Logger.Error().Str("context", context).Str("target", target).Err(err).Msg("NETCONF-Error")
	},
}

// DiagnosticLoggingHooks provides a set of default diagnostic hooks
var DiagnosticLoggingHooks = &SessionTrace{
	ConnectStart: func(clientConfig *ssh.ClientConfig, target string) {
		common.Logger.Debug().Str("target", target).Str("user", clientConfig.User).Msg("NETCONF-ConnectStart")
	},
	ConnectDone: func(clientConfig *ssh.ClientConfig, target string, err error, d time.Duration) {
		common.Logger.Debug().Str("target", target).Err(err).Int64("took_ms", d.Milliseconds()).Msg("NETCONF-ConnectDone")
	},
	ConnectionClosed: func(target string, err error) {
		common.Logger.Debug().Str("target", target).Err(err).Msg("NETCONF-ConnectionClosed")
	},
	HelloDone: func(msg *HelloMessage) {
		common.Logger.Debug().Uint64("session_id", msg.SessionID).Strs("capabilities", msg.Capabilities).Msg("NETCONF-HelloDone")
	},
	ExecuteStart: func(req Request) {
		common.Logger.Debug().Interface("req", req).Msg("NETCONF-ExecuteStart")
	},
	ExecuteDone: func(req Request, res *common.RPCReply, err error, d time.Duration) {
		common.Logger.Debug().Interface("req", req).Err(err).Int64("took_ms", d.Milliseconds()).Msg("NETCONF-ExecuteDone")
	},
	Error: DefaultLoggingHooks.Error,
}

// NoOpLoggingHooks provides set of hooks that do nothing.
var NoOpLoggingHooks = &SessionTrace{
	ConnectStart:     func(clientConfig *ssh.ClientConfig, target string) {},
	ConnectDone:      func(clientConfig *ssh.ClientConfig, target string, err error, d time.Duration) {},
	ConnectionClosed: func(target string, err error) {},
	HelloDone:        func(msg *HelloMessage) {},
	ExecuteStart:     func(req Request) {},
	ExecuteDone:      func(req Request, res *common.RPCReply, err error, d time.Duration) {},
	Error:            func(context, target string, err error) {},
}
