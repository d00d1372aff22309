package common

import (
	"context"
	"os"
	"time"

	"github.com/imdario/mergo"
	"github.com/rs/zerolog"
)

// unique type to prevent assignment.
type traceContextKey struct{}

// ContextTrace returns the Trace associated with the
// provided context. If none, it returns the no-op hooks.
func ContextTrace(ctx context.Context) *Trace {
	trace, _ := ctx.Value(traceContextKey{}).(*Trace)
	if trace == nil {
		trace = NoOpLoggingHooks
	} else {
		_ = mergo.Merge(trace, NoOpLoggingHooks)
	}
	return trace
}

// WithTrace returns a new context based on the provided parent
// ctx. Table fetches and resource writes made with the returned context will use
// the provided trace hooks
func WithTrace(ctx context.Context, trace *Trace) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// Trace defines a structure for handling trace events
type Trace struct {
	// FetchStart is called before a request is issued to a fetcher.
	FetchStart func(req *FetchRequest)

	// FetchDone is called when a fetch completes, with err indicating whether it was successful.
	FetchDone func(req *FetchRequest, err error, d time.Duration)

	// SubmitStart is called before a change document is submitted.
	SubmitStart func(doc *ChangeDocument, mode Mode)

	// SubmitDone is called when a submit completes.
	SubmitDone func(doc *ChangeDocument, mode Mode, res *Result, err error, d time.Duration)

	// SubmitSkipped is called when a write is abandoned because it would make no change.
	SubmitSkipped func(resource string)

	// Error is called after an error condition has been detected.
	Error func(context, target string, err error)
}

// Logger is the logger used by the logging hooks.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// DefaultLoggingHooks provides a default logging hook to report errors.
var DefaultLoggingHooks = &Trace{
	Error: func(context, target string, err error) {
		Logger.Error().Str("context", context).Str("target", target).Err(err).Msg("NETTABLES-Error")
	},
}

// MetricLoggingHooks provides a set of hooks that will log request timings.
var MetricLoggingHooks = &Trace{
	FetchDone: func(req *FetchRequest, err error, d time.Duration) {
		Logger.Info().Stringer("kind", req.Kind).Str("locator", req.Locator).Err(err).
			Int64("took_ms", d.Milliseconds()).Msg("NETTABLES-FetchDone")
	},
	SubmitDone: func(doc *ChangeDocument, mode Mode, res *Result, err error, d time.Duration) {
		Logger.Info().Str("id", doc.ID).Str("mode", string(mode)).Err(err).
			Int64("took_ms", d.Milliseconds()).Msg("NETTABLES-SubmitDone")
	},
	Error: DefaultLoggingHooks.Error,
}

// DiagnosticLoggingHooks provides a set of default diagnostic hooks
var DiagnosticLoggingHooks = &Trace{
	FetchStart: func(req *FetchRequest) {
		Logger.Debug().Stringer("kind", req.Kind).Str("locator", req.Locator).
			Interface("args", req.Args).Msg("NETTABLES-FetchStart")
	},
	FetchDone: MetricLoggingHooks.FetchDone,
	SubmitStart: func(doc *ChangeDocument, mode Mode) {
		Logger.Debug().Str("id", doc.ID).Str("mode", string(mode)).Str("doc", doc.String()).
			Msg("NETTABLES-SubmitStart")
	},
	SubmitDone: func(doc *ChangeDocument, mode Mode, res *Result, err error, d time.Duration) {
		ev := Logger.Debug().Str("id", doc.ID).Str("mode", string(mode)).Err(err)
		if res != nil {
			ev = ev.Int("warnings", len(res.Warnings))
		}
		ev.Int64("took_ms", d.Milliseconds()).Msg("NETTABLES-SubmitDone")
	},
	SubmitSkipped: func(resource string) {
		Logger.Debug().Str("resource", resource).Msg("NETTABLES-SubmitSkipped")
	},
	Error: DefaultLoggingHooks.Error,
}

// NoOpLoggingHooks provides set of hooks that do nothing.
var NoOpLoggingHooks = &Trace{
	FetchStart:    func(req *FetchRequest) {},
	FetchDone:     func(req *FetchRequest, err error, d time.Duration) {},
	SubmitStart:   func(doc *ChangeDocument, mode Mode) {},
	SubmitDone:    func(doc *ChangeDocument, mode Mode, res *Result, err error, d time.Duration) {},
	SubmitSkipped: func(resource string) {},
	Error:         func(context, target string, err error) {},
}

// TracedFetch issues a fetch, reporting it to the trace hooks associated with ctx.
func TracedFetch(ctx context.Context, f Fetcher, req *FetchRequest) (p *Payload, err error) {
	trace := ContextTrace(ctx)
	trace.FetchStart(req)
	defer func(begin time.Time) {
		trace.FetchDone(req, err, time.Since(begin))
	}(time.Now())

	return f.Fetch(ctx, req)
}

// TracedSubmit submits a change document, reporting it to the trace hooks associated with ctx.
func TracedSubmit(ctx context.Context, s Submitter, doc *ChangeDocument, mode Mode) (res *Result, err error) {
	trace := ContextTrace(ctx)
	trace.SubmitStart(doc, mode)
	defer func(begin time.Time) {
		trace.SubmitDone(doc, mode, res, err, time.Since(begin))
	}(time.Now())

	return s.Submit(ctx, doc, mode)
}
