package common

import "context"

// Fetcher retrieves raw payloads from a device.
type Fetcher interface {
	// Fetch issues the request and returns the reply payload.
	// Errors reported by the device are returned as *RPCError.
	Fetch(ctx context.Context, req *FetchRequest) (*Payload, error)
}

// Submitter applies change documents to a device.
type Submitter interface {
	// Submit applies the change document using the supplied mode.
	// A device error of fatal severity is returned as *RPCError; warnings are returned in the Result.
	Submit(ctx context.Context, doc *ChangeDocument, mode Mode) (*Result, error)
}

// Target is a device that can be both read and written.
type Target interface {
	Fetcher
	Submitter
}
