package common

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/pkg/errors"
)

// Defines the structures exchanged with the device collaborators that fetch raw payloads
// and apply change documents.

// RequestKind identifies the kind of fetch a table or resource issues.
type RequestKind int

const (
	// RPCRequest invokes an operational rpc, with the locator naming the rpc.
	RPCRequest RequestKind = iota
	// ConfigRequest reads configuration, with the locator being an xpath into the configuration tree.
	ConfigRequest
	// CommandRequest runs a command, with the locator holding the command text.
	CommandRequest
)

func (k RequestKind) String() string {
	switch k {
	case RPCRequest:
		return "rpc"
	case ConfigRequest:
		return "config"
	case CommandRequest:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FetchRequest describes a single read issued against a device.
type FetchRequest struct {
	Kind    RequestKind
	Locator string
	// Args qualifies the request; rpc arguments, or values substituted into a command.
	Args map[string]string
	// Format requests a specific reply format from devices that support more than one ("xml" or "text").
	Format string
}

var placeholder = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Command renders the locator of a command request, substituting "{{ name }}" placeholders
// with the named argument.
func (r *FetchRequest) Command() (string, error) {
	var missing []string
	cmd := placeholder.ReplaceAllStringFunc(r.Locator, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := r.Args[name]
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", errors.Errorf("command %q: no value for %s", r.Locator, strings.Join(missing, ", "))
	}
	return cmd, nil
}

// Payload holds the raw reply to a fetch; either a parsed XML tree or a text blob.
type Payload struct {
	XML  *xmlquery.Node
	Text string
}

// Empty returns true if the payload holds no content.
func (p *Payload) Empty() bool {
	if p == nil {
		return true
	}
	if p.XML != nil {
		return RootElement(p.XML) == nil
	}
	return strings.TrimSpace(p.Text) == ""
}

// ParseXML parses text into a payload tree. Blank text gives an empty payload.
func ParseXML(text string) (*Payload, error) {
	if strings.TrimSpace(text) == "" {
		return &Payload{}, nil
	}
	doc, err := xmlquery.Parse(strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	return &Payload{XML: doc}, nil
}

// RootElement returns the first element node at or below n, skipping document, declaration and text nodes.
func RootElement(n *xmlquery.Node) *xmlquery.Node {
	if n == nil {
		return nil
	}
	if n.Type == xmlquery.ElementNode {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}

// Mode defines how a change document is applied to the target configuration.
type Mode string

// Define the submit modes.
const (
	ReplaceMode  Mode = "replace"
	MergeMode    Mode = "merge"
	OverrideMode Mode = "override"
	SetMode      Mode = "set"
	PatchMode    Mode = "patch"
	DeleteMode   Mode = "delete"
)

// Result is the reply to a successful submit.
type Result struct {
	// Warnings holds any non-fatal errors reported by the device.
	Warnings []*RPCError
	// Reply holds the raw reply body, if any.
	Reply string
}

// Define the rpc error severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// RPCError defines an error reported by the device in reply to a request.
type RPCError struct {
	Type     string `xml:"error-type"`
	Tag      string `xml:"error-tag"`
	Severity string `xml:"error-severity"`
	Path     string `xml:"error-path"`
	Message  string `xml:"error-message"`
	Info     string `xml:",innerxml"`
}

// Error generates a string representation of the RPC error
func (re *RPCError) Error() string {
	return fmt.Sprintf("rpc [%s] '%s'", re.Severity, strings.TrimSpace(re.Message))
}

// Fatal returns true if the error severity aborts the request.
func (re *RPCError) Fatal() bool {
	return re.Severity != SeverityWarning
}

// RPCReply defines an rpc reply message.
type RPCReply struct {
	XMLName   xml.Name   `xml:"rpc-reply"`
	Errors    []RPCError `xml:"rpc-error,omitempty"`
	Data      string     `xml:",innerxml"`
	Ok        bool       `xml:",omitempty"`
	RawReply  string     `xml:"-"`
	MessageID string     `xml:"message-id,attr"`
}

// SplitErrors partitions the errors in a reply into the first fatal error and any warnings.
func (r *RPCReply) SplitErrors() (fatal *RPCError, warnings []*RPCError) {
	for i := range r.Errors {
		rpcErr := &r.Errors[i]
		if rpcErr.Fatal() {
			if fatal == nil {
				fatal = rpcErr
			}
			continue
		}
		warnings = append(warnings, rpcErr)
	}
	return
}
