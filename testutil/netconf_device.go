package testutil

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	netconfNS    = "urn:ietf:params:xml:ns:netconf:base:1.0"
	endOfMessage = "]]>]]>"
)

// RPCRequest is an rpc received by a NetconfHandler.
type RPCRequest struct {
	XMLName   xml.Name
	MessageID string `xml:"message-id,attr"`
	// Body holds the request element.
	Body string `xml:",innerxml"`
}

// Responder returns the content of the rpc-reply to req.
type Responder func(req *RPCRequest) string

// NetconfHandler delivers a Handler serving the netconf subsystem as a base:1.0 device,
// answering each rpc with the responder until the client closes the session.
func NetconfHandler(t *testing.T, respond Responder) Handler {
	return func(service string, ch io.ReadWriter) {
		if service != "netconf" {
			return
		}
		r := bufio.NewReader(ch)

		hello := fmt.Sprintf(`<hello xmlns=%q><capabilities><capability>urn:ietf:params:netconf:base:1.0</capability>`+
			`</capabilities><session-id>1</session-id></hello>`, netconfNS)
		if _, err := io.WriteString(ch, hello+endOfMessage); err != nil {
			return
		}
		if _, err := readMessage(r); err != nil {
			return
		}

		for {
			msg, err := readMessage(r)
			if err != nil {
				return
			}
			req := &RPCRequest{}
			if !assert.NoError(t, xml.Unmarshal(msg, req), "Invalid rpc") {
				return
			}
			if bytes.Contains(msg, []byte("<close-session")) {
				return
			}
			reply := fmt.Sprintf(`<rpc-reply xmlns=%q message-id=%q>%s</rpc-reply>`, netconfNS, req.MessageID, respond(req))
			if _, err = io.WriteString(ch, reply+endOfMessage); err != nil {
				return
			}
		}
	}
}

func readMessage(r *bufio.Reader) ([]byte, error) {
	var msg []byte
	for {
		b, err := r.ReadBytes('>')
		msg = append(msg, b...)
		if bytes.HasSuffix(msg, []byte(endOfMessage)) {
			return msg[:len(msg)-len(endOfMessage)], nil
		}
		if err != nil {
			return nil, err
		}
	}
}
