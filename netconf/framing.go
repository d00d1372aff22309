package netconf

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RFC6242 message framing.
const (
	endOfMessage = "]]>]]>"
	endOfChunks  = "\n##\n"
)

// framer reads and writes whole netconf messages. It uses end-of-message framing until
// chunked framing is enabled, which happens once both peers have advertised base:1.1.
// Reads and writes may proceed concurrently, but not two of either.
type framer struct {
	r       *bufio.Reader
	w       io.Writer
	chunked bool
}

func newFramer(rw io.ReadWriter) *framer {
	return &framer{r: bufio.NewReader(rw), w: rw}
}

func (f *framer) writeMessage(b []byte) error {
	var buf bytes.Buffer
	if f.chunked {
		if len(b) > 0 {
			buf.WriteString("\n#" + strconv.Itoa(len(b)) + "\n")
			buf.Write(b)
		}
		buf.WriteString(endOfChunks)
	} else {
		buf.Write(b)
		buf.WriteString(endOfMessage)
	}
	_, err := f.w.Write(buf.Bytes())
	return err
}

// readMessage returns the next message, or io.EOF if the stream ends between messages.
func (f *framer) readMessage() ([]byte, error) {
	if f.chunked {
		return f.readChunked()
	}
	return f.readEndOfMessage()
}

func (f *framer) readEndOfMessage() ([]byte, error) {
	var msg []byte
	for {
		b, err := f.r.ReadBytes('>')
		msg = append(msg, b...)
		if bytes.HasSuffix(msg, []byte(endOfMessage)) {
			return msg[:len(msg)-len(endOfMessage)], nil
		}
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(msg)) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

func (f *framer) readChunked() ([]byte, error) {
	var msg []byte
	for first := true; ; first = false {
		if err := f.expect('\n'); err != nil {
			if err == io.EOF && !first {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if err := f.expect('#'); err != nil {
			return nil, eofUnexpected(err)
		}
		c, err := f.r.ReadByte()
		if err != nil {
			return nil, eofUnexpected(err)
		}
		if c == '#' {
			if err = f.expect('\n'); err != nil {
				return nil, eofUnexpected(err)
			}
			return msg, nil
		}
		_ = f.r.UnreadByte()

		header, err := f.r.ReadString('\n')
		if err != nil {
			return nil, eofUnexpected(err)
		}
		header = strings.TrimSuffix(header, "\n")
		size, err := strconv.ParseUint(header, 10, 32)
		if err != nil || size == 0 {
			return nil, errors.Errorf("invalid chunk size %q", header)
		}
		chunk := make([]byte, size)
		if _, err = io.ReadFull(f.r, chunk); err != nil {
			return nil, eofUnexpected(err)
		}
		msg = append(msg, chunk...)
	}
}

func (f *framer) expect(want byte) error {
	c, err := f.r.ReadByte()
	if err != nil {
		return err
	}
	if c != want {
		return errors.Errorf("invalid chunk framing: expected %q, got %q", want, c)
	}
	return nil
}

func eofUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
