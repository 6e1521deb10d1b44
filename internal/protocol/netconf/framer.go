package netconf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// endOfMessage is the base:1.0 message delimiter (RFC 6242 section 4.3).
var endOfMessage = []byte("]]>]]>")

// maxMessageSize bounds a single NETCONF message to prevent memory
// exhaustion from a misbehaving device. Identity RPCs and their replies are
// far below this.
const maxMessageSize = 8 << 20 // 8MB

// Framer reads and writes NETCONF messages over a duplex byte stream,
// applying either end-of-message or chunked framing (RFC 6242). A Framer
// starts in end-of-message mode, which is what the hello exchange always
// uses; EnableChunkedFraming switches both directions after a successful
// base:1.1 negotiation.
//
// Framer is not safe for concurrent use; callers serialize access.
type Framer struct {
	r       *bufio.Reader
	w       io.Writer
	chunked bool
}

func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{
		r: bufio.NewReader(r),
		w: w,
	}
}

// EnableChunkedFraming switches the framer to base:1.1 chunked framing.
// Must be called between messages, never mid-read.
func (f *Framer) EnableChunkedFraming() {
	f.chunked = true
}

// ChunkedFraming reports the framing currently in effect.
func (f *Framer) ChunkedFraming() bool {
	return f.chunked
}

// WriteMessage frames and writes one complete message.
func (f *Framer) WriteMessage(p []byte) error {
	if f.chunked {
		return f.writeChunked(p)
	}
	return f.writeEOM(p)
}

// ReadMessage reads one complete message, stripping the framing.
func (f *Framer) ReadMessage() ([]byte, error) {
	if f.chunked {
		return f.readChunked()
	}
	return f.readEOM()
}

func (f *Framer) writeEOM(p []byte) error {
	if _, err := f.w.Write(p); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if _, err := f.w.Write(endOfMessage); err != nil {
		return fmt.Errorf("write end-of-message marker: %w", err)
	}
	return nil
}

func (f *Framer) writeChunked(p []byte) error {
	if _, err := fmt.Fprintf(f.w, "\n#%d\n", len(p)); err != nil {
		return fmt.Errorf("write chunk header: %w", err)
	}
	if _, err := f.w.Write(p); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	if _, err := io.WriteString(f.w, "\n##\n"); err != nil {
		return fmt.Errorf("write end-of-chunks marker: %w", err)
	}
	return nil
}

// readEOM accumulates bytes until the ]]>]]> delimiter.
func (f *Framer) readEOM() ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)

		if buf.Len() > maxMessageSize {
			return nil, fmt.Errorf("message exceeds %d bytes", maxMessageSize)
		}
		if b == '>' && bytes.HasSuffix(buf.Bytes(), endOfMessage) {
			msg := buf.Bytes()
			return bytes.TrimSpace(msg[:len(msg)-len(endOfMessage)]), nil
		}
	}
}

// readChunked reads chunks of the form \n#<len>\n<data> until the \n##\n
// end-of-chunks marker.
func (f *Framer) readChunked() ([]byte, error) {
	var buf bytes.Buffer
	for {
		if err := f.expect('\n'); err != nil {
			return nil, err
		}
		if err := f.expect('#'); err != nil {
			return nil, err
		}

		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == '#' {
			// End-of-chunks marker; consume the trailing newline.
			if err := f.expect('\n'); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		}

		size := 0
		for b != '\n' {
			if b < '0' || b > '9' {
				return nil, fmt.Errorf("invalid chunk size byte %q", b)
			}
			size = size*10 + int(b-'0')
			if size > maxMessageSize {
				return nil, fmt.Errorf("chunk exceeds %d bytes", maxMessageSize)
			}
			if b, err = f.r.ReadByte(); err != nil {
				return nil, err
			}
		}
		if size == 0 {
			return nil, fmt.Errorf("zero-length chunk")
		}
		if buf.Len()+size > maxMessageSize {
			return nil, fmt.Errorf("message exceeds %d bytes", maxMessageSize)
		}

		if _, err := io.CopyN(&buf, f.r, int64(size)); err != nil {
			return nil, fmt.Errorf("read chunk body: %w", err)
		}
	}
}

func (f *Framer) expect(want byte) error {
	b, err := f.r.ReadByte()
	if err != nil {
		return err
	}
	if b != want {
		return fmt.Errorf("malformed chunk framing: got %q, want %q", b, want)
	}
	return nil
}
