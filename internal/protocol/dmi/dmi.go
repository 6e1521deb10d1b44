// Package dmi parses the plaintext device announcement some devices send on
// an outbound-ssh socket before starting the SSH protocol. The announcement
// is a short sequence of "KEY: value" CRLF lines (MSG-ID, DEVICE-ID,
// MSG-VER, HOST-KEY, HMAC); the HOST-KEY value runs until a NUL byte and may
// span lines.
package dmi

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// Announcement holds the fields of a device announcement.
type Announcement struct {
	MsgID    string
	DeviceID string
	MsgVer   string
	HostKey  string
	HMAC     string
}

// sshPrefix is the start of an SSH identification string; a socket whose
// first bytes match carries no announcement.
const sshPrefix = "SSH-"

// maxLine bounds a single announcement line.
const maxLine = 16 << 10

// Strip inspects the first bytes of conn. If they begin an SSH version
// exchange the connection is returned untouched (wrapped to preserve the
// peeked bytes) with a nil Announcement. Otherwise the announcement is
// consumed and parsed, and the returned connection resumes at the first SSH
// byte. The timeout bounds the whole inspection.
func Strip(conn net.Conn, timeout time.Duration) (net.Conn, *Announcement, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return conn, nil, fmt.Errorf("set read deadline: %w", err)
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	br := bufio.NewReader(conn)
	head, err := br.Peek(len(sshPrefix))
	if err != nil {
		return conn, nil, fmt.Errorf("peek connection preamble: %w", err)
	}

	wrapped := &bufferedConn{r: br, Conn: conn}
	if string(head) == sshPrefix {
		return wrapped, nil, nil
	}

	ann, err := parse(br)
	if err != nil {
		return wrapped, nil, err
	}
	return wrapped, ann, nil
}

func parse(br *bufio.Reader) (*Announcement, error) {
	ann := &Announcement{}

	for {
		line, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("read announcement line: %w", err)
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed announcement line %q", line)
		}
		value = strings.TrimSpace(value)

		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "MSG-ID":
			ann.MsgID = value
		case "DEVICE-ID":
			ann.DeviceID = value
		case "MSG-VER":
			ann.MsgVer = value
		case "HOST-KEY":
			// The host key value is NUL-terminated and may span lines.
			full, err := readUntilNUL(br, value)
			if err != nil {
				return nil, err
			}
			ann.HostKey = full
		case "HMAC":
			ann.HMAC = value
			// HMAC is the last announcement field.
			return ann, nil
		default:
			// Unknown fields are tolerated and skipped.
		}
	}
}

// readLine reads a CRLF- or LF-terminated line without the terminator.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > maxLine {
		return "", fmt.Errorf("announcement line exceeds %d bytes", maxLine)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readUntilNUL collects the remainder of a NUL-terminated value, starting
// from what was already consumed on the field's first line.
func readUntilNUL(br *bufio.Reader, first string) (string, error) {
	if i := strings.IndexByte(first, 0); i >= 0 {
		// Terminator was on the first line; the CRLF after it is gone
		// already since readLine consumed through the newline.
		return first[:i], nil
	}

	var sb strings.Builder
	sb.WriteString(first)
	for {
		chunk, err := br.ReadString(0)
		if err != nil {
			return "", fmt.Errorf("read host key: %w", err)
		}
		sb.WriteString(strings.TrimSuffix(chunk, "\x00"))
		if sb.Len() > maxLine {
			return "", fmt.Errorf("host key exceeds %d bytes", maxLine)
		}
		// Consume the CRLF that follows the NUL terminator.
		if _, err := readLine(br); err != nil {
			return "", err
		}
		return sb.String(), nil
	}
}

// bufferedConn replays bytes buffered during preamble inspection before
// handing reads back to the underlying connection.
type bufferedConn struct {
	r *bufio.Reader
	net.Conn
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
