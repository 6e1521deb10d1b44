package netconf

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// BuildRPC wraps an operation payload in an <rpc> envelope. The payload is
// caller-supplied XML and is embedded verbatim.
func BuildRPC(messageID uint64, operation string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<rpc xmlns=%q message-id="%d">`, Namespace, messageID)
	sb.WriteString(operation)
	sb.WriteString(`</rpc>`)
	return []byte(sb.String())
}

// RPCError is a single <rpc-error> element of a reply.
type RPCError struct {
	Severity string `xml:"error-severity"`
	Tag      string `xml:"error-tag"`
	Message  string `xml:"error-message"`
}

func (e RPCError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = e.Tag
	}
	return fmt.Sprintf("rpc-error (%s): %s", e.Severity, msg)
}

// Reply is a parsed <rpc-reply> document. Raw retains the full document so
// callers can extract operation-specific content.
type Reply struct {
	MessageID string
	Errors    []RPCError
	Raw       []byte
}

type rpcReply struct {
	XMLName   xml.Name   `xml:"rpc-reply"`
	MessageID string     `xml:"message-id,attr"`
	Errors    []RPCError `xml:"rpc-error"`
}

// ParseReply parses an <rpc-reply> document.
func ParseReply(data []byte) (*Reply, error) {
	var r rpcReply
	if err := xml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal rpc-reply: %w", err)
	}
	if r.XMLName.Local != "rpc-reply" {
		return nil, fmt.Errorf("unexpected element %q (expected \"rpc-reply\")", r.XMLName.Local)
	}

	return &Reply{
		MessageID: r.MessageID,
		Errors:    r.Errors,
		Raw:       data,
	}, nil
}

// Err returns the first error-severity rpc-error carried by the reply, or
// nil. Warnings do not fail a reply.
func (r *Reply) Err() error {
	for _, e := range r.Errors {
		if strings.EqualFold(e.Severity, "error") || e.Severity == "" {
			return e
		}
	}
	return nil
}
