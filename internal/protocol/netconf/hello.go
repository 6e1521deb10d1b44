package netconf

import (
	"encoding/xml"
	"fmt"
)

const (
	// Base protocol capabilities (RFC 6241). base:1.1 implies chunked
	// message framing (RFC 6242 section 4.2).
	CapabilityBase10 = "urn:ietf:params:xml:ns:netconf:base:1.0"
	CapabilityBase11 = "urn:ietf:params:xml:ns:netconf:base:1.1"

	// Namespace is the NETCONF base XML namespace.
	Namespace = "urn:ietf:params:xml:ns:netconf:base:1.0"
)

// Hello represents a NETCONF <hello> message.
type Hello struct {
	XMLName      xml.Name `xml:"urn:ietf:params:xml:ns:netconf:base:1.0 hello"`
	Capabilities []string `xml:"capabilities>capability"`
	SessionID    uint64   `xml:"session-id,omitempty"`
}

// LocalHello builds the hello this server sends to a device. The server is
// the NETCONF client of the call-home session (RFC 8071), so no session-id
// is included.
func LocalHello() *Hello {
	return &Hello{
		Capabilities: []string{
			CapabilityBase10,
			CapabilityBase11,
		},
	}
}

// MarshalHello serializes a hello message with an XML declaration.
func MarshalHello(hello *Hello) ([]byte, error) {
	data, err := xml.Marshal(hello)
	if err != nil {
		return nil, fmt.Errorf("marshal hello: %w", err)
	}

	decl := []byte(xml.Header)
	return append(decl, data...), nil
}

// ParseHello parses and validates a device <hello> document. A document that
// is not well-formed XML, is not a hello in the NETCONF namespace, or carries
// no capability list is rejected.
func ParseHello(data []byte) (*Hello, error) {
	var hello Hello
	if err := xml.Unmarshal(data, &hello); err != nil {
		return nil, fmt.Errorf("unmarshal hello: %w", err)
	}

	if hello.XMLName.Space != Namespace {
		return nil, fmt.Errorf("invalid hello namespace: %q", hello.XMLName.Space)
	}
	if hello.XMLName.Local != "hello" {
		return nil, fmt.Errorf("invalid element name: %q (expected \"hello\")", hello.XMLName.Local)
	}
	if len(hello.Capabilities) == 0 {
		return nil, fmt.Errorf("hello carries no capabilities")
	}

	return &hello, nil
}

// HasCapability reports whether the hello advertises the given capability URN.
func (h *Hello) HasCapability(capability string) bool {
	for _, c := range h.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// UsesChunkedFraming reports whether the peer advertised base:1.1, selecting
// chunked framing for all messages after the hello exchange.
func (h *Hello) UsesChunkedFraming() bool {
	return h.HasCapability(CapabilityBase11)
}
