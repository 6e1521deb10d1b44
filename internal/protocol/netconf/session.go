package netconf

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Session is an established NETCONF session over a negotiated channel. It is
// created by Establish after a successful hello exchange and serializes RPC
// round-trips over the underlying framer.
type Session struct {
	id          uint64
	framer      *Framer
	deviceHello *Hello

	mu     sync.Mutex
	msgID  atomic.Uint64
	broken atomic.Bool
}

// Establish performs the hello exchange on a fresh subsystem stream: it
// sends the local hello, reads and validates the device hello, and switches
// to chunked framing when the device advertised base:1.1. The hello exchange
// itself always uses end-of-message framing.
//
// The context bounds the exchange; the caller must close the underlying
// stream on error to release the reader.
func Establish(ctx context.Context, sessionID uint64, rw io.ReadWriter) (*Session, error) {
	framer := NewFramer(rw, rw)

	local, err := MarshalHello(LocalHello())
	if err != nil {
		return nil, err
	}
	if err := framer.WriteMessage(local); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}

	raw, err := readWithContext(ctx, framer)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}

	deviceHello, err := ParseHello(raw)
	if err != nil {
		return nil, err
	}

	if deviceHello.UsesChunkedFraming() {
		framer.EnableChunkedFraming()
	}

	return &Session{
		id:          sessionID,
		framer:      framer,
		deviceHello: deviceHello,
	}, nil
}

// ID returns the internal session id. It is process-unique and independent
// of any session-id the device claimed in its hello.
func (s *Session) ID() uint64 {
	return s.id
}

// DeviceHello returns the hello document the device sent.
func (s *Session) DeviceHello() *Hello {
	return s.deviceHello
}

// Execute sends one RPC operation and returns the raw <rpc-reply> document.
// A reply carrying an error-severity <rpc-error> is returned as an error.
// Round-trips are serialized; the context bounds the wait for the reply.
func (s *Session) Execute(ctx context.Context, operation string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken.Load() {
		return nil, fmt.Errorf("session unusable after aborted read")
	}

	id := s.msgID.Add(1)
	if err := s.framer.WriteMessage(BuildRPC(id, operation)); err != nil {
		return nil, fmt.Errorf("send rpc: %w", err)
	}

	raw, err := readWithContext(ctx, s.framer)
	if err != nil {
		if ctx.Err() != nil {
			// The reader goroutine may still be consuming the stream, so
			// further round-trips cannot be trusted.
			s.broken.Store(true)
		}
		return nil, fmt.Errorf("read rpc-reply: %w", err)
	}

	reply, err := ParseReply(raw)
	if err != nil {
		return nil, err
	}
	if err := reply.Err(); err != nil {
		return nil, err
	}

	return reply.Raw, nil
}

// readWithContext reads one message, abandoning the wait when the context
// expires. The framer read itself cannot be interrupted; on timeout the
// blocked read is released when the caller tears the channel down.
func readWithContext(ctx context.Context, f *Framer) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		data, err := f.ReadMessage()
		ch <- result{data, err}
	}()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
