package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/osshkit/osshd/internal/protocol/dmi"
	"github.com/osshkit/osshd/internal/protocol/netconf"
	"github.com/osshkit/osshd/pkg/device"
	"github.com/osshkit/osshd/pkg/metrics"
)

// subsystemName is the only SSH subsystem this server accepts.
const subsystemName = "netconf"

// Pipeline phases, in the order a connection moves through them. Used for
// diagnostics and failure metrics.
const (
	phaseAccepted  = "accepted"
	phaseHandshake = "handshake"
	phaseSubsystem = "subsystem"
	phaseHello     = "hello"
	phaseFacts     = "facts"
	phaseCallback  = "callback"
	phaseTeardown  = "teardown"
)

// connection carries one device connection through the pipeline: optional
// announcement preamble, SSH handshake, subsystem negotiation, hello
// exchange, facts gathering, callback, teardown. Connections fail
// independently; nothing here is shared with other connections except the
// server's registry, logger, and metrics.
type connection struct {
	id     uint64
	server *Server
	tcp    net.Conn
	peer   string

	// set as the pipeline advances; closed in reverse order on teardown
	sshConn *ssh.ServerConn
	channel ssh.Channel

	mu    sync.Mutex
	phase string
}

func newConnection(id uint64, s *Server, tcp net.Conn) *connection {
	return &connection{
		id:     id,
		server: s,
		tcp:    tcp,
		peer:   tcp.RemoteAddr().String(),
		phase:  phaseAccepted,
	}
}

func (c *connection) setPhase(phase string) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
}

// Phase returns the phase the connection is currently in.
func (c *connection) Phase() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// serve runs the pipeline and guarantees teardown. Panics are recovered so
// a single misbehaving connection cannot take down the server.
func (c *connection) serve(ctx context.Context) {
	defer c.close()
	defer func() {
		if r := recover(); r != nil {
			c.server.logger.Error("panic handling device %s: %v", c.peer, r)
		}
	}()

	if err := c.run(ctx); err != nil {
		phase := failurePhase(err)
		c.server.metrics.RecordConnectionFailure(phase)
		c.server.logger.Error("device %s (%s): %v", c.peer, phase, err)
	}
}

func (c *connection) run(ctx context.Context) error {
	cfg := c.server.config
	log := c.server.logger

	// One deadline covers everything up to a ready NETCONF session.
	handshakeDeadline := time.Now().Add(cfg.HandshakeTimeout)
	if err := c.tcp.SetDeadline(handshakeDeadline); err != nil {
		return &HandshakeError{Err: fmt.Errorf("set handshake deadline: %w", err)}
	}

	c.setPhase(phaseHandshake)

	conn := c.tcp
	if cfg.AllowAnnouncement {
		wrapped, announcement, err := dmi.Strip(c.tcp, 0)
		if err != nil {
			return wrapErrTimeout(phaseHandshake, &HandshakeError{Err: err}, err)
		}
		if announcement != nil {
			log.Info("device %s announced id %q (msg-ver %s)",
				c.peer, announcement.DeviceID, announcement.MsgVer)
		}
		conn = wrapped
	}

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, c.server.sshConfig)
	if err != nil {
		return wrapErrTimeout(phaseHandshake, &HandshakeError{Err: err}, err)
	}
	c.sshConn = sshConn
	go ssh.DiscardRequests(reqs)

	log.Debug("device %s authenticated as %q (%s)",
		c.peer, sshConn.User(), sshConn.Permissions.Extensions["auth-method"])

	c.setPhase(phaseSubsystem)
	channel, err := c.awaitNetconfChannel(ctx, chans, handshakeDeadline)
	if err != nil {
		return err
	}
	c.channel = channel

	// Reject further channel opens for the life of the connection so a
	// misbehaving device cannot stall the SSH mux.
	go func() {
		for nc := range chans {
			_ = nc.Reject(ssh.Prohibited, "only one session channel is accepted")
		}
	}()

	c.setPhase(phaseHello)
	log.Info("establishing session with device %s", c.peer)

	helloCtx, cancelHello := context.WithDeadline(ctx, handshakeDeadline)
	sess, err := netconf.Establish(helloCtx, c.server.nextSessionID(), channel)
	cancelHello()
	if err != nil {
		return wrapErrTimeout(phaseHello, &ProtocolError{Err: err}, err)
	}

	// RPC phases are bounded per round-trip, not by a socket deadline.
	if err := c.tcp.SetDeadline(time.Time{}); err != nil {
		return &ProtocolError{Err: fmt.Errorf("clear handshake deadline: %w", err)}
	}

	c.server.metrics.RecordSessionEstablished()
	log.Debug("device %s session %d ready (chunked framing: %v)",
		c.peer, sess.ID(), sess.DeviceHello().UsesChunkedFraming())

	timed := &timedSession{
		sess:    sess,
		timeout: cfg.RPCTimeout,
		metrics: c.server.metrics,
	}

	c.setPhase(phaseFacts)
	log.Info("gathering facts from device %s", c.peer)

	facts, err := device.GatherFacts(ctx, timed)
	if err != nil {
		return wrapErrTimeout(phaseFacts, &FactsError{Err: err}, err)
	}
	log.Debug("device %s facts: %s", c.peer, facts)

	c.setPhase(phaseCallback)
	if cbErr := c.invokeCallback(ctx, timed, facts); cbErr != nil {
		return cbErr
	}

	log.Info("completed device %s (hostname %q)", c.peer, facts.Hostname)
	return nil
}

// awaitNetconfChannel accepts exactly one session channel and its netconf
// subsystem request. Any other channel type or subsystem name, or no request
// before the deadline, fails the connection.
func (c *connection) awaitNetconfChannel(ctx context.Context, chans <-chan ssh.NewChannel, deadline time.Time) (ssh.Channel, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	var newChannel ssh.NewChannel
	select {
	case nc, ok := <-chans:
		if !ok {
			return nil, &SubsystemError{Err: errors.New("connection closed before channel open")}
		}
		newChannel = nc
	case <-timer.C:
		return nil, &TimeoutError{Phase: phaseSubsystem, Err: errors.New("no channel open request")}
	case <-ctx.Done():
		return nil, &SubsystemError{Err: ctx.Err()}
	}

	if newChannel.ChannelType() != "session" {
		_ = newChannel.Reject(ssh.UnknownChannelType, "only session channels are accepted")
		return nil, &SubsystemError{Err: fmt.Errorf("unexpected channel type %q", newChannel.ChannelType())}
	}

	channel, requests, err := newChannel.Accept()
	if err != nil {
		return nil, &SubsystemError{Err: fmt.Errorf("accept channel: %w", err)}
	}

	select {
	case req, ok := <-requests:
		if !ok {
			return nil, &SubsystemError{Err: errors.New("channel closed before subsystem request")}
		}

		var payload struct {
			Name string
		}
		if req.Type != "subsystem" || ssh.Unmarshal(req.Payload, &payload) != nil {
			_ = req.Reply(false, nil)
			return nil, &SubsystemError{Err: fmt.Errorf("unexpected channel request %q", req.Type)}
		}
		if payload.Name != subsystemName {
			_ = req.Reply(false, nil)
			return nil, &SubsystemError{Err: fmt.Errorf("unexpected subsystem %q", payload.Name)}
		}
		if err := req.Reply(true, nil); err != nil {
			return nil, &SubsystemError{Err: fmt.Errorf("acknowledge subsystem request: %w", err)}
		}

		// Refuse anything else the client asks for on this channel.
		go func() {
			for r := range requests {
				_ = r.Reply(false, nil)
			}
		}()

		return channel, nil

	case <-timer.C:
		return nil, &TimeoutError{Phase: phaseSubsystem, Err: errors.New("no subsystem request")}
	case <-ctx.Done():
		return nil, &SubsystemError{Err: ctx.Err()}
	}
}

// invokeCallback hands the device session to the caller. The handle is only
// valid for the duration of the call; panics are contained here.
func (c *connection) invokeCallback(ctx context.Context, sess device.Session, facts *device.Facts) (err error) {
	handle := device.NewHandle(sess, 0)
	defer handle.Invalidate()

	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{Recovered: r}
		}
	}()

	c.server.onDevice(ctx, handle, facts)
	return nil
}

// close tears the connection down in the required order: NETCONF channel,
// then SSH connection, then TCP socket. Safe on partially built pipelines
// and on error paths.
func (c *connection) close() {
	c.setPhase(phaseTeardown)
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.sshConn != nil {
		_ = c.sshConn.Close()
	}
	_ = c.tcp.Close()
}

// forceClose aborts the connection from the outside (forced shutdown). It
// closes the raw socket, which unblocks any pipeline I/O.
func (c *connection) forceClose() {
	_ = c.tcp.Close()
}

// timedSession applies the per-RPC timeout and records RPC metrics around
// the underlying session. It serves both the fact gatherer and the device
// handle given to the callback.
type timedSession struct {
	sess    *netconf.Session
	timeout time.Duration
	metrics metrics.ServerMetrics
}

func (t *timedSession) Execute(ctx context.Context, operation string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok && t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := t.sess.Execute(ctx, operation)
	t.metrics.RecordRPC(time.Since(start), err)
	return reply, err
}

// wrapErrTimeout converts deadline failures into the timeout taxonomy entry
// for the given phase, and returns the phase-typed error otherwise.
func wrapErrTimeout(phase string, typed error, cause error) error {
	var netErr net.Error
	if errors.As(cause, &netErr) && netErr.Timeout() {
		return &TimeoutError{Phase: phase, Err: cause}
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return &TimeoutError{Phase: phase, Err: cause}
	}
	return typed
}

// failurePhase maps a pipeline error to the phase label used in logs and
// metrics.
func failurePhase(err error) string {
	var (
		handshakeErr *HandshakeError
		subsystemErr *SubsystemError
		protocolErr  *ProtocolError
		timeoutErr   *TimeoutError
		factsErr     *FactsError
		callbackErr  *CallbackError
	)

	switch {
	case errors.As(err, &timeoutErr):
		return timeoutErr.Phase
	case errors.As(err, &handshakeErr):
		return phaseHandshake
	case errors.As(err, &subsystemErr):
		return phaseSubsystem
	case errors.As(err, &protocolErr):
		return phaseHello
	case errors.As(err, &factsErr):
		return phaseFacts
	case errors.As(err, &callbackErr):
		return phaseCallback
	default:
		return phaseTeardown
	}
}
