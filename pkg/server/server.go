// Package server implements the outbound-SSH (call-home) NETCONF session
// server: it listens for reverse-initiated device connections, acts as the
// SSH server for each inbound socket, negotiates the NETCONF subsystem,
// establishes a session, gathers device identity facts, and hands the live
// session to a caller-supplied callback.
//
// Lifecycle:
//  1. Creation: New() with configuration, credentials, and the callback
//  2. Startup: Start() binds the listener and begins accepting
//  3. Operation: each device connection runs its pipeline independently
//  4. Shutdown: Stop() closes the listener and drains or force-closes
//     in-flight connections per the configured policy
//
// Thread safety:
// All exported methods are safe for concurrent use. Connection handlers
// share nothing but the registry, the logger, and the metrics sink; a fault
// in one connection never affects another or the accept loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/osshkit/osshd/internal/logger"
	"github.com/osshkit/osshd/pkg/device"
	"github.com/osshkit/osshd/pkg/metrics"
)

// State is the lifecycle state of the server.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// DeviceCallback is invoked exactly once per successfully established device
// session, with a handle for running RPCs and the fully populated fact
// record. It runs in the connection's own goroutine, so callbacks for
// different devices run in parallel. The handle becomes invalid when the
// callback returns and must not be retained.
type DeviceCallback func(ctx context.Context, handle *device.Handle, facts *device.Facts)

// Option configures optional server collaborators.
type Option func(*Server)

// WithLogger sets the logger instance the server and its connections use.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics sink. Defaults to a no-op implementation.
func WithMetrics(m metrics.ServerMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server accepts outbound-SSH device connections and drives the
// per-connection pipeline.
type Server struct {
	config   Config
	auth     AuthConfig
	logger   *logger.Logger
	metrics  metrics.ServerMetrics
	onDevice DeviceCallback

	// built at Start from config and credentials
	sshConfig *ssh.ServerConfig

	// mu guards lifecycle state and the listener
	mu       sync.Mutex
	state    State
	listener net.Listener

	// connMu guards the connection registry. Handlers touch it only to
	// register and deregister themselves.
	connMu sync.Mutex
	conns  map[uint64]*connection

	nextConnID atomic.Uint64
	nextSessID atomic.Uint64
	connCount  atomic.Int32

	// activeConns tracks handler goroutines for shutdown draining
	activeConns sync.WaitGroup

	// connSemaphore limits concurrent connections when MaxConnections > 0
	connSemaphore chan struct{}

	// shutdown is closed when Stop begins; stopped when Stop has finished,
	// so concurrent Stop callers can wait for the same drain. cancelConns
	// aborts in-flight pipelines under the forced policy.
	shutdown    chan struct{}
	stopped     chan struct{}
	shutdownCtx context.Context
	cancelConns context.CancelFunc
}

// New creates a server in the stopped state. The callback is required;
// configuration zero values are replaced with defaults.
func New(cfg Config, auth AuthConfig, onDevice DeviceCallback, opts ...Option) (*Server, error) {
	cfg.ApplyDefaults()
	auth.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if err := auth.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}
	if onDevice == nil {
		return nil, fmt.Errorf("device callback must not be nil")
	}

	s := &Server{
		config:   cfg,
		auth:     auth,
		onDevice: onDevice,
		logger:   logger.Default(),
		metrics:  metrics.NoopServerMetrics(),
		conns:    make(map[uint64]*connection),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.MaxConnections > 0 {
		s.connSemaphore = make(chan struct{}, cfg.MaxConnections)
	}

	return s, nil
}

// Start binds the listener and begins accepting device connections. A bind
// failure is returned to the caller and the server never reaches the
// running state. Calling Start on a running server returns a StateError.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return &StateError{Op: "start", State: s.state}
	}

	signer, err := loadOrCreateHostKey(s.config.HostKeyFile)
	if err != nil {
		return fmt.Errorf("host key: %w", err)
	}
	sshConfig, err := buildSSHConfig(s.auth, signer)
	if err != nil {
		return fmt.Errorf("ssh config: %w", err)
	}
	s.sshConfig = sshConfig

	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))
	s.logger.Info("outbound-ssh server starting on %s", addr)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	s.listener = listener
	s.conns = make(map[uint64]*connection)
	s.shutdown = make(chan struct{})
	s.stopped = make(chan struct{})
	s.shutdownCtx, s.cancelConns = context.WithCancel(context.Background())
	s.state = StateRunning

	go s.acceptLoop(listener)

	s.logger.Info("outbound-ssh server started on %s", listener.Addr())
	return nil
}

// acceptLoop accepts connections until the listener is closed by Stop.
// Transient accept errors are logged and skipped; persistent ones (resource
// exhaustion) back off briefly before retrying.
func (s *Server) acceptLoop(listener net.Listener) {
	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("error accepting connection: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		id := s.nextConnID.Add(1)
		conn := newConnection(id, s, tcpConn)

		s.connMu.Lock()
		s.conns[id] = conn
		s.connMu.Unlock()

		s.activeConns.Add(1)
		active := s.connCount.Add(1)
		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(active)

		s.logger.Info("accepted connection from %s (active: %d)", conn.peer, active)

		go func() {
			defer func() {
				s.connMu.Lock()
				delete(s.conns, id)
				s.connMu.Unlock()

				active := s.connCount.Add(-1)
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(active)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				s.activeConns.Done()

				s.logger.Debug("connection from %s closed (active: %d)", conn.peer, active)
			}()

			conn.serve(s.shutdownCtx)
		}()
	}
}

// Stop shuts the server down: the listener closes immediately, then
// in-flight connections are either awaited (graceful policy, bounded by
// ShutdownTimeout) or closed at once (forced policy). Stop on an already
// stopped server is a no-op; a Stop racing another Stop waits for the same
// drain, so every return implies the server reached the stopped state. The
// context bounds the whole wait.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateStopping {
		stopped := s.stopped
		s.mu.Unlock()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = StateStopping
	close(s.shutdown)
	listener := s.listener
	s.mu.Unlock()

	s.logger.Info("outbound-ssh server stopping (policy: %s, active: %d)",
		s.config.ShutdownPolicy, s.connCount.Load())

	if err := listener.Close(); err != nil {
		s.logger.Debug("error closing listener: %v", err)
	}

	if s.config.ShutdownPolicy == ShutdownForced {
		s.cancelConns()
		s.forceCloseConnections()
	}

	defer func() {
		s.mu.Lock()
		s.state = StateStopped
		close(s.stopped)
		s.mu.Unlock()
		s.logger.Info("outbound-ssh server stopped")
	}()

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if s.config.ShutdownPolicy == ShutdownGraceful {
		timer := time.NewTimer(s.config.ShutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
		return nil
	case <-timeout:
		remaining := s.connCount.Load()
		s.logger.Warn("shutdown timeout exceeded with %d connection(s) active, forcing closure", remaining)
		s.cancelConns()
		s.forceCloseConnections()
	case <-ctx.Done():
		s.cancelConns()
		s.forceCloseConnections()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forceCloseConnections closes the sockets of every tracked connection,
// unblocking their pipelines.
func (s *Server) forceCloseConnections() {
	s.connMu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()

	for _, c := range conns {
		s.logger.Debug("force-closing connection from %s (phase: %s)", c.peer, c.Phase())
		c.forceClose()
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the listener's address, or nil before Start. Useful when
// binding to port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of connections currently in flight.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

func (s *Server) nextSessionID() uint64 {
	return s.nextSessID.Add(1)
}
