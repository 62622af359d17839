package abs9p

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ServerOptions defines the configuration for the 9P server
type ServerOptions struct {
	Addr  string // Listen address in "proto!host!port" form, e.g. "tcp!0.0.0.0!564" or "unix!/run/abs9p.sock"
	MSize uint32 // Largest negotiable message size (0 = DefaultMSize)
	Debug bool   // Enable debug logging

	// Connection management
	MaxConnections int           // Maximum concurrent connections (0 = unlimited)
	IdleTimeout    time.Duration // Close connections idle longer than this (0 = never)

	// TCP tuning
	TCPKeepAlive      bool
	TCPNoDelay        bool
	SendBufferSize    int
	ReceiveBufferSize int

	// MaxWorkers bounds concurrent request handling across all
	// connections (0 = one goroutine per in-flight request).
	MaxWorkers int

	// Log configures the structured logger. Nil disables structured
	// logging.
	Log *LogConfig
}

// parseDialString splits a "proto!host!port" dial string into the
// network and address arguments net.Listen expects. Unix sockets use
// the two-part form "unix!path".
func parseDialString(addr string) (network, address string, err error) {
	parts := strings.Split(addr, "!")
	switch parts[0] {
	case "tcp", "tcp4", "tcp6":
		if len(parts) != 3 {
			return "", "", fmt.Errorf("dial string %q: want proto!host!port", addr)
		}
		return parts[0], net.JoinHostPort(parts[1], parts[2]), nil
	case "unix":
		if len(parts) != 2 || parts[1] == "" {
			return "", "", fmt.Errorf("dial string %q: want unix!path", addr)
		}
		return "unix", parts[1], nil
	default:
		return "", "", fmt.Errorf("dial string %q: unsupported protocol %q", addr, parts[0])
	}
}

// connectionState tracks the state of an active connection
type connectionState struct {
	lastActivity   atomic.Int64 // unix nanoseconds
	unregisterOnce sync.Once
}

// Server accepts connections and runs one Session per connection
// against a shared Backend.
type Server struct {
	options    ServerOptions
	backend    Backend
	listener   net.Listener
	logger     *log.Logger
	slogger    Logger
	metrics    *MetricsCollector
	pool       *WorkerPool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	acceptErrs atomic.Int32

	// Connection management
	connMutex   sync.Mutex
	activeConns map[net.Conn]*connectionState
	connCount   int
}

// NewServer creates a new 9P server. The listen address is validated
// here; the socket is not opened until Listen.
func NewServer(options ServerOptions) (*Server, error) {
	if options.Addr == "" {
		options.Addr = "tcp!0.0.0.0!564"
	}
	if _, _, err := parseDialString(options.Addr); err != nil {
		return nil, err
	}
	if options.MSize == 0 {
		options.MSize = DefaultMSize
	}
	if options.MSize < MinMSize {
		return nil, fmt.Errorf("msize %d below minimum %d", options.MSize, MinMSize)
	}

	slogger := NewNoopLogger()
	if options.Log != nil {
		sl, err := NewSlogLogger(options.Log)
		if err != nil {
			return nil, err
		}
		slogger = sl
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		options:     options,
		logger:      log.New(os.Stderr, "[abs9p] ", log.LstdFlags),
		slogger:     slogger,
		metrics:     NewMetricsCollector(),
		ctx:         ctx,
		cancel:      cancel,
		activeConns: make(map[net.Conn]*connectionState),
	}
	if options.MaxWorkers > 0 {
		s.pool = NewWorkerPool(options.MaxWorkers, slogger)
	}
	return s, nil
}

// SetBackend sets the filesystem backend for the server
func (s *Server) SetBackend(backend Backend) {
	s.backend = backend
}

// GetMetrics returns a snapshot of the server's counters.
func (s *Server) GetMetrics() ServerMetrics {
	return s.metrics.Snapshot()
}

// Addr returns the bound listen address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// registerConnection adds a connection to the tracking map, enforcing
// the connection limit.
func (s *Server) registerConnection(conn net.Conn) bool {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()

	if s.options.MaxConnections > 0 && s.connCount >= s.options.MaxConnections {
		if s.options.Debug {
			s.logger.Printf("Connection limit reached (%d), rejecting new connection", s.options.MaxConnections)
		}
		s.slogger.Warn("connection limit reached",
			LogField{Key: "limit", Value: s.options.MaxConnections},
			LogField{Key: "client_addr", Value: conn.RemoteAddr().String()})
		s.metrics.ConnectionRejected()
		return false
	}

	state := &connectionState{}
	state.lastActivity.Store(time.Now().UnixNano())
	s.activeConns[conn] = state
	s.connCount++
	s.metrics.ConnectionOpened()

	if s.options.Debug {
		s.logger.Printf("New connection accepted (total: %d)", s.connCount)
	}
	s.slogger.Info("connection accepted",
		LogField{Key: "total_connections", Value: s.connCount},
		LogField{Key: "client_addr", Value: conn.RemoteAddr().String()})
	return true
}

// unregisterConnection removes a connection from the tracking map.
// The sync.Once ensures the count is decremented exactly once per
// connection even when close paths race.
func (s *Server) unregisterConnection(conn net.Conn) {
	s.connMutex.Lock()
	state, exists := s.activeConns[conn]
	s.connMutex.Unlock()

	if !exists {
		return
	}

	state.unregisterOnce.Do(func() {
		s.connMutex.Lock()
		defer s.connMutex.Unlock()

		if _, stillExists := s.activeConns[conn]; stillExists {
			delete(s.activeConns, conn)
			s.connCount--
			s.metrics.ConnectionClosed()

			if s.options.Debug {
				s.logger.Printf("Connection closed (total: %d)", s.connCount)
			}
			s.slogger.Info("connection closed",
				LogField{Key: "total_connections", Value: s.connCount})
		}
	})
}

// trackedConn stamps connection activity on every read and write so
// the idle reaper sees sessions that are busy inside their own loop.
type trackedConn struct {
	net.Conn
	state *connectionState
}

func (c *trackedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.state.lastActivity.Store(time.Now().UnixNano())
	}
	return n, err
}

func (c *trackedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.state.lastActivity.Store(time.Now().UnixNano())
	}
	return n, err
}

// cleanupIdleConnections closes connections that have been idle for too long
func (s *Server) cleanupIdleConnections() {
	if s.options.IdleTimeout <= 0 {
		return
	}

	s.connMutex.Lock()
	now := time.Now()
	var idleConns []net.Conn
	for conn, state := range s.activeConns {
		last := time.Unix(0, state.lastActivity.Load())
		if now.Sub(last) > s.options.IdleTimeout {
			idleConns = append(idleConns, conn)
		}
	}
	s.connMutex.Unlock()

	for _, conn := range idleConns {
		conn.Close()
		s.unregisterConnection(conn)
	}

	if len(idleConns) > 0 && s.options.Debug {
		s.logger.Printf("Closed %d idle connections", len(idleConns))
	}
}

// idleConnectionCleanupLoop periodically checks for and closes idle connections
func (s *Server) idleConnectionCleanupLoop() {
	checkInterval := 1 * time.Minute
	if half := s.options.IdleTimeout / 2; half > 0 && half < checkInterval {
		checkInterval = half
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanupIdleConnections()
		}
	}
}

// Listen opens the listen socket and starts accepting connections.
func (s *Server) Listen() error {
	if s.backend == nil {
		return fmt.Errorf("no backend set")
	}

	network, address, err := parseDialString(s.options.Addr)
	if err != nil {
		return err
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.Addr, err)
	}
	return s.serve(listener)
}

// ServeListener accepts connections from an already-open listener,
// useful for tests and callers that manage sockets themselves.
func (s *Server) ServeListener(listener net.Listener) error {
	if s.backend == nil {
		return fmt.Errorf("no backend set")
	}
	return s.serve(listener)
}

func (s *Server) serve(listener net.Listener) error {
	s.listener = listener

	if s.pool != nil {
		s.pool.Start()
	}

	if s.options.IdleTimeout > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.idleConnectionCleanupLoop()
		}()

		if s.options.Debug {
			s.logger.Printf("Connection management enabled (max connections: %d, idle timeout: %v)",
				s.options.MaxConnections, s.options.IdleTimeout)
		}
	}

	s.slogger.Info("server listening",
		LogField{Key: "addr", Value: listener.Addr().String()},
		LogField{Key: "msize", Value: s.options.MSize})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	return nil
}

func (s *Server) acceptLoop() {
	const maxAcceptErrors = 3
	const acceptErrorDelay = 100 * time.Millisecond

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}

				if netErr, ok := err.(net.Error); ok {
					if netErr.Timeout() {
						continue
					}
				}
				if strings.Contains(err.Error(), "use of closed network connection") {
					return
				}

				if s.acceptErrs.Load() < maxAcceptErrors {
					if s.options.Debug {
						s.logger.Printf("accept error: %v", err)
					}
					s.acceptErrs.Add(1)
					time.Sleep(acceptErrorDelay)
				}
				continue
			}
			s.acceptErrs.Store(0)

			if !s.registerConnection(conn) {
				conn.Close()
				continue
			}

			s.configureTCP(conn)

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.unregisterConnection(conn)
				s.handleConnection(conn)
			}()
		}
	}
}

// configureTCP applies keepalive, Nagle, and buffer settings when the
// connection is TCP. Unix sockets pass through untouched.
func (s *Server) configureTCP(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	if s.options.TCPKeepAlive {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			s.logger.Printf("Warning: failed to set TCP keepalive: %v", err)
		}
		if err := tcpConn.SetKeepAlivePeriod(60 * time.Second); err != nil {
			s.logger.Printf("Warning: failed to set TCP keepalive period: %v", err)
		}
	}
	if s.options.TCPNoDelay {
		if err := tcpConn.SetNoDelay(true); err != nil {
			s.logger.Printf("Warning: failed to set TCP no delay: %v", err)
		}
	}
	if s.options.SendBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(s.options.SendBufferSize); err != nil {
			s.logger.Printf("Warning: failed to set send buffer size: %v", err)
		}
	}
	if s.options.ReceiveBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(s.options.ReceiveBufferSize); err != nil {
			s.logger.Printf("Warning: failed to set receive buffer size: %v", err)
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	s.connMutex.Lock()
	state := s.activeConns[conn]
	s.connMutex.Unlock()

	var rwc net.Conn = conn
	if state != nil {
		rwc = &trackedConn{Conn: conn, state: state}
	}

	session := NewSession(rwc, s.backend, SessionOptions{
		MSize:   s.options.MSize,
		Logger:  s.slogger,
		Metrics: s.metrics,
		Pool:    s.pool,
	})

	// Tear the session down when the server stops so Serve unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	if err := session.Serve(); err != nil && s.options.Debug {
		s.logger.Printf("session ended: %v", err)
	}
}

// Stop stops the server: the listener closes, active connections are
// torn down, and the method waits briefly for session goroutines.
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.closeAllConnections()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		err = fmt.Errorf("timeout waiting for server shutdown")
	}

	if s.pool != nil {
		s.pool.Stop()
	}
	if closer, ok := s.slogger.(*SlogLogger); ok {
		closer.Close()
	}
	return err
}

// closeAllConnections closes all active connections
func (s *Server) closeAllConnections() {
	s.connMutex.Lock()
	var conns []net.Conn
	for conn := range s.activeConns {
		conns = append(conns, conn)
	}
	connCount := len(conns)
	s.connMutex.Unlock()

	for _, conn := range conns {
		conn.Close()
		s.unregisterConnection(conn)
	}

	if connCount > 0 && s.options.Debug {
		s.logger.Printf("Closed %d connections during shutdown", connCount)
	}
}
