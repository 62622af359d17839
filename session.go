package abs9p

import (
	"context"
	"errors"
	"io"
	"sync"
)

// SessionOptions configures one Session.
type SessionOptions struct {
	// MSize is the largest message size the session will negotiate.
	// Zero means DefaultMSize.
	MSize uint32
	// Logger receives structured session events. Nil disables logging.
	Logger Logger
	// Metrics receives counters, typically shared across sessions.
	Metrics *MetricsCollector
	// Pool, when set, bounds concurrent request handling.
	Pool *WorkerPool
}

// Session drives one connection: it owns the fid table and dispatcher
// for that connection and runs the receive-decode-dispatch loop until
// the stream ends or a fatal protocol error occurs. Sessions share no
// state with each other beyond whatever the backend itself shares.
type Session struct {
	conn    io.ReadWriteCloser
	fids    *FidTable
	disp    *Dispatcher
	logger  Logger
	metrics *MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewSession builds a session serving backend over conn. The caller
// runs it with Serve and may abort it early with Close.
func NewSession(conn io.ReadWriteCloser, backend Backend, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = NewNoopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:    conn,
		fids:    NewFidTable(),
		logger:  logger,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.disp = newDispatcher(dispatcherConfig{
		backend: backend,
		fids:    s.fids,
		send:    s.send,
		logger:  logger,
		metrics: opts.Metrics,
		pool:    opts.Pool,
		msize:   opts.MSize,
		ctx:     ctx,
	})
	return s
}

// Serve runs the session until the transport closes or a fatal
// protocol error occurs. A clean remote close returns nil; protocol
// violations return the violation after teardown. Teardown releases
// every fid still in the table and abandons pending requests.
func (s *Session) Serve() error {
	defer s.Close()

	for {
		tag, msg, err := ReadFcall(s.conn, s.disp.MaxFrameSize())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var malformed *MalformedFrameError
			if errors.As(err, &malformed) {
				s.metrics.RecordProtocolViolation()
				s.logger.Warn("closing connection", LogField{Key: "error", Value: err.Error()})
				return err
			}
			// Transport error; nothing to reply to.
			return err
		}

		if err := s.disp.Dispatch(tag, msg); err != nil {
			s.logger.Warn("closing connection", LogField{Key: "error", Value: err.Error()})
			return err
		}
	}
}

// send serializes one reply frame. Concurrent per-tag handlers finish
// in any order; the write lock keeps their frames from interleaving.
func (s *Session) send(tag Tag, msg Fcall) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeFcallLimit(s.conn, tag, msg, s.disp.MaxFrameSize())
}

// Close tears the session down: pending requests are cancelled, all
// remaining fids released, and the transport closed. Safe to call
// more than once and concurrently with Serve.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
		s.disp.Shutdown()
	})
	return err
}

// FidCount reports the number of live fids, exposed for tests and
// introspection.
func (s *Session) FidCount() int {
	return s.fids.Count()
}
