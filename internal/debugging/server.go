// internal/debugging/server.go
package debugging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hcom/internal/utils"
)

const (
	// joinTimeout bounds how long Close and client replacement wait for pumps
	joinTimeout = 10 * time.Second

	readBufferSize = 4096
	maxBatchSize   = 64 * 1024
)

// DeviceChannel carries debugger bytes to the device.
// *device.Connection implements it.
type DeviceChannel interface {
	SendDebuggerData(ctx context.Context, data []byte) error
}

// ClientFunc observes debugger clients attaching and detaching
type ClientFunc func(sessionID, remoteAddr string, attached bool)

// Server relays bytes between one debugger client and the device debug
// channel. A newly accepted client replaces the active one.
type Server struct {
	addr     string
	device   DeviceChannel
	logger   *zap.Logger
	outgoing *queue
	onClient ClientFunc

	mu       sync.Mutex
	listener net.Listener
	active   *session
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

// session is one debugger client and its two pumps
type session struct {
	id     string
	conn   net.Conn
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// NewServer creates a proxy that listens on addr once started
func NewServer(addr string, device DeviceChannel, logger *zap.Logger) *Server {
	return &Server{
		addr:     addr,
		device:   device,
		logger:   utils.OrNop(logger).With(zap.String("component", "debugging_proxy")),
		outgoing: newQueue(),
	}
}

// OnClientChange registers fn for attach and detach notifications.
// Call it before Start.
func (s *Server) OnClientChange(fn ClientFunc) {
	s.onClient = fn
}

// Start binds the listener and begins accepting debugger clients
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("debugging proxy already started on %s", s.listener.Addr())
	}
	if s.closed {
		return fmt.Errorf("debugging proxy closed")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptLoop(runCtx, ln)

	s.logger.Info("Debugging proxy listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// HasClient reports whether a debugger is attached
func (s *Server) HasClient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Enqueue queues device debug bytes for the debugger. Bytes queued while
// no client is attached are delivered to the next one.
func (s *Server) Enqueue(data []byte) {
	if len(data) == 0 {
		return
	}
	s.outgoing.push(append([]byte(nil), data...))
}

// Pending returns the number of queued device chunks
func (s *Server) Pending() int {
	return s.outgoing.len()
}

// Close stops accepting, ends the active session and waits for every
// goroutine to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	ln := s.listener
	active := s.active
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var closeErr error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			closeErr = err
		}
	}
	if active != nil {
		active.stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Debugging proxy stopped")
		return closeErr
	case <-time.After(joinTimeout):
		return fmt.Errorf("debugging proxy did not stop within %s", joinTimeout)
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			continue
		}
		s.attach(ctx, conn)
	}
}

// attach replaces the active session with one for conn
func (s *Server) attach(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	previous := s.active
	s.mu.Unlock()

	if previous != nil {
		s.logger.Info("New debugger client replaces active one", zap.String("session_id", previous.id))
		previous.stop()
		// the old write pump must be gone before a new one drains the queue
		if !previous.wait(joinTimeout) {
			s.logger.Warn("Previous debugger session did not stop in time", zap.String("session_id", previous.id))
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		id:     uuid.New().String(),
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sess.logger = s.logger.With(
		zap.String("session_id", sess.id),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		conn.Close()
		return
	}
	s.active = sess
	s.mu.Unlock()

	sess.logger.Info("Debugger client attached")
	s.notify(sess, true)

	var pumps sync.WaitGroup
	pumps.Add(2)
	s.wg.Add(1)
	go func() {
		defer pumps.Done()
		s.readPump(sessCtx, sess)
	}()
	go func() {
		defer pumps.Done()
		s.writePump(sessCtx, sess)
	}()
	go func() {
		defer s.wg.Done()
		pumps.Wait()
		sess.stop()
		close(sess.done)

		s.mu.Lock()
		if s.active == sess {
			s.active = nil
		}
		s.mu.Unlock()

		sess.logger.Info("Debugger client detached")
		s.notify(sess, false)
	}()
}

// readPump forwards debugger bytes to the device. Reads are batched while
// more bytes are already buffered. A read failure ends the session.
func (s *Server) readPump(ctx context.Context, sess *session) {
	reader := bufio.NewReaderSize(sess.conn, readBufferSize)
	buf := make([]byte, readBufferSize)

	for {
		n, err := reader.Read(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				sess.logger.Warn("Debugger read failed", zap.Error(err))
			}
			sess.stop()
			return
		}

		batch := append([]byte(nil), buf[:n]...)
		for reader.Buffered() > 0 && len(batch) < maxBatchSize {
			n, err = reader.Read(buf[:min(len(buf), reader.Buffered())])
			if err != nil {
				break
			}
			batch = append(batch, buf[:n]...)
		}

		if err := s.device.SendDebuggerData(ctx, batch); err != nil {
			if ctx.Err() == nil {
				sess.logger.Error("Forwarding debugger data to device failed", zap.Error(err))
			}
			// the socket stays open; only this direction stops
			return
		}
	}
}

// writePump drains the device queue to the debugger in order. A write
// failure ends only this pump; unwritten chunks stay queued.
func (s *Server) writePump(ctx context.Context, sess *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.outgoing.ready:
		}

		items := s.outgoing.popAll()
		for i, data := range items {
			if ctx.Err() != nil {
				s.outgoing.pushFront(items[i:])
				return
			}
			if _, err := sess.conn.Write(data); err != nil {
				s.outgoing.pushFront(items[i:])
				if ctx.Err() == nil {
					sess.logger.Warn("Debugger write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

func (s *Server) notify(sess *session, attached bool) {
	if s.onClient != nil {
		s.onClient(sess.id, sess.conn.RemoteAddr().String(), attached)
	}
}

// stop cancels the pumps and closes the socket; safe to call repeatedly
func (sess *session) stop() {
	sess.cancel()
	sess.conn.Close()
}

func (sess *session) wait(timeout time.Duration) bool {
	select {
	case <-sess.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
