// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"hcom/internal/config"
)

const defaultTCPReadTimeout = 100 * time.Millisecond

// TCPConnection implements Transport over a TCP socket
type TCPConnection struct {
	statsRecorder

	config config.TCPConfig
	conn   net.Conn
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
}

// NewTCPConnection creates a new TCP transport
func NewTCPConnection(cfg config.TCPConfig, logger *zap.Logger) *TCPConnection {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultTCPReadTimeout
	}
	return &TCPConnection{
		config: cfg,
		logger: logger.With(
			zap.String("protocol", "tcp"),
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
		),
	}
}

// Address returns host:port of the remote end
func (tc *TCPConnection) Address() string {
	return net.JoinHostPort(tc.config.Host, fmt.Sprint(tc.config.Port))
}

// Open dials the device
func (tc *TCPConnection) Open(ctx context.Context) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.isOpen {
		return nil
	}

	dialer := &net.Dialer{Timeout: tc.config.ConnectTimeout}
	if tc.config.KeepAlive {
		dialer.KeepAlive = 30 * time.Second
	} else {
		dialer.KeepAlive = -1
	}

	conn, err := dialer.DialContext(ctx, "tcp", tc.Address())
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tc.Address(), err)
	}

	tc.conn = conn
	tc.isOpen = true
	tc.setConnected(true)

	tc.logger.Info("TCP connection opened")
	return nil
}

// Close closes the socket
func (tc *TCPConnection) Close() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return nil
	}

	err := tc.conn.Close()
	tc.conn = nil
	tc.isOpen = false
	tc.setConnected(false)

	if err != nil {
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}
	tc.logger.Info("TCP connection closed")
	return nil
}

// IsOpen returns whether the socket is open
func (tc *TCPConnection) IsOpen() bool {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.isOpen && tc.conn != nil
}

// Write writes data, honoring the ctx deadline when present
func (tc *TCPConnection) Write(ctx context.Context, data []byte) error {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()

	if !tc.isOpen || tc.conn == nil {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	tc.conn.SetWriteDeadline(deadline)

	n, err := tc.conn.Write(data)
	if err != nil {
		tc.recordError()
		return fmt.Errorf("failed to write to TCP connection: %w", err)
	}
	tc.recordWrite(n)
	return nil
}

// Read waits up to the read timeout for data. A deadline expiry is
// reported as (0, nil).
func (tc *TCPConnection) Read(ctx context.Context, buf []byte) (int, error) {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()

	if !tc.isOpen || tc.conn == nil {
		return 0, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tc.conn.SetReadDeadline(time.Now().Add(tc.config.ReadTimeout))
	n, err := tc.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			tc.recordRead(n)
			return n, nil
		}
		tc.recordError()
		return n, fmt.Errorf("failed to read from TCP connection: %w", err)
	}
	tc.recordRead(n)
	return n, nil
}

// Type returns the transport type
func (tc *TCPConnection) Type() TransportType {
	return TransportTCP
}
