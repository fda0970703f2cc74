// internal/protocol/protocol.go
package protocol

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TransportType names the byte stream underneath an Hcom link
type TransportType string

const (
	TransportSerial TransportType = "serial"
	TransportTCP    TransportType = "tcp"
)

// ErrNotOpen is returned by Read and Write on a closed transport
var ErrNotOpen = errors.New("transport not open")

// Transport is a raw, unframed byte stream to a device.
//
// Read blocks for at most the transport's read timeout and returns
// (0, nil) when no bytes arrived, so callers can observe ctx between
// reads. Any other error means the link is gone.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, buf []byte) (int, error)

	Type() TransportType
	Stats() Stats
}

// Stats provides transport-level statistics
type Stats struct {
	BytesWritten   int64     `json:"bytes_written"`
	BytesRead      int64     `json:"bytes_read"`
	OperationCount int64     `json:"operation_count"`
	ErrorCount     int64     `json:"error_count"`
	LastActivity   time.Time `json:"last_activity"`
	IsConnected    bool      `json:"is_connected"`
}

// statsRecorder is embedded by the concrete transports
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (r *statsRecorder) recordRead(n int) {
	if n == 0 {
		return
	}
	r.mu.Lock()
	r.stats.BytesRead += int64(n)
	r.stats.OperationCount++
	r.stats.LastActivity = time.Now()
	r.mu.Unlock()
}

func (r *statsRecorder) recordWrite(n int) {
	r.mu.Lock()
	r.stats.BytesWritten += int64(n)
	r.stats.OperationCount++
	r.stats.LastActivity = time.Now()
	r.mu.Unlock()
}

func (r *statsRecorder) recordError() {
	r.mu.Lock()
	r.stats.ErrorCount++
	r.mu.Unlock()
}

func (r *statsRecorder) setConnected(connected bool) {
	r.mu.Lock()
	r.stats.IsConnected = connected
	if connected {
		r.stats.LastActivity = time.Now()
	}
	r.mu.Unlock()
}

// Stats returns a snapshot of the counters
func (r *statsRecorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
