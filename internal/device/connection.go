// internal/device/connection.go
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hcom/internal/cobs"
	"hcom/internal/config"
	"hcom/internal/hcom"
	"hcom/internal/protocol"
	"hcom/internal/utils"
)

const (
	// readerJoinTimeout bounds how long Close waits for the reader
	readerJoinTimeout = 10 * time.Second

	// reopenInterval paces WaitForDevice attempts
	reopenInterval = 500 * time.Millisecond
)

// Options tunes packet sizing and response windows
type Options struct {
	MaxPacketSize       int
	CommandTimeout      time.Duration
	FileStartTimeout    time.Duration
	EspFileStartTimeout time.Duration
	FileEndTimeout      time.Duration
}

// DefaultOptions returns the protocol defaults
func DefaultOptions() Options {
	return Options{
		MaxPacketSize:       hcom.DefaultMaxPacketSize,
		CommandTimeout:      5 * time.Second,
		FileStartTimeout:    10 * time.Second,
		EspFileStartTimeout: 30 * time.Second,
		FileEndTimeout:      60 * time.Second,
	}
}

// OptionsFromConfig maps the protocol config section, keeping defaults
// for unset values.
func OptionsFromConfig(cfg config.ProtocolConfig) Options {
	opts := DefaultOptions()
	if cfg.MaxPacketSize > hcom.HeaderLength {
		opts.MaxPacketSize = cfg.MaxPacketSize
	}
	if cfg.CommandTimeout > 0 {
		opts.CommandTimeout = cfg.CommandTimeout
	}
	if cfg.FileStartTimeout > 0 {
		opts.FileStartTimeout = cfg.FileStartTimeout
	}
	if cfg.EspFileStartTimeout > 0 {
		opts.EspFileStartTimeout = cfg.EspFileStartTimeout
	}
	if cfg.FileEndTimeout > 0 {
		opts.FileEndTimeout = cfg.FileEndTimeout
	}
	return opts
}

// Command is one outgoing request. A nil Match sends without waiting.
type Command struct {
	RequestType hcom.RequestType
	UserData    uint32
	Payload     []byte
	Timeout     time.Duration
	Match       MatchFunc
}

// Connection is an Hcom link to one device. A single reader goroutine
// per open link parses frames and fans messages out to subscriptions.
// Commands must be issued one at a time; the caller serializes them.
type Connection struct {
	id        uuid.UUID
	transport protocol.Transport
	opts      Options
	logger    *utils.ConnectionLogger
	subs      *registry

	writeMu sync.Mutex

	mu           sync.Mutex
	connected    bool
	cancelReader context.CancelFunc
	readerDone   chan struct{}
	disconnected chan struct{}
}

// NewConnection wraps transport. The link is not opened.
func NewConnection(transport protocol.Transport, opts Options, logger *zap.Logger) *Connection {
	id := uuid.New()
	connLogger := utils.NewConnectionLogger(utils.OrNop(logger), id.String(), string(transport.Type()))

	disconnected := make(chan struct{})
	close(disconnected)

	return &Connection{
		id:           id,
		transport:    transport,
		opts:         opts,
		logger:       connLogger,
		subs:         newRegistry(connLogger.Logger),
		disconnected: disconnected,
	}
}

// ID identifies this connection in logs and events
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Options returns the tuning in effect
func (c *Connection) Options() Options {
	return c.opts
}

// Transport returns the underlying byte stream
func (c *Connection) Transport() protocol.Transport {
	return c.transport
}

// Open opens the transport and starts the reader
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	// a reader from the previous link may still be unwinding
	if c.readerDone != nil {
		<-c.readerDone
	}

	if err := c.transport.Open(ctx); err != nil {
		return fmt.Errorf("failed to open device link: %w", err)
	}

	readerCtx, cancel := context.WithCancel(context.Background())
	c.cancelReader = cancel
	c.readerDone = make(chan struct{})
	c.disconnected = make(chan struct{})
	c.connected = true

	go c.readLoop(readerCtx, c.disconnected, c.readerDone)

	c.logger.LogLink("open", nil)
	return nil
}

// Close stops the reader and closes the transport
func (c *Connection) Close() error {
	c.mu.Lock()
	cancel := c.cancelReader
	done := c.readerDone
	c.cancelReader = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(readerJoinTimeout):
			c.logger.Warn("Reader did not stop in time")
		}
	}

	c.markDisconnected()

	if err := c.transport.Close(); err != nil {
		return err
	}
	c.logger.LogLink("close", nil)
	return nil
}

// IsConnected reports whether the link is up
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnected returns a channel closed when the current link drops
func (c *Connection) Disconnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// WaitForDevice reopens the link until it succeeds or timeout elapses.
// Used after the device reboots and re-enumerates.
func (c *Connection) WaitForDevice(parent context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ticker := time.NewTicker(reopenInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if c.IsConnected() {
			return nil
		}
		if lastErr = c.Open(ctx); lastErr == nil {
			c.logger.LogLink("reconnect", nil)
			return nil
		}

		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: not back within %s: %v", hcom.ErrDeviceDisconnected, timeout, lastErr)
		case <-ticker.C:
		}
	}
}

// Subscribe registers for messages accepted by match
func (c *Connection) Subscribe(match MatchFunc, buffer int) *Subscription {
	return c.subs.add(match, buffer)
}

// SubscriberCount returns the number of live subscriptions
func (c *Connection) SubscriberCount() int {
	return c.subs.count()
}

// Ping writes a liveness probe the device discards
func (c *Connection) Ping(ctx context.Context) error {
	return c.writeFrame(ctx, cobs.Frame(nil))
}

// SendCommand transmits cmd and waits for the first message accepted by
// cmd.Match. The subscription is removed on every return path.
func (c *Connection) SendCommand(ctx context.Context, cmd Command) (*hcom.Message, error) {
	if cmd.Match == nil {
		return nil, c.sendPacket(ctx, hcom.NewHeader(cmd.RequestType, 0, cmd.UserData), cmd.Payload)
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = c.opts.CommandTimeout
	}

	sub := c.Subscribe(func(m *hcom.Message) bool {
		return m.Type == hcom.MessageRejected || cmd.Match(m)
	}, 1)
	defer sub.Cancel()

	disconnected := c.Disconnected()

	if err := c.sendPacket(ctx, hcom.NewHeader(cmd.RequestType, 0, cmd.UserData), cmd.Payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-sub.C():
		if msg.Type == hcom.MessageRejected {
			return nil, &hcom.CommandRejectedError{Request: cmd.RequestType, Reason: msg.Text}
		}
		return msg, nil
	case <-timer.C:
		return nil, &hcom.CommandTimeoutError{Request: cmd.RequestType, Timeout: timeout}
	case <-disconnected:
		return nil, fmt.Errorf("%s: %w", cmd.RequestType, hcom.ErrDeviceDisconnected)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", cmd.RequestType, ctx.Err())
	}
}

// SendSimpleCommand sends a header-only request. With doAcceptedCheck
// unset nothing is awaited, for requests after which the device drops
// off the link without answering.
func (c *Connection) SendSimpleCommand(ctx context.Context, requestType hcom.RequestType, userData uint32, doAcceptedCheck bool) error {
	cmd := Command{RequestType: requestType, UserData: userData}
	if doAcceptedCheck {
		cmd.Match = MatchTypes(hcom.MessageAccepted)
	}
	_, err := c.SendCommand(ctx, cmd)
	return err
}

// Collect sends cmd and gathers every message accepted by cmd.Match until
// one accepted by done arrives. cmd.Timeout bounds the gap between
// messages.
func (c *Connection) Collect(ctx context.Context, cmd Command, done MatchFunc) ([]*hcom.Message, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = c.opts.CommandTimeout
	}

	sub := c.Subscribe(func(m *hcom.Message) bool {
		return m.Type == hcom.MessageRejected || cmd.Match(m) || done(m)
	}, 256)
	defer sub.Cancel()

	disconnected := c.Disconnected()

	if err := c.sendPacket(ctx, hcom.NewHeader(cmd.RequestType, 0, cmd.UserData), cmd.Payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var collected []*hcom.Message
	for {
		select {
		case msg := <-sub.C():
			switch {
			case msg.Type == hcom.MessageRejected:
				return nil, &hcom.CommandRejectedError{Request: cmd.RequestType, Reason: msg.Text}
			case done(msg):
				return collected, nil
			default:
				collected = append(collected, msg)
			}
			timer.Reset(timeout)
		case <-timer.C:
			return collected, &hcom.CommandTimeoutError{Request: cmd.RequestType, Timeout: timeout}
		case <-disconnected:
			return collected, fmt.Errorf("%s: %w", cmd.RequestType, hcom.ErrDeviceDisconnected)
		case <-ctx.Done():
			return collected, fmt.Errorf("%s: %w", cmd.RequestType, ctx.Err())
		}
	}
}

func (c *Connection) sendPacket(ctx context.Context, h hcom.Header, payload []byte) error {
	return c.writeFrame(ctx, hcom.EncodeFrame(h, payload))
}

func (c *Connection) writeFrame(ctx context.Context, frame []byte) error {
	if !c.IsConnected() {
		return hcom.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.transport.Write(ctx, frame); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", hcom.ErrNotConnected, err)
	}
	return nil
}

// markDisconnected flags the link down and wakes every waiter on the
// current generation.
func (c *Connection) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	c.connected = false
	close(c.disconnected)
}

func (c *Connection) readLoop(ctx context.Context, disconnected chan struct{}, done chan struct{}) {
	defer close(done)

	asm := hcom.NewAssembler(c.opts.MaxPacketSize)
	readBuf := make([]byte, c.opts.MaxPacketSize)
	packet := make([]byte, cobs.MaxEncodedLen(c.opts.MaxPacketSize))

	for {
		n, err := c.transport.Read(ctx, readBuf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.LogLink("lost", err)
			c.markDisconnected()
			if cerr := c.transport.Close(); cerr != nil {
				c.logger.Debug("Closing dead transport failed", zap.Error(cerr))
			}
			return
		}
		if n == 0 {
			continue
		}
		c.feed(asm, readBuf[:n], packet)
	}
}

// feed pushes bytes into the assembler, draining and finally resetting
// it when a corrupt stream has filled the ring without a frame.
func (c *Connection) feed(asm *hcom.Assembler, data []byte, packet []byte) {
	for {
		switch asm.AddBytes(data) {
		case hcom.AddSuccess:
			c.drain(asm, packet)
			return
		case hcom.AddBadArg:
			c.logger.Warn("Read chunk rejected by assembler", zap.Int("bytes", len(data)))
			return
		case hcom.AddWontFit:
			before := asm.Len()
			c.drain(asm, packet)
			if asm.Len() == before {
				c.logger.Warn("Assembler full without a frame, resetting", zap.Int("discarded", before))
				asm.Reset()
			}
		}
	}
}

func (c *Connection) drain(asm *hcom.Assembler, packet []byte) {
	for {
		n, res := asm.GetNextPacket(packet)
		switch res {
		case hcom.PacketNoneFound:
			return
		case hcom.PacketBufferTooSmall:
			c.logger.Warn("Oversized frame discarded")
			continue
		}

		msg, err := hcom.DecodeFrame(packet[:n])
		if err != nil {
			if errors.Is(err, hcom.ErrFraming) {
				c.logger.Debug("Dropping corrupt frame", zap.Int("bytes", n))
			} else {
				c.logger.Warn("Dropping message", zap.Error(err))
			}
			continue
		}

		if c.logger.Core().Enabled(zap.DebugLevel) {
			c.logger.Debug("Message received",
				zap.Stringer("type", msg.Type),
				zap.Uint32("user_data", msg.Header.UserData),
			)
		}
		c.subs.dispatch(msg)
	}
}
