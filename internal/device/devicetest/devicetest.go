// Package devicetest provides an in-memory Hcom device for tests of code
// layered on device.Connection.
package devicetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"hcom/internal/cobs"
	"hcom/internal/hcom"
	"hcom/internal/protocol"
)

// idleRead is how long Read waits before reporting no data
const idleRead = 5 * time.Millisecond

// Reply is one device packet sent back to the host
type Reply struct {
	RequestType hcom.RequestType
	Text        string
	Data        []byte
}

// Text builds a text reply
func Text(rt hcom.RequestType, text string) Reply {
	return Reply{RequestType: rt, Text: text}
}

// Handler answers one host packet
type Handler func(h hcom.Header, payload []byte) []Reply

// Packet is one host packet the device received
type Packet struct {
	Header  hcom.Header
	Payload []byte
}

// Transport is a protocol.Transport backed by a scripted device. Every
// Write carries whole frames, as device.Connection writes them.
type Transport struct {
	handler Handler

	mu       sync.Mutex
	open     bool
	openErr  error
	closed   chan struct{}
	pending  []byte
	received []Packet
	inbound  chan []byte
}

// NewTransport creates a closed transport answering with handler
func NewTransport(handler Handler) *Transport {
	return &Transport{
		handler: handler,
		inbound: make(chan []byte, 4096),
	}
}

// SetOpenError makes Open fail with err until cleared with nil
func (t *Transport) SetOpenError(err error) {
	t.mu.Lock()
	t.openErr = err
	t.mu.Unlock()
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return t.openErr
	}
	if !t.open {
		t.open = true
		t.closed = make(chan struct{})
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		t.open = false
		close(t.closed)
	}
	return nil
}

// Drop simulates the device falling off the link
func (t *Transport) Drop() {
	t.Close()
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) Write(ctx context.Context, data []byte) error {
	if !t.IsOpen() {
		return protocol.ErrNotOpen
	}

	for _, interior := range bytes.Split(data, []byte{cobs.Delimiter}) {
		if len(interior) == 0 {
			continue
		}
		packet, err := cobs.Decode(interior)
		if err != nil || len(packet) < hcom.HeaderLength {
			continue
		}
		h, err := hcom.ParseHeader(packet)
		if err != nil {
			continue
		}
		payload := append([]byte(nil), packet[hcom.HeaderLength:]...)

		t.mu.Lock()
		t.received = append(t.received, Packet{Header: h, Payload: payload})
		t.mu.Unlock()

		if t.handler != nil {
			for _, r := range t.handler(h, payload) {
				t.Send(r)
			}
		}
	}
	return nil
}

func (t *Transport) Read(ctx context.Context, buf []byte) (int, error) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return 0, protocol.ErrNotOpen
	}
	closed := t.closed
	if len(t.pending) > 0 {
		n := copy(buf, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	select {
	case b := <-t.inbound:
		n := copy(buf, b)
		if n < len(b) {
			t.mu.Lock()
			t.pending = append(t.pending, b[n:]...)
			t.mu.Unlock()
		}
		return n, nil
	case <-closed:
		return 0, io.EOF
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(idleRead):
		return 0, nil
	}
}

func (t *Transport) Type() protocol.TransportType { return protocol.TransportTCP }

func (t *Transport) Stats() protocol.Stats {
	return protocol.Stats{IsConnected: t.IsOpen()}
}

// Send pushes an unsolicited device packet to the host
func (t *Transport) Send(r Reply) {
	body := r.Data
	if body == nil {
		body = []byte(r.Text)
	}
	t.inbound <- hcom.EncodeFrame(hcom.NewHeader(r.RequestType, 0, 0), body)
}

// Received returns the host packets seen so far
func (t *Transport) Received() []Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Packet(nil), t.received...)
}

// Requests returns the request types seen so far, in order
func (t *Transport) Requests() []hcom.RequestType {
	var out []hcom.RequestType
	for _, p := range t.Received() {
		out = append(out, p.Header.RequestType)
	}
	return out
}

// ErrUnavailable is a convenient Open failure
var ErrUnavailable = errors.New("device not present")

// Standard answers the common requests of a healthy device
func Standard(info string, files ...string) Handler {
	return func(h hcom.Header, payload []byte) []Reply {
		switch h.RequestType {
		case hcom.RequestGetDeviceInformation:
			return []Reply{Text(hcom.ResponseDeviceInfo, info)}
		case hcom.RequestListFiles:
			replies := []Reply{Text(hcom.ResponseListHeader, "files")}
			for _, f := range files {
				replies = append(replies, Text(hcom.ResponseListMember, f))
			}
			return append(replies, Text(hcom.ResponseConcluded, "done"))
		case hcom.RequestDeleteFile, hcom.RequestEndFileTransfer:
			return []Reply{Text(hcom.ResponseConcluded, "done")}
		case hcom.RequestStartFileTransfer:
			return []Reply{Text(hcom.ResponseFileStartOkay, "ok")}
		case hcom.RequestRuntimeEnable, hcom.RequestRuntimeDisable, hcom.RequestStartDebugSession:
			return []Reply{Text(hcom.ResponseAccepted, "ok")}
		}
		return nil
	}
}
