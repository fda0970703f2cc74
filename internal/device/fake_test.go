package device

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"hcom/internal/cobs"
	"hcom/internal/hcom"
	"hcom/internal/protocol"
)

// pipeTransport connects a Connection to an in-process fake device
type pipeTransport struct {
	mu      sync.Mutex
	open    bool
	closed  chan struct{}
	pending []byte
	inbound chan []byte
	device  *fakeDevice
}

func newPipeTransport(dev *fakeDevice) *pipeTransport {
	p := &pipeTransport{
		inbound: make(chan []byte, 4096),
		device:  dev,
	}
	dev.pipe = p
	return p
}

func (p *pipeTransport) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		p.open = true
		p.closed = make(chan struct{})
	}
	return nil
}

func (p *pipeTransport) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		p.open = false
		close(p.closed)
	}
	return nil
}

func (p *pipeTransport) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *pipeTransport) Write(ctx context.Context, data []byte) error {
	if !p.IsOpen() {
		return protocol.ErrNotOpen
	}
	p.device.receive(append([]byte(nil), data...))
	return nil
}

func (p *pipeTransport) Read(ctx context.Context, buf []byte) (int, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return 0, protocol.ErrNotOpen
	}
	closed := p.closed
	if len(p.pending) > 0 {
		n := copy(buf, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	select {
	case b := <-p.inbound:
		n := copy(buf, b)
		if n < len(b) {
			p.mu.Lock()
			p.pending = append(p.pending, b[n:]...)
			p.mu.Unlock()
		}
		return n, nil
	case <-closed:
		return 0, io.EOF
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (p *pipeTransport) Type() protocol.TransportType { return protocol.TransportTCP }

func (p *pipeTransport) Stats() protocol.Stats { return protocol.Stats{} }

// send queues a device frame for the host
func (p *pipeTransport) send(frame []byte) {
	p.inbound <- frame
}

type reply struct {
	requestType hcom.RequestType
	text        string
	data        []byte
}

func textReply(rt hcom.RequestType, text string) reply {
	return reply{requestType: rt, text: text}
}

type received struct {
	header  hcom.Header
	payload []byte
}

// fakeDevice decodes host frames and answers through handler
type fakeDevice struct {
	mu       sync.Mutex
	asm      *hcom.Assembler
	pipe     *pipeTransport
	handler  func(h hcom.Header, payload []byte) []reply
	received []received
}

func newFakeDevice(handler func(h hcom.Header, payload []byte) []reply) *fakeDevice {
	return &fakeDevice{
		asm:     hcom.NewAssembler(hcom.DefaultMaxPacketSize),
		handler: handler,
	}
}

func (d *fakeDevice) receive(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.asm.AddBytes(data) != hcom.AddSuccess {
		panic("fake device assembler overflow")
	}

	out := make([]byte, cobs.MaxEncodedLen(hcom.DefaultMaxPacketSize))
	for {
		n, res := d.asm.GetNextPacket(out)
		if res != hcom.PacketFound {
			return
		}
		packet, err := cobs.Decode(out[:n])
		if err != nil {
			panic(err)
		}
		h, err := hcom.ParseHeader(packet)
		if err != nil {
			panic(err)
		}
		payload := append([]byte(nil), packet[hcom.HeaderLength:]...)
		d.received = append(d.received, received{header: h, payload: payload})

		if d.handler == nil {
			continue
		}
		for _, r := range d.handler(h, payload) {
			body := r.data
			if body == nil {
				body = []byte(r.text)
			}
			d.pipe.send(hcom.EncodeFrame(hcom.NewHeader(r.requestType, 0, 0), body))
		}
	}
}

func (d *fakeDevice) packets() []received {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]received(nil), d.received...)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.CommandTimeout = 500 * time.Millisecond
	opts.FileStartTimeout = 500 * time.Millisecond
	opts.EspFileStartTimeout = 500 * time.Millisecond
	opts.FileEndTimeout = 500 * time.Millisecond
	return opts
}

// newTestConnection opens a Connection to a fake device
func newTestConnection(t *testing.T, opts Options, handler func(h hcom.Header, payload []byte) []reply) (*Connection, *fakeDevice, *pipeTransport) {
	t.Helper()

	dev := newFakeDevice(handler)
	pipe := newPipeTransport(dev)
	conn := NewConnection(pipe, opts, zaptest.NewLogger(t, zaptest.Level(zapcore.InfoLevel)))
	require.NoError(t, conn.Open(context.Background()))
	t.Cleanup(func() { conn.Close() })

	return conn, dev, pipe
}
