package debugging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeChannel struct {
	mu   sync.Mutex
	data bytes.Buffer
	err  error
}

func (f *fakeChannel) SendDebuggerData(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data.Write(data)
	return nil
}

func (f *fakeChannel) received() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.data.Bytes()...)
}

type clientLog struct {
	mu       sync.Mutex
	attached int
	detached int
}

func (l *clientLog) record(_, _ string, attached bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if attached {
		l.attached++
	} else {
		l.detached++
	}
}

func (l *clientLog) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attached, l.detached
}

func startServer(t *testing.T, ch DeviceChannel) (*Server, *clientLog) {
	t.Helper()
	srv := NewServer("127.0.0.1:0", ch, zaptest.NewLogger(t))
	log := &clientLog{}
	srv.OnClientChange(log.record)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Close() })
	return srv, log
}

func dial(t *testing.T, srv *Server, log *clientLog, wantAttached int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool {
		attached, _ := log.counts()
		return attached == wantAttached
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func TestDebuggerBytesReachDeviceInOrder(t *testing.T) {
	ch := &fakeChannel{}
	srv, log := startServer(t, ch)
	conn := dial(t, srv, log, 1)

	var want bytes.Buffer
	for i := 0; i < 200; i++ {
		chunk := fmt.Sprintf("$m%04x#%02x", i, i%256)
		want.WriteString(chunk)
		_, err := conn.Write([]byte(chunk))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(ch.received()) == want.Len()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want.Bytes(), ch.received())
}

func TestDeviceBytesReachDebuggerInOrder(t *testing.T) {
	srv, log := startServer(t, &fakeChannel{})
	conn := dial(t, srv, log, 1)

	var want bytes.Buffer
	for i := 0; i < 200; i++ {
		chunk := []byte(fmt.Sprintf("+$T%04x;", i))
		want.Write(chunk)
		srv.Enqueue(chunk)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make([]byte, want.Len())
	_, err := io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, want.Bytes(), got)
}

func TestBytesQueuedBeforeAttachAreDelivered(t *testing.T) {
	srv, log := startServer(t, &fakeChannel{})
	srv.Enqueue([]byte("early-"))
	srv.Enqueue([]byte("bytes"))
	srv.Enqueue(nil)
	assert.Equal(t, 2, srv.Pending())

	conn := dial(t, srv, log, 1)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make([]byte, len("early-bytes"))
	_, err := io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, "early-bytes", string(got))
}

func TestNewClientReplacesActive(t *testing.T) {
	srv, log := startServer(t, &fakeChannel{})
	first := dial(t, srv, log, 1)
	second := dial(t, srv, log, 2)

	// the first socket is closed by the server
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := first.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrDeadlineExceeded))

	require.Eventually(t, func() bool {
		_, detached := log.counts()
		return detached == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, srv.HasClient())

	srv.Enqueue([]byte("to-second"))
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make([]byte, len("to-second"))
	_, err = io.ReadFull(second, got)
	require.NoError(t, err)
	assert.Equal(t, "to-second", string(got))
}

func TestClientDisconnectEndsSession(t *testing.T) {
	srv, log := startServer(t, &fakeChannel{})
	conn := dial(t, srv, log, 1)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		_, detached := log.counts()
		return detached == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, srv.HasClient())
}

func TestDeviceFailureKeepsDebuggerOutput(t *testing.T) {
	ch := &fakeChannel{err: errors.New("link down")}
	srv, log := startServer(t, ch)
	conn := dial(t, srv, log, 1)

	_, err := conn.Write([]byte("$g#67"))
	require.NoError(t, err)

	srv.Enqueue([]byte("still-flowing"))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make([]byte, len("still-flowing"))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, "still-flowing", string(got))
	assert.True(t, srv.HasClient())
}

func TestCloseReleasesSockets(t *testing.T) {
	ch := &fakeChannel{}
	srv := NewServer("127.0.0.1:0", ch, zaptest.NewLogger(t))
	log := &clientLog{}
	srv.OnClientChange(log.record)
	require.NoError(t, srv.Start(context.Background()))
	require.Error(t, srv.Start(context.Background()))

	addr := srv.Addr()
	conn := dial(t, srv, log, 1)

	start := time.Now()
	require.NoError(t, srv.Close())
	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, srv.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Read(make([]byte, 1))
	assert.Error(t, err)

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
	_, detached := log.counts()
	assert.Equal(t, 1, detached)
}

func TestQueuePushFrontKeepsOrder(t *testing.T) {
	q := newQueue()
	q.push([]byte("c"))
	q.pushFront([][]byte{[]byte("a"), []byte("b")})

	items := q.popAll()
	require.Len(t, items, 3)
	assert.Equal(t, "a", string(items[0]))
	assert.Equal(t, "b", string(items[1]))
	assert.Equal(t, "c", string(items[2]))
	assert.Zero(t, q.len())
}
