package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hcom/internal/cobs"
	"hcom/internal/hcom"
)

func acceptAll(h hcom.Header, payload []byte) []reply {
	return []reply{textReply(hcom.ResponseAccepted, "")}
}

func TestSendCommandReturnsMatch(t *testing.T) {
	conn, dev, _ := newTestConnection(t, testOptions(), func(h hcom.Header, payload []byte) []reply {
		if h.RequestType == hcom.RequestGetDeviceName {
			return []reply{
				textReply(hcom.ResponseTrace, "noise"),
				textReply(hcom.ResponseDeviceName, "bench-device"),
			}
		}
		return nil
	})

	name, err := conn.GetDeviceName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bench-device", name)
	assert.Zero(t, conn.SubscriberCount())

	packets := dev.packets()
	require.Len(t, packets, 1)
	assert.Equal(t, uint16(0), packets[0].header.SequenceNumber)
	assert.Equal(t, hcom.ProtocolVersion, packets[0].header.ProtocolVersion)
	assert.Equal(t, hcom.RequestGetDeviceName, packets[0].header.RequestType)
}

func TestSequentialCommandsLeaveNoSubscribers(t *testing.T) {
	conn, _, _ := newTestConnection(t, testOptions(), acceptAll)

	for i := 0; i < 1000; i++ {
		_, err := conn.SendCommand(context.Background(), Command{
			RequestType: hcom.RequestSendTraceToHost,
			UserData:    uint32(i),
			Match:       MatchTypes(hcom.MessageAccepted),
		})
		require.NoError(t, err)
	}

	assert.Zero(t, conn.SubscriberCount())
}

func TestCommandTimeoutBound(t *testing.T) {
	conn, _, _ := newTestConnection(t, testOptions(), nil)
	timeout := 150 * time.Millisecond

	start := time.Now()
	_, err := conn.SendCommand(context.Background(), Command{
		RequestType: hcom.RequestGetDeviceInformation,
		Timeout:     timeout,
		Match:       MatchTypes(hcom.MessageDeviceInfo),
	})
	elapsed := time.Since(start)

	var timeoutErr *hcom.CommandTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, hcom.RequestGetDeviceInformation, timeoutErr.Request)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+250*time.Millisecond)
	assert.Zero(t, conn.SubscriberCount())
}

func TestCommandRejected(t *testing.T) {
	conn, _, _ := newTestConnection(t, testOptions(), func(h hcom.Header, payload []byte) []reply {
		return []reply{textReply(hcom.ResponseRejected, "runtime busy")}
	})

	err := conn.RuntimeEnable(context.Background())

	var rejected *hcom.CommandRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "runtime busy", rejected.Reason)
	assert.Zero(t, conn.SubscriberCount())
}

func TestCommandCancellation(t *testing.T) {
	conn, _, _ := newTestConnection(t, testOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := conn.SendCommand(ctx, Command{
		RequestType: hcom.RequestGetDeviceInformation,
		Timeout:     5 * time.Second,
		Match:       MatchTypes(hcom.MessageDeviceInfo),
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, conn.SubscriberCount())
}

func TestDisconnectDuringCommand(t *testing.T) {
	var pipe *pipeTransport
	conn, _, pipe := newTestConnection(t, testOptions(), func(h hcom.Header, payload []byte) []reply {
		if h.RequestType == hcom.RequestRuntimeDisable {
			pipe.Close()
		}
		return nil
	})

	err := conn.RuntimeDisable(context.Background())

	assert.ErrorIs(t, err, hcom.ErrDeviceDisconnected)
	// the request went out before the drop
	assert.NotErrorIs(t, err, hcom.ErrNotConnected)
	assert.Zero(t, conn.SubscriberCount())
	assert.Eventually(t, func() bool { return !conn.IsConnected() }, time.Second, 5*time.Millisecond)
}

func TestWaitForDeviceReopens(t *testing.T) {
	conn, _, pipe := newTestConnection(t, testOptions(), acceptAll)

	disconnected := conn.Disconnected()
	require.NoError(t, pipe.Close())

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect not observed")
	}

	require.NoError(t, conn.WaitForDevice(context.Background(), 2*time.Second))
	assert.True(t, conn.IsConnected())
	assert.NoError(t, conn.TraceToHost(context.Background(), true))
}

func TestWriteWhileDisconnected(t *testing.T) {
	conn, _, _ := newTestConnection(t, testOptions(), acceptAll)
	require.NoError(t, conn.Close())

	err := conn.SetTraceLevel(context.Background(), TraceInfo)
	assert.ErrorIs(t, err, hcom.ErrDeviceDisconnected)
	assert.ErrorIs(t, err, hcom.ErrNotConnected)
}

func TestFireAndForgetCommand(t *testing.T) {
	conn, dev, _ := newTestConnection(t, testOptions(), nil)

	start := time.Now()
	require.NoError(t, conn.ResetDevice(context.Background()))
	require.NoError(t, conn.EnterDfuMode(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	packets := dev.packets()
	require.Len(t, packets, 2)
	assert.Equal(t, hcom.RequestResetPrimaryMcu, packets[0].header.RequestType)
	assert.Equal(t, hcom.RequestEnterDfuMode, packets[1].header.RequestType)
}

func TestReaderDropsProbesAndCorruptFrames(t *testing.T) {
	conn, _, pipe := newTestConnection(t, testOptions(), nil)
	sub := conn.Subscribe(func(*hcom.Message) bool { return true }, 16)
	defer sub.Cancel()

	pipe.send(cobs.Frame(nil))
	pipe.send([]byte{0x00, 0x09, 0x01, 0x00})
	pipe.send(hcom.EncodeFrame(hcom.NewHeader(0x7777, 0, 0), nil))
	pipe.send(hcom.EncodeFrame(hcom.NewHeader(hcom.ResponseAppStdout, 0, 0), []byte("hello")))

	select {
	case msg := <-sub.C():
		assert.Equal(t, hcom.MessageAppOutput, msg.Type)
		assert.Equal(t, "hello", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected message %s", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReaderHandlesSplitFrames(t *testing.T) {
	conn, _, pipe := newTestConnection(t, testOptions(), nil)
	sub := conn.Subscribe(MatchTypes(hcom.MessageAppOutput), 64)
	defer sub.Cancel()

	var stream []byte
	for i := 0; i < 20; i++ {
		stream = append(stream, hcom.EncodeFrame(hcom.NewHeader(hcom.ResponseAppStdout, 0, 0), []byte{byte('a' + i)})...)
	}
	for _, b := range stream {
		pipe.send([]byte{b})
	}

	for i := 0; i < 20; i++ {
		select {
		case msg := <-sub.C():
			assert.Equal(t, string(rune('a'+i)), msg.Text)
		case <-time.After(time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}
}

func TestPing(t *testing.T) {
	conn, dev, _ := newTestConnection(t, testOptions(), nil)

	require.NoError(t, conn.Ping(context.Background()))
	// the probe never surfaces as a packet on the device side either
	assert.Empty(t, dev.packets())
}
