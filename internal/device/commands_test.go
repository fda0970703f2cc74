package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hcom/internal/hcom"
)

func TestGetDeviceInfo(t *testing.T) {
	conn, _, _ := newTestConnection(t, testOptions(), func(h hcom.Header, payload []byte) []reply {
		return []reply{textReply(hcom.ResponseDeviceInfo,
			"Product: Bench Board, Model: F7, OS Version: 1.9.0, Runtime Version: 1.9.1, "+
				"Coprocessor: ESP32, Coprocessor Version: 1.8.0, Serial Number: 3700ABCD")}
	})

	info, err := conn.GetDeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bench Board", info.Product)
	assert.Equal(t, "1.9.0", info.OsVersion)
	assert.Equal(t, "1.9.1", info.RuntimeVersion)
	assert.Equal(t, "ESP32", info.CoprocessorType)
	assert.Equal(t, "1.8.0", info.CoprocessorVersion)
	assert.Equal(t, "3700ABCD", info.SerialNumber)
}

func TestListFiles(t *testing.T) {
	conn, _, _ := newTestConnection(t, testOptions(), func(h hcom.Header, payload []byte) []reply {
		switch h.RequestType {
		case hcom.RequestListFiles:
			return []reply{
				textReply(hcom.ResponseListHeader, "Files:"),
				textReply(hcom.ResponseListMember, "App.dll 2048"),
				textReply(hcom.ResponseListMember, "app.config.yaml"),
				textReply(hcom.ResponseConcluded, ""),
			}
		case hcom.RequestListFilesAndCrc:
			return []reply{
				textReply(hcom.ResponseCrcMember, "App.dll [0x1a2b3c4d] 2048"),
				textReply(hcom.ResponseConcluded, ""),
			}
		}
		return nil
	})

	files, err := conn.ListFiles(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "App.dll", files[0].Name)
	require.NotNil(t, files[0].Size)
	assert.Equal(t, int64(2048), *files[0].Size)
	assert.Equal(t, "app.config.yaml", files[1].Name)
	assert.Nil(t, files[1].Size)

	files, err = conn.ListFiles(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NotNil(t, files[0].Crc32)
	assert.Equal(t, uint32(0x1a2b3c4d), *files[0].Crc32)
	assert.Zero(t, conn.SubscriberCount())
}

func TestDeleteFileCarriesName(t *testing.T) {
	conn, dev, _ := newTestConnection(t, testOptions(), func(h hcom.Header, payload []byte) []reply {
		return []reply{textReply(hcom.ResponseConcluded, "")}
	})

	require.NoError(t, conn.DeleteFile(context.Background(), "old.dll"))

	payload, err := hcom.ParseFileStartPayload(dev.packets()[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "old.dll", payload.FileName)
}

func TestIsRuntimeEnabled(t *testing.T) {
	state := "Runtime is enabled"
	conn, _, _ := newTestConnection(t, testOptions(), func(h hcom.Header, payload []byte) []reply {
		return []reply{textReply(hcom.ResponseRuntimeState, state)}
	})

	enabled, err := conn.IsRuntimeEnabled(context.Background())
	require.NoError(t, err)
	assert.True(t, enabled)

	state = "Runtime is disabled"
	enabled, err = conn.IsRuntimeEnabled(context.Background())
	require.NoError(t, err)
	assert.False(t, enabled)

	state = "unknown"
	_, err = conn.IsRuntimeEnabled(context.Background())
	assert.ErrorIs(t, err, hcom.ErrProtocol)
}

func TestRtcTime(t *testing.T) {
	conn, dev, _ := newTestConnection(t, testOptions(), func(h hcom.Header, payload []byte) []reply {
		switch h.RequestType {
		case hcom.RequestRtcReadTime:
			return []reply{textReply(hcom.ResponseInformation, "UTC time: 2024-05-01T10:00:00Z")}
		case hcom.RequestRtcSetTime:
			return []reply{textReply(hcom.ResponseAccepted, "")}
		}
		return nil
	})

	got, err := conn.GetRtcTime(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

	set := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, conn.SetRtcTime(context.Background(), set))
	packets := dev.packets()
	assert.Equal(t, "2025-01-02T03:04:05Z", string(packets[len(packets)-1].payload))
}

func TestSendDebuggerDataSplits(t *testing.T) {
	conn, dev, _ := newTestConnection(t, smallPacketOptions(), nil)
	data := make([]byte, 120)
	for i := range data {
		data[i] = byte(i)
	}

	require.NoError(t, conn.SendDebuggerData(context.Background(), data))

	var got []byte
	for _, p := range dev.packets() {
		require.Equal(t, hcom.RequestDebuggerData, p.header.RequestType)
		got = append(got, p.payload...)
	}
	assert.Equal(t, data, got)
	assert.Len(t, dev.packets(), 3)
}

func TestStartDebuggingCarriesPort(t *testing.T) {
	conn, dev, _ := newTestConnection(t, testOptions(), acceptAll)

	require.NoError(t, conn.StartDebugging(context.Background(), 4024))
	assert.Equal(t, uint32(4024), dev.packets()[0].header.UserData)
}
