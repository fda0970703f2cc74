package device

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"hash/crc32"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hcom/internal/hcom"
)

// transferDevice accepts every transfer and concludes it on the end request
func transferDevice(h hcom.Header, payload []byte) []reply {
	switch h.RequestType {
	case hcom.RequestStartFileTransfer, hcom.RequestStartRuntimeUpdate, hcom.RequestStartEspFileTransfer:
		return []reply{{requestType: hcom.ResponseFileStartOkay}}
	case hcom.RequestEndFileTransfer, hcom.RequestRuntimeUpdateFileEnd, hcom.RequestEndEspFileTransfer:
		return []reply{textReply(hcom.ResponseConcluded, "")}
	}
	return nil
}

func smallPacketOptions() Options {
	opts := testOptions()
	opts.MaxPacketSize = 64
	return opts
}

func dataPackets(packets []received) []received {
	var out []received
	for _, p := range packets {
		if p.header.RequestType == hcom.RequestUploadFileData {
			out = append(out, p)
		}
	}
	return out
}

func TestWriteFileChunking(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	for _, size := range []int{0, 1, 51, 52, 53, 104, 500} {
		conn, dev, _ := newTestConnection(t, smallPacketOptions(), transferDevice)
		chunk := conn.ChunkSize()
		require.Equal(t, 52, chunk)

		data := make([]byte, size)
		rng.Read(data)

		var last TransferProgress
		err := conn.WriteFile(context.Background(), FileTransfer{
			Data:            data,
			DestinationName: "app.bin",
			LastInSeries:    true,
			AwaitCompletion: true,
			Progress:        func(p TransferProgress) { last = p },
		})
		require.NoError(t, err, "size %d", size)

		packets := dev.packets()
		chunks := dataPackets(packets)

		wantPackets := (size + chunk - 1) / chunk
		require.Len(t, chunks, wantPackets, "size %d", size)

		var reassembled []byte
		for i, p := range chunks {
			assert.Equal(t, uint16(i+1), p.header.SequenceNumber)
			reassembled = append(reassembled, p.payload...)
		}
		assert.True(t, bytes.Equal(data, reassembled))

		if wantPackets > 0 {
			wantLast := size % chunk
			if wantLast == 0 {
				wantLast = chunk
			}
			assert.Len(t, chunks[len(chunks)-1].payload, wantLast)
			assert.Equal(t, 100.0, last.Percent)
			assert.Equal(t, size, last.BytesSent)
		}

		end := packets[len(packets)-1]
		assert.Equal(t, hcom.RequestEndFileTransfer, end.header.RequestType)
		assert.Equal(t, uint32(1), end.header.UserData)
		assert.Zero(t, conn.SubscriberCount())
	}
}

func TestWriteFileStartPayload(t *testing.T) {
	conn, dev, _ := newTestConnection(t, smallPacketOptions(), transferDevice)
	data := []byte("coprocessor image bytes")

	err := conn.WriteFile(context.Background(), FileTransfer{
		Kind:            TransferCoprocessor,
		Data:            data,
		DestinationName: "coprocessor.bin",
		Partition:       2,
		McuAddress:      0x10000,
	})
	require.NoError(t, err)

	packets := dev.packets()
	start := packets[0]
	assert.Equal(t, hcom.RequestStartEspFileTransfer, start.header.RequestType)
	assert.Equal(t, uint32(2), start.header.UserData)

	payload, err := hcom.ParseFileStartPayload(start.payload)
	require.NoError(t, err)
	sum := md5.Sum(data)
	assert.Equal(t, uint32(len(data)), payload.FileSize)
	assert.Equal(t, crc32.ChecksumIEEE(data), payload.Crc32)
	assert.Equal(t, uint32(0x10000), payload.McuAddress)
	assert.Equal(t, hex.EncodeToString(sum[:]), payload.MD5)
	assert.Equal(t, "coprocessor.bin", payload.FileName)

	end := packets[len(packets)-1]
	assert.Equal(t, hcom.RequestEndEspFileTransfer, end.header.RequestType)
	assert.Equal(t, uint32(0), end.header.UserData)
}

func TestWriteFileKeepsSuppliedDigest(t *testing.T) {
	conn, dev, _ := newTestConnection(t, smallPacketOptions(), transferDevice)

	err := conn.WriteFile(context.Background(), FileTransfer{
		Kind:            TransferRuntime,
		Data:            []byte{1, 2, 3},
		DestinationName: "runtime.bin",
		McuAddress:      0x8000,
		MD5:             "ffffffffffffffffffffffffffffffff",
	})
	require.NoError(t, err)

	payload, err := hcom.ParseFileStartPayload(dev.packets()[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "ffffffffffffffffffffffffffffffff", payload.MD5)
	assert.Equal(t, hcom.RequestStartRuntimeUpdate, dev.packets()[0].header.RequestType)
}

func TestWriteFileNoDigestWithoutAddress(t *testing.T) {
	conn, dev, _ := newTestConnection(t, smallPacketOptions(), transferDevice)

	require.NoError(t, conn.WriteFile(context.Background(), FileTransfer{
		Data:            []byte("abc"),
		DestinationName: "a.txt",
	}))

	payload, err := hcom.ParseFileStartPayload(dev.packets()[0].payload)
	require.NoError(t, err)
	assert.Empty(t, payload.MD5)
}

func TestWriteFileAborts(t *testing.T) {
	tests := []struct {
		name     string
		reply    reply
		wantType hcom.MessageType
		reason   string
	}{
		{"start fail", textReply(hcom.ResponseFileStartFail, "no space"), hcom.MessageDownloadStartFail, "no space"},
		{"premature conclude", textReply(hcom.ResponseConcluded, ""), hcom.MessageConcluded, "device ended transfer before data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, dev, _ := newTestConnection(t, smallPacketOptions(), func(h hcom.Header, payload []byte) []reply {
				if h.RequestType == hcom.RequestStartFileTransfer {
					return []reply{tt.reply}
				}
				return nil
			})

			err := conn.WriteFile(context.Background(), FileTransfer{
				Data:            make([]byte, 200),
				DestinationName: "big.bin",
			})

			var abort *hcom.TransferAbortError
			require.ErrorAs(t, err, &abort)
			assert.Equal(t, tt.wantType, abort.Response)
			assert.Equal(t, tt.reason, abort.Reason)
			assert.Equal(t, "big.bin", abort.FileName)
			assert.Empty(t, dataPackets(dev.packets()))
		})
	}
}

func TestWriteFileStartTimeout(t *testing.T) {
	conn, _, _ := newTestConnection(t, smallPacketOptions(), nil)

	err := conn.WriteFile(context.Background(), FileTransfer{Data: []byte{1}, DestinationName: "x"})

	var timeoutErr *hcom.CommandTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, hcom.RequestStartFileTransfer, timeoutErr.Request)
}

func TestWriteCoprocessorFiles(t *testing.T) {
	dir := t.TempDir()
	for _, image := range DefaultCoprocessorImages {
		require.NoError(t, os.WriteFile(filepath.Join(dir, image.FileName), []byte(image.FileName), 0o644))
	}

	conn, dev, _ := newTestConnection(t, smallPacketOptions(), transferDevice)
	require.NoError(t, conn.WriteCoprocessorFiles(context.Background(), dir, nil, nil))

	var starts []hcom.FileStartPayload
	var endFlags []uint32
	for _, p := range dev.packets() {
		switch p.header.RequestType {
		case hcom.RequestStartEspFileTransfer:
			payload, err := hcom.ParseFileStartPayload(p.payload)
			require.NoError(t, err)
			starts = append(starts, payload)
		case hcom.RequestEndEspFileTransfer:
			endFlags = append(endFlags, p.header.UserData)
		}
	}

	require.Len(t, starts, 3)
	for i, image := range DefaultCoprocessorImages {
		assert.Equal(t, image.FileName, starts[i].FileName)
		assert.Equal(t, image.McuAddress, starts[i].McuAddress)
	}
	assert.Equal(t, []uint32{0, 0, 1}, endFlags)
}

func TestWriteFileFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))

	conn, dev, _ := newTestConnection(t, smallPacketOptions(), transferDevice)
	require.NoError(t, conn.WriteFileFromPath(context.Background(), path, "", nil))

	payload, err := hcom.ParseFileStartPayload(dev.packets()[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "config.json", payload.FileName)
}
