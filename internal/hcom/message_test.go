package hcom

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hcom/internal/cobs"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := NewHeader(RequestGetDeviceInformation, 0, 0xDEADBEEF)
	frame := EncodeFrame(h, nil)

	require.Equal(t, cobs.Delimiter, frame[0])
	require.Equal(t, cobs.Delimiter, frame[len(frame)-1])

	packet, err := cobs.Decode(frame[1 : len(frame)-1])
	require.NoError(t, err)
	require.Len(t, packet, HeaderLength)

	parsed, err := ParseHeader(packet)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), parsed.SequenceNumber)
	assert.Equal(t, ProtocolVersion, parsed.ProtocolVersion)
	assert.Equal(t, RequestGetDeviceInformation, parsed.RequestType)
	assert.Equal(t, uint16(0), parsed.Extra)
	assert.Equal(t, uint32(0xDEADBEEF), parsed.UserData)
}

func TestHeaderLayout(t *testing.T) {
	h := Header{
		SequenceNumber:  0x0102,
		ProtocolVersion: 0x0304,
		RequestType:     0x0506,
		UserData:        0x0A0B0C0D,
	}
	assert.Equal(t,
		[]byte{0x02, 0x01, 0x04, 0x03, 0x06, 0x05, 0x00, 0x00, 0x0D, 0x0C, 0x0B, 0x0A},
		h.Marshal())
}

func TestParseHeaderShort(t *testing.T) {
	_, err := ParseHeader(make([]byte, HeaderLength-1))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestParseTextMessage(t *testing.T) {
	packet := BuildPacket(NewHeader(ResponseDeviceInfo, 0, 0), []byte("Serial Number: 1234"))

	msg, err := Parse(packet)
	require.NoError(t, err)
	assert.Equal(t, MessageDeviceInfo, msg.Type)
	assert.Equal(t, "Serial Number: 1234", msg.Text)
	assert.Nil(t, msg.Data)
}

func TestParseBinaryMessage(t *testing.T) {
	payload := []byte{0x00, 0xFF, 0x10}
	packet := BuildPacket(NewHeader(ResponseDebuggingData, 0, 0), payload)

	msg, err := Parse(packet)
	require.NoError(t, err)
	assert.Equal(t, MessageDebuggingData, msg.Type)
	assert.Equal(t, payload, msg.Data)

	// payload must not alias the packet buffer
	packet[HeaderLength] = 0x77
	assert.Equal(t, byte(0x00), msg.Data[0])
}

func TestParseHeaderOnlyMessage(t *testing.T) {
	msg, err := Parse(BuildPacket(NewHeader(ResponseFileStartOkay, 0, 0), nil))
	require.NoError(t, err)
	assert.Equal(t, MessageDownloadStartOkay, msg.Type)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
	}{
		{"unknown code", BuildPacket(NewHeader(0x7777, 0, 0), nil)},
		{"request code from host", BuildPacket(NewHeader(RequestListFiles, 0, 0), nil)},
		{"missing mandatory text", BuildPacket(NewHeader(ResponseListMember, 0, 0), nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(tt.packet)
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, ErrProtocol))
		})
	}
}

func TestDecodeFrameCorrupt(t *testing.T) {
	_, err := DecodeFrame([]byte{0x09, 0x01})
	assert.ErrorIs(t, err, ErrFraming)
}

func TestFileStartPayload(t *testing.T) {
	p := FileStartPayload{
		FileSize:   1000,
		Crc32:      0x11223344,
		McuAddress: 0x10000,
		MD5:        "0123456789abcdef0123456789abcdef",
		FileName:   "App.dll",
	}
	raw := p.Marshal()
	assert.Len(t, raw, 44+len("App.dll"))

	parsed, err := ParseFileStartPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, p, parsed)
}

func TestFileStartPayloadWithoutDigest(t *testing.T) {
	raw := FileStartPayload{FileSize: 3, FileName: "a.txt"}.Marshal()

	assert.Equal(t, make([]byte, 32), raw[12:44])

	parsed, err := ParseFileStartPayload(raw)
	require.NoError(t, err)
	assert.Empty(t, parsed.MD5)
	assert.Equal(t, "a.txt", parsed.FileName)
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "DownloadStartFail", MessageDownloadStartFail.String())
	assert.Equal(t, "MessageType(99)", MessageType(99).String())
	assert.Equal(t, "ListFiles", RequestListFiles.String())
}
