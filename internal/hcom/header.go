// internal/hcom/header.go
package hcom

import (
	"encoding/binary"
	"fmt"
)

// HeaderLength is the fixed size of every Hcom header
const HeaderLength = 12

// ProtocolVersion is the version this host speaks
const ProtocolVersion uint16 = 0x0007

// DefaultMaxPacketSize is the largest unencoded packet, header included
const DefaultMaxPacketSize = 8192

// Header is the little-endian prefix of every packet:
// u16 seq | u16 version | u16 request type | u16 extra | u32 user data
type Header struct {
	SequenceNumber  uint16
	ProtocolVersion uint16
	RequestType     RequestType
	Extra           uint16
	UserData        uint32
}

// NewHeader returns a header for the current protocol version
func NewHeader(requestType RequestType, seq uint16, userData uint32) Header {
	return Header{
		SequenceNumber:  seq,
		ProtocolVersion: ProtocolVersion,
		RequestType:     requestType,
		UserData:        userData,
	}
}

// AppendTo appends the encoded header to b
func (h Header) AppendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, h.SequenceNumber)
	b = binary.LittleEndian.AppendUint16(b, h.ProtocolVersion)
	b = binary.LittleEndian.AppendUint16(b, uint16(h.RequestType))
	b = binary.LittleEndian.AppendUint16(b, h.Extra)
	return binary.LittleEndian.AppendUint32(b, h.UserData)
}

// Marshal encodes the header into a new 12 byte slice
func (h Header) Marshal() []byte {
	return h.AppendTo(make([]byte, 0, HeaderLength))
}

// ParseHeader decodes the first 12 bytes of b
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, fmt.Errorf("%w: packet of %d bytes is shorter than header", ErrProtocol, len(b))
	}
	return Header{
		SequenceNumber:  binary.LittleEndian.Uint16(b[0:2]),
		ProtocolVersion: binary.LittleEndian.Uint16(b[2:4]),
		RequestType:     RequestType(binary.LittleEndian.Uint16(b[4:6])),
		Extra:           binary.LittleEndian.Uint16(b[6:8]),
		UserData:        binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// BuildPacket returns header followed by payload, unframed
func BuildPacket(h Header, payload []byte) []byte {
	out := make([]byte, 0, HeaderLength+len(payload))
	out = h.AppendTo(out)
	return append(out, payload...)
}
