// internal/hcom/filestart.go
package hcom

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// md5FieldLength is the width of the ASCII hex digest field
const md5FieldLength = 32

// fileStartFixedLength covers size, crc, address and digest
const fileStartFixedLength = 12 + md5FieldLength

// FileStartPayload is the body of every file-start class request
type FileStartPayload struct {
	FileSize   uint32
	Crc32      uint32
	McuAddress uint32
	MD5        string
	FileName   string
}

// Marshal encodes the payload; an MD5 shorter than 32 characters is
// zero-filled and a longer one truncated.
func (p FileStartPayload) Marshal() []byte {
	out := make([]byte, 0, fileStartFixedLength+len(p.FileName))
	out = binary.LittleEndian.AppendUint32(out, p.FileSize)
	out = binary.LittleEndian.AppendUint32(out, p.Crc32)
	out = binary.LittleEndian.AppendUint32(out, p.McuAddress)

	var digest [md5FieldLength]byte
	copy(digest[:], p.MD5)
	out = append(out, digest[:]...)

	return append(out, p.FileName...)
}

// ParseFileStartPayload decodes a file-start body
func ParseFileStartPayload(b []byte) (FileStartPayload, error) {
	if len(b) < fileStartFixedLength {
		return FileStartPayload{}, fmt.Errorf("%w: file start payload of %d bytes", ErrProtocol, len(b))
	}
	digest := b[12:fileStartFixedLength]
	if i := bytes.IndexByte(digest, 0); i >= 0 {
		digest = digest[:i]
	}
	return FileStartPayload{
		FileSize:   binary.LittleEndian.Uint32(b[0:4]),
		Crc32:      binary.LittleEndian.Uint32(b[4:8]),
		McuAddress: binary.LittleEndian.Uint32(b[8:12]),
		MD5:        string(digest),
		FileName:   string(b[fileStartFixedLength:]),
	}, nil
}
