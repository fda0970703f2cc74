// Package cobs implements Consistent Overhead Byte Stuffing with 0x00 as
// the reserved delimiter.
package cobs

import "errors"

// Delimiter is the byte value that never appears in encoded output
const Delimiter byte = 0x00

// maxRun is the longest literal run one code byte can describe
const maxRun = 0xFF

// ErrCorrupt is returned when encoded input is truncated or contains a
// delimiter.
var ErrCorrupt = errors.New("cobs: corrupt or truncated input")

// MaxEncodedLen returns the worst-case encoded size of n payload bytes
func MaxEncodedLen(n int) int {
	return n + n/254 + 1
}

// Encode stuffs src so that the result contains no Delimiter bytes
func Encode(src []byte) []byte {
	dst := make([]byte, 1, MaxEncodedLen(len(src)))
	codeIdx := 0
	code := byte(1)

	for _, b := range src {
		if b == Delimiter {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}

		dst = append(dst, b)
		code++
		if code == maxRun {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code

	return dst
}

// Decode reverses Encode. On malformed input it returns an empty slice
// and ErrCorrupt.
func Decode(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, ErrCorrupt
	}

	dst := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := src[i]
		if code == Delimiter {
			return []byte{}, ErrCorrupt
		}
		i++

		end := i + int(code) - 1
		if end > len(src) {
			return []byte{}, ErrCorrupt
		}
		for _, b := range src[i:end] {
			if b == Delimiter {
				return []byte{}, ErrCorrupt
			}
		}
		dst = append(dst, src[i:end]...)
		i = end

		if code != maxRun && i < len(src) {
			dst = append(dst, Delimiter)
		}
	}

	return dst, nil
}

// Frame encodes payload and wraps it in a leading and trailing Delimiter
func Frame(payload []byte) []byte {
	enc := Encode(payload)
	out := make([]byte, 0, len(enc)+2)
	out = append(out, Delimiter)
	out = append(out, enc...)
	return append(out, Delimiter)
}
