// internal/hcom/assembler.go
package hcom

import "hcom/internal/cobs"

// AddResult reports the outcome of Assembler.AddBytes
type AddResult int

const (
	AddSuccess AddResult = iota
	AddWontFit
	AddBadArg
)

// PacketResult reports the outcome of Assembler.GetNextPacket
type PacketResult int

const (
	PacketFound PacketResult = iota
	PacketNoneFound
	PacketBufferTooSmall
)

// probeLength is the interior size of a link liveness probe, which is
// an encoded empty payload.
const probeLength = 1

// Assembler accumulates stream bytes in a fixed ring and cuts out the
// interiors of delimiter-bounded frames. It is not safe for concurrent
// use; the connection reader owns it.
type Assembler struct {
	buf   []byte
	head  int
	count int
}

// NewAssembler creates an assembler sized for frames up to
// maxPacketSize, with room for four of them.
func NewAssembler(maxPacketSize int) *Assembler {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	return &Assembler{buf: make([]byte, 4*cobs.MaxEncodedLen(maxPacketSize))}
}

// Capacity returns the ring size
func (a *Assembler) Capacity() int { return len(a.buf) }

// Len returns the number of buffered bytes
func (a *Assembler) Len() int { return a.count }

// Reset discards everything buffered
func (a *Assembler) Reset() {
	a.head = 0
	a.count = 0
}

// AddBytes appends all of p or nothing. AddWontFit asks the caller to
// drain with GetNextPacket and try again.
func (a *Assembler) AddBytes(p []byte) AddResult {
	if len(p) == 0 || len(p) > len(a.buf) {
		return AddBadArg
	}
	if a.count+len(p) > len(a.buf) {
		return AddWontFit
	}

	tail := (a.head + a.count) % len(a.buf)
	n := copy(a.buf[tail:], p)
	copy(a.buf, p[n:])
	a.count += len(p)
	return AddSuccess
}

// GetNextPacket copies the next frame interior into out. Bytes ahead
// of the first delimiter, empty interiors and probes are discarded.
// An interior larger than out is dropped and PacketBufferTooSmall
// returned so the caller can note the corruption and keep going.
func (a *Assembler) GetNextPacket(out []byte) (int, PacketResult) {
	for {
		start := a.indexOf(cobs.Delimiter, 0)
		if start < 0 {
			a.Reset()
			return 0, PacketNoneFound
		}
		a.discard(start)

		end := a.indexOf(cobs.Delimiter, 1)
		if end < 0 {
			return 0, PacketNoneFound
		}

		size := end - 1
		switch {
		case size == 0:
			// adjacent delimiters, resync on the second one
			a.discard(1)
			continue
		case size == probeLength:
			a.discard(end)
			continue
		case size > len(out):
			a.discard(end)
			return 0, PacketBufferTooSmall
		}

		for i := 0; i < size; i++ {
			out[i] = a.at(1 + i)
		}
		// keep the closing delimiter, it may open the next frame
		a.discard(end)
		return size, PacketFound
	}
}

func (a *Assembler) at(i int) byte {
	return a.buf[(a.head+i)%len(a.buf)]
}

func (a *Assembler) indexOf(b byte, from int) int {
	for i := from; i < a.count; i++ {
		if a.at(i) == b {
			return i
		}
	}
	return -1
}

func (a *Assembler) discard(n int) {
	a.head = (a.head + n) % len(a.buf)
	a.count -= n
}
