package cobs

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKnownVector(t *testing.T) {
	src := []byte{0x11, 0x00, 0x22}

	enc := Encode(src)
	assert.Equal(t, []byte{0x02, 0x11, 0x02, 0x22}, enc)

	dec, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, src, dec)
}

func TestEncodeEdgeVectors(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
		want []byte
	}{
		{"empty", []byte{}, []byte{0x01}},
		{"single zero", []byte{0x00}, []byte{0x01, 0x01}},
		{"two zeros", []byte{0x00, 0x00}, []byte{0x01, 0x01, 0x01}},
		{"trailing zero", []byte{0x11, 0x00}, []byte{0x02, 0x11, 0x01}},
		{"no zeros", []byte{0x11, 0x22, 0x33}, []byte{0x04, 0x11, 0x22, 0x33}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.src))
		})
	}
}

func TestRoundTripLengths(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, n := range []int{0, 1, 254, 255, 508} {
		patterns := map[string][]byte{
			"zeros":   make([]byte, n),
			"nonzero": bytes.Repeat([]byte{0xA5}, n),
			"random":  randomBytes(rng, n),
		}
		for name, src := range patterns {
			enc := Encode(src)
			assert.NotContains(t, enc, Delimiter, "len=%d %s", n, name)
			assert.LessOrEqual(t, len(enc), MaxEncodedLen(n))

			dec, err := Decode(enc)
			require.NoError(t, err, "len=%d %s", n, name)
			assert.Equal(t, src, dec, "len=%d %s", n, name)
		}
	}
}

func TestRoundTripFuzz(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		src := randomBytes(rng, rng.Intn(1200))
		// bias towards delimiters
		for j := range src {
			if rng.Intn(8) == 0 {
				src[j] = 0
			}
		}

		enc := Encode(src)
		require.False(t, bytes.Contains(enc, []byte{Delimiter}))

		dec, err := Decode(enc)
		require.NoError(t, err)
		require.Equal(t, src, dec)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
	}{
		{"empty", []byte{}},
		{"zero code", []byte{0x00, 0x11}},
		{"truncated run", []byte{0x05, 0x11, 0x22}},
		{"embedded delimiter", []byte{0x03, 0x11, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := Decode(tt.src)
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.Empty(t, dec)
		})
	}
}

func TestFrame(t *testing.T) {
	frame := Frame([]byte{0x11, 0x00, 0x22})

	assert.Equal(t, []byte{0x00, 0x02, 0x11, 0x02, 0x22, 0x00}, frame)
	assert.Equal(t, 2, bytes.Count(frame, []byte{Delimiter}))
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}
