package audio

import (
	"bytes"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, size := range []int{0, 1, 2, 3, 160, 320, 8000, 64 * 1024} {
		chunk := make([]byte, size)
		for i := range chunk {
			chunk[i] = byte(rng.UintN(256))
		}

		decoded, err := DecodePayload(EncodePayload(chunk))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(chunk, decoded), "size %d", size)
	}
}

func TestPassthroughIsByteIdentical(t *testing.T) {
	chunk := []byte{0xff, 0x7f, 0x00, 0x80, 0x01}
	in := EncodePayload(chunk)

	out, n, err := Passthrough(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, len(chunk), n)
}

func TestPassthroughRejectsGarbage(t *testing.T) {
	_, _, err := Passthrough("not base64!!")
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 20*time.Millisecond, Duration(160))
}
