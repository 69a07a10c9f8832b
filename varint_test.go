package blip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1, ^uint64(0)}
	for _, v := range values {
		buf := make([]byte, maxVarintLen64)
		n := putUvarint(buf, v)
		assert.Equal(t, uvarintLen(v), n)

		got, consumed, ok := readUvarint(buf[:n])
		require.True(t, ok)
		assert.Equal(t, n, consumed)
		assert.Equal(t, v, got)
	}
}

func TestReadUvarintStatusIncomplete(t *testing.T) {
	buf := make([]byte, maxVarintLen64)
	n := putUvarint(buf, 1<<40)

	// Truncate before the final byte: should report incomplete, not
	// malformed, since more bytes might still arrive in a later frame.
	_, _, status := readUvarintStatus(buf[:n-1])
	assert.Equal(t, varintIncomplete, status)
}

func TestReadUvarintStatusMalformed(t *testing.T) {
	buf := make([]byte, maxVarintLen64+2)
	for i := range buf {
		buf[i] = 0x80 // continuation bit set forever, never terminates
	}
	_, _, status := readUvarintStatus(buf)
	assert.Equal(t, varintMalformed, status)
}

func TestEncodeDecodeHeader(t *testing.T) {
	dst := make([]byte, 2*maxVarintLen64+4)
	flags := FrameFlags(MessageTypeRequest) | FlagUrgent | FlagMoreComing
	n := encodeHeader(dst, 42, flags)
	dst = append(dst[:n:n], []byte("body")...)

	number, gotFlags, payload, ok := decodeHeader(dst)
	require.True(t, ok)
	assert.Equal(t, MessageNo(42), number)
	assert.Equal(t, flags, gotFlags)
	assert.Equal(t, []byte("body"), payload)
}

func TestDecodeHeaderTruncated(t *testing.T) {
	_, _, _, ok := decodeHeader([]byte{0x80})
	assert.False(t, ok)
}
