package blip

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeflateInflateRoundTrip(t *testing.T) {
	body := []byte(strings.Repeat("hello blip ", 200))
	compressed, err := deflate(body, 6)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(body))

	restored, err := inflate(compressed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, restored))
}

func TestCompressBodyDiscardsWhenNotSmaller(t *testing.T) {
	// Tiny, high-entropy-looking input: deflate's framing overhead makes
	// the "compressed" output bigger than the input.
	body := []byte{0x01, 0x02, 0x03}
	out, compressed, err := compressBody(body, 6)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, body, out)
}

func TestCompressBodyKeepsWhenSmaller(t *testing.T) {
	body := []byte(strings.Repeat("a", 4096))
	out, compressed, err := compressBody(body, 6)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Less(t, len(out), len(body))
}

func TestCompressBodyEmpty(t *testing.T) {
	out, compressed, err := compressBody(nil, 6)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Empty(t, out)
}
