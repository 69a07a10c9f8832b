package blip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBuilderRequestFlags(t *testing.T) {
	b := NewRequest("chat").SetUrgent(true).SetNoReply(true)
	flags := b.flags()
	assert.Equal(t, MessageTypeRequest, flags.Type())
	assert.True(t, flags.Urgent())
	assert.True(t, flags.NoReply())
}

func TestMessageBuilderNoReplyIgnoredOnResponse(t *testing.T) {
	b := NewResponse()
	b.noReply = true
	flags := b.flags()
	assert.False(t, flags.NoReply(), "NoReply only applies to requests")
}

func TestMessageBuilderBuildEncodesPropertiesAndBody(t *testing.T) {
	cfg := DefaultConfig()
	b := NewRequest("echo").SetBody([]byte("hi"))

	payload, flags, err := b.build(cfg)
	require.NoError(t, err)
	assert.False(t, flags.Compressed())

	props, n, err := decodeProperties(payload)
	require.NoError(t, err)
	profile, ok := props.Get("Profile")
	require.True(t, ok)
	assert.Equal(t, "echo", profile)
	assert.Equal(t, "hi", string(payload[n:]))
}

func TestMessageBuilderBuildAppliesCompression(t *testing.T) {
	cfg := DefaultConfig()
	body := []byte(strings.Repeat("x", 8192))
	b := NewRequest("bulk").SetBody(body).SetCompressed(true)

	payload, flags, err := b.build(cfg)
	require.NoError(t, err)
	require.True(t, flags.Compressed())

	props, n, err := decodeProperties(payload)
	require.NoError(t, err)
	_ = props
	restored, err := inflate(payload[n:])
	require.NoError(t, err)
	assert.Equal(t, body, restored)
}

func TestMessageBuilderRejectsOversizedProperties(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPropertiesSize = 4
	b := NewRequest("echo")

	_, _, err := b.build(cfg)
	assert.ErrorIs(t, err, ErrPropertiesTooLarge)
}

func TestNewErrorResponseSetsProperties(t *testing.T) {
	b := NewErrorResponse(ErrorDomainBLIP, ErrorCodeHandlerFailed, "boom")
	domain, ok := b.properties.Get("Error-Domain")
	require.True(t, ok)
	assert.Equal(t, ErrorDomainBLIP, domain)

	code, ok := b.properties.Get("Error-Code")
	require.True(t, ok)
	assert.Equal(t, "501", code)
	assert.Equal(t, "boom", string(b.body))
}
