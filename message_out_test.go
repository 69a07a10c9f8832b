package blip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageOutNextFrameToSendChunking(t *testing.T) {
	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i)
	}
	msg := newMessageOut(MessageTypeRequest, 0, payload)

	chunk1, flags1 := msg.nextFrameToSend(4)
	assert.Equal(t, payload[0:4], chunk1)
	assert.True(t, flags1.MoreComing())

	chunk2, flags2 := msg.nextFrameToSend(4)
	assert.Equal(t, payload[4:8], chunk2)
	assert.True(t, flags2.MoreComing())

	chunk3, flags3 := msg.nextFrameToSend(4)
	assert.Equal(t, payload[8:10], chunk3)
	assert.False(t, flags3.MoreComing())
	assert.True(t, msg.fullyTransmitted())
}

func TestMessageOutNeedsAckThreshold(t *testing.T) {
	msg := newMessageOut(MessageTypeRequest, 0, make([]byte, 100))
	msg.nextFrameToSend(60)
	assert.True(t, msg.needsAck(50))
	assert.False(t, msg.needsAck(200))
}

func TestMessageOutAckMessagesNeverNeedAck(t *testing.T) {
	msg := newMessageOut(MessageTypeAckRequest, FrameFlags(MessageTypeAckRequest), make([]byte, 1000))
	msg.nextFrameToSend(1000)
	assert.False(t, msg.needsAck(1))
}

func TestMessageOutReceivedAckIgnoresStale(t *testing.T) {
	msg := newMessageOut(MessageTypeRequest, 0, make([]byte, 100))
	msg.nextFrameToSend(100)
	require.Equal(t, 100, msg.unackedBytes)

	msg.receivedAck(40)
	assert.Equal(t, 60, msg.unackedBytes)

	msg.receivedAck(10) // stale: already past this count
	assert.Equal(t, 60, msg.unackedBytes)

	msg.receivedAck(100)
	assert.Equal(t, 0, msg.unackedBytes)
}

func TestMessageOutDetachResponseConsumesOnce(t *testing.T) {
	msg := newMessageOut(MessageTypeRequest, 0, nil)
	placeholder := &MessageIn{}
	msg.response = placeholder

	got := msg.detachResponse()
	assert.Same(t, placeholder, got)
	assert.Nil(t, msg.detachResponse())
}
