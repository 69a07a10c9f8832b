package blip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainOutbox(o *outbox) []*MessageOut {
	var out []*MessageOut
	for !o.empty() {
		out = append(out, o.popFront())
	}
	return out
}

func numbered(number MessageNo, urgent bool) *MessageOut {
	flags := FrameFlags(MessageTypeRequest)
	if urgent {
		flags |= FlagUrgent
	}
	msg := newMessageOut(MessageTypeRequest, flags, []byte("x"))
	msg.number = number
	return msg
}

func TestOutboxNonUrgentGoesToBack(t *testing.T) {
	o := newOutbox()
	a, b, c := numbered(1, false), numbered(2, false), numbered(3, false)
	o.requeue(a)
	o.requeue(b)
	o.requeue(c)

	order := drainOutbox(o)
	require.Len(t, order, 3)
	assert.Equal(t, MessageNo(1), order[0].Number())
	assert.Equal(t, MessageNo(2), order[1].Number())
	assert.Equal(t, MessageNo(3), order[2].Number())
}

func TestOutboxUrgentInterleavesWithNonUrgent(t *testing.T) {
	o := newOutbox()
	n1, n2 := numbered(1, false), numbered(2, false)
	u1 := numbered(10, true)

	o.requeue(n1)
	o.requeue(n2)
	// Simulate n1 and n2 having already sent their first frame, so they
	// aren't "first frames" any more when u1 arrives.
	n1.nextFrameToSend(1)
	n2.nextFrameToSend(1)

	o.requeue(u1)

	order := drainOutbox(o)
	require.Len(t, order, 3)
	// The urgent message is inserted ahead of at least one non-urgent
	// message rather than strictly at the back.
	assert.NotEqual(t, MessageNo(10), order[len(order)-1].Number())
}

func TestOutboxPreservesChronologicalOrderForUnsentFirstFrames(t *testing.T) {
	o := newOutbox()
	n1 := numbered(1, false)
	u1 := numbered(2, true)

	o.requeue(n1)
	// Neither message has sent any bytes yet, so the urgent one must not
	// jump ahead of the earlier-queued message's first frame.
	o.requeue(u1)

	order := drainOutbox(o)
	require.Len(t, order, 2)
	assert.Equal(t, MessageNo(1), order[0].Number())
	assert.Equal(t, MessageNo(2), order[1].Number())
}

func TestIceboxAddRemove(t *testing.T) {
	b := newIcebox()
	msg := numbered(1, false)
	b.add(msg)

	assert.True(t, b.remove(msg))
	assert.False(t, b.remove(msg))
}
