package blip

import "sync"

// MessageOut is the state for one message being transmitted over
// possibly many frames (§3, §4.3). The scheduler treats "send one frame"
// as an atomic cursor advance over a frozen payload buffer rather than as
// a coroutine (§9 design notes).
type MessageOut struct {
	number  MessageNo
	msgType MessageType
	flags   FrameFlags // message-level flags, without MoreComing
	payload []byte

	mu           sync.Mutex
	bytesSent    int
	unackedBytes int
	alreadyAcked int

	// response is the placeholder MessageIn for this request's reply. It
	// is non-nil only for requests that expect a response (NoReply not
	// set), and is consumed exactly once via detachResponse, at the
	// moment the last frame is handed to the transport (§4.5), or by
	// Connection.doClose if the connection closes before then.
	response *MessageIn
}

func newMessageOut(msgType MessageType, flags FrameFlags, payload []byte) *MessageOut {
	return &MessageOut{
		msgType: msgType,
		flags:   flags &^ FlagMoreComing,
		payload: payload,
	}
}

// Number returns the message number assigned when this message was first
// queued. Zero until then.
func (m *MessageOut) Number() MessageNo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.number
}

func (m *MessageOut) Type() MessageType { return m.msgType }

func (m *MessageOut) urgent() bool  { return m.flags&FlagUrgent != 0 }
func (m *MessageOut) noReply() bool { return m.flags&FlagNoReply != 0 }

func (m *MessageOut) isAck() bool { return m.flags.isAck() }

// bytesSentSoFar reports bytesSent under the message's own lock, used by
// the scheduler's "keep first frames in chronological order" rule.
func (m *MessageOut) bytesSentSoFar() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesSent
}

// nextFrameToSend returns up to maxBytes of the next unsent payload
// slice, and the frame flags to send with it: the message's own flags
// plus FlagMoreComing iff bytes remain after this frame (§4.3).
func (m *MessageOut) nextFrameToSend(maxBytes int) ([]byte, FrameFlags) {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.payload[m.bytesSent:]
	n := maxBytes
	if n > len(remaining) {
		n = len(remaining)
	}
	chunk := remaining[:n]
	m.bytesSent += n
	m.unackedBytes += n

	frameFlags := m.flags
	if m.bytesSent < len(m.payload) {
		frameFlags |= FlagMoreComing
	}
	return chunk, frameFlags
}

// needsAck reports whether this message's unacked bytes have crossed the
// threshold and it must be frozen into the icebox (§4.3, invariant 4).
// ACK frames themselves are never ackable (§9 open question resolution).
func (m *MessageOut) needsAck(threshold int) bool {
	if m.isAck() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unackedBytes >= threshold
}

// receivedAck processes an incoming cumulative byte count for this
// message, decreasing unackedBytes. Stale/duplicate ACKs (cumulative
// count not past what's already been acked) are ignored (§4.3).
func (m *MessageOut) receivedAck(cumulativeByteCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cumulativeByteCount <= m.alreadyAcked {
		return
	}
	delta := cumulativeByteCount - m.alreadyAcked
	m.alreadyAcked = cumulativeByteCount
	m.unackedBytes -= delta
	if m.unackedBytes < 0 {
		m.unackedBytes = 0
	}
}

// detachResponse returns this message's placeholder response MessageIn,
// if any, and clears it so it is only ever returned once.
func (m *MessageOut) detachResponse() *MessageIn {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.response
	m.response = nil
	return r
}

func (m *MessageOut) fullyTransmitted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesSent >= len(m.payload)
}
