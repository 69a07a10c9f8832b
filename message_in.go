package blip

import (
	"errors"
	"sync"
)

// errTruncatedMessage means the final frame of a message arrived before
// its properties block was fully assembled: a malformed message, not a
// merely empty one.
var errTruncatedMessage = errors.New("blip: message ends before end of properties")

// MessageIn is the state for one message being received across possibly
// many frames (§3, §4.4). It is created either on arrival of a Request
// frame with a new number, or, as the placeholder for a response, when
// the request it answers is queued; that placeholder starts awaiting the
// response once the request's last outgoing frame is sent (§3).
type MessageIn struct {
	number  MessageNo
	msgType MessageType

	// ackType is the frame type to send when this message's cumulative
	// received bytes cross the ack threshold: AckRequest if this
	// MessageIn represents an incoming request, AckResponse if it
	// represents an incoming response (§4.4).
	ackType MessageType
	sendAck func(msgNo MessageNo, ackType MessageType, cumulativeBytes int)

	mu            sync.Mutex
	accumulator   []byte
	flags         FrameFlags // message-level flags, captured from the first frame
	properties    *Properties
	propsConsumed int // bytes of accumulator already parsed as properties
	propsParsed   bool
	completed     bool
	err           error

	bytesReceived int
	lastAcked     int
	ackThreshold  int
	maxPropsSize  int

	done chan struct{}
}

func newMessageIn(number MessageNo, msgType MessageType, ackType MessageType, cfg Config, sendAck func(MessageNo, MessageType, int)) *MessageIn {
	return &MessageIn{
		number:       number,
		msgType:      msgType,
		ackType:      ackType,
		sendAck:      sendAck,
		ackThreshold: cfg.AckThreshold,
		maxPropsSize: cfg.MaxPropertiesSize,
		done:         make(chan struct{}),
	}
}

func (m *MessageIn) Number() MessageNo { return m.number }
func (m *MessageIn) Type() MessageType { return m.msgType }

// NoReply reports the message-level NoReply flag captured from the first
// frame. Only meaningful for requests.
func (m *MessageIn) NoReply() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags.NoReply()
}

// Done returns a channel closed once the message is fully reassembled, or
// failed (see fail).
func (m *MessageIn) Done() <-chan struct{} { return m.done }

// Err returns the reason this message failed to complete, such as a
// CloseError if the connection closed before this response arrived. Only
// meaningful after Done has closed.
func (m *MessageIn) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// fail marks the message as terminated with err instead of a normal
// completion, and wakes anyone waiting on Done. Used when the connection
// closes with a response still outstanding (§9).
func (m *MessageIn) fail(err error) {
	m.mu.Lock()
	if m.completed {
		m.mu.Unlock()
		return
	}
	m.completed = true
	m.err = err
	m.mu.Unlock()
	close(m.done)
}

// Properties returns the parsed properties, if they have arrived yet.
func (m *MessageIn) Properties() (*Properties, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.propsParsed {
		return nil, false
	}
	return m.properties, true
}

// Profile returns the request's Profile property, if set.
func (m *MessageIn) Profile() string {
	props, ok := m.Properties()
	if !ok {
		return ""
	}
	v, _ := props.Get("Profile")
	return v
}

// Body returns the reassembled, decompressed body. Only valid once Done
// has closed.
func (m *MessageIn) Body() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.completed || !m.propsParsed {
		return nil
	}
	return m.accumulator[m.propsConsumed:]
}

// AsError returns a ProtocolError built from this message's Error-Domain
// and Error-Code properties and its body, and true, iff this message's
// type is Error.
func (m *MessageIn) AsError() (*ProtocolError, bool) {
	if m.Type() != MessageTypeError {
		return nil, false
	}
	props, _ := m.Properties()
	domain, _ := props.Get("Error-Domain")
	code, _ := props.Get("Error-Code")
	return &ProtocolError{Domain: domain, Code: parseErrorCode(code), Text: string(m.Body())}, true
}

func parseErrorCode(s string) ErrorCode {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return ErrorCode(n)
		}
		n = n*10 + int(c-'0')
	}
	return ErrorCode(n)
}

// receivedFrame appends one frame's payload to the accumulator and
// reports whether the message is now complete. frameFlags is the flags
// byte that frame arrived with (§4.4).
func (m *MessageIn) receivedFrame(payload []byte, frameFlags FrameFlags) (complete bool, err error) {
	m.mu.Lock()

	if len(m.accumulator) == 0 && !m.propsParsed {
		m.flags = frameFlags &^ FlagMoreComing
		m.msgType = frameFlags.Type()
	}
	m.accumulator = append(m.accumulator, payload...)
	m.bytesReceived += len(payload)

	if !m.propsParsed {
		props, consumed, perr := decodePropertiesLimited(m.accumulator, m.maxPropsSize)
		if perr == nil {
			m.properties = props
			m.propsConsumed = consumed
			m.propsParsed = true
		} else if perr != errTruncatedProperties {
			m.mu.Unlock()
			return false, perr
		}
		// else: not enough bytes yet, try again on the next frame.
	}

	last := !frameFlags.MoreComing()

	needsAck := !last && m.bytesReceived-m.lastAcked >= m.ackThreshold
	if needsAck {
		m.lastAcked = m.bytesReceived
	}
	cumulative := m.bytesReceived
	sendAck := m.sendAck
	ackType := m.ackType
	number := m.number
	m.mu.Unlock()

	if needsAck && sendAck != nil {
		sendAck(number, ackType, cumulative)
	}

	if !last {
		return false, nil
	}

	if err := m.finalize(); err != nil {
		return false, err
	}
	close(m.done)
	return true, nil
}

// finalize decompresses the body portion in place, if the message was
// marked Compressed (§4.1: compression applies only to the body, not the
// properties prefix), and marks the message complete. The last frame
// (MoreComing clear) arriving before the properties block has been fully
// assembled is a malformed message, not an empty-properties one: every
// message carries a length-prefixed properties block, so a genuinely
// empty one still parses to completion as soon as its one-byte zero
// length arrives (see Message.cc's "message ends before end of
// properties").
func (m *MessageIn) finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.propsParsed {
		return errTruncatedMessage
	}

	if m.flags.Compressed() {
		body, err := inflate(m.accumulator[m.propsConsumed:])
		if err != nil {
			return err
		}
		m.accumulator = append(m.accumulator[:m.propsConsumed], body...)
	}
	m.completed = true
	return nil
}
