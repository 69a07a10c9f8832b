package blip

import "fmt"

// MessageNo identifies a message within one direction of a connection.
// Requests and responses occupy the same number: a response numbered n
// answers the request numbered n sent by the peer receiving it.
type MessageNo uint64

// MessageType is the 3-bit type field of a frame's flags byte.
type MessageType uint8

const (
	MessageTypeRequest     MessageType = 0
	MessageTypeResponse    MessageType = 1
	MessageTypeError       MessageType = 2
	MessageTypeAckRequest  MessageType = 4
	MessageTypeAckResponse MessageType = 5
)

var messageTypeNames = [8]string{
	MessageTypeRequest:     "REQ",
	MessageTypeResponse:    "RES",
	MessageTypeError:       "ERR",
	MessageTypeAckRequest:  "ACKRQ",
	MessageTypeAckResponse: "ACKRS",
}

// String returns a short mnemonic for the type, used only in log lines.
func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) && messageTypeNames[t] != "" {
		return messageTypeNames[t]
	}
	return fmt.Sprintf("TYPE(%d)", uint8(t))
}

// FrameFlags is the 8-bit flags byte carried by every frame.
type FrameFlags uint8

const (
	frameTypeMask FrameFlags = 0x07

	FlagCompressed FrameFlags = 0x08
	FlagUrgent     FrameFlags = 0x10
	FlagNoReply    FrameFlags = 0x20
	FlagMoreComing FrameFlags = 0x40
)

// Type extracts the MessageType encoded in bits 0-2.
func (f FrameFlags) Type() MessageType {
	return MessageType(f & frameTypeMask)
}

func (f FrameFlags) Compressed() bool  { return f&FlagCompressed != 0 }
func (f FrameFlags) Urgent() bool      { return f&FlagUrgent != 0 }
func (f FrameFlags) NoReply() bool     { return f&FlagNoReply != 0 }
func (f FrameFlags) MoreComing() bool  { return f&FlagMoreComing != 0 }

func (f FrameFlags) isAck() bool {
	t := f.Type()
	return t == MessageTypeAckRequest || t == MessageTypeAckResponse
}
