package blip

import "strconv"

// MessageBuilder assembles the properties and body of an outgoing message
// before it is handed to the connection as a MessageOut. It has no wire
// knowledge of its own message number; that is assigned by the engine
// when the message is first queued (§3).
type MessageBuilder struct {
	msgType     MessageType
	urgent      bool
	noReply     bool
	compress    bool
	properties  *Properties
	body        []byte
}

// NewRequest starts building a request. If profile is non-empty it is
// added as the well-known "Profile" property, which the receiving peer
// uses to route the request to a handler (§4.6).
func NewRequest(profile string) *MessageBuilder {
	b := &MessageBuilder{msgType: MessageTypeRequest, properties: &Properties{}}
	if profile != "" {
		b.properties.Add("Profile", profile)
	}
	return b
}

// NewResponse starts building a normal (non-error) response to an
// incoming request.
func NewResponse() *MessageBuilder {
	return &MessageBuilder{msgType: MessageTypeResponse, properties: &Properties{}}
}

// NewErrorResponse starts building an Error response, setting Error-Domain
// and Error-Code as required by §4.2 and writing message as the body.
func NewErrorResponse(domain string, code ErrorCode, message string) *MessageBuilder {
	b := &MessageBuilder{msgType: MessageTypeError, properties: &Properties{}}
	b.properties.Add("Error-Domain", domain)
	b.properties.Add("Error-Code", strconv.Itoa(int(code)))
	b.body = []byte(message)
	return b
}

// SetUrgent marks the message for priority interleaving (§4.5).
func (b *MessageBuilder) SetUrgent(urgent bool) *MessageBuilder {
	b.urgent = urgent
	return b
}

// SetNoReply declares that the sender will not process a response. Only
// meaningful on requests.
func (b *MessageBuilder) SetNoReply(noReply bool) *MessageBuilder {
	b.noReply = noReply
	return b
}

// SetCompressed requests that the body be deflate-compressed (§4.2). The
// builder silently keeps the body uncompressed if compression doesn't pay
// off for this particular body.
func (b *MessageBuilder) SetCompressed(compressed bool) *MessageBuilder {
	b.compress = compressed
	return b
}

// AddProperty appends a property, in order.
func (b *MessageBuilder) AddProperty(name, value string) *MessageBuilder {
	b.properties.Add(name, value)
	return b
}

// SetBody sets the message body.
func (b *MessageBuilder) SetBody(body []byte) *MessageBuilder {
	b.body = body
	return b
}

// SetJSONBody is a convenience wrapper that also sets Content-Type to the
// tokenizable "application/json" literal.
func (b *MessageBuilder) SetJSONBody(body []byte) *MessageBuilder {
	b.properties.Add("Content-Type", "application/json")
	b.body = body
	return b
}

// flags computes the frame flags implied by this builder's settings,
// without MoreComing (which is per-frame, not per-message).
func (b *MessageBuilder) flags() FrameFlags {
	f := FrameFlags(b.msgType)
	if b.urgent {
		f |= FlagUrgent
	}
	if b.noReply && b.msgType == MessageTypeRequest {
		f |= FlagNoReply
	}
	return f
}

// build serializes properties and body into the wire payload for this
// message, applying compression per §4.2. It returns the final flags
// (with FlagCompressed set iff compression was kept).
func (b *MessageBuilder) build(cfg Config) ([]byte, FrameFlags, error) {
	flags := b.flags()

	propsBytes, err := encodeProperties(b.properties)
	if err != nil {
		return nil, 0, err
	}
	if len(propsBytes) > cfg.MaxPropertiesSize {
		return nil, 0, ErrPropertiesTooLarge
	}

	body := b.body
	if b.compress {
		compressed, kept, cerr := compressBody(body, cfg.CompressionLevel)
		if cerr != nil {
			return nil, 0, cerr
		}
		if kept {
			body = compressed
			flags |= FlagCompressed
		}
	}

	payload := make([]byte, 0, len(propsBytes)+len(body))
	payload = append(payload, propsBytes...)
	payload = append(payload, body...)
	return payload, flags, nil
}
