package blip

import "time"

// Config tunes the engine's framing and flow-control behavior. The zero
// value is not useful; use DefaultConfig and override individual fields.
type Config struct {
	// DefaultFrameSize is the per-frame size cap (header included) used
	// for ordinary traffic (§4.5).
	DefaultFrameSize int
	// BigFrameSize is the per-frame size cap (header included) used when
	// urgent traffic, or an otherwise-idle outbox, lets one message claim
	// a bigger slice of the socket (§4.5).
	BigFrameSize int
	// MaxSendSize bounds how many bytes pumpOutbox will hand to the
	// transport in a single batch before yielding (§4.5).
	MaxSendSize int
	// AckThreshold is the cumulative-unacked-bytes bound that freezes an
	// outgoing message into the icebox, and the cumulative-received bound
	// that triggers an outgoing ACK frame (§4.3, §4.4).
	AckThreshold int
	// MaxPropertiesSize caps the encoded size of a message's properties
	// block, independent of the wire format, to bound allocation from a
	// malformed or hostile peer.
	MaxPropertiesSize int
	// CompressionLevel is passed to compress/flate when a message
	// requests body compression.
	CompressionLevel int

	// ReadTimeout/WriteTimeout bound individual transport I/O calls made
	// by the default WebSocket transport.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the constants the spec calls out: 4 KiB default
// frames, 16 KiB big frames, 50 KiB send batches and ack threshold, 100 KiB
// properties cap.
func DefaultConfig() Config {
	return Config{
		DefaultFrameSize:  4 * 1024,
		BigFrameSize:      16 * 1024,
		MaxSendSize:       50 * 1024,
		AckThreshold:      50 * 1024,
		MaxPropertiesSize: 100 * 1024,
		CompressionLevel:  6,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}
