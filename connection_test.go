package blip

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/blip/internal/log"
)

// fakeTransport is a deterministic, in-memory Transport for driving
// Connection without a real socket. Frames handed to Send are captured
// on a channel; deliver feeds a frame back in as if it arrived from the
// peer.
type fakeTransport struct {
	mu       sync.Mutex
	handlers TransportHandlers
	sent     chan []byte
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan []byte, 32)}
}

func (f *fakeTransport) Send(frame []byte) error {
	cp := append([]byte(nil), frame...)
	f.sent <- cp
	return nil
}

func (f *fakeTransport) SetHandlers(h TransportHandlers) {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) deliver(frame []byte) {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	h.OnMessage(frame, true)
}

func (f *fakeTransport) nextSent(t *testing.T) []byte {
	t.Helper()
	select {
	case frame := <-f.sent:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the connection to send a frame")
		return nil
	}
}

func rawFrame(t *testing.T, msgNo MessageNo, flags FrameFlags, props *Properties, body []byte) []byte {
	t.Helper()
	propsBytes, err := encodeProperties(props)
	require.NoError(t, err)
	payload := append(propsBytes, body...)

	header := make([]byte, 2*maxVarintLen64)
	n := encodeHeader(header, msgNo, flags)
	return append(header[:n], payload...)
}

func waitDone(t *testing.T, in *MessageIn) {
	t.Helper()
	select {
	case <-in.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message completion")
	}
}

func TestConnectionSendReceivesResponse(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConnection(transport, nil, DefaultConfig(), log.Nop())
	defer conn.Close(CloseStatus{})

	resp, err := conn.Send(NewRequest("ping"))
	require.NoError(t, err)
	require.NotNil(t, resp)

	frame := transport.nextSent(t)
	msgNo, flags, _, ok := decodeHeader(frame)
	require.True(t, ok)
	assert.Equal(t, MessageNo(1), msgNo)
	assert.Equal(t, MessageTypeRequest, flags.Type())

	respFrame := rawFrame(t, msgNo, FrameFlags(MessageTypeResponse), NewProperties(), []byte("pong"))
	transport.deliver(respFrame)

	waitDone(t, resp)
	assert.Equal(t, []byte("pong"), resp.Body())
}

func TestConnectionNoReplyRequestHasNoPlaceholder(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConnection(transport, nil, DefaultConfig(), log.Nop())
	defer conn.Close(CloseStatus{})

	resp, err := conn.Send(NewRequest("fire").SetNoReply(true))
	require.NoError(t, err)
	assert.Nil(t, resp)

	frame := transport.nextSent(t)
	_, flags, _, ok := decodeHeader(frame)
	require.True(t, ok)
	assert.True(t, flags.NoReply())
}

func TestConnectionDispatchesRequestToHandler(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConnection(transport, nil, DefaultConfig(), log.Nop())
	defer conn.Close(CloseStatus{})

	conn.SetRequestHandler("echo", func(req *MessageIn) (*MessageBuilder, error) {
		return NewResponse().SetBody(req.Body()), nil
	})

	reqFrame := rawFrame(t, 1, FrameFlags(MessageTypeRequest), NewProperties("Profile", "echo"), []byte("hi"))
	transport.deliver(reqFrame)

	frame := transport.nextSent(t)
	msgNo, flags, payload, ok := decodeHeader(frame)
	require.True(t, ok)
	assert.Equal(t, MessageNo(1), msgNo)
	assert.Equal(t, MessageTypeResponse, flags.Type())

	_, n, err := decodeProperties(payload)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(payload[n:]))
}

func TestConnectionHandlerErrorBecomes501(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConnection(transport, nil, DefaultConfig(), log.Nop())
	defer conn.Close(CloseStatus{})

	conn.SetRequestHandler("fail", func(req *MessageIn) (*MessageBuilder, error) {
		return nil, errors.New("boom")
	})

	reqFrame := rawFrame(t, 1, FrameFlags(MessageTypeRequest), NewProperties("Profile", "fail"), nil)
	transport.deliver(reqFrame)

	frame := transport.nextSent(t)
	_, flags, payload, ok := decodeHeader(frame)
	require.True(t, ok)
	assert.Equal(t, MessageTypeError, flags.Type())

	props, n, err := decodeProperties(payload)
	require.NoError(t, err)
	code, _ := props.Get("Error-Code")
	assert.Equal(t, "501", code)
	assert.Equal(t, "boom", string(payload[n:]))
}

func TestConnectionHandlerPanicBecomes501(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConnection(transport, nil, DefaultConfig(), log.Nop())
	defer conn.Close(CloseStatus{})

	conn.SetRequestHandler("explode", func(req *MessageIn) (*MessageBuilder, error) {
		panic("kaboom")
	})

	reqFrame := rawFrame(t, 1, FrameFlags(MessageTypeRequest), NewProperties("Profile", "explode"), nil)
	transport.deliver(reqFrame)

	frame := transport.nextSent(t)
	_, flags, _, ok := decodeHeader(frame)
	require.True(t, ok)
	assert.Equal(t, MessageTypeError, flags.Type())
}

func TestConnectionMissingHandlerBecomes501(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConnection(transport, nil, DefaultConfig(), log.Nop())
	defer conn.Close(CloseStatus{})

	reqFrame := rawFrame(t, 1, FrameFlags(MessageTypeRequest), NewProperties("Profile", "nonexistent"), nil)
	transport.deliver(reqFrame)

	frame := transport.nextSent(t)
	_, flags, _, ok := decodeHeader(frame)
	require.True(t, ok)
	assert.Equal(t, MessageTypeError, flags.Type())
}

func TestConnectionDropsOutOfOrderNewRequest(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConnection(transport, nil, DefaultConfig(), log.Nop())
	defer conn.Close(CloseStatus{})

	conn.SetRequestHandler("echo", func(req *MessageIn) (*MessageBuilder, error) {
		return NewResponse().SetBody(req.Body()), nil
	})

	// Request #5 arrives with none of #1-4 ever seen: it skips ahead of
	// the strictly increasing contiguous sequence and must be dropped,
	// not dispatched as a fresh request.
	skipped := rawFrame(t, 5, FrameFlags(MessageTypeRequest), NewProperties("Profile", "echo"), []byte("skip"))
	transport.deliver(skipped)

	// The connection stays healthy: the next, correctly numbered request
	// is processed normally.
	reqFrame := rawFrame(t, 1, FrameFlags(MessageTypeRequest), NewProperties("Profile", "echo"), []byte("hi"))
	transport.deliver(reqFrame)

	frame := transport.nextSent(t)
	msgNo, flags, payload, ok := decodeHeader(frame)
	require.True(t, ok)
	assert.Equal(t, MessageNo(1), msgNo)
	assert.Equal(t, MessageTypeResponse, flags.Type())

	_, n, err := decodeProperties(payload)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(payload[n:]))

	select {
	case extra := <-transport.sent:
		t.Fatalf("unexpected extra frame sent for the dropped request: %x", extra)
	default:
	}
}

func TestConnectionCloseIsIdempotentAndFailsPendingResponses(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConnection(transport, nil, DefaultConfig(), log.Nop())

	resp, err := conn.Send(NewRequest("ping"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	transport.nextSent(t) // drain the outgoing request frame

	assert.NoError(t, conn.Close(CloseStatus{Message: "bye"}))
	assert.NoError(t, conn.Close(CloseStatus{Message: "again"}))

	waitDone(t, resp)
	closeErr, ok := resp.Err().(*CloseError)
	require.True(t, ok)
	assert.Equal(t, "bye", closeErr.Status.Message)
	assert.Equal(t, StateClosed, conn.State())
}
