package blip

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/blip/internal/log"
	"github.com/zeusync/blip/pkg/concurrent"
	"github.com/zeusync/blip/pkg/sequence"
)

// ConnectionState is the connection's lifecycle state (§5).
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RequestHandler processes a fully-received request and returns the
// response to send back, or an error. A nil response with a nil error is
// the same as returning an empty NewResponse(). A returned error is
// reported to the peer as a synthesized Error response; a handler panic
// is recovered and reported the same way (§4.6).
type RequestHandler func(request *MessageIn) (*MessageBuilder, error)

// Delegate receives connection-level lifecycle and message notifications
// (§3, §9 design notes: a capability bundle rather than an event bus,
// since one connection has exactly one delegate). OnRequestReceived is
// only consulted as a fallback, for a request whose Profile has no
// registered handler (§4.6); OnResponseReceived is an optional
// observation hook, since the response is already delivered to whoever
// called Send via the returned MessageIn's Done channel.
type Delegate interface {
	OnConnect()
	OnClose(status CloseStatus)
	OnRequestReceived(request *MessageIn) (*MessageBuilder, error)
	OnResponseReceived(response *MessageIn)
}

// NopDelegate is a Delegate that does nothing beyond the default
// handler-not-found behavior, for callers that only register profile
// handlers and don't need lifecycle notifications.
type NopDelegate struct{}

func (NopDelegate) OnConnect()          {}
func (NopDelegate) OnClose(CloseStatus) {}
func (NopDelegate) OnRequestReceived(*MessageIn) (*MessageBuilder, error) {
	return nil, ErrHandlerNotFound
}
func (NopDelegate) OnResponseReceived(*MessageIn) {}

// Connection is the façade over one BLIP session (§4.7). All state other
// than the handler registry and the lifecycle state is confined to a
// single actor goroutine (§5, §9 design notes): every public method
// either enqueues a closure onto that goroutine's work queue or waits for
// one to report a result, so the scheduler, dispatcher, and pending maps
// never need their own locks.
type Connection struct {
	id        string
	cfg       Config
	log       log.Log
	transport Transport
	delegate  Delegate
	framePool *framePool

	handlersMu sync.RWMutex
	handlers   map[string]RequestHandler

	work     chan func()
	shutdown chan struct{}
	stopped  chan struct{}
	closeOnce sync.Once

	state atomic.Int32

	// Actor-confined state: touched only from within closures run by
	// runLoop, never from another goroutine directly.
	out                 *outbox
	ice                 *icebox
	outByNumber         map[MessageNo]*MessageOut
	pendingRequests     map[MessageNo]*MessageIn
	pendingResponses    map[MessageNo]*MessageIn
	lastMessageNo       MessageNo
	numRequestsReceived MessageNo
}

// NewConnection wraps transport in a BLIP engine. The connection starts
// processing immediately; delegate.OnConnect fires before any inbound
// frame is dispatched.
func NewConnection(transport Transport, delegate Delegate, cfg Config, logger log.Log) *Connection {
	if delegate == nil {
		delegate = NopDelegate{}
	}
	if logger == nil {
		logger = log.Nop()
	}

	c := &Connection{
		id:               uuid.NewString(),
		cfg:              cfg,
		transport:        transport,
		delegate:         delegate,
		framePool:        newFramePool(cfg),
		handlers:         make(map[string]RequestHandler),
		work:             make(chan func(), 64),
		shutdown:         make(chan struct{}),
		stopped:          make(chan struct{}),
		out:              newOutbox(),
		ice:              newIcebox(),
		outByNumber:      make(map[MessageNo]*MessageOut),
		pendingRequests:  make(map[MessageNo]*MessageIn),
		pendingResponses: make(map[MessageNo]*MessageIn),
	}
	c.log = logger.With(log.String("connection", c.id))

	transport.SetHandlers(TransportHandlers{
		OnMessage:   c.handleIncomingFrame,
		OnWriteable: c.handleWriteable,
		OnClose:     c.handleTransportClosed,
	})

	go c.runLoop()
	return c
}

func (c *Connection) ID() string            { return c.id }
func (c *Connection) State() ConnectionState { return ConnectionState(c.state.Load()) }

func (c *Connection) runLoop() {
	c.delegate.OnConnect()
	c.state.Store(int32(StateConnected))
	for {
		select {
		case fn := <-c.work:
			fn()
		case <-c.shutdown:
			close(c.stopped)
			return
		}
	}
}

// enqueue schedules fn to run on the actor goroutine. If the connection
// has already stopped, fn is silently dropped.
func (c *Connection) enqueue(fn func()) {
	select {
	case c.work <- fn:
	case <-c.stopped:
	}
}

// SetRequestHandler registers handler for the given Profile. Registering
// under a profile that already has a handler replaces it.
func (c *Connection) SetRequestHandler(profile string, handler RequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[profile] = handler
}

func (c *Connection) lookupHandler(profile string) (RequestHandler, bool) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	h, ok := c.handlers[profile]
	return h, ok
}

// Send queues b for transmission and, unless it was marked NoReply,
// returns a MessageIn placeholder for the eventual response. The
// placeholder's Done channel closes either when the response arrives or
// when the connection closes with the response still outstanding, in
// which case Err returns a *CloseError.
func (c *Connection) Send(b *MessageBuilder) (*MessageIn, error) {
	type result struct {
		resp *MessageIn
		err  error
	}
	resCh := make(chan result, 1)
	c.enqueue(func() {
		resp, err := c.send(b)
		resCh <- result{resp, err}
	})
	select {
	case r := <-resCh:
		return r.resp, r.err
	case <-c.stopped:
		return nil, ErrConnectionClosed
	}
}

func (c *Connection) send(b *MessageBuilder) (*MessageIn, error) {
	if c.State() >= StateClosing {
		return nil, ErrConnectionClosed
	}

	payload, flags, err := b.build(c.cfg)
	if err != nil {
		return nil, err
	}

	c.lastMessageNo++
	number := c.lastMessageNo

	msg := newMessageOut(b.msgType, flags, payload)
	msg.number = number

	var placeholder *MessageIn
	if msg.Type() == MessageTypeRequest && !msg.noReply() {
		placeholder = newMessageIn(number, MessageTypeResponse, MessageTypeAckResponse, c.cfg, c.sendAckFrame)
		msg.response = placeholder
	}

	c.outByNumber[number] = msg
	c.out.requeue(msg)
	c.pumpOutbox()

	return placeholder, nil
}

// sendResponseMessage queues a response or error for an already-numbered
// incoming request. Called from the goroutine that ran the request
// handler, so it routes through enqueue like any other cross-goroutine
// call.
func (c *Connection) sendResponseMessage(number MessageNo, b *MessageBuilder) {
	c.enqueue(func() {
		if c.State() >= StateClosing {
			return
		}
		payload, flags, err := b.build(c.cfg)
		if err != nil {
			c.log.Error("failed to build response", log.Uint64("msgNo", uint64(number)), log.Error(err))
			return
		}
		msg := newMessageOut(b.msgType, flags, payload)
		msg.number = number
		c.outByNumber[number] = msg
		c.out.requeue(msg)
		c.pumpOutbox()
	})
}

// sendAckFrame builds and queues an AckRequest/AckResponse frame. Called
// directly (not via enqueue) from MessageIn.receivedFrame, which only
// ever runs from within a closure already executing on the actor
// goroutine.
func (c *Connection) sendAckFrame(msgNo MessageNo, ackType MessageType, cumulativeBytes int) {
	buf := make([]byte, maxVarintLen64)
	n := putUvarint(buf, uint64(cumulativeBytes))

	msg := newMessageOut(ackType, FrameFlags(ackType), buf[:n])
	msg.number = msgNo
	// Acks are fire-and-forget: not indexed in outByNumber and never
	// themselves subject to being acked (MessageOut.needsAck is false for
	// them), so there's nothing to look up later.
	c.out.requeue(msg)
	c.pumpOutbox()
}

// headerReserve is the worst-case size of an encoded frame header
// (varint(msgNo) || varint(flags)), reserved out of every frame-size cap
// so the encoded wire frame (header + payload) never exceeds the cap
// itself (§4.5).
const headerReserve = 2 * maxVarintLen64

// pumpOutbox drains the outbox, writing frames to the transport, until
// either the outbox empties, a send fails, or cfg.MaxSendSize bytes have
// been written in this call (§4.5). In the last case it reschedules
// itself so other actor work gets a turn instead of one huge message
// monopolizing the goroutine.
func (c *Connection) pumpOutbox() {
	budget := c.cfg.MaxSendSize

	for budget > 0 {
		msg := c.out.front()
		if msg == nil {
			return
		}

		// Big frames are used whenever this message is urgent, when the
		// outbox will be empty once it's popped, or when the message
		// queued right behind it isn't urgent either. Only an urgent
		// message waiting its turn behind this one forces small frames,
		// so it doesn't wait too long (§4.5).
		big := msg.urgent() || c.out.messages.Len() == 1
		if !big {
			if next := c.out.messages.Front().Next(); next != nil {
				big = !next.Value.(*MessageOut).urgent()
			}
		}
		frameSize := c.cfg.DefaultFrameSize
		if big {
			frameSize = c.cfg.BigFrameSize
		}
		if frameSize > budget {
			frameSize = budget
		}
		payloadCap := frameSize - headerReserve
		if payloadCap < 0 {
			payloadCap = 0
		}

		payload, frameFlags := msg.nextFrameToSend(payloadCap)
		frame := c.encodeFrame(msg.Number(), frameFlags, payload)
		budget -= len(frame)

		if err := c.transport.Send(frame); err != nil {
			c.failConnection(err)
			return
		}
		c.framePool.put(frame)

		c.out.popFront()
		switch {
		case msg.fullyTransmitted():
			// The last frame is out: the response placeholder (if any) now
			// moves into pendingResponses to await the reply (§4.5). The
			// message itself no longer needs an outByNumber entry: it can't
			// receive any more ACK credit once its icebox/outbox residency
			// ends.
			if resp := msg.detachResponse(); resp != nil {
				c.pendingResponses[msg.Number()] = resp
			}
			delete(c.outByNumber, msg.Number())
		case msg.needsAck(c.cfg.AckThreshold):
			c.ice.add(msg)
		default:
			c.out.requeue(msg)
		}
	}

	if !c.out.empty() {
		c.enqueue(c.pumpOutbox)
	}
}

func (c *Connection) encodeFrame(number MessageNo, flags FrameFlags, payload []byte) []byte {
	buf := c.framePool.get()
	var header [2 * maxVarintLen64]byte
	n := encodeHeader(header[:], number, flags)
	buf = append(buf, header[:n]...)
	buf = append(buf, payload...)
	return buf
}

func (c *Connection) handleWriteable() {
	c.enqueue(c.pumpOutbox)
}

// handleIncomingFrame is the Transport's OnMessage callback; it may run
// on any goroutine, so it only ever enqueues work for the actor.
func (c *Connection) handleIncomingFrame(frame []byte, binary bool) {
	c.enqueue(func() { c.dispatchFrame(frame, binary) })
}

// dispatchFrame implements the inbound dispatcher (§4.6): decode the
// header, then route by frame type.
func (c *Connection) dispatchFrame(frame []byte, binary bool) {
	if !binary {
		c.log.Warn("dropping non-binary transport message")
		return
	}
	number, flags, payload, ok := decodeHeader(frame)
	if !ok {
		c.log.Warn("dropping frame with truncated header")
		return
	}

	switch flags.Type() {
	case MessageTypeRequest:
		c.dispatchRequestFrame(number, flags, payload)
	case MessageTypeResponse, MessageTypeError:
		c.dispatchResponseFrame(number, flags, payload)
	case MessageTypeAckRequest:
		c.dispatchAck(number, false, payload)
	case MessageTypeAckResponse:
		c.dispatchAck(number, true, payload)
	default:
		c.log.Warn("dropping frame with unknown type", log.Int("type", int(flags.Type())))
	}
}

// dispatchRequestFrame routes a Request frame to its in-progress
// MessageIn, or starts a new one. A number not already being assembled
// must be exactly numRequestsReceived+1: incoming request numbers form a
// strictly increasing contiguous sequence, so a skipped or replayed
// number is a protocol violation, logged and dropped rather than fatal
// to the connection (§4.6, data model invariant 1).
func (c *Connection) dispatchRequestFrame(number MessageNo, flags FrameFlags, payload []byte) {
	req, ok := c.pendingRequests[number]
	if !ok {
		if number != c.numRequestsReceived+1 {
			c.log.Warn("out-of-order request number",
				log.Uint64("msgNo", uint64(number)),
				log.Uint64("expected", uint64(c.numRequestsReceived+1)))
			return
		}
		c.numRequestsReceived = number
		req = newMessageIn(number, MessageTypeRequest, MessageTypeAckRequest, c.cfg, c.sendAckFrame)
		c.pendingRequests[number] = req
	}

	complete, err := req.receivedFrame(payload, flags)
	if err != nil {
		delete(c.pendingRequests, number)
		c.log.Error("malformed request message", log.Uint64("msgNo", uint64(number)), log.Error(err))
		return
	}
	if !complete {
		return
	}

	delete(c.pendingRequests, number)
	c.dispatchCompleteRequest(req)
}

// dispatchCompleteRequest runs the matching handler on its own goroutine
// so a slow or blocking handler can't stall the actor loop, then routes
// the response back through sendResponseMessage (§4.6).
func (c *Connection) dispatchCompleteRequest(req *MessageIn) {
	handler, found := c.lookupHandler(req.Profile())
	go func() {
		resp := c.invokeHandler(handler, found, req)
		if resp == nil || req.NoReply() {
			return
		}
		c.sendResponseMessage(req.Number(), resp)
	}()
}

func (c *Connection) invokeHandler(handler RequestHandler, found bool, req *MessageIn) (resp *MessageBuilder) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("request handler panicked", log.String("profile", req.Profile()), log.Any("panic", r))
			resp = NewErrorResponse(ErrorDomainBLIP, ErrorCodeHandlerFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	if !found {
		b, err := c.delegate.OnRequestReceived(req)
		if err != nil {
			c.log.Warn("no handler registered for profile", log.String("profile", req.Profile()))
			return NewErrorResponse(ErrorDomainBLIP, ErrorCodeHandlerFailed, err.Error())
		}
		if b == nil {
			b = NewResponse()
		}
		return b
	}

	b, err := handler(req)
	if err != nil {
		return NewErrorResponse(ErrorDomainBLIP, ErrorCodeHandlerFailed, err.Error())
	}
	if b == nil {
		b = NewResponse()
	}
	return b
}

func (c *Connection) dispatchResponseFrame(number MessageNo, flags FrameFlags, payload []byte) {
	resp, ok := c.pendingResponses[number]
	if !ok {
		c.log.Warn("dropping response frame for unknown or already-completed request", log.Uint64("msgNo", uint64(number)))
		return
	}

	complete, err := resp.receivedFrame(payload, flags)
	if err != nil {
		delete(c.pendingResponses, number)
		c.log.Error("malformed response message", log.Uint64("msgNo", uint64(number)), log.Error(err))
		return
	}
	if complete {
		delete(c.pendingResponses, number)
		go c.delegate.OnResponseReceived(resp)
	}
}

// dispatchAck processes an AckRequest/AckResponse frame. isResponseAck is
// true for AckResponse, which credits an outgoing Response or Error;
// false (AckRequest) credits an outgoing Request (§4.3).
func (c *Connection) dispatchAck(number MessageNo, isResponseAck bool, payload []byte) {
	cumulative, _, ok := readUvarint(payload)
	if !ok {
		c.log.Warn("dropping malformed ack frame", log.Uint64("msgNo", uint64(number)))
		return
	}

	msg, ok := c.outByNumber[number]
	if !ok {
		c.log.Warn("ack for unknown outgoing message", log.Uint64("msgNo", uint64(number)))
		return
	}
	wantsResponse := msg.msgType == MessageTypeResponse || msg.msgType == MessageTypeError
	if wantsResponse != isResponseAck {
		c.log.Warn("ack type mismatch for outgoing message", log.Uint64("msgNo", uint64(number)))
		return
	}

	msg.receivedAck(int(cumulative))
	if !msg.needsAck(c.cfg.AckThreshold) && c.ice.remove(msg) {
		c.out.requeue(msg)
		c.pumpOutbox()
	}
}

// handleTransportClosed is the Transport's OnClose callback: the peer
// dropped the connection, or the transport failed on read.
func (c *Connection) handleTransportClosed(status CloseStatus) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.enqueue(func() { c.doClose(status) })
	})
}

// failConnection tears the connection down after a local transport write
// error, same as a transport-initiated close.
func (c *Connection) failConnection(err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.doClose(CloseStatus{Code: 1006, Message: "transport write failed", Cause: err})
	})
}

// Close begins an orderly shutdown: every pending response future fails
// with a *CloseError, the transport is closed, and the delegate is
// notified. Close is idempotent; concurrent and repeated calls all wait
// for the same shutdown and return nil once it has completed.
func (c *Connection) Close(status CloseStatus) error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.enqueue(func() { c.doClose(status) })
	})
	<-c.stopped
	return nil
}

// doClose runs on the actor goroutine. It fails every outstanding
// response placeholder concurrently (pkg/concurrent.Concurrent), whether
// it was already registered in pendingResponses or was still sitting
// un-transmitted in the outbox or icebox with its response never
// detached, then closes the transport and notifies the delegate.
func (c *Connection) doClose(status CloseStatus) {
	closeErr := &CloseError{Status: status}

	pending := make([]*MessageIn, 0, len(c.pendingResponses))
	for _, resp := range c.pendingResponses {
		pending = append(pending, resp)
	}
	c.pendingResponses = nil

	detach := func(msg *MessageOut) {
		if resp := msg.detachResponse(); resp != nil {
			pending = append(pending, resp)
		}
	}
	for e := c.out.messages.Front(); e != nil; e = e.Next() {
		detach(e.Value.(*MessageOut))
	}
	for _, msg := range c.ice.messages {
		detach(msg)
	}

	err := concurrent.Concurrent(sequence.From(pending), func(resp *MessageIn) error {
		resp.fail(closeErr)
		return nil
	})
	if err != nil {
		c.log.Error("error failing pending responses on close", log.Error(err))
	}
	c.pendingRequests = nil

	if err := c.transport.Close(); err != nil {
		c.log.Warn("transport close returned an error", log.Error(err))
	}

	c.state.Store(int32(StateClosed))
	c.delegate.OnClose(status)
	close(c.shutdown)
}
