package blip

import "container/list"

// outbox is the ready-to-send queue from §4.5. It is a plain doubly
// linked list rather than a priority heap: the interleaving rule needs to
// insert relative to specific existing elements (the last urgent message,
// the next non-urgent one after it), which a heap doesn't expose, so this
// follows the original engine's literal vector-with-insert approach,
// expressed in Go as container/list.
type outbox struct {
	messages *list.List // of *MessageOut
}

func newOutbox() *outbox {
	return &outbox{messages: list.New()}
}

func (o *outbox) empty() bool { return o.messages.Len() == 0 }

// front returns the message at the head of the queue, or nil.
func (o *outbox) front() *MessageOut {
	if e := o.messages.Front(); e != nil {
		return e.Value.(*MessageOut)
	}
	return nil
}

// popFront removes and returns the head of the queue, or nil if empty.
func (o *outbox) popFront() *MessageOut {
	e := o.messages.Front()
	if e == nil {
		return nil
	}
	o.messages.Remove(e)
	return e.Value.(*MessageOut)
}

// requeue implements the enqueue policy from §4.5: a non-urgent message
// goes to the back. An urgent message is inserted just after the last
// existing urgent message's immediate non-urgent successor, so at least
// one non-urgent message sits between any two urgent ones in the queue —
// unless both the new message and that predecessor have sent zero bytes,
// in which case chronological order is preserved instead, so first frames
// of messages are never reordered past each other.
func (o *outbox) requeue(msg *MessageOut) {
	if !msg.urgent() || o.messages.Len() == 0 {
		o.messages.PushBack(msg)
		return
	}

	e := o.messages.Back()
	for {
		candidate := e.Value.(*MessageOut)
		if candidate.urgent() {
			next := e.Next()
			if next != nil {
				o.messages.InsertAfter(msg, next)
			} else {
				o.messages.InsertAfter(msg, e)
			}
			return
		}
		if msg.bytesSentSoFar() == 0 && candidate.bytesSentSoFar() == 0 {
			break
		}
		if e.Prev() == nil {
			break
		}
		e = e.Prev()
	}
	o.messages.InsertAfter(msg, e)
}

// icebox holds messages frozen awaiting an ACK (§4.5, §4.3 invariant 4).
// Order doesn't matter for the icebox; a plain slice is enough.
type icebox struct {
	messages []*MessageOut
}

func newIcebox() *icebox {
	return &icebox{}
}

func (b *icebox) add(msg *MessageOut) {
	b.messages = append(b.messages, msg)
}

// remove removes msg from the icebox and reports whether it was there.
func (b *icebox) remove(msg *MessageOut) bool {
	for i, m := range b.messages {
		if m == msg {
			b.messages = append(b.messages[:i], b.messages[i+1:]...)
			return true
		}
	}
	return false
}
