package blip

import "github.com/zeusync/blip/pkg/generic"

// framePool hands out scratch buffers sized for one full big frame plus
// its header (§5: a single preallocated scratch buffer is reused for
// outgoing frames rather than allocating per frame). encodeFrame only
// falls back to a fresh allocation if a payload somehow exceeds the
// pooled capacity, which shouldn't happen since nextFrameToSend already
// bounds chunks to BigFrameSize.
type framePool struct {
	pool     *generic.Pool[[]byte]
	capacity int
}

func newFramePool(cfg Config) *framePool {
	capacity := 2*maxVarintLen64 + cfg.BigFrameSize
	return &framePool{
		pool:     generic.NewHotPool(func() []byte { return make([]byte, 0, capacity) }, 4),
		capacity: capacity,
	}
}

func (p *framePool) get() []byte {
	return p.pool.Get()[:0]
}

// put returns buf to the pool. Buffers that grew past capacity (a
// payload bigger than expected) are dropped instead of pooled, so the
// pool doesn't retain an outsized buffer indefinitely.
func (p *framePool) put(buf []byte) {
	if cap(buf) > p.capacity {
		return
	}
	p.pool.Put(buf[:0])
}
