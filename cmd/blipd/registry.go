package main

import (
	"sync"

	"github.com/zeusync/blip"
)

// activeConnections tracks the connections blipd has accepted, so a
// graceful shutdown can close them all instead of just stopping the
// HTTP listener and abandoning open sockets.
type activeConnections struct {
	mu    sync.Mutex
	conns []*blip.Connection
}

func (a *activeConnections) add(c *blip.Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conns = append(a.conns, c)
}

func (a *activeConnections) closeAll(status blip.CloseStatus) {
	a.mu.Lock()
	conns := a.conns
	a.conns = nil
	a.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *blip.Connection) {
			defer wg.Done()
			_ = c.Close(status)
		}(c)
	}
	wg.Wait()
}
