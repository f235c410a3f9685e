package store

import (
	"context"
	"sync"
)

// connState fans connectivity changes out to WatchConnection subscribers.
// Each subscriber channel holds only the latest state.
type connState struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	subs      map[chan bool]struct{}
}

func newConnState(connected bool) *connState {
	return &connState{
		connected: connected,
		subs:      make(map[chan bool]struct{}),
	}
}

func (c *connState) get() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *connState) set(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.connected == connected {
		return
	}
	c.connected = connected
	for ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- connected
	}
}

func (c *connState) watch(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	ch <- c.connected
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}()
	return ch
}

func (c *connState) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
}
