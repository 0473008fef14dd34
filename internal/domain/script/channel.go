package script

import (
	"context"
	"sync"
	"sync/atomic"
)

// Channel is the unbounded, per-script stream of events flowing from the
// page to the host. Page messages carry sequence numbers starting at 1 and
// are released to Events strictly in that order, whatever order the driver
// delivers them in.
//
// A Channel closes exactly once. The first Close wins; its reason is kept,
// later calls are no-ops. Close hooks run once, after the stream is shut
// and before Events is closed, so a consumer that sees the end of Events
// also sees the finished teardown.
type Channel struct {
	scriptID string

	mu      sync.Mutex
	next    uint64
	pending map[uint64]any
	queue   []Event
	endSeq  uint64
	ended   bool
	closed  bool
	reason  Reason
	hooks   []func(context.Context, Reason)

	notify    chan struct{}
	done      chan struct{}
	out       chan Event
	pumpDone  chan struct{}
	hooksDone chan struct{}
	delivered atomic.Int64
}

// NewChannel creates an open channel for scriptID and starts its pump.
func NewChannel(scriptID string) *Channel {
	c := &Channel{
		scriptID: scriptID,
		next:     1,
		pending:  make(map[uint64]any),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan Event),
		pumpDone:  make(chan struct{}),
		hooksDone: make(chan struct{}),
	}
	go c.pump()
	return c
}

// ScriptID returns the owning identity.
func (c *Channel) ScriptID() string {
	return c.scriptID
}

// Events yields items until the channel closes.
func (c *Channel) Events() <-chan Event {
	return c.out
}

// Done is closed when the channel closes.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether the channel has closed.
func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Reason returns the termination path, empty while open.
func (c *Channel) Reason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Delivered returns how many events consumers have received.
func (c *Channel) Delivered() int64 {
	return c.delivered.Load()
}

// Push queues data emitted with sequence number seq. It reports false once
// the channel is closed or when seq was already seen.
func (c *Channel) Push(seq uint64, data any) bool {
	c.mu.Lock()
	if c.closed || seq < c.next || c.ended {
		c.mu.Unlock()
		return false
	}
	if _, dup := c.pending[seq]; dup {
		c.mu.Unlock()
		return false
	}
	c.pending[seq] = data
	c.release()
	c.mu.Unlock()

	c.signal()
	return true
}

// End marks seq as the end-of-stream marker. Everything numbered below seq
// is still delivered; the channel then closes with ReasonCompleted.
func (c *Channel) End(seq uint64) {
	c.mu.Lock()
	if c.closed || c.endSeq != 0 {
		c.mu.Unlock()
		return
	}
	c.endSeq = seq
	c.release()
	c.mu.Unlock()

	c.signal()
}

// release moves in-order pending items to the queue. Caller holds mu.
func (c *Channel) release() {
	for {
		data, ok := c.pending[c.next]
		if !ok {
			break
		}
		delete(c.pending, c.next)
		c.queue = append(c.queue, Event{Data: data, ScriptID: c.scriptID})
		c.next++
	}
	if c.endSeq != 0 && c.next >= c.endSeq {
		c.ended = true
	}
}

func (c *Channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// OnClose registers fn to run when the channel closes. fn receives the
// context passed to CloseContext. If the channel is already closed fn runs
// immediately.
func (c *Channel) OnClose(fn func(context.Context, Reason)) {
	c.mu.Lock()
	if c.closed {
		reason := c.reason
		c.mu.Unlock()
		fn(context.Background(), reason)
		return
	}
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Close shuts the channel with reason. Once Close returns no further events
// are delivered. Only the first call has any effect.
func (c *Channel) Close(reason Reason) bool {
	return c.close(context.Background(), reason, true)
}

// CloseContext is Close with ctx handed to the close hooks, bounding the
// teardown they run.
func (c *Channel) CloseContext(ctx context.Context, reason Reason) bool {
	return c.close(ctx, reason, true)
}

func (c *Channel) close(ctx context.Context, reason Reason, waitPump bool) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.reason = reason
	c.pending = nil
	c.queue = nil
	hooks := c.hooks
	c.hooks = nil
	close(c.done)
	c.mu.Unlock()

	if waitPump {
		<-c.pumpDone
	}
	for _, fn := range hooks {
		fn(ctx, reason)
	}
	close(c.hooksDone)
	return true
}

func (c *Channel) pump() {
	completed := c.drain()
	close(c.pumpDone)
	if completed {
		c.close(context.Background(), ReasonCompleted, false)
	}
	<-c.hooksDone
	close(c.out)
}

// drain delivers queued events until the channel closes or the end marker
// is reached with nothing left to deliver. It reports the latter.
func (c *Channel) drain() bool {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		if len(c.queue) == 0 {
			ended := c.ended
			c.mu.Unlock()
			if ended {
				return true
			}
			select {
			case <-c.notify:
			case <-c.done:
				return false
			}
			continue
		}
		ev := c.queue[0]
		c.queue[0] = Event{}
		c.queue = c.queue[1:]
		c.mu.Unlock()

		select {
		case <-c.done:
			return false
		default:
		}
		select {
		case c.out <- ev:
			c.delivered.Add(1)
		case <-c.done:
			return false
		}
	}
}
