// Package channeltest provides an in-memory channel.Factory that records every
// open and close. Test use only.
package channeltest

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/lmsauth/channel"
)

// Factory hands out Channels whose hooks are driven by the test.
type Factory struct {
	mu      sync.Mutex
	opened  []*Channel
	openErr error
}

var _ channel.Factory = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{}
}

// FailOpens makes subsequent Open calls return err. Pass nil to reset.
func (f *Factory) FailOpens(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *Factory) Open(token string, hooks channel.Hooks) (channel.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	c := &Channel{
		id:    fmt.Sprintf("fake-%d", len(f.opened)+1),
		Token: token,
		hooks: hooks,
		done:  make(chan struct{}),
	}
	f.opened = append(f.opened, c)
	return c, nil
}

// Opened returns every channel opened so far, oldest first.
func (f *Factory) Opened() []*Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Channel(nil), f.opened...)
}

// Live returns the channels that have not been closed.
func (f *Factory) Live() []*Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Channel
	for _, c := range f.opened {
		if !c.Closed() {
			out = append(out, c)
		}
	}
	return out
}

// Last returns the most recently opened channel, or nil.
func (f *Factory) Last() *Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[len(f.opened)-1]
}

// Channel is a fake channel.Channel. Close completes immediately.
type Channel struct {
	id    string
	Token string
	hooks channel.Hooks

	closes atomic.Int32
	once   sync.Once
	done   chan struct{}
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.done) })
	return nil
}

// Closed reports whether Close was called at least once.
func (c *Channel) Closed() bool { return c.closes.Load() > 0 }

// CloseCalls is the number of Close invocations.
func (c *Channel) CloseCalls() int { return int(c.closes.Load()) }

// Connect fires the OnConnect hook as the broker's CONNECTED would.
func (c *Channel) Connect() { c.hooks.Connect() }

// Fail fires the OnError hook.
func (c *Channel) Fail(err error) { c.hooks.Error(err) }

// Deliver fires the OnMessage hook.
func (c *Channel) Deliver(msg channel.Message) { c.hooks.Message(msg) }

// Drop fires the OnDisconnect hook as a lost connection would.
func (c *Channel) Drop(err error) { c.hooks.Disconnect(err) }
