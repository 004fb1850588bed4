package channel

import (
	"errors"
	"time"
)

// DefaultReconnectDelay is the fixed wait between connection attempts.
const DefaultReconnectDelay = 5 * time.Second

// DefaultHeartBeat is the STOMP heart-beat offered in both directions.
const DefaultHeartBeat = 10 * time.Second

var (
	// ErrClosed is returned when operating on a closed channel.
	ErrClosed = errors.New("notification channel closed")
	// ErrProtocol marks errors reported by the broker or caused by unexpected frames.
	ErrProtocol = errors.New("notification channel protocol error")
)

// Message is a notification pushed by the backend.
type Message struct {
	Destination string
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// Hooks are invoked from the channel's own goroutine. They must not block.
type Hooks struct {
	// OnConnect runs after every successful CONNECTED, reconnects included.
	OnConnect func()
	// OnDisconnect runs when an established connection is lost. It does not
	// run for an explicit Close.
	OnDisconnect func(err error)
	OnError      func(err error)
	OnMessage    func(msg Message)
}

func (h Hooks) Connect() {
	if h.OnConnect != nil {
		h.OnConnect()
	}
}

func (h Hooks) Disconnect(err error) {
	if h.OnDisconnect != nil {
		h.OnDisconnect(err)
	}
}

func (h Hooks) Error(err error) {
	if h.OnError != nil && err != nil {
		h.OnError(err)
	}
}

func (h Hooks) Message(msg Message) {
	if h.OnMessage != nil {
		h.OnMessage(msg)
	}
}

// Channel is one live notification connection. Close is one-way: a closed
// Channel never reconnects and is never reopened.
type Channel interface {
	ID() string
	Close() error
	// Done is closed once the background loop has fully stopped.
	Done() <-chan struct{}
}

// Factory opens channels authenticated with a bearer token.
type Factory interface {
	Open(token string, hooks Hooks) (Channel, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(token string, hooks Hooks) (Channel, error)

func (f FactoryFunc) Open(token string, hooks Hooks) (Channel, error) {
	return f(token, hooks)
}
