package traybridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// channelPrefix marks a channel reference inside a call payload.
const channelPrefix = "__CHANNEL__:"

// maxPendingMessages bounds the messages kept for a channel without a
// subscriber.
const maxPendingMessages = 4096

var lastChannelID atomic.Uint32

// Channel receives messages pushed by the host, in the order the host sent
// them. It has exactly one subscriber; messages that arrive before the
// subscriber is installed are buffered and replayed to it.
//
// A Channel is embedded into call arguments by reference: it marshals to
// "__CHANNEL__:<id>". It must be attached to a [Conn] to receive anything.
type Channel struct {
	id uint32

	// deliverMu serializes calls of the subscriber.
	deliverMu sync.Mutex

	mu      sync.Mutex
	handler func(json.RawMessage)
	pending []json.RawMessage
	closed  bool
}

// NewChannel returns a channel with a fresh process-unique id.
func NewChannel() *Channel {
	return &Channel{
		id: lastChannelID.Add(1),
	}
}

// ID returns the id of the channel.
func (c *Channel) ID() uint32 {
	return c.id
}

// OnMessage installs the subscriber of the channel. Buffered messages are
// delivered to it before OnMessage returns.
//
// If the channel already has a subscriber, [ErrChannelSubscribed] is
// returned.
func (c *Channel) OnMessage(handler func(json.RawMessage)) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.handler != nil {
		c.mu.Unlock()
		return ErrChannelSubscribed
	}

	c.handler = handler
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, msg := range pending {
		handler(msg)
	}

	return nil
}

// Close detaches the subscriber. Messages received afterwards are dropped.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.handler = nil
	c.pending = nil
}

// deliver passes msg to the subscriber, or buffers it when there is none.
func (c *Channel) deliver(msg json.RawMessage) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		Logger().Debug("dropping message for closed channel", zap.Uint32("channel", c.id))
		return
	}

	handler := c.handler
	if handler == nil {
		if len(c.pending) >= maxPendingMessages {
			c.mu.Unlock()
			Logger().Warn("channel buffer is full, dropping message", zap.Uint32("channel", c.id))
			return
		}

		c.pending = append(c.pending, msg)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	handler(msg)
}

func (c *Channel) MarshalJSON() ([]byte, error) {
	return json.Marshal(channelPrefix + strconv.FormatUint(uint64(c.id), 10))
}

// ChannelRef is the host-side view of a channel reference found in call
// arguments.
type ChannelRef uint32

func (r *ChannelRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: channel reference: %v", ErrProtocolMismatch, err)
	}

	raw, ok := strings.CutPrefix(s, channelPrefix)
	if !ok {
		return fmt.Errorf("%w: channel reference %q", ErrProtocolMismatch, s)
	}

	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: channel reference %q", ErrProtocolMismatch, s)
	}

	*r = ChannelRef(id)
	return nil
}

func (r ChannelRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(channelPrefix + strconv.FormatUint(uint64(r), 10))
}
