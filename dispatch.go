package traybridge

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

type inboundMessage struct {
	channel uint32
	payload json.RawMessage
}

// dispatcher routes pushed messages to attached channels from a single
// goroutine, so messages of one channel are delivered in arrival order.
// Its queue is unbounded: transports never block on a slow subscriber, and
// a subscriber may issue calls on the same conn.
type dispatcher struct {
	mu       sync.Mutex
	channels map[uint32]*Channel
	queue    []inboundMessage
	wake     chan struct{}
	done     chan struct{}
	stopped  bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		channels: make(map[uint32]*Channel),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	go d.run()

	return d
}

func (d *dispatcher) attach(ch *Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.channels[ch.ID()] = ch
}

func (d *dispatcher) detach(ch *Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.channels[ch.ID()] == ch {
		delete(d.channels, ch.ID())
	}
}

// push enqueues a message for channel. It never blocks.
func (d *dispatcher) push(channel uint32, payload json.RawMessage) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	d.queue = append(d.queue, inboundMessage{channel: channel, payload: payload})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// stop terminates the dispatch goroutine. Queued messages are discarded.
func (d *dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	d.queue = nil
	close(d.done)
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if d.stopped || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}

			msg := d.queue[0]
			d.queue[0] = inboundMessage{}
			d.queue = d.queue[1:]
			ch := d.channels[msg.channel]
			d.mu.Unlock()

			if ch == nil {
				Logger().Debug("dropping message for unknown channel", zap.Uint32("channel", msg.channel))
				continue
			}

			ch.deliver(msg.payload)
		}
	}
}
