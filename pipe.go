package traybridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Pipe is an in-process [Conn] bound directly to a [Backend]. Arguments,
// replies, and events still go through their JSON wire form.
type Pipe struct {
	backend    Backend
	owner      string
	dispatcher *dispatcher

	mu     sync.RWMutex
	closed bool
}

// NewPipe returns a [Pipe] issuing calls to backend.
func NewPipe(backend Backend) *Pipe {
	return &Pipe{
		backend:    backend,
		owner:      "pipe-" + uuid.NewString(),
		dispatcher: newDispatcher(),
	}
}

// Invoke implements [Invoker].
func (p *Pipe) Invoke(ctx context.Context, cmd Command, args any, reply any) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	if closed {
		return unavailable(cmd, errors.New("pipe is closed"))
	}

	if err := ctx.Err(); err != nil {
		return unavailable(cmd, err)
	}

	data, err := json.Marshal(args)
	if err != nil {
		return newCallError(cmd, CodeInvalidArgument, "encode arguments", err)
	}

	result, err := p.backend.Handle(ctx, Caller{Owner: p.owner, Events: pipeSink{p.dispatcher}}, cmd, data)
	if err != nil {
		return newCallError(cmd, codeOf(err), err.Error(), nil)
	}

	return decodeReply(cmd, result, reply)
}

// Attach implements [Conn].
func (p *Pipe) Attach(ch *Channel) {
	p.dispatcher.attach(ch)
}

// Detach implements [Conn].
func (p *Pipe) Detach(ch *Channel) {
	p.dispatcher.detach(ch)
}

// Close releases everything the pipe created on the backend.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.dispatcher.stop()
	p.backend.Release(p.owner)

	return nil
}

type pipeSink struct {
	dispatcher *dispatcher
}

func (s pipeSink) Send(channel uint32, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	s.dispatcher.push(channel, data)
	return nil
}

// decodeReply round-trips a backend result through JSON into reply.
func decodeReply(cmd Command, result any, reply any) error {
	if reply == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return newCallError(cmd, CodeInternal, "encode reply", err)
	}

	if err := json.Unmarshal(data, reply); err != nil {
		return newCallError(cmd, CodeProtocol, "decode reply", err)
	}

	return nil
}
