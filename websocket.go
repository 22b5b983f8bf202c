package traybridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketSubprotocol is negotiated by both ends of a WebSocket transport.
const WebSocketSubprotocol = "traybridge.v1"

// DefaultCallTimeout applies to calls whose context has no deadline.
const DefaultCallTimeout = 5 * time.Second

const (
	frameInvoke = "invoke"
	frameReply  = "reply"
	frameEvent  = "event"
)

// wsFrame is a message of the WebSocket transport.
type wsFrame struct {
	Kind    string          `json:"kind"`
	Seq     uint64          `json:"seq,omitempty"`
	Cmd     Command         `json:"cmd,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
	Channel uint32          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wireError is a failed call as reported by the host.
type wireError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *wireError) callError(cmd Command) *CallError {
	code := e.Code
	if !isKnownCode(code) {
		code = CodeInternal
	}

	return newCallError(cmd, code, e.Message, nil)
}

// WebSocketConn is a [Conn] talking to a host over a WebSocket.
type WebSocketConn struct {
	ws         *websocket.Conn
	dispatcher *dispatcher
	timeout    time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan wsFrame
	err     error
	done    chan struct{}
}

// DialWebSocket connects to the host at url, such as
// "ws://127.0.0.1:8765/tray".
func DialWebSocket(ctx context.Context, url string, header http.Header) (*WebSocketConn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{WebSocketSubprotocol},
	}

	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %v", url, ErrTransportUnavailable, err)
	}

	if ws.Subprotocol() != WebSocketSubprotocol {
		ws.Close()
		return nil, fmt.Errorf("dial %s: %w: host does not speak %s", url, ErrProtocolMismatch, WebSocketSubprotocol)
	}

	c := &WebSocketConn{
		ws:         ws,
		dispatcher: newDispatcher(),
		timeout:    DefaultCallTimeout,
		pending:    make(map[uint64]chan wsFrame),
		done:       make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// SetTimeout sets the timeout of calls whose context has no deadline.
func (c *WebSocketConn) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Invoke implements [Invoker].
func (c *WebSocketConn) Invoke(ctx context.Context, cmd Command, args any, reply any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return newCallError(cmd, CodeInvalidArgument, "encode arguments", err)
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	replies := make(chan wsFrame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return unavailable(cmd, err)
	}

	c.seq++
	seq := c.seq
	c.pending[seq] = replies
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	if err := c.write(wsFrame{Kind: frameInvoke, Seq: seq, Cmd: cmd, Args: data}); err != nil {
		return unavailable(cmd, err)
	}

	select {
	case frame := <-replies:
		if frame.Error != nil {
			return frame.Error.callError(cmd)
		}

		if reply == nil || len(frame.Result) == 0 {
			return nil
		}

		if err := json.Unmarshal(frame.Result, reply); err != nil {
			return newCallError(cmd, CodeProtocol, "decode reply", err)
		}

		return nil
	case <-ctx.Done():
		return unavailable(cmd, ctx.Err())
	case <-c.done:
		return unavailable(cmd, c.failure())
	}
}

// Attach implements [Conn].
func (c *WebSocketConn) Attach(ch *Channel) {
	c.dispatcher.attach(ch)
}

// Detach implements [Conn].
func (c *WebSocketConn) Detach(ch *Channel) {
	c.dispatcher.detach(ch)
}

// Close closes the connection. The host releases the tray icons created
// through it.
func (c *WebSocketConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	c.fail(errors.New("connection closed"))

	return c.ws.Close()
}

func (c *WebSocketConn) write(frame wsFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteJSON(frame)
}

func (c *WebSocketConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			Logger().Error("dropping malformed frame", zap.Error(err))
			continue
		}

		switch frame.Kind {
		case frameReply:
			c.mu.Lock()
			replies, ok := c.pending[frame.Seq]
			c.mu.Unlock()

			if !ok {
				continue
			}

			select {
			case replies <- frame:
			default:
				Logger().Warn("dropping duplicate reply", zap.Uint64("seq", frame.Seq))
			}
		case frameEvent:
			c.dispatcher.push(frame.Channel, frame.Payload)
		default:
			Logger().Error("dropping frame of unknown kind", zap.String("kind", frame.Kind))
		}
	}
}

// fail terminates the connection with err. Pending and later calls fail
// with ErrTransportUnavailable.
func (c *WebSocketConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return
	}

	c.err = err
	close(c.done)
	c.dispatcher.stop()
}

func (c *WebSocketConn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// WebSocketHandler serves a [Backend] to WebSocket clients. Every
// connection is a separate owner: its tray icons are released when it
// disconnects.
type WebSocketHandler struct {
	backend  Backend
	upgrader websocket.Upgrader
}

// NewWebSocketHandler returns a handler serving backend.
func NewWebSocketHandler(backend Backend) *WebSocketHandler {
	return &WebSocketHandler{
		backend: backend,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{WebSocketSubprotocol},
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logger().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if ws.Subprotocol() != WebSocketSubprotocol {
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "expected subprotocol "+WebSocketSubprotocol),
			time.Now().Add(time.Second),
		)
		ws.Close()
		return
	}

	session := newWSSession(ws)
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		h.backend.Release(session.owner)
	}()

	caller := Caller{Owner: session.owner, Events: session}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			Logger().Debug("websocket client left", zap.String("owner", session.owner), zap.Error(err))
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Kind != frameInvoke {
			Logger().Error("dropping malformed frame", zap.String("owner", session.owner), zap.Error(err))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			result, err := h.backend.Handle(ctx, caller, frame.Cmd, frame.Args)
			session.reply(frame.Cmd, frame.Seq, result, err)
		}()
	}
}

// wsSession is the host side of one WebSocket client.
type wsSession struct {
	ws    *websocket.Conn
	owner string

	writeMu sync.Mutex
}

func newWSSession(ws *websocket.Conn) *wsSession {
	return &wsSession{
		ws:    ws,
		owner: "ws-" + uuid.NewString(),
	}
}

// Send implements [EventSink].
func (s *wsSession) Send(channel uint32, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	return s.write(wsFrame{Kind: frameEvent, Channel: channel, Payload: data})
}

func (s *wsSession) reply(cmd Command, seq uint64, result any, err error) {
	frame := wsFrame{Kind: frameReply, Seq: seq}

	if err != nil {
		frame.Error = &wireError{Code: codeOf(err), Message: err.Error()}
	} else if frame.Result, err = json.Marshal(result); err != nil {
		frame.Error = &wireError{Code: CodeInternal, Message: fmt.Sprintf("encode reply: %v", err)}
	}

	if err := s.write(frame); err != nil {
		Logger().Warn("failed to send reply", zap.String("command", string(cmd)), zap.String("owner", s.owner), zap.Error(err))
	}
}

func (s *wsSession) write(frame wsFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.ws.WriteJSON(frame)
}
