package traybridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	BridgeInterface = "org.traybridge.Bridge"
	BridgePath      = "/org/traybridge/Bridge"

	// DefaultBusName is the well-known name requested by [Service] unless
	// configured otherwise.
	DefaultBusName = "org.traybridge.Host"

	// errorPrefix is followed by the [ErrorCode] in D-Bus error names.
	errorPrefix = BridgeInterface + ".Error."

	channelMessageSignal = BridgeInterface + ".ChannelMessage"
)

// DBusConn is a [Conn] calling a [Service] over D-Bus. Messages pushed by
// the host arrive as org.traybridge.Bridge.ChannelMessage signals addressed
// to the unique name of the connection.
type DBusConn struct {
	busName    string
	uniqueName string
	closed     bool
	listening  bool
	ownsConn   bool
	conn       *dbus.Conn
	object     dbus.BusObject
	signals    chan *dbus.Signal
	dispatcher *dispatcher
	timeout    time.Duration
	mu         sync.RWMutex

	// closing is cancelled by Close to abort calls in flight.
	closing context.Context
	cancel  context.CancelFunc
}

// NewDBusConn returns a [DBusConn] calling the host that owns busName on
// conn. [DBusConn.Listen] must be called before use.
func NewDBusConn(conn *dbus.Conn, busName string) *DBusConn {
	closing, cancel := context.WithCancel(context.Background())

	return &DBusConn{
		closing:    closing,
		cancel:     cancel,
		busName:    busName,
		conn:       conn,
		object:     conn.Object(busName, BridgePath),
		signals:    make(chan *dbus.Signal, 64),
		dispatcher: newDispatcher(),
		timeout:    DefaultCallTimeout,
	}
}

// DialDBus connects to the bus at address, or to the session bus if address
// is empty, and returns a listening [DBusConn]. Closing it closes the bus
// connection as well.
func DialDBus(address, busName string) (*DBusConn, error) {
	var (
		conn *dbus.Conn
		err  error
	)

	if address == "" {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.Connect(address)
	}

	if err != nil {
		return nil, fmt.Errorf("dial: %w: %v", ErrTransportUnavailable, err)
	}

	c := NewDBusConn(conn, busName)
	c.ownsConn = true

	if err := c.Listen(); err != nil {
		c.cancel()
		c.dispatcher.stop()
		conn.Close()
		return nil, err
	}

	return c, nil
}

// SetTimeout sets the timeout of calls whose context has no deadline.
func (c *DBusConn) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Listen checks that the host speaks [ProtocolVersion] and subscribes to
// channel messages.
//
// If Listen is called after [DBusConn.Close], an error is returned.
func (c *DBusConn) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("listen: connection is closed")
	}

	if c.listening {
		return nil
	}

	property, err := c.object.GetProperty(BridgeInterface + ".ProtocolVersion")
	if err != nil {
		return fmt.Errorf("listen: host %s: %w: %v", c.busName, ErrTransportUnavailable, err)
	}

	version, ok := property.Value().(uint32)
	if !ok || version != ProtocolVersion {
		return fmt.Errorf("listen: host %s: %w: protocol version %v, expected %d", c.busName, ErrProtocolMismatch, property.Value(), ProtocolVersion)
	}

	names := c.conn.Names()
	if len(names) == 0 {
		return fmt.Errorf("listen: %w: connection has no unique name", ErrTransportUnavailable)
	}

	c.uniqueName = names[0]

	if err := c.conn.AddMatchSignal(c.matchOptions()...); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	c.conn.Signal(c.signals)
	go c.receive()

	c.listening = true

	return nil
}

// Invoke implements [Invoker].
func (c *DBusConn) Invoke(ctx context.Context, cmd Command, args any, reply any) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return unavailable(cmd, errors.New("connection is closed"))
	}

	data, err := json.Marshal(args)
	if err != nil {
		return newCallError(cmd, CodeInvalidArgument, "encode arguments", err)
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(c.closing, cancel)
	defer stop()

	call := c.object.CallWithContext(ctx, BridgeInterface+".Invoke", 0, string(cmd), string(data))
	if call.Err != nil {
		return callErrorFromDBus(cmd, call.Err)
	}

	var result string
	if err := call.Store(&result); err != nil {
		return newCallError(cmd, CodeProtocol, "decode reply", err)
	}

	if reply == nil {
		return nil
	}

	if err := json.Unmarshal([]byte(result), reply); err != nil {
		return newCallError(cmd, CodeProtocol, "decode reply", err)
	}

	return nil
}

// Attach implements [Conn].
func (c *DBusConn) Attach(ch *Channel) {
	c.dispatcher.attach(ch)
}

// Detach implements [Conn].
func (c *DBusConn) Detach(ch *Channel) {
	c.dispatcher.detach(ch)
}

// Close unsubscribes from channel messages and aborts calls in flight. The
// underlying bus connection is closed only if it was opened by [DialDBus].
//
// DBusConn cannot be reused after Close was called.
func (c *DBusConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.cancel()
	c.dispatcher.stop()

	if c.listening {
		if err := c.conn.RemoveMatchSignal(c.matchOptions()...); err != nil {
			Logger().Warn("failed to remove signal match", zap.Error(err))
		}

		c.conn.RemoveSignal(c.signals)
		close(c.signals)
	}

	if c.ownsConn {
		return c.conn.Close()
	}

	return nil
}

func (c *DBusConn) matchOptions() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface(BridgeInterface),
		dbus.WithMatchMember("ChannelMessage"),
		dbus.WithMatchObjectPath(BridgePath),
		dbus.WithMatchSender(c.busName),
		dbus.WithMatchArg(0, c.uniqueName),
	}
}

// receive forwards channel messages to the dispatcher in arrival order.
func (c *DBusConn) receive() {
	for signal := range c.signals {
		if signal.Name != channelMessageSignal || signal.Path != BridgePath {
			continue
		}

		destination, channel, payload, err := channelMessageFromDBusSignal(signal)
		if err != nil {
			Logger().Error("dropping malformed channel message", zap.Error(err))
			continue
		}

		if destination != c.uniqueName {
			continue
		}

		c.dispatcher.push(channel, json.RawMessage(payload))
	}
}

// channelMessageFromDBusSignal retrieves the body of the
// org.traybridge.Bridge.ChannelMessage signal:
//
//	[<destination>, <channel>, <payload>]
func channelMessageFromDBusSignal(signal *dbus.Signal) (string, uint32, string, error) {
	if len(signal.Body) != 3 {
		return "", 0, "", fmt.Errorf("%w: channel message has %d fields", ErrProtocolMismatch, len(signal.Body))
	}

	destination, ok := signal.Body[0].(string)
	if !ok {
		return "", 0, "", fmt.Errorf("%w: invalid destination type", ErrProtocolMismatch)
	}

	channel, ok := signal.Body[1].(uint32)
	if !ok {
		return "", 0, "", fmt.Errorf("%w: invalid channel type", ErrProtocolMismatch)
	}

	payload, ok := signal.Body[2].(string)
	if !ok {
		return "", 0, "", fmt.Errorf("%w: invalid payload type", ErrProtocolMismatch)
	}

	return destination, channel, payload, nil
}

// callErrorFromDBus converts the error of a D-Bus call. Errors raised by the
// bridge carry their code in the error name; anything else means the host
// could not be reached.
func callErrorFromDBus(cmd Command, err error) *CallError {
	var dbusErr dbus.Error

	if ptr := (*dbus.Error)(nil); errors.As(err, &ptr) {
		dbusErr = *ptr
	} else if !errors.As(err, &dbusErr) {
		return unavailable(cmd, err)
	}

	code, ok := strings.CutPrefix(dbusErr.Name, errorPrefix)
	if !ok {
		return unavailable(cmd, err)
	}

	message := ""
	if len(dbusErr.Body) > 0 {
		message, _ = dbusErr.Body[0].(string)
	}

	if !isKnownCode(ErrorCode(code)) {
		return newCallError(cmd, CodeInternal, message, nil)
	}

	return newCallError(cmd, ErrorCode(code), message, nil)
}

// dbusError converts a backend error into a D-Bus error.
func dbusError(err error) *dbus.Error {
	return dbus.NewError(errorPrefix+string(codeOf(err)), []any{err.Error()})
}
