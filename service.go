package traybridge

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"go.uber.org/zap"
)

// Service exports a [Backend] on D-Bus as org.traybridge.Bridge. Every
// client is identified by its unique name; when the name disappears from
// the bus, the backend releases everything the client owned.
type Service struct {
	busName string
	closed  bool
	conn    *dbus.Conn
	backend Backend
	props   *prop.Properties
	mu      sync.Mutex
	signals chan *dbus.Signal
	clients []string
}

// NewService returns a [Service] serving backend under busName.
func NewService(conn *dbus.Conn, busName string, backend Backend) *Service {
	return &Service{
		busName: busName,
		closed:  false,
		conn:    conn,
		backend: backend,
		signals: make(chan *dbus.Signal, 64),
	}
}

// Listen requests the bus name, exports the bridge object, and starts
// watching clients.
//
// If Listen is called after [Service.Close], an error is returned.
func (s *Service) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("listen: service is closed")
	}

	reply, err := s.conn.RequestName(s.busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("listen: failed to request name %s: %w", s.busName, err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("listen: name %s already taken", s.busName)
	}

	if err := s.conn.Export(&bridgeObject{service: s}, BridgePath, BridgeInterface); err != nil {
		return fmt.Errorf("listen: failed to export %s: %w", BridgeInterface, err)
	}

	props, err := prop.Export(s.conn, BridgePath, prop.Map{
		BridgeInterface: map[string]*prop.Prop{
			"ProtocolVersion": {
				Value:    ProtocolVersion,
				Writable: false,
				Emit:     prop.EmitFalse,
			},
			"Clients": {
				Value:    uint32(0),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("listen: failed to export properties: %w", err)
	}

	s.props = props

	s.conn.Signal(s.signals)
	go s.watchClients()

	return nil
}

// Close releases the bus name and every client.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if _, err := s.conn.ReleaseName(s.busName); err != nil {
		return err
	}

	_ = s.conn.Export(nil, BridgePath, BridgeInterface)

	for _, client := range s.clients {
		s.conn.RemoveMatchSignal(nameOwnerChangedMatch(client)...)
		s.backend.Release(client)
	}

	s.conn.RemoveSignal(s.signals)
	close(s.signals)

	s.clients = nil
	s.closed = true

	return nil
}

// trackClient starts watching the unique name of a client.
func (s *Service) trackClient(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || slices.Contains(s.clients, name) {
		return
	}

	// Whenever name disappears, D-Bus will send NameOwnerChanged signal with
	// empty NewOwner argument. In this case, the client is released.
	if err := s.conn.AddMatchSignal(nameOwnerChangedMatch(name)...); err != nil {
		Logger().Warn("failed to watch client", zap.String("client", name), zap.Error(err))
	}

	s.clients = append(s.clients, name)
	s.exportClients()
}

func (s *Service) watchClients() {
	for signal := range s.signals {
		if signal.Name != "org.freedesktop.DBus.NameOwnerChanged" {
			continue
		}

		if len(signal.Body) < 3 {
			continue
		}

		name, ok := signal.Body[0].(string)
		if !ok {
			continue
		}

		newOwner, ok := signal.Body[2].(string)
		if !ok {
			continue
		}

		if newOwner == "" {
			s.releaseClient(name)
		}
	}
}

func (s *Service) releaseClient(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.Index(s.clients, name)
	if idx < 0 {
		return
	}

	s.conn.RemoveMatchSignal(nameOwnerChangedMatch(name)...)

	s.clients = slices.Delete(s.clients, idx, idx+1)
	s.exportClients()

	s.backend.Release(name)
	Logger().Debug("client left the bus", zap.String("client", name))
}

// exportClients publishes the number of clients. s.mu must be held.
func (s *Service) exportClients() {
	if s.props == nil {
		return
	}

	s.props.SetMust(BridgeInterface, "Clients", uint32(len(s.clients)))
}

func nameOwnerChangedMatch(name string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, name),
	}
}

// bridgeObject is the exported D-Bus object. It is separate from [Service]
// so that only Invoke is callable over the bus.
type bridgeObject struct {
	service *Service
}

// Invoke executes a command for the calling client.
func (o *bridgeObject) Invoke(command, args string, sender dbus.Sender) (string, *dbus.Error) {
	s := o.service
	s.trackClient(string(sender))

	caller := Caller{
		Owner:  string(sender),
		Events: dbusSink{conn: s.conn, destination: string(sender)},
	}

	result, err := s.backend.Handle(context.Background(), caller, Command(command), json.RawMessage(args))
	if err != nil {
		return "", dbusError(err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}

	return string(data), nil
}

// dbusSink emits channel messages addressed to one client.
type dbusSink struct {
	conn        *dbus.Conn
	destination string
}

func (s dbusSink) Send(channel uint32, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	return s.conn.Emit(BridgePath, channelMessageSignal, s.destination, channel, string(data))
}
