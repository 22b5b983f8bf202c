package traybridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func physicalEvent(typ EventType) WireEvent {
	return WireEvent{
		Type:     typ,
		ID:       "tray",
		Position: WirePosition{Space: SpacePhysical, X: 10.5, Y: 20},
		Rect: WireRect{
			Position: WirePosition{Space: SpacePhysical, X: 1, Y: 2},
			Size:     WireSize{Space: SpacePhysical, Width: 24, Height: 22},
		},
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestMapEvent_Click(t *testing.T) {
	wire := physicalEvent(EventClick)
	wire.Button = ptr(MouseButtonLeft)
	wire.ButtonState = ptr(MouseButtonStateDown)

	event, err := MapEvent(wire)
	require.NoError(t, err)

	click, ok := event.(ClickEvent)
	require.True(t, ok, "expected ClickEvent, got %T", event)

	assert.Equal(t, EventClick, click.Type())
	assert.Equal(t, MouseButtonLeft, click.Button)
	assert.Equal(t, MouseButtonStateDown, click.ButtonState)
	assert.Equal(t, EventBase{
		ID:       "tray",
		Position: PhysicalPosition{X: 10.5, Y: 20},
		Rect: Rect{
			Position: PhysicalPosition{X: 1, Y: 2},
			Size:     PhysicalSize{Width: 24, Height: 22},
		},
	}, click.Common())
}

func TestMapEvent_DoubleClickDropsButtonState(t *testing.T) {
	wire := physicalEvent(EventDoubleClick)
	wire.Button = ptr(MouseButtonRight)
	wire.ButtonState = ptr(MouseButtonStateUp)

	event, err := MapEvent(wire)
	require.NoError(t, err)

	assert.Equal(t, DoubleClickEvent{
		EventBase: physicalBase(),
		Button:    MouseButtonRight,
	}, event)
}

func TestMapEvent_PointerEventsCarryNoButton(t *testing.T) {
	tests := []struct {
		typ  EventType
		want Event
	}{
		{EventEnter, EnterEvent{physicalBase()}},
		{EventMove, MoveEvent{physicalBase()}},
		{EventLeave, LeaveEvent{physicalBase()}},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			wire := physicalEvent(tt.typ)
			wire.Button = ptr(MouseButtonLeft)

			event, err := MapEvent(wire)
			require.NoError(t, err)
			assert.Equal(t, tt.want, event)
			assert.Equal(t, tt.typ, event.Type())
		})
	}
}

func physicalBase() EventBase {
	return EventBase{
		ID:       "tray",
		Position: PhysicalPosition{X: 10.5, Y: 20},
		Rect: Rect{
			Position: PhysicalPosition{X: 1, Y: 2},
			Size:     PhysicalSize{Width: 24, Height: 22},
		},
	}
}

func TestMapEvent_ProtocolMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WireEvent)
	}{
		{"unknown type", func(w *WireEvent) { w.Type = "Scroll" }},
		{"logical position", func(w *WireEvent) { w.Position.Space = SpaceLogical }},
		{"missing rect tag", func(w *WireEvent) { w.Rect.Position.Space = "" }},
		{"unknown size tag", func(w *WireEvent) { w.Rect.Size.Space = "Scaled" }},
		{"empty id", func(w *WireEvent) { w.ID = "" }},
		{"untagged rect position", func(w *WireEvent) { w.Rect.Position.Untagged = true }},
		{"untagged rect size", func(w *WireEvent) { w.Rect.Size.Untagged = true }},
		{"click without button", func(w *WireEvent) {
			w.Type = EventClick
			w.ButtonState = ptr(MouseButtonStateUp)
		}},
		{"click without state", func(w *WireEvent) {
			w.Type = EventClick
			w.Button = ptr(MouseButtonLeft)
		}},
		{"unknown button", func(w *WireEvent) {
			w.Type = EventDoubleClick
			w.Button = ptr(MouseButton("Back"))
		}},
		{"unknown state", func(w *WireEvent) {
			w.Type = EventClick
			w.Button = ptr(MouseButtonLeft)
			w.ButtonState = ptr(MouseButtonState("Held"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := physicalEvent(EventMove)
			tt.mutate(&wire)

			_, err := MapEvent(wire)
			require.ErrorIs(t, err, ErrProtocolMismatch)
		})
	}
}

func TestDecodeEvent_HostWireForm(t *testing.T) {
	msg := json.RawMessage(`{
		"type": "Click",
		"id": "main",
		"position": {"x": 100, "y": 200},
		"rect": {
			"position": {"Physical": {"x": 90, "y": 190}},
			"size": {"Physical": {"width": 32, "height": 32}}
		},
		"button": "Middle",
		"buttonState": "Up"
	}`)

	event, err := DecodeEvent(msg)
	require.NoError(t, err)

	assert.Equal(t, ClickEvent{
		EventBase: EventBase{
			ID:       "main",
			Position: PhysicalPosition{X: 100, Y: 200},
			Rect: Rect{
				Position: PhysicalPosition{X: 90, Y: 190},
				Size:     PhysicalSize{Width: 32, Height: 32},
			},
		},
		Button:      MouseButtonMiddle,
		ButtonState: MouseButtonStateUp,
	}, event)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	const rect = `"rect":{"position":{"Physical":{"x":0,"y":0}},"size":{"Physical":{"width":1,"height":1}}}`

	tests := map[string]string{
		"not json":                `{`,
		"two tags":                `{"type":"Enter","id":"a","position":{"Physical":{"x":1,"y":1},"Logical":{"x":1,"y":1}},` + rect + `}`,
		"logical rect":            `{"type":"Enter","id":"a","position":{"x":1,"y":1},"rect":{"position":{"Logical":{"x":0,"y":0}},"size":{"Physical":{"width":1,"height":1}}}}`,
		"missing rect":            `{"type":"Leave","id":"a","position":{"x":1,"y":1}}`,
		"missing type":            `{"id":"a","position":{"x":1,"y":1},` + rect + `}`,
		"wrong coordinate":        `{"type":"Move","id":"a","position":{"Physical":{"x":"1","y":1}},` + rect + `}`,
		"empty tagged position":   `{"type":"Move","id":"a","position":{"Physical":{}},` + rect + `}`,
		"null tagged position":    `{"type":"Move","id":"a","position":{"Physical":null},` + rect + `}`,
		"flat position without y": `{"type":"Move","id":"a","position":{"x":5},` + rect + `}`,
		"null coordinate":         `{"type":"Move","id":"a","position":{"x":5,"y":null},` + rect + `}`,
		"size without height":     `{"type":"Enter","id":"a","position":{"x":1,"y":1},"rect":{"position":{"Physical":{"x":0,"y":0}},"size":{"Physical":{"width":1}}}}`,
		"missing id":              `{"type":"Enter","position":{"x":1,"y":1},` + rect + `}`,
		"flat rect position":      `{"type":"Enter","id":"a","position":{"x":1,"y":1},"rect":{"position":{"x":0,"y":0},"size":{"Physical":{"width":1,"height":1}}}}`,
		"flat rect size":          `{"type":"Enter","id":"a","position":{"x":1,"y":1},"rect":{"position":{"Physical":{"x":0,"y":0}},"size":{"width":1,"height":1}}}`,
	}

	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent(json.RawMessage(msg))
			require.ErrorIs(t, err, ErrProtocolMismatch)
		})
	}
}

func TestWirePosition_UntaggedRoundTrip(t *testing.T) {
	var p WirePosition
	require.NoError(t, json.Unmarshal([]byte(`{"x":3,"y":4}`), &p))
	assert.Equal(t, WirePosition{Space: SpacePhysical, Untagged: true, X: 3, Y: 4}, p)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":3,"y":4}`, string(data))
}

func TestWireEvent_MarshalTagsCoordinates(t *testing.T) {
	wire := physicalEvent(EventEnter)

	data, err := json.Marshal(wire)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "Enter",
		"id": "tray",
		"position": {"Physical": {"x": 10.5, "y": 20}},
		"rect": {
			"position": {"Physical": {"x": 1, "y": 2}},
			"size": {"Physical": {"width": 24, "height": 22}}
		}
	}`, string(data))
}
