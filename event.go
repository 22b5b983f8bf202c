package traybridge

import (
	"encoding/json"
	"fmt"
)

// MouseButton is the mouse button that triggered an event.
type MouseButton string

const (
	MouseButtonLeft   MouseButton = "Left"
	MouseButtonRight  MouseButton = "Right"
	MouseButtonMiddle MouseButton = "Middle"
)

// MouseButtonState is the state of the mouse button when an event was
// triggered.
type MouseButtonState string

const (
	MouseButtonStateUp   MouseButtonState = "Up"
	MouseButtonStateDown MouseButtonState = "Down"
)

// EventType discriminates tray icon events.
type EventType string

const (
	EventClick       EventType = "Click"
	EventDoubleClick EventType = "DoubleClick"
	EventEnter       EventType = "Enter"
	EventMove        EventType = "Move"
	EventLeave       EventType = "Leave"
)

// PhysicalPosition is a position in physical pixels.
type PhysicalPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PhysicalSize is a size in physical pixels.
type PhysicalSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is the position and size of a tray icon on screen.
type Rect struct {
	Position PhysicalPosition `json:"position"`
	Size     PhysicalSize     `json:"size"`
}

// EventBase holds the fields common to every tray icon event.
type EventBase struct {
	// Id of the tray icon which triggered this event.
	ID string

	// Position of the pointer.
	Position PhysicalPosition

	// Position and size of the tray icon.
	Rect Rect
}

// Common returns the fields shared by all events.
func (b EventBase) Common() EventBase {
	return b
}

// Event is a tray icon event. It is one of [ClickEvent], [DoubleClickEvent],
// [EnterEvent], [MoveEvent], or [LeaveEvent].
type Event interface {
	Type() EventType
	Common() EventBase
}

// ClickEvent is emitted when the tray icon is clicked.
type ClickEvent struct {
	EventBase
	Button      MouseButton
	ButtonState MouseButtonState
}

func (ClickEvent) Type() EventType { return EventClick }

// DoubleClickEvent is emitted when the tray icon is double clicked.
type DoubleClickEvent struct {
	EventBase
	Button MouseButton
}

func (DoubleClickEvent) Type() EventType { return EventDoubleClick }

// EnterEvent is emitted when the pointer enters the tray icon.
type EnterEvent struct{ EventBase }

func (EnterEvent) Type() EventType { return EventEnter }

// MoveEvent is emitted when the pointer moves over the tray icon.
type MoveEvent struct{ EventBase }

func (MoveEvent) Type() EventType { return EventMove }

// LeaveEvent is emitted when the pointer leaves the tray icon.
type LeaveEvent struct{ EventBase }

func (LeaveEvent) Type() EventType { return EventLeave }

// CoordinateSpace tags a coordinate pair on the wire.
type CoordinateSpace string

const (
	SpacePhysical CoordinateSpace = "Physical"
	SpaceLogical  CoordinateSpace = "Logical"
)

// WirePosition is a coordinate-space tagged position:
//
//	{"Physical": {"x": 1, "y": 2}}
//
// The untagged form {"x": 1, "y": 2} is read as physical and marks the
// position Untagged. Only the pointer position of an event may use it.
type WirePosition struct {
	Space    CoordinateSpace
	Untagged bool
	X        float64
	Y        float64
}

func (p WirePosition) MarshalJSON() ([]byte, error) {
	inner := PhysicalPosition{X: p.X, Y: p.Y}
	if p.Untagged {
		return json.Marshal(inner)
	}

	return json.Marshal(map[CoordinateSpace]PhysicalPosition{p.Space: inner})
}

func (p *WirePosition) UnmarshalJSON(data []byte) error {
	pair, err := unmarshalTagged(data, "x", "y")
	if err != nil {
		return fmt.Errorf("position: %w", err)
	}

	*p = WirePosition{Space: pair.space, Untagged: pair.untagged, X: pair.first, Y: pair.second}
	return nil
}

// WireSize is a coordinate-space tagged size:
//
//	{"Physical": {"width": 16, "height": 16}}
type WireSize struct {
	Space    CoordinateSpace
	Untagged bool
	Width    float64
	Height   float64
}

func (s WireSize) MarshalJSON() ([]byte, error) {
	inner := PhysicalSize{Width: s.Width, Height: s.Height}
	if s.Untagged {
		return json.Marshal(inner)
	}

	return json.Marshal(map[CoordinateSpace]PhysicalSize{s.Space: inner})
}

func (s *WireSize) UnmarshalJSON(data []byte) error {
	pair, err := unmarshalTagged(data, "width", "height")
	if err != nil {
		return fmt.Errorf("size: %w", err)
	}

	*s = WireSize{Space: pair.space, Untagged: pair.untagged, Width: pair.first, Height: pair.second}
	return nil
}

// taggedPair is a decoded coordinate pair with its space.
type taggedPair struct {
	space    CoordinateSpace
	untagged bool
	first    float64
	second   float64
}

// unmarshalTagged decodes either {"<tag>": {<first>, <second>}} or the
// untagged {<first>, <second>}, which is physical. Both components are
// required. An object with several tags yields an empty space, which the
// mapper rejects.
func unmarshalTagged(data []byte, firstKey, secondKey string) (taggedPair, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return taggedPair{}, err
	}

	_, hasFirst := obj[firstKey]
	_, hasSecond := obj[secondKey]

	if hasFirst || hasSecond {
		first, second, err := requirePair(obj, firstKey, secondKey)
		if err != nil {
			return taggedPair{}, err
		}

		return taggedPair{space: SpacePhysical, untagged: true, first: first, second: second}, nil
	}

	if len(obj) != 1 {
		return taggedPair{}, nil
	}

	for tag, raw := range obj {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return taggedPair{}, fmt.Errorf("%s: %w", tag, err)
		}

		first, second, err := requirePair(inner, firstKey, secondKey)
		if err != nil {
			return taggedPair{}, fmt.Errorf("%s: %w", tag, err)
		}

		return taggedPair{space: CoordinateSpace(tag), first: first, second: second}, nil
	}

	return taggedPair{}, nil
}

func requirePair(obj map[string]json.RawMessage, firstKey, secondKey string) (float64, float64, error) {
	first, err := requireNumber(obj, firstKey)
	if err != nil {
		return 0, 0, err
	}

	second, err := requireNumber(obj, secondKey)
	if err != nil {
		return 0, 0, err
	}

	return first, second, nil
}

// requireNumber decodes obj[key], which must be present and not null.
func requireNumber(obj map[string]json.RawMessage, key string) (float64, error) {
	raw, ok := obj[key]
	if !ok || string(raw) == "null" {
		return 0, fmt.Errorf("%w: missing %q", ErrProtocolMismatch, key)
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrProtocolMismatch, key, err)
	}

	return v, nil
}

// WireRect is the wire form of [Rect].
type WireRect struct {
	Position WirePosition `json:"position"`
	Size     WireSize     `json:"size"`
}

// WireEvent is a tray icon event as pushed by the host.
type WireEvent struct {
	Type        EventType         `json:"type"`
	ID          string            `json:"id"`
	Position    WirePosition      `json:"position"`
	Rect        WireRect          `json:"rect"`
	Button      *MouseButton      `json:"button,omitempty"`
	ButtonState *MouseButtonState `json:"buttonState,omitempty"`
}

// DecodeEvent parses a pushed message and maps it with [MapEvent].
func DecodeEvent(msg json.RawMessage) (Event, error) {
	var wire WireEvent
	if err := json.Unmarshal(msg, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolMismatch, err)
	}

	return MapEvent(wire)
}

// MapEvent converts a wire event into its typed form, unwrapping coordinate
// tags and keeping only the fields defined for the event type.
//
// Anything outside the wire contract returns an error matching
// [ErrProtocolMismatch]: unknown event types, a missing id, unknown or
// missing coordinate tags, untagged rect coordinates, missing or unknown
// button fields.
func MapEvent(wire WireEvent) (Event, error) {
	if wire.ID == "" {
		return nil, fmt.Errorf("%w: %s event without id", ErrProtocolMismatch, wire.Type)
	}

	position, err := unwrapPosition(wire.Position, true)
	if err != nil {
		return nil, fmt.Errorf("%s event position: %w", wire.Type, err)
	}

	rectPosition, err := unwrapPosition(wire.Rect.Position, false)
	if err != nil {
		return nil, fmt.Errorf("%s event rect position: %w", wire.Type, err)
	}

	rectSize, err := unwrapSize(wire.Rect.Size)
	if err != nil {
		return nil, fmt.Errorf("%s event rect size: %w", wire.Type, err)
	}

	base := EventBase{
		ID:       wire.ID,
		Position: position,
		Rect: Rect{
			Position: rectPosition,
			Size:     rectSize,
		},
	}

	switch wire.Type {
	case EventClick:
		button, err := requireButton(wire)
		if err != nil {
			return nil, err
		}

		if wire.ButtonState == nil {
			return nil, fmt.Errorf("%w: Click event without buttonState", ErrProtocolMismatch)
		}

		switch *wire.ButtonState {
		case MouseButtonStateUp, MouseButtonStateDown:
		default:
			return nil, fmt.Errorf("%w: unknown button state %q", ErrProtocolMismatch, *wire.ButtonState)
		}

		return ClickEvent{EventBase: base, Button: button, ButtonState: *wire.ButtonState}, nil
	case EventDoubleClick:
		button, err := requireButton(wire)
		if err != nil {
			return nil, err
		}

		return DoubleClickEvent{EventBase: base, Button: button}, nil
	case EventEnter:
		return EnterEvent{EventBase: base}, nil
	case EventMove:
		return MoveEvent{EventBase: base}, nil
	case EventLeave:
		return LeaveEvent{EventBase: base}, nil
	}

	return nil, fmt.Errorf("%w: unknown event type %q", ErrProtocolMismatch, wire.Type)
}

func requireButton(wire WireEvent) (MouseButton, error) {
	if wire.Button == nil {
		return "", fmt.Errorf("%w: %s event without button", ErrProtocolMismatch, wire.Type)
	}

	switch *wire.Button {
	case MouseButtonLeft, MouseButtonRight, MouseButtonMiddle:
		return *wire.Button, nil
	}

	return "", fmt.Errorf("%w: unknown mouse button %q", ErrProtocolMismatch, *wire.Button)
}

func unwrapPosition(p WirePosition, allowUntagged bool) (PhysicalPosition, error) {
	if p.Untagged && !allowUntagged {
		return PhysicalPosition{}, fmt.Errorf("%w: untagged coordinates", ErrProtocolMismatch)
	}

	switch p.Space {
	case SpacePhysical:
		return PhysicalPosition{X: p.X, Y: p.Y}, nil
	case "":
		return PhysicalPosition{}, fmt.Errorf("%w: missing coordinate space", ErrProtocolMismatch)
	}

	return PhysicalPosition{}, fmt.Errorf("%w: unsupported coordinate space %q", ErrProtocolMismatch, p.Space)
}

func unwrapSize(s WireSize) (PhysicalSize, error) {
	if s.Untagged {
		return PhysicalSize{}, fmt.Errorf("%w: untagged size", ErrProtocolMismatch)
	}

	switch s.Space {
	case SpacePhysical:
		return PhysicalSize{Width: s.Width, Height: s.Height}, nil
	case "":
		return PhysicalSize{}, fmt.Errorf("%w: missing coordinate space", ErrProtocolMismatch)
	}

	return PhysicalSize{}, fmt.Errorf("%w: unsupported coordinate space %q", ErrProtocolMismatch, s.Space)
}
