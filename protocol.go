package traybridge

import (
	"context"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the version of the command namespace and transports.
const ProtocolVersion uint32 = 1

// Command names an operation of the host.
type Command string

const (
	CommandNew                Command = "plugin:tray|new"
	CommandGetByID            Command = "plugin:tray|get_by_id"
	CommandRemoveByID         Command = "plugin:tray|remove_by_id"
	CommandSetIcon            Command = "plugin:tray|set_icon"
	CommandSetMenu            Command = "plugin:tray|set_menu"
	CommandSetTooltip         Command = "plugin:tray|set_tooltip"
	CommandSetTitle           Command = "plugin:tray|set_title"
	CommandSetVisible         Command = "plugin:tray|set_visible"
	CommandSetTempDirPath     Command = "plugin:tray|set_temp_dir_path"
	CommandSetIconAsTemplate  Command = "plugin:tray|set_icon_as_template"
	CommandSetMenuOnLeftClick Command = "plugin:tray|set_show_menu_on_left_click"
	CommandCloseResource      Command = "plugin:resources|close"
)

// Invoker issues request/response calls across the process boundary.
//
// Args is encoded as a JSON object. When reply is not nil, the JSON result of
// the call is decoded into it. Calls are independent and may be issued
// concurrently.
type Invoker interface {
	Invoke(ctx context.Context, cmd Command, args any, reply any) error
}

// Conn is an [Invoker] which also receives messages pushed by the host and
// routes them to attached channels.
type Conn interface {
	Invoker

	// Attach makes ch receive messages addressed to its id.
	Attach(ch *Channel)

	// Detach stops routing messages to ch.
	Detach(ch *Channel)

	// Close releases the transport. Pending calls fail with
	// ErrTransportUnavailable.
	Close() error
}

// trayOptionsPayload is the wire form of [Options].
type trayOptionsPayload struct {
	ID              string   `json:"id,omitempty"`
	Menu            *MenuRef `json:"menu,omitempty"`
	Icon            *Icon    `json:"icon,omitempty"`
	Tooltip         string   `json:"tooltip,omitempty"`
	Title           string   `json:"title,omitempty"`
	TempDirPath     string   `json:"tempDirPath,omitempty"`
	IconAsTemplate  *bool    `json:"iconAsTemplate,omitempty"`
	MenuOnLeftClick *bool    `json:"menuOnLeftClick,omitempty"`
}

type newArgs struct {
	Options trayOptionsPayload `json:"options"`
	Handler *Channel           `json:"handler"`
}

// newReply decodes the [rid, id] pair returned by CommandNew.
type newReply struct {
	RID ResourceID
	ID  string
}

func (r *newReply) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}

	if len(pair) != 2 {
		return fmt.Errorf("%w: expected [rid, id], got %d elements", ErrProtocolMismatch, len(pair))
	}

	if err := json.Unmarshal(pair[0], &r.RID); err != nil {
		return fmt.Errorf("%w: invalid rid: %v", ErrProtocolMismatch, err)
	}

	if err := json.Unmarshal(pair[1], &r.ID); err != nil {
		return fmt.Errorf("%w: invalid id: %v", ErrProtocolMismatch, err)
	}

	return nil
}

func (r newReply) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.RID, r.ID})
}

type idArgs struct {
	ID string `json:"id"`
}

type ridArgs struct {
	RID ResourceID `json:"rid"`
}

type setIconArgs struct {
	RID  ResourceID `json:"rid"`
	Icon *Icon      `json:"icon"`
}

type setMenuArgs struct {
	RID  ResourceID `json:"rid"`
	Menu *MenuRef   `json:"menu"`
}

type setTooltipArgs struct {
	RID     ResourceID `json:"rid"`
	Tooltip *string    `json:"tooltip"`
}

type setTitleArgs struct {
	RID   ResourceID `json:"rid"`
	Title *string    `json:"title"`
}

type setVisibleArgs struct {
	RID     ResourceID `json:"rid"`
	Visible bool       `json:"visible"`
}

type setTempDirPathArgs struct {
	RID  ResourceID `json:"rid"`
	Path *string    `json:"path"`
}

type setIconAsTemplateArgs struct {
	RID        ResourceID `json:"rid"`
	AsTemplate bool       `json:"asTemplate"`
}

type setMenuOnLeftClickArgs struct {
	RID    ResourceID `json:"rid"`
	OnLeft bool       `json:"onLeft"`
}

// optionalString maps the empty string to JSON null.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
