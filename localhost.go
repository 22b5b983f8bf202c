package traybridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TrayState is the state of a tray icon kept by [LocalHost].
type TrayState struct {
	ID              string
	Icon            *Icon
	Menu            *MenuRef
	Tooltip         *string
	Title           *string
	TempDirPath     *string
	Visible         bool
	IconAsTemplate  bool
	MenuOnLeftClick bool
}

type hostTray struct {
	state   TrayState
	owner   string
	channel uint32
	events  EventSink
	rids    map[ResourceID]struct{}
}

// LocalHost is an in-memory [Backend] implementing the tray command
// namespace. It keeps tray icon state instead of showing anything, which
// makes it suitable for tests and for hosts that render trays themselves.
//
// Every resource id references one tray icon. A tray icon is destroyed when
// its last resource id is closed, when it is removed by id, or when its owner
// is released; resource ids are never reused.
type LocalHost struct {
	mu        sync.Mutex
	lastRID   ResourceID
	trays     map[string]*hostTray
	resources map[ResourceID]string
}

// NewLocalHost returns an empty [LocalHost].
func NewLocalHost() *LocalHost {
	return &LocalHost{
		trays:     make(map[string]*hostTray),
		resources: make(map[ResourceID]string),
	}
}

type hostNewArgs struct {
	Options trayOptionsPayload `json:"options"`
	Handler ChannelRef         `json:"handler"`
}

// Handle implements [Backend].
func (h *LocalHost) Handle(ctx context.Context, caller Caller, cmd Command, args json.RawMessage) (any, error) {
	switch cmd {
	case CommandNew:
		var a hostNewArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		return h.create(caller, a)
	case CommandGetByID:
		var a idArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		return h.getByID(a.ID), nil
	case CommandRemoveByID:
		var a idArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		h.removeByID(a.ID)
		return nil, nil
	case CommandCloseResource:
		var a ridArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		return nil, h.closeResource(a.RID)
	case CommandSetIcon:
		var a setIconArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		if a.Icon != nil {
			if err := a.Icon.Validate(); err != nil {
				return nil, err
			}
		}

		return nil, h.update(a.RID, func(s *TrayState) { s.Icon = a.Icon })
	case CommandSetMenu:
		var a setMenuArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		return nil, h.update(a.RID, func(s *TrayState) { s.Menu = a.Menu })
	case CommandSetTooltip:
		var a setTooltipArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		return nil, h.update(a.RID, func(s *TrayState) { s.Tooltip = a.Tooltip })
	case CommandSetTitle:
		var a setTitleArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		return nil, h.update(a.RID, func(s *TrayState) { s.Title = a.Title })
	case CommandSetVisible:
		var a setVisibleArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		return nil, h.update(a.RID, func(s *TrayState) { s.Visible = a.Visible })
	case CommandSetTempDirPath:
		var a setTempDirPathArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		return nil, h.update(a.RID, func(s *TrayState) { s.TempDirPath = a.Path })
	case CommandSetIconAsTemplate:
		var a setIconAsTemplateArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		return nil, h.update(a.RID, func(s *TrayState) { s.IconAsTemplate = a.AsTemplate })
	case CommandSetMenuOnLeftClick:
		var a setMenuOnLeftClickArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}

		return nil, h.update(a.RID, func(s *TrayState) { s.MenuOnLeftClick = a.OnLeft })
	}

	return nil, fmt.Errorf("%w: unknown command %q", ErrProtocolMismatch, cmd)
}

// Release implements [Backend]. It destroys every tray icon created by
// owner.
func (h *LocalHost) Release(owner string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, tray := range h.trays {
		if tray.owner == owner {
			h.destroy(id)
			Logger().Debug("released tray icon of departed client", zap.String("id", id), zap.String("owner", owner))
		}
	}
}

// Tray returns a copy of the state of the tray icon with the given id.
func (h *LocalHost) Tray(id string) (TrayState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tray, ok := h.trays[id]
	if !ok {
		return TrayState{}, false
	}

	return tray.state, true
}

// Emit pushes event to the channel registered by the creator of the tray
// icon with the given id.
func (h *LocalHost) Emit(id string, event WireEvent) error {
	event.ID = id
	return h.EmitRaw(id, event)
}

// EmitRaw pushes an arbitrary payload to the channel of the tray icon with
// the given id.
func (h *LocalHost) EmitRaw(id string, payload any) error {
	h.mu.Lock()
	tray, ok := h.trays[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("emit: tray icon %s: %w", id, ErrNotFound)
	}

	events, channel := tray.events, tray.channel
	h.mu.Unlock()

	if events == nil {
		return fmt.Errorf("emit: tray icon %s has no event channel", id)
	}

	return events.Send(channel, payload)
}

func (h *LocalHost) create(caller Caller, args hostNewArgs) (newReply, error) {
	opts := args.Options

	if opts.Icon != nil {
		if err := opts.Icon.Validate(); err != nil {
			return newReply{}, err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	if _, exists := h.trays[id]; exists {
		return newReply{}, fmt.Errorf("%w: tray icon %s already exists", ErrInvalidArgument, id)
	}

	tray := &hostTray{
		state: TrayState{
			ID:              id,
			Icon:            opts.Icon,
			Menu:            opts.Menu,
			Tooltip:         optionalString(opts.Tooltip),
			Title:           optionalString(opts.Title),
			TempDirPath:     optionalString(opts.TempDirPath),
			Visible:         true,
			MenuOnLeftClick: true,
		},
		owner:   caller.Owner,
		channel: uint32(args.Handler),
		events:  caller.Events,
		rids:    make(map[ResourceID]struct{}),
	}

	if opts.IconAsTemplate != nil {
		tray.state.IconAsTemplate = *opts.IconAsTemplate
	}

	if opts.MenuOnLeftClick != nil {
		tray.state.MenuOnLeftClick = *opts.MenuOnLeftClick
	}

	h.trays[id] = tray

	return newReply{RID: h.mint(id), ID: id}, nil
}

// getByID returns a new resource id for the tray icon, or nil.
func (h *LocalHost) getByID(id string) *ResourceID {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.trays[id]; !ok {
		return nil
	}

	rid := h.mint(id)
	return &rid
}

func (h *LocalHost) removeByID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.destroy(id)
}

func (h *LocalHost) closeResource(rid ResourceID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, ok := h.resources[rid]
	if !ok {
		return fmt.Errorf("resource %d: %w", rid, ErrStaleHandle)
	}

	delete(h.resources, rid)

	tray := h.trays[id]
	delete(tray.rids, rid)

	if len(tray.rids) == 0 {
		delete(h.trays, id)
	}

	return nil
}

func (h *LocalHost) update(rid ResourceID, apply func(*TrayState)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, ok := h.resources[rid]
	if !ok {
		return fmt.Errorf("resource %d: %w", rid, ErrStaleHandle)
	}

	apply(&h.trays[id].state)
	return nil
}

// mint issues a new resource id for the tray icon id. h.mu must be held.
func (h *LocalHost) mint(id string) ResourceID {
	h.lastRID++
	rid := h.lastRID

	h.resources[rid] = id
	h.trays[id].rids[rid] = struct{}{}

	return rid
}

// destroy removes the tray icon and all its resource ids. h.mu must be held.
func (h *LocalHost) destroy(id string) {
	tray, ok := h.trays[id]
	if !ok {
		return
	}

	for rid := range tray.rids {
		delete(h.resources, rid)
	}

	delete(h.trays, id)
}

// decodeArgs decodes call arguments, reporting failures as invalid
// arguments.
func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	return nil
}
