package traybridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Options configures a new [TrayIcon]. The value is never modified by
// [NewTrayIcon].
type Options struct {
	// The tray icon id. If empty, the host assigns a random one.
	ID string

	// Menu attached to the tray icon.
	Menu MenuSource

	// Icon of the tray icon: an [IconPath], [IconBytes], [IconPixmap], or [*Icon].
	Icon IconSource

	// Tooltip of the tray icon.
	Tooltip string

	// Title of the tray icon. On Linux it is not shown unless there is an
	// icon as well.
	Title string

	// Directory where the host writes icon files. Linux only.
	TempDirPath string

	// Whether the icon is a template image. macOS only.
	IconAsTemplate *bool

	// Whether to show the menu on left click. Defaults to true. macOS only.
	MenuOnLeftClick *bool

	// Action is called for every event of the tray icon.
	Action func(Event)

	// OnEventError is called when an event pushed by the host does not follow
	// the wire contract. If nil, the event is logged and dropped.
	OnEventError func(error)
}

// TrayIcon is a tray icon created and owned by the host process.
//
// Every method issues one call bound to the resource id of the tray icon.
// After [TrayIcon.Close], methods return [ErrClosed].
type TrayIcon struct {
	conn     Conn
	resource *Resource
	channel  *Channel
	id       string
	onError  func(error)
}

// NewTrayIcon asks the host to create a tray icon.
//
// On Linux the icon is sometimes not visible unless a menu is set; an empty
// menu is enough.
func NewTrayIcon(ctx context.Context, conn Conn, opts Options) (*TrayIcon, error) {
	payload, err := newTrayOptionsPayload(opts)
	if err != nil {
		return nil, fmt.Errorf("new tray icon: %w", err)
	}

	channel := NewChannel()
	conn.Attach(channel)

	var reply newReply
	if err := conn.Invoke(ctx, CommandNew, newArgs{Options: payload, Handler: channel}, &reply); err != nil {
		conn.Detach(channel)
		channel.Close()
		return nil, fmt.Errorf("new tray icon: %w", err)
	}

	tray := &TrayIcon{
		conn:     conn,
		resource: NewResource(conn, reply.RID),
		channel:  channel,
		id:       reply.ID,
		onError:  opts.OnEventError,
	}

	if opts.Action != nil {
		// The channel is fresh, so it has no subscriber yet.
		_ = tray.OnEvent(opts.Action)
	}

	Logger().Debug("tray icon created", zap.String("id", tray.id), zap.Uint32("rid", uint32(tray.resource.RID())))

	return tray, nil
}

// newTrayOptionsPayload builds the wire form of opts.
func newTrayOptionsPayload(opts Options) (trayOptionsPayload, error) {
	icon, err := normalizeIcon(opts.Icon)
	if err != nil {
		return trayOptionsPayload{}, err
	}

	return trayOptionsPayload{
		ID:              opts.ID,
		Menu:            menuRef(opts.Menu),
		Icon:            icon,
		Tooltip:         opts.Tooltip,
		Title:           opts.Title,
		TempDirPath:     opts.TempDirPath,
		IconAsTemplate:  opts.IconAsTemplate,
		MenuOnLeftClick: opts.MenuOnLeftClick,
	}, nil
}

// GetTrayIconByID returns the tray icon with the given id. If the host has
// no such tray icon, GetTrayIconByID returns nil and no error.
//
// The returned value is a new handle with its own resource id. It does not
// receive events.
func GetTrayIconByID(ctx context.Context, conn Conn, id string) (*TrayIcon, error) {
	var rid *ResourceID

	err := conn.Invoke(ctx, CommandGetByID, idArgs{ID: id}, &rid)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get tray icon %s: %w", id, err)
	}

	if rid == nil || *rid == 0 {
		return nil, nil
	}

	return &TrayIcon{
		conn:     conn,
		resource: NewResource(conn, *rid),
		id:       id,
	}, nil
}

// RemoveTrayIconByID removes the tray icon with the given id from the host.
// Handles already held for it become stale.
func RemoveTrayIconByID(ctx context.Context, conn Conn, id string) error {
	if err := conn.Invoke(ctx, CommandRemoveByID, idArgs{ID: id}, nil); err != nil {
		return fmt.Errorf("remove tray icon %s: %w", id, err)
	}

	return nil
}

// ID returns the logical id of the tray icon.
func (t *TrayIcon) ID() string {
	return t.id
}

// RID returns the resource id of the tray icon handle.
func (t *TrayIcon) RID() ResourceID {
	return t.resource.RID()
}

// OnEvent installs the event handler of the tray icon. Events received
// before OnEvent was called are replayed to fn in order.
//
// Only one handler can be installed; [Options.Action] counts as one.
func (t *TrayIcon) OnEvent(fn func(Event)) error {
	if t.channel == nil {
		return fmt.Errorf("tray icon %s: handle obtained by id does not receive events", t.id)
	}

	return t.channel.OnMessage(func(msg json.RawMessage) {
		event, err := DecodeEvent(msg)
		if err != nil {
			t.eventError(err)
			return
		}

		fn(event)
	})
}

func (t *TrayIcon) eventError(err error) {
	if t.onError != nil {
		t.onError(err)
		return
	}

	Logger().Error("dropping malformed tray icon event", zap.String("id", t.id), zap.Error(err))
}

// SetIcon sets a new icon. If icon is nil, the icon is removed.
func (t *TrayIcon) SetIcon(ctx context.Context, icon IconSource) error {
	normalized, err := normalizeIcon(icon)
	if err != nil {
		return fmt.Errorf("set icon: %w", err)
	}

	return t.invoke(ctx, CommandSetIcon, setIconArgs{RID: t.RID(), Icon: normalized})
}

// SetMenu sets a new menu. If menu is nil, the menu is removed.
//
// On Linux a menu cannot be removed once set, so nil has no effect there.
func (t *TrayIcon) SetMenu(ctx context.Context, menu MenuSource) error {
	return t.invoke(ctx, CommandSetMenu, setMenuArgs{RID: t.RID(), Menu: menuRef(menu)})
}

// SetTooltip sets the tooltip. An empty tooltip clears it.
func (t *TrayIcon) SetTooltip(ctx context.Context, tooltip string) error {
	return t.invoke(ctx, CommandSetTooltip, setTooltipArgs{RID: t.RID(), Tooltip: optionalString(tooltip)})
}

// SetTitle sets the title. An empty title clears it.
func (t *TrayIcon) SetTitle(ctx context.Context, title string) error {
	return t.invoke(ctx, CommandSetTitle, setTitleArgs{RID: t.RID(), Title: optionalString(title)})
}

// SetVisible shows or hides the tray icon.
func (t *TrayIcon) SetVisible(ctx context.Context, visible bool) error {
	return t.invoke(ctx, CommandSetVisible, setVisibleArgs{RID: t.RID(), Visible: visible})
}

// SetTempDirPath sets the directory where the host writes icon files. An
// empty path restores the default. Linux only.
func (t *TrayIcon) SetTempDirPath(ctx context.Context, path string) error {
	return t.invoke(ctx, CommandSetTempDirPath, setTempDirPathArgs{RID: t.RID(), Path: optionalString(path)})
}

// SetIconAsTemplate sets whether the icon is a template image. macOS only.
func (t *TrayIcon) SetIconAsTemplate(ctx context.Context, asTemplate bool) error {
	return t.invoke(ctx, CommandSetIconAsTemplate, setIconAsTemplateArgs{RID: t.RID(), AsTemplate: asTemplate})
}

// SetMenuOnLeftClick sets whether the menu is shown on left click. macOS
// only.
func (t *TrayIcon) SetMenuOnLeftClick(ctx context.Context, onLeft bool) error {
	return t.invoke(ctx, CommandSetMenuOnLeftClick, setMenuOnLeftClickArgs{RID: t.RID(), OnLeft: onLeft})
}

// Close releases the tray icon handle. Events are no longer delivered
// afterwards, even if the host still sends them.
//
// Closing twice, or closing a handle the host already released, returns an
// error matching [ErrStaleHandle]; the handle is closed nevertheless.
func (t *TrayIcon) Close(ctx context.Context) error {
	err := t.resource.Close(ctx)
	if err != nil && !t.resource.Closed() {
		return fmt.Errorf("tray icon %s: %w", t.id, err)
	}

	if t.channel != nil {
		t.conn.Detach(t.channel)
		t.channel.Close()
	}

	if err != nil {
		return fmt.Errorf("tray icon %s: %w", t.id, err)
	}

	return nil
}

func (t *TrayIcon) invoke(ctx context.Context, cmd Command, args any) error {
	if t.resource.Closed() {
		return fmt.Errorf("tray icon %s: %w", t.id, ErrClosed)
	}

	return t.conn.Invoke(ctx, cmd, args, nil)
}
