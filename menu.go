package traybridge

import (
	"encoding/json"
	"fmt"
)

// MenuKind discriminates the menu objects that can be attached to a tray
// icon.
type MenuKind string

const (
	MenuKindMenu    MenuKind = "Menu"
	MenuKindSubmenu MenuKind = "Submenu"
)

// MenuSource is a menu object owned by the host. Only its reference crosses
// the boundary.
type MenuSource interface {
	MenuRef() MenuRef
}

// MenuRef references a host-owned menu. It is sent over the wire as a pair
//
//	[<rid>, <kind>]
type MenuRef struct {
	RID  ResourceID
	Kind MenuKind
}

// MenuRef returns r itself, so a bare reference can be used as a
// [MenuSource].
func (r MenuRef) MenuRef() MenuRef {
	return r
}

func (r MenuRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.RID, r.Kind})
}

func (r *MenuRef) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("menu reference: %w", err)
	}

	if len(pair) != 2 {
		return fmt.Errorf("%w: menu reference: expected [rid, kind], got %d elements", ErrInvalidArgument, len(pair))
	}

	if err := json.Unmarshal(pair[0], &r.RID); err != nil {
		return fmt.Errorf("%w: menu reference: invalid rid: %v", ErrInvalidArgument, err)
	}

	if err := json.Unmarshal(pair[1], &r.Kind); err != nil {
		return fmt.Errorf("%w: menu reference: invalid kind: %v", ErrInvalidArgument, err)
	}

	switch r.Kind {
	case MenuKindMenu, MenuKindSubmenu:
		return nil
	}

	return fmt.Errorf("%w: menu reference: unknown kind %q", ErrInvalidArgument, r.Kind)
}

// menuRef projects menu to its reference. A nil menu yields nil.
func menuRef(menu MenuSource) *MenuRef {
	if menu == nil {
		return nil
	}

	ref := menu.MenuRef()
	return &ref
}
