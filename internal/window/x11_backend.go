package window

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/Nudger/internal/logger"
)

// ICCCM WM_STATE values and EWMH _NET_WM_STATE actions.
const (
	iconicState = 3

	netWMStateRemove = 0
	netWMStateAdd    = 1

	// source indication "pager": the request comes from a direct user action
	sourcePager = 2
)

// X11Backend implements Backend using EWMH hints over an X11 connection
type X11Backend struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo

	mu    sync.Mutex
	atoms map[string]xproto.Atom
}

// NewX11Backend connects to the X server named by $DISPLAY
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	return NewX11BackendWithConn(conn), nil
}

// NewX11BackendWithConn wraps an existing connection
func NewX11BackendWithConn(conn *xgb.Conn) *X11Backend {
	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)
	return &X11Backend{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		atoms:  make(map[string]xproto.Atom),
	}
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// Conn returns the X11 connection, shared with the root-window capturer
func (b *X11Backend) Conn() *xgb.Conn {
	return b.conn
}

// Screen returns the default screen
func (b *X11Backend) Screen() *xproto.ScreenInfo {
	return b.screen
}

// List returns client windows using EWMH _NET_CLIENT_LIST with QueryTree fallback
func (b *X11Backend) List() ([]Handle, error) {
	log := logger.WithComponent("x11-backend")

	handles, err := b.listEWMH()
	if err == nil && len(handles) > 0 {
		log.Debug().Int("count", len(handles)).Msg("List: using EWMH _NET_CLIENT_LIST")
		return handles, nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("List: EWMH failed, falling back to QueryTree")
	}

	tree, err := xproto.QueryTree(b.conn, b.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query window tree: %w", err)
	}
	handles = make([]Handle, 0, len(tree.Children))
	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(b.conn, child).Reply()
		if err != nil || attrs.OverrideRedirect || attrs.MapState != xproto.MapStateViewable {
			continue
		}
		handles = append(handles, Handle(child))
	}
	log.Debug().Int("count", len(handles)).Msg("List: using QueryTree fallback")
	return handles, nil
}

func (b *X11Backend) listEWMH() ([]Handle, error) {
	values, err := b.getCardinals(b.root, "_NET_CLIENT_LIST")
	if err != nil {
		return nil, err
	}
	handles := make([]Handle, len(values))
	for i, v := range values {
		handles[i] = Handle(v)
	}
	return handles, nil
}

// Exists reports whether the server still knows the window
func (b *X11Backend) Exists(h Handle) bool {
	_, err := xproto.GetWindowAttributes(b.conn, xproto.Window(h)).Reply()
	return err == nil
}

// Title returns _NET_WM_NAME, falling back to WM_NAME
func (b *X11Backend) Title(h Handle) (string, error) {
	win := xproto.Window(h)
	if title, err := b.getString(win, "_NET_WM_NAME"); err == nil && title != "" {
		return title, nil
	}
	title, err := b.getString(win, "WM_NAME")
	if err != nil {
		if !b.Exists(h) {
			return "", fmt.Errorf("%w: handle 0x%x", ErrWindowNotFound, uint32(h))
		}
		return "", nil
	}
	return title, nil
}

// Class returns the class part of WM_CLASS (instance\0class\0)
func (b *X11Backend) Class(h Handle) string {
	raw, err := b.getString(xproto.Window(h), "WM_CLASS")
	if err != nil {
		return ""
	}
	parts := strings.Split(raw, "\x00")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return parts[0]
}

// PID returns _NET_WM_PID, or 0 when the client does not set it
func (b *X11Backend) PID(h Handle) int {
	values, err := b.getCardinals(xproto.Window(h), "_NET_WM_PID")
	if err != nil || len(values) == 0 {
		return 0
	}
	return int(values[0])
}

// Foreground returns _NET_ACTIVE_WINDOW, falling back to the input focus
func (b *X11Backend) Foreground() (Handle, error) {
	if values, err := b.getCardinals(b.root, "_NET_ACTIVE_WINDOW"); err == nil && len(values) > 0 && values[0] != 0 {
		return Handle(values[0]), nil
	}
	focus, err := xproto.GetInputFocus(b.conn).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to get input focus: %w", err)
	}
	return Handle(focus.Focus), nil
}

// SetForeground sends a _NET_ACTIVE_WINDOW request to the window manager
func (b *X11Backend) SetForeground(h Handle) error {
	return b.clientMessage(xproto.Window(h), "_NET_ACTIVE_WINDOW", sourcePager, xproto.TimeCurrentTime, 0)
}

// Placement derives the show state from _NET_WM_STATE and WM_STATE
func (b *X11Backend) Placement(h Handle) (Placement, error) {
	win := xproto.Window(h)
	rect, err := b.Rect(h)
	if err != nil {
		return Placement{}, err
	}

	p := Placement{State: ShowNormal, Rect: rect}
	states, _ := b.getCardinals(win, "_NET_WM_STATE")
	hidden := b.mustAtom("_NET_WM_STATE_HIDDEN")
	maxV := b.mustAtom("_NET_WM_STATE_MAXIMIZED_VERT")
	maxH := b.mustAtom("_NET_WM_STATE_MAXIMIZED_HORZ")

	var isHidden, vert, horz bool
	for _, s := range states {
		switch xproto.Atom(s) {
		case hidden:
			isHidden = true
		case maxV:
			vert = true
		case maxH:
			horz = true
		}
	}
	if !isHidden {
		if wmState, err := b.getCardinals(win, "WM_STATE"); err == nil && len(wmState) > 0 && wmState[0] == iconicState {
			isHidden = true
		}
	}

	switch {
	case isHidden:
		p.State = ShowMinimized
	case vert && horz:
		p.State = ShowMaximized
	}
	return p, nil
}

// SetPlacement applies the requested show state. Normal windows are also
// moved and resized to the placement rectangle when it is non-empty.
func (b *X11Backend) SetPlacement(h Handle, p Placement) error {
	win := xproto.Window(h)

	if p.State == ShowMinimized {
		return b.clientMessage(win, "WM_CHANGE_STATE", iconicState)
	}

	if err := xproto.MapWindowChecked(b.conn, win).Check(); err != nil {
		return fmt.Errorf("failed to map window 0x%x: %w", uint32(h), err)
	}
	if err := b.changeState(win, netWMStateRemove, "_NET_WM_STATE_HIDDEN", ""); err != nil {
		return err
	}

	if p.State == ShowMaximized {
		return b.changeState(win, netWMStateAdd, "_NET_WM_STATE_MAXIMIZED_VERT", "_NET_WM_STATE_MAXIMIZED_HORZ")
	}

	if err := b.changeState(win, netWMStateRemove, "_NET_WM_STATE_MAXIMIZED_VERT", "_NET_WM_STATE_MAXIMIZED_HORZ"); err != nil {
		return err
	}
	if p.Rect.Empty() {
		return nil
	}
	// gravity from WM_NORMAL_HINTS, x/y/width/height present, pager source
	flags := uint32(0) | 1<<8 | 1<<9 | 1<<10 | 1<<11 | sourcePager<<12
	return b.clientMessage(win, "_NET_MOVERESIZE_WINDOW",
		flags, uint32(p.Rect.X), uint32(p.Rect.Y), uint32(p.Rect.Width), uint32(p.Rect.Height))
}

// SetTopmost adds or removes _NET_WM_STATE_ABOVE
func (b *X11Backend) SetTopmost(h Handle, on bool) error {
	action := uint32(netWMStateRemove)
	if on {
		action = netWMStateAdd
	}
	return b.changeState(xproto.Window(h), action, "_NET_WM_STATE_ABOVE", "")
}

// SendToBack asks the window manager to restack h below its siblings,
// falling back to a direct ConfigureWindow request
func (b *X11Backend) SendToBack(h Handle) error {
	win := xproto.Window(h)
	if err := b.clientMessage(win, "_NET_RESTACK_WINDOW", sourcePager, 0, xproto.StackModeBelow); err == nil {
		return nil
	}
	return xproto.ConfigureWindowChecked(b.conn, win, xproto.ConfigWindowStackMode,
		[]uint32{xproto.StackModeBelow}).Check()
}

// Rect returns the window geometry translated to root coordinates
func (b *X11Backend) Rect(h Handle) (Rect, error) {
	win := xproto.Window(h)
	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return Rect{}, fmt.Errorf("%w: handle 0x%x: %v", ErrWindowNotFound, uint32(h), err)
	}
	rect := Rect{X: int(geom.X), Y: int(geom.Y), Width: int(geom.Width), Height: int(geom.Height)}

	if tr, err := xproto.TranslateCoordinates(b.conn, win, b.root, 0, 0).Reply(); err == nil {
		rect.X = int(tr.DstX)
		rect.Y = int(tr.DstY)
	}
	return rect, nil
}

// changeState sends a _NET_WM_STATE client message for up to two properties
func (b *X11Backend) changeState(win xproto.Window, action uint32, first, second string) error {
	a1, err := b.atom(first)
	if err != nil {
		return err
	}
	var a2 xproto.Atom
	if second != "" {
		if a2, err = b.atom(second); err != nil {
			return err
		}
	}
	return b.clientMessage(win, "_NET_WM_STATE", action, uint32(a1), uint32(a2), sourcePager)
}

// clientMessage sends a 32-bit format ClientMessage about win to the root window
func (b *X11Backend) clientMessage(win xproto.Window, msgType string, data ...uint32) error {
	typ, err := b.atom(msgType)
	if err != nil {
		return err
	}
	var payload [5]uint32
	copy(payload[:], data)

	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: win,
		Type:   typ,
		Data:   xproto.ClientMessageDataUnionData32New(payload[:]),
	}
	mask := uint32(xproto.EventMaskSubstructureRedirect | xproto.EventMaskSubstructureNotify)
	if err := xproto.SendEventChecked(b.conn, false, b.root, mask, string(ev.Bytes())).Check(); err != nil {
		return fmt.Errorf("failed to send %s for 0x%x: %w", msgType, uint32(win), err)
	}
	return nil
}

// atom gets an atom ID by name, caching the result
func (b *X11Backend) atom(name string) (xproto.Atom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to intern atom %s: %w", name, err)
	}
	b.atoms[name] = reply.Atom
	return reply.Atom, nil
}

func (b *X11Backend) mustAtom(name string) xproto.Atom {
	a, _ := b.atom(name)
	return a
}

// getString gets a property value as a string
func (b *X11Backend) getString(win xproto.Window, name string) (string, error) {
	atom, err := b.atom(name)
	if err != nil {
		return "", err
	}
	reply, err := xproto.GetProperty(b.conn, false, win, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property %s", name)
	}
	return strings.TrimRight(string(reply.Value), "\x00"), nil
}

// getCardinals reads a 32-bit list property (CARDINAL, WINDOW or ATOM)
func (b *X11Backend) getCardinals(win xproto.Window, name string) ([]uint32, error) {
	atom, err := b.atom(name)
	if err != nil {
		return nil, err
	}
	reply, err := xproto.GetProperty(b.conn, false, win, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	if reply.Format != 32 || reply.ValueLen == 0 {
		return nil, fmt.Errorf("%s is empty", name)
	}
	values := make([]uint32, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		values = append(values, xgb.Get32(reply.Value[i:]))
	}
	return values, nil
}
