package events

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"
)

// Kind names the semantic type of an ActionEvent.
type Kind string

const (
	KindMove        Kind = "move"
	KindClick       Kind = "click"
	KindScroll      Kind = "scroll"
	KindPress       Kind = "press"
	KindRelease     Kind = "release"
	KindSingleClick Kind = "singleclick"
	KindDoubleClick Kind = "doubleclick"
	KindType        Kind = "type"
)

// Pointer reports whether events of this kind carry pointer coordinates.
func (k Kind) Pointer() bool {
	switch k {
	case KindMove, KindClick, KindScroll, KindSingleClick, KindDoubleClick:
		return true
	default:
		return false
	}
}

// Keyboard reports whether events of this kind originate from the keyboard.
func (k Kind) Keyboard() bool {
	switch k {
	case KindPress, KindRelease, KindType:
		return true
	default:
		return false
	}
}

// RawEvent is a single timestamped observation produced by a Source. The
// set of implementations is closed: PointerEvent, KeyEvent, WindowEvent and
// ScreenFrame.
type RawEvent interface {
	Time() time.Duration
	rawEvent()
}

// PointerAction distinguishes pointer observations.
type PointerAction string

const (
	PointerMove   PointerAction = "move"
	PointerClick  PointerAction = "click"
	PointerScroll PointerAction = "scroll"
)

// PointerEvent is a move, button transition, or scroll of the pointer.
type PointerEvent struct {
	At      time.Duration
	Action  PointerAction
	X, Y    float64
	DX, DY  float64
	Button  string
	Pressed bool
}

// KeyAction distinguishes key transitions.
type KeyAction string

const (
	KeyPress   KeyAction = "press"
	KeyRelease KeyAction = "release"
)

// KeyEvent is a single key transition.
type KeyEvent struct {
	At     time.Duration
	Action KeyAction
	Key    Key
}

// WindowEvent is a snapshot of the active window.
type WindowEvent struct {
	At     time.Duration
	Title  string
	Left   int
	Top    int
	Width  int
	Height int
	State  map[string]string
}

// ScreenFrame is a PNG-encoded capture of the screen.
type ScreenFrame struct {
	At     time.Duration
	PNG    []byte
	Width  int
	Height int
}

func (e PointerEvent) Time() time.Duration { return e.At }
func (e KeyEvent) Time() time.Duration     { return e.At }
func (e WindowEvent) Time() time.Duration  { return e.At }
func (e ScreenFrame) Time() time.Duration  { return e.At }

func (PointerEvent) rawEvent() {}
func (KeyEvent) rawEvent()     {}
func (WindowEvent) rawEvent()  {}
func (ScreenFrame) rawEvent()  {}

// Image decodes the frame's PNG payload.
func (f ScreenFrame) Image() (image.Image, error) {
	if len(f.PNG) == 0 {
		return nil, fmt.Errorf("frame at %s has no image data", f.At)
	}
	img, err := png.Decode(bytes.NewReader(f.PNG))
	if err != nil {
		return nil, fmt.Errorf("decode frame at %s: %w", f.At, err)
	}
	return img, nil
}

// WithTime returns a copy of ev stamped with at.
func WithTime(ev RawEvent, at time.Duration) RawEvent {
	switch e := ev.(type) {
	case PointerEvent:
		e.At = at
		return e
	case KeyEvent:
		e.At = at
		return e
	case WindowEvent:
		e.At = at
		return e
	case ScreenFrame:
		e.At = at
		return e
	default:
		return ev
	}
}

// Key carries both the raw and the canonical identity of a key. Canonical
// fields are layout independent (for example the unshifted character).
type Key struct {
	Name string
	Char string
	VK   string

	CanonicalName string
	CanonicalChar string
	CanonicalVK   string
}

var modifierFamilies = map[string]string{
	"shift": "shift", "shift_l": "shift", "shift_r": "shift",
	"ctrl": "ctrl", "ctrl_l": "ctrl", "ctrl_r": "ctrl", "control": "ctrl",
	"alt": "alt", "alt_l": "alt", "alt_r": "alt", "alt_gr": "alt", "option": "alt",
	"cmd": "cmd", "cmd_l": "cmd", "cmd_r": "cmd", "super": "cmd", "win": "cmd",
}

// CharKey builds a key for a printable character.
func CharKey(char string) Key {
	return Key{Char: char, CanonicalChar: strings.ToLower(char)}
}

// NamedKey builds a key for a named (non-printable) key such as "ctrl_l".
func NamedKey(name string) Key {
	canonical := strings.ToLower(name)
	if family, ok := modifierFamilies[canonical]; ok {
		canonical = family
	}
	return Key{Name: name, CanonicalName: canonical}
}

// ParseKey interprets a configured identity: single characters become
// character keys, anything longer is a named key.
func ParseKey(id string) Key {
	trimmed := strings.TrimSpace(id)
	if len([]rune(trimmed)) == 1 {
		return CharKey(trimmed)
	}
	return NamedKey(trimmed)
}

// Resolvable reports whether any identity field is populated.
func (k Key) Resolvable() bool {
	for _, v := range k.fields() {
		if v != "" {
			return true
		}
	}
	return false
}

// Matches compares id against every raw and canonical identity field.
func (k Key) Matches(id string) bool {
	if id == "" {
		return false
	}
	for _, v := range k.fields() {
		if v != "" && strings.EqualFold(v, id) {
			return true
		}
	}
	return false
}

// ModifierFamily returns shift, ctrl, alt or cmd for modifier keys and ""
// otherwise.
func (k Key) ModifierFamily() string {
	for _, name := range []string{k.CanonicalName, k.Name} {
		if family, ok := modifierFamilies[strings.ToLower(name)]; ok {
			return family
		}
	}
	return ""
}

// IsModifier reports whether the key is a modifier.
func (k Key) IsModifier() bool { return k.ModifierFamily() != "" }

// Identity returns the most stable non-empty identity, preferring canonical
// fields.
func (k Key) Identity() string {
	for _, v := range []string{k.CanonicalName, k.CanonicalChar, k.CanonicalVK, k.Name, k.Char, k.VK} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Text renders the key as typed text; named keys render as <name>.
func (k Key) Text() string {
	switch {
	case k.Char != "":
		return k.Char
	case k.CanonicalChar != "":
		return k.CanonicalChar
	case k.Identity() != "":
		return "<" + k.Identity() + ">"
	default:
		return ""
	}
}

func (k Key) String() string { return k.Identity() }

func (k Key) fields() []string {
	return []string{k.Name, k.Char, k.VK, k.CanonicalName, k.CanonicalChar, k.CanonicalVK}
}

// ActionEvent is the unit processed by merging and replay. Raw leaves come
// straight from capture; synthesized parents carry their original children
// in order.
type ActionEvent struct {
	Kind      Kind
	Timestamp time.Duration

	X, Y    float64
	DX, DY  float64
	Button  string
	Pressed bool
	Key     *Key

	WindowTimestamp time.Duration
	ScreenTimestamp time.Duration

	Children []ActionEvent
}

// NewActionEvent converts an input RawEvent into a leaf ActionEvent stamped
// with the snapshots in effect. Window and screen observations are not
// actions and report false.
func NewActionEvent(ev RawEvent, windowAt, screenAt time.Duration) (ActionEvent, bool) {
	action := ActionEvent{
		Timestamp:       ev.Time(),
		WindowTimestamp: windowAt,
		ScreenTimestamp: screenAt,
	}
	switch e := ev.(type) {
	case PointerEvent:
		action.Kind = Kind(e.Action)
		action.X, action.Y = e.X, e.Y
		action.DX, action.DY = e.DX, e.DY
		action.Button = e.Button
		action.Pressed = e.Pressed
	case KeyEvent:
		action.Kind = Kind(e.Action)
		key := e.Key
		action.Key = &key
	default:
		return ActionEvent{}, false
	}
	return action, true
}

// HasPosition reports whether X and Y are meaningful.
func (e ActionEvent) HasPosition() bool { return e.Kind.Pointer() }

// IsLeaf reports whether the event is a raw primitive.
func (e ActionEvent) IsLeaf() bool { return len(e.Children) == 0 }

// SamePosition reports whether both events are positioned at the same point.
func (e ActionEvent) SamePosition(other ActionEvent) bool {
	return e.HasPosition() && other.HasPosition() && e.X == other.X && e.Y == other.Y
}

// Flatten returns the leaves of the tree rooted at e in recorded order.
func (e ActionEvent) Flatten() []ActionEvent {
	if e.IsLeaf() {
		return []ActionEvent{e}
	}
	var out []ActionEvent
	for _, child := range e.Children {
		out = append(out, child.Flatten()...)
	}
	return out
}

// Text returns the typed text represented by a keyboard event or run.
func (e ActionEvent) Text() string {
	var b strings.Builder
	for _, leaf := range e.Flatten() {
		if leaf.Kind == KindPress && leaf.Key != nil {
			b.WriteString(leaf.Key.Text())
		}
	}
	return b.String()
}

func (e ActionEvent) String() string {
	switch {
	case e.Kind.Keyboard() && e.Key != nil:
		return fmt.Sprintf("%s(%s)@%s", e.Kind, e.Key, e.Timestamp)
	case e.Kind == KindType:
		return fmt.Sprintf("type(%q)@%s", e.Text(), e.Timestamp)
	case e.Kind == KindClick:
		return fmt.Sprintf("click(%s,%t,%g,%g)@%s", e.Button, e.Pressed, e.X, e.Y, e.Timestamp)
	case e.HasPosition():
		return fmt.Sprintf("%s(%g,%g)@%s", e.Kind, e.X, e.Y, e.Timestamp)
	default:
		return fmt.Sprintf("%s@%s", e.Kind, e.Timestamp)
	}
}

// FlattenAll concatenates the leaves of every event in order.
func FlattenAll(in []ActionEvent) []ActionEvent {
	var out []ActionEvent
	for _, ev := range in {
		out = append(out, ev.Flatten()...)
	}
	return out
}
