package packet

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// InputPacket is one variant of the keyboard/mouse event union sent by
// remotes over the WebRTC data channel. Each variant encodes as a
// single-field document keyed by its snake_case discriminator.
type InputPacket interface {
	inputName() string
	inputValue() (interface{}, error)
}

// KeyDown presses a key.
type KeyDown struct{ Key Key }

// KeyUp releases a key.
type KeyUp struct{ Key Key }

// MouseDown presses a mouse button.
type MouseDown struct{ Button MouseButton }

// MouseUp releases a mouse button.
type MouseUp struct{ Button MouseButton }

// MouseMove moves the pointer to a position normalized to [0, 1] in
// both axes.
type MouseMove struct {
	X float32 `bson:"x"`
	Y float32 `bson:"y"`
}

// MouseScroll scrolls by whole ticks along each axis.
type MouseScroll struct {
	X int32 `bson:"x"`
	Y int32 `bson:"y"`
}

func (p *KeyDown) inputName() string     { return "key_down" }
func (p *KeyUp) inputName() string       { return "key_up" }
func (p *MouseDown) inputName() string   { return "mouse_down" }
func (p *MouseUp) inputName() string     { return "mouse_up" }
func (p *MouseMove) inputName() string   { return "mouse_move" }
func (p *MouseScroll) inputName() string { return "mouse_scroll" }

func (p *KeyDown) inputValue() (interface{}, error)   { return keyValue(p.Key) }
func (p *KeyUp) inputValue() (interface{}, error)     { return keyValue(p.Key) }
func (p *MouseDown) inputValue() (interface{}, error) { return p.Button, p.Button.validate() }
func (p *MouseUp) inputValue() (interface{}, error)   { return p.Button, p.Button.validate() }

func (p *MouseMove) inputValue() (interface{}, error) {
	return bson.D{{Key: "x", Value: p.X}, {Key: "y", Value: p.Y}}, nil
}

func (p *MouseScroll) inputValue() (interface{}, error) {
	return bson.D{{Key: "x", Value: p.X}, {Key: "y", Value: p.Y}}, nil
}

// Key is a keyboard key: a SpecialKey, an AlphaKey, or a RawKey.
type Key interface {
	keyName() string
}

// SpecialKey is one of the named non-printing keys.
type SpecialKey string

// AlphaKey is a printable key identified by its character.
type AlphaKey rune

// RawKey is a platform keycode.
type RawKey uint16

func (SpecialKey) keyName() string { return "special_key" }
func (AlphaKey) keyName() string   { return "alpha_key" }
func (RawKey) keyName() string     { return "raw_key" }

// The special keys. The wire strings are the exact variant names.
const (
	KeyAlt        SpecialKey = "Alt"
	KeyBackspace  SpecialKey = "Backspace"
	KeyCapsLock   SpecialKey = "CapsLock"
	KeyControl    SpecialKey = "Control"
	KeyDelete     SpecialKey = "Delete"
	KeyDownArrow  SpecialKey = "DownArrow"
	KeyEnd        SpecialKey = "End"
	KeyEscape     SpecialKey = "Escape"
	KeyF1         SpecialKey = "F1"
	KeyF2         SpecialKey = "F2"
	KeyF3         SpecialKey = "F3"
	KeyF4         SpecialKey = "F4"
	KeyF5         SpecialKey = "F5"
	KeyF6         SpecialKey = "F6"
	KeyF7         SpecialKey = "F7"
	KeyF8         SpecialKey = "F8"
	KeyF9         SpecialKey = "F9"
	KeyF10        SpecialKey = "F10"
	KeyF11        SpecialKey = "F11"
	KeyF12        SpecialKey = "F12"
	KeyHome       SpecialKey = "Home"
	KeyLeftArrow  SpecialKey = "LeftArrow"
	KeyMeta       SpecialKey = "Meta"
	KeyOption     SpecialKey = "Option"
	KeyPageDown   SpecialKey = "PageDown"
	KeyPageUp     SpecialKey = "PageUp"
	KeyReturn     SpecialKey = "Return"
	KeyRightArrow SpecialKey = "RightArrow"
	KeyShift      SpecialKey = "Shift"
	KeySpace      SpecialKey = "Space"
	KeyTab        SpecialKey = "Tab"
	KeyUpArrow    SpecialKey = "UpArrow"
)

var specialKeys = func() map[SpecialKey]bool {
	m := make(map[SpecialKey]bool)
	for _, k := range []SpecialKey{
		KeyAlt, KeyBackspace, KeyCapsLock, KeyControl, KeyDelete,
		KeyDownArrow, KeyEnd, KeyEscape,
		KeyF1, KeyF2, KeyF3, KeyF4, KeyF5, KeyF6, KeyF7, KeyF8, KeyF9,
		KeyF10, KeyF11, KeyF12,
		KeyHome, KeyLeftArrow, KeyMeta, KeyOption, KeyPageDown, KeyPageUp,
		KeyReturn, KeyRightArrow, KeyShift, KeySpace, KeyTab, KeyUpArrow,
	} {
		m[k] = true
	}
	return m
}()

// MouseButton is a mouse button. The wire strings are lowercase.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonMiddle MouseButton = "middle"
	ButtonRight  MouseButton = "right"
)

func (b MouseButton) validate() error {
	switch b {
	case ButtonLeft, ButtonMiddle, ButtonRight:
		return nil
	}
	return errors.Wrapf(ErrProtocol, "unknown mouse button %q", string(b))
}

func keyValue(k Key) (interface{}, error) {
	switch v := k.(type) {
	case SpecialKey:
		if !specialKeys[v] {
			return nil, errors.Wrapf(ErrProtocol, "unknown special key %q", string(v))
		}
		return bson.D{{Key: "special_key", Value: string(v)}}, nil
	case AlphaKey:
		return bson.D{{Key: "alpha_key", Value: string(rune(v))}}, nil
	case RawKey:
		return bson.D{{Key: "raw_key", Value: int32(v)}}, nil
	}
	return nil, errors.Wrap(ErrProtocol, "key is not a known key kind")
}

// MarshalInput serializes an input packet to BSON.
func MarshalInput(p InputPacket) ([]byte, error) {
	v, err := p.inputValue()
	if err != nil {
		return nil, err
	}
	buf, err := bson.Marshal(bson.D{{Key: p.inputName(), Value: v}})
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize packet")
	}
	return buf, nil
}

// UnmarshalInput deserializes an input packet from BSON.
func UnmarshalInput(data []byte) (InputPacket, error) {
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return nil, errors.Wrapf(ErrProtocol, "failed to deserialize packet: %v", err)
	}
	elems, err := raw.Elements()
	if err != nil || len(elems) != 1 {
		return nil, errors.Wrap(ErrProtocol, "input packet must have exactly one field")
	}
	name := elems[0].Key()
	value := elems[0].Value()
	switch name {
	case "key_down":
		k, err := unmarshalKey(value)
		if err != nil {
			return nil, err
		}
		return &KeyDown{Key: k}, nil
	case "key_up":
		k, err := unmarshalKey(value)
		if err != nil {
			return nil, err
		}
		return &KeyUp{Key: k}, nil
	case "mouse_down":
		b, err := unmarshalButton(value)
		if err != nil {
			return nil, err
		}
		return &MouseDown{Button: b}, nil
	case "mouse_up":
		b, err := unmarshalButton(value)
		if err != nil {
			return nil, err
		}
		return &MouseUp{Button: b}, nil
	case "mouse_move":
		doc, ok := value.DocumentOK()
		if !ok {
			return nil, errors.Wrap(ErrProtocol, "mouse_move is not a document")
		}
		p := new(MouseMove)
		if err := bson.Unmarshal(doc, p); err != nil {
			return nil, errors.Wrapf(ErrProtocol, "failed to deserialize packet: %v", err)
		}
		return p, nil
	case "mouse_scroll":
		doc, ok := value.DocumentOK()
		if !ok {
			return nil, errors.Wrap(ErrProtocol, "mouse_scroll is not a document")
		}
		p := new(MouseScroll)
		if err := bson.Unmarshal(doc, p); err != nil {
			return nil, errors.Wrapf(ErrProtocol, "failed to deserialize packet: %v", err)
		}
		return p, nil
	}
	return nil, errors.Wrapf(ErrProtocol, "unknown input packet type %q", name)
}

func unmarshalKey(v bson.RawValue) (Key, error) {
	doc, ok := v.DocumentOK()
	if !ok {
		return nil, errors.Wrap(ErrProtocol, "key is not a document")
	}
	elems, err := doc.Elements()
	if err != nil || len(elems) != 1 {
		return nil, errors.Wrap(ErrProtocol, "key must have exactly one field")
	}
	inner := elems[0].Value()
	switch elems[0].Key() {
	case "special_key":
		s, ok := inner.StringValueOK()
		if !ok || !specialKeys[SpecialKey(s)] {
			return nil, errors.Wrapf(ErrProtocol, "unknown special key %q", s)
		}
		return SpecialKey(s), nil
	case "alpha_key":
		s, ok := inner.StringValueOK()
		if !ok {
			return nil, errors.Wrap(ErrProtocol, "alpha key is not a string")
		}
		runes := []rune(s)
		if len(runes) != 1 {
			return nil, errors.Wrapf(ErrProtocol, "alpha key %q is not a single character", s)
		}
		return AlphaKey(runes[0]), nil
	case "raw_key":
		n, ok := inner.AsInt64OK()
		if !ok || n < 0 || n > 1<<16-1 {
			return nil, errors.Wrap(ErrProtocol, "raw key is not a u16")
		}
		return RawKey(n), nil
	}
	return nil, errors.Wrapf(ErrProtocol, "unknown key kind %q", elems[0].Key())
}

func unmarshalButton(v bson.RawValue) (MouseButton, error) {
	s, ok := v.StringValueOK()
	if !ok {
		return "", errors.Wrap(ErrProtocol, "mouse button is not a string")
	}
	b := MouseButton(s)
	if err := b.validate(); err != nil {
		return "", err
	}
	return b, nil
}
