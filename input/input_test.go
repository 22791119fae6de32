package input

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"hammeregg.io/packet"
	"hammeregg.io/stream"
)

// recorder logs every injected event as a string.
type recorder struct {
	events []string
}

func (r *recorder) KeyDown(k packet.Key) { r.events = append(r.events, "down "+keyString(k)) }
func (r *recorder) KeyUp(k packet.Key)   { r.events = append(r.events, "up "+keyString(k)) }
func (r *recorder) MouseDown(b packet.MouseButton) {
	r.events = append(r.events, "mdown "+string(b))
}
func (r *recorder) MouseUp(b packet.MouseButton) {
	r.events = append(r.events, "mup "+string(b))
}
func (r *recorder) MouseMoveTo(x, y int) {
	r.events = append(r.events, fmt.Sprintf("move %d,%d", x, y))
}
func (r *recorder) MouseScroll(x, y int) {
	r.events = append(r.events, fmt.Sprintf("scroll %d,%d", x, y))
}

func TestDispatch(t *testing.T) {
	bounds := stream.MonitorBounds{W: 1920, H: 1080}
	cases := []struct {
		name string
		p    packet.InputPacket
		want string
	}{
		{"keyDown", &packet.KeyDown{Key: packet.KeyEscape}, "down Escape"},
		{"keyUp", &packet.KeyUp{Key: packet.AlphaKey('q')}, "up q"},
		{"mouseDown", &packet.MouseDown{Button: packet.ButtonLeft}, "mdown left"},
		{"mouseUp", &packet.MouseUp{Button: packet.ButtonRight}, "mup right"},
		{"mouseMoveCenter", &packet.MouseMove{X: 0.5, Y: 0.5}, "move 960,540"},
		{"mouseMoveCorner", &packet.MouseMove{X: 1, Y: 1}, "move 1920,1080"},
		{"mouseScroll", &packet.MouseScroll{X: -1, Y: 2}, "scroll -1,2"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := &recorder{}
			Dispatch(rec, bounds, c.p)
			require.Equal(t, []string{c.want}, rec.events)
		})
	}
}

func TestDispatchDropsZeroScroll(t *testing.T) {
	rec := &recorder{}
	Dispatch(rec, stream.MonitorBounds{W: 100, H: 100}, &packet.MouseScroll{X: 0, Y: 0})
	require.Empty(t, rec.events)
}

func keyString(k packet.Key) string {
	switch v := k.(type) {
	case packet.SpecialKey:
		return string(v)
	case packet.AlphaKey:
		return string(rune(v))
	case packet.RawKey:
		return fmt.Sprintf("raw:%d", uint16(v))
	}
	return "?"
}
