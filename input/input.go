// Package input routes deserialized remote input events onto a
// platform injector. The injector itself lives outside this module;
// anything that can press keys and move a pointer satisfies Injector.
package input

import (
	"math"

	"hammeregg.io/packet"
	"hammeregg.io/stream"
)

// Injector consumes keyboard and mouse events. MouseMoveTo receives
// absolute pixel coordinates; MouseScroll receives whole ticks.
type Injector interface {
	KeyDown(packet.Key)
	KeyUp(packet.Key)
	MouseDown(packet.MouseButton)
	MouseUp(packet.MouseButton)
	MouseMoveTo(x, y int)
	MouseScroll(x, y int)
}

// Dispatch routes one input packet to inj, denormalizing mouse
// positions against the shared monitor's bounds.
func Dispatch(inj Injector, bounds stream.MonitorBounds, p packet.InputPacket) {
	switch v := p.(type) {
	case *packet.KeyDown:
		inj.KeyDown(v.Key)
	case *packet.KeyUp:
		inj.KeyUp(v.Key)
	case *packet.MouseDown:
		inj.MouseDown(v.Button)
	case *packet.MouseUp:
		inj.MouseUp(v.Button)
	case *packet.MouseMove:
		x := bounds.X + int(math.Round(float64(v.X)*float64(bounds.W)))
		y := bounds.Y + int(math.Round(float64(v.Y)*float64(bounds.H)))
		inj.MouseMoveTo(x, y)
	case *packet.MouseScroll:
		if v.X != 0 || v.Y != 0 {
			inj.MouseScroll(int(v.X), int(v.Y))
		}
	}
}
