// Package stream manages the desktop capture process: an ffmpeg child
// emitting VP8 RTP for one monitor to a local port.
package stream

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/pkg/errors"
)

// MonitorBounds is the logical pixel rectangle of the monitor being
// shared.
type MonitorBounds struct {
	X, Y int
	W, H int
}

// Capture is a running capture process.
type Capture struct {
	cmd *exec.Cmd
}

// Start launches ffmpeg capturing bounds and emitting RTP to
// 127.0.0.1:port: 30 fps, scaled to width at most 1280, VP8 at 2 Mbps
// with a keyframe every 10 frames and alt-ref disabled.
func Start(bounds MonitorBounds, port uint16) (*Capture, error) {
	addr := fmt.Sprintf("rtp://127.0.0.1:%d", port)
	args := append(grabArgs(bounds),
		"-vf", "scale='min(1280,iw)':-2",
		"-vcodec", "libvpx",
		"-cpu-used", "5",
		"-deadline", "1",
		"-crf", "30",
		"-b:v", "2M",
		"-g", "10",
		"-auto-alt-ref", "0",
		"-f", "rtp",
		addr,
	)
	cmd := exec.Command("ffmpeg", args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "couldn't start ffmpeg")
	}
	c := &Capture{cmd: cmd}
	go cmd.Wait()
	return c, nil
}

// grabArgs returns the platform screen-grab input arguments.
func grabArgs(b MonitorBounds) []string {
	size := fmt.Sprintf("%dx%d", b.W, b.H)
	switch runtime.GOOS {
	case "windows":
		return []string{
			"-re",
			"-f", "gdigrab",
			"-framerate", "30",
			"-offset_x", strconv.Itoa(b.X),
			"-offset_y", strconv.Itoa(b.Y),
			"-video_size", size,
			"-show_region", "1",
			"-i", "desktop",
		}
	default:
		display := os.Getenv("DISPLAY")
		if display == "" {
			display = ":0"
		}
		return []string{
			"-re",
			"-f", "x11grab",
			"-framerate", "30",
			"-video_size", size,
			"-i", fmt.Sprintf("%s+%d,%d", display, b.X, b.Y),
		}
	}
}

// Kill terminates the capture process. Best effort; the caller logs
// and continues on failure.
func (c *Capture) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return errors.Wrap(c.cmd.Process.Kill(), "couldn't kill video process")
}
