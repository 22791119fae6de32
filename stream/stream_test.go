package stream

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGrabArgs(t *testing.T) {
	b := MonitorBounds{X: 1920, Y: 0, W: 1280, H: 720}
	args := grabArgs(b)

	require.Contains(t, args, "-framerate")
	require.Contains(t, args, "30")
	require.Contains(t, args, "-video_size")
	require.Contains(t, args, "1280x720")

	switch runtime.GOOS {
	case "windows":
		require.Contains(t, args, "gdigrab")
		require.Contains(t, args, "-offset_x")
		require.Contains(t, args, "1920")
	default:
		require.Contains(t, args, "x11grab")
		found := false
		for _, a := range args {
			if strings.HasSuffix(a, "+1920,0") {
				found = true
			}
		}
		require.True(t, found, "grab input does not carry the monitor offset: %v", args)
	}
}
