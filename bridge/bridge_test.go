package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

// remoteOffer builds the kind of offer a remote client produces: two
// recvonly media sections plus an input data channel.
func remoteOffer(t *testing.T) (*webrtc.PeerConnection, string) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	require.NoError(t, err)
	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	require.NoError(t, err)
	_, err = pc.CreateDataChannel("input", nil)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		t.Fatal("ICE gathering never completed")
	}
	return pc, pc.LocalDescription().SDP
}

func TestSignalOffer(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	remote, offer := remoteOffer(t)
	answer, err := b.SignalOffer(context.Background(), offer)
	require.NoError(t, err)
	require.True(t, strings.Contains(answer, "m=video"))
	require.True(t, strings.Contains(answer, "m=audio"))

	// The answer is acceptable to the remote side.
	err = remote.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: answer,
	})
	require.NoError(t, err)
}

func TestSignalOfferRejectsGarbage(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	_, err = b.SignalOffer(context.Background(), "not an sdp")
	require.Error(t, err)
}

func TestStartReportsPortsAndStops(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	_, offer := remoteOffer(t)
	_, err = b.SignalOffer(context.Background(), offer)
	require.NoError(t, err)

	ports := make(chan [2]uint16, 1)
	done := make(chan error, 1)
	go func() {
		done <- b.Start(context.Background(), func(video, audio uint16) {
			ports <- [2]uint16{video, audio}
		}, nil)
	}()

	var p [2]uint16
	select {
	case p = <-ports:
	case <-time.After(5 * time.Second):
		t.Fatal("Start never reported ports")
	}
	require.NotZero(t, p[0])
	require.NotZero(t, p[1])
	require.NotEqual(t, p[0], p[1])

	b.Stop()
	b.Stop() // idempotent
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start never returned after Stop")
	}
}

func TestStartHonorsContext(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Start(ctx, func(uint16, uint16) {}, nil)
	}()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start never returned after cancel")
	}
}
