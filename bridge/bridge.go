// Package bridge turns locally produced RTP into a WebRTC session: it
// answers a remote's SDP offer, binds loopback UDP ports for video and
// audio ingress, forwards the packets to the remote peer, and hands
// data-channel input messages back to its owner.
//
// A Bridge is owned by exactly one home session at a time. The owner
// must call Stop and then Close, in that order, on every exit path.
package bridge

import (
	"context"
	"io"
	"log"
	"net"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

// Bridge is one RTP to WebRTC session.
type Bridge struct {
	pc    *webrtc.PeerConnection
	video *webrtc.TrackLocalStaticRTP
	audio *webrtc.TrackLocalStaticRTP

	mu      sync.Mutex
	onInput func([]byte)

	stopOnce sync.Once
	stopc    chan struct{}
}

// New creates a peer connection carrying a VP8 video track and an Opus
// audio track, ready to answer an offer.
func New() (*Bridge, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, errors.Wrap(err, "couldn't initialize peer connection")
	}
	b := &Bridge{pc: pc, stopc: make(chan struct{})}

	b.video, err = webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "hammeregg")
	if err == nil {
		_, err = pc.AddTrack(b.video)
	}
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "couldn't add video track")
	}

	b.audio, err = webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "hammeregg")
	if err == nil {
		_, err = pc.AddTrack(b.audio)
	}
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "couldn't add audio track")
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			b.mu.Lock()
			h := b.onInput
			b.mu.Unlock()
			if h != nil {
				h(msg.Data)
			}
		})
	})
	return b, nil
}

// SignalOffer feeds the remote's SDP offer to the peer connection and
// returns the answer, with ICE candidates gathered.
func (b *Bridge) SignalOffer(ctx context.Context, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := b.pc.SetRemoteDescription(offer); err != nil {
		return "", errors.Wrap(err, "invalid offer")
	}
	answer, err := b.pc.CreateAnswer(nil)
	if err != nil {
		return "", errors.Wrap(err, "couldn't create answer")
	}
	gathered := webrtc.GatheringCompletePromise(b.pc)
	if err := b.pc.SetLocalDescription(answer); err != nil {
		return "", errors.Wrap(err, "couldn't set local description")
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return b.pc.LocalDescription().SDP, nil
}

// Start binds two loopback UDP ports for RTP ingress, reports them via
// onPorts, then forwards packets to the remote peer until Stop is
// called or ctx is done. Input messages arriving on the data channel
// are delivered to onInput.
func (b *Bridge) Start(ctx context.Context, onPorts func(video, audio uint16), onInput func([]byte)) error {
	b.mu.Lock()
	b.onInput = onInput
	b.mu.Unlock()

	videoConn, err := listenRTP()
	if err != nil {
		return err
	}
	defer videoConn.Close()
	audioConn, err := listenRTP()
	if err != nil {
		return err
	}
	defer audioConn.Close()

	onPorts(udpPort(videoConn), udpPort(audioConn))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forward(videoConn, b.video)
	}()
	go func() {
		defer wg.Done()
		forward(audioConn, b.audio)
	}()

	select {
	case <-b.stopc:
	case <-ctx.Done():
	}
	videoConn.Close()
	audioConn.Close()
	wg.Wait()
	return nil
}

// Stop asynchronously requests a running Start to return. Idempotent.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stopc) })
}

// Close releases the peer connection.
func (b *Bridge) Close() error {
	return b.pc.Close()
}

func listenRTP() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	return conn, errors.Wrap(err, "couldn't bind RTP port")
}

func udpPort(conn *net.UDPConn) uint16 {
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

// forward copies RTP datagrams from conn into track until conn closes.
func forward(conn *net.UDPConn, track *webrtc.TrackLocalStaticRTP) {
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.Printf("dropping malformed RTP packet: %v", err)
			continue
		}
		if err := track.WriteRTP(&pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				// Not bound to a sender yet; keep draining.
				continue
			}
			return
		}
	}
}
