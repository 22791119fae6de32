package home

import (
	"context"
	"crypto/rsa"
	"log"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"

	"hammeregg.io/bridge"
	"hammeregg.io/envelope"
	"hammeregg.io/input"
	"hammeregg.io/packet"
	"hammeregg.io/stream"
)

// Bridge is the signalling loop's view of the RTP to WebRTC bridge.
// The loop owns it exclusively: Stop then Close, in that order, on
// every exit path.
type Bridge interface {
	SignalOffer(ctx context.Context, offer string) (answer string, err error)
	Start(ctx context.Context, onPorts func(video, audio uint16), onInput func([]byte)) error
	Stop()
	Close() error
}

// Capture is a running desktop capture process.
type Capture interface {
	Kill() error
}

// RunConfig configures the signalling loop.
type RunConfig struct {
	// HomeKey decrypts incoming offers.
	HomeKey *rsa.PrivateKey
	// RemoteKey encrypts outgoing answers.
	RemoteKey *rsa.PublicKey
	// Bounds is the monitor being shared.
	Bounds stream.MonitorBounds
	// Injector, if set, receives remote input events.
	Injector input.Injector

	// NewBridge and StartCapture default to bridge.New and
	// stream.Start.
	NewBridge    func() (Bridge, error)
	StartCapture func(stream.MonitorBounds, uint16) (Capture, error)
}

// session is one active remote session: the bridge, the goroutine
// hosting its blocking Start call, and the capture process feeding it.
type session struct {
	bridge  Bridge
	capture Capture
	wg      sync.WaitGroup
	once    sync.Once
}

// teardown stops the bridge, joins the goroutine running its Start
// call, releases the bridge, then kills the capture process, in that
// order. Safe to call more than once.
func (s *session) teardown() {
	s.once.Do(func() {
		s.bridge.Stop()
		s.wg.Wait()
		s.bridge.Close()
		if s.capture != nil {
			if err := s.capture.Kill(); err != nil {
				log.Printf("%v", err)
			}
		}
	})
}

// Run handles signalling requests until the connection dies. At most
// one remote session exists at a time: a new valid offer always tears
// the current session down before the replacement starts.
func (c *Conn) Run(ctx context.Context, cfg RunConfig) error {
	if cfg.NewBridge == nil {
		cfg.NewBridge = func() (Bridge, error) { return bridge.New() }
	}
	if cfg.StartCapture == nil {
		cfg.StartCapture = func(b stream.MonitorBounds, port uint16) (Capture, error) {
			return stream.Start(b, port)
		}
	}

	log.Printf("handling signalling requests")
	var cur *session
	defer func() {
		if cur != nil {
			cur.teardown()
		}
	}()
	for {
		typ, buf, err := c.ws.Read(ctx)
		if err != nil {
			return errors.Wrap(err, "signalling failed: could not read packet")
		}
		p, err := packet.Unmarshal(typ, buf)
		if err != nil {
			log.Printf("signalling failed: %v", err)
			continue
		}
		offer, ok := p.(*packet.RemoteOffer)
		if !ok {
			log.Printf("signalling failed: did not get a RemoteOffer packet")
			continue
		}
		log.Printf("handling remote offer from peer %d with payload length %d", offer.Peer, len(offer.Payload))

		if cur != nil {
			cur.teardown()
			cur = nil
		}
		reply, next := handleOffer(ctx, cfg, offer)
		cur = next
		typ, buf, err = packet.Marshal(reply)
		if err != nil {
			return err
		}
		if err := c.ws.Write(ctx, typ, buf); err != nil {
			return errors.Wrap(err, "signalling failed: could not send packet")
		}
	}
}

// handleOffer decrypts one offer, stands up a bridge and capture
// session, and builds the reply. Every failure mode yields the same
// generic HomeAnswerFailure; details stay in the local log.
func handleOffer(ctx context.Context, cfg RunConfig, offer *packet.RemoteOffer) (packet.Packet, *session) {
	fail := &packet.HomeAnswerFailure{Peer: offer.Peer, Error: "Signalling failed"}

	sealed := envelope.Sealed{Key: offer.Key, IV: offer.IV, Payload: offer.Payload}
	plaintext, err := envelope.Unwrap(sealed, cfg.HomeKey)
	if err != nil {
		log.Printf("signalling failed: couldn't decrypt remote offer")
		return fail, nil
	}
	if !utf8.Valid(plaintext) {
		log.Printf("signalling failed: offer was not a valid string")
		return fail, nil
	}

	br, err := cfg.NewBridge()
	if err != nil {
		log.Printf("signalling failed: %v", err)
		return fail, nil
	}
	sess := &session{bridge: br}

	answer, err := br.SignalOffer(ctx, string(plaintext))
	if err != nil {
		log.Printf("signalling failed: %v", err)
		sess.teardown()
		return fail, nil
	}

	onInput := func(data []byte) {
		if cfg.Injector == nil {
			return
		}
		in, err := packet.UnmarshalInput(data)
		if err != nil {
			log.Printf("failed to deserialize input packet: %v", err)
			return
		}
		input.Dispatch(cfg.Injector, cfg.Bounds, in)
	}
	portsc := make(chan [2]uint16, 1)
	startc := make(chan error, 1)
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		startc <- br.Start(ctx, func(video, audio uint16) {
			portsc <- [2]uint16{video, audio}
		}, onInput)
	}()

	var ports [2]uint16
	select {
	case ports = <-portsc:
	case err := <-startc:
		log.Printf("signalling failed: couldn't bind ports: %v", err)
		sess.teardown()
		return fail, nil
	case <-ctx.Done():
		sess.teardown()
		return fail, nil
	}

	capture, err := cfg.StartCapture(cfg.Bounds, ports[0])
	if err != nil {
		log.Printf("signalling failed: %v", err)
		sess.teardown()
		return fail, nil
	}
	sess.capture = capture

	out, err := envelope.Wrap([]byte(answer), cfg.RemoteKey)
	if err != nil {
		log.Printf("signalling failed: answer couldn't be encrypted: %v", err)
		sess.teardown()
		return fail, nil
	}
	return &packet.HomeAnswerSuccess{
		Peer:    offer.Peer,
		Key:     out.Key,
		IV:      out.IV,
		Payload: out.Payload,
	}, sess
}
