// Package rooster implements the Hammeregg signalling server: a
// name-indexed registry of home desktops and a relay routing opaque
// signalling envelopes between each home and its remote peers.
//
// Rooster never sees plaintext session descriptions; it only gates
// packet types, assigns peer ids, and moves frames.
package rooster

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"nhooyr.io/websocket"

	"hammeregg.io/packet"
)

// Registry error strings. These travel to clients verbatim.
const (
	errNameTaken = "Requested desktop name was already taken"
	errNotFound  = "Requested desktop not found"
)

// maxFrameSize bounds a single signalling frame. Encrypted SDP runs a
// few kilobytes; anything near this limit is garbage.
const maxFrameSize = 512 << 10

// desktop is one registered home and its attached peers. All fields
// are guarded by the server's registry mutex; the queues themselves
// are safe to use outside it.
type desktop struct {
	tx        *sendQueue
	idCounter uint32
	peers     map[uint32]*sendQueue
}

// Server is a signalling server instance. The zero value is not
// usable; call NewServer.
type Server struct {
	mu       sync.Mutex
	desktops map[string]*desktop
	metrics  *metrics
}

func NewServer() *Server {
	return &Server{
		desktops: make(map[string]*desktop),
		metrics:  newMetrics(),
	}
}

// Handler returns the WebSocket acceptor. Mount it behind a TLS
// listener; every request path is treated the same.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

// handle serves one connection: read the handshake, pick the role,
// run the role loop. Its failures never touch other connections.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// No user state lives behind this endpoint, so origin
		// checks buy nothing.
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	defer func() {
		if v := recover(); v != nil {
			log.Printf("connection handler panicked: %v", v)
		}
	}()
	conn.SetReadLimit(maxFrameSize)

	ctx := r.Context()
	typ, buf, err := conn.Read(ctx)
	if err != nil {
		log.Printf("handshake failed: could not read packet: %v", err)
		return
	}
	init, err := packet.UnmarshalInit(typ, buf)
	if err != nil {
		s.metrics.protocolErrors.Inc()
		log.Printf("handshake failed: %v", err)
		conn.Close(websocket.StatusPolicyViolation, "invalid handshake")
		return
	}

	switch p := init.Packet.(type) {
	case *packet.HomeInit:
		err = s.serveHome(ctx, conn, p.HomeName)
	case *packet.RemoteInit:
		err = s.serveRemote(ctx, conn, p.HomeName)
	}
	if err != nil {
		log.Printf("%v", err)
	}
}

// serveHome registers the desktop and relays answers to its peers
// until the connection dies, then tears down every attached peer.
func (s *Server) serveHome(ctx context.Context, conn *websocket.Conn, name string) error {
	q := newSendQueue()
	s.mu.Lock()
	if _, taken := s.desktops[name]; taken {
		s.mu.Unlock()
		s.metrics.nameConflicts.Inc()
		s.writePacket(ctx, conn, &packet.HomeInitResponse{Response: packet.Err(errNameTaken)})
		return errors.Errorf("home init failed: desktop name %q already taken", name)
	}
	s.desktops[name] = &desktop{tx: q, peers: make(map[uint32]*sendQueue)}
	s.metrics.desktops.Set(float64(len(s.desktops)))
	s.mu.Unlock()

	if err := s.writePacket(ctx, conn, &packet.HomeInitResponse{Response: packet.OK()}); err != nil {
		s.dropDesktop(name)
		return err
	}
	s.metrics.handshakes.WithLabelValues("home").Inc()
	log.Printf("desktop %q registered", name)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		pump(ctx, conn, q)
	}()

	err := s.homeIngress(ctx, conn, name)
	cancel()
	s.dropDesktop(name)
	log.Printf("desktop %q disconnected", name)
	return err
}

// homeIngress reads frames from the home. Only HomeAnswerSuccess and
// HomeAnswerFailure pass the gate; they are forwarded byte-identical
// to the addressed peer. Answers for vanished peers are dropped.
func (s *Server) homeIngress(ctx context.Context, conn *websocket.Conn, name string) error {
	for {
		typ, buf, err := conn.Read(ctx)
		if err != nil {
			return nil
		}
		p, err := packet.Unmarshal(typ, buf)
		if err != nil {
			s.metrics.protocolErrors.Inc()
			return errors.Wrapf(err, "signalling failed (desktop %q)", name)
		}
		var peer uint32
		switch v := p.(type) {
		case *packet.HomeAnswerSuccess:
			peer = v.Peer
		case *packet.HomeAnswerFailure:
			peer = v.Peer
		default:
			s.metrics.protocolErrors.Inc()
			return errors.Errorf("signalling failed (desktop %q): did not get a HomeAnswerSuccess or HomeAnswerFailure packet", name)
		}

		s.mu.Lock()
		var pq *sendQueue
		if d, ok := s.desktops[name]; ok {
			pq = d.peers[peer]
		}
		s.mu.Unlock()
		if pq == nil {
			s.metrics.answersDropped.Inc()
			log.Printf("desktop %q: peer %d does not exist (any longer), dropping answer", name, peer)
			continue
		}
		pq.push(buf)
		s.metrics.answersRouted.Inc()
	}
}

// serveRemote attaches a peer to a registered desktop, assigns it a
// fresh id, and relays its offers home with the id filled in.
func (s *Server) serveRemote(ctx context.Context, conn *websocket.Conn, name string) error {
	q := newSendQueue()
	s.mu.Lock()
	d, ok := s.desktops[name]
	if !ok {
		s.mu.Unlock()
		s.metrics.unknownNames.Inc()
		s.writePacket(ctx, conn, &packet.RemoteInitResponse{Response: packet.Err(errNotFound)})
		return errors.Errorf("remote init failed: desktop %q not found", name)
	}
	id := d.idCounter
	d.idCounter++
	d.peers[id] = q
	s.mu.Unlock()

	if err := s.writePacket(ctx, conn, &packet.RemoteInitResponse{Response: packet.OK()}); err != nil {
		s.removePeer(name, id)
		return err
	}
	s.metrics.handshakes.WithLabelValues("remote").Inc()
	log.Printf("peer %d attached to desktop %q", id, name)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		pump(ctx, conn, q)
	}()

	err := s.remoteIngress(ctx, conn, name, id)
	cancel()
	s.removePeer(name, id)
	q.close()
	log.Printf("peer %d detached from desktop %q", id, name)
	return err
}

// remoteIngress reads frames from the remote. Only RemoteOffer passes
// the gate. The remote does not know its own peer id, so each offer is
// re-serialized with the issued id before forwarding home.
func (s *Server) remoteIngress(ctx context.Context, conn *websocket.Conn, name string, id uint32) error {
	for {
		typ, buf, err := conn.Read(ctx)
		if err != nil {
			return nil
		}
		p, err := packet.Unmarshal(typ, buf)
		if err != nil {
			s.metrics.protocolErrors.Inc()
			return errors.Wrapf(err, "signalling failed (peer %d)", id)
		}
		offer, ok := p.(*packet.RemoteOffer)
		if !ok {
			s.metrics.protocolErrors.Inc()
			return errors.Errorf("signalling failed (peer %d): did not get a RemoteOffer packet", id)
		}
		_, frame, err := packet.Marshal(&packet.RemoteOffer{
			Peer:    id,
			Key:     offer.Key,
			IV:      offer.IV,
			Payload: offer.Payload,
		})
		if err != nil {
			return errors.Wrapf(err, "signalling failed (peer %d)", id)
		}

		s.mu.Lock()
		d, ok := s.desktops[name]
		if ok {
			d.tx.push(frame)
		}
		s.mu.Unlock()
		if !ok {
			return errors.Errorf("signalling failed (peer %d): desktop %q does not exist any longer", id, name)
		}
		s.metrics.offersRouted.Inc()
	}
}

// pump forwards queued frames to the socket until the queue closes,
// the write fails, or ctx is done.
func pump(ctx context.Context, conn *websocket.Conn, q *sendQueue) {
	defer func() {
		if v := recover(); v != nil {
			log.Printf("egress pump panicked: %v", v)
		}
	}()
	for {
		frame, ok := q.pop(ctx)
		if !ok {
			return
		}
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			return
		}
	}
}

// dropDesktop removes the registry entry and closes every sink that
// hung off it, cascading the disconnect to all attached peers.
func (s *Server) dropDesktop(name string) {
	s.mu.Lock()
	d, ok := s.desktops[name]
	if ok {
		delete(s.desktops, name)
	}
	s.metrics.desktops.Set(float64(len(s.desktops)))
	s.mu.Unlock()
	if !ok {
		return
	}
	d.tx.close()
	for _, pq := range d.peers {
		pq.close()
	}
}

// removePeer detaches a peer from its (possibly already removed)
// desktop.
func (s *Server) removePeer(name string, id uint32) {
	s.mu.Lock()
	if d, ok := s.desktops[name]; ok {
		delete(d.peers, id)
	}
	s.mu.Unlock()
}

func (s *Server) writePacket(ctx context.Context, conn *websocket.Conn, p packet.Packet) error {
	typ, buf, err := packet.Marshal(p)
	if err != nil {
		return err
	}
	return conn.Write(ctx, typ, buf)
}
