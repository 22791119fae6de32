// Package packet defines the Hammeregg signalling wire format: a tagged
// union of BSON documents carried in binary WebSocket frames.
//
// The "type" discriminator string, the field names, and the Ok/Err
// response encoding are all part of the compatibility surface shared
// with remote clients and must not change.
package packet

import (
	"encoding/binary"
	stderrors "errors"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"nhooyr.io/websocket"
)

// DefaultPort is the default port for Hammeregg signalling.
const DefaultPort = 7269

// Magic is the header magic of a HandshakeInit: the UTF-8 bytes of
// "🔨🥚" read as a big-endian 64-bit integer.
var Magic = int64(binary.BigEndian.Uint64([]byte("🔨🥚")))

// Version10 is protocol version 1.0, the only defined version.
const Version10 uint32 = 0x0001_0000

// ErrProtocol is returned for frames that violate the signalling
// protocol: non-binary frames, malformed BSON, unknown discriminators,
// and invalid handshake headers.
var ErrProtocol = stderrors.New("protocol error")

// Packet is one variant of the signalling packet union.
type Packet interface {
	// name returns the wire discriminator stored in the "type" field.
	name() string
	// fields returns the variant's fields in wire order.
	fields() bson.D
}

// HomeInit registers a home desktop under a name. Valid only inside a
// HandshakeInit.
type HomeInit struct {
	HomeName string `bson:"home_name"`
}

// HomeInitResponse answers a HomeInit.
type HomeInitResponse struct {
	Response Response `bson:"response"`
}

// RemoteInit attaches a remote peer to a named home desktop. Valid only
// inside a HandshakeInit.
type RemoteInit struct {
	HomeName string `bson:"home_name"`
}

// RemoteInitResponse answers a RemoteInit.
type RemoteInitResponse struct {
	Response Response `bson:"response"`
}

// RemoteOffer carries an encrypted SDP offer from a remote to a home.
// The Peer field is assigned by the signalling server; whatever the
// remote sends there is overwritten in flight.
type RemoteOffer struct {
	Peer    uint32 `bson:"peer"`
	Key     []byte `bson:"key"`
	IV      []byte `bson:"iv"`
	Payload []byte `bson:"payload"`
}

// HomeAnswerSuccess carries an encrypted SDP answer from a home back to
// the remote identified by Peer.
type HomeAnswerSuccess struct {
	Peer    uint32 `bson:"peer"`
	Key     []byte `bson:"key"`
	IV      []byte `bson:"iv"`
	Payload []byte `bson:"payload"`
}

// HomeAnswerFailure tells the remote identified by Peer that signalling
// failed. Error is deliberately generic.
type HomeAnswerFailure struct {
	Peer  uint32 `bson:"peer"`
	Error string `bson:"error"`
}

func (p *HomeInit) name() string           { return "HomeInit" }
func (p *HomeInitResponse) name() string   { return "HomeInitResponse" }
func (p *RemoteInit) name() string         { return "RemoteInit" }
func (p *RemoteInitResponse) name() string { return "RemoteInitResponse" }
func (p *RemoteOffer) name() string        { return "RemoteOffer" }
func (p *HomeAnswerSuccess) name() string  { return "HomeAnswerSuccess" }
func (p *HomeAnswerFailure) name() string  { return "HomeAnswerFailure" }

func (p *HomeInit) fields() bson.D {
	return bson.D{{Key: "home_name", Value: p.HomeName}}
}

func (p *HomeInitResponse) fields() bson.D {
	return bson.D{{Key: "response", Value: p.Response}}
}

func (p *RemoteInit) fields() bson.D {
	return bson.D{{Key: "home_name", Value: p.HomeName}}
}

func (p *RemoteInitResponse) fields() bson.D {
	return bson.D{{Key: "response", Value: p.Response}}
}

func (p *RemoteOffer) fields() bson.D {
	return bson.D{
		{Key: "peer", Value: wireUint32(p.Peer)},
		{Key: "key", Value: wireBytes(p.Key)},
		{Key: "iv", Value: wireBytes(p.IV)},
		{Key: "payload", Value: wireBytes(p.Payload)},
	}
}

func (p *HomeAnswerSuccess) fields() bson.D {
	return bson.D{
		{Key: "peer", Value: wireUint32(p.Peer)},
		{Key: "key", Value: wireBytes(p.Key)},
		{Key: "iv", Value: wireBytes(p.IV)},
		{Key: "payload", Value: wireBytes(p.Payload)},
	}
}

func (p *HomeAnswerFailure) fields() bson.D {
	return bson.D{
		{Key: "peer", Value: wireUint32(p.Peer)},
		{Key: "error", Value: p.Error},
	}
}

// wireUint32 encodes a u32 as int32 when it fits, widening to int64
// above math.MaxInt32.
func wireUint32(v uint32) interface{} {
	if v <= 1<<31-1 {
		return int32(v)
	}
	return int64(v)
}

// wireBytes keeps nil byte fields encoded as zero-length binary rather
// than null.
func wireBytes(b []byte) primitive.Binary {
	return primitive.Binary{Subtype: 0x00, Data: b}
}

// Response is the Ok-or-error result carried by the init response
// packets. On the wire it is a one-field document, {"Ok": null} for
// success and {"Err": "<message>"} for failure.
type Response struct {
	OK  bool
	Err string
}

// OK is the successful Response.
func OK() Response { return Response{OK: true} }

// Err is a failed Response carrying msg.
func Err(msg string) Response { return Response{Err: msg} }

func (r Response) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if r.OK {
		return bson.MarshalValue(bson.D{{Key: "Ok", Value: nil}})
	}
	return bson.MarshalValue(bson.D{{Key: "Err", Value: r.Err}})
}

func (r *Response) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t != bsontype.EmbeddedDocument {
		return errors.Wrap(ErrProtocol, "response is not a document")
	}
	raw := bson.Raw(data)
	if v, err := raw.LookupErr("Err"); err == nil {
		msg, ok := v.StringValueOK()
		if !ok {
			return errors.Wrap(ErrProtocol, "response error is not a string")
		}
		*r = Response{Err: msg}
		return nil
	}
	if _, err := raw.LookupErr("Ok"); err == nil {
		*r = Response{OK: true}
		return nil
	}
	return errors.Wrap(ErrProtocol, "response is neither Ok nor Err")
}

// Marshal serializes a packet to a binary WebSocket frame.
func Marshal(p Packet) (websocket.MessageType, []byte, error) {
	doc := append(bson.D{{Key: "type", Value: p.name()}}, p.fields()...)
	buf, err := bson.Marshal(doc)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to serialize packet")
	}
	return websocket.MessageBinary, buf, nil
}

// Unmarshal deserializes a packet from a WebSocket frame. Non-binary
// frames, malformed BSON, and unknown discriminators all fail with
// ErrProtocol.
func Unmarshal(typ websocket.MessageType, data []byte) (Packet, error) {
	raw, err := rawPacket(typ, data)
	if err != nil {
		return nil, err
	}
	return unmarshalRaw(raw)
}

func rawPacket(typ websocket.MessageType, data []byte) (bson.Raw, error) {
	if typ != websocket.MessageBinary {
		return nil, errors.Wrap(ErrProtocol, "packet must be a binary message")
	}
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return nil, errors.Wrapf(ErrProtocol, "failed to deserialize packet: %v", err)
	}
	return raw, nil
}

func unmarshalRaw(raw bson.Raw) (Packet, error) {
	tv, err := raw.LookupErr("type")
	if err != nil {
		return nil, errors.Wrap(ErrProtocol, "packet has no type")
	}
	name, ok := tv.StringValueOK()
	if !ok {
		return nil, errors.Wrap(ErrProtocol, "packet type is not a string")
	}
	var p Packet
	switch name {
	case "HomeInit":
		p = new(HomeInit)
	case "HomeInitResponse":
		p = new(HomeInitResponse)
	case "RemoteInit":
		p = new(RemoteInit)
	case "RemoteInitResponse":
		p = new(RemoteInitResponse)
	case "RemoteOffer":
		p = new(RemoteOffer)
	case "HomeAnswerSuccess":
		p = new(HomeAnswerSuccess)
	case "HomeAnswerFailure":
		p = new(HomeAnswerFailure)
	default:
		return nil, errors.Wrapf(ErrProtocol, "unknown packet type %q", name)
	}
	if err := bson.Unmarshal(raw, p); err != nil {
		return nil, errors.Wrapf(ErrProtocol, "failed to deserialize packet: %v", err)
	}
	return p, nil
}

// HandshakeInit wraps the first packet of a connection. Only HomeInit
// and RemoteInit may appear inside.
type HandshakeInit struct {
	Magic   int64
	Version uint32
	Packet  Packet
}

// NewHandshakeInit builds a HandshakeInit around p with the magic
// filled in. It fails if p is not a valid init variant or version is
// not a defined protocol version.
func NewHandshakeInit(version uint32, p Packet) (*HandshakeInit, error) {
	h := &HandshakeInit{Magic: Magic, Version: version, Packet: p}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HandshakeInit) validate() error {
	if h.Magic != Magic {
		return errors.Wrap(ErrProtocol, "invalid magic number")
	}
	if h.Version != Version10 {
		return errors.Wrapf(ErrProtocol, "unsupported version %#x", h.Version)
	}
	switch h.Packet.(type) {
	case *HomeInit, *RemoteInit:
		return nil
	}
	return errors.Wrap(ErrProtocol, "init packet contents must be either HomeInit or RemoteInit")
}

// MarshalInit serializes a HandshakeInit to a binary WebSocket frame.
func MarshalInit(h *HandshakeInit) (websocket.MessageType, []byte, error) {
	inner := append(bson.D{{Key: "type", Value: h.Packet.name()}}, h.Packet.fields()...)
	buf, err := bson.Marshal(bson.D{
		{Key: "magic", Value: h.Magic},
		{Key: "version", Value: wireUint32(h.Version)},
		{Key: "packet", Value: inner},
	})
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to serialize packet")
	}
	return websocket.MessageBinary, buf, nil
}

// UnmarshalInit deserializes and validates a HandshakeInit frame: the
// magic and version must match the defined constants and the inner
// packet must be HomeInit or RemoteInit.
func UnmarshalInit(typ websocket.MessageType, data []byte) (*HandshakeInit, error) {
	raw, err := rawPacket(typ, data)
	if err != nil {
		return nil, err
	}
	mv, err := raw.LookupErr("magic")
	if err != nil {
		return nil, errors.Wrap(ErrProtocol, "handshake has no magic")
	}
	magic, ok := mv.AsInt64OK()
	if !ok {
		return nil, errors.Wrap(ErrProtocol, "handshake magic is not an integer")
	}
	vv, err := raw.LookupErr("version")
	if err != nil {
		return nil, errors.Wrap(ErrProtocol, "handshake has no version")
	}
	version, ok := vv.AsInt64OK()
	if !ok || version < 0 || version > 1<<32-1 {
		return nil, errors.Wrap(ErrProtocol, "handshake version is not a u32")
	}
	pv, err := raw.LookupErr("packet")
	if err != nil {
		return nil, errors.Wrap(ErrProtocol, "handshake has no packet")
	}
	doc, ok := pv.DocumentOK()
	if !ok {
		return nil, errors.Wrap(ErrProtocol, "handshake packet is not a document")
	}
	inner, err := unmarshalRaw(doc)
	if err != nil {
		return nil, err
	}
	h := &HandshakeInit{Magic: magic, Version: uint32(version), Packet: inner}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}
