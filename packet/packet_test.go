package packet

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"nhooyr.io/websocket"
)

func TestMagic(t *testing.T) {
	// "🔨🥚" in UTF-8, reinterpreted as a big-endian 64-bit integer.
	require.Equal(t, uint64(0xF09F94A8F09FA59A), uint64(Magic))
	require.Negative(t, Magic)
}

func TestPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		p    Packet
	}{
		{"HomeInit", &HomeInit{HomeName: "alpha"}},
		{"HomeInitResponseOk", &HomeInitResponse{Response: OK()}},
		{"HomeInitResponseErr", &HomeInitResponse{Response: Err("Requested desktop name was already taken")}},
		{"RemoteInit", &RemoteInit{HomeName: "alpha"}},
		{"RemoteInitResponseOk", &RemoteInitResponse{Response: OK()}},
		{"RemoteInitResponseErr", &RemoteInitResponse{Response: Err("Requested desktop not found")}},
		{"RemoteOffer", &RemoteOffer{Peer: 3, Key: []byte{1, 2}, IV: []byte{3, 4}, Payload: []byte{5, 6}}},
		{"RemoteOfferBigPeer", &RemoteOffer{Peer: math.MaxUint32, Key: []byte{1}, IV: []byte{2}, Payload: []byte{3}}},
		{"HomeAnswerSuccess", &HomeAnswerSuccess{Peer: 0, Key: []byte{9}, IV: []byte{8}, Payload: []byte{7}}},
		{"HomeAnswerFailure", &HomeAnswerFailure{Peer: 12, Error: "Signalling failed"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			typ, buf, err := Marshal(c.p)
			require.NoError(t, err)
			require.Equal(t, websocket.MessageBinary, typ)
			got, err := Unmarshal(typ, buf)
			require.NoError(t, err)
			require.Equal(t, c.p, got)
		})
	}
}

func TestWireFieldNames(t *testing.T) {
	_, buf, err := Marshal(&RemoteOffer{Peer: 7, Key: []byte{1}, IV: []byte{2}, Payload: []byte{3}})
	require.NoError(t, err)
	raw := bson.Raw(buf)

	typ := raw.Lookup("type")
	require.Equal(t, "RemoteOffer", typ.StringValue())
	peer, ok := raw.Lookup("peer").AsInt64OK()
	require.True(t, ok)
	require.EqualValues(t, 7, peer)
	for _, field := range []string{"key", "iv", "payload"} {
		v, err := raw.LookupErr(field)
		require.NoError(t, err, field)
		require.Equal(t, bsontype.Binary, v.Type, field)
	}

	// A small peer id encodes as int32; only values past
	// math.MaxInt32 widen to int64.
	require.Equal(t, bsontype.Int32, raw.Lookup("peer").Type)
	_, buf, err = Marshal(&RemoteOffer{Peer: math.MaxUint32, Key: []byte{1}, IV: []byte{2}, Payload: []byte{3}})
	require.NoError(t, err)
	require.Equal(t, bsontype.Int64, bson.Raw(buf).Lookup("peer").Type)
}

func TestResponseWireShape(t *testing.T) {
	_, buf, err := Marshal(&HomeInitResponse{Response: OK()})
	require.NoError(t, err)
	resp := bson.Raw(buf).Lookup("response").Document()
	v, err := resp.LookupErr("Ok")
	require.NoError(t, err)
	require.Equal(t, bsontype.Null, v.Type)

	_, buf, err = Marshal(&HomeInitResponse{Response: Err("nope")})
	require.NoError(t, err)
	resp = bson.Raw(buf).Lookup("response").Document()
	require.Equal(t, "nope", resp.Lookup("Err").StringValue())
}

func TestUnmarshalRejectsNonBinaryFrames(t *testing.T) {
	_, buf, err := Marshal(&HomeInit{HomeName: "alpha"})
	require.NoError(t, err)
	_, err = Unmarshal(websocket.MessageText, buf)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestUnmarshalRejectsMalformedBSON(t *testing.T) {
	_, err := Unmarshal(websocket.MessageBinary, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrProtocol)
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	buf, err := bson.Marshal(bson.D{{Key: "type", Value: "Sneaky"}})
	require.NoError(t, err)
	_, err = Unmarshal(websocket.MessageBinary, buf)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestHandshakeInitRoundTrip(t *testing.T) {
	for _, inner := range []Packet{
		&HomeInit{HomeName: "alpha"},
		&RemoteInit{HomeName: "alpha"},
	} {
		h, err := NewHandshakeInit(Version10, inner)
		require.NoError(t, err)
		typ, buf, err := MarshalInit(h)
		require.NoError(t, err)
		got, err := UnmarshalInit(typ, buf)
		require.NoError(t, err)
		require.Equal(t, Magic, got.Magic)
		require.Equal(t, Version10, got.Version)
		require.Equal(t, inner, got.Packet)
	}
}

func TestNewHandshakeInitValidates(t *testing.T) {
	_, err := NewHandshakeInit(Version10, &RemoteOffer{})
	require.ErrorIs(t, err, ErrProtocol)
	_, err = NewHandshakeInit(0xdead, &HomeInit{HomeName: "alpha"})
	require.ErrorIs(t, err, ErrProtocol)
}

func TestUnmarshalInitValidates(t *testing.T) {
	valid := func() bson.D {
		return bson.D{
			{Key: "magic", Value: Magic},
			{Key: "version", Value: int32(Version10)},
			{Key: "packet", Value: bson.D{
				{Key: "type", Value: "HomeInit"},
				{Key: "home_name", Value: "alpha"},
			}},
		}
	}
	mutate := func(doc bson.D, key string, value interface{}) bson.D {
		for i := range doc {
			if doc[i].Key == key {
				doc[i].Value = value
			}
		}
		return doc
	}

	cases := []struct {
		name string
		doc  bson.D
		ok   bool
	}{
		{"valid", valid(), true},
		{"badMagic", mutate(valid(), "magic", int64(42)), false},
		{"badVersion", mutate(valid(), "version", int32(0x0002_0000)), false},
		{"missingMagic", valid()[1:], false},
		{"innerNotInit", mutate(valid(), "packet", bson.D{
			{Key: "type", Value: "HomeAnswerFailure"},
			{Key: "peer", Value: int32(0)},
			{Key: "error", Value: "x"},
		}), false},
		{"packetNotDocument", mutate(valid(), "packet", "HomeInit"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf, err := bson.Marshal(c.doc)
			require.NoError(t, err)
			_, err = UnmarshalInit(websocket.MessageBinary, buf)
			if c.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrProtocol)
			}
		})
	}
}

func TestUnmarshalInitRejectsNonBinaryFrames(t *testing.T) {
	h, err := NewHandshakeInit(Version10, &HomeInit{HomeName: "alpha"})
	require.NoError(t, err)
	_, buf, err := MarshalInit(h)
	require.NoError(t, err)
	_, err = UnmarshalInit(websocket.MessageText, buf)
	assert.True(t, errors.Is(err, ErrProtocol))
}
