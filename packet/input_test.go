package packet

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

func TestInputPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		p    InputPacket
	}{
		{"KeyDownSpecial", &KeyDown{Key: KeyEscape}},
		{"KeyUpSpecial", &KeyUp{Key: KeyUpArrow}},
		{"KeyDownAlpha", &KeyDown{Key: AlphaKey('a')}},
		{"KeyDownAlphaUnicode", &KeyDown{Key: AlphaKey('é')}},
		{"KeyUpRaw", &KeyUp{Key: RawKey(0x2a)}},
		{"MouseDown", &MouseDown{Button: ButtonLeft}},
		{"MouseUp", &MouseUp{Button: ButtonRight}},
		{"MouseMove", &MouseMove{X: 0.25, Y: 0.75}},
		{"MouseScroll", &MouseScroll{X: -1, Y: 3}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf, err := MarshalInput(c.p)
			require.NoError(t, err)
			got, err := UnmarshalInput(buf)
			require.NoError(t, err)
			require.Equal(t, c.p, got)
		})
	}
}

func TestInputWireShape(t *testing.T) {
	buf, err := MarshalInput(&KeyDown{Key: KeyAlt})
	require.NoError(t, err)
	key := bson.Raw(buf).Lookup("key_down").Document()
	require.Equal(t, "Alt", key.Lookup("special_key").StringValue())

	buf, err = MarshalInput(&MouseDown{Button: ButtonMiddle})
	require.NoError(t, err)
	require.Equal(t, "middle", bson.Raw(buf).Lookup("mouse_down").StringValue())

	buf, err = MarshalInput(&MouseMove{X: 0.5, Y: 0.5})
	require.NoError(t, err)
	move := bson.Raw(buf).Lookup("mouse_move").Document()
	require.Equal(t, bsontype.Double, move.Lookup("x").Type)

	buf, err = MarshalInput(&MouseScroll{X: 0, Y: -2})
	require.NoError(t, err)
	scroll := bson.Raw(buf).Lookup("mouse_scroll").Document()
	require.Equal(t, bsontype.Int32, scroll.Lookup("y").Type)

	buf, err = MarshalInput(&KeyUp{Key: AlphaKey('z')})
	require.NoError(t, err)
	key = bson.Raw(buf).Lookup("key_up").Document()
	require.Equal(t, "z", key.Lookup("alpha_key").StringValue())
}

func TestInputRejectsInvalid(t *testing.T) {
	marshal := func(doc bson.D) []byte {
		buf, err := bson.Marshal(doc)
		require.NoError(t, err)
		return buf
	}
	cases := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{1, 2, 3}},
		{"unknownVariant", marshal(bson.D{{Key: "key_press", Value: "x"}})},
		{"twoFields", marshal(bson.D{
			{Key: "key_down", Value: bson.D{{Key: "raw_key", Value: int32(1)}}},
			{Key: "key_up", Value: bson.D{{Key: "raw_key", Value: int32(1)}}},
		})},
		{"unknownSpecialKey", marshal(bson.D{{Key: "key_down", Value: bson.D{{Key: "special_key", Value: "Hyper"}}}})},
		{"multiCharAlpha", marshal(bson.D{{Key: "key_down", Value: bson.D{{Key: "alpha_key", Value: "ab"}}}})},
		{"rawKeyTooBig", marshal(bson.D{{Key: "key_down", Value: bson.D{{Key: "raw_key", Value: int32(1 << 16)}}}})},
		{"unknownButton", marshal(bson.D{{Key: "mouse_down", Value: "fourth"}})},
		{"buttonNotString", marshal(bson.D{{Key: "mouse_up", Value: int32(1)}})},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := UnmarshalInput(c.data)
			require.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestMarshalInputRejectsUnknownValues(t *testing.T) {
	_, err := MarshalInput(&KeyDown{Key: SpecialKey("Hyper")})
	require.ErrorIs(t, err, ErrProtocol)
	_, err = MarshalInput(&MouseDown{Button: MouseButton("fourth")})
	require.ErrorIs(t, err, ErrProtocol)
}
