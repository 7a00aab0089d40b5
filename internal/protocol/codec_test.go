package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePackets() []Packet {
	return []Packet{
		&ChangeAction{Action: ActionPlaying, InfoText: "Camellia - GHOST", MapMD5: "d41d8cd98f00b204e9800998ecf8427e", Mods: 72, Mode: 0, MapID: 1234567},
		&ChangeAction{Action: ActionOsuDirect},
		&SendPublicMessage{Message{Sender: "", Text: "hi all", Recipient: "#osu", SenderID: 0}},
		&UserID{UserID: 42},
		&UserID{UserID: -1},
		&SendMessage{Message{Sender: "BanchoBot", Text: "welcome", Recipient: "me", SenderID: 1}},
		&SendPrivateMessage{Message{Sender: "me", Text: "gl hf", Recipient: "friend", SenderID: 42}},
		&Privilege{Bitfield: 0},
		&Privilege{Bitfield: 0xffffffff},
		&UserPresence{UserID: 42, Name: "me", UTCOffset: 33, CountryCode: CountryUnitedStates, BanchoPrivileges: 5, Longitude: 139.69, Latitude: 35.68, GlobalRank: 1000},
		&Other{PacketID: 4, Data: nil},
		&Other{PacketID: 999, Data: []byte{1, 2, 3, 4, 5}},
	}
}

func decodeOne(t *testing.T, wire []byte) Packet {
	t.Helper()
	h, err := ParseHeader(wire)
	require.NoError(t, err)
	r := NewReader(wire[HeaderSize:])
	pkt, err := Decode(h, r)
	require.NoError(t, err)
	require.Zero(t, r.Len())
	return pkt
}

func TestPacketRoundTrip(t *testing.T) {
	for _, original := range samplePackets() {
		decoded := decodeOne(t, ToWire(original))
		if o, ok := original.(*Other); ok && o.Data == nil {
			require.Equal(t, o.PacketID, decoded.ID())
			require.Empty(t, decoded.(*Other).Data)
			continue
		}
		require.Equal(t, original, decoded)
	}
}

func TestToWireHeader(t *testing.T) {
	wire := ToWire(&Privilege{Bitfield: 4})
	require.Equal(t, []byte{71, 0, 0, 4, 0, 0, 0, 4, 0, 0, 0}, wire)

	for _, p := range samplePackets() {
		wire := ToWire(p)
		h, err := ParseHeader(wire)
		require.NoError(t, err)
		require.Equal(t, p.ID(), h.ID)
		require.Zero(t, h.Reserved)
		require.Equal(t, len(wire)-HeaderSize, int(h.Length))
	}
}

func TestLengthFollowsMutation(t *testing.T) {
	msg := &SendMessage{Message{Sender: "a", Text: "short", Recipient: "b"}}
	before := len(ToWire(msg))
	msg.Text = "a considerably longer message body"
	wire := ToWire(msg)
	h, err := ParseHeader(wire)
	require.NoError(t, err)
	require.Equal(t, len(wire)-HeaderSize, int(h.Length))
	require.Greater(t, len(wire), before)
}

func TestOtherIsByteIdentical(t *testing.T) {
	wire := []byte{0x40, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00, 0xde, 0xad, 0xbe}
	pkt := decodeOne(t, wire)
	require.Equal(t, &Other{PacketID: 0x40, Data: []byte{0xde, 0xad, 0xbe}}, pkt)
	require.Equal(t, wire, ToWire(pkt))
}

func TestUnknownActionSurvives(t *testing.T) {
	original := &ChangeAction{Action: Action(200), InfoText: "x"}
	wire := ToWire(original)
	decoded := decodeOne(t, wire)
	require.Equal(t, original, decoded)
	require.Equal(t, "Unknown", decoded.(*ChangeAction).Action.String())
	require.Equal(t, wire, ToWire(decoded))
}

func TestDecodeLengthExceedsBuffer(t *testing.T) {
	wire := ToWire(&UserID{UserID: 7})
	_, err := Decode(Header{ID: IDUserID, Length: 10}, NewReader(wire[HeaderSize:]))
	require.ErrorIs(t, err, ErrLengthExceedsBuffer)
}

func TestDecodeShortKnownPayload(t *testing.T) {
	_, err := Decode(Header{ID: IDPrivilege, Length: 2}, NewReader([]byte{1, 2}))
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeLongKnownPayloadPassesThrough(t *testing.T) {
	payload := []byte{42, 0, 0, 0, 0xff}
	wire := NewPacketBuilder().WriteBytes(payload).BuildWithHeader(IDUserID)
	pkt := decodeOne(t, wire)
	require.Equal(t, &Other{PacketID: IDUserID, Data: payload}, pkt)
	require.Equal(t, wire, ToWire(pkt))
}

func TestParseHeaderShort(t *testing.T) {
	_, err := ParseHeader([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortHeader)
}

func TestActionNames(t *testing.T) {
	require.Equal(t, "Idle", ActionIdle.String())
	require.Equal(t, "OsuDirect", ActionOsuDirect.String())
	require.Equal(t, Action(13), ActionOsuDirect)
	require.True(t, ActionOsuDirect.Known())
	require.False(t, Action(14).Known())
	require.Equal(t, "Unknown", Action(255).String())
}
