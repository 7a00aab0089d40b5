package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamRoundTrip(t *testing.T) {
	packets := samplePackets()[2:10]
	wire := EncodeStream(packets)

	decoded, leftover, err := DecodeStream(wire)
	require.NoError(t, err)
	require.Empty(t, leftover)
	require.Equal(t, packets, decoded)
	require.Equal(t, wire, EncodeStream(decoded))
}

func TestStreamEmpty(t *testing.T) {
	decoded, leftover, err := DecodeStream(nil)
	require.NoError(t, err)
	require.Empty(t, decoded)
	require.Empty(t, leftover)
	require.Empty(t, EncodeStream(nil))
}

func TestStreamTrailingPartialHeader(t *testing.T) {
	packets := []Packet{&UserID{UserID: 42}, &Privilege{Bitfield: 1}}
	wire := EncodeStream(packets)

	for n := 1; n < HeaderSize; n++ {
		garbage := []byte{0x53, 0x00, 0x00, 0x10, 0x00, 0x00}[:n]
		body := append(append([]byte{}, wire...), garbage...)

		decoded, leftover, err := DecodeStream(body)
		require.NoError(t, err, "trailing %d bytes", n)
		require.Equal(t, packets, decoded)
		require.Equal(t, garbage, leftover)
	}
}

func TestStreamDeclaredLengthPastEnd(t *testing.T) {
	wire := EncodeStream([]Packet{&UserID{UserID: 42}})
	wire = append(wire, ToWire(&Other{PacketID: 12, Data: make([]byte, 16)})[:HeaderSize+4]...)

	_, _, err := DecodeStream(wire)
	require.ErrorIs(t, err, ErrLengthExceedsBuffer)
}

func TestStreamInvalidStringFailsBody(t *testing.T) {
	payload := NewPacketBuilder().
		WriteUint8(StringPresent).WriteUleb128(2).WriteBytes([]byte{0xff, 0xfe}).
		WriteString("text").WriteString("#osu").WriteInt32(1).
		BuildWithHeader(IDSendMessage)

	_, _, err := DecodeStream(payload)
	require.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestStreamParserDecode(t *testing.T) {
	wire := append(EncodeStream([]Packet{&UserID{UserID: 3}}), 0x01, 0x02)
	packets, err := NewStreamParser().Decode(wire)
	require.NoError(t, err)
	require.Equal(t, []Packet{&UserID{UserID: 3}}, packets)
}

func TestStreamPreservesOrder(t *testing.T) {
	var packets []Packet
	for i := int32(0); i < 50; i++ {
		packets = append(packets, &UserID{UserID: i}, &Other{PacketID: uint16(100 + i), Data: []byte{byte(i)}})
	}
	decoded, _, err := DecodeStream(EncodeStream(packets))
	require.NoError(t, err)
	require.Equal(t, packets, decoded)
}
