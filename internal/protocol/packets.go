// Package protocol implements the Bancho binary protocol spoken between the
// osu! client and its server. Every packet is a 7-byte little-endian header
// followed by a payload made of fixed-width integers, floats and
// ULEB128-prefixed strings. Packet kinds the proxy does not rewrite are kept
// as opaque payloads so they re-encode byte for byte.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of a packet header on the wire.
const HeaderSize = 7

// String presence markers.
const (
	StringAbsent  byte = 0x00
	StringPresent byte = 0x0b
)

// Packet ids of the kinds the proxy models. Everything else decodes to Other.
const (
	IDChangeAction       uint16 = 0  // client: status change
	IDSendPublicMessage  uint16 = 1  // client: channel message
	IDUserID             uint16 = 5  // server: login reply carrying the user id
	IDSendMessage        uint16 = 7  // server: chat message delivery
	IDSendPrivateMessage uint16 = 25 // client: direct message
	IDPrivilege          uint16 = 71 // server: privileges bitfield
	IDUserPresence       uint16 = 83 // server: presence entry for one user
)

// PrivilegeSupporter is the supporter bit in the Privilege bitfield.
const PrivilegeSupporter uint32 = 1 << 2

var (
	ErrTruncated           = errors.New("payload truncated")
	ErrUleb128Overflow     = errors.New("uleb128 value overflows 64 bits")
	ErrInvalidUTF8         = errors.New("string is not valid utf-8")
	ErrLengthExceedsBuffer = errors.New("declared packet length exceeds buffer")
	ErrShortHeader         = errors.New("header needs 7 bytes")
)

// Header precedes every packet. Length is the byte length of the payload
// that follows and is the only framing the format has.
type Header struct {
	ID       uint16
	Reserved uint8
	Length   uint32
}

// ParseHeader reads a header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d", ErrShortHeader, len(b))
	}
	return Header{
		ID:       binary.LittleEndian.Uint16(b[0:2]),
		Reserved: b[2],
		Length:   binary.LittleEndian.Uint32(b[3:7]),
	}, nil
}

// AppendTo appends the wire form of h to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, h.ID)
	dst = append(dst, h.Reserved)
	return binary.LittleEndian.AppendUint32(dst, h.Length)
}

// Message is the chat payload shared by the three message packet kinds.
type Message struct {
	Sender    string
	Text      string
	Recipient string
	SenderID  int32
}

// Packet is one decoded packet. The set of implementations is closed: the
// kinds below plus Other for anything unmodeled.
type Packet interface {
	ID() uint16
	packet()
}

// ChangeAction is sent by the client whenever its status changes.
type ChangeAction struct {
	Action   Action
	InfoText string
	MapMD5   string
	Mods     uint32
	Mode     uint8
	MapID    int32
}

// SendPublicMessage is a client message to a channel.
type SendPublicMessage struct {
	Message
}

// UserID is the server's login reply. Negative values are login failures.
type UserID struct {
	UserID int32
}

// SendMessage delivers a chat message from the server to the client.
type SendMessage struct {
	Message
}

// SendPrivateMessage is a client message to another user.
type SendPrivateMessage struct {
	Message
}

// Privilege carries the logged-in user's privileges bitfield.
type Privilege struct {
	Bitfield uint32
}

// UserPresence describes one online user.
type UserPresence struct {
	UserID           int32
	Name             string
	UTCOffset        uint8
	CountryCode      Country
	BanchoPrivileges uint8
	Longitude        float32
	Latitude         float32
	GlobalRank       int32
}

// Other is any packet kind the proxy does not model. Data is the payload
// exactly as it appeared on the wire.
type Other struct {
	PacketID uint16
	Data     []byte
}

func (*ChangeAction) ID() uint16       { return IDChangeAction }
func (*SendPublicMessage) ID() uint16  { return IDSendPublicMessage }
func (*UserID) ID() uint16             { return IDUserID }
func (*SendMessage) ID() uint16        { return IDSendMessage }
func (*SendPrivateMessage) ID() uint16 { return IDSendPrivateMessage }
func (*Privilege) ID() uint16          { return IDPrivilege }
func (*UserPresence) ID() uint16       { return IDUserPresence }
func (o *Other) ID() uint16            { return o.PacketID }

func (*ChangeAction) packet()       {}
func (*SendPublicMessage) packet()  {}
func (*UserID) packet()             {}
func (*SendMessage) packet()        {}
func (*SendPrivateMessage) packet() {}
func (*Privilege) packet()          {}
func (*UserPresence) packet()       {}
func (*Other) packet()              {}
