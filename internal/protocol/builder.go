package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs Bancho payloads. All multi-byte values are
// written little-endian.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v uint8) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteFloat32 writes a float32 in little-endian order.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUleb128 writes v as an unsigned LEB128 integer.
func (b *PacketBuilder) WriteUleb128(v uint64) *PacketBuilder {
	for {
		c := byte(v) &^ uleb128ContinuationBit
		v >>= 7
		if v != 0 {
			c |= uleb128ContinuationBit
		}
		b.buf.WriteByte(c)
		if v == 0 {
			return b
		}
	}
}

// WriteString writes a Bancho string.
// Format: [0x00] when s is empty, otherwise [0x0b][uleb128 length][utf-8 bytes...]
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	if s == "" {
		b.buf.WriteByte(StringAbsent)
		return b
	}
	b.buf.WriteByte(StringPresent)
	b.WriteUleb128(uint64(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteMessage writes a chat Message.
// Format: [sender:str][text:str][recipient:str][sender_id:4]
func (b *PacketBuilder) WriteMessage(m Message) *PacketBuilder {
	return b.WriteString(m.Sender).
		WriteString(m.Text).
		WriteString(m.Recipient).
		WriteInt32(m.SenderID)
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed payload bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// BuildWithHeader returns the payload prefixed by a header carrying id, a
// zero reserved byte and the payload's actual length.
func (b *PacketBuilder) BuildWithHeader(id uint16) []byte {
	data := b.buf.Bytes()
	h := Header{ID: id, Length: uint32(len(data))}
	result := make([]byte, 0, HeaderSize+len(data))
	result = h.AppendTo(result)
	return append(result, data...)
}

// Len returns the current size of the payload being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current payload for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
