package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const uleb128ContinuationBit byte = 1 << 7

// Reader decodes Bancho primitives from a byte slice. All multi-byte values
// are little-endian.
type Reader struct {
	r *bytes.Reader
}

// NewReader creates a Reader over data. The slice is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{r: bytes.NewReader(data)}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return r.r.Len()
}

func (r *Reader) readLE(v any, field string) error {
	if err := binary.Read(r.r, binary.LittleEndian, v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: reading %s", ErrTruncated, field)
		}
		return fmt.Errorf("failed to read %s: %w", field, err)
	}
	return nil
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: reading u8", ErrTruncated)
	}
	return b, nil
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	var v uint16
	err := r.readLE(&v, "u16")
	return v, err
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	var v uint32
	err := r.readLE(&v, "u32")
	return v, err
}

// ReadInt32 reads a little-endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	var v int32
	err := r.readLE(&v, "i32")
	return v, err
}

// ReadFloat32 reads a little-endian IEEE 754 float32.
func (r *Reader) ReadFloat32() (float32, error) {
	var v float32
	err := r.readLE(&v, "f32")
	return v, err
}

// ReadBytes reads exactly n bytes into a new slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.r.Len() {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrTruncated, n, r.r.Len())
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return data, nil
}

// ReadUleb128 reads an unsigned LEB128 integer. Values that do not fit in
// 64 bits return ErrUleb128Overflow.
func (r *Reader) ReadUleb128() (uint64, error) {
	var result uint64
	var shift uint

	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: reading uleb128", ErrTruncated)
		}

		low := b &^ uleb128ContinuationBit
		if shift > 63 || (shift == 63 && low > 1) {
			return 0, ErrUleb128Overflow
		}

		result |= uint64(low) << shift

		if b&uleb128ContinuationBit == 0 {
			return result, nil
		}
		shift += 7
	}
}

// ReadString reads a Bancho string: a presence byte, then for 0x0b a
// ULEB128 byte length and that many UTF-8 bytes. Any other presence byte
// is an empty string.
func (r *Reader) ReadString() (string, error) {
	presence, err := r.ReadUint8()
	if err != nil {
		return "", err
	}
	if presence != StringPresent {
		return "", nil
	}

	length, err := r.ReadUleb128()
	if err != nil {
		return "", err
	}
	if length > uint64(r.r.Len()) {
		return "", fmt.Errorf("%w: string of %d bytes, have %d", ErrTruncated, length, r.r.Len())
	}

	data, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

// ReadMessage reads a chat Message.
func (r *Reader) ReadMessage() (Message, error) {
	var m Message
	var err error

	if m.Sender, err = r.ReadString(); err != nil {
		return m, fmt.Errorf("message sender: %w", err)
	}
	if m.Text, err = r.ReadString(); err != nil {
		return m, fmt.Errorf("message text: %w", err)
	}
	if m.Recipient, err = r.ReadString(); err != nil {
		return m, fmt.Errorf("message recipient: %w", err)
	}
	if m.SenderID, err = r.ReadInt32(); err != nil {
		return m, fmt.Errorf("message sender id: %w", err)
	}
	return m, nil
}
