package protocol

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DecodeStream splits one HTTP body into packets. A remainder of 1 to 6
// bytes cannot hold a header; it is returned as leftover and decoding stops
// without error. Any other decode failure fails the whole body.
func DecodeStream(data []byte) (packets []Packet, leftover []byte, err error) {
	r := NewReader(data)

	for {
		remaining := r.Len()
		if remaining == 0 {
			return packets, nil, nil
		}
		if remaining < HeaderSize {
			leftover, _ = r.ReadBytes(remaining)
			return packets, leftover, nil
		}

		raw, _ := r.ReadBytes(HeaderSize)
		h, _ := ParseHeader(raw)

		pkt, err := Decode(h, r)
		if err != nil {
			return nil, nil, fmt.Errorf("packet %d in stream: %w", len(packets), err)
		}
		packets = append(packets, pkt)
	}
}

// EncodeStream concatenates the wire form of packets in order.
func EncodeStream(packets []Packet) []byte {
	var out []byte
	for _, p := range packets {
		out = append(out, ToWire(p)...)
	}
	return out
}

// StreamParser decodes packet streams and reports trailing garbage.
type StreamParser struct {
	logger zerolog.Logger
}

// NewStreamParser creates a new parser for Bancho packet streams.
func NewStreamParser() *StreamParser {
	return &StreamParser{
		logger: log.With().Str("component", "bancho_parser").Logger(),
	}
}

// Decode is DecodeStream with leftover bytes logged as a hex dump.
func (p *StreamParser) Decode(data []byte) ([]Packet, error) {
	packets, leftover, err := DecodeStream(data)
	if err != nil {
		return nil, err
	}

	if len(leftover) > 0 {
		p.logger.Warn().
			Int("leftover_bytes", len(leftover)).
			Int("packets", len(packets)).
			Str("hexdump", hex.Dump(leftover)).
			Msg("encountered leftover bytes after last packet")
	}

	p.logger.Trace().
		Int("bytes", len(data)).
		Int("packets", len(packets)).
		Msg("decoded bancho stream")

	return packets, nil
}

// Encode is EncodeStream.
func (p *StreamParser) Encode(packets []Packet) []byte {
	return EncodeStream(packets)
}
