package protocol

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Decode reads the payload described by h from r and returns the typed
// packet. Exactly h.Length bytes are consumed. Known kinds whose payload
// carries bytes beyond their shape are kept as Other so they still
// re-encode unchanged.
func Decode(h Header, r *Reader) (Packet, error) {
	if uint64(h.Length) > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: packet %d declares %d bytes, %d remain",
			ErrLengthExceedsBuffer, h.ID, h.Length, r.Len())
	}

	payload, err := r.ReadBytes(int(h.Length))
	if err != nil {
		return nil, err
	}

	pr := NewReader(payload)
	pkt, err := decodePayload(h.ID, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode packet %d: %w", h.ID, err)
	}

	if _, isOther := pkt.(*Other); !isOther && pr.Len() > 0 {
		log.Debug().
			Uint16("packet_id", h.ID).
			Int("extra_bytes", pr.Len()).
			Msg("payload longer than its shape, passing through opaque")
		return &Other{PacketID: h.ID, Data: payload}, nil
	}

	return pkt, nil
}

func decodePayload(id uint16, r *Reader) (Packet, error) {
	switch id {
	case IDChangeAction:
		return decodeChangeAction(r)
	case IDSendPublicMessage:
		m, err := r.ReadMessage()
		if err != nil {
			return nil, err
		}
		return &SendPublicMessage{Message: m}, nil
	case IDUserID:
		v, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		return &UserID{UserID: v}, nil
	case IDSendMessage:
		m, err := r.ReadMessage()
		if err != nil {
			return nil, err
		}
		return &SendMessage{Message: m}, nil
	case IDSendPrivateMessage:
		m, err := r.ReadMessage()
		if err != nil {
			return nil, err
		}
		return &SendPrivateMessage{Message: m}, nil
	case IDPrivilege:
		v, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		return &Privilege{Bitfield: v}, nil
	case IDUserPresence:
		return decodeUserPresence(r)
	default:
		data, err := r.ReadBytes(r.Len())
		if err != nil {
			return nil, err
		}
		return &Other{PacketID: id, Data: data}, nil
	}
}

// decodeChangeAction handles packet 0.
// Format: [action:1][info_text:str][map_md5:str][mods:4][mode:1][map_id:4]
func decodeChangeAction(r *Reader) (*ChangeAction, error) {
	var p ChangeAction

	action, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("action: %w", err)
	}
	p.Action = Action(action)

	if p.InfoText, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("info text: %w", err)
	}
	if p.MapMD5, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("map md5: %w", err)
	}
	if p.Mods, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("mods: %w", err)
	}
	if p.Mode, err = r.ReadUint8(); err != nil {
		return nil, fmt.Errorf("mode: %w", err)
	}
	if p.MapID, err = r.ReadInt32(); err != nil {
		return nil, fmt.Errorf("map id: %w", err)
	}
	return &p, nil
}

// decodeUserPresence handles packet 83.
// Format: [user_id:4][name:str][utc_offset:1][country:1][privileges:1]
//
//	[longitude:4f][latitude:4f][global_rank:4]
func decodeUserPresence(r *Reader) (*UserPresence, error) {
	var p UserPresence
	var err error

	if p.UserID, err = r.ReadInt32(); err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	if p.Name, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	if p.UTCOffset, err = r.ReadUint8(); err != nil {
		return nil, fmt.Errorf("utc offset: %w", err)
	}
	country, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("country: %w", err)
	}
	p.CountryCode = Country(country)
	if p.BanchoPrivileges, err = r.ReadUint8(); err != nil {
		return nil, fmt.Errorf("bancho privileges: %w", err)
	}
	if p.Longitude, err = r.ReadFloat32(); err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	if p.Latitude, err = r.ReadFloat32(); err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	if p.GlobalRank, err = r.ReadInt32(); err != nil {
		return nil, fmt.Errorf("global rank: %w", err)
	}
	return &p, nil
}

// Encode serializes the payload of p, without a header.
func Encode(p Packet) []byte {
	b := NewPacketBuilder()

	switch pkt := p.(type) {
	case *ChangeAction:
		b.WriteUint8(uint8(pkt.Action)).
			WriteString(pkt.InfoText).
			WriteString(pkt.MapMD5).
			WriteUint32(pkt.Mods).
			WriteUint8(pkt.Mode).
			WriteInt32(pkt.MapID)
	case *SendPublicMessage:
		b.WriteMessage(pkt.Message)
	case *UserID:
		b.WriteInt32(pkt.UserID)
	case *SendMessage:
		b.WriteMessage(pkt.Message)
	case *SendPrivateMessage:
		b.WriteMessage(pkt.Message)
	case *Privilege:
		b.WriteUint32(pkt.Bitfield)
	case *UserPresence:
		b.WriteInt32(pkt.UserID).
			WriteString(pkt.Name).
			WriteUint8(pkt.UTCOffset).
			WriteUint8(uint8(pkt.CountryCode)).
			WriteUint8(pkt.BanchoPrivileges).
			WriteFloat32(pkt.Longitude).
			WriteFloat32(pkt.Latitude).
			WriteInt32(pkt.GlobalRank)
	case *Other:
		b.WriteBytes(pkt.Data)
	}

	return b.Build()
}

// ToWire serializes p with its header. The header length is always the
// length of the payload just encoded.
func ToWire(p Packet) []byte {
	b := NewPacketBuilder()
	b.WriteBytes(Encode(p))
	return b.BuildWithHeader(p.ID())
}
