// Package interceptor applies the packet rewrite rules to Bancho streams
// flowing through the proxy.
package interceptor

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/protocol"
	"github.com/osus-project/osus-proxy/internal/util"
)

// Direction tells the pipeline which way a body is travelling.
type Direction int

const (
	// Request is a client-to-server body.
	Request Direction = iota
	// Response is a server-to-client body.
	Response
)

func (d Direction) String() string {
	if d == Response {
		return "response"
	}
	return "request"
}

// nowPlayingMarker prefixes /np style status broadcasts.
const nowPlayingMarker = "\x01ACTION "

// Pipeline holds the fixed rule set. It keeps no state of its own: the only
// mutable state lives in the Preferences passed to Process.
type Pipeline struct {
	logger       zerolog.Logger
	sourceDomain string
	bus          *events.EventBus
}

// NewPipeline creates a pipeline for a proxy published on sourceDomain.
// bus may be nil.
func NewPipeline(sourceDomain string, bus *events.EventBus) *Pipeline {
	return &Pipeline{
		logger:       util.ComponentLogger("interceptor"),
		sourceDomain: sourceDomain,
		bus:          bus,
	}
}

// Process applies the rules to packets in order and returns the packets to
// forward. Dropped packets are absent from the result; the input slice is
// reused. backend is the real server domain; when empty the configured
// ServerAddress is used. The caller must hold the Preferences lock.
func (p *Pipeline) Process(packets []protocol.Packet, prefs *preferences.Preferences, dir Direction, backend string) []protocol.Packet {
	if backend == "" {
		backend = prefs.ServerAddress
	}

	kept := packets[:0]
	for _, pkt := range packets {
		if p.apply(pkt, prefs, dir, backend) {
			kept = append(kept, pkt)
		}
	}
	// Clear the tail so dropped packets are not retained by the backing array.
	for i := len(kept); i < len(packets); i++ {
		packets[i] = nil
	}
	return kept
}

// apply mutates pkt in place and reports whether it should be kept.
func (p *Pipeline) apply(pkt protocol.Packet, prefs *preferences.Preferences, dir Direction, backend string) bool {
	switch pkt := pkt.(type) {
	case *protocol.Privilege:
		if prefs.FakeSupporter {
			before := pkt.Bitfield
			pkt.Bitfield |= protocol.PrivilegeSupporter
			p.logger.Debug().
				Uint32("before", before).
				Uint32("after", pkt.Bitfield).
				Msg("spoofed supporter privilege")
			p.bus.Publish(events.EventPrivilegeSpoofed, "interceptor", events.SpoofPayload{
				Direction: dir.String(),
				PacketID:  protocol.IDPrivilege,
				Before:    fmt.Sprintf("%#x", before),
				After:     fmt.Sprintf("%#x", pkt.Bitfield),
			})
		}

	case *protocol.UserID:
		changed := !prefs.IsSelf(pkt.UserID)
		prefs.SetUserID(pkt.UserID)
		if changed {
			p.logger.Info().Int32("user_id", pkt.UserID).Msg("identified logged-in user")
			p.bus.Publish(events.EventUserIdentified, "interceptor", events.UserIdentifiedPayload{UserID: pkt.UserID})
		}

	case *protocol.SendPublicMessage:
		p.handleMessage(&pkt.Message, "public", dir, backend)
	case *protocol.SendPrivateMessage:
		p.handleMessage(&pkt.Message, "private", dir, backend)
	case *protocol.SendMessage:
		p.handleMessage(&pkt.Message, "message", dir, backend)

	case *protocol.ChangeAction:
		if pkt.Action == protocol.ActionOsuDirect && prefs.FakeSupporter {
			p.logger.Debug().Msg("suppressed osu!direct action")
			p.bus.Publish(events.EventDirectSuppressed, "interceptor", events.SpoofPayload{
				Direction: dir.String(),
				PacketID:  protocol.IDChangeAction,
				Before:    pkt.Action.String(),
			})
			return false
		}

	case *protocol.UserPresence:
		if prefs.FakeCountry != nil && prefs.IsSelf(pkt.UserID) {
			before := pkt.CountryCode
			pkt.CountryCode = *prefs.FakeCountry
			p.logger.Debug().
				Int32("user_id", pkt.UserID).
				Stringer("before", before).
				Stringer("after", pkt.CountryCode).
				Msg("spoofed presence country")
			p.bus.Publish(events.EventCountrySpoofed, "interceptor", events.SpoofPayload{
				Direction: dir.String(),
				PacketID:  protocol.IDUserPresence,
				Before:    before.String(),
				After:     pkt.CountryCode.String(),
			})
		}
	}
	return true
}

func (p *Pipeline) handleMessage(msg *protocol.Message, kind string, dir Direction, backend string) {
	proxyHost := "osu." + p.sourceDomain
	backendHost := "osu." + backend

	var rewritten bool
	if proxyHost != backendHost {
		if dir == Request {
			msg.Text, rewritten = RewriteNowPlaying(msg.Text, proxyHost, backendHost)
		} else {
			msg.Text, rewritten = RewriteNowPlaying(msg.Text, backendHost, proxyHost)
		}
	}

	p.logger.Info().
		Str("direction", dir.String()).
		Str("kind", kind).
		Str("sender", msg.Sender).
		Int32("sender_id", msg.SenderID).
		Str("recipient", msg.Recipient).
		Bool("rewritten", rewritten).
		Msg(msg.Text)

	p.bus.Publish(events.EventChatMessage, "interceptor", events.ChatMessagePayload{
		Direction: dir.String(),
		Kind:      kind,
		Sender:    msg.Sender,
		SenderID:  msg.SenderID,
		Recipient: msg.Recipient,
		Text:      msg.Text,
		Rewritten: rewritten,
		Time:      time.Now(),
	})
}

// RewriteNowPlaying replaces links to fromHost with toHost in a now-playing
// broadcast. A match must end at a host boundary, so osu.ppy.sh does not
// match osu.ppy.sh.example. Text without the marker, or without a link to
// fromHost, is returned unchanged.
func RewriteNowPlaying(text, fromHost, toHost string) (string, bool) {
	if !strings.Contains(text, nowPlayingMarker) {
		return text, false
	}
	from := "://" + fromHost
	var (
		b         strings.Builder
		rewritten bool
	)
	rest := text
	for {
		i := strings.Index(rest, from)
		if i < 0 {
			break
		}
		end := i + len(from)
		b.WriteString(rest[:i])
		if end < len(rest) && isHostByte(rest[end]) {
			b.WriteString(from)
		} else {
			b.WriteString("://" + toHost)
			rewritten = true
		}
		rest = rest[end:]
	}
	if !rewritten {
		return text, false
	}
	b.WriteString(rest)
	return b.String(), true
}

// isHostByte reports whether c can continue a hostname.
func isHostByte(c byte) bool {
	return c == '.' || c == '-' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
