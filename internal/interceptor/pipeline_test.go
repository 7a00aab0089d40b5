package interceptor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/protocol"
)

const testSource = "osus.zihad.dev"

func newPrefs(supporter bool) *preferences.Preferences {
	p := preferences.Default()
	p.FakeSupporter = supporter
	return &p
}

func countryPtr(c protocol.Country) *protocol.Country { return &c }

func TestPrivilegeSpoof(t *testing.T) {
	pl := NewPipeline(testSource, nil)

	out := pl.Process([]protocol.Packet{&protocol.Privilege{Bitfield: 0}}, newPrefs(true), Response, "")
	require.Equal(t, []protocol.Packet{&protocol.Privilege{Bitfield: 0b100}}, out)

	out = pl.Process([]protocol.Packet{&protocol.Privilege{Bitfield: 0b1}}, newPrefs(false), Response, "")
	require.Equal(t, []protocol.Packet{&protocol.Privilege{Bitfield: 0b1}}, out)

	out = pl.Process([]protocol.Packet{&protocol.Privilege{Bitfield: 0b101}}, newPrefs(true), Response, "")
	require.Equal(t, []protocol.Packet{&protocol.Privilege{Bitfield: 0b101}}, out)
}

func TestUserIDStored(t *testing.T) {
	pl := NewPipeline(testSource, nil)
	prefs := newPrefs(false)

	out := pl.Process([]protocol.Packet{&protocol.UserID{UserID: 42}}, prefs, Response, "")
	require.Len(t, out, 1)
	require.NotNil(t, prefs.UserID)
	require.Equal(t, int32(42), *prefs.UserID)
}

func TestOsuDirectSuppression(t *testing.T) {
	pl := NewPipeline(testSource, nil)
	direct := func() []protocol.Packet {
		return []protocol.Packet{
			&protocol.UserID{UserID: 1},
			&protocol.ChangeAction{Action: protocol.ActionOsuDirect},
			&protocol.ChangeAction{Action: protocol.ActionPlaying, InfoText: "map"},
		}
	}

	out := pl.Process(direct(), newPrefs(true), Request, "")
	require.Equal(t, []protocol.Packet{
		&protocol.UserID{UserID: 1},
		&protocol.ChangeAction{Action: protocol.ActionPlaying, InfoText: "map"},
	}, out)

	out = pl.Process(direct(), newPrefs(false), Request, "")
	require.Equal(t, direct(), out)
}

func TestCountrySpoofTargetsSelfOnly(t *testing.T) {
	pl := NewPipeline(testSource, nil)
	prefs := newPrefs(false)
	prefs.SetUserID(42)
	prefs.FakeCountry = countryPtr(protocol.CountryJapan)

	out := pl.Process([]protocol.Packet{
		&protocol.UserPresence{UserID: 42, Name: "me", CountryCode: 225},
		&protocol.UserPresence{UserID: 99, Name: "other", CountryCode: 225},
	}, prefs, Response, "")

	require.Equal(t, []protocol.Packet{
		&protocol.UserPresence{UserID: 42, Name: "me", CountryCode: protocol.CountryJapan},
		&protocol.UserPresence{UserID: 99, Name: "other", CountryCode: 225},
	}, out)
}

func TestCountrySpoofNeedsConfiguredCountry(t *testing.T) {
	pl := NewPipeline(testSource, nil)
	prefs := newPrefs(false)
	prefs.SetUserID(42)

	out := pl.Process([]protocol.Packet{&protocol.UserPresence{UserID: 42, CountryCode: 225}}, prefs, Response, "")
	require.Equal(t, []protocol.Packet{&protocol.UserPresence{UserID: 42, CountryCode: 225}}, out)
}

func TestUserIDThenPresenceInSameBody(t *testing.T) {
	pl := NewPipeline(testSource, nil)
	prefs := newPrefs(false)
	prefs.FakeCountry = countryPtr(protocol.CountryJapan)

	out := pl.Process([]protocol.Packet{
		&protocol.UserID{UserID: 42},
		&protocol.UserPresence{UserID: 42, CountryCode: 225},
	}, prefs, Response, "")

	require.Equal(t, []protocol.Packet{
		&protocol.UserID{UserID: 42},
		&protocol.UserPresence{UserID: 42, CountryCode: 111},
	}, out)
}

func TestOtherUntouched(t *testing.T) {
	pl := NewPipeline(testSource, nil)
	in := []protocol.Packet{&protocol.Other{PacketID: 4, Data: []byte{1, 2, 3}}}
	out := pl.Process(in, newPrefs(true), Response, "")
	require.Equal(t, []protocol.Packet{&protocol.Other{PacketID: 4, Data: []byte{1, 2, 3}}}, out)
}

func TestRewriteNowPlaying(t *testing.T) {
	outbound := "\x01ACTION is listening to [https://osu.osus.zihad.dev/beatmapsets/1#osu/2 Song]\x01"
	inbound := "\x01ACTION is listening to [https://osu.ppy.sh/beatmapsets/1#osu/2 Song]\x01"

	got, ok := RewriteNowPlaying(outbound, "osu."+testSource, "osu.ppy.sh")
	require.True(t, ok)
	require.Equal(t, inbound, got)

	back, ok := RewriteNowPlaying(got, "osu.ppy.sh", "osu."+testSource)
	require.True(t, ok)
	require.Equal(t, outbound, back)

	plain := "check https://osu.osus.zihad.dev/b/1"
	got, ok = RewriteNowPlaying(plain, "osu."+testSource, "osu.ppy.sh")
	require.False(t, ok)
	require.Equal(t, plain, got)

	noLink := "\x01ACTION is afk\x01"
	got, ok = RewriteNowPlaying(noLink, "osu."+testSource, "osu.ppy.sh")
	require.False(t, ok)
	require.Equal(t, noLink, got)
	lookalike := "\x01ACTION is listening to [https://osu.ppy.sh.example/b/1 Song]\x01"
	got, ok = RewriteNowPlaying(lookalike, "osu.ppy.sh", "osu."+testSource)
	require.False(t, ok)
	require.Equal(t, lookalike, got)

	mixed := "\x01ACTION is listening to [https://osu.ppy.shx/b/1 a] [https://osu.ppy.sh/b/2 b]\x01"
	got, ok = RewriteNowPlaying(mixed, "osu.ppy.sh", "osu."+testSource)
	require.True(t, ok)
	require.Equal(t, "\x01ACTION is listening to [https://osu.ppy.shx/b/1 a] [https://osu."+testSource+"/b/2 b]\x01", got)
}

func TestMessageRewriteByDirection(t *testing.T) {
	pl := NewPipeline(testSource, nil)
	prefs := newPrefs(false)
	prefs.ServerAddress = "akatsuki.gg"

	sent := &protocol.SendPublicMessage{Message: protocol.Message{
		Text:      "\x01ACTION is playing [https://osu.osus.zihad.dev/b/5 x]\x01",
		Recipient: "#osu",
	}}
	pl.Process([]protocol.Packet{sent}, prefs, Request, "")
	require.Equal(t, "\x01ACTION is playing [https://osu.akatsuki.gg/b/5 x]\x01", sent.Text)

	recv := &protocol.SendMessage{Message: protocol.Message{
		Sender:    "friend",
		Text:      "\x01ACTION is playing [https://osu.akatsuki.gg/b/5 x]\x01",
		Recipient: "#osu",
		SenderID:  7,
	}}
	pl.Process([]protocol.Packet{recv}, prefs, Response, "")
	require.Equal(t, "\x01ACTION is playing [https://osu.osus.zihad.dev/b/5 x]\x01", recv.Text)

	// An explicit backend overrides the configured address.
	priv := &protocol.SendPrivateMessage{Message: protocol.Message{
		Text: "\x01ACTION is playing [https://osu.osus.zihad.dev/b/5 x]\x01",
	}}
	pl.Process([]protocol.Packet{priv}, prefs, Request, "ripple.moe")
	require.Equal(t, "\x01ACTION is playing [https://osu.ripple.moe/b/5 x]\x01", priv.Text)
}

func TestPipelinePublishesEvents(t *testing.T) {
	bus := events.NewEventBus()
	var mu sync.Mutex
	seen := map[events.EventType]int{}
	for _, et := range []events.EventType{
		events.EventPrivilegeSpoofed, events.EventDirectSuppressed,
		events.EventCountrySpoofed, events.EventUserIdentified, events.EventChatMessage,
	} {
		bus.Subscribe(et, "test", func(ctx context.Context, e events.Event) error {
			mu.Lock()
			seen[e.Type]++
			mu.Unlock()
			return nil
		})
	}

	prefs := newPrefs(true)
	prefs.FakeCountry = countryPtr(protocol.CountryJapan)
	pl := NewPipeline(testSource, bus)
	pl.Process([]protocol.Packet{
		&protocol.UserID{UserID: 5},
		&protocol.UserID{UserID: 5},
		&protocol.Privilege{},
		&protocol.ChangeAction{Action: protocol.ActionOsuDirect},
		&protocol.UserPresence{UserID: 5, CountryCode: 225},
		&protocol.SendMessage{Message: protocol.Message{Text: "hi"}},
	}, prefs, Response, "")
	bus.Stop()

	require.Equal(t, map[events.EventType]int{
		events.EventUserIdentified:   1,
		events.EventPrivilegeSpoofed: 1,
		events.EventDirectSuppressed: 1,
		events.EventCountrySpoofed:   1,
		events.EventChatMessage:      1,
	}, seen)
}
