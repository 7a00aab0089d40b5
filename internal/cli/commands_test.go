package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/network"
	"github.com/osus-project/osus-proxy/internal/preferences"
)

type fakeStats struct{}

func (fakeStats) Stats() network.Stats {
	return network.Stats{Exchanges: 12, Bancho: 5, Failures: 1, PacketsIn: 40, PacketsOut: 39}
}

func run(t *testing.T, store *preferences.Store, bus *events.EventBus, input string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var out bytes.Buffer
	NewCLI(store, bus, fakeStats{}, strings.NewReader(input), &out).Start(ctx)
	return out.String()
}

func TestEditPreferences(t *testing.T) {
	store := preferences.NewStore(preferences.Default())
	out := run(t, store, nil, strings.Join([]string{
		"supporter off",
		"server https://akatsuki.gg",
		"mirror beatconnect",
		"country us",
		"",
	}, "\n"))

	p := store.Snapshot()
	require.False(t, p.FakeSupporter)
	require.Equal(t, "akatsuki.gg", p.ServerAddress)
	require.Equal(t, preferences.MirrorBeatConnect, p.BeatmapMirror)
	require.NotNil(t, p.FakeCountry)
	require.Equal(t, "US", p.FakeCountry.String())
	require.Equal(t, 4, strings.Count(out, "Preferences updated."))

	run(t, store, nil, "country none\n")
	require.Nil(t, store.Snapshot().FakeCountry)
}

func TestInvalidCommands(t *testing.T) {
	store := preferences.NewStore(preferences.Default())
	before := store.Snapshot()

	out := run(t, store, nil, "supporter maybe\nmirror nowhere\ncountry ZZ\nserver a/b\nserver\nfrobnicate\n")
	require.Equal(t, before, store.Snapshot())
	require.Equal(t, 5, strings.Count(out, "Error:"))
	require.Contains(t, out, "Unknown command: 'frobnicate'")
}

func TestStatusAndCountries(t *testing.T) {
	store := preferences.NewStore(preferences.Default())
	require.NoError(t, store.With(func(p *preferences.Preferences) error {
		p.SetUserID(42)
		return nil
	}))

	out := run(t, store, nil, "status\ncountries\nhelp\n")
	require.Contains(t, out, "ppy.sh")
	require.Contains(t, out, "chimu.moe")
	require.Contains(t, out, "42")
	require.Contains(t, out, "12 (5 bancho, 1 failed)")
	require.Contains(t, out, "JP")
	require.Contains(t, out, "beatconnect")
}

func TestQuitPublishesShutdown(t *testing.T) {
	store := preferences.NewStore(preferences.Default())
	bus := events.NewEventBus()

	var (
		mu      sync.Mutex
		sources []string
	)
	bus.Subscribe(events.EventShutdown, "test", func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		sources = append(sources, e.Source)
		return nil
	})
	bus.Subscribe(events.EventPreferencesChanged, "test", func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		sources = append(sources, "prefs:"+e.Source)
		return nil
	})

	out := run(t, store, bus, "supporter on\nquit\nsupporter off\n")
	require.Contains(t, out, "Shutting down")
	require.True(t, store.Snapshot().FakeSupporter)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sources) == 2
	}, time.Second, 10*time.Millisecond)
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"prefs:cli", "cli"}, sources)
}
