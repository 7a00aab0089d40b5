// Package preferences holds the user-editable interception settings shared
// between the proxy pipeline and the editors (REST API, CLI).
package preferences

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/osus-project/osus-proxy/internal/protocol"
)

// BeatmapMirror selects where beatmap downloads are redirected.
type BeatmapMirror int

const (
	MirrorServerDefault BeatmapMirror = iota
	MirrorChimu
	MirrorBeatConnect
	MirrorNerinyan
)

var mirrorNames = map[BeatmapMirror]string{
	MirrorServerDefault: "server_default",
	MirrorChimu:         "chimu",
	MirrorBeatConnect:   "beatconnect",
	MirrorNerinyan:      "nerinyan",
}

var mirrorLabels = map[BeatmapMirror]string{
	MirrorServerDefault: "Server Default",
	MirrorChimu:         "chimu.moe",
	MirrorBeatConnect:   "BeatConnect",
	MirrorNerinyan:      "nerinyan.moe",
}

// Mirrors lists every mirror in display order.
func Mirrors() []BeatmapMirror {
	return []BeatmapMirror{MirrorChimu, MirrorBeatConnect, MirrorNerinyan, MirrorServerDefault}
}

// String returns the config/API name of the mirror.
func (m BeatmapMirror) String() string {
	if s, ok := mirrorNames[m]; ok {
		return s
	}
	return "server_default"
}

// Label returns a human readable name.
func (m BeatmapMirror) Label() string {
	if s, ok := mirrorLabels[m]; ok {
		return s
	}
	return "Server Default"
}

// DirectDownloadLink returns the mirror URL for a beatmap set, or "" for
// MirrorServerDefault, which never redirects.
func (m BeatmapMirror) DirectDownloadLink(setID uint32) string {
	switch m {
	case MirrorChimu:
		return fmt.Sprintf("https://api.chimu.moe/d/%d", setID)
	case MirrorBeatConnect:
		return fmt.Sprintf("https://beatconnect.io/b/%d", setID)
	case MirrorNerinyan:
		return fmt.Sprintf("https://api.nerinyan.moe/d/%d", setID)
	default:
		return ""
	}
}

// ParseMirror accepts a mirror name or label in any case.
func ParseMirror(s string) (BeatmapMirror, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range mirrorNames {
		if s == name || s == strings.ToLower(mirrorLabels[m]) {
			return m, nil
		}
	}
	switch s {
	case "default", "server", "none":
		return MirrorServerDefault, nil
	}
	return MirrorServerDefault, fmt.Errorf("unknown beatmap mirror %q", s)
}

// MarshalJSON serializes the mirror as its name (e.g. "chimu").
func (m BeatmapMirror) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON parses a mirror name.
func (m *BeatmapMirror) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMirror(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Preferences is the interception policy. UserID is learned from the
// server's login reply; FakeCountry nil means no country spoofing.
type Preferences struct {
	ServerAddress string            `json:"server_address"`
	FakeSupporter bool              `json:"fake_supporter"`
	BeatmapMirror BeatmapMirror     `json:"beatmap_mirror"`
	FakeCountry   *protocol.Country `json:"fake_country"`
	UserID        *int32            `json:"user_id"`
}

// Default returns the startup preferences.
func Default() Preferences {
	return Preferences{
		ServerAddress: "ppy.sh",
		FakeSupporter: true,
		BeatmapMirror: MirrorChimu,
	}
}

// Clone returns a deep copy of p.
func (p Preferences) Clone() Preferences {
	out := p
	if p.FakeCountry != nil {
		c := *p.FakeCountry
		out.FakeCountry = &c
	}
	if p.UserID != nil {
		id := *p.UserID
		out.UserID = &id
	}
	return out
}

// SetUserID records the logged-in user's id.
func (p *Preferences) SetUserID(id int32) {
	p.UserID = &id
}

// IsSelf reports whether userID is the logged-in user.
func (p Preferences) IsSelf(userID int32) bool {
	return p.UserID != nil && *p.UserID == userID
}

// Store guards the single shared Preferences instance. There is no
// read/write distinction: every access holds the same exclusive lock.
type Store struct {
	mu    sync.Mutex
	prefs Preferences
}

// NewStore creates a store seeded with initial.
func NewStore(initial Preferences) *Store {
	return &Store{prefs: initial.Clone()}
}

// With runs fn while holding the lock. The lock is released on every exit
// path, including a panic in fn.
func (s *Store) With(fn func(p *Preferences) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.prefs)
}

// Snapshot returns a copy of the current preferences.
func (s *Store) Snapshot() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.Clone()
}

// ServerAddress returns the configured backend domain.
func (s *Store) ServerAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.ServerAddress
}

// Mirror returns the configured beatmap mirror.
func (s *Store) Mirror() BeatmapMirror {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.BeatmapMirror
}
