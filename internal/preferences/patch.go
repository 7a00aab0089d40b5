package preferences

import (
	"fmt"
	"strings"

	"github.com/osus-project/osus-proxy/internal/protocol"
)

// Patch is a partial update. Nil fields are left unchanged. FakeCountry
// takes a two-letter name; "" or "none" clears it.
type Patch struct {
	ServerAddress *string        `json:"server_address,omitempty"`
	FakeSupporter *bool          `json:"fake_supporter,omitempty"`
	BeatmapMirror *BeatmapMirror `json:"beatmap_mirror,omitempty"`
	FakeCountry   *string        `json:"fake_country,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.ServerAddress == nil && p.FakeSupporter == nil && p.BeatmapMirror == nil && p.FakeCountry == nil
}

// NormalizeServerAddress trims a user-entered address down to a bare domain.
func NormalizeServerAddress(addr string) (string, error) {
	addr = strings.TrimSpace(strings.ToLower(addr))
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimSuffix(addr, "/")
	if addr == "" {
		return "", fmt.Errorf("server address is required")
	}
	if strings.ContainsAny(addr, "/ :?#@") {
		return "", fmt.Errorf("server address %q must be a bare domain", addr)
	}
	return addr, nil
}

// Apply validates patch and applies it atomically. Nothing changes when
// validation fails.
func (s *Store) Apply(patch Patch) (Preferences, error) {
	var (
		addr    string
		country *protocol.Country
	)

	if patch.ServerAddress != nil {
		var err error
		if addr, err = NormalizeServerAddress(*patch.ServerAddress); err != nil {
			return Preferences{}, err
		}
	}

	if patch.FakeCountry != nil {
		name := strings.TrimSpace(*patch.FakeCountry)
		if name != "" && !strings.EqualFold(name, "none") {
			c, err := protocol.ParseCountry(name)
			if err != nil {
				return Preferences{}, err
			}
			country = &c
		}
	}

	var out Preferences
	err := s.With(func(p *Preferences) error {
		if patch.ServerAddress != nil {
			p.ServerAddress = addr
		}
		if patch.FakeSupporter != nil {
			p.FakeSupporter = *patch.FakeSupporter
		}
		if patch.BeatmapMirror != nil {
			p.BeatmapMirror = *patch.BeatmapMirror
		}
		if patch.FakeCountry != nil {
			p.FakeCountry = country
		}
		out = p.Clone()
		return nil
	})
	return out, err
}
