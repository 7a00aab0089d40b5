// Package config handles configuration loading, validation, and persistence
// for osus-proxy.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/protocol"
	"github.com/osus-project/osus-proxy/internal/util"
)

const (
	DefaultConfigDir    = "config"
	DefaultConfigFile   = "config.json"
	DefaultListenAddr   = "127.0.0.1:8000"
	DefaultSourceDomain = "osus.zihad.dev"
	DefaultTargetDomain = "osu.ppy.sh"
	DefaultAPIPort      = 5001
	DefaultUpdateURL    = "https://osus-proxy-update-server.vercel.app/api/handler"
)

// DefaultSubdomains are the hosts the game client talks to.
var DefaultSubdomains = []string{"c", "ce", "c4", "osu", "b", "api"}

// Config is the root configuration structure for osus-proxy.
type Config struct {
	mu   sync.RWMutex
	path string

	Proxy       ProxyConfig       `json:"proxy"`
	Preferences PreferencesConfig `json:"preferences"`
	API         APIConfig         `json:"api"`
	Database    DatabaseConfig    `json:"database"`
	MQTT        MQTTConfig        `json:"mqtt"`
	Updater     UpdaterConfig     `json:"updater"`
	Logging     util.LogConfig    `json:"logging"`
}

// ProxyConfig holds the TLS reverse proxy settings.
type ProxyConfig struct {
	ListenAddr          string   `json:"listen_addr"`
	SourceDomain        string   `json:"source_domain"`
	Subdomains          []string `json:"subdomains"`
	DefaultTargetDomain string   `json:"default_target_domain"`
	TLSCertFile         string   `json:"tls_cert_file"`
	TLSKeyFile          string   `json:"tls_key_file"`
	GenerateSelfSigned  bool     `json:"generate_self_signed"`
	BackendTimeoutSec   int      `json:"backend_timeout_sec"`
}

// PreferencesConfig seeds the runtime Preferences at start.
type PreferencesConfig struct {
	ServerAddress string `json:"server_address"`
	FakeSupporter bool   `json:"fake_supporter"`
	BeatmapMirror string `json:"beatmap_mirror"`
	FakeCountry   string `json:"fake_country"`
}

// APIConfig holds the local REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// DatabaseConfig holds the chat log settings.
type DatabaseConfig struct {
	Enabled           bool   `json:"enabled"`
	Path              string `json:"path"`
	ChatRetentionDays int    `json:"chat_retention_days"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// UpdaterConfig holds the self-update check settings.
type UpdaterConfig struct {
	Enabled     bool   `json:"enabled"`
	URL         string `json:"url"`
	IntervalSec int    `json:"interval_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			ListenAddr:          DefaultListenAddr,
			SourceDomain:        DefaultSourceDomain,
			Subdomains:          append([]string(nil), DefaultSubdomains...),
			DefaultTargetDomain: DefaultTargetDomain,
			TLSCertFile:         "./server.crt",
			TLSKeyFile:          "./server.key",
			GenerateSelfSigned:  true,
			BackendTimeoutSec:   30,
		},
		Preferences: PreferencesConfig{
			ServerAddress: "ppy.sh",
			FakeSupporter: true,
			BeatmapMirror: preferences.MirrorChimu.String(),
		},
		API: APIConfig{
			Enabled:        true,
			Port:           DefaultAPIPort,
			AllowedOrigins: []string{"http://localhost:5001", "http://127.0.0.1:5001"},
			RateLimitRPS:   50,
		},
		Database: DatabaseConfig{
			Enabled:           true,
			Path:              filepath.Join("data", "osus.db"),
			ChatRetentionDays: 7,
		},
		MQTT: MQTTConfig{
			Port:     8883,
			UseTLS:   true,
			ClientID: util.AppName,
		},
		Updater: UpdaterConfig{
			Enabled:     true,
			URL:         DefaultUpdateURL,
			IntervalSec: 3600,
		},
		Logging: util.DefaultLogConfig(),
	}
}

// Load reads configuration from a JSON file, creating it with defaults when
// missing.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so fields added in newer versions show up in the file.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetProxy returns a copy of the proxy configuration.
func (c *Config) GetProxy() ProxyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.Proxy
	p.Subdomains = append([]string(nil), c.Proxy.Subdomains...)
	return p
}

// GetPreferences returns a copy of the preference seed.
func (c *Config) GetPreferences() PreferencesConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Preferences
}

// SetPreferences replaces the preference seed. Used by the setup wizard.
func (c *Config) SetPreferences(p PreferencesConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Preferences = p
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a := c.API
	a.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return a
}

// GetDatabase returns a copy of the database configuration.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetUpdater returns a copy of the updater configuration.
func (c *Config) GetUpdater() UpdaterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Updater
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() util.LogConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// InitialPreferences converts the seed into runtime Preferences.
func (c *Config) InitialPreferences() (preferences.Preferences, error) {
	seed := c.GetPreferences()
	prefs := preferences.Default()

	if seed.ServerAddress != "" {
		addr, err := preferences.NormalizeServerAddress(seed.ServerAddress)
		if err != nil {
			return prefs, fmt.Errorf("preferences.server_address: %w", err)
		}
		prefs.ServerAddress = addr
	}
	prefs.FakeSupporter = seed.FakeSupporter

	if seed.BeatmapMirror != "" {
		m, err := preferences.ParseMirror(seed.BeatmapMirror)
		if err != nil {
			return prefs, fmt.Errorf("preferences.beatmap_mirror: %w", err)
		}
		prefs.BeatmapMirror = m
	}

	if name := strings.TrimSpace(seed.FakeCountry); name != "" && !strings.EqualFold(name, "none") {
		country, err := protocol.ParseCountry(name)
		if err != nil {
			return prefs, fmt.Errorf("preferences.fake_country: %w", err)
		}
		prefs.FakeCountry = &country
	}

	return prefs, nil
}

// IsFirstRun returns true if the configuration has never been through setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Proxy.SourceDomain == "" || c.Preferences.ServerAddress == ""
}
