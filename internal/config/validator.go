package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateProxy(cfg.GetProxy(), result)
	validatePreferences(cfg.GetPreferences(), result)

	api := cfg.GetAPI()
	if api.Enabled {
		validatePort(api.Port, "api.port", result)
		if api.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps", "rate limit is disabled (0 RPS)")
		}
		if _, port, err := net.SplitHostPort(cfg.GetProxy().ListenAddr); err == nil && port == strconv.Itoa(api.Port) {
			result.AddError("api.port", "API port conflicts with proxy.listen_addr")
		}
	}

	db := cfg.GetDatabase()
	if db.Enabled {
		if strings.TrimSpace(db.Path) == "" {
			result.AddError("database.path", "database path is required when enabled")
		}
		if db.ChatRetentionDays < 1 {
			result.AddError("database.chat_retention_days", "retention days must be at least 1")
		}
	}

	mqtt := cfg.GetMQTT()
	if mqtt.Enabled {
		if strings.TrimSpace(mqtt.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if mqtt.Port < 1 || mqtt.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	upd := cfg.GetUpdater()
	if upd.Enabled {
		if !strings.HasPrefix(upd.URL, "http://") && !strings.HasPrefix(upd.URL, "https://") {
			result.AddError("updater.url", "update URL must be http(s)")
		}
		if upd.IntervalSec < 60 {
			result.AddWarning("updater.interval_sec", "update check interval less than 60s may cause excessive requests")
		}
	}

	return result
}

func validateProxy(p ProxyConfig, result *ValidationResult) {
	host, port, err := net.SplitHostPort(p.ListenAddr)
	if err != nil {
		result.AddError("proxy.listen_addr", fmt.Sprintf("invalid listen address %q: %v", p.ListenAddr, err))
	} else {
		n, convErr := strconv.Atoi(port)
		if convErr != nil {
			result.AddError("proxy.listen_addr", fmt.Sprintf("invalid port %q", port))
		} else {
			validatePort(n, "proxy.listen_addr", result)
		}
		if host != "127.0.0.1" && host != "localhost" && host != "::1" {
			result.AddWarning("proxy.listen_addr", "proxy is reachable from other machines")
		}
	}

	if strings.TrimSpace(p.SourceDomain) == "" {
		result.AddError("proxy.source_domain", "source domain is required")
	}
	if len(p.Subdomains) == 0 {
		result.AddError("proxy.subdomains", "at least one subdomain is required")
	}
	for _, sub := range p.Subdomains {
		if sub == "" || strings.ContainsAny(sub, ". /") {
			result.AddError("proxy.subdomains", fmt.Sprintf("invalid subdomain %q", sub))
		}
	}
	if strings.TrimSpace(p.DefaultTargetDomain) == "" {
		result.AddError("proxy.default_target_domain", "default target domain is required")
	}
	if !p.GenerateSelfSigned && (p.TLSCertFile == "" || p.TLSKeyFile == "") {
		result.AddError("proxy.tls_cert_file", "TLS certificate and key are required unless generate_self_signed is set")
	}
	if p.BackendTimeoutSec < 1 {
		result.AddError("proxy.backend_timeout_sec", "backend timeout must be at least 1 second")
	}
}

func validatePreferences(p PreferencesConfig, result *ValidationResult) {
	if _, err := preferences.NormalizeServerAddress(p.ServerAddress); err != nil {
		result.AddError("preferences.server_address", err.Error())
	}
	if p.BeatmapMirror != "" {
		if _, err := preferences.ParseMirror(p.BeatmapMirror); err != nil {
			result.AddError("preferences.beatmap_mirror", err.Error())
		}
	}
	if name := strings.TrimSpace(p.FakeCountry); name != "" && !strings.EqualFold(name, "none") {
		if _, err := protocol.ParseCountry(name); err != nil {
			result.AddError("preferences.fake_country", err.Error())
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
