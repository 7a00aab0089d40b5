package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/osus-project/osus-proxy/internal/preferences"
)

// RunSetupWizard asks for the proxy domain and the initial preferences,
// validates the result and saves it.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "osus-proxy setup")
	fmt.Fprintln(out, "Press enter to keep the value in brackets.")
	fmt.Fprintln(out)

	proxy := cfg.GetProxy()
	prefs := cfg.GetPreferences()

	fmt.Fprintln(out, "-- Proxy --")
	proxy.ListenAddr = promptString(reader, out, "Listen address", proxy.ListenAddr)
	proxy.SourceDomain = promptString(reader, out, "Public domain of this proxy", proxy.SourceDomain)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- Preferences --")
	prefs.ServerAddress = promptString(reader, out, "Server to connect to", prefs.ServerAddress)
	prefs.FakeSupporter = promptBool(reader, out, "Spoof supporter", prefs.FakeSupporter)

	names := make([]string, 0, len(preferences.Mirrors()))
	for _, m := range preferences.Mirrors() {
		names = append(names, m.String())
	}
	prefs.BeatmapMirror = promptString(reader, out,
		fmt.Sprintf("Beatmap mirror (%s)", strings.Join(names, ", ")), prefs.BeatmapMirror)
	prefs.FakeCountry = promptString(reader, out, "Fake country code (none to disable)", prefs.FakeCountry)

	cfg.mu.Lock()
	cfg.Proxy = proxy
	cfg.mu.Unlock()
	cfg.SetPreferences(prefs)

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration saved.")
	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
