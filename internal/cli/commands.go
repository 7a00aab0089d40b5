// Package cli implements the interactive terminal editor for the proxy's
// interception preferences.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/network"
	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/protocol"
	"github.com/osus-project/osus-proxy/internal/util"
)

// StatsProvider reports proxy counters.
type StatsProvider interface {
	Stats() network.Stats
}

// CLI reads commands from in and writes results to out.
type CLI struct {
	store    *preferences.Store
	eventBus *events.EventBus
	stats    StatsProvider
	in       io.Reader
	out      io.Writer
	logger   zerolog.Logger
}

// NewCLI creates a CLI. stats may be nil.
func NewCLI(store *preferences.Store, eventBus *events.EventBus, stats StatsProvider, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		store:    store,
		eventBus: eventBus,
		stats:    stats,
		in:       in,
		out:      out,
		logger:   util.ComponentLogger("cli"),
	}
}

// Start runs the command loop until ctx is cancelled, input ends, or the
// user quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nosus-proxy CLI ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn().Err(err).Msg("CLI input closed")
		}
	}()

	for {
		fmt.Fprint(c.out, "osus> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		quit, err := c.execute(strings.ToLower(parts[0]), parts[1:])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// execute runs one command and reports whether the loop should end.
func (c *CLI) execute(cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "supporter":
		return false, c.cmdSupporter(args)
	case "server":
		return false, c.cmdServer(args)
	case "mirror":
		return false, c.cmdMirror(args)
	case "country":
		return false, c.cmdCountry(args)
	case "countries":
		c.printCountries()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down osus-proxy...")
		c.eventBus.Publish(events.EventShutdown, "cli", nil)
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  status               Show preferences and proxy counters
  supporter on|off     Toggle supporter spoofing
  server <domain>      Set the backend server (e.g. ppy.sh)
  mirror <name>        Set the beatmap mirror (`+mirrorNames()+`)
  country <code|none>  Spoof the displayed country, or stop spoofing
  countries            List country codes
  quit                 Shut down the proxy
  help                 Show this help message`)
}

func (c *CLI) printStatus() {
	p := c.store.Snapshot()

	country := "none"
	if p.FakeCountry != nil {
		country = p.FakeCountry.String()
	}
	userID := "-"
	if p.UserID != nil {
		userID = fmt.Sprintf("%d", *p.UserID)
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Setting", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.Append([]string{"Server", p.ServerAddress})
	tw.Append([]string{"Fake supporter", onOff(p.FakeSupporter)})
	tw.Append([]string{"Beatmap mirror", p.BeatmapMirror.Label()})
	tw.Append([]string{"Fake country", country})
	tw.Append([]string{"User ID", userID})

	if c.stats != nil {
		st := c.stats.Stats()
		tw.Append([]string{"Exchanges", fmt.Sprintf("%d (%d bancho, %d failed)", st.Exchanges, st.Bancho, st.Failures)})
		tw.Append([]string{"Packets", fmt.Sprintf("%d in / %d out", st.PacketsIn, st.PacketsOut)})
		tw.Append([]string{"Mirror redirects", fmt.Sprintf("%d", st.Redirects)})
	}
	tw.Render()
}

func (c *CLI) printCountries() {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Code", "Name"})
	tw.SetBorder(true)
	for _, country := range protocol.Countries() {
		tw.Append([]string{fmt.Sprintf("%d", uint8(country)), country.String()})
	}
	tw.Render()
}

func (c *CLI) cmdSupporter(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: supporter on|off")
	}
	var on bool
	switch strings.ToLower(args[0]) {
	case "on", "true", "yes":
		on = true
	case "off", "false", "no":
	default:
		return fmt.Errorf("usage: supporter on|off")
	}
	return c.apply(preferences.Patch{FakeSupporter: &on})
}

func (c *CLI) cmdServer(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: server <domain>")
	}
	return c.apply(preferences.Patch{ServerAddress: &args[0]})
}

func (c *CLI) cmdMirror(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mirror <%s>", mirrorNames())
	}
	m, err := preferences.ParseMirror(args[0])
	if err != nil {
		return err
	}
	return c.apply(preferences.Patch{BeatmapMirror: &m})
}

func (c *CLI) cmdCountry(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: country <code|none>")
	}
	return c.apply(preferences.Patch{FakeCountry: &args[0]})
}

func (c *CLI) apply(patch preferences.Patch) error {
	updated, err := c.store.Apply(patch)
	if err != nil {
		return err
	}
	c.eventBus.Publish(events.EventPreferencesChanged, "cli", events.PreferencesChangedPayload{
		Source:      "cli",
		Preferences: updated,
	})
	fmt.Fprintln(c.out, "Preferences updated.")
	return nil
}

func mirrorNames() string {
	names := make([]string, 0, 4)
	for _, m := range preferences.Mirrors() {
		names = append(names, m.String())
	}
	return strings.Join(names, "|")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
