// osus-proxy - TLS interception proxy for the osu! Bancho protocol.
//
// The proxy terminates TLS for the subdomains of its public domain, forwards
// each request to the matching subdomain of the configured osu! server, and
// rewrites the Bancho packet stream in both directions to apply the user's
// preferences (supporter spoofing, country spoofing, beatmap mirrors).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/osus-project/osus-proxy/internal/api"
	"github.com/osus-project/osus-proxy/internal/cli"
	"github.com/osus-project/osus-proxy/internal/config"
	"github.com/osus-project/osus-proxy/internal/db"
	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/health"
	"github.com/osus-project/osus-proxy/internal/interceptor"
	"github.com/osus-project/osus-proxy/internal/network"
	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/scheduler"
	"github.com/osus-project/osus-proxy/internal/telemetry"
	"github.com/osus-project/osus-proxy/internal/util"
)

const (
	AppVersion = "1.0.0"
	Banner     = `
  ___  ___ _   _ ___       _ __  _ __ _____  ___   _
 / _ \/ __| | | / __|_____| '_ \| '__/ _ \ \/ / | | |
| (_) \__ \ |_| \__ \_____| |_) | | | (_) >  <| |_| |
 \___/|___/\__,_|___/     | .__/|_|  \___/_/\_\\__, |
                          |_|                  |___/  v%s
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	setup := flag.Bool("setup", false, "run the interactive setup wizard and exit")
	noCLI := flag.Bool("no-cli", false, "disable the interactive command line")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults until the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting osus-proxy")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *setup || cfg.IsFirstRun() {
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
		if *setup {
			return
		}
	}

	logCfg := cfg.GetLogging()
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}
	if logCfg.Level == "debug" || logCfg.Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Str("config", cfg.Path()).Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("threads", sysInfo.CPUThreads).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	initial, err := cfg.InitialPreferences()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid initial preferences")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core components
	eventBus := events.NewEventBus()
	store := preferences.NewStore(initial)

	proxyCfg := cfg.GetProxy()
	pipeline := interceptor.NewPipeline(proxyCfg.SourceDomain, eventBus)
	transcoder := interceptor.NewTranscoder(pipeline, store)
	proxy := network.NewProxy(proxyCfg, store, transcoder, eventBus)

	var chatLog *db.ChatLog
	if dbCfg := cfg.GetDatabase(); dbCfg.Enabled {
		chatLog, err = db.NewChatLog(dbCfg.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open chat log, persistence disabled")
		} else {
			chatLog.Subscribe(eventBus)
		}
	}

	var apiServer *api.Server
	if apiCfg := cfg.GetAPI(); apiCfg.Enabled {
		apiServer = api.NewServer(apiCfg, store, eventBus)
		if chatLog != nil {
			apiServer.SetDependencies(proxy, chatLog)
		} else {
			apiServer.SetDependencies(proxy, nil)
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	schedOpts := scheduler.Options{}
	if upd := cfg.GetUpdater(); upd.Enabled {
		schedOpts.Updater = util.NewUpdater(upd.URL, "")
		schedOpts.UpdateInterval = time.Duration(upd.IntervalSec) * time.Second
	}
	if chatLog != nil {
		schedOpts.Pruner = chatLog
		schedOpts.Retention = time.Duration(cfg.GetDatabase().ChatRetentionDays) * 24 * time.Hour
	}
	sched := scheduler.NewScheduler(schedOpts, eventBus)

	healthMgr := health.NewManager(proxyCfg, store, eventBus)
	if apiServer != nil {
		apiServer.SetHealth(healthMgr)
	}

	// ---------------------------------------------------------------
	// Launch concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startWithRetry(ctx, "proxy", proxy.Start, 5); err != nil {
			log.Error().Err(err).Msg("proxy failed")
			errCh <- fmt.Errorf("proxy: %w", err)
		}
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	quitCh := make(chan struct{})
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		select {
		case <-quitCh:
		default:
			close(quitCh)
		}
		return nil
	})

	if !*noCLI {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cli.NewCLI(store, eventBus, proxy, os.Stdin, os.Stdout).Start(ctx)
		}()
	}

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested from CLI")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	eventBus.Stop()

	if chatLog != nil {
		if err := chatLog.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close chat log")
		}
	}

	st := proxy.Stats()
	log.Info().
		Int64("exchanges", st.Exchanges).
		Int64("failures", st.Failures).
		Msg("osus-proxy stopped")
}

// startWithRetry retries startFn on error with a fixed 3-second interval,
// which covers a previous instance still holding the port.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("start failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
