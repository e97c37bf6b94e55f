package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/scanout/cmd"
	"github.com/smazurov/scanout/internal/api"
	"github.com/smazurov/scanout/internal/config"
	"github.com/smazurov/scanout/internal/display"
	"github.com/smazurov/scanout/internal/events"
	"github.com/smazurov/scanout/internal/logging"
	"github.com/smazurov/scanout/internal/metrics"
	"github.com/smazurov/scanout/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Display settings
	TopologyFile string `help:"Display topology file" default:"topology.toml" toml:"display.topology_file" env:"DISPLAY_TOPOLOGY_FILE"`
	AutoEnable   bool   `help:"Enable every pipeline at startup" default:"true" toml:"display.auto_enable" env:"DISPLAY_AUTO_ENABLE"`
	VblankManual bool   `help:"Disable the simulated vblank generators" default:"false" toml:"display.vblank_manual" env:"DISPLAY_VBLANK_MANUAL"`

	// Pipeline timing
	DisableTimeout    time.Duration `help:"Bound on the wait for hardware to settle during disable" default:"500ms" toml:"pipeline.disable_timeout" env:"PIPELINE_DISABLE_TIMEOUT"`
	VblankWaitTimeout time.Duration `help:"Bound on the wait for one refresh during disable" default:"100ms" toml:"pipeline.vblank_wait_timeout" env:"PIPELINE_VBLANK_WAIT_TIMEOUT"`
	FlushTimeout      time.Duration `help:"Bound on the wait for the sequencer to release a packet" default:"2s" toml:"sequencer.flush_timeout" env:"SEQUENCER_FLUSH_TIMEOUT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json, pretty)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingPipeline  string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingSequencer string `help:"Sequencer logging level" default:"info" toml:"logging.sequencer" env:"LOGGING_SEQUENCER"`
	LoggingDisplay   string `help:"Display manager logging level" default:"info" toml:"logging.display" env:"LOGGING_DISPLAY"`
	LoggingHW        string `help:"Simulated hardware logging level" default:"info" toml:"logging.hw" env:"LOGGING_HW"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"pipeline":  o.LoggingPipeline,
			"sequencer": o.LoggingSequencer,
			"display":   o.LoggingDisplay,
			"hw":        o.LoggingHW,
			"api":       o.LoggingAPI,
		},
	}
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Flags set on the command line keep precedence over env and TOML.
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")
		logger.Info("Starting", "build", version.Get().String(), "topology", opts.TopologyFile)

		topo, err := config.LoadTopology(opts.TopologyFile)
		if err != nil {
			logger.Error("Failed to load topology", "error", err)
			os.Exit(1)
		}

		eventBus := events.New()
		eventBus.Subscribe(func(e events.SequencerTimeoutEvent) {
			logger.Warn("Sequencer stalled", "pipeline", e.Pipeline, "packet_seq", e.PacketSeq)
		})

		mgr, hwd, err := display.BuildSimulated(topo, display.Options{
			Bus:               eventBus,
			ManualVblank:      opts.VblankManual,
			DisableTimeout:    opts.DisableTimeout,
			VblankWaitTimeout: opts.VblankWaitTimeout,
			FlushTimeout:      opts.FlushTimeout,
			OnStateChange: func(name string, oldState, newState display.State, err error) {
				if err != nil {
					logger.Error("Pipeline state changed", "pipeline", name, "from", oldState, "to", newState, "error", err)
					return
				}
				logger.Info("Pipeline state changed", "pipeline", name, "from", oldState, "to", newState)
			},
		})
		if err != nil {
			logger.Error("Failed to build display", "error", err)
			os.Exit(1)
		}
		logger.Info("Display ready", "components", len(hwd.Components), "pipelines", len(topo.Pipelines))

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Manager:           mgr,
			EventBus:          eventBus,
			PrometheusHandler: metrics.Handler(),
		})

		// Log levels follow the config file without a restart.
		watcher := config.NewConfigWatcher(opts.Config, config.ReadLoggingConfig, logging.GetLogger("config"))
		watcher.OnReload(func(cfg logging.Config) {
			merged := opts.loggingConfig()
			if cfg.Level != "" {
				merged.Level = cfg.Level
			}
			for module, level := range cfg.Modules {
				merged.Modules[module] = level
			}
			logging.UpdateLevels(merged)
			logger.Info("Log levels reloaded", "level", merged.Level)
		})

		hooks.OnStart(func() {
			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Failed to start config watcher, hot-reload disabled", "error", startErr)
			}

			if opts.AutoEnable {
				if enableErr := mgr.EnableAll(context.Background()); enableErr != nil {
					logger.Error("Not every pipeline could be enabled", "error", enableErr)
				}
			}

			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if stopErr := server.Stop(ctx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			_ = watcher.Stop()

			// Pipelines go down after the API stops accepting commits.
			mgr.Close()
		})
	})

	cli.Root().Use = "scanout"
	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreateSimulateCmd())
	cli.Root().AddCommand(cmd.CreateValidateTopologyCmd())

	cli.Run()
}
