package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/sinkcam/cmd"
	"github.com/smazurov/sinkcam/internal/api"
	"github.com/smazurov/sinkcam/internal/camera"
	"github.com/smazurov/sinkcam/internal/config"
	"github.com/smazurov/sinkcam/internal/convert"
	"github.com/smazurov/sinkcam/internal/events"
	"github.com/smazurov/sinkcam/internal/gpu"
	_ "github.com/smazurov/sinkcam/internal/gpu/soft"
	_ "github.com/smazurov/sinkcam/internal/gpu/wgpu"
	"github.com/smazurov/sinkcam/internal/led"
	"github.com/smazurov/sinkcam/internal/logging"
	"github.com/smazurov/sinkcam/internal/metrics"
	"github.com/smazurov/sinkcam/internal/nats"
	"github.com/smazurov/sinkcam/internal/relay"
	"github.com/smazurov/sinkcam/internal/streaming"
	"github.com/smazurov/sinkcam/internal/synthetic"
	"github.com/smazurov/sinkcam/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Camera settings
	CameraName   string `help:"Camera name used in captions and NATS subjects" default:"sinkcam" toml:"camera.name" env:"CAMERA_NAME"`
	CameraWidth  int    `help:"Synthetic frame width" default:"640" toml:"camera.width" env:"CAMERA_WIDTH"`
	CameraHeight int    `help:"Synthetic frame height" default:"480" toml:"camera.height" env:"CAMERA_HEIGHT"`
	CameraFPS    int    `help:"Relay frame rate" default:"60" toml:"camera.fps" env:"CAMERA_FPS"`

	// Relay settings
	RelayScheduler string `help:"Relay scheduler (timer, task)" default:"timer" toml:"relay.scheduler" env:"RELAY_SCHEDULER"`
	RelayCooldown  string `help:"Error cooldown before retrying the producer" default:"1s" toml:"relay.cooldown" env:"RELAY_COOLDOWN"`
	RelayStall     string `help:"Producer silence before falling back to synthetic frames" default:"1s" toml:"relay.stall_timeout" env:"RELAY_STALL_TIMEOUT"`

	// Depth settings, live reloaded from [depth] in the config file
	DepthNear int `help:"Nearest valid depth in millimetres" default:"10" toml:"depth.clip_near" env:"DEPTH_CLIP_NEAR"`
	DepthFar  int `help:"Farthest valid depth in millimetres" default:"15000" toml:"depth.clip_far" env:"DEPTH_CLIP_FAR"`

	// Conversion settings
	ConvertBackend string `help:"GPU backend for pixel conversion (software, wgpu)" default:"software" toml:"convert.backend" env:"CONVERT_BACKEND"`
	ConvertWorkers int    `help:"Workers for emulating backends (0 = all CPUs)" default:"0" toml:"convert.workers" env:"CONVERT_WORKERS"`

	// NATS settings
	NatsServer   string `help:"NATS server URL, empty disables the bridge" default:"" toml:"nats.server" env:"NATS_SERVER"`
	NatsEmbedded bool   `help:"Run an embedded NATS server" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Tally light
	TallyLED string `help:"Board LED mirroring relay state, empty disables" default:"" toml:"tally.led" env:"TALLY_LED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRelay     string `help:"Relay logging level" default:"info" toml:"logging.relay" env:"LOGGING_RELAY"`
	LoggingConvert   string `help:"Conversion logging level" default:"info" toml:"logging.convert" env:"LOGGING_CONVERT"`
	LoggingStreaming string `help:"Websocket transport logging level" default:"info" toml:"logging.streaming" env:"LOGGING_STREAMING"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingNats      string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root().Flags()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"relay":     opts.LoggingRelay,
				"convert":   opts.LoggingConvert,
				"streaming": opts.LoggingStreaming,
				"api":       opts.LoggingAPI,
				"nats":      opts.LoggingNats,
			},
		})
		logger := logging.GetLogger("main")

		eventBus := events.New()
		api.PublishLogs(eventBus)

		gpuCtx, err := gpu.Open(gpu.Config{
			Backend: opts.ConvertBackend,
			Workers: opts.ConvertWorkers,
		}, logging.GetLogger("gpu"))
		if err != nil {
			logger.Error("Failed to open GPU context", "error", err)
			os.Exit(1)
		}
		converter, err := convert.New(gpuCtx, convert.WithLogger(logging.GetLogger("convert")))
		if err != nil {
			logger.Error("Failed to create pixel format converter", "error", err)
			os.Exit(1)
		}

		syn := synthetic.DefaultConfig()
		syn.Label = opts.CameraName
		syn.Width = uint32(max(opts.CameraWidth, 0))
		syn.Height = uint32(max(opts.CameraHeight, 0))
		if opts.CameraFPS > 0 {
			syn.Interval = time.Second / time.Duration(opts.CameraFPS)
		}

		cam, err := camera.New(camera.Config{
			Synthetic:    syn,
			Scheduler:    opts.RelayScheduler,
			Cooldown:     parseDuration(opts.RelayCooldown, relay.DefaultCooldown),
			StallTimeout: parseDuration(opts.RelayStall, relay.DefaultStallTimeout),
			Depth: convert.DepthParams{
				ClipNear: uint32(max(opts.DepthNear, 0)),
				ClipFar:  uint32(max(opts.DepthFar, 0)),
			},
		}, converter, eventBus, logging.GetLogger("relay"))
		if err != nil {
			logger.Error("Failed to create camera", "error", err)
			os.Exit(1)
		}

		server := api.NewServer(&api.Options{
			AuthUsername:   opts.AuthUsername,
			AuthPassword:   opts.AuthPassword,
			Camera:         cam,
			EventBus:       eventBus,
			MetricsHandler: metrics.Handler(),
			Logger:         logging.GetLogger("api"),
		})

		streamingLogger := logging.GetLogger("streaming")
		wsServer := streaming.NewServer(cam, streaming.NewHub(streamingLogger), streamingLogger)
		wsServer.Register(server.Mux())
		streaming.RegisterAPI(server.API(), wsServer.Hub())

		depthWatcher := config.NewConfigWatcher(opts.Config, config.LoadDepthParams, logging.GetLogger("config"))
		depthWatcher.OnReload(func(p convert.DepthParams) {
			if setErr := cam.SetDepthParams(p, "config"); setErr != nil {
				logger.Warn("Ignoring depth range from config", "error", setErr)
			}
		})

		var tally *led.Manager
		if opts.TallyLED != "" {
			tally = led.NewManager(led.New(logger), opts.TallyLED, eventBus, logging.GetLogger("led"))
		}

		notifier := systemd.NewNotifier(logger)
		eventBus.Subscribe(func(e events.RelayStateChangedEvent) {
			notifier.Status("relay %s", e.State)
		})

		natsLogger := logging.GetLogger("nats")
		var natsServer *nats.Server
		var bridge *nats.Bridge

		hooks.OnStart(func() {
			if opts.NatsEmbedded {
				natsServer = nats.NewServer(nats.ServerOptions{Port: opts.NatsPort, Logger: natsLogger})
				if startErr := natsServer.Start(context.Background()); startErr != nil {
					logger.Error("Failed to start embedded NATS server", "error", startErr)
					os.Exit(1)
				}
				if opts.NatsServer == "" {
					opts.NatsServer = natsServer.ClientURL()
				}
			}
			if opts.NatsServer != "" {
				bridge = nats.NewBridge(opts.NatsServer, opts.CameraName, eventBus, cam, natsLogger)
				if startErr := bridge.Start(); startErr != nil {
					logger.Warn("NATS bridge unavailable, continuing without it", "error", startErr)
					bridge = nil
				}
			}

			if startErr := depthWatcher.Start(); startErr != nil {
				logger.Warn("Failed to watch config file", "path", opts.Config, "error", startErr)
			}

			if tally != nil {
				tally.Start()
			}
			notifier.StartWatchdog()
			notifier.Ready()

			logger.Info("Starting HTTP server", "port", opts.Port, "camera", opts.CameraName)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Consumers detach as their sockets close, which stops the relay.
			wsServer.Stop()
			if stopErr := depthWatcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
			if bridge != nil {
				bridge.Stop()
			}
			if natsServer != nil {
				natsServer.Stop()
			}

			if tally != nil {
				tally.Stop()
			}
			cam.Close()
			converter.Close()
			gpuCtx.Close()
		})
	})

	cli.Root().Use = "sinkcam"
	cli.Root().AddCommand(cmd.CreatePushCmd())
	cli.Root().AddCommand(cmd.CreateControlCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	cli.Run()
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
