// adbmux runs one adb command on every connected Android device.
//
// Usage:
//
//	adbmux [flags] "<adb command>"
//
// The leading "adb" of the command is optional. With -continue the command
// also runs on every device that connects (or comes online) while adbmux is
// running, until it receives SIGINT or SIGTERM.
//
// Optional integrations are switched on in the config file: a SQLite device
// history, MQTT publishing, InfluxDB metrics and a read-only status API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/nerrad567/adbmux/migrations"

	"github.com/nerrad567/adbmux/internal/adb"
	"github.com/nerrad567/adbmux/internal/api"
	"github.com/nerrad567/adbmux/internal/console"
	"github.com/nerrad567/adbmux/internal/device"
	"github.com/nerrad567/adbmux/internal/history"
	"github.com/nerrad567/adbmux/internal/infrastructure/config"
	"github.com/nerrad567/adbmux/internal/infrastructure/database"
	"github.com/nerrad567/adbmux/internal/infrastructure/influxdb"
	"github.com/nerrad567/adbmux/internal/infrastructure/logging"
	"github.com/nerrad567/adbmux/internal/infrastructure/mqtt"
	"github.com/nerrad567/adbmux/internal/publish"
	"github.com/nerrad567/adbmux/internal/runner"
	"github.com/nerrad567/adbmux/internal/watch"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is read when present; its absence is not an error.
const defaultConfigPath = "adbmux.yaml"

// configEnv names the config file when -config is not given.
const configEnv = "ADBMUX_CONFIG"

// errUsage reports a command line that could not be parsed. The details
// have already been printed with the usage text.
var errUsage = errors.New("invalid usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps run errors to process exit codes: 2 for usage errors,
// 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, errUsage) {
		return 2
	}
	return 1
}

// options holds the parsed command line.
type options struct {
	continuous  bool
	noColor     bool
	configPath  string
	configSet   bool
	parallel    int
	interval    time.Duration
	serve       bool
	showVersion bool
	help        bool
	command     string
}

// parseFlags parses args into options. Usage problems are printed to
// stderr and reported as errUsage.
func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("adbmux", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Executes ADB commands on all connected devices.\n\n")
		fmt.Fprintf(fs.Output(), "Usage: adbmux [flags] \"<adb command>\"\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(fs.Output(), "\nExample: adbmux -c \"adb install myApp.apk\"\n")
	}

	fs.BoolVar(&opts.continuous, "c", false, "shorthand for -continue")
	fs.BoolVar(&opts.continuous, "continue", false, "keep running the command on devices connected later, until interrupted")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")
	fs.StringVar(&opts.configPath, "config", "", "config file (default $"+configEnv+" or "+defaultConfigPath+" if present)")
	fs.IntVar(&opts.parallel, "parallel", 0, "devices to run the command on at once (overrides runner.parallelism)")
	fs.DurationVar(&opts.interval, "interval", 0, "device poll interval with -continue (overrides watch.interval)")
	fs.BoolVar(&opts.serve, "serve", false, "start the status API (implies api.enabled)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			opts.help = true
			return opts, nil
		}
		return nil, errUsage
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			opts.configSet = true
		}
	})

	if opts.showVersion {
		return opts, nil
	}

	if opts.parallel < 0 {
		fmt.Fprintf(stderr, "-parallel must not be negative, got %d\n", opts.parallel)
		return nil, errUsage
	}
	if opts.interval < 0 {
		fmt.Fprintf(stderr, "-interval must not be negative, got %s\n", opts.interval)
		return nil, errUsage
	}

	opts.command = strings.TrimSpace(strings.Join(fs.Args(), " "))
	if opts.command == "" || opts.command == "adb" {
		fmt.Fprintln(stderr, "an adb command is required")
		fs.Usage()
		return nil, errUsage
	}

	return opts, nil
}

// loadConfig reads the config named on the command line, by $ADBMUX_CONFIG
// or the default path, and applies flag overrides.
func loadConfig(opts *options) (*config.Config, string, error) {
	path := opts.configPath
	explicit := opts.configSet
	if !explicit {
		if env := os.Getenv(configEnv); env != "" {
			path, explicit = env, true
		} else {
			path = defaultConfigPath
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if explicit {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOptional(path)
	}
	if err != nil {
		return nil, path, err
	}

	if opts.parallel > 0 {
		cfg.Runner.Parallelism = opts.parallel
	}
	if opts.interval > 0 {
		cfg.Watch.Interval = opts.interval
	}
	if opts.serve {
		cfg.API.Enabled = true
	}
	return cfg, path, nil
}

// newLogger builds the configured logger. Logs bound for stderr follow the
// stderr writer given to run.
func newLogger(cfg config.LoggingConfig, stderr io.Writer) *logging.Logger {
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		return logging.NewWithWriter(stderr, cfg, version)
	default:
		return logging.New(cfg, version)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//   - stdout: Destination for device listings and command output
//   - stderr: Destination for problems, usage and logs
//
// Returns:
//   - error: nil when every device ran the command (or there was nothing to
//     run on), errUsage for a bad command line, or the first failure
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.help {
		return nil
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "adbmux %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, configPath, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger(cfg.Logging, stderr)
	log.Info("starting adbmux",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	// adb server (only when managed) and the bridge that talks through it
	adbServer, err := adb.NewServer(adb.ServerConfig{
		Managed:             cfg.ADB.Server.Managed,
		Binary:              cfg.ADB.Binary,
		Port:                cfg.ADB.Server.Port,
		ListenAll:           cfg.ADB.Server.ListenAll,
		RestartOnFailure:    cfg.ADB.Server.RestartOnFailure,
		RestartDelay:        cfg.ADB.Server.RestartDelay,
		MaxRestartAttempts:  cfg.ADB.Server.MaxRestartAttempts,
		HealthCheckInterval: cfg.ADB.Server.HealthCheckInterval,
	})
	if err != nil {
		return fmt.Errorf("creating adb server: %w", err)
	}
	adbServer.SetLogger(log.Component("adb-server"))
	if err := adbServer.Start(ctx); err != nil {
		return fmt.Errorf("starting adb server: %w", err)
	}
	defer adbServer.Stop()

	bridge := adb.NewBridge(adb.Config{
		Binary:         cfg.ADB.Binary,
		ListTimeout:    cfg.ADB.ListTimeout,
		CommandTimeout: cfg.ADB.CommandTimeout,
		ServerPort:     adbServer.Port(),
	})
	bridge.SetLogger(log.Component("adb"))

	registry, err := device.NewRegistry(ctx, bridge.ListDevices, log.Component("registry"))
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	printer := console.NewPrinter(stdout, stderr, !opts.noColor)

	// Optional integrations. Each adds its listener and reporter to the
	// fan-outs below.
	listeners := watch.NewListeners(log.Component("watch"))
	listeners.Add("console", printer.Changeset)
	reporters := []runner.Reporter{printer.Result}

	store, db, err := openHistory(ctx, cfg.History, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()
		listeners.Add("history", store.Listener())
		reporters = append(reporters, store.Reporter())
	}

	mqttClient, publisher, err := connectMQTT(cfg.MQTT, registry, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		listeners.Add("mqtt", publisher.Listener())
		reporters = append(reporters, publisher.Reporter())
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		reporters = append(reporters, influxReporter(influxClient))
	}

	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, log, registry, store, mqttClient, influxClient, adbServer)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			log.Info("stopping status API")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping status API", "error", closeErr)
			}
		}()
		listeners.Add("api", apiServer.Listener())
		reporters = append(reporters, apiServer.Reporter())
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	r, err := runner.New(bridge, runner.Options{
		Parallelism: cfg.Runner.Parallelism,
		Announce:    printer.Devices,
		Reporter:    runner.Reporters(reporters...),
		Logger:      log.Component("runner"),
	})
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}

	// Always run once for the devices connected right now.
	batch, err := r.ExecuteOnline(ctx, registry, opts.command)
	if !printer.Outcome(err) {
		return err
	}

	if !opts.continuous {
		return batch.Err()
	}

	if batchErr := batch.Err(); batchErr != nil {
		printer.Error(batchErr)
	}

	listeners.Add("rerun", r.Rerun(ctx, registry, opts.command, func(b runner.Batch, err error) {
		if !printer.Outcome(err) {
			printer.Error(err)
			return
		}
		if batchErr := b.Err(); batchErr != nil {
			printer.Error(batchErr)
		}
	}))

	return watchDevices(ctx, cfg.Watch, registry, listeners, influxClient, log)
}

// watchDevices polls adb until ctx is cancelled and hands every changeset
// to listeners.
func watchDevices(ctx context.Context, cfg config.WatchConfig, registry *device.Registry, listeners *watch.Listeners, influxClient *influxdb.Client, log *logging.Logger) error {
	wlog := log.Component("watch")

	opts := watch.Options{
		Interval:       cfg.Interval,
		RefreshTimeout: cfg.RefreshTimeout,
		OnError: func(err error) {
			wlog.Warn("device refresh failed", "error", err)
		},
		Logger: wlog,
	}
	if influxClient != nil {
		opts.OnPoll = func(p watch.Poll) {
			influxClient.WritePoll(p.Duration, p.Changeset.Len(), p.Err != nil, p.Started)
			stats := registry.Stats()
			influxClient.WriteDeviceCounts(influxdb.DeviceCounts{
				Online:    stats.Online,
				Offline:   stats.Offline,
				Emulators: stats.Emulators,
			}, p.Started)
		}
	}

	scheduler, err := watch.NewScheduler(registry, opts)
	if err != nil {
		return fmt.Errorf("creating watch scheduler: %w", err)
	}
	if err := scheduler.Start(ctx, listeners.Notify); err != nil {
		return fmt.Errorf("starting watch: %w", err)
	}
	log.Info("watching for devices", "interval", scheduler.Interval(), "listeners", listeners.Len())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	scheduler.Stop()
	return nil
}

// openHistory opens the SQLite history database when it is enabled.
// Both returns are nil when history is disabled.
func openHistory(ctx context.Context, cfg config.HistoryConfig, log *logging.Logger) (*history.Store, *database.DB, error) {
	if !cfg.Enabled {
		log.Debug("device history disabled")
		return nil, nil, nil
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("history database ready", "path", cfg.Path)

	store := history.NewStore(db)
	store.SetLogger(log.Component("history"))

	if cfg.Retention > 0 {
		pruned, err := store.Prune(ctx, cfg.Retention)
		if err != nil {
			log.Warn("pruning history failed", "error", err)
		} else if pruned > 0 {
			log.Info("pruned history", "rows", pruned, "older_than", cfg.Retention)
		}
	}
	return store, db, nil
}

// connectMQTT connects to the broker when MQTT is enabled and builds the
// publisher. On every (re)connect the retained device states are refreshed
// from the registry. Both returns are nil when MQTT is disabled.
func connectMQTT(cfg config.MQTTConfig, registry *device.Registry, log *logging.Logger) (*mqtt.Client, *publish.Publisher, error) {
	if !cfg.Enabled {
		log.Debug("MQTT disabled")
		return nil, nil, nil
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)

	publisher, err := publish.New(client, client.Topics(), client.QoS())
	if err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("creating MQTT publisher: %w", err)
	}
	publisher.SetLogger(log.Component("publish"))

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		if err := publisher.PublishSnapshot(registry.All()); err != nil {
			log.Warn("publishing device states failed", "error", err)
		}
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := publisher.PublishSnapshot(registry.All()); err != nil {
		log.Warn("publishing device states failed", "error", err)
	}
	return client, publisher, nil
}

// startAPI creates and starts the status API. Optional dependencies are
// only set when present so the API sees a nil interface for them.
func startAPI(ctx context.Context, cfg *config.Config, log *logging.Logger, registry *device.Registry,
	store *history.Store, mqttClient *mqtt.Client, influxClient *influxdb.Client, adbServer *adb.Server,
) (*api.Server, error) {
	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log.Component("api"),
		Devices:   registry,
		ADBServer: adbServer,
		Version:   version,
	}
	if store != nil {
		deps.History = store
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}

	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating status API: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting status API: %w", err)
	}
	log.Info("status API listening", "address", server.Addr().String())
	return server, nil
}

// influxReporter records every command result as a point.
func influxReporter(client *influxdb.Client) runner.Reporter {
	return func(res runner.Result) {
		client.WriteCommandRun(res.Device.ID, res.Device.Model, res.OK(), res.Duration, len(res.Output), res.Started)
	}
}

// healthCheck verifies the optional infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: History database (nil when disabled)
//   - mqttClient: MQTT client (nil when disabled)
//   - influxClient: InfluxDB client (nil when disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
