// IPX800 Bridge
//
// This is the main entry point of the IPX800 bridge. It polls one or more
// IPX800 v1 relay controllers, keeps their logical devices in per-endpoint
// SQLite registries, and serves the state to consumers over WebSocket, REST
// and (optionally) MQTT.
//
// Usage:
//
//	ipx800-bridge                     run the bridge
//	ipx800-bridge token -subject NAME issue a bearer token for a consumer
//
// The configuration file is read from IPXBRIDGE_CONFIG, or configs/config.yaml.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/ipx800-bridge/internal/api"
	"github.com/nerrad567/ipx800-bridge/internal/bridge"
	"github.com/nerrad567/ipx800-bridge/internal/device"
	"github.com/nerrad567/ipx800-bridge/internal/hub"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ipx800-bridge/internal/ipx800"
	"github.com/nerrad567/ipx800-bridge/internal/sinks"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// endpointRuntime groups what is created per configured controller.
type endpointRuntime struct {
	registry *device.Registry
	hub      *hub.Hub
	bridge   *bridge.Bridge
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting IPX800 bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "endpoints", len(cfg.Endpoints))

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if err := os.MkdirAll(cfg.Database.DataDir, 0o750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	runtimes := make([]*endpointRuntime, 0, len(cfg.Endpoints))
	defer func() {
		for _, rt := range runtimes {
			rt.hub.Close()
			if closeErr := rt.registry.Close(); closeErr != nil {
				log.Error("error closing registry", "endpoint", rt.bridge.ID(), "error", closeErr)
			}
		}
	}()

	for _, ep := range cfg.Endpoints {
		rt, startErr := startEndpoint(ctx, cfg, ep, log)
		if startErr != nil {
			return startErr
		}
		runtimes = append(runtimes, rt)
	}

	bridges := make([]*bridge.Bridge, 0, len(runtimes))
	for _, rt := range runtimes {
		bridges = append(bridges, rt.bridge)
	}

	// Tasks start only once every fallible step has succeeded.
	g, gctx := errgroup.WithContext(ctx)
	var tasks []func(context.Context) error

	for _, b := range bridges {
		tasks = append(tasks, b.Run)
	}

	if cfg.MQTT.Enabled {
		mqttClient, mirror, mqttErr := startMQTT(cfg, bridges, log)
		if mqttErr != nil {
			return mqttErr
		}
		tasks = append(tasks, mirror.Run)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT mirror disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, telemetry, influxErr := startTelemetry(cfg, bridges, log)
		if influxErr != nil {
			return influxErr
		}
		tasks = append(tasks, telemetry.Run)
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	} else {
		log.Info("InfluxDB telemetry disabled")
	}

	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.With("component", "api"),
		Bridges:  bridges,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is empty, API and WebSocket are unauthenticated")
	}

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return task(gctx)
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal", "address", apiServer.Addr())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. InfluxDB (if enabled), MQTT (if enabled) and the API server
	// 2. Hubs and registries
	return nil
}

// startEndpoint opens the registry of one controller and builds its bridge.
func startEndpoint(ctx context.Context, cfg *config.Config, ep config.EndpointConfig, log *logging.Logger) (*endpointRuntime, error) {
	epLog := log.ForEndpoint("bridge", ep.ID)

	registry, err := device.Load(ctx, cfg.Database, ep, log.ForEndpoint("registry", ep.ID))
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}

	h := hub.New(ep.ID, cfg.WebSocket.SendBuffer)
	h.SetLogger(log.ForEndpoint("hub", ep.ID))

	b, err := bridge.New(bridge.Options{
		Endpoint:   ep,
		Controller: ipx800.NewClient(ep),
		Registry:   registry,
		Hub:        h,
		Logger:     epLog,
	})
	if err != nil {
		registry.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("creating bridge for %s: %w", ep.ID, err)
	}

	epLog.Info("endpoint ready",
		"address", ep.Address,
		"poll_interval", ep.PollInterval,
		"trigger", ep.Trigger,
		"devices", registry.Count(),
	)
	return &endpointRuntime{registry: registry, hub: h, bridge: b}, nil
}

// startMQTT connects to the broker and prepares the state mirror.
func startMQTT(cfg *config.Config, bridges []*bridge.Bridge, log *logging.Logger) (*mqtt.Client, *sinks.Mirror, error) {
	mqttLog := log.With("component", "mqtt")

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(mqttLog)
	mqttLog.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	endpoints := make([]sinks.Endpoint, 0, len(bridges))
	for _, b := range bridges {
		endpoints = append(endpoints, b)
	}
	mirror := sinks.NewMirror(client, client.Topics(), client.QoS(), endpoints...)
	mirror.SetLogger(mqttLog)

	client.SetOnConnect(func() {
		mqttLog.Info("MQTT reconnected")
		mirror.Republish()
	})
	client.SetOnDisconnect(func(err error) {
		mqttLog.Warn("MQTT disconnected", "error", err)
	})

	return client, mirror, nil
}

// startTelemetry connects to InfluxDB and prepares the telemetry sink.
func startTelemetry(cfg *config.Config, bridges []*bridge.Bridge, log *logging.Logger) (*influxdb.Client, *sinks.Telemetry, error) {
	influxLog := log.With("component", "influxdb")

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		influxLog.Error("InfluxDB write error", "error", err)
	})
	influxLog.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	sources := make([]sinks.Source, 0, len(bridges))
	for _, b := range bridges {
		sources = append(sources, b)
	}
	telemetry := sinks.NewTelemetry(client, sources...)
	telemetry.SetLogger(influxLog)

	return client, telemetry, nil
}

// getConfigPath returns the configuration file path.
// Uses IPXBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IPXBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// issueToken implements the "token" subcommand: it prints a signed bearer
// token for the configured JWT secret.
func issueToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "consumer name stored in the token")
	ttl := fs.Duration("ttl", api.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-subject is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := api.IssueToken(cfg.Security.JWT, *subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
