// Gray Logic Node - MQTT field node agent
//
// This is the main entry point for a Gray Logic node. The node keeps a
// single broker session alive, announces itself through a retained
// online/offline status topic (with the offline payload registered as
// Last Will) and optionally sends a periodic heartbeat.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-node/internal/api"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/supervisor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "GRAYLOGIC_NODE_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "graylogic-node",
		Short:         "Gray Logic MQTT node agent",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to the YAML configuration file (env "+configEnv+")")

	return cmd
}

// resolveConfigPath prefers the flag, then the environment, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Gray Logic Node",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("node_id", cfg.Node.ID)
	defer func() { _ = log.Sync() }()
	log.Info("configuration loaded", "path", configPath, "client_id", cfg.MQTT.Broker.ClientID)

	transport, err := mqtt.New(cfg.MQTT, log)
	if err != nil {
		return fmt.Errorf("creating MQTT transport: %w", err)
	}

	collector := metrics.NewCollector()
	observers := supervisor.Observers{collector}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		observers = append(observers, hub)
	}

	checks := map[string]api.HealthChecker{}
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Node.ID)
		if influxErr != nil {
			// Telemetry is optional; the node runs without it.
			log.Warn("InfluxDB unavailable, telemetry disabled", "error", influxErr)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Warn("InfluxDB write error", "error", err)
			})
			observers = append(observers, influxClient)
			checks["influxdb"] = influxClient
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	n, err := node.New(node.Deps{
		Config:    cfg,
		Transport: transport,
		Logger:    log,
		Observer:  observers,
	})
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}

	if err := n.Initialize(ctx); err != nil {
		return fmt.Errorf("initialising node: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Status:  n.Supervisor(),
			Metrics: collector.Handler(),
			Hub:     hub,
			Checks:  checks,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	g.Go(func() error {
		return n.Run(gctx)
	})

	g.Go(func() error {
		err := config.Watch(gctx, configPath, n.ApplyConfig, func(err error) {
			log.Warn("ignoring invalid configuration change", "error", err)
		})
		if err != nil {
			// Hot reload is best effort.
			log.Warn("configuration watch stopped", "error", err)
		}
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Gray Logic Node stopped")
	return nil
}
