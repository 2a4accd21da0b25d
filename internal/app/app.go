// Package app wires the configured components into a running unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reactorboard/internal/adapters/datasets"
	"reactorboard/internal/adapters/httpapi"
	"reactorboard/internal/adapters/ingest"
	"reactorboard/internal/blob"
	"reactorboard/internal/bridge"
	"reactorboard/internal/config"
	"reactorboard/internal/core"
	"reactorboard/internal/fleet"
	"reactorboard/internal/infra/transport/mqtt"
	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

const reconnectDelay = 5 * time.Second

// Run serves until ctx is cancelled or a component fails. Leaders also
// connect the transport, ingest fleet logs and run the export worker.
func Run(ctx context.Context, cfg config.Config, logger *zap.Logger) (err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gate := role.NewGate(cfg.Unit, cfg.LeaderHostname)
	logger = logger.With(zap.String("unit", gate.Unit()), zap.Stringer("role", gate))
	metrics := core.NewMetrics()
	storageCfg := cfg.StorageConfig()

	local, err := core.OpenLocalCache(ctx, storageCfg)
	if err != nil {
		return fmt.Errorf("open local cache: %w", err)
	}
	defer func() { err = errors.Join(err, local.Close()) }()
	logger.Info("local cache opened", zap.String("path", local.Path()))

	var central domain.CentralStore
	if gate.IsLeader() {
		if central, err = core.OpenCentralStore(ctx, storageCfg, gate); err != nil {
			return fmt.Errorf("open central store: %w", err)
		}
		defer func() { err = errors.Join(err, central.Close()) }()
	}

	svc := core.NewService(gate, central, local,
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithQueryDefaults(cfg.QueryDefaults()))

	bridgeOpts := []bridge.Option{
		bridge.WithResolver(svc),
		bridge.WithTopicRoot(cfg.MQTT.TopicRoot),
		bridge.WithLogger(logger),
		bridge.WithMetrics(metrics),
	}
	var (
		transport *mqtt.Client
		ctrl      *fleet.Controller
		exports   *datasets.Worker
	)
	if gate.IsLeader() {
		transport = mqtt.New(mqtt.Config{
			BrokerAddress:  cfg.MQTT.BrokerAddress,
			BrokerPort:     cfg.MQTT.BrokerPort,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ClientID:       cfg.MQTT.ClientID,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			WriteTimeout:   cfg.MQTT.WriteTimeout,
			QueueSize:      cfg.MQTT.QueueSize,
		}, gate,
			mqtt.WithLogger(logger),
			mqtt.WithStateObserver(func(s mqtt.State) { metrics.TransportState(int(s)) }))
		bridgeOpts = append(bridgeOpts, bridge.WithPublisher(transport))
	}
	events := bridge.New(gate, local, bridgeOpts...)

	if gate.IsLeader() {
		ctrl = fleet.NewController(gate, events, fleet.Config{
			Command:       cfg.Fleet.Command,
			PluginCommand: cfg.Fleet.PluginCommand,
			Timeout:       cfg.Fleet.Timeout,
		}, fleet.WithLogger(logger), fleet.WithMetrics(metrics))

		store, oerr := blob.Open(ctx, cfg.BlobConfig())
		if oerr != nil {
			return fmt.Errorf("open export store: %w", oerr)
		}
		exports = datasets.NewWorker(gate, svc, store, datasets.WithLogger(logger), datasets.WithMetrics(metrics))
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Service: svc,
			Bridge:  events,
			Fleet:   ctrl,
			Exports: exports,
			Metrics: metrics,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if gate.IsLeader() {
		exports.Start()
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
			defer cancel()
			return exports.Stop(sctx)
		})
		ingestor := ingest.New(svc, cfg.MQTT.TopicRoot, logger, metrics)
		g.Go(func() error {
			defer transport.Close()
			if !connect(gctx, transport, logger) {
				return nil
			}
			if err := ingestor.Start(transport); err != nil {
				return fmt.Errorf("log ingest: %w", err)
			}
			<-gctx.Done()
			return nil
		})
	}

	if err := events.Log(ctx, fmt.Sprintf("reactorboard started as %s", gate), "reactorboard", domain.LevelInfo); err != nil {
		logger.Warn("record startup event", zap.Error(err))
	}
	runErr := g.Wait()
	events.Wait()
	return runErr
}

// connect retries until the broker accepts the connection. It returns false
// when ctx ends first.
func connect(ctx context.Context, t *mqtt.Client, logger *zap.Logger) bool {
	for {
		err := t.Connect(ctx)
		if err == nil {
			return true
		}
		logger.Warn("transport connect failed", zap.Error(err), zap.Duration("retry_in", reconnectDelay))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(reconnectDelay):
		}
	}
}

func shutdownTimeout(cfg config.Config) time.Duration {
	if cfg.HTTP.ShutdownTimeout > 0 {
		return cfg.HTTP.ShutdownTimeout
	}
	return 10 * time.Second
}
