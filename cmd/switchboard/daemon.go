// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/connection"
	"github.com/bureau-foundation/switchboard/lib/connmetrics"
	"github.com/bureau-foundation/switchboard/lib/control"
	"github.com/bureau-foundation/switchboard/lib/handlers"
	"github.com/bureau-foundation/switchboard/lib/netutil"
	"github.com/bureau-foundation/switchboard/lib/workerpool"
)

// metricsShutdownTimeout bounds how long in-flight scrapes may delay
// shutdown.
const metricsShutdownTimeout = 5 * time.Second

// daemon owns everything the switchboard process runs: the worker
// pool, the connection manager with its configured and control
// listeners, and the optional metrics endpoint.
type daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	clock   clock.Clock
	pool    *workerpool.Pool
	manager *connection.Manager
	metrics *connmetrics.Metrics

	metricsServer  *http.Server
	metricsDone    chan struct{}
	metricsAddress string

	// controlAddress is the control socket path actually bound.
	controlAddress string
}

// newDaemon starts every component described by cfg. On failure
// anything already started is shut down before returning.
func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		logger:  logger,
		clock:   clock.Real(),
		metrics: connmetrics.New(),
	}
	d.pool = workerpool.New(workerpool.Config{
		MaxWorkers:  cfg.Pool.MaxWorkers,
		IdleTimeout: cfg.Pool.IdleTimeout,
		Clock:       d.clock,
		Logger:      logger,
	})
	if err := d.metrics.ObservePool("default", d.pool); err != nil {
		return nil, fmt.Errorf("registering pool metrics: %w", err)
	}
	d.manager = connection.NewManager(connection.ManagerConfig{
		Pool:           d.pool,
		GracePeriod:    cfg.Shutdown.GracePeriod,
		DisposeTimeout: cfg.Shutdown.DisposeTimeout,
		Clock:          d.clock,
		Logger:         logger,
		Observer:       d.metrics,
	})

	if err := d.start(ctx); err != nil {
		d.shutdown()
		return nil, err
	}
	return d, nil
}

func (d *daemon) start(ctx context.Context) error {
	deps := handlers.Deps{Snapshot: d.manager.Snapshot, Clock: d.clock}

	for _, listenerConfig := range d.cfg.Listeners {
		if err := d.connectListener(ctx, listenerConfig, deps); err != nil {
			return err
		}
	}
	if err := d.startControl(ctx, deps); err != nil {
		return err
	}
	if d.cfg.Metrics.Address != "" {
		if err := d.startMetrics(); err != nil {
			return err
		}
	}
	return nil
}

// connectListener opens and registers one configured listener.
func (d *daemon) connectListener(ctx context.Context, listenerConfig config.ListenerConfig, deps handlers.Deps) error {
	factory, err := handlers.Lookup(listenerConfig.Handler, deps)
	if err != nil {
		return fmt.Errorf("listener %q: %w", listenerConfig.Name, err)
	}

	network := listenerConfig.NetworkOrDefault()
	listener, err := netutil.Listen(ctx, network, listenerConfig.Address, netutil.ListenOptions{
		ReusePort:   listenerConfig.ReusePort,
		RemoveStale: network == "unix",
	})
	if err != nil {
		return fmt.Errorf("listener %q: %w", listenerConfig.Name, err)
	}

	options := []connection.ConnectOption{
		connection.WithAcceptTimeout(listenerConfig.AcceptTimeout),
	}
	if listenerConfig.AcceptRate > 0 {
		options = append(options, connection.WithAcceptRate(listenerConfig.AcceptRate, listenerConfig.AcceptBurst))
	}
	if err := d.manager.Connect(listenerConfig.Name, listener, factory, options...); err != nil {
		listener.Close()
		return err
	}
	return nil
}

// startControl serves the control socket as a listener of the manager
// it controls.
func (d *daemon) startControl(ctx context.Context, deps handlers.Deps) error {
	socketPath := d.cfg.Control.SocketPath
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return fmt.Errorf("creating control socket directory: %w", err)
	}
	listener, err := netutil.Listen(ctx, "unix", socketPath, netutil.ListenOptions{RemoveStale: true})
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("restricting control socket: %w", err)
	}

	server := control.NewServer(d.logger.With("component", "control"))
	actions := &control.ManagerActions{
		Manager: d.manager,
		Listen: func(ctx context.Context, network, address string) (connection.Listener, error) {
			return netutil.Listen(ctx, network, address, netutil.ListenOptions{RemoveStale: network == "unix"})
		},
		Factory: func(kind string) (connection.HandlerFactory, error) {
			return handlers.Lookup(kind, deps)
		},
		Reserved: []string{config.ReservedListenerName},
	}
	actions.Register(server)

	if err := d.manager.Connect(config.ReservedListenerName, listener, connection.SharedHandler(server)); err != nil {
		listener.Close()
		return err
	}
	d.controlAddress = socketPath
	d.logger.Info("control socket listening", "path", socketPath)
	return nil
}

func (d *daemon) startMetrics() error {
	listener, err := net.Listen("tcp", d.cfg.Metrics.Address)
	if err != nil {
		return fmt.Errorf("metrics endpoint: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", d.metrics.Handler())
	d.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	d.metricsDone = make(chan struct{})
	d.metricsAddress = listener.Addr().String()

	go func() {
		defer close(d.metricsDone)
		if err := d.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	d.logger.Info("metrics endpoint listening", "address", d.metricsAddress)
	return nil
}

// shutdown stops the metrics endpoint, tears down every listener, and
// closes the worker pool. Handlers that ignored cancellation are
// abandoned after the dispose timeout rather than holding the process
// open.
func (d *daemon) shutdown() {
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			d.logger.Warn("stopping metrics endpoint", "error", err)
		}
		cancel()
		<-d.metricsDone
	}

	d.manager.Teardown()

	bound := d.cfg.Shutdown.DisposeTimeout
	if bound <= 0 {
		bound = connection.DefaultDisposeTimeout
	}
	closed := make(chan struct{})
	go func() {
		d.pool.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-d.clock.After(bound):
		d.logger.Warn("worker pool still busy after teardown; exiting anyway",
			"workers", d.pool.Stats().Workers,
		)
	}
}
