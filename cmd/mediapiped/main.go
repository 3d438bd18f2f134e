// Package main implements the entry point for mediapiped, the multi-stream
// media conversion daemon. It fans captured frames out to N conversion
// streams on a hardware (or loopback) memory-to-memory device and exposes
// Prometheus metrics, a WebSocket monitor and NATS event publishing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/makewise-vision/libcamera-raspberrypi/buffer"
	"github.com/makewise-vision/libcamera-raspberrypi/config"
	"github.com/makewise-vision/libcamera-raspberrypi/converter"
	"github.com/makewise-vision/libcamera-raspberrypi/device"
	"github.com/makewise-vision/libcamera-raspberrypi/device/loopback"
	"github.com/makewise-vision/libcamera-raspberrypi/dispatch"
	"github.com/makewise-vision/libcamera-raspberrypi/gateway"
	"github.com/makewise-vision/libcamera-raspberrypi/metric"
	"github.com/makewise-vision/libcamera-raspberrypi/notifier"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mediapiped"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	// Everything engine-related runs on this loop.
	loop := dispatch.NewLoop(logger)
	loop.Run()
	defer loop.Stop()

	metrics := metric.NewRegistry()

	conv, err := buildConverter(cfg, loop, metrics, logger)
	if err != nil {
		return err
	}

	natsConn, events, err := connectEvents(cfg, logger)
	if err != nil {
		return err
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	monitor := gateway.NewMonitor(gateway.MonitorDeps{
		Status:  statusFunc(loop, conv),
		Logger:  logger,
		Metrics: metrics,
	})
	defer monitor.Close()

	pump, err := startPipeline(cfg, cliCfg, loop, conv, events, monitor, logger)
	if err != nil {
		return err
	}

	servers := startServers(cfg, metrics, monitor, logger)

	events.State(converter.StateStarted.String())
	slog.Info("mediapiped started",
		"device_class", cfg.Device.Class,
		"device_node", cfg.Device.Node,
		"streams", len(cfg.Outputs))

	return runWithSignalHandling(loop, conv, pump, events, servers, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting mediapiped (multi-stream media conversion)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// buildConverter resolves the configured backend and creates the engine.
// Device completions are bridged onto the dispatch loop so the engine's
// serialization contract holds regardless of which goroutine the backend
// completes from.
func buildConverter(
	cfg config.Config,
	loop *dispatch.Loop,
	metrics *metric.Registry,
	logger *slog.Logger,
) (*converter.Converter, error) {
	registry := device.NewRegistry()
	if err := loopback.Register(registry); err != nil {
		return nil, fmt.Errorf("register backends: %w", err)
	}

	registration, err := registry.Get(cfg.Device.Class)
	if err != nil {
		return nil, fmt.Errorf("device class %q (available: %v): %w",
			cfg.Device.Class, registry.List(), err)
	}
	slog.Info("Device backend selected",
		"class", registration.Name, "description", registration.Description)

	factory := func(node string, l *slog.Logger) (device.Handle, error) {
		h, err := registration.Factory(node, l)
		if err != nil {
			return nil, err
		}
		return device.Dispatched(h, func(task func()) {
			if err := loop.Post(task); err != nil {
				logger.Debug("Dropped completion after loop stop", "error", err)
			}
		}), nil
	}

	return converter.New(converter.Deps{
		Node:    cfg.Device.Node,
		Factory: factory,
		Logger:  logger,
		Metrics: metrics,
	})
}

// connectEvents establishes the optional NATS connection.
func connectEvents(cfg config.Config, logger *slog.Logger) (*nats.Conn, *notifier.Notifier, error) {
	if cfg.Events.URL == "" {
		slog.Info("Event publishing disabled (no NATS URL configured)")
		return nil, nil, nil
	}

	conn, err := nats.Connect(cfg.Events.URL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", cfg.Events.URL, err)
	}

	slog.Info("Connected to NATS", "url", cfg.Events.URL, "subject_prefix", cfg.Events.SubjectPrefix)
	return conn, notifier.New(conn, cfg.Events.SubjectPrefix, logger), nil
}

// statusFunc bridges monitor status requests onto the dispatch loop.
func statusFunc(loop *dispatch.Loop, conv *converter.Converter) gateway.StatusFunc {
	return func() gateway.Status {
		var st gateway.Status
		err := loop.PostAndWait(func() {
			st = gateway.Status{
				State:   conv.State().String(),
				Streams: conv.StreamCount(),
				Pending: conv.PendingConversions(),
			}
		})
		if err != nil {
			st.State = "stopped"
		}
		return st
	}
}

// startPipeline configures and starts the engine on the dispatch loop and
// wires completion events to the notifier, the monitor and the frame pump.
func startPipeline(
	cfg config.Config,
	cliCfg *CLIConfig,
	loop *dispatch.Loop,
	conv *converter.Converter,
	events *notifier.Notifier,
	monitor *gateway.Monitor,
	logger *slog.Logger,
) (*framePump, error) {
	input, err := cfg.Input.Description()
	if err != nil {
		return nil, err
	}
	outputs, err := cfg.OutputDescriptions()
	if err != nil {
		return nil, err
	}

	var pump *framePump
	setup := func() error {
		if err := conv.Configure(input, outputs); err != nil {
			return fmt.Errorf("configure converter: %w", err)
		}

		if cliCfg.FrameInterval > 0 {
			pump, err = newFramePump(loop, conv, input, outputs, cliCfg.FrameInterval, logger)
			if err != nil {
				return err
			}
		}

		conv.InputBufferDone = func(b *buffer.FrameBuffer) {
			events.InputComplete(b)
			monitor.Broadcast(completionEvent{Type: "input_complete", Buffer: uint64(b.ID())})
			if pump != nil {
				pump.onInputDone(b)
			}
		}
		conv.OutputBufferDone = func(stream int, b *buffer.FrameBuffer) {
			events.OutputComplete(stream, b)
			monitor.Broadcast(completionEvent{
				Type: "output_complete", Buffer: uint64(b.ID()), Stream: &stream,
			})
			if pump != nil {
				pump.onOutputDone(stream, b)
			}
		}

		if err := conv.Start(); err != nil {
			return fmt.Errorf("start converter: %w", err)
		}
		return nil
	}

	var setupErr error
	if err := loop.PostAndWait(func() { setupErr = setup() }); err != nil {
		return nil, err
	}
	if setupErr != nil {
		return nil, setupErr
	}

	if pump != nil {
		pump.start()
		slog.Info("Frame pump started", "interval", cliCfg.FrameInterval)
	}

	return pump, nil
}

// completionEvent is the JSON payload broadcast to monitor clients.
type completionEvent struct {
	Type   string `json:"type"`
	Buffer uint64 `json:"buffer"`
	Stream *int   `json:"stream,omitempty"`
}

// startServers brings up the metrics and WebSocket monitor HTTP servers.
func startServers(
	cfg config.Config,
	metrics *metric.Registry,
	monitor *gateway.Monitor,
	logger *slog.Logger,
) []*http.Server {
	var servers []*http.Server

	serve := func(port int, name string, handler http.Handler) {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, srv)
		go func() {
			slog.Info("HTTP server listening", "name", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server failed", "name", name, "error", err)
			}
		}()
	}

	if cfg.Monitor.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		serve(cfg.Monitor.MetricsPort, "metrics", mux)
	}

	if cfg.Monitor.WebSocketPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/ws", monitor)
		serve(cfg.Monitor.WebSocketPort, "monitor", mux)
	}

	return servers
}

// runWithSignalHandling blocks until shutdown is requested and then tears
// the pipeline down in order: pump, converter, event publisher, servers.
func runWithSignalHandling(
	loop *dispatch.Loop,
	conv *converter.Converter,
	pump *framePump,
	events *notifier.Notifier,
	servers []*http.Server,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := loop.PostAndWait(func() {
		if pump != nil {
			pump.stop()
		}
		conv.Stop()
	}); err != nil {
		return fmt.Errorf("stop converter: %w", err)
	}

	events.State(converter.StateStopped.String())
	if pump != nil {
		slog.Info("Frame pump stopped", "frames", pump.frames())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown", "addr", srv.Addr, "error", err)
		}
	}

	slog.Info("mediapiped shutdown complete")
	return nil
}
