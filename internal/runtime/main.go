package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/sensornode/device"
	"github.com/drblury/sensornode/device/kinect"
	"github.com/drblury/sensornode/internal/runtime/config"
	errspkg "github.com/drblury/sensornode/internal/runtime/errors"
	loggingpkg "github.com/drblury/sensornode/internal/runtime/logging"
	"github.com/drblury/sensornode/link"
	_ "github.com/drblury/sensornode/transport/transports"
)

// Dependencies holds the process collaborators Main uses. Leave fields nil
// to get the real ones.
type Dependencies struct {
	Stdout io.Writer
	Stderr io.Writer
	Lookup config.LookupFunc

	// NewLink replaces the transport-backed link.Link.
	NewLink LinkFactory
	// NewDevice replaces the Kinect driver.
	NewDevice device.Factory
	// Registry receives every collector; a fresh one is used when nil.
	Registry *prometheus.Registry
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	if d.Stderr == nil {
		d.Stderr = os.Stderr
	}
	if d.Lookup == nil {
		d.Lookup = os.LookupEnv
	}
	if d.Registry == nil {
		d.Registry = NewRegistry()
	}
	return d
}

// Main runs the sensor command and returns its exit status.
func Main(ctx context.Context, args []string, deps Dependencies) int {
	deps = deps.withDefaults()

	cli, err := ParseArgs(args, deps.Stderr, deps.Lookup)
	if err != nil {
		return exitCodeForParse(err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintln(deps.Stdout, versionLine())
		return ExitOK
	}
	cfg := cli.Config

	logger, err := loggingpkg.New(deps.Stderr, cfg.LogLevel, cfg.LogFormat, cfg.SensorName)
	if err != nil {
		_, _ = fmt.Fprintf(deps.Stderr, "%s: %v\n", appName, err)
		return ExitUsage
	}
	logger.Info("Configuration loaded", loggingpkg.LogFields{
		"version":     Version,
		"config_path": cli.ConfigPath,
		"config":      cfg.String(),
	})

	runMetrics, err := NewRunMetrics(deps.Registry)
	if err != nil {
		logger.Error("Metrics unavailable", err, nil)
		return ExitAcquisition
	}

	if cfg.MetricsEnabled {
		srv, err := StartMetricsServer(cfg.MetricsPort, deps.Registry, logger)
		if err != nil {
			logger.Error("Metrics server unavailable", err, loggingpkg.LogFields{"port": cfg.MetricsPort})
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
	}

	newLink := deps.NewLink
	if newLink == nil {
		newLink = transportLink(&cfg, logger, deps.Registry)
	}
	newDevice := deps.NewDevice
	if newDevice == nil {
		newDevice = kinectDevice(cfg.Device, logger, deps.Registry)
	}

	rt := &Runtime{
		Stdout:    deps.Stdout,
		Stderr:    deps.Stderr,
		Logger:    logger,
		NewLink:   newLink,
		NewDevice: newDevice,
		Hooks:     logHooks(logger).Merge(runMetrics.Hooks()),
	}
	return rt.Run(ctx, cfg.SensorName)
}

func transportLink(cfg *config.Config, logger loggingpkg.ServiceLogger, registerer prometheus.Registerer) LinkFactory {
	return func(ctx context.Context, name string) (Link, error) {
		l, err := link.New(ctx, name, cfg, logger, link.WithMetrics(registerer))
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

func kinectDevice(cfg config.DeviceConfig, logger loggingpkg.ServiceLogger, registerer prometheus.Registerer) device.Factory {
	return func(ctx context.Context, l device.Link) (device.Device, error) {
		m, err := kinect.NewMetrics(registerer)
		if err != nil {
			return nil, err
		}
		return kinect.Factory(KinectConfig(cfg), kinect.WithLogger(logger), kinect.WithMetrics(m))(ctx, l)
	}
}

// KinectConfig maps the device section of the configuration onto the driver.
func KinectConfig(cfg config.DeviceConfig) kinect.Config {
	return kinect.Config{
		Source:             cfg.Source,
		Path:               cfg.Path,
		FFmpegPath:         cfg.FFmpegPath,
		Width:              cfg.Width,
		Height:             cfg.Height,
		FPS:                cfg.FPS,
		MaxFrames:          cfg.MaxFrames,
		NearThresholdMM:    cfg.NearThresholdMM,
		PresenceRatio:      cfg.PresenceRatio,
		SummaryInterval:    cfg.SummaryInterval,
		MaxPublishFailures: cfg.MaxPublishFailures,
	}
}

func logHooks(logger loggingpkg.ServiceLogger) Hooks {
	return Hooks{
		OnStarted: func(run RunContext) {
			logger.Info("Device loop running", nil)
		},
		OnFinished: func(run RunContext) {
			logger.Info("Device loop finished", loggingpkg.LogFields{"duration": run.Duration.String()})
		},
		OnFailed: func(run RunContext, err error) {
			fields := loggingpkg.LogFields{"duration": run.Duration.String()}
			// Device errors are reported by their diagnostic line alone.
			if _, ok := errspkg.AsDeviceError(err); !ok {
				fields["error"] = err.Error()
			}
			logger.Debug("Device loop failed", fields)
		},
	}
}
