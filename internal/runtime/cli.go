package runtime

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/drblury/sensornode/internal/runtime/config"
	errspkg "github.com/drblury/sensornode/internal/runtime/errors"
)

// Version is printed by --version.
const Version = "0.0.0"

const appName = "sensor"

// CLI is the parsed command line.
type CLI struct {
	Config      config.Config
	ConfigPath  string
	ShowVersion bool
}

type cliFlags struct {
	name        string
	configPath  string
	transport   string
	logLevel    string
	logFormat   string
	metricsPort int
	showVersion bool
}

func newFlagSet(output io.Writer, f *cliFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&f.name, "name", "", "Sensor name; the channel events are published on (required, env: SENSOR_NAME)")
	fs.StringVar(&f.name, "n", "", "Sensor name (shorthand)")
	fs.StringVar(&f.configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&f.configPath, "c", "", "Path to a YAML configuration file (shorthand)")
	fs.StringVar(&f.transport, "transport", "", "Transport to publish through, e.g. nats, kafka, mqtt (env: SENSOR_TRANSPORT)")
	fs.StringVar(&f.transport, "t", "", "Transport (shorthand)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (env: SENSOR_LOG_LEVEL)")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text, json (env: SENSOR_LOG_FORMAT)")
	fs.IntVar(&f.metricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port (env: SENSOR_METRICS_PORT)")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	fs.BoolVar(&f.showVersion, "v", false, "Show version information (shorthand)")

	fs.Usage = func() { printUsage(fs) }
	return fs
}

func printUsage(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, "Usage: %s --name <sensor-name> [options]\n\nOptions:\n", appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, "\nExample:\n  %s -n front-desk -t nats\n", appName)
}

// ParseArgs resolves the configuration from defaults, the optional config
// file, SENSOR_* environment variables and finally the flags actually given.
// Usage is written to output on any error. flag.ErrHelp is returned for -h.
func ParseArgs(args []string, output io.Writer, lookup config.LookupFunc) (*CLI, error) {
	var f cliFlags
	fs := newFlagSet(output, &f)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, usageFailure(fs, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " ")))
	}
	if f.showVersion {
		return &CLI{ShowVersion: true}, nil
	}

	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	// An explicit empty name is rejected even when a file or env supplies one.
	if (set["name"] || set["n"]) && f.name == "" {
		return nil, usageFailure(fs, errspkg.ErrSensorNameRequired)
	}

	cfg := config.Default()
	if f.configPath != "" {
		if err := config.LoadFile(f.configPath, &cfg); err != nil {
			return nil, usageFailure(fs, err)
		}
	}
	if err := config.ApplyEnv(&cfg, lookup); err != nil {
		return nil, usageFailure(fs, err)
	}

	if set["name"] || set["n"] {
		cfg.SensorName = f.name
	}
	if set["transport"] || set["t"] {
		cfg.PubSubSystem = f.transport
	}
	if set["log-level"] {
		cfg.LogLevel = f.logLevel
	}
	if set["log-format"] {
		cfg.LogFormat = f.logFormat
	}
	if set["metrics-port"] {
		cfg.MetricsPort = f.metricsPort
		cfg.MetricsEnabled = f.metricsPort > 0
	}

	if err := cfg.Validate(); err != nil {
		return nil, usageFailure(fs, err)
	}
	return &CLI{Config: cfg, ConfigPath: f.configPath}, nil
}

// UsageError is a configuration problem found while parsing the command line.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return "usage: " + e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

func usageFailure(fs *flag.FlagSet, err error) error {
	_, _ = fmt.Fprintf(fs.Output(), "%s: %v\n", appName, err)
	fs.Usage()
	return &UsageError{Err: err}
}

// exitCodeForParse maps a ParseArgs error to an exit status.
func exitCodeForParse(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return ExitOK
	}
	return ExitUsage
}

func versionLine() string {
	return fmt.Sprintf("%s version %s", appName, Version)
}
