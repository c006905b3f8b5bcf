package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override key.
const EnvPrefix = "SENSOR_"

// LoadFile overlays the YAML document at path onto cfg. Unknown keys are
// rejected so typos surface as configuration errors.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Decode(bytes.NewReader(data), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Decode overlays a YAML document onto cfg. An empty document is a no-op.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays SENSOR_* variables onto cfg. Malformed numeric or boolean
// values are reported together.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	e := envReader{lookup: lookup}

	e.str("NAME", &cfg.SensorName)
	e.str("TRANSPORT", &cfg.PubSubSystem)
	e.list("KAFKA_BROKERS", &cfg.KafkaBrokers)
	e.str("KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	e.str("RABBITMQ_URL", &cfg.RabbitMQURL)
	e.str("NATS_URL", &cfg.NATSURL)
	e.str("JETSTREAM_STREAM", &cfg.JetStreamStream)
	e.str("HTTP_PUBLISHER_URL", &cfg.HTTPPublisherURL)
	e.str("IO_FILE", &cfg.IOFile)
	e.str("SQLITE_FILE", &cfg.SQLiteFile)
	e.str("POSTGRES_URL", &cfg.PostgresURL)
	e.str("MQTT_BROKER", &cfg.MQTTBroker)
	e.str("MQTT_CLIENT_ID", &cfg.MQTTClientID)
	e.str("MQTT_USERNAME", &cfg.MQTTUsername)
	e.str("MQTT_PASSWORD", &cfg.MQTTPassword)
	e.integer("MQTT_QOS", &cfg.MQTTQoS)
	e.str("AWS_REGION", &cfg.AWSRegion)
	e.str("AWS_ACCOUNT_ID", &cfg.AWSAccountID)
	e.str("AWS_ACCESS_KEY_ID", &cfg.AWSAccessKeyID)
	e.str("AWS_SECRET_ACCESS_KEY", &cfg.AWSSecretAccessKey)
	e.str("AWS_ENDPOINT", &cfg.AWSEndpoint)

	e.str("DEVICE_SOURCE", &cfg.Device.Source)
	e.str("DEVICE_PATH", &cfg.Device.Path)
	e.str("DEVICE_FFMPEG", &cfg.Device.FFmpegPath)
	e.integer("DEVICE_WIDTH", &cfg.Device.Width)
	e.integer("DEVICE_HEIGHT", &cfg.Device.Height)
	e.integer("DEVICE_FPS", &cfg.Device.FPS)
	e.int64("DEVICE_MAX_FRAMES", &cfg.Device.MaxFrames)
	e.integer("DEVICE_NEAR_THRESHOLD_MM", &cfg.Device.NearThresholdMM)
	e.float("DEVICE_PRESENCE_RATIO", &cfg.Device.PresenceRatio)
	e.duration("DEVICE_SUMMARY_INTERVAL", &cfg.Device.SummaryInterval)
	e.integer("DEVICE_MAX_PUBLISH_FAILURES", &cfg.Device.MaxPublishFailures)

	e.boolean("METRICS_ENABLED", &cfg.MetricsEnabled)
	e.integer("METRICS_PORT", &cfg.MetricsPort)
	e.str("LOG_LEVEL", &cfg.LogLevel)
	e.str("LOG_FORMAT", &cfg.LogFormat)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("env %s%s=%q: %w", EnvPrefix, key, value, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = parsed
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = parsed
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = parsed
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = parsed
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = parsed
	}
}
