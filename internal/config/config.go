// YAML config loader with CUE validation integration
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chronos-radar/internal/geometry"
	"chronos-radar/internal/ingest"
	"chronos-radar/internal/store"
)

// Center is the observation point everything is projected around.
type Center struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// StreamConfig selects and tunes the push subscription.
type StreamConfig struct {
	Transport        string        `yaml:"transport"`
	URL              string        `yaml:"url"`
	Brokers          []string      `yaml:"brokers"`
	KafkaTopic       string        `yaml:"kafka_topic"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	ReplayWindow     time.Duration `yaml:"replay_window"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
}

// PollConfig tunes the pull query used for replay and degraded polling.
type PollConfig struct {
	URL              string        `yaml:"url"`
	DegradedInterval time.Duration `yaml:"degraded_interval"`
	BackupInterval   time.Duration `yaml:"backup_interval"`
	Limit            int           `yaml:"limit"`
	Timeout          time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type GreptimeConfig struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// ArchiveConfig enables the optional track sinks. Empty values disable them.
type ArchiveConfig struct {
	JSONLPath string         `yaml:"jsonl_path"`
	Greptime  GreptimeConfig `yaml:"greptime"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Config is the root configuration.
type Config struct {
	Center        Center                   `yaml:"center"`
	MaxRangeKm    float64                  `yaml:"max_range_km"`
	Capacity      int                      `yaml:"capacity"`
	TTL           map[string]time.Duration `yaml:"ttl"`
	Topics        []string                 `yaml:"topics"`
	Stream        StreamConfig             `yaml:"stream"`
	Poll          PollConfig               `yaml:"poll"`
	SweepInterval time.Duration            `yaml:"sweep_interval"`
	HTTP          HTTPConfig               `yaml:"http"`
	Archive       ArchiveConfig            `yaml:"archive"`
	Log           LogConfig                `yaml:"log"`
}

const (
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
	TransportKafka     = "kafka"

	DefaultMaxRangeKm = 60
	DefaultListen     = ":8088"
)

// Load reads configPath, validating it against cueSchemaPath first when one
// is given. An empty configPath yields the defaults. Environment overrides
// are applied last.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	var cfg Config
	if configPath != "" {
		if cueSchemaPath != "" {
			if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
				return nil, err
			}
		}
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}
	cfg.ApplyDefaults()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every zero field.
func (c *Config) ApplyDefaults() {
	if c.MaxRangeKm <= 0 {
		c.MaxRangeKm = DefaultMaxRangeKm
	}
	if c.Capacity <= 0 {
		c.Capacity = store.DefaultCapacity
	}
	s := &c.Stream
	if s.Transport == "" {
		s.Transport = TransportWebSocket
	}
	setDur(&s.HeartbeatTimeout, ingest.DefaultHeartbeatTimeout)
	setDur(&s.ReplayWindow, ingest.DefaultReplayWindow)
	setDur(&s.ReconnectBackoff, ingest.DefaultReconnectBackoff)
	setDur(&s.ConnectTimeout, ingest.DefaultConnectTimeout)
	p := &c.Poll
	setDur(&p.DegradedInterval, ingest.DefaultDegradedPollInterval)
	setDur(&p.BackupInterval, ingest.DefaultBackupPollInterval)
	setDur(&p.Timeout, ingest.DefaultFetchTimeout)
	if p.Limit <= 0 {
		p.Limit = ingest.DefaultPollLimit
	}
	setDur(&c.SweepInterval, ingest.DefaultSweepInterval)
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = DefaultListen
	}
	if c.Archive.Greptime.Database == "" {
		c.Archive.Greptime.Database = "public"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func setDur(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// ApplyEnv lets the environment override endpoints.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("RADAR_STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv("RADAR_POLL_URL"); v != "" {
		c.Poll.URL = v
	}
	if v := os.Getenv("RADAR_KAFKA_BROKERS"); v != "" {
		c.Stream.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Archive.Greptime.Endpoint = v
	}
	if v := os.Getenv("GREPTIMEDB_TABLE"); v != "" {
		c.Archive.Greptime.Table = v
	}
}

// Validate checks what the schema cannot: cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if c.Center.Lat < -90 || c.Center.Lat > 90 || c.Center.Lon < -180 || c.Center.Lon > 180 {
		errs = append(errs, fmt.Errorf("center %v,%v out of bounds", c.Center.Lat, c.Center.Lon))
	}
	switch c.Stream.Transport {
	case TransportWebSocket, TransportSSE:
	case TransportKafka:
		if len(c.Stream.Brokers) == 0 || c.Stream.KafkaTopic == "" {
			errs = append(errs, errors.New("kafka transport needs stream.brokers and stream.kafka_topic"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown stream transport %q", c.Stream.Transport))
	}
	if _, err := c.TTLs(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TTLs converts the ttl section to per-kind windows. Ground vehicles follow
// the incident window unless given their own.
func (c *Config) TTLs() (store.TTLs, error) {
	out := store.TTLs{}
	for name, d := range c.TTL {
		k, ok := geometry.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("ttl: unknown kind %q", name)
		}
		if d <= 0 {
			return nil, fmt.Errorf("ttl %s must be positive", name)
		}
		out[k] = d
	}
	if d, ok := out[geometry.KindIncident]; ok {
		if _, set := out[geometry.KindGroundVehicle]; !set {
			out[geometry.KindGroundVehicle] = d
		}
	}
	return out, nil
}

// Point returns the center as a geometry point.
func (c *Config) Point() geometry.Point {
	return geometry.Point{Lat: c.Center.Lat, Lon: c.Center.Lon}
}
