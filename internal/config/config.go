// Package config loads process configuration from a YAML file, the
// REACTORBOARD_* environment and command line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"reactorboard/internal/blob"
	"reactorboard/internal/core"
	"reactorboard/pkg/domain"
)

// EnvPrefix prefixes every environment override; dots become underscores.
const EnvPrefix = "REACTORBOARD"

// Config is the full process configuration.
type Config struct {
	Unit           string        `mapstructure:"unit"`
	LeaderHostname string        `mapstructure:"leader_hostname"`
	HTTP           HTTPConfig    `mapstructure:"http"`
	Storage        StorageConfig `mapstructure:"storage"`
	MQTT           MQTTConfig    `mapstructure:"mqtt"`
	Blob           BlobConfig    `mapstructure:"blob"`
	Fleet          FleetConfig   `mapstructure:"fleet"`
	Query          QueryConfig   `mapstructure:"query"`
	Logging        LoggingConfig `mapstructure:"logging"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	LocalCacheDir string `mapstructure:"local_cache_dir"`
}

type MQTTConfig struct {
	BrokerAddress  string        `mapstructure:"broker_address"`
	BrokerPort     int           `mapstructure:"broker_port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ClientID       string        `mapstructure:"client_id"`
	TopicRoot      string        `mapstructure:"topic_root"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	QueueSize      int           `mapstructure:"queue_size"`
}

type BlobConfig struct {
	Driver string   `mapstructure:"driver"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type FleetConfig struct {
	Command       string        `mapstructure:"command"`
	PluginCommand string        `mapstructure:"plugin_command"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type QueryConfig struct {
	DefaultSamplingRate  int     `mapstructure:"default_sampling_rate"`
	DefaultLookbackHours float64 `mapstructure:"default_lookback_hours"`
	LogWindowHours       float64 `mapstructure:"log_window_hours"`
	LogLimit             int     `mapstructure:"log_limit"`
	MediaRateHours       float64 `mapstructure:"media_rate_hours"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// New returns a viper instance carrying the defaults and the environment
// overlay. Callers bind flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	hostname, _ := os.Hostname()
	d := core.DefaultQueryDefaults()

	v.SetDefault("unit", hostname)
	v.SetDefault("leader_hostname", hostname)
	v.SetDefault("http.addr", ":4999")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("storage.driver", string(core.StorageSQLite))
	v.SetDefault("storage.sqlite_path", "reactorboard.sqlite")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.local_cache_dir", "")
	v.SetDefault("mqtt.broker_address", "localhost")
	v.SetDefault("mqtt.broker_port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic_root", "pioreactor")
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.write_timeout", 5*time.Second)
	v.SetDefault("mqtt.queue_size", 256)
	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./exports")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("fleet.command", "pios")
	v.SetDefault("fleet.plugin_command", "pio")
	v.SetDefault("fleet.timeout", 2*time.Minute)
	v.SetDefault("query.default_sampling_rate", d.SamplingRate)
	v.SetDefault("query.default_lookback_hours", d.LookbackHours)
	v.SetDefault("query.log_window_hours", d.LogWindow.Hours())
	v.SetDefault("query.log_limit", d.LogLimit)
	v.SetDefault("query.media_rate_hours", d.MediaRateHours)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file, or the first reactorboard.yaml found in the working
// directory or /etc/reactorboard when file is empty, and decodes the merged
// configuration. A missing default file is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("reactorboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reactorboard/")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Unit = strings.TrimSpace(cfg.Unit)
	cfg.LeaderHostname = strings.TrimSpace(cfg.LeaderHostname)
	return cfg, cfg.Validate()
}

// Validate rejects impossible values.
func (c Config) Validate() error {
	var errs []error
	bad := func(field, reason string) {
		errs = append(errs, domain.ValidationError{Field: field, Reason: reason})
	}
	if c.Unit == "" {
		bad("unit", "required")
	}
	if c.LeaderHostname == "" {
		bad("leader_hostname", "required")
	}
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			bad("storage.postgres_dsn", "required for the postgres driver")
		}
	default:
		bad("storage.driver", fmt.Sprintf("unknown driver %q", c.Storage.Driver))
	}
	if c.MQTT.BrokerPort <= 0 || c.MQTT.BrokerPort > 65535 {
		bad("mqtt.broker_port", "must be between 1 and 65535")
	}
	if c.MQTT.QueueSize < 1 {
		bad("mqtt.queue_size", "must be >= 1")
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			bad("blob.s3.bucket", "required for the s3 driver")
		}
	default:
		bad("blob.driver", fmt.Sprintf("unknown driver %q", c.Blob.Driver))
	}
	q := c.Query
	if q.DefaultSamplingRate < 1 {
		bad("query.default_sampling_rate", "must be >= 1")
	}
	if q.DefaultLookbackHours <= 0 || q.LogWindowHours <= 0 || q.MediaRateHours <= 0 {
		bad("query", "windows must be positive")
	}
	if q.LogLimit < 1 {
		bad("query.log_limit", "must be >= 1")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		bad("logging.format", "must be json or console")
	}
	return errors.Join(errs...)
}

// IsLeader reports whether this unit is the fleet leader.
func (c Config) IsLeader() bool { return strings.EqualFold(c.Unit, c.LeaderHostname) }

// QueryDefaults converts the query section.
func (c Config) QueryDefaults() core.QueryDefaults {
	return core.QueryDefaults{
		SamplingRate:   c.Query.DefaultSamplingRate,
		LookbackHours:  c.Query.DefaultLookbackHours,
		LogWindow:      time.Duration(c.Query.LogWindowHours * float64(time.Hour)),
		LogLimit:       c.Query.LogLimit,
		MediaRateHours: c.Query.MediaRateHours,
	}
}

// StorageConfig converts the storage section.
func (c Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:        core.StorageDriver(c.Storage.Driver),
		SQLitePath:    c.Storage.SQLitePath,
		PostgresDSN:   c.Storage.PostgresDSN,
		LocalCacheDir: c.Storage.LocalCacheDir,
	}
}

// BlobConfig converts the blob section.
func (c Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:          c.Blob.S3.Bucket,
			Region:          c.Blob.S3.Region,
			Endpoint:        c.Blob.S3.Endpoint,
			PathStyle:       c.Blob.S3.PathStyle,
			AccessKeyID:     c.Blob.S3.AccessKeyID,
			SecretAccessKey: c.Blob.S3.SecretAccessKey,
		},
	}
}
