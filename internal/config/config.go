package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Database    DatabaseConfig `mapstructure:"database"`
	Log         LogConfig      `mapstructure:"log"`
	Scanner     ScannerConfig  `mapstructure:"scanner"`
	OCR         OCRConfig      `mapstructure:"ocr"`
	AWS         AWSConfig      `mapstructure:"aws"`
	Gate        GateConfig     `mapstructure:"gate"`
	Cameras     []CameraConfig `mapstructure:"cameras"`
}

type HTTPConfig struct {
	Address         string        `mapstructure:"address"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	MaxFramePixels  int           `mapstructure:"max_frame_pixels"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// ScannerConfig holds the tunables of the scan pipeline. The thresholds
// trade recall for precision and are meant to be tuned per site.
type ScannerConfig struct {
	CropWidthFraction  float64       `mapstructure:"crop_width_fraction"`
	CropHeightFraction float64       `mapstructure:"crop_height_fraction"`
	MinConfidence      float64       `mapstructure:"min_confidence"`
	MinLength          int           `mapstructure:"min_length"`
	Interval           time.Duration `mapstructure:"interval"`
	LookupTimeout      time.Duration `mapstructure:"lookup_timeout"`
	Alphabet           string        `mapstructure:"alphabet"`
	EventRetentionDays int           `mapstructure:"event_retention_days"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
}

type OCRConfig struct {
	Provider string        `mapstructure:"provider"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type GateConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	IoTEndpoint string `mapstructure:"iot_endpoint"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type CameraConfig struct {
	ID          string        `mapstructure:"id"`
	SnapshotURL string        `mapstructure:"snapshot_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

const (
	OCRProviderRekognition = "rekognition"
	OCRProviderHTTP        = "http"

	DefaultAlphabet = "ABCDEFGHKLMNPQRSTUVXYZ0123456789-"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_upload_bytes", 8<<20)
	v.SetDefault("http.max_frame_pixels", 25_000_000)

	v.SetDefault("database.dsn", "host=localhost port=5432 user=checkin password=checkin dbname=checkin sslmode=disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("scanner.crop_width_fraction", 0.9)
	v.SetDefault("scanner.crop_height_fraction", 0.4)
	v.SetDefault("scanner.min_confidence", 40.0)
	v.SetDefault("scanner.min_length", 4)
	v.SetDefault("scanner.interval", 500*time.Millisecond)
	v.SetDefault("scanner.lookup_timeout", 3*time.Second)
	v.SetDefault("scanner.alphabet", DefaultAlphabet)
	v.SetDefault("scanner.event_retention_days", 90)
	v.SetDefault("scanner.cleanup_interval", 24*time.Hour)

	v.SetDefault("ocr.provider", OCRProviderRekognition)
	v.SetDefault("ocr.endpoint", "")
	v.SetDefault("ocr.timeout", 5*time.Second)

	v.SetDefault("aws.region", "ap-southeast-1")

	v.SetDefault("gate.enabled", false)
	v.SetDefault("gate.iot_endpoint", "")
	v.SetDefault("gate.topic_prefix", "parking/gates")
}

// Load reads configuration from defaults, an optional config file and
// CHECKIN_* environment variables, in increasing order of precedence.
// A .env file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHECKIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.MaxFramePixels <= 0 {
		return fmt.Errorf("http.max_frame_pixels must be positive, got %d", c.HTTP.MaxFramePixels)
	}
	s := c.Scanner
	if s.CropWidthFraction <= 0 || s.CropWidthFraction > 1 {
		return fmt.Errorf("scanner.crop_width_fraction must be in (0,1], got %v", s.CropWidthFraction)
	}
	if s.CropHeightFraction <= 0 || s.CropHeightFraction > 1 {
		return fmt.Errorf("scanner.crop_height_fraction must be in (0,1], got %v", s.CropHeightFraction)
	}
	if s.MinConfidence < 0 || s.MinConfidence > 100 {
		return fmt.Errorf("scanner.min_confidence must be in [0,100], got %v", s.MinConfidence)
	}
	if s.MinLength < 1 {
		return fmt.Errorf("scanner.min_length must be positive, got %d", s.MinLength)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scanner.interval must be positive, got %s", s.Interval)
	}
	if s.LookupTimeout <= 0 {
		return fmt.Errorf("scanner.lookup_timeout must be positive, got %s", s.LookupTimeout)
	}
	switch c.OCR.Provider {
	case OCRProviderRekognition:
	case OCRProviderHTTP:
		if c.OCR.Endpoint == "" {
			return errors.New("ocr.endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("unknown ocr.provider %q", c.OCR.Provider)
	}
	if c.Gate.Enabled && c.Gate.IoTEndpoint == "" {
		return errors.New("gate.iot_endpoint is required when the gate is enabled")
	}
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.ID == "" || cam.SnapshotURL == "" {
			return errors.New("cameras need both id and snapshot_url")
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
	}
	return nil
}

// Camera returns the configured snapshot camera with the given id.
func (c *Config) Camera(id string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}
