package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
	"github.com/LeonardoBeccarini/plantpi/pkg/logger"
)

// Config holds the complete station configuration
type Config struct {
	Station  StationConfig        `yaml:"station"`
	Logging  logger.Config        `yaml:"logging"`
	HTTP     HTTPConfig           `yaml:"http"`
	GRPC     GRPCConfig           `yaml:"grpc"`
	Jobs     JobsConfig           `yaml:"jobs"`
	Streams  []model.StreamConfig `yaml:"streams"`
	History  HistoryConfig        `yaml:"history"`
	Influx   InfluxConfig         `yaml:"influx"`
	MQTT     MQTTConfig           `yaml:"mqtt"`
	Blob     BlobConfig           `yaml:"blob"`
	Hardware HardwareConfig       `yaml:"hardware"`
	Breaker  BreakerConfig        `yaml:"breaker"`
}

type StationConfig struct {
	Name           string        `yaml:"name"`
	ImageDir       string        `yaml:"image_dir"`       // latest-display copies
	RequestTimeout time.Duration `yaml:"request_timeout"` // every cloud call
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"` // empty disables the health server
}

// JobsConfig holds the periodic job intervals
type JobsConfig struct {
	CaptureInterval     time.Duration `yaml:"capture_interval"`
	EnvironmentInterval time.Duration `yaml:"environment_interval"`
	MoistureInterval    time.Duration `yaml:"moisture_interval"`
	CaptureSubjects     []int         `yaml:"capture_subjects"`
	LogEnvironment      bool          `yaml:"log_environment"`
}

type HistoryConfig struct {
	Backend          string    `yaml:"backend"` // memory | sql | influx
	DefaultThreshold float64   `yaml:"default_threshold"`
	DefaultLimit     int       `yaml:"default_limit"`
	MaxLimit         int       `yaml:"max_limit"`
	SQL              SQLConfig `yaml:"sql"`
}

// SQLConfig holds the local history database configuration
type SQLConfig struct {
	Driver   string         `yaml:"driver"` // sqlite | mysql | postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
	MaxOpen  int            `yaml:"max_open_conns"`
	MaxIdle  int            `yaml:"max_idle_conns"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	ClientID     string `yaml:"client_id"`
	ReadingTopic string `yaml:"reading_topic"` // readings go to <topic>/<stream>
	CommandTopic string `yaml:"command_topic"`
}

type BlobConfig struct {
	Backend string          `yaml:"backend"` // azure | dir | peer
	Azure   AzureBlobConfig `yaml:"azure"`
	Dir     DirBlobConfig   `yaml:"dir"`
	Peer    PeerBlobConfig  `yaml:"peer"`
}

type AzureBlobConfig struct {
	ConnectionString string `yaml:"connection_string"`
	Container        string `yaml:"container"`
}

type DirBlobConfig struct {
	Path    string `yaml:"path"`
	BaseURL string `yaml:"base_url"`
}

type PeerBlobConfig struct {
	URL string `yaml:"url"` // e.g. http://192.168.0.161:5071/upload_image
}

type HardwareConfig struct {
	Driver   string          `yaml:"driver"` // pi | sim
	Camera   CameraConfig    `yaml:"camera"`
	Moisture []MoistureProbe `yaml:"moisture"`
	Light    *SerialConfig   `yaml:"light"`
	DHT      DHTConfig       `yaml:"dht"`
}

type CameraConfig struct {
	Command  []string      `yaml:"command"`
	LockFile string        `yaml:"lock_file"`
	Timeout  time.Duration `yaml:"timeout"`
}

type MoistureProbe struct {
	Subject int          `yaml:"subject"`
	Serial  SerialConfig `yaml:"serial"`
}

type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	Request     string        `yaml:"request"` // sent before each read, e.g. "R"
	Settle      time.Duration `yaml:"settle"`  // wait after opening, boards reset on open
	ReadTimeout time.Duration `yaml:"read_timeout"`
	LockFile    string        `yaml:"lock_file"`
}

type DHTConfig struct {
	Device string `yaml:"device"` // IIO sysfs directory
}

type BreakerConfig struct {
	Failures int           `yaml:"failures"`
	OpenFor  time.Duration `yaml:"open_for"`
}

// Default returns a configuration that runs with simulated hardware and
// in-memory history.
func Default() *Config {
	return &Config{
		Station: StationConfig{
			Name:           "plantpi",
			ImageDir:       "temp_images",
			RequestTimeout: 10 * time.Second,
		},
		Logging: logger.Config{Level: "info"},
		HTTP:    HTTPConfig{Addr: ":5030"},
		Jobs: JobsConfig{
			CaptureInterval:     time.Minute,
			EnvironmentInterval: time.Minute,
			MoistureInterval:    time.Minute,
			CaptureSubjects:     []int{1},
			LogEnvironment:      true,
		},
		History: HistoryConfig{
			Backend:          "memory",
			DefaultThreshold: 300,
			DefaultLimit:     20,
			MaxLimit:         500,
			SQL: SQLConfig{
				Driver:  "sqlite",
				SQLite:  SQLiteConfig{Path: "history.db"},
				MaxOpen: 4,
				MaxIdle: 2,
			},
		},
		Influx: InfluxConfig{
			URL:    "http://localhost:8086",
			Org:    "plantpi",
			Bucket: "readings",
		},
		MQTT: MQTTConfig{
			Host:         "localhost",
			Port:         1883,
			ClientID:     "plantpi-station",
			ReadingTopic: "sensor/reading",
			CommandTopic: "command/capture/+",
		},
		Blob: BlobConfig{
			Backend: "dir",
			Azure:   AzureBlobConfig{Container: "trial"},
			Dir:     DirBlobConfig{Path: "archive", BaseURL: "/archive"},
		},
		Hardware: HardwareConfig{
			Driver: "sim",
			Camera: CameraConfig{
				Command:  []string{"libcamera-jpeg", "-n", "-t", "500", "-o", "-"},
				LockFile: "/tmp/plantpi-camera.lock",
				Timeout:  15 * time.Second,
			},
			DHT: DHTConfig{Device: "/sys/bus/iio/devices/iio:device0"},
		},
		Breaker: BreakerConfig{Failures: 5, OpenFor: 30 * time.Second},
	}
}

// Load loads configuration from the specified YAML file, then applies
// environment overrides and defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Streams) == 0 {
		c.Streams = []model.StreamConfig{
			{Key: "Environment-Temp", Kind: model.KindTemperature, Field: "temperature"},
			{Key: "LightLevel", Kind: model.KindLight, Field: "light"},
			{Key: "Plant1-Moisture", Kind: model.KindMoisture, Field: "moisture", Subject: 1},
		}
	}
	for i := range c.Streams {
		if c.Streams[i].Field == "" {
			c.Streams[i].Field = string(c.Streams[i].Kind)
		}
	}
	for i := range c.Hardware.Moisture {
		c.Hardware.Moisture[i].Serial.withDefaults(9600, "R", 2*time.Second)
	}
	if c.Hardware.Light != nil {
		c.Hardware.Light.withDefaults(9600, "", time.Second)
	}
	if c.Station.RequestTimeout <= 0 {
		c.Station.RequestTimeout = 10 * time.Second
	}
}

func (s *SerialConfig) withDefaults(baud int, request string, settle time.Duration) {
	if s.Baud == 0 {
		s.Baud = baud
	}
	if s.Request == "" {
		s.Request = request
	}
	if s.Settle == 0 {
		s.Settle = settle
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Jobs.CaptureInterval <= 0 || c.Jobs.EnvironmentInterval <= 0 || c.Jobs.MoistureInterval <= 0 {
		return fmt.Errorf("job intervals must be positive")
	}
	if c.History.DefaultLimit <= 0 || c.History.MaxLimit < c.History.DefaultLimit {
		return fmt.Errorf("history limits invalid: default=%d max=%d", c.History.DefaultLimit, c.History.MaxLimit)
	}

	seen := make(map[string]bool, len(c.Streams))
	for _, s := range c.Streams {
		if s.Key == "" {
			return fmt.Errorf("stream key is required")
		}
		if seen[s.Key] {
			return fmt.Errorf("duplicate stream key: %s", s.Key)
		}
		seen[s.Key] = true
		switch s.Kind {
		case model.KindMoisture, model.KindTemperature, model.KindLight:
		default:
			return fmt.Errorf("stream %s: unsupported kind %q", s.Key, s.Kind)
		}
	}

	switch c.History.Backend {
	case "memory":
	case "sql":
		if c.History.SQL.DSN() == "" {
			return fmt.Errorf("unsupported sql driver: %s", c.History.SQL.Driver)
		}
	case "influx":
		if c.Influx.URL == "" || c.Influx.Org == "" || c.Influx.Bucket == "" {
			return fmt.Errorf("influx history backend needs url, org and bucket")
		}
	default:
		return fmt.Errorf("unsupported history backend: %s", c.History.Backend)
	}

	switch c.Blob.Backend {
	case "azure":
		if c.Blob.Azure.ConnectionString == "" || c.Blob.Azure.Container == "" {
			return fmt.Errorf("azure blob backend needs connection string and container")
		}
	case "dir":
		if c.Blob.Dir.Path == "" {
			return fmt.Errorf("dir blob backend needs a path")
		}
	case "peer":
		if c.Blob.Peer.URL == "" {
			return fmt.Errorf("peer blob backend needs a url")
		}
	default:
		return fmt.Errorf("unsupported blob backend: %s", c.Blob.Backend)
	}

	switch c.Hardware.Driver {
	case "sim":
	case "pi":
		if len(c.Hardware.Camera.Command) == 0 {
			return fmt.Errorf("camera command is required")
		}
	default:
		return fmt.Errorf("unsupported hardware driver: %s", c.Hardware.Driver)
	}
	return nil
}

// DSN returns the database connection string based on the configured driver
func (s SQLConfig) DSN() string {
	switch s.Driver {
	case "sqlite":
		return s.SQLite.Path
	case "mysql":
		m := s.MySQL
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
			m.User, m.Password, m.Host, m.Port, m.DBName)
	case "postgres":
		p := s.Postgres
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
	default:
		return ""
	}
}
