package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/lamp-monitor/internal/classify"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// ErrConfigInvalid is returned when the configuration fails validation.
var ErrConfigInvalid = errors.New("config invalid")

// unset marks a safety-relevant threshold that must come from the file or the environment.
const unset = -1

// Config is the persisted, externally editable configuration record.
type Config struct {
	Coordinates  Coordinates  `yaml:"coordinates"`
	Detection    Detection    `yaml:"detection"`
	Camera       Camera       `yaml:"camera"`
	Log          Log          `yaml:"log"`
	Web          Web          `yaml:"web"`
	Notification Notification `yaml:"notification"`
	Archive      Archive      `yaml:"archive"`
	Publish      Publish      `yaml:"publish"`
}

// Coordinates holds one lamp region per tracked color.
type Coordinates struct {
	Orange types.Rect `yaml:"orange"`
	Green  types.Rect `yaml:"green"`
}

// Detection holds sampling and judgment knobs.
type Detection struct {
	IntervalSeconds        int     `yaml:"detection_interval_seconds" env:"LAMP_DETECTION_INTERVAL_SECONDS"`
	ThresholdMinutes       int     `yaml:"notification_threshold_minutes" env:"LAMP_NOTIFICATION_THRESHOLD_MINUTES"`
	PercentageThreshold    float64 `yaml:"color_detection_threshold_percentage" env:"LAMP_PERCENTAGE_THRESHOLD"`
	BrightnessThreshold    float64 `yaml:"brightness_threshold" env:"LAMP_BRIGHTNESS_THRESHOLD"`
	MinPixelCount          int     `yaml:"min_pixel_count" env:"LAMP_MIN_PIXEL_COUNT"`
	ColorPreset            string  `yaml:"color_preset" env:"LAMP_COLOR_PRESET"`
	DebugMode              bool    `yaml:"debug_mode" env:"LAMP_DEBUG_MODE"`
	PreviewIntervalSeconds float64 `yaml:"preview_interval_seconds" env:"LAMP_PREVIEW_INTERVAL_SECONDS"`
	IncludeRed             bool    `yaml:"include_red" env:"LAMP_INCLUDE_RED"` // count red as a third class
}

// Camera describes where frames come from.
type Camera struct {
	SearchRange int    `yaml:"search_range" env:"LAMP_CAMERA_SEARCH_RANGE"`
	Device      int    `yaml:"device" env:"LAMP_CAMERA_DEVICE"` // -1 searches 0..search_range-1
	Source      string `yaml:"source" env:"LAMP_SOURCE"`        // camera, file, random
	ImagePath   string `yaml:"image_path" env:"LAMP_IMAGE_PATH"`
	ImageDir    string `yaml:"image_dir" env:"LAMP_IMAGE_DIR"`
}

// Log configures the episode log and the application logger.
type Log struct {
	Path        string `yaml:"path" env:"LAMP_LOG_PATH"`
	RecentLines int    `yaml:"recent_lines" env:"LAMP_RECENT_LINES"`
	Level       string `yaml:"level" env:"LOG_LEVEL"`
	Format      string `yaml:"format" env:"LOG_FORMAT"`
}

// Web configures the dashboard surface.
type Web struct {
	Addr             string  `yaml:"addr" env:"LAMP_HTTP_ADDR"`
	FreshnessSeconds float64 `yaml:"freshness_seconds" env:"LAMP_FRESHNESS_SECONDS"`
	StatusInterval   float64 `yaml:"status_interval_seconds" env:"LAMP_STATUS_INTERVAL_SECONDS"`
}

// Notification configures outbound notifiers.
type Notification struct {
	TimeoutSeconds float64 `yaml:"timeout_seconds" env:"LAMP_NOTIFY_TIMEOUT_SECONDS"`
	QueueSize      int     `yaml:"queue_size"`
	Title          string  `yaml:"title"`
	Teams          Teams   `yaml:"teams"`
	Line           Line    `yaml:"line"`
}

// Teams is an incoming-webhook target.
type Teams struct {
	WebhookURL string   `yaml:"webhook_url" env:"TEAMS_WEBHOOK_URL"`
	Mentions   []string `yaml:"mentions" env:"TEAMS_MENTIONS" envSeparator:","`
	LinkURL    string   `yaml:"link_url"`
}

// Line is a messaging API push target.
type Line struct {
	ChannelToken string   `yaml:"channel_token" env:"LINE_CHANNEL_TOKEN"`
	To           []string `yaml:"to" env:"LINE_TO" envSeparator:","`
	BaseURL      string   `yaml:"base_url"`
}

// Archive configures evidence-frame storage.
type Archive struct {
	Dir   string `yaml:"dir" env:"LAMP_ARCHIVE_DIR"`
	Minio Minio  `yaml:"minio"`
}

// Minio is an S3-compatible upload target.
type Minio struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
	Secure    bool   `yaml:"secure" env:"MINIO_SECURE"`
}

// Publish configures optional episode-event fan-out.
type Publish struct {
	Kafka Kafka `yaml:"kafka"`
	MQTT  MQTT  `yaml:"mqtt"`
	Redis Redis `yaml:"redis"`
}

// Kafka target.
type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC"`
}

// MQTT target.
type MQTT struct {
	Broker   string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	Topic    string `yaml:"topic" env:"MQTT_TOPIC"`
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
}

// Redis target.
type Redis struct {
	Addr       string `yaml:"addr" env:"REDIS_ADDR"`
	Password   string `yaml:"password" env:"REDIS_PASSWORD"`
	DB         int    `yaml:"db" env:"REDIS_DB"`
	StateKey   string `yaml:"state_key"`
	Stream     string `yaml:"stream"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// Default returns a complete configuration using the strict preset.
func Default() Config {
	return Config{
		Coordinates: Coordinates{
			Orange: types.Rect{X1: 297, Y1: 86, X2: 347, Y2: 133},
			Green:  types.Rect{X1: 303, Y1: 110, X2: 350, Y2: 164},
		},
		Detection: Detection{
			IntervalSeconds:        60,
			ThresholdMinutes:       10,
			PercentageThreshold:    50,
			BrightnessThreshold:    100,
			MinPixelCount:          100,
			ColorPreset:            classify.Strict.String(),
			PreviewIntervalSeconds: 1,
		},
		Camera: Camera{
			SearchRange: 5,
			Device:      -1,
			Source:      "camera",
			ImageDir:    "sample_img",
		},
		Log: Log{
			Path:        "data.csv",
			RecentLines: 10,
			Level:       "info",
			Format:      "console",
		},
		Web: Web{
			Addr:             ":8080",
			FreshnessSeconds: 10,
			StatusInterval:   2,
		},
		Notification: Notification{
			TimeoutSeconds: 10,
			QueueSize:      8,
			Title:          "Lamp monitor",
			Line:           Line{BaseURL: "https://api.line.me"},
		},
		Publish: Publish{
			Redis: Redis{StateKey: "lamp:state", Stream: "lamp:episodes", TTLSeconds: 300},
		},
	}
}

// Load reads the YAML (or JSON) file at path, applies environment overrides and validates.
// Safety-relevant thresholds missing from both sources fail validation instead of taking defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw configuration bytes, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Detection.IntervalSeconds = unset
	cfg.Detection.ThresholdMinutes = unset
	cfg.Detection.PercentageThreshold = unset
	cfg.Detection.BrightnessThreshold = unset
	cfg.Detection.MinPixelCount = unset

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrConfigInvalid, err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration back atomically (temp file + rename).
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Validate checks every field range. All problems are reported together.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	for name, r := range map[string]types.Rect{"orange": c.Coordinates.Orange, "green": c.Coordinates.Green} {
		check(r.Valid(), "coordinates.%s must satisfy x1 < x2 and y1 < y2 (got %d,%d,%d,%d)", name, r.X1, r.Y1, r.X2, r.Y2)
		check(r.X1 >= 0 && r.Y1 >= 0, "coordinates.%s must not be negative", name)
	}

	d := c.Detection
	check(d.IntervalSeconds >= 1 && d.IntervalSeconds <= 3600,
		"detection.detection_interval_seconds must be in [1, 3600] (got %d)", d.IntervalSeconds)
	check(d.ThresholdMinutes >= 1 && d.ThresholdMinutes <= 120,
		"detection.notification_threshold_minutes must be in [1, 120] (got %d)", d.ThresholdMinutes)
	check(d.PercentageThreshold >= 0 && d.PercentageThreshold <= 100,
		"detection.color_detection_threshold_percentage must be in [0, 100] (got %g)", d.PercentageThreshold)
	check(d.BrightnessThreshold >= 0 && d.BrightnessThreshold <= 255,
		"detection.brightness_threshold must be in [0, 255] (got %g)", d.BrightnessThreshold)
	check(d.MinPixelCount >= 0, "detection.min_pixel_count must not be negative (got %d)", d.MinPixelCount)
	check(d.PreviewIntervalSeconds > 0, "detection.preview_interval_seconds must be positive")
	if _, err := classify.ParsePreset(d.ColorPreset); err != nil {
		errs = append(errs, fmt.Errorf("detection.color_preset: %w", err))
	}

	check(c.Camera.SearchRange >= 1 && c.Camera.SearchRange <= 10,
		"camera.search_range must be in [1, 10] (got %d)", c.Camera.SearchRange)
	switch c.Camera.Source {
	case "camera":
	case "file":
		check(c.Camera.ImagePath != "", "camera.image_path is required for the file source")
	case "random":
		check(c.Camera.ImageDir != "", "camera.image_dir is required for the random source")
	default:
		errs = append(errs, fmt.Errorf("camera.source must be camera, file or random (got %q)", c.Camera.Source))
	}

	check(c.Log.Path != "", "log.path is required")
	check(c.Log.RecentLines >= 1, "log.recent_lines must be at least 1")
	check(c.Web.FreshnessSeconds > 0, "web.freshness_seconds must be positive")
	check(c.Notification.TimeoutSeconds > 0, "notification.timeout_seconds must be positive")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
}

// Preset returns the parsed color-range preset.
func (d Detection) Preset() classify.Preset {
	p, _ := classify.ParsePreset(d.ColorPreset)
	return p
}

// Classifier returns the live-path classifier for the configured preset.
func (d Detection) Classifier() *classify.Classifier {
	c := classify.New(d.Preset())
	c.IncludeRed = d.IncludeRed
	return c
}

// Interval returns the detection interval.
func (d Detection) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

// PreviewInterval returns the dashboard refresh interval.
func (d Detection) PreviewInterval() time.Duration {
	return time.Duration(d.PreviewIntervalSeconds * float64(time.Second))
}

// Freshness returns the frame freshness window.
func (w Web) Freshness() time.Duration {
	return time.Duration(w.FreshnessSeconds * float64(time.Second))
}

// Timeout returns the per-send notification timeout.
func (n Notification) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds * float64(time.Second))
}
