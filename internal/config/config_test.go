package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/lamp-monitor/internal/classify"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

const sample = `
coordinates:
  orange: {x1: 297, y1: 86, x2: 347, y2: 133}
  green: {x1: 303, y1: 110, x2: 350, y2: 164}
detection:
  detection_interval_seconds: 30
  notification_threshold_minutes: 10
  color_detection_threshold_percentage: 50
  brightness_threshold: 90
  min_pixel_count: 80
  color_preset: enhanced
camera:
  search_range: 3
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Detection.IntervalSeconds)
	assert.Equal(t, 30*time.Second, cfg.Detection.Interval())
	assert.Equal(t, classify.Enhanced, cfg.Detection.Preset())
	assert.Equal(t, 297, cfg.Coordinates.Orange.X1)
	assert.Equal(t, 3, cfg.Camera.SearchRange)
	assert.Equal(t, 90.0, cfg.Detection.BrightnessThreshold)
	assert.Equal(t, 80, cfg.Detection.MinPixelCount)
	// knobs not in the file keep their defaults
	assert.Equal(t, "data.csv", cfg.Log.Path)
	assert.Equal(t, 1.0, cfg.Detection.PreviewIntervalSeconds)

	c := cfg.Detection.Classifier()
	assert.Equal(t, classify.Enhanced, c.Preset)
	assert.True(t, c.Preprocess)
	assert.False(t, c.IncludeRed)
}

func TestIncludeRedReachesClassifier(t *testing.T) {
	data := strings.Replace(sample, "  color_preset: enhanced\n", "  color_preset: enhanced\n  include_red: true\n", 1)
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.True(t, cfg.Detection.Classifier().IncludeRed)

	t.Setenv("LAMP_INCLUDE_RED", "false")
	cfg, err = Parse([]byte(data))
	require.NoError(t, err)
	assert.False(t, cfg.Detection.Classifier().IncludeRed)
}

func TestJSONSettingsParse(t *testing.T) {
	data := `{"coordinates": {"orange": {"x1": 1, "y1": 1, "x2": 5, "y2": 5}, "green": {"x1": 6, "y1": 1, "x2": 9, "y2": 5}}, ` +
		`"detection": {"detection_interval_seconds": 60, "notification_threshold_minutes": 5, "color_detection_threshold_percentage": 30, ` +
		`"brightness_threshold": 100, "min_pixel_count": 0, "debug_mode": true}}`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.True(t, cfg.Detection.DebugMode)
	assert.Equal(t, 5, cfg.Detection.ThresholdMinutes)
}

func TestSafetyThresholdsHaveNoDefaults(t *testing.T) {
	data := `
coordinates:
  orange: {x1: 1, y1: 1, x2: 5, y2: 5}
  green: {x1: 6, y1: 1, x2: 9, y2: 5}
`
	_, err := Parse([]byte(data))
	require.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, err.Error(), "detection_interval_seconds")
	assert.Contains(t, err.Error(), "notification_threshold_minutes")
	assert.Contains(t, err.Error(), "color_detection_threshold_percentage")
	assert.Contains(t, err.Error(), "brightness_threshold")
	assert.Contains(t, err.Error(), "min_pixel_count")
}

func TestAcceptanceThresholdsHaveNoDefaults(t *testing.T) {
	data := `
coordinates:
  orange: {x1: 1, y1: 1, x2: 5, y2: 5}
  green: {x1: 6, y1: 1, x2: 9, y2: 5}
detection:
  detection_interval_seconds: 60
  notification_threshold_minutes: 10
  color_detection_threshold_percentage: 50
`
	_, err := Parse([]byte(data))
	require.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, err.Error(), "brightness_threshold")
	assert.Contains(t, err.Error(), "min_pixel_count")
	assert.NotContains(t, err.Error(), "detection_interval_seconds")

	t.Setenv("LAMP_BRIGHTNESS_THRESHOLD", "100")
	t.Setenv("LAMP_MIN_PIXEL_COUNT", "100")
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 100.0, cfg.Detection.BrightnessThreshold)
	assert.Equal(t, 100, cfg.Detection.MinPixelCount)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("LAMP_DETECTION_INTERVAL_SECONDS", "5")
	t.Setenv("LAMP_DEBUG_MODE", "true")
	t.Setenv("TEAMS_MENTIONS", "a@example.com,b@example.com")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Detection.IntervalSeconds)
	assert.True(t, cfg.Detection.DebugMode)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Notification.Teams.Mentions)
}

func TestValidateRanges(t *testing.T) {
	cases := map[string]func(c *Config){
		"interval low":      func(c *Config) { c.Detection.IntervalSeconds = 0 },
		"interval high":     func(c *Config) { c.Detection.IntervalSeconds = 3601 },
		"threshold high":    func(c *Config) { c.Detection.ThresholdMinutes = 121 },
		"percentage":        func(c *Config) { c.Detection.PercentageThreshold = 100.5 },
		"brightness":        func(c *Config) { c.Detection.BrightnessThreshold = 256 },
		"search range":      func(c *Config) { c.Camera.SearchRange = 11 },
		"preset":            func(c *Config) { c.Detection.ColorPreset = "loose" },
		"inverted rect":     func(c *Config) { c.Coordinates.Green.X2 = c.Coordinates.Green.X1 },
		"unset rect":        func(c *Config) { c.Coordinates.Orange = types.Rect{} },
		"file source":       func(c *Config) { c.Camera.Source = "file"; c.Camera.ImagePath = "" },
		"unknown source":    func(c *Config) { c.Camera.Source = "usb" },
		"freshness":         func(c *Config) { c.Web.FreshnessSeconds = 0 },
		"notify timeout":    func(c *Config) { c.Notification.TimeoutSeconds = 0 },
		"negative min pixl": func(c *Config) { c.Detection.MinPixelCount = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrConfigInvalid)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setting.yaml")
	cfg := Default()
	cfg.Coordinates.Orange.X1 = 10
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.Coordinates.Orange.X1)
	assert.Equal(t, cfg.Detection, loaded.Detection)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be renamed away")

	bad := Default()
	bad.Detection.IntervalSeconds = 0
	assert.ErrorIs(t, Save(path, bad), ErrConfigInvalid)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
