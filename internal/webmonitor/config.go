package webmonitor

import "time"

// Config defines the runtime configuration for the dashboard server.
type Config struct {
	Addr           string
	StatusInterval time.Duration
	MJPEGInterval  time.Duration
	RecentLines    int // default for /api/logs
	MaxWidth       int // preview frames wider than this are scaled down; 0 keeps full size
	LogPath        string
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: 2 * time.Second,
		MJPEGInterval:  500 * time.Millisecond,
		RecentLines:    10,
		MaxWidth:       960,
		LogPath:        "data.csv",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.MJPEGInterval <= 0 {
		c.MJPEGInterval = def.MJPEGInterval
	}
	if c.RecentLines <= 0 {
		c.RecentLines = def.RecentLines
	}
	return c
}
