// Package config holds runtime settings for the tripatlas client.
package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Config holds runtime settings for the tripatlas CLI.
//
// Units: CacheMaxBytes and AvgTileBytes are bytes; SyncInterval and
// OnlineCheckInterval are time.Durations.
type Config struct {
	ServerEndpointAddr  string
	AuthToken           string
	DataDir             string
	CacheMaxBytes       int64
	TileBatchSize       int
	FetchConcurrency    int
	MinZoom             int
	MaxZoom             int
	AvgTileBytes        int64
	TileSourceID        string
	SyncInterval        time.Duration
	OnlineCheckInterval time.Duration
}

// LoadDefaults populates c with sensible defaults. The data directory
// follows the XDG base directory convention.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.AuthToken = ""
	c.DataDir = filepath.Join(xdg.DataHome, "tripatlas")
	c.CacheMaxBytes = 500 * 1024 * 1024
	c.TileBatchSize = 32
	c.FetchConcurrency = 4
	c.MinZoom = 10
	c.MaxZoom = 15
	c.AvgTileBytes = 18 * 1024
	c.TileSourceID = "osm"
	c.SyncInterval = 15 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
}

// DatabasePath is the location of the local SQLite replica.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "tripatlas.db")
}

// LoadConfig constructs a Config: defaults first, then values from the JSON
// file at path (if non-empty) overlaid on top.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}
