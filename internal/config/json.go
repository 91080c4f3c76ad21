package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// duration lets JSON specify intervals either as strings like "3s" or as
// integer nanoseconds.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", data)
	}
}

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Values are
// copied into the runtime Config only when present in the file.
type JsonConfig struct {
	ServerEndpointAddr  *string   `json:"server_endpoint_addr"`
	AuthToken           *string   `json:"auth_token"`
	DataDir             *string   `json:"data_dir"`
	CacheMaxBytes       *int64    `json:"cache_max_bytes"`
	TileBatchSize       *int      `json:"tile_batch_size"`
	FetchConcurrency    *int      `json:"fetch_concurrency"`
	MinZoom             *int      `json:"min_zoom"`
	MaxZoom             *int      `json:"max_zoom"`
	AvgTileBytes        *int64    `json:"avg_tile_bytes"`
	TileSourceID        *string   `json:"tile_source_id"`
	SyncInterval        *duration `json:"sync_interval"`
	OnlineCheckInterval *duration `json:"online_check_interval"`
}

// parseJson overlays cfg with values loaded from the JSON file at path.
// An empty path means no file is used. Absent fields keep their current
// values, so the file only needs to name what it changes.
func parseJson(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if jc.ServerEndpointAddr != nil {
		cfg.ServerEndpointAddr = *jc.ServerEndpointAddr
	}
	if jc.AuthToken != nil {
		cfg.AuthToken = *jc.AuthToken
	}
	if jc.DataDir != nil {
		cfg.DataDir = *jc.DataDir
	}
	if jc.CacheMaxBytes != nil {
		cfg.CacheMaxBytes = *jc.CacheMaxBytes
	}
	if jc.TileBatchSize != nil {
		cfg.TileBatchSize = *jc.TileBatchSize
	}
	if jc.FetchConcurrency != nil {
		cfg.FetchConcurrency = *jc.FetchConcurrency
	}
	if jc.MinZoom != nil {
		cfg.MinZoom = *jc.MinZoom
	}
	if jc.MaxZoom != nil {
		cfg.MaxZoom = *jc.MaxZoom
	}
	if jc.AvgTileBytes != nil {
		cfg.AvgTileBytes = *jc.AvgTileBytes
	}
	if jc.TileSourceID != nil {
		cfg.TileSourceID = *jc.TileSourceID
	}
	if jc.SyncInterval != nil {
		cfg.SyncInterval = jc.SyncInterval.Duration
	}
	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	return nil
}
