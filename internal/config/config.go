// Package config loads the static defaults document (spec §6
// "Configuration") via viper and exposes the preset catalogue the
// supervisor selects from at startup. It deliberately does not
// reimplement the teacher's interactive CLI prompt flow for exchange
// credentials; presets here are declarative entries in the same config
// file, not something an operator types in at runtime.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ingestlabs/marketfeed/internal/event"
	"github.com/ingestlabs/marketfeed/internal/writer/cache"
	"github.com/ingestlabs/marketfeed/internal/writer/columnar"
)

// Config is the static defaults document spec §6 names.
type Config struct {
	Columnar columnar.Config
	Cache    cache.Config

	EnableColumnar     bool
	EnableCache        bool
	HousekeepIntervalS int64

	// NATSURL, when non-empty, enables the optional health fan-out
	// (spec §9). Empty disables it.
	NATSURL string

	Presets []Preset
}

// Preset is one selectable (channel set, symbol source) combination a
// supervisor process runs (spec §4.6, §6 "Preset selection").
type Preset struct {
	Label            string
	Channels         []event.Channel
	Symbols          []string
	LogIntervalS     int64
	CPUAffinityIndex int
	WSBaseURL        string
	WSStreamPath     string
	RestSnapshotURL  string
}

// Load reads the config file at path (or viper's configured search
// paths if path is empty) and decodes it into a Config, applying the
// same defaults the writer packages' own DefaultConfig funcs hold.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("/etc/marketfeed")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetDefault("columnar.batch_rows", 5000)
	v.SetDefault("columnar.flush_interval_ms", 250)
	v.SetDefault("columnar.compression", string(columnar.CompressionLZ4))
	v.SetDefault("cache.pipeline_size", 200)
	v.SetDefault("cache.flush_interval_ms", 50)
	v.SetDefault("enable_columnar", true)
	v.SetDefault("enable_cache", true)
	v.SetDefault("housekeep_interval_s", 1)

	v.SetEnvPrefix("MARKETFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{
		Columnar: columnar.Config{
			Endpoint:        v.GetString("columnar.endpoint"),
			Database:        v.GetString("columnar.database"),
			BatchRows:       v.GetInt("columnar.batch_rows"),
			FlushIntervalMs: v.GetInt("columnar.flush_interval_ms"),
			Compression:     columnar.Compression(v.GetString("columnar.compression")),
		},
		Cache: cache.Config{
			Addr:            v.GetString("cache.addr"),
			Password:        v.GetString("cache.password"),
			DB:              v.GetInt("cache.db"),
			PipelineSize:    v.GetInt("cache.pipeline_size"),
			FlushIntervalMs: v.GetInt("cache.flush_interval_ms"),
		},
		EnableColumnar:     v.GetBool("enable_columnar"),
		EnableCache:        v.GetBool("enable_cache"),
		HousekeepIntervalS: v.GetInt64("housekeep_interval_s"),
		NATSURL:            v.GetString("nats.url"),
	}

	presets, err := decodePresets(v)
	if err != nil {
		return nil, err
	}
	cfg.Presets = presets

	return cfg, nil
}

// decodePresets reads the presets list by index rather than relying on
// UnmarshalKey's struct-tag matching, since event.Channel is a defined
// string type viper's mapstructure decoder does not convert to
// automatically.
func decodePresets(v *viper.Viper) ([]Preset, error) {
	raw := v.Get("presets")
	items, ok := raw.([]interface{})
	if !ok {
		if raw == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("config: presets must be a list")
	}

	presets := make([]Preset, 0, len(items))
	for i := range items {
		prefix := fmt.Sprintf("presets.%d.", i)
		p := Preset{
			Label:            v.GetString(prefix + "label"),
			Symbols:          v.GetStringSlice(prefix + "symbols"),
			LogIntervalS:     v.GetInt64(prefix + "log_interval_s"),
			CPUAffinityIndex: v.GetInt(prefix + "cpu_affinity_index"),
			WSBaseURL:        v.GetString(prefix + "ws_base_url"),
			WSStreamPath:     v.GetString(prefix + "ws_stream_path"),
			RestSnapshotURL:  v.GetString(prefix + "rest_snapshot_url"),
		}
		for _, ch := range v.GetStringSlice(prefix + "channels") {
			p.Channels = append(p.Channels, event.Channel(ch))
		}
		presets = append(presets, p)
	}
	return presets, nil
}

// Find returns the preset with the given label, or false if absent.
func (c *Config) Find(label string) (Preset, bool) {
	for _, p := range c.Presets {
		if p.Label == label {
			return p, true
		}
	}
	return Preset{}, false
}
