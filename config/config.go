// Package config loads tilegraph settings from a TOML file.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/janelia-flyem/tilegraph/chain"
	"github.com/janelia-flyem/tilegraph/filter"
	"github.com/janelia-flyem/tilegraph/tg"
)

const (
	DefaultTileSize    = 256
	DefaultCacheSizeMB = 64
)

// Config is the parsed TOML configuration.
type Config struct {
	Logging   tg.LogConfig
	Pipeline  PipelineConfig
	Chain     ChainConfig
	Cache     CacheConfig
	Elevation ElevationConfig
}

// PipelineConfig sets how tiles are pulled from the built graph.
type PipelineConfig struct {
	Threads      int  `toml:"threads"`
	ShareSources bool `toml:"share_sources"`
	TileSize     int  `toml:"tile_size"`
	Level        int  `toml:"level"`
}

// ChainConfig selects the optional stages of every built chain.
type ChainConfig struct {
	Histogram      string `toml:"histogram"`
	ResamplerCache bool   `toml:"resampler_cache"`
	ChainCache     bool   `toml:"chain_cache"`
	Remap8Bit      bool   `toml:"remap_8bit"`
	ThreeBand      bool   `toml:"three_band"`
	ReverseBands   bool   `toml:"reverse_bands"`
	Bands          []int  `toml:"bands"`
}

// CacheConfig sizes the end of chain cache.
type CacheConfig struct {
	SizeMB      int    `toml:"size_mb"`
	Compression string `toml:"compression"`
}

type ElevationConfig struct {
	Dir         string  `toml:"dir"`
	GeoidOffset float64 `toml:"geoid_offset"`
}

// Default returns the configuration used for anything a TOML file leaves out.
func Default() Config {
	return Config{
		Pipeline: PipelineConfig{Threads: 1, TileSize: DefaultTileSize},
		Chain:    ChainConfig{Histogram: filter.StretchNone.String()},
		Cache:    CacheConfig{SizeMB: DefaultCacheSizeMB, Compression: filter.SnappyCompression},
	}
}

// Load decodes a TOML file over the defaults.  Relative paths in the file are taken
// relative to the file's directory.
func Load(filename string) (Config, error) {
	c := Default()
	if filename == "" {
		return c, fmt.Errorf("no TOML configuration file provided")
	}
	md, err := toml.DecodeFile(filename, &c)
	if err != nil {
		return c, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		tg.Warningf("ignoring unknown settings in %s: %v\n", filename, undecoded)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return c, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("bad configuration %s: %v", filename, err)
	}
	tg.Debugf("loaded configuration %s: %+v\n", filename, c)
	return c, nil
}

func convertToAbsolute(path, dir string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(dir, path))
}

func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)
	var err error

	// [logging].logfile
	if c.Logging.Logfile, err = convertToAbsolute(c.Logging.Logfile, configDir); err != nil {
		return fmt.Errorf("logfile %q: %v", c.Logging.Logfile, err)
	}

	// [elevation].dir
	if c.Elevation.Dir, err = convertToAbsolute(c.Elevation.Dir, configDir); err != nil {
		return fmt.Errorf("elevation dir %q: %v", c.Elevation.Dir, err)
	}
	return nil
}

// Validate checks settings that have no usable interpretation.
func (c Config) Validate() error {
	if c.Pipeline.Threads < 1 {
		return fmt.Errorf("pipeline threads must be at least 1, got %d", c.Pipeline.Threads)
	}
	if c.Pipeline.TileSize < 1 {
		return fmt.Errorf("pipeline tile_size must be positive, got %d", c.Pipeline.TileSize)
	}
	if c.Pipeline.Level < 0 {
		return fmt.Errorf("pipeline level must not be negative, got %d", c.Pipeline.Level)
	}
	if _, err := filter.ParseStretchMode(c.Chain.Histogram); err != nil {
		return err
	}
	for _, b := range c.Chain.Bands {
		if b < 0 {
			return fmt.Errorf("negative band %d in chain bands", b)
		}
	}
	if c.Cache.SizeMB < 0 {
		return fmt.Errorf("cache size_mb must not be negative, got %d", c.Cache.SizeMB)
	}
	switch c.Cache.Compression {
	case filter.SnappyCompression, filter.ZstdCompression, filter.NoCompression:
	default:
		return fmt.Errorf("unknown cache compression %q", c.Cache.Compression)
	}
	return nil
}

// ChainOptions translates the [chain] and [cache] sections for a chain builder.
func (c Config) ChainOptions() (chain.Options, error) {
	mode, err := filter.ParseStretchMode(c.Chain.Histogram)
	if err != nil {
		return chain.Options{}, err
	}
	return chain.Options{
		Bands:             c.Chain.Bands,
		AddHistogram:      mode != filter.StretchNone,
		StretchMode:       mode,
		AddResamplerCache: c.Chain.ResamplerCache,
		AddChainCache:     c.Chain.ChainCache,
		RemapTo8Bit:       c.Chain.Remap8Bit,
		ForceThreeBand:    c.Chain.ThreeBand,
		ReverseBands:      c.Chain.ReverseBands,
		CacheBytes:        c.Cache.SizeMB << 20,
		Compression:       c.Cache.Compression,
	}, nil
}
