package assetgo

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the TOML-loadable manager configuration. Zero values mean "use
// the default".
//
// Sizes are plain byte counts; durations are strings like "5ms".
//
// Example:
//
//	memory_limit = 1073741824
//
//	[cache]
//	max_size = 200
//	max_memory = 268435456
//
//	[pool]
//	size = 67108864
//	chunk_size = 1024
//
//	[upload]
//	bandwidth = 104857600
//	max_frame_time = "5ms"
//
//	[pressure]
//	threshold = 536870912
//	check_interval = "5s"
//	target = 0.3
type Config struct {
	MemoryLimit       int64 `toml:"memory_limit"`
	FallbackResources *bool `toml:"fallback_resources"`

	Cache struct {
		MaxSize   int   `toml:"max_size"`
		MaxMemory int64 `toml:"max_memory"`
	} `toml:"cache"`

	Pool struct {
		Size      int64 `toml:"size"`
		ChunkSize int64 `toml:"chunk_size"`
	} `toml:"pool"`

	Upload struct {
		Bandwidth    int64    `toml:"bandwidth"`
		MaxFrameTime duration `toml:"max_frame_time"`
		StagingSize  int64    `toml:"staging_size"`
	} `toml:"upload"`

	Pressure struct {
		Threshold     int64    `toml:"threshold"`
		CheckInterval duration `toml:"check_interval"`
		Target        float64  `toml:"target"`
	} `toml:"pressure"`
}

// duration parses TOML strings like "5ms" into a time.Duration.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	return ReadConfig(f)
}

// ReadConfig decodes a TOML configuration from r.
func ReadConfig(r io.Reader) (*Config, error) {
	var cfg Config

	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Options converts the configuration into manager options. Zero-valued
// fields contribute nothing, so explicit Option arguments passed after these
// win.
func (c *Config) Options() []Option {
	var opts []Option

	if c.MemoryLimit > 0 {
		opts = append(opts, WithMemoryLimit(c.MemoryLimit))
	}
	if c.FallbackResources != nil {
		opts = append(opts, WithFallbackResources(*c.FallbackResources))
	}
	if c.Cache.MaxSize > 0 || c.Cache.MaxMemory > 0 {
		opts = append(opts, WithCacheSize(c.Cache.MaxSize, c.Cache.MaxMemory))
	}
	if c.Pool.Size > 0 || c.Pool.ChunkSize > 0 {
		opts = append(opts, WithPoolSize(c.Pool.Size, c.Pool.ChunkSize))
	}
	if c.Upload.Bandwidth > 0 || c.Upload.MaxFrameTime > 0 {
		opts = append(opts, WithUploadBudgets(c.Upload.Bandwidth, time.Duration(c.Upload.MaxFrameTime)))
	}
	if c.Upload.StagingSize > 0 {
		opts = append(opts, WithStagingSize(c.Upload.StagingSize))
	}
	if c.Pressure.Threshold > 0 {
		opts = append(opts, WithMemoryPressureThreshold(c.Pressure.Threshold))
	}
	if c.Pressure.CheckInterval > 0 {
		opts = append(opts, WithPressureCheckInterval(time.Duration(c.Pressure.CheckInterval)))
	}
	if c.Pressure.Target > 0 {
		opts = append(opts, WithPressureTarget(c.Pressure.Target))
	}
	return opts
}
