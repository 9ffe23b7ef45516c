// Package ridgeconfig holds the cache engine's enumerated
// configuration: environment-variable overrides via a small EnvConfig
// helper and file-based loading via spf13/viper.
package ridgeconfig

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// CacheConfig is the cache engine's enumerated configuration.
type CacheConfig struct {
	MaxReaders            uint32
	MaxDBSize             uint32
	MaxMapSize            uint64
	IntersectionChunkSize int
	IndexingThreads       int

	// Dir and Name override storage location; if Dir is empty a temp
	// directory is used (test only).
	Dir  string
	Name string
}

// DefaultCacheConfig returns the documented defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxReaders:            1000,
		MaxDBSize:             1000,
		MaxMapSize:            1 << 30, // 1 GiB
		IntersectionChunkSize: 100,
		IndexingThreads:       runtime.NumCPU(),
	}
}

// EnvConfig loads configuration overrides from environment variables
// under an optional prefix.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig constructs an EnvConfig reading variables named
// "<prefix>_<KEY>", or bare "<KEY>" when prefix is empty.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) key(k string) string {
	if ec.prefix == "" {
		return k
	}
	return ec.prefix + "_" + k
}

// GetString returns the named variable or defaultValue if unset.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v := os.Getenv(ec.key(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetUint returns the named variable parsed as a uint64, or
// defaultValue if unset or unparsable.
func (ec *EnvConfig) GetUint(key string, defaultValue uint64) uint64 {
	if v := os.Getenv(ec.key(key)); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

// GetBytes returns the named variable parsed as a human-readable byte
// size ("1 GiB", "512MB") via go-humanize, or defaultValue if unset or
// unparsable. Backs MaxMapSize env overrides.
func (ec *EnvConfig) GetBytes(key string, defaultValue uint64) uint64 {
	if v := os.Getenv(ec.key(key)); v != "" {
		if n, err := humanize.ParseBytes(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// ApplyEnv overlays environment-variable overrides onto cfg, under the
// given prefix (e.g. "RIDGE"), returning the updated config.
func (cfg CacheConfig) ApplyEnv(prefix string) CacheConfig {
	env := NewEnvConfig(prefix)
	cfg.MaxReaders = uint32(env.GetUint("MAX_READERS", uint64(cfg.MaxReaders)))
	cfg.MaxDBSize = uint32(env.GetUint("MAX_DB_SIZE", uint64(cfg.MaxDBSize)))
	cfg.MaxMapSize = env.GetBytes("MAX_MAP_SIZE", cfg.MaxMapSize)
	cfg.IntersectionChunkSize = int(env.GetUint("INTERSECTION_CHUNK_SIZE", uint64(cfg.IntersectionChunkSize)))
	cfg.IndexingThreads = int(env.GetUint("INDEXING_THREADS", uint64(cfg.IndexingThreads)))
	cfg.Dir = env.GetString("DIR", cfg.Dir)
	cfg.Name = env.GetString("NAME", cfg.Name)
	return cfg
}

// LoadFile reads a YAML/JSON/TOML configuration file via viper into a
// CacheConfig, overlaying it onto the supplied defaults.
func LoadFile(path string, defaults CacheConfig) (CacheConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("max_readers", defaults.MaxReaders)
	v.SetDefault("max_db_size", defaults.MaxDBSize)
	v.SetDefault("max_map_size", humanize.Bytes(defaults.MaxMapSize))
	v.SetDefault("intersection_chunk_size", defaults.IntersectionChunkSize)
	v.SetDefault("indexing_threads", defaults.IndexingThreads)
	v.SetDefault("dir", defaults.Dir)
	v.SetDefault("name", defaults.Name)

	if err := v.ReadInConfig(); err != nil {
		return CacheConfig{}, fmt.Errorf("ridgeconfig: read %s: %w", path, err)
	}

	mapSize, err := humanize.ParseBytes(v.GetString("max_map_size"))
	if err != nil {
		return CacheConfig{}, fmt.Errorf("ridgeconfig: parse max_map_size: %w", err)
	}

	return CacheConfig{
		MaxReaders:            uint32(v.GetUint32("max_readers")),
		MaxDBSize:             uint32(v.GetUint32("max_db_size")),
		MaxMapSize:            mapSize,
		IntersectionChunkSize: v.GetInt("intersection_chunk_size"),
		IndexingThreads:       v.GetInt("indexing_threads"),
		Dir:                   v.GetString("dir"),
		Name:                  v.GetString("name"),
	}, nil
}

// FormatMapSize renders bytes as a human-readable size, used by
// indexer's map-full error messages.
func FormatMapSize(bytes uint64) string {
	return humanize.Bytes(bytes)
}
