package engine

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables honored by FromEnv.
const (
	envMemtableCapacity   = "CRUNCH_MEMTABLE__CAPACITY"
	envCompactionEnabled  = "CRUNCH_STORE__COMPACTION_ENABLED"
	envCompactionInterval = "CRUNCH_STORE__COMPACTION_INTERVAL_SECONDS"
	envBlockCacheBytes    = "CRUNCH_STORE__BLOCK_CACHE_BYTES"
)

// Config carries the tunables of a store.
type Config struct {
	// Dir is the store directory. Created if absent.
	Dir string

	// MemtableCapacity is the number of distinct keys a memtable holds
	// before it is swapped out and flushed.
	MemtableCapacity int

	// CompactionEnabled starts the background compactor.
	CompactionEnabled bool

	// CompactionInterval is how often the compactor looks for work when
	// nothing has nudged it.
	CompactionInterval time.Duration

	// BlockCacheBytes bounds the shared cache of decoded table blocks.
	BlockCacheBytes int

	// L0CompactionTrigger is the number of level-0 tables that starts a
	// compaction into level 1.
	L0CompactionTrigger int

	// LevelBaseBytes is the size target for level 1; each deeper level's
	// target is LevelMultiplier times the previous one.
	LevelBaseBytes int64

	LevelMultiplier int

	MaxLevels int

	// Logger receives structured progress and failure events. Defaults to
	// slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns the defaults for a store rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                 dir,
		MemtableCapacity:    4096,
		CompactionEnabled:   true,
		CompactionInterval:  10 * time.Second,
		BlockCacheBytes:     8 * 1024 * 1024,
		L0CompactionTrigger: 4,
		LevelBaseBytes:      8 * 1024 * 1024,
		LevelMultiplier:     10,
		MaxLevels:           7,
	}
}

// FromEnv builds a Config from the environment, loading a .env file from
// the working directory first when one exists. Unset variables keep their
// defaults.
func FromEnv(dir string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig(dir)

	if v := os.Getenv(envMemtableCapacity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("crunchkv: bad %s: %q", envMemtableCapacity, v)
		}
		cfg.MemtableCapacity = n
	}

	if v := os.Getenv(envCompactionEnabled); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("crunchkv: bad %s: %q", envCompactionEnabled, v)
		}
		cfg.CompactionEnabled = b
	}

	if v := os.Getenv(envCompactionInterval); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("crunchkv: bad %s: %q", envCompactionInterval, v)
		}
		cfg.CompactionInterval = time.Duration(n) * time.Second
	}

	if v := os.Getenv(envBlockCacheBytes); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("crunchkv: bad %s: %q", envBlockCacheBytes, v)
		}
		cfg.BlockCacheBytes = n
	}

	return cfg, nil
}

func (c *Config) withDefaults() {
	d := DefaultConfig(c.Dir)
	if c.MemtableCapacity <= 0 {
		c.MemtableCapacity = d.MemtableCapacity
	}
	if c.CompactionInterval <= 0 {
		c.CompactionInterval = d.CompactionInterval
	}
	if c.BlockCacheBytes <= 0 {
		c.BlockCacheBytes = d.BlockCacheBytes
	}
	if c.L0CompactionTrigger <= 0 {
		c.L0CompactionTrigger = d.L0CompactionTrigger
	}
	if c.LevelBaseBytes <= 0 {
		c.LevelBaseBytes = d.LevelBaseBytes
	}
	if c.LevelMultiplier <= 1 {
		c.LevelMultiplier = d.LevelMultiplier
	}
	if c.MaxLevels <= 1 {
		c.MaxLevels = d.MaxLevels
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
