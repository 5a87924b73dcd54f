package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"banksync/internal/banksync/engine"
	"banksync/internal/banksync/protocol"
	"banksync/lib/configutil"
)

const DefaultConfigFile = "banksync.json5"

// Config is read from banksync.json5 with banksync.local.json5 merged over it. Every
// field is optional.
type Config struct {
	UserAgent         string  `json:"user_agent"`
	TimeoutMs         int64   `json:"timeout_ms"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	// Journal is a sqlite path or a libsql url, runs are recorded there.
	Journal string `json:"journal"`
	// DumpDir receives one file per http exchange when set.
	DumpDir string `json:"dump_dir"`
	EnvFile string `json:"env_file"`
	// Banks are merged over the built in descriptors of the same id, unknown ids add banks.
	Banks map[string]protocol.Descriptor `json:"banks"`
}

func (c Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return engine.DefaultTimeout
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// readConfig returns the config at path, a missing file yields the zero config.
func readConfig(path string) (Config, error) {
	config, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return config, nil
}

func defaultJournal() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".banksync", "journal.db")
	}
	return filepath.Join(dir, "banksync", "journal.db")
}
