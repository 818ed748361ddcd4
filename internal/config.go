package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "ROWSTORE"

type RowStoreConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		DataDir    string `mapstructure:"data_dir"`
		BlockCache int    `mapstructure:"block_cache"`
		DirectIO   bool   `mapstructure:"direct_io"`
	} `mapstructure:"storage"`

	Table struct {
		LockTimeout time.Duration `mapstructure:"lock_timeout"`
		RowClockMin int64         `mapstructure:"row_clock_min"`
		SweepWait   time.Duration `mapstructure:"sweep_wait"`
		InlineSweep bool          `mapstructure:"inline_sweep"`
	} `mapstructure:"table"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "rowstore")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.block_cache", 1024)
	v.SetDefault("storage.direct_io", false)
	v.SetDefault("table.lock_timeout", 500*time.Millisecond)
	v.SetDefault("table.row_clock_min", 1024)
	v.SetDefault("table.sweep_wait", 20*time.Millisecond)
	v.SetDefault("table.inline_sweep", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// NewViper returns a viper instance with defaults and ROWSTORE_ env
// overrides (storage.data_dir reads ROWSTORE_STORAGE_DATA_DIR).
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func DefaultConfig() *RowStoreConfig {
	cfg, err := FromViper(NewViper())
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return cfg
}

func LoadConfig(path string) (*RowStoreConfig, error) {
	v := NewViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*RowStoreConfig, error) {
	var cfg RowStoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Storage.BlockCache <= 0 {
		return nil, fmt.Errorf("config: storage.block_cache must be positive, got %d", cfg.Storage.BlockCache)
	}
	return &cfg, nil
}

// NewLogger builds the slog logger described by the logging section.
func (c *RowStoreConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return nil, fmt.Errorf("config: logging.level: %w", err)
	}
	hopts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(c.Logging.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, hopts)
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		return nil, fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
	}
	return slog.New(h).With("app", c.AppName), nil
}
