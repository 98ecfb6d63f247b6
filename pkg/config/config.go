// Package config loads the YAML configuration shared by the bpindex commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sushant-115/bpindex/core/indexing/bptree"
	"github.com/sushant-115/bpindex/pkg/logger"
	"github.com/sushant-115/bpindex/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// IndexConfig holds the settings of the index itself.
type IndexConfig struct {
	// DefaultOrder is used when an index is created without an explicit order.
	DefaultOrder int `yaml:"default_order"`
	// CompressSnapshots enables snappy compression of snapshot files.
	CompressSnapshots bool `yaml:"compress_snapshots"`
	// BackupRateBytesPerSec throttles backups; 0 means unlimited.
	BackupRateBytesPerSec int64 `yaml:"backup_rate_bytes_per_sec"`
	// VerifyBackups reads every backup back and compares checksums.
	VerifyBackups bool `yaml:"verify_backups"`
}

// Config is the root of the configuration file.
type Config struct {
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Index     IndexConfig      `yaml:"index"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logger: logger.Config{
			Level:      "warn",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "bpindex",
			PrometheusPort:   9464,
			TraceSampleRatio: 1.0,
		},
		Index: IndexConfig{
			DefaultOrder:      4,
			CompressSnapshots: true,
			VerifyBackups:     true,
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping fields the document does not set,
// and validates the result. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Index.DefaultOrder < bptree.MinOrder || c.Index.DefaultOrder > bptree.MaxOrder {
		return fmt.Errorf("%w: index.default_order must be between %d and %d, got %d",
			ErrInvalidConfig, bptree.MinOrder, bptree.MaxOrder, c.Index.DefaultOrder)
	}
	if c.Index.BackupRateBytesPerSec < 0 {
		return fmt.Errorf("%w: index.backup_rate_bytes_per_sec must not be negative", ErrInvalidConfig)
	}
	if c.Telemetry.Enabled && (c.Telemetry.PrometheusPort < 0 || c.Telemetry.PrometheusPort > 65535) {
		return fmt.Errorf("%w: telemetry.prometheus_port %d out of range", ErrInvalidConfig, c.Telemetry.PrometheusPort)
	}
	return nil
}
