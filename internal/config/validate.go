package config

import (
	"errors"
	"fmt"
	"slices"
)

var supportedAlgorithms = []string{"crc32", "md5", "sha1", "sha256"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateIndex(); err != nil {
		return err
	}
	if err := c.validateHashing(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateIndex() error {
	if c.Index.BatchSize < minBatchSize || c.Index.BatchSize > maxBatchSize {
		return fmt.Errorf("index.batch_size must be between %d and %d", minBatchSize, maxBatchSize)
	}
	return nil
}

func (c *Config) validateHashing() error {
	strong := false
	for _, algo := range c.Hashing.Algorithms {
		if !slices.Contains(supportedAlgorithms, algo) {
			return fmt.Errorf("hashing.algorithms: unsupported algorithm %q", algo)
		}
		if algo == "sha1" || algo == "sha256" {
			strong = true
		}
	}
	if !strong {
		return errors.New("hashing.algorithms must include sha1 or sha256")
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Archive.DominanceRatio <= 0.5 || c.Archive.DominanceRatio > 1 {
		return errors.New("archive.dominance_ratio must be greater than 0.5 and at most 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
