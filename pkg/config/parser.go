package config

import (
	"os"

	"gitlab.com/tozd/go/errors"
)

// Parser turns one file format into the shared Config model.
type Parser interface {
	// CanParse checks if this parser handles the given file
	CanParse(filename string) bool
	// Parse decodes the raw bytes
	Parse(data []byte) (*Config, error)
}

var parsers []Parser

// Register adds a parser to the registry. Called from format init functions.
func Register(p Parser) {
	parsers = append(parsers, p)
}

// Load reads the config file, decodes it with the first parser that claims
// the filename, applies environment overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	var cfg *Config
	for _, p := range parsers {
		if !p.CanParse(path) {
			continue
		}
		cfg, err = p.Parse(data)
		if err != nil {
			return nil, errors.Errorf("parsing %s: %w", path, err)
		}
		break
	}
	if cfg == nil {
		return nil, errors.Errorf("no parser for config file %s", path)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, errors.Errorf("applying environment overrides: %w", err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.PackageDir == "" {
		cfg.PackageDir = def.PackageDir
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = def.StagingDir
	}
	if cfg.Jobs == 0 {
		cfg.Jobs = def.Jobs
	}
	if cfg.RestoreTimeout == 0 {
		cfg.RestoreTimeout = def.RestoreTimeout
	}
	if cfg.SFTP != nil && cfg.SFTP.Port == 0 {
		cfg.SFTP.Port = 22
	}
}
