package config

import (
	"github.com/caarlos0/env/v11"
	"gitlab.com/tozd/go/errors"
)

// envOverrides are applied after file parsing so credentials can stay out of
// config files checked into version control.
type envOverrides struct {
	DatabaseDSN string `env:"COURSEMIRROR_DB_DSN"`
	SFTPHost    string `env:"COURSEMIRROR_SFTP_HOST"`
	SFTPUser    string `env:"COURSEMIRROR_SFTP_USER"`
	SFTPPass    string `env:"COURSEMIRROR_SFTP_PASS"`
}

func applyEnv(cfg *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return errors.Errorf("parsing environment: %w", err)
	}

	if overrides.DatabaseDSN != "" {
		cfg.DatabaseDSN = overrides.DatabaseDSN
	}
	if overrides.SFTPHost != "" || overrides.SFTPUser != "" || overrides.SFTPPass != "" {
		if cfg.SFTP == nil {
			cfg.SFTP = &SFTPConfig{}
		}
		if overrides.SFTPHost != "" {
			cfg.SFTP.Host = overrides.SFTPHost
		}
		if overrides.SFTPUser != "" {
			cfg.SFTP.User = overrides.SFTPUser
		}
		if overrides.SFTPPass != "" {
			cfg.SFTP.Pass = overrides.SFTPPass
		}
	}
	return nil
}
