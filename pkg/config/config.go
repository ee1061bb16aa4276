// Package config loads coursemirror configuration from HCL or YAML files,
// with environment overrides for credentials.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gitlab.com/tozd/go/errors"
)

// Config is the parsed configuration model shared by all file formats.
type Config struct {
	// DatabaseDSN is the connection string of the content repository.
	DatabaseDSN string
	// PackageDir is where the local engine writes snapshot packages.
	PackageDir string
	// StagingDir is where packages are extracted before restore.
	StagingDir string
	// Jobs bounds concurrent course pipelines per category. 1 = sequential.
	Jobs int
	// RestoreTimeout caps a single restore execution.
	RestoreTimeout time.Duration
	// Exclude holds short-name globs for courses that must not be duplicated.
	Exclude []string
	// Strict aborts the whole run on a restore-validation blocker.
	Strict bool
	// SFTP, when set, makes the pipeline fetch extracted packages from the
	// engine host instead of extracting locally.
	SFTP *SFTPConfig
}

// SFTPConfig points at the host running the snapshot engine.
type SFTPConfig struct {
	Host      string
	Port      int
	User      string
	Pass      string
	RemoteDir string
	// KnownHostsFile overrides ~/.ssh/known_hosts for host key verification.
	KnownHostsFile string
	// InsecureIgnoreHostKey disables host key verification. Dev setups only.
	InsecureIgnoreHostKey bool
}

// Default returns a config with working local defaults; only DatabaseDSN has
// no sensible default.
func Default() *Config {
	base := filepath.Join(os.TempDir(), "coursemirror")
	return &Config{
		PackageDir:     filepath.Join(base, "packages"),
		StagingDir:     filepath.Join(base, "backup"),
		Jobs:           1,
		RestoreTimeout: 30 * time.Minute,
	}
}

// Validate checks invariants shared by every load path.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if c.Jobs < 1 {
		return errors.Errorf("jobs must be at least 1, got %d", c.Jobs)
	}
	if c.RestoreTimeout < 0 {
		return errors.New("restore timeout must not be negative")
	}
	if c.SFTP != nil && (c.SFTP.Host == "" || c.SFTP.User == "") {
		return errors.New("sftp staging requires host and user")
	}
	return nil
}
