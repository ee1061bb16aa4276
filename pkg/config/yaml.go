package config

import (
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

func init() {
	Register(&YAMLParser{})
}

// YAMLParser implements the Parser interface for .yaml/.yml files.
type YAMLParser struct{}

func (p *YAMLParser) CanParse(filename string) bool {
	return strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml")
}

func (p *YAMLParser) Parse(data []byte) (*Config, error) {
	type yamlSFTP struct {
		Host                  string `yaml:"host"`
		Port                  int    `yaml:"port"`
		User                  string `yaml:"user"`
		Pass                  string `yaml:"pass"`
		RemoteDir             string `yaml:"remote_dir"`
		KnownHostsFile        string `yaml:"known_hosts_file"`
		InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`
	}
	type yamlConfig struct {
		DatabaseDSN    string    `yaml:"database_dsn"`
		PackageDir     string    `yaml:"package_dir"`
		StagingDir     string    `yaml:"staging_dir"`
		Jobs           int       `yaml:"jobs"`
		RestoreTimeout string    `yaml:"restore_timeout"`
		Exclude        []string  `yaml:"exclude"`
		Strict         bool      `yaml:"strict"`
		SFTP           *yamlSFTP `yaml:"sftp"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, errors.Errorf("decoding YAML: %w", err)
	}

	cfg := &Config{
		DatabaseDSN: yamlCfg.DatabaseDSN,
		PackageDir:  yamlCfg.PackageDir,
		StagingDir:  yamlCfg.StagingDir,
		Jobs:        yamlCfg.Jobs,
		Exclude:     yamlCfg.Exclude,
		Strict:      yamlCfg.Strict,
	}
	if yamlCfg.RestoreTimeout != "" {
		d, err := time.ParseDuration(yamlCfg.RestoreTimeout)
		if err != nil {
			return nil, errors.Errorf("parsing restore_timeout: %w", err)
		}
		cfg.RestoreTimeout = d
	}
	if yamlCfg.SFTP != nil {
		cfg.SFTP = &SFTPConfig{
			Host:                  yamlCfg.SFTP.Host,
			Port:                  yamlCfg.SFTP.Port,
			User:                  yamlCfg.SFTP.User,
			Pass:                  yamlCfg.SFTP.Pass,
			RemoteDir:             yamlCfg.SFTP.RemoteDir,
			KnownHostsFile:        yamlCfg.SFTP.KnownHostsFile,
			InsecureIgnoreHostKey: yamlCfg.SFTP.InsecureIgnoreHostKey,
		}
	}
	return cfg, nil
}
