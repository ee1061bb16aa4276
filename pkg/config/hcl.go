package config

import (
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gitlab.com/tozd/go/errors"
)

func init() {
	Register(&HCLParser{})
}

// HCLParser implements the Parser interface for .hcl files.
type HCLParser struct{}

func (p *HCLParser) CanParse(filename string) bool {
	return strings.HasSuffix(filename, ".hcl")
}

func (p *HCLParser) Parse(data []byte) (*Config, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(data, "config.hcl")
	if diags.HasErrors() {
		return nil, errors.Errorf("parsing HCL: %s", diags.Error())
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{},
	}

	type hclSFTP struct {
		Host                  string `hcl:"host"`
		Port                  int    `hcl:"port,optional"`
		User                  string `hcl:"user"`
		Pass                  string `hcl:"pass,optional"`
		RemoteDir             string `hcl:"remote_dir,optional"`
		KnownHostsFile        string `hcl:"known_hosts_file,optional"`
		InsecureIgnoreHostKey bool   `hcl:"insecure_ignore_host_key,optional"`
	}
	type hclConfig struct {
		DatabaseDSN    string   `hcl:"database_dsn,optional"`
		PackageDir     string   `hcl:"package_dir,optional"`
		StagingDir     string   `hcl:"staging_dir,optional"`
		Jobs           int      `hcl:"jobs,optional"`
		RestoreTimeout string   `hcl:"restore_timeout,optional"`
		Exclude        []string `hcl:"exclude,optional"`
		Strict         bool     `hcl:"strict,optional"`
		SFTP           *hclSFTP `hcl:"sftp,block"`
	}

	var hclCfg hclConfig
	diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &hclCfg)
	if diags.HasErrors() {
		return nil, errors.Errorf("decoding HCL: %s", diags.Error())
	}

	cfg := &Config{
		DatabaseDSN: hclCfg.DatabaseDSN,
		PackageDir:  hclCfg.PackageDir,
		StagingDir:  hclCfg.StagingDir,
		Jobs:        hclCfg.Jobs,
		Exclude:     hclCfg.Exclude,
		Strict:      hclCfg.Strict,
	}
	if hclCfg.RestoreTimeout != "" {
		d, err := time.ParseDuration(hclCfg.RestoreTimeout)
		if err != nil {
			return nil, errors.Errorf("parsing restore_timeout: %w", err)
		}
		cfg.RestoreTimeout = d
	}
	if hclCfg.SFTP != nil {
		cfg.SFTP = &SFTPConfig{
			Host:                  hclCfg.SFTP.Host,
			Port:                  hclCfg.SFTP.Port,
			User:                  hclCfg.SFTP.User,
			Pass:                  hclCfg.SFTP.Pass,
			RemoteDir:             hclCfg.SFTP.RemoteDir,
			KnownHostsFile:        hclCfg.SFTP.KnownHostsFile,
			InsecureIgnoreHostKey: hclCfg.SFTP.InsecureIgnoreHostKey,
		}
	}
	return cfg, nil
}
