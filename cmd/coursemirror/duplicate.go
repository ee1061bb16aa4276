package main

import (
	"context"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/coursemirror/pkg/backup/local"
	"github.com/walteh/coursemirror/pkg/backup/sftpstage"
	"github.com/walteh/coursemirror/pkg/config"
	"github.com/walteh/coursemirror/pkg/lms/postgres"
	"github.com/walteh/coursemirror/pkg/log"
	"github.com/walteh/coursemirror/pkg/replicate"
)

func newDuplicateCmd() *cobra.Command {
	var (
		parentID int64
		exclude  []string
		jobs     int
		strict   bool
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "duplicate <category-id> <prefix> [course-name]",
		Short: "duplicate a category subtree under a destination parent",
		Long: `Duplicate walks the source category's subtree and recreates it under the
destination parent. Categories and courses that already exist there (matched
by exact name, or by prefixed short name for courses) are skipped; missing
ones are created and course content is copied via snapshot and restore.
Re-running after a partial failure only creates what is still missing.`,
		// The trailing course-name argument is accepted for compatibility
		// with the legacy invocation and ignored.
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			categoryID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Errorf("parsing category id %q: %w", args[0], err)
			}
			prefix := args[1]
			if prefix == "" {
				return errors.New("prefix must not be empty")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyFlags(cfg, cmd, exclude, jobs, strict)

			console := log.New(os.Stdout, logLevel())
			console.Header("duplicating category " + args[0] + " with prefix " + prefix)

			repl, cleanup, err := buildReplicator(ctx, cfg, replicate.Options{
				StagingDir:     cfg.StagingDir,
				RestoreTimeout: cfg.RestoreTimeout,
				Jobs:           cfg.Jobs,
				Exclude:        cfg.Exclude,
				Strict:         cfg.Strict,
				DryRun:         dryRun,
				Notify:         console.Record,
			})
			if err != nil {
				return err
			}
			defer cleanup()

			// Run-fatal errors are returned as-is; cobra renders them once.
			report, err := repl.Replicate(ctx, categoryID, parentID, prefix)
			if err != nil {
				return err
			}
			console.Summary(report)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&parentID, "parent", "p", 0, "destination parent category id (default: the source category's parent)")
	cmd.Flags().StringArrayVar(&exclude, "exclude", nil, "short-name glob of courses to skip (repeatable)")
	cmd.Flags().IntVar(&jobs, "jobs", 0, "concurrent course duplications per category (default from config)")
	cmd.Flags().BoolVar(&strict, "strict", false, "abort the whole run when restore validation reports blockers")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be created without mutating anything")

	return cmd
}

// applyFlags lets command-line flags override the file config.
func applyFlags(cfg *config.Config, cmd *cobra.Command, exclude []string, jobs int, strict bool) {
	if len(exclude) > 0 {
		cfg.Exclude = append(cfg.Exclude, exclude...)
	}
	if jobs > 0 {
		cfg.Jobs = jobs
	}
	if cmd.Flags().Changed("strict") {
		cfg.Strict = strict
	}
}

// buildReplicator wires the repository, engine and optional SFTP stager.
func buildReplicator(ctx context.Context, cfg *config.Config, opts replicate.Options) (*replicate.Replicator, func(), error) {
	repo, err := postgres.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, errors.Errorf("connecting to repository: %w", err)
	}

	engine := local.New(repo, cfg.PackageDir, cfg.StagingDir)

	var stager replicate.Stager
	if cfg.SFTP != nil {
		s, err := sftpstage.New(sftpstage.Config{
			Host:                  cfg.SFTP.Host,
			Port:                  cfg.SFTP.Port,
			User:                  cfg.SFTP.User,
			Pass:                  cfg.SFTP.Pass,
			RemoteDir:             cfg.SFTP.RemoteDir,
			KnownHostsFile:        cfg.SFTP.KnownHostsFile,
			InsecureIgnoreHostKey: cfg.SFTP.InsecureIgnoreHostKey,
		})
		if err != nil {
			repo.Close()
			return nil, nil, errors.Errorf("configuring sftp staging: %w", err)
		}
		stager = s
	}

	repl := replicate.New(repo, engine, repo, stager, opts)
	return repl, repo.Close, nil
}
