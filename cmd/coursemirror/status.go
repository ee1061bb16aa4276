package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/coursemirror/pkg/replicate"
)

func newStatusCmd() *cobra.Command {
	var parentID int64

	cmd := &cobra.Command{
		Use:   "status <category-id> <prefix>",
		Short: "preview which categories and courses a duplicate run would create",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			categoryID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Errorf("parsing category id %q: %w", args[0], err)
			}
			prefix := args[1]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			repl, cleanup, err := buildReplicator(ctx, cfg, replicate.Options{
				StagingDir: cfg.StagingDir,
				Exclude:    cfg.Exclude,
				DryRun:     true,
			})
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := repl.Replicate(ctx, categoryID, parentID, prefix)
			if err != nil {
				return err
			}

			rows := pterm.TableData{{"KIND", "NAME", "ACTION"}}
			for _, rec := range report.Records() {
				rows = append(rows, []string{string(rec.Kind), rec.Name, string(rec.Action)})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
				return errors.Errorf("rendering status table: %w", err)
			}

			pending := report.Count(replicate.KindCategory, replicate.ActionWouldCreate) +
				report.Count(replicate.KindCourse, replicate.ActionWouldCreate)
			if pending == 0 {
				pterm.Success.Println("destination is up to date")
			} else {
				pterm.Info.Println(fmt.Sprintf("%d entities would be created", pending))
			}
			return nil
		},
	}

	cmd.Flags().Int64VarP(&parentID, "parent", "p", 0, "destination parent category id (default: the source category's parent)")

	return cmd
}
