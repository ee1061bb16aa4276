// Package replicate duplicates a category subtree, courses included, into
// another part of the same content repository. Runs are idempotent: entities
// that already exist at the destination (matched by exact name or prefixed
// short name within the correct parent) are skipped, never modified.
package replicate

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/coursemirror/pkg/backup"
	"github.com/walteh/coursemirror/pkg/lms"
	"github.com/walteh/coursemirror/pkg/naming"
)

// Options configures a run. The prefix is passed per call, not stored here,
// so one Replicator can serve concurrent runs with different prefixes.
type Options struct {
	StagingDir     string
	RestoreTimeout time.Duration
	// Jobs bounds concurrent course pipelines within one category pair.
	// Values below 2 mean fully sequential.
	Jobs int
	// Exclude holds doublestar globs matched against source short names.
	Exclude []string
	// Strict restores the legacy behavior of aborting the whole run when a
	// restore validation reports blockers. Default is per-course isolation.
	Strict bool
	// DryRun walks and reports without creating anything.
	DryRun bool
	// Notify, when set, receives every outcome record as it is produced.
	Notify func(Record)
}

// Replicator drives the recursive tree reconciliation.
type Replicator struct {
	repo     lms.Repository
	resolver *Resolver
	pipeline *Pipeline
	opts     Options
}

func New(repo lms.Repository, engine backup.Engine, rebuilder lms.CacheRebuilder, stager Stager, opts Options) *Replicator {
	return &Replicator{
		repo:     repo,
		resolver: NewResolver(repo),
		pipeline: &Pipeline{
			Repo:           repo,
			Engine:         engine,
			Rebuilder:      rebuilder,
			Stager:         stager,
			StagingDir:     opts.StagingDir,
			RestoreTimeout: opts.RestoreTimeout,
		},
		opts: opts,
	}
}

// Replicate reconciles all descendants of the source category into the
// destination parent. A parentID of 0 means "the source category's own
// parent", mirroring the CLI default. The returned error is non-nil only for
// run-fatal conditions: a missing source or parent category, cancellation,
// or a strict-mode validation abort; per-entity failures land in the report.
func (r *Replicator) Replicate(ctx context.Context, sourceID, parentID int64, prefix string) (*Report, error) {
	source, err := r.repo.Category(ctx, sourceID)
	if err != nil {
		return nil, errors.Errorf("source category %d: %w", sourceID, err)
	}

	if parentID == 0 {
		parentID = source.Parent
	}
	parent, err := r.repo.Category(ctx, parentID)
	if err != nil {
		return nil, errors.Errorf("parent category %d: %w", parentID, err)
	}

	zerolog.Ctx(ctx).Debug().
		Int64("source", source.ID).
		Int64("parent", parent.ID).
		Str("prefix", prefix).
		Bool("dry_run", r.opts.DryRun).
		Msg("starting replication")

	report := NewReport(r.opts.Notify)
	if err := r.walk(ctx, source, parent, prefix, report); err != nil {
		return report, err
	}
	return report, nil
}

// walk reconciles the direct children of src into destParent, then recurses.
// A failure on one child is recorded and its subtree skipped; siblings keep
// going.
func (r *Replicator) walk(ctx context.Context, src, destParent lms.Category, prefix string, report *Report) error {
	if err := ctx.Err(); err != nil {
		return errors.Errorf("replication canceled: %w", err)
	}

	logger := zerolog.Ctx(ctx)

	children, err := r.repo.ChildCategories(ctx, src.ID)
	if err != nil {
		logger.Error().Err(err).Int64("category", src.ID).Msg("enumerating child categories")
		report.add(Record{Kind: KindCategory, Action: ActionFailed, Name: src.Name, SourceID: src.ID, Err: err})
		return nil
	}
	logger.Debug().Int64("category", src.ID).Int("children", len(children)).Msg("found child categories")

	for _, cat := range children {
		if err := ctx.Err(); err != nil {
			return errors.Errorf("replication canceled: %w", err)
		}

		dest, ok, err := r.resolver.FindCategory(ctx, destParent.ID, cat.Name)
		if err != nil {
			logger.Error().Err(err).Str("name", cat.Name).Msg("resolving destination category")
			report.add(Record{Kind: KindCategory, Action: ActionFailed, Name: cat.Name, SourceID: cat.ID, Err: err})
			continue
		}

		switch {
		case ok:
			// Reuse as-is. Existing destination data is never overwritten.
			logger.Debug().Str("name", cat.Name).Int64("dest", dest.ID).Msg("category already exists")
			report.add(Record{Kind: KindCategory, Action: ActionSkipped, Name: cat.Name, SourceID: cat.ID, DestID: dest.ID})
		case r.opts.DryRun:
			report.add(Record{Kind: KindCategory, Action: ActionWouldCreate, Name: cat.Name, SourceID: cat.ID})
			dest = naming.CloneCategory(cat, destParent.ID)
			dest.ID = -1 // synthetic scope: reads under it find nothing
		default:
			created, err := r.repo.CreateCategory(ctx, naming.CloneCategory(cat, destParent.ID))
			if err != nil {
				logger.Error().Err(err).Str("name", cat.Name).Msg("creating destination category")
				report.add(Record{Kind: KindCategory, Action: ActionFailed, Name: cat.Name, SourceID: cat.ID, Err: err})
				continue
			}
			logger.Debug().Str("name", cat.Name).Int64("dest", created.ID).Msg("category created")
			report.add(Record{Kind: KindCategory, Action: ActionCreated, Name: cat.Name, SourceID: cat.ID, DestID: created.ID})
			dest = created
		}

		if err := r.replicateCourses(ctx, cat, dest, prefix, report); err != nil {
			return err
		}
		if err := r.walk(ctx, cat, dest, prefix, report); err != nil {
			return err
		}
	}
	return nil
}
