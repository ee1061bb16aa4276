package replicate

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/coursemirror/pkg/backup"
	"github.com/walteh/coursemirror/pkg/lms"
)

var (
	// ErrValidationBlocked is returned when the restore plan's validation
	// pass reports unrecoverable blocking issues. Per-course recoverable by
	// default; strict mode escalates it to a whole-run abort.
	ErrValidationBlocked = errors.New("restore validation reported blocking issues")
	// ErrMissingManifest is returned when a staged package lacks its course
	// payload. Always per-course recoverable.
	ErrMissingManifest = errors.New("staged package is missing its course manifest")
)

// step tracks where the pipeline is; Failed is reachable from any step.
type step int

const (
	stepIdle step = iota
	stepSnapshotting
	stepTransferring
	stepPrecheck
	stepRestoring
	stepFinalizing
	stepDone
	stepFailed
)

func (s step) String() string {
	switch s {
	case stepIdle:
		return "idle"
	case stepSnapshotting:
		return "snapshotting"
	case stepTransferring:
		return "transferring"
	case stepPrecheck:
		return "precheck"
	case stepRestoring:
		return "restoring"
	case stepFinalizing:
		return "finalizing"
	case stepDone:
		return "done"
	case stepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stager fetches a package's extracted form into the local staging directory
// when the snapshot engine runs on another host.
type Stager interface {
	Stage(ctx context.Context, packageID, destDir string) error
}

// Pipeline performs the snapshot, transfer, precheck, restore and finalize
// protocol for a single course. One invocation per (source, destination)
// pair at a time; the caller owns that exclusivity.
type Pipeline struct {
	Repo      lms.Repository
	Engine    backup.Engine
	Rebuilder lms.CacheRebuilder
	Stager    Stager // optional

	StagingDir     string
	RestoreTimeout time.Duration
}

// Duplicate populates the empty destination shell with the source course's
// content. Any returned error is a per-course failure: the snapshot package
// and its staged extraction are cleaned up before returning, so a retry
// starts from scratch.
func (p *Pipeline) Duplicate(ctx context.Context, source, shell lms.Course) (err error) {
	logger := zerolog.Ctx(ctx).With().
		Int64("source_course", source.ID).
		Int64("dest_course", shell.ID).
		Logger()

	current := stepIdle
	enter := func(next step) {
		current = next
		logger.Debug().Stringer("step", current).Msg("pipeline step")
	}
	defer func() {
		if err != nil {
			logger.Debug().Stringer("failed_at", current).Msg("pipeline failed")
		}
	}()

	// The restore rewrites fullname, shortname and visibility from the
	// source; remember the shell's values so Finalizing can put them back.
	intendedFullName := shell.FullName
	intendedShortName := shell.ShortName
	intendedVisible := shell.Visible

	opts := backup.DefaultOptions()

	enter(stepSnapshotting)
	pkg, err := p.Engine.CreateSnapshot(ctx, source.ID, opts)
	if err != nil {
		return errors.Errorf("creating snapshot of course %d: %w", source.ID, err)
	}

	stage := filepath.Join(p.StagingDir, pkg.ID())
	defer func() {
		// Storage cleanup is unconditional. Use a detached context so a
		// canceled run still releases the artifact.
		cleanupCtx := context.WithoutCancel(ctx)
		if derr := pkg.Delete(cleanupCtx); derr != nil {
			logger.Warn().Err(derr).Str("package", pkg.ID()).Msg("deleting snapshot package")
		}
		if derr := os.RemoveAll(stage); derr != nil {
			logger.Warn().Err(derr).Str("stage", stage).Msg("removing staged package")
		}
	}()

	enter(stepTransferring)
	if _, statErr := os.Stat(filepath.Join(stage, "moodle_backup.xml")); statErr != nil {
		if p.Stager != nil {
			if err := p.Stager.Stage(ctx, pkg.ID(), stage); err != nil {
				return errors.Errorf("staging package %s: %w", pkg.ID(), err)
			}
		} else if err := pkg.Extract(ctx, stage); err != nil {
			return errors.Errorf("extracting package %s: %w", pkg.ID(), err)
		}
	}

	enter(stepPrecheck)
	if _, statErr := os.Stat(filepath.Join(stage, "course", "course.xml")); statErr != nil {
		return errors.Errorf("package %s: %w", pkg.ID(), ErrMissingManifest)
	}

	enter(stepRestoring)
	plan, err := p.Engine.NewRestorePlan(ctx, pkg.ID(), shell.ID, opts)
	if err != nil {
		return errors.Errorf("creating restore plan for course %d: %w", shell.ID, err)
	}
	for _, sv := range opts.Names() {
		setting, ok := plan.Setting(sv.Name)
		if !ok || setting.Locked() {
			continue
		}
		if err := setting.SetValue(sv.Value); err != nil {
			return errors.Errorf("applying restore setting %s: %w", sv.Name, err)
		}
	}

	findings, err := plan.Validate(ctx)
	if err != nil {
		return errors.Errorf("validating restore into course %d: %w", shell.ID, err)
	}
	for _, w := range findings.Warnings {
		logger.Warn().Str("warning", w).Msg("restore validation warning")
	}
	if findings.Blocking() {
		return errors.Errorf("restore into course %d: %v: %w", shell.ID, findings.Blockers, ErrValidationBlocked)
	}

	execCtx := ctx
	if p.RestoreTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.RestoreTimeout)
		defer cancel()
	}
	if err := plan.Execute(execCtx); err != nil {
		return errors.Errorf("executing restore into course %d: %w", shell.ID, err)
	}

	enter(stepFinalizing)
	if p.Rebuilder != nil {
		if err := p.Rebuilder.RebuildCourseCache(ctx, shell.ID); err != nil {
			return errors.Errorf("rebuilding cache for course %d: %w", shell.ID, err)
		}
	}

	restored, err := p.Repo.Course(ctx, shell.ID)
	if err != nil {
		return errors.Errorf("re-reading restored course %d: %w", shell.ID, err)
	}
	restored.FullName = intendedFullName
	restored.ShortName = intendedShortName
	restored.Visible = intendedVisible
	if err := p.Repo.UpdateCourse(ctx, restored); err != nil {
		return errors.Errorf("correcting restored course %d: %w", shell.ID, err)
	}

	enter(stepDone)
	return nil
}
