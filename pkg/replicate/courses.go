package replicate

import (
	"context"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/walteh/coursemirror/pkg/lms"
	"github.com/walteh/coursemirror/pkg/naming"
)

// replicateCourses reconciles the courses of one category pair. Existence
// checks and shell creation run on the calling goroutine so short-name
// lookups stay serialized per destination category; only the long-running
// content pipelines fan out when Jobs > 1. The returned error is non-nil
// only for cancellation or a strict-mode validation abort.
func (r *Replicator) replicateCourses(ctx context.Context, src, dest lms.Category, prefix string, report *Report) error {
	logger := zerolog.Ctx(ctx)

	courses, err := r.repo.Courses(ctx, src.ID)
	if err != nil {
		logger.Error().Err(err).Int64("category", src.ID).Msg("listing source courses")
		report.add(Record{Kind: KindCourse, Action: ActionFailed, Name: src.Name, SourceID: src.ID, Err: err})
		return nil
	}

	var group *errgroup.Group
	groupCtx := ctx
	if r.opts.Jobs > 1 {
		group, groupCtx = errgroup.WithContext(ctx)
		group.SetLimit(r.opts.Jobs)
	}

	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			break
		}

		if r.excluded(course.ShortName) {
			logger.Debug().Str("shortname", course.ShortName).Msg("course excluded by pattern")
			report.add(Record{Kind: KindCourse, Action: ActionExcluded, Name: course.ShortName, SourceID: course.ID})
			continue
		}

		candidate := naming.PrefixedShortName(prefix, course.ShortName)

		existing, ok, err := r.resolver.FindCourse(ctx, dest.ID, candidate)
		if err != nil {
			logger.Error().Err(err).Str("shortname", candidate).Msg("resolving destination course")
			report.add(Record{Kind: KindCourse, Action: ActionFailed, Name: candidate, SourceID: course.ID, Err: err})
			continue
		}
		if ok {
			logger.Debug().Str("shortname", candidate).Int64("dest", existing.ID).Msg("course already duplicated")
			report.add(Record{Kind: KindCourse, Action: ActionSkipped, Name: candidate, SourceID: course.ID, DestID: existing.ID})
			continue
		}

		if r.opts.DryRun {
			report.add(Record{Kind: KindCourse, Action: ActionWouldCreate, Name: candidate, SourceID: course.ID})
			continue
		}

		shell := lms.Course{
			FullName:      course.FullName,
			ShortName:     candidate,
			Format:        course.Format,
			IDNumber:      course.IDNumber,
			Visible:       course.Visible,
			Category:      dest.ID,
			Summary:       course.Summary,
			SummaryFormat: course.SummaryFormat,
			// The duplicate starts now, not when the source did.
			StartDate: time.Now(),
		}
		created, err := r.repo.CreateCourse(ctx, shell)
		if err != nil {
			logger.Error().Err(err).Str("shortname", candidate).Msg("creating destination course shell")
			report.add(Record{Kind: KindCourse, Action: ActionFailed, Name: candidate, SourceID: course.ID, Err: err})
			continue
		}
		logger.Debug().Str("shortname", candidate).Int64("dest", created.ID).Msg("course shell created, duplicating content")

		course := course
		run := func() error {
			if err := r.pipeline.Duplicate(groupCtx, course, created); err != nil {
				if r.opts.Strict && errors.Is(err, ErrValidationBlocked) {
					return err
				}
				logger.Error().Err(err).
					Int64("source", course.ID).
					Int64("dest", created.ID).
					Msg("course content duplication failed")
				report.add(Record{Kind: KindCourse, Action: ActionFailed, Name: candidate, SourceID: course.ID, DestID: created.ID, Err: err})
				return nil
			}
			report.add(Record{Kind: KindCourse, Action: ActionCreated, Name: candidate, SourceID: course.ID, DestID: created.ID})
			return nil
		}

		if group != nil {
			group.Go(run)
		} else if err := run(); err != nil {
			return errors.Errorf("strict mode: %w", err)
		}
	}

	if group != nil {
		if err := group.Wait(); err != nil {
			return errors.Errorf("strict mode: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return errors.Errorf("replication canceled: %w", err)
	}
	return nil
}

func (r *Replicator) excluded(shortName string) bool {
	for _, pattern := range r.opts.Exclude {
		matched, err := doublestar.Match(pattern, shortName)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
