package replicate

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/coursemirror/pkg/backup"
	"github.com/walteh/coursemirror/pkg/lms"
)

func TestReplicate_CreatesTree(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	report, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err, "replicating")

	algebra := findChild(t, ctx, f.repo, f.archive.ID, "Algebra")
	assert.Equal(t, "about Algebra", algebra.Description, "descriptive fields are cloned")

	courses, err := f.repo.Courses(ctx, algebra.ID)
	require.NoError(t, err)
	require.Len(t, courses, 1, "one duplicated course expected")

	dup := courses[0]
	assert.Equal(t, "2024 ALG101", dup.ShortName)
	assert.Equal(t, "Algebra 101", dup.FullName)
	assert.Equal(t, "summary of ALG101", dup.Summary, "content restored from snapshot")
	assert.False(t, dup.StartDate.IsZero(), "duplicate starts at run time")
	assert.NotEqual(t, f.alg101.ID, dup.ID)

	assert.Equal(t, 1, f.repo.RebuildCount(dup.ID), "cache rebuilt once after restore")

	assert.Equal(t, 1, report.Count(KindCategory, ActionCreated))
	assert.Equal(t, 1, report.Count(KindCourse, ActionCreated))
	assert.Empty(t, report.Failures())
}

func TestReplicate_Idempotent(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)
	repl := f.replicator(Options{})

	_, err := repl.Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err, "first run")

	catsAfterFirst := treeSize(t, ctx, f.repo, f.archive.ID)

	second, err := repl.Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err, "second run")

	assert.Equal(t, 0, second.Count(KindCategory, ActionCreated), "no new categories on re-run")
	assert.Equal(t, 0, second.Count(KindCourse, ActionCreated), "no new courses on re-run")
	assert.Equal(t, 1, second.Count(KindCategory, ActionSkipped))
	assert.Equal(t, 1, second.Count(KindCourse, ActionSkipped))
	assert.Equal(t, catsAfterFirst, treeSize(t, ctx, f.repo, f.archive.ID), "destination tree unchanged")
}

func TestReplicate_ScopeInvariant(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	// Deepen the source tree: Math/Geometry and Math/Algebra/Linear.
	geometry := mustCategory(t, ctx, f.repo, "Geometry", f.math.ID)
	mustCourse(t, ctx, f.repo, "GEO110", "Geometry 110", geometry.ID)
	linear := mustCategory(t, ctx, f.repo, "Linear", f.algebra.ID)
	mustCourse(t, ctx, f.repo, "LIN210", "Linear Algebra", linear.ID)

	_, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "fall")
	require.NoError(t, err)

	destAlgebra := findChild(t, ctx, f.repo, f.archive.ID, "Algebra")
	destGeometry := findChild(t, ctx, f.repo, f.archive.ID, "Geometry")
	destLinear := findChild(t, ctx, f.repo, destAlgebra.ID, "Linear")

	assert.Equal(t, f.archive.ID, destAlgebra.Parent)
	assert.Equal(t, f.archive.ID, destGeometry.Parent)
	assert.Equal(t, destAlgebra.ID, destLinear.Parent, "nested category lands under its own parent's duplicate")

	courses, err := f.repo.Courses(ctx, destLinear.ID)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "fall LIN210", courses[0].ShortName)
}

func TestReplicate_NonDestructiveReuse(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	// Pre-existing destination category with its own description.
	pre, err := f.repo.CreateCategory(ctx, lms.Category{
		Name:        "Algebra",
		Parent:      f.archive.ID,
		Description: "hand-curated",
		Visible:     false,
	})
	require.NoError(t, err)

	report, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(KindCategory, ActionSkipped))
	assert.Equal(t, 0, report.Count(KindCategory, ActionCreated))

	got, err := f.repo.Category(ctx, pre.ID)
	require.NoError(t, err)
	assert.Equal(t, "hand-curated", got.Description, "existing destination data is never overwritten")
	assert.False(t, got.Visible)

	courses, err := f.repo.Courses(ctx, pre.ID)
	require.NoError(t, err)
	require.Len(t, courses, 1, "course still lands in the reused category")
	assert.Equal(t, "2024 ALG101", courses[0].ShortName)
}

func TestReplicate_PostRestoreCorrection(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	_, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err)

	// The restore writes the source short name into the destination record;
	// finalization must put the prefixed one back.
	algebra := findChild(t, ctx, f.repo, f.archive.ID, "Algebra")
	courses, err := f.repo.Courses(ctx, algebra.ID)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "2024 ALG101", courses[0].ShortName, "short name corrected after restore")
	assert.Equal(t, "Algebra 101", courses[0].FullName)
	assert.True(t, courses[0].Visible)
}

func TestReplicate_PartialFailureIsolation(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	// Three sibling courses; the middle one's snapshot is corrupt.
	bio := mustCourse(t, ctx, f.repo, "BIO200", "Biology 200", f.algebra.ID)
	mustCourse(t, ctx, f.repo, "CHEM300", "Chemistry 300", f.algebra.ID)

	f.engine = &engineHooks{
		Engine: f.engine,
		snapshotErr: func(courseID int64) error {
			if courseID == bio.ID {
				return errInjected
			}
			return nil
		},
	}

	report, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err, "one corrupt course must not abort the run")

	assert.Equal(t, 2, report.Count(KindCourse, ActionCreated), "siblings still duplicated")
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "2024 BIO200", report.Failures()[0].Name)

	algebra := findChild(t, ctx, f.repo, f.archive.ID, "Algebra")
	short := shortNames(t, ctx, f.repo, algebra.ID)
	assert.Contains(t, short, "2024 ALG101")
	assert.Contains(t, short, "2024 CHEM300")
}

func TestReplicate_MissingManifest(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)
	f.engine = &engineHooks{Engine: f.engine, dropPayload: true}

	report, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err, "invalid package is recoverable per course")

	require.Len(t, report.Failures(), 1)
	assert.ErrorIs(t, report.Failures()[0].Err, ErrMissingManifest)
}

func TestReplicate_ValidationBlockers(t *testing.T) {
	ctx := testContext(t)

	t.Run("default_isolates_per_course", func(t *testing.T) {
		f := newFixture(t)
		f.engine = &engineHooks{Engine: f.engine, findings: &blockedFindings}

		report, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
		require.NoError(t, err)
		require.Len(t, report.Failures(), 1)
		assert.ErrorIs(t, report.Failures()[0].Err, ErrValidationBlocked)
	})

	t.Run("strict_aborts_run", func(t *testing.T) {
		f := newFixture(t)
		f.engine = &engineHooks{Engine: f.engine, findings: &blockedFindings}

		_, err := f.replicator(Options{Strict: true}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidationBlocked)
	})

	t.Run("awaiting_resolution_is_not_blocking", func(t *testing.T) {
		f := newFixture(t)
		f.engine = &engineHooks{Engine: f.engine, findings: &awaitingFindings}

		report, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
		require.NoError(t, err)
		assert.Empty(t, report.Failures())
		assert.Equal(t, 1, report.Count(KindCourse, ActionCreated))
	})
}

func TestReplicate_Cleanup(t *testing.T) {
	ctx := testContext(t)

	t.Run("after_success", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
		require.NoError(t, err)
		assert.Empty(t, dirEntries(t, f.pkgDir), "no packages left behind")
		assert.Empty(t, dirEntries(t, f.staging), "no staged extractions left behind")
	})

	t.Run("after_restore_failure", func(t *testing.T) {
		f := newFixture(t)
		f.engine = &engineHooks{Engine: f.engine, executeErr: errInjected}

		report, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
		require.NoError(t, err)
		require.Len(t, report.Failures(), 1)
		assert.Empty(t, dirEntries(t, f.pkgDir), "package deleted on failure")
		assert.Empty(t, dirEntries(t, f.staging), "staged extraction removed on failure")
	})
}

func TestReplicate_RestoreTimeout(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)
	f.engine = &engineHooks{Engine: f.engine, slowExecute: true}

	report, err := f.replicator(Options{RestoreTimeout: 50 * time.Millisecond}).
		Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err, "a timed-out restore is a per-course failure, not a run abort")

	require.Len(t, report.Failures(), 1)
	assert.ErrorIs(t, report.Failures()[0].Err, context.DeadlineExceeded)
	assert.Empty(t, dirEntries(t, f.pkgDir), "package deleted after timeout")
	assert.Empty(t, dirEntries(t, f.staging), "staged extraction removed after timeout")
}

func TestReplicate_Exclusions(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)
	mustCourse(t, ctx, f.repo, "BIO200", "Biology 200", f.algebra.ID)

	report, err := f.replicator(Options{Exclude: []string{"BIO*"}}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(KindCourse, ActionExcluded))
	assert.Equal(t, 1, report.Count(KindCourse, ActionCreated))

	algebra := findChild(t, ctx, f.repo, f.archive.ID, "Algebra")
	assert.NotContains(t, shortNames(t, ctx, f.repo, algebra.ID), "2024 BIO200")
}

func TestReplicate_ShortNameConflict(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	// An unrelated course elsewhere already owns the prefixed short name.
	mustCourse(t, ctx, f.repo, "2024 ALG101", "Unrelated", f.root.ID)

	report, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err, "conflict is recoverable per course")

	require.Len(t, report.Failures(), 1)
	assert.ErrorIs(t, report.Failures()[0].Err, lms.ErrShortNameTaken)
}

func TestReplicate_NotFound(t *testing.T) {
	ctx := testContext(t)

	t.Run("source_missing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.replicator(Options{}).Replicate(ctx, 9999, f.archive.ID, "2024")
		require.Error(t, err)
		assert.ErrorIs(t, err, lms.ErrNotFound)
	})

	t.Run("parent_missing", func(t *testing.T) {
		f := newFixture(t)
		before := treeSize(t, ctx, f.repo, f.archive.ID)
		_, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, 9999, "2024")
		require.Error(t, err)
		assert.ErrorIs(t, err, lms.ErrNotFound)
		assert.Equal(t, before, treeSize(t, ctx, f.repo, f.archive.ID), "no mutation before the parent check")
	})

	t.Run("zero_parent_defaults_to_source_parent", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, 0, "2024")
		require.NoError(t, err)
		// Math's parent is root, so the duplicate of Algebra lands there.
		findChild(t, ctx, f.repo, f.root.ID, "Algebra")
	})
}

func TestReplicate_DryRun(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	report, err := f.replicator(Options{DryRun: true}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(KindCategory, ActionWouldCreate))
	assert.Equal(t, 1, report.Count(KindCourse, ActionWouldCreate))

	children, err := f.repo.ChildCategories(ctx, f.archive.ID)
	require.NoError(t, err)
	assert.Empty(t, children, "dry run must not create anything")
	assert.Empty(t, dirEntries(t, f.pkgDir), "dry run must not snapshot anything")
}

func TestReplicate_ParallelJobs(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)
	for _, short := range []string{"BIO200", "CHEM300", "PHY400", "HIS100"} {
		mustCourse(t, ctx, f.repo, short, "Course "+short, f.algebra.ID)
	}

	report, err := f.replicator(Options{Jobs: 4}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.NoError(t, err)

	assert.Equal(t, 5, report.Count(KindCourse, ActionCreated))
	assert.Empty(t, report.Failures())

	algebra := findChild(t, ctx, f.repo, f.archive.ID, "Algebra")
	assert.Len(t, shortNames(t, ctx, f.repo, algebra.ID), 5)
}

func TestReplicate_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	_, err := f.replicator(Options{}).Replicate(ctx, f.math.ID, f.archive.ID, "2024")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// test helpers

func findChild(t *testing.T, ctx context.Context, repo lmsReader, parent int64, name string) lms.Category {
	t.Helper()
	children, err := repo.ChildCategories(ctx, parent)
	require.NoError(t, err)
	for _, cat := range children {
		if cat.Name == name {
			return cat
		}
	}
	t.Fatalf("category %q not found under %d", name, parent)
	return lms.Category{}
}

type lmsReader interface {
	ChildCategories(ctx context.Context, parent int64) ([]lms.Category, error)
}

func shortNames(t *testing.T, ctx context.Context, repo lms.Repository, category int64) []string {
	t.Helper()
	courses, err := repo.Courses(ctx, category)
	require.NoError(t, err)
	var out []string
	for _, c := range courses {
		out = append(out, c.ShortName)
	}
	return out
}

// treeSize counts categories and courses reachable from parent.
func treeSize(t *testing.T, ctx context.Context, repo lms.Repository, parent int64) int {
	t.Helper()
	total := 0
	children, err := repo.ChildCategories(ctx, parent)
	require.NoError(t, err)
	for _, cat := range children {
		courses, err := repo.Courses(ctx, cat.ID)
		require.NoError(t, err)
		total += 1 + len(courses) + treeSize(t, ctx, repo, cat.ID)
	}
	return total
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var (
	errInjected      = errors.New("injected failure")
	blockedFindings  = backup.Findings{Blockers: []string{"missing plugin"}}
	awaitingFindings = backup.Findings{Blockers: []string{"needs operator"}, AwaitingResolution: true}
)
