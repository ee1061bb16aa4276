package replicate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/walteh/coursemirror/pkg/backup"
	"github.com/walteh/coursemirror/pkg/backup/local"
	"github.com/walteh/coursemirror/pkg/lms"
	"github.com/walteh/coursemirror/pkg/lms/memory"
)

func testContext(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.TestWriter{T: t}).With().Timestamp().Logger()
	return logger.WithContext(context.Background())
}

// fixture is a small source tree in an in-memory repository:
//
//	root (1)
//	├── Math (source)
//	│   └── Algebra
//	│       └── course ALG101
//	└── Archive (destination parent)
type fixture struct {
	repo    *memory.Repository
	engine  backup.Engine
	pkgDir  string
	staging string
	root    lms.Category
	math    lms.Category
	algebra lms.Category
	alg101  lms.Course
	archive lms.Category
}

func newFixture(t *testing.T) *fixture {
	ctx := testContext(t)
	repo := memory.New()

	f := &fixture{repo: repo}
	f.root = mustCategory(t, ctx, repo, "root", 0)
	f.math = mustCategory(t, ctx, repo, "Math", f.root.ID)
	f.algebra = mustCategory(t, ctx, repo, "Algebra", f.math.ID)
	f.alg101 = mustCourse(t, ctx, repo, "ALG101", "Algebra 101", f.algebra.ID)
	f.archive = mustCategory(t, ctx, repo, "Archive", f.root.ID)

	f.pkgDir = t.TempDir()
	f.staging = t.TempDir()
	f.engine = local.New(repo, f.pkgDir, f.staging)
	return f
}

// replicator builds a Replicator over the fixture. The engine may be swapped
// (wrapped in hooks) before calling this.
func (f *fixture) replicator(opts Options) *Replicator {
	if opts.StagingDir == "" {
		opts.StagingDir = f.staging
	}
	return New(f.repo, f.engine, f.repo, nil, opts)
}

func mustCategory(t *testing.T, ctx context.Context, repo *memory.Repository, name string, parent int64) lms.Category {
	t.Helper()
	cat, err := repo.CreateCategory(ctx, lms.Category{
		Name:              name,
		Parent:            parent,
		Description:       "about " + name,
		DescriptionFormat: 1,
		Visible:           true,
	})
	require.NoError(t, err, "creating category %s", name)
	return cat
}

func mustCourse(t *testing.T, ctx context.Context, repo *memory.Repository, short, full string, category int64) lms.Course {
	t.Helper()
	course, err := repo.CreateCourse(ctx, lms.Course{
		ShortName:     short,
		FullName:      full,
		Category:      category,
		Format:        "topics",
		Visible:       true,
		Summary:       "summary of " + short,
		SummaryFormat: 1,
	})
	require.NoError(t, err, "creating course %s", short)
	return course
}

// engineHooks wraps a real engine and injects failures at chosen points.
type engineHooks struct {
	backup.Engine
	snapshotErr func(courseID int64) error
	findings    *backup.Findings
	executeErr  error
	slowExecute bool // block Execute until its context expires
	dropPayload bool // extract the package without its course payload
}

func (e *engineHooks) CreateSnapshot(ctx context.Context, courseID int64, opts backup.Options) (backup.Package, error) {
	if e.snapshotErr != nil {
		if err := e.snapshotErr(courseID); err != nil {
			return nil, err
		}
	}
	pkg, err := e.Engine.CreateSnapshot(ctx, courseID, opts)
	if err != nil {
		return nil, err
	}
	if e.dropPayload {
		return &droppedPayloadPackage{pkg}, nil
	}
	return pkg, nil
}

func (e *engineHooks) NewRestorePlan(ctx context.Context, packageID string, destCourseID int64, opts backup.Options) (backup.RestorePlan, error) {
	plan, err := e.Engine.NewRestorePlan(ctx, packageID, destCourseID, opts)
	if err != nil {
		return nil, err
	}
	return &planHooks{RestorePlan: plan, hooks: e}, nil
}

type planHooks struct {
	backup.RestorePlan
	hooks *engineHooks
}

func (p *planHooks) Validate(ctx context.Context) (backup.Findings, error) {
	if p.hooks.findings != nil {
		return *p.hooks.findings, nil
	}
	return p.RestorePlan.Validate(ctx)
}

func (p *planHooks) Execute(ctx context.Context) error {
	if p.hooks.executeErr != nil {
		return p.hooks.executeErr
	}
	if p.hooks.slowExecute {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.RestorePlan.Execute(ctx)
}

// droppedPayloadPackage extracts everything except the course payload,
// simulating a package that lost its content in transit.
type droppedPayloadPackage struct {
	backup.Package
}

func (p *droppedPayloadPackage) Extract(ctx context.Context, dir string) error {
	if err := p.Package.Extract(ctx, dir); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(dir, "course"))
}
