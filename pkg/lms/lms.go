// Package lms models the content repository: a tree of categories holding
// courses. The replication engine only ever reads the source side and creates
// missing entities on the destination side; nothing here deletes or merges.
package lms

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"
)

var (
	// ErrNotFound is returned when a category or course does not exist.
	ErrNotFound = errors.New("not found")
	// ErrShortNameTaken is returned when course creation would violate the
	// repository-wide short name uniqueness guarantee.
	ErrShortNameTaken = errors.New("course shortname already taken")
)

// Category is a container node in the content hierarchy. Parent is 0 for the
// root. The parent chain is acyclic and terminates at the root.
type Category struct {
	ID                int64
	Name              string
	Parent            int64
	IDNumber          string
	Description       string
	DescriptionFormat int
	Theme             string
	Visible           bool
}

// Course is a unit of content belonging to exactly one category. ShortName is
// unique repository-wide; ID is the internal numeric identifier.
type Course struct {
	ID            int64
	ShortName     string
	FullName      string
	Category      int64
	IDNumber      string
	Format        string
	Visible       bool
	Summary       string
	SummaryFormat int
	StartDate     time.Time
}

// Repository is the read/write surface of the content repository. Creation
// methods return the stored entity with its assigned ID. CreateCourse must
// enforce short name uniqueness and return ErrShortNameTaken on conflict.
type Repository interface {
	Category(ctx context.Context, id int64) (Category, error)
	ChildCategories(ctx context.Context, parent int64) ([]Category, error)
	CreateCategory(ctx context.Context, cat Category) (Category, error)

	Course(ctx context.Context, id int64) (Course, error)
	Courses(ctx context.Context, category int64) ([]Course, error)
	CreateCourse(ctx context.Context, course Course) (Course, error)
	UpdateCourse(ctx context.Context, course Course) error
}

// CacheRebuilder rebuilds repository-side derived state for a course after
// its content changed. Restore implementations call this once per restored
// course.
type CacheRebuilder interface {
	RebuildCourseCache(ctx context.Context, courseID int64) error
}
