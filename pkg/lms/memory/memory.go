// Package memory provides an in-memory lms.Repository. It backs tests and
// dry runs, where mutating a real repository is off the table.
package memory

import (
	"context"
	"sort"
	"sync"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/coursemirror/pkg/lms"
)

// Repository stores categories and courses in maps guarded by one mutex. IDs
// are assigned sequentially starting at 1.
type Repository struct {
	mu         sync.Mutex
	categories map[int64]lms.Category
	courses    map[int64]lms.Course
	nextID     int64

	rebuilt map[int64]int // course id -> cache rebuild count
}

var _ lms.Repository = (*Repository)(nil)
var _ lms.CacheRebuilder = (*Repository)(nil)

func New() *Repository {
	return &Repository{
		categories: make(map[int64]lms.Category),
		courses:    make(map[int64]lms.Course),
		nextID:     1,
		rebuilt:    make(map[int64]int),
	}
}

func (r *Repository) Category(ctx context.Context, id int64) (lms.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cat, ok := r.categories[id]
	if !ok {
		return lms.Category{}, errors.Errorf("category %d: %w", id, lms.ErrNotFound)
	}
	return cat, nil
}

func (r *Repository) ChildCategories(ctx context.Context, parent int64) ([]lms.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var children []lms.Category
	for _, cat := range r.categories {
		if cat.Parent == parent {
			children = append(children, cat)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	return children, nil
}

func (r *Repository) CreateCategory(ctx context.Context, cat lms.Category) (lms.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cat.ID = r.nextID
	r.nextID++
	r.categories[cat.ID] = cat
	return cat, nil
}

func (r *Repository) Course(ctx context.Context, id int64) (lms.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	course, ok := r.courses[id]
	if !ok {
		return lms.Course{}, errors.Errorf("course %d: %w", id, lms.ErrNotFound)
	}
	return course, nil
}

func (r *Repository) Courses(ctx context.Context, category int64) ([]lms.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var courses []lms.Course
	for _, c := range r.courses {
		if c.Category == category {
			courses = append(courses, c)
		}
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
	return courses, nil
}

func (r *Repository) CreateCourse(ctx context.Context, course lms.Course) (lms.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.courses {
		if existing.ShortName == course.ShortName {
			return lms.Course{}, errors.Errorf("creating course %q: %w", course.ShortName, lms.ErrShortNameTaken)
		}
	}

	course.ID = r.nextID
	r.nextID++
	r.courses[course.ID] = course
	return course, nil
}

func (r *Repository) UpdateCourse(ctx context.Context, course lms.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.courses[course.ID]; !ok {
		return errors.Errorf("course %d: %w", course.ID, lms.ErrNotFound)
	}
	r.courses[course.ID] = course
	return nil
}

func (r *Repository) RebuildCourseCache(ctx context.Context, courseID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.courses[courseID]; !ok {
		return errors.Errorf("course %d: %w", courseID, lms.ErrNotFound)
	}
	r.rebuilt[courseID]++
	return nil
}

// RebuildCount reports how many cache rebuilds a course received. Test hook.
func (r *Repository) RebuildCount(courseID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuilt[courseID]
}
