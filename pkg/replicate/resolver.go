package replicate

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/coursemirror/pkg/lms"
)

// Resolver answers "does a matching entity already exist here". Matching is
// exact string equality, no trimming and no case folding, so a rename on
// either side makes an entity look new.
type Resolver struct {
	repo lms.Repository
}

func NewResolver(repo lms.Repository) *Resolver {
	return &Resolver{repo: repo}
}

// FindCategory looks up a category by exact name under the given parent.
func (r *Resolver) FindCategory(ctx context.Context, parent int64, name string) (lms.Category, bool, error) {
	children, err := r.repo.ChildCategories(ctx, parent)
	if err != nil {
		return lms.Category{}, false, errors.Errorf("listing children of category %d: %w", parent, err)
	}
	for _, cat := range children {
		if cat.Name == name {
			return cat, true, nil
		}
	}
	return lms.Category{}, false, nil
}

// FindCourse looks up a course by exact short name within a category's
// course list. Linear scan; categories hold tens to low hundreds of courses.
func (r *Resolver) FindCourse(ctx context.Context, category int64, shortName string) (lms.Course, bool, error) {
	courses, err := r.repo.Courses(ctx, category)
	if err != nil {
		return lms.Course{}, false, errors.Errorf("listing courses of category %d: %w", category, err)
	}
	for _, c := range courses {
		if c.ShortName == shortName {
			return c, true, nil
		}
	}
	return lms.Course{}, false, nil
}
