// Package postgres implements lms.Repository against a Moodle-style schema
// (mdl_course_categories, mdl_course) using pgx.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/coursemirror/pkg/lms"
)

const uniqueViolation = "23505"

// Repository reads and writes categories and courses through a pgx pool.
type Repository struct {
	db *pgxpool.Pool
}

var _ lms.Repository = (*Repository)(nil)
var _ lms.CacheRebuilder = (*Repository)(nil)

func New(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Connect opens a pool for the given DSN and pings it.
func Connect(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Errorf("pinging database: %w", err)
	}
	return New(pool), nil
}

func (r *Repository) Close() {
	r.db.Close()
}

func (r *Repository) Category(ctx context.Context, id int64) (lms.Category, error) {
	query := `
		SELECT id, name, parent, COALESCE(idnumber, ''), COALESCE(description, ''),
		       descriptionformat, COALESCE(theme, ''), visible
		FROM mdl_course_categories
		WHERE id = $1
	`

	var cat lms.Category
	err := r.db.QueryRow(ctx, query, id).Scan(
		&cat.ID,
		&cat.Name,
		&cat.Parent,
		&cat.IDNumber,
		&cat.Description,
		&cat.DescriptionFormat,
		&cat.Theme,
		&cat.Visible,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return lms.Category{}, errors.Errorf("category %d: %w", id, lms.ErrNotFound)
	}
	if err != nil {
		return lms.Category{}, errors.Errorf("querying category %d: %w", id, err)
	}
	return cat, nil
}

func (r *Repository) ChildCategories(ctx context.Context, parent int64) ([]lms.Category, error) {
	query := `
		SELECT id, name, parent, COALESCE(idnumber, ''), COALESCE(description, ''),
		       descriptionformat, COALESCE(theme, ''), visible
		FROM mdl_course_categories
		WHERE parent = $1
		ORDER BY sortorder, id
	`

	rows, err := r.db.Query(ctx, query, parent)
	if err != nil {
		return nil, errors.Errorf("querying children of category %d: %w", parent, err)
	}
	defer rows.Close()

	var children []lms.Category
	for rows.Next() {
		var cat lms.Category
		if err := rows.Scan(
			&cat.ID,
			&cat.Name,
			&cat.Parent,
			&cat.IDNumber,
			&cat.Description,
			&cat.DescriptionFormat,
			&cat.Theme,
			&cat.Visible,
		); err != nil {
			return nil, errors.Errorf("scanning category row: %w", err)
		}
		children = append(children, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("reading category rows: %w", err)
	}
	return children, nil
}

func (r *Repository) CreateCategory(ctx context.Context, cat lms.Category) (lms.Category, error) {
	query := `
		INSERT INTO mdl_course_categories
			(name, parent, idnumber, description, descriptionformat, theme, visible, sortorder, timemodified)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, 0, EXTRACT(EPOCH FROM now())::bigint)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		cat.Name, cat.Parent, cat.IDNumber, cat.Description, cat.DescriptionFormat, cat.Theme, cat.Visible,
	).Scan(&cat.ID)
	if err != nil {
		return lms.Category{}, errors.Errorf("creating category %q: %w", cat.Name, err)
	}
	return cat, nil
}

func (r *Repository) Course(ctx context.Context, id int64) (lms.Course, error) {
	query := courseSelect + ` WHERE id = $1`

	var c lms.Course
	var startdate int64
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.ShortName, &c.FullName, &c.Category, &c.IDNumber,
		&c.Format, &c.Visible, &c.Summary, &c.SummaryFormat, &startdate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return lms.Course{}, errors.Errorf("course %d: %w", id, lms.ErrNotFound)
	}
	if err != nil {
		return lms.Course{}, errors.Errorf("querying course %d: %w", id, err)
	}
	c.StartDate = unixTime(startdate)
	return c, nil
}

func (r *Repository) Courses(ctx context.Context, category int64) ([]lms.Course, error) {
	query := courseSelect + ` WHERE category = $1 ORDER BY sortorder, id`

	rows, err := r.db.Query(ctx, query, category)
	if err != nil {
		return nil, errors.Errorf("querying courses of category %d: %w", category, err)
	}
	defer rows.Close()

	var courses []lms.Course
	for rows.Next() {
		var c lms.Course
		var startdate int64
		if err := rows.Scan(
			&c.ID, &c.ShortName, &c.FullName, &c.Category, &c.IDNumber,
			&c.Format, &c.Visible, &c.Summary, &c.SummaryFormat, &startdate,
		); err != nil {
			return nil, errors.Errorf("scanning course row: %w", err)
		}
		c.StartDate = unixTime(startdate)
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("reading course rows: %w", err)
	}
	return courses, nil
}

func (r *Repository) CreateCourse(ctx context.Context, course lms.Course) (lms.Course, error) {
	query := `
		INSERT INTO mdl_course
			(shortname, fullname, category, idnumber, format, visible, summary, summaryformat,
			 startdate, sortorder, timecreated, timemodified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0,
			EXTRACT(EPOCH FROM now())::bigint, EXTRACT(EPOCH FROM now())::bigint)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		course.ShortName, course.FullName, course.Category, course.IDNumber,
		course.Format, course.Visible, course.Summary, course.SummaryFormat,
		course.StartDate.Unix(),
	).Scan(&course.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return lms.Course{}, errors.Errorf("creating course %q: %w", course.ShortName, lms.ErrShortNameTaken)
		}
		return lms.Course{}, errors.Errorf("creating course %q: %w", course.ShortName, err)
	}
	return course, nil
}

func (r *Repository) UpdateCourse(ctx context.Context, course lms.Course) error {
	query := `
		UPDATE mdl_course
		SET shortname = $2, fullname = $3, category = $4, idnumber = $5, format = $6,
		    visible = $7, summary = $8, summaryformat = $9, startdate = $10,
		    timemodified = EXTRACT(EPOCH FROM now())::bigint
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		course.ID, course.ShortName, course.FullName, course.Category, course.IDNumber,
		course.Format, course.Visible, course.Summary, course.SummaryFormat,
		course.StartDate.Unix(),
	)
	if err != nil {
		return errors.Errorf("updating course %d: %w", course.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("course %d: %w", course.ID, lms.ErrNotFound)
	}
	return nil
}

// RebuildCourseCache bumps the course cache revision, which invalidates
// cached course structures the same way Moodle's rebuild_course_cache does.
func (r *Repository) RebuildCourseCache(ctx context.Context, courseID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE mdl_course SET cacherev = cacherev + 1 WHERE id = $1`, courseID)
	if err != nil {
		return errors.Errorf("rebuilding course cache %d: %w", courseID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("course %d: %w", courseID, lms.ErrNotFound)
	}
	return nil
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

const courseSelect = `
	SELECT id, shortname, fullname, category, COALESCE(idnumber, ''),
	       format, visible, COALESCE(summary, ''), summaryformat, startdate
	FROM mdl_course`
