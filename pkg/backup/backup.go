// Package backup defines the narrow interface over the external
// snapshot/restore engine. The duplication pipeline only talks to these
// types, so the engine can be swapped for a fake in tests.
package backup

import "context"

// Options are the content-category toggles applied to both the snapshot and
// the restore plan.
type Options struct {
	Activities      bool
	Blocks          bool
	Filters         bool
	Users           bool
	RoleAssignments bool
	Comments        bool
	Logs            bool
}

// DefaultOptions captures full-fidelity duplication: everything in except
// comments and logs.
func DefaultOptions() Options {
	return Options{
		Activities:      true,
		Blocks:          true,
		Filters:         true,
		Users:           true,
		RoleAssignments: true,
		Comments:        false,
		Logs:            false,
	}
}

// Names returns the setting toggles as name/value pairs in a stable order,
// the form restore plans expose them in.
func (o Options) Names() []SettingValue {
	return []SettingValue{
		{"activities", o.Activities},
		{"blocks", o.Blocks},
		{"filters", o.Filters},
		{"users", o.Users},
		{"role_assignments", o.RoleAssignments},
		{"comments", o.Comments},
		{"logs", o.Logs},
	}
}

type SettingValue struct {
	Name  string
	Value bool
}

// Engine is the external snapshot/restore engine.
type Engine interface {
	// CreateSnapshot produces a full-fidelity package of the course and
	// returns a handle to it.
	CreateSnapshot(ctx context.Context, courseID int64, opts Options) (Package, error)
	// NewRestorePlan prepares a restore of the identified package into the
	// destination course with new-course semantics (never merge).
	NewRestorePlan(ctx context.Context, packageID string, destCourseID int64, opts Options) (RestorePlan, error)
}

// Package is an opaque snapshot artifact addressed by its package identifier.
// It must be deleted after a successful restore or on pipeline failure.
type Package interface {
	ID() string
	// Extract materializes the package contents under dir.
	Extract(ctx context.Context, dir string) error
	Delete(ctx context.Context) error
}

// RestorePlan is a prepared restore. Settings returned as adjustable may be
// set; locked settings must be left untouched.
type RestorePlan interface {
	Setting(name string) (Setting, bool)
	// Validate runs the pre-execution check and reports findings. A non-nil
	// error means the check itself could not run.
	Validate(ctx context.Context) (Findings, error)
	Execute(ctx context.Context) error
}

type Setting interface {
	Locked() bool
	SetValue(v bool) error
}

// Findings is the outcome of a restore plan validation pass.
type Findings struct {
	Warnings []string
	Blockers []string
	// AwaitingResolution reports that the plan is paused on operator input
	// rather than failed outright.
	AwaitingResolution bool
}

// Blocking reports whether the findings contain unrecoverable issues, as
// opposed to advisory warnings or an awaiting-resolution pause.
func (f Findings) Blocking() bool {
	return len(f.Blockers) > 0 && !f.AwaitingResolution
}
