package replicate

import "sync"

// Kind identifies what an outcome record refers to.
type Kind string

const (
	KindCategory Kind = "category"
	KindCourse   Kind = "course"
)

// Action is the outcome of reconciling one source entity.
type Action string

const (
	// ActionCreated means the destination entity was created this run.
	ActionCreated Action = "created"
	// ActionSkipped means a matching destination entity already existed.
	ActionSkipped Action = "skipped"
	// ActionExcluded means the source course matched an exclusion glob.
	ActionExcluded Action = "excluded"
	// ActionFailed means creation or content duplication failed; the run
	// continued with the remaining entities.
	ActionFailed Action = "failed"
	// ActionWouldCreate is the dry-run stand-in for ActionCreated.
	ActionWouldCreate Action = "would create"
)

// Record is one reconciled entity.
type Record struct {
	Kind     Kind
	Action   Action
	Name     string // category name or destination course short name
	SourceID int64
	DestID   int64 // 0 when nothing was created
	Err      error // set only for ActionFailed
}

// Report accumulates outcome records across a run. Safe for concurrent use;
// sibling course pipelines may record from worker goroutines.
type Report struct {
	mu      sync.Mutex
	records []Record
	notify  func(Record)
}

func NewReport(notify func(Record)) *Report {
	return &Report{notify: notify}
}

func (r *Report) add(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	notify := r.notify
	r.mu.Unlock()

	if notify != nil {
		notify(rec)
	}
}

// Records returns a copy of all records in insertion order.
func (r *Report) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Count returns the number of records matching kind and action.
func (r *Report) Count(kind Kind, action Action) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Kind == kind && rec.Action == action {
			n++
		}
	}
	return n
}

// Failures returns all failed records.
func (r *Report) Failures() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.Action == ActionFailed {
			out = append(out, rec)
		}
	}
	return out
}
