package results

import (
	"sort"
	"sync"
)

// Log is an append-only, concurrency-safe outcome log.
type Log struct {
	mu       sync.Mutex
	outcomes []Outcome
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append records an outcome.
func (l *Log) Append(o Outcome) {
	l.mu.Lock()
	l.outcomes = append(l.outcomes, o)
	l.mu.Unlock()
}

// Len returns the number of recorded outcomes.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outcomes)
}

// Snapshot returns a copy of the outcomes recorded so far, in append order.
func (l *Log) Snapshot() []Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Outcome, len(l.outcomes))
	copy(out, l.outcomes)
	return out
}

// Finalize builds the immutable result set from the current contents.
func (l *Log) Finalize() *Set {
	return NewSet(l.Snapshot())
}

// Set is an immutable view of a run's outcomes indexed by job identifier.
type Set struct {
	outcomes []Outcome
	jobIDs   []string
	byJob    map[string][]Outcome
}

// NewSet indexes outcomes. The slice is copied.
func NewSet(outcomes []Outcome) *Set {
	s := &Set{
		outcomes: make([]Outcome, len(outcomes)),
		byJob:    make(map[string][]Outcome),
	}
	copy(s.outcomes, outcomes)

	for _, o := range s.outcomes {
		if _, ok := s.byJob[o.Job]; !ok {
			s.jobIDs = append(s.jobIDs, o.Job)
		}
		s.byJob[o.Job] = append(s.byJob[o.Job], o)
	}
	sort.Strings(s.jobIDs)
	return s
}

// Outcomes returns every outcome in recorded order.
func (s *Set) Outcomes() []Outcome {
	out := make([]Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Len returns the number of outcomes.
func (s *Set) Len() int { return len(s.outcomes) }

// JobIDs returns the deduplicated job identifiers, sorted.
func (s *Set) JobIDs() []string {
	out := make([]string, len(s.jobIDs))
	copy(out, s.jobIDs)
	return out
}

// ForJob returns all outcomes for one job identifier, one per backend that
// attempted it.
func (s *Set) ForJob(jobID string) []Outcome {
	src := s.byJob[jobID]
	if len(src) == 0 {
		return nil
	}
	out := make([]Outcome, len(src))
	copy(out, src)
	return out
}

// All returns outcomes grouped by job identifier.
func (s *Set) All() map[string][]Outcome {
	out := make(map[string][]Outcome, len(s.byJob))
	for id := range s.byJob {
		out[id] = s.ForJob(id)
	}
	return out
}

// Iterator returns a new iterator over the set's jobs. Iterators are
// independent of each other.
func (s *Set) Iterator() *Iterator {
	return &Iterator{set: s}
}

// Iterator walks jobs in identifier order.
type Iterator struct {
	set *Set
	pos int
}

// Next returns the next job and its outcomes. ok is false once every job
// has been returned.
func (it *Iterator) Next() (jobID string, outcomes []Outcome, ok bool) {
	if it.pos >= len(it.set.jobIDs) {
		return "", nil, false
	}
	jobID = it.set.jobIDs[it.pos]
	it.pos++
	return jobID, it.set.ForJob(jobID), true
}

// Reset rewinds the iterator to the first job.
func (it *Iterator) Reset() {
	it.pos = 0
}
