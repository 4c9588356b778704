// Package search owns the server-side state of one investigation: the
// session record, the registry keyed by session id, and the dispatcher that
// drives the lookups.
package search

import (
	"sync"
	"time"

	"github.com/BlearKK/deepdriver/pkg/events"
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
	StatusFailed    Status = "Failed"
)

// statusRank enforces forward-only transitions. Terminal states share a rank
// so none of them can replace another.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRunning:   1,
	StatusCompleted: 2,
	StatusCancelled: 2,
	StatusFailed:    2,
}

// Session is the single shared mutable record of one investigation. It is
// written by the dispatcher and read by stream connections and the poll
// handler, all under its own lock. Results are immutable once recorded.
type Session struct {
	mu sync.RWMutex

	id     string
	target string
	items  []string
	// itemSet mirrors items for membership checks.
	itemSet map[string]struct{}

	completed map[string]struct{}
	// order preserves completion order for deterministic replay.
	order    []string
	results  map[string]events.WorkResult
	inflight map[string]struct{}

	status         Status
	createdAt      time.Time
	lastActivityAt time.Time
}

func NewSession(id, target string, items []string) *Session {
	itemSet := make(map[string]struct{}, len(items))
	for _, it := range items {
		itemSet[it] = struct{}{}
	}
	now := time.Now()
	return &Session{
		id:             id,
		target:         target,
		items:          items,
		itemSet:        itemSet,
		completed:      make(map[string]struct{}),
		results:        make(map[string]events.WorkResult),
		inflight:       make(map[string]struct{}),
		status:         StatusPending,
		createdAt:      now,
		lastActivityAt: now,
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Target() string { return s.target }
func (s *Session) Total() int     { return len(s.items) }

// Seed marks the given item ids completed without storing results. Used when
// a client resumes into a fresh session after the original one expired: the
// client already holds those results, the server only needs to skip the
// items. Unknown ids are ignored.
func (s *Session) Seed(processed []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range processed {
		if _, ok := s.itemSet[id]; !ok {
			continue
		}
		if _, done := s.completed[id]; done {
			continue
		}
		s.completed[id] = struct{}{}
		n++
	}
	return n
}

// Claim reserves an item for processing. It fails for unknown, completed and
// already-claimed items, so the background dispatcher and a concurrent poll
// burst never run the same lookup twice.
func (s *Session) Claim(item string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.itemSet[item]; !ok {
		return false
	}
	if _, done := s.completed[item]; done {
		return false
	}
	if _, busy := s.inflight[item]; busy {
		return false
	}
	s.inflight[item] = struct{}{}
	return true
}

// Release drops a claim that will not produce a result (shutdown before the
// lookup started). The item becomes claimable again.
func (s *Session) Release(item string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, item)
}

// RecordResult stores the terminal result for one item. First writer wins;
// the return value reports whether this call was the first. A recorded
// result is never overwritten.
func (s *Session) RecordResult(res events.WorkResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.itemSet[res.ItemID]; !ok {
		return false
	}
	if _, done := s.completed[res.ItemID]; done {
		return false
	}
	s.completed[res.ItemID] = struct{}{}
	s.results[res.ItemID] = res
	s.order = append(s.order, res.ItemID)
	delete(s.inflight, res.ItemID)
	s.lastActivityAt = time.Now()
	return true
}

func (s *Session) Progress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.completed)
}

func (s *Session) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.completed) == len(s.items)
}

// CompletedIDs returns a copy of the completed id set, in completion order
// where known (seeded ids come first in item order).
func (s *Session) CompletedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.completed))
	seen := make(map[string]struct{}, len(s.completed))
	for _, id := range s.order {
		out = append(out, id)
		seen[id] = struct{}{}
	}
	for _, id := range s.items {
		if _, done := s.completed[id]; done {
			if _, dup := seen[id]; !dup {
				out = append(out, id)
			}
		}
	}
	return out
}

// Results returns recorded results in completion order.
func (s *Session) Results() []events.WorkResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.WorkResult, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.results[id])
	}
	return out
}

// ResultsExcept returns recorded results whose item id is not in exclude.
func (s *Session) ResultsExcept(exclude map[string]struct{}) []events.WorkResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.WorkResult, 0, len(s.order))
	for _, id := range s.order {
		if _, skip := exclude[id]; skip {
			continue
		}
		out = append(out, s.results[id])
	}
	return out
}

// PendingItems returns items with no terminal result and no active claim, in
// input order.
func (s *Session) PendingItems() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.items)-len(s.completed))
	for _, id := range s.items {
		if _, done := s.completed[id]; done {
			continue
		}
		if _, busy := s.inflight[id]; busy {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus applies a forward-only transition and reports whether it took
// effect. A session never leaves a terminal state and never moves backward.
func (s *Session) SetStatus(next Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if statusRank[next] <= statusRank[s.status] {
		return false
	}
	s.status = next
	s.lastActivityAt = time.Now()
	return true
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now()
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) LastActivityAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivityAt
}
