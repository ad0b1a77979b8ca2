// Package health implements the Pattern Health Tracker (spec §4.6):
// per-(domain, endpoint) status classification and transition
// notifications. The atomic-counters-plus-RWMutex-guarded-map shape is
// grounded on other_examples' traylinx cascade manager and teradata-labs/
// loom pattern tracker, neither of which is the teacher, per the
// instruction that other_examples/ files may ground component detail even
// when they are not the chosen teacher.
package health

import (
	"sort"
	"sync"
)

// Status is the closed enum of pattern health states, ordered by
// ascending severity for getUnhealthyPatterns' sort.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailing  Status = "failing"
	StatusBroken   Status = "broken"
)

func severity(s Status) int {
	switch s {
	case StatusBroken:
		return 3
	case StatusFailing:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Thresholds configures the status function, per spec §4.6's defaults.
type Thresholds struct {
	MinSampleSize              int
	ConsecutiveFailureThreshold int
	HealthyRate                float64
	DegradedRate               float64
	FailingRate                float64
	Window                     int
}

// DefaultThresholds mirrors spec §6's HEALTH_THRESHOLDS table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSampleSize:               5,
		ConsecutiveFailureThreshold: 3,
		HealthyRate:                 0.7,
		DegradedRate:                0.5,
		FailingRate:                 0.2,
		Window:                      20,
	}
}

// ComputeStatus is the pure status function from spec §4.6.
func ComputeStatus(successRate float64, consecutiveFailures int, sampleSize int, t Thresholds) Status {
	if sampleSize < t.MinSampleSize {
		return StatusHealthy
	}
	if consecutiveFailures >= 2*t.ConsecutiveFailureThreshold {
		return StatusBroken
	}
	if consecutiveFailures >= t.ConsecutiveFailureThreshold {
		return StatusFailing
	}
	switch {
	case successRate >= t.HealthyRate:
		return StatusHealthy
	case successRate >= t.DegradedRate:
		return StatusDegraded
	case successRate >= t.FailingRate:
		return StatusFailing
	default:
		return StatusBroken
	}
}

// SuggestedActions maps a status to operator-facing suggestions; a small,
// fixed table rather than a rule engine, matching the scope of spec §4.6.
func SuggestedActions(status Status) []string {
	switch status {
	case StatusDegraded:
		return []string{"monitor closely", "consider selector review"}
	case StatusFailing:
		return []string{"review selectors", "check for site layout change"}
	case StatusBroken:
		return []string{"disable pattern", "escalate for manual fix"}
	default:
		return nil
	}
}

// Key identifies a tracked pattern.
type Key struct {
	Domain   string
	Endpoint string
}

type observation struct {
	successes []bool // ring, most-recent last
}

func (o *observation) record(success bool, window int) {
	o.successes = append(o.successes, success)
	if len(o.successes) > window {
		o.successes = o.successes[len(o.successes)-window:]
	}
}

func (o *observation) successRate() float64 {
	if len(o.successes) == 0 {
		return 0
	}
	n := 0
	for _, s := range o.successes {
		if s {
			n++
		}
	}
	return float64(n) / float64(len(o.successes))
}

// Pattern is the per-key tracked state.
type Pattern struct {
	Key                 Key
	Status              Status
	ConsecutiveFailures int
	SampleSize          int
	SuccessRate         float64
	DegradedAtMs        int64
	History             []Notification
	obs                 observation
}

// Notification records a status transition.
type Notification struct {
	Key               Key
	Previous          Status
	Current           Status
	SuggestedActions  []string
	AtMs              int64
}

// NowFunc returns the current time in epoch milliseconds. It is injected
// through New so tests can supply a deterministic clock; New substitutes a
// clock that always returns 0 when given nil.
type NowFunc func() int64

// Tracker is the Pattern Health Tracker.
type Tracker struct {
	mu            sync.RWMutex
	patterns      map[Key]*Pattern
	notifications []Notification
	maxHistory    int
	thresholds    Thresholds
	now           NowFunc
}

// New constructs a Tracker. now supplies the clock (inject for tests);
// pass nil to use a zero clock (callers that don't care about DegradedAtMs
// precision, e.g. most tests, can pass nil).
func New(thresholds Thresholds, now NowFunc) *Tracker {
	if now == nil {
		now = func() int64 { return 0 }
	}
	return &Tracker{
		patterns:   make(map[Key]*Pattern),
		maxHistory: 100,
		thresholds: thresholds,
		now:        now,
	}
}

func (t *Tracker) getOrCreate(key Key) *Pattern {
	p, ok := t.patterns[key]
	if !ok {
		p = &Pattern{Key: key, Status: StatusHealthy}
		t.patterns[key] = p
	}
	return p
}

func (t *Tracker) recompute(p *Pattern) {
	previous := p.Status
	p.SampleSize = len(p.obs.successes)
	p.SuccessRate = p.obs.successRate()
	current := ComputeStatus(p.SuccessRate, p.ConsecutiveFailures, p.SampleSize, t.thresholds)
	p.Status = current

	if current == StatusHealthy {
		p.DegradedAtMs = 0
	} else if previous == StatusHealthy && current != StatusHealthy {
		p.DegradedAtMs = t.now()
	}

	if current != previous {
		note := Notification{
			Key:              p.Key,
			Previous:         previous,
			Current:          current,
			SuggestedActions: SuggestedActions(current),
			AtMs:             t.now(),
		}
		p.History = append(p.History, note)
		if len(p.History) > t.maxHistory {
			p.History = p.History[len(p.History)-t.maxHistory:]
		}
		t.notifications = append(t.notifications, note)
		if len(t.notifications) > t.maxHistory {
			t.notifications = t.notifications[len(t.notifications)-t.maxHistory:]
		}
	}
}

// RecordSuccess records a success observation, resetting consecutive
// failures to 0, per spec §4.6.
func (t *Tracker) RecordSuccess(domain, endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := Key{Domain: domain, Endpoint: endpoint}
	p := t.getOrCreate(key)
	p.obs.record(true, t.thresholds.Window)
	p.ConsecutiveFailures = 0
	t.recompute(p)
}

// RecordFailure records a failure observation.
func (t *Tracker) RecordFailure(domain, endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := Key{Domain: domain, Endpoint: endpoint}
	p := t.getOrCreate(key)
	p.obs.record(false, t.thresholds.Window)
	p.ConsecutiveFailures++
	t.recompute(p)
}

// Get returns a copy of the current state for (domain, endpoint), or false
// if never observed.
func (t *Tracker) Get(domain, endpoint string) (Pattern, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.patterns[Key{Domain: domain, Endpoint: endpoint}]
	if !ok {
		return Pattern{}, false
	}
	return *p, true
}

// GetUnhealthyPatterns returns every non-healthy pattern, sorted by
// descending severity (broken > failing > degraded), per spec §4.6.
func (t *Tracker) GetUnhealthyPatterns() []Pattern {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Pattern
	for _, p := range t.patterns {
		if p.Status != StatusHealthy {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return severity(out[i].Status) > severity(out[j].Status) })
	return out
}

// Statistics returns counts of patterns per status.
func (t *Tracker) Statistics() map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[Status]int)
	for _, p := range t.patterns {
		counts[p.Status]++
	}
	return counts
}

// RecentNotifications returns the shared transition ring, most recent
// last.
func (t *Tracker) RecentNotifications() []Notification {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Notification(nil), t.notifications...)
}
