// Package usage implements the Usage Meter (spec §4.4): a bounded
// append-only event ring with period-bucketed cost aggregation, persisted
// through internal/kvstore. Event correlation ids use google/uuid (an
// additive field beyond spec.md, grounded on its use for request/session
// correlation ids across the retrieved corpus); the event id itself
// follows spec.md's own `base36(nowMs) + "-" + random6` recipe exactly.
package usage

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fetchcascade/fetchcascade"
)

const namespace = "usage"
const eventsKey = "events"

// Period is the closed enum of aggregation granularities from spec §4.4.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// UsageEvent is one recorded, cost-bearing fetch.
type UsageEvent struct {
	ID              string           `json:"id"`
	CorrelationID   string           `json:"correlationId"`
	TimestampMs     int64            `json:"timestampMs"`
	Domain          string           `json:"domain"`
	URL             string           `json:"url"`
	FinalTier        fetchcascade.Tier `json:"finalTier"`
	Success         bool             `json:"success"`
	DurationMs      int64            `json:"durationMs"`
	TiersAttempted  []fetchcascade.Tier `json:"tiersAttempted"`
	FellBack        bool             `json:"fellBack"`
	TenantID        string           `json:"tenantId,omitempty"`
	CostUnits        int              `json:"costUnits"`
}

// CostUnits computes the §3 cost formula: full cost for the final tier,
// half (rounded up) for every other attempted tier.
func CostUnits(finalTier fetchcascade.Tier, attempted []fetchcascade.Tier) int {
	total := 0
	for _, tier := range attempted {
		full := fetchcascade.TierCostUnits[tier]
		if tier == finalTier {
			total += full
		} else {
			total += (full + 1) / 2 // ceil(full/2)
		}
	}
	return total
}

func newEventID(now time.Time) string {
	ms := now.UnixMilli()
	rnd := rand.Int63n(36 * 36 * 36 * 36 * 36 * 36)
	return strconv.FormatInt(ms, 36) + "-" + fmt.Sprintf("%06s", strconv.FormatInt(rnd, 36))
}

// Meter is the Usage Meter.
type Meter struct {
	mu       sync.Mutex
	events   []UsageEvent
	maxEvents int
	kv       fetchcascade.KVStore
}

// New constructs a Meter persisted through kv, loading any prior events.
func New(kv fetchcascade.KVStore, maxEvents int) (*Meter, error) {
	m := &Meter{kv: kv, maxEvents: maxEvents}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Meter) load() error {
	raw, ok, err := m.kv.Get(namespace, eventsKey)
	if err != nil || !ok {
		return err
	}
	var events []UsageEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil // corrupted state handled at the KVStore layer
	}
	m.events = events
	return nil
}

func (m *Meter) persistLocked() error {
	raw, err := json.Marshal(m.events)
	if err != nil {
		return err
	}
	return m.kv.Set(namespace, eventsKey, raw)
}

// RecordInput is what the fetcher supplies to Record; the id/timestamp/
// cost are computed here.
type RecordInput struct {
	Domain         string
	URL            string
	FinalTier      fetchcascade.Tier
	Success        bool
	DurationMs     int64
	TiersAttempted []fetchcascade.Tier
	FellBack       bool
	TenantID       string
}

// Record appends an event to the ring, trimming FIFO once it exceeds
// maxEvents, per spec §3/§4.4.
func (m *Meter) Record(in RecordInput) UsageEvent {
	now := time.Now()
	event := UsageEvent{
		ID:             newEventID(now),
		CorrelationID:  uuid.NewString(),
		TimestampMs:    now.UnixMilli(),
		Domain:         in.Domain,
		URL:            in.URL,
		FinalTier:      in.FinalTier,
		Success:        in.Success,
		DurationMs:     in.DurationMs,
		TiersAttempted: in.TiersAttempted,
		FellBack:       in.FellBack,
		TenantID:       in.TenantID,
		CostUnits:      CostUnits(in.FinalTier, in.TiersAttempted),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
	_ = m.persistLocked()
	return event
}

// Flush drains the underlying KVStore's pending debounced write.
func (m *Meter) Flush() error {
	return m.kv.Flush()
}

// Filter narrows a summary/period query, per spec §4.4's `summary(filter)`.
type Filter struct {
	Domain   string
	Tier     *fetchcascade.Tier
	TenantID string
	Period   Period
}

func (f Filter) matches(e UsageEvent) bool {
	if f.Domain != "" && e.Domain != f.Domain {
		return false
	}
	if f.Tier != nil && e.FinalTier != *f.Tier {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	return true
}

// PeriodBounds returns [start, end) for period anchored at now, in UTC --
// the Open Question spec §9 leaves unresolved is decided here per
// SPEC_FULL.md: UTC throughout.
func PeriodBounds(period Period, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	switch period {
	case PeriodHour:
		start := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC)
		return start, start.Add(time.Hour)
	case PeriodDay:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	case PeriodWeek:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		// Sunday 00:00 UTC per spec §4.4.
		offset := int(start.Weekday())
		start = start.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case PeriodMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default: // PeriodAll
		return time.Time{}, now.Add(time.Hour)
	}
}

func previousBounds(period Period, start time.Time) (time.Time, time.Time) {
	switch period {
	case PeriodHour:
		return start.Add(-time.Hour), start
	case PeriodDay:
		return start.AddDate(0, 0, -1), start
	case PeriodWeek:
		return start.AddDate(0, 0, -7), start
	case PeriodMonth:
		return start.AddDate(0, -1, 0), start
	default:
		return time.Time{}, start
	}
}

// PeriodAggregate is the per-period breakdown returned in a Summary.
type PeriodAggregate struct {
	Count          int
	Success        int
	Cost           int
	ByTier         map[fetchcascade.Tier]int
	TopDomainsByCost     []DomainTotal
	TopDomainsByRequests []DomainTotal
	AvgDurationMs  float64
	FallbackRate   float64
}

// DomainTotal is one entry in a top-domains ranking.
type DomainTotal struct {
	Domain string
	Total  int
}

// Summary is the full aggregation response from spec §4.4.
type Summary struct {
	TotalRequests   int
	TotalCost       int
	SuccessRate     float64
	AvgCostPerReq   float64
	Current         PeriodAggregate
	Previous        PeriodAggregate
	CostTrend       *float64
	RequestTrend    *float64
}

func aggregate(events []UsageEvent, topN int) PeriodAggregate {
	agg := PeriodAggregate{ByTier: make(map[fetchcascade.Tier]int)}
	var totalDuration int64
	fellBack := 0
	domainCost := make(map[string]int)
	domainReq := make(map[string]int)

	for _, e := range events {
		agg.Count++
		if e.Success {
			agg.Success++
		}
		agg.Cost += e.CostUnits
		agg.ByTier[e.FinalTier]++
		totalDuration += e.DurationMs
		if e.FellBack {
			fellBack++
		}
		domainCost[e.Domain] += e.CostUnits
		domainReq[e.Domain]++
	}
	if agg.Count > 0 {
		agg.AvgDurationMs = float64(totalDuration) / float64(agg.Count)
		agg.FallbackRate = float64(fellBack) / float64(agg.Count)
	}
	agg.TopDomainsByCost = topDomains(domainCost, topN)
	agg.TopDomainsByRequests = topDomains(domainReq, topN)
	return agg
}

func topDomains(totals map[string]int, topN int) []DomainTotal {
	out := make([]DomainTotal, 0, len(totals))
	for d, v := range totals {
		out = append(out, DomainTotal{Domain: d, Total: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	if topN > 0 && topN < len(out) {
		out = out[:topN]
	}
	return out
}

func trend(current, previous int) *float64 {
	if previous <= 0 {
		return nil
	}
	v := float64(current-previous) / float64(previous)
	return &v
}

// Summarize implements spec §4.4's summary(filter) operation.
func (m *Meter) Summarize(filter Filter, topN int) Summary {
	m.mu.Lock()
	events := append([]UsageEvent(nil), m.events...)
	m.mu.Unlock()

	var matched []UsageEvent
	for _, e := range events {
		if filter.matches(e) {
			matched = append(matched, e)
		}
	}

	now := time.Now()
	start, end := PeriodBounds(filter.Period, now)
	prevStart, prevEnd := previousBounds(filter.Period, start)

	var current, previous []UsageEvent
	var totalCost, totalReq, totalSuccess int
	for _, e := range matched {
		ts := time.UnixMilli(e.TimestampMs).UTC()
		totalReq++
		totalCost += e.CostUnits
		if e.Success {
			totalSuccess++
		}
		if filter.Period != PeriodAll && (!ts.Before(start) && ts.Before(end)) {
			current = append(current, e)
		} else if filter.Period == PeriodAll {
			current = append(current, e)
		}
		if filter.Period != PeriodAll && !ts.Before(prevStart) && ts.Before(prevEnd) {
			previous = append(previous, e)
		}
	}

	summary := Summary{
		TotalRequests: totalReq,
		TotalCost:     totalCost,
		Current:       aggregate(current, topN),
		Previous:      aggregate(previous, topN),
	}
	if totalReq > 0 {
		summary.SuccessRate = float64(totalSuccess) / float64(totalReq)
		summary.AvgCostPerReq = float64(totalCost) / float64(totalReq)
	}
	summary.CostTrend = trend(summary.Current.Cost, summary.Previous.Cost)
	summary.RequestTrend = trend(summary.Current.Count, summary.Previous.Count)
	return summary
}

// GetUsageByPeriod returns the last n contiguous period buckets ending at
// now, per spec §4.4.
func (m *Meter) GetUsageByPeriod(granularity Period, n int) []PeriodAggregate {
	m.mu.Lock()
	events := append([]UsageEvent(nil), m.events...)
	m.mu.Unlock()

	now := time.Now().UTC()
	out := make([]PeriodAggregate, 0, n)
	cursor := now
	for i := 0; i < n; i++ {
		start, end := PeriodBounds(granularity, cursor)
		var bucketEvents []UsageEvent
		for _, e := range events {
			ts := time.UnixMilli(e.TimestampMs).UTC()
			if !ts.Before(start) && ts.Before(end) {
				bucketEvents = append(bucketEvents, e)
			}
		}
		out = append([]PeriodAggregate{aggregate(bucketEvents, 0)}, out...)
		prevStart, _ := previousBounds(granularity, start)
		cursor = prevStart
	}
	return out
}
