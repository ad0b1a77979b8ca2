// Package perf implements the Performance Tracker (spec §4.3): per
// (domain, tier) latency percentiles via fixed-capacity reservoir
// sampling. The algorithm itself is stdlib math/rand by necessity -- no
// reservoir-sampling library appears anywhere in the retrieved corpus.
// Per-bucket key bookkeeping reuses the same hashicorp/golang-lru the
// teacher's dnscache/cassandra packages use, bounding the number of live
// buckets.
package perf

import (
	"math/rand"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/fetchcascade/fetchcascade"
)

// DefaultReservoirCapacity matches spec §4.3's default.
const DefaultReservoirCapacity = 1024

// DefaultMaxBuckets bounds the number of (domain, tier) buckets kept live,
// an ambient addition beyond spec.md to avoid unbounded memory growth in a
// process that sees many distinct domains.
const DefaultMaxBuckets = 10000

type bucketKey struct {
	domain string
	tier   fetchcascade.Tier
}

type bucket struct {
	mu       sync.Mutex
	capacity int
	samples  []int64 // duration ms
	n        int64   // total observations seen (for reservoir replacement probability)
	sum      int64
	count    int64
	successes int64
}

func newBucket(capacity int) *bucket {
	return &bucket{capacity: capacity, samples: make([]int64, 0, capacity)}
}

func (b *bucket) record(durationMs int64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	b.sum += durationMs
	b.count++
	if success {
		b.successes++
	}
	if len(b.samples) < b.capacity {
		b.samples = append(b.samples, durationMs)
		return
	}
	// Reservoir sampling: replace a uniformly random existing slot with
	// probability capacity/n.
	j := rand.Int63n(b.n)
	if j < int64(b.capacity) {
		b.samples[j] = durationMs
	}
}

func (b *bucket) snapshot() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int64, len(b.samples))
	copy(out, b.samples)
	return out
}

func (b *bucket) sumAndCount() (int64, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sum, b.count
}

// Stats is the percentile/aggregate summary spec §4.3 returns from a
// query.
type Stats struct {
	P50   int64
	P95   int64
	P99   int64
	Min   int64
	Max   int64
	Avg   float64
	Count int64
}

func statsFromSamples(samples []int64, sum int64, count int64) Stats {
	if len(samples) == 0 {
		return Stats{}
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pick := func(p float64) int64 {
		idx := int(p * float64(len(sorted)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}

	avg := 0.0
	if count > 0 {
		avg = float64(sum) / float64(count)
	}

	return Stats{
		P50:   pick(0.50),
		P95:   pick(0.95),
		P99:   pick(0.99),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Avg:   avg,
		Count: count,
	}
}

// Tracker is the Performance Tracker: process-local, never persisted, per
// spec §4.3's "no persistence" rule.
type Tracker struct {
	mu       sync.RWMutex
	buckets  map[bucketKey]*bucket
	recent   *lru.Cache // bucketKey -> struct{}, bounds memory
	capacity int

	bmu        sync.Mutex
	breakdowns map[string]*componentAccum
}

// New builds a Tracker with the given reservoir capacity per bucket.
func New(reservoirCapacity int) *Tracker {
	recent, _ := lru.New(DefaultMaxBuckets)
	return &Tracker{
		buckets:    make(map[bucketKey]*bucket),
		recent:     recent,
		capacity:   reservoirCapacity,
		breakdowns: make(map[string]*componentAccum),
	}
}

// Record implements the fetcher's `record(domain, tier, outcome,
// durationMs)` recording hook.
func (t *Tracker) Record(domain string, tier fetchcascade.Tier, success bool, durationMs int64) {
	key := bucketKey{domain: domain, tier: tier}

	t.mu.RLock()
	b, ok := t.buckets[key]
	t.mu.RUnlock()

	if !ok {
		t.mu.Lock()
		b, ok = t.buckets[key]
		if !ok {
			b = newBucket(t.capacity)
			t.buckets[key] = b
			if t.recent != nil && t.recent.Len() >= DefaultMaxBuckets {
				if evicted, _, evictedOK := t.recent.RemoveOldest(); evictedOK {
					delete(t.buckets, evicted.(bucketKey))
				}
			}
		}
		t.mu.Unlock()
	}
	if t.recent != nil {
		t.recent.Add(key, struct{}{})
	}
	b.record(durationMs, success)
}

// TierPerformance is per-tier stats keyed for a domain query.
type TierPerformance struct {
	Tier  fetchcascade.Tier
	Stats Stats
}

// GetDomainPerformance returns per-tier stats plus an overall aggregate
// for domain.
func (t *Tracker) GetDomainPerformance(domain string) (perTier []TierPerformance, overall Stats) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var allSamples []int64
	var sum, count int64
	for _, tier := range fetchcascade.DefaultTierOrder {
		b, ok := t.buckets[bucketKey{domain: domain, tier: tier}]
		if !ok {
			continue
		}
		samples := b.snapshot()
		bsum, bcount := b.sumAndCount()
		allSamples = append(allSamples, samples...)
		sum += bsum
		count += bcount
		perTier = append(perTier, TierPerformance{Tier: tier, Stats: statsFromSamples(samples, bsum, bcount)})
	}
	overall = statsFromSamples(allSamples, sum, count)
	return perTier, overall
}

// DomainAverage is used by GetSystemPerformance's top-N ranking.
type DomainAverage struct {
	Domain string
	Avg    float64
}

// GetSystemPerformance returns the overall aggregate across every domain
// plus the top-N fastest/slowest domains by average duration.
func (t *Tracker) GetSystemPerformance(topN int) (overall Stats, fastest []DomainAverage, slowest []DomainAverage) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var allSamples []int64
	var sum, count int64
	perDomain := make(map[string]*struct {
		sum   int64
		count int64
	})
	for key, b := range t.buckets {
		samples := b.snapshot()
		bsum, bcount := b.sumAndCount()
		allSamples = append(allSamples, samples...)
		sum += bsum
		count += bcount
		d, ok := perDomain[key.domain]
		if !ok {
			d = &struct {
				sum   int64
				count int64
			}{}
			perDomain[key.domain] = d
		}
		d.sum += bsum
		d.count += bcount
	}
	overall = statsFromSamples(allSamples, sum, count)

	avgs := make([]DomainAverage, 0, len(perDomain))
	for domain, d := range perDomain {
		if d.count == 0 {
			continue
		}
		avgs = append(avgs, DomainAverage{Domain: domain, Avg: float64(d.sum) / float64(d.count)})
	}
	sort.Slice(avgs, func(i, j int) bool { return avgs[i].Avg < avgs[j].Avg })
	fastest = topSlice(avgs, topN)
	reversed := make([]DomainAverage, len(avgs))
	for i, a := range avgs {
		reversed[len(avgs)-1-i] = a
	}
	slowest = topSlice(reversed, topN)
	return overall, fastest, slowest
}

func topSlice(in []DomainAverage, n int) []DomainAverage {
	if n <= 0 || n > len(in) {
		n = len(in)
	}
	return append([]DomainAverage(nil), in[:n]...)
}

// componentAccum sums each stage's duration across every recorded fetch for
// a domain, so GetComponentBreakdown can report a running average rather
// than just replaying the last sample.
type componentAccum struct {
	networkSum, parsingSum, jsSum, extractionSum int64
	count                                        int64
}

// RecordBreakdown accumulates one fetch's per-stage timings for domain.
// Core.Fetch calls this after each cascade with the ComponentBreakdown the
// cascade attached to the FetchResult (spec §4.3: "the fetcher annotates each
// stage's duration for inclusion").
func (t *Tracker) RecordBreakdown(domain string, b fetchcascade.ComponentBreakdown) {
	t.bmu.Lock()
	defer t.bmu.Unlock()

	acc, ok := t.breakdowns[domain]
	if !ok {
		acc = &componentAccum{}
		t.breakdowns[domain] = acc
	}
	acc.networkSum += b.NetworkMs
	acc.parsingSum += b.ParsingMs
	acc.jsSum += b.JSExecutionMs
	acc.extractionSum += b.ExtractionMs
	acc.count++
}

// GetComponentBreakdown returns domain's average per-stage timings across
// every fetch recorded via RecordBreakdown, implementing spec §4.3's
// getComponentBreakdown() query. A domain with no recorded breakdown
// returns the zero value.
func (t *Tracker) GetComponentBreakdown(domain string) fetchcascade.ComponentBreakdown {
	t.bmu.Lock()
	defer t.bmu.Unlock()

	acc, ok := t.breakdowns[domain]
	if !ok || acc.count == 0 {
		return fetchcascade.ComponentBreakdown{}
	}
	return fetchcascade.ComponentBreakdown{
		NetworkMs:     acc.networkSum / acc.count,
		ParsingMs:     acc.parsingSum / acc.count,
		JSExecutionMs: acc.jsSum / acc.count,
		ExtractionMs:  acc.extractionSum / acc.count,
	}
}
