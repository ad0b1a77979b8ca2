// Package learning implements the Domain Learning Store (spec §4.2):
// per-domain preferences biasing future cascades, persisted through
// internal/kvstore with a debounced atomic-rename write path. Grounded on
// the teacher's config.go load/persist shape and cassandra/datastore.go's
// per-domain LRU-cache idiom, generalized from "have we seen this domain"
// to "what do we know about this domain".
package learning

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fetchcascade/fetchcascade"
)

const namespace = "learning"

// recentWindow is the "last 5 attempts" window spec §4.2's demotion rule
// inspects.
const recentWindow = 5

// DomainPreference is the persisted, exported shape of what the store
// knows about one registrable domain.
type DomainPreference struct {
	PreferredTier     *fetchcascade.Tier `json:"preferredTier"`
	SuccessCount      int                `json:"successCount"`
	FailureCount      int                `json:"failureCount"`
	AvgResponseTimeMs float64            `json:"avgResponseTimeMs"`
	LastUsedAtMs      int64              `json:"lastUsedAtMs"`
	LastFailureReason string             `json:"lastFailureReason,omitempty"`

	consecutiveFailures int
	recentByTier        map[fetchcascade.Tier][]bool // ring of recent outcomes, newest last
}

func newDomainPreference() *DomainPreference {
	return &DomainPreference{recentByTier: make(map[fetchcascade.Tier][]bool)}
}

// Store is the Domain Learning Store. Reads take the read side of an
// RWMutex and writes take its write side, so a concurrent Preference()
// never observes a torn entry. Reads are not lock-free: they wait while a
// write holds the mutex.
type Store struct {
	mu    sync.RWMutex
	prefs map[string]*DomainPreference
	kv    fetchcascade.KVStore
}

// New constructs a Store persisted through kv, loading any existing state.
func New(kv fetchcascade.KVStore) (*Store, error) {
	s := &Store{prefs: make(map[string]*DomainPreference), kv: kv}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	keys, err := s.kv.ListKeys(namespace)
	if err != nil {
		return err
	}
	for _, domain := range keys {
		raw, ok, err := s.kv.Get(namespace, domain)
		if err != nil || !ok {
			continue
		}
		var dp DomainPreference
		if err := json.Unmarshal(raw, &dp); err != nil {
			continue
		}
		dp.recentByTier = make(map[fetchcascade.Tier][]bool)
		s.prefs[domain] = &dp
	}
	return nil
}

func (s *Store) persist(domain string, dp *DomainPreference) error {
	raw, err := json.Marshal(dp)
	if err != nil {
		return err
	}
	return s.kv.Set(namespace, domain, raw)
}

// Preference is a pure read; nil if the domain has never been observed.
func (s *Store) Preference(domain string) *DomainPreference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dp, ok := s.prefs[domain]
	if !ok {
		return nil
	}
	clone := *dp
	return &clone
}

func (s *Store) getOrCreate(domain string) *DomainPreference {
	dp, ok := s.prefs[domain]
	if !ok {
		dp = newDomainPreference()
		s.prefs[domain] = dp
	}
	return dp
}

// RecordSuccess implements spec §4.2's recordSuccess operation.
func (s *Store) RecordSuccess(domain string, tier fetchcascade.Tier, durationMs int64, contentLength int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dp := s.getOrCreate(domain)
	dp.SuccessCount++
	dp.consecutiveFailures = 0
	dp.LastUsedAtMs = time.Now().UnixMilli()

	if dp.AvgResponseTimeMs == 0 {
		dp.AvgResponseTimeMs = float64(durationMs)
	} else {
		dp.AvgResponseTimeMs = fetchcascade.EMAAlpha*float64(durationMs) + (1-fetchcascade.EMAAlpha)*dp.AvgResponseTimeMs
	}

	ring := dp.recentByTier[tier]
	ring = append(ring, true)
	if len(ring) > recentWindow {
		ring = ring[len(ring)-recentWindow:]
	}
	dp.recentByTier[tier] = ring

	if dp.PreferredTier == nil || (tier < *dp.PreferredTier && lastNAllSuccess(ring, recentWindow)) {
		t := tier
		dp.PreferredTier = &t
	}

	_ = s.persist(domain, dp)
}

func lastNAllSuccess(ring []bool, n int) bool {
	if len(ring) < n {
		return false
	}
	for _, v := range ring[len(ring)-n:] {
		if !v {
			return false
		}
	}
	return true
}

// RecordFailure implements spec §4.2's recordFailure operation.
func (s *Store) RecordFailure(domain string, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dp := s.getOrCreate(domain)
	dp.FailureCount++
	dp.consecutiveFailures++
	dp.LastFailureReason = reason
	dp.LastUsedAtMs = time.Now().UnixMilli()

	if dp.PreferredTier != nil && dp.consecutiveFailures >= 3 {
		if next, ok := moreExpensive(*dp.PreferredTier); ok {
			dp.PreferredTier = &next
			dp.consecutiveFailures = 0
		}
	}

	_ = s.persist(domain, dp)
}

func moreExpensive(t fetchcascade.Tier) (fetchcascade.Tier, bool) {
	switch t {
	case fetchcascade.TierIntelligence:
		return fetchcascade.TierLightweight, true
	case fetchcascade.TierLightweight:
		return fetchcascade.TierPlaywright, true
	default:
		return t, false
	}
}

// SetDomainPreference is the admin override operation; atomic.
func (s *Store) SetDomainPreference(domain string, tier fetchcascade.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dp := s.getOrCreate(domain)
	t := tier
	dp.PreferredTier = &t
	_ = s.persist(domain, dp)
}

// ExportPreferences returns a serializable snapshot of every domain's
// preference.
func (s *Store) ExportPreferences() map[string]DomainPreference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]DomainPreference, len(s.prefs))
	for domain, dp := range s.prefs {
		out[domain] = *dp
	}
	return out
}

// ImportState replaces the store's contents with serialized, matching
// ExportPreferences's shape; export(import(x)) = x per spec §8.
func (s *Store) ImportState(state map[string]DomainPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = make(map[string]*DomainPreference, len(state))
	for domain, dp := range state {
		copied := dp
		rings := make(map[fetchcascade.Tier][]bool, len(dp.recentByTier))
		for tier, ring := range dp.recentByTier {
			rings[tier] = append([]bool(nil), ring...)
		}
		copied.recentByTier = rings
		s.prefs[domain] = &copied
		if err := s.persist(domain, &copied); err != nil {
			return err
		}
	}
	return nil
}

// Flush drains the underlying KVStore's pending debounced write.
func (s *Store) Flush() error {
	return s.kv.Flush()
}

// OrderedTiers computes the cascade's attempt order for domain per spec
// §4.1: the preferred tier (if any) first, then the remaining default
// tiers in order with duplicates removed.
func OrderedTiers(pref *DomainPreference, defaultOrder []fetchcascade.Tier) []fetchcascade.Tier {
	if pref == nil || pref.PreferredTier == nil {
		return append([]fetchcascade.Tier{}, defaultOrder...)
	}
	out := []fetchcascade.Tier{*pref.PreferredTier}
	for _, t := range defaultOrder {
		if t != *pref.PreferredTier {
			out = append(out, t)
		}
	}
	return out
}
