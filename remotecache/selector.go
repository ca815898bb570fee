package remotecache

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"
)

// Selector manages endpoint selection from Pools. Directly adapted from
// proxy.Selector: same round-robin counter, recency-windowed random, and
// sticky-with-TTL strategies, generalized from "pick a proxy endpoint for
// a scrape request" to "pick a remote-cache endpoint for an action/blob
// lookup." Thread-safe for concurrent access.
type Selector struct {
	mu    sync.Mutex
	pools map[string]*poolState
}

type poolState struct {
	pool      *Pool
	rrIndex   int64
	stickyMap map[string]*stickyEntry

	recencyRing []int
	recencyPos  int
	recencyLen  int
}

type stickyEntry struct {
	endpointIdx int
	expiresAt   *time.Time
}

// NewSelector creates a new endpoint selector.
func NewSelector() *Selector {
	return &Selector{pools: make(map[string]*poolState)}
}

// RegisterPool registers pool, emitting any soft warnings to stderr.
func (s *Selector) RegisterPool(pool *Pool) error {
	if err := pool.Validate(); err != nil {
		return fmt.Errorf("pool validation failed: %w", err)
	}
	for _, w := range pool.Warnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := &poolState{pool: pool, stickyMap: make(map[string]*stickyEntry)}
	if pool.RecencyWindow != nil {
		state.recencyRing = make([]int, *pool.RecencyWindow)
		for i := range state.recencyRing {
			state.recencyRing[i] = -1
		}
	}
	s.pools[pool.Name] = state
	return nil
}

// SelectRequest parameterizes one endpoint selection.
type SelectRequest struct {
	// Pool is the pool name to select from.
	Pool string
	// StrategyOverride optionally overrides the pool's configured strategy.
	StrategyOverride *Strategy
	// StickyKey is the sticky assignment key (e.g. an action fingerprint
	// shard); required when the effective strategy is sticky.
	StickyKey string
	// Commit determines whether to advance rotation/sticky state. When
	// false, returns what would be selected without mutating state.
	Commit bool
}

// Select picks an endpoint from req.Pool.
func (s *Selector) Select(req SelectRequest) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[req.Pool]
	if !ok {
		return nil, fmt.Errorf("pool %q not found", req.Pool)
	}

	strategy := state.pool.Strategy
	if req.StrategyOverride != nil {
		strategy = *req.StrategyOverride
	}

	var idx int
	var err error
	switch strategy {
	case StrategyRoundRobin:
		idx = s.selectRoundRobin(state, req.Commit)
	case StrategyRandom:
		idx, err = s.selectRandom(state, req.Commit)
	case StrategySticky:
		idx, err = s.selectSticky(state, req, req.Commit)
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	ep := state.pool.Endpoints[idx]
	return &ep, nil
}

func (s *Selector) selectRoundRobin(state *poolState, commit bool) int {
	idx := int(state.rrIndex % int64(len(state.pool.Endpoints)))
	if commit {
		state.rrIndex++
	}
	return idx
}

func (s *Selector) selectRandom(state *poolState, commit bool) (int, error) {
	n := len(state.pool.Endpoints)
	if n == 1 {
		return 0, nil
	}

	if state.recencyRing == nil {
		return s.randInt(n)
	}

	excluded := make(map[int]bool, state.recencyLen)
	for i := 0; i < state.recencyLen; i++ {
		if idx := state.recencyRing[i]; idx >= 0 {
			excluded[idx] = true
		}
	}

	candidates := make([]int, 0, n-len(excluded))
	for i := 0; i < n; i++ {
		if !excluded[i] {
			candidates = append(candidates, i)
		}
	}

	var selectedIdx int
	if len(candidates) == 0 {
		selectedIdx = state.recencyRing[state.recencyPos]
	} else {
		ci, err := s.randInt(len(candidates))
		if err != nil {
			return 0, err
		}
		selectedIdx = candidates[ci]
	}

	if commit {
		state.recencyRing[state.recencyPos] = selectedIdx
		state.recencyPos = (state.recencyPos + 1) % len(state.recencyRing)
		if state.recencyLen < len(state.recencyRing) {
			state.recencyLen++
		}
	}
	return selectedIdx, nil
}

func (s *Selector) randInt(n int) (int, error) {
	bigIdx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random selection failed: %w", err)
	}
	return int(bigIdx.Int64()), nil
}

func (s *Selector) selectSticky(state *poolState, req SelectRequest, commit bool) (int, error) {
	if req.StickyKey == "" {
		return 0, errors.New("sticky selection requires a sticky key")
	}

	now := time.Now()
	if entry, ok := state.stickyMap[req.StickyKey]; ok {
		if entry.expiresAt == nil || entry.expiresAt.After(now) {
			return entry.endpointIdx, nil
		}
		delete(state.stickyMap, req.StickyKey)
	}

	idx, err := s.selectRandom(state, false)
	if err != nil {
		return 0, err
	}

	if commit {
		entry := &stickyEntry{endpointIdx: idx}
		if state.pool.Sticky != nil && state.pool.Sticky.TTLMs != nil {
			expiresAt := now.Add(time.Duration(*state.pool.Sticky.TTLMs) * time.Millisecond)
			entry.expiresAt = &expiresAt
		}
		state.stickyMap[req.StickyKey] = entry
	}
	return idx, nil
}

// PoolStats reports a pool's selection state for observability.
type PoolStats struct {
	RoundRobinIndex int64
	StickyEntries   int
	RecencyWindow   int
	RecencyFill     int
}

// Stats returns statistics for poolName.
func (s *Selector) Stats(poolName string) (*PoolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("pool %q not found", poolName)
	}

	stats := &PoolStats{RoundRobinIndex: state.rrIndex, StickyEntries: len(state.stickyMap)}
	if state.recencyRing != nil {
		stats.RecencyWindow = len(state.recencyRing)
		stats.RecencyFill = state.recencyLen
	}
	return stats, nil
}

// CleanExpiredSticky removes expired sticky entries from every pool. Call
// periodically to prevent unbounded growth.
func (s *Selector) CleanExpiredSticky() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, state := range s.pools {
		for key, entry := range state.stickyMap {
			if entry.expiresAt != nil && entry.expiresAt.Before(now) {
				delete(state.stickyMap, key)
			}
		}
	}
}
