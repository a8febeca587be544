// Copyright 2025 The ember Authors
// This file is part of the ember library.
//
// The ember library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ember library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ember library. If not, see <http://www.gnu.org/licenses/>.

// Package snap implements the account-trie healing engine of snap sync: a
// fleet of per-peer workers that converge a pivot state trie to completeness
// by inspecting the locally present subtrees, fetching dangling nodes from
// remote peers and classifying what comes back.
package snap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/emberclient/ember/rangeset"
	"github.com/emberclient/ember/triedb"
)

// Config tunes the healing engine. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	MaxTrieNodeFetch int           // Cap on node paths per GetTrieNodes request
	MaxTrieNodeBytes uint64        // Soft response size advertised to peers
	FetchTimeout     time.Duration // Per-request network timeout
	MaxPeerErrors    int           // Fault streak after which a peer is zombified
	HealTrigger      float64       // Coverage fraction gating the healing phase
	InspectLimit     int           // Nodes expanded per inspection call
	TickDelay        time.Duration // Idle delay between buddy ticks
}

// DefaultConfig are the settings used in production.
var DefaultConfig = Config{
	MaxTrieNodeFetch: 128,
	MaxTrieNodeBytes: 512 * 1024,
	FetchTimeout:     10 * time.Second,
	MaxPeerErrors:    3,
	HealTrigger:      0.95,
	InspectLimit:     4096,
	TickDelay:        100 * time.Millisecond,
}

// HeaderReader gives the engine access to the canonical chain head, owned by
// the chain database collaborator.
type HeaderReader interface {
	CurrentHeader() *types.Header
}

// BlockWriter persists imported blocks. The healing engine never calls it
// itself; it is part of the surrounding sync contract.
type BlockWriter interface {
	PersistBlocks(headers []*types.Header, bodies []*types.Body) error
}

// ErrNoPivot is returned by healing ticks issued before a pivot is adopted.
var ErrNoPivot = errors.New("no pivot to heal")

// CoverageTracker is the process-global account coverage shared by all
// pivots. It only ever grows.
type CoverageTracker struct {
	mu  sync.RWMutex
	set *rangeset.Set
}

// NewCoverageTracker returns an empty tracker.
func NewCoverageTracker() *CoverageTracker {
	return &CoverageTracker{set: rangeset.New()}
}

// Merge marks the closed interval [lo,hi] as covered and returns the number
// of newly covered points.
func (c *CoverageTracker) Merge(lo, hi *uint256.Int) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.Merge(lo, hi)
}

// FullFactor returns the covered fraction of the account key space.
func (c *CoverageTracker) FullFactor() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set.FullFactor()
}

// Syncer owns the buddy fleet, the shared coverage tracker and the current
// pivot work state.
type Syncer struct {
	cfg    Config
	store  *triedb.Store
	chain  HeaderReader
	logger log.Logger

	coverage *CoverageTracker
	reqID    atomic.Uint64

	lock    sync.RWMutex
	env     *pivotEnv
	buddies map[string]*Buddy

	healStats tickerSamples // running samples feeding the ticker readout
}

// NewSyncer creates a healing engine over the given node store and chain.
func NewSyncer(store *triedb.Store, chain HeaderReader, cfg Config) *Syncer {
	return &Syncer{
		cfg:      cfg,
		store:    store,
		chain:    chain,
		logger:   log.New("sync", "snap-heal"),
		coverage: NewCoverageTracker(),
		buddies:  make(map[string]*Buddy),
	}
}

// Coverage exposes the global coverage tracker; the range-fetch fast path
// merges into the same instance.
func (s *Syncer) Coverage() *CoverageTracker {
	return s.coverage
}

// SetPivot adopts a new pivot header. The previous environment is dropped;
// buddies attached to it observe the switch at their next tick.
func (s *Syncer) SetPivot(header *types.Header) {
	s.lock.Lock()
	old := s.env
	s.env = newPivotEnv(header)
	s.lock.Unlock()
	if old != nil {
		s.logger.Debug("Pivot switched", "old", old.header.Number, "new", header.Number)
	}
	s.logger.Info("Adopted new pivot", "number", header.Number, "root", header.Root)
}

// AdoptHead adopts the canonical chain head as the new pivot.
func (s *Syncer) AdoptHead() error {
	head := s.chain.CurrentHeader()
	if head == nil {
		return errors.New("no canonical head to pivot to")
	}
	s.SetPivot(head)
	return nil
}

// pivot returns the current pivot environment, or nil before adoption.
func (s *Syncer) pivot() *pivotEnv {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.env
}

// Register adds a peer to the fleet and returns its worker handle.
func (s *Syncer) Register(peer SyncPeer) (*Buddy, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.buddies[peer.ID()]; ok {
		return nil, fmt.Errorf("peer %s already registered", peer.ID())
	}
	b := &Buddy{
		peer:   peer,
		logger: peer.Log().New("buddy", peer.ID()),
	}
	s.buddies[peer.ID()] = b
	activeBuddiesGauge.Inc(1)
	return b, nil
}

// Unregister drops a peer from the fleet.
func (s *Syncer) Unregister(id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	b, ok := s.buddies[id]
	if !ok {
		return fmt.Errorf("peer %s not registered", id)
	}
	b.zombie = true
	delete(s.buddies, id)
	activeBuddiesGauge.Dec(1)
	return nil
}

// Run drives one healing loop per registered buddy until the context is
// cancelled, every pivot has been healed away, or all buddies turned zombie.
// Peers must be registered before Run is called.
func (s *Syncer) Run(ctx context.Context) error {
	s.lock.RLock()
	workers := make([]*Buddy, 0, len(s.buddies))
	for _, b := range s.buddies {
		workers = append(workers, b)
	}
	s.lock.RUnlock()
	if len(workers) == 0 {
		return errors.New("no peers to heal from")
	}
	group, ctx := errgroup.WithContext(ctx)
	for _, b := range workers {
		group.Go(func() error {
			return s.buddyLoop(ctx, b)
		})
	}
	return group.Wait()
}

// buddyLoop runs healing ticks for one buddy until it zombifies, the pivot
// heals, or the context ends.
func (s *Syncer) buddyLoop(ctx context.Context, b *Buddy) error {
	for {
		if b.zombie {
			b.logger.Debug("Zombie buddy exiting")
			return nil
		}
		env := s.pivot()
		if env != nil {
			env.lock.Lock()
			done := env.healed
			env.lock.Unlock()
			if done {
				return nil
			}
		}
		if err := s.HealAccounts(ctx, b); err != nil && !errors.Is(err, ErrNoPivot) {
			b.logger.Debug("Healing tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.TickDelay):
		}
	}
}

// tagOf converts an account hash into its interval-set coordinate.
func tagOf(hash common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes(hash.Bytes())
}
