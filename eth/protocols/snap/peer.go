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

package snap

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// SyncPeer abstracts the methods required of a remote peer so that mock
// peers can stand in for the full networking stack in tests.
type SyncPeer interface {
	// ID retrieves the peer's unique identifier.
	ID() string

	// RequestTrieNodes fetches a batch of account or storage trie nodes
	// rooted in a specific state trie. The peer may answer a prefix of the
	// requested path sets only.
	RequestTrieNodes(ctx context.Context, id uint64, root common.Hash, paths []TrieNodePathSet, bytes uint64) (*TrieNodesPacket, error)

	// Log retrieves the peer's own contextual logger.
	Log() log.Logger
}

// Buddy is the per-peer worker handle. Each buddy runs its healing ticks on
// its own goroutine; the fault accumulator and zombie flag are only touched
// from there.
type Buddy struct {
	peer   SyncPeer
	logger log.Logger

	faults int  // consecutive network faults since the last success
	zombie bool // flagged for termination, exits at the next tick
}

// ID returns the underlying peer's identifier.
func (b *Buddy) ID() string {
	return b.peer.ID()
}

// Zombie reports whether the buddy has been flagged for termination.
func (b *Buddy) Zombie() bool {
	return b.zombie
}

// markZombie flags the buddy for termination. Marking is the only way a
// worker signals upward that its peer is unusable.
func (b *Buddy) markZombie(reason string) {
	if !b.zombie {
		b.zombie = true
		zombiePeersGauge.Inc(1)
		b.logger.Warn("Marking peer zombie", "reason", reason)
	}
}

// noteError feeds a network failure into the fault accumulator and reports
// whether the buddy crossed into zombie state. A protocol violation weighs
// as much as a full streak of transient faults.
func (b *Buddy) noteError(maxFaults int, err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) && netErr.Serious() {
		b.faults += maxFaults
	} else {
		b.faults++
	}
	if b.faults >= maxFaults {
		b.markZombie(err.Error())
	}
	return b.zombie
}

// noteSuccess resets the fault streak after a useful response.
func (b *Buddy) noteSuccess() {
	b.faults = 0
}
