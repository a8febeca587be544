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
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/emberclient/ember/rangeset"
	"github.com/emberclient/ember/trie"
)

// storageRef identifies a contract storage trie scheduled for later healing.
type storageRef struct {
	Account common.Hash // Keccak256 of the account address
	Root    common.Hash // storage trie root recorded in the account
}

// pivotEnv is the mutable work state of one pivot. All fields behind lock;
// the lock is never held across a network wait or a node store import, so
// sibling buddies interleave at exactly those points.
type pivotEnv struct {
	header *types.Header // pivot block header, Root is the trie being healed

	lock         sync.Mutex
	missingNodes []trie.Path              // nodes believed absent locally
	checkNodes   []trie.Path              // nodes present locally, children pending inspection
	unprocessed  [2]*rangeset.Set         // account key ranges not yet covered
	fetchStorage mapset.Set[storageRef]   // storage tries to heal later
	nAccounts    uint64                   // accounts processed under this pivot
	healed       bool                     // account trie fully healed
}

// newPivotEnv creates the work state for a freshly adopted pivot: every
// account key is unprocessed, nothing is queued.
func newPivotEnv(header *types.Header) *pivotEnv {
	env := &pivotEnv{
		header:       header,
		fetchStorage: mapset.NewThreadUnsafeSet[storageRef](),
	}
	env.unprocessed[0] = rangeset.NewFull()
	env.unprocessed[1] = rangeset.New()
	return env
}

// dedupQueues drops duplicate paths within and across the two work queues.
// A path appearing in both stays on checkNodes: something already proved it
// present locally. Callers hold the env lock.
func (env *pivotEnv) dedupQueues() {
	seen := make(map[string]struct{}, len(env.checkNodes)+len(env.missingNodes))
	check := env.checkNodes[:0]
	for _, p := range env.checkNodes {
		if _, ok := seen[string(p)]; ok {
			continue
		}
		seen[string(p)] = struct{}{}
		check = append(check, p)
	}
	env.checkNodes = check

	missing := env.missingNodes[:0]
	for _, p := range env.missingNodes {
		if _, ok := seen[string(p)]; ok {
			continue
		}
		seen[string(p)] = struct{}{}
		missing = append(missing, p)
	}
	env.missingNodes = missing
}

// detachFetch removes and returns a suffix of missingNodes of at most max
// paths, so concurrent buddies cannot dispatch the same nodes twice.
// Callers hold the env lock.
func (env *pivotEnv) detachFetch(max int) []trie.Path {
	n := len(env.missingNodes)
	if n == 0 {
		return nil
	}
	if n > max {
		n = max
	}
	cut := len(env.missingNodes) - n
	fetch := make([]trie.Path, n)
	copy(fetch, env.missingNodes[cut:])
	env.missingNodes = env.missingNodes[:cut]
	return fetch
}

// queueLengths reports the sizes of the interval queues, for statistics.
func (env *pivotEnv) queueLengths() int {
	n := 0
	for _, set := range env.unprocessed {
		n += set.Len()
	}
	return n
}

// fillFactor is the processed fraction of the account key space under this
// pivot: the complement of what the unprocessed queues still hold.
func (env *pivotEnv) fillFactor() float64 {
	covered := 0.0
	for _, set := range env.unprocessed {
		covered += set.FullFactor()
	}
	if covered > 1.0 {
		covered = 1.0
	}
	return 1.0 - covered
}
