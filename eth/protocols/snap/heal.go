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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/emberclient/ember/trie"
)

// HealAccounts runs a single healing tick for the given buddy against the
// current pivot. It is idempotent once the pivot's account trie is complete.
//
// One tick: reclassify missing nodes that appeared locally, inspect the
// check queue for dangling children, fetch a bounded batch of missing nodes
// from the peer, import the response and classify every node that landed.
// The pivot lock is released across the network fetch and the store import,
// so sibling buddies interleave at exactly those points.
func (s *Syncer) HealAccounts(ctx context.Context, b *Buddy) error {
	env := s.pivot()
	if env == nil {
		return ErrNoPivot
	}
	if b.zombie {
		return nil
	}
	root := env.header.Root

	// An empty state trie has nothing to heal; the empty root is never
	// fetched, it exists by definition.
	if root == types.EmptyRootHash {
		env.lock.Lock()
		if !env.healed {
			env.healed = true
			b.logger.Info("Account trie healing complete", "root", root, "accounts", env.nAccounts)
		}
		env.lock.Unlock()
		return nil
	}
	// Healing is kept late: while the coverage signal is below the trigger
	// the cheaper range-fetch path is still doing the bulk of the work.
	env.lock.Lock()
	started := env.nAccounts > 0
	env.lock.Unlock()
	if !started || s.coverage.FullFactor() < s.cfg.HealTrigger {
		return nil
	}

	env.lock.Lock()
	env.dedupQueues()

	// UPDATE_MISSING: another buddy or the range-fetch path may have
	// filled nodes in since the last tick; presence moves a path over to
	// the inspection queue. Whether its subtree is complete is left for
	// the inspector to find out.
	remaining := env.missingNodes[:0]
	for _, p := range env.missingNodes {
		if _, ok := s.store.Get(root, p); ok {
			env.checkNodes = append(env.checkNodes, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	env.missingNodes = remaining

	// APPEND_DANGLING: walk the present subtrees for dangling links. The
	// empty-queue case covers the very start, where only the root may be
	// missing.
	if len(env.checkNodes) > 0 || len(env.missingNodes) == 0 {
		seeds := env.checkNodes
		env.checkNodes = nil
		if len(seeds) == 0 {
			seeds = []trie.Path{{}}
		}
		result, err := s.store.InspectTrie(root, seeds, s.cfg.InspectLimit)
		if err != nil {
			// All seeds stay uninspected; a corrupted local node will
			// not be fixed by this peer either, give up on the buddy.
			env.checkNodes = append(env.checkNodes, seeds...)
			env.lock.Unlock()
			b.markZombie(err.Error())
			return err
		}
		env.missingNodes = append(env.missingNodes, result.Dangling...)
		for _, leafPath := range result.Leaves {
			if value, ok := s.store.LeafValue(root, leafPath); ok {
				s.registerAccountLeaf(env, leafPath, value)
			}
		}
	}
	// COMPLETE: nothing missing means the account trie is whole.
	if len(env.missingNodes) == 0 {
		env.healed = true
		accounts := env.nAccounts
		env.lock.Unlock()
		b.logger.Info("Account trie healing complete", "root", root, "accounts", accounts)
		return nil
	}
	// FETCH: detach a slice so no sibling dispatches the same nodes, then
	// release the pivot while the request is in flight.
	fetch := env.detachFetch(s.cfg.MaxTrieNodeFetch)
	env.lock.Unlock()

	nodes, leftOver, err := s.fetchTrieNodes(ctx, b, root, fetch)

	// Re-resolve the pivot: it may have switched while suspended.
	if cur := s.pivot(); cur != env {
		b.logger.Debug("Pivot switched mid-fetch, dropping tick")
		return nil
	}
	env.lock.Lock()
	if err != nil {
		// Restore the in-flight slice before anything else; order against
		// concurrent inserts is not meaningful.
		env.missingNodes = append(env.missingNodes, fetch...)
		env.lock.Unlock()
		b.noteError(s.cfg.MaxPeerErrors, err)
		b.logger.Debug("Trie node fetch failed", "paths", len(fetch), "err", err)
		return err
	}
	b.noteSuccess()
	env.missingNodes = append(env.missingNodes, leftOver...)
	env.lock.Unlock()

	answered := fetch[:len(nodes)]

	// IMPORT: persist the batch outside the pivot lock, disk writes are a
	// suspension point.
	reports := s.store.ImportRaw(b.ID(), nodes)

	if cur := s.pivot(); cur != env {
		b.logger.Debug("Pivot switched mid-import, dropping tick")
		return nil
	}
	trienodeHealSyncedMeter.Mark(int64(len(nodes)))

	env.lock.Lock()
	defer env.lock.Unlock()

	// A trailing storage error invalidates the whole import; re-queue the
	// batch and retry on a later tick.
	if n := len(reports); n > 0 && reports[n-1].Slot < 0 {
		env.missingNodes = append(env.missingNodes, answered...)
		b.logger.Warn("Trie node import failed", "err", reports[n-1].Err)
		return reports[n-1].Err
	}
	// CLASSIFY: every imported node either needs its children checked, is
	// an account leaf to account for, or goes back to the missing queue.
	for _, report := range reports {
		path := answered[report.Slot]
		switch {
		case report.Err != nil || report.Kind == trie.KindInvalid:
			env.missingNodes = append(env.missingNodes, path)
			trienodeHealNopsMeter.Mark(1)

		case report.Kind == trie.KindBranch || report.Kind == trie.KindExtension:
			env.checkNodes = append(env.checkNodes, path)

		default: // leaf
			s.classifyLeaf(env, root, path, nodes[report.Slot])
		}
	}
	return nil
}

// classifyLeaf handles one imported leaf node: a full-depth leaf is an
// account to register, anything shorter is a positional artifact whose
// children (if any) still need inspection.
func (s *Syncer) classifyLeaf(env *pivotEnv, root common.Hash, path trie.Path, blob []byte) {
	n, err := trie.DecodeNode(nil, blob)
	if err != nil {
		env.missingNodes = append(env.missingNodes, path)
		return
	}
	leaf, ok := n.(*trie.LeafNode)
	if !ok {
		env.missingNodes = append(env.missingNodes, path)
		return
	}
	full := trie.Join(path, leaf.Key)
	if trie.ContentLen(full) != accountPathNibbles {
		env.checkNodes = append(env.checkNodes, path)
		return
	}
	s.registerAccountLeaf(env, append(full, 0x10), leaf.Value)
}

// accountPathNibbles is the nibble depth of every account leaf: the full
// Keccak256 account hash.
const accountPathNibbles = 64

// registerAccountLeaf accounts for one full-depth leaf: its key range moves
// from unprocessed to covered, the account counter grows, and contracts with
// a storage trie are queued for storage healing. Leaves outside every
// unprocessed range were already handled by the range-fetch path and are
// dropped. Callers hold the env lock.
func (s *Syncer) registerAccountLeaf(env *pivotEnv, fullPath trie.Path, value []byte) {
	if trie.ContentLen(fullPath) != accountPathNibbles {
		return
	}
	accHash := common.BytesToHash(trie.HexToKeybytes(fullPath))

	var account types.StateAccount
	if err := rlp.DecodeBytes(value, &account); err != nil {
		s.logger.Debug("Failed to decode healed account", "hash", accHash, "err", err)
		return
	}
	tag := tagOf(accHash)
	covered := false
	for _, set := range env.unprocessed {
		if set.Covers(tag) {
			set.Reduce(tag, tag)
			covered = true
			break
		}
	}
	if !covered {
		// Already processed by the range-fetch path, nothing to record.
		trienodeHealDupsMeter.Mark(1)
		return
	}
	s.coverage.Merge(tag, tag)
	env.nAccounts++
	accountHealedMeter.Mark(1)

	if account.Root != types.EmptyRootHash {
		env.fetchStorage.Add(storageRef{Account: accHash, Root: account.Root})
	}
}
