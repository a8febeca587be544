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

// Package triedb provides the content-addressed trie node store backing the
// snap-sync healing engine, together with the structural inspector used to
// find dangling subtree links.
package triedb

import (
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"

	"github.com/emberclient/ember/trie"
)

// cleanCacheSize is the size of the fastcache in front of the disk store.
const cleanCacheSize = 16 * 1024 * 1024

// Database is the slice of ethdb functionality the node store needs from
// its backend. Both the in-memory database and the leveldb wrapper in this
// package satisfy it.
type Database interface {
	ethdb.KeyValueReader
	ethdb.KeyValueWriter
	ethdb.Batcher
}

// Store is a persistent key to node map for hexary Merkle-Patricia tries.
// Nodes are content-addressed: every entry is keyed by the Keccak256 hash
// of its RLP encoding, making writes idempotent and write-once per key.
type Store struct {
	db     Database
	cleans *fastcache.Cache // Hot nodes, avoids disk hits during inspection
	logger log.Logger
}

// NewStore creates a node store on top of the given backend.
func NewStore(db Database) *Store {
	return &Store{
		db:     db,
		cleans: fastcache.New(cleanCacheSize),
		logger: log.New("database", "trienodes"),
	}
}

// Has reports whether the node with the given key is present.
func (s *Store) Has(key common.Hash) bool {
	if s.cleans.Has(key.Bytes()) {
		return true
	}
	ok, _ := s.db.Has(key.Bytes())
	return ok
}

// Node retrieves the RLP blob of the node with the given key, or nil if the
// node is absent.
func (s *Store) Node(key common.Hash) []byte {
	if blob := s.cleans.Get(nil, key.Bytes()); len(blob) > 0 {
		return blob
	}
	blob, err := s.db.Get(key.Bytes())
	if err != nil || len(blob) == 0 {
		return nil
	}
	s.cleans.Set(key.Bytes(), blob)
	return blob
}

// Get walks the trie rooted at root along the given nibble path. It returns
// the key of the node reached if every node along the way resolves locally.
// A path ending inside an embedded node yields the key of the enclosing
// stored node.
func (s *Store) Get(root common.Hash, path trie.Path) (common.Hash, bool) {
	blob := s.Node(root)
	if blob == nil {
		return common.Hash{}, false
	}
	key, rest := root, path
	if trie.HasTerm(rest) {
		rest = rest[:len(rest)-1]
	}
	n, err := trie.DecodeNode(key.Bytes(), blob)
	if err != nil {
		return common.Hash{}, false
	}
	for {
		if len(rest) == 0 {
			// The path may end exactly on a hash reference; the node
			// reached is then the referenced child, which must exist.
			if ref, ok := n.(trie.HashNode); ok {
				key = common.BytesToHash(ref)
				if s.Node(key) == nil {
					return common.Hash{}, false
				}
			}
			return key, true
		}
		switch tn := n.(type) {
		case *trie.BranchNode:
			child := tn.Children[rest[0]]
			if child == nil {
				return common.Hash{}, false
			}
			n, rest = child, rest[1:]

		case *trie.ExtensionNode:
			if len(rest) < len(tn.Key) || trie.PrefixLen(rest, tn.Key) != len(tn.Key) {
				return common.Hash{}, false
			}
			n, rest = tn.Child, rest[len(tn.Key):]

		case *trie.LeafNode:
			// The leaf consumes the remainder of the path, or the path
			// diverges and the target does not exist.
			if trie.PrefixLen(rest, tn.Key) != len(rest) || len(rest) != len(tn.Key) {
				return common.Hash{}, false
			}
			return key, true

		case trie.HashNode:
			key = common.BytesToHash(tn)
			blob = s.Node(key)
			if blob == nil {
				return common.Hash{}, false
			}
			var err error
			if n, err = trie.DecodeNode(key.Bytes(), blob); err != nil {
				return common.Hash{}, false
			}

		case trie.ValueNode:
			// Nibbles left below a value slot: the target cannot exist.
			return common.Hash{}, false

		default:
			return common.Hash{}, false
		}
	}
}

// ImportReport describes the fate of one blob handed to ImportRaw. Slot is
// the index into the input batch, or -1 for a storage-layer failure that is
// not attributable to a single blob.
type ImportReport struct {
	Slot int
	Kind trie.NodeKind
	Err  error
}

// ImportRaw inserts a batch of RLP-encoded trie nodes received from a peer.
// Each blob is stored under its own Keccak256 hash, atomically: a blob is
// either fully persisted or not stored at all. Malformed blobs are dropped
// and flagged in their report entry; a backend write failure appends one
// trailing report with Slot == -1 and nothing from the batch is persisted.
func (s *Store) ImportRaw(peer string, blobs [][]byte) []ImportReport {
	var (
		reports = make([]ImportReport, 0, len(blobs))
		batch   = s.db.NewBatch()
		stored  []int // slots staged into the batch
	)
	for i, blob := range blobs {
		n, err := trie.DecodeNode(nil, blob)
		if err != nil {
			s.logger.Debug("Dropping malformed trie node", "peer", peer, "slot", i, "err", err)
			reports = append(reports, ImportReport{Slot: i, Kind: trie.KindInvalid, Err: err})
			continue
		}
		key := crypto.Keccak256(blob)
		if err := batch.Put(key, blob); err != nil {
			reports = append(reports, ImportReport{Slot: -1, Err: fmt.Errorf("stage trie node: %w", err)})
			return reports
		}
		stored = append(stored, i)
		reports = append(reports, ImportReport{Slot: i, Kind: n.Kind()})
	}
	if err := batch.Write(); err != nil {
		s.logger.Warn("Failed to persist trie nodes", "peer", peer, "count", len(stored), "err", err)
		return append(reports, ImportReport{Slot: -1, Err: fmt.Errorf("persist trie nodes: %w", err)})
	}
	for _, i := range stored {
		s.cleans.Set(crypto.Keccak256(blobs[i]), blobs[i])
	}
	return reports
}
