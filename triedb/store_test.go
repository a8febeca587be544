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

package triedb

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/emberclient/ember/trie"
)

// Fixture helpers building raw trie nodes by hand. Hash-referenced children
// are passed as 32-byte slices, embedded slots as shorter ones.

func leafBlob(t *testing.T, key trie.Path, value []byte) []byte {
	t.Helper()
	blob, err := rlp.EncodeToBytes([]interface{}{trie.HexToCompact(append(append(trie.Path{}, key...), 0x10)), value})
	if err != nil {
		t.Fatalf("failed to encode leaf: %v", err)
	}
	return blob
}

func extBlob(t *testing.T, key trie.Path, child common.Hash) []byte {
	t.Helper()
	blob, err := rlp.EncodeToBytes([]interface{}{trie.HexToCompact(key), child.Bytes()})
	if err != nil {
		t.Fatalf("failed to encode extension: %v", err)
	}
	return blob
}

func branchBlob(t *testing.T, children map[int]common.Hash) []byte {
	t.Helper()
	items := make([]interface{}, 17)
	for i := 0; i < 17; i++ {
		if child, ok := children[i]; ok {
			items[i] = child.Bytes()
		} else {
			items[i] = []byte{}
		}
	}
	blob, err := rlp.EncodeToBytes(items)
	if err != nil {
		t.Fatalf("failed to encode branch: %v", err)
	}
	return blob
}

// storeBlobs imports the blobs and fails the test on any report error.
func storeBlobs(t *testing.T, s *Store, blobs ...[]byte) {
	t.Helper()
	for _, report := range s.ImportRaw("test", blobs) {
		if report.Err != nil {
			t.Fatalf("import failed at slot %d: %v", report.Slot, report.Err)
		}
	}
}

func hashOf(blob []byte) common.Hash {
	return crypto.Keccak256Hash(blob)
}

func TestImportRawReports(t *testing.T) {
	s := NewStore(memorydb.New())

	leaf := leafBlob(t, trie.Path{1, 2}, []byte("v"))
	ext := extBlob(t, trie.Path{7}, common.Hash{0xaa})
	branch := branchBlob(t, map[int]common.Hash{3: {0x01}, 5: {0x02}})
	bogus := []byte{0x80}

	reports := s.ImportRaw("peer", [][]byte{leaf, bogus, ext, branch})
	if len(reports) != 4 {
		t.Fatalf("report count: have %d, want 4", len(reports))
	}
	wantKinds := map[int]trie.NodeKind{0: trie.KindLeaf, 1: trie.KindInvalid, 2: trie.KindExtension, 3: trie.KindBranch}
	for _, report := range reports {
		if report.Slot < 0 {
			t.Fatalf("unexpected storage error report: %v", report.Err)
		}
		if report.Kind != wantKinds[report.Slot] {
			t.Errorf("slot %d: kind %v, want %v", report.Slot, report.Kind, wantKinds[report.Slot])
		}
		if (report.Slot == 1) != (report.Err != nil) {
			t.Errorf("slot %d: unexpected error state %v", report.Slot, report.Err)
		}
	}
	// Malformed blobs are dropped, valid ones persisted.
	if s.Has(hashOf(bogus)) {
		t.Errorf("malformed blob was stored")
	}
	for _, blob := range [][]byte{leaf, ext, branch} {
		if !s.Has(hashOf(blob)) {
			t.Errorf("valid blob missing after import")
		}
		if got := s.Node(hashOf(blob)); !bytes.Equal(got, blob) {
			t.Errorf("node content mismatch")
		}
	}
}

func TestImportRawIdempotent(t *testing.T) {
	s := NewStore(memorydb.New())
	leaf := leafBlob(t, trie.Path{1}, []byte("v"))
	storeBlobs(t, s, leaf)
	storeBlobs(t, s, leaf) // content addressed, re-import is a no-op
	if got := s.Node(hashOf(leaf)); !bytes.Equal(got, leaf) {
		t.Fatalf("node lost after duplicate import")
	}
}

// Builds the three-level fixture:
//
//	root branch ── 3 ──► extension{4,5} ──► leaf{6,7} = "acct"
//	           └── 5 ──► leaf{9} = "other"
func buildFixture(t *testing.T, s *Store) (root common.Hash, leafA, leafB common.Hash) {
	leafAB := leafBlob(t, trie.Path{6, 7}, []byte("acct"))
	extB := extBlob(t, trie.Path{4, 5}, hashOf(leafAB))
	leafBB := leafBlob(t, trie.Path{9}, []byte("other"))
	branchB := branchBlob(t, map[int]common.Hash{3: hashOf(extB), 5: hashOf(leafBB)})
	storeBlobs(t, s, leafAB, extB, leafBB, branchB)
	return hashOf(branchB), hashOf(leafAB), hashOf(leafBB)
}

func TestGetWalk(t *testing.T) {
	s := NewStore(memorydb.New())
	root, leafA, leafB := buildFixture(t, s)

	// Walking to each stored node resolves its key.
	if key, ok := s.Get(root, nil); !ok || key != root {
		t.Errorf("root walk: have (%x,%v)", key, ok)
	}
	if key, ok := s.Get(root, trie.Path{3, 4, 5, 6, 7}); !ok || key != leafA {
		t.Errorf("leaf A walk: have (%x,%v), want %x", key, ok, leafA)
	}
	if key, ok := s.Get(root, trie.Path{5, 9}); !ok || key != leafB {
		t.Errorf("leaf B walk: have (%x,%v), want %x", key, ok, leafB)
	}
	// Paths into empty slots or diverging from stored segments miss.
	if _, ok := s.Get(root, trie.Path{7}); ok {
		t.Errorf("walk into empty slot succeeded")
	}
	if _, ok := s.Get(root, trie.Path{3, 4, 6}); ok {
		t.Errorf("diverging walk succeeded")
	}
	// Unknown root.
	if _, ok := s.Get(common.Hash{0xff}, nil); ok {
		t.Errorf("walk from unknown root succeeded")
	}
}

func TestGetMissingIntermediate(t *testing.T) {
	s := NewStore(memorydb.New())

	// Store the branch but not the extension below it.
	leafAB := leafBlob(t, trie.Path{6, 7}, []byte("acct"))
	extB := extBlob(t, trie.Path{4, 5}, hashOf(leafAB))
	branchB := branchBlob(t, map[int]common.Hash{3: hashOf(extB), 5: hashOf(leafAB)})
	storeBlobs(t, s, branchB)

	if _, ok := s.Get(hashOf(branchB), trie.Path{3, 4, 5, 6, 7}); ok {
		t.Fatalf("walk through absent extension succeeded")
	}
}

func TestLeafValue(t *testing.T) {
	s := NewStore(memorydb.New())
	root, _, _ := buildFixture(t, s)

	if val, ok := s.LeafValue(root, trie.Path{3, 4, 5, 6, 7, 0x10}); !ok || string(val) != "acct" {
		t.Errorf("leaf A value: have (%q,%v)", val, ok)
	}
	if val, ok := s.LeafValue(root, trie.Path{5, 9}); !ok || string(val) != "other" {
		t.Errorf("leaf B value: have (%q,%v)", val, ok)
	}
	if _, ok := s.LeafValue(root, trie.Path{5, 8}); ok {
		t.Errorf("absent leaf resolved")
	}
}
