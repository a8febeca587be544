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
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emberclient/ember/trie"
)

// ErrInspectCorrupted is returned when the inspector hits a node that fails
// to parse. The whole call fails and the caller must treat every seed as
// still uninspected.
var ErrInspectCorrupted = errors.New("corrupted trie node during inspection")

// Inspection is the outcome of one bounded trie inspection pass.
type Inspection struct {
	// Dangling holds paths whose referenced node is absent locally. Paths
	// the frontier bound cut off are reported here as well: they re-enter
	// the work cycle as missing and are reclassified once looked at.
	Dangling []trie.Path

	// Leaves holds full paths (terminator included) of value-carrying
	// nodes discovered below the seeds.
	Leaves []trie.Path
}

// inspectEntry is one frontier element: either an already decoded node, or
// a hash reference to resolve when the entry is expanded.
type inspectEntry struct {
	path trie.Path
	node trie.Node   // non-nil for embedded nodes
	key  common.Hash // set when node is nil
}

// InspectTrie walks the locally present subtrees hanging off the given seed
// paths and collects dangling child references and discovered leaves.
// Children of a branch are visited in slot order 0..15 followed by the value
// slot; an extension contributes the single path extended by its segment.
// At most limit nodes are expanded, so one call cannot monopolize a worker.
func (s *Store) InspectTrie(root common.Hash, seeds []trie.Path, limit int) (*Inspection, error) {
	var (
		result  = new(Inspection)
		queue   []inspectEntry
		visited = make(map[string]struct{})
	)
	// Seed the frontier. A seed that does not resolve locally is itself a
	// dangling link: the very-start case with nothing but the state root
	// falls out of this naturally.
	for _, seed := range seeds {
		if _, ok := visited[string(seed)]; ok {
			continue
		}
		visited[string(seed)] = struct{}{}
		n, present, err := s.resolvePath(root, seed)
		if err != nil {
			return nil, err
		}
		if !present {
			result.Dangling = append(result.Dangling, seed)
			continue
		}
		queue = append(queue, inspectEntry{path: seed, node: n})
	}
	for expanded := 0; len(queue) > 0; {
		if expanded >= limit {
			// Budget exhausted: hand the unvisited frontier back as
			// missing so the next tick picks it up.
			for _, entry := range queue {
				result.Dangling = append(result.Dangling, entry.path)
			}
			break
		}
		entry := queue[0]
		queue = queue[1:]
		expanded++

		n := entry.node
		if n == nil {
			blob := s.Node(entry.key)
			if blob == nil {
				// Raced out from under us; treat as dangling.
				result.Dangling = append(result.Dangling, entry.path)
				continue
			}
			var err error
			if n, err = trie.DecodeNode(entry.key.Bytes(), blob); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInspectCorrupted, err)
			}
		}
		switch tn := n.(type) {
		case *trie.LeafNode:
			full := trie.Join(entry.path, tn.Key)
			result.Leaves = append(result.Leaves, append(full, 0x10))

		case *trie.ExtensionNode:
			queue = s.inspectChild(result, queue, visited, trie.Join(entry.path, tn.Key), tn.Child)

		case *trie.BranchNode:
			for i := 0; i < 16; i++ {
				if tn.Children[i] == nil {
					continue
				}
				queue = s.inspectChild(result, queue, visited, trie.Join(entry.path, trie.Path{byte(i)}), tn.Children[i])
			}
			if tn.Children[16] != nil {
				result.Leaves = append(result.Leaves, trie.Join(entry.path, trie.Path{0x10}))
			}

		default:
			return nil, fmt.Errorf("%w: unexpected %T at %x", ErrInspectCorrupted, n, entry.path)
		}
	}
	return result, nil
}

// inspectChild classifies a single child reference: absent hash references
// are recorded as dangling, present ones and embedded nodes are queued for
// expansion.
func (s *Store) inspectChild(result *Inspection, queue []inspectEntry, visited map[string]struct{}, path trie.Path, child trie.Node) []inspectEntry {
	if _, ok := visited[string(path)]; ok {
		return queue
	}
	visited[string(path)] = struct{}{}

	if ref, ok := child.(trie.HashNode); ok {
		key := common.BytesToHash(ref)
		if !s.Has(key) {
			result.Dangling = append(result.Dangling, path)
			return queue
		}
		return append(queue, inspectEntry{path: path, key: key})
	}
	return append(queue, inspectEntry{path: path, node: child})
}

// resolvePath walks from root to the node at the given path. It returns the
// decoded node, whether every node along the way resolved locally, and a
// parse error if a malformed node was encountered.
func (s *Store) resolvePath(root common.Hash, path trie.Path) (trie.Node, bool, error) {
	blob := s.Node(root)
	if blob == nil {
		return nil, false, nil
	}
	n, err := trie.DecodeNode(root.Bytes(), blob)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInspectCorrupted, err)
	}
	rest := path
	if trie.HasTerm(rest) {
		rest = rest[:len(rest)-1]
	}
	for len(rest) > 0 {
		switch tn := n.(type) {
		case *trie.BranchNode:
			child := tn.Children[rest[0]]
			if child == nil {
				return nil, false, nil
			}
			n, rest = child, rest[1:]

		case *trie.ExtensionNode:
			if len(rest) < len(tn.Key) || trie.PrefixLen(rest, tn.Key) != len(tn.Key) {
				return nil, false, nil
			}
			n, rest = tn.Child, rest[len(tn.Key):]

		case trie.HashNode:
			key := common.BytesToHash(tn)
			blob := s.Node(key)
			if blob == nil {
				return nil, false, nil
			}
			if n, err = trie.DecodeNode(key.Bytes(), blob); err != nil {
				return nil, false, fmt.Errorf("%w: %v", ErrInspectCorrupted, err)
			}

		default:
			// Leaf or value slot with path nibbles left over.
			return nil, false, nil
		}
	}
	if ref, ok := n.(trie.HashNode); ok {
		key := common.BytesToHash(ref)
		blob := s.Node(key)
		if blob == nil {
			return nil, false, nil
		}
		if n, err = trie.DecodeNode(key.Bytes(), blob); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInspectCorrupted, err)
		}
	}
	return n, true, nil
}

// LeafValue walks the trie rooted at root to the value-carrying node at the
// given full path (terminator optional) and returns its payload.
func (s *Store) LeafValue(root common.Hash, path trie.Path) ([]byte, bool) {
	if trie.HasTerm(path) {
		path = path[:len(path)-1]
	}
	// Walk down from the root node by node, the same way Store.Get does.
	blob := s.Node(root)
	if blob == nil {
		return nil, false
	}
	n, err := trie.DecodeNode(root.Bytes(), blob)
	if err != nil {
		return nil, false
	}
	rest := path
	for {
		switch tn := n.(type) {
		case *trie.LeafNode:
			if len(rest) == len(tn.Key) && trie.PrefixLen(rest, tn.Key) == len(tn.Key) {
				return tn.Value, true
			}
			return nil, false

		case *trie.BranchNode:
			if len(rest) == 0 {
				// The path ends at this branch: the payload, if any,
				// lives in the value slot.
				if val, ok := tn.Children[16].(trie.ValueNode); ok {
					return []byte(val), true
				}
				return nil, false
			}
			child := tn.Children[rest[0]]
			if child == nil {
				return nil, false
			}
			n, rest = child, rest[1:]

		case *trie.ExtensionNode:
			if len(rest) < len(tn.Key) || trie.PrefixLen(rest, tn.Key) != len(tn.Key) {
				return nil, false
			}
			n, rest = tn.Child, rest[len(tn.Key):]

		case trie.HashNode:
			key := common.BytesToHash(tn)
			blob := s.Node(key)
			if blob == nil {
				return nil, false
			}
			if n, err = trie.DecodeNode(key.Bytes(), blob); err != nil {
				return nil, false
			}

		case trie.ValueNode:
			if len(rest) == 0 {
				return []byte(tn), true
			}
			return nil, false

		default:
			return nil, false
		}
	}
}
