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
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/emberclient/ember/trie"
)

// fetchTrieNodes requests the given node paths from the buddy's peer. Paths
// beyond MaxTrieNodeFetch are cut off before sending and are not returned.
// The peer may answer a prefix of the sent batch; its unanswered paths come
// back verbatim in leftOver. All failures are classified NetworkErrors.
func (s *Syncer) fetchTrieNodes(ctx context.Context, b *Buddy, root common.Hash, paths []trie.Path) (nodes [][]byte, leftOver []trie.Path, err error) {
	if len(paths) > s.cfg.MaxTrieNodeFetch {
		paths = paths[:s.cfg.MaxTrieNodeFetch]
	}
	pathsets := make([]TrieNodePathSet, len(paths))
	for i, p := range paths {
		pathsets[i] = TrieNodePathSet{trie.HexToCompact(p)}
	}
	reqID := s.reqID.Add(1)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	packet, err := b.peer.RequestTrieNodes(ctx, reqID, root, pathsets, s.cfg.MaxTrieNodeBytes)
	if err != nil {
		var netErr *NetworkError
		switch {
		case errors.As(err, &netErr):
			return nil, paths, netErr
		case errors.Is(err, context.DeadlineExceeded):
			return nil, paths, netError(ErrTimeout, err)
		default:
			return nil, paths, netError(ErrPeerClosed, err)
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, paths, netError(ErrTimeout, ctx.Err())
	}
	if packet == nil || len(packet.Nodes) == 0 {
		return nil, paths, netError(ErrEmpty, nil)
	}
	if packet.ID != reqID {
		return nil, paths, netError(ErrProtocolViolation, fmt.Errorf("request id mismatch: have %d, want %d", packet.ID, reqID))
	}
	if len(packet.Nodes) > len(paths) {
		return nil, paths, netError(ErrProtocolViolation, fmt.Errorf("%d nodes for %d requests", len(packet.Nodes), len(paths)))
	}
	// The state root is the only node whose hash is knowable up front;
	// verify it when it was part of the request.
	for i, node := range packet.Nodes {
		if trie.ContentLen(paths[i]) == 0 && crypto.Keccak256Hash(node) != root {
			return nil, paths, netError(ErrWrongHash, fmt.Errorf("root node hash mismatch"))
		}
	}
	return packet.Nodes, paths[len(packet.Nodes):], nil
}
