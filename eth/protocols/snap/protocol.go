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
	"fmt"
)

// ProtocolName is the short name of the snap protocol during capability
// negotiation. The wire-level codec lives outside this package; only the
// request shapes appear here.
const ProtocolName = "snap"

// TrieNodePathSet is a list of trie node paths to retrieve, special-casing
// the first element as a path in the account trie and the remainder as paths
// in a storage trie. The account healer only ever issues 1-element sets with
// the path in compact (hex-prefix) form.
type TrieNodePathSet [][]byte

// TrieNodesPacket is a peer's response to a GetTrieNodes request. Nodes
// answer the requested path sets in order; unanswered trailing requests are
// simply absent.
type TrieNodesPacket struct {
	ID    uint64   // Request ID echoed by the peer
	Nodes [][]byte // RLP-encoded trie nodes, possibly fewer than requested
}

// ErrorKind classifies a failed network interaction with a peer.
type ErrorKind uint8

const (
	// ErrTimeout means the peer did not answer within the request timeout.
	ErrTimeout ErrorKind = iota

	// ErrWrongHash means a returned node did not hash to the requested key.
	ErrWrongHash

	// ErrPeerClosed means the connection dropped while the request was in
	// flight.
	ErrPeerClosed

	// ErrProtocolViolation means the response broke the snap protocol,
	// e.g. more nodes than requested. Always serious.
	ErrProtocolViolation

	// ErrEmpty means the peer answered with no nodes at all.
	ErrEmpty
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTimeout:
		return "timeout"
	case ErrWrongHash:
		return "wrong hash"
	case ErrPeerClosed:
		return "peer closed"
	case ErrProtocolViolation:
		return "protocol violation"
	case ErrEmpty:
		return "empty response"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// NetworkError is a classified peer failure, routed through the per-peer
// error accumulator.
type NetworkError struct {
	Kind   ErrorKind
	Reason error
}

func (e *NetworkError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Reason)
	}
	return e.Kind.String()
}

func (e *NetworkError) Unwrap() error {
	return e.Reason
}

// Serious reports whether a single occurrence already indicates a protocol
// violation by the peer. Transient kinds only zombify a peer through
// repetition.
func (e *NetworkError) Serious() bool {
	return e.Kind == ErrProtocolViolation
}

func netError(kind ErrorKind, reason error) *NetworkError {
	return &NetworkError{Kind: kind, Reason: reason}
}
