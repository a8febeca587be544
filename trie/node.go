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

package trie

import (
	"fmt"
	"io"
	"math/bits"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// NodeKind classifies a decoded trie node for import reporting.
type NodeKind uint8

const (
	KindInvalid NodeKind = iota
	KindBranch
	KindExtension
	KindLeaf
)

func (k NodeKind) String() string {
	switch k {
	case KindBranch:
		return "branch"
	case KindExtension:
		return "extension"
	case KindLeaf:
		return "leaf"
	default:
		return "invalid"
	}
}

// Node is a decoded hexary Merkle-Patricia trie node. The concrete types are
// BranchNode, ExtensionNode, LeafNode, HashNode and ValueNode.
type Node interface {
	Kind() NodeKind
	fstring(string) string
}

type (
	// BranchNode is a 17-slot branch: sixteen nibble children plus the
	// value slot. At least two slots must be occupied in a valid trie.
	BranchNode struct {
		Children [17]Node
	}
	// ExtensionNode carries a shared nibble segment down to a single child.
	ExtensionNode struct {
		Key   Path // segment without terminator
		Child Node
	}
	// LeafNode terminates a key; Key holds the remaining nibble segment
	// with its terminator stripped.
	LeafNode struct {
		Key   Path
		Value []byte
	}
	// HashNode is a 32-byte reference to a node stored elsewhere.
	HashNode []byte
	// ValueNode holds the payload found in a branch value slot.
	ValueNode []byte
)

func (n *BranchNode) Kind() NodeKind    { return KindBranch }
func (n *ExtensionNode) Kind() NodeKind { return KindExtension }
func (n *LeafNode) Kind() NodeKind      { return KindLeaf }
func (n HashNode) Kind() NodeKind       { return KindInvalid }
func (n ValueNode) Kind() NodeKind      { return KindInvalid }

// Mask returns the 17-bit occupancy mask of a branch node, bit i set when
// slot i holds a child.
func (n *BranchNode) Mask() uint32 {
	var mask uint32
	for i, child := range n.Children {
		if child != nil {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

var indices = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "a", "b", "c", "d", "e", "f", "[17]"}

// Pretty printing, for debug logs only.
func (n *BranchNode) String() string    { return n.fstring("") }
func (n *ExtensionNode) String() string { return n.fstring("") }
func (n *LeafNode) String() string      { return n.fstring("") }
func (n HashNode) String() string       { return n.fstring("") }
func (n ValueNode) String() string      { return n.fstring("") }

func (n *BranchNode) fstring(ind string) string {
	resp := fmt.Sprintf("[\n%s  ", ind)
	for i, node := range &n.Children {
		if node == nil {
			resp += fmt.Sprintf("%s: <nil> ", indices[i])
		} else {
			resp += fmt.Sprintf("%s: %v", indices[i], node.fstring(ind+"  "))
		}
	}
	return resp + fmt.Sprintf("\n%s] ", ind)
}
func (n *ExtensionNode) fstring(ind string) string {
	return fmt.Sprintf("{%x: %v} ", n.Key, n.Child.fstring(ind+"  "))
}
func (n *LeafNode) fstring(ind string) string {
	return fmt.Sprintf("{%x: %x} ", n.Key, n.Value)
}
func (n HashNode) fstring(string) string  { return fmt.Sprintf("<%x> ", []byte(n)) }
func (n ValueNode) fstring(string) string { return fmt.Sprintf("%x ", []byte(n)) }

// DecodeNode parses the RLP encoding of a trie node. The input slice is
// deep-copied before decoding, so the caller may reuse its buffer. All
// failures are parse errors local to this blob.
func DecodeNode(hash, buf []byte) (Node, error) {
	return decodeNodeUnsafe(hash, common.CopyBytes(buf))
}

// decodeNodeUnsafe parses a trie node whose backing buffer must not change
// afterwards, since decoded nodes alias into it.
func decodeNodeUnsafe(hash, buf []byte) (Node, error) {
	if len(buf) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	elems, _, err := rlp.SplitList(buf)
	if err != nil {
		return nil, fmt.Errorf("decode error: %v", err)
	}
	switch c, _ := rlp.CountValues(elems); c {
	case 2:
		n, err := decodeShort(hash, elems)
		return n, wrapError(err, "short")
	case 17:
		n, err := decodeBranch(hash, elems)
		return n, wrapError(err, "branch")
	default:
		return nil, fmt.Errorf("invalid number of list elements: %v", c)
	}
}

// decodeShort parses the two-item form, yielding either a leaf or an
// extension depending on the key's terminator flag.
func decodeShort(hash, elems []byte) (Node, error) {
	kbuf, rest, err := rlp.SplitString(elems)
	if err != nil {
		return nil, err
	}
	key := CompactToHex(kbuf)
	if HasTerm(key) {
		val, _, err := rlp.SplitString(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid value node: %v", err)
		}
		return &LeafNode{Key: key[:len(key)-1], Value: val}, nil
	}
	child, _, err := decodeRef(rest)
	if err != nil {
		return nil, wrapError(err, "child")
	}
	return &ExtensionNode{Key: key, Child: child}, nil
}

func decodeBranch(hash, elems []byte) (*BranchNode, error) {
	n := new(BranchNode)
	for i := 0; i < 16; i++ {
		child, rest, err := decodeRef(elems)
		if err != nil {
			return n, wrapError(err, fmt.Sprintf("[%d]", i))
		}
		n.Children[i], elems = child, rest
	}
	val, _, err := rlp.SplitString(elems)
	if err != nil {
		return n, err
	}
	if len(val) > 0 {
		n.Children[16] = ValueNode(val)
	}
	// A branch with fewer than two occupied slots cannot occur in a well
	// formed trie; such a node would have been collapsed into a short node.
	if mask := n.Mask(); bits.OnesCount32(mask) < 2 {
		return n, fmt.Errorf("branch node with %d occupied slots", bits.OnesCount32(mask))
	}
	return n, nil
}

const hashLen = len(common.Hash{})

// decodeRef parses a child reference: an embedded node (encoding strictly
// smaller than a hash), an empty slot, or a 32-byte hash reference.
func decodeRef(buf []byte) (Node, []byte, error) {
	kind, val, rest, err := rlp.Split(buf)
	if err != nil {
		return nil, buf, err
	}
	switch {
	case kind == rlp.List:
		if size := len(buf) - len(rest); size >= hashLen {
			err := fmt.Errorf("oversized embedded node (size is %d bytes, want size < %d)", size, hashLen)
			return nil, buf, err
		}
		n, err := DecodeNode(nil, buf)
		return n, rest, err
	case kind == rlp.String && len(val) == 0:
		return nil, rest, nil
	case kind == rlp.String && len(val) == 32:
		return HashNode(val), rest, nil
	default:
		return nil, nil, fmt.Errorf("invalid RLP string size %d (want 0 or 32)", len(val))
	}
}

// decodeError wraps a parse failure with the descent path to the offending
// child, for debugging malformed peer data.
type decodeError struct {
	what  error
	stack []string
}

func wrapError(err error, ctx string) error {
	if err == nil {
		return nil
	}
	if decErr, ok := err.(*decodeError); ok {
		decErr.stack = append(decErr.stack, ctx)
		return decErr
	}
	return &decodeError{err, []string{ctx}}
}

func (err *decodeError) Error() string {
	return fmt.Sprintf("%v (decode path: %s)", err.what, strings.Join(err.stack, "<-"))
}
