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

// Node paths are handled in two encodings:
//
// HEX encoding holds one byte per nibble of the path, with an optional
// trailing terminator byte of value 0x10 marking that the path ends in a
// value-carrying node. All in-memory scheduling (work queues, inspection)
// uses this form because it is trivial to extend nibble by nibble.
//
// COMPACT encoding is the hex-prefix encoding of the Yellow Paper: the high
// nibble of the first byte carries the terminator flag (bit 1) and the
// oddness of the nibble count (bit 0); for odd paths the low nibble of the
// first byte holds the first path nibble. This is the form sent over the
// snap wire protocol.

// Path is a trie node path in HEX form: a sequence of nibbles, each in
// [0,16), optionally closed by the 0x10 terminator.
type Path []byte

// terminator is the HEX-form marker for a path ending in a value node.
const terminator = 0x10

// HexToCompact converts a HEX path into its compact (hex-prefix) form.
func HexToCompact(hex Path) []byte {
	var flag byte
	if HasTerm(hex) {
		flag = 1 << 5
		hex = hex[:len(hex)-1]
	}
	buf := make([]byte, len(hex)/2+1)
	buf[0] = flag
	if len(hex)&1 == 1 {
		buf[0] |= 1 << 4 // odd length
		buf[0] |= hex[0]
		hex = hex[1:]
	}
	packNibbles(hex, buf[1:])
	return buf
}

// CompactToHex converts a compact (hex-prefix) path back into HEX form.
func CompactToHex(compact []byte) Path {
	if len(compact) == 0 {
		return Path(compact)
	}
	base := KeybytesToHex(compact)
	// The keybytes expansion always appends a terminator; strip it again
	// unless the flag nibble says the path carries one.
	if base[0] < 2 {
		base = base[:len(base)-1]
	}
	// An even path wastes the whole flag byte, an odd one only its high nibble.
	chop := 2 - base[0]&1
	return base[chop:]
}

// KeybytesToHex expands a raw key into HEX form, terminator included.
func KeybytesToHex(str []byte) Path {
	l := len(str)*2 + 1
	nibbles := make(Path, l)
	for i, b := range str {
		nibbles[i*2] = b / 16
		nibbles[i*2+1] = b % 16
	}
	nibbles[l-1] = terminator
	return nibbles
}

// HexToKeybytes collapses a HEX path into raw key bytes. The path must have
// an even number of content nibbles.
func HexToKeybytes(hex Path) []byte {
	if HasTerm(hex) {
		hex = hex[:len(hex)-1]
	}
	if len(hex)&1 != 0 {
		panic("can't convert hex path of odd length")
	}
	key := make([]byte, len(hex)/2)
	packNibbles(hex, key)
	return key
}

// packNibbles folds pairs of nibbles into bytes.
func packNibbles(nibbles Path, bytes []byte) {
	for bi, ni := 0, 0; ni < len(nibbles); bi, ni = bi+1, ni+2 {
		bytes[bi] = nibbles[ni]<<4 | nibbles[ni+1]
	}
}

// HasTerm reports whether a HEX path ends in the value terminator.
func HasTerm(s Path) bool {
	return len(s) > 0 && s[len(s)-1] == terminator
}

// PrefixLen returns the length of the common prefix of a and b.
func PrefixLen(a, b Path) int {
	var i, length = 0, len(a)
	if len(b) < length {
		length = len(b)
	}
	for ; i < length; i++ {
		if a[i] != b[i] {
			break
		}
	}
	return i
}

// ContentLen returns the number of content nibbles in a HEX path, i.e. its
// length without the terminator. An account leaf sits at content length 64.
func ContentLen(s Path) int {
	if HasTerm(s) {
		return len(s) - 1
	}
	return len(s)
}

// Join concatenates a path and an extension segment into a fresh slice.
// The inputs are never aliased so queued paths stay immutable.
func Join(parent Path, ext Path) Path {
	out := make(Path, 0, len(parent)+len(ext))
	out = append(out, parent...)
	return append(out, ext...)
}
