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

// Package rangeset tracks coverage of the 256-bit account key space as a set
// of closed intervals. Range-fetch and healing both mark account keys as
// covered here; the covered fraction gates when healing starts.
package rangeset

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// keySpace is the total number of points in the 256-bit key space, 2^256,
// as a float. Only used for coverage ratios.
var keySpace = math.Ldexp(1, 256)

// span is one closed interval [lo,hi]. Spans in a set are sorted, disjoint
// and non-adjacent.
type span struct {
	lo, hi uint256.Int
}

// Set is an interval set over 256-bit keys. The zero value is an empty set.
// A Set is not safe for concurrent use; callers serialize access through
// their own locking discipline.
type Set struct {
	spans []span
}

// New returns an empty set.
func New() *Set {
	return new(Set)
}

// NewFull returns a set covering the entire key space.
func NewFull() *Set {
	s := new(Set)
	var sp span
	sp.hi.SetAllOne()
	s.spans = append(s.spans, sp)
	return s
}

// Len returns the number of disjoint intervals in the set.
func (s *Set) Len() int {
	return len(s.spans)
}

// IsEmpty reports whether the set covers no points.
func (s *Set) IsEmpty() bool {
	return len(s.spans) == 0
}

// Covers reports whether the given point lies inside the set.
func (s *Set) Covers(pt *uint256.Int) bool {
	for i := range s.spans {
		sp := &s.spans[i]
		if pt.Cmp(&sp.lo) >= 0 && pt.Cmp(&sp.hi) <= 0 {
			return true
		}
	}
	return false
}

// Merge adds the closed interval [lo,hi] to the set and returns the number
// of newly covered points. When the merge completes the full key space the
// count saturates at 2^256-1.
func (s *Set) Merge(lo, hi *uint256.Int) *uint256.Int {
	if lo.Gt(hi) {
		return new(uint256.Int)
	}
	before, beforeFull := s.size()

	cur := span{lo: *lo.Clone(), hi: *hi.Clone()}
	out := make([]span, 0, len(s.spans)+1)
	placed := false
	for i := range s.spans {
		sp := s.spans[i]
		switch {
		case endsBefore(&sp, &cur):
			out = append(out, sp)
		case endsBefore(&cur, &sp):
			if !placed {
				out = append(out, cur)
				placed = true
			}
			out = append(out, sp)
		default:
			// Overlapping or adjacent, absorb into the running span.
			if sp.lo.Lt(&cur.lo) {
				cur.lo = sp.lo
			}
			if sp.hi.Gt(&cur.hi) {
				cur.hi = sp.hi
			}
		}
	}
	if !placed {
		out = append(out, cur)
	}
	s.spans = out

	return sizeDelta(before, beforeFull, s)
}

// Reduce removes the closed interval [lo,hi] from the set and returns the
// number of points removed.
func (s *Set) Reduce(lo, hi *uint256.Int) *uint256.Int {
	if lo.Gt(hi) {
		return new(uint256.Int)
	}
	before, beforeFull := s.size()

	out := make([]span, 0, len(s.spans)+1)
	for i := range s.spans {
		sp := s.spans[i]
		if sp.hi.Lt(lo) || sp.lo.Gt(hi) {
			out = append(out, sp)
			continue
		}
		if sp.lo.Lt(lo) {
			// Left remnant [sp.lo, lo-1]; lo > 0 since sp.lo < lo.
			var rem span
			rem.lo = sp.lo
			rem.hi.SubUint64(lo, 1)
			out = append(out, rem)
		}
		if sp.hi.Gt(hi) {
			// Right remnant [hi+1, sp.hi]; hi < 2^256-1 since sp.hi > hi.
			var rem span
			rem.lo.AddUint64(hi, 1)
			rem.hi = sp.hi
			out = append(out, rem)
		}
	}
	s.spans = out

	after, _ := s.size()
	if beforeFull {
		// before = 2^256; removed = 2^256 - after, saturating when the
		// whole space was removed.
		removed := new(uint256.Int).SetAllOne()
		removed.Sub(removed, after)
		if !after.IsZero() {
			removed.AddUint64(removed, 1)
		}
		return removed
	}
	return new(uint256.Int).Sub(before, after)
}

// Covered returns the number of points of [lo,hi] lying inside the set,
// saturating at 2^256-1 when the overlap is the whole key space.
func (s *Set) Covered(lo, hi *uint256.Int) *uint256.Int {
	total := new(uint256.Int)
	if lo.Gt(hi) {
		return total
	}
	for i := range s.spans {
		sp := &s.spans[i]
		if sp.hi.Lt(lo) || sp.lo.Gt(hi) {
			continue
		}
		olo, ohi := &sp.lo, &sp.hi
		if lo.Gt(olo) {
			olo = lo
		}
		if hi.Lt(ohi) {
			ohi = hi
		}
		d := new(uint256.Int).Sub(ohi, olo)
		if _, overflow := d.AddOverflow(d, uint256.NewInt(1)); overflow {
			return new(uint256.Int).SetAllOne()
		}
		if _, overflow := total.AddOverflow(total, d); overflow {
			return new(uint256.Int).SetAllOne()
		}
	}
	return total
}

// FullFactor returns the covered fraction of the key space in [0,1].
func (s *Set) FullFactor() float64 {
	n, full := s.size()
	if full {
		return 1.0
	}
	f, _ := new(big.Float).SetInt(n.ToBig()).Float64()
	return f / keySpace
}

// EmptyFactor returns the uncovered fraction of the key space in [0,1].
func (s *Set) EmptyFactor() float64 {
	return 1.0 - s.FullFactor()
}

func (s *Set) String() string {
	var parts []string
	for i := range s.spans {
		parts = append(parts, fmt.Sprintf("[%s,%s]", s.spans[i].lo.Hex(), s.spans[i].hi.Hex()))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// size returns the number of covered points. When the set covers the whole
// key space the count does not fit 256 bits and full is returned instead.
func (s *Set) size() (*uint256.Int, bool) {
	total := new(uint256.Int)
	for i := range s.spans {
		sp := &s.spans[i]
		d := new(uint256.Int).Sub(&sp.hi, &sp.lo)
		if _, overflow := d.AddOverflow(d, uint256.NewInt(1)); overflow {
			// Only the single [0, 2^256-1] span overflows.
			return nil, true
		}
		if _, overflow := total.AddOverflow(total, d); overflow {
			return nil, true
		}
	}
	return total, false
}

// sizeDelta returns after-before as a saturating count.
func sizeDelta(before *uint256.Int, beforeFull bool, s *Set) *uint256.Int {
	if beforeFull {
		return new(uint256.Int)
	}
	after, afterFull := s.size()
	if afterFull {
		// after = 2^256; added = 2^256 - before, saturating when the set
		// went from empty to full.
		added := new(uint256.Int).SetAllOne()
		added.Sub(added, before)
		if !before.IsZero() {
			added.AddUint64(added, 1)
		}
		return added
	}
	return new(uint256.Int).Sub(after, before)
}

// endsBefore reports whether span a ends strictly before span b starts, with
// at least one uncovered point between them (so they must not be merged).
func endsBefore(a, b *span) bool {
	next, overflow := new(uint256.Int).AddOverflow(&a.hi, uint256.NewInt(1))
	if overflow {
		return false
	}
	return next.Lt(&b.lo)
}
