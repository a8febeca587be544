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

package rangeset

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func TestMergeDisjointAndAdjacent(t *testing.T) {
	s := New()
	require.Equal(t, u(11), s.Merge(u(10), u(20)))
	require.Equal(t, u(11), s.Merge(u(40), u(50)))
	require.Equal(t, 2, s.Len())

	// An interval adjacent to both spans fuses all three into one.
	require.Equal(t, u(19), s.Merge(u(21), u(39)))
	require.Equal(t, 1, s.Len())
	require.True(t, s.Covers(u(30)))
	require.False(t, s.Covers(u(51)))
}

func TestMergeOverlapCountsOnlyNewPoints(t *testing.T) {
	s := New()
	s.Merge(u(10), u(20))
	require.Equal(t, u(5), s.Merge(u(15), u(25)))
	require.Equal(t, u(0), s.Merge(u(10), u(25)))
}

func TestReduce(t *testing.T) {
	s := New()
	s.Merge(u(0), u(99))
	require.Equal(t, u(10), s.Reduce(u(40), u(49)))
	require.Equal(t, 2, s.Len())
	require.True(t, s.Covers(u(39)))
	require.False(t, s.Covers(u(45)))
	require.True(t, s.Covers(u(50)))

	// Removing an uncovered interval is a no-op.
	require.Equal(t, u(0), s.Reduce(u(40), u(49)))
}

func TestReduceSinglePoint(t *testing.T) {
	s := New()
	s.Merge(u(5), u(5))
	require.Equal(t, u(1), s.Reduce(u(5), u(5)))
	require.True(t, s.IsEmpty())
}

func TestCovered(t *testing.T) {
	s := New()
	s.Merge(u(10), u(19))
	s.Merge(u(30), u(39))
	require.Equal(t, u(20), s.Covered(u(0), u(100)))
	require.Equal(t, u(5), s.Covered(u(15), u(34)))
	require.Equal(t, u(0), s.Covered(u(20), u(29)))
}

func TestFullFactor(t *testing.T) {
	s := New()
	require.Equal(t, 0.0, s.FullFactor())
	require.Equal(t, 1.0, s.EmptyFactor())

	// Half the key space: [0, 2^255-1].
	half := new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	hi := new(uint256.Int).SubUint64(half, 1)
	s.Merge(u(0), hi)
	require.InDelta(t, 0.5, s.FullFactor(), 1e-12)
	require.InDelta(t, 0.5, s.EmptyFactor(), 1e-12)
}

func TestFullSpace(t *testing.T) {
	s := NewFull()
	require.Equal(t, 1.0, s.FullFactor())
	require.Equal(t, 0.0, s.EmptyFactor())
	require.True(t, s.Covers(new(uint256.Int).SetAllOne()))

	// Growing a full set adds nothing.
	require.Equal(t, u(0), s.Merge(u(0), u(10)))

	// Removing one point leaves an almost-full set.
	pt := u(7)
	require.Equal(t, u(1), s.Reduce(pt, pt))
	require.False(t, s.Covers(pt))
	require.InDelta(t, 1.0, s.FullFactor(), 1e-12)
	require.Equal(t, 2, s.Len())
}

// The covered fraction never decreases under Merge.
func TestFullFactorMonotone(t *testing.T) {
	s := New()
	last := 0.0
	for i := uint64(0); i < 64; i++ {
		lo := new(uint256.Int).Lsh(uint256.NewInt(i*3+1), 128)
		hi := new(uint256.Int).Lsh(uint256.NewInt(i*3+2), 128)
		s.Merge(lo, hi)
		f := s.FullFactor()
		require.GreaterOrEqual(t, f, last)
		last = f
	}
}

func TestMergeToFull(t *testing.T) {
	s := New()
	max := new(uint256.Int).SetAllOne()
	added := s.Merge(u(0), max)
	// The full space does not fit a 256-bit count; the result saturates.
	require.Equal(t, max, added)
	require.Equal(t, 1.0, s.FullFactor())
}
