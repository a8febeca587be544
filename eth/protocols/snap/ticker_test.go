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
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/emberclient/ember/triedb"
)

func TestRunningStat(t *testing.T) {
	var r runningStat
	require.Equal(t, Stat{}, r.stat())

	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		r.add(v)
	}
	s := r.stat()
	require.InDelta(t, 5.0, s.Mean, 1e-9)
	require.InDelta(t, 2.0, s.StdDev, 1e-9)
}

func TestTickerSuppression(t *testing.T) {
	ticker := NewTicker(nil)
	stats := TickerStats{PivotBlock: 1, NQueues: 2}

	ticker.report(stats)
	require.Equal(t, 0, ticker.repeats)
	first := ticker.lastLine

	// Identical readouts are swallowed...
	for i := 0; i < 10; i++ {
		ticker.report(stats)
	}
	require.Equal(t, 10, ticker.repeats)
	require.Equal(t, first, ticker.lastLine)

	// ...until the stats change...
	stats.NQueues = 3
	ticker.report(stats)
	require.Equal(t, 0, ticker.repeats)
	require.NotEqual(t, first, ticker.lastLine)

	// ...or the suppression window runs out.
	ticker.repeats = tickerLogSuppressMax
	line := ticker.lastLine
	ticker.report(stats)
	require.Equal(t, 0, ticker.repeats)
	require.Equal(t, line, ticker.lastLine)
}

func TestTickerStartStop(t *testing.T) {
	ticker := NewTicker(func() TickerStats { return TickerStats{} })
	ticker.Start()
	ticker.Stop() // must not hang
}

func TestSyncerTickerStats(t *testing.T) {
	s := NewSyncer(triedb.NewStore(memorydb.New()), nil, testConfig)

	// Without a pivot, only global coverage is reported.
	stats := s.TickerStats()
	require.Zero(t, stats.PivotBlock)
	require.Zero(t, stats.AccCoverage)

	s.SetPivot(&types.Header{Number: big.NewInt(42), Root: types.EmptyRootHash})
	env := s.pivot()
	env.lock.Lock()
	env.nAccounts = 10
	env.lock.Unlock()
	s.coverage.Merge(uint256.NewInt(0), new(uint256.Int).SetAllOne())

	stats = s.TickerStats()
	require.EqualValues(t, 42, stats.PivotBlock)
	require.InDelta(t, 10.0, stats.NAccounts.Mean, 1e-9)
	require.Equal(t, 1.0, stats.AccCoverage)
	require.Equal(t, 1.0, stats.AccountsFill.Merged)
	require.Equal(t, 1, stats.NQueues)

	// The readout never mutates healing state.
	env.lock.Lock()
	defer env.lock.Unlock()
	require.EqualValues(t, 10, env.nAccounts)
	require.False(t, env.healed)
}
