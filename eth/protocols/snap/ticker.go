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
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	// tickerLogInterval is how often the ticker reads out statistics.
	tickerLogInterval = time.Second

	// tickerLogSuppressMax caps how many consecutive identical readouts
	// are swallowed before one is printed regardless.
	tickerLogSuppressMax = 100
)

// Stat is a mean and standard deviation over the samples seen so far.
type Stat struct {
	Mean   float64
	StdDev float64
}

// FillStat extends Stat with the fraction of the key space merged into the
// global coverage tracker.
type FillStat struct {
	Mean   float64
	StdDev float64
	Merged float64
}

// TickerStats is the periodic statistics readout of the healing engine.
type TickerStats struct {
	PivotBlock   uint64
	NAccounts    Stat     // accounts processed under the pivot
	NStorage     Stat     // storage tries queued for later healing
	AccountsFill FillStat // processed fraction of the pivot's key space
	AccCoverage  float64  // global coverage tracker fill
	NQueues      int      // unprocessed interval chunks
}

// runningStat accumulates samples for a mean/stddev readout.
type runningStat struct {
	n   float64
	sum float64
	sq  float64
}

func (r *runningStat) add(v float64) {
	r.n++
	r.sum += v
	r.sq += v * v
}

func (r *runningStat) stat() Stat {
	if r.n == 0 {
		return Stat{}
	}
	mean := r.sum / r.n
	variance := r.sq/r.n - mean*mean
	if variance < 0 {
		variance = 0 // rounding
	}
	return Stat{Mean: mean, StdDev: math.Sqrt(variance)}
}

// tickerSamples collects the per-readout samples behind their own lock, so
// statistics never contend with the healing hot path.
type tickerSamples struct {
	mu        sync.Mutex
	nAccounts runningStat
	nStorage  runningStat
	fill      runningStat
}

// TickerStats assembles a statistics snapshot for the ticker. Reading the
// pivot state takes its lock briefly; healing state is never mutated.
func (s *Syncer) TickerStats() TickerStats {
	stats := TickerStats{AccCoverage: s.coverage.FullFactor()}

	env := s.pivot()
	if env == nil {
		return stats
	}
	env.lock.Lock()
	var (
		nAcc = float64(env.nAccounts)
		nSto = float64(env.fetchStorage.Cardinality())
		fill = env.fillFactor()
	)
	stats.PivotBlock = env.header.Number.Uint64()
	stats.NQueues = env.queueLengths()
	env.lock.Unlock()

	s.healStats.mu.Lock()
	s.healStats.nAccounts.add(nAcc)
	s.healStats.nStorage.add(nSto)
	s.healStats.fill.add(fill)
	stats.NAccounts = s.healStats.nAccounts.stat()
	stats.NStorage = s.healStats.nStorage.stat()
	fillStat := s.healStats.fill.stat()
	s.healStats.mu.Unlock()

	stats.AccountsFill = FillStat{Mean: fillStat.Mean, StdDev: fillStat.StdDev, Merged: stats.AccCoverage}
	return stats
}

// Ticker periodically reads healing statistics through an updater and logs
// them, suppressing runs of identical lines. It never mutates healing state.
type Ticker struct {
	logger  log.Logger
	updater func() TickerStats

	lastLine string
	repeats  int

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewTicker creates a ticker reading statistics through the given updater.
func NewTicker(updater func() TickerStats) *Ticker {
	return &Ticker{
		logger:  log.New("sync", "snap-heal"),
		updater: updater,
		quit:    make(chan struct{}),
	}
}

// Start launches the readout loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.loop()
}

// Stop terminates the readout loop and waits for it.
func (t *Ticker) Stop() {
	close(t.quit)
	t.wg.Wait()
}

func (t *Ticker) loop() {
	defer t.wg.Done()

	tick := time.NewTicker(tickerLogInterval)
	defer tick.Stop()

	for {
		select {
		case <-t.quit:
			return
		case <-tick.C:
			t.report(t.updater())
		}
	}
}

// report logs one statistics readout unless it repeats the previous one and
// the suppression window is still open.
func (t *Ticker) report(stats TickerStats) {
	line := fmt.Sprintf("%d/%.0f/%.0f/%.3f/%.3f/%d",
		stats.PivotBlock, stats.NAccounts.Mean, stats.NStorage.Mean,
		stats.AccountsFill.Mean, stats.AccCoverage, stats.NQueues)
	if line == t.lastLine && t.repeats < tickerLogSuppressMax {
		t.repeats++
		return
	}
	t.lastLine = line
	t.repeats = 0
	t.logger.Info("State healing in progress",
		"pivot", stats.PivotBlock,
		"accounts", fmt.Sprintf("%.0f(%.0f)", stats.NAccounts.Mean, stats.NAccounts.StdDev),
		"storage", fmt.Sprintf("%.0f(%.0f)", stats.NStorage.Mean, stats.NStorage.StdDev),
		"fill", fmt.Sprintf("%.3f(%.3f)", stats.AccountsFill.Mean, stats.AccountsFill.StdDev),
		"merged", fmt.Sprintf("%.3f", stats.AccountsFill.Merged),
		"coverage", fmt.Sprintf("%.3f", stats.AccCoverage),
		"queues", stats.NQueues)
}
