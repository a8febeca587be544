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
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	// trienodeHealSyncedMeter counts trie nodes persisted by healing.
	trienodeHealSyncedMeter = metrics.NewRegisteredMeter("snap/heal/account/nodes", nil)

	// trienodeHealDupsMeter counts account leaves that turned out to be
	// processed already by the range-fetch path.
	trienodeHealDupsMeter = metrics.NewRegisteredMeter("snap/heal/account/dups", nil)

	// trienodeHealNopsMeter counts fetched nodes that had to be requeued.
	trienodeHealNopsMeter = metrics.NewRegisteredMeter("snap/heal/account/nops", nil)

	// accountHealedMeter counts accounts registered during healing.
	accountHealedMeter = metrics.NewRegisteredMeter("snap/heal/account/accounts", nil)

	// activeBuddiesGauge tracks the number of registered peer workers.
	activeBuddiesGauge = metrics.NewRegisteredGauge("snap/heal/buddies", nil)

	// zombiePeersGauge tracks peers flagged unusable.
	zombiePeersGauge = metrics.NewRegisteredGauge("snap/heal/zombies", nil)
)
