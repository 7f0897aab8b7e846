// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scheduler is the weighted, bounded-concurrency pool of spec
// §4.8: each task declares a (cpu, memory, disk-io, network-io) resource
// vector, and a task is admitted only when the running set's sum plus the
// candidate still fits under a configured cap.
//
// The admission-gate shape — a guarded counter, Acquire/Release pair, and
// a rejection/timeout path — is grounded on the corpus's own
// resilience.Bulkhead, generalized here from a single MaxConcurrent
// integer to a four-dimensional resource vector and from a single
// semaphore channel to a sync.Cond-guarded capacity check (a channel
// semaphore can't directly express "admit only if four independent sums
// all still fit").
package scheduler

// Vector is a task's resource footprint across the four axes spec §4.8
// names explicitly.
type Vector struct {
	CPU       int
	Memory    int
	DiskIO    int
	NetworkIO int
}

// Fits reports whether adding v to used would still stay within limit on
// every axis.
func (v Vector) Fits(used, limit Vector) bool {
	return used.CPU+v.CPU <= limit.CPU &&
		used.Memory+v.Memory <= limit.Memory &&
		used.DiskIO+v.DiskIO <= limit.DiskIO &&
		used.NetworkIO+v.NetworkIO <= limit.NetworkIO
}

func (v Vector) add(o Vector) Vector {
	return Vector{
		CPU:       v.CPU + o.CPU,
		Memory:    v.Memory + o.Memory,
		DiskIO:    v.DiskIO + o.DiskIO,
		NetworkIO: v.NetworkIO + o.NetworkIO,
	}
}

func (v Vector) sub(o Vector) Vector {
	return Vector{
		CPU:       v.CPU - o.CPU,
		Memory:    v.Memory - o.Memory,
		DiskIO:    v.DiskIO - o.DiskIO,
		NetworkIO: v.NetworkIO - o.NetworkIO,
	}
}
