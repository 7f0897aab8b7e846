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

// Package artifactcache defines the narrow fetch/store contract the engine
// uses against a local or remote artifact cache (spec §4.4). The transport
// itself — local directory, HTTP, a distributed blob store — is an external
// collaborator per spec §1; this package only fixes the contract and ships
// one small reference transport (localdir) for the CLI demo.
//
// The contract shape is grounded on the corpus's own storage.Backend /
// EmbeddedBackend pair (a narrow interface plus one concrete implementation
// behind a mutex) and on the other example pack's compile.ActionCache
// interface (CacheRead/CacheWrite, explicitly fallible, best-effort).
package artifactcache

import (
	"context"
	"io"
)

// Result is the sum type spec §3 calls CacheResult, selected by Status:
// Blob and Metadata are meaningful for Hit, Err for Error, and neither for
// Miss or Ignored.
type Result struct {
	Status   Status
	Blob     io.ReadCloser     // set only when Status == Hit
	Metadata map[string]string // out-of-band metadata carried with the blob
	Err      error             // set only when Status == Error
}

// Status enumerates CacheResult's variants.
type Status int

const (
	Miss Status = iota
	Hit
	Ignored // rule not cacheable; the engine never even asked the cache
	Error
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "hit"
	case Ignored:
		return "ignored"
	case Error:
		return "error"
	default:
		return "miss"
	}
}

// Info bundles every key under which a blob should be stored with its
// out-of-band metadata — "multiple keys may map to the same blob
// (multi-indexed write)" per spec §4.4.
type Info struct {
	Keys     []string
	Metadata map[string]string
}

// Cache is the fetch/store contract. Every call is fallible and
// best-effort: transport errors degrade to Miss at the call site (the
// engine never treats a CacheTransient failure as fatal, spec §7), and
// there are no ordering guarantees between concurrent stores of the same
// key.
type Cache interface {
	// Fetch looks up key and returns a Result. A network or transport
	// failure is reported via Status == Error with Err set; callers that
	// want spec §7's "demote to Miss" behavior should treat Error the same
	// as Miss and simply log it.
	Fetch(ctx context.Context, key string) Result

	// Store uploads blob under every key in info.Keys. It returns
	// immediately having queued the upload; the returned channel is closed
	// once the store completes (or fails — errors are logged by the
	// transport, never fatal to the build per spec §4.4/§7).
	Store(ctx context.Context, info Info, blob io.Reader) <-chan error
}
