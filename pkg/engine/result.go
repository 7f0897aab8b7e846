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

package engine

import "github.com/kraklabs/forge/pkg/rule"

// Kind is BuildResult.Success's discriminant (spec §3). The declaration
// order carries no preference: runProtocol returns the first route that
// hits, in stage order — default key (stages 1–2), then input-based (4a),
// dep-file (4b) and manifest (4c).
type Kind int

const (
	BuiltLocally Kind = iota
	FetchedFromCache
	FetchedFromCacheInputBased
	FetchedFromCacheManifestBased
	MatchingRuleKey
	MatchingInputBasedRuleKey
	MatchingDepFileRuleKey
)

func (k Kind) String() string {
	switch k {
	case BuiltLocally:
		return "built-locally"
	case FetchedFromCache:
		return "fetched-from-cache"
	case FetchedFromCacheInputBased:
		return "fetched-from-cache-input-based"
	case FetchedFromCacheManifestBased:
		return "fetched-from-cache-manifest-based"
	case MatchingRuleKey:
		return "matching-rule-key"
	case MatchingInputBasedRuleKey:
		return "matching-input-based-rule-key"
	case MatchingDepFileRuleKey:
		return "matching-dep-file-rule-key"
	default:
		return "unknown"
	}
}

// Status is BuildResult's top-level discriminant.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusCanceled
)

// Result is spec §3's BuildResult sum type, flattened into one struct with
// a Status discriminant rather than a closed hierarchy of types, matching
// how the corpus represents its own result sum types (a tagged struct, not
// an interface hierarchy) — see artifactcache.Result for the same shape.
type Result struct {
	Target rule.Target
	Status Status

	// Kind is meaningful only when Status == StatusSuccess.
	Kind Kind

	// Err is meaningful only when Status == StatusFailure.
	Err error

	// Reason is meaningful only when Status == StatusCanceled.
	Reason string

	// DepFailures names the structural deps (Rule.Deps) whose own result
	// was not a success. runProtocol sets it only on the StatusFailure
	// result that stage 3 produces under KeepGoing. A canceled result does
	// not carry it, and a rule resolved at stage 1 or 2 never waits on its
	// deps, so a successful result never reports a dep failure.
	DepFailures []rule.Target
}

// IsSuccess reports whether r counts as a successful build for the
// purposes of dependency propagation (deptracker.DepTracker's isSuccess
// hook) and ABI/default-key resolution by dependents.
func IsSuccess(r Result) bool { return r.Status == StatusSuccess }

// canceledResult builds the sentinel Result used by DepTracker's canceled
// hook when a runtime dependency failed and propagation must short-circuit
// this rule's externally visible result too.
func canceledResult(target rule.Target, reason string) Result {
	return Result{Target: target, Status: StatusCanceled, Reason: reason}
}
