// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import "errors"

var (
	// ErrPopulateOnlyDisabledLocal is the stage-5 failure a rule gets under
	// BuildMode == PopulateFromRemoteCache when stages 1–4 all miss (spec
	// §4.9 edge cases: "step 5 is replaced by Failure(PopulateOnlyDisabledLocal)").
	ErrPopulateOnlyDisabledLocal = errors.New("engine: local build disabled in populate-from-remote-cache mode")

	// ErrMisreportedInput is the hard error spec §4.9 calls for when a
	// dep-file lists a file that no longer exists *after* a local build
	// just claimed to have read it ("the rule misreported its inputs").
	ErrMisreportedInput = errors.New("engine: rule misreported a dep-file input that does not exist on disk")

	// ErrMissingBuildInfo names the case of a BuildInfo record a prior
	// stage should have written but didn't — spec §7's Internal error
	// kind: "programmer-error invariants". No engine code path returns it.
	ErrMissingBuildInfo = errors.New("engine: internal: expected build-info record is missing")

	// ErrUnknownTarget is returned when the engine is asked to build a
	// target absent from its rule graph.
	ErrUnknownTarget = errors.New("engine: unknown target")
)
