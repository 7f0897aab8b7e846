// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package rulekey

import "errors"

// Sentinel errors for rule-key computation, following the flat
// var-Err-per-failure-mode style used throughout the corpus's ambient
// libraries (e.g. resilience.ErrCircuitOpen, health.ErrCheckFailed).
var (
	// ErrSizeLimitExceeded is returned by InputBased when the hashed input
	// set exceeds the configured cap. The engine treats this as "skip
	// input-based caching for this rule", not as a build failure.
	ErrSizeLimitExceeded = errors.New("rulekey: size limit exceeded")

	// ErrMissingInput is returned by DepFileKey when a dep-file entry names
	// a file that no longer exists. Whether this is tolerated depends on
	// the caller's lookup-vs-post-build phase (spec §4.2).
	ErrMissingInput = errors.New("rulekey: missing input")
)
