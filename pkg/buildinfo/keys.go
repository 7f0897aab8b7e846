// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package buildinfo

// Known BuildInfo keys (spec §3, §6). Values are stored as UTF-8 strings in
// one file per key under the rule's .metadata directory; RECORDED_PATHS,
// RECORDED_PATH_HASHES, and DEP_FILE are JSON-encoded strings.
const (
	KeyTarget             = "TARGET"
	KeyRuleKey             = "RULE_KEY"
	KeyInputBasedRuleKey   = "INPUT_BASED_RULE_KEY"
	KeyDepFileRuleKey      = "DEP_FILE_RULE_KEY"
	KeyManifestKey         = "MANIFEST_KEY"
	KeyRecordedPaths       = "RECORDED_PATHS"
	KeyRecordedPathHashes  = "RECORDED_PATH_HASHES"
	KeyDepFile             = "DEP_FILE"
)
