// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import "github.com/kraklabs/forge/pkg/scheduler"

// BuildMode controls how far the engine materializes outputs (spec §6).
type BuildMode int

const (
	// Shallow only materializes the outputs a top-level build actually
	// needs transitively; it is the default and the only mode the
	// reference spec calls out as needing no special handling.
	Shallow BuildMode = iota
	// Deep is accepted and carried in Config, but the engine does not
	// branch on it: a Deep build runs exactly as a Shallow one, so a rule
	// resolved at stage 1 or 2 does not build or fetch its deps.
	Deep
	// PopulateFromRemoteCache runs stages 1–4 only; stage 5 (local build)
	// is replaced by Failure(ErrPopulateOnlyDisabledLocal) (spec §4.9
	// edge cases).
	PopulateFromRemoteCache
)

// DepFilesMode controls dep-file and manifest caching (spec §6).
type DepFilesMode int

const (
	DepFilesDisabled DepFilesMode = iota
	// DepFilesEnabled computes and persists dep-file rule keys but does
	// not consult or update the manifest store.
	DepFilesEnabled
	// DepFilesCache additionally maintains the manifest store (stage 4c).
	DepFilesCache
)

// Config is spec §6's recognized configuration surface.
type Config struct {
	BuildMode    BuildMode
	DepFiles     DepFilesMode
	KeepGoing    bool
	RuleKeyCaching bool
	KeySeed      uint64

	MaxDepFileCacheEntries int
	ArtifactCacheSizeLimit int64 // 0 = unbounded
	RuleKeySizeLimit       int   // 0 = unbounded, fed to rulekey.Factory

	ResourceLimit    scheduler.Vector
	QueueDiscipline  scheduler.QueueDiscipline

	// BuckOut is the root output directory outputs and metadata live
	// under, matching the reference's own <buck-out>/bin/<target> layout
	// (spec §6).
	BuckOut string

	// EventLogDir names a directory for an event log. New does not read
	// it; a caller that wants an eventbus.FileSink there builds it into
	// the Bus it passes in (cmd/forgectl does so from its project file).
	EventLogDir string
}

// DefaultConfig returns a Config with conservative defaults matching the
// reference's own behavior when a project.yaml omits a field.
func DefaultConfig() Config {
	return Config{
		BuildMode:              Shallow,
		DepFiles:               DepFilesCache,
		KeepGoing:              false,
		RuleKeyCaching:         true,
		MaxDepFileCacheEntries: 1000,
		ResourceLimit:          scheduler.Vector{CPU: 8, Memory: 8, DiskIO: 8, NetworkIO: 8},
		QueueDiscipline:        scheduler.Unfair,
		BuckOut:                "buck-out",
	}
}
