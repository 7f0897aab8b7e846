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

// Package rule holds the data model shared by every cache-tier component:
// the stable rule identity, its capability bits, and the input descriptors
// the rule-key factory and dep-file machinery hash over.
//
// Rule graph construction and the concrete meaning of a Step are external
// collaborators (see the module README); this package only describes the
// shape the engine needs to drive the four-stage cache protocol.
package rule

import "context"

// Target is the stable string identity of a rule across invocations,
// e.g. "//cmd/forgectl:build".
type Target string

// Step is an opaque, executable build action. Rule graph owners supply the
// concrete implementation; the engine only knows how to Run one.
type Step interface {
	// Run executes the step. dir is the rule's declared output directory.
	Run(ctx context.Context, dir string) error
}

// InputDescriptor names a single input a rule consumed, either declared
// up front (Source) or observed during a prior local build (DepFile entry).
type InputDescriptor struct {
	// Path is project-root-relative.
	Path string
	// NonFile marks a descriptor that does not resolve to a file on disk
	// (e.g. an environment variable or flag folded into the key directly).
	NonFile bool
	// Value holds the literal content for a NonFile descriptor.
	Value string
}

// Capabilities exposes the rule's design-time polymorphism over the four
// cache-key variants (spec §3, §6). Concrete rule kinds embed
// DefaultCapabilities and override only the predicates that diverge from
// the all-false baseline, mirroring the small-interface-with-defaults style
// used throughout the example corpus's capability checks (e.g.
// health.Checker implementations that only override what they need).
type Capabilities interface {
	IsCacheable() bool
	SupportsInputBasedRuleKey() bool
	UsesDepFileRuleKeys() bool
	UsesManifestCaching() bool

	// InputsAfterBuildingLocally returns the actual inputs the rule
	// observed during the last local build. Only meaningful after a
	// local build completed; used to persist DEP_FILE.
	InputsAfterBuildingLocally() []InputDescriptor

	// CoveredByDepFile reports whether path is part of this rule's
	// potential-input universe (used to build the manifest key's
	// over-approximated input set).
	CoveredByDepFile(path string) bool

	// HasPostBuildSteps / PostBuildSteps surface an optional extra pass
	// run only when outputs-have-changed is true.
	HasPostBuildSteps() bool
	PostBuildSteps() []Step

	// HasRuntimeDeps / RuntimeDeps expose deps discovered or declared for
	// runtime (not build-time) ordering; DepTracker.GetResultWithRuntimeDeps
	// waits on these in addition to the rule's own result.
	HasRuntimeDeps() bool
	RuntimeDeps() []Target

	// ABIKey summarizes the rule's externally visible interface, used by
	// input-based key computation of *dependents* so that implementation
	// only changes don't invalidate dependents' input-based keys.
	ABIKey() (Key, bool)
}

// DefaultCapabilities is the all-false baseline; rule kinds embed it and
// override only the bits that apply to them.
type DefaultCapabilities struct{}

func (DefaultCapabilities) IsCacheable() bool                             { return false }
func (DefaultCapabilities) SupportsInputBasedRuleKey() bool                { return false }
func (DefaultCapabilities) UsesDepFileRuleKeys() bool                      { return false }
func (DefaultCapabilities) UsesManifestCaching() bool                      { return false }
func (DefaultCapabilities) InputsAfterBuildingLocally() []InputDescriptor  { return nil }
func (DefaultCapabilities) CoveredByDepFile(string) bool                   { return false }
func (DefaultCapabilities) HasPostBuildSteps() bool                        { return false }
func (DefaultCapabilities) PostBuildSteps() []Step                         { return nil }
func (DefaultCapabilities) HasRuntimeDeps() bool                           { return false }
func (DefaultCapabilities) RuntimeDeps() []Target                          { return nil }
func (DefaultCapabilities) ABIKey() (Key, bool)                            { return Key{}, false }

// KeyRelevantField is a single (name, value) pair fed into the default or
// input-based rule key sponge. NonInput fields are skipped by the
// input-based builder (spec §4.2: "flags that only affect scheduling").
type KeyRelevantField struct {
	Name     string
	Value    any
	NonInput bool
}

// Rule is a single node in the build graph.
type Rule struct {
	Target Target
	Type   string

	// Deps are build-time dependencies; their default keys (or ABI keys,
	// for input-based computation) feed this rule's key.
	Deps []Target

	// Sources are this rule's direct declared inputs (source files).
	Sources []string

	// Fields are the rule-key-relevant fields beyond name/type/deps/sources
	// (flags, options, ...), in declaration order so hashing stays stable.
	Fields []KeyRelevantField

	// Outputs are the rule's declared output paths, relative to its own
	// output directory.
	Outputs []string

	Steps []Step

	Capabilities Capabilities
}

// OutDir is the rule's output directory, derived from its target name.
// The concrete layout is an external (rule-graph) concern; engine callers
// may override via rule-graph-specific logic, but this default matches the
// BuildInfo metadata layout described in spec §6.
func (r *Rule) OutDir(buckOut string) string {
	return buckOut + "/bin/" + string(r.Target)
}

// MetadataDir is where BuildInfoStore keeps this rule's keyed records.
func (r *Rule) MetadataDir(buckOut string) string {
	return r.OutDir(buckOut) + "/.metadata"
}
