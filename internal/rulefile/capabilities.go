// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package rulefile

import (
	"github.com/kraklabs/forge/pkg/rule"
)

// capabilities is the YAML-driven rule.Capabilities implementation: every
// bit is a flag read straight off the rule file, rather than computed from
// rule-specific logic a real build language would supply.
type capabilities struct {
	rule.DefaultCapabilities

	cacheable          bool
	supportsInputBased bool
	usesDepFile        bool
	usesManifest       bool
	sources            []string
	runtimeDeps        []rule.Target
}

func (c capabilities) IsCacheable() bool              { return c.cacheable }
func (c capabilities) SupportsInputBasedRuleKey() bool { return c.supportsInputBased }
func (c capabilities) UsesDepFileRuleKeys() bool       { return c.usesDepFile }
func (c capabilities) UsesManifestCaching() bool       { return c.usesManifest }

func (c capabilities) HasRuntimeDeps() bool       { return len(c.runtimeDeps) > 0 }
func (c capabilities) RuntimeDeps() []rule.Target { return c.runtimeDeps }

// InputsAfterBuildingLocally reports the rule's declared sources as the
// observed input set. A real dep-file-capable rule kind (e.g. a compiler
// wrapper parsing included headers from its own output) would report a
// runtime-discovered superset instead; this demo rule kind has no such
// discovery step.
func (c capabilities) InputsAfterBuildingLocally() []rule.InputDescriptor {
	out := make([]rule.InputDescriptor, len(c.sources))
	for i, s := range c.sources {
		out[i] = rule.InputDescriptor{Path: s}
	}
	return out
}

// CoveredByDepFile reports whether path is one of the rule's declared
// sources — the demo rule kind's entire potential-input universe.
func (c capabilities) CoveredByDepFile(path string) bool {
	for _, s := range c.sources {
		if s == path {
			return true
		}
	}
	return false
}

var _ rule.Capabilities = capabilities{}
