// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/kraklabs/forge/pkg/artifactcache/localdir"
	"github.com/kraklabs/forge/pkg/eventbus"
	"github.com/kraklabs/forge/pkg/rule"
	"github.com/kraklabs/forge/pkg/scheduler"
)

// testCaps is a rule.Capabilities test double: every predicate defaults to
// DefaultCapabilities' all-false baseline, overridden field-by-field per
// scenario so each test only opts into the capability bits it exercises.
type testCaps struct {
	rule.DefaultCapabilities

	cacheable      bool
	inputBased     bool
	depFile        bool
	manifest       bool
	nonInputFields bool

	observedInputs []rule.InputDescriptor
	coveredPaths   map[string]bool

	runtimeDeps []rule.Target
}

func (c testCaps) IsCacheable() bool              { return c.cacheable }
func (c testCaps) SupportsInputBasedRuleKey() bool { return c.inputBased }
func (c testCaps) UsesDepFileRuleKeys() bool       { return c.depFile }
func (c testCaps) UsesManifestCaching() bool       { return c.manifest }

func (c testCaps) HasRuntimeDeps() bool       { return len(c.runtimeDeps) > 0 }
func (c testCaps) RuntimeDeps() []rule.Target { return c.runtimeDeps }

func (c testCaps) InputsAfterBuildingLocally() []rule.InputDescriptor {
	return c.observedInputs
}

func (c testCaps) CoveredByDepFile(path string) bool {
	return c.coveredPaths[path]
}

var _ rule.Capabilities = testCaps{}

// writeStep writes a fixed byte string to a file under the rule's output
// directory every time it runs, standing in for a real compiler/linker
// invocation.
type writeStep struct {
	name    string
	content string
}

func (s writeStep) Run(_ context.Context, dir string) error {
	return os.WriteFile(filepath.Join(dir, s.name), []byte(s.content), 0o644) //nolint:gosec
}

var _ rule.Step = writeStep{}

// failStep always fails, for exercising failure/cancellation propagation.
type failStep struct{ err error }

func (s failStep) Run(context.Context, string) error { return s.err }

var _ rule.Step = failStep{}

// countingStep records how many times it actually ran, so tests can assert
// a cache or on-disk hit skipped stage 5 entirely.
type countingStep struct {
	writeStep
	ran *int
}

func (s countingStep) Run(ctx context.Context, dir string) error {
	*s.ran++
	return s.writeStep.Run(ctx, dir)
}

// newTestEngine wires a minimal Engine over rules, writing outputs and
// metadata under a fresh temp buck-out. cache may be nil.
func newTestEngine(buckOut string, rules map[rule.Target]*rule.Rule, cache *localdir.Cache, cfg Config) *Engine {
	cfg.BuckOut = buckOut
	if cfg.ResourceLimit == (scheduler.Vector{}) {
		cfg.ResourceLimit = scheduler.Vector{CPU: 8, Memory: 8, DiskIO: 8, NetworkIO: 8}
	}
	if cache == nil {
		return New(rules, nil, cfg, eventbus.New(64), nil)
	}
	return New(rules, cache, cfg, eventbus.New(64), nil)
}

// simpleRule builds a one-step rule writing content to outputName, with no
// deps and the given source files (created by the caller).
func simpleRule(target rule.Target, sources []string, outputName, content string, caps testCaps) *rule.Rule {
	return &rule.Rule{
		Target:       target,
		Type:         "test_rule",
		Sources:      sources,
		Outputs:      []string{outputName},
		Steps:        []rule.Step{writeStep{name: outputName, content: content}},
		Capabilities: caps,
	}
}

func mustWriteFile(path, content string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil { //nolint:gosec
		panic(err)
	}
}

var errBoom = errors.New("boom")
