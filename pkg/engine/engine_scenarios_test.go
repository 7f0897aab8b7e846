// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/forge/pkg/artifactcache/localdir"
	"github.com/kraklabs/forge/pkg/buildinfo"
	"github.com/kraklabs/forge/pkg/rule"
)

// S1: a fresh build followed by a rebuild of the same rule, unchanged,
// resolves via stage 1's on-disk RULE_KEY match and never re-runs the
// rule's steps (invariant 3: matching-key idempotence).
func TestScenarioFreshBuildThenRebuildMatchesRuleKey(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(filepath.Join(dir, "src.txt"), "hello")

	var ran int
	target := rule.Target("//:a")
	r := &rule.Rule{
		Target:       target,
		Type:         "test_rule",
		Sources:      []string{filepath.Join(dir, "src.txt")},
		Outputs:      []string{"out.txt"},
		Steps:        []rule.Step{countingStep{writeStep: writeStep{name: "out.txt", content: "built"}, ran: &ran}},
		Capabilities: testCaps{},
	}
	rules := map[rule.Target]*rule.Rule{target: r}

	buckOut := filepath.Join(dir, "buck-out")
	cfg := DefaultConfig()

	e1 := newTestEngine(buckOut, rules, nil, cfg)
	res, err := e1.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, BuiltLocally, res.Kind)
	require.Equal(t, 1, ran)

	// A second Engine over the same on-disk state (simulating a fresh
	// process re-running the same build) must hit stage 1 and never touch
	// the rule's steps again.
	e2 := newTestEngine(buckOut, rules, nil, cfg)
	res, err = e2.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, MatchingRuleKey, res.Kind)
	require.Equal(t, 1, ran, "stage 1 match must not re-run the rule's steps")
}

// S2: a cache hit across two independent workspaces (distinct buck-out
// roots sharing one artifact cache) produces byte-identical outputs
// without ever running the rule's steps in the second workspace.
func TestScenarioCacheHitAcrossWorkspaces(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(filepath.Join(dir, "src.txt"), "hello")

	cacheDir := filepath.Join(dir, "cache")
	cache, err := localdir.New(cacheDir)
	require.NoError(t, err)

	newRule := func() (*rule.Rule, *int) {
		var ran int
		target := rule.Target("//:a")
		return &rule.Rule{
			Target:       target,
			Type:         "test_rule",
			Sources:      []string{filepath.Join(dir, "src.txt")},
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{countingStep{writeStep: writeStep{name: "out.txt", content: "built-once"}, ran: &ran}},
			Capabilities: testCaps{cacheable: true},
		}, &ran
	}

	r1, ran1 := newRule()
	cfg := DefaultConfig()
	e1 := newTestEngine(filepath.Join(dir, "ws1"), map[rule.Target]*rule.Rule{r1.Target: r1}, cache, cfg)
	res, err := e1.Build(context.Background(), r1.Target)
	require.NoError(t, err)
	require.Equal(t, BuiltLocally, res.Kind)
	require.Equal(t, 1, *ran1)

	r2, ran2 := newRule()
	e2 := newTestEngine(filepath.Join(dir, "ws2"), map[rule.Target]*rule.Rule{r2.Target: r2}, cache, cfg)
	res, err = e2.Build(context.Background(), r2.Target)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, FetchedFromCache, res.Kind)
	require.Equal(t, 0, *ran2, "a cache hit must never run the rule's own steps")

	got, err := os.ReadFile(filepath.Join(dir, "ws2", "bin", string(r2.Target), "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "built-once", string(got))
}

// S3: an input-based key is resilient to a change in a NonInput field —
// the default key changes (stage 1 misses) but the previously recorded
// INPUT_BASED_RULE_KEY still matches, so stage 4a resolves without
// re-running the rule's steps.
func TestScenarioInputBasedKeyResilientToNonInputFieldChange(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(filepath.Join(dir, "src.txt"), "hello")
	target := rule.Target("//:a")
	buckOut := filepath.Join(dir, "buck-out")

	var ran int
	newRule := func(schedulingFlag string) *rule.Rule {
		return &rule.Rule{
			Target:  target,
			Type:    "test_rule",
			Sources: []string{filepath.Join(dir, "src.txt")},
			Fields:  []rule.KeyRelevantField{{Name: "parallelism", Value: schedulingFlag, NonInput: true}},
			Outputs: []string{"out.txt"},
			Steps:   []rule.Step{countingStep{writeStep: writeStep{name: "out.txt", content: "built"}, ran: &ran}},
			Capabilities: testCaps{
				inputBased: true,
			},
		}
	}

	cfg := DefaultConfig()
	r1 := newRule("4")
	e1 := newTestEngine(buckOut, map[rule.Target]*rule.Rule{target: r1}, nil, cfg)
	res, err := e1.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, BuiltLocally, res.Kind)
	require.Equal(t, 1, ran)

	r2 := newRule("8") // only the NonInput scheduling flag changed
	e2 := newTestEngine(buckOut, map[rule.Target]*rule.Rule{target: r2}, nil, cfg)
	res, err = e2.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, MatchingInputBasedRuleKey, res.Kind)
	require.Equal(t, 1, ran, "a NonInput field change must not invalidate the input-based key")
}

// S4a / invariant 5: a dep-file rule key is stable under an unrelated
// (NonInput) field change, resolving via stage 4b without rerunning the
// rule's steps.
func TestScenarioDepFileMatchUnderNonInputFieldChange(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.txt")
	mustWriteFile(srcPath, "hello")
	target := rule.Target("//:a")
	buckOut := filepath.Join(dir, "buck-out")

	var ran int
	caps := testCaps{
		depFile:        true,
		observedInputs: []rule.InputDescriptor{{Path: srcPath}},
		coveredPaths:   map[string]bool{srcPath: true},
	}
	newRule := func(flag string) *rule.Rule {
		return &rule.Rule{
			Target:       target,
			Type:         "test_rule",
			Sources:      []string{srcPath},
			Fields:       []rule.KeyRelevantField{{Name: "verbosity", Value: flag, NonInput: true}},
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{countingStep{writeStep: writeStep{name: "out.txt", content: "built"}, ran: &ran}},
			Capabilities: caps,
		}
	}

	cfg := DefaultConfig()
	e1 := newTestEngine(buckOut, map[rule.Target]*rule.Rule{target: newRule("quiet")}, nil, cfg)
	res, err := e1.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, BuiltLocally, res.Kind)
	require.Equal(t, 1, ran)

	e2 := newTestEngine(buckOut, map[rule.Target]*rule.Rule{target: newRule("loud")}, nil, cfg)
	res, err = e2.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, MatchingDepFileRuleKey, res.Kind)
	require.Equal(t, 1, ran)
}

// S4b: a manifest-based cache hit (stage 4c) resolves a rule whose
// default-keyed on-disk record and default-keyed cache blob have both
// been evicted, as long as the rule's own manifest file (recording which
// input-hash tuple maps to which already-uploaded dep-file key) survives
// and that same key's blob is still present in the cache.
func TestScenarioManifestBasedCacheHit(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.txt")
	mustWriteFile(srcPath, "hello")
	target := rule.Target("//:a")
	buckOut := filepath.Join(dir, "buck-out")
	cacheDir := filepath.Join(dir, "cache")

	cache, err := localdir.New(cacheDir)
	require.NoError(t, err)

	var ran int
	caps := testCaps{
		cacheable:      true,
		depFile:        true,
		manifest:       true,
		observedInputs: []rule.InputDescriptor{{Path: srcPath}},
		coveredPaths:   map[string]bool{srcPath: true},
	}
	r := &rule.Rule{
		Target:       target,
		Type:         "test_rule",
		Sources:      []string{srcPath},
		Outputs:      []string{"out.txt"},
		Steps:        []rule.Step{countingStep{writeStep: writeStep{name: "out.txt", content: "built"}, ran: &ran}},
		Capabilities: caps,
	}
	rules := map[rule.Target]*rule.Rule{target: r}
	cfg := DefaultConfig()

	e1 := newTestEngine(buckOut, rules, cache, cfg)
	res, err := e1.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, BuiltLocally, res.Kind)
	require.Equal(t, 1, ran)

	metaDir := r.MetadataDir(buckOut)
	defaultKeyHex, ok := e1.buildInfo.Read(metaDir, buildinfo.KeyRuleKey)
	require.True(t, ok)
	depFileKeyHex, ok := e1.buildInfo.Read(metaDir, buildinfo.KeyDepFileRuleKey)
	require.True(t, ok)

	// Evict the default-keyed on-disk record and the default-keyed cache
	// blob, simulating a workspace clean plus a cache eviction of the most
	// common key, while leaving the rule's MANIFEST file and the
	// dep-file-keyed blob (still reachable through it) intact.
	require.NoError(t, os.Remove(filepath.Join(metaDir, buildinfo.KeyRuleKey)))
	require.NoError(t, os.Remove(filepath.Join(metaDir, buildinfo.KeyDepFileRuleKey)))
	require.NoError(t, os.Remove(filepath.Join(metaDir, buildinfo.KeyDepFile)))
	require.NoError(t, os.Remove(filepath.Join(cacheDir, defaultKeyHex+".blob")))
	require.NoError(t, os.Remove(filepath.Join(cacheDir, defaultKeyHex+".meta")))

	e2 := newTestEngine(buckOut, rules, cache, cfg)
	res, err = e2.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, FetchedFromCacheManifestBased, res.Kind)
	require.Equal(t, 1, ran, "a manifest-based cache hit must not re-run the rule's steps")

	depFileKeyHexAfter, ok := e2.buildInfo.Read(metaDir, buildinfo.KeyDepFileRuleKey)
	require.True(t, ok)
	require.Equal(t, depFileKeyHex, depFileKeyHexAfter)
}

// S4b, genuinely cross-workspace: a second Engine over an empty buck-out
// (no local MANIFEST file at all, not merely an evicted default key) still
// resolves via stage 4c by fetching the manifest blob itself from the
// shared artifact cache.
func TestScenarioManifestBasedCacheHitAcrossFreshWorkspace(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.txt")
	mustWriteFile(srcPath, "hello")
	cacheDir := filepath.Join(dir, "cache")

	cache, err := localdir.New(cacheDir)
	require.NoError(t, err)

	newRuleAndRan := func() (*rule.Rule, *int) {
		var ran int
		target := rule.Target("//:a")
		caps := testCaps{
			cacheable:      true,
			depFile:        true,
			manifest:       true,
			observedInputs: []rule.InputDescriptor{{Path: srcPath}},
			coveredPaths:   map[string]bool{srcPath: true},
		}
		return &rule.Rule{
			Target:       target,
			Type:         "test_rule",
			Sources:      []string{srcPath},
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{countingStep{writeStep: writeStep{name: "out.txt", content: "built"}, ran: &ran}},
			Capabilities: caps,
		}, &ran
	}

	cfg := DefaultConfig()
	r1, ran1 := newRuleAndRan()
	e1 := newTestEngine(filepath.Join(dir, "ws1"), map[rule.Target]*rule.Rule{r1.Target: r1}, cache, cfg)
	res, err := e1.Build(context.Background(), r1.Target)
	require.NoError(t, err)
	require.Equal(t, BuiltLocally, res.Kind)
	require.Equal(t, 1, *ran1)

	// A fresh workspace: distinct buck-out, so no on-disk metadata or
	// MANIFEST file of any kind exists for this rule. Evict the
	// default-keyed cache blob too, so only the manifest-based route (4c)
	// can possibly resolve this build.
	metaDir1 := r1.MetadataDir(filepath.Join(dir, "ws1"))
	defaultKeyHex, ok := e1.buildInfo.Read(metaDir1, buildinfo.KeyRuleKey)
	require.True(t, ok)
	require.NoError(t, os.Remove(filepath.Join(cacheDir, defaultKeyHex+".blob")))
	require.NoError(t, os.Remove(filepath.Join(cacheDir, defaultKeyHex+".meta")))

	r2, ran2 := newRuleAndRan()
	e2 := newTestEngine(filepath.Join(dir, "ws2"), map[rule.Target]*rule.Rule{r2.Target: r2}, cache, cfg)
	res, err = e2.Build(context.Background(), r2.Target)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, FetchedFromCacheManifestBased, res.Kind)
	require.Equal(t, 0, *ran2, "a manifest-based cache hit in a fresh workspace must not run the rule's steps")
}

// S5: with KeepGoing, a failing dependency is surfaced via DepFailures on
// the dependent's own Result without canceling the dependent's sibling
// deps' own independent builds.
func TestScenarioKeepGoingSurfacesDepFailureWithoutCancelingSiblings(t *testing.T) {
	dir := t.TempDir()
	buckOut := filepath.Join(dir, "buck-out")

	var goodRan int
	good := rule.Target("//:good")
	bad := rule.Target("//:bad")
	top := rule.Target("//:top")

	rules := map[rule.Target]*rule.Rule{
		good: {
			Target:       good,
			Type:         "test_rule",
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{countingStep{writeStep: writeStep{name: "out.txt", content: "ok"}, ran: &goodRan}},
			Capabilities: testCaps{},
		},
		bad: {
			Target:       bad,
			Type:         "test_rule",
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{failStep{err: errBoom}},
			Capabilities: testCaps{},
		},
		top: {
			Target:       top,
			Type:         "test_rule",
			Deps:         []rule.Target{good, bad},
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{writeStep{name: "out.txt", content: "top"}},
			Capabilities: testCaps{},
		},
	}

	cfg := DefaultConfig()
	cfg.KeepGoing = true
	e := newTestEngine(buckOut, rules, nil, cfg)

	res, err := e.Build(context.Background(), top)
	require.NoError(t, err)
	require.Equal(t, StatusFailure, res.Status)
	require.Contains(t, res.DepFailures, bad)
	require.NotContains(t, res.DepFailures, good)
	require.Equal(t, 1, goodRan, "KeepGoing must let the independent good dep build regardless of bad's failure")
}

// Complements S5: without KeepGoing, a dependent build cancels rather than
// fails once one of its deps fails.
func TestScenarioFailFastCancelsDependentOnFirstDepFailure(t *testing.T) {
	dir := t.TempDir()
	buckOut := filepath.Join(dir, "buck-out")

	bad := rule.Target("//:bad")
	top := rule.Target("//:top")
	rules := map[rule.Target]*rule.Rule{
		bad: {
			Target:       bad,
			Type:         "test_rule",
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{failStep{err: errBoom}},
			Capabilities: testCaps{},
		},
		top: {
			Target:       top,
			Type:         "test_rule",
			Deps:         []rule.Target{bad},
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{writeStep{name: "out.txt", content: "top"}},
			Capabilities: testCaps{},
		},
	}

	cfg := DefaultConfig()
	cfg.KeepGoing = false
	e := newTestEngine(buckOut, rules, nil, cfg)

	res, err := e.Build(context.Background(), top)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, res.Status)
	require.NotEmpty(t, res.Reason)
}

// Invariant 4 / cache-key shadowing: runProtocol's stage order prefers a
// default-key hit (stage 1 on-disk or stage 2 cache) over a partial-key route
// (stage 4a/4b/4c) whenever the default key is already known good — the
// engine never pays the cost of recomputing a more specific key if the
// cheaper default-key route already resolved the build.
func TestDefaultKeyCacheHitPreemptsPartialCacheRoutes(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(filepath.Join(dir, "src.txt"), "hello")
	target := rule.Target("//:a")
	cacheDir := filepath.Join(dir, "cache")
	cache, err := localdir.New(cacheDir)
	require.NoError(t, err)

	var ran int
	caps := testCaps{
		cacheable:  true,
		inputBased: true,
		depFile:    true,
	}
	newRule := func() *rule.Rule {
		return &rule.Rule{
			Target:       target,
			Type:         "test_rule",
			Sources:      []string{filepath.Join(dir, "src.txt")},
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{countingStep{writeStep: writeStep{name: "out.txt", content: "v1"}, ran: &ran}},
			Capabilities: caps,
		}
	}

	cfg := DefaultConfig()
	r1 := newRule()
	e1 := newTestEngine(filepath.Join(dir, "ws1"), map[rule.Target]*rule.Rule{target: r1}, cache, cfg)
	res, err := e1.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, BuiltLocally, res.Kind)

	r2 := newRule()
	e2 := newTestEngine(filepath.Join(dir, "ws2"), map[rule.Target]*rule.Rule{target: r2}, cache, cfg)
	res, err = e2.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, FetchedFromCache, res.Kind, "a default-key cache hit must win over any partial-key route")
}

// A runtime dep that is not also a structural Deps entry (e.g. a plugin
// loaded at runtime rather than linked at build time) must still be
// demanded and built by the engine itself — nothing else in the rule
// graph ever asks for "//:plugin", so if the engine didn't start it on
// the dependent's behalf the wait below would hang until ctx expires.
func TestScenarioRuntimeDepNotAlsoStructuralDepStillBuilds(t *testing.T) {
	dir := t.TempDir()
	buckOut := filepath.Join(dir, "buck-out")

	var pluginRan int
	lib := rule.Target("//:lib")
	plugin := rule.Target("//:plugin")

	rules := map[rule.Target]*rule.Rule{
		lib: {
			Target:       lib,
			Type:         "test_rule",
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{writeStep{name: "out.txt", content: "lib"}},
			Capabilities: testCaps{runtimeDeps: []rule.Target{plugin}},
		},
		plugin: {
			Target:       plugin,
			Type:         "test_rule",
			Outputs:      []string{"out.txt"},
			Steps:        []rule.Step{countingStep{writeStep: writeStep{name: "out.txt", content: "plugin"}, ran: &pluginRan}},
			Capabilities: testCaps{},
		},
	}

	cfg := DefaultConfig()
	e := newTestEngine(buckOut, rules, nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := e.Build(ctx, lib)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 1, pluginRan, "a runtime-only dep must still be built by the engine")
}

func TestBuildUnknownTargetReturnsError(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(filepath.Join(dir, "buck-out"), map[rule.Target]*rule.Rule{}, nil, DefaultConfig())
	_, err := e.Build(context.Background(), rule.Target("//:missing"))
	require.ErrorIs(t, err, ErrUnknownTarget)
}

func TestBuildModePopulateFromRemoteCacheNeverBuildsLocally(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(filepath.Join(dir, "src.txt"), "hello")
	target := rule.Target("//:a")

	var ran int
	r := &rule.Rule{
		Target:       target,
		Type:         "test_rule",
		Sources:      []string{filepath.Join(dir, "src.txt")},
		Outputs:      []string{"out.txt"},
		Steps:        []rule.Step{countingStep{writeStep: writeStep{name: "out.txt", content: "v1"}, ran: &ran}},
		Capabilities: testCaps{},
	}

	cfg := DefaultConfig()
	cfg.BuildMode = PopulateFromRemoteCache
	e := newTestEngine(filepath.Join(dir, "buck-out"), map[rule.Target]*rule.Rule{target: r}, nil, cfg)

	res, err := e.Build(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, StatusFailure, res.Status)
	require.ErrorIs(t, res.Err, ErrPopulateOnlyDisabledLocal)
	require.Equal(t, 0, ran)
}
