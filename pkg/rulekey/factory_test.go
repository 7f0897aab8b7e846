// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package rulekey

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/forge/pkg/hashcache"
	"github.com/kraklabs/forge/pkg/rule"
)

func noDepKey(rule.Target) (rule.Key, bool) { return rule.Key{}, false }

func mustWrite(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// Invariant 1 (spec §8): the default rule key of R computed twice on
// identical inputs is bit-identical.
func TestDefaultKeyDeterministic(t *testing.T) {
	dir := t.TempDir()
	src := mustWrite(t, dir, "a.txt", "hello")

	r := &rule.Rule{Target: "//:lib", Type: "genrule", Sources: []string{src}}

	f := NewFactory(hashcache.New(1), 0, 0)
	k1 := f.Default(r, noDepKey)

	f2 := NewFactory(hashcache.New(1), 0, 0)
	k2 := f2.Default(r, noDepKey)

	require.Equal(t, k1, k2)
}

// Scenario S3 (spec §8): changing a non-input field changes the default
// key but leaves the input-based key untouched.
func TestInputBasedKeyIgnoresNonInputFields(t *testing.T) {
	dir := t.TempDir()
	src := mustWrite(t, dir, "s.txt", "body")

	base := &rule.Rule{
		Target:  "//:lib",
		Type:    "lib",
		Sources: []string{src},
		Fields: []rule.KeyRelevantField{
			{Name: "comment", Value: "v1", NonInput: true},
		},
	}
	changed := &rule.Rule{
		Target:  "//:lib",
		Type:    "lib",
		Sources: []string{src},
		Fields: []rule.KeyRelevantField{
			{Name: "comment", Value: "v2", NonInput: true},
		},
	}

	f := NewFactory(hashcache.New(1), 0, 0)

	dBase := f.Default(base, noDepKey)
	dChanged := f.Default(changed, noDepKey)
	require.NotEqual(t, dBase, dChanged, "default key must change with any rule-key-relevant field")

	ibBase, err := f.InputBased(base, func(rule.Target) (rule.Key, bool) { return rule.Key{}, false })
	require.NoError(t, err)
	ibChanged, err := f.InputBased(changed, func(rule.Target) (rule.Key, bool) { return rule.Key{}, false })
	require.NoError(t, err)
	require.Equal(t, ibBase, ibChanged, "input-based key must ignore NonInput fields")
}

// Invariant 6 (spec §8): changing a dep's output in a way that doesn't
// change its ABI key must not change a dependent's input-based key.
func TestInputBasedKeyUsesDepABIKeyNotFullKey(t *testing.T) {
	dir := t.TempDir()
	src := mustWrite(t, dir, "s.txt", "body")
	r := &rule.Rule{Target: "//:dependent", Type: "lib", Sources: []string{src}, Deps: []rule.Target{"//:dep"}}

	f := NewFactory(hashcache.New(1), 0, 0)

	abi := rule.Key{0xAA}
	fullKeyChangesButABIDoesnt := func(rule.Target) (rule.Key, bool) { return abi, true }

	k1, err := f.InputBased(r, fullKeyChangesButABIDoesnt)
	require.NoError(t, err)
	k2, err := f.InputBased(r, fullKeyChangesButABIDoesnt)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestInputBasedKeySizeLimit(t *testing.T) {
	dir := t.TempDir()
	src := mustWrite(t, dir, "big.txt", "0123456789")

	r := &rule.Rule{Target: "//:lib", Type: "lib", Sources: []string{src}}
	f := NewFactory(hashcache.New(1), 0, 4) // cap smaller than one source's contribution

	_, err := f.InputBased(r, noDepKey)
	require.ErrorIs(t, err, ErrSizeLimitExceeded)
}

func TestDepFileKeyMissingInputPolicy(t *testing.T) {
	r := &rule.Rule{Target: "//:lib", Type: "lib"}
	f := NewFactory(hashcache.New(1), 0, 0)
	entries := []rule.InputDescriptor{{Path: "/nonexistent/missing.h"}}

	_, err := f.DepFileKey(r, entries, false)
	require.ErrorIs(t, err, ErrMissingInput)

	_, err = f.DepFileKey(r, entries, true)
	require.NoError(t, err, "tolerated lookup must not fail on a missing input")
}

// The dep-file key covers the rule's own (non-NonInput) fields and the
// content of every dep-file entry: changing either one changes the key.
func TestDepFileKeyTracksOwnFieldsAndEntryContent(t *testing.T) {
	dir := t.TempDir()
	hdr := mustWrite(t, dir, "a.h", "int x;")

	entries := []rule.InputDescriptor{{Path: hdr}}
	f := NewFactory(hashcache.New(1), 0, 0)

	base := &rule.Rule{Target: "//:r", Type: "cxx", Fields: []rule.KeyRelevantField{{Name: "opt_level", Value: "O2"}}}
	changed := &rule.Rule{Target: "//:r", Type: "cxx", Fields: []rule.KeyRelevantField{{Name: "opt_level", Value: "O3"}}}

	dfBase, err := f.DepFileKey(base, entries, false)
	require.NoError(t, err)
	dfChanged, err := f.DepFileKey(changed, entries, false)
	require.NoError(t, err)
	require.NotEqual(t, dfBase, dfChanged, "dep-file key is still sensitive to the rule's own fields")

	// Now hold the field fixed and only touch the dep file's content:
	// the dep-file key must move, proving it really does hash content.
	require.NoError(t, os.WriteFile(hdr, []byte("int y;"), 0o644))
	dfAfterEdit, err := NewFactory(hashcache.New(1), 0, 0).DepFileKey(base, entries, false)
	require.NoError(t, err)
	require.NotEqual(t, dfBase, dfAfterEdit)
}

func TestManifestKeyOnlyCoversDeclaredUniverse(t *testing.T) {
	dir := t.TempDir()
	a := mustWrite(t, dir, "headers/a.h", "a")
	mustWrite(t, dir, "headers/b.h", "b") // not covered, must be excluded

	r := &rule.Rule{
		Target:       "//:r",
		Type:         "cxx",
		Capabilities: coveringOnly(a),
	}
	f := NewFactory(hashcache.New(1), 0, 0)
	res, err := f.ManifestKey(r, []string{a, filepath.Join(dir, "headers/b.h")})
	require.NoError(t, err)
	require.Len(t, res.Inputs, 1)
	require.Equal(t, a, res.Inputs[0].Path)
}

type coveringOnly string

func (c coveringOnly) IsCacheable() bool                            { return true }
func (c coveringOnly) SupportsInputBasedRuleKey() bool               { return false }
func (c coveringOnly) UsesDepFileRuleKeys() bool                     { return true }
func (c coveringOnly) UsesManifestCaching() bool                     { return true }
func (c coveringOnly) InputsAfterBuildingLocally() []rule.InputDescriptor { return nil }
func (c coveringOnly) CoveredByDepFile(path string) bool             { return path == string(c) }
func (c coveringOnly) HasPostBuildSteps() bool                       { return false }
func (c coveringOnly) PostBuildSteps() []rule.Step                   { return nil }
func (c coveringOnly) HasRuntimeDeps() bool                          { return false }
func (c coveringOnly) RuntimeDeps() []rule.Target                    { return nil }
func (c coveringOnly) ABIKey() (rule.Key, bool)                      { return rule.Key{}, false }
