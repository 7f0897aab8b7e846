// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/forge/internal/ferrors"
	"github.com/kraklabs/forge/pkg/engine"
	"github.com/kraklabs/forge/pkg/scheduler"
)

func TestDefaultMatchesEngineDefaultConfig(t *testing.T) {
	p := Default()
	got := p.EngineConfig()
	want := engine.DefaultConfig()

	require.Equal(t, want.BuildMode, got.BuildMode)
	require.Equal(t, want.DepFiles, got.DepFiles)
	require.Equal(t, want.KeepGoing, got.KeepGoing)
	require.Equal(t, want.RuleKeyCaching, got.RuleKeyCaching)
	require.Equal(t, want.MaxDepFileCacheEntries, got.MaxDepFileCacheEntries)
	require.Equal(t, want.ResourceLimit, got.ResourceLimit)
	require.Equal(t, want.QueueDiscipline, got.QueueDiscipline)
	require.Equal(t, want.BuckOut, got.BuckOut)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)

	p := Default()
	p.BuckOut = "custom-out"
	p.KeepGoing = true
	p.BuildMode = "deep"

	require.NoError(t, Save(p, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, p.BuckOut, loaded.BuckOut)
	require.True(t, loaded.KeepGoing)
	require.Equal(t, "deep", loaded.BuildMode)
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("version: \"99\"\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	var fe *ferrors.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, ferrors.KindConfig, fe.Kind)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("version: [this is not a scalar\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	var fe *ferrors.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, ferrors.KindConfig, fe.Kind)
}

func TestLoadMissingFileReturnsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	var fe *ferrors.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, ferrors.KindConfig, fe.Kind)
}

func TestFindWalksUpToParentDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Save(Default(), Path(root)))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { require.NoError(t, os.Chdir(cwd)) }()
	require.NoError(t, os.Chdir(nested))

	found, err := find()
	require.NoError(t, err)
	require.Equal(t, Path(root), found)
}

func TestEngineConfigTranslatesBuildModeAndDepFiles(t *testing.T) {
	p := Default()
	p.BuildMode = "populate-from-remote-cache"
	p.DepFiles = "disabled"
	cfg := p.EngineConfig()
	require.Equal(t, engine.PopulateFromRemoteCache, cfg.BuildMode)
	require.Equal(t, engine.DepFilesDisabled, cfg.DepFiles)
}

func TestEngineConfigAppliesCustomResourceLimits(t *testing.T) {
	p := Default()
	p.Resources = ResourceLimits{CPU: 2, Memory: 4, DiskIO: 1, NetworkIO: 1}
	p.Fair = true
	cfg := p.EngineConfig()
	require.Equal(t, scheduler.Vector{CPU: 2, Memory: 4, DiskIO: 1, NetworkIO: 1}, cfg.ResourceLimit)
	require.Equal(t, scheduler.Fair, cfg.QueueDiscipline)
}
