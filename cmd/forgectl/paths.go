// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"path/filepath"

	"github.com/kraklabs/forge/internal/config"
	"github.com/kraklabs/forge/internal/ferrors"
)

// loadProject loads the project configuration named by globals.ConfigPath,
// falling back to config.Default() when no project.yaml exists anywhere in
// the directory tree — forgectl still works against a bare rule file.
func loadProject(globals GlobalFlags) (*config.Project, error) {
	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		if fe, ok := err.(*ferrors.Error); ok && fe.Kind == ferrors.KindConfig && globals.ConfigPath == "" {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// absCacheDir resolves a project's configured cache directory to an
// absolute path so the engine and the cache-stats/clean subcommands agree
// on the same directory regardless of the caller's working directory.
func absCacheDir(p *config.Project) (string, error) {
	if filepath.IsAbs(p.Cache.Dir) {
		return p.Cache.Dir, nil
	}
	return filepath.Abs(p.Cache.Dir)
}
