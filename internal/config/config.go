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

// Package config loads forgectl's project configuration from
// .forge/project.yaml (spec §6's recognized configuration surface),
// following the same read-file-then-yaml.Unmarshal-then-env-override shape
// the teacher CLI uses for its own project.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/forge/internal/ferrors"
	"github.com/kraklabs/forge/pkg/engine"
	"github.com/kraklabs/forge/pkg/scheduler"
)

const (
	defaultConfigDir  = ".forge"
	defaultConfigFile = "project.yaml"
	configVersion     = "1"
)

// Project is the .forge/project.yaml document.
type Project struct {
	Version string `yaml:"version"`
	BuckOut string `yaml:"buck_out"`

	BuildMode string `yaml:"build_mode"` // shallow, deep, populate-from-remote-cache
	DepFiles  string `yaml:"dep_files"`  // disabled, enabled, cache
	KeepGoing bool   `yaml:"keep_going"`

	RuleKeyCaching         bool  `yaml:"rule_key_caching"`
	KeySeed                uint64 `yaml:"key_seed"`
	MaxDepFileCacheEntries int   `yaml:"max_manifest_entries"`
	ArtifactCacheSizeLimit int64 `yaml:"artifact_cache_size_limit"`
	RuleKeySizeLimit       int   `yaml:"rule_key_size_limit"`

	Resources ResourceLimits `yaml:"resources"`
	Fair      bool           `yaml:"fair_scheduling"`

	Cache CacheConfig `yaml:"cache"`

	EventLogDir string `yaml:"event_log_dir"`
}

// ResourceLimits mirrors scheduler.Vector in YAML-friendly form.
type ResourceLimits struct {
	CPU        int `yaml:"cpu"`
	Memory     int `yaml:"memory"`
	DiskIO     int `yaml:"disk_io"`
	NetworkIO  int `yaml:"network_io"`
}

// CacheConfig selects and configures the artifact cache transport.
type CacheConfig struct {
	Kind string `yaml:"kind"` // "local", "none"
	Dir  string `yaml:"dir"`  // for kind == "local"
}

// Default returns a Project with conservative defaults, matching
// engine.DefaultConfig when a project.yaml omits a field.
func Default() *Project {
	return &Project{
		Version:                configVersion,
		BuckOut:                "buck-out",
		BuildMode:              "shallow",
		DepFiles:               "cache",
		RuleKeyCaching:         true,
		MaxDepFileCacheEntries: 1000,
		Resources:              ResourceLimits{CPU: 8, Memory: 8, DiskIO: 8, NetworkIO: 8},
		Cache:                  CacheConfig{Kind: "local", Dir: ".forge/cache"},
	}
}

// Load reads configPath (or discovers .forge/project.yaml by walking up
// from the working directory when configPath is empty).
func Load(configPath string) (*Project, error) {
	if configPath == "" {
		var err error
		configPath, err = find()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // G304: path comes from CLI flag or discovery
	if err != nil {
		return nil, ferrors.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("Failed to read %s", configPath),
			"Check file permissions and ensure the file exists",
			err,
		)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, ferrors.NewConfigError(
			"Invalid configuration format",
			"YAML parsing failed - the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors", configPath),
			err,
		)
	}
	if cfg.Version != configVersion {
		return nil, ferrors.NewConfigError(
			"Unsupported configuration version",
			fmt.Sprintf("Config version %q is not supported (expected %q)", cfg.Version, configVersion),
			fmt.Sprintf("Set version: %q in %s", configVersion, configPath),
			nil,
		)
	}
	return cfg, nil
}

// Save writes cfg to configPath as YAML, creating its directory if needed.
func Save(cfg *Project, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return ferrors.NewInternalError(
			"Cannot encode configuration",
			"YAML marshaling failed unexpectedly",
			"This is a bug; please report it with your configuration details",
			err,
		)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return ferrors.NewPermissionError(
			"Cannot create configuration directory",
			fmt.Sprintf("Permission denied creating %s", filepath.Dir(configPath)),
			"Check directory permissions or run with appropriate privileges",
			err,
		)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return ferrors.NewPermissionError(
			"Cannot write configuration file",
			fmt.Sprintf("Permission denied writing to %s", configPath),
			"Check file permissions and available disk space",
			err,
		)
	}
	return nil
}

// Path returns <dir>/.forge/project.yaml.
func Path(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

func find() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", ferrors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine the current directory path",
			"Check system permissions and try again",
			err,
		)
	}
	for {
		p := Path(dir)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", ferrors.NewConfigError(
		"Configuration not found",
		"No .forge/project.yaml file found in the current directory or any parent directory",
		"Create .forge/project.yaml, or pass its path with --config",
		nil,
	)
}

// EngineConfig translates the YAML document into engine.Config.
func (p *Project) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.BuckOut = p.BuckOut
	cfg.KeepGoing = p.KeepGoing
	cfg.RuleKeyCaching = p.RuleKeyCaching
	cfg.KeySeed = p.KeySeed
	cfg.EventLogDir = p.EventLogDir

	switch p.BuildMode {
	case "deep":
		cfg.BuildMode = engine.Deep
	case "populate-from-remote-cache":
		cfg.BuildMode = engine.PopulateFromRemoteCache
	default:
		cfg.BuildMode = engine.Shallow
	}

	switch p.DepFiles {
	case "disabled":
		cfg.DepFiles = engine.DepFilesDisabled
	case "enabled":
		cfg.DepFiles = engine.DepFilesEnabled
	default:
		cfg.DepFiles = engine.DepFilesCache
	}

	if p.MaxDepFileCacheEntries > 0 {
		cfg.MaxDepFileCacheEntries = p.MaxDepFileCacheEntries
	}
	cfg.ArtifactCacheSizeLimit = p.ArtifactCacheSizeLimit
	cfg.RuleKeySizeLimit = p.RuleKeySizeLimit

	if p.Resources != (ResourceLimits{}) {
		cfg.ResourceLimit = scheduler.Vector{
			CPU:       p.Resources.CPU,
			Memory:    p.Resources.Memory,
			DiskIO:    p.Resources.DiskIO,
			NetworkIO: p.Resources.NetworkIO,
		}
	}
	if p.Fair {
		cfg.QueueDiscipline = scheduler.Fair
	} else {
		cfg.QueueDiscipline = scheduler.Unfair
	}

	return cfg
}
