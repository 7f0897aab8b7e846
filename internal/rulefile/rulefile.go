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

// Package rulefile loads a YAML rule graph (.forge/RULES.yaml) into the
// map[rule.Target]*rule.Rule shape pkg/engine.New needs. It is a minimal,
// CLI-demo-only rule-graph construction: the real-world equivalent (a build
// language with its own parser, macro expansion, and query engine) is an
// external collaborator per spec §1.
package rulefile

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/forge/internal/ferrors"
	"github.com/kraklabs/forge/pkg/rule"
)

// File is the on-disk YAML document: a flat list of rule definitions.
type File struct {
	Rules []RuleDef `yaml:"rules"`
}

// RuleDef is one YAML rule entry.
type RuleDef struct {
	Target      string   `yaml:"target"`
	Type        string   `yaml:"type"`
	Deps        []string `yaml:"deps"`
	RuntimeDeps []string `yaml:"runtime_deps"`
	Sources     []string `yaml:"sources"`
	Outputs     []string `yaml:"outputs"`
	Command     []string `yaml:"command"`

	Fields map[string]string `yaml:"fields"`

	Cacheable          bool `yaml:"cacheable"`
	SupportsInputBased bool `yaml:"supports_input_based"`
	UsesDepFile        bool `yaml:"uses_dep_file"`
	UsesManifest       bool `yaml:"uses_manifest"`
}

// Load reads and parses path into a rule graph keyed by target.
func Load(path string) (map[rule.Target]*rule.Rule, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path supplied by the CLI invocation
	if err != nil {
		return nil, ferrors.NewConfigError(
			"Cannot read rule file",
			fmt.Sprintf("Failed to read %s", path),
			"Check the path and file permissions",
			err,
		)
	}

	var doc File
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ferrors.NewConfigError(
			"Invalid rule file format",
			"YAML parsing failed",
			fmt.Sprintf("Edit %s to fix syntax errors", path),
			err,
		)
	}

	rules := make(map[rule.Target]*rule.Rule, len(doc.Rules))
	for _, def := range doc.Rules {
		r, err := build(def)
		if err != nil {
			return nil, err
		}
		rules[r.Target] = r
	}

	if err := validateDeps(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func build(def RuleDef) (*rule.Rule, error) {
	if def.Target == "" {
		return nil, ferrors.NewConfigError(
			"Rule missing a target",
			"Every rule entry must set a non-empty target",
			"Add a target field, e.g. target: \"//cmd/forgectl:build\"",
			nil,
		)
	}

	fields := make([]rule.KeyRelevantField, 0, len(def.Fields))
	names := make([]string, 0, len(def.Fields))
	for name := range def.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fields = append(fields, rule.KeyRelevantField{Name: name, Value: def.Fields[name]})
	}

	deps := make([]rule.Target, len(def.Deps))
	for i, d := range def.Deps {
		deps[i] = rule.Target(d)
	}

	runtimeDeps := make([]rule.Target, len(def.RuntimeDeps))
	for i, d := range def.RuntimeDeps {
		runtimeDeps[i] = rule.Target(d)
	}

	caps := capabilities{
		cacheable:          def.Cacheable,
		supportsInputBased: def.SupportsInputBased,
		usesDepFile:        def.UsesDepFile,
		usesManifest:       def.UsesManifest,
		sources:            def.Sources,
		runtimeDeps:        runtimeDeps,
	}

	var steps []rule.Step
	if len(def.Command) > 0 {
		steps = []rule.Step{shellStep{argv: def.Command}}
	}

	return &rule.Rule{
		Target:       rule.Target(def.Target),
		Type:         def.Type,
		Deps:         deps,
		Sources:      def.Sources,
		Fields:       fields,
		Outputs:      def.Outputs,
		Steps:        steps,
		Capabilities: caps,
	}, nil
}

func validateDeps(rules map[rule.Target]*rule.Rule) error {
	for target, r := range rules {
		for _, dep := range r.Deps {
			if _, ok := rules[dep]; !ok {
				return ferrors.NewConfigError(
					"Rule references an unknown dependency",
					fmt.Sprintf("%s depends on %s, which is not defined in this rule file", target, dep),
					"Add the missing rule or remove the dependency",
					nil,
				)
			}
		}
		if r.Capabilities.HasRuntimeDeps() {
			for _, dep := range r.Capabilities.RuntimeDeps() {
				if _, ok := rules[dep]; !ok {
					return ferrors.NewConfigError(
						"Rule references an unknown runtime dependency",
						fmt.Sprintf("%s has a runtime dependency on %s, which is not defined in this rule file", target, dep),
						"Add the missing rule or remove the runtime dependency",
						nil,
					)
				}
			}
		}
	}
	return nil
}
