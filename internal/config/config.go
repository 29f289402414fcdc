/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

// Package config loads the master fixture file. The fixture seeds the
// builder registry and, optionally, buildsets and source stamps that
// exist before the first command arrives.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/p12tic/buildbot/internal/builders"
	"github.com/p12tic/buildbot/internal/buildsets"
)

// Fixture is the YAML schema of the master fixture file.
type Fixture struct {
	Builders     []builders.Builder      `yaml:"builders"`
	Buildsets    []FixtureBuildset       `yaml:"buildsets"`
	SourceStamps []buildsets.SourceStamp `yaml:"sourcestamps"`
}

// FixtureBuildset references source stamps by id.
type FixtureBuildset struct {
	ID           int   `yaml:"bsid"`
	SourceStamps []int `yaml:"sourcestamps"`
}

// Load reads and validates a fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read fixture file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates raw fixture YAML.
func Parse(data []byte) (*Fixture, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("invalid fixture yaml: %w", err)
	}
	if err := fixture.validate(); err != nil {
		return nil, err
	}
	return &fixture, nil
}

func (f *Fixture) validate() error {
	builderIDs := make(map[int]bool, len(f.Builders))
	for _, builder := range f.Builders {
		if builder.ID == 0 {
			return fmt.Errorf("builder %q has no id", builder.Name)
		}
		if builder.Name == "" {
			return fmt.Errorf("builder %d has no name", builder.ID)
		}
		if builderIDs[builder.ID] {
			return fmt.Errorf("duplicate builder id %d", builder.ID)
		}
		builderIDs[builder.ID] = true
	}

	stampIDs := make(map[int]bool, len(f.SourceStamps))
	for _, stamp := range f.SourceStamps {
		if stamp.ID == 0 {
			return fmt.Errorf("source stamp for %q has no id", stamp.Repository)
		}
		if stampIDs[stamp.ID] {
			return fmt.Errorf("duplicate source stamp id %d", stamp.ID)
		}
		stampIDs[stamp.ID] = true
	}

	for _, buildset := range f.Buildsets {
		if buildset.ID == 0 {
			return fmt.Errorf("buildset has no id")
		}
		for _, ssid := range buildset.SourceStamps {
			if !stampIDs[ssid] {
				return fmt.Errorf("buildset %d references unknown source stamp %d", buildset.ID, ssid)
			}
		}
	}
	return nil
}

// Apply seeds the registries with the fixture contents.
func (f *Fixture) Apply(builderRegistry *builders.Registry, buildsetRegistry *buildsets.Registry) {
	for _, builder := range f.Builders {
		builderRegistry.Add(builder)
	}
	for _, stamp := range f.SourceStamps {
		buildsetRegistry.AddSourceStamp(stamp)
	}
	for _, buildset := range f.Buildsets {
		buildsetRegistry.AddBuildset(buildsets.Buildset{
			ID:             buildset.ID,
			SourceStampIDs: buildset.SourceStamps,
		})
	}
}
