/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

// Package buildsets provides the buildset and source stamp lookup
// collaborator used by the build request store for branch and repository
// filtering.
package buildsets

import (
	"context"
	"sync"
)

// SourceStamp is a reference to a specific source code state.
type SourceStamp struct {
	ID         int    `json:"id"         yaml:"id"`
	Branch     string `json:"branch"     yaml:"branch"`
	Repository string `json:"repository" yaml:"repository"`
	Revision   string `json:"revision"   yaml:"revision"`
}

// Buildset groups build requests that share a set of source stamps.
type Buildset struct {
	ID             int   `json:"id"          yaml:"id"`
	SourceStampIDs []int `json:"sourcestamps" yaml:"sourcestamps"`
}

// Registry is an in-memory buildset and source stamp registry. The zero
// value is not usable; use NewRegistry.
type Registry struct {
	mu           sync.RWMutex
	buildsets    map[int]Buildset
	sourcestamps map[int]SourceStamp
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		buildsets:    make(map[int]Buildset),
		sourcestamps: make(map[int]SourceStamp),
	}
}

// AddBuildset registers a buildset, replacing any buildset with the same id.
func (r *Registry) AddBuildset(buildset Buildset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buildsets[buildset.ID] = buildset
}

// AddSourceStamp registers a source stamp, replacing any source stamp with
// the same id.
func (r *Registry) AddSourceStamp(stamp SourceStamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sourcestamps[stamp.ID] = stamp
}

// GetBuildset returns the buildset with the given id, or nil if no such
// buildset exists.
func (r *Registry) GetBuildset(ctx context.Context, id int) (*Buildset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buildset, ok := r.buildsets[id]
	if !ok {
		return nil, nil
	}
	return &buildset, nil
}

// GetSourceStamp returns the source stamp with the given id, or nil if no
// such source stamp exists.
func (r *Registry) GetSourceStamp(ctx context.Context, id int) (*SourceStamp, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stamp, ok := r.sourcestamps[id]
	if !ok {
		return nil, nil
	}
	return &stamp, nil
}
