/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

// Package builders provides the builder lookup collaborator used by the
// build request store for builder name resolution.
package builders

import (
	"context"
	"sync"
)

// Builder describes a target a build request can be queued against.
type Builder struct {
	ID          int    `json:"id"          yaml:"id"`
	Name        string `json:"name"        yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Registry is an in-memory builder registry. The zero value is not usable;
// use NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	builders map[int]Builder
}

// NewRegistry creates an empty builder registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[int]Builder)}
}

// Add registers a builder, replacing any builder with the same id.
func (r *Registry) Add(builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[builder.ID] = builder
}

// GetBuilder returns the builder with the given id, or nil if no such
// builder exists. Absence is not an error; the error return is reserved
// for transport failures in remote implementations of the same contract.
func (r *Registry) GetBuilder(ctx context.Context, id int) (*Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	builder, ok := r.builders[id]
	if !ok {
		return nil, nil
	}
	return &builder, nil
}

// List returns all registered builders in unspecified order.
func (r *Registry) List(ctx context.Context) ([]Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Builder, 0, len(r.builders))
	for _, builder := range r.builders {
		all = append(all, builder)
	}
	return all, nil
}
