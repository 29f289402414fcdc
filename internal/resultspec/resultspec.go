/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

// Package resultspec shapes raw query results before they are presented
// to a caller: explicit ordering followed by offset/limit pagination.
//
// The build request store guarantees a correct, filter-complete sequence
// with no implicit order; any fixed ordering shown to users is applied
// here, never assumed from store iteration.
package resultspec

import (
	"fmt"
	"sort"
	"strings"
)

// Spec describes how to shape a result sequence. The zero value leaves
// the sequence unchanged.
type Spec struct {
	// Order lists field names to sort by, in significance order. A
	// leading '-' sorts that field descending.
	Order []string
	// Offset skips that many items after ordering.
	Offset int
	// Limit caps the number of returned items; zero means no limit.
	Limit int
}

// CompareFunc compares a and b on the named field, returning a negative,
// zero or positive value. It is supplied by the caller that knows the
// element type. Field names should be checked with Validate before Apply;
// a CompareFunc treats unknown fields as equal.
type CompareFunc[T any] func(a, b T, field string) int

// Apply returns a shaped copy of items. The input slice is not modified.
// Ordering is stable so that equal elements keep their relative order
// across fields the spec does not mention.
func Apply[T any](spec Spec, items []T, compare CompareFunc[T]) []T {
	shaped := make([]T, len(items))
	copy(shaped, items)

	if len(spec.Order) > 0 {
		sort.SliceStable(shaped, func(i, j int) bool {
			for _, field := range spec.Order {
				descending := strings.HasPrefix(field, "-")
				name := strings.TrimPrefix(field, "-")
				c := compare(shaped[i], shaped[j], name)
				if c == 0 {
					continue
				}
				if descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	offset := spec.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(shaped) {
		offset = len(shaped)
	}
	shaped = shaped[offset:]

	if spec.Limit > 0 && spec.Limit < len(shaped) {
		shaped = shaped[:spec.Limit]
	}
	return shaped
}

// Validate checks that every field named in the spec's order is one of
// the supported fields.
func (s Spec) Validate(supported ...string) error {
	for _, field := range s.Order {
		name := strings.TrimPrefix(field, "-")
		found := false
		for _, want := range supported {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unsupported order field: %q", name)
		}
	}
	return nil
}
