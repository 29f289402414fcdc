/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

package buildrequests

import "errors"

var (
	// ErrAlreadyClaimed is returned by Claim when any requested id does not
	// exist or already has a claim. The batch has zero effect.
	ErrAlreadyClaimed = errors.New("build request already claimed")

	// ErrNotClaimed is returned by Complete when any requested id does not
	// exist or is already complete. The batch has zero effect. The checked
	// precondition is "not yet complete", not claim ownership: completing
	// an unclaimed but incomplete request succeeds.
	ErrNotClaimed = errors.New("build request not claimed")

	// ErrNoSuchBuilder reports a builder id that the builder collaborator
	// cannot resolve. Every stored builder id is expected to resolve, so
	// this indicates corrupted invariants upstream; callers should treat
	// it as fatal rather than skip the row.
	ErrNoSuchBuilder = errors.New("no such builder")

	// ErrNoSuchBuildset is the equivalent fault for an unresolvable
	// buildset or source stamp during branch/repository filtering.
	ErrNoSuchBuildset = errors.New("no such buildset")
)
