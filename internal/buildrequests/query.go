/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

package buildrequests

import (
	"context"
	"fmt"
)

// ListOptions filters ListBuildRequests. Unset fields match everything;
// set fields are combined with AND semantics.
type ListOptions struct {
	// BuilderID keeps only requests for the given builder. Zero means
	// unset; builder ids start at 1.
	BuilderID int
	// Complete keeps only requests with the given completion state.
	Complete *bool
	// Claimed, when true, keeps only requests with a claim. When false,
	// keeps only requests with no claim that are also not complete: a
	// completed, unclaimed request is no longer eligible for claiming and
	// is excluded from the unclaimed view.
	Claimed *bool
	// ClaimedBy keeps only requests claimed by the given master.
	ClaimedBy *int
	// BuildsetID keeps only requests belonging to the given buildset.
	BuildsetID *int
	// Branch keeps only requests whose buildset has at least one source
	// stamp on the given branch. Setting it triggers a buildset join.
	Branch string
	// Repository keeps only requests whose buildset has at least one
	// source stamp from the given repository. Setting it triggers a
	// buildset join.
	Repository string
}

// GetBuildRequest returns the view of a single build request, or nil if no
// request with that id exists. Absence is not an error; id 0 is a common
// sentinel that resolves to nothing.
func (s *Store) GetBuildRequest(ctx context.Context, brid int) (*BuildRequestView, error) {
	s.mu.Lock()
	request, ok := s.requests[brid]
	claim, claimed := s.claims[brid]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	view := makeView(request, claim, claimed)
	if err := s.resolveBuilderName(ctx, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListBuildRequests returns the views of all build requests matching opts.
// No ordering is guaranteed; callers that present a fixed order apply a
// result-shaping spec to the returned sequence.
func (s *Store) ListBuildRequests(ctx context.Context, opts ListOptions) ([]BuildRequestView, error) {
	// Snapshot both maps under the lock, then resolve joins outside of
	// it. Collaborator lookups may be slow and must not serialize
	// against mutations.
	s.mu.Lock()
	requests := make([]BuildRequest, 0, len(s.requests))
	for _, request := range s.requests {
		requests = append(requests, request)
	}
	claims := make(map[int]Claim, len(s.claims))
	for brid, claim := range s.claims {
		claims[brid] = claim
	}
	s.mu.Unlock()

	views := make([]BuildRequestView, 0, len(requests))
	for _, request := range requests {
		if opts.BuilderID != 0 && request.BuilderID != opts.BuilderID {
			continue
		}
		if opts.Complete != nil && request.Complete != *opts.Complete {
			continue
		}
		claim, claimed := claims[request.ID]
		if opts.Claimed != nil {
			if *opts.Claimed {
				if !claimed {
					continue
				}
			} else if claimed || request.Complete {
				continue
			}
		}
		if opts.ClaimedBy != nil && (!claimed || claim.MasterID != *opts.ClaimedBy) {
			continue
		}
		if opts.BuildsetID != nil && request.BuildsetID != *opts.BuildsetID {
			continue
		}
		if opts.Branch != "" || opts.Repository != "" {
			match, err := s.matchesSourceStamps(ctx, request.BuildsetID, opts.Branch, opts.Repository)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}

		view := makeView(request, claim, claimed)
		if err := s.resolveBuilderName(ctx, &view); err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// matchesSourceStamps reports whether the buildset has at least one source
// stamp matching branch and at least one matching repository. Empty
// filter values match everything.
func (s *Store) matchesSourceStamps(ctx context.Context, bsid int, branch, repository string) (bool, error) {
	buildset, err := s.buildsets.GetBuildset(ctx, bsid)
	if err != nil {
		return false, fmt.Errorf("failed to get buildset %d: %w", bsid, err)
	}
	if buildset == nil {
		return false, fmt.Errorf("buildset %d: %w", bsid, ErrNoSuchBuildset)
	}

	branchMatch := branch == ""
	repositoryMatch := repository == ""
	for _, ssid := range buildset.SourceStampIDs {
		stamp, err := s.buildsets.GetSourceStamp(ctx, ssid)
		if err != nil {
			return false, fmt.Errorf("failed to get source stamp %d: %w", ssid, err)
		}
		if stamp == nil {
			return false, fmt.Errorf("source stamp %d of buildset %d: %w", ssid, bsid, ErrNoSuchBuildset)
		}
		if stamp.Branch == branch {
			branchMatch = true
		}
		if stamp.Repository == repository {
			repositoryMatch = true
		}
	}
	return branchMatch && repositoryMatch, nil
}

// resolveBuilderName attaches the builder name to a view. A builder id
// that does not resolve violates referential integrity and is reported as
// ErrNoSuchBuilder rather than skipped.
func (s *Store) resolveBuilderName(ctx context.Context, view *BuildRequestView) error {
	builder, err := s.builders.GetBuilder(ctx, view.BuilderID)
	if err != nil {
		return fmt.Errorf("failed to get builder %d: %w", view.BuilderID, err)
	}
	if builder == nil {
		return fmt.Errorf("builder %d of build request %d: %w", view.BuilderID, view.ID, ErrNoSuchBuilder)
	}
	view.BuilderName = builder.Name
	return nil
}

func makeView(request BuildRequest, claim Claim, claimed bool) BuildRequestView {
	view := BuildRequestView{BuildRequest: request}
	if claimed {
		masterID := claim.MasterID
		claimedAt := claim.ClaimedAt
		view.Claimed = true
		view.ClaimedBy = &masterID
		view.ClaimedAt = &claimedAt
	}
	return view
}
