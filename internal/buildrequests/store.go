/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

// Package buildrequests tracks build requests through the
// unclaimed -> claimed -> completed lifecycle.
//
// The store keeps two in-memory mappings, one for build requests and one
// for claims, and guards both with a single mutex so that the batch
// operations Claim, Unclaim and Complete are atomic: either the whole
// batch is applied or nothing is. A request with no claim is unclaimed; a
// request with a claim and Complete == false is claimed; a request with
// Complete == true is completed regardless of claim presence.
//
// Queries resolve builder names through a BuilderGetter and, for branch or
// repository filters, source stamps through a BuildsetGetter. Both are
// plain call-through collaborators with no caching or retry.
package buildrequests

import (
	"context"
	"sync"
	"time"

	"github.com/p12tic/buildbot/internal/builders"
	"github.com/p12tic/buildbot/internal/buildsets"
)

// BuilderGetter resolves builder ids to builders. Absence is reported as
// (nil, nil); errors are transport failures only.
type BuilderGetter interface {
	GetBuilder(ctx context.Context, id int) (*builders.Builder, error)
}

// BuildsetGetter resolves buildsets and their source stamps. Absence is
// reported as (nil, nil); errors are transport failures only.
type BuildsetGetter interface {
	GetBuildset(ctx context.Context, id int) (*buildsets.Buildset, error)
	GetSourceStamp(ctx context.Context, id int) (*buildsets.SourceStamp, error)
}

// Notifier receives lifecycle events after a mutation batch has been
// applied. Implementations must not block indefinitely; delivery failures
// are the notifier's concern and never affect the mutation result.
type Notifier interface {
	BuildRequestsNew(ctx context.Context, brids []int)
	BuildRequestsClaimed(ctx context.Context, brids []int, masterID int, claimedAt time.Time)
	BuildRequestsUnclaimed(ctx context.Context, brids []int)
	BuildRequestsCompleted(ctx context.Context, brids []int, results int, completeAt time.Time)
}

// StateCounts summarizes the store by lifecycle state.
type StateCounts struct {
	Unclaimed int
	Claimed   int
	Completed int
}

// Store owns all build request and claim records. Construct one per
// session with NewStore; it must not be shared as a process-wide
// singleton.
type Store struct {
	builders  BuilderGetter
	buildsets BuildsetGetter
	notifier  Notifier
	now       func() time.Time

	mu       sync.Mutex
	requests map[int]BuildRequest
	claims   map[int]Claim
}

// NewStore creates an empty store. notifier may be nil, in which case no
// lifecycle events are emitted.
func NewStore(builders BuilderGetter, buildsets BuildsetGetter, notifier Notifier) *Store {
	return &Store{
		builders:  builders,
		buildsets: buildsets,
		notifier:  notifier,
		now:       time.Now,
		requests:  make(map[int]BuildRequest),
		claims:    make(map[int]Claim),
	}
}

// InsertBuildRequests bulk-loads build requests into the store and emits a
// new-request event for the batch. Existing requests with the same id are
// replaced.
func (s *Store) InsertBuildRequests(ctx context.Context, requests []BuildRequest) {
	s.mu.Lock()
	brids := make([]int, 0, len(requests))
	for _, request := range requests {
		s.requests[request.ID] = request
		brids = append(brids, request.ID)
	}
	s.mu.Unlock()

	if s.notifier != nil && len(brids) > 0 {
		s.notifier.BuildRequestsNew(ctx, brids)
	}
}

// InsertClaims bulk-loads claims. A claim for a build request id that is
// not in the store is a caller error; the store does not validate it.
func (s *Store) InsertClaims(claims []Claim) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, claim := range claims {
		s.claims[claim.BuildRequestID] = claim
	}
}

// Get returns a copy of the stored build request with the given id.
func (s *Store) Get(brid int) (BuildRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[brid]
	return request, ok
}

// All returns copies of all stored build requests in unspecified order.
func (s *Store) All() []BuildRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]BuildRequest, 0, len(s.requests))
	for _, request := range s.requests {
		all = append(all, request)
	}
	return all
}

// StateCounts returns the number of requests per lifecycle state.
func (s *Store) StateCounts() StateCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := StateCounts{}
	for brid, request := range s.requests {
		switch {
		case request.Complete:
			counts.Completed++
		default:
			if _, claimed := s.claims[brid]; claimed {
				counts.Claimed++
			} else {
				counts.Unclaimed++
			}
		}
	}
	return counts
}

// Claim creates a claim for every id in brids on behalf of masterID. The
// batch is all-or-nothing: if any id does not exist or already has a
// claim, Claim returns ErrAlreadyClaimed and no claim is created. A zero
// claimedAt means the current time.
func (s *Store) Claim(ctx context.Context, brids []int, masterID int, claimedAt time.Time) error {
	if claimedAt.IsZero() {
		claimedAt = s.now()
	}

	s.mu.Lock()
	// Validate first, mutate second, so that failure leaves zero effect
	// and callers can retry the whole batch blindly.
	for _, brid := range brids {
		if _, ok := s.requests[brid]; !ok {
			s.mu.Unlock()
			return ErrAlreadyClaimed
		}
		if _, ok := s.claims[brid]; ok {
			s.mu.Unlock()
			return ErrAlreadyClaimed
		}
	}
	for _, brid := range brids {
		s.claims[brid] = Claim{
			BuildRequestID: brid,
			MasterID:       masterID,
			ClaimedAt:      claimedAt,
		}
	}
	s.mu.Unlock()

	if s.notifier != nil && len(brids) > 0 {
		s.notifier.BuildRequestsClaimed(ctx, brids, masterID, claimedAt)
	}
	return nil
}

// Unclaim removes the claims that masterID holds on the given ids. Ids
// with no claim, or claimed by a different master, are silently skipped:
// a master releases only what it holds.
func (s *Store) Unclaim(ctx context.Context, brids []int, masterID int) {
	s.mu.Lock()
	released := make([]int, 0, len(brids))
	for _, brid := range brids {
		claim, ok := s.claims[brid]
		if !ok || claim.MasterID != masterID {
			continue
		}
		delete(s.claims, brid)
		released = append(released, brid)
	}
	s.mu.Unlock()

	if s.notifier != nil && len(released) > 0 {
		s.notifier.BuildRequestsUnclaimed(ctx, released)
	}
}

// Complete marks every id in brids complete with the given results code.
// The batch is all-or-nothing: if any id does not exist or is already
// complete, Complete returns ErrNotClaimed and nothing is mutated. An
// active claim is not required. A zero completeAt means the current time.
func (s *Store) Complete(ctx context.Context, brids []int, results int, completeAt time.Time) error {
	if completeAt.IsZero() {
		completeAt = s.now()
	}

	s.mu.Lock()
	for _, brid := range brids {
		request, ok := s.requests[brid]
		if !ok || request.Complete {
			s.mu.Unlock()
			return ErrNotClaimed
		}
	}
	for _, brid := range brids {
		request := s.requests[brid]
		request.Complete = true
		request.Results = results
		at := completeAt
		request.CompleteAt = &at
		s.requests[brid] = request
	}
	s.mu.Unlock()

	if s.notifier != nil && len(brids) > 0 {
		s.notifier.BuildRequestsCompleted(ctx, brids, results, completeAt)
	}
	return nil
}
