/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 *
 * Unit tests for the build request store mutations.
 */

package buildrequests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/p12tic/buildbot/internal/builders"
	"github.com/p12tic/buildbot/internal/buildsets"
)

// recordingNotifier records every notification batch it receives.
type recordingNotifier struct {
	newBatches       [][]int
	claimedBatches   [][]int
	claimedMasters   []int
	unclaimedBatches [][]int
	completedBatches [][]int
	completedResults []int
}

func (n *recordingNotifier) BuildRequestsNew(ctx context.Context, brids []int) {
	n.newBatches = append(n.newBatches, brids)
}

func (n *recordingNotifier) BuildRequestsClaimed(ctx context.Context, brids []int, masterID int, claimedAt time.Time) {
	n.claimedBatches = append(n.claimedBatches, brids)
	n.claimedMasters = append(n.claimedMasters, masterID)
}

func (n *recordingNotifier) BuildRequestsUnclaimed(ctx context.Context, brids []int) {
	n.unclaimedBatches = append(n.unclaimedBatches, brids)
}

func (n *recordingNotifier) BuildRequestsCompleted(ctx context.Context, brids []int, results int, completeAt time.Time) {
	n.completedBatches = append(n.completedBatches, brids)
	n.completedResults = append(n.completedResults, results)
}

func newTestRegistries() (*builders.Registry, *buildsets.Registry) {
	builderRegistry := builders.NewRegistry()
	builderRegistry.Add(builders.Builder{ID: 1, Name: "linux-amd64"})
	builderRegistry.Add(builders.Builder{ID: 2, Name: "windows-amd64"})

	buildsetRegistry := buildsets.NewRegistry()
	buildsetRegistry.AddSourceStamp(buildsets.SourceStamp{
		ID: 10, Branch: "main", Repository: "https://example.com/proj", Revision: "abc",
	})
	buildsetRegistry.AddSourceStamp(buildsets.SourceStamp{
		ID: 11, Branch: "release", Repository: "https://example.com/other", Revision: "def",
	})
	buildsetRegistry.AddBuildset(buildsets.Buildset{ID: 100, SourceStampIDs: []int{10}})
	buildsetRegistry.AddBuildset(buildsets.Buildset{ID: 101, SourceStampIDs: []int{11}})
	return builderRegistry, buildsetRegistry
}

func newTestStore(notifier Notifier) *Store {
	builderRegistry, buildsetRegistry := newTestRegistries()
	store := NewStore(builderRegistry, buildsetRegistry, notifier)
	store.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return store
}

func request(brid, bsid, builderID int) BuildRequest {
	return BuildRequest{
		ID:          brid,
		BuildsetID:  bsid,
		BuilderID:   builderID,
		Results:     ResultsNotSet,
		SubmittedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestClaim(t *testing.T) {
	claimedAt := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name          string
		setup         func(*Store)
		brids         []int
		expectErr     error
		expectClaimed []int
	}{{
		name:          "should claim a batch of unclaimed requests",
		setup:         func(s *Store) {},
		brids:         []int{1, 2},
		expectClaimed: []int{1, 2},
	}, {
		name: "should fail when one request is already claimed",
		setup: func(s *Store) {
			assert.NoError(t, s.Claim(context.Background(), []int{2}, 7, claimedAt))
		},
		brids:         []int{1, 2},
		expectErr:     ErrAlreadyClaimed,
		expectClaimed: []int{2},
	}, {
		name:          "should fail when one request does not exist",
		setup:         func(s *Store) {},
		brids:         []int{1, 999},
		expectErr:     ErrAlreadyClaimed,
		expectClaimed: nil,
	}, {
		name: "should allow claiming a completed request with no claim",
		setup: func(s *Store) {
			assert.NoError(t, s.Complete(context.Background(), []int{1}, 0, time.Time{}))
		},
		brids:         []int{1},
		expectClaimed: []int{1},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(nil)
			store.InsertBuildRequests(context.Background(), []BuildRequest{
				request(1, 100, 1),
				request(2, 100, 1),
			})
			tt.setup(store)

			err := store.Claim(context.Background(), tt.brids, 5, claimedAt)

			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
			} else {
				assert.NoError(t, err)
			}
			store.mu.Lock()
			defer store.mu.Unlock()
			assert.Len(t, store.claims, len(tt.expectClaimed), "unexpected claim count")
			for _, brid := range tt.expectClaimed {
				assert.Contains(t, store.claims, brid)
			}
		})
	}
}

func TestClaimFailureLeavesNoPartialState(t *testing.T) {
	store := newTestStore(nil)
	store.InsertBuildRequests(context.Background(), []BuildRequest{
		request(1, 100, 1),
		request(2, 100, 1),
		request(3, 100, 1),
	})
	assert.NoError(t, store.Claim(context.Background(), []int{3}, 9, time.Time{}))

	// 1 and 2 are free, 3 is taken; the batch must not touch any of them.
	err := store.Claim(context.Background(), []int{1, 2, 3}, 5, time.Time{})
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	counts := store.StateCounts()
	assert.Equal(t, StateCounts{Unclaimed: 2, Claimed: 1}, counts)
}

func TestClaimZeroTimeUsesCurrentTime(t *testing.T) {
	store := newTestStore(nil)
	store.InsertBuildRequests(context.Background(), []BuildRequest{request(1, 100, 1)})

	assert.NoError(t, store.Claim(context.Background(), []int{1}, 5, time.Time{}))

	view, err := store.GetBuildRequest(context.Background(), 1)
	assert.NoError(t, err)
	assert.NotNil(t, view)
	assert.NotNil(t, view.ClaimedAt)
	assert.Equal(t, store.now(), *view.ClaimedAt)
}

func TestUnclaim(t *testing.T) {
	tests := []struct {
		name          string
		brids         []int
		masterID      int
		expectClaimed []int
	}{{
		name:          "should release own claims",
		brids:         []int{1, 2},
		masterID:      5,
		expectClaimed: nil,
	}, {
		name:          "should skip claims held by another master",
		brids:         []int{1, 2},
		masterID:      7,
		expectClaimed: []int{1, 2},
	}, {
		name:          "should skip ids with no claim",
		brids:         []int{2, 3},
		masterID:      5,
		expectClaimed: []int{1},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(nil)
			store.InsertBuildRequests(context.Background(), []BuildRequest{
				request(1, 100, 1),
				request(2, 100, 1),
				request(3, 100, 1),
			})
			assert.NoError(t, store.Claim(context.Background(), []int{1, 2}, 5, time.Time{}))

			store.Unclaim(context.Background(), tt.brids, tt.masterID)

			store.mu.Lock()
			defer store.mu.Unlock()
			assert.Len(t, store.claims, len(tt.expectClaimed))
			for _, brid := range tt.expectClaimed {
				assert.Contains(t, store.claims, brid)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	completeAt := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name           string
		setup          func(*Store)
		brids          []int
		results        int
		expectErr      error
		expectComplete []int
	}{{
		name:           "should complete a claimed request",
		setup:          func(s *Store) { assert.NoError(t, s.Claim(context.Background(), []int{1}, 5, time.Time{})) },
		brids:          []int{1},
		results:        0,
		expectComplete: []int{1},
	}, {
		name:           "should complete an unclaimed request",
		setup:          func(s *Store) {},
		brids:          []int{1},
		results:        2,
		expectComplete: []int{1},
	}, {
		name: "should fail when one request is already complete",
		setup: func(s *Store) {
			assert.NoError(t, s.Complete(context.Background(), []int{2}, 0, completeAt))
		},
		brids:          []int{1, 2},
		results:        0,
		expectErr:      ErrNotClaimed,
		expectComplete: []int{2},
	}, {
		name:           "should fail when one request does not exist",
		setup:          func(s *Store) {},
		brids:          []int{1, 999},
		results:        0,
		expectErr:      ErrNotClaimed,
		expectComplete: nil,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(nil)
			store.InsertBuildRequests(context.Background(), []BuildRequest{
				request(1, 100, 1),
				request(2, 100, 1),
			})
			tt.setup(store)

			err := store.Complete(context.Background(), tt.brids, tt.results, completeAt)

			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
			} else {
				assert.NoError(t, err)
			}
			complete := []int{}
			for _, stored := range store.All() {
				if stored.Complete {
					complete = append(complete, stored.ID)
				}
			}
			assert.ElementsMatch(t, tt.expectComplete, complete)
		})
	}
}

func TestCompleteSetsResultsAndTimestamp(t *testing.T) {
	store := newTestStore(nil)
	store.InsertBuildRequests(context.Background(), []BuildRequest{request(1, 100, 1)})
	completeAt := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, store.Complete(context.Background(), []int{1}, 2, completeAt))

	stored, ok := store.Get(1)
	assert.True(t, ok)
	assert.True(t, stored.Complete)
	assert.Equal(t, 2, stored.Results)
	assert.NotNil(t, stored.CompleteAt)
	assert.Equal(t, completeAt, *stored.CompleteAt)
}

func TestCompleteKeepsClaim(t *testing.T) {
	store := newTestStore(nil)
	store.InsertBuildRequests(context.Background(), []BuildRequest{request(1, 100, 1)})
	assert.NoError(t, store.Claim(context.Background(), []int{1}, 5, time.Time{}))

	assert.NoError(t, store.Complete(context.Background(), []int{1}, 0, time.Time{}))

	view, err := store.GetBuildRequest(context.Background(), 1)
	assert.NoError(t, err)
	assert.NotNil(t, view)
	assert.True(t, view.Complete)
	assert.True(t, view.Claimed, "completing must not release the claim")
}

func TestStateCounts(t *testing.T) {
	store := newTestStore(nil)
	store.InsertBuildRequests(context.Background(), []BuildRequest{
		request(1, 100, 1),
		request(2, 100, 1),
		request(3, 100, 1),
		request(4, 100, 1),
	})
	assert.NoError(t, store.Claim(context.Background(), []int{2, 3}, 5, time.Time{}))
	assert.NoError(t, store.Complete(context.Background(), []int{3}, 0, time.Time{}))

	counts := store.StateCounts()

	assert.Equal(t, StateCounts{Unclaimed: 2, Claimed: 1, Completed: 1}, counts)
}

func TestNotifications(t *testing.T) {
	notifier := &recordingNotifier{}
	store := newTestStore(notifier)

	store.InsertBuildRequests(context.Background(), []BuildRequest{
		request(1, 100, 1),
		request(2, 100, 1),
	})
	assert.NoError(t, store.Claim(context.Background(), []int{1, 2}, 5, time.Time{}))
	store.Unclaim(context.Background(), []int{1, 2, 3}, 5)
	assert.NoError(t, store.Complete(context.Background(), []int{1}, 0, time.Time{}))

	assert.Equal(t, [][]int{{1, 2}}, notifier.newBatches)
	assert.Equal(t, [][]int{{1, 2}}, notifier.claimedBatches)
	assert.Equal(t, []int{5}, notifier.claimedMasters)
	// id 3 has no claim, so it must not appear in the unclaimed batch.
	assert.Equal(t, [][]int{{1, 2}}, notifier.unclaimedBatches)
	assert.Equal(t, [][]int{{1}}, notifier.completedBatches)
	assert.Equal(t, []int{0}, notifier.completedResults)
}

func TestNoNotificationOnFailedBatch(t *testing.T) {
	notifier := &recordingNotifier{}
	store := newTestStore(notifier)
	store.InsertBuildRequests(context.Background(), []BuildRequest{request(1, 100, 1)})
	notifier.newBatches = nil

	assert.Error(t, store.Claim(context.Background(), []int{1, 999}, 5, time.Time{}))
	assert.Error(t, store.Complete(context.Background(), []int{999}, 0, time.Time{}))
	store.Unclaim(context.Background(), []int{1}, 5)

	assert.Empty(t, notifier.claimedBatches)
	assert.Empty(t, notifier.completedBatches)
	assert.Empty(t, notifier.unclaimedBatches)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	store := newTestStore(nil)
	store.InsertBuildRequests(context.Background(), []BuildRequest{request(1, 100, 1)})

	const masters = 20
	errs := make(chan error, masters)
	for masterID := 1; masterID <= masters; masterID++ {
		go func(masterID int) {
			errs <- store.Claim(context.Background(), []int{1}, masterID, time.Time{})
		}(masterID)
	}

	succeeded := 0
	for i := 0; i < masters; i++ {
		if err := <-errs; err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyClaimed)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one master must win the claim")
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	store := newTestStore(nil)
	inserted := BuildRequest{
		ID:          7,
		BuildsetID:  100,
		BuilderID:   2,
		Priority:    9,
		Results:     ResultsNotSet,
		SubmittedAt: time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC),
		WaitedFor:   true,
	}
	store.InsertBuildRequests(context.Background(), []BuildRequest{inserted})

	stored, ok := store.Get(7)
	assert.True(t, ok)
	assert.Equal(t, inserted, stored)

	view, err := store.GetBuildRequest(context.Background(), 7)
	assert.NoError(t, err)
	assert.NotNil(t, view)
	assert.Equal(t, inserted, view.BuildRequest)
	assert.Equal(t, "windows-amd64", view.BuilderName)
	assert.False(t, view.Claimed)
}

func TestInsertClaims(t *testing.T) {
	store := newTestStore(nil)
	store.InsertBuildRequests(context.Background(), []BuildRequest{request(1, 100, 1)})
	claimedAt := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	store.InsertClaims([]Claim{{BuildRequestID: 1, MasterID: 9, ClaimedAt: claimedAt}})

	view, err := store.GetBuildRequest(context.Background(), 1)
	assert.NoError(t, err)
	assert.NotNil(t, view)
	assert.True(t, view.Claimed)
	assert.Equal(t, 9, *view.ClaimedBy)
	assert.Equal(t, claimedAt, *view.ClaimedAt)
}
