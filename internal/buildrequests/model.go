/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

package buildrequests

import (
	"time"
)

// ResultsNotSet is the results code of a build request whose build has not
// finished. Complete requests always carry a real results code.
const ResultsNotSet = -1

// BuildRequest is a unit of queued work awaiting execution by a builder.
// ID, BuildsetID and BuilderID are immutable once the request is inserted.
type BuildRequest struct {
	ID          int        `json:"buildrequestid"`
	BuildsetID  int        `json:"buildsetid"`
	BuilderID   int        `json:"builderid"`
	Priority    int        `json:"priority"`
	Complete    bool       `json:"complete"`
	Results     int        `json:"results"`
	SubmittedAt time.Time  `json:"submitted_at"`
	CompleteAt  *time.Time `json:"complete_at,omitempty"`
	WaitedFor   bool       `json:"waited_for"`
}

// Claim records which master is currently responsible for executing a
// build request. At most one claim exists per request; claims are created
// by Claim and removed by Unclaim, never mutated in place.
type Claim struct {
	BuildRequestID int       `json:"buildrequestid"`
	MasterID       int       `json:"masterid"`
	ClaimedAt      time.Time `json:"claimed_at"`
}

// BuildRequestView is the read-only projection returned by queries. It
// merges a build request with its current claim, if any, and the resolved
// builder name. Views are recomputed per query and never stored.
type BuildRequestView struct {
	BuildRequest

	BuilderName string     `json:"buildername"`
	Claimed     bool       `json:"claimed"`
	ClaimedBy   *int       `json:"claimed_by_masterid,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
}
