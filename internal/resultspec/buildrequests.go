/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

package resultspec

import (
	"github.com/p12tic/buildbot/internal/buildrequests"
)

// BuildRequestOrderFields lists the order fields supported for build
// request views.
var BuildRequestOrderFields = []string{"buildrequestid", "priority", "submitted_at"}

// CompareBuildRequestViews is the CompareFunc for build request views.
func CompareBuildRequestViews(a, b buildrequests.BuildRequestView, field string) int {
	switch field {
	case "buildrequestid":
		return a.ID - b.ID
	case "priority":
		return a.Priority - b.Priority
	case "submitted_at":
		return a.SubmittedAt.Compare(b.SubmittedAt)
	}
	return 0
}

// ApplyBuildRequests shapes a build request view sequence after
// validating the spec's order fields.
func ApplyBuildRequests(spec Spec, views []buildrequests.BuildRequestView) ([]buildrequests.BuildRequestView, error) {
	if err := spec.Validate(BuildRequestOrderFields...); err != nil {
		return nil, err
	}
	return Apply(spec, views, CompareBuildRequestViews), nil
}
