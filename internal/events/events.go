/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

// Package events publishes build request lifecycle events to the message
// broker. Each event is a JSON message on the topic exchange with routing
// key "buildrequests.<brid>.<event>", mirroring how the rest of the
// system consumes per-request notifications.
//
// Event delivery is best-effort: the mutation that triggered an event has
// already been applied, so publish failures are logged and dropped rather
// than surfaced to the mutating caller.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/p12tic/buildbot/internal/queue"
	"github.com/p12tic/buildbot/internal/telemetry"
)

// Event types carried in the routing key and message body.
const (
	TypeNew       = "new"
	TypeClaimed   = "claimed"
	TypeUnclaimed = "unclaimed"
	TypeComplete  = "complete"
)

const publishTimeout = 5 * time.Second

var logger = telemetry.NewLogger("github.com/p12tic/buildbot/internal/events")

// Event is the JSON payload of a lifecycle event message.
type Event struct {
	EventID        string     `json:"event_id"`
	Type           string     `json:"type"`
	BuildRequestID int        `json:"buildrequestid"`
	MasterID       *int       `json:"masterid,omitempty"`
	Results        *int       `json:"results,omitempty"`
	At             *time.Time `json:"at,omitempty"`
}

// Notifier publishes lifecycle events for store mutations. It implements
// buildrequests.Notifier.
type Notifier struct {
	producer queue.Producer
}

// NewNotifier creates a notifier publishing through the given producer.
func NewNotifier(producer queue.Producer) *Notifier {
	return &Notifier{producer: producer}
}

// BuildRequestsNew publishes a new-request event for each id.
func (n *Notifier) BuildRequestsNew(ctx context.Context, brids []int) {
	for _, brid := range brids {
		n.publish(ctx, Event{Type: TypeNew, BuildRequestID: brid})
	}
}

// BuildRequestsClaimed publishes a claimed event for each id.
func (n *Notifier) BuildRequestsClaimed(ctx context.Context, brids []int, masterID int, claimedAt time.Time) {
	for _, brid := range brids {
		n.publish(ctx, Event{
			Type:           TypeClaimed,
			BuildRequestID: brid,
			MasterID:       &masterID,
			At:             &claimedAt,
		})
	}
}

// BuildRequestsUnclaimed publishes an unclaimed event for each id.
func (n *Notifier) BuildRequestsUnclaimed(ctx context.Context, brids []int) {
	for _, brid := range brids {
		n.publish(ctx, Event{Type: TypeUnclaimed, BuildRequestID: brid})
	}
}

// BuildRequestsCompleted publishes a complete event for each id.
func (n *Notifier) BuildRequestsCompleted(ctx context.Context, brids []int, results int, completeAt time.Time) {
	for _, brid := range brids {
		n.publish(ctx, Event{
			Type:           TypeComplete,
			BuildRequestID: brid,
			Results:        &results,
			At:             &completeAt,
		})
	}
}

// RoutingKey returns the routing key an event is published with.
func RoutingKey(brid int, eventType string) string {
	return fmt.Sprintf("buildrequests.%d.%s", brid, eventType)
}

func (n *Notifier) publish(ctx context.Context, event Event) {
	event.EventID = uuid.NewString()

	body, err := json.Marshal(event)
	if err != nil {
		logger.ErrorContext(ctx, "cannot encode lifecycle event", "type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = n.producer.Push(ctx, RoutingKey(event.BuildRequestID, event.Type), nil, body)
	if err != nil {
		logger.ErrorContext(ctx, "cannot publish lifecycle event",
			"type", event.Type, "buildrequestid", event.BuildRequestID, "error", err)
	}
}
