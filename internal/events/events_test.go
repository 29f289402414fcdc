/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 *
 * Unit tests for lifecycle event publishing.
 */

package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeProducer records pushed messages.
type fakeProducer struct {
	routingKeys []string
	bodies      [][]byte
	pushErr     error
}

func (p *fakeProducer) Push(ctx context.Context, routingKey string, headers map[string]interface{}, msg []byte) error {
	if p.pushErr != nil {
		return p.pushErr
	}
	p.routingKeys = append(p.routingKeys, routingKey)
	p.bodies = append(p.bodies, msg)
	return nil
}

func (p *fakeProducer) events(t *testing.T) []Event {
	out := make([]Event, 0, len(p.bodies))
	for _, body := range p.bodies {
		var event Event
		assert.NoError(t, json.Unmarshal(body, &event))
		out = append(out, event)
	}
	return out
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "buildrequests.42.claimed", RoutingKey(42, TypeClaimed))
	assert.Equal(t, "buildrequests.1.new", RoutingKey(1, TypeNew))
}

func TestNotifierPublishesOneEventPerRequest(t *testing.T) {
	producer := &fakeProducer{}
	notifier := NewNotifier(producer)
	claimedAt := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	completeAt := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	notifier.BuildRequestsNew(context.Background(), []int{1, 2})
	notifier.BuildRequestsClaimed(context.Background(), []int{1, 2}, 5, claimedAt)
	notifier.BuildRequestsUnclaimed(context.Background(), []int{2})
	notifier.BuildRequestsCompleted(context.Background(), []int{1}, 2, completeAt)

	assert.Equal(t, []string{
		"buildrequests.1.new",
		"buildrequests.2.new",
		"buildrequests.1.claimed",
		"buildrequests.2.claimed",
		"buildrequests.2.unclaimed",
		"buildrequests.1.complete",
	}, producer.routingKeys)

	events := producer.events(t)
	assert.Len(t, events, 6)
	for _, event := range events {
		assert.NotEmpty(t, event.EventID, "every event needs a unique id")
	}

	claimed := events[2]
	assert.Equal(t, TypeClaimed, claimed.Type)
	assert.Equal(t, 1, claimed.BuildRequestID)
	assert.Equal(t, 5, *claimed.MasterID)
	assert.Equal(t, claimedAt, *claimed.At)
	assert.Nil(t, claimed.Results)

	complete := events[5]
	assert.Equal(t, TypeComplete, complete.Type)
	assert.Equal(t, 2, *complete.Results)
	assert.Equal(t, completeAt, *complete.At)
	assert.Nil(t, complete.MasterID)

	unclaimed := events[4]
	assert.Equal(t, TypeUnclaimed, unclaimed.Type)
	assert.Nil(t, unclaimed.MasterID)
	assert.Nil(t, unclaimed.At)
}

func TestNotifierEventIDsAreUnique(t *testing.T) {
	producer := &fakeProducer{}
	notifier := NewNotifier(producer)

	notifier.BuildRequestsNew(context.Background(), []int{1, 2, 3})

	seen := map[string]bool{}
	for _, event := range producer.events(t) {
		assert.False(t, seen[event.EventID], "duplicate event id %q", event.EventID)
		seen[event.EventID] = true
	}
}

func TestNotifierDropsPublishFailures(t *testing.T) {
	producer := &fakeProducer{pushErr: errors.New("broker unavailable")}
	notifier := NewNotifier(producer)

	// Must not panic or block; failures are logged and dropped.
	notifier.BuildRequestsNew(context.Background(), []int{1})
	notifier.BuildRequestsCompleted(context.Background(), []int{1}, 0, time.Now())

	assert.Empty(t, producer.bodies)
}
