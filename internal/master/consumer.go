/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

// Package master consumes build request command messages from the broker
// and applies them to the build request store on behalf of one master
// identity.
//
// Commands arrive as JSON messages with an "action" field: "new" inserts
// a buildset with its source stamps and build requests, "claim",
// "complete" and "unclaim" operate on batches of request ids. Because
// store batches are all-or-nothing, transient failures are safe to retry
// by requeueing the message; conflict failures (already claimed, already
// complete) can never succeed on retry and are discarded to the
// dead-letter queue.
package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/p12tic/buildbot/internal/buildrequests"
	"github.com/p12tic/buildbot/internal/buildsets"
	"github.com/p12tic/buildbot/internal/queue"
)

const maxBackoff = 5 * time.Minute

// Command actions accepted by the consumer.
const (
	actionNew      = "new"
	actionClaim    = "claim"
	actionComplete = "complete"
	actionUnclaim  = "unclaim"
)

// RequestStore is the store subset the consumer mutates.
type RequestStore interface {
	InsertBuildRequests(ctx context.Context, requests []buildrequests.BuildRequest)
	Claim(ctx context.Context, brids []int, masterID int, claimedAt time.Time) error
	Unclaim(ctx context.Context, brids []int, masterID int)
	Complete(ctx context.Context, brids []int, results int, completeAt time.Time) error
}

// BuildsetRegistry is the registry subset the consumer inserts into when
// handling new-buildset commands.
type BuildsetRegistry interface {
	AddBuildset(buildset buildsets.Buildset)
	AddSourceStamp(stamp buildsets.SourceStamp)
}

// Consumer pulls command messages and applies them to the store.
type Consumer struct {
	consumer queue.Consumer
	store    RequestStore
	registry BuildsetRegistry
	masterID int
	metrics  *Metrics

	started        sync.Mutex
	currentBackoff time.Duration
}

// NewConsumer creates a command consumer claiming on behalf of masterID.
func NewConsumer(consumer queue.Consumer, store RequestStore, registry BuildsetRegistry, masterID int, metrics *Metrics) *Consumer {
	return &Consumer{
		consumer: consumer,
		store:    store,
		registry: registry,
		masterID: masterID,
		metrics:  metrics,
	}
}

// commandMessage is the JSON schema of a command.
type commandMessage struct {
	Action   string           `json:"action"`
	BRIDs    []int            `json:"brids"`
	Results  *int             `json:"results"`
	Buildset *buildsetMessage `json:"buildset"`
	Requests []requestMessage `json:"requests"`
}

type buildsetMessage struct {
	ID           int                     `json:"bsid"`
	SourceStamps []buildsets.SourceStamp `json:"sourcestamps"`
}

type requestMessage struct {
	ID          int       `json:"buildrequestid"`
	BuilderID   int       `json:"builderid"`
	Priority    int       `json:"priority"`
	SubmittedAt time.Time `json:"submitted_at"`
	WaitedFor   bool      `json:"waited_for"`
}

// Start begins consuming command messages until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	logger.InfoContext(ctx, "start consuming build request commands", "masterid", c.masterID)
	c.started.Lock()
	defer c.started.Unlock()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = c.pullMessage(ctx)
	}
}

// Close closes the underlying AMQP consumer.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

func (c *Consumer) backoff(ctx context.Context) {
	if c.currentBackoff == 0 {
		c.currentBackoff = 1 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(c.currentBackoff):
	}
	c.currentBackoff = min(maxBackoff, c.currentBackoff*2)
}

func (c *Consumer) clearBackoff() {
	c.currentBackoff = 0
}

// pullMessage receives one command message and processes it. Errors are
// handled internally before return; the return value exists for tests.
func (c *Consumer) pullMessage(ctx context.Context) error {
	msg, err := c.consumer.Pull(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.ErrorContext(ctx, "cannot receive message from amqp, retrying", "error", err)
			c.metrics.ObserveCommandError(ctx)
			c.backoff(ctx)
		}
		return err
	}

	headers := make(map[string]string)
	for h, v := range msg.Headers {
		if strVal, ok := v.(string); ok {
			headers[h] = strVal
		}
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
	ctx, span := tracer.Start(ctx, "consume command")
	defer span.End()

	command, err := parseCommand(msg.Body)
	if err != nil {
		logger.ErrorContext(ctx, "cannot parse command message", "error", err)
		span.RecordError(err)
		c.metrics.ObserveDiscardedCommand(ctx)
		c.discardMessage(ctx, &msg)
		return err
	}

	err = c.handleCommand(ctx, command)
	if err == nil {
		c.consumedMessage(ctx, &msg)
		c.metrics.ObserveConsumedCommand(ctx, command.Action)
		c.clearBackoff()
		return nil
	}

	span.RecordError(err)
	var handlingErr *queue.MessageHandlingError
	if errors.As(err, &handlingErr) && handlingErr.Requeue {
		c.metrics.ObserveCommandError(ctx)
		c.requeueMessage(ctx, &msg)
		c.backoff(ctx)
		return err
	}

	// Conflicts cannot succeed on retry; dead-letter the message.
	logger.InfoContext(ctx, "discarding conflicting command", "action", command.Action, "error", err)
	c.metrics.ObserveDiscardedCommand(ctx)
	c.discardMessage(ctx, &msg)
	return err
}

func parseCommand(body []byte) (commandMessage, error) {
	command := commandMessage{}
	if err := json.Unmarshal(body, &command); err != nil {
		return command, fmt.Errorf("invalid command message: %w", err)
	}

	switch command.Action {
	case actionNew:
		if command.Buildset == nil {
			return command, fmt.Errorf("missing buildset in new command")
		}
		if len(command.Requests) == 0 {
			return command, fmt.Errorf("missing requests in new command")
		}
		for _, request := range command.Requests {
			if request.ID == 0 {
				return command, fmt.Errorf("missing buildrequestid in new command")
			}
			if request.BuilderID == 0 {
				return command, fmt.Errorf("missing builderid in new command")
			}
		}
	case actionClaim, actionUnclaim:
		if len(command.BRIDs) == 0 {
			return command, fmt.Errorf("missing brids in %s command", command.Action)
		}
	case actionComplete:
		if len(command.BRIDs) == 0 {
			return command, fmt.Errorf("missing brids in complete command")
		}
		if command.Results == nil {
			return command, fmt.Errorf("missing results in complete command")
		}
	default:
		return command, fmt.Errorf("unknown command action: %q", command.Action)
	}
	return command, nil
}

// handleCommand applies one parsed command to the store.
func (c *Consumer) handleCommand(ctx context.Context, command commandMessage) error {
	switch command.Action {
	case actionNew:
		return c.insertBuildset(ctx, command)
	case actionClaim:
		return c.store.Claim(ctx, command.BRIDs, c.masterID, time.Time{})
	case actionComplete:
		return c.store.Complete(ctx, command.BRIDs, *command.Results, time.Time{})
	case actionUnclaim:
		c.store.Unclaim(ctx, command.BRIDs, c.masterID)
		return nil
	}
	return nil
}

func (c *Consumer) insertBuildset(ctx context.Context, command commandMessage) error {
	stampIDs := make([]int, 0, len(command.Buildset.SourceStamps))
	for _, stamp := range command.Buildset.SourceStamps {
		c.registry.AddSourceStamp(stamp)
		stampIDs = append(stampIDs, stamp.ID)
	}
	c.registry.AddBuildset(buildsets.Buildset{
		ID:             command.Buildset.ID,
		SourceStampIDs: stampIDs,
	})

	requests := make([]buildrequests.BuildRequest, 0, len(command.Requests))
	for _, request := range command.Requests {
		submittedAt := request.SubmittedAt
		if submittedAt.IsZero() {
			submittedAt = time.Now()
		}
		requests = append(requests, buildrequests.BuildRequest{
			ID:          request.ID,
			BuildsetID:  command.Buildset.ID,
			BuilderID:   request.BuilderID,
			Priority:    request.Priority,
			Results:     buildrequests.ResultsNotSet,
			SubmittedAt: submittedAt,
			WaitedFor:   request.WaitedFor,
		})
	}
	c.store.InsertBuildRequests(ctx, requests)
	return nil
}

func (c *Consumer) discardMessage(ctx context.Context, delivery *amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		logger.ErrorContext(ctx, "cannot discard queue message", "error", err)
		oteltrace.SpanFromContext(ctx).RecordError(err)
		c.metrics.ObserveCommandError(ctx)
	}
}

func (c *Consumer) consumedMessage(ctx context.Context, delivery *amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		logger.ErrorContext(ctx, "cannot ack queue message", "error", err)
		oteltrace.SpanFromContext(ctx).RecordError(err)
		c.metrics.ObserveCommandError(ctx)
	}
}

func (c *Consumer) requeueMessage(ctx context.Context, delivery *amqp.Delivery) {
	if err := delivery.Nack(false, true); err != nil {
		logger.ErrorContext(ctx, "cannot requeue message", "error", err)
		oteltrace.SpanFromContext(ctx).RecordError(err)
		c.metrics.ObserveCommandError(ctx)
	}
}
