/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AmqpProducer publishes messages to the lifecycle event exchange with
// publisher confirms.
type AmqpProducer struct {
	client   *Client
	exchange string
}

// NewAmqpProducer creates a producer publishing to the given topic
// exchange. The connection is established lazily on the first Push.
func NewAmqpProducer(uri, exchange string) *AmqpProducer {
	return &AmqpProducer{
		client:   newClient(uri),
		exchange: exchange,
	}
}

// Push publishes one message and waits for the broker confirmation or
// context cancellation.
func (p *AmqpProducer) Push(ctx context.Context, routingKey string, headers map[string]interface{}, msg []byte) error {
	p.client.mu.Lock()
	confirmation, err := p.publish(routingKey, headers, msg)
	p.client.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-confirmation.Done():
		if !confirmation.Acked() {
			return fmt.Errorf("message not acknowledged by broker")
		}
	}
	return nil
}

func (p *AmqpProducer) publish(routingKey string, headers map[string]interface{}, msg []byte) (Confirmation, error) {
	if err := p.client.ensureChannel(); err != nil {
		return nil, err
	}
	if err := p.client.declareExchange(p.exchange, "topic"); err != nil {
		return nil, err
	}

	confirmation, err := p.client.amqpChannel.PublishWithDeferredConfirm(
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg,
			Headers:     headers,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}
	return confirmation, nil
}

// Close closes the producer connection.
func (p *AmqpProducer) Close() error {
	return p.client.Close()
}
