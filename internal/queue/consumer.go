/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

package queue

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AmqpConsumer is an AMQP consumer for build request command messages.
type AmqpConsumer struct {
	client  *Client
	config  Config
	channel <-chan amqp.Delivery
}

// NewAmqpConsumer creates a consumer for the command queue described by
// config. The connection is established lazily on the first Pull.
func NewAmqpConsumer(uri string, config Config) *AmqpConsumer {
	return &AmqpConsumer{
		client: newClient(uri),
		config: config,
	}
}

// Pull retrieves one message from the command queue.
func (c *AmqpConsumer) Pull(ctx context.Context) (amqp.Delivery, error) {
	c.client.mu.Lock() // Serializes access to the connection/channel pair.
	defer c.client.mu.Unlock()

	if err := c.ensureConsuming(); err != nil {
		return amqp.Delivery{}, err
	}

	select {
	case msg, ok := <-c.channel:
		if !ok {
			// channel is closed
			c.channel = nil
			return amqp.Delivery{}, errors.New("amqp message channel closed")
		}
		return msg, nil
	case <-ctx.Done():
		return amqp.Delivery{}, ctx.Err()
	}
}

func (c *AmqpConsumer) ensureConsuming() error {
	channelWasLive := c.client.amqpChannel != nil && !c.client.amqpChannel.IsClosed()
	if err := c.client.ensureChannel(); err != nil {
		return err
	}
	if !channelWasLive {
		c.channel = nil
		if err := c.declareTopology(); err != nil {
			return err
		}
	}

	if c.channel != nil {
		return nil
	}

	err := c.client.amqpChannel.Qos(
		1,     // one unacknowledged message at a time
		0,     // no size limit
		false, // apply to this channel only
	)
	if err != nil {
		return fmt.Errorf("cannot set amqp channel Qos: %w", err)
	}

	channel, err := c.client.amqpChannel.Consume(
		c.config.CommandQueue,
		"",    // consumer tag, generated by the broker
		false, // no auto-ack
		true,  // exclusive
		false, // no-local
		false, // wait for broker confirmation
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("cannot consume amqp messages: %w", err)
	}
	c.channel = channel
	return nil
}

func (c *AmqpConsumer) declareTopology() error {
	if err := c.client.declareExchange(c.config.CommandExchange, "direct"); err != nil {
		return err
	}
	if err := c.client.setupDeadLetterQueue(
		c.config.DeadLetterExchange,
		c.config.DeadLetterQueue,
		c.config.CommandRoutingKey,
	); err != nil {
		return err
	}
	err := c.client.declareQueue(c.config.CommandQueue, amqp.Table{
		"x-dead-letter-exchange": c.config.DeadLetterExchange,
	})
	if err != nil {
		return err
	}
	return c.client.bindQueue(c.config.CommandQueue, c.config.CommandRoutingKey, c.config.CommandExchange)
}

// Close closes the consumer connection.
func (c *AmqpConsumer) Close() error {
	return c.client.Close()
}
