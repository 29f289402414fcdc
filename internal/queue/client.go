/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

// Package queue provides the AMQP plumbing shared by the lifecycle event
// producer and the command consumer: lazy connection and channel
// management, exchange/queue declaration, and dead-letter setup.
package queue

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client manages one AMQP connection and channel, re-establishing them
// lazily when the broker closes either. All access must hold mu.
type Client struct {
	uri         string
	connectFunc func(uri string) (AmqpConnection, error)

	mu             sync.Mutex
	amqpConnection AmqpConnection
	amqpChannel    AmqpChannel
}

func newClient(uri string) *Client {
	return &Client{uri: uri, connectFunc: amqpConnect}
}

// ensureChannel makes sure a live connection and confirm-mode channel
// exist, reconnecting as needed. Callers must hold c.mu.
func (c *Client) ensureChannel() error {
	if c.amqpConnection == nil || c.amqpConnection.IsClosed() {
		conn, err := c.connectFunc(c.uri)
		if err != nil {
			return fmt.Errorf("failed to connect to AMQP server: %w", err)
		}
		c.amqpConnection = conn
		c.amqpChannel = nil
	}

	if c.amqpChannel == nil || c.amqpChannel.IsClosed() {
		channel, err := c.amqpConnection.Channel()
		if err != nil {
			return fmt.Errorf("failed to open AMQP channel: %w", err)
		}
		if err := channel.Confirm(false); err != nil {
			return fmt.Errorf("failed to put AMQP channel into confirm mode: %w", err)
		}
		c.amqpChannel = channel
	}
	return nil
}

func (c *Client) declareExchange(name, kind string) error {
	err := c.amqpChannel.ExchangeDeclare(
		name,
		kind,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", name, err)
	}
	return nil
}

func (c *Client) declareQueue(name string, args amqp.Table) error {
	_, err := c.amqpChannel.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		args,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", name, err)
	}
	return nil
}

func (c *Client) bindQueue(name, key, exchange string) error {
	err := c.amqpChannel.QueueBind(name, key, exchange, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind queue %q to %q: %w", name, exchange, err)
	}
	return nil
}

// setupDeadLetterQueue declares the dead-letter exchange and queue and
// binds them together. Callers must hold c.mu with a live channel.
func (c *Client) setupDeadLetterQueue(dlxName, dlqName, routingKey string) error {
	if err := c.declareExchange(dlxName, "direct"); err != nil {
		return fmt.Errorf("cannot declare dead-letter exchange: %w", err)
	}
	if err := c.declareQueue(dlqName, nil); err != nil {
		return fmt.Errorf("cannot declare dead-letter queue: %w", err)
	}
	if err := c.bindQueue(dlqName, routingKey, dlxName); err != nil {
		return fmt.Errorf("cannot bind dead-letter queue: %w", err)
	}
	return nil
}

// Close closes the channel and connection if they are open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.amqpChannel != nil && !c.amqpChannel.IsClosed() {
		if err := c.amqpChannel.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close AMQP channel: %w", err)
		}
	}
	if c.amqpConnection != nil && !c.amqpConnection.IsClosed() {
		if err := c.amqpConnection.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close AMQP connection: %w", err)
		}
	}
	c.amqpChannel = nil
	c.amqpConnection = nil
	return firstErr
}
