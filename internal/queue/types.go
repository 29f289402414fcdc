/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

package queue

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AmqpChannel is the subset of amqp.Channel the queue package uses,
// extracted as an interface so tests can substitute mocks.
type AmqpChannel interface {
	PublishWithDeferredConfirm(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (Confirmation, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	IsClosed() bool
	Close() error
}

// AmqpConnection is the subset of amqp.Connection the queue package uses.
type AmqpConnection interface {
	Channel() (AmqpChannel, error)
	IsClosed() bool
	Close() error
}

// Confirmation is a publisher confirmation for a single message.
type Confirmation interface {
	Done() <-chan struct{}
	Acked() bool
}

// Producer publishes messages with the given routing key and waits for the
// broker confirmation.
type Producer interface {
	Push(ctx context.Context, routingKey string, headers map[string]interface{}, msg []byte) error
}

// Consumer pulls one delivery at a time from a queue.
type Consumer interface {
	Pull(ctx context.Context) (amqp.Delivery, error)
	Close() error
}

type amqpConnectionWrapper struct {
	*amqp.Connection
}

func (c *amqpConnectionWrapper) Channel() (AmqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannelWrapper{Channel: ch}, nil
}

type amqpChannelWrapper struct {
	*amqp.Channel
}

func (ch *amqpChannelWrapper) PublishWithDeferredConfirm(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (Confirmation, error) {
	return ch.Channel.PublishWithDeferredConfirm(exchange, key, mandatory, immediate, msg)
}

func amqpConnect(uri string) (AmqpConnection, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}
	return &amqpConnectionWrapper{Connection: conn}, nil
}
