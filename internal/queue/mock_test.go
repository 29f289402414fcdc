/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

package queue

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// mockAmqpChannel implements AmqpChannel for unit testing.
type mockAmqpChannel struct {
	// Message tracking
	msgs        [][]byte
	headers     []map[string]interface{}
	routingKeys []string

	// State
	isclosed    bool
	closeCalls  int
	closeErr    error
	confirmMode bool

	// Declaration tracking
	exchangeNames []string
	exchangeKinds []string
	queueNames    []string
	queueArgs     map[string]amqp.Table

	// Binding tracking
	bindings []binding

	// Publish behavior
	publishError bool
	publishNoAck bool
	publishHangs bool

	// Error modes
	confirmModeError     bool
	exchangeDeclareError bool
	queueDeclareError    bool
	bindError            bool

	// Consumer support
	consumeCh    <-chan amqp.Delivery
	consumeErr   error
	consumeCalls int
	qosErr       error
	qosPrefetch  int
}

type binding struct {
	queue      string
	routingKey string
	exchange   string
}

func (ch *mockAmqpChannel) PublishWithDeferredConfirm(exchange, key string, _, _ bool, msg amqp.Publishing) (Confirmation, error) {
	if ch.publishError {
		return nil, errors.New("publish error")
	}
	ch.msgs = append(ch.msgs, msg.Body)
	ch.headers = append(ch.headers, msg.Headers)
	ch.routingKeys = append(ch.routingKeys, key)

	doneCh := make(chan struct{}, 1)
	if !ch.publishHangs {
		doneCh <- struct{}{}
	}
	return &mockConfirmation{done: doneCh, ack: !ch.publishNoAck}, nil
}

func (ch *mockAmqpChannel) IsClosed() bool {
	return ch.isclosed
}

func (ch *mockAmqpChannel) Confirm(_ bool) error {
	if ch.confirmModeError {
		return errors.New("confirm error")
	}
	ch.confirmMode = true
	return nil
}

func (ch *mockAmqpChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	if ch.exchangeDeclareError {
		return errors.New("exchange declare error")
	}
	ch.exchangeNames = append(ch.exchangeNames, name)
	ch.exchangeKinds = append(ch.exchangeKinds, kind)
	return nil
}

func (ch *mockAmqpChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if ch.queueDeclareError {
		return amqp.Queue{}, errors.New("queue declare error")
	}
	if ch.queueArgs == nil {
		ch.queueArgs = make(map[string]amqp.Table)
	}
	ch.queueNames = append(ch.queueNames, name)
	ch.queueArgs[name] = args
	return amqp.Queue{Name: name}, nil
}

func (ch *mockAmqpChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	if ch.bindError {
		return errors.New("bind error")
	}
	ch.bindings = append(ch.bindings, binding{queue: name, routingKey: key, exchange: exchange})
	return nil
}

func (ch *mockAmqpChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch.consumeCalls++
	return ch.consumeCh, ch.consumeErr
}

func (ch *mockAmqpChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.qosPrefetch = prefetchCount
	return ch.qosErr
}

func (ch *mockAmqpChannel) Close() error {
	ch.closeCalls++
	ch.isclosed = true
	return ch.closeErr
}

// mockConfirmation implements Confirmation for unit testing.
type mockConfirmation struct {
	done <-chan struct{}
	ack  bool
}

func (c *mockConfirmation) Done() <-chan struct{} {
	return c.done
}

func (c *mockConfirmation) Acked() bool {
	return c.ack
}

// mockAmqpConnection implements AmqpConnection for unit testing.
type mockAmqpConnection struct {
	channelCalls int
	amqpChannel  *mockAmqpChannel
	channelErr   error
	isclosed     bool
	closeCalls   int
	closeErr     error
}

func (m *mockAmqpConnection) Channel() (AmqpChannel, error) {
	if m.channelErr != nil {
		return nil, m.channelErr
	}
	m.channelCalls++
	if m.amqpChannel == nil {
		m.amqpChannel = &mockAmqpChannel{}
	}
	return m.amqpChannel, nil
}

func (m *mockAmqpConnection) IsClosed() bool {
	return m.isclosed
}

func (m *mockAmqpConnection) Close() error {
	m.closeCalls++
	m.isclosed = true
	return m.closeErr
}

// mockConnect returns a connectFunc handing out the given connection.
func mockConnect(conn *mockAmqpConnection) func(uri string) (AmqpConnection, error) {
	return func(uri string) (AmqpConnection, error) {
		return conn, nil
	}
}
