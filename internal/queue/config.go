/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

package queue

// Default AMQP configuration values for the build request exchanges.
const (
	defaultEventExchangeName = "buildrequest-events"

	defaultCommandExchangeName = "buildrequest-commands"
	defaultCommandQueueName    = "buildrequest-commands"
	defaultCommandRoutingKey   = "command"

	defaultDeadLetterExchangeName = "buildrequest-commands-dlx"
	defaultDeadLetterQueueName    = "buildrequest-commands-dlq"
)

// Config holds AMQP exchange, queue, and routing configuration.
type Config struct {
	// EventExchange is the topic exchange lifecycle events are published
	// to; events carry per-message routing keys.
	EventExchange string
	// CommandExchange, CommandQueue and CommandRoutingKey describe where
	// command messages for the master are published and consumed.
	CommandExchange   string
	CommandQueue      string
	CommandRoutingKey string
	// DeadLetterExchange and DeadLetterQueue receive command messages
	// that were rejected without requeueing.
	DeadLetterExchange string
	DeadLetterQueue    string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		EventExchange:      defaultEventExchangeName,
		CommandExchange:    defaultCommandExchangeName,
		CommandQueue:       defaultCommandQueueName,
		CommandRoutingKey:  defaultCommandRoutingKey,
		DeadLetterExchange: defaultDeadLetterExchangeName,
		DeadLetterQueue:    defaultDeadLetterQueueName,
	}
}
