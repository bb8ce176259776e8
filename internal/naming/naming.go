// Package naming derives broker topic/queue names from command names,
// per spec §6: a configurable prefix/suffix around the uppercased command
// name for command queues, a single reply queue, and a prefixed event
// topic. Both the Command Bus (producer) and the Worker Runtime
// (consumer) depend on the same derivation so neither can drift.
package naming

import "strings"

// Queues derives command/reply queue and event topic names from config.
type Queues struct {
	CommandPrefix string
	QueueSuffix   string
	ReplyQueue    string
	EventPrefix   string
}

// DefaultQueues returns the spec's documented defaults.
func DefaultQueues() Queues {
	return Queues{
		CommandPrefix: "APP.CMD.",
		QueueSuffix:   ".Q",
		ReplyQueue:    "APP.CMD.REPLY.Q",
		EventPrefix:   "events.",
	}
}

// CommandQueue returns the queue name a command of the given type is
// published to and consumed from: prefix + UPPER(name) + suffix.
func (q Queues) CommandQueue(commandName string) string {
	return q.CommandPrefix + strings.ToUpper(commandName) + q.QueueSuffix
}

// ReplyTo returns the default reply queue, used when a caller does not
// supply its own reply routing.
func (q Queues) ReplyTo() string {
	return q.ReplyQueue
}

// EventTopic returns the domain event topic for a command type.
func (q Queues) EventTopic(commandName string) string {
	return q.EventPrefix + commandName
}

// DeadLetterQueue returns the transport-level dead letter topic, where
// the consumer parks messages that repeatedly fail before reaching any
// handler.
func (q Queues) DeadLetterQueue() string {
	return q.CommandPrefix + "DLQ" + q.QueueSuffix
}
