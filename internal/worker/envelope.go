package worker

import (
	"github.com/IBM/sarama"
	"github.com/corebus/platform/internal/naming"
)

// envelope is the broker-neutral set of headers every command message
// carries (spec §6): commandId, commandName, businessKey, correlationId,
// replyTo, and optionally replyTopic for an event-routed reply.
type envelope struct {
	CommandID     string
	CommandName   string
	BusinessKey   string
	CorrelationID string
	ReplyTo       string
	ReplyTopic    string
}

func parseEnvelope(msg *sarama.ConsumerMessage) envelope {
	var env envelope
	for _, h := range msg.Headers {
		switch string(h.Key) {
		case "commandId":
			env.CommandID = string(h.Value)
		case "commandName":
			env.CommandName = string(h.Value)
		case "businessKey":
			env.BusinessKey = string(h.Value)
		case "correlationId":
			env.CorrelationID = string(h.Value)
		case "replyTo":
			env.ReplyTo = string(h.Value)
		case "replyTopic":
			env.ReplyTopic = string(h.Value)
		}
	}
	return env
}

// replyTo returns the queue a reply outbox row should be published to,
// falling back to the configured default reply queue.
func (e envelope) replyTo(queues naming.Queues) string {
	if e.ReplyTo != "" {
		return e.ReplyTo
	}
	return queues.ReplyTo()
}

// replyHeaders carries correlation context onto a reply/event outbox row.
func (e envelope) replyHeaders() map[string]string {
	return map[string]string{
		"commandId":     e.CommandID,
		"commandName":   e.CommandName,
		"businessKey":   e.BusinessKey,
		"correlationId": e.CorrelationID,
	}
}

// replyHeadersWithType is replyHeaders plus a "type" header carrying the
// reply's outcome, letting a consumer branch without parsing the payload —
// used by the Process Manager's OnReply dispatch.
func (e envelope) replyHeadersWithType(replyType string) map[string]string {
	h := e.replyHeaders()
	h["type"] = replyType
	return h
}

// requeueHeaders carries the same routing information forward onto a
// rescheduled command outbox row so the eventual redelivery still knows
// where to send its reply.
func (e envelope) requeueHeaders() map[string]string {
	h := e.replyHeaders()
	h["replyTo"] = e.ReplyTo
	if e.ReplyTopic != "" {
		h["replyTopic"] = e.ReplyTopic
	}
	return h
}
