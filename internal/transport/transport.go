// Package transport defines the pub/sub contract the message router sends
// and receives envelopes through, and the topic-naming scheme described in
// SPEC_FULL.md section 6. Concrete transports (the AMQP/watermill one in
// transport/amqp, and an in-memory one for tests) implement Bus.
package transport

import (
	"context"
	"fmt"

	"github.com/webitel/cellmesh/internal/domain/model"
)

const TopicPrefix = "cells.intercell"

// Handler processes one inbound envelope. It never returns a value — replies
// are sent by publishing a new response envelope, matching the at-least-once
// fire-and-forget nature of the bus.
type Handler func(ctx context.Context, env *model.Envelope)

// Bus is the narrow publish/subscribe surface the router needs. A concrete
// implementation owns connection lifecycle, acking and retry of the
// underlying broker.
type Bus interface {
	// Publish sends env on topic. Request topics are fanout; response topics
	// are direct per-host, per SPEC_FULL.md section 6.
	Publish(ctx context.Context, topic string, env *model.Envelope) error
	// Subscribe registers handler as the sole consumer of topic. Calling
	// Subscribe twice on the same topic replaces the previous handler.
	Subscribe(ctx context.Context, topic string, handler Handler) error
}

// RequestTopic names the fanout queue a given cell's router consumes
// targeted or broadcast envelopes from.
//
// This is the "clearly intended" fix for the source's send_message_to_cell
// format-string bug noted in spec.md section 9: always format topicBase with
// the message kind, never leave the directive unexpanded.
func RequestTopic(cellName string, kind model.Kind) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, kind, cellName)
}

// ResponseTopic names the direct per-host queue a response is delivered to,
// bypassing the fanout request pool to avoid the response-path deadlock
// described in spec.md section 4.3.
func ResponseTopic(hostname string) string {
	return fmt.Sprintf("%s.response.%s", TopicPrefix, hostname)
}
