// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package bus

import (
	"context"
	"errors"
)

var (
	// ErrHandlerFailed signals to Subscribe's caller that a handler returned
	// an error; the message is intentionally left un-acked (pending).
	ErrHandlerFailed = errors.New("bus: handler failed")
)

// Message is a single delivery off a topic: the opaque payload plus enough
// identity to ack it.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
}

// Handler processes one Message. Returning a non-nil error leaves the
// message un-acked and pending, so it is delivered again when that consumer
// next reads its pending entries.
type Handler func(ctx context.Context, msg Message) error

// Bus is a durable topic log with consumer-group semantics: at-least-once
// delivery, explicit ack, and lazy group/stream creation.
type Bus interface {
	// Publish appends payload to topic and returns the assigned message id.
	Publish(ctx context.Context, topic string, payload []byte) (string, error)

	// Subscribe starts delivering messages on topic to the named consumer
	// group/consumer pair, draining any pending backlog before joining live
	// delivery. It blocks until ctx is canceled.
	Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) error

	// Ack acknowledges successful processing of messageID on topic/group.
	Ack(ctx context.Context, topic, group, messageID string) error

	// Close releases underlying connections.
	Close() error
}

// StreamScanner is an optional Bus capability used by the Transcript
// Consumer's startup crash-recovery sweep to discover transcript.<callId>
// streams left over from a prior process. Not part of Bus itself: ongoing
// discovery must stay activity-driven, never a blind periodic scan.
type StreamScanner interface {
	ScanTopics(ctx context.Context, pattern string) ([]string, error)
}

// Topic names shared across components. transcript.<callId> is per-call and
// has no single constant; TranscriptTopic builds it.
const (
	TopicAudioStream = "audio_stream"
	TopicCallEnd     = "call_end"
	// TopicTranscriptControl carries subscribe/unsubscribe requests from the
	// App ingest endpoint to the Transcript Consumer, the activity-driven
	// alternative to blind stream scanning.
	TopicTranscriptControl = "transcript_control"
	transcriptPrefix       = "transcript."
)

// TranscriptTopic returns the transcript.<callId> stream name for callID.
func TranscriptTopic(callID string) string {
	return transcriptPrefix + callID
}

// IsTranscriptTopic reports whether topic matches the transcript.<callId>
// naming scheme used by the Transcript Consumer's discovery scan.
func IsTranscriptTopic(topic string) bool {
	return len(topic) > len(transcriptPrefix) && topic[:len(transcriptPrefix)] == transcriptPrefix
}

// CallIDFromTranscriptTopic extracts callId from a transcript.<callId> topic
// name; it returns "" if topic does not match the pattern.
func CallIDFromTranscriptTopic(topic string) string {
	if !IsTranscriptTopic(topic) {
		return ""
	}
	return topic[len(transcriptPrefix):]
}
