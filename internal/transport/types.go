// Package transport defines the messaging boundary the broadcast core talks to.
//
// A Client sends one message to one chat target and reports the result as a
// tagged outcome instead of raw SDK errors. This keeps retry policy in the
// core decoupled from any particular transport library.
package transport

import (
	"context"
	"time"
)

// ChatTarget identifies one delivery target.
type ChatTarget struct {
	ChatID int64
}

// Message is the payload delivered to every target of a broadcast.
// Media is a local file path or a remote URL; when set, Text becomes
// the media caption.
type Message struct {
	Text   string
	Media  string
	Silent bool
}

// Status classifies the result of a single send attempt.
type Status int

const (
	// Delivered means the message reached the target.
	Delivered Status = iota
	// Transient means the attempt may succeed later (throttling, flood wait).
	Transient
	// Permanent means the attempt will never succeed for this target
	// (blocked, chat gone).
	Permanent
	// Unknown covers unclassified failures. They are not assumed transient.
	Unknown
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Result is the outcome of one send attempt.
// RetryAfter is the transport's suggested wait for Transient results;
// zero means no hint. Err holds the raw error for non-delivered results.
type Result struct {
	Status     Status
	RetryAfter time.Duration
	Err        error
}

// Client sends messages. Implementations must never panic across this
// boundary; every failure is folded into the Result.
type Client interface {
	Send(ctx context.Context, to ChatTarget, msg Message) Result
	Close() error
}
