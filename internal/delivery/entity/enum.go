package entity

import (
	"strings"
)

// Status is the delivery lifecycle state of an outbox message.
type Status int16

const (
	StatusUnknown    Status = 0
	StatusPending    Status = 1
	StatusQueued     Status = 2
	StatusProcessing Status = 3
	StatusSent       Status = 4
	StatusDelivered  Status = 5
	StatusFailed     Status = 6
	StatusBounced    Status = 7
)

func StatusFromString(raw string) Status {
	switch strings.TrimSpace(raw) {
	case "pending":
		return StatusPending
	case "queued":
		return StatusQueued
	case "processing":
		return StatusProcessing
	case "sent":
		return StatusSent
	case "delivered":
		return StatusDelivered
	case "failed":
		return StatusFailed
	case "bounced":
		return StatusBounced
	default:
		return StatusUnknown
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusQueued:
		return "queued"
	case StatusProcessing:
		return "processing"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	case StatusBounced:
		return "bounced"
	default:
		return "unknown"
	}
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// step. Compare-and-swap updates in the repository enforce the same rules.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusQueued || next == StatusProcessing || next == StatusFailed
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		switch next {
		case StatusSent, StatusFailed, StatusBounced:
			return true
		case StatusPending, StatusQueued:
			// Retry scheduling and claim release.
			return true
		default:
			return false
		}
	case StatusSent:
		// Bounce notifications can arrive after the provider accepted the
		// message.
		return next == StatusDelivered || next == StatusBounced
	case StatusFailed, StatusBounced:
		// Requeue after correction or operator action.
		return next == StatusPending
	case StatusDelivered, StatusUnknown:
		return false
	default:
		return false
	}
}

// Settled reports states where re-consuming the message must be a no-op.
func (s Status) Settled() bool {
	return s == StatusSent || s == StatusDelivered
}

// Source records how a message entered the outbox.
type Source int16

const (
	SourceUnknown Source = 0
	SourceAPI     Source = 1
	SourceQueue   Source = 2
	SourceDirect  Source = 3
	SourceRequeue Source = 4
)

func SourceFromString(raw string) Source {
	switch strings.TrimSpace(raw) {
	case "api":
		return SourceAPI
	case "queue":
		return SourceQueue
	case "direct":
		return SourceDirect
	case "requeue":
		return SourceRequeue
	default:
		return SourceUnknown
	}
}

func (s Source) String() string {
	switch s {
	case SourceAPI:
		return "api"
	case SourceQueue:
		return "queue"
	case SourceDirect:
		return "direct"
	case SourceRequeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// BodyFormat identifies the format of a pre-rendered message body.
type BodyFormat int16

const (
	BodyFormatUnknown BodyFormat = 0
	BodyFormatText    BodyFormat = 1
	BodyFormatHTML    BodyFormat = 2
)

func BodyFormatFromString(raw string) BodyFormat {
	switch strings.TrimSpace(raw) {
	case "text":
		return BodyFormatText
	case "html":
		return BodyFormatHTML
	default:
		return BodyFormatUnknown
	}
}

func (f BodyFormat) String() string {
	switch f {
	case BodyFormatText:
		return "text"
	case BodyFormatHTML:
		return "html"
	default:
		return "unknown"
	}
}
