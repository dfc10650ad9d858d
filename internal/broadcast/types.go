package broadcast

import (
	"context"
	"time"

	"tgblast/internal/transport"
)

// Mode selects how a job treats the resolved recipient set.
type Mode int

const (
	// ModeFull sends to every resolved recipient. Requires confirmation.
	ModeFull Mode = iota
	// ModeDryRun resolves and counts recipients without any transport calls.
	ModeDryRun
	// ModePreview sends to the initiator only, exercising the full send path.
	ModePreview
)

func (m Mode) String() string {
	switch m {
	case ModeDryRun:
		return "dry_run"
	case ModePreview:
		return "preview"
	default:
		return "full"
	}
}

// Job record statuses as persisted.
const (
	StatusRunning  = "running"
	StatusDryRun   = "dry_run"
	StatusFinished = "finished"
)

// ErrorKind classifies why a recipient ended up failed.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindTransientExhaust ErrorKind = "transient_exhausted"
	KindPermanent        ErrorKind = "permanent"
	KindUnknown          ErrorKind = "unknown"
)

// OutcomeStatus is the terminal state of one recipient within a job.
type OutcomeStatus int

const (
	OutcomeSent OutcomeStatus = iota
	OutcomeFailed
	OutcomeSkipped
)

// Outcome is the terminal result of one recipient's attempt sequence.
// Attempts is zero only for skipped recipients (never attempted).
type Outcome struct {
	Target   transport.ChatTarget
	Status   OutcomeStatus
	Kind     ErrorKind
	Attempts int
	Err      error
}

// SampleError is one entry of the bounded error sample kept in the summary.
type SampleError struct {
	ChatID int64     `json:"recipient_id"`
	Kind   ErrorKind `json:"error_kind"`
	Detail string    `json:"detail,omitempty"`
}

// maxErrorSample bounds the per-job error sample retained in the summary.
const maxErrorSample = 10

// Summary aggregates a finished job. For dry runs only Recipients is set.
type Summary struct {
	Recipients int           `json:"recipients,omitempty"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Blocked    int           `json:"blocked"`
	Skipped    int           `json:"skipped"`
	Errors     []SampleError `json:"errors_sample,omitempty"`
}

// Record is the durable job record. The Controller is its only writer.
type Record struct {
	ID          string
	InitiatorID int64
	Message     string
	Media       string
	TargetCount int
	Status      string
	StartedAt   time.Time
	FinishedAt  time.Time // zero until terminal
	Summary     *Summary  // nil until terminal
}

// Store persists job records. Insert assigns and returns the job id;
// Update rewrites the full record (no partial patches).
type Store interface {
	Insert(ctx context.Context, rec *Record) (string, error)
	Update(ctx context.Context, rec *Record) error
}

// Resolver produces the ordered, duplicate-free recipient set for a job.
type Resolver interface {
	Resolve(ctx context.Context) ([]transport.ChatTarget, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context) ([]transport.ChatTarget, error)

func (f ResolverFunc) Resolve(ctx context.Context) ([]transport.ChatTarget, error) { return f(ctx) }

// Options control batching and retry for one job run.
type Options struct {
	// BatchSize is the per-batch concurrency cap. Must be > 0.
	BatchSize int
	// BatchDelay is paid once after every batch except the last.
	BatchDelay time.Duration
	// Retries bounds extra attempts after a transient failure.
	Retries int
	// RetryBase seeds the exponential backoff when the transport gives
	// no wait hint.
	RetryBase time.Duration
	// RatePerSec caps sends per second across the whole job. 0 disables.
	RatePerSec int
}

// Defaults mirror the operator command documentation. BatchSize is never
// defaulted by the core: a non-positive value is an input error.
const (
	DefaultBatchSize  = 50
	DefaultBatchDelay = 2 * time.Second
	DefaultRetries    = 3
	DefaultRetryBase  = 2 * time.Second
)
