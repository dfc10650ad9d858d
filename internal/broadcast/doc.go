// Package broadcast implements the message fan-out engine.
//
// A broadcast is one Job: a fixed payload delivered to a resolved set of
// recipients through a rate-limited transport. Recipients are processed in
// contiguous batches; within a batch sends run concurrently, between batches
// the engine pauses so aggregate throughput stays under the transport's
// published limits.
//
// Delivery semantics
//
// Delivery is best-effort, at most one attempt sequence per recipient per
// run. Transient transport failures are retried with backoff up to a
// configured budget; permanent and unknown failures are recorded immediately
// and never retried. Every recipient ends in exactly one terminal outcome
// (sent, failed, or skipped) and per-recipient failures never escape the
// worker as errors.
//
// Bookkeeping
//
// The Controller is the sole writer of the durable job record: one insert
// when the job starts and one terminal update carrying the full summary.
// A failed terminal write is logged but never re-runs delivery; the sends
// already happened, and bookkeeping loss must not become duplicate sends.
package broadcast
