package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"tgblast/internal/transport"
	logx "tgblast/pkg/logx"
)

// ErrNotConfirmed reports a full send attempted without the safety gate.
// It fires before any job record exists.
var ErrNotConfirmed = errors.New("broadcast not confirmed: pass confirm, or use dry-run / preview")

// Request describes one broadcast invocation.
type Request struct {
	InitiatorID int64
	Message     transport.Message
	Mode        Mode
	// Confirmed must be set for a full send. Dry runs and previews are
	// exempt; they cannot reach anyone unintended.
	Confirmed bool
	Options   Options
}

func (r Request) validate() error {
	if r.Mode == ModeFull && !r.Confirmed {
		return ErrNotConfirmed
	}
	if r.Options.BatchSize <= 0 {
		return fmt.Errorf("%w: %d", ErrBadBatchSize, r.Options.BatchSize)
	}
	return nil
}

// Report is what the operator sees when a run returns.
type Report struct {
	JobID   string
	DryRun  bool
	Summary Summary
	Elapsed time.Duration
	// BookkeepingErr is set when the terminal record write failed. The
	// deliveries in Summary still happened.
	BookkeepingErr error
}

// Controller owns the job lifecycle. It is the only component that touches
// the Store; delivery workers report outcomes back to it and nothing else.
type Controller struct {
	resolver Resolver
	client   transport.Client
	store    Store
	log      logx.Logger
}

// New wires a controller. client may be nil when every run is a dry run;
// any delivery mode requires it.
func New(resolver Resolver, client transport.Client, store Store, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{resolver: resolver, client: client, store: store, log: log}
}

// Run executes one job end to end: resolve, persist the running record,
// deliver per mode, fold outcomes, write the terminal record.
//
// Pre-flight failures (missing confirmation, bad batch size, directory or
// insert errors) return an error before any delivery. After delivery has
// started, failures are folded into the summary instead; a failed terminal
// write is reported via Report.BookkeepingErr, never by re-running sends.
func (c *Controller) Run(ctx context.Context, req Request) (*Report, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	targets, err := c.resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	// Preview narrows the target set before the record is created, so the
	// persisted target_count matches what the job can actually touch.
	if req.Mode == ModePreview {
		targets = []transport.ChatTarget{{ChatID: req.InitiatorID}}
	}

	start := time.Now()
	rec := &Record{
		InitiatorID: req.InitiatorID,
		Message:     req.Message.Text,
		Media:       req.Message.Media,
		TargetCount: len(targets),
		Status:      StatusRunning,
		StartedAt:   start,
	}
	id, err := c.store.Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("persist job record: %w", err)
	}
	rec.ID = id

	log := c.log.With(logx.String("job", id), logx.String("mode", req.Mode.String()))
	log.Info("broadcast job started", logx.Int("recipients", len(targets)))

	if req.Mode == ModeDryRun {
		rec.Status = StatusDryRun
		rec.FinishedAt = time.Now()
		rec.Summary = &Summary{Recipients: len(targets)}
		rep := &Report{JobID: id, DryRun: true, Summary: *rec.Summary, Elapsed: time.Since(start)}
		if err := c.writeTerminal(ctx, rec); err != nil {
			log.Warn("terminal record write failed", logx.Err(err))
			rep.BookkeepingErr = err
		}
		return rep, nil
	}

	if c.client == nil {
		return nil, errors.New("transport client is required for delivery modes")
	}

	var lim *rate.Limiter
	if rps := req.Options.RatePerSec; rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), rps)
	}

	outcomes := make([]Outcome, len(targets))
	done, runErr := runBatches(ctx, len(targets), req.Options, func(i int) {
		outcomes[i] = deliver(ctx, c.client, lim, targets[i], req.Message, req.Options, log)
	})
	if runErr != nil {
		log.Warn("broadcast interrupted", logx.Int("done", done), logx.Err(runErr))
	}
	// Recipients the scheduler never reached terminate as skipped so the
	// summary still accounts for every one of them.
	for i := done; i < len(targets); i++ {
		outcomes[i] = Outcome{Target: targets[i], Status: OutcomeSkipped}
	}

	sum := fold(outcomes)
	rec.Status = StatusFinished
	rec.FinishedAt = time.Now()
	rec.Summary = &sum

	rep := &Report{JobID: id, Summary: sum, Elapsed: time.Since(start)}
	if err := c.writeTerminal(ctx, rec); err != nil {
		log.Warn("terminal record write failed", logx.Err(err))
		rep.BookkeepingErr = err
	}

	fields := []logx.Field{
		logx.Int("sent", sum.Sent),
		logx.Int("failed", sum.Failed),
		logx.Int("blocked", sum.Blocked),
		logx.Int("skipped", sum.Skipped),
		logx.Duration("dur", rep.Elapsed),
	}
	if sum.Failed > 0 || sum.Skipped > 0 {
		log.Warn("broadcast job finished with failures", fields...)
	} else {
		log.Info("broadcast job finished", fields...)
	}
	return rep, nil
}

// writeTerminal persists the terminal record detached from job cancellation:
// an interrupted job still deserves its summary on disk. A short deadline
// keeps shutdown bounded when the store itself is wedged.
func (c *Controller) writeTerminal(ctx context.Context, rec *Record) error {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return c.store.Update(uctx, rec)
}

// fold aggregates per-recipient outcomes into the job summary, keeping at
// most maxErrorSample failure entries for operator inspection.
func fold(outcomes []Outcome) Summary {
	var sum Summary
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeSent:
			sum.Sent++
		case OutcomeSkipped:
			sum.Skipped++
		case OutcomeFailed:
			sum.Failed++
			if o.Kind == KindPermanent {
				sum.Blocked++
			}
			if len(sum.Errors) < maxErrorSample {
				e := SampleError{ChatID: o.Target.ChatID, Kind: o.Kind}
				if o.Err != nil {
					e.Detail = o.Err.Error()
				}
				sum.Errors = append(sum.Errors, e)
			}
		}
	}
	return sum
}
