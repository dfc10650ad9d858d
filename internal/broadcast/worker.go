package broadcast

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"tgblast/internal/transport"
	logx "tgblast/pkg/logx"
)

// deliver drives one recipient through the retry state machine and always
// returns a terminal outcome; transport failures never escape as errors.
//
// Transient results are retried up to opt.Retries extra attempts, sleeping
// for the transport's suggested wait when present and for an exponential
// backoff seeded by opt.RetryBase otherwise. Permanent and unknown results
// terminate immediately regardless of remaining retry budget.
func deliver(ctx context.Context, client transport.Client, lim *rate.Limiter, to transport.ChatTarget, msg transport.Message, opt Options, log logx.Logger) Outcome {
	attempts := 0
	for {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				// Cancelled before the first call: never attempted.
				if attempts == 0 {
					return Outcome{Target: to, Status: OutcomeSkipped, Err: err}
				}
				return Outcome{Target: to, Status: OutcomeFailed, Kind: KindTransientExhaust, Attempts: attempts, Err: err}
			}
		}

		res := client.Send(ctx, to, msg)
		attempts++

		switch res.Status {
		case transport.Delivered:
			return Outcome{Target: to, Status: OutcomeSent, Attempts: attempts}

		case transport.Permanent:
			return Outcome{Target: to, Status: OutcomeFailed, Kind: KindPermanent, Attempts: attempts, Err: res.Err}

		case transport.Transient:
			if attempts > opt.Retries {
				return Outcome{Target: to, Status: OutcomeFailed, Kind: KindTransientExhaust, Attempts: attempts, Err: res.Err}
			}
			wait := res.RetryAfter
			if wait <= 0 {
				wait = retryDelay(opt.RetryBase, attempts)
			}
			log.Debug("send retry scheduled",
				logx.Int64("chat_id", to.ChatID),
				logx.Int("attempt", attempts+1),
				logx.Duration("delay", wait),
				logx.Err(res.Err))
			tmr := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return Outcome{Target: to, Status: OutcomeFailed, Kind: KindTransientExhaust, Attempts: attempts, Err: ctx.Err()}
			case <-tmr.C:
			}

		default:
			return Outcome{Target: to, Status: OutcomeFailed, Kind: KindUnknown, Attempts: attempts, Err: res.Err}
		}
	}
}

// retryDelay is the attempt-indexed exponential backoff used when the
// transport gave no wait hint: base * 2^(attempt-1), capped at 60s.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultRetryBase
	}
	const maxDelay = 60 * time.Second
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}
