package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tgblast/internal/transport"
	logx "tgblast/pkg/logx"
)

// scriptClient replays a per-target script of results; once a target's
// script is exhausted it keeps delivering.
type scriptClient struct {
	mu      sync.Mutex
	scripts map[int64][]transport.Result
	calls   map[int64]int
	total   int
}

func newScriptClient() *scriptClient {
	return &scriptClient{scripts: map[int64][]transport.Result{}, calls: map[int64]int{}}
}

func (c *scriptClient) script(chatID int64, results ...transport.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[chatID] = results
}

func (c *scriptClient) Send(ctx context.Context, to transport.ChatTarget, msg transport.Message) transport.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.calls[to.ChatID]++
	rs := c.scripts[to.ChatID]
	if len(rs) == 0 {
		return transport.Result{Status: transport.Delivered}
	}
	r := rs[0]
	c.scripts[to.ChatID] = rs[1:]
	return r
}

func (c *scriptClient) Close() error { return nil }

func (c *scriptClient) sends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func transient(wait time.Duration) transport.Result {
	return transport.Result{Status: transport.Transient, RetryAfter: wait, Err: errors.New("throttled")}
}

func TestDeliverOutcomes(t *testing.T) {
	t.Parallel()

	permanent := transport.Result{Status: transport.Permanent, Err: errors.New("blocked")}
	unknown := transport.Result{Status: transport.Unknown, Err: errors.New("boom")}

	tests := []struct {
		name     string
		script   []transport.Result
		retries  int
		status   OutcomeStatus
		kind     ErrorKind
		attempts int
	}{
		{name: "first try", script: nil, retries: 3, status: OutcomeSent, attempts: 1},
		{name: "transient then ok", script: []transport.Result{transient(0), transient(0)}, retries: 3, status: OutcomeSent, attempts: 3},
		{name: "transient exhausted", script: []transport.Result{transient(0), transient(0), transient(0)}, retries: 2, status: OutcomeFailed, kind: KindTransientExhaust, attempts: 3},
		{name: "no retry budget", script: []transport.Result{transient(0)}, retries: 0, status: OutcomeFailed, kind: KindTransientExhaust, attempts: 1},
		{name: "permanent never retried", script: []transport.Result{permanent}, retries: 3, status: OutcomeFailed, kind: KindPermanent, attempts: 1},
		{name: "unknown never retried", script: []transport.Result{unknown}, retries: 3, status: OutcomeFailed, kind: KindUnknown, attempts: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newScriptClient()
			to := transport.ChatTarget{ChatID: 7}
			client.script(to.ChatID, tt.script...)

			opt := Options{BatchSize: 1, Retries: tt.retries, RetryBase: time.Millisecond}
			got := deliver(context.Background(), client, nil, to, transport.Message{Text: "hi"}, opt, logx.Nop())

			if got.Status != tt.status {
				t.Fatalf("Status = %v, want %v", got.Status, tt.status)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %q, want %q", got.Kind, tt.kind)
			}
			if got.Attempts != tt.attempts {
				t.Fatalf("Attempts = %d, want %d", got.Attempts, tt.attempts)
			}
			if max := tt.retries + 1; got.Attempts > max {
				t.Fatalf("Attempts = %d exceeds retries+1 = %d", got.Attempts, max)
			}
		})
	}
}

func TestDeliverHonorsRetryAfterHint(t *testing.T) {
	t.Parallel()
	client := newScriptClient()
	to := transport.ChatTarget{ChatID: 9}
	hint := 40 * time.Millisecond
	client.script(to.ChatID, transient(hint))

	start := time.Now()
	got := deliver(context.Background(), client, nil, to, transport.Message{Text: "hi"},
		Options{BatchSize: 1, Retries: 1, RetryBase: time.Millisecond}, logx.Nop())
	elapsed := time.Since(start)

	if got.Status != OutcomeSent || got.Attempts != 2 {
		t.Fatalf("outcome = %+v, want sent after 2 attempts", got)
	}
	if elapsed < hint {
		t.Fatalf("elapsed %v < suggested wait %v", elapsed, hint)
	}
}

func TestDeliverStopsRetryingOnCancel(t *testing.T) {
	t.Parallel()
	client := newScriptClient()
	to := transport.ChatTarget{ChatID: 3}
	// Endless transients with a long hint; cancellation must cut the loop.
	client.script(to.ChatID, transient(time.Minute), transient(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	got := deliver(ctx, client, nil, to, transport.Message{Text: "hi"},
		Options{BatchSize: 1, Retries: 5, RetryBase: time.Millisecond}, logx.Nop())

	if got.Status != OutcomeFailed {
		t.Fatalf("Status = %v, want failed", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1 (cancel during backoff)", got.Attempts)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("deliver did not respect cancellation")
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()
	base := time.Second
	if d := retryDelay(base, 1); d != time.Second {
		t.Fatalf("attempt 1 delay = %v, want 1s", d)
	}
	if d := retryDelay(base, 3); d != 4*time.Second {
		t.Fatalf("attempt 3 delay = %v, want 4s", d)
	}
	if d := retryDelay(base, 30); d != 60*time.Second {
		t.Fatalf("attempt 30 delay = %v, want cap 60s", d)
	}
}
