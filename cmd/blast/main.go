// Command blast broadcasts a message to the bot's users.
//
// Safety model: a full send refuses to run unless -confirm is passed;
// -dry-run only resolves and counts recipients, -preview sends to the
// operator alone. Every run leaves a durable job record.
//
// Usage examples:
//
//	blast -config ./blast.yaml -m "Hello users!" -confirm
//	blast -config ./blast.yaml -message-file msg.txt -dry-run
//	blast -config ./blast.yaml -m "Update" -media ./changelog.pdf -plan premium -confirm
//	blast -config ./blast.yaml -m "Morning digest" -confirm -cron "0 9 * * *"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tgblast/internal/broadcast"
	"tgblast/internal/config"
	"tgblast/internal/directory"
	"tgblast/internal/jobstore"
	"tgblast/internal/sched"
	"tgblast/internal/transport"
	"tgblast/internal/transport/telegram"
	logx "tgblast/pkg/logx"
)

type cliArgs struct {
	cfgPath     string
	message     string
	messageFile string
	media       string

	plan       string
	activeOnly bool
	limit      int

	dryRun  bool
	preview bool
	confirm bool

	batchSize  int
	batchDelay string
	retries    int
	rate       int

	silent   bool
	cronSpec string
}

func main() {
	var a cliArgs
	flag.StringVar(&a.cfgPath, "config", "./blast.yaml", "path to config file (yaml or json)")
	flag.StringVar(&a.message, "m", "", "message text to broadcast (HTML allowed)")
	flag.StringVar(&a.message, "message", "", "message text to broadcast (HTML allowed)")
	flag.StringVar(&a.messageFile, "message-file", "", "path to a text file containing the message body")
	flag.StringVar(&a.media, "media", "", "local path or URL of a document to attach")
	flag.StringVar(&a.plan, "plan", "", "restrict recipients to a plan tier (free|premium)")
	flag.BoolVar(&a.activeOnly, "active-only", false, "restrict recipients to active users")
	flag.IntVar(&a.limit, "limit", 0, "cap the number of recipients (testing / staged rollout)")
	flag.BoolVar(&a.dryRun, "dry-run", false, "resolve and count recipients without sending")
	flag.BoolVar(&a.preview, "preview", false, "send only to the owner")
	flag.BoolVar(&a.confirm, "confirm", false, "confirm a full send (required to actually send)")
	flag.IntVar(&a.batchSize, "batch-size", broadcast.DefaultBatchSize, "recipients sent concurrently per batch")
	flag.StringVar(&a.batchDelay, "batch-delay", broadcast.DefaultBatchDelay.String(), "pause between batches (Go duration)")
	flag.IntVar(&a.retries, "retries", broadcast.DefaultRetries, "retries per recipient for transient errors")
	flag.IntVar(&a.rate, "rate", 0, "messages per second cap across the job (0 = off)")
	flag.BoolVar(&a.silent, "silent", true, "deliver without a notification sound")
	flag.StringVar(&a.cronSpec, "cron", "", "repeat the broadcast on a cron schedule (daemon mode)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, a); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a cliArgs) error {
	text, err := loadMessage(a)
	if err != nil {
		return err
	}
	if a.dryRun && a.preview {
		return errors.New("-dry-run and -preview are mutually exclusive")
	}

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	defer func() { _ = logSvc.Close() }()

	opts, err := buildOptions(a, cfg)
	if err != nil {
		return err
	}

	mode := broadcast.ModeFull
	switch {
	case a.dryRun:
		mode = broadcast.ModeDryRun
	case a.preview:
		mode = broadcast.ModePreview
	}
	// The confirm gate fires before anything is opened or dialed; an
	// unconfirmed full send must leave no trace, not even a getMe call.
	if mode == broadcast.ModeFull && !a.confirm {
		return broadcast.ErrNotConfirmed
	}

	dirTimeout, err := config.Duration("directory.busy_timeout", cfg.Directory.BusyTimeout, 0)
	if err != nil {
		return err
	}
	dir, err := directory.Open(directory.Config{Path: cfg.Directory.Path, BusyTimeout: dirTimeout}, log)
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	storeTimeout, err := config.Duration("job_store.busy_timeout", cfg.JobStore.BusyTimeout, 0)
	if err != nil {
		return err
	}
	store, err := jobstore.Open(jobstore.Config{Path: cfg.JobStore.Path, BusyTimeout: storeTimeout}, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// Dry runs must stay free of transport side effects, so the client is
	// not even constructed for them.
	var client transport.Client
	if mode != broadcast.ModeDryRun {
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, log)
		if err != nil {
			return fmt.Errorf("telegram client: %w", err)
		}
		defer func() { _ = tg.Close() }()
		client = tg
	}

	filter := directory.Filter{Plan: a.plan, ActiveOnly: a.activeOnly}
	resolver := broadcast.ResolverFunc(func(ctx context.Context) ([]transport.ChatTarget, error) {
		return dir.Resolve(ctx, filter, a.limit)
	})

	ctl := broadcast.New(resolver, client, store, log)
	req := broadcast.Request{
		InitiatorID: cfg.Telegram.OwnerID,
		Message:     transport.Message{Text: text, Media: a.media, Silent: a.silent},
		Mode:        mode,
		Confirmed:   a.confirm,
		Options:     opts,
	}

	if a.cronSpec != "" {
		return sched.Run(ctx, a.cronSpec, log, func(ctx context.Context) {
			rep, err := ctl.Run(ctx, req)
			if err != nil {
				log.Error("scheduled broadcast failed", logx.Err(err))
				return
			}
			printReport(rep)
		})
	}

	rep, err := ctl.Run(ctx, req)
	if err != nil {
		return err
	}
	printReport(rep)
	return nil
}

func loadMessage(a cliArgs) (string, error) {
	hasText := strings.TrimSpace(a.message) != ""
	hasFile := strings.TrimSpace(a.messageFile) != ""
	switch {
	case hasText && hasFile:
		return "", errors.New("-message and -message-file are mutually exclusive")
	case hasFile:
		b, err := os.ReadFile(a.messageFile)
		if err != nil {
			return "", fmt.Errorf("read message file: %w", err)
		}
		text := strings.TrimSpace(string(b))
		if text == "" {
			return "", fmt.Errorf("message file %s is empty", a.messageFile)
		}
		return text, nil
	case hasText:
		return a.message, nil
	default:
		return "", errors.New("a message is required: pass -message or -message-file")
	}
}

// buildOptions layers config-file overrides under explicit flags. A flag the
// operator actually passed wins over the config file.
func buildOptions(a cliArgs, cfg *config.Config) (broadcast.Options, error) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	opts := broadcast.Options{
		BatchSize:  a.batchSize,
		Retries:    a.retries,
		RatePerSec: a.rate,
	}
	var err error
	opts.BatchDelay, err = config.Duration("batch-delay", a.batchDelay, 0)
	if err != nil {
		return broadcast.Options{}, err
	}

	if !set["batch-size"] && cfg.Broadcast.BatchSize > 0 {
		opts.BatchSize = cfg.Broadcast.BatchSize
	}
	if !set["retries"] && cfg.Broadcast.Retries > 0 {
		opts.Retries = cfg.Broadcast.Retries
	}
	if !set["rate"] && cfg.Broadcast.RatePerSec > 0 {
		opts.RatePerSec = cfg.Broadcast.RatePerSec
	}
	if !set["batch-delay"] {
		opts.BatchDelay, err = config.Duration("broadcast.batch_delay", cfg.Broadcast.BatchDelay, opts.BatchDelay)
		if err != nil {
			return broadcast.Options{}, err
		}
	}
	opts.RetryBase, err = config.Duration("broadcast.retry_base", cfg.Broadcast.RetryBase, broadcast.DefaultRetryBase)
	if err != nil {
		return broadcast.Options{}, err
	}
	return opts, nil
}

func printReport(rep *broadcast.Report) {
	if rep.DryRun {
		fmt.Printf("dry run: job %s, %d recipients, no messages sent\n", rep.JobID, rep.Summary.Recipients)
		return
	}
	s := rep.Summary
	fmt.Printf("job %s finished in %s: sent=%d failed=%d blocked=%d skipped=%d\n",
		rep.JobID, rep.Elapsed.Round(10*time.Millisecond), s.Sent, s.Failed, s.Blocked, s.Skipped)
	for _, e := range s.Errors {
		fmt.Printf("  %d: %s %s\n", e.ChatID, e.Kind, e.Detail)
	}
	if rep.BookkeepingErr != nil {
		fmt.Printf("  warning: job record was not updated: %v\n", rep.BookkeepingErr)
	}
}
