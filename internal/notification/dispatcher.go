package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/store"
	"reminder-notify-backend/internal/window"
)

const windowElapsed = "window elapsed"

// Options tunes the dispatcher.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RunBudget bounds a run: once exceeded no new items are claimed and sends still
	// in flight are cancelled. Their outcome is recorded as a retryable failure.
	RunBudget time.Duration
}

// RunSummary counts what one dispatcher run did.
type RunSummary struct {
	Due       int
	Sent      int
	Retrying  int
	Failed    int
	Skipped   int
	Conflicts int
	Orphans   int
	Errors    int
}

type itemResult int

const (
	resultNone itemResult = iota
	resultSent
	resultRetrying
	resultFailed
	resultSkipped
	resultConflict
	resultOrphan
	resultError
)

func (s *RunSummary) record(r itemResult) {
	switch r {
	case resultSent:
		s.Sent++
	case resultRetrying:
		s.Retrying++
	case resultFailed:
		s.Failed++
	case resultSkipped:
		s.Skipped++
	case resultConflict:
		s.Conflicts++
	case resultOrphan:
		s.Orphans++
	case resultError:
		s.Errors++
	}
}

// Dispatcher claims due queue items and delivers them over the reminder's channels.
// Overlapping dispatchers are safe: every transition is conditional on the item's
// version, so only one of them can claim an item.
type Dispatcher struct {
	store      store.Store
	policy     *window.Policy
	transports map[model.Channel]Transport
	opts       Options

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewDispatcher creates a dispatcher delivering through the given transports. A
// channel without a transport fails terminally.
func NewDispatcher(s store.Store, policy *window.Policy, opts Options, transports ...Transport) *Dispatcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Minute
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 15 * time.Minute
	}
	byChannel := make(map[model.Channel]Transport, len(transports))
	for _, t := range transports {
		byChannel[t.Channel()] = t
	}
	return &Dispatcher{
		store:      s,
		policy:     policy,
		transports: byChannel,
		opts:       opts,
		Now:        time.Now,
	}
}

func (d *Dispatcher) now() time.Time {
	return d.Now().UTC()
}

// Run starts the dispatcher in a loop.
func (d *Dispatcher) Run(ctx context.Context) {
	logger.Info("starting dispatcher", "interval", d.opts.Interval, "workers", d.opts.Workers)

	d.runAndLog(ctx)

	timer := time.NewTimer(d.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatcher shutting down")
			return
		case <-timer.C:
			d.runAndLog(ctx)
			timer.Reset(d.opts.Interval)
		}
	}
}

func (d *Dispatcher) runAndLog(ctx context.Context) {
	summary, err := d.RunOnce(ctx)
	if err != nil {
		logger.Error("dispatch run failed", "err", err)
		return
	}
	if summary.Due == 0 {
		logger.Debug("dispatch run found nothing due")
		return
	}
	logger.Info("dispatch run finished",
		"due", summary.Due, "sent", summary.Sent, "retrying", summary.Retrying,
		"failed", summary.Failed, "skipped", summary.Skipped, "conflicts", summary.Conflicts)
}

// RunOnce processes one batch of due items. A failure on one item never stops the
// others; only failing to query the queue returns an error.
func (d *Dispatcher) RunOnce(ctx context.Context) (RunSummary, error) {
	var summary RunSummary
	now := d.now()

	items, err := d.store.DueQueueItems(ctx, now.Add(d.policy.MaxTolerance()), d.opts.BatchSize)
	if err != nil {
		return summary, err
	}

	runCtx := ctx
	if d.opts.RunBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.opts.RunBudget)
		defer cancel()
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.opts.Workers)
	for i := range items {
		item := items[i]
		if !d.due(&item, now) {
			continue
		}
		if runCtx.Err() != nil {
			logger.Warn("dispatch run budget exhausted", "remaining", len(items)-i)
			break
		}
		summary.Due++
		g.Go(func() error {
			res := d.process(runCtx, &item, now)
			mu.Lock()
			summary.record(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

// due reports whether item may be attempted at now. First attempts may fire early
// within the window's tolerance; retries wait for their backoff to pass.
func (d *Dispatcher) due(item *model.QueueItem, now time.Time) bool {
	if item.Status == model.QueueFailedRetryable {
		return !now.Before(item.NextAttemptAt)
	}
	return d.policy.Due(item.WindowType, item.NextAttemptAt, now)
}

// process claims and delivers one item.
func (d *Dispatcher) process(ctx context.Context, item *model.QueueItem, now time.Time) itemResult {
	log := logger.With("reminder", item.ReminderID, "window", item.WindowType)

	cat, ok := d.policy.Category(item.WindowType)
	if !ok {
		// Left behind by a policy change; the next sync removes it.
		return resultNone
	}

	if ctx.Err() != nil {
		// The budget ran out while waiting for a worker.
		return resultNone
	}
	claimed, err := d.store.ClaimQueueItem(ctx, item.Key(), item.Version, now)
	if errors.Is(err, store.ErrClaimConflict) {
		log.Debug("item claimed by another run")
		return resultConflict
	}
	if err != nil {
		log.Error("failed to claim item", "err", err)
		return resultError
	}

	if d.policy.Expired(item.WindowType, item.ScheduledAt, now) {
		status := model.QueueSkipped
		if item.Status == model.QueueFailedRetryable {
			status = model.QueueFailedTerminal
		}
		reason := windowElapsed
		return d.finish(ctx, log, claimed, store.QueueOutcome{
			Status:         status,
			Attempts:       claimed.Attempts,
			LastError:      &reason,
			ChannelResults: claimed.ChannelResults,
		}, resultSkipped)
	}

	rem, err := d.store.GetReminder(ctx, item.ReminderID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("queue item references a missing reminder, removing")
		if _, err := d.store.DeleteQueueItems(ctx, item.ReminderID); err != nil {
			log.Error("failed to remove orphaned rows", "err", err)
			return resultError
		}
		return resultOrphan
	}
	if err != nil {
		log.Error("failed to load reminder", "err", err)
		d.release(ctx, log, claimed)
		return resultError
	}
	if rem.Status == model.ReminderCompleted {
		if _, err := d.store.DeleteQueueItems(ctx, item.ReminderID); err != nil {
			log.Error("failed to remove rows of completed reminder", "err", err)
			return resultError
		}
		return resultSkipped
	}

	profile, err := d.store.GetUserProfile(ctx, rem.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		profile = model.DefaultProfile(rem.OwnerID)
	} else if err != nil {
		log.Error("failed to load user profile", "err", err)
		d.release(ctx, log, claimed)
		return resultError
	}

	outcome := d.deliver(ctx, rem, profile, cat, claimed, now)
	switch outcome.Status {
	case model.QueueSent:
		return d.finish(ctx, log, claimed, outcome, resultSent)
	case model.QueueFailedRetryable:
		log.Warn("delivery failed, will retry", "attempts", outcome.Attempts, "next", outcome.NextAttemptAt, "err", *outcome.LastError)
		return d.finish(ctx, log, claimed, outcome, resultRetrying)
	default:
		log.Error("delivery failed permanently", "attempts", outcome.Attempts, "err", *outcome.LastError)
		return d.finish(ctx, log, claimed, outcome, resultFailed)
	}
}

// deliver sends msg on every channel that still needs it and folds the results of all
// requested channels into an outcome. Channels that were sent, or failed terminally, on
// an earlier attempt are not sent again.
func (d *Dispatcher) deliver(ctx context.Context, rem *model.Reminder, profile *model.UserProfile, cat window.Category, item *model.QueueItem, now time.Time) store.QueueOutcome {
	results := make(map[model.Channel]model.ChannelResult, len(item.ChannelResults))
	for c, r := range item.ChannelResults {
		results[c] = r
	}

	channels := rem.Channels
	if len(channels) == 0 {
		channels = []model.Channel{model.ChannelPush}
	}
	var requested, pending []model.Channel
	for _, c := range channels {
		if !c.Valid() || !profile.Enabled(c) {
			continue
		}
		requested = append(requested, c)
		switch results[c].Status {
		case model.ChannelSent, model.ChannelFailedTerminal:
			continue
		}
		pending = append(pending, c)
	}

	attempts := item.Attempts + 1
	if len(requested) == 0 {
		reason := "no deliverable channels"
		return store.QueueOutcome{Status: model.QueueFailedTerminal, Attempts: attempts, LastError: &reason, ChannelResults: results}
	}

	msg := NewMessage(rem, cat)
	to := Recipient{OwnerID: rem.OwnerID, Email: profile.Email, Phone: profile.Phone}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range pending {
		c := c
		g.Go(func() error {
			res := model.ChannelResult{Status: model.ChannelSent, At: now}
			if err := d.send(ctx, c, to, msg); err != nil {
				res.Error = err.Error()
				res.Status = model.ChannelFailedTerminal
				if IsRetryable(err) {
					res.Status = model.ChannelFailedRetryable
				}
			}
			mu.Lock()
			results[c] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var (
		errs      []string
		retryable bool
	)
	for _, c := range requested {
		r := results[c]
		switch r.Status {
		case model.ChannelFailedRetryable:
			retryable = true
			errs = append(errs, r.Error)
		case model.ChannelFailedTerminal:
			errs = append(errs, r.Error)
		}
	}

	if len(errs) == 0 {
		return store.QueueOutcome{Status: model.QueueSent, Attempts: attempts, ChannelResults: results}
	}
	lastErr := strings.Join(errs, "; ")
	if retryable && attempts < d.opts.MaxAttempts {
		return store.QueueOutcome{
			Status:         model.QueueFailedRetryable,
			Attempts:       attempts,
			NextAttemptAt:  now.Add(d.backoff(attempts)),
			LastError:      &lastErr,
			ChannelResults: results,
		}
	}
	return store.QueueOutcome{Status: model.QueueFailedTerminal, Attempts: attempts, LastError: &lastErr, ChannelResults: results}
}

func (d *Dispatcher) send(ctx context.Context, c model.Channel, to Recipient, msg *Message) error {
	t, ok := d.transports[c]
	if !ok {
		return Terminal(c, errors.New("channel not configured"))
	}
	return t.Send(ctx, to, msg)
}

// backoff is the delay before attempt n+1: BackoffBase doubled per attempt, capped.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.opts.BackoffMax {
			return d.opts.BackoffMax
		}
	}
	if delay > d.opts.BackoffMax {
		return d.opts.BackoffMax
	}
	return delay
}

// finish records the outcome of a claimed item. It is written even when ctx was
// cancelled by the run budget, otherwise the item would stay claimed until the sweep
// releases it and the channels already sent would go out again.
func (d *Dispatcher) finish(ctx context.Context, log *charmlog.Logger, claimed *model.QueueItem, outcome store.QueueOutcome, res itemResult) itemResult {
	err := d.store.FinishQueueItem(context.WithoutCancel(ctx), claimed.Key(), claimed.Version, outcome)
	if errors.Is(err, store.ErrClaimConflict) {
		log.Debug("item changed while delivering, outcome dropped")
		return resultConflict
	}
	if err != nil {
		log.Error("failed to record outcome", "err", err)
		return resultError
	}
	return res
}

// release hands a claimed item back untouched so a later run can retry it.
func (d *Dispatcher) release(ctx context.Context, log *charmlog.Logger, claimed *model.QueueItem) {
	prev := model.QueuePending
	if claimed.Attempts > 0 {
		prev = model.QueueFailedRetryable
	}
	d.finish(ctx, log, claimed, store.QueueOutcome{
		Status:         prev,
		Attempts:       claimed.Attempts,
		LastError:      claimed.LastError,
		ChannelResults: claimed.ChannelResults,
	}, resultNone)
}
