// Package scheduler runs the engine's main loop: drain the retry queue,
// poll every active account, sleep, repeat.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/percebe/percebe/internal/delivery"
	"github.com/percebe/percebe/internal/logging"
	"github.com/percebe/percebe/internal/mailbox"
	"github.com/percebe/percebe/internal/metrics"
	"github.com/percebe/percebe/internal/retryqueue"
	"github.com/percebe/percebe/internal/store"
)

// Scheduler owns the polling loop's lifecycle.
type Scheduler struct {
	cfg    *store.Store
	queue  *retryqueue.Queue
	logs   *store.LogSet
	logger *logging.Logger
}

// New builds a Scheduler over the given configuration store, retry
// queue, and event logs. logs may be nil, in which case the scheduler
// and everything it drives skip writing to the event log files.
func New(cfg *store.Store, queue *retryqueue.Queue, logs *store.LogSet, logger *logging.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, queue: queue, logs: logs, logger: logger}
}

// Run blocks until ctx is canceled, alternating between draining the
// retry queue and polling every active account, separated by the
// configuration's interval_seconds. A cycle already in progress when
// ctx is canceled is allowed to finish the account it is currently
// processing before returning, so a shutdown never aborts mid-session.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		cycleStart := time.Now()
		s.drainRetryQueue()
		s.pollAccounts(ctx)
		metrics.PollCycleDuration.Observe(time.Since(cycleStart).Seconds())

		interval := time.Duration(s.cfg.Get().IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 60 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (s *Scheduler) drainRetryQueue() {
	defer metrics.RetryQueueDepth.Set(float64(len(s.queue.Snapshot())))

	for _, item := range s.queue.EligibleNow(time.Now()) {
		err := delivery.RetryOne(item)
		switch {
		case err == nil:
			if serr := s.queue.Succeed(item.Recipient, item.RuleName, item.CreatedAtISO); serr != nil {
				s.logger.Error("remove succeeded retry item failed", "recipient", item.Recipient, "error", serr)
			}
			s.logger.Info("retry delivery succeeded", "recipient", item.Recipient, "rule", item.RuleName)
			s.logs.AppendForwarded(fmt.Sprintf("Asunto: %s | Regla: %s | Destinatario: %s", item.Message.Subject, item.RuleName, item.Recipient))

		default:
			dropped, ferr := s.queue.Fail(item.Recipient, item.RuleName, item.CreatedAtISO)
			if ferr != nil {
				s.logger.Error("record failed retry failed", "recipient", item.Recipient, "error", ferr)
			}
			if dropped {
				metrics.RetryItemsDropped.Inc()
				s.logger.Error("retry item exhausted attempts, dropping", "recipient", item.Recipient, "rule", item.RuleName, "error", err)
				s.logs.AppendError(fmt.Sprintf("%s -> %s (rule %s): retry attempts exhausted: %v", item.Message.Subject, item.Recipient, item.RuleName, err))
			} else {
				s.logger.Warn("retry attempt failed, rescheduled", "recipient", item.Recipient, "rule", item.RuleName, "error", err)
			}
		}
	}
}

func (s *Scheduler) pollAccounts(ctx context.Context) {
	for _, account := range s.cfg.Get().Accounts {
		if !account.Active {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		summary, err := mailbox.ProcessAccount(account, s.queue, s.logs, s.cfg.Get().VerboseLogging, s.logger)
		if err != nil {
			s.logger.Error("poll account failed", "account", account.Name, "error", err)
			continue
		}
		s.logger.Info("poll account complete",
			"account", account.Name,
			"fetched", summary.Fetched,
			"forwarded", summary.Forwarded,
			"loops", summary.Loops,
			"errors", summary.Errors,
		)
	}
}
