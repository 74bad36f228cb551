package scheduler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percebe/percebe/internal/logging"
	"github.com/percebe/percebe/internal/mailcodec"
	"github.com/percebe/percebe/internal/retryqueue"
	"github.com/percebe/percebe/internal/store"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	dir := t.TempDir()

	logger, err := logging.New(logging.DefaultConfig())
	require.NoError(t, err)

	cfg := store.Open(filepath.Join(dir, "configuracion.json"), logger)

	queue, err := retryqueue.Open(filepath.Join(dir, "cola_reintentos.json"))
	require.NoError(t, err)

	return New(cfg, queue, nil, logger)
}

func TestDrainRetryQueueAdvancesUnreachableItem(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.queue.Enqueue(retryqueue.AccountSnapshot{
		SMTPHost: "127.0.0.1",
		SMTPPort: 1, // nothing listens here, send fails fast
		SMTPUser: "relay@example.org",
	}, mailcodec.Message{Subject: "hi"}, "R1", "bob@example.net", false))

	// A freshly-enqueued item waits out the base delay before it is
	// eligible, so back its next-attempt time up into the past to
	// exercise drainRetryQueue deterministically.
	items := s.queue.Snapshot()
	require.Len(t, items, 1)
	require.NoError(t, s.queue.ForceEligible(items[0].Recipient, items[0].RuleName, items[0].CreatedAtISO))

	s.drainRetryQueue()

	items = s.queue.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
}

func TestPollAccountsSkipsInactiveAccounts(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.cfg.Replace(store.Configuration{
		Accounts: []store.Account{{Name: "dormant", Active: false}},
	}))

	// An inactive account is never dialed, so this must return without
	// attempting any network I/O or panicking.
	s.pollAccounts(context.Background())
}

func TestPollAccountsStopsOnCanceledContext(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.cfg.Replace(store.Configuration{
		Accounts: []store.Account{
			{Name: "a", Active: true, IMAPHost: "127.0.0.1"},
			{Name: "b", Active: true, IMAPHost: "127.0.0.1"},
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Both accounts are active, but the context is already canceled, so
	// pollAccounts must return before dialing either one.
	s.pollAccounts(ctx)
}
