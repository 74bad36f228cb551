package retryqueue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percebe/percebe/internal/mailcodec"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cola_reintentos.json")
	q, err := Open(path)
	require.NoError(t, err)
	return q
}

func TestBackoffFor(t *testing.T) {
	assert.Equal(t, 60*time.Second, BackoffFor(0))
	assert.Equal(t, 120*time.Second, BackoffFor(1))
	assert.Equal(t, 240*time.Second, BackoffFor(2))
	assert.Equal(t, MaxDelay, BackoffFor(20))
}

func TestEnqueueSetsNextAttemptToBaseDelay(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(AccountSnapshot{SMTPHost: "smtp.a.com"}, mailcodec.Message{Subject: "hi"}, "R1", "b@z", false))

	items := q.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].Attempts)
	assert.InDelta(t, time.Now().Add(BaseDelay).Unix(), items[0].NextAttemptEpoch, 5)
	assert.Empty(t, q.EligibleNow(time.Now()))
}

func TestEnqueueAndFailAdvancesBackoff(t *testing.T) {
	q := newTestQueue(t)

	err := q.Enqueue(AccountSnapshot{SMTPHost: "smtp.a.com"}, mailcodec.Message{Subject: "hi"}, "R1", "b@z", false)
	require.NoError(t, err)

	items := q.Snapshot()
	require.Len(t, items, 1)
	created := items[0].CreatedAtISO

	dropped, err := q.Fail("b@z", "R1", created)
	require.NoError(t, err)
	assert.False(t, dropped)

	items = q.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.InDelta(t, time.Now().Add(120*time.Second).Unix(), items[0].NextAttemptEpoch, 5)
}

func TestFailDropsAtMaxAttempts(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(AccountSnapshot{}, mailcodec.Message{}, "R1", "b@z", false))

	created := q.Snapshot()[0].CreatedAtISO
	for i := 0; i < MaxAttempts-1; i++ {
		dropped, err := q.Fail("b@z", "R1", created)
		require.NoError(t, err)
		assert.False(t, dropped)
	}

	dropped, err := q.Fail("b@z", "R1", created)
	require.NoError(t, err)
	assert.True(t, dropped)
	assert.Empty(t, q.Snapshot())
}

func TestSucceedRemovesItem(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(AccountSnapshot{}, mailcodec.Message{}, "R1", "b@z", false))
	created := q.Snapshot()[0].CreatedAtISO

	require.NoError(t, q.Succeed("b@z", "R1", created))
	assert.Empty(t, q.Snapshot())
}

func TestEligibleNowRespectsNextAttempt(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(AccountSnapshot{}, mailcodec.Message{}, "R1", "future@z", false))

	created := q.Snapshot()[0].CreatedAtISO
	_, err := q.Fail("future@z", "R1", created)
	require.NoError(t, err)

	assert.Empty(t, q.EligibleNow(time.Now()))
	assert.Len(t, q.EligibleNow(time.Now().Add(130*time.Second)), 1)
}

func TestOpenMissingFileIsEmptyQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	q, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, q.Snapshot())
}
