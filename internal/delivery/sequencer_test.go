package delivery

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percebe/percebe/internal/logging"
	"github.com/percebe/percebe/internal/mailcodec"
	"github.com/percebe/percebe/internal/retryqueue"
	"github.com/percebe/percebe/internal/store"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(logging.DefaultConfig())
	require.NoError(t, err)
	return logger
}

func newTestQueue(t *testing.T) *retryqueue.Queue {
	t.Helper()
	q, err := retryqueue.Open(filepath.Join(t.TempDir(), "cola_reintentos.json"))
	require.NoError(t, err)
	return q
}

func TestDispatchWithNoRecipientsIsNoOp(t *testing.T) {
	results := Dispatch(store.Account{}, mailcodec.Message{}, store.Rule{Name: "R1"}, newTestQueue(t), nil, newTestLogger(t))
	assert.Nil(t, results)
}

func TestDispatchUnreachableHostEnqueuesRetry(t *testing.T) {
	account := store.Account{
		Name:     "acct1",
		SMTPHost: "127.0.0.1",
		SMTPPort: 1, // nothing listens here; dial fails => transient
		SMTPUser: "relay@example.org",
	}
	rule := store.Rule{Name: "R1", Recipients: []string{"bob@example.net"}}
	queue := newTestQueue(t)

	results := Dispatch(account, mailcodec.Message{Subject: "hi"}, rule, queue, nil, newTestLogger(t))

	require.Len(t, results, 1)
	assert.False(t, results[0].Delivered)
	assert.False(t, AnyDelivered(results))
	assert.Len(t, queue.Snapshot(), 1)
}

func TestAnyDeliveredRequiresOneSuccess(t *testing.T) {
	assert.False(t, AnyDelivered(nil))
	assert.False(t, AnyDelivered([]Result{{Recipient: "a", Delivered: false}}))
	assert.True(t, AnyDelivered([]Result{{Recipient: "a", Delivered: false}, {Recipient: "b", Delivered: true}}))
}

func TestRetryOneUnreachableHostIsTransient(t *testing.T) {
	item := retryqueue.Item{
		Account: retryqueue.AccountSnapshot{SMTPHost: "127.0.0.1", SMTPPort: 1, SMTPUser: "relay@example.org"},
		Message: mailcodec.Message{Subject: "hi"},
		Recipient: "bob@example.net",
	}
	err := RetryOne(item)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
}
