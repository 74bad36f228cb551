package mailbox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percebe/percebe/internal/logging"
	"github.com/percebe/percebe/internal/retryqueue"
	"github.com/percebe/percebe/internal/store"
)

func TestProcessAccountDialFailureIsReported(t *testing.T) {
	queue, err := retryqueue.Open(filepath.Join(t.TempDir(), "cola_reintentos.json"))
	require.NoError(t, err)

	logger, err := logging.New(logging.DefaultConfig())
	require.NoError(t, err)

	account := store.Account{
		Name:     "unreachable",
		IMAPHost: "127.0.0.1", // nothing listens on :993 here, TLS dial fails fast
		IMAPUser: "user@example.com",
	}

	summary, err := ProcessAccount(account, queue, nil, false, logger)
	require.Error(t, err)
	assert.Equal(t, Summary{}, summary)
}
