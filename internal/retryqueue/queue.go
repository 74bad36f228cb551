// Package retryqueue implements the durable FIFO of failed single-
// recipient deliveries, with exponential backoff and a hard attempt cap,
// exactly as percebe_server.py's process_retry_queue does it.
package retryqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/percebe/percebe/internal/mailcodec"
)

const (
	// BaseDelay is the first backoff step.
	BaseDelay = 60 * time.Second
	// MaxDelay caps the backoff regardless of attempt count.
	MaxDelay = 3600 * time.Second
	// MaxAttempts is the hard cap; an item reaching it is dropped.
	MaxAttempts = 50
)

// AccountSnapshot carries just enough SMTP credentials to reconnect and
// resend, without pinning the retry item to the live Configuration
// document (which may be replaced or have the account removed).
type AccountSnapshot struct {
	SMTPHost     string `json:"smtp_server"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password"`
}

// Item is one persisted (message, single recipient) delivery awaiting a
// future retry attempt.
type Item struct {
	Account            AccountSnapshot   `json:"cuenta_config"`
	Message            mailcodec.Message `json:"mail_data"`
	RuleName           string            `json:"regla"`
	Recipient          string            `json:"destinatario"`
	IncludeAttachments bool              `json:"include_attachments"`
	Attempts           int               `json:"intentos"`
	NextAttemptEpoch   int64             `json:"proximo_intento"`
	CreatedAtISO       string            `json:"timestamp_creacion"`
}

// Queue is the mutex-guarded, disk-persisted retry queue. Every mutating
// method rewrites the whole document to disk inside the held lock.
type Queue struct {
	mu    sync.Mutex
	path  string
	items []Item
}

// Open loads the retry queue document from path. A missing file is
// treated as an empty queue; a malformed file is returned as an error.
func Open(path string) (*Queue, error) {
	q := &Queue{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return q, nil
		}
		return q, fmt.Errorf("read retry queue %s: %w", path, err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return q, fmt.Errorf("parse retry queue %s: %w", path, err)
	}
	q.items = items
	return q, nil
}

// Enqueue appends a new item for a single recipient and persists the
// queue. The item starts at attempts=0 with next_attempt set to
// now+BackoffFor(0), matching percebe_server.py's initial
// REINTENTO_BASE_DELAY wait before the first retry is even attempted.
func (q *Queue) Enqueue(account AccountSnapshot, msg mailcodec.Message, ruleName, recipient string, includeAttachments bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := Item{
		Account:            account,
		Message:            msg,
		RuleName:           ruleName,
		Recipient:          recipient,
		IncludeAttachments: includeAttachments,
		Attempts:           0,
		NextAttemptEpoch:   time.Now().Add(BackoffFor(0)).Unix(),
		CreatedAtISO:       time.Now().Format(time.RFC3339),
	}
	q.items = append(q.items, item)
	return q.persistLocked()
}

// EligibleNow returns a copy of every item whose next-attempt time has
// arrived, in FIFO (insertion) order.
func (q *Queue) EligibleNow(now time.Time) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var eligible []Item
	for _, it := range q.items {
		if it.NextAttemptEpoch <= now.Unix() {
			eligible = append(eligible, it)
		}
	}
	return eligible
}

// Succeed removes the item matching recipient+ruleName+createdAtISO
// after a successful retry delivery.
func (q *Queue) Succeed(recipient, ruleName, createdAtISO string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(recipient, ruleName, createdAtISO)
	return q.persistLocked()
}

// Fail increments the attempt count for the matching item and computes
// its next backoff window, or drops it entirely once MaxAttempts is
// reached. Returns true if the item was dropped (caller should log it).
func (q *Queue) Fail(recipient, ruleName, createdAtISO string) (dropped bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		it := &q.items[i]
		if it.Recipient != recipient || it.RuleName != ruleName || it.CreatedAtISO != createdAtISO {
			continue
		}
		it.Attempts++
		if it.Attempts >= MaxAttempts {
			q.removeLocked(recipient, ruleName, createdAtISO)
			return true, q.persistLocked()
		}
		it.NextAttemptEpoch = time.Now().Add(BackoffFor(it.Attempts)).Unix()
		return false, q.persistLocked()
	}
	return false, nil
}

// ForceEligible backdates the matching item's next-attempt time to now,
// for tests that need to exercise a drain pass without waiting out the
// base delay.
func (q *Queue) ForceEligible(recipient, ruleName, createdAtISO string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		it := &q.items[i]
		if it.Recipient == recipient && it.RuleName == ruleName && it.CreatedAtISO == createdAtISO {
			it.NextAttemptEpoch = time.Now().Unix()
			return q.persistLocked()
		}
	}
	return nil
}

// BackoffFor computes the delay before the next attempt given the
// number of attempts already made (0-indexed before this attempt):
// min(BaseDelay * 2^attempts, MaxDelay).
func BackoffFor(attempts int) time.Duration {
	delay := BaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= MaxDelay {
			return MaxDelay
		}
	}
	if delay > MaxDelay {
		return MaxDelay
	}
	return delay
}

// Snapshot returns a copy of every currently queued item, for the
// control RPC's get_retry_queue command.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) removeLocked(recipient, ruleName, createdAtISO string) {
	out := q.items[:0]
	for _, it := range q.items {
		if it.Recipient == recipient && it.RuleName == ruleName && it.CreatedAtISO == createdAtISO {
			continue
		}
		out = append(out, it)
	}
	q.items = out
}

func (q *Queue) persistLocked() error {
	data, err := json.MarshalIndent(q.items, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal retry queue: %w", err)
	}
	if q.items == nil {
		data = []byte("[]")
	}

	dir := filepath.Dir(q.path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp retry queue file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, q.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s to %s: %w", tmpPath, q.path, err)
	}
	return nil
}
