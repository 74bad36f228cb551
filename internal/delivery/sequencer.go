package delivery

import (
	"errors"
	"fmt"
	"time"

	"github.com/percebe/percebe/internal/logging"
	"github.com/percebe/percebe/internal/mailcodec"
	"github.com/percebe/percebe/internal/retryqueue"
	"github.com/percebe/percebe/internal/store"
)

// InterSendDelay is the fixed pause between consecutive SMTP
// transactions within one rule's recipient fan-out, avoiding provider
// rate-limits and greylisting.
const InterSendDelay = 3 * time.Second

// Result reports what happened to each recipient in one Dispatch call,
// for the forwarded-events log and metrics.
type Result struct {
	Recipient string
	Delivered bool
}

// Dispatch sends one freshly-built message per recipient in rule.
// Recipients are attempted in list order with InterSendDelay between
// consecutive sends. A transient failure enqueues that single recipient
// in queue for a later retry; a permanent failure is logged and the
// recipient is dropped. Dispatch never retries inline. Successful sends
// and permanent failures each gain one line in logs' corresponding sink;
// logs may be nil, in which case no line is written.
func Dispatch(account store.Account, msg mailcodec.Message, rule store.Rule, queue *retryqueue.Queue, logs *store.LogSet, logger *logging.Logger) []Result {
	if len(rule.Recipients) == 0 {
		logger.Error("rule has no recipients, no-op", "rule", rule.Name)
		return nil
	}

	smtpAccount := Account{
		Host:     account.SMTPHost,
		Port:     account.SMTPPort,
		User:     account.SMTPUser,
		Password: account.SMTPPassword,
	}

	results := make([]Result, 0, len(rule.Recipients))

	for i, recipient := range rule.Recipients {
		body, err := mailcodec.Compose(mailcodec.ComposeOptions{
			From:               account.SMTPUser,
			To:                 recipient,
			Subject:            msg.Subject,
			Original:           msg,
			IncludeAttachments: rule.IncludeAttachments,
		})
		if err != nil {
			logger.Error("compose outbound message failed", "rule", rule.Name, "recipient", recipient, "error", err)
			logs.AppendError(fmt.Sprintf("%s -> %s (rule %s): %v", msg.Subject, recipient, rule.Name, err))
			results = append(results, Result{Recipient: recipient, Delivered: false})
			continue
		}

		sendErr := Send(smtpAccount, account.SMTPUser, recipient, body)
		switch {
		case sendErr == nil:
			results = append(results, Result{Recipient: recipient, Delivered: true})
			logs.AppendForwarded(fmt.Sprintf("Asunto: %s | Regla: %s | Destinatario: %s", msg.Subject, rule.Name, recipient))

		case errors.Is(sendErr, ErrTransient):
			logger.Warn("transient delivery failure, enqueuing retry", "rule", rule.Name, "recipient", recipient, "error", sendErr)
			if err := queue.Enqueue(retryqueue.AccountSnapshot{
				SMTPHost:     account.SMTPHost,
				SMTPPort:     account.SMTPPort,
				SMTPUser:     account.SMTPUser,
				SMTPPassword: account.SMTPPassword,
			}, msg, rule.Name, recipient, rule.IncludeAttachments); err != nil {
				logger.Error("failed to persist retry item", "recipient", recipient, "error", err)
			}
			results = append(results, Result{Recipient: recipient, Delivered: false})

		default:
			logger.Error("permanent delivery failure, dropping recipient", "rule", rule.Name, "recipient", recipient, "error", sendErr)
			logs.AppendError(fmt.Sprintf("%s -> %s (rule %s): %v", msg.Subject, recipient, rule.Name, sendErr))
			results = append(results, Result{Recipient: recipient, Delivered: false})
		}

		if i < len(rule.Recipients)-1 {
			time.Sleep(InterSendDelay)
		}
	}

	return results
}

// AnyDelivered reports whether at least one recipient in results
// succeeded.
func AnyDelivered(results []Result) bool {
	for _, r := range results {
		if r.Delivered {
			return true
		}
	}
	return false
}

// RetryOne resends a single persisted retry item by rebuilding its
// outbound message from the stored snapshot. It returns an error
// wrapped with ErrTransient or ErrPermanent exactly like Send.
func RetryOne(item retryqueue.Item) error {
	body, err := mailcodec.Compose(mailcodec.ComposeOptions{
		From:               item.Account.SMTPUser,
		To:                 item.Recipient,
		Subject:            item.Message.Subject,
		Original:           item.Message,
		IncludeAttachments: item.IncludeAttachments,
	})
	if err != nil {
		return fmt.Errorf("%w: rebuild message for %s: %v", ErrPermanent, item.Recipient, err)
	}

	smtpAccount := Account{
		Host:     item.Account.SMTPHost,
		Port:     item.Account.SMTPPort,
		User:     item.Account.SMTPUser,
		Password: item.Account.SMTPPassword,
	}
	return Send(smtpAccount, item.Account.SMTPUser, item.Recipient, body)
}
