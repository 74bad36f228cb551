// Package mailbox implements one polling pass over a single account's
// INBOX: connect, find unseen messages, classify them against the
// account's rules, dispatch matches for delivery, and delete the
// source message whether or not any rule matched.
package mailbox

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/percebe/percebe/internal/delivery"
	"github.com/percebe/percebe/internal/logging"
	"github.com/percebe/percebe/internal/mailcodec"
	"github.com/percebe/percebe/internal/metrics"
	"github.com/percebe/percebe/internal/retryqueue"
	"github.com/percebe/percebe/internal/rules"
	"github.com/percebe/percebe/internal/store"
)

// Summary tallies one account's polling pass for logging and metrics.
type Summary struct {
	Fetched   int
	Forwarded int
	Loops     int
	Errors    int
}

// ProcessAccount opens one IMAP session against account, drains every
// UNSEEN message in INBOX, and returns once all of them have been
// classified, dispatched, and marked for deletion. A session-level
// error (dial, login, select) aborts the whole pass for this account;
// a per-message error is logged and that message is skipped, leaving
// it UNSEEN for the next cycle. When verbose is set (the configuration's
// logs_completos flag), every fetched message that decodes gains a trace
// line in logs.Processing.
func ProcessAccount(account store.Account, queue *retryqueue.Queue, logs *store.LogSet, verbose bool, logger *logging.Logger) (Summary, error) {
	var summary Summary

	addr := net.JoinHostPort(account.IMAPHost, "993")
	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: account.IMAPHost},
	})
	if err != nil {
		return summary, fmt.Errorf("dial IMAP %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Login(account.IMAPUser, account.IMAPPassword).Wait(); err != nil {
		return summary, fmt.Errorf("login %s: %w", account.IMAPUser, err)
	}
	defer client.Logout()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return summary, fmt.Errorf("select INBOX: %w", err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return summary, fmt.Errorf("search unseen: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return summary, nil
	}

	var toDelete imap.UIDSet

	for _, uid := range uids {
		raw, ok := fetchRaw(client, uid, logger)
		if !ok {
			logger.Error("fetch message failed", "uid", uid)
			summary.Errors++
			continue
		}
		summary.Fetched++
		metrics.MessagesFetched.WithLabelValues(account.Name).Inc()

		msg, err := mailcodec.Decode(raw)
		if err != nil {
			logger.Error("decode message failed", "uid", uid, "error", err)
			summary.Errors++
			continue
		}

		if verbose {
			logs.AppendProcessing(fmt.Sprintf("%s: fetched %q (uid %d)", account.Name, msg.Subject, uid))
		}

		if mailcodec.IsLoop(msg.Subject) {
			summary.Loops++
			metrics.MessagesLooped.WithLabelValues(account.Name).Inc()
			toDelete.AddNum(uid)
			continue
		}

		for _, rule := range account.Rules {
			if !rule.Active {
				continue
			}
			if !rules.Matches(msg, rule) {
				continue
			}
			results := delivery.Dispatch(account, msg, rule, queue, logs, logger)
			if delivery.AnyDelivered(results) {
				summary.Forwarded++
				metrics.MessagesForwarded.WithLabelValues(account.Name, rule.Name).Inc()
			}
		}

		toDelete.AddNum(uid)
	}

	if len(toDelete) > 0 {
		if err := client.Store(toDelete, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagDeleted},
		}, nil).Wait(); err != nil {
			logger.Error("mark messages deleted failed", "error", err)
		}
		if err := client.Expunge().Wait(); err != nil {
			logger.Error("expunge failed", "error", err)
		}
	}

	return summary, nil
}

func fetchRaw(client *imapclient.Client, uid imap.UID, logger *logging.Logger) ([]byte, bool) {
	uidSet := imap.UIDSet{}
	uidSet.AddNum(uid)

	fetchCmd := client.Fetch(uidSet, &imap.FetchOptions{
		UID: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true},
		},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, false
	}

	var raw []byte
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		if section, ok := item.(imapclient.FetchItemDataBodySection); ok {
			data, err := io.ReadAll(section.Literal)
			if err != nil {
				logger.Error("read body section failed", "uid", uid, "error", err)
				continue
			}
			raw = data
		}
	}

	if raw == nil {
		return nil, false
	}
	return raw, true
}
