// Package delivery sends one outbound message per recipient over SMTP
// with STARTTLS, classifying failures as transient (retryable) or
// permanent (logged and dropped), following the dial/auth/send sequence
// in nugget-thane-ai-agent's internal/email/smtp.go.
package delivery

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/percebe/percebe/internal/metrics"
)

// SessionTimeout bounds the dial, and separately bounds the rest of the
// SMTP transaction (handshake through quit) once the connection is open.
const SessionTimeout = 30 * time.Second

// Account holds the SMTP credentials needed to open one session.
type Account struct {
	Host     string
	Port     int
	User     string
	Password string
}

// ErrTransient wraps a failure the caller should retry later: connection
// refused, DNS failure, timeout, or an SMTP 4xx response.
var ErrTransient = errors.New("transient delivery failure")

// ErrPermanent wraps a failure that will not succeed on retry: an SMTP
// 5xx response or a malformed message.
var ErrPermanent = errors.New("permanent delivery failure")

// Send opens a single SMTP session to account, authenticates with
// STARTTLS, and sends msg from `from` to exactly one recipient. The
// returned error is always wrapped with ErrTransient or ErrPermanent so
// callers can decide whether to enqueue a retry.
func Send(account Account, from, to string, msg []byte) (err error) {
	defer func() {
		metrics.RecordDelivery(outcomeLabel(err))
	}()

	addr := net.JoinHostPort(account.Host, fmt.Sprintf("%d", account.Port))

	conn, err := net.DialTimeout("tcp", addr, SessionTimeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransient, addr, err)
	}
	conn.SetDeadline(time.Now().Add(SessionTimeout))

	client, err := smtp.NewClient(conn, account.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: smtp handshake %s: %v", ErrTransient, addr, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); !ok {
		return fmt.Errorf("%w: %s does not offer STARTTLS", ErrTransient, addr)
	}
	tlsConfig := &tls.Config{ServerName: account.Host}
	if err := client.StartTLS(tlsConfig); err != nil {
		return classify(fmt.Errorf("starttls %s: %w", addr, err))
	}

	if account.User != "" {
		auth := smtp.PlainAuth("", account.User, account.Password, account.Host)
		if err := client.Auth(auth); err != nil {
			return classify(fmt.Errorf("auth %s: %w", account.User, err))
		}
	}

	if err := client.Mail(from); err != nil {
		return classify(fmt.Errorf("mail from %s: %w", from, err))
	}
	if err := client.Rcpt(to); err != nil {
		return classify(fmt.Errorf("rcpt to %s: %w", to, err))
	}

	w, err := client.Data()
	if err != nil {
		return classify(fmt.Errorf("data: %w", err))
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return classify(fmt.Errorf("write message: %w", err))
	}
	if err := w.Close(); err != nil {
		return classify(fmt.Errorf("close data: %w", err))
	}

	if err := client.Quit(); err != nil {
		// Quit failing after a successful Data/Close does not undo the
		// delivery — the message is already accepted by the server.
		return nil
	}
	return nil
}

// classify wraps err with ErrTransient or ErrPermanent based on the
// underlying failure: network errors and SMTP 4xx codes are transient;
// SMTP 5xx codes and anything else are permanent.
func classify(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPermanent):
		return "permanent"
	default:
		return "transient"
	}
}
