package mailcodec

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// ProductName is the fixed X-Mailer value. Must be preserved byte-for-
// byte across implementations — existing deployments use it to identify
// their own forwarded mail.
const ProductName = "P.E.R.C.E.B.E. v2.1"

const bannerTemplate = "\n\n--- Correo reenviado automáticamente por Programa de Envío y Redirección de Correo Eliminando Basura Electrónica ---\n" +
	"De: %s\n" +
	"Asunto original: %s\n" +
	"Fecha: %s\n" +
	"---------------------------------------------------\n\n"

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ComposeOptions describes one outbound forward transaction: a single
// recipient, the rule that matched, and the original message it was
// matched against.
type ComposeOptions struct {
	From               string
	To                 string
	Subject            string
	Original           Message
	IncludeAttachments bool
}

// NewMessageID builds a Message-ID in the original deployment's format:
// 20 random alphanumeric characters, the current unix timestamp, and the
// domain portion of the From address.
func NewMessageID(from string, now time.Time) string {
	return fmt.Sprintf("<%s.%d@%s>", randomAlnum(20), now.Unix(), domainOf(from))
}

func randomAlnum(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the OS entropy source is broken;
		// fall back to a fixed-but-unique-enough pattern rather than
		// panic, since a malformed Message-ID is still better than a
		// crashed delivery.
		for i := range buf {
			buf[i] = byte(i)
		}
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out)
}

func domainOf(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 || at == len(addr)-1 {
		return "localhost"
	}
	return addr[at+1:]
}

// Compose builds a complete outbound RFC 5322 message for a single
// recipient: multipart/mixed containing a multipart/alternative
// text+HTML section, with attachments (if requested) as sibling parts
// of the mixed container.
func Compose(opts ComposeOptions) ([]byte, error) {
	now := time.Now()

	var h mail.Header
	h.SetDate(now)
	h.Set("Message-Id", NewMessageID(opts.From, now))
	h.SetAddressList("From", []*mail.Address{{Address: opts.From}})
	h.SetAddressList("To", []*mail.Address{{Address: opts.To}})
	h.SetSubject(FORWARD_MARKER + opts.Subject)
	h.Set("X-Mailer", ProductName)
	h.Set("X-Forwarded-From", opts.Original.From)
	h.Set("X-Original-Date", opts.Original.Date)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	banner := fmt.Sprintf(bannerTemplate, opts.Original.From, opts.Original.Subject, opts.Original.Date)

	if err := writeAlternative(mw, banner, opts.Original.TextBody, opts.Original.HTMLBody); err != nil {
		return nil, err
	}

	if opts.IncludeAttachments {
		for _, att := range opts.Original.Attachments {
			if err := writeAttachment(mw, att); err != nil {
				return nil, err
			}
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeAlternative(mw *mail.Writer, banner, textBody, htmlBody string) error {
	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline writer: %w", err)
	}

	hasText := textBody != ""
	hasHTML := htmlBody != ""

	if hasText || !hasHTML {
		text := banner + textBody
		var ph mail.InlineHeader
		ph.Set("Content-Type", "text/plain; charset=utf-8")
		pw, err := tw.CreatePart(ph)
		if err != nil {
			return fmt.Errorf("create text part: %w", err)
		}
		if _, err := pw.Write([]byte(text)); err != nil {
			return fmt.Errorf("write text part: %w", err)
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("close text part: %w", err)
		}
	}

	if hasHTML {
		bannerHTML := strings.ReplaceAll(banner, "\n", "<br>")
		body := htmlBody
		if !strings.HasPrefix(strings.TrimSpace(body), "<") {
			body = "<html><body>" + body + "</body></html>"
		}
		html := bannerHTML + body

		var hh mail.InlineHeader
		hh.Set("Content-Type", "text/html; charset=utf-8")
		hw, err := tw.CreatePart(hh)
		if err != nil {
			return fmt.Errorf("create html part: %w", err)
		}
		if _, err := hw.Write([]byte(html)); err != nil {
			return fmt.Errorf("write html part: %w", err)
		}
		if err := hw.Close(); err != nil {
			return fmt.Errorf("close html part: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close inline writer: %w", err)
	}
	return nil
}

func writeAttachment(mw *mail.Writer, att Attachment) error {
	var ah mail.AttachmentHeader
	ah.SetFilename(att.Filename)
	mimeType := att.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	ah.SetContentType(mimeType, nil)

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("create attachment %s: %w", att.Filename, err)
	}
	if _, err := w.Write(att.Data); err != nil {
		return fmt.Errorf("write attachment %s: %w", att.Filename, err)
	}
	return w.Close()
}
