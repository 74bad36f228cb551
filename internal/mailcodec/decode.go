package mailcodec

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxPartSize bounds how much of a single body or attachment part is
// read into memory. Messages exceeding this per part are truncated
// rather than rejected outright.
const maxPartSize = 25 * 1024 * 1024

// Decode parses a raw RFC 822 message into a Message, separating the
// plain-text body, the HTML body, and every attachment part. The first
// text/plain part found becomes the text body, the first text/html part
// becomes the HTML body; later parts of the same type are ignored, and
// any part whose Content-Disposition is "attachment" is captured as an
// Attachment regardless of its position in the tree.
//
// Decoding errors on an individual part are non-fatal: a part whose body
// cannot be read is skipped and the walk continues, while an error
// advancing to the next part ends the walk and returns what has been
// collected so far.
func Decode(raw []byte) (Message, error) {
	var msg Message

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return msg, fmt.Errorf("create mail reader: %w", err)
	}
	if mr == nil {
		return msg, fmt.Errorf("create mail reader returned nil")
	}

	msg.From = decodeAddressList(mr.Header, "From")
	subject, _ := mr.Header.Subject()
	msg.Subject = DecodeHeader(subject)
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date.Format("Mon, 02 Jan 2006 15:04:05 -0700")
	} else {
		msg.Date = DecodeHeader(mr.Header.Get("Date"))
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !gomessage.IsUnknownCharset(err) {
			break
		}
		if part == nil {
			continue
		}

		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			data, readErr := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
			if readErr != nil {
				continue
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename: DecodeHeader(filename),
				MIMEType: contentType,
				Data:     data,
			})

		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			switch {
			case contentType == "text/plain" && msg.TextBody == "":
				body, readErr := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
				if readErr != nil {
					continue
				}
				msg.TextBody = normalizeNewlines(string(body))

			case contentType == "text/html" && msg.HTMLBody == "":
				body, readErr := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
				if readErr != nil {
					continue
				}
				msg.HTMLBody = normalizeNewlines(string(body))
			}
		}
	}

	return msg, nil
}

func decodeAddressList(h mail.Header, field string) string {
	addrs, err := h.AddressList(field)
	if err != nil || len(addrs) == 0 {
		return DecodeHeader(h.Get(field))
	}
	a := addrs[0]
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", DecodeHeader(a.Name), a.Address)
	}
	return a.Address
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
