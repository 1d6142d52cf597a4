package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/model"
)

// ErrEmptyMessage is returned for a message with no content at all.
var ErrEmptyMessage = errors.New("empty message")

// ParseMessage parses a raw RFC 5322 message. Missing headers are replaced
// with placeholders and a missing Date header falls back to now. HTML is
// preferred over plain text for the stored body; the preview always comes
// from the plain text part.
func ParseMessage(raw []byte, now time.Time) (*model.ParsedMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("reading message header: %w", err)
	}
	defer mr.Close()

	if mr.Header.Len() == 0 {
		return nil, errors.New("message has no header")
	}

	msg := &model.ParsedMessage{
		Subject:   model.DefaultSubject,
		Sender:    model.DefaultSender,
		Recipient: model.DefaultRecipient,
		Date:      now,
	}

	if subject, err := mr.Header.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		msg.Subject = strings.TrimSpace(subject)
	}

	msg.Sender, msg.SenderName = parseFrom(mr.Header)

	if to := parseRecipients(mr.Header); to != "" {
		msg.Recipient = to
	}

	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		msg.Date = date
	}
	msg.ReceivedAt = msg.Date

	msg.TextBody, msg.HTMLBody, err = readBodies(mr)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.TrimSpace(msg.HTMLBody) != "":
		msg.Body = msg.HTMLBody
	case strings.TrimSpace(msg.TextBody) != "":
		msg.Body = msg.TextBody
	default:
		msg.Body = model.NoBodyText
	}

	msg.Preview = Preview(msg.TextBody)
	return msg, nil
}

// Preview returns the first PreviewLength characters of text followed by an
// ellipsis, or the placeholder when text is blank.
func Preview(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.NoPreviewText
	}
	runes := []rune(text)
	if len(runes) > model.PreviewLength {
		runes = runes[:model.PreviewLength]
	}
	return string(runes) + "..."
}

func parseFrom(h mail.Header) (sender, name string) {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address, addrs[0].Name
	}

	// Unparseable From headers are kept verbatim as the sender.
	if raw := strings.TrimSpace(h.Get("From")); raw != "" {
		return raw, ""
	}
	return model.DefaultSender, ""
}

func parseRecipients(h mail.Header) string {
	addrs, err := h.AddressList("To")
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(h.Get("To"))
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return strings.Join(out, ", ")
}

// readBodies walks the MIME tree and keeps the first text/plain and the
// first text/html inline part. Attachments are skipped.
func readBodies(mr *mail.Reader) (text, html string, err error) {
	parts := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		// An unknown charset leaves the part undecoded but still readable.
		if err != nil && (part == nil || !message.IsUnknownCharset(err)) {
			if parts == 0 {
				return "", "", fmt.Errorf("reading message body: %w", err)
			}
			break
		}
		parts++

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		if !strings.HasPrefix(contentType, "text/") {
			continue
		}

		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case contentType == "text/plain" && text == "":
			text = string(body)
		case contentType == "text/html" && html == "":
			html = string(body)
		}
	}
	return text, html, nil
}
