package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"google.golang.org/api/gmail/v1"

	"github.com/rentbooks/rentbooks/pkg/report"
)

// Send delivers a multipart/alternative message from the authenticated account.
func (m *Mailbox) Send(ctx context.Context, mail report.Mail) error {
	if len(mail.To) == 0 {
		return fmt.Errorf("mail %q has no recipients", mail.Subject)
	}

	from, err := m.Email(ctx)
	if err != nil {
		return err
	}

	raw, err := buildMIME(from, mail)
	if err != nil {
		return err
	}

	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	if _, err := m.service.Users.Messages.Send(userID, msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to send %q: %w", mail.Subject, err)
	}

	m.logger.Info("Sent mail", "subject", mail.Subject, "to", strings.Join(mail.To, ","))
	return nil
}

// buildMIME renders an RFC 2822 message with plain and HTML alternatives.
func buildMIME(from string, mail report.Mail) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	sender := from
	if mail.FromName != "" {
		sender = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", mail.FromName), from)
	}

	fmt.Fprintf(&buf, "From: %s\r\n", sender)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(mail.To, ", "))
	if len(mail.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(mail.Cc, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", mail.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=UTF-8", mail.PlainBody},
		{"text/html; charset=UTF-8", mail.HTMLBody},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create mime part: %w", err)
		}
		if _, err := w.Write([]byte(wrapBase64(p.body))); err != nil {
			return nil, fmt.Errorf("failed to write mime part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close mime writer: %w", err)
	}
	return buf.Bytes(), nil
}

// wrapBase64 encodes s in 76 column lines.
func wrapBase64(s string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(s))
	var b strings.Builder
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteString("\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc)
	b.WriteString("\r\n")
	return b.String()
}
