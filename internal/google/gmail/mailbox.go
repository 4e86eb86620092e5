// Package gmail adapts the Gmail API to the mailbox, sender and identity
// contracts of rentbooks.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/rentbooks/rentbooks/pkg/bills"
)

const (
	userID     = "me"
	inboxLabel = "INBOX"
)

// Mailbox wraps the Gmail service.
type Mailbox struct {
	service *gmail.Service
	logger  *slog.Logger

	mu       sync.Mutex
	labelIDs map[string]string // label name to ID
	email    string
}

// New creates a Mailbox.
func New(service *gmail.Service, logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{
		service: service,
		logger:  logger.With("component", "gmail"),
	}
}

// Threads returns the first message of up to max most recent threads with
// the label. A missing label yields no threads.
func (m *Mailbox) Threads(ctx context.Context, label string, max int64) ([]bills.Message, error) {
	labelID, err := m.labelID(ctx, label, false)
	if err != nil {
		return nil, err
	}
	if labelID == "" {
		m.logger.Warn("Label not found", "label", label)
		return nil, nil
	}

	resp, err := m.service.Users.Threads.List(userID).LabelIds(labelID).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	messages := make([]bills.Message, 0, len(resp.Threads))
	for _, th := range resp.Threads {
		thread, err := m.service.Users.Threads.Get(userID, th.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get thread %s: %w", th.Id, err)
		}
		if len(thread.Messages) == 0 {
			continue
		}

		msg := parseMessage(thread.Messages[0])
		msg.ThreadID = th.Id

		m.loadAttachments(ctx, thread.Messages[0], &msg)
		messages = append(messages, msg)
	}

	m.logger.Debug("Fetched threads", "label", label, "count", len(messages))
	return messages, nil
}

// AddLabel applies a user label to a thread, creating the label if needed.
func (m *Mailbox) AddLabel(ctx context.Context, threadID, label string) error {
	labelID, err := m.labelID(ctx, label, true)
	if err != nil {
		return err
	}
	return m.modify(ctx, threadID, labelID)
}

// MoveToInbox puts the thread back in the inbox.
func (m *Mailbox) MoveToInbox(ctx context.Context, threadID string) error {
	return m.modify(ctx, threadID, inboxLabel)
}

func (m *Mailbox) modify(ctx context.Context, threadID, labelID string) error {
	req := &gmail.ModifyThreadRequest{AddLabelIds: []string{labelID}}
	if _, err := m.service.Users.Threads.Modify(userID, threadID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to modify thread %s: %w", threadID, err)
	}
	return nil
}

// labelID resolves a label name, optionally creating it.
func (m *Mailbox) labelID(ctx context.Context, name string, create bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.labelIDs == nil {
		resp, err := m.service.Users.Labels.List(userID).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to list labels: %w", err)
		}
		m.labelIDs = make(map[string]string, len(resp.Labels))
		for _, l := range resp.Labels {
			m.labelIDs[l.Name] = l.Id
		}
	}

	if id, ok := m.labelIDs[name]; ok || !create {
		return id, nil
	}

	created, err := m.service.Users.Labels.Create(userID, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create label %q: %w", name, err)
	}
	m.labelIDs[name] = created.Id
	return created.Id, nil
}

// Email returns the address of the authenticated account.
func (m *Mailbox) Email(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.email != "" {
		return m.email, nil
	}

	profile, err := m.service.Users.GetProfile(userID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	m.email = profile.EmailAddress
	return m.email, nil
}

// loadAttachments downloads the attachment bodies of a message. A failed
// download is kept on the attachment so only that message fails.
func (m *Mailbox) loadAttachments(ctx context.Context, src *gmail.Message, msg *bills.Message) {
	for _, part := range attachmentParts(src.Payload) {
		att := bills.Attachment{Filename: part.Filename, MimeType: part.MimeType}
		att.Data, att.Err = m.attachmentData(ctx, src.Id, part)
		if att.Err != nil {
			m.logger.Warn("Failed to load attachment", "thread_id", msg.ThreadID, "filename", part.Filename, "error", att.Err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}
}

func (m *Mailbox) attachmentData(ctx context.Context, messageID string, part *gmail.MessagePart) ([]byte, error) {
	data := part.Body.Data
	if data == "" && part.Body.AttachmentId != "" {
		att, err := m.service.Users.Messages.Attachments.Get(userID, messageID, part.Body.AttachmentId).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get attachment %q: %w", part.Filename, err)
		}
		data = att.Data
	}

	decoded, err := decodeBody(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment %q: %w", part.Filename, err)
	}
	return decoded, nil
}

// parseMessage converts a full-format message, without attachment data.
func parseMessage(src *gmail.Message) bills.Message {
	msg := bills.Message{
		MessageID: src.Id,
		Date:      time.UnixMilli(src.InternalDate),
	}

	if src.Payload == nil {
		return msg
	}

	for _, header := range src.Payload.Headers {
		switch header.Name {
		case "Subject":
			msg.Subject = header.Value
		case "From":
			msg.From = header.Value
		}
	}

	msg.PlainBody = findPart(src.Payload, "text/plain")
	msg.HTMLBody = findPart(src.Payload, "text/html")
	return msg
}

// findPart returns the decoded body of the first non-attachment part with the MIME type.
func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}

	if part.MimeType == mimeType && part.Filename == "" && part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBody(part.Body.Data); err == nil {
			return string(data)
		}
	}

	for _, p := range part.Parts {
		if body := findPart(p, mimeType); body != "" {
			return body
		}
	}
	return ""
}

// attachmentParts returns every part carrying a named file, depth first.
func attachmentParts(part *gmail.MessagePart) []*gmail.MessagePart {
	if part == nil {
		return nil
	}

	var parts []*gmail.MessagePart
	if part.Filename != "" && part.Body != nil && (part.Body.AttachmentId != "" || part.Body.Data != "") {
		parts = append(parts, part)
	}
	for _, p := range part.Parts {
		parts = append(parts, attachmentParts(p)...)
	}
	return parts
}

// decodeBody decodes Gmail's base64url body data, padded or not.
func decodeBody(data string) ([]byte, error) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}
