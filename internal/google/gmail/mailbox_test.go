package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/rentbooks/rentbooks/pkg/report"
)

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestParseMessage(t *testing.T) {
	src := &gmail.Message{
		Id:           "m1",
		InternalDate: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli(),
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Your water bill"},
				{Name: "From", Value: "Water Co <billing@water.example>"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("Amount Due $45.10")}},
						{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("<b>$45.10</b>")}},
					},
				},
				{
					MimeType: "application/pdf",
					Filename: "bill.pdf",
					Body:     &gmail.MessagePartBody{AttachmentId: "att-1"},
				},
			},
		},
	}

	msg := parseMessage(src)
	assert.Equal(t, "m1", msg.MessageID)
	assert.Equal(t, "Your water bill", msg.Subject)
	assert.Equal(t, "Water Co <billing@water.example>", msg.From)
	assert.Equal(t, "Amount Due $45.10", msg.PlainBody)
	assert.Equal(t, "<b>$45.10</b>", msg.HTMLBody)
	assert.True(t, msg.Date.Equal(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)))

	parts := attachmentParts(src.Payload)
	require.Len(t, parts, 1)
	assert.Equal(t, "bill.pdf", parts[0].Filename)
}

func TestDecodeBody_Unpadded(t *testing.T) {
	data, err := decodeBody(base64.RawURLEncoding.EncodeToString([]byte("ab")))
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))
}

func TestBuildMIME(t *testing.T) {
	raw, err := buildMIME("owner@example.com", report.Mail{
		To:        []string{"a@example.com", "b@example.com"},
		Cc:        []string{"owner@example.com"},
		FromName:  "Duplex Books",
		Subject:   "Duplex Books March 2024 Update",
		PlainBody: "plain",
		HTMLBody:  "<p>html</p>",
	})
	require.NoError(t, err)

	text := string(raw)
	assert.Contains(t, text, "From: Duplex Books <owner@example.com>\r\n")
	assert.Contains(t, text, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, text, "Cc: owner@example.com\r\n")
	assert.Contains(t, text, "Subject: Duplex Books March 2024 Update\r\n")
	assert.Contains(t, text, "multipart/alternative")
	assert.Contains(t, text, base64.StdEncoding.EncodeToString([]byte("plain")))
	assert.Contains(t, text, base64.StdEncoding.EncodeToString([]byte("<p>html</p>")))
}

// fakeGmail serves the handful of endpoints Mailbox calls.
type fakeGmail struct {
	mu       sync.Mutex
	modified map[string][]string
	created  []string
	sent     []string

	attachmentDown bool
}

func (f *fakeGmail) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /gmail/v1/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"labels": []map[string]string{
			{"id": "Label_1", "name": "bills"},
			{"id": "INBOX", "name": "INBOX"},
		}})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		var label gmail.Label
		require.NoError(t, json.NewDecoder(r.Body).Decode(&label))
		f.mu.Lock()
		f.created = append(f.created, label.Name)
		f.mu.Unlock()
		writeJSON(w, map[string]string{"id": "Label_new", "name": label.Name})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/threads", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Label_1", r.URL.Query().Get("labelIds"))
		writeJSON(w, map[string]any{"threads": []map[string]string{{"id": "t1"}}})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/threads/t1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id": "t1",
			"messages": []map[string]any{{
				"id":           "m1",
				"internalDate": "1709283600000",
				"payload": map[string]any{
					"mimeType": "multipart/mixed",
					"headers":  []map[string]string{{"name": "Subject", "value": "Electric bill"}},
					"parts": []map[string]any{
						{"mimeType": "text/plain", "body": map[string]string{"data": encode("Due Date 03/15/24")}},
						{"mimeType": "application/pdf", "filename": "bill.pdf", "body": map[string]string{"attachmentId": "a1"}},
					},
				},
			}},
		})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/m1/attachments/a1", func(w http.ResponseWriter, r *http.Request) {
		if f.attachmentDown {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"data": encode("%PDF-1.4")})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/threads/{id}/modify", func(w http.ResponseWriter, r *http.Request) {
		var req gmail.ModifyThreadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		if f.modified == nil {
			f.modified = map[string][]string{}
		}
		id := r.PathValue("id")
		f.modified[id] = append(f.modified[id], req.AddLabelIds...)
		f.mu.Unlock()
		writeJSON(w, map[string]string{"id": id})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"emailAddress": "owner@example.com"})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		var msg gmail.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		raw, err := base64.URLEncoding.DecodeString(msg.Raw)
		require.NoError(t, err)
		f.mu.Lock()
		f.sent = append(f.sent, string(raw))
		f.mu.Unlock()
		writeJSON(w, map[string]string{"id": "sent-1"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestMailbox(t *testing.T, fake *fakeGmail) *Mailbox {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMailbox_Threads(t *testing.T) {
	mb := newTestMailbox(t, &fakeGmail{})

	msgs, err := mb.Threads(context.Background(), "bills", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, "Electric bill", msg.Subject)
	assert.Equal(t, "Due Date 03/15/24", msg.PlainBody)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "bill.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "%PDF-1.4", string(msg.Attachments[0].Data))
}

func TestMailbox_ThreadsKeepsMessageWhenAttachmentFails(t *testing.T) {
	mb := newTestMailbox(t, &fakeGmail{attachmentDown: true})

	msgs, err := mb.Threads(context.Background(), "bills", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, "Due Date 03/15/24", msg.PlainBody)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "bill.pdf", msg.Attachments[0].Filename)
	assert.Nil(t, msg.Attachments[0].Data)
	assert.ErrorContains(t, msg.Attachments[0].Err, `failed to get attachment "bill.pdf"`)
}

func TestMailbox_ThreadsMissingLabel(t *testing.T) {
	mb := newTestMailbox(t, &fakeGmail{})

	msgs, err := mb.Threads(context.Background(), "records", 50)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMailbox_LabelsAndInbox(t *testing.T) {
	fake := &fakeGmail{}
	mb := newTestMailbox(t, fake)
	ctx := context.Background()

	require.NoError(t, mb.AddLabel(ctx, "t1", "bills"))
	require.NoError(t, mb.AddLabel(ctx, "t1", "error"))
	require.NoError(t, mb.AddLabel(ctx, "t2", "error"))
	require.NoError(t, mb.MoveToInbox(ctx, "t1"))

	assert.Equal(t, []string{"error"}, fake.created, "missing label created once")
	assert.Equal(t, []string{"Label_1", "Label_new", "INBOX"}, fake.modified["t1"])
	assert.Equal(t, []string{"Label_new"}, fake.modified["t2"])
}

func TestMailbox_Send(t *testing.T) {
	fake := &fakeGmail{}
	mb := newTestMailbox(t, fake)

	err := mb.Send(context.Background(), report.Mail{
		To:        []string{"partner@example.com"},
		FromName:  "Duplex Books",
		Subject:   "Duplex Books March 2024 Update",
		PlainBody: "hello",
	})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	assert.True(t, strings.HasPrefix(fake.sent[0], "From: Duplex Books <owner@example.com>\r\n"))

	email, err := mb.Email(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", email)
}

func TestMailbox_SendWithoutRecipients(t *testing.T) {
	mb := newTestMailbox(t, &fakeGmail{})
	assert.Error(t, mb.Send(context.Background(), report.Mail{Subject: "x"}))
}
