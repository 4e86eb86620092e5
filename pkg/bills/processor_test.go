package bills_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentbooks/rentbooks/pkg/bills"
	"github.com/rentbooks/rentbooks/pkg/ledger"
	"github.com/rentbooks/rentbooks/pkg/ledger/ledgertest"
	"github.com/rentbooks/rentbooks/pkg/utility"
)

var labels = bills.Labels{
	Bills:   "Home/Bills",
	Records: "Home/Duplex Records",
	Review:  "Script/Unmatched",
	Error:   "Script/Error",
}

type fakeMailbox struct {
	threads  map[string][]bills.Message
	labelled map[string][]string
	inboxed  []string
	fetchErr error
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		threads:  make(map[string][]bills.Message),
		labelled: make(map[string][]string),
	}
}

func (f *fakeMailbox) Threads(ctx context.Context, label string, max int64) ([]bills.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	msgs := f.threads[label]
	if int64(len(msgs)) > max {
		msgs = msgs[:max]
	}
	return msgs, nil
}

func (f *fakeMailbox) AddLabel(ctx context.Context, threadID, label string) error {
	f.labelled[label] = append(f.labelled[label], threadID)
	return nil
}

func (f *fakeMailbox) MoveToInbox(ctx context.Context, threadID string) error {
	f.inboxed = append(f.inboxed, threadID)
	return nil
}

type fakeTasks struct {
	tasks []bills.Task
	err   error
}

func (f *fakeTasks) CreateTask(ctx context.Context, task bills.Task) error {
	f.tasks = append(f.tasks, task)
	return f.err
}

type fakeRecorder struct {
	outcomes []bills.Outcome
}

func (f *fakeRecorder) RecordOutcome(ctx context.Context, o bills.Outcome) error {
	f.outcomes = append(f.outcomes, o)
	return nil
}

type harness struct {
	mailbox  *fakeMailbox
	tasks    *fakeTasks
	recorder *fakeRecorder
	sheet    *ledgertest.MemSheet
	main     *ledgertest.MemSheet
	proc     *bills.Processor
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mailbox:  newFakeMailbox(),
		tasks:    &fakeTasks{},
		recorder: &fakeRecorder{},
		sheet:    ledgertest.New(),
		main:     ledgertest.New(),
		now:      time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC),
	}
	h.sheet.SetRows("Transaction Detail", [][]any{{"Year", "Quarter", "Acct", "Date", "Account", "Vendor", "Amount", "Party", "Memo"}})
	h.main.SetRows("Transactions", [][]any{{"Date", "Vendor", "Amount", "Party", "Category", "Notes"}})

	h.proc = bills.NewProcessor(bills.ProcessorConfig{
		Mailbox:  h.mailbox,
		Tasks:    h.tasks,
		Recorder: h.recorder,
		Duplex:   ledger.NewPoster(h.sheet, ledger.Duplex("Transaction Detail"), time.UTC, nil),
		Main:     ledger.NewPoster(h.main, ledger.Main("Transactions"), time.UTC, nil),
		Labels:   labels,
		Party:    "Michael",
		Location: time.UTC,
		Now:      func() time.Time { return h.now },
	})
	return h
}

func waterRule() utility.Rule {
	return utility.Rule{
		ID:      "Water",
		From:    "water-co.com",
		Subject: "Your Bill",
		Account: "ACME123",
		Payment: true,
		Service: "Water/Sewer",
	}
}

func TestRun_WaterScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.mailbox.threads[labels.Bills] = []bills.Message{{
		Pool:      bills.PoolBills,
		ThreadID:  "t-water",
		Subject:   "Your Bill is ready",
		From:      "noreply@water-co.com",
		PlainBody: "Account ACME123. Payment received: $45.67",
		Date:      time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC),
	}}

	summary, err := h.proc.Run(ctx, []utility.Rule{waterRule()}, nil)
	require.NoError(t, err)
	assert.Equal(t, bills.Summary{Matched: 1, Posted: 1}, summary)

	rows := h.sheet.Rows("Transaction Detail")
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"", "", "", "03/10/2024", "5", "Water District", -45.67, "Michael", "Water/Sewer"}, rows[1])

	// Rerun posts nothing new
	summary, err = h.proc.Run(ctx, []utility.Rule{waterRule()}, nil)
	require.NoError(t, err)
	assert.Equal(t, bills.Summary{Matched: 1, Duplicates: 1}, summary)
	assert.Len(t, h.sheet.Rows("Transaction Detail"), 2)

	require.Len(t, h.recorder.outcomes, 2)
	assert.Equal(t, bills.StatusPosted, h.recorder.outcomes[0].Status)
	assert.Equal(t, bills.StatusDuplicate, h.recorder.outcomes[1].Status)
	assert.Equal(t, "-45.67", h.recorder.outcomes[0].Amount)
	assert.Equal(t, "duplex", h.recorder.outcomes[0].Target)
}

func TestRun_UnmatchedAccountGoesToReviewOnce(t *testing.T) {
	h := newHarness(t)

	rule := waterRule()
	rule.AccountMain = "MAIN999"
	h.mailbox.threads[labels.Bills] = []bills.Message{{
		ThreadID:  "t-other",
		Subject:   "Your Bill is ready",
		From:      "noreply@water-co.com",
		PlainBody: "Account ZZZ000. Payment received: $12.00",
		Date:      time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}}

	summary, err := h.proc.Run(context.Background(), []utility.Rule{rule}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reviewed)

	assert.Equal(t, []string{"t-other"}, h.mailbox.labelled[labels.Review])
	assert.Empty(t, h.mailbox.labelled[labels.Error])
	assert.Empty(t, h.mailbox.inboxed)
	assert.Equal(t, 0, h.sheet.Appends)
	assert.Equal(t, 0, h.main.Appends)

	require.Len(t, h.tasks.tasks, 1)
	task := h.tasks.tasks[0]
	assert.Equal(t, "Review Bill: Your Bill is ready", task.Title)
	assert.Equal(t, h.now.Add(24*time.Hour), task.Due)
	assert.Equal(t, "https://mail.google.com/mail/#all/t-other", task.Notes)
}

func TestRun_TaskFailureIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.tasks.err = errors.New("tasks unavailable")

	h.mailbox.threads[labels.Bills] = []bills.Message{{
		ThreadID:  "t1",
		Subject:   "Your Bill",
		From:      "water-co.com",
		PlainBody: "nothing useful $1.00",
	}}

	summary, err := h.proc.Run(context.Background(), []utility.Rule{waterRule()}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reviewed)
	assert.Len(t, h.tasks.tasks, 1)
}

func TestRun_ExtractionFailureRoutesToErrorLabel(t *testing.T) {
	h := newHarness(t)

	rule := waterRule()
	rule.Payment = false
	h.mailbox.threads[labels.Records] = []bills.Message{{
		ThreadID:  "t-bad",
		Subject:   "Your Bill",
		From:      "water-co.com",
		PlainBody: "ACME123 total $45.67 but no due date",
	}}
	h.mailbox.threads[labels.Bills] = []bills.Message{{
		ThreadID:  "t-good",
		Subject:   "Your Bill",
		From:      "water-co.com",
		PlainBody: "ACME123 Due Date 04/01/24 amount $30.00",
	}}

	summary, err := h.proc.Run(context.Background(), []utility.Rule{rule}, nil)
	require.NoError(t, err)
	assert.Equal(t, bills.Summary{Matched: 2, Posted: 1, Errored: 1}, summary)

	assert.Equal(t, []string{"t-bad"}, h.mailbox.labelled[labels.Error])
	assert.Equal(t, []string{"t-bad"}, h.mailbox.inboxed)
	assert.Empty(t, h.tasks.tasks)

	rows := h.sheet.Rows("Transaction Detail")
	require.Len(t, rows, 2)
	assert.Equal(t, "04/01/2024", rows[1][3])
}

func TestRun_PostingFailureRoutesToErrorLabel(t *testing.T) {
	h := newHarness(t)
	h.sheet.FailAppend = errors.New("quota exceeded")

	h.mailbox.threads[labels.Bills] = []bills.Message{{
		ThreadID:  "t1",
		Subject:   "Your Bill",
		From:      "water-co.com",
		PlainBody: "ACME123 $45.67",
	}}

	summary, err := h.proc.Run(context.Background(), []utility.Rule{waterRule()}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, []string{"t1"}, h.mailbox.labelled[labels.Error])
	assert.Contains(t, h.recorder.outcomes[0].Detail, "quota exceeded")
}

func TestRun_RoutesMainAccountToMainLedger(t *testing.T) {
	h := newHarness(t)

	rule := utility.Rule{
		ID:          "Electric",
		From:        "power.com",
		Subject:     "Statement",
		Account:     "DUP-1",
		AccountMain: "MAIN-2",
		HTML:        true,
		Service:     "Electric",
	}
	h.mailbox.threads[labels.Bills] = []bills.Message{{
		ThreadID: "t-main",
		Subject:  "Statement ready",
		From:     "bill@power.com",
		HTMLBody: "<p>Account MAIN-2</p><p>Due Date: 03/28/24</p><p>$88.10</p>",
	}}

	_, err := h.proc.Run(context.Background(), []utility.Rule{rule}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, h.sheet.Appends)
	rows := h.main.Rows("Transactions")
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"03/28/2024", "Electric", -88.1, "Michael", "Utilities", "Electric"}, rows[1])
}

func TestRun_AdjustmentUsesMainSnapshot(t *testing.T) {
	h := newHarness(t)
	h.main.SetRows("Transactions", [][]any{
		{"Date", "Vendor", "Amount", "Party", "Category", "Notes"},
		{"03/28/2024", "Electric", -60.0, "Michael", "Utilities", "Electric"},
	})

	rule := utility.Rule{
		ID:      "Electric",
		From:    "power.com",
		Subject: "Statement",
		Account: "DUP-1",
		Service: "Electric",
		Adjust: &utility.AdjustPolicy{
			Since: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			Ratio: utility.DefaultAdjustRatio,
		},
	}
	h.mailbox.threads[labels.Bills] = []bills.Message{
		{
			ThreadID:  "t-prior",
			Subject:   "Statement",
			From:      "power.com",
			PlainBody: "DUP-1 Due Date 03/28/24 $100.00",
			Date:      time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			ThreadID:  "t-ratio",
			Subject:   "Statement",
			From:      "power.com",
			PlainBody: "DUP-1 Due Date 02/28/24 $200.00",
			Date:      time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC),
		},
	}

	_, err := h.proc.Run(context.Background(), []utility.Rule{rule}, nil)
	require.NoError(t, err)

	rows := h.sheet.Rows("Transaction Detail")
	require.Len(t, rows, 3)
	assert.Equal(t, -40.0, rows[1][6])
	assert.Equal(t, -130.0, rows[2][6])
}

func TestRun_Scope(t *testing.T) {
	h := newHarness(t)
	gas := utility.Rule{ID: "Gas", From: "gas.com", Subject: "Bill", Account: "G1", Payment: true}

	h.mailbox.threads[labels.Bills] = []bills.Message{
		{ThreadID: "w", Subject: "Your Bill", From: "water-co.com", PlainBody: "ACME123 $1.00"},
		{ThreadID: "g", Subject: "Bill", From: "gas.com", PlainBody: "G1 $2.00"},
	}

	summary, err := h.proc.Run(context.Background(), []utility.Rule{waterRule(), gas}, []string{"Gas"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Posted)

	require.Len(t, h.recorder.outcomes, 1)
	assert.Equal(t, "Gas", h.recorder.outcomes[0].RuleID)
}

func TestRun_FetchFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.mailbox.fetchErr = errors.New("mail unavailable")

	_, err := h.proc.Run(context.Background(), []utility.Rule{waterRule()}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail unavailable")
}

func TestRun_UnreadableAttachmentFailsOnlyThatMessage(t *testing.T) {
	h := newHarness(t)

	rule := waterRule()
	rule.Attachment = true
	h.mailbox.threads[labels.Bills] = []bills.Message{
		{
			ThreadID: "t-broken",
			Subject:  "Your Bill",
			From:     "water-co.com",
			Attachments: []bills.Attachment{
				{Filename: "bill.pdf", MimeType: "application/pdf", Err: errors.New("HTTP 500")},
			},
		},
		{
			ThreadID: "t-empty",
			Subject:  "Your Bill",
			From:     "water-co.com",
		},
	}

	summary, err := h.proc.Run(context.Background(), []utility.Rule{rule}, nil)
	require.NoError(t, err)
	assert.Equal(t, bills.Summary{Matched: 2, Errored: 2}, summary)

	assert.Equal(t, []string{"t-broken", "t-empty"}, h.mailbox.labelled[labels.Error])
	assert.Equal(t, []string{"t-broken", "t-empty"}, h.mailbox.inboxed)
	require.Len(t, h.recorder.outcomes, 2)
	assert.Contains(t, h.recorder.outcomes[0].Detail, `failed to fetch attachment "bill.pdf"`)
	assert.Len(t, h.sheet.Rows("Transaction Detail"), 1)
}

func TestRun_BillsLabelKeepsDuplexBillsOut(t *testing.T) {
	h := newHarness(t)

	rules, err := utility.Parse([]byte(`
Gas:
  from: gas.com
  subject: Gas Bill
  account: G1
  actMain: M1
  payment: true
  label: bills
`))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, utility.LabelBills, rules[0].Label)

	h.mailbox.threads[labels.Bills] = []bills.Message{
		{ThreadID: "t-duplex", Subject: "Gas Bill", From: "gas.com", PlainBody: "G1 $10.00", Date: h.now},
		{ThreadID: "t-main", Subject: "Gas Bill", From: "gas.com", PlainBody: "M1 $20.00", Date: h.now},
	}

	summary, err := h.proc.Run(context.Background(), rules, nil)
	require.NoError(t, err)
	assert.Equal(t, bills.Summary{Matched: 2, Posted: 1, Skipped: 1}, summary)

	assert.Len(t, h.sheet.Rows("Transaction Detail"), 1)
	assert.Len(t, h.main.Rows("Transactions"), 2)
	assert.Empty(t, h.mailbox.labelled)
	assert.Empty(t, h.mailbox.inboxed)

	require.Len(t, h.recorder.outcomes, 2)
	assert.Equal(t, bills.StatusSkipped, h.recorder.outcomes[0].Status)
	assert.Equal(t, "duplex", h.recorder.outcomes[0].Target)
}
