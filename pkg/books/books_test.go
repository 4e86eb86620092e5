package books_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentbooks/rentbooks/pkg/bills"
	"github.com/rentbooks/rentbooks/pkg/books"
	"github.com/rentbooks/rentbooks/pkg/config"
	"github.com/rentbooks/rentbooks/pkg/db"
	"github.com/rentbooks/rentbooks/pkg/ledger"
	"github.com/rentbooks/rentbooks/pkg/ledger/ledgertest"
	"github.com/rentbooks/rentbooks/pkg/report"
)

const rulesBlob = `{
  "Water": {"subject": "Your Bill", "from": "water-co.com", "account": "ACME123", "payment": true, "service": "Water/Sewer"}
}`

type identity string

func (i identity) Email(ctx context.Context) (string, error) { return string(i), nil }

type staticRules string

func (s staticRules) Read(ctx context.Context) ([]byte, error) { return []byte(s), nil }

type mailbox struct {
	threads  map[string][]bills.Message
	labelled []string
}

func (m *mailbox) Threads(ctx context.Context, label string, max int64) ([]bills.Message, error) {
	return m.threads[label], nil
}

func (m *mailbox) AddLabel(ctx context.Context, threadID, label string) error {
	m.labelled = append(m.labelled, label+":"+threadID)
	return nil
}

func (m *mailbox) MoveToInbox(ctx context.Context, threadID string) error { return nil }

type sender struct {
	sent []report.Mail
}

func (s *sender) Send(ctx context.Context, m report.Mail) error {
	s.sent = append(s.sent, m)
	return nil
}

type fixture struct {
	cfg     *config.Config
	duplex  *ledgertest.MemSheet
	main    *ledgertest.MemSheet
	mailbox *mailbox
	sender  *sender
	history *db.History
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		cfg: &config.Config{
			Operator: config.OperatorConfig{
				Email:      "owner@example.com",
				Party:      "Michael",
				Recipients: []string{"partner@example.com"},
				SenderName: "Conan Rental Management",
			},
			Mail: config.MailConfig{
				BillsLabel:   "Home/Bills",
				RecordsLabel: "Home/Duplex Records",
				ReviewLabel:  "Script/Unmatched",
				ErrorLabel:   "Script/Error",
				MaxThreads:   100,
			},
			Sheets: config.SheetsConfig{
				DuplexLedger:        "Transaction Detail",
				MainLedger:          "Transactions",
				RentRange:           "'Summary'!F4:H5",
				DuplexMortgageRange: "'Summary'!F8:I9",
				MainMortgageRange:   "'Summary'!E3:G5",
				AccountsRange:       "'Accounts'!A:C",
			},
		},
		duplex:  ledgertest.New(),
		main:    ledgertest.New(),
		mailbox: &mailbox{threads: map[string][]bills.Message{}},
		sender:  &sender{},
		now:     time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC),
	}

	f.duplex.SetRows("Transaction Detail", [][]any{{"Year", "Quarter", "Acct", "Date", "Account", "Vendor", "Amount", "Party", "Memo"}})
	f.main.SetRows("Transactions", [][]any{{"Date", "Vendor", "Amount", "Party", "Category", "Notes"}})
	f.duplex.SetRows("Accounts", [][]any{
		{"Group", "Code", "Name"},
		{"Income", 1.0, "Rental Income"},
		{"Expense", 7.0, "Repairs"},
	})
	for cell, v := range map[string]any{
		"'Summary'!F4": "Unit A", "'Summary'!G4": "Tenant One", "'Summary'!H4": 1200.0,
		"'Summary'!F8": "Principal", "'Summary'!G8": "12", "'Summary'!H8": "Big Bank", "'Summary'!I8": -800.0,
		"'Financials'!C12": 100.0, "'Financials'!D12": 200.0, "'Financials'!E12": 300.0,
		"'Summary'!B15": 250000.0, "'Reimbursement'!C17": 0.0,
	} {
		require.NoError(t, f.duplex.WriteCell(ctx, cell, v))
	}
	require.NoError(t, f.main.WriteCell(ctx, "'Summary'!E3", "Mortgage"))
	require.NoError(t, f.main.WriteCell(ctx, "'Summary'!F3", "Home Lender"))
	require.NoError(t, f.main.WriteCell(ctx, "'Summary'!G3", -2100.0))

	conn, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	f.history = db.NewHistory(conn)
	return f
}

func (f *fixture) run(who string) *books.Run {
	return books.New(f.cfg, books.Deps{
		Identity:    identity(who),
		Rules:       staticRules(rulesBlob),
		Mailbox:     f.mailbox,
		Sender:      f.sender,
		DuplexSheet: f.duplex,
		MainSheet:   f.main,
		History:     f.history,
	}, time.UTC,
		books.WithClock(func() time.Time { return f.now }),
		books.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestUnauthorizedRunHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.mailbox.threads["Home/Bills"] = []bills.Message{{
		ThreadID:  "t1",
		Subject:   "Your Bill",
		From:      "water-co.com",
		PlainBody: "ACME123 $10.00",
	}}
	ctx := context.Background()
	r := f.run("intruder@example.com")

	_, err := r.Bills(ctx, nil)
	assert.ErrorIs(t, err, books.ErrUnauthorized)
	_, err = r.Rent(ctx)
	assert.ErrorIs(t, err, books.ErrUnauthorized)
	assert.ErrorIs(t, r.Manage(ctx, false), books.ErrUnauthorized)

	assert.Equal(t, 0, f.duplex.Appends)
	assert.Equal(t, 0, f.main.Appends)
	assert.Empty(t, f.mailbox.labelled)
	assert.Empty(t, f.sender.sent)

	runs, err := f.history.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, run := range runs {
		assert.Equal(t, db.RunUnauthorized, run.Status)
	}
}

func TestAuthorizeIgnoresCase(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.run("Owner@Example.com").Authorize(context.Background()))

	f.cfg.Operator.Email = ""
	assert.ErrorIs(t, f.run("owner@example.com").Authorize(context.Background()), books.ErrUnauthorized)
}

func TestBillsRecordsOutcomes(t *testing.T) {
	f := newFixture(t)
	f.mailbox.threads["Home/Bills"] = []bills.Message{{
		ThreadID:  "t-water",
		Subject:   "Your Bill is ready",
		From:      "noreply@water-co.com",
		PlainBody: "Account ACME123. Payment received: $45.67",
		Date:      time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC),
	}}
	ctx := context.Background()

	summary, err := f.run("owner@example.com").Bills(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, bills.Summary{Matched: 1, Posted: 1}, summary)

	summary, err = f.run("owner@example.com").Bills(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, bills.Summary{Matched: 1, Duplicates: 1}, summary)
	assert.Len(t, f.duplex.Rows("Transaction Detail"), 2)

	stats, err := f.history.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRuns)
	assert.Equal(t, 1, stats.Posted)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 2, stats.Postings)

	posted, err := f.history.OutcomesByStatus(ctx, "posted", 10)
	require.NoError(t, err)
	require.Len(t, posted, 1)
	assert.Equal(t, "Water", posted[0].RuleID)
	assert.Equal(t, "03/10/2024", posted[0].EntryDate)
	assert.NotEmpty(t, posted[0].RunID)
}

func TestBillsScopeSkipsOtherRules(t *testing.T) {
	f := newFixture(t)
	f.mailbox.threads["Home/Bills"] = []bills.Message{{
		ThreadID:  "t-water",
		Subject:   "Your Bill",
		From:      "water-co.com",
		PlainBody: "ACME123 Payment received: $45.67",
	}}

	summary, err := f.run("owner@example.com").Bills(context.Background(), []string{"Electric"})
	require.NoError(t, err)
	assert.Equal(t, bills.Summary{}, summary)
	assert.Equal(t, 0, f.duplex.Appends)
}

func TestManage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.run("owner@example.com").Manage(ctx, false))

	rows := f.duplex.Rows("Transaction Detail")
	require.Len(t, rows, 3, "one rent row and one mortgage row")
	assert.Equal(t, "Unit A 2024 March Rent", rows[1][8])
	assert.Equal(t, "Principal", rows[2][8])
	assert.Len(t, f.main.Rows("Transactions"), 2)

	require.Len(t, f.sender.sent, 1)
	mail := f.sender.sent[0]
	assert.Equal(t, "Conan Rental Management 2024 March Update", mail.Subject)
	assert.Equal(t, []string{"partner@example.com"}, mail.To)
	assert.Equal(t, []string{"owner@example.com"}, mail.Cc)

	month, err := f.history.GetMetadata(ctx, books.LastReportKey)
	require.NoError(t, err)
	assert.Equal(t, "2024 March", month)

	// Second run the same month posts nothing new
	require.NoError(t, f.run("owner@example.com").Manage(ctx, true))
	assert.Len(t, f.duplex.Rows("Transaction Detail"), 3)
	assert.Equal(t, []string{"owner@example.com"}, f.sender.sent[1].To)
}

func TestReportTestModeLeavesMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.run("owner@example.com").Report(ctx, true)
	require.NoError(t, err)

	month, err := f.history.GetMetadata(ctx, books.LastReportKey)
	require.NoError(t, err)
	assert.Empty(t, month)
}

func TestPostExpense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)

	res, err := f.run("owner@example.com").PostExpense(ctx, books.Expense{
		Date:        date,
		AccountName: "Repairs",
		Vendor:      "Hardware Store",
		Amount:      decimal.RequireFromString("42.50"),
		Memo:        "Faucet",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.Posted, res)

	res, err = f.run("owner@example.com").PostExpense(ctx, books.Expense{
		Date:        date,
		AccountName: "Rental Income",
		Vendor:      "Tenant One",
		Amount:      decimal.RequireFromString("1200"),
		Party:       "Sarah",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.Posted, res)

	rows := f.duplex.Rows("Transaction Detail")
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"", "", "", "03/18/2024", "7", "Hardware Store", -42.5, "Michael", "Faucet"}, rows[1])
	assert.Equal(t, []any{"", "", "", "03/18/2024", "1", "Tenant One", 1200.0, "Sarah", ""}, rows[2])
}

func TestPostExpense_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.run("owner@example.com").PostExpense(context.Background(), books.Expense{
		Date:        time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
		AccountName: "Landscaping",
		Amount:      decimal.RequireFromString("10"),
	})
	assert.True(t, errors.Is(err, books.ErrUnknownAccount))
	assert.Equal(t, 0, f.duplex.Appends)
}
