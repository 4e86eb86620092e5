// Package bills turns utility bill emails into de-duplicated ledger postings.
package bills

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentbooks/rentbooks/pkg/ledger"
	"github.com/rentbooks/rentbooks/pkg/utility"
)

var (
	// ErrNoAccountMatch means neither account substring appears in the body.
	ErrNoAccountMatch = errors.New("no account match")
	// ErrAmountNotFound means the body has no currency amount.
	ErrAmountNotFound = errors.New("amount not found")
	// ErrDueDateNotFound means a bill has no "Due Date" followed by MM/DD/YY.
	ErrDueDateNotFound = errors.New("due date not found")
	// ErrNoAttachment means an attachment-mode rule matched a message without one.
	ErrNoAttachment = errors.New("message has no attachment")
	// ErrNotPosted means the bill matched the Duplex account on a rule whose
	// bills are kept out of the Duplex ledger.
	ErrNotPosted = errors.New("bill not posted to the duplex ledger")
)

// Pool identifies the mailbox label a message was fetched from.
type Pool string

const (
	PoolRecords Pool = "records"
	PoolBills   Pool = "bills"
)

// Message is the first message of a labelled thread.
type Message struct {
	Pool        Pool
	ThreadID    string
	MessageID   string
	Subject     string
	From        string
	PlainBody   string
	HTMLBody    string
	Attachments []Attachment
	Date        time.Time
}

// Attachment is a file carried by a message. Err is set when its data
// could not be fetched.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
	Err      error
}

// Target is the ledger a bill is posted to.
type Target int

const (
	TargetDuplex Target = iota
	TargetMain
)

func (t Target) String() string {
	if t == TargetMain {
		return "main"
	}
	return "duplex"
}

// ParsedBill is a bill ready to be posted.
type ParsedBill struct {
	Rule     utility.Rule
	Message  Message
	DateText string // due date as written in the bill, empty for payment confirmations
	Date     time.Time
	Amount   decimal.Decimal
	Target   Target
	Category string
}

const (
	duplexUtilityAccount = "5"
	mainUtilityCategory  = "Utilities"
)

// Entry builds the ledger entry for the bill.
func (b ParsedBill) Entry(party string) ledger.Entry {
	if b.Target == TargetMain {
		return ledger.Entry{
			Date:     b.Date,
			Vendor:   b.Rule.ID,
			Amount:   b.Amount,
			Party:    party,
			Category: b.Category,
			Memo:     b.Rule.Service,
		}
	}
	return ledger.Entry{
		Date:    b.Date,
		Account: duplexUtilityAccount,
		Vendor:  b.Rule.VendorName(),
		Amount:  b.Amount,
		Party:   party,
		Memo:    b.Rule.Service,
	}
}

// Mailbox is the mail store contract.
type Mailbox interface {
	// Threads returns the first message of up to max most recent threads with the label.
	Threads(ctx context.Context, label string, max int64) ([]Message, error)
	AddLabel(ctx context.Context, threadID, label string) error
	MoveToInbox(ctx context.Context, threadID string) error
}

// Converter turns a document attachment into plain text.
type Converter interface {
	ExtractText(ctx context.Context, att Attachment) (string, error)
}

// Task is a follow-up item for manual review.
type Task struct {
	Title string
	Due   time.Time
	Notes string
}

// TaskCreator creates follow-up tasks. Failures are logged and ignored.
type TaskCreator interface {
	CreateTask(ctx context.Context, task Task) error
}

// Status is the final state of one processed message.
type Status string

const (
	StatusPosted    Status = "posted"
	StatusDuplicate Status = "duplicate"
	StatusReview    Status = "review"
	StatusSkipped   Status = "skipped"
	StatusError     Status = "error"
)

// Outcome records what happened to one matched message.
type Outcome struct {
	RuleID   string
	ThreadID string
	Subject  string
	Status   Status
	Target   string
	Date     string
	Amount   string
	Detail   string
}

// Recorder keeps a trace of every outcome.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// Summary counts outcomes of a run.
type Summary struct {
	Matched    int
	Posted     int
	Duplicates int
	Reviewed   int
	Skipped    int
	Errored    int
}
