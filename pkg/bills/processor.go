package bills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rentbooks/rentbooks/pkg/ledger"
	"github.com/rentbooks/rentbooks/pkg/utility"
)

// reviewLinkPrefix opens a thread in the web mail client.
const reviewLinkPrefix = "https://mail.google.com/mail/#all/"

// Labels names the mailbox labels the pipeline reads and writes.
type Labels struct {
	Bills   string
	Records string
	Review  string
	Error   string
}

// ProcessorConfig holds the collaborators of a Processor.
type ProcessorConfig struct {
	Mailbox   Mailbox
	Converter Converter
	Tasks     TaskCreator
	Recorder  Recorder

	Duplex *ledger.Poster
	Main   *ledger.Poster

	Labels     Labels
	MaxThreads int64
	Party      string
	Location   *time.Location
	Now        func() time.Time
	Logger     *slog.Logger
}

// Processor runs every utility rule against the labelled mail and posts the
// resulting bills.
type Processor struct {
	cfg    ProcessorConfig
	logger *slog.Logger
}

// NewProcessor creates a processor. Tasks and Recorder are optional.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{cfg: cfg, logger: logger.With("component", "bills")}
}

// Run processes the rules in order. When scope is non-empty only rules whose
// ID is listed run. Per-message failures are routed to mailbox labels and
// never abort the run; only failing to fetch mail or the Main Home snapshot
// returns an error.
func (p *Processor) Run(ctx context.Context, rules []utility.Rule, scope []string) (Summary, error) {
	var summary Summary

	selected := make([]utility.Rule, 0, len(rules))
	for _, r := range rules {
		if len(scope) == 0 || slices.Contains(scope, r.ID) {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		p.logger.Info("No utility rules to process")
		return summary, nil
	}

	// Fetch both pools once for all rules
	records, err := p.cfg.Mailbox.Threads(ctx, p.cfg.Labels.Records, p.cfg.MaxThreads)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch %s threads: %w", p.cfg.Labels.Records, err)
	}
	billMail, err := p.cfg.Mailbox.Threads(ctx, p.cfg.Labels.Bills, p.cfg.MaxThreads)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch %s threads: %w", p.cfg.Labels.Bills, err)
	}
	setPool(records, PoolRecords)
	setPool(billMail, PoolBills)
	p.logger.Debug("Fetched candidate mail", "records", len(records), "bills", len(billMail))

	// Snapshot the Main Home ledger for adjustment lookups
	var mainRows [][]any
	if needsMainSnapshot(selected) {
		mainRows, err = p.cfg.Main.Rows(ctx)
		if err != nil {
			return summary, err
		}
	}

	for _, rule := range selected {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		matched := Match(rule, records, billMail)
		p.logger.Info(fmt.Sprintf("%d bill mails for %s", len(matched), rule.ID), "rule", rule.ID)

		for _, msg := range matched {
			summary.Matched++
			outcome := p.process(ctx, rule, msg, mainRows)
			switch outcome.Status {
			case StatusPosted:
				summary.Posted++
			case StatusDuplicate:
				summary.Duplicates++
			case StatusReview:
				summary.Reviewed++
			case StatusSkipped:
				summary.Skipped++
			case StatusError:
				summary.Errored++
			}
			p.record(ctx, outcome)
		}
	}

	p.logger.Info("Bill processing complete",
		"matched", summary.Matched,
		"posted", summary.Posted,
		"duplicates", summary.Duplicates,
		"review", summary.Reviewed,
		"skipped", summary.Skipped,
		"errors", summary.Errored,
	)
	return summary, nil
}

func setPool(msgs []Message, pool Pool) {
	for i := range msgs {
		msgs[i].Pool = pool
	}
}

func needsMainSnapshot(rules []utility.Rule) bool {
	for _, r := range rules {
		if r.Adjust != nil {
			return true
		}
	}
	return false
}

func (p *Processor) process(ctx context.Context, rule utility.Rule, msg Message, mainRows [][]any) Outcome {
	outcome := Outcome{RuleID: rule.ID, ThreadID: msg.ThreadID, Subject: msg.Subject}
	logger := p.logger.With("rule", rule.ID, "thread_id", msg.ThreadID, "subject", msg.Subject)

	body, err := Body(ctx, rule, msg, p.cfg.Converter)
	if err != nil {
		return p.fail(ctx, logger, outcome, err)
	}

	bill, err := Parse(rule, msg, body, p.cfg.Location)
	if errors.Is(err, ErrNoAccountMatch) {
		return p.review(ctx, logger, outcome)
	}
	if errors.Is(err, ErrNotPosted) {
		logger.Info("Skipping bill kept out of the Duplex ledger")
		outcome.Status = StatusSkipped
		outcome.Target = TargetDuplex.String()
		outcome.Detail = err.Error()
		return outcome
	}
	if err != nil {
		return p.fail(ctx, logger, outcome, err)
	}

	if bill.Target == TargetDuplex && rule.Adjust != nil {
		bill.Amount = Adjust(bill, rule.Adjust, p.cfg.Main.Layout(), mainRows, p.cfg.Location)
	}

	poster := p.cfg.Duplex
	if bill.Target == TargetMain {
		poster = p.cfg.Main
	}

	entry := bill.Entry(p.cfg.Party)
	outcome.Target = bill.Target.String()
	outcome.Date = entry.Date.In(p.cfg.Location).Format(ledger.DateFormat)
	outcome.Amount = entry.Amount.StringFixed(2)

	res, err := poster.Post(ctx, entry)
	if err != nil {
		return p.fail(ctx, logger, outcome, err)
	}
	if res == ledger.AlreadyPosted {
		outcome.Status = StatusDuplicate
		return outcome
	}
	outcome.Status = StatusPosted
	return outcome
}

// review labels a bill no account matched and files a follow-up task.
func (p *Processor) review(ctx context.Context, logger *slog.Logger, outcome Outcome) Outcome {
	outcome.Status = StatusReview
	outcome.Detail = ErrNoAccountMatch.Error()
	logger.Warn("Bill does not match a known account")

	if err := p.cfg.Mailbox.AddLabel(ctx, outcome.ThreadID, p.cfg.Labels.Review); err != nil {
		logger.Error("Failed to label thread for review", "error", err)
	}

	if p.cfg.Tasks == nil {
		return outcome
	}
	task := Task{
		Title: "Review Bill: " + outcome.Subject,
		Due:   p.cfg.Now().Add(24 * time.Hour),
		Notes: reviewLinkPrefix + outcome.ThreadID,
	}
	if err := p.cfg.Tasks.CreateTask(ctx, task); err != nil {
		logger.Warn("Failed to create review task", "error", err)
	}
	return outcome
}

// fail labels the thread with the error label and moves it back to the inbox.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, outcome Outcome, cause error) Outcome {
	outcome.Status = StatusError
	outcome.Detail = cause.Error()
	logger.Error("Failed to process bill", "error", cause)

	if err := p.cfg.Mailbox.AddLabel(ctx, outcome.ThreadID, p.cfg.Labels.Error); err != nil {
		logger.Error("Failed to label thread as error", "error", err)
	}
	if err := p.cfg.Mailbox.MoveToInbox(ctx, outcome.ThreadID); err != nil {
		logger.Error("Failed to move thread to inbox", "error", err)
	}
	return outcome
}

func (p *Processor) record(ctx context.Context, o Outcome) {
	if p.cfg.Recorder == nil {
		return
	}
	if err := p.cfg.Recorder.RecordOutcome(ctx, o); err != nil {
		p.logger.Warn("Failed to record outcome", "thread_id", o.ThreadID, "error", err)
	}
}
