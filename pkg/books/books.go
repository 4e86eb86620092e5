// Package books wires the bookkeeping pipelines into per-invocation runs.
//
// A Run is created for each command with every collaborator injected. Each
// entry point checks the caller's identity before touching anything else.
package books

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rentbooks/rentbooks/pkg/bills"
	"github.com/rentbooks/rentbooks/pkg/config"
	"github.com/rentbooks/rentbooks/pkg/db"
	"github.com/rentbooks/rentbooks/pkg/estimate"
	"github.com/rentbooks/rentbooks/pkg/ledger"
	"github.com/rentbooks/rentbooks/pkg/recurring"
	"github.com/rentbooks/rentbooks/pkg/report"
	"github.com/rentbooks/rentbooks/pkg/utility"
)

// ErrUnauthorized means the authenticated account is not the operator.
var ErrUnauthorized = errors.New("unauthorized")

// Identity reports who the run is acting as.
type Identity interface {
	Email(ctx context.Context) (string, error)
}

// Deps are the collaborators of a Run. History and Tasks are optional.
type Deps struct {
	Identity    Identity
	Rules       utility.Source
	Mailbox     bills.Mailbox
	Converter   bills.Converter
	Tasks       bills.TaskCreator
	Sender      report.Sender
	DuplexSheet ledger.Sheet
	MainSheet   ledger.Sheet
	Estimates   report.EstimateSource
	History     *db.History
}

// Run is one invocation of the books.
type Run struct {
	cfg    *config.Config
	deps   Deps
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger

	duplex *ledger.Poster
	main   *ledger.Poster
	runID  string
}

// Option customizes a Run.
type Option func(*Run)

// WithClock sets the run's clock.
func WithClock(now func() time.Time) Option {
	return func(r *Run) { r.now = now }
}

// WithLogger sets the run's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Run) { r.logger = logger }
}

// New creates a Run posting in loc.
func New(cfg *config.Config, deps Deps, loc *time.Location, opts ...Option) *Run {
	if loc == nil {
		loc = time.Local
	}
	r := &Run{
		cfg:    cfg,
		deps:   deps,
		loc:    loc,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "books")

	r.duplex = ledger.NewPoster(deps.DuplexSheet, ledger.Duplex(cfg.Sheets.DuplexLedger), loc, r.logger)
	r.main = ledger.NewPoster(deps.MainSheet, ledger.Main(cfg.Sheets.MainLedger), loc, r.logger)
	if deps.History != nil {
		j := &journal{run: r}
		r.duplex.SetJournal(j)
		r.main.SetJournal(j)
	}
	return r
}

// Authorize fails with ErrUnauthorized unless the authenticated account is
// the configured operator.
func (r *Run) Authorize(ctx context.Context) error {
	if r.cfg.Operator.Email == "" {
		return fmt.Errorf("%w: no operator configured", ErrUnauthorized)
	}
	email, err := r.deps.Identity.Email(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve identity: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(email), strings.TrimSpace(r.cfg.Operator.Email)) {
		return fmt.Errorf("%w: %s is not the operator", ErrUnauthorized, email)
	}
	return nil
}

// Bills posts every matching utility bill. Rules outside a non-empty scope are skipped.
func (r *Run) Bills(ctx context.Context, scope []string) (bills.Summary, error) {
	var summary bills.Summary
	err := r.track(ctx, "bills", func(ctx context.Context) error {
		rules, err := utility.Load(ctx, r.deps.Rules)
		if err != nil {
			return err
		}

		var recorder bills.Recorder
		if r.deps.History != nil {
			recorder = &outcomeRecorder{run: r}
		}

		processor := bills.NewProcessor(bills.ProcessorConfig{
			Mailbox:   r.deps.Mailbox,
			Converter: r.deps.Converter,
			Tasks:     r.deps.Tasks,
			Recorder:  recorder,
			Duplex:    r.duplex,
			Main:      r.main,
			Labels: bills.Labels{
				Bills:   r.cfg.Mail.BillsLabel,
				Records: r.cfg.Mail.RecordsLabel,
				Review:  r.cfg.Mail.ReviewLabel,
				Error:   r.cfg.Mail.ErrorLabel,
			},
			MaxThreads: r.cfg.Mail.MaxThreads,
			Party:      r.cfg.Operator.Party,
			Location:   r.loc,
			Now:        r.now,
			Logger:     r.logger,
		})
		summary, err = processor.Run(ctx, rules, scope)
		return err
	})
	return summary, err
}

// Rent posts this month's rent to the Duplex ledger.
func (r *Run) Rent(ctx context.Context) (recurring.Counts, error) {
	var counts recurring.Counts
	err := r.track(ctx, "rent", func(ctx context.Context) error {
		var err error
		counts, err = r.recurring().PostRent(ctx, recurring.PeriodAt(r.now(), r.loc))
		return err
	})
	return counts, err
}

// Mortgage posts this month's mortgage payments to both ledgers.
func (r *Run) Mortgage(ctx context.Context) (recurring.Counts, error) {
	var counts recurring.Counts
	err := r.track(ctx, "mortgage", func(ctx context.Context) error {
		var err error
		counts, err = r.recurring().PostMortgage(ctx, recurring.PeriodAt(r.now(), r.loc))
		return err
	})
	return counts, err
}

// Report mails the monthly update. In test mode only the operator receives it.
func (r *Run) Report(ctx context.Context, test bool) (report.Data, error) {
	var data report.Data
	err := r.track(ctx, "report", func(ctx context.Context) error {
		var err error
		data, err = r.assembler().Send(ctx, test)
		if err != nil {
			return err
		}
		r.noteReport(ctx, data, test)
		return nil
	})
	return data, err
}

// Manage runs the monthly cycle: rent, mortgage and the update mail.
// Bills run on their own schedule.
func (r *Run) Manage(ctx context.Context, test bool) error {
	return r.track(ctx, "manage", func(ctx context.Context) error {
		period := recurring.PeriodAt(r.now(), r.loc)
		gen := r.recurring()

		rent, err := gen.PostRent(ctx, period)
		if err != nil {
			return fmt.Errorf("rent: %w", err)
		}
		mortgage, err := gen.PostMortgage(ctx, period)
		if err != nil {
			return fmt.Errorf("mortgage: %w", err)
		}
		r.logger.Info("Recurring entries done", "month", period.Month,
			"rent_posted", rent.Posted, "mortgage_posted", mortgage.Posted)

		data, err := r.assembler().Send(ctx, test)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		r.noteReport(ctx, data, test)
		return nil
	})
}

// LastReportKey is the metadata key holding the month of the last update
// sent to the recipients.
const LastReportKey = "last_report_month"

func (r *Run) noteReport(ctx context.Context, data report.Data, test bool) {
	if test || r.deps.History == nil {
		return
	}
	if err := r.deps.History.SetMetadata(ctx, LastReportKey, data.Month); err != nil {
		r.logger.Warn("Failed to record report month", "error", err)
	}
}

func (r *Run) recurring() *recurring.Generator {
	return recurring.New(recurring.Config{
		DuplexSheet: r.deps.DuplexSheet,
		MainSheet:   r.deps.MainSheet,
		Duplex:      r.duplex,
		Main:        r.main,
		Ranges: recurring.Ranges{
			Rent:           r.cfg.Sheets.RentRange,
			DuplexMortgage: r.cfg.Sheets.DuplexMortgageRange,
			MainMortgage:   r.cfg.Sheets.MainMortgageRange,
		},
		Party:    r.cfg.Operator.Party,
		Location: r.loc,
		Logger:   r.logger,
	})
}

func (r *Run) assembler() *report.Assembler {
	estimates := r.deps.Estimates
	addr, err := estimate.ParseAddress(r.cfg.Property.Street, r.cfg.Property.CityStateZip, r.cfg.Property.TruliaID)
	if err != nil {
		r.logger.Warn("Property address incomplete, skipping estimate", "error", err)
		estimates = nil
	}

	return report.New(report.Config{
		Sheet:      r.deps.DuplexSheet,
		Estimates:  estimates,
		Address:    addr,
		Sender:     r.deps.Sender,
		Operator:   r.cfg.Operator.Email,
		Recipients: r.cfg.Operator.Recipients,
		SenderName: r.cfg.Operator.SenderName,
		Location:   r.loc,
		Now:        r.now,
		Logger:     r.logger,
	})
}

// track authorizes the run, then records it in the history around fn.
// A rejected caller still gets an "unauthorized" history row; nothing
// outside the local history is touched.
func (r *Run) track(ctx context.Context, command string, fn func(context.Context) error) error {
	authErr := r.Authorize(ctx)

	if r.deps.History == nil {
		if authErr != nil {
			return authErr
		}
		return fn(ctx)
	}

	run, err := r.deps.History.StartRun(ctx, command)
	if err != nil {
		return err
	}
	r.runID = run.ID
	logger := r.logger.With("run_id", run.ID, "command", command)

	if authErr != nil {
		r.finish(ctx, logger, run.ID, statusOf(authErr), authErr.Error())
		return authErr
	}

	logger.Debug("Run started")
	if err := fn(ctx); err != nil {
		r.finish(ctx, logger, run.ID, db.RunFailed, err.Error())
		return err
	}
	r.finish(ctx, logger, run.ID, db.RunOK, "")
	return nil
}

func statusOf(err error) string {
	if errors.Is(err, ErrUnauthorized) {
		return db.RunUnauthorized
	}
	return db.RunFailed
}

func (r *Run) finish(ctx context.Context, logger *slog.Logger, runID, status, detail string) {
	if err := r.deps.History.FinishRun(context.WithoutCancel(ctx), runID, status, detail); err != nil {
		logger.Warn("Failed to record run status", "error", err)
		return
	}
	logger.Debug("Run finished", "status", status)
}

// outcomeRecorder stores bill outcomes under the current run.
type outcomeRecorder struct {
	run *Run
}

func (o *outcomeRecorder) RecordOutcome(ctx context.Context, out bills.Outcome) error {
	return o.run.deps.History.RecordOutcome(ctx, db.Outcome{
		RunID:     o.run.runID,
		RuleID:    out.RuleID,
		ThreadID:  out.ThreadID,
		Subject:   out.Subject,
		Status:    string(out.Status),
		Target:    out.Target,
		EntryDate: out.Date,
		Amount:    out.Amount,
		Detail:    out.Detail,
	})
}

// journal stores every ledger decision under the current run.
type journal struct {
	run *Run
}

func (j *journal) RecordPost(ctx context.Context, name string, e ledger.Entry, res ledger.Result) error {
	return j.run.deps.History.RecordPosting(ctx, db.Posting{
		RunID:     j.run.runID,
		Ledger:    name,
		EntryDate: e.Date.In(j.run.loc).Format(ledger.DateFormat),
		Vendor:    e.Vendor,
		Amount:    e.Amount.StringFixed(2),
		Memo:      e.Memo,
		Result:    res.String(),
	})
}
