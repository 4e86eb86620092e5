package books

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentbooks/rentbooks/pkg/ledger"
)

// ErrUnknownAccount means an expense names an account missing from the
// Accounts sheet.
var ErrUnknownAccount = errors.New("unknown account")

// Accounts sheet columns: code, name.
const (
	accountCodeCol = 1
	accountNameCol = 2
)

// Expense is a submitted expense form.
type Expense struct {
	Date        time.Time
	AccountName string
	Vendor      string
	Amount      decimal.Decimal // as entered, positive
	Party       string
	Memo        string
}

// PostExpense resolves the account code and posts the expense to the Duplex
// ledger. Amounts are booked as spending unless the account is an income
// account.
func (r *Run) PostExpense(ctx context.Context, exp Expense) (ledger.Result, error) {
	res := ledger.Posted
	err := r.track(ctx, "expense", func(ctx context.Context) error {
		code, err := r.accountCode(ctx, exp.AccountName)
		if err != nil {
			return err
		}

		amount := exp.Amount
		if !strings.Contains(exp.AccountName, "Income") {
			amount = amount.Neg()
		}
		party := exp.Party
		if party == "" {
			party = r.cfg.Operator.Party
		}

		res, err = r.duplex.Post(ctx, ledger.Entry{
			Date:    exp.Date,
			Account: code,
			Vendor:  exp.Vendor,
			Amount:  amount,
			Party:   party,
			Memo:    exp.Memo,
		})
		return err
	})
	return res, err
}

func (r *Run) accountCode(ctx context.Context, name string) (string, error) {
	rows, err := r.deps.DuplexSheet.ReadRange(ctx, r.cfg.Sheets.AccountsRange)
	if err != nil {
		return "", fmt.Errorf("failed to read accounts: %w", err)
	}

	name = strings.TrimSpace(name)
	for _, row := range rows {
		if len(row) <= accountNameCol {
			continue
		}
		if ledger.NormalizeText(row[accountNameCol]) == name {
			return ledger.NormalizeText(row[accountCodeCol]), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAccount, name)
}
