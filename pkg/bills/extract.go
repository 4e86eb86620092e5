package bills

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentbooks/rentbooks/pkg/utility"
)

var (
	amountPattern  = regexp.MustCompile(`\$(\d+(?:\.\d+)?)`)
	dueDatePattern = regexp.MustCompile(`Due Date.*(\d{2}/\d{2}/\d{2})`)
)

const dueDateLayout = "01/02/06"

// ExtractAmount returns the first dollar amount in the body, negated.
func ExtractAmount(body string) (decimal.Decimal, error) {
	m := amountPattern.FindStringSubmatch(body)
	if m == nil {
		return decimal.Zero, ErrAmountNotFound
	}
	amount, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrAmountNotFound, err)
	}
	return amount.Neg(), nil
}

// ExtractDueDate returns the MM/DD/YY date following "Due Date" and its parsed
// value in loc.
func ExtractDueDate(body string, loc *time.Location) (string, time.Time, error) {
	m := dueDatePattern.FindStringSubmatch(body)
	if m == nil {
		return "", time.Time{}, ErrDueDateNotFound
	}
	t, err := time.ParseInLocation(dueDateLayout, m[1], loc)
	if err != nil {
		return m[1], time.Time{}, fmt.Errorf("%w: %v", ErrDueDateNotFound, err)
	}
	return m[1], t, nil
}

// Body returns the text a rule's patterns run against.
func Body(ctx context.Context, rule utility.Rule, msg Message, conv Converter) (string, error) {
	switch {
	case rule.Attachment:
		if len(msg.Attachments) == 0 {
			return "", ErrNoAttachment
		}
		if err := msg.Attachments[0].Err; err != nil {
			return "", fmt.Errorf("failed to fetch attachment %q: %w", msg.Attachments[0].Filename, err)
		}
		if conv == nil {
			return "", fmt.Errorf("no document converter for attachment %q", msg.Attachments[0].Filename)
		}
		text, err := conv.ExtractText(ctx, msg.Attachments[0])
		if err != nil {
			return "", fmt.Errorf("failed to convert attachment %q: %w", msg.Attachments[0].Filename, err)
		}
		return text, nil
	case rule.HTML:
		return msg.HTMLBody, nil
	default:
		return msg.PlainBody, nil
	}
}

// Parse extracts the date and amount of a bill and decides which ledger it
// belongs to. The date is resolved first, so a bill with no due date fails
// even when no account matches.
func Parse(rule utility.Rule, msg Message, body string, loc *time.Location) (ParsedBill, error) {
	bill := ParsedBill{Rule: rule, Message: msg}

	if rule.Payment {
		bill.Date = msg.Date.In(loc)
	} else {
		text, date, err := ExtractDueDate(body, loc)
		if err != nil {
			return bill, err
		}
		bill.DateText = text
		bill.Date = date
	}

	switch {
	case strings.Contains(body, rule.Account):
		bill.Target = TargetDuplex
		if rule.Label == utility.LabelBills {
			return bill, ErrNotPosted
		}
	case rule.AccountMain != "" && strings.Contains(body, rule.AccountMain):
		bill.Target = TargetMain
		bill.Category = mainUtilityCategory
	default:
		return bill, ErrNoAccountMatch
	}

	amount, err := ExtractAmount(body)
	if err != nil {
		return bill, err
	}
	bill.Amount = amount

	return bill, nil
}
