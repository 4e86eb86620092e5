package bills

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentbooks/rentbooks/pkg/ledger"
	"github.com/rentbooks/rentbooks/pkg/utility"
)

// Adjust applies a rule's cost-sharing policy to a Duplex bill.
//
// Bills received after the policy date are reduced by the Main Home posting
// with the same date and vendor (the rule ID). Without such a posting the
// bill is scaled by the policy ratio.
func Adjust(bill ParsedBill, policy *utility.AdjustPolicy, mainLayout ledger.Layout, mainRows [][]any, loc *time.Location) decimal.Decimal {
	if policy == nil || bill.Target != TargetDuplex || !bill.Message.Date.After(policy.Since) {
		return bill.Amount
	}

	if prior, ok := mainLayout.Lookup(mainRows, bill.Date, bill.Rule.ID, loc); ok {
		if d, err := ledger.ParseAmount(prior); err == nil {
			return bill.Amount.Sub(d)
		}
	}

	ratio := policy.Ratio
	if ratio.IsZero() {
		ratio = utility.DefaultAdjustRatio
	}
	return bill.Amount.Mul(ratio).Round(2)
}
