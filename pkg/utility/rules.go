// Package utility loads the per-utility matching rules that drive bill parsing.
package utility

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultAdjustRatio is the share of a bill kept when no prior Main Home
// transaction exists to subtract.
var DefaultAdjustRatio = decimal.NewFromFloat(0.65)

// LabelBills marks a rule whose Duplex-account bills are not posted.
const LabelBills = "bills"

// ErrInvalidRules is returned when the rule blob cannot be used.
var ErrInvalidRules = errors.New("invalid utility rules")

// Rule describes how to recognize and parse one utility's bill emails.
type Rule struct {
	ID          string        `yaml:"-"`
	From        string        `yaml:"from"`
	Subject     string        `yaml:"subject"`
	Account     string        `yaml:"account"`
	AccountMain string        `yaml:"actMain"`
	Attachment  bool          `yaml:"attachment"`
	HTML        bool          `yaml:"html"`
	Payment     bool          `yaml:"payment"`
	Service     string        `yaml:"service"`
	Vendor      string        `yaml:"vendor"`
	Label       string        `yaml:"label"`
	Adjust      *AdjustPolicy `yaml:"adjust"`
}

// AdjustPolicy corrects bills received after Since for a cost-sharing
// arrangement with the Main Home ledger.
type AdjustPolicy struct {
	Date  string          `yaml:"date"`
	Ratio decimal.Decimal `yaml:"-"`
	Since time.Time       `yaml:"-"`

	RawRatio *float64 `yaml:"ratio"`
}

// VendorName returns the vendor written to the Duplex ledger.
func (r Rule) VendorName() string {
	if r.Vendor != "" {
		return r.Vendor
	}
	if strings.HasSuffix(r.ID, "Water") {
		return strings.TrimSuffix(r.ID, "Water") + "Water District"
	}
	return r.ID
}

// Source fetches the raw rule blob.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

// FileSource reads the rule blob from the local filesystem.
type FileSource string

// Read reads the file.
func (f FileSource) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return data, nil
}

// Load fetches and parses the rule blob.
func Load(ctx context.Context, src Source) ([]Rule, error) {
	data, err := src.Read(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses a YAML or JSON mapping of utility ID to rule.
// Rules are returned in document order.
func Parse(data []byte) ([]Rule, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse: %v", ErrInvalidRules, err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidRules)
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: expected a mapping of utility IDs", ErrInvalidRules)
	}

	rules := make([]Rule, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		id := root.Content[i].Value

		var rule Rule
		if err := root.Content[i+1].Decode(&rule); err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrInvalidRules, id, err)
		}
		rule.ID = id

		if err := rule.validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func (r *Rule) validate() error {
	var missing []string
	if r.From == "" {
		missing = append(missing, "from")
	}
	if r.Subject == "" {
		missing = append(missing, "subject")
	}
	if r.Account == "" {
		missing = append(missing, "account")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: rule %q missing %s", ErrInvalidRules, r.ID, strings.Join(missing, ", "))
	}

	if r.Adjust == nil {
		return nil
	}

	since, err := parseDate(r.Adjust.Date)
	if err != nil {
		return fmt.Errorf("%w: rule %q adjust date: %v", ErrInvalidRules, r.ID, err)
	}
	r.Adjust.Since = since

	r.Adjust.Ratio = DefaultAdjustRatio
	if r.Adjust.RawRatio != nil {
		r.Adjust.Ratio = decimal.NewFromFloat(*r.Adjust.RawRatio)
	}

	return nil
}

// parseDate accepts the date spellings seen in rule blobs.
func parseDate(value string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		time.RFC3339,
		"01/02/2006",
		"1/2/2006",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %q", value)
}
