package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var updateTemplate = template.Must(template.New("update").Parse(`<!DOCTYPE html>
<html>
<body style="font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Arial,sans-serif;color:#202124;">
  <h2 style="font-weight:500;">{{.Title}}</h2>
  <p style="color:#5f6368;">{{.Dates.Quarter}} {{.Dates.Year}} &middot; {{.Month}}</p>

  <h3>Cash Flow</h3>
  <table cellpadding="6" style="border-collapse:collapse;">
    <tr><td>Quarter to date</td><td style="text-align:right;">${{.CashFlow.QTD}}</td></tr>
    <tr><td>Year to date</td><td style="text-align:right;">${{.CashFlow.YTD}}</td></tr>
    <tr><td>Inception to date</td><td style="text-align:right;">${{.CashFlow.ITD}}</td></tr>
  </table>

  <h3>Financing</h3>
  <table cellpadding="6" style="border-collapse:collapse;">
    <tr><td>Mortgage balance</td><td style="text-align:right;">${{.Finance.Mortgage}}</td></tr>
    <tr><td>Reimbursement</td><td style="text-align:right;">${{.Finance.Reimbursement}}</td></tr>
  </table>
{{with .Estimate}}
  <h3>Property Value</h3>
  <table cellpadding="6" style="border-collapse:collapse;">
    <tr><td>Estimate</td><td style="text-align:right;">${{.Price}}</td></tr>
    <tr><td>Comparables</td><td style="text-align:right;">${{.Comparable}}</td></tr>
    <tr><td>Appreciation</td><td style="text-align:right;">${{.Appreciation}}</td></tr>
  </table>
  <p><a href="{{.Link}}">Listing</a></p>
{{end}}
</body>
</html>
`))

// RenderHTML renders the HTML body of the update.
func RenderHTML(data Data) (string, error) {
	var buf bytes.Buffer
	if err := updateTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render update: %w", err)
	}
	return buf.String(), nil
}

const ruler = "------------------------------\n"

// RenderPlain renders the plain-text body: one ruled block per section with
// one "| name | value |" line per figure.
func RenderPlain(data Data) string {
	var b strings.Builder
	b.WriteString(data.Title + "\n\n")

	section := func(name string, rows [][2]string) {
		b.WriteString(ruler + name + "\n" + ruler)
		for _, r := range rows {
			fmt.Fprintf(&b, "| %s\t|\t%s |\n", r[0], r[1])
		}
	}

	section("dates", [][2]string{
		{"year", data.Dates.Year},
		{"quarter", data.Dates.Quarter},
	})
	section("cashflow", [][2]string{
		{"QTD", data.CashFlow.QTD},
		{"YTD", data.CashFlow.YTD},
		{"ITD", data.CashFlow.ITD},
	})
	section("finance", [][2]string{
		{"mortgage", data.Finance.Mortgage},
		{"reimbursement", data.Finance.Reimbursement},
	})
	if e := data.Estimate; e != nil {
		section("estimate", [][2]string{
			{"link", e.Link},
			{"price", e.Price},
			{"comp", e.Comparable},
			{"appreciation", e.Appreciation},
		})
	}

	return b.String()
}
