package bills

import (
	"strings"

	"github.com/rentbooks/rentbooks/pkg/utility"
)

// Match returns the messages of both pools whose subject contains the rule's
// subject and whose sender contains the rule's sender. Records come first,
// then bills. A thread carrying both labels is returned twice.
func Match(rule utility.Rule, records, bills []Message) []Message {
	var matched []Message
	for _, pool := range [][]Message{records, bills} {
		for _, m := range pool {
			if matches(rule, m) {
				matched = append(matched, m)
			}
		}
	}
	return matched
}

func matches(rule utility.Rule, m Message) bool {
	return strings.Contains(m.Subject, rule.Subject) && strings.Contains(m.From, rule.From)
}
