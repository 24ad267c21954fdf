package analysis

import (
	"strings"

	"golang.org/x/text/cases"

	"statement-analyzer/internal/domain"
)

// LabelMatcher decides whether a row label names a particular anchor row.
type LabelMatcher interface {
	Match(label string) bool
}

// ContainsFold matches a label that contains any of its aliases, ignoring case.
type ContainsFold []string

func (c ContainsFold) Match(label string) bool {
	folded := cases.Fold().String(label)
	for _, alias := range c {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		if strings.Contains(folded, cases.Fold().String(alias)) {
			return true
		}
	}
	return false
}

// Anchor rows. The Vietnamese aliases are the labels used by the statement
// templates the tool was first built for.
var (
	TotalAssets        = ContainsFold{"TOTAL ASSETS", "TỔNG CỘNG TÀI SẢN"}
	CurrentAssets      = ContainsFold{"CURRENT ASSETS", "TÀI SẢN NGẮN HẠN"}
	CurrentLiabilities = ContainsFold{"CURRENT LIABILITIES", "NỢ NGẮN HẠN"}
)

// FindRowByLabel returns the index of the first row whose label matches m.
// Every anchor lookup goes through here so the matching policy can change in
// one place.
func FindRowByLabel(t domain.LineItemTable, m LabelMatcher) (int, bool) {
	for i, row := range t {
		if m.Match(row.Label) {
			return i, true
		}
	}
	return -1, false
}
