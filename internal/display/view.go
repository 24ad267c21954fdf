package display

import (
	"log/slog"

	"statement-analyzer/internal/domain"
)

// Columns are the table headings, in the order of TableRow's fields.
var Columns = []string{
	"Item",
	"Prior year",
	"Current year",
	"Growth (%)",
	"Prior year share (%)",
	"Current year share (%)",
}

const (
	metricPriorLabel   = "Current ratio (prior year)"
	metricCurrentLabel = "Current ratio (current year)"
)

type TableRow struct {
	Label        string `json:"label"`
	Prior        string `json:"prior"`
	Current      string `json:"current"`
	Growth       string `json:"growth"`
	PriorShare   string `json:"priorShare"`
	CurrentShare string `json:"currentShare"`
}

type Metric struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Delta string `json:"delta,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	HTML    string `json:"html"`
}

// SessionView is everything the client needs to draw a session.
type SessionView struct {
	SessionID   string     `json:"sessionId"`
	FileName    string     `json:"fileName,omitempty"`
	Columns     []string   `json:"columns"`
	Rows        []TableRow `json:"rows"`
	Metrics     []Metric   `json:"metrics,omitempty"`
	Warning     string     `json:"warning,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	SummaryHTML string     `json:"summaryHtml,omitempty"`
	History     []Message  `json:"history"`
}

func NewSessionView(s *domain.Session) SessionView {
	v := SessionView{
		SessionID: s.ID,
		FileName:  s.FileName,
		Columns:   Columns,
		Rows:      Rows(s.Table),
		Warning:   s.RatioWarning,
		Summary:   s.Summary,
		History:   Transcript(s.History),
	}
	if s.Ratios != nil {
		v.Metrics = Metrics(*s.Ratios)
	}
	if s.Summary != "" {
		v.SummaryHTML = renderHTML(s.Summary)
	}
	return v
}

func Rows(t domain.LineItemTable) []TableRow {
	rows := make([]TableRow, 0, len(t))
	for _, item := range t {
		rows = append(rows, TableRow{
			Label:        item.Label,
			Prior:        Amount(item.Prior),
			Current:      Amount(item.Current),
			Growth:       Percent(item.GrowthPct),
			PriorShare:   Percent(item.PriorSharePct),
			CurrentShare: Percent(item.CurrentSharePct),
		})
	}
	return rows
}

// Metrics returns the two current ratio readouts; the current year carries
// the change against the prior year.
func Metrics(r domain.FinancialRatios) []Metric {
	return []Metric{
		{Label: metricPriorLabel, Value: Ratio(r.CurrentRatioPrior)},
		{Label: metricCurrentLabel, Value: Ratio(r.CurrentRatioCurrent), Delta: Delta(r.Delta())},
	}
}

func Transcript(history []domain.ChatMessage) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		out = append(out, Message{Role: m.Role, Content: m.Content, HTML: renderHTML(m.Content)})
	}
	return out
}

// RenderText returns the HTML form of model text for responses that carry a
// single block of it.
func RenderText(text string) string {
	return renderHTML(text)
}

func renderHTML(src string) string {
	html, err := Markdown(src)
	if err != nil {
		slog.Warn("markdown render failed, sending plain text", "err", err)
		return ""
	}
	return html
}
