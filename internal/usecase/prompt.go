package usecase

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"statement-analyzer/internal/domain"
)

var dataBlockHeader = []string{"Label", "Prior", "Current", "Growth (%)", "Prior share (%)", "Current share (%)"}

// labelEscaper keeps a label on one table line. splitRow reverses it.
var labelEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`, "\r", `\r`, "\n", `\n`)

// FormatDataBlock renders the enriched table as a markdown table, one line per
// item in table order, followed by the ratio lines when ratios exist.
func FormatDataBlock(table domain.LineItemTable, ratios *domain.FinancialRatios) string {
	var b strings.Builder
	writeRow(&b, dataBlockHeader)
	seps := make([]string, len(dataBlockHeader))
	for i := range seps {
		seps[i] = "---"
	}
	writeRow(&b, seps)

	for _, row := range table {
		writeRow(&b, []string{
			labelEscaper.Replace(row.Label),
			formatFloat(row.Prior),
			formatFloat(row.Current),
			formatFloat(row.GrowthPct),
			formatFloat(row.PriorSharePct),
			formatFloat(row.CurrentSharePct),
		})
	}

	if ratios != nil {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Current ratio (current year): %.2f\n", ratios.CurrentRatioCurrent)
		fmt.Fprintf(&b, "Current ratio (prior year): %.2f\n", ratios.CurrentRatioPrior)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseDataBlock reads the table part of a data block back into line items.
// Ratio lines and anything else outside the table are ignored.
func ParseDataBlock(text string) (domain.LineItemTable, error) {
	var table domain.LineItemTable
	seenHeader := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := splitRow(line)
		if len(cells) != len(dataBlockHeader) {
			return nil, fmt.Errorf("usecase: parse data block: row has %d cells, want %d", len(cells), len(dataBlockHeader))
		}
		if !seenHeader {
			seenHeader = true
			continue
		}
		if cells[1] == "---" {
			continue
		}

		nums := make([]float64, 0, len(cells)-1)
		for _, c := range cells[1:] {
			v, err := strconv.ParseFloat(c, 64)
			if err != nil {
				return nil, fmt.Errorf("usecase: parse data block: %w", err)
			}
			nums = append(nums, v)
		}
		table = append(table, domain.LineItem{
			Label:           cells[0],
			Prior:           nums[0],
			Current:         nums[1],
			GrowthPct:       nums[2],
			PriorSharePct:   nums[3],
			CurrentSharePct: nums[4],
		})
	}
	if !seenHeader {
		return nil, errors.New("usecase: parse data block: no table found")
	}
	return table, nil
}

func buildSummaryPrompt(dataBlock string) string {
	return strings.Join([]string{
		"Role:",
		"You are a professional financial analyst.",
		"",
		"Task:",
		"Based on the financial indicators below, write an objective, concise assessment of the company's financial position in about 3-4 paragraphs.",
		"Focus on the growth rates, the change in asset composition and the current ratio.",
		"",
		"Data and indicators:",
		dataBlock,
	}, "\n")
}

func buildChatPrompt(dataBlock, question string) string {
	return strings.Join([]string{
		"Context:",
		"The financial data of a company is given below.",
		dataBlock,
		"",
		"Task:",
		"Answer the following user question professionally, as a financial expert.",
		fmt.Sprintf("Question: \"%s\"", strings.TrimSpace(question)),
	}, "\n")
}

// serviceErrorText is what the user sees when the model call fails.
func serviceErrorText(err error) string {
	return "AI service error: " + err.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |\n")
}

// splitRow splits a table line on unescaped pipes and unescapes each cell.
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")

	var cells []string
	var raw strings.Builder
	for i := 0; i < len(line); i++ {
		switch ch := line[i]; {
		case ch == '\\' && i+1 < len(line):
			raw.WriteByte(ch)
			raw.WriteByte(line[i+1])
			i++
		case ch == '|':
			cells = append(cells, unescapeCell(raw.String()))
			raw.Reset()
		default:
			raw.WriteByte(ch)
		}
	}
	if rest := strings.TrimSpace(raw.String()); rest != "" {
		cells = append(cells, unescapeCell(rest))
	}
	return cells
}

func unescapeCell(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
