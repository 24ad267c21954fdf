// Package display turns session state into the strings shown to the user:
// grouped amounts, two-decimal percentages, metric readouts and model text
// rendered from markdown.
package display

import (
	"bytes"
	"fmt"
	"math"

	"github.com/yuin/goldmark"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Amount formats a value as a whole number with thousands separators.
func Amount(v float64) string {
	return printer.Sprintf("%d", int64(math.Round(v)))
}

// Percent formats a percentage with two decimals, e.g. "12.50%".
func Percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

// Ratio formats a ratio readout, e.g. "2.00 times".
func Ratio(v float64) string {
	return fmt.Sprintf("%.2f times", v)
}

// Delta formats a change with two decimals. Values that round to zero print
// as "0.00" rather than "-0.00".
func Delta(v float64) string {
	if math.Abs(v) < 0.005 {
		v = 0
	}
	return fmt.Sprintf("%.2f", v)
}

// Markdown renders model output to HTML. Raw HTML in the input is not passed
// through.
func Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("display: render markdown: %w", err)
	}
	return buf.String(), nil
}
