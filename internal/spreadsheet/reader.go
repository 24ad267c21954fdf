// Package spreadsheet turns an uploaded workbook into a line-item table.
//
// The first sheet is read. Columns are mapped by position, not by header text:
// label, prior period, current period. The first row is treated as a header.
package spreadsheet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"statement-analyzer/internal/domain"
)

const expectedColumns = 3

// oleSignature starts legacy .xls files and password-protected workbooks,
// neither of which can be read without Excel.
var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

var (
	ErrUnreadableWorkbook = errors.New("spreadsheet: workbook could not be read")
	ErrEmptyWorkbook      = errors.New("spreadsheet: workbook has no rows")
	ErrColumnCount        = errors.New("spreadsheet: workbook must have exactly 3 columns")
	ErrUnsupportedFormat  = errors.New("spreadsheet: legacy .xls or protected workbooks are not supported, save as .xlsx")
)

// Read parses an xlsx workbook.
func Read(r io.Reader) (domain.LineItemTable, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableWorkbook, err)
	}
	if bytes.HasPrefix(content, oleSignature) {
		return nil, ErrUnsupportedFormat
	}

	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableWorkbook, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %v", ErrUnreadableWorkbook, sheets[0], err)
	}
	return FromRows(rows)
}

// FromRows maps raw cell text to line items. Rows with every cell blank are
// dropped; a blank label on a row with values is kept.
func FromRows(rows [][]string) (domain.LineItemTable, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyWorkbook
	}
	width := 0
	for _, row := range rows {
		if n := usedWidth(row); n > width {
			width = n
		}
	}
	if width != expectedColumns {
		return nil, fmt.Errorf("%w: found %d", ErrColumnCount, width)
	}

	table := make(domain.LineItemTable, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if usedWidth(row) == 0 {
			continue
		}
		table = append(table, domain.LineItem{
			Label:   strings.TrimSpace(cell(row, 0)),
			Prior:   ParseNumber(cell(row, 1)),
			Current: ParseNumber(cell(row, 2)),
		})
	}
	return table, nil
}

// ParseNumber coerces cell text to a float. Thousands separators, spaces and
// currency symbols are ignored and accounting parentheses mean negative.
// Anything else that does not parse is 0.
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.NewReplacer(
		",", "",
		" ", "",
		"\u00a0", "",
		"$", "",
		"€", "",
		"£", "",
		"₫", "",
	).Replace(s)
	if s == "" || s == "-" {
		return 0
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if negative {
		return -v
	}
	return v
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}

// usedWidth is the index of the last non-blank cell plus one.
func usedWidth(row []string) int {
	for i := len(row) - 1; i >= 0; i-- {
		if strings.TrimSpace(row[i]) != "" {
			return i + 1
		}
	}
	return 0
}
