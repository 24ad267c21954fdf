package analysis

import (
	"errors"

	"statement-analyzer/internal/domain"
)

// Epsilon replaces a zero denominator. Growth from a zero base therefore comes
// out as a very large finite number rather than an error or +Inf.
const Epsilon = 1e-9

var (
	ErrMissingAnchorRow   = errors.New("analysis: total assets row not found")
	ErrMissingRatioInputs = errors.New("analysis: current assets or current liabilities row not found")
)

// Enrich computes growth and composition columns for every row. The input is
// not modified. Without a total assets row nothing is returned.
func Enrich(raw domain.LineItemTable) (domain.LineItemTable, error) {
	anchor, ok := FindRowByLabel(raw, TotalAssets)
	if !ok {
		return nil, ErrMissingAnchorRow
	}

	out := raw.Clone()
	totalPrior := nonZero(out[anchor].Prior)
	totalCurrent := nonZero(out[anchor].Current)

	for i := range out {
		row := &out[i]
		row.GrowthPct = Growth(row.Prior, row.Current)
		row.PriorSharePct = row.Prior / totalPrior * 100
		row.CurrentSharePct = row.Current / totalCurrent * 100
	}
	return out, nil
}

// Growth is the percentage change from prior to current.
func Growth(prior, current float64) float64 {
	return (current - prior) / nonZero(prior) * 100
}

func nonZero(v float64) float64 {
	if v == 0 {
		return Epsilon
	}
	return v
}
