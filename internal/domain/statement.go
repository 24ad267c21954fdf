package domain

// LineItem is one row of an uploaded statement. Prior and Current come from
// the workbook; the percentage fields are filled in by enrichment.
type LineItem struct {
	Label   string  `json:"label"`
	Prior   float64 `json:"prior"`
	Current float64 `json:"current"`

	GrowthPct       float64 `json:"growthPct"`
	PriorSharePct   float64 `json:"priorSharePct"`
	CurrentSharePct float64 `json:"currentSharePct"`
}

// LineItemTable keeps rows in workbook order. Labels are not unique.
type LineItemTable []LineItem

// Clone returns a copy that can be enriched without touching the receiver.
func (t LineItemTable) Clone() LineItemTable {
	if t == nil {
		return nil
	}
	out := make(LineItemTable, len(t))
	copy(out, t)
	return out
}

// FinancialRatios holds the liquidity ratio for both periods.
type FinancialRatios struct {
	CurrentRatioPrior   float64 `json:"currentRatioPrior"`
	CurrentRatioCurrent float64 `json:"currentRatioCurrent"`
}

// Delta is the change in current ratio from the prior to the current period.
func (r FinancialRatios) Delta() float64 {
	return r.CurrentRatioCurrent - r.CurrentRatioPrior
}
