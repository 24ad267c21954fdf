package analysis

import "statement-analyzer/internal/domain"

// ExtractRatios computes the current ratio for both periods. A missing input
// row yields ErrMissingRatioInputs; callers treat that as "no ratios".
func ExtractRatios(t domain.LineItemTable) (domain.FinancialRatios, error) {
	assets, ok := FindRowByLabel(t, CurrentAssets)
	if !ok {
		return domain.FinancialRatios{}, ErrMissingRatioInputs
	}
	liabilities, ok := FindRowByLabel(t, CurrentLiabilities)
	if !ok {
		return domain.FinancialRatios{}, ErrMissingRatioInputs
	}

	return domain.FinancialRatios{
		CurrentRatioPrior:   safeRatio(t[assets].Prior, t[liabilities].Prior),
		CurrentRatioCurrent: safeRatio(t[assets].Current, t[liabilities].Current),
	}, nil
}

// safeRatio returns 0 instead of propagating Inf or NaN.
func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
