package domain

import "github.com/shopspring/decimal"

// Balance is one asset row from the exchange account endpoint.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total returns free plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// FilterBalances keeps only the listed assets, preserving input order.
// An empty asset list keeps every non-zero balance instead.
func FilterBalances(all []Balance, assets []string) []Balance {
	if len(assets) == 0 {
		out := make([]Balance, 0, len(all))
		for _, b := range all {
			if !b.Total().IsZero() {
				out = append(out, b)
			}
		}
		return out
	}

	want := make(map[string]bool, len(assets))
	for _, a := range assets {
		want[a] = true
	}

	out := make([]Balance, 0, len(assets))
	for _, b := range all {
		if want[b.Asset] {
			out = append(out, b)
		}
	}
	return out
}
