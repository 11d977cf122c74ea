package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestValidateQuote(t *testing.T) {
	v := NewValidator(DefaultTradingLimits())

	tests := []struct {
		name       string
		bid, ask   string
		size, mid  string
		wantReason string // empty means valid
	}{
		{
			name: "valid symmetric pair",
			bid:  "98.20", ask: "102.20", size: "0.5", mid: "100.20",
		},
		{
			name: "price below minimum",
			bid:  "0.001", ask: "102.20", size: "0.5", mid: "100.20",
			wantReason: "outside",
		},
		{
			name: "size below minimum",
			bid:  "98.20", ask: "102.20", size: "0.000001", mid: "100.20",
			wantReason: "size",
		},
		{
			name: "zero size",
			bid:  "98.20", ask: "102.20", size: "0", mid: "100.20",
			wantReason: "size",
		},
		{
			name: "notional below minimum",
			bid:  "98.20", ask: "102.20", size: "0.001", mid: "100.20",
			wantReason: "notional",
		},
		{
			name: "bid off tick grid",
			bid:  "98.201", ask: "102.20", size: "0.5", mid: "100.20",
			wantReason: "not aligned to tick",
		},
		{
			name: "size off lot grid",
			bid:  "98.20", ask: "102.20", size: "0.500001", mid: "100.20",
			wantReason: "not aligned to lot",
		},
		{
			name: "bid too far from mid",
			bid:  "80.00", ask: "102.20", size: "0.5", mid: "100.20",
			wantReason: "deviates",
		},
		{
			name: "crossed pair",
			bid:  "102.20", ask: "98.20", size: "0.5", mid: "100.20",
			wantReason: "crossed",
		},
		{
			name: "spread too narrow",
			bid:  "100.19", ask: "100.21", size: "0.5", mid: "100.20",
			wantReason: "spread",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateQuote(d(tt.bid), d(tt.ask), d(tt.size), d(tt.mid))

			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("ValidateQuote() unexpected error: %v", err)
				}
				return
			}

			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ValidateQuote() error = %v, want ValidationError", err)
			}
			if !strings.Contains(verr.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", verr.Reason, tt.wantReason)
			}
		})
	}
}

func TestValidateQuoteSuggestions(t *testing.T) {
	v := NewValidator(DefaultTradingLimits())

	t.Run("deviation suggests clamped price", func(t *testing.T) {
		err := v.ValidateQuote(d("80.00"), d("102.20"), d("0.5"), d("100.00"))

		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Expected ValidationError, got %v", err)
		}
		// mid * (1 - 10%)
		if !verr.SuggestedBid.Equal(d("90")) {
			t.Errorf("SuggestedBid = %s, want 90", verr.SuggestedBid)
		}
	})

	t.Run("valid pair carries no suggestion", func(t *testing.T) {
		if err := v.ValidateQuote(d("98.20"), d("102.20"), d("0.5"), d("100.20")); err != nil {
			t.Fatalf("Expected valid pair, got %v", err)
		}
	})

	t.Run("tick misalignment suggests rounded price", func(t *testing.T) {
		err := v.ValidateQuote(d("98.196"), d("102.20"), d("0.5"), d("100.20"))

		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Expected ValidationError, got %v", err)
		}
		if !verr.SuggestedBid.Equal(d("98.20")) {
			t.Errorf("SuggestedBid = %s, want 98.20", verr.SuggestedBid)
		}
	})
}

func TestApplySymbolInfo(t *testing.T) {
	v := NewValidator(DefaultTradingLimits())

	v.ApplySymbolInfo(domain.SymbolInfo{
		Symbol:   "BTCUSDT",
		TickSize: d("0.5"),
		StepSize: d("0.001"),
		MinQty:   d("0.01"),
		MaxQty:   d("9000"),
	})

	limits := v.Limits()
	if !limits.TickSize.Equal(d("0.5")) {
		t.Errorf("TickSize = %s, want 0.5", limits.TickSize)
	}
	if !limits.LotSize.Equal(d("0.001")) {
		t.Errorf("LotSize = %s, want 0.001", limits.LotSize)
	}
	if !limits.MinQty.Equal(d("0.01")) {
		t.Errorf("MinQty = %s, want 0.01", limits.MinQty)
	}
	if !limits.MaxQty.Equal(d("9000")) {
		t.Errorf("MaxQty = %s, want 9000", limits.MaxQty)
	}

	// Zero fields leave the adopted limits alone.
	v.ApplySymbolInfo(domain.SymbolInfo{Symbol: "BTCUSDT"})
	if !v.Limits().TickSize.Equal(d("0.5")) {
		t.Error("Zero-valued info should not reset the tick size")
	}
}

func TestObserveBookTightensLimits(t *testing.T) {
	v := NewValidator(DefaultTradingLimits())

	book := &domain.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []domain.PriceLevel{{Price: d("100.00"), Size: d("1")}},
		Asks:   []domain.PriceLevel{{Price: d("100.40"), Size: d("1")}},
	}
	v.ObserveBook(book)

	limits := v.Limits()

	// Observed spread 0.4/100.20: window becomes [observed/2, observed*5].
	observed := d("0.4").Div(d("100.20"))
	if !limits.MinSpreadRatio.Equal(observed.Div(d("2"))) {
		t.Errorf("MinSpreadRatio = %s, want %s", limits.MinSpreadRatio, observed.Div(d("2")))
	}
	if !limits.MaxSpreadRatio.Equal(observed.Mul(d("5"))) {
		t.Errorf("MaxSpreadRatio = %s, want %s", limits.MaxSpreadRatio, observed.Mul(d("5")))
	}

	// Price bounds follow mid.
	if !limits.MinPrice.Equal(d("50.10")) {
		t.Errorf("MinPrice = %s, want 50.10", limits.MinPrice)
	}
	if !limits.MaxPrice.Equal(d("200.40")) {
		t.Errorf("MaxPrice = %s, want 200.40", limits.MaxPrice)
	}
}

func TestObserveBookIgnoresBadBooks(t *testing.T) {
	tests := []struct {
		name string
		book *domain.OrderBook
	}{
		{
			name: "empty ask side",
			book: &domain.OrderBook{
				Bids: []domain.PriceLevel{{Price: d("100.00"), Size: d("1")}},
			},
		},
		{
			name: "crossed book",
			book: &domain.OrderBook{
				Bids: []domain.PriceLevel{{Price: d("100.50"), Size: d("1")}},
				Asks: []domain.PriceLevel{{Price: d("100.40"), Size: d("1")}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(DefaultTradingLimits())
			before := v.Limits()

			v.ObserveBook(tt.book)

			after := v.Limits()
			if !after.MinSpreadRatio.Equal(before.MinSpreadRatio) || !after.MinPrice.Equal(before.MinPrice) {
				t.Error("Limits changed on unusable book")
			}
		})
	}
}

func TestObserveBookSpreadWindowClamps(t *testing.T) {
	v := NewValidator(DefaultTradingLimits())

	// Very wide observed spread: max clamps at the 10% ceiling.
	book := &domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: d("90.00"), Size: d("1")}},
		Asks: []domain.PriceLevel{{Price: d("110.00"), Size: d("1")}},
	}
	v.ObserveBook(book)

	limits := v.Limits()
	if !limits.MaxSpreadRatio.Equal(d("0.1")) {
		t.Errorf("MaxSpreadRatio = %s, want clamp at 0.1", limits.MaxSpreadRatio)
	}

	// Razor-thin observed spread: min clamps at the 0.01% floor.
	tight := &domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: d("100.0000"), Size: d("1")}},
		Asks: []domain.PriceLevel{{Price: d("100.0001"), Size: d("1")}},
	}
	v.ObserveBook(tight)

	limits = v.Limits()
	if !limits.MinSpreadRatio.Equal(d("0.0001")) {
		t.Errorf("MinSpreadRatio = %s, want clamp at 0.0001", limits.MinSpreadRatio)
	}
}
