package binance

import (
	"encoding/json"
	"testing"

	"market_maker_go/internal/domain"
)

func TestFlexStringAcceptsBothForms(t *testing.T) {
	var payload struct {
		ID flexString `json:"id"`
	}

	if err := json.Unmarshal([]byte(`{"id":28457}`), &payload); err != nil {
		t.Fatalf("Unmarshal number failed: %v", err)
	}
	if payload.ID != "28457" {
		t.Errorf("Expected 28457, got %s", payload.ID)
	}

	if err := json.Unmarshal([]byte(`{"id":"abc-1"}`), &payload); err != nil {
		t.Fatalf("Unmarshal string failed: %v", err)
	}
	if payload.ID != "abc-1" {
		t.Errorf("Expected abc-1, got %s", payload.ID)
	}
}

func TestPrecisionFromStep(t *testing.T) {
	tests := []struct {
		step string
		want int
	}{
		{"0.01000000", 2},
		{"0.00001000", 5},
		{"1.00000000", 0},
		{"1", 0},
		{"0.1", 1},
		{"0.00000001", 8},
	}

	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			if got := precisionFromStep(tt.step); got != tt.want {
				t.Errorf("Expected precision %d for step %s, got %d", tt.want, tt.step, got)
			}
		})
	}
}

func TestSymbolInfoFromFilters(t *testing.T) {
	sym := exchangeInfoSymbol{
		Symbol: "BTCUSDT",
		Filters: []exchangeFilter{
			{FilterType: "PRICE_FILTER", TickSize: "0.01000000"},
			{FilterType: "LOT_SIZE", StepSize: "0.00001000", MinQty: "0.00001000", MaxQty: "9000.00000000"},
			{FilterType: "NOTIONAL"},
		},
	}

	info := symbolInfoFromFilters(sym)

	if info.TickSize.String() != "0.01" {
		t.Errorf("Expected tick size 0.01, got %s", info.TickSize)
	}
	if info.PricePrecision != 2 {
		t.Errorf("Expected price precision 2, got %d", info.PricePrecision)
	}
	if info.StepSize.String() != "0.00001" {
		t.Errorf("Expected step size 0.00001, got %s", info.StepSize)
	}
	if info.QuantityPrecision != 5 {
		t.Errorf("Expected quantity precision 5, got %d", info.QuantityPrecision)
	}
	if info.MinQty.String() != "0.00001" {
		t.Errorf("Expected min qty 0.00001, got %s", info.MinQty)
	}
	if info.MaxQty.String() != "9000" {
		t.Errorf("Expected max qty 9000, got %s", info.MaxQty)
	}
}

func TestSymbolInfoFromFiltersKeepsDefaultsOnBadValues(t *testing.T) {
	sym := exchangeInfoSymbol{
		Symbol: "ETHUSDT",
		Filters: []exchangeFilter{
			{FilterType: "PRICE_FILTER", TickSize: "0.00000000"},
			{FilterType: "LOT_SIZE", StepSize: "garbage"},
		},
	}

	info := symbolInfoFromFilters(sym)
	want := DefaultSymbolInfo("ETHUSDT")

	if !info.TickSize.Equal(want.TickSize) {
		t.Errorf("Expected default tick size %s, got %s", want.TickSize, info.TickSize)
	}
	if !info.StepSize.Equal(want.StepSize) {
		t.Errorf("Expected default step size %s, got %s", want.StepSize, info.StepSize)
	}
}

func TestOrderPayloadToOrder(t *testing.T) {
	payload := orderPayload{
		OrderID:       "99",
		ClientOrderID: "MM_BID_1",
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		Price:         "50000.00",
		OrigQty:       "0.50000000",
		ExecutedQty:   "0.10000000",
		Status:        "PARTIALLY_FILLED",
		TransactTime:  1700000000000,
	}

	order := payload.toOrder()

	if order.ExchangeID != "99" {
		t.Errorf("Expected exchange ID 99, got %s", order.ExchangeID)
	}
	if order.Side != domain.SideBid {
		t.Errorf("Expected BID side, got %s", order.Side)
	}
	if !order.IsOpen() {
		t.Error("Expected a partially filled order to count as open")
	}
	if order.RemainingSize().String() != "0.4" {
		t.Errorf("Expected remaining 0.4, got %s", order.RemainingSize())
	}
	if order.CreatedAt.UnixMilli() != 1700000000000 {
		t.Errorf("Expected created at 1700000000000, got %d", order.CreatedAt.UnixMilli())
	}
}

func TestOrderPayloadToOrderDefaultsStatus(t *testing.T) {
	payload := orderPayload{OrderID: "1", Symbol: "BTCUSDT", Side: "SELL"}
	order := payload.toOrder()

	if order.Status != domain.OrderStatusNew {
		t.Errorf("Expected empty status to default to NEW, got %s", order.Status)
	}
	if order.Side != domain.SideAsk {
		t.Errorf("Expected ASK side, got %s", order.Side)
	}
}

func TestAppendLevels(t *testing.T) {
	levels, err := appendLevels(nil, [][]string{
		{"100.10", "1.5"},
		{"100.00", "2.0"},
		{"short"},
	})
	if err != nil {
		t.Fatalf("appendLevels failed: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("Expected 2 levels, short pairs skipped, got %d", len(levels))
	}
	if levels[0].Price.String() != "100.1" || levels[0].Size.String() != "1.5" {
		t.Errorf("Expected level 100.1/1.5, got %s/%s", levels[0].Price, levels[0].Size)
	}

	if _, err := appendLevels(nil, [][]string{{"bad", "1"}}); err == nil {
		t.Error("Expected an error for an unparseable price")
	}
	if _, err := appendLevels(nil, [][]string{{"1", "bad"}}); err == nil {
		t.Error("Expected an error for an unparseable size")
	}
}
