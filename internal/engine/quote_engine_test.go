package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
	"market_maker_go/internal/infra"
	"market_maker_go/internal/strategy"
)

// fakeVenue scripts the trading surface and records every call in
// arrival order so tests can assert phase ordering.
type fakeVenue struct {
	mu           sync.Mutex
	connected    bool
	nextID       int
	ops          []string
	rejectSides  map[domain.Side]error
	cancelAllErr error

	placeDelay  time.Duration
	cancelHangs bool
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{connected: true, rejectSides: map[domain.Side]error{}}
}

func (f *fakeVenue) PlaceLimit(ctx context.Context, symbol string, side domain.Side, price, size decimal.Decimal, clientID string) (*domain.Order, error) {
	if f.placeDelay > 0 {
		select {
		case <-time.After(f.placeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.rejectSides[side]; err != nil {
		f.ops = append(f.ops, "reject:"+string(side))
		return nil, err
	}
	f.nextID++
	f.ops = append(f.ops, fmt.Sprintf("place:%s:%s", side, price))
	return &domain.Order{
		ExchangeID: strconv.Itoa(f.nextID),
		ClientID:   clientID,
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Size:       size,
		Status:     domain.OrderStatusNew,
		CreatedAt:  time.Now(),
	}, nil
}

func (f *fakeVenue) Cancel(ctx context.Context, symbol, orderID string) error {
	if f.cancelHangs {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "cancel:"+orderID)
	return nil
}

func (f *fakeVenue) CancelAll(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "cancelAll")
	return f.cancelAllErr
}

func (f *fakeVenue) QueryOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	return nil, domain.ErrNotConnected
}

func (f *fakeVenue) OpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return nil, nil
}

func (f *fakeVenue) Close() {}

func (f *fakeVenue) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeVenue) setReject(side domain.Side, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectSides[side] = err
}

func (f *fakeVenue) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeVenue) countPrefix(prefix string) int {
	n := 0
	for _, op := range f.callLog() {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeVenue) contains(op string) bool {
	for _, got := range f.callLog() {
		if got == op {
			return true
		}
	}
	return false
}

// fakeJournal collects journal writes in memory.
type fakeJournal struct {
	mu        sync.Mutex
	orders    []*domain.OrderRecord
	rotations []*domain.RotationRecord
}

func (j *fakeJournal) SaveOrder(rec *domain.OrderRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orders = append(j.orders, rec)
	return nil
}

func (j *fakeJournal) SaveRotation(rec *domain.RotationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rotations = append(j.rotations, rec)
	return nil
}

func (j *fakeJournal) ordersWithStatus(status string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, rec := range j.orders {
		if rec.Status == status {
			n++
		}
	}
	return n
}

func testParams() Params {
	return Params{
		Symbol:    "BTCUSDT",
		OrderSize: d("0.5"),
		TickSize:  d("0.01"),
		Cooldown:  10 * time.Millisecond,
		Metrics:   &infra.Metrics{},
	}
}

func newTestEngine(venue Venue, spread string, p Params) *QuoteEngine {
	return NewQuoteEngine(venue, strategy.NewSymmetricSpread(d(spread)), nil, p)
}

func TestQuoteEngineColdStart(t *testing.T) {
	venue := newFakeVenue()
	e := newTestEngine(venue, "0.02", testParams())

	if !e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Fatal("Expected cold start to place both sides")
	}

	bid, ask := e.ActiveQuotes()
	if bid == nil || ask == nil {
		t.Fatal("Expected both slots filled after cold start")
	}
	if !bid.Price.Equal(d("98.20")) {
		t.Errorf("Expected bid at 98.20, got %s", bid.Price)
	}
	if !ask.Price.Equal(d("102.20")) {
		t.Errorf("Expected ask at 102.20, got %s", ask.Price)
	}
	if !bid.Size.Equal(d("0.5")) || !ask.Size.Equal(d("0.5")) {
		t.Errorf("Expected size 0.5 on both sides, got %s and %s", bid.Size, ask.Size)
	}
	if bid.Side != domain.SideBid || ask.Side != domain.SideAsk {
		t.Errorf("Expected BID/ASK slots, got %s/%s", bid.Side, ask.Side)
	}

	if got := venue.countPrefix("place:"); got != 2 {
		t.Errorf("Expected 2 placements, got %d: %v", got, venue.callLog())
	}
	if got := venue.countPrefix("cancel:"); got != 0 {
		t.Errorf("Expected no cancels on cold start, got %d", got)
	}
	if !e.LastMid().Equal(d("100.20")) {
		t.Errorf("Expected last mid 100.20, got %s", e.LastMid())
	}
}

func TestQuoteEngineRotatesOnMove(t *testing.T) {
	venue := newFakeVenue()
	p := testParams()
	e := newTestEngine(venue, "0.02", p)

	if !e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Fatal("Expected seed rotation to succeed")
	}
	time.Sleep(20 * time.Millisecond)

	if !e.Update(context.Background(), d("100.70"), time.Now()) {
		t.Fatal("Expected rotation on 0.5% mid move")
	}

	ops := venue.callLog()
	if len(ops) != 6 {
		t.Fatalf("Expected 6 venue calls, got %d: %v", len(ops), ops)
	}
	// Second rotation cancels the old pair before placing the new one.
	for _, op := range ops[2:4] {
		if !strings.HasPrefix(op, "cancel:") {
			t.Errorf("Expected cancel phase before placements, got %v", ops)
		}
	}
	for _, op := range ops[4:6] {
		if !strings.HasPrefix(op, "place:") {
			t.Errorf("Expected place phase after cancels, got %v", ops)
		}
	}
	if !venue.contains("cancel:1") || !venue.contains("cancel:2") {
		t.Errorf("Expected both resting orders cancelled, got %v", ops)
	}

	bid, ask := e.ActiveQuotes()
	if !bid.Price.Equal(d("98.69")) {
		t.Errorf("Expected rotated bid at 98.69, got %s", bid.Price)
	}
	if !ask.Price.Equal(d("102.71")) {
		t.Errorf("Expected rotated ask at 102.71, got %s", ask.Price)
	}

	snap := p.Metrics.Snapshot()
	if snap.Rotations != 2 {
		t.Errorf("Expected 2 rotations recorded, got %d", snap.Rotations)
	}
}

func TestQuoteEngineSkipsJitter(t *testing.T) {
	venue := newFakeVenue()
	e := newTestEngine(venue, "0.02", testParams())

	if !e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Fatal("Expected seed rotation to succeed")
	}
	time.Sleep(20 * time.Millisecond)

	// 0.01 on a 100.20 mid is under the 0.01% threshold.
	if e.Update(context.Background(), d("100.21"), time.Now()) {
		t.Error("Expected sub-threshold move to skip")
	}
	if got := venue.countPrefix("place:"); got != 2 {
		t.Errorf("Expected no new placements, got %d", got)
	}
	if !e.LastMid().Equal(d("100.20")) {
		t.Errorf("Expected last mid unchanged at 100.20, got %s", e.LastMid())
	}
}

func TestQuoteEngineThresholdBoundary(t *testing.T) {
	venue := newFakeVenue()
	e := newTestEngine(venue, "0.02", testParams())

	if !e.Update(context.Background(), d("100"), time.Now()) {
		t.Fatal("Expected seed rotation to succeed")
	}
	time.Sleep(20 * time.Millisecond)

	// Exactly 0.01% is still a skip; the threshold is inclusive.
	if e.Update(context.Background(), d("100.01"), time.Now()) {
		t.Error("Expected move at exactly 0.01% to skip")
	}
	if !e.Update(context.Background(), d("100.02"), time.Now()) {
		t.Error("Expected move above 0.01% to rotate")
	}
}

func TestQuoteEngineCooldown(t *testing.T) {
	venue := newFakeVenue()
	p := testParams()
	p.Cooldown = 200 * time.Millisecond
	e := newTestEngine(venue, "0.02", p)

	if !e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Fatal("Expected seed rotation to succeed")
	}

	// A large move inside the cooldown window still waits.
	if e.Update(context.Background(), d("101.50"), time.Now()) {
		t.Error("Expected rotation inside cooldown to skip")
	}
	if got := venue.countPrefix("place:"); got != 2 {
		t.Errorf("Expected no placements during cooldown, got %d", got)
	}

	time.Sleep(250 * time.Millisecond)
	if !e.Update(context.Background(), d("101.50"), time.Now()) {
		t.Error("Expected rotation after cooldown elapsed")
	}
}

func TestQuoteEngineRefillsEmptySlot(t *testing.T) {
	venue := newFakeVenue()
	venue.setReject(domain.SideAsk, errors.New("insufficient balance"))
	e := newTestEngine(venue, "0.02", testParams())

	if e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Error("Expected bid-only rotation to report incomplete")
	}
	bid, ask := e.ActiveQuotes()
	if bid == nil || ask != nil {
		t.Fatalf("Expected bid-only state, got bid=%v ask=%v", bid, ask)
	}

	// An empty slot forces the next update through, same mid, no cooldown.
	venue.setReject(domain.SideAsk, nil)
	if !e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Fatal("Expected refill rotation to place both sides")
	}

	if got := venue.countPrefix("cancel:"); got != 1 {
		t.Errorf("Expected exactly one cancel for the surviving bid, got %d: %v", got, venue.callLog())
	}
	if !venue.contains("cancel:1") {
		t.Errorf("Expected surviving bid order 1 cancelled, got %v", venue.callLog())
	}
	bid, ask = e.ActiveQuotes()
	if bid == nil || ask == nil {
		t.Error("Expected both slots filled after refill")
	}
}

func TestQuoteEngineCancelTimeoutProceeds(t *testing.T) {
	venue := newFakeVenue()
	e := newTestEngine(venue, "0.02", testParams())

	if !e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Fatal("Expected seed rotation to succeed")
	}
	time.Sleep(20 * time.Millisecond)

	venue.cancelHangs = true
	start := time.Now()
	if !e.Update(context.Background(), d("100.70"), time.Now()) {
		t.Fatal("Expected rotation to proceed past hung cancels")
	}
	elapsed := time.Since(start)

	if elapsed < 90*time.Millisecond {
		t.Errorf("Expected rotation to wait out the cancel deadline, took %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Expected cancel deadline to bound the wait, took %v", elapsed)
	}

	bid, ask := e.ActiveQuotes()
	if !bid.Price.Equal(d("98.69")) || !ask.Price.Equal(d("102.71")) {
		t.Errorf("Expected fresh quotes despite cancel timeouts, got %s/%s", bid.Price, ask.Price)
	}
}

func TestQuoteEngineDisconnectedSkips(t *testing.T) {
	venue := newFakeVenue()
	venue.connected = false
	e := newTestEngine(venue, "0.02", testParams())

	if e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Error("Expected update against disconnected venue to skip")
	}
	if got := len(venue.callLog()); got != 0 {
		t.Errorf("Expected no venue calls while disconnected, got %v", venue.callLog())
	}
	if !e.LastMid().IsZero() {
		t.Errorf("Expected last mid untouched, got %s", e.LastMid())
	}
}

func TestQuoteEngineValidationReject(t *testing.T) {
	venue := newFakeVenue()
	p := testParams()
	// A 6% half-spread yields a 12% pair spread, above the 10% ceiling.
	e := newTestEngine(venue, "0.06", p)

	if e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Error("Expected rejected quote pair to skip")
	}
	if got := len(venue.callLog()); got != 0 {
		t.Errorf("Expected no venue calls on validation reject, got %v", venue.callLog())
	}
	if snap := p.Metrics.Snapshot(); snap.FailedOrders != 1 {
		t.Errorf("Expected 1 failed order recorded, got %d", snap.FailedOrders)
	}
	bid, ask := e.ActiveQuotes()
	if bid != nil || ask != nil {
		t.Error("Expected slots to stay empty after reject")
	}
}

func TestQuoteEngineSingleRotationInFlight(t *testing.T) {
	venue := newFakeVenue()
	venue.placeDelay = 50 * time.Millisecond
	e := newTestEngine(venue, "0.02", testParams())

	done := make(chan bool, 1)
	go func() {
		done <- e.Update(context.Background(), d("100.20"), time.Now())
	}()
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	if e.Update(context.Background(), d("100.70"), time.Now()) {
		t.Error("Expected overlapping update to be rejected")
	}
	if elapsed := time.Since(start); elapsed > 30*time.Millisecond {
		t.Errorf("Expected overlapping update to return immediately, took %v", elapsed)
	}

	if !<-done {
		t.Error("Expected first rotation to complete")
	}
	if got := venue.countPrefix("place:"); got != 2 {
		t.Errorf("Expected 2 placements from the single rotation, got %d", got)
	}
}

func TestQuoteEngineCancelAllActive(t *testing.T) {
	venue := newFakeVenue()
	e := newTestEngine(venue, "0.02", testParams())

	if !e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Fatal("Expected seed rotation to succeed")
	}

	if err := e.CancelAllActive(context.Background()); err != nil {
		t.Fatalf("Expected cancel all to succeed, got %v", err)
	}
	if !venue.contains("cancelAll") {
		t.Error("Expected cancelAll venue call")
	}
	bid, ask := e.ActiveQuotes()
	if bid != nil || ask != nil {
		t.Error("Expected slots cleared after cancel all")
	}

	// A failed cancel-all keeps the slots, the orders may still rest.
	if !e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Fatal("Expected re-seed rotation to succeed")
	}
	venue.cancelAllErr = errors.New("venue down")
	if err := e.CancelAllActive(context.Background()); err == nil {
		t.Error("Expected cancel all failure to surface")
	}
	bid, ask = e.ActiveQuotes()
	if bid == nil || ask == nil {
		t.Error("Expected slots kept after failed cancel all")
	}
}

func TestQuoteEngineJournals(t *testing.T) {
	venue := newFakeVenue()
	journal := &fakeJournal{}
	p := testParams()
	p.Journal = journal
	e := newTestEngine(venue, "0.02", p)

	if !e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Fatal("Expected seed rotation to succeed")
	}
	time.Sleep(20 * time.Millisecond)
	if !e.Update(context.Background(), d("100.70"), time.Now()) {
		t.Fatal("Expected second rotation to succeed")
	}

	journal.mu.Lock()
	rotations := len(journal.rotations)
	first := journal.rotations[0]
	journal.mu.Unlock()

	if rotations != 2 {
		t.Fatalf("Expected 2 rotation records, got %d", rotations)
	}
	if first.Outcome != "both_placed" {
		t.Errorf("Expected outcome both_placed, got %s", first.Outcome)
	}
	if first.Symbol != "BTCUSDT" || first.Mid != "100.2" {
		t.Errorf("Expected BTCUSDT at mid 100.2, got %s at %s", first.Symbol, first.Mid)
	}

	if got := journal.ordersWithStatus(domain.OrderStatusNew); got != 4 {
		t.Errorf("Expected 4 NEW order records, got %d", got)
	}
	if got := journal.ordersWithStatus(domain.OrderStatusCanceled); got != 2 {
		t.Errorf("Expected 2 CANCELED order records, got %d", got)
	}
}

func TestQuoteEngineActiveQuotesCopies(t *testing.T) {
	venue := newFakeVenue()
	e := newTestEngine(venue, "0.02", testParams())

	if !e.Update(context.Background(), d("100.20"), time.Now()) {
		t.Fatal("Expected seed rotation to succeed")
	}

	bid, _ := e.ActiveQuotes()
	bid.Price = d("1")

	fresh, _ := e.ActiveQuotes()
	if !fresh.Price.Equal(d("98.20")) {
		t.Errorf("Expected internal slot unaffected by caller mutation, got %s", fresh.Price)
	}
}

func BenchmarkQuoteEngineUpdateSkip(b *testing.B) {
	venue := newFakeVenue()
	e := newTestEngine(venue, "0.02", testParams())
	ctx := context.Background()
	if !e.Update(ctx, d("100.20"), time.Now()) {
		b.Fatal("seed rotation failed")
	}

	mid := d("100.2005")
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Update(ctx, mid, now)
	}
}
