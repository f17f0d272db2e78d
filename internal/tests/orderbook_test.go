package tests

import (
	"testing"

	. "matchbook/internal/common"
	"matchbook/internal/engine"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

const ticker = "AAPL"

type MockReporter struct {
	trades int
}

func (r *MockReporter) ReportTrade(trade Trade) error {
	r.trades++
	return nil
}

func createTestEngine() (*engine.Engine, *MockReporter) {
	reporter := &MockReporter{}
	return engine.New(engine.WithReporter(reporter)), reporter
}

func placeTestOrders(eng *engine.Engine, price string, side Side, quantities ...string) error {
	for _, qty := range quantities {
		if _, err := eng.PlaceOrder(
			ticker,
			side,
			decimal.RequireFromString(price),
			decimal.RequireFromString(qty),
		); err != nil {
			return err
		}
	}
	return nil
}

type Quantity struct {
	quantity      string
	totalQuantity string
}

// newQuantity creates a quantity with remaining and total the same value.
func newQuantity(quantity string) Quantity {
	return Quantity{quantity, quantity}
}

// FlatPriceLevel is a price level reduced to comparable strings.
type FlatPriceLevel struct {
	PriceLevel string
	Side       Side
	Orders     []Quantity
}

// buildExpectedLevel constructs the expected level to compare against.
func buildExpectedLevel(price string, side Side, quantities ...Quantity) FlatPriceLevel {
	return FlatPriceLevel{
		PriceLevel: price,
		Side:       side,
		Orders:     quantities,
	}
}

func flattenLevels(levels []engine.PriceLevel) []FlatPriceLevel {
	flat := make([]FlatPriceLevel, 0, len(levels))
	for _, level := range levels {
		orders := make([]Quantity, len(level.Orders))
		for i, order := range level.Orders {
			orders[i] = Quantity{order.Quantity.String(), order.TotalQuantity.String()}
		}
		side := Buy
		if len(level.Orders) > 0 {
			side = level.Orders[0].Side
		}
		flat = append(flat, FlatPriceLevel{
			PriceLevel: level.Price.String(),
			Side:       side,
			Orders:     orders,
		})
	}
	return flat
}

func depth(eng *engine.Engine) (bids, asks []FlatPriceLevel) {
	b, a := eng.Depth(ticker)
	return flattenLevels(b), flattenLevels(a)
}

func setupLadder(t *testing.T, eng *engine.Engine) {
	t.Helper()

	// BIDS: Highest price first (99 -> 98)
	require.NoError(t, placeTestOrders(eng, "99", Buy, "100", "90", "80"))
	require.NoError(t, placeTestOrders(eng, "98", Buy, "50"))

	// ASKS: Lowest price first (100 -> 101)
	require.NoError(t, placeTestOrders(eng, "100", Sell, "100", "90"))
	require.NoError(t, placeTestOrders(eng, "101", Sell, "20"))
}

// --- Tests ------------------------------------------------------------------

func TestPlaceOrder_Limit(t *testing.T) {
	eng, reporter := createTestEngine()

	// 1. Setup: Place 3 orders on Buy side and 3 on Sell side
	require.NoError(t, placeTestOrders(eng, "99", Buy, "100", "90", "80"))
	require.NoError(t, placeTestOrders(eng, "100", Sell, "100", "90", "80"))

	// 2. Define Expectations
	expectedAsks := []FlatPriceLevel{
		buildExpectedLevel(
			"100", Sell, newQuantity("100"), newQuantity("90"), newQuantity("80"),
		),
	}

	expectedBids := []FlatPriceLevel{
		buildExpectedLevel(
			"99", Buy, newQuantity("100"), newQuantity("90"), newQuantity("80"),
		),
	}

	// 3. Assertions
	bids, asks := depth(eng)
	assert.Equal(t, expectedAsks, asks)
	assert.Equal(t, expectedBids, bids)
	assert.Zero(t, reporter.trades)
	assert.Empty(t, eng.GetTrades(ticker))
}

func TestPlaceOrder_Limit_MultipleLevels_WithMatch(t *testing.T) {
	eng, reporter := createTestEngine()
	setupLadder(t, eng)

	// 1. Define Expectations
	expectedAsks := []FlatPriceLevel{
		buildExpectedLevel("100", Sell, newQuantity("100"), newQuantity("90")),
		buildExpectedLevel("101", Sell, newQuantity("20")),
	}

	expectedBids := []FlatPriceLevel{
		buildExpectedLevel(
			"99", Buy, newQuantity("100"), newQuantity("90"), newQuantity("80"),
		),
		buildExpectedLevel("98", Buy, newQuantity("50")),
	}

	// 2. Assertions
	// Validates that the engine correctly sorts levels based on price priority
	bids, asks := depth(eng)
	assert.Equal(t, expectedAsks, asks, "Asks should be sorted Low -> High")
	assert.Equal(t, expectedBids, bids, "Bids should be sorted High -> Low")

	// 3. Check complete match.
	require.NoError(t, placeTestOrders(eng, "100", Buy, "100"))
	expectedAsks = []FlatPriceLevel{
		buildExpectedLevel("100", Sell, newQuantity("90")),
		buildExpectedLevel("101", Sell, newQuantity("20")),
	}
	_, asks = depth(eng)
	assert.Equal(t, expectedAsks, asks, "Asks should be sorted Low -> High")

	// 4. Check partial match.
	require.NoError(t, placeTestOrders(eng, "100", Buy, "20"))
	expectedAsks = []FlatPriceLevel{
		buildExpectedLevel("100", Sell, Quantity{"70", "90"}),
		buildExpectedLevel("101", Sell, newQuantity("20")),
	}
	bids, asks = depth(eng)
	assert.Equal(t, expectedAsks, asks, "Asks should be sorted Low -> High")
	assert.Equal(t, expectedBids, bids, "Fully filled takers should never rest")
	assert.Equal(t, 2, reporter.trades)
}

func TestPlaceOrder_Limit_MultipleLevels_WithMatchSweep_Bid(t *testing.T) {
	eng, reporter := createTestEngine()
	setupLadder(t, eng)

	// 1. Check sweep match.
	require.NoError(t, placeTestOrders(eng, "100", Buy, "120"))
	expectedAsks := []FlatPriceLevel{
		buildExpectedLevel("100", Sell, Quantity{"70", "90"}),
		buildExpectedLevel("101", Sell, newQuantity("20")),
	}
	_, asks := depth(eng)
	assert.Equal(t, expectedAsks, asks, "Asks should be sorted Low -> High")

	// 2. Check multi-level sweep with a deep into the book order (100, 101).
	require.NoError(t, placeTestOrders(eng, "103", Buy, "80"))
	expectedAsks = []FlatPriceLevel{
		buildExpectedLevel("101", Sell, Quantity{"10", "20"}),
	}
	_, asks = depth(eng)
	assert.Equal(t, expectedAsks, asks, "Asks should be sorted Low -> High")

	// Every trade prints at the resting order's price.
	trades := eng.GetTrades(ticker)
	require.Len(t, trades, 4)
	for i, price := range []string{"100", "100", "100", "101"} {
		assert.Truef(t, decimal.RequireFromString(price).Equal(trades[i].Price),
			"trade %d: want %s, got %s", i, price, trades[i].Price)
	}
	assert.Equal(t, 4, reporter.trades)
}

func TestPlaceOrder_Limit_MultipleLevels_WithMatchSweep_Ask(t *testing.T) {
	eng, _ := createTestEngine()
	setupLadder(t, eng)

	// 1. Check sweep match.
	require.NoError(t, placeTestOrders(eng, "96", Sell, "310"))
	expectedBids := []FlatPriceLevel{
		buildExpectedLevel("98", Buy, Quantity{"10", "50"}),
	}
	bids, asks := depth(eng)
	assert.Equal(t, expectedBids, bids, "Bids should be sorted High -> Low")
	assert.Len(t, asks, 2, "Asks should be untouched by a sell sweep")

	// Four makers filled, one partially.
	assert.Len(t, eng.GetTrades(ticker), 4)
	assert.Equal(t, 4, eng.PendingAcks(Buy))
	assert.Equal(t, 4, eng.PendingAcks(Sell))
}
