package broker

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"quantfolio/internal/ledger"
	"quantfolio/internal/market"
)

func newSimulatedFixture(t *testing.T, initialCash, commissionPerShare float64) (*Simulated, *market.Static, ledger.StockTicker) {
	t.Helper()
	data := market.NewStatic()
	mapper := ledger.NewStaticMapper()
	ticker := ledger.StockTicker{Symbol: "XYZ"}
	mapper.Register(ticker, ledger.Contract{Symbol: "XYZ", SecType: ledger.SecurityTypeStock, Exchange: "NYSE"})
	clock := func() time.Time { return time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC) }
	return NewSimulated(data, mapper, initialCash, commissionPerShare, clock, nil), data, ticker
}

func TestSimulatedMarketOrder_FillsAtLastPrice(t *testing.T) {
	b, data, ticker := newSimulatedFixture(t, 10000, 0.5)
	data.SetPrice(ticker, 10)

	ids, err := b.PlaceOrders(context.Background(), []ledger.Order{{
		Ticker:   ticker,
		Quantity: 100,
		Style:    ledger.MarketStyle(),
		TIF:      ledger.TIFDay,
	}})
	if err != nil {
		t.Fatalf("PlaceOrders returned error: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected single order id, got %d", len(ids))
	}

	// 10000 − 100×10 − 100×0.5
	if diff := math.Abs(b.Cash() - 8950); diff > 1e-9 {
		t.Errorf("expected cash 8950, got %f", b.Cash())
	}

	positions, err := b.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions returned error: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity() != 100 {
		t.Fatalf("expected open position of 100, got %+v", positions)
	}

	fills := b.DrainFills()
	if len(fills) != 1 {
		t.Fatalf("expected one fill, got %d", len(fills))
	}
	if fills[0].Price != 10 || fills[0].Quantity != 100 || fills[0].Commission != 50 {
		t.Errorf("unexpected fill %+v", fills[0])
	}
	if len(b.DrainFills()) != 0 {
		t.Errorf("expected fills drained exactly once")
	}
}

func TestSimulatedStopOrder_HeldUntilTriggered(t *testing.T) {
	b, data, ticker := newSimulatedFixture(t, 10000, 0)
	data.SetPrice(ticker, 10)

	_, err := b.PlaceOrders(context.Background(), []ledger.Order{{
		Ticker:   ticker,
		Quantity: 100,
		Style:    ledger.MarketStyle(),
		TIF:      ledger.TIFDay,
	}})
	if err != nil {
		t.Fatalf("PlaceOrders returned error: %v", err)
	}
	b.DrainFills()

	_, err = b.PlaceOrders(context.Background(), []ledger.Order{{
		Ticker:   ticker,
		Quantity: -100,
		Style:    ledger.StopStyle(9.5),
		TIF:      ledger.TIFGTC,
	}})
	if err != nil {
		t.Fatalf("PlaceOrders returned error: %v", err)
	}

	open, err := b.GetOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("GetOpenOrders returned error: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected pending stop order, got %d", len(open))
	}

	// 价格未穿越止损价，不触发
	if err := b.TriggerStops(context.Background()); err != nil {
		t.Fatalf("TriggerStops returned error: %v", err)
	}
	if len(b.DrainFills()) != 0 {
		t.Fatalf("stop must not fill above trigger price")
	}

	// 价格击穿止损价，按止损价而非最新价成交
	data.SetPrice(ticker, 9.2)
	if err := b.TriggerStops(context.Background()); err != nil {
		t.Fatalf("TriggerStops returned error: %v", err)
	}

	fills := b.DrainFills()
	if len(fills) != 1 {
		t.Fatalf("expected stop fill, got %d", len(fills))
	}
	if diff := math.Abs(fills[0].Price - 9.5); diff > 1e-9 {
		t.Errorf("expected fill at stop price 9.5, got %f", fills[0].Price)
	}

	open, _ = b.GetOpenOrders(context.Background())
	if len(open) != 0 {
		t.Fatalf("triggered stop must leave the open book")
	}
	positions, _ := b.GetPositions(context.Background())
	if len(positions) != 0 {
		t.Fatalf("expected flat book after stop, got %+v", positions)
	}
}

func TestSimulatedCancelOrder(t *testing.T) {
	b, data, ticker := newSimulatedFixture(t, 10000, 0)
	data.SetPrice(ticker, 10)

	ids, err := b.PlaceOrders(context.Background(), []ledger.Order{{
		Ticker:   ticker,
		Quantity: -50,
		Style:    ledger.StopStyle(9),
		TIF:      ledger.TIFGTC,
	}})
	if err != nil {
		t.Fatalf("PlaceOrders returned error: %v", err)
	}

	if err := b.CancelOrder(context.Background(), ids[0]); err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}
	open, _ := b.GetOpenOrders(context.Background())
	if len(open) != 0 {
		t.Fatalf("expected empty open book after cancel")
	}

	err = b.CancelOrder(context.Background(), "no-such-order")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestSimulatedCancelAllOpenOrders(t *testing.T) {
	b, data, ticker := newSimulatedFixture(t, 10000, 0)
	data.SetPrice(ticker, 10)

	_, err := b.PlaceOrders(context.Background(), []ledger.Order{
		{Ticker: ticker, Quantity: -50, Style: ledger.StopStyle(9), TIF: ledger.TIFGTC},
		{Ticker: ticker, Quantity: -25, Style: ledger.StopStyle(8), TIF: ledger.TIFGTC},
	})
	if err != nil {
		t.Fatalf("PlaceOrders returned error: %v", err)
	}

	if err := b.CancelAllOpenOrders(context.Background()); err != nil {
		t.Fatalf("CancelAllOpenOrders returned error: %v", err)
	}
	open, _ := b.GetOpenOrders(context.Background())
	if len(open) != 0 {
		t.Fatalf("expected empty open book, got %d orders", len(open))
	}
}

func TestSimulatedZeroQuantityOrder_Rejected(t *testing.T) {
	b, data, ticker := newSimulatedFixture(t, 10000, 0)
	data.SetPrice(ticker, 10)

	_, err := b.PlaceOrders(context.Background(), []ledger.Order{{
		Ticker:   ticker,
		Quantity: 0,
		Style:    ledger.MarketStyle(),
		TIF:      ledger.TIFDay,
	}})
	if err == nil {
		t.Fatalf("expected zero-quantity rejection")
	}
}

func TestSimulatedPortfolioValue_MarksToLastPrice(t *testing.T) {
	b, data, ticker := newSimulatedFixture(t, 10000, 0)
	data.SetPrice(ticker, 10)

	_, err := b.PlaceOrders(context.Background(), []ledger.Order{{
		Ticker:   ticker,
		Quantity: 100,
		Style:    ledger.MarketStyle(),
		TIF:      ledger.TIFDay,
	}})
	if err != nil {
		t.Fatalf("PlaceOrders returned error: %v", err)
	}

	data.SetPrice(ticker, 12)
	value, err := b.GetPortfolioValue(context.Background())
	if err != nil {
		t.Fatalf("GetPortfolioValue returned error: %v", err)
	}
	// 9000 现金 + 100×12 持仓市值
	if diff := math.Abs(value - 10200); diff > 1e-9 {
		t.Errorf("expected portfolio value 10200, got %f", value)
	}
}
