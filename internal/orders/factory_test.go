package orders

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"quantfolio/internal/broker"
	"quantfolio/internal/ledger"
	"quantfolio/internal/market"
	"quantfolio/internal/position"
)

type mockBroker struct {
	book           *position.Book
	portfolioValue float64
	openOrders     []broker.OpenOrder
}

func (m *mockBroker) GetPositions(_ context.Context) ([]*position.Position, error) {
	if m.book == nil {
		return nil, nil
	}
	return m.book.Open(), nil
}

func (m *mockBroker) GetPortfolioValue(_ context.Context) (float64, error) {
	return m.portfolioValue, nil
}

func (m *mockBroker) GetOpenOrders(_ context.Context) ([]broker.OpenOrder, error) {
	return m.openOrders, nil
}

func (m *mockBroker) PlaceOrders(_ context.Context, orders []ledger.Order) ([]string, error) {
	return make([]string, len(orders)), nil
}

func (m *mockBroker) CancelOrder(_ context.Context, _ string) error { return nil }

func (m *mockBroker) CancelAllOpenOrders(_ context.Context) error { return nil }

var _ broker.Broker = (*mockBroker)(nil)

func newFixture(t *testing.T) (*mockBroker, *market.Static, *ledger.StaticMapper) {
	t.Helper()
	return &mockBroker{book: position.NewBook(nil)}, market.NewStatic(), ledger.NewStaticMapper()
}

func holdShares(t *testing.T, book *position.Book, contract ledger.Contract, quantity, price float64) {
	t.Helper()
	err := book.Apply(ledger.Transaction{
		Time:     time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Contract: contract,
		Quantity: quantity,
		Price:    price,
		TradeID:  "seed",
	})
	if err != nil {
		t.Fatalf("seed position failed: %v", err)
	}
}

func TestTargetPercentOrders_NoTradeBandExample(t *testing.T) {
	b, data, mapper := newFixture(t)
	ticker := ledger.StockTicker{Symbol: "XYZ"}
	contract := ledger.Contract{Symbol: "XYZ", SecType: ledger.SecurityTypeStock, Exchange: "NYSE"}
	mapper.Register(ticker, contract)

	// 当前 10 股 @ $10，组合净值 $1000，目标 50%，容差 2/50
	holdShares(t, b.book, contract, 10, 10)
	b.portfolioValue = 1000
	data.SetPrice(ticker, 10)

	factory := NewFactory(b, data, mapper, false, nil)
	out, err := factory.TargetPercentOrders(context.Background(),
		map[ledger.Ticker]float64{ticker: 0.5}, ledger.MarketStyle(), ledger.TIFDay, 2.0/50.0)
	if err != nil {
		t.Fatalf("TargetPercentOrders returned error: %v", err)
	}

	if len(out) != 1 {
		t.Fatalf("expected single order, got %d", len(out))
	}
	if out[0].Quantity != 40 {
		t.Errorf("expected quantity 40, got %f", out[0].Quantity)
	}
}

func TestTargetPercentOrders_WithinBandSuppressed(t *testing.T) {
	b, data, mapper := newFixture(t)
	ticker := ledger.StockTicker{Symbol: "XYZ"}
	contract := ledger.Contract{Symbol: "XYZ", SecType: ledger.SecurityTypeStock, Exchange: "NYSE"}
	mapper.Register(ticker, contract)

	// 目标 50 股，当前 49 股，偏差 1 股落在容差 2 股之内
	holdShares(t, b.book, contract, 49, 10)
	b.portfolioValue = 1000
	data.SetPrice(ticker, 10)

	factory := NewFactory(b, data, mapper, false, nil)
	out, err := factory.TargetPercentOrders(context.Background(),
		map[ledger.Ticker]float64{ticker: 0.5}, ledger.MarketStyle(), ledger.TIFDay, 2.0/50.0)
	if err != nil {
		t.Fatalf("TargetPercentOrders returned error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no orders inside tolerance band, got %d", len(out))
	}
}

func TestOrders_SellsSortedBeforeBuys(t *testing.T) {
	b, data, mapper := newFixture(t)
	factory := NewFactory(b, data, mapper, false, nil)

	out := factory.Orders(map[ledger.Ticker]float64{
		ledger.StockTicker{Symbol: "AAA"}: 5,
		ledger.StockTicker{Symbol: "BBB"}: -8,
		ledger.StockTicker{Symbol: "CCC"}: -3,
		ledger.StockTicker{Symbol: "DDD"}: 0,
	}, ledger.MarketStyle(), ledger.TIFDay)

	if len(out) != 3 {
		t.Fatalf("expected 3 orders (zero dropped), got %d", len(out))
	}
	quantities := []float64{out[0].Quantity, out[1].Quantity, out[2].Quantity}
	if !reflect.DeepEqual(quantities, []float64{-8, -3, 5}) {
		t.Errorf("expected ascending quantities [-8 -3 5], got %v", quantities)
	}
}

func TestTargetOrders_CryptoTruncatesTowardZero(t *testing.T) {
	b, data, mapper := newFixture(t)
	ticker := ledger.NewCryptoTicker("BTC/USDT", 2)
	contract := ledger.Contract{Symbol: "BTC/USDT", SecType: ledger.SecurityTypeCrypto, Exchange: "binance"}
	mapper.Register(ticker, contract)
	data.SetPrice(ticker, 50000)

	factory := NewFactory(b, data, mapper, false, nil)

	out, err := factory.TargetOrders(context.Background(),
		map[ledger.Ticker]float64{ticker: 0.119}, nil, ledger.MarketStyle(), ledger.TIFGTC)
	if err != nil {
		t.Fatalf("TargetOrders returned error: %v", err)
	}
	if len(out) != 1 || math.Abs(out[0].Quantity-0.11) > 1e-12 {
		t.Fatalf("expected truncated quantity 0.11, got %+v", out)
	}

	out, err = factory.TargetOrders(context.Background(),
		map[ledger.Ticker]float64{ticker: -0.119}, nil, ledger.MarketStyle(), ledger.TIFGTC)
	if err != nil {
		t.Fatalf("TargetOrders returned error: %v", err)
	}
	if len(out) != 1 || math.Abs(out[0].Quantity-(-0.11)) > 1e-12 {
		t.Fatalf("expected truncated quantity -0.11, got %+v", out)
	}
}

func TestTargetOrders_CryptoMissingPrecision(t *testing.T) {
	b, data, mapper := newFixture(t)
	ticker := ledger.CryptoTicker{Symbol: "ETH/USDT"}
	contract := ledger.Contract{Symbol: "ETH/USDT", SecType: ledger.SecurityTypeCrypto, Exchange: "binance"}
	mapper.Register(ticker, contract)

	factory := NewFactory(b, data, mapper, false, nil)
	_, err := factory.TargetOrders(context.Background(),
		map[ledger.Ticker]float64{ticker: 1.5}, nil, ledger.MarketStyle(), ledger.TIFGTC)
	if !errors.Is(err, ErrMissingPrecision) {
		t.Fatalf("expected ErrMissingPrecision, got %v", err)
	}
}

func TestTargetOrders_RoundingDisabledKeepsFraction(t *testing.T) {
	b, data, mapper := newFixture(t)
	ticker := ledger.StockTicker{Symbol: "XYZ"}
	contract := ledger.Contract{Symbol: "XYZ", SecType: ledger.SecurityTypeStock, Exchange: "NYSE"}
	mapper.Register(ticker, contract)

	factory := NewFactory(b, data, mapper, true, nil)
	out, err := factory.TargetOrders(context.Background(),
		map[ledger.Ticker]float64{ticker: 12.7}, nil, ledger.MarketStyle(), ledger.TIFDay)
	if err != nil {
		t.Fatalf("TargetOrders returned error: %v", err)
	}
	if len(out) != 1 || out[0].Quantity != 12.7 {
		t.Fatalf("expected unrounded quantity 12.7, got %+v", out)
	}
}

func TestTargetPercentOrders_Idempotent(t *testing.T) {
	b, data, mapper := newFixture(t)
	ticker := ledger.StockTicker{Symbol: "XYZ"}
	contract := ledger.Contract{Symbol: "XYZ", SecType: ledger.SecurityTypeStock, Exchange: "NYSE"}
	mapper.Register(ticker, contract)

	holdShares(t, b.book, contract, 10, 10)
	b.portfolioValue = 1000
	data.SetPrice(ticker, 10)

	factory := NewFactory(b, data, mapper, false, nil)
	targets := map[ledger.Ticker]float64{ticker: 0.5}

	first, err := factory.TargetPercentOrders(context.Background(), targets, ledger.MarketStyle(), ledger.TIFDay, 0)
	if err != nil {
		t.Fatalf("first call returned error: %v", err)
	}
	second, err := factory.TargetPercentOrders(context.Background(), targets, ledger.MarketStyle(), ledger.TIFDay, 0)
	if err != nil {
		t.Fatalf("second call returned error: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical order lists, got %+v vs %+v", first, second)
	}
}

func TestValueOrders_InvalidTolerance(t *testing.T) {
	b, data, mapper := newFixture(t)
	ticker := ledger.StockTicker{Symbol: "XYZ"}
	mapper.Register(ticker, ledger.Contract{Symbol: "XYZ", SecType: ledger.SecurityTypeStock, Exchange: "NYSE"})
	data.SetPrice(ticker, 10)

	factory := NewFactory(b, data, mapper, false, nil)
	_, err := factory.ValueOrders(context.Background(),
		map[ledger.Ticker]float64{ticker: 100}, ledger.MarketStyle(), ledger.TIFDay, 1.0)
	if !errors.Is(err, ErrInvalidTolerance) {
		t.Fatalf("expected ErrInvalidTolerance, got %v", err)
	}
}

func TestTargetOrders_UnresolvedPricePropagates(t *testing.T) {
	b, data, mapper := newFixture(t)
	ticker := ledger.StockTicker{Symbol: "XYZ"}
	mapper.Register(ticker, ledger.Contract{Symbol: "XYZ", SecType: ledger.SecurityTypeStock, Exchange: "NYSE"})

	factory := NewFactory(b, data, mapper, false, nil)
	_, err := factory.TargetValueOrders(context.Background(),
		map[ledger.Ticker]float64{ticker: 100}, ledger.MarketStyle(), ledger.TIFDay, 0)
	if !errors.Is(err, market.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}
