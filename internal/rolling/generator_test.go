package rolling

import (
	"context"
	"testing"
	"time"

	"quantfolio/internal/broker"
	"quantfolio/internal/ledger"
	"quantfolio/internal/market"
	"quantfolio/internal/orders"
	"quantfolio/internal/position"
)

type mockBroker struct {
	book           *position.Book
	portfolioValue float64
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

func (m *mockBroker) GetOpenOrders(_ context.Context) ([]broker.OpenOrder, error) { return nil, nil }

func (m *mockBroker) PlaceOrders(_ context.Context, orders []ledger.Order) ([]string, error) {
	return make([]string, len(orders)), nil
}

func (m *mockBroker) CancelOrder(_ context.Context, _ string) error { return nil }

func (m *mockBroker) CancelAllOpenOrders(_ context.Context) error { return nil }

var _ broker.Broker = (*mockBroker)(nil)

func futureContract(symbol string) ledger.Contract {
	return ledger.Contract{Symbol: symbol, SecType: ledger.SecurityTypeFuture, Exchange: "GLOBEX", Multiplier: 50}
}

func holdFuture(t *testing.T, book *position.Book, contract ledger.Contract, quantity float64) {
	t.Helper()
	err := book.Apply(ledger.Transaction{
		Time:     time.Date(2024, 9, 2, 14, 0, 0, 0, time.UTC),
		Contract: contract,
		Quantity: quantity,
		Price:    4000,
		TradeID:  "seed-" + contract.Symbol,
	})
	if err != nil {
		t.Fatalf("seed position failed: %v", err)
	}
}

func esFamily(clock func() time.Time) (ledger.FutureTicker, ledger.FutureContractTicker, ledger.FutureContractTicker) {
	sep := ledger.FutureContractTicker{Symbol: "ESU4", PointVal: 50}
	dec := ledger.FutureContractTicker{Symbol: "ESZ4", PointVal: 50}
	family := ledger.NewChainFutureTicker("ES", []ledger.ContractExpiration{
		{Ticker: sep, ExpirationDate: time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC)},
		{Ticker: dec, ExpirationDate: time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)},
	}, 50, 5, clock)
	return family, sep, dec
}

func TestRollOrders_ClosesExpiredKeepsCurrent(t *testing.T) {
	// 10 月初：ESU4 已过换月窗口，ESZ4 为当前合约
	clock := func() time.Time { return time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC) }
	family, sep, dec := esFamily(clock)

	b := &mockBroker{book: position.NewBook(nil), portfolioValue: 500000}
	mapper := ledger.NewStaticMapper()
	mapper.Register(sep, futureContract("ESU4"))
	mapper.Register(dec, futureContract("ESZ4"))
	holdFuture(t, b.book, futureContract("ESU4"), 2)
	holdFuture(t, b.book, futureContract("ESZ4"), 3)

	data := market.NewStatic()
	data.SetPrice(sep, 4000)
	data.SetPrice(dec, 4010)

	factory := orders.NewFactory(b, data, mapper, false, nil)
	generator := NewGenerator(factory, b, mapper, []ledger.FutureTicker{family}, clock, nil)

	out, err := generator.RollOrders(context.Background())
	if err != nil {
		t.Fatalf("RollOrders returned error: %v", err)
	}

	if len(out) != 1 {
		t.Fatalf("expected single roll order, got %d", len(out))
	}
	if out[0].Ticker.ID() != "ESU4" {
		t.Errorf("expected roll order for ESU4, got %s", out[0].Ticker.ID())
	}
	if out[0].Quantity != -2 {
		t.Errorf("expected quantity -2, got %f", out[0].Quantity)
	}
	if out[0].Style.Kind != ledger.StyleMarket || out[0].TIF != ledger.TIFGTC {
		t.Errorf("expected market GTC roll order, got %+v", out[0])
	}
}

func TestRollOrders_NoExpiredPositions(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC) }
	family, sep, dec := esFamily(clock)

	b := &mockBroker{book: position.NewBook(nil), portfolioValue: 500000}
	mapper := ledger.NewStaticMapper()
	mapper.Register(sep, futureContract("ESU4"))
	mapper.Register(dec, futureContract("ESZ4"))
	holdFuture(t, b.book, futureContract("ESZ4"), 3)

	data := market.NewStatic()
	factory := orders.NewFactory(b, data, mapper, false, nil)
	generator := NewGenerator(factory, b, mapper, []ledger.FutureTicker{family}, clock, nil)

	out, err := generator.RollOrders(context.Background())
	if err != nil {
		t.Fatalf("RollOrders returned error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no roll orders, got %+v", out)
	}
}

func TestRollOrders_ExhaustedChainSkipsFamily(t *testing.T) {
	// 2025 年：链上所有合约都已耗尽，家族被跳过而非报错
	clock := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	family, sep, dec := esFamily(clock)

	b := &mockBroker{book: position.NewBook(nil), portfolioValue: 500000}
	mapper := ledger.NewStaticMapper()
	mapper.Register(sep, futureContract("ESU4"))
	mapper.Register(dec, futureContract("ESZ4"))

	data := market.NewStatic()
	factory := orders.NewFactory(b, data, mapper, false, nil)
	generator := NewGenerator(factory, b, mapper, []ledger.FutureTicker{family}, clock, nil)

	out, err := generator.RollOrders(context.Background())
	if err != nil {
		t.Fatalf("RollOrders returned error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no roll orders for exhausted chain, got %+v", out)
	}
}

func TestRollOrders_IgnoresNonFamilyPositions(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC) }
	family, sep, dec := esFamily(clock)

	b := &mockBroker{book: position.NewBook(nil), portfolioValue: 500000}
	mapper := ledger.NewStaticMapper()
	mapper.Register(sep, futureContract("ESU4"))
	mapper.Register(dec, futureContract("ESZ4"))

	stock := ledger.StockTicker{Symbol: "AAPL"}
	stockContract := ledger.Contract{Symbol: "AAPL", SecType: ledger.SecurityTypeStock, Exchange: "NYSE"}
	mapper.Register(stock, stockContract)
	err := b.book.Apply(ledger.Transaction{
		Time:     time.Date(2024, 9, 2, 14, 0, 0, 0, time.UTC),
		Contract: stockContract,
		Quantity: 100,
		Price:    150,
		TradeID:  "seed-aapl",
	})
	if err != nil {
		t.Fatalf("seed position failed: %v", err)
	}

	data := market.NewStatic()
	factory := orders.NewFactory(b, data, mapper, false, nil)
	generator := NewGenerator(factory, b, mapper, []ledger.FutureTicker{family}, clock, nil)

	out, err := generator.RollOrders(context.Background())
	if err != nil {
		t.Fatalf("RollOrders returned error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected stock positions to be ignored, got %+v", out)
	}
}
