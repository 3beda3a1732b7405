package store

import (
	"context"
	"testing"
	"time"

	"quantfolio/internal/config"
	"quantfolio/internal/ledger"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	// 内存库必须单连接，多连接会各自拿到独立的空库
	st, err := NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewJournal(st, nil)
}

func TestJournalRecordAndListOrders(t *testing.T) {
	journal := newTestJournal(t)
	cycleTime := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)

	err := journal.RecordOrders(context.Background(), cycleTime, []ledger.Order{
		{Ticker: ledger.StockTicker{Symbol: "AAPL"}, Quantity: 40, Style: ledger.MarketStyle(), TIF: ledger.TIFOpen},
		{Ticker: ledger.StockTicker{Symbol: "AAPL"}, Quantity: -50, Style: ledger.StopStyle(95), TIF: ledger.TIFGTC},
	})
	if err != nil {
		t.Fatalf("RecordOrders returned error: %v", err)
	}

	records, err := journal.ListOrders(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 order records, got %d", len(records))
	}

	// 倒序返回：止损单在前
	if records[0].Style != string(ledger.StyleStop) {
		t.Errorf("expected newest record first, got %+v", records[0])
	}
	if records[0].StopPrice == nil || *records[0].StopPrice != 95 {
		t.Errorf("expected stop price 95, got %+v", records[0].StopPrice)
	}
	if records[1].StopPrice != nil {
		t.Errorf("market order must not carry a stop price, got %+v", records[1])
	}
}

func TestJournalRecordTransactions_DuplicateTradeIDRejected(t *testing.T) {
	journal := newTestJournal(t)
	tx := ledger.Transaction{
		Time:       time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC),
		Contract:   ledger.Contract{Symbol: "AAPL", SecType: ledger.SecurityTypeStock, Exchange: "NYSE"},
		Quantity:   40,
		Price:      100,
		Commission: 0.4,
		TradeID:    "trade-1",
	}

	if err := journal.RecordTransactions(context.Background(), []ledger.Transaction{tx}); err != nil {
		t.Fatalf("RecordTransactions returned error: %v", err)
	}
	if err := journal.RecordTransactions(context.Background(), []ledger.Transaction{tx}); err == nil {
		t.Fatalf("expected unique constraint violation for duplicate trade id")
	}

	records, err := journal.ListTransactions(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected single transaction record, got %d", len(records))
	}
	if records[0].TradeID != "trade-1" || records[0].Quantity != 40 {
		t.Errorf("unexpected record %+v", records[0])
	}
}

func TestJournalEmptyBatchesAreNoOps(t *testing.T) {
	journal := newTestJournal(t)

	if err := journal.RecordOrders(context.Background(), time.Now(), nil); err != nil {
		t.Fatalf("empty order batch must succeed: %v", err)
	}
	if err := journal.RecordTransactions(context.Background(), nil); err != nil {
		t.Fatalf("empty transaction batch must succeed: %v", err)
	}
}
