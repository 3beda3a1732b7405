package ledger

import (
	"errors"
	"testing"
)

func TestStaticMapper_RoundTrip(t *testing.T) {
	mapper := NewStaticMapper()
	ticker := StockTicker{Symbol: "AAPL"}
	contract := Contract{Symbol: "AAPL", SecType: SecurityTypeStock, Exchange: "NASDAQ"}
	mapper.Register(ticker, contract)

	got, err := mapper.TickerToContract(ticker)
	if err != nil {
		t.Fatalf("TickerToContract returned error: %v", err)
	}
	if got != contract {
		t.Errorf("expected %+v, got %+v", contract, got)
	}

	back, err := mapper.ContractToTicker(contract)
	if err != nil {
		t.Fatalf("ContractToTicker returned error: %v", err)
	}
	if back.ID() != ticker.ID() {
		t.Errorf("expected %s, got %s", ticker.ID(), back.ID())
	}
}

func TestStaticMapper_MissingMapping(t *testing.T) {
	mapper := NewStaticMapper()

	_, err := mapper.TickerToContract(StockTicker{Symbol: "AAPL"})
	if !errors.Is(err, ErrNoMapping) {
		t.Fatalf("expected ErrNoMapping, got %v", err)
	}

	_, err = mapper.ContractToTicker(Contract{Symbol: "AAPL", SecType: SecurityTypeStock, Exchange: "NASDAQ"})
	if !errors.Is(err, ErrNoMapping) {
		t.Fatalf("expected ErrNoMapping, got %v", err)
	}

	_, err = mapper.TickerToContract(nil)
	if !errors.Is(err, ErrNoMapping) {
		t.Fatalf("expected ErrNoMapping for nil ticker, got %v", err)
	}
}

func TestContractPointValue_DefaultsToOne(t *testing.T) {
	if got := (Contract{Symbol: "AAPL"}).PointValue(); got != 1 {
		t.Errorf("expected default point value 1, got %f", got)
	}
	if got := (Contract{Symbol: "ESZ4", Multiplier: 50}).PointValue(); got != 50 {
		t.Errorf("expected point value 50, got %f", got)
	}
}
