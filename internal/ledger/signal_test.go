package ledger

import (
	"strings"
	"testing"
)

func TestSignalValidate_OK(t *testing.T) {
	signal := Signal{
		Ticker:            StockTicker{Symbol: "AAPL"},
		SuggestedExposure: Long,
		FractionAtRisk:    0.05,
		Confidence:        0.8,
	}
	if err := signal.Validate(); err != nil {
		t.Fatalf("expected valid signal, got %v", err)
	}
}

func TestSignalValidate_MissingTicker(t *testing.T) {
	err := Signal{FractionAtRisk: 0.05, Confidence: 0.8}.Validate()
	if err == nil || !strings.Contains(err.Error(), "缺少 ticker") {
		t.Fatalf("expected missing-ticker error, got %v", err)
	}
}

func TestSignalValidate_CollectsAllProblems(t *testing.T) {
	err := Signal{
		Ticker:            StockTicker{Symbol: "AAPL"},
		SuggestedExposure: Long,
		FractionAtRisk:    0,
		Confidence:        1.5,
	}.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	if !strings.Contains(err.Error(), "fraction_at_risk") {
		t.Errorf("expected fraction_at_risk in error, got %v", err)
	}
	if !strings.Contains(err.Error(), "confidence") {
		t.Errorf("expected confidence in error, got %v", err)
	}
}
