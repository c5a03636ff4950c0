package usecase

import (
	"math"
	"testing"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

func TestClassifySidewaysOnFlatHistory(t *testing.T) {
	c := NewRiskCalculator()

	params, err := c.Classify(flatCandles(60, 50000, 0, 60_000), domain.SideBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.MarketRegime != domain.RegimeSideways {
		t.Errorf("regime = %s, want SIDEWAYS", params.MarketRegime)
	}
	if params.RiskRewardRatio != 1.5 {
		t.Errorf("R:R = %v, want 1.5 for sideways", params.RiskRewardRatio)
	}
}

func TestClassifyStrongTrendBoostsAlignedRR(t *testing.T) {
	c := NewRiskCalculator()

	// Steady climb: high R², slope well above the strong threshold.
	up := trendCandles(60, 100, 0.5, 0, 60_000)

	aligned, err := c.Classify(up, domain.SideBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if aligned.MarketRegime != domain.RegimeStrongUp {
		t.Fatalf("regime = %s, want STRONG_UP", aligned.MarketRegime)
	}
	if aligned.RiskRewardRatio <= 4.0 {
		t.Errorf("aligned strong-trend R:R = %v, want > 4.0 base", aligned.RiskRewardRatio)
	}
	if aligned.RiskRewardRatio > c.MaxRR {
		t.Errorf("R:R %v exceeds cap %v", aligned.RiskRewardRatio, c.MaxRR)
	}

	counter, err := c.Classify(up, domain.SideSell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter.RiskRewardRatio >= aligned.RiskRewardRatio {
		t.Errorf("counter-trend R:R %v should be below aligned %v",
			counter.RiskRewardRatio, aligned.RiskRewardRatio)
	}
}

func TestClassifyConfidenceBounds(t *testing.T) {
	c := NewRiskCalculator()

	histories := [][]domain.Candle{
		flatCandles(60, 100, 0, 60_000),
		trendCandles(60, 100, 0.5, 0, 60_000),
		trendCandles(60, 100, -0.5, 0, 60_000),
	}
	for i, h := range histories {
		params, err := c.Classify(h, domain.SideBuy)
		if err != nil {
			t.Fatalf("history %d: %v", i, err)
		}
		if math.IsNaN(params.Confidence) {
			t.Fatalf("history %d: confidence is NaN", i)
		}
		if params.Confidence < 0 || params.Confidence > 1 {
			t.Errorf("history %d: confidence %v out of [0,1]", i, params.Confidence)
		}
		if params.PositionSizeScalar <= 0 {
			t.Errorf("history %d: non-positive size scalar %v", i, params.PositionSizeScalar)
		}
	}
}

func TestClassifyRejectsMalformedHistory(t *testing.T) {
	c := NewRiskCalculator()

	if _, err := c.Classify([]domain.Candle{{Close: 100}}, domain.SideBuy); err == nil {
		t.Error("single bar should be rejected")
	}

	bad := flatCandles(60, 100, 0, 60_000)
	bad[30].Close = -5
	if _, err := c.Classify(bad, domain.SideBuy); err == nil {
		t.Error("negative close should be rejected")
	}
}

func TestLinearRegressionFitsPerfectLine(t *testing.T) {
	values := []float64{10, 12, 14, 16, 18}
	slope, r2 := linearRegression(values)
	if math.Abs(slope-2) > 1e-9 {
		t.Errorf("slope = %v, want 2", slope)
	}
	if math.Abs(r2-1) > 1e-9 {
		t.Errorf("r2 = %v, want 1", r2)
	}
}
