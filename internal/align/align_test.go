package align

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testBands() Bands {
	return Bands{
		Ideal:      decimal.NewFromFloat(0.25),
		Acceptable: decimal.NewFromFloat(0.5),
		Warning:    decimal.NewFromFloat(1.0),
		Action:     decimal.NewFromFloat(2.0),
	}
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestEvaluateNoCexPrice(t *testing.T) {
	res := Evaluate("AAA/USDT", decimal.Zero, nil, testBands(), Options{})
	if res.Status != StatusNoData {
		t.Fatalf("期望 NO_DATA, 实际 %s", res.Status)
	}
	if res.Reason == "" {
		t.Fatal("reason must not be empty")
	}
}

func TestEvaluateNoQuotes(t *testing.T) {
	res := Evaluate("AAA/USDT", dec(1.0), nil, testBands(), Options{})
	if res.Status != StatusIncomplete {
		t.Fatalf("期望 INCOMPLETE, 实际 %s", res.Status)
	}
}

func TestEvaluateAlignedInclusiveBoundary(t *testing.T) {
	// Deviation exactly at the ideal threshold counts as aligned.
	quotes := []Quote{{AmountInUSDT: dec(100), TokensOut: dec(99.75), ExecPrice: dec(1.0025)}}
	res := Evaluate("AAA/USDT", dec(1.0), quotes, testBands(), Options{})
	if res.Status != StatusAligned {
		t.Fatalf("deviation at ideal boundary should be ALIGNED, got %s", res.Status)
	}
	if !res.USDTAmount.IsZero() || !res.TokenAmount.IsZero() {
		t.Fatal("aligned result must carry zero size")
	}
	if res.Confidence != ConfidenceHigh {
		t.Fatalf("aligned result should be HIGH confidence, got %s", res.Confidence)
	}
}

func TestEvaluateLowLiquidityScenario(t *testing.T) {
	gas := dec(2.0)
	quotes := []Quote{{
		AmountInUSDT:    dec(500),
		TokensOut:       dec(495),
		ExecPrice:       dec(0.99),
		GasEstimateUSDT: &gas,
		Timestamp:       time.Now().UTC(),
	}}
	res := Evaluate("AAA/USDT", dec(1.0), quotes, testBands(), Options{MaxAlignUSDT: dec(1000)})

	if res.Direction != DirectionBuyOnDex {
		t.Fatalf("dex below cex must be BUY_ON_DEX, got %s", res.Direction)
	}
	if !res.DeviationPct.Equal(dec(-1.0)) {
		t.Fatalf("期望偏差 -1%%, 实际 %s", res.DeviationPct)
	}
	if res.Status != StatusLowLiquidity {
		t.Fatalf("1%% deviation vs 0.5%% acceptable band must be LOW_LIQUIDITY, got %s", res.Status)
	}
	if !res.USDTAmount.Equal(dec(500)) || !res.TokenAmount.Equal(dec(495)) {
		t.Fatalf("amounts must come from the observed quote verbatim: %s / %s", res.USDTAmount, res.TokenAmount)
	}
	if res.GasEstimateUSDT == nil || !res.GasEstimateUSDT.Equal(gas) {
		t.Fatal("gas estimate must be carried through untouched")
	}
	if res.Reason == "" {
		t.Fatal("low liquidity result must name the best achievable deviation")
	}
}

func TestEvaluateNoQuoteWithinCap(t *testing.T) {
	quotes := []Quote{{AmountInUSDT: dec(50000), TokensOut: dec(49000), ExecPrice: dec(1.02)}}
	res := Evaluate("AAA/USDT", dec(1.0), quotes, testBands(), Options{MaxAlignUSDT: dec(1000)})
	if res.Status != StatusLowLiquidity {
		t.Fatalf("expected LOW_LIQUIDITY, got %s", res.Status)
	}
	if !res.USDTAmount.IsZero() {
		t.Fatal("engine must never recommend a size it did not observe within the cap")
	}
	if res.Direction != DirectionSellOnDex {
		t.Fatalf("dex above cex must be SELL_ON_DEX, got %s", res.Direction)
	}
}

func TestEvaluatePicksClosestQuote(t *testing.T) {
	quotes := []Quote{
		{AmountInUSDT: dec(100), TokensOut: dec(98), ExecPrice: dec(1.02)},
		{AmountInUSDT: dec(250), TokensOut: dec(246), ExecPrice: dec(1.015)},
		{AmountInUSDT: dec(500), TokensOut: dec(496), ExecPrice: dec(1.008)},
		{AmountInUSDT: dec(1000), TokensOut: dec(995), ExecPrice: dec(1.005)},
	}
	res := Evaluate("AAA/USDT", dec(1.0), quotes, testBands(), Options{MaxAlignUSDT: dec(2000)})
	if res.Direction != DirectionSellOnDex {
		t.Fatalf("expected SELL_ON_DEX, got %s", res.Direction)
	}
	if !res.USDTAmount.Equal(dec(1000)) {
		t.Fatalf("expected the 1000 USDT quote (closest to CEX), got %s", res.USDTAmount)
	}
	if res.Status != StatusOK {
		t.Fatalf("0.5%% best deviation is inside the acceptable band, got %s", res.Status)
	}
	if res.Confidence != ConfidenceHigh {
		t.Fatalf("4 quotes with low slippage should be HIGH, got %s", res.Confidence)
	}
}

func TestEvaluateLowConfidenceSingleQuote(t *testing.T) {
	quotes := []Quote{{AmountInUSDT: dec(100), TokensOut: dec(99), ExecPrice: dec(1.01)}}
	res := Evaluate("AAA/USDT", dec(1.0), quotes, testBands(), Options{})
	if res.Confidence != ConfidenceLow {
		t.Fatalf("single quote must be LOW confidence, got %s", res.Confidence)
	}
}

func TestEvaluatePure(t *testing.T) {
	quotes := []Quote{
		{AmountInUSDT: dec(100), TokensOut: dec(99), ExecPrice: dec(1.01)},
		{AmountInUSDT: dec(500), TokensOut: dec(492), ExecPrice: dec(1.016)},
	}
	a := Evaluate("AAA/USDT", dec(1.0), quotes, testBands(), Options{})
	b := Evaluate("AAA/USDT", dec(1.0), quotes, testBands(), Options{})

	a.Timestamp = time.Time{}
	b.Timestamp = time.Time{}
	if a.Status != b.Status || a.Direction != b.Direction || !a.DeviationPct.Equal(b.DeviationPct) ||
		!a.USDTAmount.Equal(b.USDTAmount) || !a.TokenAmount.Equal(b.TokenAmount) ||
		a.Confidence != b.Confidence || a.BandLevel != b.BandLevel || a.Reason != b.Reason {
		t.Fatalf("两次评估结果不一致: %#v vs %#v", a, b)
	}
}

func TestBandsValidate(t *testing.T) {
	bad := Bands{Ideal: dec(0.5), Acceptable: dec(0.5), Warning: dec(1), Action: dec(2)}
	if err := bad.Validate(); err == nil {
		t.Fatal("non-increasing bands must fail validation")
	}
	if err := testBands().Validate(); err != nil {
		t.Fatalf("valid bands rejected: %v", err)
	}
}

func TestBandsClassify(t *testing.T) {
	b := testBands()
	cases := []struct {
		dev  float64
		want BandLevel
	}{
		{0.1, BandIdeal},
		{-0.25, BandIdeal},
		{0.4, BandAcceptable},
		{-0.9, BandWarning},
		{1.5, BandAction},
		{5, BandAction},
	}
	for _, c := range cases {
		if got := b.Classify(dec(c.dev)); got != c.want {
			t.Fatalf("Classify(%v) = %s, want %s", c.dev, got, c.want)
		}
	}
}
