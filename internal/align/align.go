package align

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Status classifies the outcome of an alignment evaluation.
type Status string

const (
	StatusAligned      Status = "ALIGNED"
	StatusOK           Status = "OK"
	StatusNoData       Status = "NO_DATA"
	StatusIncomplete   Status = "INCOMPLETE"
	StatusLowLiquidity Status = "LOW_LIQUIDITY"
)

// Direction indicates which side of the DEX book must be pushed.
type Direction string

const (
	DirectionNone      Direction = "NONE"
	DirectionBuyOnDex  Direction = "BUY_ON_DEX"
	DirectionSellOnDex Direction = "SELL_ON_DEX"
)

// Confidence grades how much liquidity backs the recommendation.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// BandLevel names the deviation tier a price falls into.
type BandLevel string

const (
	BandIdeal      BandLevel = "ideal"
	BandAcceptable BandLevel = "acceptable"
	BandWarning    BandLevel = "warning"
	BandAction     BandLevel = "action"
)

// Bands holds the per-symbol deviation tiers, in percent, strictly increasing.
type Bands struct {
	Ideal      decimal.Decimal
	Acceptable decimal.Decimal
	Warning    decimal.Decimal
	Action     decimal.Decimal
}

// Validate checks that the tiers are positive and strictly increasing.
func (b Bands) Validate() error {
	if !b.Ideal.IsPositive() {
		return fmt.Errorf("ideal band must be positive")
	}
	if b.Acceptable.LessThanOrEqual(b.Ideal) ||
		b.Warning.LessThanOrEqual(b.Acceptable) ||
		b.Action.LessThanOrEqual(b.Warning) {
		return fmt.Errorf("bands must be strictly increasing (ideal < acceptable < warning < action)")
	}
	return nil
}

// Classify returns the smallest tier that contains the absolute deviation.
func (b Bands) Classify(deviationPct decimal.Decimal) BandLevel {
	abs := deviationPct.Abs()
	switch {
	case abs.LessThanOrEqual(b.Ideal):
		return BandIdeal
	case abs.LessThanOrEqual(b.Acceptable):
		return BandAcceptable
	case abs.LessThanOrEqual(b.Warning):
		return BandWarning
	default:
		return BandAction
	}
}

// Quote is one actually observed DEX execution sample. Every field was
// returned by the venue for a concrete probe notional; nothing is synthesised.
type Quote struct {
	AmountInUSDT    decimal.Decimal
	TokensOut       decimal.Decimal
	ExecPrice       decimal.Decimal
	GasEstimateUSDT *decimal.Decimal
	Source          string
	Timestamp       time.Time
}

func (q Quote) valid() bool {
	return q.AmountInUSDT.IsPositive() && q.TokensOut.IsPositive() && q.ExecPrice.IsPositive()
}

// Result is the full recommendation produced by a single evaluation.
type Result struct {
	Symbol          string
	Status          Status
	Direction       Direction
	TokenAmount     decimal.Decimal
	USDTAmount      decimal.Decimal
	ExpectedPrice   decimal.Decimal
	GasEstimateUSDT *decimal.Decimal
	DeviationPct    decimal.Decimal
	Confidence      Confidence
	BandLevel       BandLevel
	Reason          string
	Timestamp       time.Time
}

// Options tune the evaluation. MaxAlignUSDT caps the notional of any quote the
// engine may recommend; HighSlippagePct marks the tier above which confidence
// degrades.
type Options struct {
	MaxAlignUSDT    decimal.Decimal
	HighSlippagePct decimal.Decimal
}

var (
	defaultMaxAlignUSDT    = decimal.NewFromInt(5000)
	defaultHighSlippagePct = decimal.NewFromInt(3)
	hundred                = decimal.NewFromInt(100)
)

func (o Options) maxAlign() decimal.Decimal {
	if o.MaxAlignUSDT.IsPositive() {
		return o.MaxAlignUSDT
	}
	return defaultMaxAlignUSDT
}

func (o Options) highSlippage() decimal.Decimal {
	if o.HighSlippagePct.IsPositive() {
		return o.HighSlippagePct
	}
	return defaultHighSlippagePct
}

// Evaluate derives a trade recommendation from a CEX reference price and a
// set of real DEX quotes. It is a pure function: the same inputs yield the
// same result apart from Timestamp, and no price or size is ever invented —
// the recommendation is always one of the observed quotes or nothing.
func Evaluate(symbol string, cexPrice decimal.Decimal, quotes []Quote, bands Bands, opts Options) Result {
	now := time.Now().UTC()

	if cexPrice.LessThanOrEqual(decimal.Zero) {
		return Result{
			Symbol:     symbol,
			Status:     StatusNoData,
			Direction:  DirectionNone,
			Confidence: ConfidenceLow,
			Reason:     "no CEX reference price available",
			Timestamp:  now,
		}
	}

	valid := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.valid() {
			valid = append(valid, q)
		}
	}
	if len(valid) == 0 {
		return Result{
			Symbol:     symbol,
			Status:     StatusIncomplete,
			Direction:  DirectionNone,
			Confidence: ConfidenceLow,
			Reason:     "no valid DEX quotes available",
			Timestamp:  now,
		}
	}

	// The smallest-notional quote is the least size-biased view of where the
	// DEX actually trades.
	sort.Slice(valid, func(i, j int) bool {
		return valid[i].AmountInUSDT.LessThan(valid[j].AmountInUSDT)
	})
	reference := valid[0]

	deviationPct := reference.ExecPrice.Sub(cexPrice).Div(cexPrice).Mul(hundred)
	band := bands.Classify(deviationPct)

	if deviationPct.Abs().LessThanOrEqual(bands.Ideal) {
		return Result{
			Symbol:       symbol,
			Status:       StatusAligned,
			Direction:    DirectionNone,
			DeviationPct: deviationPct,
			Confidence:   ConfidenceHigh,
			BandLevel:    BandIdeal,
			Reason:       fmt.Sprintf("deviation %s%% within ideal band %s%%", deviationPct.StringFixed(4), bands.Ideal.String()),
			Timestamp:    now,
		}
	}

	direction := DirectionSellOnDex
	if deviationPct.IsNegative() {
		direction = DirectionBuyOnDex
	}

	// Best-of-real-options search: among quotes inside the safety cap, pick
	// the one whose own execution price lands closest to the CEX reference.
	var best *Quote
	var bestDeviation decimal.Decimal
	eligible := 0
	for i := range valid {
		q := valid[i]
		if q.AmountInUSDT.GreaterThan(opts.maxAlign()) {
			continue
		}
		eligible++
		dev := q.ExecPrice.Sub(cexPrice).Div(cexPrice).Mul(hundred)
		if best == nil || dev.Abs().LessThan(bestDeviation.Abs()) {
			best = &valid[i]
			bestDeviation = dev
		}
	}

	if best == nil {
		return Result{
			Symbol:       symbol,
			Status:       StatusLowLiquidity,
			Direction:    direction,
			DeviationPct: deviationPct,
			Confidence:   ConfidenceLow,
			BandLevel:    band,
			Reason:       fmt.Sprintf("no observed quote within %s USDT safety cap", opts.maxAlign().String()),
			Timestamp:    now,
		}
	}

	slippage := bestDeviation.Abs()
	confidence := ConfidenceMedium
	switch {
	case len(valid) < 2 || slippage.GreaterThan(opts.highSlippage()):
		confidence = ConfidenceLow
	case len(valid) >= 4 && slippage.LessThan(opts.highSlippage()):
		confidence = ConfidenceHigh
	}

	status := StatusOK
	reason := fmt.Sprintf("deviation %s%% in %s band; best quote of %s USDT lands at %s%%",
		deviationPct.StringFixed(4), band, best.AmountInUSDT.String(), bestDeviation.StringFixed(4))
	if bestDeviation.Abs().GreaterThan(bands.Acceptable) {
		status = StatusLowLiquidity
		reason = fmt.Sprintf("best achievable deviation %s%% still outside acceptable band %s%%",
			bestDeviation.StringFixed(4), bands.Acceptable.String())
	}

	return Result{
		Symbol:          symbol,
		Status:          status,
		Direction:       direction,
		TokenAmount:     best.TokensOut,
		USDTAmount:      best.AmountInUSDT,
		ExpectedPrice:   best.ExecPrice,
		GasEstimateUSDT: best.GasEstimateUSDT,
		DeviationPct:    deviationPct,
		Confidence:      confidence,
		BandLevel:       band,
		Reason:          reason,
		Timestamp:       now,
	}
}
