package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexalign/internal/alerting"
	"dexalign/internal/align"
	"dexalign/internal/config"
	"dexalign/internal/execution"
	"dexalign/internal/fetcher"
)

var hundred = decimal.NewFromInt(100)

// Service orchestrates one evaluation cycle per symbol: fetch quotes, run
// the alignment engine, derive a decision, and hand it to the execution
// engine.
type Service struct {
	cfg      *config.Config
	cex      fetcher.CEXQuoteFetcher
	dex      fetcher.DEXQuoteFetcher
	engine   *execution.Engine
	notifier alerting.Notifier
	logger   zerolog.Logger

	alignOpts align.Options
	staleness time.Duration
}

// New constructs the decision service.
func New(cfg *config.Config, cex fetcher.CEXQuoteFetcher, dex fetcher.DEXQuoteFetcher, engine *execution.Engine, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		cex:      cex,
		dex:      dex,
		engine:   engine,
		notifier: notifier,
		logger:   logger.With().Str("component", "service").Logger(),
		alignOpts: align.Options{
			MaxAlignUSDT:    decimal.NewFromFloat(cfg.Alignment.MaxAlignUSDT),
			HighSlippagePct: decimal.NewFromFloat(cfg.Alignment.HighSlippagePct),
		},
		staleness: time.Duration(cfg.Execution.MaxStalenessSeconds) * time.Second,
	}
}

// Tick evaluates every configured symbol once. A failing symbol is logged
// and does not block the others.
func (s *Service) Tick(ctx context.Context, now time.Time) error {
	for _, symbol := range s.cfg.Symbols {
		if err := s.evaluateSymbol(ctx, symbol, now); err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol.Name).Msg("evaluation cycle failed")
		}
	}
	return nil
}

func (s *Service) evaluateSymbol(ctx context.Context, symbol config.SymbolConfig, now time.Time) error {
	decision := execution.Decision{
		TS:             now,
		Symbol:         symbol.Name,
		Direction:      string(align.DirectionNone),
		IdempotencyKey: cycleKey(symbol.Name, now, s.cfg.Scheduler.Interval),
	}

	cexQuote, err := s.cex.FetchCEX(ctx, symbol.CexSymbol)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol.Name).Msg("cex fetch failed; recording no-data cycle")
		s.persistOnly(ctx, decision)
		return nil
	}
	decision.CexBid = cexQuote.Bid
	decision.CexAsk = cexQuote.Ask

	if age := cexQuote.Age(now); age > s.staleness {
		s.logger.Warn().Str("symbol", symbol.Name).Dur("age", age).Msg("stale quote; skipping cycle")
		s.persistOnly(ctx, decision)
		return nil
	}

	quotes, err := s.dex.FetchDEX(ctx, symbol.TokenAddress, symbol.TokenDecimals)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol.Name).Msg("dex sampling failed; recording incomplete cycle")
		s.persistOnly(ctx, decision)
		return nil
	}

	bands := align.Bands{
		Ideal:      decimal.NewFromFloat(symbol.Bands.Ideal),
		Acceptable: decimal.NewFromFloat(symbol.Bands.Acceptable),
		Warning:    decimal.NewFromFloat(symbol.Bands.Warning),
		Action:     decimal.NewFromFloat(symbol.Bands.Action),
	}

	mid := cexQuote.Mid()
	result := align.Evaluate(symbol.Name, mid, quotes, bands, s.alignOpts)

	decision.DexPrice = result.ExpectedPrice
	decision.RawSpreadBps = result.DeviationPct.Abs().Mul(hundred)
	decision.EdgeAfterCostsBps = s.edgeAfterCosts(result)
	decision.Direction = string(result.Direction)
	decision.SuggestedSizeUSDT = result.USDTAmount
	decision.RefPrice = result.ExpectedPrice
	decision.WouldTrade = result.Status == align.StatusOK &&
		result.Direction != align.DirectionNone &&
		result.USDTAmount.IsPositive()

	s.logger.Info().
		Str("symbol", symbol.Name).
		Str("status", string(result.Status)).
		Str("direction", string(result.Direction)).
		Str("deviation_pct", result.DeviationPct.StringFixed(4)).
		Str("edge_bps", decision.EdgeAfterCostsBps.StringFixed(2)).
		Bool("would_trade", decision.WouldTrade).
		Str("reason", result.Reason).
		Msg("alignment evaluated")

	execResult, execErr := s.engine.EvaluateAndExecute(ctx, decision)
	if execErr != nil {
		// Gate rejections are expected, named outcomes; already persisted.
		s.logger.Info().Err(execErr).Str("symbol", symbol.Name).Msg("trade rejected by gate")
		return nil
	}

	if execResult.Status == execution.StatusFilled || execResult.Status == execution.StatusFailed {
		s.dispatchAlert(ctx, decision, execResult)
	}
	return nil
}

// edgeAfterCosts subtracts modeled costs (venue fee plus the quote's own gas
// estimate when present) from the raw deviation, in bps.
func (s *Service) edgeAfterCosts(result align.Result) decimal.Decimal {
	edge := result.DeviationPct.Abs().Mul(hundred)
	edge = edge.Sub(decimal.NewFromFloat(s.cfg.Execution.FeeBps))
	if result.GasEstimateUSDT != nil && result.USDTAmount.IsPositive() {
		gasBps := result.GasEstimateUSDT.Div(result.USDTAmount).Mul(hundred).Mul(hundred)
		edge = edge.Sub(gasBps)
	}
	return edge
}

// persistOnly records a no-trade cycle so the audit trail explains why
// nothing happened.
func (s *Service) persistOnly(ctx context.Context, decision execution.Decision) {
	decision.WouldTrade = false
	if _, err := s.engine.EvaluateAndExecute(ctx, decision); err != nil {
		s.logger.Error().Err(err).Str("symbol", decision.Symbol).Msg("failed to persist no-trade decision")
	}
}

func (s *Service) dispatchAlert(ctx context.Context, decision execution.Decision, result execution.Result) {
	if s.notifier == nil {
		return
	}

	kind := alerting.KindTradeFilled
	if result.Status == execution.StatusFailed {
		kind = alerting.KindTradeFailed
	}
	note := alerting.Notification{
		TS:        time.Now().UTC(),
		Kind:      kind,
		Symbol:    decision.Symbol,
		Direction: decision.Direction,
		SizeUSDT:  decision.SuggestedSizeUSDT,
		PnlUSDT:   result.PnlUSDT,
		Reason:    result.Message,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("symbol", decision.Symbol).Msg("failed to dispatch trade alert")
	}
}

// cycleKey derives the deterministic idempotency identity for a periodic
// cycle: re-running the same bucket can never double-trade.
func cycleKey(symbol string, now time.Time, interval time.Duration) string {
	bucket := now
	if interval > 0 {
		bucket = now.Truncate(interval)
	}
	return fmt.Sprintf("%s:%d", symbol, bucket.Unix())
}
