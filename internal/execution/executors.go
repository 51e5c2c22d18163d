package execution

import (
	"context"
	"math/rand"

	"github.com/shopspring/decimal"

	"dexalign/internal/storage"
)

const paperSlippageMaxBps = 10

var tenThousand = decimal.NewFromInt(10000)

// executePaper simulates a fill against the intent's edge with a small
// bounded slippage penalty (0-10 bps).
func (e *Engine) executePaper(ctx context.Context, id int64, intent Intent) Result {
	slipBps := decimal.NewFromInt(int64(rand.Intn(paperSlippageMaxBps + 1)))
	realizedEdge := intent.EdgeBps.Sub(slipBps)
	pnl := intent.SizeUSDT.Mul(realizedEdge).Div(tenThousand)

	var fillPrice *decimal.Decimal
	if intent.RefPrice.IsPositive() {
		adj := slipBps.Div(tenThousand)
		price := intent.RefPrice
		switch intent.Direction {
		case "BUY_ON_DEX":
			price = price.Mul(decimal.NewFromInt(1).Add(adj))
		case "SELL_ON_DEX":
			price = price.Mul(decimal.NewFromInt(1).Sub(adj))
		}
		fillPrice = &price
	}

	if err := e.trades.CloseTrade(ctx, id, storage.TradeFilled, fillPrice, &pnl, nil); err != nil {
		e.logger.Error().Err(err).Int64("trade_id", id).Msg("failed to close paper trade")
	}
	e.deregister(id)

	e.logger.Info().
		Int64("trade_id", id).
		Str("symbol", intent.Symbol).
		Str("direction", intent.Direction).
		Str("size_usdt", intent.SizeUSDT.String()).
		Str("pnl_usdt", pnl.String()).
		Str("slippage_bps", slipBps.String()).
		Msg("paper trade filled")

	return Result{
		Success:   true,
		TradeID:   id,
		Mode:      e.cfg.Mode,
		Status:    StatusFilled,
		Message:   "paper fill simulated",
		FillPrice: fillPrice,
		PnlUSDT:   &pnl,
	}
}

// executeLive places a real order through the injected capability. Without
// credentials or a wired placer it fails closed.
func (e *Engine) executeLive(ctx context.Context, id int64, intent Intent) Result {
	if !e.cfg.Credentialed() {
		return e.closeFailed(ctx, id, intent, "missing credentials")
	}
	if e.placer == nil {
		return e.closeFailed(ctx, id, intent, "live order placement not implemented")
	}

	side := "buy"
	if intent.Direction == "SELL_ON_DEX" {
		side = "sell"
	}

	fillPrice, err := e.placer.PlaceOrder(ctx, "dex", intent.Symbol, side, intent.SizeUSDT)
	if err != nil {
		return e.closeFailed(ctx, id, intent, "order placement failed: "+err.Error())
	}

	if intent.RefPrice.IsPositive() && e.cfg.MaxSlippageBps > 0 {
		slippageBps := fillPrice.Sub(intent.RefPrice).Div(intent.RefPrice).Mul(tenThousand).Abs()
		if slippageBps.GreaterThan(decimal.NewFromFloat(e.cfg.MaxSlippageBps)) {
			return e.closeFailed(ctx, id, intent,
				"fill slippage "+slippageBps.StringFixed(1)+" bps exceeds limit")
		}
	}

	pnl := intent.SizeUSDT.Mul(intent.EdgeBps).Div(tenThousand)
	if err := e.trades.CloseTrade(ctx, id, storage.TradeFilled, &fillPrice, &pnl, nil); err != nil {
		e.logger.Error().Err(err).Int64("trade_id", id).Msg("failed to close live trade")
	}
	e.deregister(id)

	e.logger.Info().
		Int64("trade_id", id).
		Str("symbol", intent.Symbol).
		Str("fill_price", fillPrice.String()).
		Msg("live trade filled")

	return Result{
		Success:   true,
		TradeID:   id,
		Mode:      e.cfg.Mode,
		Status:    StatusFilled,
		Message:   "live order filled",
		FillPrice: &fillPrice,
		PnlUSDT:   &pnl,
	}
}

// closeFailed moves the row to failed with an explicit reason and releases
// the concurrency slot in the same step.
func (e *Engine) closeFailed(ctx context.Context, id int64, intent Intent, reason string) Result {
	if err := e.trades.CloseTrade(ctx, id, storage.TradeFailed, nil, nil, &reason); err != nil {
		e.logger.Error().Err(err).Int64("trade_id", id).Msg("failed to close failed trade")
	}
	e.deregister(id)

	e.logger.Warn().
		Int64("trade_id", id).
		Str("symbol", intent.Symbol).
		Str("reason", reason).
		Msg("trade failed")

	return Result{
		Success: false,
		TradeID: id,
		Mode:    e.cfg.Mode,
		Status:  StatusFailed,
		Message: reason,
	}
}

func (e *Engine) deregister(id int64) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}
