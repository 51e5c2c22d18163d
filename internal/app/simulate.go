package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"dexalign/internal/align"
)

// Simulate 通过给定的 CEX 价格与 DEX 报价模拟一次对齐评估, 不落库。
func (a *App) Simulate(symbol string, cexPrice decimal.Decimal, quoteSpecs []string) error {
	if !cexPrice.IsPositive() && len(quoteSpecs) > 0 {
		return errors.New("cex price must be positive")
	}

	quotes := make([]align.Quote, 0, len(quoteSpecs))
	for _, spec := range quoteSpecs {
		quote, err := parseQuoteSpec(spec)
		if err != nil {
			return err
		}
		quotes = append(quotes, quote)
	}

	bands := align.Bands{
		Ideal:      decimal.NewFromFloat(0.25),
		Acceptable: decimal.NewFromFloat(0.5),
		Warning:    decimal.NewFromFloat(1.0),
		Action:     decimal.NewFromFloat(2.0),
	}
	for _, sym := range a.Config.Symbols {
		if sym.Name == symbol {
			bands = align.Bands{
				Ideal:      decimal.NewFromFloat(sym.Bands.Ideal),
				Acceptable: decimal.NewFromFloat(sym.Bands.Acceptable),
				Warning:    decimal.NewFromFloat(sym.Bands.Warning),
				Action:     decimal.NewFromFloat(sym.Bands.Action),
			}
			break
		}
	}

	result := align.Evaluate(symbol, cexPrice, quotes, bands, align.Options{
		MaxAlignUSDT:    decimal.NewFromFloat(a.Config.Alignment.MaxAlignUSDT),
		HighSlippagePct: decimal.NewFromFloat(a.Config.Alignment.HighSlippagePct),
	})

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{
		"symbol":        result.Symbol,
		"status":        result.Status,
		"direction":     result.Direction,
		"token_amount":  result.TokenAmount.String(),
		"usdt_amount":   result.USDTAmount.String(),
		"deviation_pct": result.DeviationPct.StringFixed(4),
		"confidence":    result.Confidence,
		"band_level":    result.BandLevel,
		"reason":        result.Reason,
	})
}

// parseQuoteSpec decodes "amountInUsdt:execPrice" into an observed quote.
func parseQuoteSpec(spec string) (align.Quote, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return align.Quote{}, fmt.Errorf("invalid quote spec %q, expected amountInUsdt:execPrice", spec)
	}
	amount, err := decimal.NewFromString(parts[0])
	if err != nil {
		return align.Quote{}, fmt.Errorf("invalid amount in %q: %w", spec, err)
	}
	price, err := decimal.NewFromString(parts[1])
	if err != nil {
		return align.Quote{}, fmt.Errorf("invalid price in %q: %w", spec, err)
	}
	if !amount.IsPositive() || !price.IsPositive() {
		return align.Quote{}, fmt.Errorf("quote spec %q must be positive", spec)
	}
	return align.Quote{
		AmountInUSDT: amount,
		TokensOut:    amount.Div(price),
		ExecPrice:    price,
	}, nil
}
