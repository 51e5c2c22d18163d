package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent trades and decisions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	trades, err := store.ListRecentTrades(ctx, opts.Limit, opts.Symbol)
	if err != nil {
		return err
	}
	decisions, err := store.ListRecentDecisions(ctx, opts.Limit, opts.Symbol)
	if err != nil {
		return err
	}

	if len(trades) == 0 && len(decisions) == 0 {
		fmt.Fprintln(os.Stdout, "no trades or decisions found")
		return nil
	}

	if len(trades) > 0 {
		fmt.Fprintln(os.Stdout, "Trades:")
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tSymbol\tDirection\tSize USDT\tEdge bps\tMode\tStatus\tPnL USDT\tError")
		for _, trade := range trades {
			pnl := ""
			if trade.PnlUSDT != nil {
				pnl = formatDecimal(*trade.PnlUSDT, 4)
			}
			errMsg := ""
			if trade.Error != nil {
				errMsg = sanitizeInline(*trade.Error)
			}
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				trade.TS.UTC().Format(time.RFC3339),
				trade.Symbol,
				trade.Direction,
				formatDecimal(trade.SizeUSDT, 2),
				formatDecimal(trade.EdgeBps, 2),
				trade.Mode,
				trade.Status,
				pnl,
				errMsg,
			)
		}
		writer.Flush()
	}

	if len(decisions) > 0 {
		fmt.Fprintln(os.Stdout, "Decisions:")
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tSymbol\tSpread bps\tEdge bps\tWould Trade\tDirection\tSize USDT\tExecuted")
		for _, decision := range decisions {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%t\t%s\t%s\t%t\n",
				decision.TS.UTC().Format(time.RFC3339),
				decision.Symbol,
				formatDecimal(decision.RawSpreadBps, 2),
				formatDecimal(decision.EdgeAfterCostsBps, 2),
				decision.WouldTrade,
				decision.Direction,
				formatDecimal(decision.SuggestedSizeUSDT, 2),
				decision.Executed,
			)
		}
		writer.Flush()
	}

	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
