package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"dexalign/internal/storage"
)

const defaultExportPoints = 5000

// Export renders decision history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = defaultExportPoints
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	decisions, err := store.ListDecisionsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		a.Logger.Info().Msg("no decisions found for export window")
		return nil
	}

	downsampled := downsampleDecisions(decisions, opts.MaxPoints)
	a.Logger.Info().Int("total", len(decisions)).Int("exported", len(downsampled)).Msg("exporting decisions")

	if opts.CSVPath != "" {
		if err := writeDecisionsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeDecisionsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleDecisions(decisions []storage.DecisionRecord, max int) []storage.DecisionRecord {
	if max <= 0 || len(decisions) <= max {
		return decisions
	}

	result := make([]storage.DecisionRecord, 0, max)
	step := float64(len(decisions)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(decisions) {
			idx = len(decisions) - 1
		}
		result = append(result, decisions[idx])
	}
	return result
}

func writeDecisionsCSV(path string, decisions []storage.DecisionRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"ts", "symbol", "cex_bid", "cex_ask", "dex_price", "raw_spread_bps", "edge_after_costs_bps", "would_trade", "direction", "suggested_size_usdt", "executed"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, decision := range decisions {
		record := []string{
			decision.TS.Format(time.RFC3339),
			decision.Symbol,
			decision.CexBid.String(),
			decision.CexAsk.String(),
			decision.DexPrice.String(),
			decision.RawSpreadBps.String(),
			decision.EdgeAfterCostsBps.String(),
			boolString(decision.WouldTrade),
			decision.Direction,
			decision.SuggestedSizeUSDT.String(),
			boolString(decision.Executed),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeDecisionsPNG(path string, decisions []storage.DecisionRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(decisions))
	spread := make([]float64, len(decisions))
	edge := make([]float64, len(decisions))

	for i, decision := range decisions {
		x[i] = decision.TS
		spread[i] = decision.RawSpreadBps.InexactFloat64()
		edge[i] = decision.EdgeAfterCostsBps.InexactFloat64()
	}

	bpsFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "bps",
			ValueFormatter: bpsFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Raw spread",
				XValues: x,
				YValues: spread,
			},
			chart.TimeSeries{
				Name:    "Edge after costs",
				XValues: x,
				YValues: edge,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
