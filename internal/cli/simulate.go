package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateSymbol string
	simulateCex    float64
	simulateQuotes []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟一次对齐评估, 不落库不下单",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol 必须配置")
		}
		if simulateCex <= 0 && len(simulateQuotes) > 0 {
			return errors.New("--cex 必须大于 0")
		}

		cexPrice := decimal.NewFromFloat(simulateCex)
		return getApp().Simulate(simulateSymbol, cexPrice, simulateQuotes)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Symbol to evaluate")
	simulateCmd.Flags().Float64Var(&simulateCex, "cex", 0, "CEX 参考价")
	simulateCmd.Flags().StringArrayVar(&simulateQuotes, "quote", nil, "DEX quote as amountInUsdt:execPrice (repeatable)")
}
