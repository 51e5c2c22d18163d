package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of a trade row.
type TradeStatus string

const (
	TradePending TradeStatus = "pending"
	TradeFilled  TradeStatus = "filled"
	TradeFailed  TradeStatus = "failed"
)

// TradeRecord is one order attempt. Rows are created as pending and closed
// exactly once by the execution engine.
type TradeRecord struct {
	ID             int64
	TS             time.Time
	Symbol         string
	Direction      string
	SizeUSDT       decimal.Decimal
	EdgeBps        decimal.Decimal
	Mode           string
	Status         TradeStatus
	FillPrice      *decimal.Decimal
	PnlUSDT        *decimal.Decimal
	Error          *string
	IdempotencyKey string
}

// DecisionRecord is one append-only audit row per evaluation cycle per
// symbol, persisted whether or not a trade followed.
type DecisionRecord struct {
	ID                int64
	TS                time.Time
	Symbol            string
	CexBid            decimal.Decimal
	CexAsk            decimal.Decimal
	DexPrice          decimal.Decimal
	RawSpreadBps      decimal.Decimal
	EdgeAfterCostsBps decimal.Decimal
	WouldTrade        bool
	Direction         string
	SuggestedSizeUSDT decimal.Decimal
	Executed          bool
}

// TradeStats aggregates the trade history for the stats endpoint.
type TradeStats struct {
	TotalTrades   int64
	FilledTrades  int64
	FailedTrades  int64
	WinningTrades int64
	TotalPnlUSDT  decimal.Decimal
}
