package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"dexalign/internal/align"
)

// CEXQuote is one timestamped reference sample from the centralized venue.
type CEXQuote struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
	Source    string
}

// Mid returns the bid/ask midpoint, or whichever side is present.
func (q CEXQuote) Mid() decimal.Decimal {
	switch {
	case q.Bid.IsPositive() && q.Ask.IsPositive():
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	case q.Bid.IsPositive():
		return q.Bid
	default:
		return q.Ask
	}
}

// Age reports how stale the sample is relative to now.
func (q CEXQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// CEXQuoteFetcher retrieves the centralized reference quote for a symbol.
type CEXQuoteFetcher interface {
	FetchCEX(ctx context.Context, symbol string) (CEXQuote, error)
}

// DEXQuoteFetcher samples real execution quotes from the decentralized venue
// over a ladder of probe notionals.
type DEXQuoteFetcher interface {
	FetchDEX(ctx context.Context, tokenAddress string, tokenDecimals int) ([]align.Quote, error)
}
