package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const cexQuotePath = "/quotes"

// CEXOptions parameterise the centralized quote fetcher.
type CEXOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// CEX fetches reference quotes from the upstream feed service.
type CEX struct {
	opts    CEXOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCEX constructs a centralized quote fetcher.
func NewCEX(opts CEXOptions, logger zerolog.Logger) *CEX {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &CEX{
		opts:    opts,
		logger:  logger.With().Str("component", "cex_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type cexQuoteResponse struct {
	Symbol    string `json:"symbol"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	Timestamp string `json:"timestamp_utc"`
	Source    string `json:"source"`
}

// FetchCEX retrieves the latest bid/ask reference sample for a symbol.
func (c *CEX) FetchCEX(ctx context.Context, symbol string) (CEXQuote, error) {
	if c.baseURL == "" {
		return CEXQuote{}, errors.New("feed base url not configured")
	}
	if symbol == "" {
		return CEXQuote{}, errors.New("symbol required")
	}

	endpoint := c.baseURL + cexQuotePath + "/" + url.PathEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CEXQuote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return CEXQuote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return CEXQuote{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return CEXQuote{}, fmt.Errorf("feed returned status %d: %s", resp.StatusCode, truncate(payload, 200))
	}

	var body cexQuoteResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return CEXQuote{}, fmt.Errorf("decode feed response: %w", err)
	}

	bid, err := decimal.NewFromString(body.Bid)
	if err != nil {
		return CEXQuote{}, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := decimal.NewFromString(body.Ask)
	if err != nil {
		return CEXQuote{}, fmt.Errorf("parse ask: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, body.Timestamp)
	if err != nil {
		return CEXQuote{}, fmt.Errorf("parse timestamp: %w", err)
	}

	quote := CEXQuote{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Timestamp: ts.UTC(),
		Source:    body.Source,
	}
	if !quote.Mid().IsPositive() {
		return CEXQuote{}, errors.New("feed returned non-positive quote")
	}
	return quote, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}

var _ CEXQuoteFetcher = (*CEX)(nil)
