package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrDuplicateIdempotencyKey indicates the unique constraint on
	// trades.idempotency_key rejected an insert. This is the authoritative
	// at-most-once boundary for trade execution.
	ErrDuplicateIdempotencyKey = errors.New("storage: duplicate idempotency key")
	// ErrTradeNotFound indicates no trade row matched.
	ErrTradeNotFound = errors.New("storage: trade not found")
)

const (
	schemaDDL = `CREATE TABLE IF NOT EXISTS trades (
        id              BIGSERIAL PRIMARY KEY,
        ts              TIMESTAMPTZ NOT NULL,
        symbol          TEXT        NOT NULL,
        direction       TEXT        NOT NULL,
        size_usdt       NUMERIC     NOT NULL,
        edge_bps        NUMERIC     NOT NULL,
        mode            TEXT        NOT NULL,
        status          TEXT        NOT NULL,
        fill_price      NUMERIC,
        pnl_usdt        NUMERIC,
        error           TEXT,
        idempotency_key TEXT        NOT NULL UNIQUE
    );
    CREATE TABLE IF NOT EXISTS decisions (
        id                  BIGSERIAL PRIMARY KEY,
        ts                  TIMESTAMPTZ NOT NULL,
        symbol              TEXT        NOT NULL,
        cex_bid             NUMERIC     NOT NULL,
        cex_ask             NUMERIC     NOT NULL,
        dex_price           NUMERIC     NOT NULL,
        raw_spread_bps      NUMERIC     NOT NULL,
        edge_after_costs_bps NUMERIC    NOT NULL,
        would_trade         BOOLEAN     NOT NULL,
        direction           TEXT        NOT NULL,
        suggested_size_usdt NUMERIC     NOT NULL,
        executed            BOOLEAN     NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades (ts DESC);
    CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions (ts DESC);`

	insertTradeSQL = `INSERT INTO trades (
        ts, symbol, direction, size_usdt, edge_bps, mode, status, idempotency_key
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    RETURNING id;`

	getTradeByKeySQL = `SELECT
        id, ts, symbol, direction, size_usdt, edge_bps, mode, status,
        fill_price, pnl_usdt, error, idempotency_key
    FROM trades WHERE idempotency_key = $1;`

	closeTradeSQL = `UPDATE trades
    SET status = $2, fill_price = $3, pnl_usdt = $4, error = $5
    WHERE id = $1 AND status = 'pending';`

	listRecentTradesSQL = `SELECT
        id, ts, symbol, direction, size_usdt, edge_bps, mode, status,
        fill_price, pnl_usdt, error, idempotency_key
    FROM trades
    WHERE ($2 = '' OR symbol = $2)
    ORDER BY ts DESC
    LIMIT $1;`

	listPendingTradesSQL = `SELECT
        id, ts, symbol, direction, size_usdt, edge_bps, mode, status,
        fill_price, pnl_usdt, error, idempotency_key
    FROM trades WHERE status = 'pending' ORDER BY ts;`

	sumVolumeSinceSQL = `SELECT COALESCE(SUM(size_usdt), 0)
    FROM trades
    WHERE ts >= $1 AND status IN ('pending', 'filled');`

	tradeStatsSQL = `SELECT
        COUNT(*),
        COUNT(*) FILTER (WHERE status = 'filled'),
        COUNT(*) FILTER (WHERE status = 'failed'),
        COUNT(*) FILTER (WHERE status = 'filled' AND pnl_usdt > 0),
        COALESCE(SUM(pnl_usdt) FILTER (WHERE status = 'filled'), 0)
    FROM trades;`

	insertDecisionSQL = `INSERT INTO decisions (
        ts, symbol, cex_bid, cex_ask, dex_price, raw_spread_bps,
        edge_after_costs_bps, would_trade, direction, suggested_size_usdt, executed
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    RETURNING id;`

	listRecentDecisionsSQL = `SELECT
        id, ts, symbol, cex_bid, cex_ask, dex_price, raw_spread_bps,
        edge_after_costs_bps, would_trade, direction, suggested_size_usdt, executed
    FROM decisions
    WHERE ($2 = '' OR symbol = $2)
    ORDER BY ts DESC
    LIMIT $1;`

	listDecisionsBetweenSQL = `SELECT
        id, ts, symbol, cex_bid, cex_ask, dex_price, raw_spread_bps,
        edge_after_costs_bps, would_trade, direction, suggested_size_usdt, executed
    FROM decisions
    WHERE ts >= $1 AND ts < $2
    ORDER BY ts;`
)

// TradeStore defines trade persistence used by the execution engine.
type TradeStore interface {
	InsertTrade(ctx context.Context, trade TradeRecord) (int64, error)
	GetTradeByIdempotencyKey(ctx context.Context, key string) (*TradeRecord, error)
	CloseTrade(ctx context.Context, id int64, status TradeStatus, fillPrice, pnl *decimal.Decimal, errMsg *string) error
	ListRecentTrades(ctx context.Context, limit int, symbol string) ([]TradeRecord, error)
	ListPendingTrades(ctx context.Context) ([]TradeRecord, error)
	SumVolumeSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
	Stats(ctx context.Context) (TradeStats, error)
}

// DecisionStore defines decision audit persistence.
type DecisionStore interface {
	InsertDecision(ctx context.Context, decision DecisionRecord) (int64, error)
	ListRecentDecisions(ctx context.Context, limit int, symbol string) ([]DecisionRecord, error)
	ListDecisionsBetween(ctx context.Context, from, to time.Time) ([]DecisionRecord, error)
}

// Store aggregates access to the trades and decisions tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema applies the table definitions idempotently.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaDDL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertTrade inserts a pending trade row. A duplicate idempotency key
// surfaces as ErrDuplicateIdempotencyKey via the unique constraint.
func (s *Store) InsertTrade(ctx context.Context, trade TradeRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertTradeSQL,
		trade.TS,
		trade.Symbol,
		trade.Direction,
		trade.SizeUSDT.String(),
		trade.EdgeBps.String(),
		trade.Mode,
		string(trade.Status),
		trade.IdempotencyKey,
	).Scan(&id)
	if scanErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(scanErr, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateIdempotencyKey
		}
		return 0, fmt.Errorf("insert trade: %w", scanErr)
	}
	return id, nil
}

// GetTradeByIdempotencyKey looks up a trade by its dedup identity.
func (s *Store) GetTradeByIdempotencyKey(ctx context.Context, key string) (*TradeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, getTradeByKeySQL, key)
	if queryErr != nil {
		return nil, fmt.Errorf("get trade by key: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, ErrTradeNotFound
	}
	trade, scanErr := scanTrade(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &trade, nil
}

// CloseTrade moves a pending trade to filled or failed exactly once.
func (s *Store) CloseTrade(ctx context.Context, id int64, status TradeStatus, fillPrice, pnl *decimal.Decimal, errMsg *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var fill, pnlVal, msg interface{}
	if fillPrice != nil {
		fill = fillPrice.String()
	}
	if pnl != nil {
		pnlVal = pnl.String()
	}
	if errMsg != nil {
		msg = *errMsg
	}

	cmdTag, execErr := pool.Exec(ctx, closeTradeSQL, id, string(status), fill, pnlVal, msg)
	if execErr != nil {
		return fmt.Errorf("close trade: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// ListRecentTrades lists trades ordered by descending timestamp, optionally
// filtered by symbol.
func (s *Store) ListRecentTrades(ctx context.Context, limit int, symbol string) ([]TradeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentTradesSQL, limit, symbol)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent trades: %w", queryErr)
	}
	defer rows.Close()
	return collectTrades(rows, limit)
}

// ListPendingTrades returns in-flight rows, used to rebuild the active-order
// set after a restart.
func (s *Store) ListPendingTrades(ctx context.Context) ([]TradeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listPendingTradesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list pending trades: %w", queryErr)
	}
	defer rows.Close()
	return collectTrades(rows, 0)
}

// SumVolumeSince sums pending and filled notional since the given instant.
func (s *Store) SumVolumeSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, err
	}
	var sumStr string
	if scanErr := pool.QueryRow(ctx, sumVolumeSinceSQL, since).Scan(&sumStr); scanErr != nil {
		return decimal.Zero, fmt.Errorf("sum volume since: %w", scanErr)
	}
	sum, convErr := decimal.NewFromString(sumStr)
	if convErr != nil {
		return decimal.Zero, fmt.Errorf("parse volume sum: %w", convErr)
	}
	return sum, nil
}

// Stats aggregates trade counts and realized PnL.
func (s *Store) Stats(ctx context.Context) (TradeStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return TradeStats{}, err
	}
	var stats TradeStats
	var pnlStr string
	if scanErr := pool.QueryRow(ctx, tradeStatsSQL).Scan(
		&stats.TotalTrades,
		&stats.FilledTrades,
		&stats.FailedTrades,
		&stats.WinningTrades,
		&pnlStr,
	); scanErr != nil {
		return TradeStats{}, fmt.Errorf("trade stats: %w", scanErr)
	}
	pnl, convErr := decimal.NewFromString(pnlStr)
	if convErr != nil {
		return TradeStats{}, fmt.Errorf("parse pnl sum: %w", convErr)
	}
	stats.TotalPnlUSDT = pnl
	return stats, nil
}

// InsertDecision appends one audit row.
func (s *Store) InsertDecision(ctx context.Context, decision DecisionRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	scanErr := pool.QueryRow(ctx, insertDecisionSQL,
		decision.TS,
		decision.Symbol,
		decision.CexBid.String(),
		decision.CexAsk.String(),
		decision.DexPrice.String(),
		decision.RawSpreadBps.String(),
		decision.EdgeAfterCostsBps.String(),
		decision.WouldTrade,
		decision.Direction,
		decision.SuggestedSizeUSDT.String(),
		decision.Executed,
	).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("insert decision: %w", scanErr)
	}
	return id, nil
}

// ListRecentDecisions lists decisions ordered by descending timestamp.
func (s *Store) ListRecentDecisions(ctx context.Context, limit int, symbol string) ([]DecisionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentDecisionsSQL, limit, symbol)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent decisions: %w", queryErr)
	}
	defer rows.Close()
	return collectDecisions(rows, limit)
}

// ListDecisionsBetween lists decisions within a time window, ascending.
func (s *Store) ListDecisionsBetween(ctx context.Context, from, to time.Time) ([]DecisionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listDecisionsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list decisions between: %w", queryErr)
	}
	defer rows.Close()
	return collectDecisions(rows, 0)
}

func collectTrades(rows pgx.Rows, capacity int) ([]TradeRecord, error) {
	trades := make([]TradeRecord, 0, capacity)
	for rows.Next() {
		trade, scanErr := scanTrade(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		trades = append(trades, trade)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return trades, nil
}

func collectDecisions(rows pgx.Rows, capacity int) ([]DecisionRecord, error) {
	decisions := make([]DecisionRecord, 0, capacity)
	for rows.Next() {
		decision, scanErr := scanDecision(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		decisions = append(decisions, decision)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return decisions, nil
}

func scanTrade(rows pgx.Rows) (TradeRecord, error) {
	var (
		trade   TradeRecord
		sizeStr string
		edgeStr string
		status  string
		fillStr *string
		pnlStr  *string
		errMsg  *string
	)

	if err := rows.Scan(
		&trade.ID,
		&trade.TS,
		&trade.Symbol,
		&trade.Direction,
		&sizeStr,
		&edgeStr,
		&trade.Mode,
		&status,
		&fillStr,
		&pnlStr,
		&errMsg,
		&trade.IdempotencyKey,
	); err != nil {
		return TradeRecord{}, err
	}

	size, err := decimal.NewFromString(sizeStr)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("parse size: %w", err)
	}
	edge, err := decimal.NewFromString(edgeStr)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("parse edge: %w", err)
	}
	trade.SizeUSDT = size
	trade.EdgeBps = edge
	trade.Status = TradeStatus(status)
	trade.Error = errMsg

	if fillStr != nil {
		fill, convErr := decimal.NewFromString(*fillStr)
		if convErr != nil {
			return TradeRecord{}, fmt.Errorf("parse fill price: %w", convErr)
		}
		trade.FillPrice = &fill
	}
	if pnlStr != nil {
		pnl, convErr := decimal.NewFromString(*pnlStr)
		if convErr != nil {
			return TradeRecord{}, fmt.Errorf("parse pnl: %w", convErr)
		}
		trade.PnlUSDT = &pnl
	}

	return trade, nil
}

func scanDecision(rows pgx.Rows) (DecisionRecord, error) {
	var (
		decision DecisionRecord
		bidStr   string
		askStr   string
		dexStr   string
		rawStr   string
		edgeStr  string
		sizeStr  string
	)

	if err := rows.Scan(
		&decision.ID,
		&decision.TS,
		&decision.Symbol,
		&bidStr,
		&askStr,
		&dexStr,
		&rawStr,
		&edgeStr,
		&decision.WouldTrade,
		&decision.Direction,
		&sizeStr,
		&decision.Executed,
	); err != nil {
		return DecisionRecord{}, err
	}

	fields := []struct {
		src string
		dst *decimal.Decimal
	}{
		{bidStr, &decision.CexBid},
		{askStr, &decision.CexAsk},
		{dexStr, &decision.DexPrice},
		{rawStr, &decision.RawSpreadBps},
		{edgeStr, &decision.EdgeAfterCostsBps},
		{sizeStr, &decision.SuggestedSizeUSDT},
	}
	for _, f := range fields {
		value, convErr := decimal.NewFromString(f.src)
		if convErr != nil {
			return DecisionRecord{}, fmt.Errorf("parse decision field: %w", convErr)
		}
		*f.dst = value
	}

	return decision, nil
}
