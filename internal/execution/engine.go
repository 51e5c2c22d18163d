package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexalign/internal/config"
	"dexalign/internal/storage"
)

// Gate rejections. Each is a terminal, named outcome; none is retried
// automatically.
var (
	ErrKillSwitchActive    = errors.New("kill switch active")
	ErrModeOff             = errors.New("execution mode off")
	ErrEdgeBelowThreshold  = errors.New("edge below threshold")
	ErrDailyVolumeExceeded = errors.New("daily volume limit")
	ErrMaxConcurrentOrders = errors.New("max concurrent orders")
	ErrSizeExceedsCap      = errors.New("size exceeds max order cap")
)

// Outcome statuses reported to callers.
const (
	StatusFilled    = "filled"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
	StatusDuplicate = "duplicate"
)

// Intent is one validated trade request. IdempotencyKey is the
// de-duplication identity.
type Intent struct {
	Symbol         string
	Direction      string
	SizeUSDT       decimal.Decimal
	EdgeBps        decimal.Decimal
	RefPrice       decimal.Decimal
	IdempotencyKey string
}

// Result is the terminal outcome of an execution attempt.
type Result struct {
	Success   bool
	TradeID   int64
	Mode      string
	Status    string
	Message   string
	FillPrice *decimal.Decimal
	PnlUSDT   *decimal.Decimal
}

// Decision is one evaluation-cycle verdict handed to the engine. It is
// persisted on every cycle, traded or not.
type Decision struct {
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
	RefPrice          decimal.Decimal
	IdempotencyKey    string
}

// OrderPlacer is the external capability that places a live order. The
// engine calls it, awaits the fill, and reflects the outcome into the trade
// row; it never constructs or signs anything itself.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, venue, symbol, side string, amountUSDT decimal.Decimal) (decimal.Decimal, error)
}

// Engine turns intents into at-most-once, risk-limited order attempts with a
// durable audit trail.
type Engine struct {
	cfg       config.ExecutionConfig
	trades    storage.TradeStore
	decisions storage.DecisionStore
	placer    OrderPlacer
	logger    zerolog.Logger

	mu       sync.Mutex
	active   map[int64]struct{}
	reserved int
}

// New constructs the execution engine. placer may be nil; live executions
// then fail closed.
func New(cfg config.ExecutionConfig, trades storage.TradeStore, decisions storage.DecisionStore, placer OrderPlacer, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		trades:    trades,
		decisions: decisions,
		placer:    placer,
		logger:    logger.With().Str("component", "execution").Logger(),
		active:    make(map[int64]struct{}),
	}
}

// Reconcile rebuilds the in-memory active-order set from the durable store's
// pending rows. Must run once before the engine accepts work: a process
// restart must not forget in-flight orders.
func (e *Engine) Reconcile(ctx context.Context) error {
	pending, err := e.trades.ListPendingTrades(ctx)
	if err != nil {
		return fmt.Errorf("reconcile pending trades: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, trade := range pending {
		e.active[trade.ID] = struct{}{}
	}
	if len(pending) > 0 {
		e.logger.Warn().Int("count", len(pending)).Msg("recovered in-flight orders from store")
	}
	return nil
}

// Validate applies the risk gates in precedence order, short-circuiting on
// the first failure.
func (e *Engine) Validate(ctx context.Context, intent Intent) error {
	if e.cfg.KillSwitch {
		return ErrKillSwitchActive
	}
	if e.cfg.Mode == config.ModeOff {
		return ErrModeOff
	}
	if intent.EdgeBps.LessThan(decimal.NewFromFloat(e.cfg.MinEdgeBps)) {
		return fmt.Errorf("%w: %s bps < %v bps", ErrEdgeBelowThreshold, intent.EdgeBps.StringFixed(2), e.cfg.MinEdgeBps)
	}

	volume, err := e.trades.SumVolumeSince(ctx, startOfUTCDay(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("query daily volume: %w", err)
	}
	if volume.Add(intent.SizeUSDT).GreaterThan(decimal.NewFromFloat(e.cfg.MaxDailyVolumeUSDT)) {
		return fmt.Errorf("%w: %s + %s > %v USDT", ErrDailyVolumeExceeded, volume.String(), intent.SizeUSDT.String(), e.cfg.MaxDailyVolumeUSDT)
	}

	e.mu.Lock()
	inFlight := len(e.active) + e.reserved
	e.mu.Unlock()
	if inFlight >= e.cfg.MaxConcurrentOrders {
		return fmt.Errorf("%w: %d active", ErrMaxConcurrentOrders, inFlight)
	}

	return nil
}

// reserveSlot atomically re-checks the concurrency cap and claims a slot, so
// two overlapping executions at cap-1 cannot both pass the gate. The slot is
// bound to the inserted row or released on rejection.
func (e *Engine) reserveSlot() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inFlight := len(e.active) + e.reserved
	if inFlight >= e.cfg.MaxConcurrentOrders {
		return fmt.Errorf("%w: %d active", ErrMaxConcurrentOrders, inFlight)
	}
	e.reserved++
	return nil
}

func (e *Engine) releaseSlot() {
	e.mu.Lock()
	e.reserved--
	e.mu.Unlock()
}

// Execute runs the full gate-insert-dispatch sequence for one intent. The
// unique constraint on idempotency_key is the authoritative at-most-once
// boundary; the lookup before insert is only a fast path.
func (e *Engine) Execute(ctx context.Context, intent Intent) (Result, error) {
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = uuid.NewString()
	}

	if existing, err := e.trades.GetTradeByIdempotencyKey(ctx, intent.IdempotencyKey); err == nil && existing != nil {
		return Result{
			Success: false,
			TradeID: existing.ID,
			Mode:    e.cfg.Mode,
			Status:  StatusDuplicate,
			Message: fmt.Sprintf("idempotency key %s already executed", intent.IdempotencyKey),
		}, nil
	} else if err != nil && !errors.Is(err, storage.ErrTradeNotFound) {
		return Result{}, fmt.Errorf("idempotency lookup: %w", err)
	}

	if err := e.Validate(ctx, intent); err != nil {
		return Result{
			Success: false,
			Mode:    e.cfg.Mode,
			Status:  StatusRejected,
			Message: err.Error(),
		}, err
	}

	if err := e.reserveSlot(); err != nil {
		return Result{
			Success: false,
			Mode:    e.cfg.Mode,
			Status:  StatusRejected,
			Message: err.Error(),
		}, err
	}

	// Size cap is enforced again here even though decision evaluation already
	// clamps: a manual HTTP caller bypasses that clamp.
	if intent.SizeUSDT.GreaterThan(decimal.NewFromFloat(e.cfg.MaxOrderUSDT)) {
		e.releaseSlot()
		err := fmt.Errorf("%w: %s > %v USDT", ErrSizeExceedsCap, intent.SizeUSDT.String(), e.cfg.MaxOrderUSDT)
		return Result{
			Success: false,
			Mode:    e.cfg.Mode,
			Status:  StatusRejected,
			Message: err.Error(),
		}, err
	}

	id, err := e.trades.InsertTrade(ctx, storage.TradeRecord{
		TS:             time.Now().UTC(),
		Symbol:         intent.Symbol,
		Direction:      intent.Direction,
		SizeUSDT:       intent.SizeUSDT,
		EdgeBps:        intent.EdgeBps,
		Mode:           e.cfg.Mode,
		Status:         storage.TradePending,
		IdempotencyKey: intent.IdempotencyKey,
	})
	if errors.Is(err, storage.ErrDuplicateIdempotencyKey) {
		e.releaseSlot()
		return Result{
			Success: false,
			Mode:    e.cfg.Mode,
			Status:  StatusDuplicate,
			Message: fmt.Sprintf("idempotency key %s already executed", intent.IdempotencyKey),
		}, nil
	}
	if err != nil {
		e.releaseSlot()
		return Result{}, fmt.Errorf("insert pending trade: %w", err)
	}

	e.mu.Lock()
	e.reserved--
	e.active[id] = struct{}{}
	e.mu.Unlock()

	var result Result
	switch e.cfg.Mode {
	case config.ModePaper:
		result = e.executePaper(ctx, id, intent)
	case config.ModeLive:
		result = e.executeLive(ctx, id, intent)
	default:
		// Mode was validated above; reaching here means the configuration
		// mutated mid-flight, which the immutability rule forbids.
		result = e.closeFailed(ctx, id, intent, "unsupported execution mode")
	}

	return result, nil
}

// EvaluateAndExecute is the periodic entry point. It always persists the
// decision, traded or not, so the audit trail includes why nothing happened.
func (e *Engine) EvaluateAndExecute(ctx context.Context, decision Decision) (Result, error) {
	result := Result{Success: false, Mode: e.cfg.Mode, Status: StatusRejected}
	var execErr error

	if decision.WouldTrade {
		size := decision.SuggestedSizeUSDT
		orderCap := decimal.NewFromFloat(e.cfg.MaxOrderUSDT)
		if size.GreaterThan(orderCap) {
			size = orderCap
		}

		key := decision.IdempotencyKey
		if key == "" {
			key = uuid.NewString()
		}

		result, execErr = e.Execute(ctx, Intent{
			Symbol:         decision.Symbol,
			Direction:      decision.Direction,
			SizeUSDT:       size,
			EdgeBps:        decision.EdgeAfterCostsBps,
			RefPrice:       decision.RefPrice,
			IdempotencyKey: key,
		})
		if execErr != nil {
			e.logger.Info().Err(execErr).Str("symbol", decision.Symbol).Msg("trade gated")
		}
	} else {
		result.Message = "decision did not recommend a trade"
	}

	ts := decision.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	record := storage.DecisionRecord{
		TS:                ts,
		Symbol:            decision.Symbol,
		CexBid:            decision.CexBid,
		CexAsk:            decision.CexAsk,
		DexPrice:          decision.DexPrice,
		RawSpreadBps:      decision.RawSpreadBps,
		EdgeAfterCostsBps: decision.EdgeAfterCostsBps,
		WouldTrade:        decision.WouldTrade,
		Direction:         decision.Direction,
		SuggestedSizeUSDT: decision.SuggestedSizeUSDT,
		Executed:          result.Status == StatusFilled,
	}
	if _, err := e.decisions.InsertDecision(ctx, record); err != nil {
		e.logger.Error().Err(err).Str("symbol", decision.Symbol).Msg("failed to persist decision record")
	}

	return result, execErr
}

// Status summarises the engine state for the HTTP surface.
type Status struct {
	Mode               string          `json:"mode"`
	KillSwitch         bool            `json:"kill_switch"`
	ActiveOrders       int             `json:"active_orders"`
	DailyVolumeUSDT    decimal.Decimal `json:"daily_volume_usdt"`
	MaxOrderUSDT       float64         `json:"max_order_usdt"`
	MaxDailyVolumeUSDT float64         `json:"max_daily_volume_usdt"`
	MinEdgeBps         float64         `json:"min_edge_bps"`
	MaxSlippageBps     float64         `json:"max_slippage_bps"`
	MaxConcurrent      int             `json:"max_concurrent_orders"`
}

// CurrentStatus reports mode, limits, active orders, and today's volume.
func (e *Engine) CurrentStatus(ctx context.Context) (Status, error) {
	volume, err := e.trades.SumVolumeSince(ctx, startOfUTCDay(time.Now().UTC()))
	if err != nil {
		return Status{}, fmt.Errorf("query daily volume: %w", err)
	}

	e.mu.Lock()
	activeCount := len(e.active)
	e.mu.Unlock()

	return Status{
		Mode:               e.cfg.Mode,
		KillSwitch:         e.cfg.KillSwitch,
		ActiveOrders:       activeCount,
		DailyVolumeUSDT:    volume,
		MaxOrderUSDT:       e.cfg.MaxOrderUSDT,
		MaxDailyVolumeUSDT: e.cfg.MaxDailyVolumeUSDT,
		MinEdgeBps:         e.cfg.MinEdgeBps,
		MaxSlippageBps:     e.cfg.MaxSlippageBps,
		MaxConcurrent:      e.cfg.MaxConcurrentOrders,
	}, nil
}

func startOfUTCDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
