package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexalign/internal/execution"
	"dexalign/internal/storage"
)

const defaultHistoryLimit = 50

// ExecutionAPI serves the execution engine's HTTP surface.
type ExecutionAPI struct {
	engine *execution.Engine
	trades storage.TradeStore
	logger zerolog.Logger
}

// NewExecutionAPI builds the execution listener on the given address.
func NewExecutionAPI(addr string, engine *execution.Engine, trades storage.TradeStore, logger zerolog.Logger) *Server {
	api := &ExecutionAPI{
		engine: engine,
		trades: trades,
		logger: logger.With().Str("component", "execution_api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", api.handleHealth)
	mux.HandleFunc("GET /status", api.handleStatus)
	mux.HandleFunc("GET /history", api.handleHistory)
	mux.HandleFunc("GET /stats", api.handleStats)
	mux.HandleFunc("POST /execute", api.handleExecute)

	return newServer(addr, mux, api.logger)
}

func (a *ExecutionAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *ExecutionAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.engine.CurrentStatus(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("status query failed")
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *ExecutionAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	symbol := r.URL.Query().Get("symbol")

	trades, err := a.trades.ListRecentTrades(r.Context(), limit, symbol)
	if err != nil {
		a.logger.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	out := make([]map[string]any, 0, len(trades))
	for _, trade := range trades {
		row := map[string]any{
			"id":              trade.ID,
			"ts":              trade.TS.Format(time.RFC3339),
			"symbol":          trade.Symbol,
			"direction":       trade.Direction,
			"size_usdt":       trade.SizeUSDT.String(),
			"edge_bps":        trade.EdgeBps.String(),
			"mode":            trade.Mode,
			"status":          string(trade.Status),
			"idempotency_key": trade.IdempotencyKey,
		}
		if trade.FillPrice != nil {
			row["fill_price"] = trade.FillPrice.String()
		}
		if trade.PnlUSDT != nil {
			row["pnl_usdt"] = trade.PnlUSDT.String()
		}
		if trade.Error != nil {
			row["error"] = *trade.Error
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

func (a *ExecutionAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.trades.Stats(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("stats query failed")
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_trades":   stats.TotalTrades,
		"filled_trades":  stats.FilledTrades,
		"failed_trades":  stats.FailedTrades,
		"winning_trades": stats.WinningTrades,
		"total_pnl_usdt": stats.TotalPnlUSDT.String(),
	})
}

type executeRequest struct {
	Symbol         string  `json:"symbol"`
	Direction      string  `json:"direction"`
	SizeUSDT       float64 `json:"size_usdt"`
	EdgeBps        float64 `json:"edge_bps"`
	IdempotencyKey string  `json:"idempotency_key"`
}

func (a *ExecutionAPI) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" || req.Direction == "" || req.SizeUSDT <= 0 {
		writeError(w, http.StatusBadRequest, "symbol, direction, and positive size_usdt required")
		return
	}

	result, err := a.engine.Execute(r.Context(), execution.Intent{
		Symbol:         req.Symbol,
		Direction:      req.Direction,
		SizeUSDT:       decimal.NewFromFloat(req.SizeUSDT),
		EdgeBps:        decimal.NewFromFloat(req.EdgeBps),
		IdempotencyKey: req.IdempotencyKey,
	})

	status := http.StatusOK
	switch {
	case errors.Is(err, execution.ErrKillSwitchActive), errors.Is(err, execution.ErrModeOff):
		status = http.StatusForbidden
	case err != nil && result.Status == "":
		a.logger.Error().Err(err).Msg("execute failed")
		writeError(w, http.StatusInternalServerError, "execution failed")
		return
	}

	payload := map[string]any{
		"success":  result.Success,
		"trade_id": result.TradeID,
		"mode":     result.Mode,
		"status":   result.Status,
		"message":  result.Message,
	}
	if result.FillPrice != nil {
		payload["fill_price"] = result.FillPrice.String()
	}
	if result.PnlUSDT != nil {
		payload["pnl_usdt"] = result.PnlUSDT.String()
	}
	writeJSON(w, status, payload)
}
