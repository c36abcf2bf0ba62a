package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/STTM-NSU/trading-sim/internal/engine"
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/STTM-NSU/trading-sim/internal/risk"
)

type tickRequest struct {
	AssetID string  `json:"assetId"`
	Price   float64 `json:"price"`
}

type ordersResponse struct {
	Orders []model.Order `json:"orders"`
}

type baselineRequest struct {
	Baseline float64 `json:"baseline"`
}

type valueRequest struct {
	Value float64 `json:"value"`
}

type reachedResponse struct {
	Reached []model.Milestone `json:"reached"`
}

type cashRequest struct {
	Cash float64 `json:"cash"`
}

type portfolioResponse struct {
	Portfolio  model.Snapshot   `json:"portfolio"`
	Risk       model.RiskReport `json:"risk"`
	TotalValue float64          `json:"totalValue"`
	Profit     float64          `json:"profit"` // percent against starting cash
}

func (h *Handler) handleAssets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Assets())
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.Orders(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ordersResponse{Orders: nonNilOrders(orders)})
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req engine.OrderRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.PlaceOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.Order(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleCancelOrder answers 200 with the unchanged list for unknown or terminal orders.
func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.CancelOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ordersResponse{Orders: nonNilOrders(orders)})
}

func (h *Handler) handleTick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.Tick(r.Context(), req.AssetID, req.Price)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res.Orders = nonNilOrders(res.Orders)
	res.Filled = nonNilOrders(res.Filled)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleMilestones(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.Milestones(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleResetMilestones(w http.ResponseWriter, r *http.Request) {
	var req baselineRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	state, err := h.engine.ResetMilestones(r.Context(), req.Baseline)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleCheckMilestones(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reached, err := h.engine.CheckMilestones(r.Context(), req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if reached == nil {
		reached = []model.Milestone{}
	}
	writeJSON(w, http.StatusOK, reachedResponse{Reached: reached})
}

func (h *Handler) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	snap := h.engine.Portfolio()
	writeJSON(w, http.StatusOK, portfolioResponse{
		Portfolio:  snap,
		Risk:       risk.Analyze(snap),
		TotalValue: snap.TotalValue(),
		Profit:     h.engine.Profit(),
	})
}

func (h *Handler) handleResetPortfolio(w http.ResponseWriter, r *http.Request) {
	var req cashRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.engine.ResetAccount(r.Context(), req.Cash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolioResponse{
		Portfolio:  snap,
		Risk:       risk.Analyze(snap),
		TotalValue: snap.TotalValue(),
		Profit:     h.engine.Profit(),
	})
}

// handleRisk scores a snapshot supplied by the client instead of the simulated account.
func (h *Handler) handleRisk(w http.ResponseWriter, r *http.Request) {
	var snap model.Snapshot
	if err := decode(w, r, &snap); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, risk.Analyze(snap))
}

func (h *Handler) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	levels := 0
	if raw := r.URL.Query().Get("levels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			h.writeError(w, r, fmt.Errorf("%w: levels must be between 1 and 100", errBadRequest))
			return
		}
		levels = n
	}
	book, err := h.engine.OrderBook(r.PathValue("symbol"), levels)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func nonNilOrders(orders []model.Order) []model.Order {
	if orders == nil {
		return []model.Order{}
	}
	return orders
}
