// Package api exposes the simulation and the AI advisor over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/advisor"
	"github.com/STTM-NSU/trading-sim/internal/engine"
	"github.com/STTM-NSU/trading-sim/internal/logger"
)

const _corsAllowHeaders = "authorization, x-client-info, apikey, content-type"

type Handler struct {
	engine  *engine.Engine
	advisor *advisor.Service
	hub     http.Handler

	allowedOrigin string
	logger        logger.Logger

	mux *http.ServeMux
}

// NewHandler wires every route. hub serves the websocket endpoint and may be nil.
func NewHandler(e *engine.Engine, a *advisor.Service, hub http.Handler, allowedOrigin string, logger logger.Logger) *Handler {
	h := &Handler{
		engine:        e,
		advisor:       a,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		logger:        logger,
		mux:           http.NewServeMux(),
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /api/assets", h.handleAssets)

	h.mux.HandleFunc("GET /api/orders", h.handleListOrders)
	h.mux.HandleFunc("POST /api/orders", h.handlePlaceOrder)
	h.mux.HandleFunc("GET /api/orders/{id}", h.handleGetOrder)
	h.mux.HandleFunc("POST /api/orders/{id}/cancel", h.handleCancelOrder)
	h.mux.HandleFunc("POST /api/ticks", h.handleTick)

	h.mux.HandleFunc("GET /api/milestones", h.handleMilestones)
	h.mux.HandleFunc("POST /api/milestones/reset", h.handleResetMilestones)
	h.mux.HandleFunc("POST /api/milestones/check", h.handleCheckMilestones)

	h.mux.HandleFunc("GET /api/portfolio", h.handlePortfolio)
	h.mux.HandleFunc("POST /api/portfolio/reset", h.handleResetPortfolio)
	h.mux.HandleFunc("POST /api/risk", h.handleRisk)
	h.mux.HandleFunc("GET /api/orderbook/{symbol}", h.handleOrderBook)

	h.mux.HandleFunc("POST /api/advisor/psychology", h.handlePsychology)
	h.mux.HandleFunc("POST /api/advisor/trends", h.handleTrends)
	h.mux.HandleFunc("POST /api/advisor/chat", h.handleChat)

	if h.hub != nil {
		h.mux.Handle("GET /ws", h.hub)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin)
	w.Header().Set("Access-Control-Allow-Headers", _corsAllowHeaders)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	start := time.Now()
	h.mux.ServeHTTP(w, r)
	h.logger.Debugf("%s %s served in %s", r.Method, r.URL.Path, time.Since(start))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"advisor": h.advisor.Configured(),
	}
	if c, ok := h.hub.(interface{ Clients() int }); ok {
		health["streamClients"] = c.Clients()
	}
	writeJSON(w, http.StatusOK, health)
}
