package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/STTM-NSU/trading-sim/internal/advisor"
	"github.com/STTM-NSU/trading-sim/internal/engine"
	"github.com/STTM-NSU/trading-sim/internal/ledger"
	"github.com/STTM-NSU/trading-sim/internal/market"
	"github.com/STTM-NSU/trading-sim/internal/milestone"
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/STTM-NSU/trading-sim/internal/portfolio"
	"github.com/bytedance/sonic"
)

const _maxBodyBytes = 1 << 20

var errBadRequest = errors.New("invalid payload")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"can't encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorf("%s: %s %s failed", err, r.Method, r.URL.Path)
	} else {
		h.logger.Debugf("%s: %s %s rejected", err, r.Method, r.URL.Path)
	}
	writeJSON(w, status, errorResponse{Error: message(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, advisor.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, advisor.ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrOrderNotFound), errors.Is(err, market.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, advisor.ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidOrder),
		errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, milestone.ErrInvalidBaseline),
		errors.Is(err, portfolio.ErrInsufficientFunds),
		errors.Is(err, portfolio.ErrNegativeCash),
		errors.Is(err, engine.ErrNothingToSell):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// message keeps upstream details out of the user-facing text for the two upstream statuses
// the UI reacts to.
func message(err error) string {
	switch {
	case errors.Is(err, advisor.ErrRateLimited):
		return advisor.ErrRateLimited.Error()
	case errors.Is(err, advisor.ErrPaymentRequired):
		return advisor.ErrPaymentRequired.Error()
	default:
		return err.Error()
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	if err := sonic.ConfigStd.NewDecoder(http.MaxBytesReader(w, r.Body, _maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
