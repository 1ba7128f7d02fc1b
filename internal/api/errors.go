package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/atmx/prediction-ledger/internal/model"
)

var statusByError = []struct {
	err    error
	status int
}{
	{model.ErrEventNotFound, http.StatusNotFound},
	{model.ErrFundNotFound, http.StatusNotFound},
	{model.ErrTradeNotFound, http.StatusNotFound},
	{model.ErrNotOwner, http.StatusForbidden},
	{model.ErrDepositTooLow, http.StatusPaymentRequired},
	{model.ErrAtLeastTwoOutcome, http.StatusBadRequest},
	{model.ErrAtLeast100Share, http.StatusBadRequest},
	{model.ErrNotDivisibleBy100, http.StatusBadRequest},
	{model.ErrMoreThanOneSupply, http.StatusBadRequest},
	{model.ErrWrongEventOutCome, http.StatusBadRequest},
	{model.ErrResolveDateNotMatch, http.StatusConflict},
	{model.ErrTradeNotAvailable, http.StatusConflict},
	{model.ErrTimeExpired, http.StatusConflict},
	{model.ErrNotEnoughShare, http.StatusConflict},
	{model.ErrOutOfSupply, http.StatusConflict},
	{model.ErrNotEnoughBalance, http.StatusConflict},
	{model.ErrNoBodyBetted, http.StatusConflict},
	{model.ErrTraderNotIdentitied, http.StatusConflict},
}

// writeLedgerError maps a service error onto an HTTP response. Unknown
// failures are logged and reported without detail.
func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	code := model.Code(err)
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			slog.Warn("ledger call rejected", "path", r.URL.Path, "code", code, "err", err)
			writeError(w, err.Error(), code, m.status)
			return
		}
	}
	slog.Error("ledger call failed", "path", r.URL.Path, "code", code, "err", err)
	writeError(w, "internal error", code, http.StatusInternalServerError)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, status int) {
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
