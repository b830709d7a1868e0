package incidentapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/credits"
)

func (a *API) handleCredits(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	balance, err := a.ledger.Balance(r.Context(), account)
	if err != nil {
		a.writeError(w, r, err, "failed to read balance")
		return
	}

	history, err := a.ledger.History(r.Context(), account)
	if err != nil {
		a.writeError(w, r, err, "failed to read transaction history")
		return
	}
	if history == nil {
		history = []credits.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":      account,
		"balance":      balance,
		"tier":         credits.TierFor(balance),
		"transactions": history,
	})
}

type grantRequest struct {
	Amount int    `json:"amount"`
	Ref    string `json:"ref,omitempty"`
}

func (a *API) handleGrant(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
		return
	}

	balance, err := a.ledger.Grant(r.Context(), account, req.Amount, req.Ref)
	if err != nil {
		a.writeError(w, r, err, "failed to grant credits")
		return
	}

	a.logger.Info(r.Context(), "credits granted", "account", account, "amount", req.Amount)
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"balance": balance,
		"tier":    credits.TierFor(balance),
	})
}
