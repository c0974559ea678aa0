package web

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
)

// callerHeader names the account on whose behalf a POST is made.
const callerHeader = "X-Account"

type rateResponse struct {
	Code  string `json:"code"`
	Rate  uint64 `json:"rate"`
	Ratio string `json:"ratio"`
}

type transferRequest struct {
	Contract domain.AccountID `json:"contract"`
	From     domain.AccountID `json:"from"`
	To       domain.AccountID `json:"to"`
	Quantity domain.Amount    `json:"quantity"`
	Memo     string           `json:"memo"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.vault.Status())
}

func (s *Server) handleCollaterals(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.vault.Collaterals())
}

func (s *Server) handleCollateral(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, domain.Validationf("invalid collateral id"))
		return
	}
	c, err := s.vault.Collateral(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	rate, err := s.vault.Rate(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rateResponse{
		Code:  code,
		Rate:  rate,
		Ratio: decimal.NewFromBigInt(new(big.Int).SetUint64(rate), -8).String(),
	})
}

func (s *Server) handleRedemptions(w http.ResponseWriter, r *http.Request) {
	owner := domain.AccountID(mux.Vars(r)["owner"])
	pending, err := s.vault.Redemptions(owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if pending == nil {
		pending = []domain.PendingRedemption{}
	}
	s.writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if s.balances == nil {
		http.Error(w, "balances not available", http.StatusServiceUnavailable)
		return
	}
	account := domain.AccountID(mux.Vars(r)["account"])
	s.writeJSON(w, http.StatusOK, s.balances.Balances(r.Context(), account))
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.vault.Outbox()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cmds == nil {
		cmds = []domain.Command{}
	}
	s.writeJSON(w, http.StatusOK, cmds)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	owner := domain.AccountID(mux.Vars(r)["owner"])
	if err := s.vault.TriggerSettlement(r.Context(), caller(r), owner); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.HarvestIncome(r.Context(), caller(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.Validationf("decode transfer: %v", err))
		return
	}
	if req.From == "" || req.To == "" || req.Contract == "" {
		s.writeError(w, domain.Validationf("contract, from and to are required"))
		return
	}

	if err := s.simulator.Transfer(r.Context(), req.Contract, req.From, req.To, req.Quantity, req.Memo); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func caller(r *http.Request) domain.AccountID {
	return domain.AccountID(r.Header.Get(callerHeader))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLiquidityShortfall), errors.Is(err, domain.ErrState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
