/**
 * @description
 * HTTP handlers for the rent service. Handlers decode the request, run validation, call the
 * application service and write the {success, data | error} envelope.
 *
 * @dependencies
 * - internal/app: business flows and request validation.
 * - internal/domain: models and error types.
 */

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shelterflex/rent-service/internal/app"
	"github.com/shelterflex/rent-service/internal/domain"
)

const serviceName = "shelterflex-backend"

// Handler holds the application service the handlers use.
type Handler struct {
	service    *app.Service
	logger     *slog.Logger
	ledgerName string
}

// NewHandler creates the handlers. ledgerName is reported by the balance routes.
func NewHandler(service *app.Service, logger *slog.Logger, ledgerName string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger, ledgerName: ledgerName}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": serviceName})
}

func (h *Handler) SorobanConfigHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.service.LedgerConfig()
	var contractID *string
	if cfg.ContractID != "" {
		contractID = &cfg.ContractID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rpcUrl":            cfg.RPCURL,
		"networkPassphrase": cfg.NetworkPassphrase,
		"contractId":        contractID,
	})
}

// --- Deals ---

func (h *Handler) CreateDealHandler(w http.ResponseWriter, r *http.Request) {
	var req app.CreateDealRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cfg := h.service.Config()
	input, err := app.ValidateCreateDeal(req, cfg.AllowedTermMonths, cfg.MinDepositPercent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	deal, err := h.service.CreateDeal(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, deal)
}

func (h *Handler) ListDealsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize, err := app.ParsePagination(q.Get("page"), q.Get("pageSize"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.service.ListDeals(r.Context(), domain.DealFilters{
		TenantID:   q.Get("tenantId"),
		LandlordID: q.Get("landlordId"),
		Status:     domain.DealStatus(q.Get("status")),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (h *Handler) GetDealHandler(w http.ResponseWriter, r *http.Request) {
	deal, err := h.service.GetDeal(r.Context(), chi.URLParam(r, "dealID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, deal)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateDealStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	deal, err := h.service.UpdateDealStatus(r.Context(), chi.URLParam(r, "dealID"), domain.DealStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, deal)
}

func (h *Handler) UpdateScheduleItemHandler(w http.ResponseWriter, r *http.Request) {
	period, err := strconv.Atoi(chi.URLParam(r, "period"))
	if err != nil || period < 1 {
		h.writeError(w, r, domain.NewValidationError("Invalid period", domain.FieldError{Field: "period", Message: "period must be a positive integer"}))
		return
	}
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	deal, err := h.service.UpdateScheduleItemStatus(r.Context(), chi.URLParam(r, "dealID"), period, domain.ScheduleItemStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, deal)
}

// --- Payments ---

type receiptResponse struct {
	OutboxID string              `json:"outboxId"`
	TxID     string              `json:"txId"`
	Status   domain.OutboxStatus `json:"status"`
	Message  string              `json:"message,omitempty"`
}

// ConfirmPaymentHandler answers 200 when the receipt reached the ledger and 202 when it is
// queued for retry.
func (h *Handler) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req app.ConfirmPaymentRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	input, err := app.ValidateConfirmPayment(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	receipt, err := h.service.ConfirmPayment(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if receipt.Sent {
		status = http.StatusOK
	}
	writeData(w, status, receiptResponse{
		OutboxID: receipt.OutboxID,
		TxID:     receipt.TxID,
		Status:   receipt.Status,
		Message:  receipt.Message(),
	})
}

// --- Balances ---

type amountRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	balance, err := h.service.GetBalance(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cfg := h.service.LedgerConfig()
	writeData(w, http.StatusOK, map[string]any{
		"account":    account,
		"balance":    strconv.FormatInt(balance, 10),
		"contractId": cfg.ContractID,
		"adapter":    h.ledgerName,
		"network":    cfg.NetworkPassphrase,
	})
}

func (h *Handler) CreditBalanceHandler(w http.ResponseWriter, r *http.Request) {
	h.adjustBalance(w, r, "credited", h.service.Credit)
}

func (h *Handler) DebitBalanceHandler(w http.ResponseWriter, r *http.Request) {
	h.adjustBalance(w, r, "debited", h.service.Debit)
}

func (h *Handler) adjustBalance(w http.ResponseWriter, r *http.Request, verb string, apply func(ctx context.Context, account, amount string) (int64, error)) {
	var req amountRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	account := chi.URLParam(r, "account")
	balance, err := apply(r.Context(), account, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"account":    account,
		verb:         req.Amount,
		"newBalance": strconv.FormatInt(balance, 10),
		"contractId": h.service.LedgerConfig().ContractID,
		"adapter":    h.ledgerName,
	})
}
