package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shelterflex/rent-service/internal/app"
	"github.com/shelterflex/rent-service/internal/domain"
	"github.com/shelterflex/rent-service/internal/store"
)

// --- Rewards ---

func (h *Handler) CreateRewardHandler(w http.ResponseWriter, r *http.Request) {
	var req app.CreateRewardRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	input, err := app.ValidateCreateReward(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reward, err := h.service.CreateReward(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, reward)
}

func (h *Handler) ListRewardsHandler(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.ListRewards(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"rewards": rewards, "total": len(rewards)})
}

func (h *Handler) UpdateRewardStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reward, err := h.service.UpdateRewardStatus(r.Context(), chi.URLParam(r, "rewardID"), domain.RewardStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, reward)
}

func (h *Handler) MarkRewardPaidHandler(w http.ResponseWriter, r *http.Request) {
	var req app.MarkRewardPaidRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	input, err := app.ValidateMarkRewardPaid(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	payout, err := h.service.MarkRewardPaid(r.Context(), chi.URLParam(r, "rewardID"), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if payout.Receipt.Sent {
		status = http.StatusOK
	}
	writeData(w, status, map[string]any{
		"reward": payout.Reward,
		"receipt": receiptResponse{
			OutboxID: payout.Receipt.OutboxID,
			TxID:     payout.Receipt.TxID,
			Status:   payout.Receipt.Status,
		},
	})
}

// --- Outbox ---

// OutboxItemView is the admin representation of an outbox item.
type OutboxItemView struct {
	ID          string                `json:"id"`
	TxType      domain.TxType         `json:"txType"`
	TxID        string                `json:"txId"`
	ExternalRef string                `json:"externalRef"`
	Status      domain.OutboxStatus   `json:"status"`
	Attempts    int                   `json:"attempts"`
	LastError   *string               `json:"lastError"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
	Payload     domain.ReceiptPayload `json:"payload,omitempty"`
}

func newOutboxItemView(item domain.OutboxItem) OutboxItemView {
	return OutboxItemView{
		ID:          item.ID,
		TxType:      item.TxType,
		TxID:        item.TxID,
		ExternalRef: item.CanonicalExternalRef,
		Status:      item.Status,
		Attempts:    item.Attempts,
		LastError:   item.LastError,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
		Payload:     item.Payload,
	}
}

func (h *Handler) ListOutboxHandler(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultOutboxListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, domain.NewValidationError("Limit must be between 1 and 1000"))
			return
		}
		limit = parsed
	}
	status := domain.OutboxStatus(r.URL.Query().Get("status"))

	items, err := h.service.ListOutbox(r.Context(), status, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]OutboxItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newOutboxItemView(item))
	}
	h.logger.Info("outbox items retrieved", "count", len(views), "status", statusOrAll(status))
	writeData(w, http.StatusOK, map[string]any{"items": views, "total": len(views)})
}

func (h *Handler) RetryOutboxHandler(w http.ResponseWriter, r *http.Request) {
	sent, item, err := h.service.RetryOutboxItem(r.Context(), chi.URLParam(r, "outboxID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	message := "Retry failed, item remains in failed state"
	if sent {
		message = "Retry successful, receipt written to chain"
	}
	writeData(w, http.StatusOK, map[string]any{
		"sent":    sent,
		"item":    newOutboxItemView(*item),
		"message": message,
	})
}

func (h *Handler) RetryAllOutboxHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RetryAllOutbox(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"message":   fmt.Sprintf("Retried %d items: %d succeeded, %d failed", result.Succeeded+result.Failed, result.Succeeded, result.Failed),
	})
}

func statusOrAll(status domain.OutboxStatus) string {
	if status == "" {
		return "all"
	}
	return string(status)
}
