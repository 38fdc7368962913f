/**
 * @description
 * OutboxSender drives outbox items to the ledger. Every attempt ends in exactly one
 * status update: sent on success, failed with the reason otherwise. Ledger failures are
 * expected and never surface as errors; the item simply waits for a retry.
 *
 * @dependencies
 * - golang.org/x/sync/singleflight: collapses concurrent retries of one item.
 * - pkg/ledger: receipt writes.
 * - pkg/rabbitmq: best-effort delivery events.
 *
 * @notes
 * - Send returns a non-nil error only for programmer errors (unknown tx type, a payload that
 *   fails validation). Those are still recorded as a failed attempt first.
 * - sent is terminal. Retry on a sent item returns true without calling the ledger.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shelterflex/rent-service/internal/canonical"
	"github.com/shelterflex/rent-service/internal/domain"
	"github.com/shelterflex/rent-service/internal/store"
	"github.com/shelterflex/rent-service/pkg/ledger"
	"github.com/shelterflex/rent-service/pkg/rabbitmq"
)

var ErrUnknownTxType = errors.New("unknown tx type")

const (
	DefaultMaxAttempts       = 10
	DefaultStalePendingAfter = 120 * time.Second
	maxRetryDelay            = 300 * time.Second
)

// SenderConfig tunes the scheduled retry sweep.
type SenderConfig struct {
	// MaxAttempts stops RetryDue from picking up items that already failed this often.
	// Operator retries ignore it.
	MaxAttempts int
	// StalePendingAfter is how long an item may sit in pending before RetryDue assumes the
	// first send never happened.
	StalePendingAfter time.Duration
}

// RetryResult tallies a batch retry.
type RetryResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped,omitempty"`
}

type OutboxSender struct {
	repo     store.OutboxRepository
	adapter  ledger.Adapter
	events   rabbitmq.Publisher
	logger   *slog.Logger
	cfg      SenderConfig
	inflight singleflight.Group
}

func NewOutboxSender(repo store.OutboxRepository, adapter ledger.Adapter, events rabbitmq.Publisher, logger *slog.Logger, cfg SenderConfig) *OutboxSender {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.StalePendingAfter <= 0 {
		cfg.StalePendingAfter = DefaultStalePendingAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	return &OutboxSender{
		repo:    repo,
		adapter: adapter,
		events:  events,
		logger:  logger,
		cfg:     cfg,
	}
}

// Send attempts one ledger write for item and records the outcome.
func (s *OutboxSender) Send(ctx context.Context, item domain.OutboxItem) (bool, error) {
	log := s.logger.With("outbox_id", item.ID, "tx_type", item.TxType, "tx_id", item.TxID, "attempt", item.Attempts+1)
	log.Info("attempting to send outbox item")

	req, err := buildReceipt(item)
	if err != nil {
		log.Error("outbox item cannot be sent", "error", err)
		if _, updErr := s.record(ctx, item.ID, domain.OutboxStatusFailed, err.Error()); updErr != nil {
			return false, errors.Join(err, updErr)
		}
		return false, err
	}

	if err := s.adapter.RecordReceipt(ctx, req); err != nil {
		log.Warn("failed to send outbox item", "error", err)
		if _, updErr := s.record(ctx, item.ID, domain.OutboxStatusFailed, err.Error()); updErr != nil {
			return false, updErr
		}
		return false, nil
	}

	if _, err := s.record(ctx, item.ID, domain.OutboxStatusSent, ""); err != nil {
		// the ledger has the receipt; a later retry is deduplicated by txId
		return false, err
	}
	log.Info("outbox item sent")
	return true, nil
}

// Retry resends a single item unless it is already sent. Concurrent calls for the same id
// share one attempt.
func (s *OutboxSender) Retry(ctx context.Context, id string) (bool, error) {
	v, err, _ := s.inflight.Do(id, func() (interface{}, error) {
		item, err := s.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrOutboxItemNotFound) {
				return false, domain.NewNotFoundError("Outbox item", id, err)
			}
			return false, err
		}
		if item.Status == domain.OutboxStatusSent {
			s.logger.Info("outbox item already sent, skipping retry", "outbox_id", id)
			return true, nil
		}
		return s.Send(ctx, *item)
	})
	sent, _ := v.(bool)
	return sent, err
}

// RetryAll resends every failed item, oldest first, one at a time.
func (s *OutboxSender) RetryAll(ctx context.Context) (RetryResult, error) {
	failed, err := s.repo.ListByStatus(ctx, domain.OutboxStatusFailed)
	if err != nil {
		return RetryResult{}, fmt.Errorf("list failed outbox items: %w", err)
	}
	return s.retryEach(ctx, failed), nil
}

// RetryDue resends failed items whose backoff has elapsed and pending items that were never
// sent, skipping items that have used up their attempts.
func (s *OutboxSender) RetryDue(ctx context.Context, now time.Time) (RetryResult, error) {
	failed, err := s.repo.ListByStatus(ctx, domain.OutboxStatusFailed)
	if err != nil {
		return RetryResult{}, fmt.Errorf("list failed outbox items: %w", err)
	}
	pending, err := s.repo.ListByStatus(ctx, domain.OutboxStatusPending)
	if err != nil {
		return RetryResult{}, fmt.Errorf("list pending outbox items: %w", err)
	}

	var result RetryResult
	due := make([]domain.OutboxItem, 0, len(failed)+len(pending))
	for _, item := range pending {
		if now.Sub(item.CreatedAt) >= s.cfg.StalePendingAfter {
			due = append(due, item)
		}
	}
	for _, item := range failed {
		if item.Attempts >= s.cfg.MaxAttempts {
			result.Skipped++
			continue
		}
		if now.Before(item.UpdatedAt.Add(RetryDelay(item.Attempts))) {
			continue
		}
		due = append(due, item)
	}
	sortByCreatedAt(due)

	batch := s.retryEach(ctx, due)
	result.Succeeded = batch.Succeeded
	result.Failed = batch.Failed
	return result, nil
}

func (s *OutboxSender) retryEach(ctx context.Context, items []domain.OutboxItem) RetryResult {
	var result RetryResult
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		sent, err := s.Retry(ctx, item.ID)
		if err != nil {
			s.logger.Error("retry failed with error", "outbox_id", item.ID, "error", err)
		}
		if sent {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	return result
}

func sortByCreatedAt(items []domain.OutboxItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

// RetryDelay is the wait after a failure before the sweep tries again: 2^attempts seconds,
// capped at five minutes.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		return time.Second
	}
	if attempts > 9 {
		return maxRetryDelay
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func (s *OutboxSender) record(ctx context.Context, id string, status domain.OutboxStatus, reason string) (*domain.OutboxItem, error) {
	updated, err := s.repo.UpdateStatus(ctx, id, status, reason)
	if err != nil {
		s.logger.Error("failed to record outbox status", "outbox_id", id, "status", status, "error", err)
		return nil, fmt.Errorf("record outbox status: %w", err)
	}

	event := rabbitmq.OutboxEvent{
		OutboxID:   updated.ID,
		TxID:       updated.TxID,
		TxType:     string(updated.TxType),
		Status:     string(updated.Status),
		Attempts:   updated.Attempts,
		OccurredAt: updated.UpdatedAt,
	}
	if updated.LastError != nil {
		event.LastError = *updated.LastError
	}
	if err := s.events.PublishOutboxEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish outbox event", "outbox_id", id, "error", err)
	}
	return updated, nil
}

// buildReceipt turns an outbox item into the ledger request for its tx type.
func buildReceipt(item domain.OutboxItem) (ledger.ReceiptRequest, error) {
	if !item.TxType.Valid() {
		return ledger.ReceiptRequest{}, fmt.Errorf("%w: %s", ErrUnknownTxType, item.TxType)
	}
	if item.Payload == nil {
		return ledger.ReceiptRequest{}, fmt.Errorf("invalid receipt payload: %w: payload is missing", domain.ErrInvalidPayload)
	}
	if item.Payload.TxType() != item.TxType {
		return ledger.ReceiptRequest{}, fmt.Errorf("invalid receipt payload: %w: %s payload on %s item", domain.ErrInvalidPayload, item.Payload.TxType(), item.TxType)
	}
	if err := item.Payload.Validate(); err != nil {
		return ledger.ReceiptRequest{}, fmt.Errorf("invalid receipt payload: %w", err)
	}

	refHash, err := canonical.ExternalRefHash(item.CanonicalExternalRef)
	if err != nil {
		return ledger.ReceiptRequest{}, fmt.Errorf("invalid receipt payload: %w", err)
	}

	fields := item.Payload.Receipt()
	return ledger.ReceiptRequest{
		TxID:             item.TxID,
		TxType:           string(item.TxType),
		AmountUSDC:       fields.AmountUSDC,
		TokenAddress:     fields.TokenAddress,
		DealID:           fields.DealID,
		ListingID:        fields.ListingID,
		ExternalRefHash:  refHash,
		AmountNGN:        fields.AmountNGN,
		FxRateNGNPerUSDC: fields.FxRateNGNPerUSDC,
		FxProvider:       fields.FxProvider,
	}, nil
}
