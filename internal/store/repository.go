/**
 * @description
 * Repository contracts for the rent service. The application layer depends only on these
 * interfaces; in-memory and PostgreSQL implementations live alongside them.
 *
 * @notes
 * - Every read returns a fresh copy. Callers may mutate what they get back without touching
 *   stored state.
 * - OutboxRepository.Create is the idempotency boundary for ledger writes: one item per
 *   normalized external reference, ever.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shelterflex/rent-service/internal/canonical"
	"github.com/shelterflex/rent-service/internal/domain"
)

var (
	ErrOutboxItemNotFound   = errors.New("outbox item not found")
	ErrDealNotFound         = errors.New("deal not found")
	ErrScheduleItemNotFound = errors.New("schedule item not found")
	ErrRewardNotFound       = errors.New("reward not found")
	ErrListingNotFound      = errors.New("listing not found")
	ErrPayloadTypeMismatch  = errors.New("payload does not match tx type")
	ErrRewardNotPayable     = errors.New("reward is not payable")
)

// DefaultOutboxListLimit is used by ListAll when no positive limit is given.
const DefaultOutboxListLimit = 100

// OutboxRepository stores ledger write intents.
type OutboxRepository interface {
	// Create returns the existing item for externalRef unchanged, or inserts a new pending item.
	Create(ctx context.Context, txType domain.TxType, externalRef string, payload domain.ReceiptPayload) (*domain.OutboxItem, error)
	GetByID(ctx context.Context, id string) (*domain.OutboxItem, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*domain.OutboxItem, error)
	// ListByStatus returns matching items oldest first.
	ListByStatus(ctx context.Context, status domain.OutboxStatus) ([]domain.OutboxItem, error)
	// ListAll returns up to limit items newest first.
	ListAll(ctx context.Context, limit int) ([]domain.OutboxItem, error)
	// UpdateStatus records a delivery attempt. attempts always increments. A non-empty lastError
	// replaces the stored one; a transition to sent clears it.
	UpdateStatus(ctx context.Context, id string, status domain.OutboxStatus, lastError string) (*domain.OutboxItem, error)
}

type DealRepository interface {
	Create(ctx context.Context, deal *domain.Deal) error
	GetByID(ctx context.Context, id string) (*domain.Deal, error)
	// List returns deals newest first without their schedules.
	List(ctx context.Context, filters domain.DealFilters) (*domain.PaginatedDeals, error)
	UpdateStatus(ctx context.Context, id string, status domain.DealStatus) (*domain.Deal, error)
	UpdateScheduleItemStatus(ctx context.Context, id string, period int, status domain.ScheduleItemStatus) (*domain.Deal, error)
}

type RewardRepository interface {
	Create(ctx context.Context, input domain.CreateRewardInput) (*domain.Reward, error)
	GetByID(ctx context.Context, id string) (*domain.Reward, error)
	ListAll(ctx context.Context) ([]domain.Reward, error)
	UpdateStatus(ctx context.Context, id string, status domain.RewardStatus) (*domain.Reward, error)
	// MarkAsPaid moves a payable reward to paid. Any other current status yields ErrRewardNotPayable
	// and leaves the reward untouched.
	MarkAsPaid(ctx context.Context, id string, payment domain.RewardPayment) (*domain.Reward, error)
}

type ListingRepository interface {
	Create(ctx context.Context, input domain.CreateListingInput) (*domain.Listing, error)
	GetByID(ctx context.Context, id string) (*domain.Listing, error)
	List(ctx context.Context, filters domain.ListingFilters) (*domain.PaginatedListings, error)
	UpdateStatus(ctx context.Context, id string, status domain.ListingStatus, rejectionReason string) (*domain.Listing, error)
	// CountCreatedInMonth counts listings reported by whistleblowerID in the UTC calendar month of at.
	CountCreatedInMonth(ctx context.Context, whistleblowerID string, at time.Time) (int, error)
}

// newOutboxItem validates the inputs and builds a pending item with its transaction id.
// normalizedRef must already be normalized.
func newOutboxItem(txType domain.TxType, normalizedRef string, payload domain.ReceiptPayload, now time.Time) (*domain.OutboxItem, error) {
	if !txType.Valid() {
		return nil, fmt.Errorf("%w: unknown tx type %q", domain.ErrInvalidPayload, txType)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: payload is required", domain.ErrInvalidPayload)
	}
	if payload.TxType() != txType {
		return nil, fmt.Errorf("%w: %w: %s payload for %s", domain.ErrInvalidPayload, ErrPayloadTypeMismatch, payload.TxType(), txType)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	txID, err := canonical.ComputeTxID(string(txType), normalizedRef, payload.Fields())
	if err != nil {
		return nil, err
	}

	return &domain.OutboxItem{
		ID:                   uuid.NewString(),
		TxType:               txType,
		CanonicalExternalRef: normalizedRef,
		TxID:                 txID,
		Payload:              payload,
		Status:               domain.OutboxStatusPending,
		Attempts:             0,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

func totalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// pageBounds returns the slice bounds of page within total items. Pages past the end are empty.
func pageBounds(total, page, pageSize int) (int, int) {
	if page < 1 || pageSize < 1 || page-1 > total/pageSize {
		return total, total
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return page, pageSize
}

func monthStart(at time.Time) time.Time {
	at = at.UTC()
	return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
}
