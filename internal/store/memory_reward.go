package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shelterflex/rent-service/internal/domain"
)

// MemoryRewardRepository is a map-backed RewardRepository.
type MemoryRewardRepository struct {
	mu      sync.RWMutex
	rewards map[string]domain.Reward
	now     func() time.Time
}

func NewMemoryRewardRepository() *MemoryRewardRepository {
	return &MemoryRewardRepository{
		rewards: make(map[string]domain.Reward),
		now:     time.Now,
	}
}

func (r *MemoryRewardRepository) Create(ctx context.Context, input domain.CreateRewardInput) (*domain.Reward, error) {
	now := r.now().UTC()
	reward := domain.Reward{
		ID:              uuid.NewString(),
		WhistleblowerID: input.WhistleblowerID,
		DealID:          input.DealID,
		ListingID:       input.ListingID,
		AmountUSDC:      input.AmountUSDC,
		Status:          domain.RewardStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	r.mu.Lock()
	r.rewards[reward.ID] = reward
	r.mu.Unlock()

	out := reward.Clone()
	return &out, nil
}

func (r *MemoryRewardRepository) GetByID(ctx context.Context, id string) (*domain.Reward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reward, ok := r.rewards[id]
	if !ok {
		return nil, ErrRewardNotFound
	}
	out := reward.Clone()
	return &out, nil
}

func (r *MemoryRewardRepository) ListAll(ctx context.Context) ([]domain.Reward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Reward, 0, len(r.rewards))
	for _, reward := range r.rewards {
		out = append(out, reward.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateStatus sets the status as-is. Transition rules belong to the caller.
func (r *MemoryRewardRepository) UpdateStatus(ctx context.Context, id string, status domain.RewardStatus) (*domain.Reward, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reward, ok := r.rewards[id]
	if !ok {
		return nil, ErrRewardNotFound
	}
	reward.Status = status
	reward.UpdatedAt = r.now().UTC()
	r.rewards[id] = reward

	out := reward.Clone()
	return &out, nil
}

func (r *MemoryRewardRepository) MarkAsPaid(ctx context.Context, id string, payment domain.RewardPayment) (*domain.Reward, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reward, ok := r.rewards[id]
	if !ok {
		return nil, ErrRewardNotFound
	}
	if reward.Status != domain.RewardStatusPayable {
		return nil, fmt.Errorf("%w: status is %s", ErrRewardNotPayable, reward.Status)
	}

	now := r.now().UTC()
	reward.Status = domain.RewardStatusPaid
	reward.PaidAt = &now
	reward.UpdatedAt = now
	reward.PaymentTxID = &payment.PaymentTxID
	reward.ExternalRefSource = &payment.ExternalRefSource
	reward.ExternalRef = &payment.ExternalRef
	if payment.Metadata != nil {
		meta := *payment.Metadata
		reward.Metadata = &meta
	}
	r.rewards[id] = reward

	out := reward.Clone()
	return &out, nil
}
