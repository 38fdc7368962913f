package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shelterflex/rent-service/internal/domain"
)

// MemoryDealRepository is a map-backed DealRepository.
type MemoryDealRepository struct {
	mu    sync.RWMutex
	deals map[string]domain.Deal
	order map[string]uint64
	seq   uint64
}

func NewMemoryDealRepository() *MemoryDealRepository {
	return &MemoryDealRepository{
		deals: make(map[string]domain.Deal),
		order: make(map[string]uint64),
	}
}

func (r *MemoryDealRepository) Create(ctx context.Context, deal *domain.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.deals[deal.ID] = deal.Clone()
	r.order[deal.ID] = r.seq
	return nil
}

func (r *MemoryDealRepository) GetByID(ctx context.Context, id string) (*domain.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deal, ok := r.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	out := deal.Clone()
	return &out, nil
}

func (r *MemoryDealRepository) List(ctx context.Context, filters domain.DealFilters) (*domain.PaginatedDeals, error) {
	page, pageSize := normalizePage(filters.Page, filters.PageSize)

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.Deal, 0, len(r.deals))
	for _, deal := range r.deals {
		if filters.TenantID != "" && deal.TenantID != filters.TenantID {
			continue
		}
		if filters.LandlordID != "" && deal.LandlordID != filters.LandlordID {
			continue
		}
		if filters.Status != "" && deal.Status != filters.Status {
			continue
		}
		matched = append(matched, deal)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return r.order[a.ID] > r.order[b.ID]
	})

	start, end := pageBounds(len(matched), page, pageSize)
	deals := make([]domain.Deal, 0, end-start)
	for _, deal := range matched[start:end] {
		deals = append(deals, deal.WithoutSchedule())
	}

	return &domain.PaginatedDeals{
		Deals:      deals,
		Total:      len(matched),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(len(matched), pageSize),
	}, nil
}

func (r *MemoryDealRepository) UpdateStatus(ctx context.Context, id string, status domain.DealStatus) (*domain.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deal, ok := r.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	deal.Status = status
	r.deals[id] = deal

	out := deal.Clone()
	return &out, nil
}

func (r *MemoryDealRepository) UpdateScheduleItemStatus(ctx context.Context, id string, period int, status domain.ScheduleItemStatus) (*domain.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deal, ok := r.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}

	for i := range deal.Schedule {
		if deal.Schedule[i].Period == period {
			// the stored schedule slice is owned by the map entry, never shared with callers
			deal.Schedule[i].Status = status
			out := deal.Clone()
			return &out, nil
		}
	}
	return nil, ErrScheduleItemNotFound
}
