package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shelterflex/rent-service/internal/domain"
)

// MemoryListingRepository is a map-backed ListingRepository.
type MemoryListingRepository struct {
	mu       sync.RWMutex
	listings map[string]domain.Listing
	now      func() time.Time
}

func NewMemoryListingRepository() *MemoryListingRepository {
	return &MemoryListingRepository{
		listings: make(map[string]domain.Listing),
		now:      time.Now,
	}
}

func (r *MemoryListingRepository) Create(ctx context.Context, input domain.CreateListingInput) (*domain.Listing, error) {
	now := r.now().UTC()
	listing := domain.Listing{
		ID:              uuid.NewString(),
		WhistleblowerID: input.WhistleblowerID,
		Address:         input.Address,
		City:            input.City,
		Area:            input.Area,
		Bedrooms:        input.Bedrooms,
		Bathrooms:       input.Bathrooms,
		AnnualRentNGN:   input.AnnualRentNGN,
		Description:     input.Description,
		Photos:          append([]string(nil), input.Photos...),
		Status:          domain.ListingStatusPendingReview,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	r.mu.Lock()
	r.listings[listing.ID] = listing
	r.mu.Unlock()

	out := listing.Clone()
	return &out, nil
}

func (r *MemoryListingRepository) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	listing, ok := r.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	out := listing.Clone()
	return &out, nil
}

func (r *MemoryListingRepository) List(ctx context.Context, filters domain.ListingFilters) (*domain.PaginatedListings, error) {
	page, pageSize := normalizePage(filters.Page, filters.PageSize)
	query := strings.ToLower(strings.TrimSpace(filters.Query))

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.Listing, 0, len(r.listings))
	for _, listing := range r.listings {
		if filters.Status != "" && listing.Status != filters.Status {
			continue
		}
		if query != "" && !listingMatches(listing, query) {
			continue
		}
		matched = append(matched, listing)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start, end := pageBounds(len(matched), page, pageSize)
	listings := make([]domain.Listing, 0, end-start)
	for _, listing := range matched[start:end] {
		listings = append(listings, listing.Clone())
	}

	return &domain.PaginatedListings{
		Listings:   listings,
		Total:      len(matched),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(len(matched), pageSize),
	}, nil
}

func listingMatches(l domain.Listing, query string) bool {
	for _, field := range []string{l.Address, l.City, l.Area, l.Description} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func (r *MemoryListingRepository) UpdateStatus(ctx context.Context, id string, status domain.ListingStatus, rejectionReason string) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	listing, ok := r.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	listing.Status = status
	listing.UpdatedAt = r.now().UTC()
	if rejectionReason != "" {
		listing.RejectionReason = rejectionReason
	}
	r.listings[id] = listing

	out := listing.Clone()
	return &out, nil
}

func (r *MemoryListingRepository) CountCreatedInMonth(ctx context.Context, whistleblowerID string, at time.Time) (int, error) {
	from := monthStart(at)
	to := from.AddDate(0, 1, 0)

	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, listing := range r.listings {
		if listing.WhistleblowerID != whistleblowerID {
			continue
		}
		created := listing.CreatedAt.UTC()
		if !created.Before(from) && created.Before(to) {
			count++
		}
	}
	return count, nil
}
