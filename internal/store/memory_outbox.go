package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shelterflex/rent-service/internal/canonical"
	"github.com/shelterflex/rent-service/internal/domain"
)

type outboxEntry struct {
	item domain.OutboxItem
	seq  uint64
}

// MemoryOutboxRepository keeps outbox items in process memory. A single mutex guards both
// the items and the reference index, so the lookup-then-insert in Create is atomic.
type MemoryOutboxRepository struct {
	mu    sync.Mutex
	items map[string]*outboxEntry
	byRef map[string]string
	seq   uint64
	now   func() time.Time
}

func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{
		items: make(map[string]*outboxEntry),
		byRef: make(map[string]string),
		now:   time.Now,
	}
}

func (r *MemoryOutboxRepository) Create(ctx context.Context, txType domain.TxType, externalRef string, payload domain.ReceiptPayload) (*domain.OutboxItem, error) {
	ref, err := canonical.NormalizeExternalRef(externalRef)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byRef[ref]; ok {
		if entry, ok := r.items[id]; ok {
			out := entry.item.Clone()
			return &out, nil
		}
	}

	item, err := newOutboxItem(txType, ref, payload, r.now().UTC())
	if err != nil {
		return nil, err
	}

	r.seq++
	r.items[item.ID] = &outboxEntry{item: *item, seq: r.seq}
	r.byRef[ref] = item.ID

	out := item.Clone()
	return &out, nil
}

func (r *MemoryOutboxRepository) GetByID(ctx context.Context, id string) (*domain.OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.items[id]
	if !ok {
		return nil, ErrOutboxItemNotFound
	}
	out := entry.item.Clone()
	return &out, nil
}

func (r *MemoryOutboxRepository) GetByExternalRef(ctx context.Context, externalRef string) (*domain.OutboxItem, error) {
	ref, err := canonical.NormalizeExternalRef(externalRef)
	if err != nil {
		return nil, ErrOutboxItemNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byRef[ref]
	if !ok {
		return nil, ErrOutboxItemNotFound
	}
	entry, ok := r.items[id]
	if !ok {
		return nil, ErrOutboxItemNotFound
	}
	out := entry.item.Clone()
	return &out, nil
}

func (r *MemoryOutboxRepository) ListByStatus(ctx context.Context, status domain.OutboxStatus) ([]domain.OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*outboxEntry, 0)
	for _, entry := range r.items {
		if entry.item.Status == status {
			entries = append(entries, entry)
		}
	}
	sortEntries(entries, true)
	return cloneEntries(entries, len(entries)), nil
}

func (r *MemoryOutboxRepository) ListAll(ctx context.Context, limit int) ([]domain.OutboxItem, error) {
	if limit <= 0 {
		limit = DefaultOutboxListLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*outboxEntry, 0, len(r.items))
	for _, entry := range r.items {
		entries = append(entries, entry)
	}
	sortEntries(entries, false)
	return cloneEntries(entries, limit), nil
}

func (r *MemoryOutboxRepository) UpdateStatus(ctx context.Context, id string, status domain.OutboxStatus, lastError string) (*domain.OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.items[id]
	if !ok {
		return nil, ErrOutboxItemNotFound
	}

	entry.item.Status = status
	entry.item.Attempts++
	entry.item.UpdatedAt = r.now().UTC()
	switch {
	case status == domain.OutboxStatusSent:
		entry.item.LastError = nil
	case lastError != "":
		msg := truncateError(lastError)
		entry.item.LastError = &msg
	}

	out := entry.item.Clone()
	return &out, nil
}

// Len reports how many items the store holds.
func (r *MemoryOutboxRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// sortEntries orders by creation time, breaking ties by insertion order.
func sortEntries(entries []*outboxEntry, ascending bool) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			if ascending {
				return a.item.CreatedAt.Before(b.item.CreatedAt)
			}
			return a.item.CreatedAt.After(b.item.CreatedAt)
		}
		if ascending {
			return a.seq < b.seq
		}
		return a.seq > b.seq
	})
}

func cloneEntries(entries []*outboxEntry, limit int) []domain.OutboxItem {
	if limit > len(entries) {
		limit = len(entries)
	}
	out := make([]domain.OutboxItem, 0, limit)
	for _, entry := range entries[:limit] {
		out = append(out, entry.item.Clone())
	}
	return out
}
