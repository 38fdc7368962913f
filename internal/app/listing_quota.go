package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shelterflex/rent-service/internal/store"
)

var ErrMonthlyListingLimit = errors.New("monthly listing limit reached")

// ListingQuota enforces the per-whistleblower monthly listing cap. Months are UTC calendar
// months.
type ListingQuota interface {
	// Reserve claims one slot in the month of at. When the cap is already reached it returns
	// allowed=false and count is the number of listings already created that month.
	Reserve(ctx context.Context, whistleblowerID string, at time.Time, limit int) (count int, allowed bool, err error)
	// Release gives back a slot claimed by Reserve whose listing was never created.
	Release(ctx context.Context, whistleblowerID string, at time.Time) error
}

// StoreListingQuota counts listings in the listing store. Callers serialize Reserve with the
// insert that follows it.
type StoreListingQuota struct {
	listings store.ListingRepository
}

func NewStoreListingQuota(listings store.ListingRepository) *StoreListingQuota {
	return &StoreListingQuota{listings: listings}
}

func (q *StoreListingQuota) Reserve(ctx context.Context, whistleblowerID string, at time.Time, limit int) (int, bool, error) {
	count, err := q.listings.CountCreatedInMonth(ctx, whistleblowerID, at)
	if err != nil {
		return 0, false, err
	}
	if count >= limit {
		return count, false, nil
	}
	return count + 1, true, nil
}

func (q *StoreListingQuota) Release(context.Context, string, time.Time) error { return nil }

var listingQuotaScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIREAT", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  redis.call("DECR", KEYS[1])
  return {current - 1, 0}
end
return {current, 1}
`)

// RedisListingQuota keeps one counter per whistleblower and month, shared by every replica.
// Counters expire at the end of their month.
type RedisListingQuota struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisListingQuota(client redis.UniversalClient, prefix string) *RedisListingQuota {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "shelterflex:listing_quota"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisListingQuota{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisListingQuota) Reserve(ctx context.Context, whistleblowerID string, at time.Time, limit int) (int, bool, error) {
	subject := strings.TrimSpace(whistleblowerID)
	if subject == "" || limit <= 0 {
		return 0, false, nil
	}

	rawResult, err := listingQuotaScript.Run(ctx, r.client, []string{r.key(subject, at)}, monthEnd(at).UnixMilli(), limit).Result()
	if err != nil {
		return 0, false, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, fmt.Errorf("unexpected redis quota response shape: %T", rawResult)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, false, fmt.Errorf("unexpected redis quota count type: %T", values[0])
	}
	allowed, ok := values[1].(int64)
	if !ok {
		return 0, false, fmt.Errorf("unexpected redis quota flag type: %T", values[1])
	}
	return int(count), allowed == 1, nil
}

func (r *RedisListingQuota) Release(ctx context.Context, whistleblowerID string, at time.Time) error {
	subject := strings.TrimSpace(whistleblowerID)
	if subject == "" {
		return nil
	}
	return r.client.Decr(ctx, r.key(subject, at)).Err()
}

func (r *RedisListingQuota) key(subject string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, subject, at.UTC().Format("2006-01"))
}

func monthEnd(at time.Time) time.Time {
	at = at.UTC()
	return time.Date(at.Year(), at.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
