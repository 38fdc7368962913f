package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelterflex/rent-service/internal/domain"
	"github.com/shelterflex/rent-service/internal/store"
	"github.com/shelterflex/rent-service/pkg/ledger"
	"github.com/shelterflex/rent-service/pkg/rabbitmq"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	rabbitmq.Publisher
	mu     sync.Mutex
	events []rabbitmq.OutboxEvent
	err    error
}

func (p *recordingPublisher) PublishOutboxEvent(ctx context.Context, event rabbitmq.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) recorded() []rabbitmq.OutboxEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rabbitmq.OutboxEvent(nil), p.events...)
}

type senderFixture struct {
	repo    *store.MemoryOutboxRepository
	adapter *ledger.StubAdapter
	events  *recordingPublisher
	sender  *OutboxSender
}

func newSenderFixture(t *testing.T) *senderFixture {
	t.Helper()
	repo := store.NewMemoryOutboxRepository()
	adapter := ledger.NewStubAdapter(ledger.Config{RPCURL: "http://localhost:8000"}, discardLogger())
	events := &recordingPublisher{}
	return &senderFixture{
		repo:    repo,
		adapter: adapter,
		events:  events,
		sender:  NewOutboxSender(repo, adapter, events, discardLogger(), SenderConfig{MaxAttempts: 3, StalePendingAfter: time.Minute}),
	}
}

func testRepayment(dealID string) domain.TenantRepaymentPayload {
	return domain.TenantRepaymentPayload{
		DealID: dealID,
		Period: 1,
		Settlement: domain.Settlement{
			AmountUSDC:   decimal.RequireFromString("100.25"),
			TokenAddress: "USDC:GA5Z",
		},
	}
}

func (f *senderFixture) create(t *testing.T, ref string) *domain.OutboxItem {
	t.Helper()
	item, err := f.repo.Create(context.Background(), domain.TxTypeTenantRepayment, ref, testRepayment("deal-1"))
	require.NoError(t, err)
	return item
}

func (f *senderFixture) get(t *testing.T, id string) *domain.OutboxItem {
	t.Helper()
	item, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return item
}

var errLedgerDown = errors.New("ledger unavailable")

func TestSend_SuccessMarksSent(t *testing.T) {
	f := newSenderFixture(t)
	item := f.create(t, "stripe:pi_1")

	sent, err := f.sender.Send(context.Background(), *item)
	require.NoError(t, err)
	assert.True(t, sent)

	stored := f.get(t, item.ID)
	assert.Equal(t, domain.OutboxStatusSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Nil(t, stored.LastError)

	receipt, ok := f.adapter.Receipt(item.TxID)
	require.True(t, ok)
	assert.Equal(t, "tenant_repayment", receipt.TxType)
	assert.Equal(t, "deal-1", receipt.DealID)
	assert.True(t, receipt.AmountUSDC.Equal(decimal.RequireFromString("100.25")))
	assert.Len(t, receipt.ExternalRefHash, 64)

	events := f.events.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, rabbitmq.RoutingKeyOutboxSent, events[0].RoutingKey())
	assert.Equal(t, item.TxID, events[0].TxID)
}

func TestSend_LedgerFailureIsRecordedNotReturned(t *testing.T) {
	f := newSenderFixture(t)
	f.adapter.FailReceipt = func(ledger.ReceiptRequest) error { return errLedgerDown }
	item := f.create(t, "stripe:pi_2")

	sent, err := f.sender.Send(context.Background(), *item)
	require.NoError(t, err)
	assert.False(t, sent)

	stored := f.get(t, item.ID)
	assert.Equal(t, domain.OutboxStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "ledger unavailable", *stored.LastError)
	assert.Equal(t, 0, f.adapter.ReceiptCount())

	events := f.events.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, rabbitmq.RoutingKeyOutboxFailed, events[0].RoutingKey())
	assert.Equal(t, "ledger unavailable", events[0].LastError)
}

func TestSend_PublishFailureDoesNotChangeOutcome(t *testing.T) {
	f := newSenderFixture(t)
	f.events.err = errors.New("broker down")
	item := f.create(t, "stripe:pi_3")

	sent, err := f.sender.Send(context.Background(), *item)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, domain.OutboxStatusSent, f.get(t, item.ID).Status)
}

func TestSend_UnknownTxTypeIsFatalForTheAttempt(t *testing.T) {
	f := newSenderFixture(t)
	item := f.create(t, "stripe:pi_4")

	bogus := *item
	bogus.TxType = "rent_refund"
	sent, err := f.sender.Send(context.Background(), bogus)
	require.ErrorIs(t, err, ErrUnknownTxType)
	assert.False(t, sent)

	stored := f.get(t, item.ID)
	assert.Equal(t, domain.OutboxStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "rent_refund")
	assert.Equal(t, 0, f.adapter.Calls())
}

func TestSend_InvalidPayloadIsRecordedWithReason(t *testing.T) {
	f := newSenderFixture(t)
	item := f.create(t, "stripe:pi_5")

	broken := *item
	payload := testRepayment("deal-1")
	payload.TokenAddress = ""
	broken.Payload = payload

	sent, err := f.sender.Send(context.Background(), broken)
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.False(t, sent)

	stored := f.get(t, item.ID)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "invalid receipt payload:")
	assert.Contains(t, *stored.LastError, "tokenAddress")
}

func TestRetry_SentItemIsNotResent(t *testing.T) {
	f := newSenderFixture(t)
	item := f.create(t, "stripe:pi_6")
	_, err := f.sender.Send(context.Background(), *item)
	require.NoError(t, err)

	sent, err := f.sender.Retry(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 1, f.adapter.Calls())
	assert.Equal(t, 1, f.get(t, item.ID).Attempts)
}

func TestRetry_UnknownIDIsNotFound(t *testing.T) {
	f := newSenderFixture(t)

	_, err := f.sender.Retry(context.Background(), "missing")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.ErrorIs(t, err, store.ErrOutboxItemNotFound)
}

func TestRetry_FailedThenSucceeds(t *testing.T) {
	f := newSenderFixture(t)
	f.adapter.FailReceipt = func(ledger.ReceiptRequest) error { return errLedgerDown }
	item := f.create(t, "stripe:pi_7")
	_, err := f.sender.Send(context.Background(), *item)
	require.NoError(t, err)

	f.adapter.FailReceipt = nil
	sent, err := f.sender.Retry(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, sent)

	stored := f.get(t, item.ID)
	assert.Equal(t, domain.OutboxStatusSent, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Nil(t, stored.LastError)
}

func TestRetry_ConcurrentCallsShareOneAttempt(t *testing.T) {
	f := newSenderFixture(t)
	release := make(chan struct{})
	var calls atomic.Int32
	f.adapter.FailReceipt = func(ledger.ReceiptRequest) error {
		calls.Add(1)
		<-release
		return nil
	}
	item := f.create(t, "stripe:pi_8")

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sent, err := f.sender.Retry(context.Background(), item.ID)
			assert.NoError(t, err)
			results[i] = sent
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, int(calls.Load()), 2)
	for _, sent := range results {
		assert.True(t, sent)
	}
	assert.Equal(t, 1, f.adapter.ReceiptCount())
}

func TestRetryAll_ProcessesFailedItemsOldestFirst(t *testing.T) {
	f := newSenderFixture(t)
	f.adapter.FailReceipt = func(ledger.ReceiptRequest) error { return errLedgerDown }

	var ids []string
	for _, ref := range []string{"stripe:a", "stripe:b", "stripe:c"} {
		item, err := f.repo.Create(context.Background(), domain.TxTypeTenantRepayment, ref, testRepayment(ref))
		require.NoError(t, err)
		_, err = f.sender.Send(context.Background(), *item)
		require.NoError(t, err)
		ids = append(ids, item.ID)
		time.Sleep(2 * time.Millisecond)
	}
	sentItem := f.create(t, "stripe:d")
	f.adapter.FailReceipt = nil
	_, err := f.sender.Send(context.Background(), *sentItem)
	require.NoError(t, err)

	var order []string
	f.adapter.FailReceipt = func(req ledger.ReceiptRequest) error {
		order = append(order, req.DealID)
		if req.DealID == "stripe:b" {
			return errLedgerDown
		}
		return nil
	}

	result, err := f.sender.RetryAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RetryResult{Succeeded: 2, Failed: 1}, result)
	assert.Equal(t, []string{"stripe:a", "stripe:b", "stripe:c"}, order)

	assert.Equal(t, domain.OutboxStatusSent, f.get(t, ids[0]).Status)
	assert.Equal(t, domain.OutboxStatusFailed, f.get(t, ids[1]).Status)
	assert.Equal(t, 2, f.get(t, ids[1]).Attempts)
	assert.Equal(t, domain.OutboxStatusSent, f.get(t, ids[2]).Status)
}

func TestRetryAll_NothingToDo(t *testing.T) {
	f := newSenderFixture(t)
	result, err := f.sender.RetryAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RetryResult{}, result)
}

func TestRetryDue_RespectsBackoffAndAttemptCap(t *testing.T) {
	f := newSenderFixture(t)
	f.adapter.FailReceipt = func(ledger.ReceiptRequest) error { return errLedgerDown }
	ctx := context.Background()

	fresh := f.create(t, "stripe:fresh")
	_, err := f.sender.Send(ctx, *fresh)
	require.NoError(t, err)

	exhausted := f.create(t, "stripe:exhausted")
	for i := 0; i < 3; i++ {
		_, err := f.sender.Send(ctx, *exhausted)
		require.NoError(t, err)
	}
	f.adapter.FailReceipt = nil

	// backoff after one failure is 2s; nothing is due yet
	result, err := f.sender.RetryDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, RetryResult{Skipped: 1}, result)
	assert.Equal(t, domain.OutboxStatusFailed, f.get(t, fresh.ID).Status)

	result, err = f.sender.RetryDue(ctx, time.Now().Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, RetryResult{Succeeded: 1, Skipped: 1}, result)
	assert.Equal(t, domain.OutboxStatusSent, f.get(t, fresh.ID).Status)
	assert.Equal(t, domain.OutboxStatusFailed, f.get(t, exhausted.ID).Status)
}

func TestRetryDue_PicksUpStalePendingItems(t *testing.T) {
	f := newSenderFixture(t)
	ctx := context.Background()
	item := f.create(t, "stripe:stale")

	result, err := f.sender.RetryDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, RetryResult{}, result)
	assert.Equal(t, domain.OutboxStatusPending, f.get(t, item.ID).Status)

	result, err = f.sender.RetryDue(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, RetryResult{Succeeded: 1}, result)
	assert.Equal(t, domain.OutboxStatusSent, f.get(t, item.ID).Status)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{8, 256 * time.Second},
		{9, 300 * time.Second},
		{40, 300 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}
