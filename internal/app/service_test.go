package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelterflex/rent-service/internal/domain"
	"github.com/shelterflex/rent-service/internal/store"
	"github.com/shelterflex/rent-service/pkg/ledger"
)

type serviceFixture struct {
	*senderFixture
	deals    *store.MemoryDealRepository
	rewards  *store.MemoryRewardRepository
	listings *store.MemoryListingRepository
	svc      *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		senderFixture: newSenderFixture(t),
		deals:         store.NewMemoryDealRepository(),
		rewards:       store.NewMemoryRewardRepository(),
		listings:      store.NewMemoryListingRepository(),
	}
	f.svc = NewService(Repositories{
		Deals:    f.deals,
		Outbox:   f.repo,
		Rewards:  f.rewards,
		Listings: f.listings,
	}, f.sender, f.adapter, nil, discardLogger(), ServiceConfig{})
	return f
}

func (f *serviceFixture) confirmInput(t *testing.T, ref string) ConfirmPaymentInput {
	t.Helper()
	req := validConfirmRequest()
	req.ExternalRef = ref
	input, err := ValidateConfirmPayment(req)
	require.NoError(t, err)
	return input
}

func TestCreateDeal_GeneratesDraftWithSchedule(t *testing.T) {
	f := newServiceFixture(t)
	fixed := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	deal, err := f.svc.CreateDeal(context.Background(), domain.CreateDealInput{
		TenantID: "tenant-1", LandlordID: "landlord-1",
		AnnualRentNGN: 1000000, DepositNGN: 200000, TermMonths: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusDraft, deal.Status)
	assert.True(t, deal.FinancedAmountNGN.Equal(decimal.NewFromInt(800000)))
	require.Len(t, deal.Schedule, 3)
	assert.Equal(t, "266666.66", deal.Schedule[2].AmountNGN.StringFixed(2))

	stored, err := f.deals.GetByID(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, fixed, stored.CreatedAt)
}

func TestGetDeal_RecomputesStatusesWithoutPersisting(t *testing.T) {
	f := newServiceFixture(t)
	start := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return start }
	ctx := context.Background()

	deal, err := f.svc.CreateDeal(ctx, domain.CreateDealInput{
		TenantID: "t", LandlordID: "l", AnnualRentNGN: 1200000, DepositNGN: 240000, TermMonths: 3,
	})
	require.NoError(t, err)
	_, err = f.svc.UpdateScheduleItemStatus(ctx, deal.ID, 1, domain.ScheduleItemPaid)
	require.NoError(t, err)

	// 20 days after period 2 falls due
	f.svc.now = func() time.Time { return start.AddDate(0, 2, 20) }
	view, err := f.svc.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleItemPaid, view.Schedule[0].Status)
	assert.Equal(t, domain.ScheduleItemLate, view.Schedule[1].Status)
	assert.Equal(t, domain.ScheduleItemUpcoming, view.Schedule[2].Status)
	assert.Equal(t, "320000.00", view.TotalPaidNGN.StringFixed(2))
	assert.Equal(t, "640000.00", view.RemainingBalanceNGN.StringFixed(2))

	stored, err := f.deals.GetByID(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleItemUpcoming, stored.Schedule[1].Status)
}

func TestDealUpdates_NotFoundAndValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetDeal(ctx, "missing")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Deal with ID 'missing' not found", err.Error())

	_, err = f.svc.UpdateDealStatus(ctx, "missing", "closed")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.UpdateDealStatus(ctx, "missing", domain.DealStatusActive)
	require.ErrorAs(t, err, &notFound)

	deal, err := f.svc.CreateDeal(ctx, domain.CreateDealInput{TenantID: "t", LandlordID: "l", AnnualRentNGN: 1000, DepositNGN: 200, TermMonths: 3})
	require.NoError(t, err)
	_, err = f.svc.UpdateScheduleItemStatus(ctx, deal.ID, 4, domain.ScheduleItemPaid)
	require.ErrorAs(t, err, &notFound)
	assert.ErrorIs(t, err, store.ErrScheduleItemNotFound)
}

func TestConfirmPayment_SentAndIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	input := f.confirmInput(t, "ref_1")

	first, err := f.svc.ConfirmPayment(ctx, input)
	require.NoError(t, err)
	assert.True(t, first.Sent)
	assert.Equal(t, domain.OutboxStatusSent, first.Status)
	assert.Len(t, first.TxID, 64)

	again, err := f.svc.ConfirmPayment(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, first.OutboxID, again.OutboxID)
	assert.Equal(t, first.TxID, again.TxID)
	assert.True(t, again.Sent)

	assert.Equal(t, 1, f.adapter.Calls())
	assert.Equal(t, 1, f.repo.Len())
	assert.Equal(t, 1, f.get(t, first.OutboxID).Attempts)
}

func TestConfirmPayment_QueuedWhenLedgerFails(t *testing.T) {
	f := newServiceFixture(t)
	f.adapter.FailReceipt = func(ledger.ReceiptRequest) error { return errLedgerDown }
	ctx := context.Background()

	receipt, err := f.svc.ConfirmPayment(ctx, f.confirmInput(t, "ref_2"))
	require.NoError(t, err)
	assert.False(t, receipt.Sent)
	assert.Equal(t, domain.OutboxStatusFailed, receipt.Status)
	assert.Equal(t, "Payment confirmed, USDC receipt queued for retry", receipt.Message())

	// a repeat confirmation makes another attempt on the same item
	f.adapter.FailReceipt = nil
	again, err := f.svc.ConfirmPayment(ctx, f.confirmInput(t, "ref_2"))
	require.NoError(t, err)
	assert.True(t, again.Sent)
	assert.Equal(t, receipt.OutboxID, again.OutboxID)
	assert.Equal(t, 2, f.get(t, receipt.OutboxID).Attempts)
}

func payableReward(t *testing.T, f *serviceFixture) *domain.Reward {
	t.Helper()
	ctx := context.Background()
	reward, err := f.svc.CreateReward(ctx, domain.CreateRewardInput{
		WhistleblowerID: "wb-1", DealID: "deal-9", ListingID: "listing-9",
		AmountUSDC: decimal.RequireFromString("50"),
	})
	require.NoError(t, err)
	reward, err = f.svc.UpdateRewardStatus(ctx, reward.ID, domain.RewardStatusPayable)
	require.NoError(t, err)
	return reward
}

func markPaidInput(ref string) domain.MarkRewardPaidInput {
	return domain.MarkRewardPaidInput{
		AmountUSDC:        decimal.RequireFromString("50"),
		TokenAddress:      "USDC:GA5Z",
		ExternalRefSource: "Manual",
		ExternalRef:       ref,
		AmountNGN:         decimal.NewNullDecimal(decimal.NewFromInt(80000)),
		FxProvider:        "cbn",
	}
}

func TestMarkRewardPaid(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reward := payableReward(t, f)

	payout, err := f.svc.MarkRewardPaid(ctx, reward.ID, markPaidInput("payout-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusPaid, payout.Reward.Status)
	require.NotNil(t, payout.Reward.PaidAt)
	require.NotNil(t, payout.Reward.PaymentTxID)
	assert.Equal(t, payout.Receipt.TxID, *payout.Reward.PaymentTxID)
	assert.Equal(t, "manual", *payout.Reward.ExternalRefSource)
	require.NotNil(t, payout.Reward.Metadata)
	assert.Equal(t, "cbn", payout.Reward.Metadata.FxProvider)

	item := f.get(t, payout.Receipt.OutboxID)
	assert.Equal(t, domain.TxTypeWhistleblowerReward, item.TxType)
	assert.Equal(t, "manual:payout-1", item.CanonicalExternalRef)
	payload, ok := item.Payload.(domain.WhistleblowerRewardPayload)
	require.True(t, ok)
	assert.Equal(t, reward.ID, payload.RewardID)
	assert.Equal(t, "listing-9", payload.ListingID)
}

func TestMarkRewardPaid_SharedReferenceReusesReceipt(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.svc.MarkRewardPaid(ctx, payableReward(t, f).ID, markPaidInput("batch-1"))
	require.NoError(t, err)
	second, err := f.svc.MarkRewardPaid(ctx, payableReward(t, f).ID, markPaidInput("batch-1"))
	require.NoError(t, err)

	assert.Equal(t, first.Receipt.OutboxID, second.Receipt.OutboxID)
	assert.Equal(t, first.Receipt.TxID, second.Receipt.TxID)
	assert.Equal(t, 1, f.adapter.ReceiptCount())
}

func TestMarkRewardPaid_Preconditions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.MarkRewardPaid(ctx, "missing", markPaidInput("x"))
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)

	pending, err := f.svc.CreateReward(ctx, domain.CreateRewardInput{WhistleblowerID: "wb", DealID: "d", ListingID: "l", AmountUSDC: decimal.NewFromInt(5)})
	require.NoError(t, err)
	_, err = f.svc.MarkRewardPaid(ctx, pending.ID, markPaidInput("y"))
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Message, "cannot be marked as paid")
	assert.Equal(t, domain.RewardStatusPending, conflict.Details["currentStatus"])
	assert.Equal(t, domain.RewardStatusPayable, conflict.Details["requiredStatus"])
	assert.Equal(t, 0, f.repo.Len())

	paid := payableReward(t, f)
	_, err = f.svc.MarkRewardPaid(ctx, paid.ID, markPaidInput("z"))
	require.NoError(t, err)
	_, err = f.svc.MarkRewardPaid(ctx, paid.ID, markPaidInput("z2"))
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.RewardStatusPaid, conflict.Details["currentStatus"])
}

// holdReceipts makes the stub ledger block inside RecordReceipt until release is closed.
// entered is closed when the first receipt arrives.
func holdReceipts(f *serviceFixture) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	f.adapter.FailReceipt = func(ledger.ReceiptRequest) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}
	return entered, release
}

func TestMarkRewardPaid_ConcurrentPayoutsWriteOneReceipt(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reward := payableReward(t, f)
	entered, release := holdReceipts(f)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.MarkRewardPaid(ctx, reward.ID, markPaidInput("payout-a"))
		done <- err
	}()
	<-entered

	_, err := f.svc.MarkRewardPaid(ctx, reward.ID, markPaidInput("payout-b"))
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ErrPayoutInProgress)

	_, err = f.svc.UpdateRewardStatus(ctx, reward.ID, domain.RewardStatusCancelled)
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ErrPayoutInProgress)

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, f.adapter.ReceiptCount())
	assert.Equal(t, 1, f.repo.Len())
	got, err := f.svc.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusPaid, got.Status)

	// the claim is released once the payout finishes
	_, err = f.svc.MarkRewardPaid(ctx, reward.ID, markPaidInput("payout-c"))
	require.ErrorAs(t, err, &conflict)
	assert.NotErrorIs(t, err, ErrPayoutInProgress)
	assert.Equal(t, domain.RewardStatusPaid, conflict.Details["currentStatus"])
}

func TestMarkRewardPaid_CancelledDuringLedgerWriteStaysCancelled(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reward := payableReward(t, f)

	var serviceCancelErr error
	f.adapter.FailReceipt = func(ledger.ReceiptRequest) error {
		_, serviceCancelErr = f.svc.UpdateRewardStatus(ctx, reward.ID, domain.RewardStatusCancelled)
		// another replica cancelling straight through the store
		_, err := f.rewards.UpdateStatus(ctx, reward.ID, domain.RewardStatusCancelled)
		return err
	}

	_, err := f.svc.MarkRewardPaid(ctx, reward.ID, markPaidInput("payout-1"))
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, store.ErrRewardNotPayable)
	assert.Equal(t, domain.RewardStatusCancelled, conflict.Details["currentStatus"])
	assert.NotEmpty(t, conflict.Details["txId"])
	assert.ErrorIs(t, serviceCancelErr, ErrPayoutInProgress)

	got, err := f.svc.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusCancelled, got.Status)
	assert.Nil(t, got.PaymentTxID)
}

func TestMarkRewardPaid_ReferenceOwnedByOtherTxType(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmPayment(ctx, f.confirmInput(t, "shared-ref"))
	require.NoError(t, err)

	reward := payableReward(t, f)
	input := markPaidInput("shared-ref")
	input.ExternalRefSource = "paystack"
	_, err = f.svc.MarkRewardPaid(ctx, reward.ID, input)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ErrExternalRefInUse)
	assert.Equal(t, domain.TxTypeTenantRepayment, conflict.Details["existingTxType"])

	got, err := f.svc.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusPayable, got.Status)
	assert.Equal(t, 1, f.adapter.ReceiptCount())
}

func TestUpdateRewardStatus_Transitions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reward := payableReward(t, f)

	_, err := f.svc.UpdateRewardStatus(ctx, reward.ID, domain.RewardStatusPaid)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	cancelled, err := f.svc.UpdateRewardStatus(ctx, reward.ID, domain.RewardStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusCancelled, cancelled.Status)

	_, err = f.svc.UpdateRewardStatus(ctx, reward.ID, domain.RewardStatusPayable)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func listingInput(wb string) domain.CreateListingInput {
	return domain.CreateListingInput{
		WhistleblowerID: wb,
		Address:         "3 Bourdillon Rd",
		AnnualRentNGN:   2000000,
		Photos:          []string{"https://a", "https://b", "https://c"},
	}
}

func TestCreateListing_MonthlyLimit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for i := 0; i < DefaultListingMonthlyLimit; i++ {
		_, err := f.svc.CreateListing(ctx, listingInput("wb-1"))
		require.NoError(t, err)
	}
	_, err := f.svc.CreateListing(ctx, listingInput("wb-1"))
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ErrMonthlyListingLimit)
	assert.Equal(t, 2, conflict.Details["currentCount"])
	assert.Equal(t, 2, conflict.Details["maxAllowed"])

	_, err = f.svc.CreateListing(ctx, listingInput("wb-2"))
	require.NoError(t, err)
}

type failingQuota struct{ ListingQuota }

func (failingQuota) Reserve(context.Context, string, time.Time, int) (int, bool, error) {
	return 0, false, errors.New("redis unavailable")
}

func TestCreateListing_QuotaErrorIsInternal(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.quota = failingQuota{}

	_, err := f.svc.CreateListing(context.Background(), listingInput("wb-1"))
	require.Error(t, err)
	var conflict *domain.ConflictError
	assert.False(t, errors.As(err, &conflict))
}

func TestListOutbox(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c"} {
		_, err := f.svc.ConfirmPayment(ctx, f.confirmInput(t, ref))
		require.NoError(t, err)
	}

	items, err := f.svc.ListOutbox(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = f.svc.ListOutbox(ctx, domain.OutboxStatusSent, 100)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	for _, limit := range []int{0, 1001} {
		_, err = f.svc.ListOutbox(ctx, "", limit)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	}
	_, err = f.svc.ListOutbox(ctx, "stuck", 10)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRetryOutboxItem(t *testing.T) {
	f := newServiceFixture(t)
	f.adapter.FailReceipt = func(ledger.ReceiptRequest) error { return errLedgerDown }
	ctx := context.Background()
	receipt, err := f.svc.ConfirmPayment(ctx, f.confirmInput(t, "r"))
	require.NoError(t, err)

	sent, item, err := f.svc.RetryOutboxItem(ctx, receipt.OutboxID)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 2, item.Attempts)

	f.adapter.FailReceipt = nil
	sent, item, err = f.svc.RetryOutboxItem(ctx, receipt.OutboxID)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, domain.OutboxStatusSent, item.Status)

	_, _, err = f.svc.RetryOutboxItem(ctx, "missing")
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestBalanceOperations(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	start, err := f.svc.GetBalance(ctx, "GABC")
	require.NoError(t, err)

	balance, err := f.svc.Credit(ctx, "GABC", "250")
	require.NoError(t, err)
	assert.Equal(t, start+250, balance)

	_, err = f.svc.Debit(ctx, "GABC", "99999999")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	for _, bad := range []string{"", "-5", "1.5", "abc"} {
		_, err = f.svc.Credit(ctx, "GABC", bad)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr, "amount %q", bad)
	}
}
