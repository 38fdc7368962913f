/**
 * @description
 * Service holds the business flows behind the HTTP routes: deal origination and reads,
 * payment confirmation through the outbox, reward payouts, whistleblower listings and the
 * ledger balance operations.
 *
 * @notes
 * - Inputs arrive already validated (see validation.go). Errors returned here are either
 *   domain errors the API maps onto the response envelope, or plain errors that become a 500.
 * - A ledger write that fails is not an error for the caller: the confirmation is durable in
 *   the outbox and the response says it was queued.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shelterflex/rent-service/internal/canonical"
	"github.com/shelterflex/rent-service/internal/domain"
	"github.com/shelterflex/rent-service/internal/schedule"
	"github.com/shelterflex/rent-service/internal/store"
	"github.com/shelterflex/rent-service/pkg/ledger"
)

const (
	DefaultMinDepositPercent   = 20
	DefaultListingMonthlyLimit = 2
	MaxOutboxListLimit         = 1000
)

var DefaultAllowedTermMonths = []int{3, 6, 12}

var (
	// ErrPayoutInProgress is wrapped by the conflict returned while a reward payout is running.
	ErrPayoutInProgress = errors.New("reward payout in progress")
	// ErrExternalRefInUse is wrapped by the conflict returned when an external reference already
	// belongs to an outbox item of another tx type.
	ErrExternalRefInUse = errors.New("external reference used by another tx type")
)

type ServiceConfig struct {
	AllowedTermMonths   []int
	MinDepositPercent   int64
	ListingMonthlyLimit int
}

// Repositories groups the stores the service reads and writes.
type Repositories struct {
	Deals    store.DealRepository
	Outbox   store.OutboxRepository
	Rewards  store.RewardRepository
	Listings store.ListingRepository
}

type Service struct {
	deals    store.DealRepository
	outbox   store.OutboxRepository
	rewards  store.RewardRepository
	listings store.ListingRepository
	sender   *OutboxSender
	adapter  ledger.Adapter
	quota    ListingQuota
	logger   *slog.Logger
	cfg      ServiceConfig
	now      func() time.Time

	// serializes the quota check with the insert it guards
	listingMu sync.Mutex

	// rewardMu guards payoutsInFlight and makes each reward status check-and-write atomic
	rewardMu        sync.Mutex
	payoutsInFlight map[string]struct{}
}

// NewService wires the service. A nil quota falls back to counting listings in the store.
func NewService(repos Repositories, sender *OutboxSender, adapter ledger.Adapter, quota ListingQuota, logger *slog.Logger, cfg ServiceConfig) *Service {
	if len(cfg.AllowedTermMonths) == 0 {
		cfg.AllowedTermMonths = DefaultAllowedTermMonths
	}
	if cfg.MinDepositPercent <= 0 {
		cfg.MinDepositPercent = DefaultMinDepositPercent
	}
	if cfg.ListingMonthlyLimit <= 0 {
		cfg.ListingMonthlyLimit = DefaultListingMonthlyLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	if quota == nil {
		quota = NewStoreListingQuota(repos.Listings)
	}
	return &Service{
		deals:    repos.Deals,
		outbox:   repos.Outbox,
		rewards:  repos.Rewards,
		listings: repos.Listings,
		sender:   sender,
		adapter:  adapter,
		quota:    quota,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,

		payoutsInFlight: make(map[string]struct{}),
	}
}

func (s *Service) Config() ServiceConfig { return s.cfg }

func (s *Service) Sender() *OutboxSender { return s.sender }

// --- Deals ---

// DealView is a deal as returned by a single read: statuses recomputed for the current time,
// plus running totals.
type DealView struct {
	domain.Deal
	TotalPaidNGN        decimal.Decimal `json:"totalPaidNgn"`
	RemainingBalanceNGN decimal.Decimal `json:"remainingBalanceNgn"`
}

func (s *Service) CreateDeal(ctx context.Context, input domain.CreateDealInput) (*domain.Deal, error) {
	rent := decimal.NewFromInt(input.AnnualRentNGN)
	deposit := decimal.NewFromInt(input.DepositNGN)
	financed := rent.Sub(deposit)
	createdAt := s.now().UTC()

	items, err := schedule.Generate(financed, input.TermMonths, createdAt)
	if err != nil {
		return nil, domain.NewValidationError(err.Error(), domain.FieldError{Field: "termMonths", Message: err.Error()})
	}

	deal := &domain.Deal{
		ID:                uuid.NewString(),
		TenantID:          input.TenantID,
		LandlordID:        input.LandlordID,
		ListingID:         input.ListingID,
		AnnualRentNGN:     rent,
		DepositNGN:        deposit,
		FinancedAmountNGN: financed,
		TermMonths:        input.TermMonths,
		CreatedAt:         createdAt,
		Status:            domain.DealStatusDraft,
		Schedule:          items,
	}
	if err := s.deals.Create(ctx, deal); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}
	s.logger.Info("deal created", "deal_id", deal.ID, "term_months", deal.TermMonths)
	return deal, nil
}

func (s *Service) ListDeals(ctx context.Context, filters domain.DealFilters) (*domain.PaginatedDeals, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, domain.NewValidationError("Invalid deal status", domain.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", filters.Status)})
	}
	return s.deals.List(ctx, filters)
}

// GetDeal returns the deal with statuses recomputed against the current time. The recomputed
// statuses are not written back.
func (s *Service) GetDeal(ctx context.Context, id string) (*DealView, error) {
	deal, err := s.getDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	paid := deal.PaidPeriods()
	deal.Schedule = schedule.RecomputeStatuses(deal.Schedule, s.now(), paid)
	return &DealView{
		Deal:                *deal,
		TotalPaidNGN:        schedule.TotalPaid(deal.Schedule, paid),
		RemainingBalanceNGN: schedule.RemainingBalance(deal.Schedule, paid),
	}, nil
}

func (s *Service) UpdateDealStatus(ctx context.Context, id string, status domain.DealStatus) (*domain.Deal, error) {
	if !status.Valid() {
		return nil, domain.NewValidationError("Invalid deal status", domain.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)})
	}
	deal, err := s.deals.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, dealError(id, err)
	}
	s.logger.Info("deal status updated", "deal_id", id, "status", status)
	return deal, nil
}

func (s *Service) UpdateScheduleItemStatus(ctx context.Context, id string, period int, status domain.ScheduleItemStatus) (*domain.Deal, error) {
	if !status.Valid() {
		return nil, domain.NewValidationError("Invalid schedule item status", domain.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)})
	}
	if period < 1 {
		return nil, domain.NewValidationError("Invalid period", domain.FieldError{Field: "period", Message: "period must be a positive integer"})
	}
	deal, err := s.deals.UpdateScheduleItemStatus(ctx, id, period, status)
	if err != nil {
		if errors.Is(err, store.ErrScheduleItemNotFound) {
			return nil, domain.NewNotFoundError("Schedule item", strconv.Itoa(period), err)
		}
		return nil, dealError(id, err)
	}
	return deal, nil
}

func (s *Service) getDeal(ctx context.Context, id string) (*domain.Deal, error) {
	deal, err := s.deals.GetByID(ctx, id)
	if err != nil {
		return nil, dealError(id, err)
	}
	return deal, nil
}

func dealError(id string, err error) error {
	if errors.Is(err, store.ErrDealNotFound) {
		return domain.NewNotFoundError("Deal", id, err)
	}
	return err
}

// --- Payments ---

// PaymentReceipt reports where a ledger write stands after a confirmation.
type PaymentReceipt struct {
	OutboxID string              `json:"outboxId"`
	TxID     string              `json:"txId"`
	Status   domain.OutboxStatus `json:"status"`
	Sent     bool                `json:"-"`
}

func (r PaymentReceipt) Message() string {
	if r.Sent {
		return "Payment confirmed and USDC receipt written to chain"
	}
	return "Payment confirmed, USDC receipt queued for retry"
}

// ConfirmPayment records the payment in the outbox and makes one immediate attempt to write
// the receipt. Repeating a confirmation with the same external reference returns the same
// outbox item and never writes twice.
func (s *Service) ConfirmPayment(ctx context.Context, input ConfirmPaymentInput) (*PaymentReceipt, error) {
	s.logger.Info("payment confirmation requested", "deal_id", input.Payload.Receipt().DealID, "tx_type", input.TxType)
	return s.deliver(ctx, input.TxType, input.ExternalRef, input.Payload)
}

func (s *Service) deliver(ctx context.Context, txType domain.TxType, externalRef string, payload domain.ReceiptPayload) (*PaymentReceipt, error) {
	item, err := s.outbox.Create(ctx, txType, externalRef, payload)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) || errors.Is(err, canonical.ErrInvalidExternalRef) {
			return nil, domain.NewValidationError(err.Error())
		}
		return nil, fmt.Errorf("create outbox item: %w", err)
	}
	s.logger.Info("outbox item created or retrieved", "outbox_id", item.ID, "tx_id", item.TxID, "status", item.Status)
	if item.TxType != txType {
		return nil, domain.NewConflictError(
			"External reference already used for a different transaction type",
			map[string]any{"externalRef": item.CanonicalExternalRef, "existingTxType": item.TxType, "requestedTxType": txType},
			ErrExternalRefInUse,
		)
	}

	if item.Status == domain.OutboxStatusSent {
		return &PaymentReceipt{OutboxID: item.ID, TxID: item.TxID, Status: item.Status, Sent: true}, nil
	}

	sent, err := s.sender.Send(ctx, *item)
	if err != nil {
		return nil, fmt.Errorf("send outbox item: %w", err)
	}

	updated, err := s.outbox.GetByID(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("reload outbox item after send: %w", err)
	}
	return &PaymentReceipt{OutboxID: updated.ID, TxID: updated.TxID, Status: updated.Status, Sent: sent}, nil
}

// --- Rewards ---

type RewardPayout struct {
	Reward  *domain.Reward `json:"reward"`
	Receipt PaymentReceipt `json:"receipt"`
}

func (s *Service) CreateReward(ctx context.Context, input domain.CreateRewardInput) (*domain.Reward, error) {
	reward, err := s.rewards.Create(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create reward: %w", err)
	}
	s.logger.Info("reward created", "reward_id", reward.ID, "deal_id", reward.DealID)
	return reward, nil
}

func (s *Service) ListRewards(ctx context.Context) ([]domain.Reward, error) {
	return s.rewards.ListAll(ctx)
}

func (s *Service) GetReward(ctx context.Context, id string) (*domain.Reward, error) {
	reward, err := s.rewards.GetByID(ctx, id)
	if err != nil {
		return nil, rewardError(id, err)
	}
	return reward, nil
}

// UpdateRewardStatus moves a reward along pending -> payable, or cancels it. paid is only
// reachable through MarkRewardPaid.
func (s *Service) UpdateRewardStatus(ctx context.Context, id string, status domain.RewardStatus) (*domain.Reward, error) {
	if !status.Valid() || status == domain.RewardStatusPaid {
		return nil, domain.NewValidationError("Invalid reward status", domain.FieldError{Field: "status", Message: "status must be one of: payable, cancelled"})
	}
	s.rewardMu.Lock()
	defer s.rewardMu.Unlock()

	reward, err := s.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, busy := s.payoutsInFlight[id]; busy {
		return nil, domain.NewConflictError(
			"Reward payout is in progress",
			map[string]any{"currentStatus": reward.Status, "requestedStatus": status},
			ErrPayoutInProgress,
		)
	}
	if !reward.Status.CanTransitionTo(status) {
		return nil, domain.NewConflictError(
			fmt.Sprintf("Reward cannot move from %s to %s", reward.Status, status),
			map[string]any{"currentStatus": reward.Status, "requestedStatus": status},
			nil,
		)
	}
	updated, err := s.rewards.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, rewardError(id, err)
	}
	s.logger.Info("reward status updated", "reward_id", id, "status", status)
	return updated, nil
}

// MarkRewardPaid writes the payout receipt through the outbox and marks the reward paid. The
// reward is marked paid even when the ledger write is still queued. Only one payout per reward
// runs at a time; status changes are refused while it does.
func (s *Service) MarkRewardPaid(ctx context.Context, id string, input domain.MarkRewardPaidInput) (*RewardPayout, error) {
	reward, err := s.claimPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.releasePayout(id)

	externalRef, err := canonical.ComposeExternalRef(input.ExternalRefSource, input.ExternalRef)
	if err != nil {
		return nil, domain.NewValidationError(err.Error(), domain.FieldError{Field: "externalRef", Message: err.Error()})
	}

	payload := domain.WhistleblowerRewardPayload{
		RewardID:        reward.ID,
		WhistleblowerID: reward.WhistleblowerID,
		DealID:          reward.DealID,
		ListingID:       reward.ListingID,
		Settlement: domain.Settlement{
			AmountUSDC:       input.AmountUSDC,
			TokenAddress:     input.TokenAddress,
			AmountNGN:        input.AmountNGN,
			FxRateNGNPerUSDC: input.FxRateNGNPerUSDC,
			FxProvider:       input.FxProvider,
		},
	}

	s.logger.Info("reward payout requested", "reward_id", reward.ID, "deal_id", reward.DealID)
	receipt, err := s.deliver(ctx, domain.TxTypeWhistleblowerReward, externalRef, payload)
	if err != nil {
		return nil, err
	}

	payment := domain.RewardPayment{
		PaymentTxID:       receipt.TxID,
		ExternalRefSource: strings.ToLower(strings.TrimSpace(input.ExternalRefSource)),
		ExternalRef:       strings.TrimSpace(input.ExternalRef),
	}
	if input.AmountNGN.Valid || input.FxRateNGNPerUSDC.Valid || input.FxProvider != "" {
		payment.Metadata = &domain.RewardPaymentMetadata{
			AmountNGN:        input.AmountNGN,
			FxRateNGNPerUSDC: input.FxRateNGNPerUSDC,
			FxProvider:       input.FxProvider,
		}
	}

	paid, err := s.rewards.MarkAsPaid(ctx, reward.ID, payment)
	if err != nil {
		if errors.Is(err, store.ErrRewardNotPayable) {
			s.logger.Warn("reward left payable state during payout", "reward_id", reward.ID, "outbox_id", receipt.OutboxID)
			current, getErr := s.GetReward(ctx, reward.ID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, domain.NewConflictError(
				fmt.Sprintf("Reward cannot be marked as paid. Current status: %s", current.Status),
				map[string]any{
					"currentStatus":  current.Status,
					"requiredStatus": domain.RewardStatusPayable,
					"outboxId":       receipt.OutboxID,
					"txId":           receipt.TxID,
				},
				err,
			)
		}
		return nil, rewardError(reward.ID, err)
	}
	s.logger.Info("reward marked as paid", "reward_id", paid.ID, "outbox_id", receipt.OutboxID, "outbox_status", receipt.Status)
	return &RewardPayout{Reward: paid, Receipt: *receipt}, nil
}

// claimPayout marks the reward as having a payout in flight. It fails when the reward is not
// payable or another payout for it is already running.
func (s *Service) claimPayout(ctx context.Context, id string) (*domain.Reward, error) {
	s.rewardMu.Lock()
	defer s.rewardMu.Unlock()

	reward, err := s.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, busy := s.payoutsInFlight[id]; busy {
		return nil, domain.NewConflictError(
			"Reward payout is already in progress",
			map[string]any{"currentStatus": reward.Status},
			ErrPayoutInProgress,
		)
	}
	if reward.Status != domain.RewardStatusPayable {
		return nil, domain.NewConflictError(
			fmt.Sprintf("Reward cannot be marked as paid. Current status: %s", reward.Status),
			map[string]any{"currentStatus": reward.Status, "requiredStatus": domain.RewardStatusPayable},
			nil,
		)
	}
	s.payoutsInFlight[id] = struct{}{}
	return reward, nil
}

func (s *Service) releasePayout(id string) {
	s.rewardMu.Lock()
	delete(s.payoutsInFlight, id)
	s.rewardMu.Unlock()
}

func rewardError(id string, err error) error {
	if errors.Is(err, store.ErrRewardNotFound) {
		return domain.NewNotFoundError("Reward", id, err)
	}
	return err
}

// --- Listings ---

func (s *Service) CreateListing(ctx context.Context, input domain.CreateListingInput) (*domain.Listing, error) {
	s.listingMu.Lock()
	defer s.listingMu.Unlock()

	now := s.now()
	limit := s.cfg.ListingMonthlyLimit
	count, allowed, err := s.quota.Reserve(ctx, input.WhistleblowerID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("check listing quota: %w", err)
	}
	if !allowed {
		s.logger.Warn("monthly listing limit reached", "whistleblower_id", input.WhistleblowerID, "count", count)
		return nil, domain.NewConflictError(
			"Monthly listing limit reached",
			map[string]any{
				"currentCount": count,
				"maxAllowed":   limit,
				"message":      fmt.Sprintf("You have reached the maximum of %d listings per month", limit),
			},
			ErrMonthlyListingLimit,
		)
	}

	listing, err := s.listings.Create(ctx, input)
	if err != nil {
		if relErr := s.quota.Release(ctx, input.WhistleblowerID, now); relErr != nil {
			s.logger.Error("failed to release listing quota", "whistleblower_id", input.WhistleblowerID, "error", relErr)
		}
		return nil, fmt.Errorf("create listing: %w", err)
	}
	s.logger.Info("listing created", "listing_id", listing.ID, "whistleblower_id", listing.WhistleblowerID)
	return listing, nil
}

func (s *Service) ListListings(ctx context.Context, filters domain.ListingFilters) (*domain.PaginatedListings, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, domain.NewValidationError("Invalid listing status", domain.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", filters.Status)})
	}
	return s.listings.List(ctx, filters)
}

func (s *Service) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	listing, err := s.listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrListingNotFound) {
			return nil, domain.NewNotFoundError("Listing", id, err)
		}
		return nil, err
	}
	return listing, nil
}

// --- Outbox admin ---

// ListOutbox returns items with the given status oldest first, or all items newest first when
// status is empty. limit caps both.
func (s *Service) ListOutbox(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxItem, error) {
	if limit < 1 || limit > MaxOutboxListLimit {
		return nil, domain.NewValidationError(fmt.Sprintf("Limit must be between 1 and %d", MaxOutboxListLimit))
	}
	if status == "" {
		return s.outbox.ListAll(ctx, limit)
	}
	if !status.Valid() {
		return nil, domain.NewValidationError("Invalid status. Must be one of: pending, sent, failed")
	}
	items, err := s.outbox.ListByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// RetryOutboxItem retries one item and returns its state afterwards.
func (s *Service) RetryOutboxItem(ctx context.Context, id string) (bool, *domain.OutboxItem, error) {
	s.logger.Info("manual retry requested", "outbox_id", id)
	sent, err := s.sender.Retry(ctx, id)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return false, nil, err
		}
		s.logger.Error("manual retry failed", "outbox_id", id, "error", err)
	}
	item, getErr := s.outbox.GetByID(ctx, id)
	if getErr != nil {
		if errors.Is(getErr, store.ErrOutboxItemNotFound) {
			return false, nil, domain.NewNotFoundError("Outbox item", id, getErr)
		}
		return false, nil, fmt.Errorf("reload outbox item after retry: %w", getErr)
	}
	return sent, item, nil
}

func (s *Service) RetryAllOutbox(ctx context.Context) (RetryResult, error) {
	s.logger.Info("retry of all failed outbox items requested")
	result, err := s.sender.RetryAll(ctx)
	if err != nil {
		return RetryResult{}, err
	}
	s.logger.Info("retry all completed", "succeeded", result.Succeeded, "failed", result.Failed)
	return result, nil
}

// --- Balances ---

func (s *Service) LedgerConfig() ledger.Config { return s.adapter.Config() }

func (s *Service) GetBalance(ctx context.Context, account string) (int64, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return 0, domain.NewValidationError("Account parameter is required", domain.FieldError{Field: "account", Message: "account is required"})
	}
	return s.adapter.GetBalance(ctx, account)
}

// Credit adds a positive integer amount to account and returns the new balance.
func (s *Service) Credit(ctx context.Context, account, amount string) (int64, error) {
	return s.adjustBalance(ctx, account, amount, s.adapter.Credit)
}

// Debit removes a positive integer amount from account and returns the new balance.
func (s *Service) Debit(ctx context.Context, account, amount string) (int64, error) {
	return s.adjustBalance(ctx, account, amount, s.adapter.Debit)
}

func (s *Service) adjustBalance(ctx context.Context, account, amount string, apply func(context.Context, string, int64) error) (int64, error) {
	account = strings.TrimSpace(account)
	value, err := ParseLedgerAmount(amount)
	if err != nil {
		return 0, err
	}
	if account == "" {
		return 0, domain.NewValidationError("Account parameter is required", domain.FieldError{Field: "account", Message: "account is required"})
	}
	if err := apply(ctx, account, value); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return 0, domain.NewConflictError("Insufficient balance", map[string]any{"account": account, "amount": amount}, err)
		}
		if errors.Is(err, ledger.ErrInvalidAmount) {
			return 0, domain.NewValidationError(err.Error(), domain.FieldError{Field: "amount", Message: err.Error()})
		}
		return 0, err
	}
	return s.adapter.GetBalance(ctx, account)
}

// ParseLedgerAmount accepts a positive integer amount given as a string.
func ParseLedgerAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, domain.NewValidationError("Amount string is required in request body", domain.FieldError{Field: "amount", Message: "amount is required"})
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return 0, domain.NewValidationError("Amount must be a positive integer", domain.FieldError{Field: "amount", Message: "amount must be a positive integer string"})
	}
	return value, nil
}
