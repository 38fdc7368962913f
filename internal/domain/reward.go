package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RewardStatus: pending -> payable -> paid. paid and cancelled are terminal.
type RewardStatus string

const (
	RewardStatusPending   RewardStatus = "pending"
	RewardStatusPayable   RewardStatus = "payable"
	RewardStatusPaid      RewardStatus = "paid"
	RewardStatusCancelled RewardStatus = "cancelled"
)

func (s RewardStatus) Valid() bool {
	switch s {
	case RewardStatusPending, RewardStatusPayable, RewardStatusPaid, RewardStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s RewardStatus) Terminal() bool {
	return s == RewardStatusPaid || s == RewardStatusCancelled
}

// CanTransitionTo reports whether an operator may move a reward from s to next.
// The paid transition goes through the payout flow, never through a plain status update.
func (s RewardStatus) CanTransitionTo(next RewardStatus) bool {
	switch s {
	case RewardStatusPending:
		return next == RewardStatusPayable || next == RewardStatusCancelled
	case RewardStatusPayable:
		return next == RewardStatusCancelled
	}
	return false
}

// RewardPaymentMetadata keeps the optional NGN side of a USDC payout.
type RewardPaymentMetadata struct {
	AmountNGN        decimal.NullDecimal `json:"amountNgn"`
	FxRateNGNPerUSDC decimal.NullDecimal `json:"fxRateNgnPerUsdc"`
	FxProvider       string              `json:"fxProvider,omitempty"`
}

// Reward is a whistleblower bounty for a listing that turned into a deal.
type Reward struct {
	ID                string                 `json:"rewardId"`
	WhistleblowerID   string                 `json:"whistleblowerId"`
	DealID            string                 `json:"dealId"`
	ListingID         string                 `json:"listingId"`
	AmountUSDC        decimal.Decimal        `json:"amountUsdc"`
	Status            RewardStatus           `json:"status"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
	PaidAt            *time.Time             `json:"paidAt,omitempty"`
	PaymentTxID       *string                `json:"paymentTxId,omitempty"`
	ExternalRefSource *string                `json:"externalRefSource,omitempty"`
	ExternalRef       *string                `json:"externalRef,omitempty"`
	Metadata          *RewardPaymentMetadata `json:"metadata,omitempty"`
}

func (r Reward) Clone() Reward {
	out := r
	out.PaidAt = clonePtr(r.PaidAt)
	out.PaymentTxID = clonePtr(r.PaymentTxID)
	out.ExternalRefSource = clonePtr(r.ExternalRefSource)
	out.ExternalRef = clonePtr(r.ExternalRef)
	out.Metadata = clonePtr(r.Metadata)
	return out
}

type CreateRewardInput struct {
	WhistleblowerID string
	DealID          string
	ListingID       string
	AmountUSDC      decimal.Decimal
}

// MarkRewardPaidInput is the validated body of a reward payout.
type MarkRewardPaidInput struct {
	AmountUSDC        decimal.Decimal
	TokenAddress      string
	ExternalRefSource string
	ExternalRef       string
	AmountNGN         decimal.NullDecimal
	FxRateNGNPerUSDC  decimal.NullDecimal
	FxProvider        string
}

// RewardPayment is what the store records when a reward is paid.
type RewardPayment struct {
	PaymentTxID       string
	ExternalRefSource string
	ExternalRef       string
	Metadata          *RewardPaymentMetadata
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
