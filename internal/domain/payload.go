package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the precision of the settlement token.
const USDCDecimals = 6

// ReceiptPayload is the per-TxType body of an outbox item. Each variant has one concrete
// shape; the store keeps the interface value and the sender type-switches on it.
type ReceiptPayload interface {
	TxType() TxType
	// Validate checks required fields. Errors wrap ErrInvalidPayload.
	Validate() error
	// Fields is the key-value view hashed into the transaction id. Money is rendered as
	// decimal strings; floats never appear.
	Fields() map[string]any
	// Receipt projects the payload onto the ledger receipt fields.
	Receipt() ReceiptFields
}

// ReceiptFields are the ledger-facing values shared by every payload variant.
type ReceiptFields struct {
	DealID           string
	ListingID        string
	AmountUSDC       decimal.Decimal
	TokenAddress     string
	AmountNGN        decimal.NullDecimal
	FxRateNGNPerUSDC decimal.NullDecimal
	FxProvider       string
}

// Settlement holds the amount and token fields common to every receipt, plus the optional
// NGN metadata captured at confirmation time.
type Settlement struct {
	AmountUSDC       decimal.Decimal     `json:"amountUsdc"`
	TokenAddress     string              `json:"tokenAddress"`
	AmountNGN        decimal.NullDecimal `json:"amountNgn"`
	FxRateNGNPerUSDC decimal.NullDecimal `json:"fxRateNgnPerUsdc"`
	FxProvider       string              `json:"fxProvider,omitempty"`
}

func (s Settlement) validate() error {
	if !s.AmountUSDC.IsPositive() {
		return fmt.Errorf("%w: amountUsdc must be greater than 0", ErrInvalidPayload)
	}
	if !s.AmountUSDC.Equal(s.AmountUSDC.Truncate(USDCDecimals)) {
		return fmt.Errorf("%w: amountUsdc has more than %d decimal places", ErrInvalidPayload, USDCDecimals)
	}
	if strings.TrimSpace(s.TokenAddress) == "" {
		return fmt.Errorf("%w: tokenAddress is required", ErrInvalidPayload)
	}
	if s.AmountNGN.Valid && !s.AmountNGN.Decimal.IsPositive() {
		return fmt.Errorf("%w: amountNgn must be greater than 0", ErrInvalidPayload)
	}
	if s.FxRateNGNPerUSDC.Valid && !s.FxRateNGNPerUSDC.Decimal.IsPositive() {
		return fmt.Errorf("%w: fxRateNgnPerUsdc must be greater than 0", ErrInvalidPayload)
	}
	return nil
}

func (s Settlement) fields(out map[string]any) {
	out["amountUsdc"] = s.AmountUSDC.String()
	out["tokenAddress"] = s.TokenAddress
	if s.AmountNGN.Valid {
		out["amountNgn"] = s.AmountNGN.Decimal.String()
	}
	if s.FxRateNGNPerUSDC.Valid {
		out["fxRateNgnPerUsdc"] = s.FxRateNGNPerUSDC.Decimal.String()
	}
	if s.FxProvider != "" {
		out["fxProvider"] = s.FxProvider
	}
}

func (s Settlement) receipt(dealID, listingID string) ReceiptFields {
	return ReceiptFields{
		DealID:           dealID,
		ListingID:        listingID,
		AmountUSDC:       s.AmountUSDC,
		TokenAddress:     s.TokenAddress,
		AmountNGN:        s.AmountNGN,
		FxRateNGNPerUSDC: s.FxRateNGNPerUSDC,
		FxProvider:       s.FxProvider,
	}
}

// TenantRepaymentPayload records a tenant paying a scheduled instalment.
type TenantRepaymentPayload struct {
	DealID string `json:"dealId"`
	Period int    `json:"period,omitempty"`
	Settlement
}

func (p TenantRepaymentPayload) TxType() TxType { return TxTypeTenantRepayment }

func (p TenantRepaymentPayload) Validate() error {
	if strings.TrimSpace(p.DealID) == "" {
		return fmt.Errorf("%w: dealId is required", ErrInvalidPayload)
	}
	if p.Period < 0 {
		return fmt.Errorf("%w: period must be a positive integer", ErrInvalidPayload)
	}
	return p.Settlement.validate()
}

func (p TenantRepaymentPayload) Fields() map[string]any {
	out := map[string]any{"dealId": p.DealID}
	if p.Period > 0 {
		out["period"] = p.Period
	}
	p.Settlement.fields(out)
	return out
}

func (p TenantRepaymentPayload) Receipt() ReceiptFields {
	return p.Settlement.receipt(p.DealID, "")
}

// LandlordPayoutPayload records the financed rent being paid out to a landlord.
type LandlordPayoutPayload struct {
	DealID    string `json:"dealId"`
	ListingID string `json:"listingId,omitempty"`
	Settlement
}

func (p LandlordPayoutPayload) TxType() TxType { return TxTypeLandlordPayout }

func (p LandlordPayoutPayload) Validate() error {
	if strings.TrimSpace(p.DealID) == "" {
		return fmt.Errorf("%w: dealId is required", ErrInvalidPayload)
	}
	return p.Settlement.validate()
}

func (p LandlordPayoutPayload) Fields() map[string]any {
	out := map[string]any{"dealId": p.DealID}
	if p.ListingID != "" {
		out["listingId"] = p.ListingID
	}
	p.Settlement.fields(out)
	return out
}

func (p LandlordPayoutPayload) Receipt() ReceiptFields {
	return p.Settlement.receipt(p.DealID, p.ListingID)
}

// WhistleblowerRewardPayload records a reward paid for a listing that became a deal.
type WhistleblowerRewardPayload struct {
	RewardID        string `json:"rewardId,omitempty"`
	WhistleblowerID string `json:"whistleblowerId,omitempty"`
	DealID          string `json:"dealId"`
	ListingID       string `json:"listingId"`
	Settlement
}

func (p WhistleblowerRewardPayload) TxType() TxType { return TxTypeWhistleblowerReward }

func (p WhistleblowerRewardPayload) Validate() error {
	if strings.TrimSpace(p.DealID) == "" {
		return fmt.Errorf("%w: dealId is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.ListingID) == "" {
		return fmt.Errorf("%w: listingId is required", ErrInvalidPayload)
	}
	return p.Settlement.validate()
}

func (p WhistleblowerRewardPayload) Fields() map[string]any {
	out := map[string]any{
		"dealId":    p.DealID,
		"listingId": p.ListingID,
	}
	if p.RewardID != "" {
		out["rewardId"] = p.RewardID
	}
	if p.WhistleblowerID != "" {
		out["whistleblowerId"] = p.WhistleblowerID
	}
	p.Settlement.fields(out)
	return out
}

func (p WhistleblowerRewardPayload) Receipt() ReceiptFields {
	return p.Settlement.receipt(p.DealID, p.ListingID)
}

// DecodePayload rebuilds the concrete payload for txType from its JSON form.
func DecodePayload(txType TxType, raw []byte) (ReceiptPayload, error) {
	switch txType {
	case TxTypeTenantRepayment:
		var p TenantRepaymentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", txType, err)
		}
		return p, nil
	case TxTypeLandlordPayout:
		var p LandlordPayoutPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", txType, err)
		}
		return p, nil
	case TxTypeWhistleblowerReward:
		var p WhistleblowerRewardPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", txType, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown tx type %q", txType)
	}
}
