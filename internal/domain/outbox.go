package domain

import (
	"time"
)

// OutboxStatus tracks delivery of a write intent to the ledger.
// pending -> sent | failed, failed -> sent | failed. sent is terminal.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxStatuses lists every status in display order.
var OutboxStatuses = []OutboxStatus{OutboxStatusPending, OutboxStatusSent, OutboxStatusFailed}

func (s OutboxStatus) Valid() bool {
	switch s {
	case OutboxStatusPending, OutboxStatusSent, OutboxStatusFailed:
		return true
	}
	return false
}

// TxType selects the receipt kind recorded on the ledger and the payload shape that goes with it.
type TxType string

const (
	TxTypeTenantRepayment     TxType = "tenant_repayment"
	TxTypeLandlordPayout      TxType = "landlord_payout"
	TxTypeWhistleblowerReward TxType = "whistleblower_reward"
)

var TxTypes = []TxType{TxTypeTenantRepayment, TxTypeLandlordPayout, TxTypeWhistleblowerReward}

func (t TxType) Valid() bool {
	switch t {
	case TxTypeTenantRepayment, TxTypeLandlordPayout, TxTypeWhistleblowerReward:
		return true
	}
	return false
}

// OutboxItem is a durable record of one intended ledger write. At most one item exists per
// canonical external reference for the lifetime of the store.
type OutboxItem struct {
	ID                   string         `json:"id"`
	TxType               TxType         `json:"txType"`
	CanonicalExternalRef string         `json:"externalRef"`
	TxID                 string         `json:"txId"`
	Payload              ReceiptPayload `json:"payload"`
	Status               OutboxStatus   `json:"status"`
	Attempts             int            `json:"attempts"`
	LastError            *string        `json:"lastError,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// Clone copies the item. Payload variants are plain values, so copying the interface
// value does not alias any mutable state.
func (i OutboxItem) Clone() OutboxItem {
	out := i
	if i.LastError != nil {
		lastError := *i.LastError
		out.LastError = &lastError
	}
	return out
}

