/**
 * @description
 * Package ledger is the boundary between the rent service and the on-chain ledger that
 * records payment receipts. Implementations must treat a repeated txId as success: the
 * outbox relies on that to retry safely after ambiguous failures.
 *
 * @dependencies
 * - github.com/shopspring/decimal: receipt amounts.
 */
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Config describes the ledger network the adapter talks to.
type Config struct {
	RPCURL            string `json:"rpcUrl"`
	NetworkPassphrase string `json:"networkPassphrase"`
	ContractID        string `json:"contractId,omitempty"`
}

// ReceiptRequest is a single receipt write. TxID is the idempotency key.
type ReceiptRequest struct {
	TxID             string              `json:"txId"`
	TxType           string              `json:"txType"`
	AmountUSDC       decimal.Decimal     `json:"amountUsdc"`
	TokenAddress     string              `json:"tokenAddress"`
	DealID           string              `json:"dealId"`
	ListingID        string              `json:"listingId,omitempty"`
	ExternalRefHash  string              `json:"externalRefHash"`
	AmountNGN        decimal.NullDecimal `json:"amountNgn"`
	FxRateNGNPerUSDC decimal.NullDecimal `json:"fxRateNgnPerUsdc"`
	FxProvider       string              `json:"fxProvider,omitempty"`
}

// Adapter is what the outbox sender and the balance routes need from the ledger.
type Adapter interface {
	RecordReceipt(ctx context.Context, req ReceiptRequest) error
	GetBalance(ctx context.Context, account string) (int64, error)
	Credit(ctx context.Context, account string, amount int64) error
	Debit(ctx context.Context, account string, amount int64) error
	Config() Config
}
