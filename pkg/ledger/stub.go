package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf16"
)

// StubAdapter is an in-memory ledger. Balances start at a deterministic value derived from
// the account name, and receipts are deduplicated by txId.
type StubAdapter struct {
	mu       sync.Mutex
	cfg      Config
	logger   *slog.Logger
	balances map[string]int64
	receipts map[string]ReceiptRequest
	calls    int

	// FailReceipt, when set, is consulted before a receipt is recorded. A non-nil error is
	// returned to the caller and nothing is stored.
	FailReceipt func(ReceiptRequest) error
}

func NewStubAdapter(cfg Config, logger *slog.Logger) *StubAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("using stub ledger adapter, no network calls will be made", "rpc_url", cfg.RPCURL, "contract_id", cfg.ContractID)
	return &StubAdapter{
		cfg:      cfg,
		logger:   logger,
		balances: make(map[string]int64),
		receipts: make(map[string]ReceiptRequest),
	}
}

func (s *StubAdapter) RecordReceipt(ctx context.Context, req ReceiptRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.FailReceipt != nil {
		if err := s.FailReceipt(req); err != nil {
			return err
		}
	}
	if _, ok := s.receipts[req.TxID]; ok {
		s.logger.Debug("stub ledger: receipt already recorded", "tx_id", req.TxID)
		return nil
	}
	s.receipts[req.TxID] = req
	s.logger.Debug("stub ledger: receipt recorded", "tx_id", req.TxID, "tx_type", req.TxType, "deal_id", req.DealID)
	return nil
}

func (s *StubAdapter) GetBalance(ctx context.Context, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(account), nil
}

func (s *StubAdapter) Credit(ctx context.Context, account string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[account] = s.balanceLocked(account) + amount
	return nil
}

func (s *StubAdapter) Debit(ctx context.Context, account string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.balanceLocked(account)
	if current < amount {
		return fmt.Errorf("%w: %d < %d", ErrInsufficientBalance, current, amount)
	}
	s.balances[account] = current - amount
	return nil
}

func (s *StubAdapter) Config() Config {
	return s.cfg
}

// Receipt returns the recorded receipt for txID.
func (s *StubAdapter) Receipt(txID string) (ReceiptRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[txID]
	return r, ok
}

// ReceiptCount is the number of distinct receipts recorded.
func (s *StubAdapter) ReceiptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}

// Calls is the number of RecordReceipt invocations, including failed and duplicate ones.
func (s *StubAdapter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubAdapter) balanceLocked(account string) int64 {
	if balance, ok := s.balances[account]; ok {
		return balance
	}
	balance := 1000 + accountHash(account)%9000
	s.balances[account] = balance
	return balance
}

// accountHash is the 31-multiplier string hash over UTF-16 code units, folded to 32 bits.
func accountHash(account string) int64 {
	var h int32
	for _, unit := range utf16.Encode([]rune(account)) {
		h = (h << 5) - h + int32(unit)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}
