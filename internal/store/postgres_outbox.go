/**
 * @description
 * PostgreSQL implementation of OutboxRepository. The unique constraint on external_ref is
 * what makes Create idempotent across processes: concurrent inserts for one reference race
 * on INSERT ... ON CONFLICT DO NOTHING and every loser re-reads the winner's row.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: pool, row scanning and ErrNoRows.
 * - internal/canonical: reference normalization.
 */

package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelterflex/rent-service/internal/canonical"
	"github.com/shelterflex/rent-service/internal/domain"
)

//go:embed schema.sql
var outboxSchemaSQL string

// maxLastErrorLen bounds the stored failure reason.
const maxLastErrorLen = 2000

const outboxColumns = `id, tx_type, external_ref, tx_id, payload::text, status, attempts, last_error, created_at, updated_at`

// PostgresOutboxRepository stores outbox items in the ledger_outbox table.
type PostgresOutboxRepository struct {
	db *pgxpool.Pool
}

func NewPostgresOutboxRepository(db *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

// EnsureSchema creates the outbox table and its indexes if they are missing.
func (r *PostgresOutboxRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, outboxSchemaSQL); err != nil {
		return fmt.Errorf("failed to apply outbox schema: %w", err)
	}
	return nil
}

func (r *PostgresOutboxRepository) Create(ctx context.Context, txType domain.TxType, externalRef string, payload domain.ReceiptPayload) (*domain.OutboxItem, error) {
	ref, err := canonical.NormalizeExternalRef(externalRef)
	if err != nil {
		return nil, err
	}

	existing, err := r.getBy(ctx, "external_ref", ref)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrOutboxItemNotFound) {
		return nil, err
	}

	item, err := newOutboxItem(txType, ref, payload, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	blob, err := json.Marshal(item.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbox payload: %w", err)
	}

	query := `
		INSERT INTO ledger_outbox (id, tx_type, external_ref, tx_id, payload, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, 0, $7, $7)
		ON CONFLICT (external_ref) DO NOTHING
		RETURNING ` + outboxColumns

	created, err := scanOutboxItem(r.db.QueryRow(ctx, query,
		item.ID,
		string(item.TxType),
		item.CanonicalExternalRef,
		item.TxID,
		string(blob),
		string(item.Status),
		item.CreatedAt,
	))
	if errors.Is(err, ErrOutboxItemNotFound) {
		// another writer claimed this reference first
		return r.getBy(ctx, "external_ref", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert outbox item: %w", err)
	}
	return created, nil
}

func (r *PostgresOutboxRepository) GetByID(ctx context.Context, id string) (*domain.OutboxItem, error) {
	return r.getBy(ctx, "id", id)
}

func (r *PostgresOutboxRepository) GetByExternalRef(ctx context.Context, externalRef string) (*domain.OutboxItem, error) {
	ref, err := canonical.NormalizeExternalRef(externalRef)
	if err != nil {
		return nil, ErrOutboxItemNotFound
	}
	return r.getBy(ctx, "external_ref", ref)
}

// getBy looks an item up by a unique column. column is never user input.
func (r *PostgresOutboxRepository) getBy(ctx context.Context, column, value string) (*domain.OutboxItem, error) {
	query := `SELECT ` + outboxColumns + ` FROM ledger_outbox WHERE ` + column + ` = $1 LIMIT 1`
	return scanOutboxItem(r.db.QueryRow(ctx, query, value))
}

func (r *PostgresOutboxRepository) ListByStatus(ctx context.Context, status domain.OutboxStatus) ([]domain.OutboxItem, error) {
	query := `SELECT ` + outboxColumns + ` FROM ledger_outbox WHERE status = $1 ORDER BY created_at ASC, seq ASC`
	return r.queryItems(ctx, query, string(status))
}

func (r *PostgresOutboxRepository) ListAll(ctx context.Context, limit int) ([]domain.OutboxItem, error) {
	if limit <= 0 {
		limit = DefaultOutboxListLimit
	}
	query := `SELECT ` + outboxColumns + ` FROM ledger_outbox ORDER BY created_at DESC, seq DESC LIMIT $1`
	return r.queryItems(ctx, query, limit)
}

func (r *PostgresOutboxRepository) UpdateStatus(ctx context.Context, id string, status domain.OutboxStatus, lastError string) (*domain.OutboxItem, error) {
	query := `
		UPDATE ledger_outbox
		SET status = $2,
			attempts = attempts + 1,
			updated_at = NOW(),
			last_error = CASE
				WHEN $2 = 'sent' THEN NULL
				WHEN $3 <> '' THEN $3
				ELSE last_error
			END
		WHERE id = $1
		RETURNING ` + outboxColumns

	return scanOutboxItem(r.db.QueryRow(ctx, query, id, string(status), truncateError(lastError)))
}

func (r *PostgresOutboxRepository) queryItems(ctx context.Context, query string, args ...any) ([]domain.OutboxItem, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OutboxItem, 0)
	for rows.Next() {
		item, err := scanOutboxItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanOutboxItem(row pgx.Row) (*domain.OutboxItem, error) {
	var (
		item        domain.OutboxItem
		txType      string
		status      string
		payloadText string
	)
	err := row.Scan(
		&item.ID,
		&txType,
		&item.CanonicalExternalRef,
		&item.TxID,
		&payloadText,
		&status,
		&item.Attempts,
		&item.LastError,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOutboxItemNotFound
		}
		return nil, err
	}

	item.TxType = domain.TxType(txType)
	item.Status = domain.OutboxStatus(status)
	payload, err := domain.DecodePayload(item.TxType, []byte(payloadText))
	if err != nil {
		return nil, fmt.Errorf("outbox item %s: %w", item.ID, err)
	}
	item.Payload = payload
	return &item, nil
}

// truncateError cuts msg to at most maxLastErrorLen bytes without splitting a rune; postgres
// rejects invalid UTF-8 in text columns.
func truncateError(msg string) string {
	if len(msg) <= maxLastErrorLen {
		return msg
	}
	cut := maxLastErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
