package postgres

import (
	"context"
	"errors"
	"fmt"

	"pcidss-oracle/internal/ledger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// transactionStore implements ledger.TransactionStore against a querier.
type transactionStore struct {
	db querier
}

func (r *transactionStore) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	const query = `SELECT
		id, hash, beneficiary_id, recipient_id, amount, transaction_type,
		reversed, iso_msg_raw, nonce, created_at
	FROM bank_transaction WHERE id = $1`

	return r.scanOne(ctx, query, id)
}

func (r *transactionStore) FindByHash(ctx context.Context, hash string) (*ledger.Transaction, error) {
	const query = `SELECT
		id, hash, beneficiary_id, recipient_id, amount, transaction_type,
		reversed, iso_msg_raw, nonce, created_at
	FROM bank_transaction WHERE hash = $1`

	return r.scanOne(ctx, query, hash)
}

func (r *transactionStore) scanOne(ctx context.Context, query string, arg any) (*ledger.Transaction, error) {
	var t ledger.Transaction
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&t.ID, &t.Hash, &t.From, &t.To, &t.Amount, &t.TransactionType,
		&t.Reversed, &t.IsoMsgRaw, &t.Nonce, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return &t, nil
}

func (r *transactionStore) FindByBeneficiaryID(ctx context.Context, beneficiaryID uuid.UUID) ([]*ledger.Transaction, error) {
	const query = `SELECT
		id, hash, beneficiary_id, recipient_id, amount, transaction_type,
		reversed, iso_msg_raw, nonce, created_at
	FROM bank_transaction WHERE beneficiary_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		if err := rows.Scan(
			&t.ID, &t.Hash, &t.From, &t.To, &t.Amount, &t.TransactionType,
			&t.Reversed, &t.IsoMsgRaw, &t.Nonce, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (r *transactionStore) Create(ctx context.Context, create *ledger.TransactionCreate) (*ledger.Transaction, error) {
	t := ledger.NewTransaction(create)

	const query = `INSERT INTO bank_transaction (
		id, hash, beneficiary_id, recipient_id, amount, transaction_type,
		reversed, iso_msg_raw, nonce, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		t.ID, t.Hash, t.From, t.To, t.Amount, t.TransactionType, t.IsoMsgRaw, t.Nonce, t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ledger.ErrTransactionHashExists
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return t, nil
}

func (r *transactionStore) MarkReversed(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE bank_transaction SET reversed = true WHERE id = $1 AND reversed = false`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark transaction reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (r *transactionStore) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM bank_transaction WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}
