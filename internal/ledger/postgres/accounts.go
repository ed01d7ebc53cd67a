package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pcidss-oracle/internal/crypto"
	"pcidss-oracle/internal/ledger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// accountStore implements ledger.BankAccountStore against a querier, which
// may be the pool itself or a single ledger transaction. card_cvv is
// encrypted at rest with AES-256-GCM whenever encryptionKey is set; a nil
// key leaves it plaintext (used by tests against an unencrypted fixture).
type accountStore struct {
	db            querier
	encryptionKey []byte
}

func (r *accountStore) encryptCVV(cvv string) (string, error) {
	if len(r.encryptionKey) == 0 {
		return cvv, nil
	}
	return crypto.Encrypt(cvv, r.encryptionKey)
}

func (r *accountStore) decryptCVV(stored string) (string, error) {
	if len(r.encryptionKey) == 0 {
		return stored, nil
	}
	return crypto.Decrypt(stored, r.encryptionKey)
}

func (r *accountStore) FindByID(ctx context.Context, id uuid.UUID) (*ledger.BankAccount, error) {
	const query = `SELECT
		id, card_number, card_holder_first_name, card_holder_last_name,
		card_expiration_date, card_cvv, balance, nonce, account_id
	FROM bank_account WHERE id = $1`

	return r.scanOne(ctx, query, id)
}

func (r *accountStore) FindByCardNumber(ctx context.Context, cardNumber string) (*ledger.BankAccount, error) {
	const query = `SELECT
		id, card_number, card_holder_first_name, card_holder_last_name,
		card_expiration_date, card_cvv, balance, nonce, account_id
	FROM bank_account WHERE card_number = $1`

	return r.scanOne(ctx, query, cardNumber)
}

func (r *accountStore) FindByAccountID(ctx context.Context, accountID string) (*ledger.BankAccount, error) {
	const query = `SELECT
		id, card_number, card_holder_first_name, card_holder_last_name,
		card_expiration_date, card_cvv, balance, nonce, account_id
	FROM bank_account WHERE account_id = $1`

	return r.scanOne(ctx, query, strings.ToLower(strings.TrimPrefix(accountID, "0x")))
}

func (r *accountStore) scanOne(ctx context.Context, query string, arg any) (*ledger.BankAccount, error) {
	var a ledger.BankAccount
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.CardNumber, &a.CardHolderFirstName, &a.CardHolderLastName,
		&a.CardExpirationDate, &a.CardCVV, &a.Balance, &a.Nonce, &a.AccountID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find bank account: %w", err)
	}
	cvv, err := r.decryptCVV(a.CardCVV)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt card cvv: %w", err)
	}
	a.CardCVV = cvv
	return &a, nil
}

func (r *accountStore) Create(ctx context.Context, create *ledger.BankAccountCreate) (*ledger.BankAccount, error) {
	const query = `INSERT INTO bank_account (
		id, card_number, card_holder_first_name, card_holder_last_name,
		card_expiration_date, card_cvv, balance, nonce, account_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)`

	encryptedCVV, err := r.encryptCVV(create.CardCVV)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt card cvv: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		create.ID, create.CardNumber, create.CardHolderFirstName, create.CardHolderLastName,
		create.CardExpirationDate, encryptedCVV, create.Balance, create.AccountID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "bank_account_card_number_key":
				return nil, ledger.ErrCardNumberExists
			case "bank_account_account_id_key":
				return nil, ledger.ErrAccountIDExists
			}
		}
		return nil, fmt.Errorf("failed to create bank account: %w", err)
	}

	return &ledger.BankAccount{
		ID:                  create.ID,
		CardNumber:          create.CardNumber,
		CardHolderFirstName: create.CardHolderFirstName,
		CardHolderLastName:  create.CardHolderLastName,
		CardExpirationDate:  create.CardExpirationDate,
		CardCVV:             create.CardCVV,
		Balance:             create.Balance,
		Nonce:               0,
		AccountID:           create.AccountID,
	}, nil
}

// Update is the compare-and-swap balance write: nonce only advances if the
// row's current nonce still matches expectedNonce, closing the race the
// original read-modify-write left open.
func (r *accountStore) Update(ctx context.Context, id uuid.UUID, newBalance uint32, expectedNonce uint32) (*ledger.BankAccount, error) {
	const query = `UPDATE bank_account
		SET balance = $1, nonce = nonce + 1
		WHERE id = $2 AND nonce = $3`

	tag, err := r.db.Exec(ctx, query, newBalance, id, expectedNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to update bank account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ledger.ErrNonceConflict
	}

	return r.FindByID(ctx, id)
}

func (r *accountStore) BindAccountID(ctx context.Context, id uuid.UUID, accountID string) error {
	normalized := strings.ToLower(strings.TrimPrefix(accountID, "0x"))

	const query = `UPDATE bank_account SET account_id = $1 WHERE id = $2 AND account_id IS NULL`

	tag, err := r.db.Exec(ctx, query, normalized, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ledger.ErrAccountIDExists
		}
		return fmt.Errorf("failed to bind account id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrAccountIDAlreadyBound
	}
	return nil
}

func (r *accountStore) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM bank_account WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete bank account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}
