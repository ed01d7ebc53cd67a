package ledger

import (
	"context"

	"github.com/google/uuid"
)

// BankAccountStore is the capability set the processor depends on to read
// and mutate bank accounts. It never exposes a raw driver handle; every
// method is a whole operation.
type BankAccountStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*BankAccount, error)
	FindByCardNumber(ctx context.Context, cardNumber string) (*BankAccount, error)
	FindByAccountID(ctx context.Context, accountID string) (*BankAccount, error)
	Create(ctx context.Context, create *BankAccountCreate) (*BankAccount, error)

	// Update performs a compare-and-swap balance update: the new balance is
	// written and the nonce incremented by exactly one only if the row's
	// current nonce still equals expectedNonce. Returns ErrNonceConflict if
	// another update won the race; the processor does not retry and answers
	// such a request with response code 12.
	Update(ctx context.Context, id uuid.UUID, newBalance uint32, expectedNonce uint32) (*BankAccount, error)

	// BindAccountID sets account_id once. Returns ErrAccountIDAlreadyBound if
	// the account already carries one, ErrAccountIDExists if the hex value is
	// bound to a different account.
	BindAccountID(ctx context.Context, id uuid.UUID, accountID string) error

	Delete(ctx context.Context, id uuid.UUID) error
}

// TransactionStore is the capability set the processor depends on to read
// and mutate transactions.
type TransactionStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	FindByHash(ctx context.Context, hash string) (*Transaction, error)
	FindByBeneficiaryID(ctx context.Context, beneficiaryID uuid.UUID) ([]*Transaction, error)
	Create(ctx context.Context, create *TransactionCreate) (*Transaction, error)

	// MarkReversed flips reversed false -> true. Returns
	// ErrTransactionNotFound if no unreversed row with this id exists, which
	// includes a row already reversed by a concurrent request.
	MarkReversed(ctx context.Context, id uuid.UUID) error

	Delete(ctx context.Context, id uuid.UUID) error
}

// AtomicLedger is an optional capability a store implementation may offer:
// running the two balance updates and the transaction insert of an
// authorization inside one storage-level transaction, so a crash between
// the beneficiary and recipient updates cannot leave the ledger unbalanced.
// The processor type-asserts for it and falls back to sequential,
// non-transactional calls when it is absent (see ledger Open Question #1).
type AtomicLedger interface {
	WithinLedgerTx(ctx context.Context, fn func(ctx context.Context, accounts BankAccountStore, transactions TransactionStore) error) error
}
