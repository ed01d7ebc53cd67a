package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// TransactionType is 0=Debit (add to balance) or 1=Credit (subtract from
// balance). The naming is card-network convention, not accounting
// convention: a Credit to the beneficiary's card is money leaving it.
type TransactionType uint8

const (
	Debit  TransactionType = 0
	Credit TransactionType = 1
)

// BankAccount is a card-ledger entity: a card number, its CVV/expiry, and an
// unsigned 32-bit balance, optionally bound to a 32-byte on-chain address.
type BankAccount struct {
	ID                  uuid.UUID
	CardNumber          string
	CardHolderFirstName string
	CardHolderLastName  string
	CardExpirationDate  time.Time
	CardCVV             string
	Balance             uint32
	Nonce               uint32
	AccountID           *string
}

// BankAccountCreate carries the fields needed to register a new account.
type BankAccountCreate struct {
	ID                  uuid.UUID
	CardNumber          string
	CardHolderFirstName string
	CardHolderLastName  string
	CardExpirationDate  time.Time
	CardCVV             string
	Balance             uint32
	AccountID           *string
}

// ApplyDebit computes the balance after adding amount (the beneficiary is
// being paid back, e.g. a reversal credit-reversal or a reversal debit-leg).
// It never mutates a; callers persist the result through the store.
func (a *BankAccount) ApplyDebit(amount uint32) (uint32, error) {
	newBalance := a.Balance + amount
	if newBalance < a.Balance {
		return 0, ErrBalanceOverflow
	}
	return newBalance, nil
}

// ApplyCredit computes the balance after subtracting amount (the
// beneficiary pays). It never mutates a.
func (a *BankAccount) ApplyCredit(amount uint32) (uint32, error) {
	if amount > a.Balance {
		return 0, ErrBalanceUnderflow
	}
	return a.Balance - amount, nil
}

// NextNonce computes the nonce after one more state-changing operation.
func (a *BankAccount) NextNonce() (uint32, error) {
	if a.Nonce == ^uint32(0) {
		return 0, ErrNonceOverflow
	}
	return a.Nonce + 1, nil
}

// Transaction records one authorization or reversal outcome.
type Transaction struct {
	ID              uuid.UUID
	Hash            string
	From            uuid.UUID
	To              *uuid.UUID
	Amount          uint32
	TransactionType TransactionType
	Reversed        bool
	IsoMsgRaw       []byte
	Nonce           uint32
	CreatedAt       time.Time
}

// TransactionCreate carries the fields needed to record a new transaction.
// Hash is derived by DeriveHash before the row is persisted.
type TransactionCreate struct {
	ID              uuid.UUID
	From            uuid.UUID
	To              *uuid.UUID
	Amount          uint32
	TransactionType TransactionType
	IsoMsgRaw       []byte
	Nonce           uint32
}

// DeriveHash computes hex(SHA256(isoMsgRaw || u32_be(nonce))). This is the
// transaction's identity: it binds the outcome a client later references
// (field 126 of the response) to the exact bytes and nonce that produced it.
func DeriveHash(isoMsgRaw []byte, nonce uint32) string {
	buf := make([]byte, len(isoMsgRaw)+4)
	copy(buf, isoMsgRaw)
	binary.BigEndian.PutUint32(buf[len(isoMsgRaw):], nonce)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// NewTransaction builds a Transaction from a TransactionCreate, deriving its
// hash. It does not persist anything.
func NewTransaction(c *TransactionCreate) *Transaction {
	return &Transaction{
		ID:              c.ID,
		Hash:            DeriveHash(c.IsoMsgRaw, c.Nonce),
		From:            c.From,
		To:              c.To,
		Amount:          c.Amount,
		TransactionType: c.TransactionType,
		Reversed:        false,
		IsoMsgRaw:       c.IsoMsgRaw,
		Nonce:           c.Nonce,
		CreatedAt:       time.Now().UTC(),
	}
}
