// Package bootstrap seeds the eight named dev accounts used by the oracle's
// test fixtures and local demos, mirroring the dev/test accounts the
// original source wired up by name (Alice, Bob, Charlie, Dave, Eve,
// Acquirer, Alice_stash, Bob_stash). This is a startup phase gated on
// --dev, never invoked in production: seeding is not part of the
// authorization pipeline.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pcidss-oracle/internal/ledger"
	"pcidss-oracle/pkg/logger"
)

// DevAccount is one fixture row: the fields needed to create a bank_account
// plus an optional fixed on-chain account id so reversal/registration
// scenarios have something stable to reference.
type DevAccount struct {
	Name         string
	CardNumber   string
	CardCVV      string
	ExpiryOffset int // months from seed time; negative means already expired
	Balance      uint32
	AccountIDHex string // empty means unbound, same as a freshly registered card
}

// DevAccounts is the fixed fixture set named in SPEC_FULL.md section 8's
// concrete scenarios and section 10.6's bootstrap description. Eve's card
// is expired by construction (ExpiryOffset -2) so the expired-card
// authorization scenario has a ready-made account.
var DevAccounts = []DevAccount{
	{Name: "Alice", CardNumber: "4169812345678901", CardCVV: "123", ExpiryOffset: 24, Balance: 1000},
	{Name: "Bob", CardNumber: "4169812345678902", CardCVV: "124", ExpiryOffset: 24, Balance: 1000},
	{Name: "Charlie", CardNumber: "4169812345678903", CardCVV: "125", ExpiryOffset: 24, Balance: 1000},
	{Name: "Dave", CardNumber: "4169812345678904", CardCVV: "126", ExpiryOffset: 24, Balance: 1000},
	{Name: "Eve", CardNumber: "4169812345678905", CardCVV: "127", ExpiryOffset: -2, Balance: 1000},
	{Name: "Acquirer", CardNumber: "123456", CardCVV: "999", ExpiryOffset: 60, Balance: 1_000_000_000},
	{Name: "Alice_stash", CardNumber: "4169812345678911", CardCVV: "223", ExpiryOffset: 24, Balance: 0},
	{Name: "Bob_stash", CardNumber: "4169812345678912", CardCVV: "224", ExpiryOffset: 24, Balance: 0},
}

// Seed creates every dev account that doesn't already exist, keyed by card
// number. now is the reference time card expiries are computed from;
// callers pass time.Now().UTC() in production and a fixed time in tests.
func Seed(ctx context.Context, accounts ledger.BankAccountStore, now time.Time) error {
	for _, dev := range DevAccounts {
		existing, err := accounts.FindByCardNumber(ctx, dev.CardNumber)
		if err != nil && !errors.Is(err, ledger.ErrAccountNotFound) {
			return fmt.Errorf("failed to look up dev account %s: %w", dev.Name, err)
		}
		if existing != nil {
			logger.Debug("dev account already seeded", zap.String("name", dev.Name))
			continue
		}

		create := &ledger.BankAccountCreate{
			ID:                  uuid.New(),
			CardNumber:          dev.CardNumber,
			CardHolderFirstName: dev.Name,
			CardHolderLastName:  "Dev",
			CardExpirationDate:  now.AddDate(0, dev.ExpiryOffset, 0),
			CardCVV:             dev.CardCVV,
			Balance:             dev.Balance,
		}
		if dev.AccountIDHex != "" {
			accountID := dev.AccountIDHex
			create.AccountID = &accountID
		}

		if _, err := accounts.Create(ctx, create); err != nil {
			return fmt.Errorf("failed to create dev account %s: %w", dev.Name, err)
		}
		logger.Info("seeded dev account", zap.String("name", dev.Name), zap.String("card_number", dev.CardNumber))
	}
	return nil
}
