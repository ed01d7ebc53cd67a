// Package processor dispatches incoming ISO-8583 messages by MTI, runs the
// card-network state transitions (authorize, reverse, register), and writes
// the closed response-code taxonomy back onto the wire.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pcidss-oracle/internal/iso8583"
	"pcidss-oracle/internal/ledger"
	"pcidss-oracle/internal/validator"
	"pcidss-oracle/pkg/logger"
)

// Processor wires the ledger stores to the wire protocol.
type Processor struct {
	accounts     ledger.BankAccountStore
	transactions ledger.TransactionStore
	spec         *iso8583.Spec
}

func New(accounts ledger.BankAccountStore, transactions ledger.TransactionStore) *Processor {
	return &Processor{
		accounts:     accounts,
		transactions: transactions,
		spec:         iso8583.DefaultSpec(),
	}
}

// Process is the single entry point: parse, dispatch by MTI, assemble.
// Only a malformed wire message (ProtocolError) or an unsupported MTI
// escapes as an error; every other outcome is communicated through the
// response's field 39.
func (p *Processor) Process(ctx context.Context, raw []byte) (responseBytes []byte, responseMsg *iso8583.Msg, err error) {
	request, err := p.spec.Parse(raw)
	if err != nil {
		return nil, nil, err
	}

	responseMTI, ok := iso8583.ResponseMTI(iso8583.MTI(request.MTI()))
	if !ok {
		return nil, nil, fmt.Errorf("unsupported MTI %q", request.MTI())
	}

	response := iso8583.NewMsg(p.spec, string(responseMTI))
	response.EchoFrom(request, request.PresentFields()...)

	switch iso8583.MTI(request.MTI()) {
	case iso8583.AuthorizationRequest:
		err = p.handleAuthorization(ctx, request, response)
	case iso8583.ReversalRequest:
		err = p.handleReversal(ctx, request, response)
	case iso8583.NetworkManagementRequest:
		err = p.handleRegistration(ctx, request, response)
	default:
		return nil, nil, fmt.Errorf("unsupported MTI %q", request.MTI())
	}
	if err != nil {
		return nil, nil, err
	}

	responseBytes, err = response.Assemble()
	if err != nil {
		return nil, nil, err
	}
	return responseBytes, response, nil
}

func setResponseCode(response *iso8583.Msg, code iso8583.ResponseCode) error {
	return response.Set("response_code", code.String())
}

// handleAuthorization implements §4.4's authorization flow: resolve
// beneficiary/recipient, validate, apply the Credit/Debit pair, and insert
// the resulting transaction.
func (p *Processor) handleAuthorization(ctx context.Context, request, response *iso8583.Msg) error {
	pan, _ := request.Get("pan")
	acquirerID, _ := request.Get("acquiring_institution_id")

	var beneficiary, recipient *ledger.BankAccount
	var beneficiaryErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		beneficiary, beneficiaryErr = p.accounts.FindByCardNumber(gctx, pan)
		return nil // resolution failure is a response code, not a Process error
	})
	g.Go(func() error {
		if acquirerID == "" {
			return nil
		}
		found, err := p.accounts.FindByCardNumber(gctx, acquirerID)
		if err != nil {
			if !errors.Is(err, ledger.ErrAccountNotFound) {
				logger.Warn("failed to resolve recipient account", zap.Error(err))
			}
			return nil
		}
		recipient = found
		return nil
	})
	_ = g.Wait()

	if beneficiaryErr != nil || beneficiary == nil {
		return setResponseCode(response, iso8583.InvalidCardNumber)
	}

	code := validator.Validate(request, beneficiary, time.Time{})
	if code != iso8583.Approved {
		return setResponseCode(response, code)
	}

	amountRaw, _ := request.Get("amount")
	amount, err := parseAmount(amountRaw)
	if err != nil {
		return setResponseCode(response, iso8583.InvalidTransaction)
	}

	applyAndInsert := func(ctx context.Context, accounts ledger.BankAccountStore, transactions ledger.TransactionStore) error {
		newBeneficiaryBalance, applyErr := beneficiary.ApplyCredit(amount)
		if applyErr != nil {
			return applyErr
		}
		updatedBeneficiary, storeErr := accounts.Update(ctx, beneficiary.ID, newBeneficiaryBalance, beneficiary.Nonce)
		if storeErr != nil {
			return storeErr
		}

		var recipientID *uuid.UUID
		if recipient != nil {
			newRecipientBalance, applyErr := recipient.ApplyDebit(amount)
			if applyErr != nil {
				return applyErr
			}
			if _, storeErr := accounts.Update(ctx, recipient.ID, newRecipientBalance, recipient.Nonce); storeErr != nil {
				return storeErr
			}
			id := recipient.ID
			recipientID = &id
		}

		responseBytes, assembleErr := response.Assemble()
		if assembleErr != nil {
			return assembleErr
		}

		tx, createErr := transactions.Create(ctx, &ledger.TransactionCreate{
			ID:              uuid.New(),
			From:            beneficiary.ID,
			To:              recipientID,
			Amount:          amount,
			TransactionType: ledger.Credit,
			IsoMsgRaw:       responseBytes,
			Nonce:           updatedBeneficiary.Nonce,
		})
		if createErr != nil {
			return createErr
		}

		return response.Set("private_data", tx.Hash)
	}

	var opErr error
	if atomic, ok := p.accounts.(ledger.AtomicLedger); ok {
		opErr = atomic.WithinLedgerTx(ctx, applyAndInsert)
	} else {
		opErr = applyAndInsert(ctx, p.accounts, p.transactions)
	}
	if opErr != nil {
		logger.Error("authorization update failed", zap.Error(opErr))
		return setResponseCode(response, iso8583.InvalidTransaction)
	}

	return setResponseCode(response, iso8583.Approved)
}

// handleReversal implements §4.4's reversal flow: look up the transaction
// by its field-126 hash and apply the inverse of its original legs.
func (p *Processor) handleReversal(ctx context.Context, request, response *iso8583.Msg) error {
	beneficiaryForValidation, err := p.beneficiaryForReversal(ctx, request)
	if err != nil {
		return setResponseCode(response, iso8583.InvalidCardNumber)
	}

	code := validator.Validate(request, beneficiaryForValidation, time.Time{})
	if code != iso8583.Approved {
		return setResponseCode(response, code)
	}

	privateData, _ := request.Get("private_data")
	if len(privateData) < 64 {
		return setResponseCode(response, iso8583.InvalidTransaction)
	}
	hash := privateData[:64]

	tx, err := p.transactions.FindByHash(ctx, hash)
	if err != nil || tx.Reversed {
		return setResponseCode(response, iso8583.InvalidTransaction)
	}

	from, err := p.accounts.FindByID(ctx, tx.From)
	if err != nil {
		return setResponseCode(response, iso8583.InvalidTransaction)
	}
	newFromBalance, err := from.ApplyDebit(tx.Amount)
	if err != nil {
		return setResponseCode(response, iso8583.InvalidTransaction)
	}
	if _, err := p.accounts.Update(ctx, from.ID, newFromBalance, from.Nonce); err != nil {
		return setResponseCode(response, iso8583.InvalidTransaction)
	}

	if tx.To != nil {
		to, err := p.accounts.FindByID(ctx, *tx.To)
		if err == nil {
			if newToBalance, applyErr := to.ApplyCredit(tx.Amount); applyErr == nil {
				if _, storeErr := p.accounts.Update(ctx, to.ID, newToBalance, to.Nonce); storeErr != nil {
					logger.Warn("failed to apply reversal credit leg", zap.Error(storeErr))
				}
			}
		}
	}

	if err := p.transactions.MarkReversed(ctx, tx.ID); err != nil {
		logger.Warn("failed to mark transaction reversed", zap.Error(err))
	}

	return setResponseCode(response, iso8583.Approved)
}

// beneficiaryForReversal resolves the account the validator should run
// against: the PAN carried on the reversal request itself.
func (p *Processor) beneficiaryForReversal(ctx context.Context, request *iso8583.Msg) (*ledger.BankAccount, error) {
	pan, ok := request.Get("pan")
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return p.accounts.FindByCardNumber(ctx, pan)
}

// handleRegistration implements §4.4's registration flow: bind the
// on-chain account id carried in field 126 to the card in field 2.
func (p *Processor) handleRegistration(ctx context.Context, request, response *iso8583.Msg) error {
	pan, _ := request.Get("pan")
	accountID, _ := request.Get("private_data")
	accountID = strings.TrimPrefix(strings.ToLower(accountID), "0x")

	account, err := p.accounts.FindByCardNumber(ctx, pan)
	if err != nil {
		return setResponseCode(response, iso8583.InvalidTransaction)
	}

	if err := p.accounts.BindAccountID(ctx, account.ID, accountID); err != nil {
		return setResponseCode(response, iso8583.InvalidTransaction)
	}

	return setResponseCode(response, iso8583.Approved)
}

func parseAmount(raw string) (uint32, error) {
	trimmed := strings.TrimLeft(raw, "0")
	if trimmed == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
