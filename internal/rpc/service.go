package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/vedhavyas/go-subkey/sr25519"
	"go.uber.org/zap"

	"pcidss-oracle/internal/iso8583"
	"pcidss-oracle/internal/ledger"
	"pcidss-oracle/pkg/logger"
)

// FullProcessor is the complete entry point the RPC adapter depends on: the
// processor's Process method plus enough to recover the response code and
// decide whether to trigger a registration extrinsic.
type FullProcessor interface {
	Process(ctx context.Context, raw []byte) (responseBytes []byte, responseMsg *iso8583.Msg, err error)
}

// Service implements the "pcidss" JSON-RPC namespace. Every exported method
// matches the gorilla/rpc signature convention: (r *http.Request, args
// *Args, reply *Reply) error. The wire method name gorilla/rpc derives is
// "pcidss.<GoMethodName>" (e.g. "pcidss.SubmitIso8583") since the library
// reflects Go identifiers rather than taking an arbitrary string.
type Service struct {
	processor    FullProcessor
	accounts     ledger.BankAccountStore
	transactions ledger.TransactionStore
	registrar    Registrar
	ocwPublicKey []byte // sr25519 public key allowed to call GetBatchBalances
}

func NewService(processor FullProcessor, accounts ledger.BankAccountStore, transactions ledger.TransactionStore, registrar Registrar, ocwSignerHex string) (*Service, error) {
	var pub []byte
	if ocwSignerHex != "" {
		decoded, err := hex.DecodeString(strings.TrimPrefix(ocwSignerHex, "0x"))
		if err != nil {
			return nil, err
		}
		pub = decoded
	}
	return &Service{
		processor:    processor,
		accounts:     accounts,
		transactions: transactions,
		registrar:    registrar,
		ocwPublicKey: pub,
	}, nil
}

// rpcError maps a ledger.DomainError (or a bare error) to the JSON-RPC 2.0
// error codes the spec requires: ApiError/InternalServerError -> internal
// error (-32603); BadRequest/NotFound -> invalid params (-32602).
func rpcError(err error) error {
	var domainErr *ledger.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Kind {
		case ledger.KindBadRequest, ledger.KindNotFound:
			return &json2Error{Code: -32602, Message: domainErr.Error()}
		default:
			return &json2Error{Code: -32603, Message: domainErr.Error()}
		}
	}
	return &json2Error{Code: -32603, Message: err.Error()}
}

type json2Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *json2Error) Error() string { return e.Message }

// SubmitIso8583Args/Reply carry the wire message as base64 (Go's default
// JSON encoding for []byte).
type SubmitIso8583Args struct {
	Bytes []byte `json:"bytes"`
}

type SubmitIso8583Reply struct {
	Bytes []byte `json:"bytes"`
}

func (s *Service) SubmitIso8583(r *http.Request, args *SubmitIso8583Args, reply *SubmitIso8583Reply) error {
	ctx := r.Context()

	responseBytes, responseMsg, err := s.processor.Process(ctx, args.Bytes)
	if err != nil {
		return rpcError(ledger.APIError("failed to process iso8583 message", err))
	}

	reply.Bytes = responseBytes

	if responseMsg.MTI() == "0810" {
		if code, ok := responseMsg.Get("response_code"); ok && code == string(iso8583.Approved) {
			accountID, _ := responseMsg.Get("private_data")
			if s.registrar != nil && accountID != "" {
				if err := s.registrar.SubmitRegistration(ctx, accountID, 0); err != nil {
					logger.Error("failed to submit registration extrinsic", zap.Error(err))
				}
			}
		}
	}

	return nil
}

type GetBankAccountArgs struct {
	AccountIDHex string `json:"account_id_hex"`
}

type BankAccountView struct {
	ID         uuid.UUID `json:"id"`
	CardNumber string    `json:"card_number"`
	Balance    uint32    `json:"balance"`
	Nonce      uint32    `json:"nonce"`
	AccountID  *string   `json:"account_id"`
}

type GetBankAccountReply struct {
	Account *BankAccountView `json:"account"`
}

func (s *Service) GetBankAccount(r *http.Request, args *GetBankAccountArgs, reply *GetBankAccountReply) error {
	account, err := s.accounts.FindByAccountID(r.Context(), args.AccountIDHex)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			reply.Account = nil
			return nil
		}
		return rpcError(ledger.InternalServerError("failed to look up bank account", err))
	}

	reply.Account = &BankAccountView{
		ID:         account.ID,
		CardNumber: account.CardNumber,
		Balance:    account.Balance,
		Nonce:      account.Nonce,
		AccountID:  account.AccountID,
	}
	return nil
}

type GetTransactionsArgs struct {
	AccountIDHex string `json:"account_id_hex"`
}

type TransactionView struct {
	ID              uuid.UUID `json:"id"`
	Hash            string    `json:"hash"`
	Amount          uint32    `json:"amount"`
	TransactionType uint8     `json:"transaction_type"`
	Reversed        bool      `json:"reversed"`
}

type GetTransactionsReply struct {
	Transactions []TransactionView `json:"transactions"`
}

func (s *Service) GetTransactions(r *http.Request, args *GetTransactionsArgs, reply *GetTransactionsReply) error {
	account, err := s.accounts.FindByAccountID(r.Context(), args.AccountIDHex)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			reply.Transactions = nil
			return nil
		}
		return rpcError(ledger.InternalServerError("failed to look up bank account", err))
	}

	txs, err := s.transactions.FindByBeneficiaryID(r.Context(), account.ID)
	if err != nil {
		return rpcError(ledger.InternalServerError("failed to look up transactions", err))
	}

	reply.Transactions = make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		reply.Transactions = append(reply.Transactions, TransactionView{
			ID: tx.ID, Hash: tx.Hash, Amount: tx.Amount,
			TransactionType: uint8(tx.TransactionType), Reversed: tx.Reversed,
		})
	}
	return nil
}

type GetBatchBalancesArgs struct {
	Signature  string   `json:"signature"`
	AccountIDs []string `json:"account_ids"`
}

type BalanceEntry struct {
	AccountIDHex string `json:"account_id_hex"`
	Balance      uint32 `json:"balance"`
}

type GetBatchBalancesReply struct {
	Balances []BalanceEntry `json:"balances"`
}

// GetBatchBalances is gated by an sr25519 signature over the JSON array of
// account ids, verified against the configured OCW signer public key.
func (s *Service) GetBatchBalances(r *http.Request, args *GetBatchBalancesArgs, reply *GetBatchBalancesReply) error {
	if len(s.ocwPublicKey) == 0 {
		return rpcError(ledger.BadRequest("no ocw signer configured"))
	}

	message, err := json.Marshal(args.AccountIDs)
	if err != nil {
		return rpcError(ledger.BadRequest("failed to encode account ids"))
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(args.Signature, "0x"))
	if err != nil {
		return rpcError(ledger.BadRequest("malformed signature"))
	}

	scheme := sr25519.Scheme{}
	if !scheme.Verify(s.ocwPublicKey, message, sig) {
		return rpcError(ledger.BadRequest("invalid signature"))
	}

	balances := make([]BalanceEntry, 0, len(args.AccountIDs))
	for _, id := range args.AccountIDs {
		account, err := s.accounts.FindByAccountID(r.Context(), id)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				continue
			}
			return rpcError(ledger.InternalServerError("failed to look up bank account", err))
		}
		balances = append(balances, BalanceEntry{AccountIDHex: id, Balance: account.Balance})
	}

	reply.Balances = balances
	return nil
}
