package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"go.uber.org/zap"

	"pcidss-oracle/pkg/logger"
)

// FinalityStatus is the closed status the chain's submit_finality extrinsic
// accepts: Approved, or Failed with a reason string.
type FinalityStatus struct {
	Approved bool
	Reason   string
}

func statusFromResponseCode(code string) FinalityStatus {
	switch code {
	case "00":
		return FinalityStatus{Approved: true}
	case "05":
		return FinalityStatus{Reason: "DoNotHonor"}
	case "12":
		return FinalityStatus{Reason: "InvalidTransaction"}
	case "14":
		return FinalityStatus{Reason: "InvalidCardNumber"}
	case "51":
		return FinalityStatus{Reason: "InsufficientFunds"}
	case "54":
		return FinalityStatus{Reason: "ExpiredCard"}
	default:
		return FinalityStatus{Reason: "Other"}
	}
}

// Submitter turns queued Outcomes into submit_finality extrinsics, signed
// by the oracle key, fire-and-forget: it does not wait for block inclusion.
type Submitter struct {
	client *Client
}

func NewSubmitter(client *Client) *Submitter {
	return &Submitter{client: client}
}

// Submit builds and submits a single submit_finality extrinsic for outcome.
// Callers (the finality-submitter worker) invoke this per dequeued message;
// a queue redelivery on failure is the retry mechanism, not a loop here.
func (s *Submitter) Submit(ctx context.Context, outcome Outcome) error {
	if len(outcome.ResponseHash) < 64 {
		return fmt.Errorf("outcome %s: response hash too short to be a transaction hash", outcome.EventID)
	}
	txHash := outcome.ResponseHash[:64]
	status := statusFromResponseCode(outcome.ResponseCode)

	call, err := types.NewCall(s.client.meta, "ISO8583.submit_finality",
		txHash, outcome.EventID, outcome.From, outcome.To, outcome.Amount, status.Approved, status.Reason)
	if err != nil {
		return fmt.Errorf("failed to build submit_finality call: %w", err)
	}

	return s.submitUnsigned(ctx, call, outcome.EventID)
}

// SubmitRegistration builds and submits a register extrinsic binding
// accountID to the oracle's record of a card, triggered by an Approved
// 0810 response from the RPC adapter.
func (s *Submitter) SubmitRegistration(ctx context.Context, accountID string, nonce uint32) error {
	call, err := types.NewCall(s.client.meta, "ISO8583.register", accountID, nonce)
	if err != nil {
		return fmt.Errorf("failed to build register call: %w", err)
	}
	return s.submitUnsigned(ctx, call, "register:"+accountID)
}

func (s *Submitter) submitUnsigned(ctx context.Context, call types.Call, label string) error {
	ext := types.NewExtrinsic(call)

	genesisHash, err := s.client.api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return fmt.Errorf("failed to fetch genesis hash: %w", err)
	}

	rv, err := s.client.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return fmt.Errorf("failed to fetch runtime version: %w", err)
	}

	key, err := types.CreateStorageKey(s.client.meta, "System", "Account", s.client.signer.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to build account storage key: %w", err)
	}

	var accountInfo types.AccountInfo
	if _, err := s.client.api.RPC.State.GetStorageLatest(key, &accountInfo); err != nil {
		return fmt.Errorf("failed to fetch signer account info: %w", err)
	}

	options := types.SignatureOptions{
		BlockHash:          genesisHash,
		GenesisHash:        genesisHash,
		Nonce:              types.NewUCompactFromUInt(uint64(accountInfo.Nonce)),
		SpecVersion:        rv.SpecVersion,
		TransactionVersion: rv.TransactionVersion,
		Tip:                types.NewUCompactFromUInt(0),
	}

	if err := ext.Sign(s.client.signer, options); err != nil {
		return fmt.Errorf("failed to sign extrinsic: %w", err)
	}

	hash, err := s.client.api.RPC.Author.SubmitExtrinsic(ext)
	if err != nil {
		return fmt.Errorf("failed to submit extrinsic %s: %w", label, err)
	}

	logger.Info("submitted extrinsic", zap.String("label", label), zap.String("extrinsic_hash", hash.Hex()))
	return nil
}

// MarshalOutcome/UnmarshalOutcome frame an Outcome for the Redis Streams
// queue between the watcher and the finality-submitter worker.
func MarshalOutcome(o Outcome) ([]byte, error) {
	return json.Marshal(o)
}

func UnmarshalOutcome(data []byte) (Outcome, error) {
	var o Outcome
	err := json.Unmarshal(data, &o)
	return o, err
}
