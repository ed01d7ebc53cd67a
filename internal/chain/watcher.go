package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"go.uber.org/zap"

	"pcidss-oracle/internal/iso8583"
	"pcidss-oracle/internal/ledger"
	"pcidss-oracle/pkg/logger"
)

// Processor is the subset of the ISO-8583 processor the watcher needs: run
// a synthesized message through the same state machine the RPC adapter
// drives.
type Processor interface {
	Process(ctx context.Context, raw []byte) (responseBytes []byte, responseMsg *iso8583.Msg, err error)
}

// Outcome is handed to the finality submitter queue after a synthesized
// message has been processed: the raw ingredients of a submit_finality
// extrinsic per the processor's response.
type Outcome struct {
	EventID      string
	ResponseCode string
	ResponseHash string
	From         string
	To           string
	Amount       uint32
}

// Watcher subscribes to finalized blocks, decodes ISO8583-pallet events,
// and drives the processor with synthesized messages.
type Watcher struct {
	client    *Client
	processor Processor
	accounts  ledger.BankAccountStore
	spec      *iso8583.Spec
	publish   func(ctx context.Context, outcome Outcome) error
}

func NewWatcher(client *Client, processor Processor, accounts ledger.BankAccountStore, publish func(ctx context.Context, outcome Outcome) error) *Watcher {
	return &Watcher{
		client:    client,
		processor: processor,
		accounts:  accounts,
		spec:      iso8583.DefaultSpec(),
		publish:   publish,
	}
}

// Run subscribes to finalized heads and processes events block by block
// until ctx is cancelled. One bad event is logged and skipped; it never
// stalls the subscription.
func (w *Watcher) Run(ctx context.Context) error {
	sub, err := w.client.api.RPC.Chain.SubscribeFinalizedHeads()
	if err != nil {
		return fmt.Errorf("failed to subscribe to finalized heads: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("finalized head subscription error: %w", err)
		case head := <-sub.Chan():
			if err := w.processBlock(ctx, head.Number); err != nil {
				logger.Error("failed to process finalized block", zap.Uint32("block_number", uint32(head.Number)), zap.Error(err))
			}
		}
	}
}

func (w *Watcher) processBlock(ctx context.Context, blockNumber types.BlockNumber) error {
	hash, err := w.client.api.RPC.Chain.GetBlockHash(uint64(blockNumber))
	if err != nil {
		return fmt.Errorf("failed to fetch block hash for %d: %w", blockNumber, err)
	}

	key, err := types.CreateStorageKey(w.client.meta, "System", "Events", nil)
	if err != nil {
		return fmt.Errorf("failed to build events storage key: %w", err)
	}

	var raw types.EventRecordsRaw
	if _, err := w.client.api.RPC.State.GetStorage(key, &raw, hash); err != nil {
		return fmt.Errorf("failed to fetch events for block %d: %w", blockNumber, err)
	}

	var events eventRecords
	if err := raw.DecodeEventRecords(w.client.meta, &events); err != nil {
		return fmt.Errorf("failed to decode events for block %d: %w", blockNumber, err)
	}

	for idx, ev := range events.ISO8583_InitiateTransfer {
		eventID := fmt.Sprintf("%d-%d", blockNumber, idx)
		if err := w.handleInitiateTransfer(ctx, eventID, ev); err != nil {
			logger.Error("failed to handle InitiateTransfer event", zap.String("event_id", eventID), zap.Error(err))
		}
	}
	for idx, ev := range events.ISO8583_InitiateRevert {
		eventID := fmt.Sprintf("%d-%d", blockNumber, idx+len(events.ISO8583_InitiateTransfer))
		if err := w.handleInitiateRevert(ctx, eventID, ev); err != nil {
			logger.Error("failed to handle InitiateRevert event", zap.String("event_id", eventID), zap.Error(err))
		}
	}

	return nil
}

func (w *Watcher) handleInitiateTransfer(ctx context.Context, eventID string, ev InitiateTransferEvent) error {
	fromHex := "0x" + fmt.Sprintf("%x", ev.From[:])
	toHex := "0x" + fmt.Sprintf("%x", ev.To[:])

	from, err := w.accounts.FindByAccountID(ctx, fromHex)
	if err != nil {
		return fmt.Errorf("failed to resolve sender account %s: %w", fromHex, err)
	}
	to, err := w.accounts.FindByAccountID(ctx, toHex)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient account %s: %w", toHex, err)
	}

	now := time.Now().UTC()
	msg := iso8583.NewMsg(w.spec, string(iso8583.AuthorizationRequest))
	if err := msg.Set("pan", from.CardNumber); err != nil {
		return err
	}
	if err := msg.Set("processing_code", "000000"); err != nil {
		return err
	}
	if err := msg.Set("amount", fmt.Sprintf("%020d", uint32(ev.Amount))); err != nil {
		return err
	}
	if err := msg.Set("transmission_date_time", now.Format("0102")+now.Format("150405")); err != nil {
		return err
	}
	if err := msg.Set("local_transaction_time", now.Format("150405")); err != nil {
		return err
	}
	if err := msg.Set("acquiring_institution_id", to.CardNumber); err != nil {
		return err
	}
	if err := msg.Set("track2_data", from.CardNumber+"D"+from.CardExpirationDate.Format("0106")+"C"+from.CardCVV); err != nil {
		return err
	}
	if err := msg.Set("private_data", strings.Repeat("0", 99)); err != nil {
		return err
	}
	if err := msg.Set("event_id", eventID); err != nil {
		return err
	}

	return w.driveProcessor(ctx, eventID, fromHex, toHex, uint32(ev.Amount), msg)
}

func (w *Watcher) handleInitiateRevert(ctx context.Context, eventID string, ev InitiateRevertEvent) error {
	whoHex := "0x" + fmt.Sprintf("%x", ev.Who[:])
	who, err := w.accounts.FindByAccountID(ctx, whoHex)
	if err != nil {
		return fmt.Errorf("failed to resolve account %s: %w", whoHex, err)
	}

	now := time.Now().UTC()
	msg := iso8583.NewMsg(w.spec, string(iso8583.ReversalRequest))
	if err := msg.Set("pan", who.CardNumber); err != nil {
		return err
	}
	if err := msg.Set("processing_code", "000000"); err != nil {
		return err
	}
	if err := msg.Set("amount", strings.Repeat("0", 20)); err != nil {
		return err
	}
	if err := msg.Set("transmission_date_time", now.Format("0102")+now.Format("150405")); err != nil {
		return err
	}
	if err := msg.Set("local_transaction_time", now.Format("150405")); err != nil {
		return err
	}
	if err := msg.Set("acquiring_institution_id", ""); err != nil {
		return err
	}
	if err := msg.Set("track2_data", who.CardNumber+"D"+who.CardExpirationDate.Format("0106")+"C"+who.CardCVV); err != nil {
		return err
	}
	if err := msg.Set("private_data", string(ev.Hash)); err != nil {
		return err
	}
	if err := msg.Set("event_id", eventID); err != nil {
		return err
	}

	return w.driveProcessor(ctx, eventID, whoHex, "", 0, msg)
}

func (w *Watcher) driveProcessor(ctx context.Context, eventID, from, to string, amount uint32, msg *iso8583.Msg) error {
	wire, err := msg.Assemble()
	if err != nil {
		return fmt.Errorf("failed to assemble synthesized message: %w", err)
	}

	_, responseMsg, err := w.processor.Process(ctx, wire)
	if err != nil {
		return fmt.Errorf("processor rejected synthesized message: %w", err)
	}

	code, _ := responseMsg.Get("response_code")
	hash, _ := responseMsg.Get("private_data")

	if w.publish == nil {
		return nil
	}
	return w.publish(ctx, Outcome{
		EventID:      eventID,
		ResponseCode: code,
		ResponseHash: hash,
		From:         from,
		To:           to,
		Amount:       amount,
	})
}
