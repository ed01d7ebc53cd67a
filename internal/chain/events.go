package chain

import (
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// InitiateTransferEvent mirrors the chain's ISO8583.InitiateTransfer event:
// a request to move funds between two bound on-chain accounts.
type InitiateTransferEvent struct {
	Phase  types.Phase
	From   types.AccountID
	To     types.AccountID
	Amount types.U32
	Topics []types.Hash
}

// InitiateRevertEvent mirrors the chain's ISO8583.InitiateRevert event: a
// request to reverse a previously authorized transaction by its hash.
type InitiateRevertEvent struct {
	Phase  types.Phase
	Who    types.AccountID
	Hash   types.Text
	Topics []types.Hash
}

// eventRecords extends the default decoded event set with the two
// ISO8583-pallet variants this watcher cares about. Every other pallet's
// events decode into the embedded default and are ignored.
type eventRecords struct {
	types.EventRecords
	ISO8583_InitiateTransfer []InitiateTransferEvent //nolint:stylecheck // chain event naming convention
	ISO8583_InitiateRevert   []InitiateRevertEvent   //nolint:stylecheck
}
