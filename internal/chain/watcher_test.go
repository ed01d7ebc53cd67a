package chain

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcidss-oracle/internal/iso8583"
	"pcidss-oracle/internal/ledger"
)

type fakeProcessor struct {
	wire []byte
	msg  *iso8583.Msg
	err  error
}

func (f *fakeProcessor) Process(ctx context.Context, raw []byte) ([]byte, *iso8583.Msg, error) {
	f.wire = raw
	return []byte("response"), f.msg, f.err
}

type fakeAccountStore struct {
	byAccountID map[string]*ledger.BankAccount
}

func (s *fakeAccountStore) FindByID(ctx context.Context, id uuid.UUID) (*ledger.BankAccount, error) {
	return nil, ledger.ErrAccountNotFound
}
func (s *fakeAccountStore) FindByCardNumber(ctx context.Context, cardNumber string) (*ledger.BankAccount, error) {
	return nil, ledger.ErrAccountNotFound
}
func (s *fakeAccountStore) FindByAccountID(ctx context.Context, accountID string) (*ledger.BankAccount, error) {
	a, ok := s.byAccountID[accountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return a, nil
}
func (s *fakeAccountStore) Create(ctx context.Context, create *ledger.BankAccountCreate) (*ledger.BankAccount, error) {
	return nil, nil
}
func (s *fakeAccountStore) Update(ctx context.Context, id uuid.UUID, newBalance uint32, expectedNonce uint32) (*ledger.BankAccount, error) {
	return nil, nil
}
func (s *fakeAccountStore) BindAccountID(ctx context.Context, id uuid.UUID, accountID string) error {
	return nil
}
func (s *fakeAccountStore) Delete(ctx context.Context, id uuid.UUID) error { return nil }

func approvedResponse(t *testing.T) *iso8583.Msg {
	t.Helper()
	spec := iso8583.DefaultSpec()
	msg := iso8583.NewMsg(spec, string(iso8583.AuthorizationResponse))
	require.NoError(t, msg.Set("response_code", string(iso8583.Approved)))
	require.NoError(t, msg.Set("private_data", "aabb"))
	return msg
}

func TestHandleInitiateTransferResolvesBothAccountsAndPublishes(t *testing.T) {
	var ev InitiateTransferEvent
	ev.Amount = types.U32(100)

	zeroAddrHex := "0x" + zeroAccountIDHex

	accounts := &fakeAccountStore{byAccountID: map[string]*ledger.BankAccount{
		zeroAddrHex: {
			CardNumber:         "4169812345678901",
			CardExpirationDate: time.Now().UTC().AddDate(1, 0, 0),
			CardCVV:            "123",
		},
	}}

	var published Outcome
	proc := &fakeProcessor{msg: approvedResponse(t)}
	w := &Watcher{
		processor: proc,
		accounts:  accounts,
		spec:      iso8583.DefaultSpec(),
		publish: func(ctx context.Context, outcome Outcome) error {
			published = outcome
			return nil
		},
	}

	err := w.handleInitiateTransfer(context.Background(), "1-0", ev)
	require.NoError(t, err)

	assert.Equal(t, "1-0", published.EventID)
	assert.Equal(t, string(iso8583.Approved), published.ResponseCode)
	assert.Equal(t, "aabb", published.ResponseHash)
	assert.Equal(t, zeroAddrHex, published.From)
	assert.Equal(t, zeroAddrHex, published.To)
	assert.Equal(t, uint32(100), published.Amount)
	assert.NotEmpty(t, proc.wire)
}

func TestHandleInitiateTransferFailsWhenAccountUnresolved(t *testing.T) {
	var ev InitiateTransferEvent
	w := &Watcher{
		processor: &fakeProcessor{},
		accounts:  &fakeAccountStore{byAccountID: map[string]*ledger.BankAccount{}},
		spec:      iso8583.DefaultSpec(),
	}

	err := w.handleInitiateTransfer(context.Background(), "1-0", ev)
	assert.Error(t, err)
}

func TestHandleInitiateRevertResolvesAccountAndPublishes(t *testing.T) {
	var ev InitiateRevertEvent
	ev.Hash = types.Text(makeHash())

	zeroAddrHex := "0x" + zeroAccountIDHex
	accounts := &fakeAccountStore{byAccountID: map[string]*ledger.BankAccount{
		zeroAddrHex: {
			CardNumber:         "4169812345678901",
			CardExpirationDate: time.Now().UTC().AddDate(1, 0, 0),
			CardCVV:            "123",
		},
	}}

	var published Outcome
	proc := &fakeProcessor{msg: approvedResponse(t)}
	w := &Watcher{
		processor: proc,
		accounts:  accounts,
		spec:      iso8583.DefaultSpec(),
		publish: func(ctx context.Context, outcome Outcome) error {
			published = outcome
			return nil
		},
	}

	err := w.handleInitiateRevert(context.Background(), "2-0", ev)
	require.NoError(t, err)
	assert.Equal(t, zeroAddrHex, published.From)
	assert.Equal(t, "", published.To)
}

// zeroAccountIDHex is the lowercase hex of a zero-value [32]byte AccountID,
// matching how handleInitiateTransfer/handleInitiateRevert format ev.From
// and ev.Who ("0x" + fmt.Sprintf("%x", id[:])) when the event is its Go
// zero value.
var zeroAccountIDHex = strings.Repeat("0", 64)

func makeHash() string {
	return "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
}
