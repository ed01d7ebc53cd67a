package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcidss-oracle/internal/iso8583"
	"pcidss-oracle/internal/ledger"
	"pcidss-oracle/pkg/logger"
)

func init() {
	_ = logger.Init("development")
}

// memoryStore is a hand-rolled in-memory fake of both ledger store ports,
// used so processor logic can be exercised without a Postgres fixture.
type memoryStore struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*ledger.BankAccount
	transactions map[uuid.UUID]*ledger.Transaction
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts:     make(map[uuid.UUID]*ledger.BankAccount),
		transactions: make(map[uuid.UUID]*ledger.Transaction),
	}
}

func (s *memoryStore) put(a *ledger.BankAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
}

func (s *memoryStore) FindByID(ctx context.Context, id uuid.UUID) (*ledger.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memoryStore) FindByCardNumber(ctx context.Context, cardNumber string) (*ledger.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.CardNumber == cardNumber {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ledger.ErrAccountNotFound
}

func (s *memoryStore) FindByAccountID(ctx context.Context, accountID string) (*ledger.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.AccountID != nil && *a.AccountID == accountID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ledger.ErrAccountNotFound
}

func (s *memoryStore) Create(ctx context.Context, create *ledger.BankAccountCreate) (*ledger.BankAccount, error) {
	a := &ledger.BankAccount{
		ID: create.ID, CardNumber: create.CardNumber, CardHolderFirstName: create.CardHolderFirstName,
		CardHolderLastName: create.CardHolderLastName, CardExpirationDate: create.CardExpirationDate,
		CardCVV: create.CardCVV, Balance: create.Balance, AccountID: create.AccountID,
	}
	s.put(a)
	return a, nil
}

func (s *memoryStore) Update(ctx context.Context, id uuid.UUID, newBalance uint32, expectedNonce uint32) (*ledger.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	if a.Nonce != expectedNonce {
		return nil, ledger.ErrNonceConflict
	}
	a.Balance = newBalance
	a.Nonce++
	cp := *a
	return &cp, nil
}

func (s *memoryStore) BindAccountID(ctx context.Context, id uuid.UUID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if a.AccountID != nil {
		return ledger.ErrAccountIDAlreadyBound
	}
	a.AccountID = &accountID
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	return nil
}

func (s *memoryStore) FindByHash(ctx context.Context, hash string) (*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.transactions {
		if tx.Hash == hash {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, ledger.ErrTransactionNotFound
}

func (s *memoryStore) FindByBeneficiaryID(ctx context.Context, beneficiaryID uuid.UUID) ([]*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Transaction
	for _, tx := range s.transactions {
		if tx.From == beneficiaryID {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) MarkReversed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	if tx.Reversed {
		return ledger.ErrTransactionNotFound
	}
	tx.Reversed = true
	return nil
}

func (s *memoryStore) DeleteTx(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transactions, id)
	return nil
}

// accountsAdapter and txAdapter exist only to let one memoryStore satisfy
// both ledger.BankAccountStore and ledger.TransactionStore without method
// name collisions (Create/Delete are shared names with different
// signatures).
type accountsAdapter struct{ *memoryStore }
type txAdapter struct{ *memoryStore }

func (a txAdapter) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, ok := a.transactions[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (a txAdapter) Create(ctx context.Context, create *ledger.TransactionCreate) (*ledger.Transaction, error) {
	tx := ledger.NewTransaction(create)
	a.mu.Lock()
	a.transactions[tx.ID] = tx
	a.mu.Unlock()
	cp := *tx
	return &cp, nil
}

func (a txAdapter) Delete(ctx context.Context, id uuid.UUID) error {
	return a.DeleteTx(ctx, id)
}

func setupProcessor(t *testing.T) (*Processor, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	p := New(accountsAdapter{store}, txAdapter{store})
	return p, store
}

func seedAccount(store *memoryStore, cardNumber string, balance uint32, expiry time.Time, cvv string) *ledger.BankAccount {
	a := &ledger.BankAccount{
		ID: uuid.New(), CardNumber: cardNumber, CardExpirationDate: expiry, CardCVV: cvv, Balance: balance,
	}
	store.put(a)
	return a
}

func authorizationWire(t *testing.T, nowUTC time.Time, pan string, amount string, expiryMMYY, cvv string) []byte {
	t.Helper()
	spec := iso8583.DefaultSpec()
	msg := iso8583.NewMsg(spec, string(iso8583.AuthorizationRequest))
	require.NoError(t, msg.Set("pan", pan))
	require.NoError(t, msg.Set("processing_code", "000000"))
	require.NoError(t, msg.Set("amount", amount))
	require.NoError(t, msg.Set("transmission_date_time", nowUTC.Format("0102")+"120000"))
	require.NoError(t, msg.Set("local_transaction_time", "120000"))
	require.NoError(t, msg.Set("acquiring_institution_id", ""))
	require.NoError(t, msg.Set("track2_data", pan+"D"+expiryMMYY+"C"+cvv))
	wire, err := msg.Assemble()
	require.NoError(t, err)
	return wire
}

func authorizationWireWithAcquirer(t *testing.T, nowUTC time.Time, pan, acquirerCardNumber, amount, expiryMMYY, cvv string) []byte {
	t.Helper()
	spec := iso8583.DefaultSpec()
	msg := iso8583.NewMsg(spec, string(iso8583.AuthorizationRequest))
	require.NoError(t, msg.Set("pan", pan))
	require.NoError(t, msg.Set("processing_code", "000000"))
	require.NoError(t, msg.Set("amount", amount))
	require.NoError(t, msg.Set("transmission_date_time", nowUTC.Format("0102")+"120000"))
	require.NoError(t, msg.Set("local_transaction_time", "120000"))
	require.NoError(t, msg.Set("acquiring_institution_id", acquirerCardNumber))
	require.NoError(t, msg.Set("track2_data", pan+"D"+expiryMMYY+"C"+cvv))
	wire, err := msg.Assemble()
	require.NoError(t, err)
	return wire
}

func TestProcessAuthorizationApproved(t *testing.T) {
	p, store := setupProcessor(t)
	now := time.Now().UTC()
	expiry, _ := time.Parse("0106", "0130")
	seedAccount(store, "4111111111111111", 100000, expiry, "123")

	wire := authorizationWire(t, now, "4111111111111111", "00000000000000012345", "0130", "123")

	responseBytes, responseMsg, err := p.Process(context.Background(), wire)
	require.NoError(t, err)
	require.NotNil(t, responseBytes)

	code, ok := responseMsg.Get("response_code")
	require.True(t, ok)
	assert.Equal(t, string(iso8583.Approved), code)
	assert.Equal(t, string(iso8583.AuthorizationResponse), responseMsg.MTI())

	hash, ok := responseMsg.Get("private_data")
	require.True(t, ok)
	assert.Len(t, hash, 64)
}

func TestProcessAuthorizationInsufficientFunds(t *testing.T) {
	p, store := setupProcessor(t)
	now := time.Now().UTC()
	expiry, _ := time.Parse("0106", "0130")
	seedAccount(store, "4111111111111111", 10, expiry, "123")

	wire := authorizationWire(t, now, "4111111111111111", "00000000000000012345", "0130", "123")

	_, responseMsg, err := p.Process(context.Background(), wire)
	require.NoError(t, err)
	code, _ := responseMsg.Get("response_code")
	assert.Equal(t, string(iso8583.InsufficientFunds), code)
}

func TestProcessAuthorizationUnknownCard(t *testing.T) {
	p, _ := setupProcessor(t)
	now := time.Now().UTC()

	wire := authorizationWire(t, now, "4000000000000000", "00000000000000012345", "0130", "123")

	_, responseMsg, err := p.Process(context.Background(), wire)
	require.NoError(t, err)
	code, _ := responseMsg.Get("response_code")
	assert.Equal(t, string(iso8583.InvalidCardNumber), code)
}

func TestProcessAuthorizationCreditsRecipient(t *testing.T) {
	p, store := setupProcessor(t)
	now := time.Now().UTC()
	expiry, _ := time.Parse("0106", "0130")
	beneficiary := seedAccount(store, "4111111111111111", 1_000_000_000, expiry, "123")
	acquirer := seedAccount(store, "4222222222222222", 1_000_000_000, expiry, "456")

	wire := authorizationWireWithAcquirer(t, now, beneficiary.CardNumber, acquirer.CardNumber, "00000000000000000100", "0130", "123")

	_, responseMsg, err := p.Process(context.Background(), wire)
	require.NoError(t, err)
	code, _ := responseMsg.Get("response_code")
	require.Equal(t, string(iso8583.Approved), code)

	refreshedBeneficiary, err := store.FindByID(context.Background(), beneficiary.ID)
	require.NoError(t, err)
	refreshedAcquirer, err := store.FindByID(context.Background(), acquirer.ID)
	require.NoError(t, err)

	assert.Equal(t, beneficiary.Balance-100, refreshedBeneficiary.Balance)
	assert.Equal(t, acquirer.Balance+100, refreshedAcquirer.Balance, "acquirer must receive the amount to conserve the total")

	hash, ok := responseMsg.Get("private_data")
	require.True(t, ok)
	tx, err := store.FindByHash(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, tx.To)
	assert.Equal(t, acquirer.ID, *tx.To)
}

func TestProcessReversalRoundTrip(t *testing.T) {
	p, store := setupProcessor(t)
	now := time.Now().UTC()
	expiry, _ := time.Parse("0106", "0130")
	account := seedAccount(store, "4111111111111111", 100000, expiry, "123")

	authWire := authorizationWire(t, now, account.CardNumber, "00000000000000012345", "0130", "123")
	_, authResponse, err := p.Process(context.Background(), authWire)
	require.NoError(t, err)
	code, _ := authResponse.Get("response_code")
	require.Equal(t, string(iso8583.Approved), code)

	hash, ok := authResponse.Get("private_data")
	require.True(t, ok)

	spec := iso8583.DefaultSpec()
	reversal := iso8583.NewMsg(spec, string(iso8583.ReversalRequest))
	require.NoError(t, reversal.Set("pan", account.CardNumber))
	require.NoError(t, reversal.Set("processing_code", "000000"))
	require.NoError(t, reversal.Set("amount", "00000000000000012345"))
	require.NoError(t, reversal.Set("transmission_date_time", now.Format("0102")+"120000"))
	require.NoError(t, reversal.Set("local_transaction_time", "120000"))
	require.NoError(t, reversal.Set("acquiring_institution_id", ""))
	require.NoError(t, reversal.Set("track2_data", account.CardNumber+"D0130C123"))
	require.NoError(t, reversal.Set("private_data", hash))
	reversalWire, err := reversal.Assemble()
	require.NoError(t, err)

	_, reversalResponse, err := p.Process(context.Background(), reversalWire)
	require.NoError(t, err)
	code, _ = reversalResponse.Get("response_code")
	assert.Equal(t, string(iso8583.Approved), code)

	refreshed, err := store.FindByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Balance, refreshed.Balance, "balance should be restored after reversal")
}

func TestProcessReversalRejectsAlreadyReversed(t *testing.T) {
	p, store := setupProcessor(t)
	now := time.Now().UTC()
	expiry, _ := time.Parse("0106", "0130")
	account := seedAccount(store, "4111111111111111", 100000, expiry, "123")

	authWire := authorizationWire(t, now, account.CardNumber, "00000000000000012345", "0130", "123")
	_, authResponse, err := p.Process(context.Background(), authWire)
	require.NoError(t, err)
	hash, _ := authResponse.Get("private_data")

	spec := iso8583.DefaultSpec()
	buildReversal := func() []byte {
		reversal := iso8583.NewMsg(spec, string(iso8583.ReversalRequest))
		require.NoError(t, reversal.Set("pan", account.CardNumber))
		require.NoError(t, reversal.Set("processing_code", "000000"))
		require.NoError(t, reversal.Set("amount", "00000000000000012345"))
		require.NoError(t, reversal.Set("transmission_date_time", now.Format("0102")+"120000"))
		require.NoError(t, reversal.Set("local_transaction_time", "120000"))
		require.NoError(t, reversal.Set("acquiring_institution_id", ""))
		require.NoError(t, reversal.Set("track2_data", account.CardNumber+"D0130C123"))
		require.NoError(t, reversal.Set("private_data", hash))
		wire, err := reversal.Assemble()
		require.NoError(t, err)
		return wire
	}

	_, firstResponse, err := p.Process(context.Background(), buildReversal())
	require.NoError(t, err)
	code, _ := firstResponse.Get("response_code")
	require.Equal(t, string(iso8583.Approved), code)

	_, secondResponse, err := p.Process(context.Background(), buildReversal())
	require.NoError(t, err)
	code, _ = secondResponse.Get("response_code")
	assert.Equal(t, string(iso8583.InvalidTransaction), code)
}

func TestProcessRegistrationBindsAccountID(t *testing.T) {
	p, store := setupProcessor(t)
	expiry, _ := time.Parse("0106", "0130")
	account := seedAccount(store, "4111111111111111", 100000, expiry, "123")

	spec := iso8583.DefaultSpec()
	msg := iso8583.NewMsg(spec, string(iso8583.NetworkManagementRequest))
	require.NoError(t, msg.Set("pan", account.CardNumber))
	require.NoError(t, msg.Set("private_data", "0xDEADBEEF"))
	wire, err := msg.Assemble()
	require.NoError(t, err)

	_, responseMsg, err := p.Process(context.Background(), wire)
	require.NoError(t, err)
	code, _ := responseMsg.Get("response_code")
	assert.Equal(t, string(iso8583.Approved), code)

	refreshed, err := store.FindByID(context.Background(), account.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.AccountID)
	assert.Equal(t, "deadbeef", *refreshed.AccountID)
}

func TestProcessRejectsUnsupportedMTI(t *testing.T) {
	p, _ := setupProcessor(t)
	spec := iso8583.DefaultSpec()
	msg := iso8583.NewMsg(spec, "9999")
	wire, err := msg.Assemble()
	require.NoError(t, err)

	_, _, err = p.Process(context.Background(), wire)
	assert.Error(t, err)
}
