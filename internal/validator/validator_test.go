package validator

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcidss-oracle/internal/iso8583"
	"pcidss-oracle/internal/ledger"
)

func validAccount(t *testing.T) *ledger.BankAccount {
	t.Helper()
	expiry, err := time.Parse("0106", "0130") // Jan 2030
	require.NoError(t, err)
	return &ledger.BankAccount{
		ID:                 uuid.New(),
		CardNumber:         "4111111111111111",
		CardExpirationDate: expiry,
		CardCVV:            "123",
		Balance:            500000,
		Nonce:              0,
	}
}

func validMsg(t *testing.T, nowUTC time.Time) *iso8583.Msg {
	t.Helper()
	spec := iso8583.DefaultSpec()
	msg := iso8583.NewMsg(spec, string(iso8583.AuthorizationRequest))
	require.NoError(t, msg.Set("transmission_date_time", nowUTC.Format("0102")+"120000"))
	require.NoError(t, msg.Set("track2_data", "4111111111111111D0130C123"))
	require.NoError(t, msg.Set("amount", "00000000000000012345"))
	return msg
}

func TestValidateApprovesWellFormedRequest(t *testing.T) {
	now := time.Date(2026, time.March, 15, 3, 4, 5, 0, time.UTC)
	account := validAccount(t)
	msg := validMsg(t, now)

	assert.Equal(t, iso8583.Approved, Validate(msg, account, now))
}

func TestValidateTimestampIgnoresTimeOfDay(t *testing.T) {
	// Open Question #2: only month/day are checked, never hours/minutes/seconds.
	now := time.Date(2026, time.March, 15, 23, 59, 59, 0, time.UTC)
	account := validAccount(t)
	msg := validMsg(t, now)
	require.NoError(t, msg.Set("transmission_date_time", "0315000000"))

	assert.Equal(t, iso8583.Approved, Validate(msg, account, now))
}

func TestValidateRejectsWrongMonth(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	account := validAccount(t)
	msg := validMsg(t, now)
	require.NoError(t, msg.Set("transmission_date_time", "0215120000"))

	assert.Equal(t, iso8583.InvalidTransaction, Validate(msg, account, now))
}

func TestParseTrack2(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		wantOK  bool
		wantPAN string
	}{
		{"well formed", "4111111111111111D0130C123", true, "4111111111111111"},
		{"missing D separator", "4111111111111111C123", false, ""},
		{"missing C separator", "4111111111111111D0130999", false, ""},
		{"empty PAN", "D0130C123", false, ""},
		{"short expiry", "4111111111111111D013C123", false, ""},
		{"empty CVV", "4111111111111111D0130C", false, ""},
		{"empty", "", false, ""},
		{"only D", "D", false, ""},
		{"only C", "C", false, ""},
		{"garbage", "not-a-track2-string-at-all", false, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseTrack2(tc.raw)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantPAN, got.PAN)
			}
		})
	}
}

func TestValidateRejectsMalformedTrack2WithoutPanicking(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	account := validAccount(t)
	msg := validMsg(t, now)
	require.NoError(t, msg.Set("track2_data", "garbage-no-separators"))

	assert.NotPanics(t, func() {
		assert.Equal(t, iso8583.InvalidTransaction, Validate(msg, account, now))
	})
}

func TestValidateRejectsExpiredCard(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	account := validAccount(t)
	account.CardExpirationDate = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	msg := validMsg(t, now)
	require.NoError(t, msg.Set("track2_data", "4111111111111111D0120C123"))

	assert.Equal(t, iso8583.ExpiredCard, Validate(msg, account, now))
}

func TestValidateRejectsMismatchedExpiryEvenIfCardNotYetExpired(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	account := validAccount(t)
	msg := validMsg(t, now)
	require.NoError(t, msg.Set("track2_data", "4111111111111111D0230C123"))

	assert.Equal(t, iso8583.ExpiredCard, Validate(msg, account, now))
}

func TestValidateRejectsCVVMismatch(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	account := validAccount(t)
	msg := validMsg(t, now)
	require.NoError(t, msg.Set("track2_data", "4111111111111111D0130C999"))

	assert.Equal(t, iso8583.DoNotHonor, Validate(msg, account, now))
}

func TestValidateRejectsInsufficientFunds(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	account := validAccount(t)
	account.Balance = 100
	msg := validMsg(t, now)

	assert.Equal(t, iso8583.InsufficientFunds, Validate(msg, account, now))
}

func TestValidateOrderingStopsAtFirstFailure(t *testing.T) {
	// Bad timestamp AND bad track2 AND insufficient funds: timestamp wins.
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	account := validAccount(t)
	account.Balance = 0
	msg := validMsg(t, now)
	require.NoError(t, msg.Set("transmission_date_time", "0101000000"))
	require.NoError(t, msg.Set("track2_data", "garbage"))

	assert.Equal(t, iso8583.InvalidTransaction, Validate(msg, account, now))
}
