// Package validator runs the pre-authorization checks shared by the
// authorization and reversal handlers: timestamp window, Track-2 parsing,
// card expiry, CVV match, and balance sufficiency.
package validator

import (
	"strconv"
	"strings"
	"time"

	"pcidss-oracle/internal/iso8583"
	"pcidss-oracle/internal/ledger"
)

// Track2 is the parsed form of an ISO-8583 field 35 value, shaped
// <PAN>D<MMYY>C<CVV>.
type Track2 struct {
	PAN        string
	ExpiryMMYY string
	CVV        string
}

// ParseTrack2 splits raw Track-2 data without ever panicking: any missing
// separator or short segment is reported by returning ok=false rather than
// indexed into directly.
func ParseTrack2(raw string) (Track2, bool) {
	pan, rest, ok := strings.Cut(raw, "D")
	if !ok || pan == "" {
		return Track2{}, false
	}
	expiry, cvv, ok := strings.Cut(rest, "C")
	if !ok || len(expiry) != 4 || cvv == "" {
		return Track2{}, false
	}
	return Track2{PAN: pan, ExpiryMMYY: expiry, CVV: cvv}, true
}

// Validate runs the ordered check sequence against an incoming message and
// its resolved bank account, returning the first failing response code. A
// zero-value nowUTC means time.Now().UTC() is used; tests pass an explicit
// instant to keep the timestamp-window check deterministic.
func Validate(msg *iso8583.Msg, account *ledger.BankAccount, nowUTC time.Time) iso8583.ResponseCode {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}

	transmissionTime, ok := msg.Get("transmission_date_time")
	if !ok || len(transmissionTime) != 10 {
		return iso8583.InvalidTransaction
	}
	month := transmissionTime[0:2]
	day := transmissionTime[2:4]
	if month != nowUTC.Format("01") || day != nowUTC.Format("02") {
		return iso8583.InvalidTransaction
	}

	track2Raw, ok := msg.Get("track2_data")
	if !ok {
		return iso8583.InvalidTransaction
	}
	track2, ok := ParseTrack2(track2Raw)
	if !ok {
		return iso8583.InvalidTransaction
	}

	if track2.ExpiryMMYY != account.CardExpirationDate.Format("0106") || !account.CardExpirationDate.After(nowUTC) {
		return iso8583.ExpiredCard
	}

	if track2.CVV != account.CardCVV {
		return iso8583.DoNotHonor
	}

	amountRaw, ok := msg.Get("amount")
	if !ok {
		return iso8583.InvalidTransaction
	}
	amount, err := strconv.ParseUint(strings.TrimLeft(amountRaw, "0"), 10, 32)
	if err != nil {
		if strings.Trim(amountRaw, "0") == "" {
			amount = 0
		} else {
			return iso8583.InvalidTransaction
		}
	}
	if uint32(amount) > account.Balance {
		return iso8583.InsufficientFunds
	}

	return iso8583.Approved
}
