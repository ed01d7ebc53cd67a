package iso8583

// ResponseCode is the closed set of field-39 values the oracle writes back.
type ResponseCode string

const (
	Approved            ResponseCode = "00"
	DoNotHonor          ResponseCode = "05"
	InvalidTransaction  ResponseCode = "12"
	InvalidCardNumber   ResponseCode = "14"
	InsufficientFunds   ResponseCode = "51"
	ExpiredCard         ResponseCode = "54"
)

func (r ResponseCode) String() string {
	return string(r)
}
