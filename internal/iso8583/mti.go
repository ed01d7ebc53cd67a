package iso8583

// MTI is the closed set of message type indicators the oracle recognizes.
type MTI string

const (
	AuthorizationRequest     MTI = "0100"
	AuthorizationResponse    MTI = "0110"
	ReversalRequest          MTI = "0400"
	ReversalResponse         MTI = "0410"
	NetworkManagementRequest MTI = "0800"
	NetworkManagementResponse MTI = "0810"
)

// ResponseMTI returns the response MTI paired with a request MTI. ok is
// false when mti is not a recognized request MTI.
func ResponseMTI(mti MTI) (MTI, bool) {
	switch mti {
	case AuthorizationRequest:
		return AuthorizationResponse, true
	case ReversalRequest:
		return ReversalResponse, true
	case NetworkManagementRequest:
		return NetworkManagementResponse, true
	default:
		return "", false
	}
}
