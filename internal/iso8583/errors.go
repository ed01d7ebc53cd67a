package iso8583

import "fmt"

// ProtocolError is returned by Parse/Assemble on malformed bitmap, length,
// or encoding — the only failure mode the codec itself can produce. The
// processor returns these as they are; the RPC service wraps them into a
// ledger.DomainError(ApiError) before they reach the client.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("iso8583: %s", e.Msg)
}

func newProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}
