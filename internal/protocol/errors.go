package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnknownOp       = "E_UNKNOWN_OP"

	// Entity runtime.
	ErrUnavailable = "E_UNAVAILABLE"
	ErrTimeout     = "E_TIMEOUT"

	// Domain layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrRejected   = "E_REJECTED"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnknownOp:       {},
	ErrUnavailable:     {},
	ErrTimeout:         {},
	ErrBadRequest:      {},
	ErrRejected:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
