package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Build plan lifecycle.
	ErrAlreadyActive   = "E_ALREADY_ACTIVE"
	ErrNoActivePlan    = "E_NO_ACTIVE_PLAN"
	ErrUnknownTemplate = "E_UNKNOWN_TEMPLATE"
	ErrNoCredits       = "E_NO_CREDITS"
	ErrTooFar          = "E_TOO_FAR"

	// Per-piece placement outcomes. These appear in batch results, never as
	// request errors.
	ErrNoSupport = "E_NO_SUPPORT"
	ErrBlocked   = "E_BLOCKED"

	// Storage/internal.
	ErrStorage  = "E_STORAGE"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrAlreadyActive:   {},
	ErrNoActivePlan:    {},
	ErrUnknownTemplate: {},
	ErrNoCredits:       {},
	ErrTooFar:          {},
	ErrNoSupport:       {},
	ErrBlocked:         {},
	ErrStorage:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
