package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Map availability.
	ErrMapNotReady   = "E_MAP_NOT_READY"
	ErrPlaneNotFound = "E_PLANE_NOT_FOUND"

	// Generation outcomes.
	ErrContradiction = "E_CONTRADICTION"
	ErrExhausted     = "E_EXHAUSTED"
	ErrCancelled     = "E_CANCELLED"
	ErrStore         = "E_STORE"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrMapNotReady:     {},
	ErrPlaneNotFound:   {},
	ErrContradiction:   {},
	ErrExhausted:       {},
	ErrCancelled:       {},
	ErrStore:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeForOutcome maps a run outcome name to the error code reported to clients.
// Success maps to "".
func CodeForOutcome(outcome string) string {
	switch outcome {
	case "success":
		return ""
	case "contradiction":
		return ErrContradiction
	case "exhausted":
		return ErrExhausted
	case "cancelled":
		return ErrCancelled
	case "store_error":
		return ErrStore
	default:
		return ErrInternal
	}
}
