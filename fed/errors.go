package fed

import "errors"

// Errors returned by federate operations. Callers match them with errors.Is;
// the returned errors wrap these with the offending name or state.
var (
	// ErrConfig reports bad setup parameters (unknown core type, malformed init string).
	ErrConfig = errors.New("configuration error")
	// ErrDuplicateName reports a federate, publication or endpoint name that is already registered.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrConnection reports that the coordination core could not be reached or went away.
	ErrConnection = errors.New("connection error")
	// ErrHandshakeTimeout reports that a coordination wait exceeded the configured limit.
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrInvalidState reports an operation used out of lifecycle order.
	ErrInvalidState = errors.New("invalid state")
	// ErrTypeMismatch reports a published value whose type differs from the declared type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrAlreadyFinalized reports use of a federate after Finalize.
	ErrAlreadyFinalized = errors.New("already finalized")
	// ErrUnknownKey reports a lookup of a subscription, endpoint or query that does not exist.
	ErrUnknownKey = errors.New("unknown key")
)
