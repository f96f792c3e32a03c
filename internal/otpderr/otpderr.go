// Package otpderr defines the closed taxonomy of errors the agent can
// report across the protocol boundary: protocol framing failures,
// lifecycle misuse, policy denials, storage failures, field validation
// failures and fatal conditions. Every Kind maps to a status code in
// the wire frame (see internal/wire) so a reply never needs more than
// one integer to describe what happened.
package otpderr

// Kind is a closed enumeration of error categories. The zero value,
// KindNone, is the successful status.
type Kind int32

const (
	KindNone Kind = iota

	// Protocol errors. ProtocolMismatch and Disconnected are fatal to
	// the session; Timeout, BadRequest and BadArg are not (see Fatal).
	KindProtocolMismatch
	KindDisconnected
	KindTimeout
	KindBadRequest
	KindBadArg

	// Lifecycle errors. Non-fatal; reported in the reply status.
	KindNoState
	KindMustDropState
	KindMustCreateState

	// Policy errors. Non-fatal.
	KindPolicyDenied
	KindPolicyGeneration
	KindPolicyRegeneration
	KindPolicySalt
	KindPolicyDisabled
	KindPolicyShow

	// Storage errors. Release in-memory state but keep the session alive.
	KindLocked
	KindIOError
	KindCorruptState
	KindNumSpace

	// Validation errors, surfaced from PppState setters.
	KindRange
	KindIllegalChar
	KindTooLong
	KindSpassSet
	KindSpassUnset

	// Fatal errors. Terminate the session.
	KindMemory
	KindInternal

	// Config preflight errors, surfaced only through the Init frame's
	// status field (spec.md §6 "Config permissions preflight") — never
	// seen in a request/reply exchange, since a config failure means
	// the dispatcher loop never starts.
	KindConfigOwnership
	KindConfigPermissions
)

var names = map[Kind]string{
	KindNone:               "ok",
	KindProtocolMismatch:   "protocol_mismatch",
	KindDisconnected:       "disconnected",
	KindTimeout:            "timeout",
	KindBadRequest:         "bad_request",
	KindBadArg:             "bad_arg",
	KindNoState:            "no_state",
	KindMustDropState:      "must_drop_state",
	KindMustCreateState:    "must_create_state",
	KindPolicyDenied:       "policy_denied",
	KindPolicyGeneration:   "policy_generation",
	KindPolicyRegeneration: "policy_regeneration",
	KindPolicySalt:         "policy_salt",
	KindPolicyDisabled:     "policy_disabled",
	KindPolicyShow:         "policy_show",
	KindLocked:             "locked",
	KindIOError:            "io_error",
	KindCorruptState:       "corrupt_state",
	KindNumSpace:           "num_space",
	KindRange:              "range",
	KindIllegalChar:        "illegal_char",
	KindTooLong:            "too_long",
	KindSpassSet:           "spass_set",
	KindSpassUnset:         "spass_unset",
	KindMemory:             "memory",
	KindInternal:           "internal",
	KindConfigOwnership:    "config_ownership",
	KindConfigPermissions:  "config_permissions",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown"
}

// Error wraps a Kind with optional additional context. It implements
// the error interface so callers can use errors.As/errors.Is against
// it, while the dispatcher only ever needs the Kind to populate a
// reply frame's status field.
type Error struct {
	Kind    Kind
	Message string
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// Is allows errors.Is(err, otpderr.New(KindBadArg, "")) to match any
// *Error with the same Kind, regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Fatal reports whether an error of this kind must terminate the
// session per spec.md §7 propagation policy.
func (k Kind) Fatal() bool {
	switch k {
	case KindProtocolMismatch, KindDisconnected, KindMemory, KindInternal,
		KindConfigOwnership, KindConfigPermissions:
		return true
	default:
		return false
	}
}

// Informational reports whether a kind is a non-error "success with
// info" status, per spec.md §7 — SpassSet/SpassUnset are reported
// through the error channel but are not failures.
func (k Kind) Informational() bool {
	return k == KindSpassSet || k == KindSpassUnset
}

// KindOf extracts the Kind carried by err, or KindNone for a nil err and
// KindInternal for any error that isn't one of ours (which shouldn't
// happen in practice, since every failure path in this module returns
// an *Error, but callers like Dispatcher need a total function from
// error to status code to populate a reply frame).
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}
