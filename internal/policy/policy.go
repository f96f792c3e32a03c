// Package policy implements PolicyGate, the pure request/policy decision
// function the dispatcher consults before executing any request. It is a
// direct, field-for-field port of request_verify_policy from
// original_source/agent/request.c: the same request-type switch, the
// same per-bit FLAG_SALTED/FLAG_DISABLED/FLAG_SHOW checks, the same
// privileged-bypass shape, translated from a C state machine carrying
// side effects (loading state to peek at DISABLED) into an explicit
// Go value the dispatcher supplies as an argument (hasState/disabled)
// rather than a hidden load.
package policy

import (
	"github.com/gitGNU/gnu-otpasswd/internal/otpstate"
	"github.com/gitGNU/gnu-otpasswd/internal/policyconfig"
	"github.com/gitGNU/gnu-otpasswd/internal/wire"
)

// Decision is the outcome of a policy check.
type Decision int

const (
	Allow Decision = iota
	Denial
)

// Kind categorizes a Denial the way the original distinguishes
// AGENT_ERR_POLICY from its more specific POLICY_GENERATION /
// POLICY_REGENERATION / POLICY_SALT / POLICY_DISABLED / POLICY_SHOW
// variants, so the dispatcher can report the precise otpderr.Kind.
type Kind int

const (
	KindNone Kind = iota
	KindGeneral
	KindGeneration
	KindRegeneration
	KindSalt
	KindDisabled
	KindShow
	// KindMustDropState is a Denial carrying a lifecycle status rather
	// than a true policy status — StateNew's "state must be absent"
	// precondition (spec.md §4.6) is checked through the same Gate
	// front door as everything else, but reported as MustDropState
	// rather than PolicyDenied so it lands in the Lifecycle error
	// category per spec.md §7.
	KindMustDropState
)

// Request bundles the information PolicyGate needs about the in-flight
// request. Privileged mirrors security_is_privileged() in the original:
// true when the agent is running as root, which lets it bypass most
// (but not all — FLAG_SALTED's Disallow/Enforce ends still bind root)
// policy checks.
type Request struct {
	Type       wire.RequestType
	IntArg     int32
	Privileged bool

	// HasState reports whether a>s is non-nil in the original, i.e. the
	// session already holds a loaded PppState record.
	HasState bool

	// ExistingDisabled and ExistingLoadFailed describe the outcome of
	// the original's StateNew transient "try to load the existing
	// record just to peek at FLAG_DISABLED" dance (request.c's
	// AGENT_REQ_STATE_NEW case). The dispatcher performs that transient
	// load itself (via StateStore.Load with lock=false) and reports the
	// result here; PolicyGate stays a pure function with no IO.
	ExistingLoadFailed bool
	ExistingDisabled   bool
}

// Gate evaluates the request against cfg and returns the decision plus,
// on Denial, the specific Kind the original would have returned.
func Gate(req Request, cfg *policyconfig.Config) (Decision, Kind) {
	switch req.Type {
	case wire.ReqUserSet:
		// Only the privileged agent instance may select a username.
		if req.Privileged {
			return Allow, KindNone
		}
		return Denial, KindGeneral

	case wire.ReqDisconnect:
		return Allow, KindNone

	case wire.ReqKeyGenerate:
		if req.Privileged {
			return Allow, KindNone
		}
		if cfg.AllowKeyGeneration {
			return Allow, KindNone
		}
		return Denial, KindGeneral

	case wire.ReqKeyRemove:
		if req.Privileged {
			return Allow, KindNone
		}
		if cfg.AllowKeyRemoval {
			return Allow, KindNone
		}
		return Denial, KindGeneral

	case wire.ReqAuthenticate:
		if !req.Privileged && !cfg.AllowShellAuth {
			return Denial, KindGeneral
		}
		return Allow, KindNone

	case wire.ReqStateNew:
		if req.HasState {
			return Denial, KindMustDropState
		}
		if req.Privileged {
			return Allow, KindNone
		}
		if req.ExistingLoadFailed {
			// No existing record: regeneration concerns don't apply,
			// only whether fresh generation is allowed at all.
			if !cfg.AllowKeyGeneration {
				return Denial, KindGeneration
			}
			return Allow, KindNone
		}
		if req.ExistingDisabled && !cfg.AllowDisabling {
			return Denial, KindGeneral
		}
		if !cfg.AllowKeyRegeneration {
			return Denial, KindRegeneration
		}
		return Allow, KindNone

	case wire.ReqStateLoad, wire.ReqStateStore, wire.ReqStateDrop,
		wire.ReqGetNum, wire.ReqGetInt, wire.ReqGetWarnings, wire.ReqUpdateLatest:
		return Allow, KindNone

	case wire.ReqGetStr:
		field := wire.FieldID(req.IntArg)
		if (field == wire.FieldKey || field == wire.FieldCounter) &&
			!cfg.AllowKeyPrint && !req.Privileged {
			return Denial, KindGeneral
		}
		return Allow, KindNone

	case wire.ReqGetPasscode:
		if !req.Privileged && !cfg.AllowPasscodePrint {
			return Denial, KindGeneral
		}
		return Allow, KindNone

	case wire.ReqGetPrompt:
		return Allow, KindNone

	case wire.ReqSkip:
		if !req.Privileged && !cfg.AllowSkipping {
			return Denial, KindGeneral
		}
		return Allow, KindNone

	case wire.ReqSetNum, wire.ReqSetInt, wire.ReqSetStr:
		return Allow, KindNone

	case wire.ReqSetSpass:
		// Verified together with the spass parameters themselves, in
		// otpstate.State.SetSpass.
		return Allow, KindNone

	case wire.ReqFlagAdd:
		bit := uint32(req.IntArg)
		if bit&otpstate.FlagSalted != 0 && cfg.Salt == policyconfig.Disallow {
			return Denial, KindSalt
		}
		if req.Privileged {
			return Allow, KindNone
		}
		if bit&otpstate.FlagDisabled != 0 && !cfg.AllowDisabling {
			return Denial, KindDisabled
		}
		if bit&otpstate.FlagShow != 0 && cfg.Show == policyconfig.Disallow {
			return Denial, KindShow
		}
		return Allow, KindNone

	case wire.ReqFlagClear:
		bit := uint32(req.IntArg)
		if bit&otpstate.FlagSalted != 0 && cfg.Salt == policyconfig.Enforce {
			return Denial, KindSalt
		}
		if req.Privileged {
			return Allow, KindNone
		}
		if bit&otpstate.FlagDisabled != 0 && !cfg.AllowDisabling {
			return Denial, KindDisabled
		}
		if bit&otpstate.FlagShow != 0 && cfg.Show == policyconfig.Enforce {
			return Denial, KindShow
		}
		return Allow, KindNone

	case wire.ReqFlagGet, wire.ReqGetAlphabet, wire.ReqInit, wire.ReqReply:
		return Allow, KindNone

	default:
		return Denial, KindGeneral
	}
}
