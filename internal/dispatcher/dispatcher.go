// Package dispatcher implements the Dispatcher: the single-threaded
// request/reply event loop that reads frames off a FramedChannel,
// consults PolicyGate, executes the request against the bound session's
// PppState through StateLifecycle, and replies. It is a Go translation
// of original_source/agent/request.c's request_handle/request_execute
// pair, with the C agent* mutable struct replaced by an explicit
// *Session value and hclog structured logging standing in for the
// original's print(PRINT_*, ...) calls.
package dispatcher

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/gitGNU/gnu-otpasswd/internal/lifecycle"
	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/otpstate"
	"github.com/gitGNU/gnu-otpasswd/internal/policy"
	"github.com/gitGNU/gnu-otpasswd/internal/policyconfig"
	"github.com/gitGNU/gnu-otpasswd/internal/statestore"
	"github.com/gitGNU/gnu-otpasswd/internal/wire"
)

// Dispatcher owns everything a connected client's requests are executed
// against: the framed channel, the policy/state collaborators, and
// whether this side of the connection is privileged (security_is_
// privileged() in the original — true when the agent process itself
// is running with elevated rights, not a property of the request).
type Dispatcher struct {
	channel    *wire.FramedChannel
	store      *statestore.StateStore
	policy     *policyconfig.Config
	engine     otpstate.NumericEngine
	privileged bool
	log        hclog.Logger

	// sessionID is generated once per connection (not per request, nor
	// per UserSet rebind) so every log line this Dispatcher emits can
	// be correlated back to the same connection; it's also stamped onto
	// each lifecycle.Session the dispatcher creates as Session.ID.
	sessionID string

	session *lifecycle.Session
}

// New constructs a Dispatcher bound to one connected channel.
func New(channel *wire.FramedChannel, store *statestore.StateStore, cfg *policyconfig.Config, engine otpstate.NumericEngine, privileged bool, log hclog.Logger) *Dispatcher {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Dispatcher{
		channel:    channel,
		store:      store,
		policy:     cfg,
		engine:     engine,
		privileged: privileged,
		log:        log,
		sessionID:  uuid.NewString(),
	}
}

// Run drives the event loop until the channel disconnects, a fatal error
// occurs, or a Disconnect request is handled. It returns nil on a clean
// Disconnect and the terminating error otherwise.
func (d *Dispatcher) Run() error {
	log := d.log.With("session_id", d.sessionID)
	for {
		req, err := d.channel.Recv()
		if err != nil {
			log.Debug("session ended while waiting for request", "error", err)
			d.releaseOnTerminate()
			return err
		}

		rlog := log.With("request_type", req.Type)
		rlog.Debug("received request")

		decision, policyKind := policy.Gate(d.requestForGate(req), d.policy)
		if decision == policy.Denial {
			kind := policyKindToErr(policyKind)
			rlog.Info("policy denied request", "kind", kind)
			d.reply(kind, nil)
			continue
		}

		terminate, err := d.execute(req, rlog)
		if err != nil && otpderr.KindOf(err).Fatal() {
			rlog.Error("fatal error handling request", "error", err)
			d.releaseOnTerminate()
			return err
		}
		if terminate {
			return err
		}
	}
}

// requestForGate performs the original's transient "load to peek at
// FLAG_DISABLED" dance for StateNew without mutating the session,
// translating it into the pure policy.Request value PolicyGate expects.
func (d *Dispatcher) requestForGate(f *wire.Frame) policy.Request {
	req := policy.Request{
		Type:       f.Type,
		IntArg:     f.IntArg,
		Privileged: d.privileged,
		HasState:   d.session != nil && d.session.State != nil,
	}

	if f.Type != wire.ReqStateNew || d.privileged || req.HasState || d.session == nil {
		return req
	}

	probe := &lifecycle.Session{Username: d.username()}
	if err := lifecycle.Init(d.store, probe, true, false); err != nil {
		req.ExistingLoadFailed = true
		return req
	}
	req.ExistingDisabled = probe.State.Flags&otpstate.FlagDisabled != 0
	_ = lifecycle.Fini(d.store, probe, lifecycle.FiniDisposition{})
	return req
}

func (d *Dispatcher) username() string {
	if d.session == nil {
		return ""
	}
	return d.session.Username
}

// execute runs one authorized request to completion and sends its
// reply, returning (terminate, err). terminate is true for a handled
// Disconnect (with a nil err) and for an unrecognized request type
// (with a BadRequest err); err is otherwise non-nil only for fatal,
// session-ending conditions (channel errors are returned directly by
// Recv/Send, not through here).
func (d *Dispatcher) execute(f *wire.Frame, log hclog.Logger) (bool, error) {
	switch f.Type {
	case wire.ReqDisconnect:
		if d.session != nil && d.session.State != nil {
			_ = lifecycle.Fini(d.store, d.session, lifecycle.FiniDisposition{})
		}
		d.reply(otpderr.KindNone, nil)
		return true, nil

	case wire.ReqUserSet:
		username := f.Str()
		if username == "" {
			d.reply(otpderr.KindBadRequest, nil)
			return false, nil
		}
		if d.session != nil && d.session.State != nil {
			_ = lifecycle.Fini(d.store, d.session, lifecycle.FiniDisposition{})
		}
		d.session = &lifecycle.Session{ID: d.sessionID, Username: username}
		d.reply(otpderr.KindNone, nil)
		return false, nil

	case wire.ReqStateNew:
		if d.session == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		if d.session.State != nil {
			d.reply(otpderr.KindMustDropState, nil)
			return false, nil
		}
		if err := lifecycle.Init(d.store, d.session, false, false); err != nil {
			d.reply(otpderr.KindOf(err), nil)
			return false, nil
		}
		d.reply(otpderr.KindNone, nil)
		return false, nil

	case wire.ReqStateLoad:
		if d.session == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		if d.session.State != nil {
			d.reply(otpderr.KindMustDropState, nil)
			return false, nil
		}
		err := lifecycle.Init(d.store, d.session, true, false)
		d.reply(otpderr.KindOf(err), nil)
		return false, nil

	case wire.ReqStateStore:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		err := lifecycle.Fini(d.store, d.session, lifecycle.FiniDisposition{Store: true})
		d.reply(otpderr.KindOf(err), nil)
		return false, nil

	case wire.ReqStateDrop:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		err := lifecycle.Fini(d.store, d.session, lifecycle.FiniDisposition{})
		d.reply(otpderr.KindOf(err), nil)
		return false, nil

	case wire.ReqKeyGenerate:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindMustCreateState, nil)
			return false, nil
		}
		err := d.session.State.GenerateKey(d.engine, f.IntArg != 0)
		d.reply(otpderr.KindOf(err), nil)
		return false, nil

	case wire.ReqKeyRemove:
		if d.session == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		if d.session.State != nil {
			d.reply(otpderr.KindMustDropState, nil)
			return false, nil
		}
		if err := lifecycle.Init(d.store, d.session, true, true); err != nil {
			d.reply(otpderr.KindOf(err), nil)
			return false, nil
		}
		err := lifecycle.Fini(d.store, d.session, lifecycle.FiniDisposition{Remove: true})
		d.reply(otpderr.KindOf(err), nil)
		return false, nil

	case wire.ReqFlagAdd:
		d.atomicalSetFlags(f, true, log)
		return false, nil

	case wire.ReqFlagClear:
		d.atomicalSetFlags(f, false, log)
		return false, nil

	case wire.ReqFlagGet:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		reply := wire.New(wire.ReqReply, int32(otpderr.KindNone))
		reply.IntArg = int32(d.session.State.Flags)
		d.sendReply(reply)
		return false, nil

	case wire.ReqGetNum:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		v, err := d.session.State.GetNum(wire.FieldID(f.IntArg))
		if err != nil {
			d.reply(otpderr.KindOf(err), nil)
			return false, nil
		}
		reply := wire.New(wire.ReqReply, int32(otpderr.KindNone))
		reply.NumArg = new(big.Int).Set(v)
		d.sendReply(reply)
		return false, nil

	case wire.ReqGetInt:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		v, err := d.session.State.GetInt(wire.FieldID(f.IntArg))
		if err != nil {
			d.reply(otpderr.KindOf(err), nil)
			return false, nil
		}
		reply := wire.New(wire.ReqReply, int32(otpderr.KindNone))
		reply.IntArg = v
		d.sendReply(reply)
		return false, nil

	case wire.ReqGetStr:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		field := wire.FieldID(f.IntArg)
		v, err := d.session.State.GetStr(field)
		if err != nil {
			d.reply(otpderr.KindOf(err), nil)
			return false, nil
		}
		reply := wire.New(wire.ReqReply, int32(otpderr.KindNone))
		if field == wire.FieldKey {
			_ = reply.SetBinary([]byte(v))
		} else if err := reply.SetStr(v); err != nil {
			d.reply(otpderr.KindTooLong, nil)
			return false, nil
		}
		d.sendReply(reply)
		if field == wire.FieldKey {
			// Scrub key bytes from the outbound frame immediately after
			// the reply is on the wire, regardless of send outcome.
			reply.Zero()
		}
		return false, nil

	case wire.ReqGetPasscode:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		code, err := d.engine.Passcode(d.session.State.Key, f.NumArg, d.session.State.Alphabet, d.session.State.CodeLength)
		if err != nil {
			d.reply(otpderr.KindInternal, nil)
			return false, nil
		}
		reply := wire.New(wire.ReqReply, int32(otpderr.KindNone))
		_ = reply.SetStr(code)
		d.sendReply(reply)
		return false, nil

	case wire.ReqGetPrompt:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		reply := wire.New(wire.ReqReply, int32(otpderr.KindNone))
		_ = reply.SetStr(promptFor(f.NumArg))
		d.sendReply(reply)
		return false, nil

	case wire.ReqGetWarnings:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		reply := wire.New(wire.ReqReply, int32(otpderr.KindNone))
		reply.IntArg = warningBits(d.session.State, d.policy)
		reply.IntArg2 = int32(d.session.State.RecentFailures)
		d.sendReply(reply)
		return false, nil

	case wire.ReqUpdateLatest:
		d.atomicalUpdateLatest(f)
		return false, nil

	case wire.ReqSkip:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		err := lifecycle.InitAtomical(d.store, d.session)
		if err == nil {
			err = d.session.State.Skip(f.NumArg)
		}
		err = lifecycle.FiniAtomical(d.store, d.session, err)
		d.reply(otpderr.KindOf(err), nil)
		return false, nil

	case wire.ReqAuthenticate:
		if d.session == nil || d.session.State == nil {
			d.reply(otpderr.KindNoState, nil)
			return false, nil
		}
		var ok bool
		err := lifecycle.InitAtomical(d.store, d.session)
		if err == nil {
			ok, err = d.session.State.Authenticate(d.engine, f.Str())
		}
		err = lifecycle.FiniAtomical(d.store, d.session, err)
		if err != nil {
			d.reply(otpderr.KindOf(err), nil)
			return false, nil
		}
		if !ok {
			d.reply(otpderr.KindBadArg, nil)
			return false, nil
		}
		d.reply(otpderr.KindNone, nil)
		return false, nil

	case wire.ReqSetInt:
		d.atomicalOp(func() error {
			return d.session.State.SetInt(wire.FieldID(f.IntArg), f.IntArg2, d.setOpts())
		}, log)
		return false, nil

	case wire.ReqSetStr:
		d.atomicalOp(func() error {
			return d.session.State.SetStr(wire.FieldID(f.IntArg), f.Str(), d.setOpts())
		}, log)
		return false, nil

	case wire.ReqSetNum:
		d.reply(otpderr.KindBadRequest, nil)
		return false, nil

	case wire.ReqSetSpass:
		d.atomicalSetSpass(f)
		return false, nil

	case wire.ReqGetAlphabet:
		alphabet, ok := alphabetNames[int(f.IntArg)]
		reply := wire.New(wire.ReqReply, int32(otpderr.KindNone))
		if !ok {
			reply.Status = int32(otpderr.KindBadArg)
		} else {
			_ = reply.SetStr(alphabet)
		}
		d.sendReply(reply)
		return false, nil

	default:
		log.Error("unrecognized request type")
		return true, otpderr.New(otpderr.KindBadRequest, "unrecognized request type")
	}
}

func (d *Dispatcher) setOpts() otpstate.SetOpts {
	return otpstate.SetOpts{CheckPolicy: !d.privileged, Policy: d.policy}
}

// atomicalOp wraps mutate in the load-lock-mutate-store-release
// discipline and replies with the resulting status, matching the
// _state_init_atomical/_state_fini_atomical bracketing every single-
// field mutator in the original uses.
func (d *Dispatcher) atomicalOp(mutate func() error, log hclog.Logger) {
	if d.session == nil || d.session.State == nil {
		d.reply(otpderr.KindMustCreateState, nil)
		return
	}
	err := lifecycle.InitAtomical(d.store, d.session)
	if err == nil {
		err = mutate()
	}
	err = lifecycle.FiniAtomical(d.store, d.session, err)
	if err != nil {
		log.Debug("atomical operation failed", "error", err)
	}
	d.reply(otpderr.KindOf(err), nil)
}

func (d *Dispatcher) atomicalSetFlags(f *wire.Frame, add bool, log hclog.Logger) {
	d.atomicalOp(func() error {
		bit := uint32(f.IntArg)
		if add {
			return d.session.State.FlagAdd(bit, d.setOpts())
		}
		return d.session.State.FlagClear(bit, d.setOpts())
	}, log)
}

func (d *Dispatcher) atomicalSetSpass(f *wire.Frame) {
	if d.session == nil || d.session.State == nil {
		d.reply(otpderr.KindMustCreateState, nil)
		return
	}
	var infoKind otpderr.Kind
	err := lifecycle.InitAtomical(d.store, d.session)
	if err == nil {
		plaintext := f.Str()
		if f.IntArg != 0 {
			plaintext = "" // int_arg!=0 requests removal, mirroring ppp_set_spass(NULL, ...)
		}
		infoKind, err = d.session.State.SetSpass(plaintext, d.setOpts())
	}
	if err != nil {
		err = lifecycle.FiniAtomical(d.store, d.session, err)
		d.reply(otpderr.KindOf(err), nil)
		return
	}
	if err := lifecycle.FiniAtomical(d.store, d.session, nil); err != nil {
		d.reply(otpderr.KindOf(err), nil)
		return
	}
	d.reply(infoKind, nil)
}

// atomicalUpdateLatest applies the monotonic-then-adjacency check
// twice, exactly as the original does: once against whatever state may
// already be loaded (to fail fast without taking the lock), and once
// more for real inside the atomical window, since the value may have
// moved between the two. Both checks live in State.UpdateLatest itself,
// so neither call here can lower LatestCard past a value already
// persisted by another session.
func (d *Dispatcher) atomicalUpdateLatest(f *wire.Frame) {
	if d.session == nil {
		d.reply(otpderr.KindNoState, nil)
		return
	}
	if d.session.State != nil {
		if err := d.session.State.UpdateLatest(f.NumArg); err != nil {
			d.reply(otpderr.KindOf(err), nil)
			return
		}
	}

	err := lifecycle.InitAtomical(d.store, d.session)
	if err == nil {
		err = d.session.State.UpdateLatest(f.NumArg)
	}
	err = lifecycle.FiniAtomical(d.store, d.session, err)
	d.reply(otpderr.KindOf(err), nil)
}

func (d *Dispatcher) reply(kind otpderr.Kind, _ *wire.Frame) {
	reply := wire.New(wire.ReqReply, int32(kind))
	d.sendReply(reply)
}

func (d *Dispatcher) sendReply(f *wire.Frame) {
	if err := d.channel.Send(f); err != nil {
		d.log.Debug("failed sending reply", "error", err)
	}
}

func (d *Dispatcher) releaseOnTerminate() {
	if d.session != nil && d.session.State != nil {
		_ = lifecycle.Fini(d.store, d.session, lifecycle.FiniDisposition{})
	}
}

func policyKindToErr(k policy.Kind) otpderr.Kind {
	switch k {
	case policy.KindGeneration:
		return otpderr.KindPolicyGeneration
	case policy.KindRegeneration:
		return otpderr.KindPolicyRegeneration
	case policy.KindSalt:
		return otpderr.KindPolicySalt
	case policy.KindDisabled:
		return otpderr.KindPolicyDisabled
	case policy.KindShow:
		return otpderr.KindPolicyShow
	case policy.KindMustDropState:
		return otpderr.KindMustDropState
	default:
		return otpderr.KindPolicyDenied
	}
}

func promptFor(step *big.Int) string {
	if step == nil || step.Sign() == 0 {
		return "Enter current passcode: "
	}
	return "Enter passcode number " + step.String() + ": "
}

// alphabetNames mirrors ppp_alphabet_get's small fixed table; it is kept
// here rather than duplicated from internal/numeric/hotpengine since
// Dispatcher only needs the display names, not the character sets
// themselves (those stay behind the NumericEngine boundary).
var alphabetNames = map[int]string{
	1: "alphanumeric, no ambiguous characters",
	2: "digits only",
	3: "lowercase letters only",
}

// warningBits reproduces original_source/utility/actions_helpers.c's
// ah_print_d_conf policy-consistency checks as a bitset, grounded
// line-for-line on that function's sequence of WARNING prints.
const (
	WarnAlphabetInconsistent uint32 = 1 << iota
	WarnCodeLengthInconsistent
	WarnShowEnabledButDenied
	WarnShowDisabledButEnforced
	WarnSaltedButDenied
	WarnUnsaltedButEnforced
)

func warningBits(s *otpstate.State, cfg *policyconfig.Config) int32 {
	var bits uint32

	if s.Alphabet < cfg.AlphabetMinLength || s.Alphabet > cfg.AlphabetMaxLength {
		bits |= WarnAlphabetInconsistent
	}
	if s.CodeLength < cfg.PasscodeMinLength || s.CodeLength > cfg.PasscodeMaxLength {
		bits |= WarnCodeLengthInconsistent
	}
	if s.Flags&otpstate.FlagShow != 0 && cfg.Show == policyconfig.Disallow {
		bits |= WarnShowEnabledButDenied
	}
	if s.Flags&otpstate.FlagShow == 0 && cfg.Show == policyconfig.Enforce {
		bits |= WarnShowDisabledButEnforced
	}
	if s.Flags&otpstate.FlagSalted != 0 && cfg.Salt == policyconfig.Disallow {
		bits |= WarnSaltedButDenied
	}
	if s.Flags&otpstate.FlagSalted == 0 && cfg.Salt == policyconfig.Enforce {
		bits |= WarnUnsaltedButEnforced
	}

	return int32(bits)
}
