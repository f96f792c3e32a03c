// Package otpstate implements PppState: the in-memory per-user OTP
// record, field-ID-indexed accessors, and the mutating operations
// (generate_key, increment, skip, authenticate) spec.md §3/§4.3
// describes. Field access is uniform by design so the wire layer
// (internal/wire) can project any field by FieldID without the
// dispatcher needing a bespoke method per field.
package otpstate

import (
	"crypto/subtle"
	"math/big"

	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/policyconfig"
	"github.com/gitGNU/gnu-otpasswd/internal/wire"
)

// Flag bits. FlagShow's value (4) is pinned by spec.md §8 scenario 3's
// literal FlagAdd{int_arg=FLAG_SHOW=4} example; the rest follow the
// same low-bit allocation the original otpasswd.c checks in.
const (
	FlagDisabled         uint32 = 1 << 0
	FlagSkip             uint32 = 1 << 1
	FlagShow             uint32 = 1 << 2
	FlagSalted           uint32 = 1 << 3
	FlagAlphabetExtended uint32 = 1 << 4
)

// KeySize is the sequence key length in bytes (256 bits).
const KeySize = 32

// NumericEngine is the external collaborator that computes passcodes
// from (key, counter) pairs and serializes/deserializes State to the
// opaque bytes StateStore persists. It is intentionally out of scope
// for this module (spec.md §1); see internal/numeric/hotpengine for a
// reference implementation used by tests and the demo CLI.
type NumericEngine interface {
	// GenerateKey produces fresh key material and a zeroed counter,
	// optionally salted.
	GenerateKey(salted bool) (key [KeySize]byte, counter *big.Int, err error)
	// Passcode computes the passcode string for (key, counter) under
	// the given alphabet and code length.
	Passcode(key [KeySize]byte, counter *big.Int, alphabet int, codeLength int) (string, error)
	// Encode/Decode (de)serialize a State to the opaque bytes the
	// state file holds.
	Encode(s *State) ([]byte, error)
	Decode(b []byte) (*State, error)
}

// State is the per-user PppState record.
type State struct {
	Key         [KeySize]byte
	Counter     *big.Int
	LatestCard  *big.Int
	CurrentCard *big.Int
	MaxCard     *big.Int
	MaxCode     *big.Int

	Flags      uint32
	Alphabet   int
	CodeLength int
	Label      string
	Contact    string

	SpassSet    bool
	SpassSalt   []byte
	SpassHash   []byte

	RecentFailures int

	// keyGenerated tracks whether a key has ever been produced for
	// this record; SALTED is only immutable (per spec.md §3 invariant)
	// once a key actually exists.
	keyGenerated bool
}

// New returns a freshly zeroed State, as StateNew produces before any
// key has been generated.
func New() *State {
	return &State{
		Counter:     new(big.Int),
		LatestCard:  new(big.Int),
		CurrentCard: new(big.Int),
		MaxCard:     new(big.Int),
		MaxCode:     new(big.Int),
		CodeLength:  4,
		Alphabet:    1,
	}
}

// maxStrFieldLen bounds Label/Contact to the wire str_arg buffer,
// independent of any policy — the transport simply cannot carry more.
const maxStrFieldLen = wire.StrArgSize - 1

// GetNum projects a big-integer-valued field.
func (s *State) GetNum(field wire.FieldID) (*big.Int, error) {
	switch field {
	case wire.FieldCounter:
		return s.Counter, nil
	case wire.FieldLatestCard:
		return s.LatestCard, nil
	case wire.FieldCurrentCard:
		return s.CurrentCard, nil
	case wire.FieldMaxCard:
		return s.MaxCard, nil
	case wire.FieldMaxCode:
		return s.MaxCode, nil
	case wire.FieldUnsaltedCounter:
		return s.unsaltedCounter(), nil
	default:
		return nil, otpderr.New(otpderr.KindBadArg, "field is not numeric")
	}
}

// unsaltedCounter returns the counter as it would read without the
// SALTED mask applied. The reference engine doesn't actually mask the
// counter (see internal/numeric/hotpengine), so this is the identity;
// a real NumericEngine-backed deployment would unmask here.
func (s *State) unsaltedCounter() *big.Int {
	return new(big.Int).Set(s.Counter)
}

// GetInt projects an integer-valued field.
func (s *State) GetInt(field wire.FieldID) (int32, error) {
	switch field {
	case wire.FieldFlags:
		return int32(s.Flags), nil
	case wire.FieldCodeLength:
		return int32(s.CodeLength), nil
	case wire.FieldAlphabet:
		return int32(s.Alphabet), nil
	case wire.FieldRecentFailures:
		return int32(s.RecentFailures), nil
	default:
		return 0, otpderr.New(otpderr.KindBadArg, "field is not integer")
	}
}

// GetStr projects a string/binary-valued field. FieldKey returns the
// raw 32 key bytes as a string; callers that care about scrubbing do
// so at the wire-frame layer (see internal/dispatcher), not here.
func (s *State) GetStr(field wire.FieldID) (string, error) {
	switch field {
	case wire.FieldKey:
		return string(s.Key[:]), nil
	case wire.FieldLabel:
		return s.Label, nil
	case wire.FieldContact:
		return s.Contact, nil
	default:
		return "", otpderr.New(otpderr.KindBadArg, "field is not string")
	}
}

// SetOpts controls whether a setter enforces PolicyConfig in addition
// to type/range invariants. Privileged callers pass CheckPolicy:false
// to skip the policy layer while keeping invariant checks.
type SetOpts struct {
	CheckPolicy bool
	Policy      *policyconfig.Config
}

// SetInt sets an integer-valued field, validating range/policy first.
func (s *State) SetInt(field wire.FieldID, value int32, opts SetOpts) error {
	switch field {
	case wire.FieldCodeLength:
		return s.setCodeLength(int(value), opts)
	case wire.FieldAlphabet:
		return s.setAlphabet(int(value), opts)
	case wire.FieldFlags:
		// Whole-flags replacement is refused under CheckPolicy, so an
		// unprivileged caller changes flags only through FlagAdd/FlagClear
		// and their SALTED/DISABLED/SHOW policy rules. A privileged
		// replacement is still held to the SALTED invariant in setFlags.
		if opts.CheckPolicy {
			return otpderr.New(otpderr.KindPolicyDenied, "flags change only through FlagAdd/FlagClear")
		}
		return s.setFlags(uint32(value), opts)
	default:
		return otpderr.New(otpderr.KindBadArg, "field is not a settable integer")
	}
}

func (s *State) setCodeLength(value int, opts SetOpts) error {
	if opts.CheckPolicy && opts.Policy != nil {
		if value < opts.Policy.PasscodeMinLength || value > opts.Policy.PasscodeMaxLength {
			return otpderr.New(otpderr.KindRange, "passcode length outside policy range")
		}
	}
	if value < 1 || value > 64 {
		return otpderr.New(otpderr.KindRange, "passcode length out of absolute bounds")
	}
	s.CodeLength = value
	return nil
}

func (s *State) setAlphabet(value int, opts SetOpts) error {
	if opts.CheckPolicy && opts.Policy != nil {
		if value < opts.Policy.AlphabetMinLength || value > opts.Policy.AlphabetMaxLength {
			return otpderr.New(otpderr.KindRange, "alphabet id outside policy range")
		}
	}
	if value < 0 {
		return otpderr.New(otpderr.KindRange, "alphabet id must be non-negative")
	}
	s.Alphabet = value
	return nil
}

// setFlags enforces the invariant that SALTED cannot change once a
// key has been generated (spec.md §3), regardless of caller.
func (s *State) setFlags(newFlags uint32, opts SetOpts) error {
	if s.keyGenerated && (newFlags&FlagSalted) != (s.Flags&FlagSalted) {
		return otpderr.New(otpderr.KindPolicySalt, "SALTED cannot change after key generation")
	}
	s.Flags = newFlags
	return nil
}

// SetStr sets a string-valued field.
func (s *State) SetStr(field wire.FieldID, value string, opts SetOpts) error {
	if len(value) > maxStrFieldLen {
		return otpderr.New(otpderr.KindTooLong, "value exceeds wire string field size")
	}
	for _, r := range value {
		if r == 0 {
			return otpderr.New(otpderr.KindIllegalChar, "value contains NUL byte")
		}
	}

	switch field {
	case wire.FieldLabel:
		s.Label = value
		return nil
	case wire.FieldContact:
		s.Contact = value
		return nil
	default:
		return otpderr.New(otpderr.KindBadArg, "field is not a settable string")
	}
}

// FlagAdd ORs bit into Flags, applying the per-bit policy rules from
// spec.md §4.4: SALTED is immutable after key generation regardless of
// caller; with CheckPolicy set, adding SALTED, DISABLED or SHOW is
// refused when the policy disallows it (checkPolicy=false for a
// privileged caller bypasses that gate, matching the dispatcher's
// PolicyGate having already authorized the privileged case).
func (s *State) FlagAdd(bit uint32, opts SetOpts) error {
	if opts.CheckPolicy && opts.Policy != nil {
		if bit&FlagSalted != 0 && opts.Policy.Salt == policyconfig.Disallow {
			return otpderr.New(otpderr.KindPolicySalt, "policy disallows salt")
		}
		if bit&FlagDisabled != 0 && !opts.Policy.AllowDisabling {
			return otpderr.New(otpderr.KindPolicyDisabled, "policy disallows disabling")
		}
		if bit&FlagShow != 0 && opts.Policy.Show == policyconfig.Disallow {
			return otpderr.New(otpderr.KindPolicyShow, "policy disallows show")
		}
	}
	return s.setFlags(s.Flags|bit, opts)
}

// FlagClear AND-NOTs bit out of Flags, applying the enforce-side of
// the same per-bit policy rules.
func (s *State) FlagClear(bit uint32, opts SetOpts) error {
	if opts.CheckPolicy && opts.Policy != nil {
		if bit&FlagSalted != 0 && opts.Policy.Salt == policyconfig.Enforce {
			return otpderr.New(otpderr.KindPolicySalt, "policy enforces salt")
		}
		if bit&FlagShow != 0 && opts.Policy.Show == policyconfig.Enforce {
			return otpderr.New(otpderr.KindPolicyShow, "policy enforces show")
		}
	}
	return s.setFlags(s.Flags&^bit, opts)
}

// GenerateKey produces new key material via the NumericEngine,
// resetting Counter to zero and marking SALTED according to salted.
// It does not persist anything; StateLifecycle/StateStore own that.
func (s *State) GenerateKey(engine NumericEngine, salted bool) error {
	key, counter, err := engine.GenerateKey(salted)
	if err != nil {
		return otpderr.New(otpderr.KindInternal, err.Error())
	}
	s.Key = key
	s.Counter = counter
	s.keyGenerated = true
	if salted {
		s.Flags |= FlagSalted
	} else {
		s.Flags &^= FlagSalted
	}
	return nil
}

// SetKeyGenerated marks whether this record already has key material,
// for a NumericEngine's Decode to reconstruct the SALTED-immutability
// guard setFlags enforces. A freshly decoded record built field-by-field
// via New() otherwise reads as keyGenerated=false regardless of what the
// persisted bytes actually held, silently reopening the SALTED flag to
// mutation on every record loaded from disk.
func (s *State) SetKeyGenerated(v bool) {
	s.keyGenerated = v
}

// Increment advances Counter by one, as every successful passcode
// consumption does.
func (s *State) Increment() {
	s.Counter = new(big.Int).Add(s.Counter, big.NewInt(1))
}

// Skip advances Counter by n atomically from the caller's point of
// view (the actual atomicity guarantee comes from StateLifecycle's
// load-lock-mutate-store-release discipline wrapping this call).
func (s *State) Skip(n *big.Int) error {
	if n.Sign() < 0 {
		return otpderr.New(otpderr.KindBadArg, "skip distance must be non-negative")
	}
	s.Counter = new(big.Int).Add(s.Counter, n)
	return nil
}

// Authenticate increments the counter and verifies passcode against
// the newly-current passcode, using a constant-time comparison. It
// updates RecentFailures on mismatch and clears it on success.
func (s *State) Authenticate(engine NumericEngine, passcode string) (bool, error) {
	s.Increment()

	expected, err := engine.Passcode(s.Key, s.Counter, s.Alphabet, s.CodeLength)
	if err != nil {
		return false, otpderr.New(otpderr.KindInternal, err.Error())
	}

	match := len(expected) == len(passcode) &&
		subtle.ConstantTimeCompare([]byte(expected), []byte(passcode)) == 1

	if match {
		s.RecentFailures = 0
	} else {
		s.RecentFailures++
	}
	return match, nil
}

// UpdateLatest sets LatestCard to v only if v doesn't lower LatestCard
// and is adjacent to either LatestCard+1 or CurrentCard+1 (spec.md
// §4.6, §8 scenario 4). Any other value is rejected as BadArg without
// mutating state. The monotonic check comes first: without it a v
// equal to CurrentCard+1 that's still less than the existing
// LatestCard would pass the adjacency test and lower LatestCard,
// violating the §3 "latest_card is monotonic" invariant.
func (s *State) UpdateLatest(v *big.Int) error {
	if v.Cmp(s.LatestCard) < 0 {
		return otpderr.New(otpderr.KindBadArg, "latest_card must not decrease")
	}

	latestPlusOne := new(big.Int).Add(s.LatestCard, big.NewInt(1))
	currentPlusOne := new(big.Int).Add(s.CurrentCard, big.NewInt(1))

	if v.Cmp(latestPlusOne) != 0 && v.Cmp(currentPlusOne) != 0 {
		return otpderr.New(otpderr.KindBadArg, "latest_card must be adjacent to latest_card+1 or current_card+1")
	}
	s.LatestCard = new(big.Int).Set(v)
	return nil
}

// SetSpass sets or unsets the static password. Both outcomes are
// informational "success" statuses per spec.md §9 (the original's
// SpassSet/SpassUnset dual-use-as-error path is not reproduced — see
// DESIGN.md's Open Question decision).
func (s *State) SetSpass(plaintext string, opts SetOpts) (otpderr.Kind, error) {
	if plaintext == "" {
		s.SpassSet = false
		s.SpassSalt = nil
		s.SpassHash = nil
		return otpderr.KindSpassUnset, nil
	}

	if opts.CheckPolicy && opts.Policy != nil {
		if !opts.Policy.SpassAllowChange {
			return otpderr.KindNone, otpderr.New(otpderr.KindPolicyDenied, "policy disallows changing the static password")
		}
		if len(plaintext) < opts.Policy.SpassMinLength {
			return otpderr.KindNone, otpderr.New(otpderr.KindRange, "static password shorter than policy minimum")
		}
		if opts.Policy.SpassRequireDigit && !containsDigit(plaintext) {
			return otpderr.KindNone, otpderr.New(otpderr.KindIllegalChar, "static password must contain a digit")
		}
		if opts.Policy.SpassRequireUppercase && !containsUpper(plaintext) {
			return otpderr.KindNone, otpderr.New(otpderr.KindIllegalChar, "static password must contain an uppercase letter")
		}
		if opts.Policy.SpassRequireSpecial && !containsSpecial(plaintext) {
			return otpderr.KindNone, otpderr.New(otpderr.KindIllegalChar, "static password must contain a special character")
		}
	}

	salt, hash, err := hashSpass(plaintext)
	if err != nil {
		return otpderr.KindNone, otpderr.New(otpderr.KindInternal, err.Error())
	}
	s.SpassSalt = salt
	s.SpassHash = hash
	s.SpassSet = true
	return otpderr.KindSpassSet, nil
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func containsUpper(s string) bool {
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}

func containsSpecial(s string) bool {
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			continue
		}
		return true
	}
	return false
}
