// Package hotpengine provides a reference implementation of
// otpstate.NumericEngine. It is NOT a normative arithmetic contract —
// passcode arithmetic is meant to be supplied by an external
// NumericEngine collaborator — but the agent needs something concrete
// to drive in tests and the demo CLI, so this engine derives passcodes
// via HMAC-SHA256(key, counter) folded onto a restricted alphabet, in
// the spirit of RFC 4226 HOTP.
//
// No repo in the reference pack implements HOTP/TOTP directly, so this
// package is original engineering grounded only in stdlib crypto
// primitives (crypto/hmac, crypto/sha256), matching how every pack
// repo that touches authentication builds on stdlib crypto rather than
// a third-party OTP library.
package hotpengine

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/gitGNU/gnu-otpasswd/internal/otpstate"
)

// Alphabets mirrors the original's small set of printable-character
// alphabets selectable by id. Id 0 is reserved/invalid; real ids start
// at 1 so the zero value of State.Alphabet reads as "unset".
var alphabets = map[int]string{
	1: "23456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ",
	2: "0123456789",
	3: "abcdefghijklmnopqrstuvwxyz",
}

// Engine is the HMAC-based reference NumericEngine.
type Engine struct{}

func New() Engine { return Engine{} }

func (Engine) GenerateKey(salted bool) ([otpstate.KeySize]byte, *big.Int, error) {
	var key [otpstate.KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, nil, err
	}
	return key, new(big.Int), nil
}

func (Engine) Passcode(key [otpstate.KeySize]byte, counter *big.Int, alphabet, codeLength int) (string, error) {
	alpha, ok := alphabets[alphabet]
	if !ok {
		return "", fmt.Errorf("hotpengine: unknown alphabet id %d", alphabet)
	}
	if codeLength < 1 {
		return "", fmt.Errorf("hotpengine: code length must be positive")
	}

	counterBytes := counter.FillBytes(make([]byte, 16))

	mac := hmac.New(sha256.New, key[:])
	mac.Write(counterBytes)
	digest := mac.Sum(nil)

	out := make([]byte, codeLength)
	for i := 0; i < codeLength; i++ {
		// Fold 4-byte windows of the digest (wrapping as needed) onto
		// the alphabet, one character per requested position.
		off := (i * 4) % (len(digest) - 3)
		v := binary.BigEndian.Uint32(digest[off : off+4])
		out[i] = alpha[int(v)%len(alpha)]
	}
	return string(out), nil
}

// encodedState is the JSON-on-disk shape Encode/Decode (de)serialize.
// A real deployment would use a denser/opaque binary format; JSON is
// legible here since the persisted-state layout itself is explicitly
// out of scope (spec.md §1) and treated as opaque bytes by StateStore.
type encodedState struct {
	Key            [otpstate.KeySize]byte `json:"key"`
	Counter        string                 `json:"counter"`
	LatestCard     string                 `json:"latest_card"`
	CurrentCard    string                 `json:"current_card"`
	MaxCard        string                 `json:"max_card"`
	MaxCode        string                 `json:"max_code"`
	Flags          uint32                 `json:"flags"`
	Alphabet       int                    `json:"alphabet"`
	CodeLength     int                    `json:"code_length"`
	Label          string                 `json:"label"`
	Contact        string                 `json:"contact"`
	SpassSet       bool                   `json:"spass_set"`
	SpassSalt      []byte                 `json:"spass_salt,omitempty"`
	SpassHash      []byte                 `json:"spass_hash,omitempty"`
	RecentFailures int                    `json:"recent_failures"`
}

func (Engine) Encode(s *otpstate.State) ([]byte, error) {
	enc := encodedState{
		Key:            s.Key,
		Counter:        bigOrZero(s.Counter).String(),
		LatestCard:     bigOrZero(s.LatestCard).String(),
		CurrentCard:    bigOrZero(s.CurrentCard).String(),
		MaxCard:        bigOrZero(s.MaxCard).String(),
		MaxCode:        bigOrZero(s.MaxCode).String(),
		Flags:          s.Flags,
		Alphabet:       s.Alphabet,
		CodeLength:     s.CodeLength,
		Label:          s.Label,
		Contact:        s.Contact,
		SpassSet:       s.SpassSet,
		SpassSalt:      s.SpassSalt,
		SpassHash:      s.SpassHash,
		RecentFailures: s.RecentFailures,
	}
	return json.Marshal(enc)
}

func (Engine) Decode(b []byte) (*otpstate.State, error) {
	var enc encodedState
	if err := json.Unmarshal(b, &enc); err != nil {
		return nil, fmt.Errorf("hotpengine: corrupt state: %w", err)
	}

	s := otpstate.New()
	s.Key = enc.Key
	s.SetKeyGenerated(enc.Key != [otpstate.KeySize]byte{})
	s.Flags = enc.Flags
	s.Alphabet = enc.Alphabet
	s.CodeLength = enc.CodeLength
	s.Label = enc.Label
	s.Contact = enc.Contact
	s.SpassSet = enc.SpassSet
	s.SpassSalt = enc.SpassSalt
	s.SpassHash = enc.SpassHash
	s.RecentFailures = enc.RecentFailures

	var ok bool
	if s.Counter, ok = new(big.Int).SetString(enc.Counter, 10); !ok {
		return nil, fmt.Errorf("hotpengine: corrupt counter")
	}
	if s.LatestCard, ok = new(big.Int).SetString(enc.LatestCard, 10); !ok {
		return nil, fmt.Errorf("hotpengine: corrupt latest_card")
	}
	if s.CurrentCard, ok = new(big.Int).SetString(enc.CurrentCard, 10); !ok {
		return nil, fmt.Errorf("hotpengine: corrupt current_card")
	}
	if s.MaxCard, ok = new(big.Int).SetString(enc.MaxCard, 10); !ok {
		return nil, fmt.Errorf("hotpengine: corrupt max_card")
	}
	if s.MaxCode, ok = new(big.Int).SetString(enc.MaxCode, 10); !ok {
		return nil, fmt.Errorf("hotpengine: corrupt max_code")
	}

	return s, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
