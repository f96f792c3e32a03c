package hotpengine

import (
	"math/big"
	"testing"

	"github.com/gitGNU/gnu-otpasswd/internal/otpstate"
)

func TestPasscodeDeterministic(t *testing.T) {
	e := New()
	var key [otpstate.KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}

	a, err := e.Passcode(key, big.NewInt(1), 1, 6)
	if err != nil {
		t.Fatalf("Passcode: %v", err)
	}
	b, err := e.Passcode(key, big.NewInt(1), 1, 6)
	if err != nil {
		t.Fatalf("Passcode: %v", err)
	}
	if a != b {
		t.Errorf("Passcode not deterministic: %q != %q", a, b)
	}

	c, err := e.Passcode(key, big.NewInt(2), 1, 6)
	if err != nil {
		t.Fatalf("Passcode: %v", err)
	}
	if a == c {
		t.Errorf("Passcode for different counters collided: %q", a)
	}
}

func TestPasscodeUnknownAlphabet(t *testing.T) {
	e := New()
	var key [otpstate.KeySize]byte
	if _, err := e.Passcode(key, big.NewInt(1), 999, 6); err == nil {
		t.Fatal("expected error for unknown alphabet id")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := New()
	s := otpstate.New()
	s.Counter = big.NewInt(42)
	s.LatestCard = big.NewInt(3)
	s.Label = "work laptop"
	s.Flags = otpstate.FlagShow

	b, err := e.Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := e.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Counter.Cmp(s.Counter) != 0 {
		t.Errorf("Counter = %v, want %v", got.Counter, s.Counter)
	}
	if got.Label != s.Label {
		t.Errorf("Label = %q, want %q", got.Label, s.Label)
	}
	if got.Flags != s.Flags {
		t.Errorf("Flags = %#x, want %#x", got.Flags, s.Flags)
	}
}

func TestDecodeCorruptState(t *testing.T) {
	e := New()
	if _, err := e.Decode([]byte("not json")); err == nil {
		t.Fatal("expected corrupt-state error")
	}
}
