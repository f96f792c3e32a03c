package lifecycle

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/gitGNU/gnu-otpasswd/internal/numeric/hotpengine"
	"github.com/gitGNU/gnu-otpasswd/internal/otpstate"
	"github.com/gitGNU/gnu-otpasswd/internal/policyconfig"
	"github.com/gitGNU/gnu-otpasswd/internal/statestore"
)

func newStore(t *testing.T) *statestore.StateStore {
	t.Helper()
	cfg := policyconfig.Default()
	cfg.ShadowPath = filepath.Join(t.TempDir(), "otshadow")
	return statestore.New(nil, cfg, hotpengine.New())
}

func TestInitLoadFalseCreatesNewUnsavedRecord(t *testing.T) {
	store := newStore(t)
	s := &Session{Username: "dave"}

	if err := Init(store, s, false, false); err != nil {
		t.Fatalf("Init(load=false): %v", err)
	}
	if !s.IsNewState {
		t.Error("IsNewState should be true after Init(load=false)")
	}
	if s.State == nil {
		t.Fatal("State should be allocated after Init(load=false)")
	}
}

func TestAtomicalRoundTripPersistsMutation(t *testing.T) {
	store := newStore(t)

	// Seed an existing record directly through the store.
	h, err := store.Create("erin")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	seed := otpstate.New()
	seed.Counter = big.NewInt(5)
	if err := store.Release(h, statestore.ReleaseStore, seed); err != nil {
		t.Fatalf("seed Release: %v", err)
	}

	s := &Session{Username: "erin"}
	if err := InitAtomical(store, s); err != nil {
		t.Fatalf("InitAtomical: %v", err)
	}

	s.State.Increment()
	mutateErr := error(nil)

	if err := FiniAtomical(store, s, mutateErr); err != nil {
		t.Fatalf("FiniAtomical: %v", err)
	}
	if s.Handle != nil {
		t.Error("Handle should be released after FiniAtomical")
	}
	if s.State == nil {
		t.Fatal("State should remain attached after a successful atomical op")
	}

	got, h2, err := store.Load("erin", false)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Counter.Cmp(big.NewInt(6)) != 0 {
		t.Errorf("Counter after atomical increment = %v, want 6", got.Counter)
	}
	_ = store.Release(h2, statestore.ReleaseDiscard, nil)
}

func TestAtomicalDiscardsOnMutationError(t *testing.T) {
	store := newStore(t)

	h, err := store.Create("frank")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	seed := otpstate.New()
	seed.Counter = big.NewInt(5)
	if err := store.Release(h, statestore.ReleaseStore, seed); err != nil {
		t.Fatalf("seed Release: %v", err)
	}

	s := &Session{Username: "frank"}
	if err := InitAtomical(store, s); err != nil {
		t.Fatalf("InitAtomical: %v", err)
	}
	s.State.Increment() // would-be mutation, discarded below

	simulatedErr := errSimulated
	if err := FiniAtomical(store, s, simulatedErr); err != simulatedErr {
		t.Fatalf("FiniAtomical should return the original mutation error unchanged, got %v", err)
	}

	got, h2, err := store.Load("frank", false)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Counter.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("Counter should be unchanged on discard, got %v, want 5", got.Counter)
	}
	_ = store.Release(h2, statestore.ReleaseDiscard, nil)
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errSimulated sentinelErr = "simulated mutation failure"
