// Package lifecycle implements StateLifecycle: the explicit
// init/fini discipline and the "atomical operation" wrapper every
// single-field mutator uses. It is a direct translation of
// original_source/agent/request.c's _state_init / _state_fini /
// _state_init_atomical / _state_fini_atomical helpers, replacing the
// original's implicit agent*->s pointer and new_state flag with an
// explicit Session value the dispatcher owns and passes in.
package lifecycle

import (
	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/otpstate"
	"github.com/gitGNU/gnu-otpasswd/internal/statestore"
)

// Session holds the state StateLifecycle manipulates on behalf of one
// connected client: at most one PppState record, at most one open
// statestore.Handle, and whether that record is a brand new one created
// by StateNew but not yet stored (mirrors the original's a->new_state).
//
// ID is a connection-lifetime identifier the dispatcher stamps once per
// connection (not once per UserSet rebind) so every log line for a
// session can be correlated, independent of which username it's
// currently bound to.
type Session struct {
	ID          string
	Username    string
	State       *otpstate.State
	Handle      *statestore.Handle
	IsNewState  bool
}

// Init loads (or, if load is false, merely allocates) state for the
// session's username. lock additionally takes the advisory write lock,
// matching _state_init's _LOAD|_LOCK flag combination.
//
// Equivalent to the original's _state_init: when load is false this
// just marks the session as holding a brand new, as-yet-unsaved record
// (a->new_state = 1); otherwise it loads through the store, mapping
// KindNumSpace to success-with-state (the original ignores STATE_NUMSPACE
// "loaded but no passcodes to use" at this level) and any other load
// failure to a propagated error with no session state retained.
func Init(store *statestore.StateStore, s *Session, load, lock bool) error {
	if s.State != nil || s.Handle != nil {
		return otpderr.New(otpderr.KindInternal, "lifecycle: Init called with state already held")
	}

	if !load {
		s.State = otpstate.New()
		s.IsNewState = true
		return nil
	}

	s.IsNewState = false

	state, h, err := store.Load(s.Username, lock)
	if err != nil {
		if kind(err) == otpderr.KindNumSpace {
			// Loaded, but out of usable passcodes; that's fine at this
			// level, the caller decides whether it matters.
			s.State, s.Handle = state, h
			return nil
		}
		return err
	}

	s.State, s.Handle = state, h
	return nil
}

// FiniDisposition mirrors the original's _STORE/_REMOVE/_KEEP request
// flags bundled together, since Go can express that combination as a
// small struct instead of a bitfield whose (STORE|REMOVE) combination
// has to be asserted out.
type FiniDisposition struct {
	// Store persists State before releasing. Mutually exclusive with Remove.
	Store bool
	// Remove deletes the on-disk record before releasing. Mutually
	// exclusive with Store.
	Remove bool
	// Keep leaves Handle/State attached to the session (just releasing
	// the lock) instead of clearing them, for the atomical-operation
	// path which needs the record to remain loaded across future ops.
	Keep bool
}

// Fini stores/removes/discards and releases the session's held state per
// disposition, equivalent to _state_fini. A session with no Handle (a
// brand new, never-loaded record, or one already released) and no Store
// disposition has nothing to release against storage; only clears
// in-memory state unless Keep is set.
func Fini(store *statestore.StateStore, s *Session, d FiniDisposition) error {
	if d.Store && d.Remove {
		return otpderr.New(otpderr.KindInternal, "lifecycle: Store and Remove are mutually exclusive")
	}
	if s.State == nil {
		return otpderr.New(otpderr.KindNoState, "lifecycle: Fini called with no state held")
	}

	var err error
	if s.Handle != nil {
		switch {
		case d.Remove:
			err = store.Release(s.Handle, statestore.ReleaseRemove, nil)
		case d.Store:
			err = store.Release(s.Handle, statestore.ReleaseStore, s.State)
		default:
			err = store.Release(s.Handle, statestore.ReleaseDiscard, nil)
		}
	} else if d.Store {
		// A brand new record (IsNewState) that was never loaded through
		// the store needs its own Create+Release round trip. Create
		// refuses to overwrite an existing non-empty record.
		h, cerr := store.Create(s.Username)
		if cerr != nil {
			return cerr
		}
		err = store.Release(h, statestore.ReleaseStore, s.State)
	}

	if !d.Keep {
		s.State = nil
		s.Handle = nil
		s.IsNewState = false
	} else if s.Handle != nil {
		// Keep means the lock was released above but the in-memory
		// record stays attached; the Handle itself is no longer valid
		// once Release has closed its file descriptor, so drop it while
		// retaining State.
		s.Handle = nil
	}

	return err
}

// InitAtomical begins an "atomical operation": a scoped
// load-lock-mutate-store-release window that appears indivisible to
// other processes touching the same state file. Equivalent to
// _state_init_atomical: a session already mid-StateNew (IsNewState) is
// left untouched (its record isn't persisted until an explicit
// StateStore request, same as the original), any
// already-loaded-without-lock state is dropped first, and then the
// record is (re)loaded with the lock held.
func InitAtomical(store *statestore.StateStore, s *Session) error {
	if s.IsNewState {
		if s.State == nil {
			return otpderr.New(otpderr.KindInternal, "lifecycle: IsNewState set but no State held")
		}
		return nil
	}

	if s.State != nil {
		if err := Fini(store, s, FiniDisposition{}); err != nil {
			return err
		}
	}

	return Init(store, s, true, true)
}

// FiniAtomical ends an atomical operation, given the error result of the
// mutation performed under InitAtomical. A nil prevErr stores the
// mutated record and keeps it attached to the session (as KEEP in the
// original); a non-nil prevErr discards any change, still keeping the
// lock-released record attached, and returns prevErr unchanged so the
// caller's original failure reason survives.
func FiniAtomical(store *statestore.StateStore, s *Session, prevErr error) error {
	if s.IsNewState {
		return prevErr
	}

	if prevErr == nil {
		return Fini(store, s, FiniDisposition{Store: true, Keep: true})
	}

	if err := Fini(store, s, FiniDisposition{Keep: true}); err != nil {
		return err
	}
	return prevErr
}

func kind(err error) otpderr.Kind {
	if e, ok := err.(*otpderr.Error); ok {
		return e.Kind
	}
	return otpderr.KindNone
}
