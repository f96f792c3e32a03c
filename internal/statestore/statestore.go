// Package statestore implements StateStore: the per-user on-disk PppState
// lifecycle. It follows the same shape as
// internal/command/clistate.LocalState (open-or-create, fcntl-lock via
// internal/flock, atomic rewrite) generalized from a single local.tfstate
// file to per-username state records keyed either by a shared shadow file
// or a per-home-directory file, per policyconfig.StorageMode.
package statestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/gitGNU/gnu-otpasswd/internal/flock"
	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/otpstate"
	"github.com/gitGNU/gnu-otpasswd/internal/policyconfig"
)

// Disposition selects what Release does with a held record on exit.
type Disposition int

const (
	// ReleaseDiscard drops any in-memory changes and just releases the lock.
	ReleaseDiscard Disposition = iota
	// ReleaseStore persists the (possibly mutated) state before releasing.
	ReleaseStore
	// ReleaseRemove deletes the on-disk record before releasing.
	ReleaseRemove
)

// Handle tracks a single loaded-and-optionally-locked record so Release
// knows what file handle, lock state, and path it owns.
type Handle struct {
	user   string
	path   string
	file   *os.File
	locked bool
}

// StateStore resolves per-user state file paths per the configured
// StorageMode and performs locked load/store/remove against them, using
// internal/flock for advisory locking and afero.Fs for filesystem access
// so tests can swap in an in-memory filesystem.
type StateStore struct {
	fs     afero.Fs
	policy *policyconfig.Config
	engine otpstate.NumericEngine
}

// New constructs a StateStore. fs may be nil, in which case the real OS
// filesystem (afero.NewOsFs()) is used. fs serves only Exists and the
// directory creation in Create; loading, locking, storing and removing
// always act on the OS filesystem through *os.File.
func New(fs afero.Fs, policy *policyconfig.Config, engine otpstate.NumericEngine) *StateStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &StateStore{fs: fs, policy: policy, engine: engine}
}

// pathFor resolves the on-disk location of user's state record per the
// configured StorageMode.
func (ss *StateStore) pathFor(user string) (string, error) {
	switch ss.policy.Storage {
	case policyconfig.StorageShadow:
		if ss.policy.ShadowPath == "" {
			return "", otpderr.New(otpderr.KindInternal, "shadow storage mode requires shadow_path")
		}
		// One file per user, keyed by username, alongside the configured
		// shadow path (mirrors a shadow(5)-style per-entry layout without
		// needing a single giant file with its own internal locking).
		return filepath.Join(filepath.Dir(ss.policy.ShadowPath), "users", user), nil
	case policyconfig.StorageHomeDir:
		if ss.policy.HomeStateFile == "" {
			return "", otpderr.New(otpderr.KindInternal, "home storage mode requires home_state_file")
		}
		home, err := homeDirFor(user)
		if err != nil {
			return "", otpderr.New(otpderr.KindIOError, err.Error())
		}
		return filepath.Join(home, ss.policy.HomeStateFile), nil
	default:
		return "", otpderr.New(otpderr.KindInternal, "unknown storage mode")
	}
}

// Exists reports whether user already has a state record, without
// loading or locking it.
func (ss *StateStore) Exists(user string) (bool, error) {
	path, err := ss.pathFor(user)
	if err != nil {
		return false, err
	}
	_, err = ss.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, otpderr.New(otpderr.KindIOError, err.Error())
}

// Load opens user's state file, optionally taking an exclusive advisory
// lock on it, and decodes its contents. A missing file yields
// otpderr.KindNoState with a nil Handle and nil State; callers that want
// to create a new record should use Create instead.
func (ss *StateStore) Load(user string, lock bool) (*otpstate.State, *Handle, error) {
	path, err := ss.pathFor(user)
	if err != nil {
		return nil, nil, err
	}

	osPath, f, err := ss.openOSFile(path, os.O_RDWR, false)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, otpderr.New(otpderr.KindNoState, "no state for user")
		}
		return nil, nil, otpderr.New(otpderr.KindIOError, err.Error())
	}

	h := &Handle{user: user, path: osPath, file: f}

	if lock {
		if err := flock.Lock(f); err != nil {
			f.Close()
			return nil, nil, otpderr.New(otpderr.KindLocked, "state file is locked by another session")
		}
		h.locked = true
	}

	data, err := io.ReadAll(f)
	if err != nil {
		ss.closeHandle(h)
		return nil, nil, otpderr.New(otpderr.KindIOError, err.Error())
	}
	if len(data) == 0 {
		ss.closeHandle(h)
		return nil, nil, otpderr.New(otpderr.KindNoState, "state file is empty")
	}

	state, err := ss.engine.Decode(data)
	if err != nil {
		ss.closeHandle(h)
		return nil, nil, otpderr.New(otpderr.KindCorruptState, err.Error())
	}

	return state, h, nil
}

// Create opens (creating if necessary) user's state file, taking an
// exclusive lock, for a brand new record. It fails with KindMustDropState
// if a non-empty record already exists, matching StateLifecycle's
// StateNew discipline of refusing to silently clobber existing state.
func (ss *StateStore) Create(user string) (*Handle, error) {
	path, err := ss.pathFor(user)
	if err != nil {
		return nil, err
	}

	if err := ss.fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, otpderr.New(otpderr.KindIOError, err.Error())
	}

	osPath, f, err := ss.openOSFile(path, os.O_RDWR|os.O_CREATE, true)
	if err != nil {
		return nil, otpderr.New(otpderr.KindIOError, err.Error())
	}

	h := &Handle{user: user, path: osPath, file: f}

	if err := flock.Lock(f); err != nil {
		f.Close()
		return nil, otpderr.New(otpderr.KindLocked, "state file is locked by another session")
	}
	h.locked = true

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		ss.closeHandle(h)
		return nil, otpderr.New(otpderr.KindIOError, err.Error())
	}
	if size > 0 {
		ss.closeHandle(h)
		return nil, otpderr.New(otpderr.KindMustDropState, "a state record already exists for user")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		ss.closeHandle(h)
		return nil, otpderr.New(otpderr.KindIOError, err.Error())
	}

	return h, nil
}

// Store persists state through h via atomic temp-file-then-rename,
// preserving the original file's owner and mode. Unlike an in-place
// truncate-and-rewrite of the held descriptor, renaming a freshly
// written temp file over the original means a reader never observes a
// partially written record.
func (ss *StateStore) Store(h *Handle, state *otpstate.State) error {
	data, err := ss.engine.Encode(state)
	if err != nil {
		return otpderr.New(otpderr.KindInternal, err.Error())
	}

	info, err := os.Stat(h.path)
	mode := os.FileMode(0o600)
	if err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(h.path)
	tmp, err := os.CreateTemp(dir, ".otpstate-*.tmp")
	if err != nil {
		return otpderr.New(otpderr.KindIOError, err.Error())
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return otpderr.New(otpderr.KindIOError, err.Error())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return otpderr.New(otpderr.KindIOError, err.Error())
	}
	if err := tmp.Close(); err != nil {
		return otpderr.New(otpderr.KindIOError, err.Error())
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return otpderr.New(otpderr.KindIOError, err.Error())
	}
	preserveOwner(tmpPath, h.path)

	if err := os.Rename(tmpPath, h.path); err != nil {
		return otpderr.New(otpderr.KindIOError, err.Error())
	}
	return nil
}

// Remove deletes the on-disk record h refers to.
func (ss *StateStore) Remove(h *Handle) error {
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return otpderr.New(otpderr.KindIOError, err.Error())
	}
	return nil
}

// Release ends h's hold on the state file per disposition, always
// releasing any lock and closing the descriptor. state is required when
// disposition is ReleaseStore.
func (ss *StateStore) Release(h *Handle, disposition Disposition, state *otpstate.State) error {
	var storeErr error
	switch disposition {
	case ReleaseStore:
		storeErr = ss.Store(h, state)
	case ReleaseRemove:
		storeErr = ss.Remove(h)
	case ReleaseDiscard:
		// nothing to do before releasing the lock
	}

	closeErr := ss.closeHandle(h)
	if storeErr != nil {
		return storeErr
	}
	return closeErr
}

func (ss *StateStore) closeHandle(h *Handle) error {
	var unlockErr error
	if h.locked {
		unlockErr = flock.Unlock(h.file)
		h.locked = false
	}
	closeErr := h.file.Close()
	if unlockErr != nil {
		return fmt.Errorf("statestore: unlock: %w", unlockErr)
	}
	return closeErr
}

// openOSFile opens path as a real *os.File for locking purposes. flock
// operates on file descriptors, which afero.File does not expose for the
// in-memory backend, so StateStore always talks to the OS filesystem for
// the handle itself; ss.fs is used only for the existence check and the
// directory creation.
func (ss *StateStore) openOSFile(path string, flag int, create bool) (string, *os.File, error) {
	f, err := os.OpenFile(path, flag, 0o600)
	if err != nil {
		return "", nil, err
	}
	return path, f, nil
}
