package flock

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLockUnlockBasic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := Lock(f); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := Unlock(f); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

// TestLockContendedReportsImmediately exercises the non-blocking
// contract StateStore.Load relies on to report otpderr.KindLocked
// without blocking: a second locker on an already-locked file fails
// right away instead of waiting for the first to release.
func TestLockContendedReportsImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	f1, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("open f1: %v", err)
	}
	defer f1.Close()

	if err := Lock(f1); err != nil {
		t.Fatalf("Lock f1: %v", err)
	}

	f2, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("open f2: %v", err)
	}
	defer f2.Close()

	if err := Lock(f2); err == nil {
		t.Fatal("Lock on an already-locked file succeeded, want immediate contention error")
	}
}
