//go:build windows

package policyconfig

import "io/fs"

// fileOwnerUID has no POSIX-UID equivalent on Windows; the ownership
// preflight is a POSIX-specific check (spec.md §6 talks in terms of
// "owned by root"), so on Windows the ownership half of the preflight
// is skipped; PreflightOwnership's mode-bit check still runs.
func fileOwnerUID(info fs.FileInfo) (uint32, bool) {
	return 0, false
}
