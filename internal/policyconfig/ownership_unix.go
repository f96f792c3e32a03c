//go:build !windows

package policyconfig

import (
	"io/fs"
	"syscall"
)

// fileOwnerUID extracts the owning UID from a fs.FileInfo on
// platforms that populate syscall.Stat_t, which covers every target
// this agent runs on (spec.md's IPC is strictly local to one host).
func fileOwnerUID(info fs.FileInfo) (uint32, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return st.Uid, true
}
