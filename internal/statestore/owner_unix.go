//go:build !windows

package statestore

import (
	"os"
	"syscall"
)

// preserveOwner chowns newPath to match existingPath's owning uid/gid
// (Store copies the mode itself) before the atomic rename in Store, so a
// root-owned state file
// doesn't end up owned by whatever uid happened to create the temp file
// (the agent itself, always running privileged). Errors are ignored: the
// rename still proceeds, and a wrong owner on a brand new file is no
// worse than the original otpasswd's best-effort chown.
func preserveOwner(newPath, existingPath string) {
	info, err := os.Stat(existingPath)
	if err != nil {
		return
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	_ = os.Chown(newPath, int(st.Uid), int(st.Gid))
}
