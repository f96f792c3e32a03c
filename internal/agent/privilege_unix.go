//go:build !windows

package agent

import "os"

// IsPrivileged reports whether the running process has the elevated
// rights security_is_privileged() checks for in the original: true
// when the effective user id is root. This is evaluated once at agent
// startup and threaded through as an explicit Dispatcher field (see
// DESIGN.md's Design Notes on no global mutable state), never
// re-checked per request.
func IsPrivileged() bool {
	return os.Geteuid() == 0
}
