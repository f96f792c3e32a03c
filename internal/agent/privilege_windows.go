//go:build windows

package agent

// IsPrivileged reports whether the running process has elevated
// rights. Windows has no euid concept; the privileged/unprivileged
// split this agent implements is POSIX-specific (a root-owned shadow
// file, a setuid-style helper), so this always reports false rather
// than guessing at an analogous Windows ACL check nothing in
// SPEC_FULL calls for.
func IsPrivileged() bool {
	return false
}
