//go:build windows

package agent

// IgnoreSIGPIPE is a no-op on Windows, which has no SIGPIPE: broken
// pipes already surface as ordinary write errors.
func IgnoreSIGPIPE() {}
