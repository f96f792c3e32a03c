//go:build windows

package statestore

// preserveOwner is a no-op on Windows: ownership there is ACL-based, not
// a simple uid/gid pair, and is out of scope for this port.
func preserveOwner(newPath, existingPath string) {}
