//go:build !windows

package agent

import (
	"os/signal"
	"syscall"
)

// IgnoreSIGPIPE arranges for SIGPIPE to be ignored rather than killing
// the process, so a client crashing mid-request surfaces as an ordinary
// write error on the agent's next Send (reported as Disconnected) rather
// than terminating the agent outright. Mirrors the original agent.c's
// signal(SIGPIPE, SIG_IGN) at startup (spec.md §5 "Signals").
func IgnoreSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}
