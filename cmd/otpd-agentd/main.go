// Command otpd-agentd is the privileged agent binary: the process an
// unprivileged otpd client forks and execs with no arguments. It talks
// the framed protocol over its inherited stdin/stdout, never reads
// argv or a TTY, and logs diagnostics to stderr only.
package main

import (
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/gitGNU/gnu-otpasswd/internal/agent"
	"github.com/gitGNU/gnu-otpasswd/internal/dispatcher"
	"github.com/gitGNU/gnu-otpasswd/internal/numeric/hotpengine"
	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/policyconfig"
	"github.com/gitGNU/gnu-otpasswd/internal/statestore"
)

// envConfigPath overrides the compiled-in policy document location,
// mainly so this binary can be exercised against a throwaway config in
// integration tests without touching /etc.
const envConfigPath = "OTPD_CONFIG"

const defaultConfigPath = "/etc/otpasswd/otpasswd.conf"

func main() {
	os.Exit(realMain())
}

func realMain() int {
	agent.IgnoreSIGPIPE()

	level := hclog.Info
	if lvl := os.Getenv("OTPD_LOG_LEVEL"); lvl != "" {
		level = hclog.LevelFromString(lvl)
	}
	log := hclog.New(&hclog.LoggerOptions{
		Name:   "otpd-agentd",
		Level:  level,
		Output: os.Stderr,
	})

	configPath := os.Getenv(envConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := policyconfig.Load(configPath)
	if err != nil {
		log.Warn("no usable policy document, falling back to built-in defaults", "path", configPath, "error", err)
		cfg = policyconfig.Default()
	}

	// The Init frame is the only channel available to report a startup
	// failure: by the time preflight runs, stdout is already the wire
	// channel the client is waiting on, not a terminal.
	initStatus := otpderr.KindNone
	if err := policyconfig.PreflightOwnership(configPath, cfg.RemoteDBConfigured); err != nil {
		log.Error("config ownership/permission preflight failed", "error", err)
		switch err {
		case policyconfig.ErrConfigOwnership:
			initStatus = otpderr.KindConfigOwnership
		case policyconfig.ErrConfigPermissions:
			initStatus = otpderr.KindConfigPermissions
		default:
			initStatus = otpderr.KindInternal
		}
	}

	channel, err := agent.RunAsAgent(initStatus)
	if err != nil {
		log.Error("failed to emit startup handshake", "error", err)
		return 1
	}
	if initStatus != otpderr.KindNone {
		return 1
	}

	privileged := agent.IsPrivileged()
	log.Debug("privilege check complete", "privileged", privileged)

	store := statestore.New(nil, cfg, hotpengine.New())
	d := dispatcher.New(channel, store, cfg, hotpengine.New(), privileged, log.Named("dispatcher"))

	if err := d.Run(); err != nil {
		log.Error("dispatcher terminated", "error", err)
		return 1
	}
	return 0
}
