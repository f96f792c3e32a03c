package main

import (
	"fmt"
	"strings"

	"github.com/mitchellh/cli"

	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/wire"
)

// GenerateCommand drives the full happy-path sequence: UserSet,
// StateNew, KeyGenerate, StateStore. It exists to exercise
// AgentSupervisor end to end from a real main, not as a substitute for
// a full interactive CLI.
type GenerateCommand struct {
	Ui cli.Ui
}

func (c *GenerateCommand) Help() string {
	return strings.TrimSpace(`
Usage: otpd generate <user>

  Forks the privileged agent, creates a fresh passcard state for
  <user>, generates a key, and stores the result.
`)
}

func (c *GenerateCommand) Synopsis() string {
	return "Generate a new key for a user"
}

func (c *GenerateCommand) Run(args []string) int {
	if len(args) != 1 {
		c.Ui.Error("exactly one argument required: <user>")
		return 1
	}
	username := args[0]

	sess, err := connectAndSetUser(username)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	defer disconnect(sess)

	steps := []struct {
		label string
		req   *wire.Frame
	}{
		{"create state", wire.New(wire.ReqStateNew, 0)},
		{"generate key", wire.New(wire.ReqKeyGenerate, 0)},
		{"store state", wire.New(wire.ReqStateStore, 0)},
	}

	for _, step := range steps {
		reply, err := roundTrip(sess, step.req)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("%s: %s", step.label, err))
			return 1
		}
		if reply.Status != int32(otpderr.KindNone) {
			c.Ui.Error(fmt.Sprintf("%s: %s", step.label, otpderr.Kind(reply.Status)))
			return 1
		}
	}

	c.Ui.Output(fmt.Sprintf("generated and stored a new key for %s", username))
	return 0
}
