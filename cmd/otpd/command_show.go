package main

import (
	"fmt"
	"strings"

	"github.com/mitchellh/cli"

	"github.com/gitGNU/gnu-otpasswd/internal/agent"
	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/wire"
)

// ShowCommand loads an existing user's state and prints the fields
// exposed through GetNum/GetInt/GetStr, the read-only counterpart to
// GenerateCommand.
type ShowCommand struct {
	Ui cli.Ui
}

func (c *ShowCommand) Help() string {
	return strings.TrimSpace(`
Usage: otpd show <user>

  Forks the privileged agent, loads <user>'s existing state, and
  prints its label, counter, and configured passcode length.
`)
}

func (c *ShowCommand) Synopsis() string {
	return "Show an existing user's passcard state"
}

func (c *ShowCommand) Run(args []string) int {
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

	load := wire.New(wire.ReqStateLoad, 0)
	reply, err := roundTrip(sess, load)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("load state: %s", err))
		return 1
	}
	if reply.Status != int32(otpderr.KindNone) {
		c.Ui.Error(fmt.Sprintf("load state: %s", otpderr.Kind(reply.Status)))
		return 1
	}

	label, err := getStr(sess, wire.FieldLabel)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	counter, err := getNum(sess, wire.FieldCounter)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	codeLength, err := getInt(sess, wire.FieldCodeLength)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	c.Ui.Output(fmt.Sprintf("user:        %s", username))
	c.Ui.Output(fmt.Sprintf("label:       %s", label))
	c.Ui.Output(fmt.Sprintf("counter:     %s", counter))
	c.Ui.Output(fmt.Sprintf("code length: %d", codeLength))
	return 0
}

func getStr(sess *agent.Session, field wire.FieldID) (string, error) {
	req := wire.New(wire.ReqGetStr, 0)
	req.IntArg = int32(field)
	reply, err := roundTrip(sess, req)
	if err != nil {
		return "", err
	}
	if reply.Status != int32(otpderr.KindNone) {
		return "", otpderr.New(otpderr.Kind(reply.Status), "GetStr failed")
	}
	return reply.Str(), nil
}

func getNum(sess *agent.Session, field wire.FieldID) (string, error) {
	req := wire.New(wire.ReqGetNum, 0)
	req.IntArg = int32(field)
	reply, err := roundTrip(sess, req)
	if err != nil {
		return "", err
	}
	if reply.Status != int32(otpderr.KindNone) {
		return "", otpderr.New(otpderr.Kind(reply.Status), "GetNum failed")
	}
	return reply.NumArg.String(), nil
}

func getInt(sess *agent.Session, field wire.FieldID) (int32, error) {
	req := wire.New(wire.ReqGetInt, 0)
	req.IntArg = int32(field)
	reply, err := roundTrip(sess, req)
	if err != nil {
		return 0, err
	}
	if reply.Status != int32(otpderr.KindNone) {
		return 0, otpderr.New(otpderr.Kind(reply.Status), "GetInt failed")
	}
	return reply.IntArg, nil
}
