// Command otpd is a minimal demo client for the PPPv3 privileged
// agent: it forks internal/agent's AgentSupervisor and drives a
// handful of requests end to end. It is intentionally thin — a full
// interactive CLI (passcard printing, prompting, localization) is out
// of scope; this binary exists only to exercise AgentSupervisor.Connect
// from a real main, wiring up mitchellh/cli the same way a larger
// command-line tool would.
package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"
)

var Ui cli.Ui

func init() {
	Ui = newBasicUI()
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	commands := map[string]cli.CommandFactory{
		"generate": func() (cli.Command, error) {
			return &GenerateCommand{Ui: Ui}, nil
		},
		"show": func() (cli.Command, error) {
			return &ShowCommand{Ui: Ui}, nil
		},
	}

	cliRunner := &cli.CLI{
		Name:       "otpd",
		Args:       os.Args[1:],
		Commands:   commands,
		HelpWriter: os.Stdout,
	}

	exitCode, err := cliRunner.Run()
	if err != nil {
		Ui.Error(fmt.Sprintf("error executing CLI: %s", err))
		return 1
	}
	return exitCode
}
