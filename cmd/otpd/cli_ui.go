package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"
	"github.com/mitchellh/colorstring"
)

// colorizeUi is a cli.Ui that colors its output by message kind, with
// a narrower palette than a full command-line tool needs (no Info
// color distinct from Output — this CLI has no long-running command
// views to separate them).
type colorizeUi struct {
	Colorize    *colorstring.Colorize
	OutputColor string
	ErrorColor  string
	WarnColor   string
	Ui          cli.Ui
}

func (u *colorizeUi) Ask(query string) (string, error) {
	return u.Ui.Ask(u.colorize(query, u.OutputColor))
}

func (u *colorizeUi) AskSecret(query string) (string, error) {
	return u.Ui.AskSecret(u.colorize(query, u.OutputColor))
}

func (u *colorizeUi) Output(message string) {
	u.Ui.Output(u.colorize(message, u.OutputColor))
}

func (u *colorizeUi) Info(message string) {
	u.Ui.Info(u.colorize(message, u.OutputColor))
}

func (u *colorizeUi) Error(message string) {
	u.Ui.Error(u.colorize(message, u.ErrorColor))
}

func (u *colorizeUi) Warn(message string) {
	// Redirected to Output: keeps warnings serialized within the
	// stdout stream rather than racing stderr output.
	u.Ui.Output(u.colorize(message, u.WarnColor))
}

func (u *colorizeUi) colorize(message, color string) string {
	if color == "" {
		return message
	}
	return u.Colorize.Color(fmt.Sprintf("%s%s[reset]", color, message))
}

// newBasicUI returns the default colorized Ui for the otpd demo client.
func newBasicUI() cli.Ui {
	return &colorizeUi{
		Colorize: &colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: os.Getenv("NO_COLOR") != "",
			Reset:   true,
		},
		OutputColor: "",
		ErrorColor:  "[red]",
		WarnColor:   "[yellow]",
		Ui: &cli.BasicUi{
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
			Reader:      os.Stdin,
		},
	}
}
