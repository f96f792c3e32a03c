package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/gitGNU/gnu-otpasswd/internal/agent"
	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/wire"
)

// envAgentPath overrides where the privileged agent binary is found,
// an env-var override for a binary normally resolved from PATH.
const envAgentPath = "OTPD_AGENT_PATH"

const defaultAgentName = "otpd-agentd"

func resolveAgentPath() (string, error) {
	if p := os.Getenv(envAgentPath); p != "" {
		return p, nil
	}
	return exec.LookPath(defaultAgentName)
}

// connectAndSetUser forks the agent, waits for its handshake, and binds
// the session to username — the precondition every other request in
// this demo CLI builds on.
func connectAndSetUser(username string) (*agent.Session, error) {
	agentPath, err := resolveAgentPath()
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", defaultAgentName, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := agent.Connect(ctx, agentPath, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to agent: %w", err)
	}

	setUser := wire.New(wire.ReqUserSet, 0)
	if err := setUser.SetStr(username); err != nil {
		sess.Close()
		return nil, err
	}
	reply, err := roundTrip(sess, setUser)
	if err != nil {
		sess.Close()
		return nil, err
	}
	if reply.Status != int32(otpderr.KindNone) {
		sess.Close()
		return nil, otpderr.New(otpderr.Kind(reply.Status), "UserSet rejected")
	}
	return sess, nil
}

// roundTrip sends req and returns the single reply frame the protocol
// guarantees (one outstanding request at a time, per spec.md §5).
func roundTrip(sess *agent.Session, req *wire.Frame) (*wire.Frame, error) {
	if err := sess.Channel.Send(req); err != nil {
		return nil, err
	}
	return sess.Channel.Recv()
}

func disconnect(sess *agent.Session) {
	_, _ = roundTrip(sess, wire.New(wire.ReqDisconnect, 0))
	sess.Close()
}
