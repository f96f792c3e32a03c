// Package agent implements AgentSupervisor: the client-side half that
// forks/execs the privileged agent binary and waits for its startup
// handshake, and the server-side half that adopts stdin/stdout as its
// channel and emits that handshake frame. It plays the role the
// original's pipe()/fork()/execl() dance in main.c and agent.c plays,
// translated to os/exec + os.Pipe, the idiomatic Go equivalent the
// teacher repo itself uses for launching subordinate processes
// (internal/command/clistate's lock-holding subprocess patterns, and
// more directly hashicorp/go-plugin's client/server split, which this
// package's Connect/RunAsAgent shape mirrors without adopting
// go-plugin's RPC framing — see DESIGN.md for why).
package agent

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/wire"
)

// handshakeTimeout is how long Connect waits for the agent's initial
// Init frame before giving up, per spec.md §4.7.
const handshakeTimeout = 2 * time.Second

// Session is what Connect hands back to the unprivileged client: a
// ready-to-use FramedChannel plus the subprocess handle needed to
// reap it on Close.
type Session struct {
	Channel *wire.FramedChannel
	cmd     *exec.Cmd
}

// Close waits for the agent subprocess to exit, killing it if it
// hasn't within 2s. Callers that want a clean shutdown should send a
// Disconnect request over Channel before calling Close.
func (s *Session) Close() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		_ = s.cmd.Process.Kill()
		return <-done
	}
}

// pipeDuplex adapts a pair of unidirectional os.Pipe ends into the
// wire.Duplex a FramedChannel expects.
type pipeDuplex struct {
	r *os.File
	w *os.File
}

func (p pipeDuplex) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeDuplex) Write(b []byte) (int, error) { return p.w.Write(b) }

// SetReadDeadline satisfies wire's deadliner interface so WaitReady can
// use a real bounded wait instead of its goroutine-race fallback.
func (p pipeDuplex) SetReadDeadline(t time.Time) error { return p.r.SetReadDeadline(t) }

// Connect forks agentPath with no arguments, wires its stdin/stdout to a
// fresh pair of pipes (stderr is discarded, matching spec.md §4.7), and
// waits up to handshakeTimeout for the startup Init frame. A timeout,
// frame error, or non-KindNone Init status is fatal and the subprocess
// is killed before returning.
//
// ctx bounds only the connect attempt itself (spawn plus handshake),
// not the returned Session's lifetime: unlike exec.CommandContext, the
// agent process is deliberately NOT tied to ctx's cancellation, since
// callers commonly scope a short deadline around Connect alone (see
// cmd/otpd) and a process killed the moment that context is canceled
// would never survive past its own setup call.
func Connect(ctx context.Context, agentPath string, log hclog.Logger) (*Session, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	toAgentR, toAgentW, err := os.Pipe()
	if err != nil {
		return nil, otpderr.New(otpderr.KindInternal, "agent: create stdin pipe: "+err.Error())
	}
	fromAgentR, fromAgentW, err := os.Pipe()
	if err != nil {
		toAgentR.Close()
		toAgentW.Close()
		return nil, otpderr.New(otpderr.KindInternal, "agent: create stdout pipe: "+err.Error())
	}

	cmd := exec.Command(agentPath)
	cmd.Stdin = toAgentR
	cmd.Stdout = fromAgentW
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		toAgentR.Close()
		toAgentW.Close()
		fromAgentR.Close()
		fromAgentW.Close()
		return nil, otpderr.New(otpderr.KindInternal, "agent: exec failed: "+err.Error())
	}

	// The parent only needs the ends it writes/reads; the child's ends
	// were duplicated into the subprocess at Start and must be closed
	// here or the parent's read of fromAgentR will never see EOF on
	// child exit.
	toAgentR.Close()
	fromAgentW.Close()

	channel := wire.New(pipeDuplex{r: fromAgentR, w: toAgentW})

	log.Debug("waiting for agent handshake", "path", agentPath)

	type handshake struct {
		frame *wire.Frame
		err   error
	}
	resultCh := make(chan handshake, 1)
	go func() {
		if err := channel.WaitReady(handshakeTimeout); err != nil {
			resultCh <- handshake{err: err}
			return
		}
		f, err := channel.Recv()
		resultCh <- handshake{frame: f, err: err}
	}()

	var res handshake
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		cmd.Process.Kill()
		toAgentW.Close()
		fromAgentR.Close()
		return nil, otpderr.New(otpderr.KindTimeout, "connect canceled: "+ctx.Err().Error())
	}

	if res.err != nil {
		cmd.Process.Kill()
		toAgentW.Close()
		fromAgentR.Close()
		return nil, res.err
	}
	initFrame := res.frame
	if initFrame.Type != wire.ReqInit {
		cmd.Process.Kill()
		toAgentW.Close()
		fromAgentR.Close()
		return nil, otpderr.New(otpderr.KindProtocolMismatch, "expected Init frame from agent")
	}
	if initFrame.Status != int32(otpderr.KindNone) {
		cmd.Process.Kill()
		toAgentW.Close()
		fromAgentR.Close()
		return nil, otpderr.New(otpderr.Kind(initFrame.Status), "agent reported startup failure")
	}

	log.Debug("agent handshake complete", "pid", cmd.Process.Pid)
	return &Session{Channel: channel, cmd: cmd}, nil
}

// RunAsAgent is the server side's entry point: adopt stdin/stdout as the
// channel, emit the startup Init frame carrying initStatus (e.g. a
// config-ownership preflight failure), and return the ready channel for
// the caller to hand to a dispatcher.Dispatcher. It does not loop itself
// so the caller can wire in its own Dispatcher and log sink.
func RunAsAgent(initStatus otpderr.Kind) (*wire.FramedChannel, error) {
	channel := wire.New(pipeDuplex{r: os.Stdin, w: os.Stdout})

	init := wire.New(wire.ReqInit, int32(initStatus))
	if err := channel.Send(init); err != nil {
		return nil, err
	}
	return channel, nil
}
