package agent

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/wire"
)

// TestMain lets this same test binary double as the "agent" subprocess
// Connect execs in the tests below: when OTPD_AGENT_HELPER is set, the
// process runs runHelperAgent and exits instead of running go test,
// the same os.Args[0]-re-exec trick os/exec_test.go uses upstream.
func TestMain(m *testing.M) {
	if mode := os.Getenv("OTPD_AGENT_HELPER"); mode != "" {
		runHelperAgent(mode)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runHelperAgent(mode string) {
	switch mode {
	case "ok":
		ch, err := RunAsAgent(otpderr.KindNone)
		if err != nil {
			os.Exit(1)
		}
		for {
			f, err := ch.Recv()
			if err != nil {
				return
			}
			if err := ch.Send(wire.New(wire.ReqReply, int32(otpderr.KindNone))); err != nil {
				return
			}
			if f.Type == wire.ReqDisconnect {
				return
			}
		}
	case "initfail":
		RunAsAgent(otpderr.KindInternal)
	case "silent":
		time.Sleep(5 * time.Second)
	case "badframe":
		os.Stdout.Write([]byte("not a valid frame"))
	}
}

func withHelper(t *testing.T, mode string) {
	t.Helper()
	if err := os.Setenv("OTPD_AGENT_HELPER", mode); err != nil {
		t.Fatalf("Setenv: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("OTPD_AGENT_HELPER") })
}

func TestConnectHappyPathAndDisconnect(t *testing.T) {
	withHelper(t, "ok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := Connect(ctx, os.Args[0], nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	disc := wire.New(wire.ReqDisconnect, 0)
	if err := sess.Channel.Send(disc); err != nil {
		t.Fatalf("Send(Disconnect): %v", err)
	}
	reply, err := sess.Channel.Recv()
	if err != nil {
		t.Fatalf("Recv(Disconnect reply): %v", err)
	}
	if reply.Status != int32(otpderr.KindNone) {
		t.Errorf("Disconnect reply status = %v, want KindNone", reply.Status)
	}

	if err := sess.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestConnectInitFailureIsReported(t *testing.T) {
	withHelper(t, "initfail")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Connect(ctx, os.Args[0], nil)
	if err == nil {
		t.Fatal("Connect succeeded, want init-failure error")
	}
	if otpderr.KindOf(err) != otpderr.KindInternal {
		t.Errorf("Connect error kind = %v, want KindInternal", otpderr.KindOf(err))
	}
}

func TestConnectHandshakeTimeout(t *testing.T) {
	withHelper(t, "silent")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := Connect(ctx, os.Args[0], nil)
	if err == nil {
		t.Fatal("Connect succeeded against a silent agent, want timeout error")
	}
	if otpderr.KindOf(err) != otpderr.KindTimeout {
		t.Errorf("Connect error kind = %v, want KindTimeout", otpderr.KindOf(err))
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Connect took %v, want it to fail close to handshakeTimeout (2s)", elapsed)
	}
}

func TestConnectCtxCancelDoesNotOutliveConnect(t *testing.T) {
	withHelper(t, "ok")

	// A context that's already canceled by the time Connect is called
	// must abort the connect attempt without anything hanging, and must
	// not be confused with the process's own lifetime.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, os.Args[0], nil)
	if err == nil {
		t.Fatal("Connect succeeded against an already-canceled context, want error")
	}
}

func TestConnectBadInitFrameIsDisconnected(t *testing.T) {
	withHelper(t, "badframe")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Connect(ctx, os.Args[0], nil)
	if err == nil {
		t.Fatal("Connect succeeded against a garbage-writing agent, want error")
	}
	if otpderr.KindOf(err) != otpderr.KindDisconnected {
		t.Errorf("Connect error kind = %v, want KindDisconnected", otpderr.KindOf(err))
	}
}
