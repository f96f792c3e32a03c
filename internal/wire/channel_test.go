package wire

import (
	"net"
	"testing"
	"time"

	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
)

// pipePair returns two in-memory connected duplexes, similar to a
// pair of OS pipes but without the fork/exec boundary, for exercising
// FramedChannel logic directly in tests.
func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestFramedChannelSendRecv(t *testing.T) {
	a, b := pipePair(t)
	client := New(a)
	server := New(b)

	sent := New(ReqKeyGenerate, 0)
	sent.IntArg = 42

	errc := make(chan error, 1)
	go func() { errc <- client.Send(sent) }()

	got, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Type != ReqKeyGenerate || got.IntArg != 42 {
		t.Errorf("got %+v, want Type=%v IntArg=42", got, ReqKeyGenerate)
	}
}

func TestFramedChannelDisconnectOnClose(t *testing.T) {
	a, b := pipePair(t)
	server := New(b)
	a.Close()

	_, err := server.Recv()
	if err == nil {
		t.Fatal("expected Disconnected error after peer close")
	}
	var de *otpderr.Error
	if !asOtpderr(err, &de) || de.Kind != otpderr.KindDisconnected {
		t.Errorf("got %v, want KindDisconnected", err)
	}
}

func TestFramedChannelProtocolMismatch(t *testing.T) {
	a, b := pipePair(t)
	client := New(a)
	server := New(b)

	bad := New(ReqInit, 0)
	bad.ProtocolVersion = 0xDEAD

	go client.Send(bad)

	_, err := server.Recv()
	var de *otpderr.Error
	if !asOtpderr(err, &de) || de.Kind != otpderr.KindProtocolMismatch {
		t.Fatalf("got %v, want KindProtocolMismatch", err)
	}
}

func TestWaitReadyTimesOutOnSilentPeer(t *testing.T) {
	a, _ := pipePair(t)
	client := New(a)

	start := time.Now()
	err := client.WaitReady(50 * time.Millisecond)
	elapsed := time.Since(start)

	var de *otpderr.Error
	if !asOtpderr(err, &de) || de.Kind != otpderr.KindTimeout {
		t.Fatalf("got %v, want KindTimeout", err)
	}
	if elapsed > time.Second {
		t.Errorf("WaitReady took %v, want close to the 50ms timeout", elapsed)
	}
}

func TestWaitReadySucceedsWhenDataArrives(t *testing.T) {
	a, b := pipePair(t)
	client := New(a)

	go func() {
		time.Sleep(10 * time.Millisecond)
		New(b).Send(New(ReqInit, 0))
	}()

	if err := client.WaitReady(time.Second); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	f, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv after WaitReady: %v", err)
	}
	if f.Type != ReqInit {
		t.Errorf("Type = %v, want ReqInit", f.Type)
	}
}

func asOtpderr(err error, out **otpderr.Error) bool {
	de, ok := err.(*otpderr.Error)
	if !ok {
		return false
	}
	*out = de
	return true
}
