package dispatcher

import (
	"math/big"
	"net"
	"path/filepath"
	"testing"

	"github.com/gitGNU/gnu-otpasswd/internal/numeric/hotpengine"
	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
	"github.com/gitGNU/gnu-otpasswd/internal/policyconfig"
	"github.com/gitGNU/gnu-otpasswd/internal/statestore"
	"github.com/gitGNU/gnu-otpasswd/internal/wire"
)

func newHarness(t *testing.T, privileged bool) (*wire.FramedChannel, chan error) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	cfg := policyconfig.Default()
	cfg.ShadowPath = filepath.Join(t.TempDir(), "otshadow")
	store := statestore.New(nil, cfg, hotpengine.New())

	server := wire.New(b)
	d := New(server, store, cfg, hotpengine.New(), privileged, nil)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	return wire.New(a), done
}

func roundTrip(t *testing.T, client *wire.FramedChannel, req *wire.Frame) *wire.Frame {
	t.Helper()
	if err := client.Send(req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	return reply
}

func TestUserSetThenStateNewThenKeyGenerateHappyPath(t *testing.T) {
	client, done := newHarness(t, true)

	setUser := wire.New(wire.ReqUserSet, 0)
	_ = setUser.SetStr("alice")
	if r := roundTrip(t, client, setUser); r.Status != int32(otpderr.KindNone) {
		t.Fatalf("UserSet status = %v", r.Status)
	}

	if r := roundTrip(t, client, wire.New(wire.ReqStateNew, 0)); r.Status != int32(otpderr.KindNone) {
		t.Fatalf("StateNew status = %v", r.Status)
	}

	if r := roundTrip(t, client, wire.New(wire.ReqKeyGenerate, 0)); r.Status != int32(otpderr.KindNone) {
		t.Fatalf("KeyGenerate status = %v", r.Status)
	}

	if r := roundTrip(t, client, wire.New(wire.ReqStateStore, 0)); r.Status != int32(otpderr.KindNone) {
		t.Fatalf("StateStore status = %v", r.Status)
	}

	disc := wire.New(wire.ReqDisconnect, 0)
	if err := client.Send(disc); err != nil {
		t.Fatalf("Send(Disconnect): %v", err)
	}
	if _, err := client.Recv(); err != nil {
		t.Fatalf("Recv(Disconnect reply): %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Dispatcher.Run() returned %v, want nil after clean Disconnect", err)
	}
}

func TestUnprivilegedUserSetIsPolicyDenied(t *testing.T) {
	client, _ := newHarness(t, false)

	setUser := wire.New(wire.ReqUserSet, 0)
	_ = setUser.SetStr("bob")
	r := roundTrip(t, client, setUser)
	if r.Status != int32(otpderr.KindPolicyDenied) {
		t.Errorf("UserSet status = %v, want KindPolicyDenied", r.Status)
	}
}

func TestKeyGenerateWithoutStateNewIsMustCreateState(t *testing.T) {
	client, _ := newHarness(t, true)

	setUser := wire.New(wire.ReqUserSet, 0)
	_ = setUser.SetStr("carol")
	roundTrip(t, client, setUser)

	r := roundTrip(t, client, wire.New(wire.ReqKeyGenerate, 0))
	if r.Status != int32(otpderr.KindMustCreateState) {
		t.Errorf("KeyGenerate status = %v, want KindMustCreateState", r.Status)
	}
}

func TestStateNewTwiceIsMustDropState(t *testing.T) {
	client, _ := newHarness(t, true)

	setUser := wire.New(wire.ReqUserSet, 0)
	_ = setUser.SetStr("dave")
	roundTrip(t, client, setUser)
	roundTrip(t, client, wire.New(wire.ReqStateNew, 0))

	r := roundTrip(t, client, wire.New(wire.ReqStateNew, 0))
	if r.Status != int32(otpderr.KindMustDropState) {
		t.Errorf("second StateNew status = %v, want KindMustDropState", r.Status)
	}
}

func TestUpdateLatestAdjacencyRejection(t *testing.T) {
	client, _ := newHarness(t, true)

	setUser := wire.New(wire.ReqUserSet, 0)
	_ = setUser.SetStr("erin")
	roundTrip(t, client, setUser)
	roundTrip(t, client, wire.New(wire.ReqStateNew, 0))
	roundTrip(t, client, wire.New(wire.ReqKeyGenerate, 0))
	roundTrip(t, client, wire.New(wire.ReqStateStore, 0))

	farAway := wire.New(wire.ReqUpdateLatest, 0)
	farAway.NumArg = big.NewInt(99)
	r := roundTrip(t, client, farAway)
	if r.Status != int32(otpderr.KindBadArg) {
		t.Errorf("UpdateLatest(99) status = %v, want KindBadArg", r.Status)
	}

	adjacent := wire.New(wire.ReqUpdateLatest, 0)
	adjacent.NumArg = big.NewInt(1)
	r = roundTrip(t, client, adjacent)
	if r.Status != int32(otpderr.KindNone) {
		t.Errorf("UpdateLatest(1) status = %v, want KindNone", r.Status)
	}
}

func TestGetStrKeyFieldRoundTrips(t *testing.T) {
	client, _ := newHarness(t, true)

	setUser := wire.New(wire.ReqUserSet, 0)
	_ = setUser.SetStr("frank")
	roundTrip(t, client, setUser)
	roundTrip(t, client, wire.New(wire.ReqStateNew, 0))
	roundTrip(t, client, wire.New(wire.ReqKeyGenerate, 0))

	getKey := wire.New(wire.ReqGetStr, 0)
	getKey.IntArg = int32(wire.FieldKey)
	r := roundTrip(t, client, getKey)
	if r.Status != int32(otpderr.KindNone) {
		t.Fatalf("GetStr(KEY) status = %v", r.Status)
	}
}
