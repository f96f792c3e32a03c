package wire

import (
	"math/big"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := New(ReqGetNum, 0)
	f.IntArg = int32(FieldLatestCard)
	f.NumArg = big.NewInt(123456789)
	if err := f.SetStr("hello"); err != nil {
		t.Fatalf("SetStr: %v", err)
	}

	buf := f.marshal()
	if len(buf) != frameSize {
		t.Fatalf("marshal produced %d bytes, want %d", len(buf), frameSize)
	}

	got := &Frame{}
	got.unmarshal(buf)

	if got.ProtocolVersion != ProtocolVersion {
		t.Errorf("ProtocolVersion = %x, want %x", got.ProtocolVersion, ProtocolVersion)
	}
	if got.Type != ReqGetNum {
		t.Errorf("Type = %v, want %v", got.Type, ReqGetNum)
	}
	if got.IntArg != int32(FieldLatestCard) {
		t.Errorf("IntArg = %d, want %d", got.IntArg, FieldLatestCard)
	}
	if got.NumArg.Cmp(big.NewInt(123456789)) != 0 {
		t.Errorf("NumArg = %v, want 123456789", got.NumArg)
	}
	if got.Str() != "hello" {
		t.Errorf("Str() = %q, want %q", got.Str(), "hello")
	}
}

func TestFrameSetStrTooLong(t *testing.T) {
	f := New(ReqSetStr, 0)
	long := make([]byte, StrArgSize)
	for i := range long {
		long[i] = 'a'
	}
	if err := f.SetStr(string(long)); err == nil {
		t.Fatal("expected TooLong error, got nil")
	}
}

func TestFrameZeroScrubsStrArg(t *testing.T) {
	f := New(ReqGetStr, 0)
	key := make([]byte, 32)
	for i := range key {
		key[i] = 0xAB
	}
	if err := f.SetBinary(key); err != nil {
		t.Fatalf("SetBinary: %v", err)
	}
	f.Zero()
	for i, b := range f.StrArg {
		if b != 0 {
			t.Fatalf("StrArg[%d] = %x, want 0 after Zero", i, b)
		}
	}
}

func TestPutNum128Truncates(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	buf := make([]byte, 16)
	putNum128(buf, huge)
	got := num128(buf)
	want := new(big.Int).Mod(huge, new(big.Int).Lsh(big.NewInt(1), 128))
	if got.Cmp(want) != 0 {
		t.Errorf("putNum128/num128 round trip = %v, want %v", got, want)
	}
}
