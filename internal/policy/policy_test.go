package policy

import (
	"testing"

	"github.com/gitGNU/gnu-otpasswd/internal/otpstate"
	"github.com/gitGNU/gnu-otpasswd/internal/policyconfig"
	"github.com/gitGNU/gnu-otpasswd/internal/wire"
)

func TestUserSetPrivilegedOnly(t *testing.T) {
	cfg := policyconfig.Default()

	if d, _ := Gate(Request{Type: wire.ReqUserSet, Privileged: false}, cfg); d != Denial {
		t.Errorf("unprivileged UserSet: got %v, want Denial", d)
	}
	if d, _ := Gate(Request{Type: wire.ReqUserSet, Privileged: true}, cfg); d != Allow {
		t.Errorf("privileged UserSet: got %v, want Allow", d)
	}
}

func TestKeyGenerateRespectsPolicyUnlessPrivileged(t *testing.T) {
	cfg := policyconfig.Default()
	cfg.AllowKeyGeneration = false

	if d, _ := Gate(Request{Type: wire.ReqKeyGenerate}, cfg); d != Denial {
		t.Errorf("unprivileged KeyGenerate with policy off: got %v, want Denial", d)
	}
	if d, _ := Gate(Request{Type: wire.ReqKeyGenerate, Privileged: true}, cfg); d != Allow {
		t.Errorf("privileged KeyGenerate bypasses policy: got %v, want Allow", d)
	}
}

func TestFlagAddSaltDisallowBindsEvenRoot(t *testing.T) {
	cfg := policyconfig.Default()
	cfg.Salt = policyconfig.Disallow

	d, k := Gate(Request{Type: wire.ReqFlagAdd, IntArg: int32(otpstate.FlagSalted), Privileged: true}, cfg)
	if d != Denial || k != KindSalt {
		t.Errorf("privileged FlagAdd(SALTED) with Disallow: got (%v,%v), want (Denial,KindSalt)", d, k)
	}
}

func TestFlagClearSaltEnforceBindsEvenRoot(t *testing.T) {
	cfg := policyconfig.Default()
	cfg.Salt = policyconfig.Enforce

	d, k := Gate(Request{Type: wire.ReqFlagClear, IntArg: int32(otpstate.FlagSalted), Privileged: true}, cfg)
	if d != Denial || k != KindSalt {
		t.Errorf("privileged FlagClear(SALTED) with Enforce: got (%v,%v), want (Denial,KindSalt)", d, k)
	}
}

func TestFlagAddShowDisallowOnlyBindsUnprivileged(t *testing.T) {
	cfg := policyconfig.Default()
	cfg.Show = policyconfig.Disallow

	d, k := Gate(Request{Type: wire.ReqFlagAdd, IntArg: int32(otpstate.FlagShow), Privileged: false}, cfg)
	if d != Denial || k != KindShow {
		t.Errorf("unprivileged FlagAdd(SHOW): got (%v,%v), want (Denial,KindShow)", d, k)
	}

	if d, _ := Gate(Request{Type: wire.ReqFlagAdd, IntArg: int32(otpstate.FlagShow), Privileged: true}, cfg); d != Allow {
		t.Errorf("privileged FlagAdd(SHOW) bypasses non-salt policy: got %v, want Allow", d)
	}
}

func TestStateNewExistingDisabledRequiresAllowDisabling(t *testing.T) {
	cfg := policyconfig.Default()
	cfg.AllowDisabling = false

	d, k := Gate(Request{Type: wire.ReqStateNew, ExistingDisabled: true}, cfg)
	if d != Denial || k != KindGeneral {
		t.Errorf("StateNew over disabled record: got (%v,%v), want (Denial,KindGeneral)", d, k)
	}
}

func TestStateNewNoExistingRecordChecksGenerationOnly(t *testing.T) {
	cfg := policyconfig.Default()
	cfg.AllowKeyGeneration = false

	d, k := Gate(Request{Type: wire.ReqStateNew, ExistingLoadFailed: true}, cfg)
	if d != Denial || k != KindGeneration {
		t.Errorf("StateNew with no record, generation off: got (%v,%v), want (Denial,KindGeneration)", d, k)
	}
}

func TestStateNewRegenerationDisallowed(t *testing.T) {
	cfg := policyconfig.Default()
	cfg.AllowKeyRegeneration = false

	d, k := Gate(Request{Type: wire.ReqStateNew}, cfg)
	if d != Denial || k != KindRegeneration {
		t.Errorf("StateNew over existing record, regen off: got (%v,%v), want (Denial,KindRegeneration)", d, k)
	}
}

func TestStateNewWithExistingSessionStateIsMustDropState(t *testing.T) {
	cfg := policyconfig.Default()

	d, k := Gate(Request{Type: wire.ReqStateNew, HasState: true}, cfg)
	if d != Denial || k != KindMustDropState {
		t.Errorf("StateNew with HasState: got (%v,%v), want (Denial,KindMustDropState)", d, k)
	}
}

func TestGetStrKeyFieldGatedByKeyPrint(t *testing.T) {
	cfg := policyconfig.Default()
	cfg.AllowKeyPrint = false

	d, _ := Gate(Request{Type: wire.ReqGetStr, IntArg: int32(wire.FieldKey)}, cfg)
	if d != Denial {
		t.Errorf("unprivileged GetStr(KEY) with key_print off: got %v, want Denial", d)
	}

	d, _ = Gate(Request{Type: wire.ReqGetStr, IntArg: int32(wire.FieldKey), Privileged: true}, cfg)
	if d != Allow {
		t.Errorf("privileged GetStr(KEY): got %v, want Allow", d)
	}

	d, _ = Gate(Request{Type: wire.ReqGetStr, IntArg: int32(wire.FieldLabel)}, cfg)
	if d != Allow {
		t.Errorf("GetStr(LABEL) should never be gated by key_print: got %v", d)
	}
}
