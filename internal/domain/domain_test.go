package domain

import (
	"errors"
	"testing"
)

func TestEffectiveCycleLimit_PerJobWins(t *testing.T) {
	if got := EffectiveCycleLimit(1000, 500); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestEffectiveCycleLimit_GlobalWinsWhenLower(t *testing.T) {
	if got := EffectiveCycleLimit(200, 500); got != 200 {
		t.Fatalf("expected 200, got %d", got)
	}
}

func TestEffectiveCycleLimit_ZeroMeansUnset(t *testing.T) {
	if got := EffectiveCycleLimit(0, 500); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
	if got := EffectiveCycleLimit(500, 0); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
	if got := EffectiveCycleLimit(0, 0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestStreamPolicy_Resolve(t *testing.T) {
	implicit := StreamPolicy{ExplicitStreams: false}
	if got := implicit.Resolve(StreamJOIN); got != StreamPROVE {
		t.Fatalf("expected JOIN to fold into PROVE, got %s", got)
	}
	if got := implicit.Resolve(StreamCOPROC); got != StreamPROVE {
		t.Fatalf("expected COPROC to fold into PROVE, got %s", got)
	}
	if got := implicit.Resolve(StreamSNARK); got != StreamSNARK {
		t.Fatalf("expected SNARK unchanged, got %s", got)
	}

	explicit := StreamPolicy{ExplicitStreams: true}
	if got := explicit.Resolve(StreamJOIN); got != StreamJOIN {
		t.Fatalf("expected JOIN to stay distinct, got %s", got)
	}
	if got := explicit.Resolve(StreamCOPROC); got != StreamCOPROC {
		t.Fatalf("expected COPROC to stay distinct, got %s", got)
	}
}

func TestErrorKind_Recoverable(t *testing.T) {
	for _, k := range []ErrorKind{KindEventQuery, KindRPC, KindMarket} {
		if !k.Recoverable() {
			t.Fatalf("expected %s to be recoverable", k)
		}
	}
	for _, k := range []ErrorKind{KindValidation, KindIO, KindExecutor, KindPlanner, KindTaskDB, KindRequestNotExpired, KindInsufficientFunds, KindDatabase} {
		if k.Recoverable() {
			t.Fatalf("expected %s to be fatal", k)
		}
	}
}

func TestKindOf(t *testing.T) {
	wrapped := NewError(KindTaskDB, "feeder", errors.New("insert failed"))
	kind, ok := KindOf(wrapped)
	if !ok || kind != KindTaskDB {
		t.Fatalf("expected KindTaskDB, got %s (ok=%v)", kind, ok)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("expected plain error to not classify")
	}
}
