package dsuerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode_ContractValues(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidArgs:        2,
		KindInvalidRequest:     2,
		KindIO:                 3,
		KindParse:              4,
		KindUnsupportedVersion: 5,
		KindIntegrity:          6,
		KindInternal:           7,
	}
	for kind, want := range cases {
		if got := kind.ExitCode(); got != want {
			t.Errorf("%v.ExitCode() = %d, want %d", kind, got, want)
		}
	}
}

func TestKindOf_UnwrapsThroughWrappingLayers(t *testing.T) {
	inner := New(KindIntegrity, "journal.verify", errors.New("checksum mismatch"))
	wrapped := fmt.Errorf("txn.ApplyPlan: %w", inner)
	if got := KindOf(wrapped); got != KindIntegrity {
		t.Fatalf("KindOf = %v, want KindIntegrity", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Fatalf("KindOf(plain) = %v, want KindInternal", got)
	}
}

func TestClassificationPredicates(t *testing.T) {
	cases := []struct {
		kind          Kind
		integrity     bool
		userError     bool
		io            bool
		resolveIssue  bool
	}{
		{KindIntegrity, true, false, false, false},
		{KindInvalidArgs, false, true, false, false},
		{KindInvalidRequest, false, true, false, false},
		{KindIO, false, false, true, false},
		{KindExplicitConflict, false, false, false, true},
		{KindIllegalDowngrade, false, false, false, true},
		{KindUnsatisfiedDependency, false, false, false, true},
		{KindVersionConflict, false, false, false, true},
		{KindInternal, false, false, false, false},
		{KindParse, false, false, false, false},
	}
	for _, c := range cases {
		e := New(c.kind, "op", nil)
		if e.IsIntegrity() != c.integrity {
			t.Errorf("%v.IsIntegrity() = %v", c.kind, e.IsIntegrity())
		}
		if e.IsUserError() != c.userError {
			t.Errorf("%v.IsUserError() = %v", c.kind, e.IsUserError())
		}
		if e.IsIO() != c.io {
			t.Errorf("%v.IsIO() = %v", c.kind, e.IsIO())
		}
		if e.IsResolveConflict() != c.resolveIssue {
			t.Errorf("%v.IsResolveConflict() = %v", c.kind, e.IsResolveConflict())
		}
	}
}

func TestErrorsAs_ReachesClassification(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(KindIntegrity, errors.New("bad byte"), "journal entry %d", 3))

	var dsuErr *Error
	if !errors.As(err, &dsuErr) {
		t.Fatal("errors.As failed to find *Error through a wrapping layer")
	}
	if !dsuErr.IsIntegrity() {
		t.Fatal("expected the unwrapped error to classify as integrity")
	}
}
