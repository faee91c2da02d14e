package qaerr

import (
	"errors"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	err := New(TransientUpstream, "search", errors.New("dial timeout"))
	if !Is(err, TransientUpstream) {
		t.Fatal("expected Is to match TransientUpstream")
	}
	if Is(err, PermanentUpstream) {
		t.Fatal("did not expect Is to match PermanentUpstream")
	}
}

func TestKindOfDefaultsToInternalForPlainError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Errorf("KindOf(plain error) = %v, want Internal", got)
	}
}

func TestErrorStringIncludesStageAndKind(t *testing.T) {
	err := New(EmptyRetrieval, "search", errors.New("no candidates"))
	want := "search: empty_retrieval: no candidates"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrapReturnsUnderlyingError(t *testing.T) {
	cause := errors.New("cause")
	err := New(Internal, "", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}
