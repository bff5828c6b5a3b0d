package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeGameInvalidTransition, "transition not allowed")
	specific := WithMetadata(CodeGameInvalidTransition, "WaitingRoom -> Win", map[string]string{
		"FromStatus": "WaitingRoom",
		"ToStatus":   "Win",
	})

	if !stderrors.Is(specific, sentinel) {
		t.Fatal("expected errors.Is to match on code")
	}
	if stderrors.Is(specific, New(CodeNotFound, "missing")) {
		t.Fatal("expected different codes not to match")
	}
}

func TestWrapUnwrapsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeNotFound, "load encounter", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if err.Error() != "load encounter: disk full" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "load encounter: disk full")
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("start game: %w", New(CodeGameInvalidTransition, "nope"))
	if got := CodeOf(wrapped); got != CodeGameInvalidTransition {
		t.Fatalf("CodeOf = %q, want %q", got, CodeGameInvalidTransition)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf plain = %q, want %q", got, CodeUnknown)
	}
}

func TestCodeIsKnown(t *testing.T) {
	if !CodeDiceNoWinningRoll.IsKnown() {
		t.Fatal("expected declared code to be known")
	}
	if Code("MADE_UP").IsKnown() {
		t.Fatal("expected undeclared code to be unknown")
	}
}
