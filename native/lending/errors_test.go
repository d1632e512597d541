package lending

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodedErrorsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("repay: %w", wrap(ErrRepayExceedsDebt, "repay %d", 5))
	if !errors.Is(err, ErrRepayExceedsDebt) {
		t.Fatalf("expected wrapped error to match its sentinel")
	}
	if errors.Is(err, ErrInvalidRepayAmount) {
		t.Fatalf("different codes must not match")
	}
	code, ok := CodeOf(err)
	if !ok || code != 47 {
		t.Fatalf("expected code 47, got %d (%v)", code, ok)
	}
	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Fatalf("plain errors carry no code")
	}
}
