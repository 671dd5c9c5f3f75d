package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDeclinedSurvivesWrapping(t *testing.T) {
	cause := errors.New("card_declined")
	err := fmt.Errorf("create refund: %w", Declined(cause))
	if !IsDeclined(err) {
		t.Fatal("expected wrapped decline to be detected")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be preserved")
	}
	if IsDeclined(context.DeadlineExceeded) {
		t.Fatal("a timeout is not a decline")
	}
	if Declined(nil) != nil {
		t.Fatal("nil stays nil")
	}
}
