package syncerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("put note: %w", Newf(KindStorageFull, "put", "quota %d bytes", 1024))

	if !errors.Is(err, ErrStorageFull) {
		t.Fatalf("errors.Is(%v, ErrStorageFull) = false, want true", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("errors.Is(%v, ErrTimeout) = true, want false", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindNetworkUnavailable, true},
		{KindTimeout, true},
		{KindServerError, true},
		{KindValidation, false},
		{KindUnauthenticated, false},
		{KindConflict, false},
		{KindStorageFull, false},
		{KindTransactionAborted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := New(tt.kind, "op", "").Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	inner := errors.New("connection refused")
	err := fmt.Errorf("create note: %w", Wrap(KindNetworkUnavailable, "create", inner))

	if got := KindOf(err); got != KindNetworkUnavailable {
		t.Errorf("KindOf = %q, want %q", got, KindNetworkUnavailable)
	}
	if !errors.Is(err, inner) {
		t.Error("wrapped cause lost")
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable = false, want true")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindTimeout, "update", errors.New("deadline exceeded"))
	want := "update: timeout: deadline exceeded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
