package ledger

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := Errorf(KindNotFound, "account %s not found", "A001")

	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected errors.Is(err, ErrNotFound), got false for %v", err)
	}
	if errors.Is(err, ErrDuplicate) {
		t.Error("NotFound must not match ErrDuplicate")
	}
}

func TestError_MessageCarriesCode(t *testing.T) {
	err := Errorf(KindInsufficientBalance, "balance 10 below 30")
	if !strings.HasPrefix(err.Error(), "10006 ") {
		t.Errorf("expected code prefix, got %q", err.Error())
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindInfrastructure, cause, "find account %s", "A001")

	if !errors.Is(err, ErrInfrastructure) {
		t.Errorf("expected infrastructure kind, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}

func TestWrap_PreservesLedgerKind(t *testing.T) {
	dup := Errorf(KindDuplicate, "account A001 exists")
	err := Wrap(KindInfrastructure, fmt.Errorf("insert: %w", dup), "create")

	if KindOf(err) != KindDuplicate {
		t.Errorf("expected DUPLICATE, got %s", KindOf(err))
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, 0},
		{"foreign", errors.New("boom"), KindInfrastructure},
		{"validation", Errorf(KindValidation, "bad"), KindValidation},
		{"wrapped", fmt.Errorf("ctx: %w", ErrConcurrency), KindConcurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestKind_CodesAreDistinct(t *testing.T) {
	kinds := []Kind{
		KindValidation, KindNotFound, KindDuplicate, KindStateConflict,
		KindInsufficientBalance, KindConcurrency, KindInfrastructure,
	}
	seen := make(map[int]Kind)
	for _, k := range kinds {
		if k.String() == "UNKNOWN" {
			t.Errorf("kind %d has no name", k)
		}
		if prev, ok := seen[k.Code()]; ok {
			t.Errorf("code %d shared by %s and %s", k.Code(), prev, k)
		}
		seen[k.Code()] = k
	}
}
