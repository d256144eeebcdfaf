package money

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"ledger"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"10", "10", false},
		{"10.00", "10", false},
		{"100.560807", "100.560807", false},
		{" 3.5 ", "3.5", false},
		{"30.00000010", "", true},
		{"1.0000000", "", true},
		{"abc", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ledger.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParsePositive_RejectsZeroAndNegative(t *testing.T) {
	for _, in := range []string{"0", "0.000", "-1", "-0.000001"} {
		if _, err := ParsePositive(in); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", in, err)
		}
	}
	if _, err := ParsePositive("0.000001"); err != nil {
		t.Errorf("expected smallest positive amount to pass, got %v", err)
	}
}

func TestParseBalance(t *testing.T) {
	d, err := ParseBalance("")
	if err != nil || !d.IsZero() {
		t.Errorf("expected zero for empty balance, got %s, %v", d, err)
	}
	if _, err := ParseBalance("-5"); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("expected validation error for negative balance, got %v", err)
	}
	if _, err := ParseBalance("0"); err != nil {
		t.Errorf("expected zero balance to pass, got %v", err)
	}
}

func TestDisplay_FloorsToSixDigits(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0", "0.000000"},
		{"100.560807", "100.560807"},
		{"100.5608079999", "100.560807"},
		{"10.5", "10.500000"},
		{"0.0000009999", "0.000000"},
	}
	for _, tt := range tests {
		if got := Display(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("Display(%s): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestStorage(t *testing.T) {
	if got := Storage(decimal.RequireFromString("1.5")); got != "1.5000000000" {
		t.Errorf("expected 1.5000000000, got %s", got)
	}
}

// Any amount with more than six fractional digits is rejected; anything up to
// six is accepted and displays without loss.
func TestProperty_ScaleEnforcement(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		units := rapid.Int64Range(0, 1_000_000_000).Draw(t, "units")
		scale := rapid.IntRange(0, 10).Draw(t, "scale")
		frac := rapid.Int64Range(0, 9).Draw(t, "lastDigit")

		s := fmt.Sprintf("%d", units)
		if scale > 0 {
			digits := make([]byte, scale)
			for i := range digits {
				digits[i] = '0'
			}
			digits[scale-1] = byte('0' + frac)
			s += "." + string(digits)
		}

		d, err := Parse(s)
		if scale > int(DisplayScale) {
			if !errors.Is(err, ledger.ErrValidation) {
				t.Fatalf("%s: expected validation error, got %v", s, err)
			}
			return
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", s, err)
		}
		if !decimal.RequireFromString(Display(d)).Equal(d) {
			t.Fatalf("%s: display %s lost precision", s, Display(d))
		}
	})
}
