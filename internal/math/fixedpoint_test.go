package math_test

import (
	fpmath "CoverPool/internal/math"
	"encoding/json"
	"testing"
)

// === Test: Parse and format ===

func TestParseAmount_RoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"10000", "10000"},
		{"0.000001", "0.000001"},
		{"1.500000000000000000", "1.5"},
		{"0.000000000000000001", "0.000000000000000001"},
	}
	for _, tc := range cases {
		a, err := fpmath.ParseAmount(tc.in)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tc.in, err)
		}
		if got := a.String(); got != tc.want {
			t.Errorf("ParseAmount(%q).String() = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseAmount_RejectsExcessPrecision(t *testing.T) {
	if _, err := fpmath.ParseAmount("0.0000000000000000001"); err == nil {
		t.Fatal("expected error for 19 decimal places")
	}
	if _, err := fpmath.ParseAmount("abc"); err == nil {
		t.Fatal("expected error for non-numeric input")
	}
}

func TestNewAmount_WholeUnits(t *testing.T) {
	if got := fpmath.NewAmount(7).String(); got != "7" {
		t.Errorf("got %s, want 7", got)
	}
	if !fpmath.Zero().IsZero() {
		t.Error("Zero() should be zero")
	}
	var uninit fpmath.Amount
	if !uninit.Add(fpmath.NewAmount(1)).Equal(fpmath.NewAmount(1)) {
		t.Error("zero value Amount should behave as 0")
	}
}

// === Test: Truncating arithmetic ===

func TestMulDiv_Truncates(t *testing.T) {
	// 10 * 1 / 3 = 3.333...33 (18 digits), never rounded up
	got := fpmath.NewAmount(10).MulDiv(fpmath.NewAmount(1), fpmath.NewAmount(3))
	if got.String() != "3.333333333333333333" {
		t.Errorf("got %s, want 3.333333333333333333", got)
	}
}

func TestMulRate(t *testing.T) {
	// 1% of 10000 = 100
	got := fpmath.NewAmount(10000).MulRate(10_000)
	if !got.Equal(fpmath.NewAmount(100)) {
		t.Errorf("got %s, want 100", got)
	}

	// 92% of 100 = 92
	got = fpmath.NewAmount(100).MulRate(fpmath.Rate(920_000))
	if !got.Equal(fpmath.NewAmount(92)) {
		t.Errorf("got %s, want 92", got)
	}
}

func TestDivRate(t *testing.T) {
	// collateral 10000 at 50% ratio supports 20000 of coverage
	got := fpmath.NewAmount(10000).DivRate(500_000)
	if !got.Equal(fpmath.NewAmount(20000)) {
		t.Errorf("got %s, want 20000", got)
	}
}

func TestMulDiv_ZeroDenominatorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	fpmath.NewAmount(1).MulDiv(fpmath.NewAmount(1), fpmath.Zero())
}

func TestStringFixed(t *testing.T) {
	a := fpmath.MustParseAmount("10183.954499")
	if got := a.StringFixed(4); got != "10183.9544" {
		t.Errorf("got %s, want 10183.9544", got)
	}
}

// === Test: JSON ===

func TestAmount_JSON(t *testing.T) {
	type wrapper struct {
		Value fpmath.Amount `json:"value"`
	}
	data, err := json.Marshal(wrapper{Value: fpmath.MustParseAmount("12.5")})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"value":"12.5"}` {
		t.Errorf("got %s", data)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"value":42}`), &w); err != nil {
		t.Fatal(err)
	}
	if !w.Value.Equal(fpmath.NewAmount(42)) {
		t.Errorf("got %s, want 42", w.Value)
	}
}

// === Test: Rate ===

func TestRate(t *testing.T) {
	if got := fpmath.Rate(50_000).String(); got != "5%" {
		t.Errorf("got %s, want 5%%", got)
	}
	if !fpmath.RateOne.IsFraction() || fpmath.Rate(1_000_001).IsFraction() {
		t.Error("IsFraction bounds wrong")
	}
	if fpmath.Rate(20_000).Complement() != 980_000 {
		t.Error("Complement wrong")
	}
}
