package money_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"LootLedger/internal/failure"
	"LootLedger/internal/money"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func wantCode(t *testing.T, err error, code failure.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := failure.CodeOf(err); got != code {
		t.Fatalf("got %s (%v), want %s", got, err, code)
	}
}

// ============================================================================
// ValidateAmount
// ============================================================================

func TestValidateAmount_Inputs(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"string", "12.50", "12.5"},
		{"int64", int64(7), "7"},
		{"int", 3, "3"},
		{"float", 0.25, "0.25"},
		{"decimal", d("1.000000001"), "1.000000001"},
		{"max", "999999999999999", "999999999999999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := money.ValidateAmount(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(d(tt.want)) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidateAmount_Rejections(t *testing.T) {
	wantCodeFor := func(in interface{}, code failure.Code) {
		t.Helper()
		_, err := money.ValidateAmount(in)
		wantCode(t, err, code)
	}
	wantCodeFor(math.NaN(), failure.NonFinite)
	wantCodeFor(math.Inf(1), failure.NonFinite)
	wantCodeFor(math.Inf(-1), failure.NonFinite)
	wantCodeFor("NaN", failure.NonFinite)
	wantCodeFor("-Infinity", failure.NonFinite)
	wantCodeFor("abc", failure.InputMalformed)
	wantCodeFor(struct{}{}, failure.InputMalformed)
	wantCodeFor("1000000000000000", failure.ArithmeticOverflow)
	wantCodeFor("-1000000000000000", failure.ArithmeticOverflow)
}

// ============================================================================
// Arithmetic
// ============================================================================

func TestSafeAdd_Overflow(t *testing.T) {
	_, err := money.SafeAdd(money.MaxSafe, d("1"))
	wantCode(t, err, failure.ArithmeticOverflow)

	got, err := money.SafeAdd(d("0.1"), d("0.2"))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(d("0.3")) {
		t.Errorf("0.1+0.2 = %s, want exactly 0.3", got)
	}
}

func TestSafeSubtract_Underflow(t *testing.T) {
	_, err := money.SafeSubtract(money.MinSafe, d("1"))
	wantCode(t, err, failure.ArithmeticOverflow)
}

func TestSafeMultiply_Overflow(t *testing.T) {
	_, err := money.SafeMultiply(d("100000000"), d("100000000"))
	wantCode(t, err, failure.ArithmeticOverflow)
}

func TestSafeDivide(t *testing.T) {
	_, err := money.SafeDivide(d("5"), decimal.Zero)
	wantCode(t, err, failure.DivisionByZero)

	got, err := money.SafeDivide(d("1"), d("3"))
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "0.333333333333333333" {
		t.Errorf("got %s", got)
	}
}

func TestApplyPercentage_EntryPriceBuyback(t *testing.T) {
	got, err := money.ApplyPercentage(d("5"), d("85"))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(d("4.25")) || got.String() != "4.25" {
		t.Errorf("got %s, want exactly 4.25", got)
	}
}

func TestApplyPercentage_NearUpperBound(t *testing.T) {
	got, err := money.ApplyPercentage(money.MaxSafe, d("85"))
	if err != nil {
		t.Fatalf("85%% of MaxSafe: %v", err)
	}
	if !got.Equal(d("849999999999999.15")) {
		t.Errorf("got %s", got)
	}

	got, err = money.ApplyPercentage(d("20000000000000"), d("100"))
	if err != nil || !got.Equal(d("20000000000000")) {
		t.Errorf("100%% of 2e13 = %s, %v", got, err)
	}
}

func TestApplyPercentage_Bounds(t *testing.T) {
	_, err := money.ApplyPercentage(d("10"), d("100.01"))
	wantCode(t, err, failure.InputMalformed)
	_, err = money.ApplyPercentage(d("10"), d("-1"))
	wantCode(t, err, failure.InputMalformed)

	got, err := money.ApplyPercentage(d("10"), d("0"))
	if err != nil || !got.IsZero() {
		t.Errorf("0%% of 10 = %s, %v", got, err)
	}
}

// ============================================================================
// Minor units
// ============================================================================

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		unit   money.Unit
		want   string
	}{
		{"1.5", money.SOL, "1500000000"},
		{"0.0000000019", money.SOL, "1"},
		{"4.25", money.USDC, "4250000"},
		{"0", money.SOL, "0"},
		{"18446744073.709551615", money.SOL, "18446744073709551615"},
	}
	for _, tt := range tests {
		got, err := money.ToMinorUnits(d(tt.amount), tt.unit)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.amount, tt.unit.Symbol, err)
		}
		if got != tt.want {
			t.Errorf("%s %s: got %s, want %s", tt.amount, tt.unit.Symbol, got, tt.want)
		}
	}
}

func TestToMinorUnits_LedgerCeiling(t *testing.T) {
	_, err := money.ToMinorUnits(d("18446744073.709551616"), money.SOL)
	wantCode(t, err, failure.ArithmeticOverflow)

	_, err = money.ToMinorUnits(d("-1"), money.SOL)
	wantCode(t, err, failure.InputMalformed)
}

func TestFromMinorUnits_RoundTrip(t *testing.T) {
	got, err := money.FromMinorUnits("4250000", money.USDC)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(d("4.25")) {
		t.Errorf("got %s, want 4.25", got)
	}

	_, err = money.FromMinorUnits("12a", money.SOL)
	wantCode(t, err, failure.InputMalformed)
	_, err = money.FromMinorUnits("18446744073709551616", money.SOL)
	wantCode(t, err, failure.ArithmeticOverflow)
}

// ============================================================================
// Helpers
// ============================================================================

func TestRoundDownAndApproxEqual(t *testing.T) {
	if got := money.RoundDown(d("1.23456789"), 4); !got.Equal(d("1.2345")) {
		t.Errorf("RoundDown = %s", got)
	}
	if got := money.RoundDown(d("-1.99"), 0); !got.Equal(d("-1")) {
		t.Errorf("RoundDown negative = %s, want -1 (toward zero)", got)
	}
	if !money.ApproxEqual(d("1.000001"), d("1"), d("0.00001")) {
		t.Error("values within tolerance should be equal")
	}
	if money.ApproxEqual(d("1.1"), d("1"), d("0.00001")) {
		t.Error("values outside tolerance should differ")
	}
}

func TestQuoteConversion(t *testing.T) {
	sol, err := money.ToBase(d("50"), d("200"))
	if err != nil {
		t.Fatal(err)
	}
	if !sol.Equal(d("0.25")) {
		t.Errorf("50 USD at 200 = %s SOL, want 0.25", sol)
	}
	usd, err := money.ToQuote(sol, d("200"))
	if err != nil || !usd.Equal(d("50")) {
		t.Errorf("round trip = %s, %v", usd, err)
	}
	_, err = money.ToBase(d("50"), decimal.Zero)
	wantCode(t, err, failure.DivisionByZero)
}

func TestToNumber(t *testing.T) {
	f, err := money.ToNumber(d("4.25"))
	if err != nil || f != 4.25 {
		t.Errorf("got %v, %v", f, err)
	}
}

func TestUnitFor(t *testing.T) {
	u, err := money.UnitFor("sol")
	if err != nil || u != money.SOL {
		t.Errorf("got %+v, %v", u, err)
	}
	_, err = money.UnitFor("DOGE")
	wantCode(t, err, failure.InputMalformed)
}
