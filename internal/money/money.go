// Package money implements range-checked decimal arithmetic for every
// monetary value the settlement core touches. Amounts are shopspring
// decimals, never binary floats, and every operand is validated before use.
package money

import (
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"LootLedger/internal/failure"
)

// Magnitude bounds for any amount handled by the core.
var (
	MaxSafe = decimal.New(999999999999999, 0)
	MinSafe = decimal.New(-999999999999999, 0)

	hundred = decimal.New(100, 0)
)

// DivisionPrecision is the number of fractional digits kept by SafeDivide.
const DivisionPrecision = 18

// maxUint64 is the ledger's native integer ceiling.
var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// Unit describes a currency and how it maps to indivisible ledger units.
type Unit struct {
	Symbol   string
	Decimals int32
}

var (
	SOL  = Unit{Symbol: "SOL", Decimals: 9}
	USDC = Unit{Symbol: "USDC", Decimals: 6}
)

// UnitFor resolves a currency symbol. Unknown symbols are malformed input.
func UnitFor(symbol string) (Unit, error) {
	switch strings.ToUpper(symbol) {
	case SOL.Symbol:
		return SOL, nil
	case USDC.Symbol:
		return USDC, nil
	default:
		return Unit{}, failure.New(failure.InputMalformed, "unknown currency %q", symbol)
	}
}

// ValidateAmount normalizes v into a decimal and checks it is finite and
// inside [MinSafe, MaxSafe]. Accepted inputs: decimal.Decimal, string,
// int, int64, uint64 and float64.
func ValidateAmount(v interface{}) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch x := v.(type) {
	case decimal.Decimal:
		d = x
	case string:
		parsed, err := parseString(x)
		if err != nil {
			return decimal.Zero, err
		}
		d = parsed
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	case uint64:
		d = decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, failure.New(failure.NonFinite, "amount is not finite: %v", x)
		}
		d = decimal.NewFromFloat(x)
	default:
		return decimal.Zero, failure.New(failure.InputMalformed, "unsupported amount type %T", v)
	}
	if err := checkRange(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func parseString(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(strings.TrimLeft(trimmed, "+-")) {
	case "nan", "inf", "infinity":
		return decimal.Zero, failure.New(failure.NonFinite, "amount is not finite: %q", s)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, failure.Wrap(failure.InputMalformed, err, "parse amount %q", s)
	}
	return d, nil
}

func checkRange(d decimal.Decimal) error {
	if d.GreaterThan(MaxSafe) || d.LessThan(MinSafe) {
		return failure.New(failure.ArithmeticOverflow, "amount %s outside safe range", d.String())
	}
	return nil
}

func checkOperands(a, b decimal.Decimal) error {
	if err := checkRange(a); err != nil {
		return err
	}
	return checkRange(b)
}

// SafeAdd returns a+b, failing if either operand or the result leaves the
// safe range.
func SafeAdd(a, b decimal.Decimal) (decimal.Decimal, error) {
	if err := checkOperands(a, b); err != nil {
		return decimal.Zero, err
	}
	return result(a.Add(b))
}

// SafeSubtract returns a-b.
func SafeSubtract(a, b decimal.Decimal) (decimal.Decimal, error) {
	if err := checkOperands(a, b); err != nil {
		return decimal.Zero, err
	}
	return result(a.Sub(b))
}

// SafeMultiply returns a*b.
func SafeMultiply(a, b decimal.Decimal) (decimal.Decimal, error) {
	if err := checkOperands(a, b); err != nil {
		return decimal.Zero, err
	}
	return result(a.Mul(b))
}

// SafeDivide returns a/b rounded half-up to DivisionPrecision places.
func SafeDivide(a, b decimal.Decimal) (decimal.Decimal, error) {
	if err := checkOperands(a, b); err != nil {
		return decimal.Zero, err
	}
	if b.IsZero() {
		return decimal.Zero, failure.New(failure.DivisionByZero, "divide %s by zero", a.String())
	}
	return result(a.DivRound(b, DivisionPrecision))
}

func result(d decimal.Decimal) (decimal.Decimal, error) {
	if err := checkRange(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ApplyPercentage returns amount * pct / 100 exactly. pct must be in [0, 100].
func ApplyPercentage(amount, pct decimal.Decimal) (decimal.Decimal, error) {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return decimal.Zero, failure.New(failure.InputMalformed, "percentage %s outside [0, 100]", pct.String())
	}
	// Scale the rate first so amounts near the bound do not overflow on an
	// intermediate product.
	return SafeMultiply(amount, pct.Shift(-2))
}

// ToMinorUnits converts a major-unit amount into the ledger's integer
// representation, rounding down. The result is a canonical base-10 string
// so it can be compared byte for byte.
func ToMinorUnits(amount decimal.Decimal, unit Unit) (string, error) {
	if err := checkRange(amount); err != nil {
		return "", err
	}
	if amount.IsNegative() {
		return "", failure.New(failure.InputMalformed, "negative amount %s has no %s minor units", amount.String(), unit.Symbol)
	}
	minor := amount.Shift(unit.Decimals).Floor().BigInt()
	if minor.Cmp(maxUint64) > 0 {
		return "", failure.New(failure.ArithmeticOverflow, "%s %s exceeds ledger integer ceiling", amount.String(), unit.Symbol)
	}
	return minor.String(), nil
}

// FromMinorUnits parses a canonical minor-unit string back into major units.
func FromMinorUnits(minor string, unit Unit) (decimal.Decimal, error) {
	n, ok := new(big.Int).SetString(minor, 10)
	if !ok || n.Sign() < 0 {
		return decimal.Zero, failure.New(failure.InputMalformed, "invalid minor unit amount %q", minor)
	}
	if n.Cmp(maxUint64) > 0 {
		return decimal.Zero, failure.New(failure.ArithmeticOverflow, "minor amount %s exceeds ledger integer ceiling", minor)
	}
	return result(decimal.NewFromBigInt(n, -unit.Decimals))
}

// ToNumber converts to float64 for display only. Settlement math never
// goes through this path.
func ToNumber(d decimal.Decimal) (float64, error) {
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, failure.New(failure.NonFinite, "%s does not fit a float", d.String())
	}
	return f, nil
}

// RoundDown truncates toward zero at the given number of places.
func RoundDown(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Truncate(places)
}

// ApproxEqual reports whether |a-b| <= tolerance.
func ApproxEqual(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance.Abs())
}

// ToBase converts a quote-currency amount (e.g. USD) into the base asset
// at price quote-per-base.
func ToBase(quote, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		if price.IsZero() {
			return decimal.Zero, failure.New(failure.DivisionByZero, "price is zero")
		}
		return decimal.Zero, failure.New(failure.InputMalformed, "price %s must be positive", price.String())
	}
	return SafeDivide(quote, price)
}

// ToQuote converts a base-asset amount into the quote currency.
func ToQuote(base, price decimal.Decimal) (decimal.Decimal, error) {
	if price.IsNegative() {
		return decimal.Zero, failure.New(failure.InputMalformed, "price %s must not be negative", price.String())
	}
	return SafeMultiply(base, price)
}
