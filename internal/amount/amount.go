// Package amount normalizes user/LLM-supplied amount values into
// non-negative arbitrary-precision integers in the chain's smallest unit,
// per spec.md §4.3.2 and Testable Property 4.
package amount

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/arcsign/chainpilot/internal/chainerrors"
)

// Normalize accepts an integer string (decimal digits only), a decimal
// string ("w.f" with at most decimals fractional digits), a native int64,
// or an already-normalized *big.Int, and returns the amount in the
// smallest unit. Anything else, or a decimal string with too many
// fractional digits, is rejected with CodeInvalidAmount /
// CodeTooManyDecimals respectively.
func Normalize(value interface{}, decimals int) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v.Sign() < 0 {
			return nil, invalidAmount("amount must be non-negative")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		if v.Sign() < 0 {
			return nil, invalidAmount("amount must be non-negative")
		}
		return new(big.Int).Set(&v), nil
	case int:
		return fromInt64(int64(v))
	case int64:
		return fromInt64(v)
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case string:
		return fromString(v, decimals)
	default:
		return nil, invalidAmount(fmt.Sprintf("unsupported amount type %T", value))
	}
}

func fromInt64(v int64) (*big.Int, error) {
	if v < 0 {
		return nil, invalidAmount("amount must be non-negative")
	}
	return big.NewInt(v), nil
}

func fromString(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, invalidAmount("empty amount string")
	}

	if !strings.Contains(s, ".") {
		if !isDigits(s) {
			return nil, invalidAmount(fmt.Sprintf("invalid integer amount %q", s))
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, invalidAmount(fmt.Sprintf("invalid integer amount %q", s))
		}
		return n, nil
	}

	parts := strings.SplitN(s, ".", 2)
	whole, frac := parts[0], parts[1]
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return nil, invalidAmount(fmt.Sprintf("invalid decimal amount %q", s))
	}
	if len(frac) > decimals {
		return nil, &chainerrors.EngineError{
			Code:           chainerrors.CodeTooManyDecimals,
			Message:        fmt.Sprintf("amount %q has %d fractional digits, exceeds %d decimals", s, len(frac), decimals),
			Classification: chainerrors.Input,
		}
	}

	wholeInt, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, invalidAmount(fmt.Sprintf("invalid whole part %q", whole))
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	result := new(big.Int).Mul(wholeInt, scale)

	if frac != "" {
		fracInt, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, invalidAmount(fmt.Sprintf("invalid fractional part %q", frac))
		}
		fracScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-len(frac))), nil)
		result.Add(result, new(big.Int).Mul(fracInt, fracScale))
	}

	return result, nil
}

func isDigits(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func invalidAmount(msg string) *chainerrors.EngineError {
	return &chainerrors.EngineError{
		Code:           chainerrors.CodeInvalidAmount,
		Message:        msg,
		Classification: chainerrors.Input,
	}
}

// FormatDecimal renders a smallest-unit integer as a human-readable
// decimal string with the given number of decimals, trimming trailing
// zero fractional digits (used to format ED-warning messages).
func FormatDecimal(n *big.Int, decimals int) string {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(n, scale, frac)

	if decimals == 0 {
		return whole.String()
	}

	fracStr := frac.String()
	if frac.Sign() < 0 {
		fracStr = fracStr[1:]
	}
	fracStr = strings.Repeat("0", decimals-len(fracStr)) + fracStr
	fracStr = strings.TrimRight(fracStr, "0")
	if fracStr == "" {
		return whole.String()
	}
	return whole.String() + "." + fracStr
}

// ParseUint is a small helper used by callers that need a plain uint64
// amount (e.g. test fixtures) without going through Normalize's full type
// switch.
func ParseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
