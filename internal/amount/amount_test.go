package amount

import (
	"math/big"
	"testing"

	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDecimalString(t *testing.T) {
	n, err := Normalize("1.5", 10)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(15_000_000_000), n)
}

func TestNormalizeIntegerString(t *testing.T) {
	n, err := Normalize("1000000000000", 10)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000_000_000), n)
}

func TestNormalizeRoundTripProperty(t *testing.T) {
	cases := []struct {
		whole, frac string
		decimals    int
	}{
		{"0", "1", 10},
		{"1", "5", 10},
		{"42", "000001", 10},
		{"7", "", 6},
	}
	for _, c := range cases {
		s := c.whole + "." + c.frac
		if c.frac == "" {
			s = c.whole
		}
		n, err := Normalize(s, c.decimals)
		require.NoError(t, err)

		wholeInt, _ := new(big.Int).SetString(c.whole, 10)
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.decimals)), nil)
		expected := new(big.Int).Mul(wholeInt, scale)
		if c.frac != "" {
			fracInt, _ := new(big.Int).SetString(c.frac, 10)
			fracScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.decimals-len(c.frac))), nil)
			expected.Add(expected, new(big.Int).Mul(fracInt, fracScale))
		}
		assert.Equal(t, expected, n, "case %+v", c)
	}
}

func TestNormalizeTooManyDecimals(t *testing.T) {
	_, err := Normalize("1.123456789012", 10)
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeTooManyDecimals))
}

func TestNormalizeRejectsNegative(t *testing.T) {
	_, err := Normalize(int64(-5), 10)
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeInvalidAmount))
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize("not-a-number", 10)
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeInvalidAmount))
}

func TestNormalizeBigIntPassthrough(t *testing.T) {
	in := big.NewInt(42)
	n, err := Normalize(in, 10)
	require.NoError(t, err)
	assert.Equal(t, in, n)
}

func TestFormatDecimalTrimsTrailingZeros(t *testing.T) {
	assert.Equal(t, "1.5", FormatDecimal(big.NewInt(15_000_000_000), 10))
	assert.Equal(t, "100", FormatDecimal(big.NewInt(100_0000000000), 10))
}
