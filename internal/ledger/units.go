package ledger

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// etherAmount accepts "1", "0.05" and ".5" but not "1.", "00001", "." or exponents.
var etherAmount = regexp.MustCompile(`^(0|[1-9][0-9]*)?(\.[0-9]+)?$`)

// ParseEther converts a decimal ether amount such as "0.05" into wei.
func ParseEther(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" || !etherAmount.MatchString(value) {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", value)
	}
	wei := d.Shift(etherDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", value, etherDecimals)
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as a decimal ether string, always with at least one
// fractional digit ("1.0", "0.05").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(wei, -etherDecimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// EtherFloat converts wei to ether as a float64. It is lossy; use it for
// dashboards, never for accounting.
func EtherFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).InexactFloat64()
}
