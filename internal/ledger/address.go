package ledger

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrMissingAddress   = errors.New("address is required")
	ErrMalformedAddress = errors.New("address must be 20 bytes of hex")
	ErrBadChecksum      = errors.New("address checksum mismatch")
)

// ParseAddress validates raw as an account address. Mixed-case input must carry a
// valid EIP-55 checksum; all-lowercase and all-uppercase input is accepted as is.
func ParseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, ErrMissingAddress
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, ErrMalformedAddress
	}

	digits := raw
	if len(digits) >= 2 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		digits = digits[2:]
	}
	addr := common.HexToAddress(digits)
	if hasMixedCase(digits) && addr.Hex()[2:] != digits {
		return common.Address{}, ErrBadChecksum
	}
	return addr, nil
}

func hasMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}
