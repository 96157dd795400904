// Package eligibility decides whether an address may receive funds from the faucet.
// It performs no I/O: callers supply the balance and claim history they have read.
package eligibility

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Mode string

const (
	// ModeTopUp refills addresses whose balance fell to or below a threshold, at most once per cooldown.
	ModeTopUp Mode = "topup"
	// ModeOneShot pays every address exactly once.
	ModeOneShot Mode = "oneshot"
)

// ParseMode rejects anything but the two named modes, including the empty string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTopUp, ModeOneShot:
		return Mode(s), nil
	case "":
		return "", errors.New("policy mode is required (topup or oneshot)")
	default:
		return "", fmt.Errorf("unknown policy mode %q", s)
	}
}

type Verdict int

const (
	Allowed Verdict = iota
	DeniedSufficientBalance
	DeniedCooldown
	DeniedAlreadyClaimed
	DeniedInvalidAddress
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case DeniedSufficientBalance:
		return "sufficient_balance"
	case DeniedCooldown:
		return "cooldown"
	case DeniedAlreadyClaimed:
		return "already_claimed"
	case DeniedInvalidAddress:
		return "invalid_address"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision is computed per request and never stored.
type Decision struct {
	Verdict Verdict
	// Amount is the wei to send when Verdict is Allowed.
	Amount *big.Int
	// RetryAfter is the remaining cooldown when Verdict is DeniedCooldown.
	RetryAfter time.Duration
}

func (d Decision) Allowed() bool {
	return d.Verdict == Allowed
}

// Input is what the guard needs to know about one claim.
type Input struct {
	Address common.Address
	// Balance is the recipient's current balance in wei. Ignored in one-shot mode.
	Balance *big.Int
	// LastClaim is the time of the last successful claim; zero when Claimed is false.
	LastClaim time.Time
	Claimed   bool
	Now       time.Time
}

type Policy struct {
	Mode Mode
	// BalanceThreshold is the top-up ceiling in wei; balances strictly above it are denied.
	BalanceThreshold *big.Int
	Cooldown         time.Duration
	Amount           *big.Int
}

func (p Policy) Validate() error {
	if _, err := ParseMode(string(p.Mode)); err != nil {
		return err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return errors.New("payout amount must be positive")
	}
	if p.Mode == ModeTopUp {
		if p.BalanceThreshold == nil || p.BalanceThreshold.Sign() < 0 {
			return errors.New("balance threshold must be non-negative")
		}
		if p.Cooldown < 0 {
			return errors.New("cooldown must be non-negative")
		}
	}
	return nil
}

// NeedsBalance reports whether Evaluate looks at Input.Balance.
func (p Policy) NeedsBalance() bool {
	return p.Mode == ModeTopUp
}

// Evaluate applies the policy. It has no side effects.
func (p Policy) Evaluate(in Input) Decision {
	switch p.Mode {
	case ModeOneShot:
		if in.Claimed {
			return Decision{Verdict: DeniedAlreadyClaimed}
		}
	default:
		if in.Balance != nil && in.Balance.Cmp(p.BalanceThreshold) > 0 {
			return Decision{Verdict: DeniedSufficientBalance}
		}
		if in.Claimed {
			if elapsed := in.Now.Sub(in.LastClaim); elapsed < p.Cooldown {
				return Decision{Verdict: DeniedCooldown, RetryAfter: p.Cooldown - elapsed}
			}
		}
	}
	return Decision{Verdict: Allowed, Amount: new(big.Int).Set(p.Amount)}
}
