package eligibility

import (
	"math/big"
	"testing"
	"time"
)

var (
	milliEther = big.NewInt(1_000_000_000_000_000)
	threshold  = new(big.Int).Mul(big.NewInt(50), milliEther)  // 0.05
	topUp      = new(big.Int).Mul(big.NewInt(100), milliEther) // 0.1
)

func topUpPolicy() Policy {
	return Policy{
		Mode:             ModeTopUp,
		BalanceThreshold: threshold,
		Cooldown:         time.Minute,
		Amount:           topUp,
	}
}

func TestTopUpPolicy(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := topUpPolicy()

	cases := []struct {
		name    string
		in      Input
		verdict Verdict
		retry   time.Duration
	}{
		{
			name:    "low balance first claim",
			in:      Input{Balance: milliEther, Now: now},
			verdict: Allowed,
		},
		{
			name:    "balance at threshold",
			in:      Input{Balance: threshold, Now: now},
			verdict: Allowed,
		},
		{
			name:    "balance above threshold",
			in:      Input{Balance: new(big.Int).Add(threshold, big.NewInt(1)), Now: now},
			verdict: DeniedSufficientBalance,
		},
		{
			name:    "balance above threshold wins over cooldown",
			in:      Input{Balance: topUp, Claimed: true, LastClaim: now.Add(-time.Second), Now: now},
			verdict: DeniedSufficientBalance,
		},
		{
			name:    "inside cooldown",
			in:      Input{Balance: milliEther, Claimed: true, LastClaim: now.Add(-time.Second), Now: now},
			verdict: DeniedCooldown,
			retry:   59 * time.Second,
		},
		{
			name:    "cooldown elapsed exactly",
			in:      Input{Balance: milliEther, Claimed: true, LastClaim: now.Add(-time.Minute), Now: now},
			verdict: Allowed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Evaluate(tc.in)
			if d.Verdict != tc.verdict {
				t.Fatalf("expected %s, got %s", tc.verdict, d.Verdict)
			}
			if d.RetryAfter != tc.retry {
				t.Fatalf("expected retry after %s, got %s", tc.retry, d.RetryAfter)
			}
			if d.Allowed() && d.Amount.Cmp(topUp) != 0 {
				t.Fatalf("expected top-up amount %s, got %s", topUp, d.Amount)
			}
		})
	}
}

func TestOneShotPolicy(t *testing.T) {
	amount := new(big.Int).Mul(big.NewInt(50), milliEther)
	p := Policy{Mode: ModeOneShot, Amount: amount}
	now := time.Unix(1_700_000_000, 0)

	d := p.Evaluate(Input{Balance: topUp, Now: now})
	if !d.Allowed() || d.Amount.Cmp(amount) != 0 {
		t.Fatalf("expected first claim allowed with %s, got %+v", amount, d)
	}

	later := now.Add(365 * 24 * time.Hour)
	d = p.Evaluate(Input{Balance: big.NewInt(0), Claimed: true, LastClaim: now, Now: later})
	if d.Verdict != DeniedAlreadyClaimed {
		t.Fatalf("expected already claimed, got %s", d.Verdict)
	}
	if p.NeedsBalance() {
		t.Fatalf("one-shot policy should not need a balance")
	}
}

func TestEvaluateDoesNotAliasAmount(t *testing.T) {
	p := topUpPolicy()
	d := p.Evaluate(Input{Balance: big.NewInt(0), Now: time.Now()})
	d.Amount.SetInt64(1)
	if p.Amount.Cmp(topUp) != 0 {
		t.Fatalf("policy amount mutated through decision")
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := topUpPolicy().Validate(); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}
	if err := (Policy{Mode: "", Amount: topUp}).Validate(); err == nil {
		t.Fatalf("empty mode must be rejected")
	}
	if err := (Policy{Mode: "both", Amount: topUp}).Validate(); err == nil {
		t.Fatalf("unknown mode must be rejected")
	}
	if err := (Policy{Mode: ModeOneShot, Amount: big.NewInt(0)}).Validate(); err == nil {
		t.Fatalf("zero amount must be rejected")
	}
	if err := (Policy{Mode: ModeTopUp, Amount: topUp}).Validate(); err == nil {
		t.Fatalf("missing threshold must be rejected")
	}
}
