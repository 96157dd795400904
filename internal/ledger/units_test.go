package ledger

import (
	"math/big"
	"testing"
)

func TestParseEther(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.05", "50000000000000000"},
		{"0.1", "100000000000000000"},
		{"1", "1000000000000000000"},
		{".5", "500000000000000000"},
		{"0.000000000000000001", "1"},
	}
	for _, tc := range cases {
		got, err := ParseEther(tc.in)
		if err != nil {
			t.Fatalf("ParseEther(%q): %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ParseEther(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{
		"", ".", "1.", "00001", "-1", "-0.5", "abc", "1.2.3", "0.0000000000000000001", "1e18", " . ",
	} {
		if _, err := ParseEther(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFormatEther(t *testing.T) {
	cases := []struct {
		wei  *big.Int
		want string
	}{
		{big.NewInt(0), "0.0"},
		{big.NewInt(100000000000000000), "0.1"},
		{big.NewInt(1000000000000000000), "1.0"},
		{big.NewInt(1500000000000000000), "1.5"},
		{big.NewInt(1), "0.000000000000000001"},
		{big.NewInt(-1500000000000000000), "-1.5"},
		{nil, "0.0"},
	}
	for _, tc := range cases {
		if got := FormatEther(tc.wei); got != tc.want {
			t.Fatalf("FormatEther(%v) = %s, want %s", tc.wei, got, tc.want)
		}
	}
}

func TestEtherFloat(t *testing.T) {
	wei, _ := ParseEther("0.25")
	if got := EtherFloat(wei); got != 0.25 {
		t.Fatalf("expected 0.25 got %v", got)
	}
	if got := EtherFloat(nil); got != 0 {
		t.Fatalf("expected 0 for nil, got %v", got)
	}
}
