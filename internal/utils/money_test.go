package utils

import "testing"

func TestRound2(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{1.006, 1.01},
		{1.004, 1.0},
		{14.9985, 15.0},
		{-1.006, -1.01},
		{1249.5, 1249.5},
	}
	for _, tc := range cases {
		if got := Round2(tc.in); got != tc.want {
			t.Fatalf("Round2(%v) = %v; want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		v        float64
		currency string
		want     string
	}{
		{1249.5, "EGP", "1,249.50 EGP"},
		{0, "EGP", "0.00 EGP"},
		{999999.99, "USD", "999,999.99 USD"},
	}
	for _, tc := range cases {
		if got := FormatPrice(tc.v, tc.currency); got != tc.want {
			t.Fatalf("FormatPrice(%v, %q) = %q; want %q", tc.v, tc.currency, got, tc.want)
		}
	}
}
