package money

import "testing"

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"half cent rounds up", 19.005, 19.01},
		{"half cent rounds up not to even", 0.125, 0.13},
		{"below half stays down", 19.004, 19.00},
		{"above half goes up", 19.006, 19.01},
		{"exact two decimals unchanged", 21.00, 21.00},
		{"float sum artifact", 0.1 + 0.2, 0.30},
		{"zero", 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Round(tc.in)
			if got != tc.want {
				t.Fatalf("Round(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestRoundIsIdempotent(t *testing.T) {
	values := []float64{19.005, 0.1 + 0.2, 3.999, 1234.565, 0.005}
	for _, v := range values {
		once := Round(v)
		twice := Round(once)
		if once != twice {
			t.Fatalf("Round not idempotent for %v: first %v, second %v", v, once, twice)
		}
	}
}

func TestTax(t *testing.T) {
	if got := Tax(20.00, 5); got != 1.00 {
		t.Fatalf("Tax(20, 5%%) = %v, want 1.00", got)
	}
	if got := Tax(19.99, 0); got != 0 {
		t.Fatalf("Tax with zero rate = %v, want 0", got)
	}
	// 7% of 13.57 is 0.9499, which rounds up at the third decimal.
	if got := Tax(13.57, 7); got != 0.95 {
		t.Fatalf("Tax(13.57, 7%%) = %v, want 0.95", got)
	}
}
