package money

import "testing"

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{16.666, 16.67},
		{16.664, 16.66},
		{-2.346, -2.35},
		{0, 0},
		{49.980000000000004, 49.98},
	}
	for _, tt := range tests {
		if got := Round2(tt.in); got != tt.want {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTrunc2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{16.666, 16.66},
		{16.669, 16.66},
		{10.0, 10.0},
		{0.009, 0},
		// Exact-cent inputs whose float64 form sits just below the decimal
		// value must not lose a cent.
		{4.35, 4.35},
		{8.20, 8.20},
		{1.15, 1.15},
		{2.55, 2.55},
		{-2.55, -2.55},
		{8.70 / 2, 4.35},
	}
	for _, tt := range tests {
		if got := Trunc2(tt.in); got != tt.want {
			t.Errorf("Trunc2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCentsAndEqual(t *testing.T) {
	if Cents(16.66) != 1666 {
		t.Errorf("Cents(16.66) = %d", Cents(16.66))
	}
	if !Equal(0.1+0.2, 0.3) {
		t.Error("Equal(0.1+0.2, 0.3) = false")
	}
	if Equal(16.66, 16.67) {
		t.Error("Equal(16.66, 16.67) = true")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{16.66, "16.66"},
		{10, "10.00"},
		{0.5, "0.50"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
