package budget

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    Amount
		wantErr bool
	}{
		{name: "whole pounds", value: "2", want: 2_000_000},
		{name: "pence", value: "0.08", want: 80_000},
		{name: "full precision", value: "1.234567", want: 1_234_567},
		{name: "zero", value: "0", want: 0},
		{name: "trailing zeros", value: "0.050000", want: 50_000},
		{name: "too many decimals", value: "0.1234567", wantErr: true},
		{name: "negative", value: "-1", wantErr: true},
		{name: "empty", value: "", wantErr: true},
		{name: "not a number", value: "abc", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmount(tc.value)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) expected error, got %v", tc.value, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) returned error: %v", tc.value, err)
			}
			if got != tc.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tc.value, got, tc.want)
			}
		})
	}
}

func TestAmountString(t *testing.T) {
	tests := []struct {
		amount Amount
		want   string
	}{
		{amount: 80_000, want: "0.08"},
		{amount: 2_000_000, want: "2.00"},
		{amount: 1_234_567, want: "1.234567"},
		{amount: 0, want: "0.00"},
		{amount: 50_000, want: "0.05"},
	}

	for _, tc := range tests {
		if got := tc.amount.String(); got != tc.want {
			t.Errorf("Amount(%d).String() = %q, want %q", tc.amount, got, tc.want)
		}
	}
}
