package money

import (
	"encoding/json"
	"testing"
)

func TestParseMajor(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "whole amount", input: "5000", want: 500000},
		{name: "two decimals", input: "4999.99", want: 499999},
		{name: "one decimal", input: "10.5", want: 1050},
		{name: "zero", input: "0", want: 0},
		{name: "negative", input: "-12.34", want: -1234},
		{name: "leading zero fraction", input: "1.05", want: 105},
		{name: "excess decimals", input: "1.999", wantErr: true},
		{name: "not a number", input: "abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMajor(tt.input, NGN)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMajor(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMajor(%q) unexpected error: %v", tt.input, err)
			}
			if got.AmountMinor != tt.want {
				t.Errorf("ParseMajor(%q) = %d, want %d", tt.input, got.AmountMinor, tt.want)
			}
		})
	}
}

func TestMajorStringRoundTrip(t *testing.T) {
	for _, minor := range []int64{0, 1, 99, 100, 499999, 500000, -1234} {
		m := New(minor, NGN)
		parsed, err := ParseMajor(m.MajorString(), NGN)
		if err != nil {
			t.Fatalf("round trip of %d failed: %v", minor, err)
		}
		if parsed.AmountMinor != minor {
			t.Errorf("round trip of %d yielded %d", minor, parsed.AmountMinor)
		}
	}
}

func TestMajorStringFormat(t *testing.T) {
	if got := New(499999, NGN).MajorString(); got != "4999.99" {
		t.Errorf("MajorString() = %q, want %q", got, "4999.99")
	}
	if got := New(105, USD).MajorString(); got != "1.05" {
		t.Errorf("MajorString() = %q, want %q", got, "1.05")
	}
	if got := New(-50, USD).MajorString(); got != "-0.50" {
		t.Errorf("MajorString() = %q, want %q", got, "-0.50")
	}
}

func TestAddCurrencyMismatch(t *testing.T) {
	_, err := New(100, NGN).Add(New(100, USD))
	if err == nil {
		t.Fatal("expected currency mismatch error")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	m := New(250000, GHS)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Money
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Equal(m) {
		t.Errorf("round trip = %+v, want %+v", got, m)
	}
}

func TestIsSupported(t *testing.T) {
	for _, c := range []Currency{NGN, USD, GBP, EUR, KES, GHS, ZAR} {
		if !IsSupported(c) {
			t.Errorf("expected %s to be supported", c)
		}
	}
	if IsSupported(Currency("XYZ")) {
		t.Error("expected XYZ to be unsupported")
	}
}
