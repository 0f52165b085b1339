package ohloss

import "testing"

func TestParseAmountRoundTrip(t *testing.T) {
	cases := []struct {
		in    string
		units uint64
	}{
		{"0", 0},
		{"1", 10000000},
		{"100", 1000000000},
		{"0.1", 1000000},
		{"0.0000001", 1},
		{"12.345", 123450000},
		{"1.9999999", 19999999},
		{".5", 5000000},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tc.in, err)
		}
		if got != tc.units {
			t.Fatalf("ParseAmount(%q) = %d, want %d", tc.in, got, tc.units)
		}
		back, err := ParseAmount(FormatAmount(got))
		if err != nil {
			t.Fatalf("re-parse FormatAmount(%d): %v", got, err)
		}
		if back != got {
			t.Fatalf("round trip %q -> %d -> %q -> %d", tc.in, got, FormatAmount(got), back)
		}
	}
}

func TestParseAmountTruncatesExtraDigits(t *testing.T) {
	// More fractional digits than the unit allows: truncated, never rounded.
	got, err := ParseAmount("1.99999999")
	if err != nil {
		t.Fatal(err)
	}
	if got != 19999999 {
		t.Fatalf("got %d, want 19999999", got)
	}
	got, err = ParseAmount("0.00000019")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []string{"", " ", ".", "1..2", "1,5", "-1", "abc", "1.2.3", "1e7"} {
		if _, err := ParseAmount(in); err == nil {
			t.Fatalf("ParseAmount(%q) unexpectedly succeeded", in)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		units uint64
		want  string
	}{
		{0, "0"},
		{1, "0.0000001"},
		{10000000, "1"},
		{123450000, "12.345"},
		{10000001, "1.0000001"},
	}
	for _, tc := range cases {
		if got := FormatAmount(tc.units); got != tc.want {
			t.Fatalf("FormatAmount(%d) = %q, want %q", tc.units, got, tc.want)
		}
	}
}
