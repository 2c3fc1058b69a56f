package config

import (
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8083")
	if got, err := Port("TEST_PORT", "1"); err != nil || got != "8083" {
		t.Fatalf("expected 8083, got %q (err=%v)", got, err)
	}

	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "1"); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"", 5 * time.Second, true},
		{"45", 45 * time.Second, true},
		{"2m", 2 * time.Minute, true},
		{"-3", 0, false},
		{"soon", 0, false},
	}
	for _, tc := range cases {
		t.Setenv("TEST_DURATION", tc.raw)
		got, err := Duration("TEST_DURATION", 5*time.Second)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("raw %q: expected %s, got %s (err=%v)", tc.raw, tc.want, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("raw %q: expected error", tc.raw)
		}
	}
}

func TestIntRejectsZero(t *testing.T) {
	t.Setenv("TEST_INT", "0")
	if _, err := Int("TEST_INT", 10); err == nil {
		t.Fatalf("expected error for zero")
	}
	t.Setenv("TEST_INT", "")
	if got, _ := Int("TEST_INT", 10); got != 10 {
		t.Fatalf("expected fallback 10, got %d", got)
	}
}

func TestLocation(t *testing.T) {
	t.Setenv("TEST_TZ", "")
	loc, err := Location("TEST_TZ", "UTC")
	if err != nil || loc != time.UTC {
		t.Fatalf("expected UTC, got %v (err=%v)", loc, err)
	}
	t.Setenv("TEST_TZ", "Not/AZone")
	if _, err := Location("TEST_TZ", "UTC"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("TEST_BOOL", "off")
	if Bool("TEST_BOOL", true) {
		t.Fatalf("expected false")
	}
	t.Setenv("TEST_LIST", " a, ,b ")
	got := List("TEST_LIST", "")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected list %v", got)
	}
}
