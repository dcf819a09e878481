package clock

import (
	"errors"
	"testing"
	"time"

	logx "planbot/pkg/logx"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want TimeOfDay
		ok   bool
		bad  bool
	}{
		{in: "22:30", want: TimeOfDay{22, 30}, ok: true},
		{in: "9:05", want: TimeOfDay{9, 5}, ok: true},
		{in: "remind me at 07:45 please", want: TimeOfDay{7, 45}, ok: true},
		{in: "нет"},
		{in: "None"},
		{in: "  "},
		{in: "tomorrow", bad: true},
		{in: "25:00", bad: true},
		{in: "12:60", bad: true},
		{in: "123:45", bad: true},
	}
	for _, tc := range tests {
		got, ok, err := ParseTimeOfDay(tc.in)
		if tc.bad {
			if !errors.Is(err, ErrBadTimeFormat) {
				t.Fatalf("%q: expected ErrBadTimeFormat, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.in, err)
		}
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%q: got (%v,%v) want (%v,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestResolverFallsBackToUTC(t *testing.T) {
	t.Parallel()

	r := NewResolver("Mars/Olympus_Mons", logx.Nop())
	if r.Location() != time.UTC {
		t.Fatalf("expected UTC fallback, got %v", r.Location())
	}
	if NewResolver("", logx.Logger{}).Location() != time.UTC {
		t.Fatalf("empty zone should fall back to UTC")
	}
}

func TestLocalize(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+5", 5*3600)
	r := NewFixed(loc, nil)
	got, err := r.Localize("2024-05-01", TimeOfDay{22, 30})
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 5, 1, 17, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if _, err := r.Localize("01.05.2024", TimeOfDay{}); !errors.Is(err, ErrBadDate) {
		t.Fatalf("expected ErrBadDate, got %v", err)
	}
}

func TestTodayUsesZone(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+5", 5*3600)
	// 20:00 UTC on Apr 30 is already May 1 in UTC+5.
	r := NewFixed(loc, func() time.Time { return time.Date(2024, 4, 30, 20, 0, 0, 0, time.UTC) })
	if got := r.Today().Format(DateLayout); got != "2024-05-01" {
		t.Fatalf("today=%s", got)
	}
}
