package availability

import (
	"testing"
	"time"
)

func TestOverlaps_TouchingIntervalsDoNotOverlap(t *testing.T) {
	a := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if Overlaps(a, a.Add(time.Hour), a.Add(time.Hour), a.Add(2*time.Hour)) {
		t.Fatalf("touching intervals must not overlap")
	}
	if !Overlaps(a, a.Add(2*time.Hour), a.Add(time.Hour), a.Add(3*time.Hour)) {
		t.Fatalf("partial overlap not detected")
	}
	if !Overlaps(a, a.Add(3*time.Hour), a.Add(time.Hour), a.Add(2*time.Hour)) {
		t.Fatalf("enclosed interval not detected")
	}
}

func TestContainsIsNotOverlap(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slot := WindowOn(day, 9*60, 12*60)

	inside := Interval{Start: day.Add(9 * time.Hour), End: day.Add(12 * time.Hour)}
	if !slot.Contains(inside) {
		t.Fatalf("exact fit must be contained")
	}
	spill := Interval{Start: day.Add(11*time.Hour + 30*time.Minute), End: day.Add(12*time.Hour + time.Minute)}
	if slot.Contains(spill) {
		t.Fatalf("interval spilling one minute past the slot must not be contained")
	}
	if !slot.Overlaps(spill) {
		t.Fatalf("spilling interval still overlaps")
	}
}

func TestAtMinuteAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 2026-03-08 is the spring-forward day in the US.
	day := time.Date(2026, 3, 8, 0, 0, 0, 0, loc)
	got := AtMinute(day, 9*60)
	if got.Hour() != 9 || got.Minute() != 0 {
		t.Fatalf("expected 09:00 wall clock, got %s", got.Format(time.RFC3339))
	}
	if d := AtMinute(day, 24*60).Sub(day); d != 23*time.Hour {
		t.Fatalf("expected a 23h day, got %s", d)
	}
}
