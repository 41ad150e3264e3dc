package clock

import (
	"testing"
	"time"
)

func TestFakeRunsDueTimersInOrder(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	c.AfterFunc(2*time.Minute, func() { order = append(order, "b") })
	c.AfterFunc(time.Minute, func() { order = append(order, "a") })
	late := c.AfterFunc(time.Hour, func() { order = append(order, "late") })

	c.Advance(5 * time.Minute)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
	if got := c.Now(); !got.Equal(start.Add(5 * time.Minute)) {
		t.Fatalf("Now = %v", got)
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", c.Pending())
	}
	if !late.Stop() {
		t.Fatal("Stop on armed timer should report true")
	}
	if late.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(2 * time.Hour)
	if len(order) != 2 {
		t.Fatalf("stopped timer fired: %v", order)
	}
}

func TestFakeCallbackSeesDeadlineAndMayRearm(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var seen []time.Time
	var tick func()
	tick = func() {
		seen = append(seen, c.Now())
		if len(seen) < 3 {
			c.AfterFunc(10*time.Minute, tick)
		}
	}
	c.AfterFunc(10*time.Minute, tick)
	c.Advance(time.Hour)

	if len(seen) != 3 {
		t.Fatalf("ticks = %d, want 3", len(seen))
	}
	for i, s := range seen {
		want := start.Add(time.Duration(i+1) * 10 * time.Minute)
		if !s.Equal(want) {
			t.Fatalf("tick %d at %v, want %v", i, s, want)
		}
	}
}
