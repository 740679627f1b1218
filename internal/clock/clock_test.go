package clock

import (
	"testing"
	"time"
)

func TestInstant_AfterAdvancesTime(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewInstant(start)

	for range 10 {
		<-c.After(100 * time.Millisecond)
	}

	if got := c.Now().Sub(start); got != time.Second {
		t.Errorf("expected 1s elapsed, got %v", got)
	}
	if c.Waited() != time.Second {
		t.Errorf("expected 1s waited, got %v", c.Waited())
	}

	c.Advance(time.Minute)
	if c.Waited() != time.Second {
		t.Errorf("Advance should not count as a wait, got %v", c.Waited())
	}
	if got := c.Now().Sub(start); got != time.Minute+time.Second {
		t.Errorf("expected 1m1s elapsed, got %v", got)
	}
}
