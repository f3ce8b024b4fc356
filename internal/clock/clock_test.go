package clock

import (
	"testing"
	"time"
)

func TestFake_NowAndAdvance(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	c := NewFake(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now: got %v, want %v", c.Now(), start)
	}
	c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Errorf("after Advance: got %v, want %v", c.Now(), want)
	}
}

func TestFake_Ticker(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	tk := c.NewTicker(time.Minute)
	defer tk.Stop()

	c.Advance(30 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-tk.C:
		if want := start.Add(time.Minute); !got.Equal(want) {
			t.Errorf("tick time: got %v, want %v", got, want)
		}
	default:
		t.Fatal("ticker did not fire")
	}

	// Several intervals at once collapse into one buffered tick
	c.Advance(5 * time.Minute)
	<-tk.C
	select {
	case <-tk.C:
		t.Fatal("expected dropped ticks")
	default:
	}

	tk.Stop()
	c.Advance(time.Hour)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}
