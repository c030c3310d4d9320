package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/artpar/billmeter/adapters/clock"
)

func TestReal_NowIsUTC(t *testing.T) {
	before := time.Now()
	got := clock.Real{}.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", got, before, after)
	}
	if got.Location() != time.UTC {
		t.Errorf("Location = %v, want UTC", got.Location())
	}
}

func TestFake_SetAndAdvance(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	start := time.Date(2024, 6, 15, 7, 0, 0, 0, loc)
	c := clock.NewFake(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}
	if c.Now().Location() != time.UTC {
		t.Errorf("Location = %v, want UTC", c.Now().Location())
	}

	got := c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !got.Equal(want) || !c.Now().Equal(want) {
		t.Errorf("Advance = %v, want %v", got, want)
	}

	later := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("after Set Now() = %v, want %v", c.Now(), later)
	}
}

func TestFake_Concurrent(t *testing.T) {
	c := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Advance(time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			_ = c.Now()
		}()
	}
	wg.Wait()

	want := time.Date(2024, 1, 1, 0, 0, 0, 50*int(time.Millisecond), time.UTC)
	if !c.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", c.Now(), want)
	}
}
