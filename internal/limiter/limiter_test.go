package limiter

import (
	"testing"
	"time"
)

// fakeClock advances only when slept on or told to
type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
}

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestFirstWaitDoesNotSleep(t *testing.T) {
	clk := newFakeClock()
	l := New(30, WithClock(clk.now, clk.sleep))

	l.Wait()
	if len(clk.slept) != 0 {
		t.Errorf("first Wait slept %v", clk.slept)
	}
}

func TestWaitSpansSchedule(t *testing.T) {
	const freq = 50
	const n = 20
	clk := newFakeClock()
	l := New(freq, WithClock(clk.now, clk.sleep))
	period := time.Second / freq

	begin := clk.now()
	for i := 0; i < n; i++ {
		l.Wait()
		// variable per-call work, always shorter than one period
		clk.advance(time.Duration(i%4) * period / 4)
	}
	elapsed := clk.now().Sub(begin)

	min := time.Duration(n-1) * period
	if elapsed < min {
		t.Errorf("elapsed %v, want >= %v", elapsed, min)
	}
	if elapsed > min+period {
		t.Errorf("elapsed %v drifted more than one period past %v", elapsed, min)
	}
}

func TestWaitDoesNotDriftAfterSlowCall(t *testing.T) {
	clk := newFakeClock()
	l := New(10, WithClock(clk.now, clk.sleep))
	period := l.Period()

	l.Wait()
	clk.advance(3 * period) // one slow call
	l.Wait()
	l.Wait()
	l.Wait()
	if len(clk.slept) != 0 {
		t.Fatalf("calls behind schedule should not sleep, slept %v", clk.slept)
	}

	// back on schedule: call 4 is due at 4*period, we are at 3*period
	l.Wait()
	if len(clk.slept) != 1 || clk.slept[0] != period {
		t.Errorf("slept %v, want [%v]", clk.slept, period)
	}
}

func TestResetSkipsCatchUp(t *testing.T) {
	clk := newFakeClock()
	l := New(30, WithClock(clk.now, clk.sleep))

	for i := 0; i < 5; i++ {
		l.Wait()
	}
	clk.slept = nil

	clk.advance(10 * time.Second) // paused
	l.Reset()
	l.Wait()
	if len(clk.slept) != 0 {
		t.Errorf("Wait after Reset slept %v", clk.slept)
	}

	l.Wait()
	if len(clk.slept) != 1 || clk.slept[0] != l.Period() {
		t.Errorf("second Wait after Reset slept %v, want one period", clk.slept)
	}
}

func TestDeadlineDoesNotCount(t *testing.T) {
	clk := newFakeClock()
	l := New(10, WithClock(clk.now, clk.sleep))

	if d := l.Deadline(); d != 0 {
		t.Errorf("Deadline() = %v before any call, want 0", d)
	}
	l.Wait()
	if d := l.Deadline(); d != l.Period() {
		t.Errorf("Deadline() = %v, want %v", d, l.Period())
	}
	if d := l.Deadline(); d != l.Period() {
		t.Errorf("Deadline() changed to %v without a Wait", d)
	}
}

func TestZeroFrequencyNeverSleeps(t *testing.T) {
	clk := newFakeClock()
	l := New(0, WithClock(clk.now, clk.sleep))
	for i := 0; i < 10; i++ {
		l.Wait()
	}
	if len(clk.slept) != 0 {
		t.Errorf("slept %v", clk.slept)
	}
}

func TestRealClockSmoke(t *testing.T) {
	l := New(200)
	begin := time.Now()
	for i := 0; i < 5; i++ {
		l.Wait()
	}
	if elapsed := time.Since(begin); elapsed < 4*l.Period() {
		t.Errorf("elapsed %v, want >= %v", elapsed, 4*l.Period())
	}
}
