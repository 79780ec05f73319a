package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

func TestKeepAlive_SleepsRemainderOfInterval(t *testing.T) {
	var mu sync.Mutex
	var starts []time.Time
	fake := &fakeInterp{run: func(context.Context, interp.Environment, interp.Script, []string) (int, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(300 * time.Millisecond)
		return 0, nil
	}}
	e, _ := newTestEngine(t, fake, 2, nil)
	writeScript(t, e, "poll.lua")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.ExecuteAsync(ctx, Request{Path: "poll.lua", KeepAlive: true, Interval: time.Second}); err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(starts)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second keep-alive run did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	mu.Lock()
	gap := starts[1].Sub(starts[0])
	mu.Unlock()

	// 300ms run + ~700ms sleep; 100ms slices allow +-150ms.
	sleep := gap - 300*time.Millisecond
	if sleep < 550*time.Millisecond || sleep > 850*time.Millisecond {
		t.Errorf("sleep between runs = %v, want about 700ms", sleep)
	}

	waitFor(t, "keep-alive slot to finish", func() bool { return e.registry.Running() == 0 })
}

func TestKeepAlive_DefaultIntervalWhenZero(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleepsBeforeSecond []time.Duration
	runs := 0
	fake := &fakeInterp{run: func(context.Context, interp.Environment, interp.Script, []string) (int, error) {
		runs++
		if runs == 2 {
			clock.mu.Lock()
			sleepsBeforeSecond = append([]time.Duration(nil), clock.sleeps...)
			clock.mu.Unlock()
			cancel()
		}
		return 0, nil
	}}
	e, _ := newTestEngine(t, fake, 2, nil)
	e.now = clock.now
	e.sleep = clock.sleep
	writeScript(t, e, "poll.lua")

	if err := e.ExecuteAsync(ctx, Request{Path: "poll.lua", KeepAlive: true, Interval: 0}); err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}
	waitFor(t, "keep-alive slot to finish", func() bool { return e.registry.Running() == 0 })

	var total time.Duration
	for _, d := range sleepsBeforeSecond {
		if d > keepAliveSleepSlice {
			t.Errorf("sleep slice %v longer than %v", d, keepAliveSleepSlice)
		}
		total += d
	}
	if total != 5000*time.Millisecond {
		t.Errorf("total sleep between runs = %v, want exactly 5s", total)
	}
	if len(sleepsBeforeSecond) != 50 {
		t.Errorf("sleep slices = %d, want 50", len(sleepsBeforeSecond))
	}
}

func TestKeepAliveDelay(t *testing.T) {
	e, _ := newTestEngine(t, &fakeInterp{}, 2, nil)

	tests := []struct {
		name     string
		interval time.Duration
		elapsed  time.Duration
		want     time.Duration
	}{
		{"remainder of interval", time.Second, 300 * time.Millisecond, 700 * time.Millisecond},
		{"run longer than interval", time.Second, 2 * time.Second, 0},
		{"zero interval uses default", 0, 300 * time.Millisecond, 5 * time.Second},
		{"negative interval uses default", -time.Second, 0, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.keepAliveDelay(tt.interval, tt.elapsed); got != tt.want {
				t.Errorf("keepAliveDelay(%v, %v) = %v, want %v", tt.interval, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestKeepAlive_StopsWhenDeviceRemoved(t *testing.T) {
	devices := newFakeDevices(12)
	runs := make(chan struct{}, 100)
	fake := &fakeInterp{run: func(context.Context, interp.Environment, interp.Script, []string) (int, error) {
		runs <- struct{}{}
		return 0, nil
	}}
	e, logger := newTestEngine(t, fake, 2, devices)
	writeScript(t, e, "device.lua")

	if err := e.ExecuteAsync(context.Background(), Request{Path: "device.lua", DeviceID: 12, KeepAlive: true, Interval: 20 * time.Millisecond}); err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}

	<-runs
	devices.remove(12)
	waitFor(t, "keep-alive loop to stop", func() bool { return e.registry.Running() == 0 })

	if _, ok := logger.find("starting script of device"); !ok {
		t.Error("expected device start to be logged")
	}
	if _, ok := logger.find("script of device exited"); !ok {
		t.Error("expected device exit to be logged")
	}
}

func TestKeepAlive_NeverStartsForMissingDevice(t *testing.T) {
	fake := &fakeInterp{}
	e, _ := newTestEngine(t, fake, 2, newFakeDevices())
	writeScript(t, e, "device.lua")

	if err := e.ExecuteAsync(context.Background(), Request{Path: "device.lua", DeviceID: 99, KeepAlive: true}); err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}
	waitFor(t, "keep-alive slot to finish", func() bool { return e.registry.Running() == 0 })

	if n := fake.runs.Load(); n != 0 {
		t.Errorf("runs = %d, want 0", n)
	}
}

func TestKeepAlive_ZeroDeviceIgnoresCatalog(t *testing.T) {
	runs := make(chan struct{}, 100)
	fake := &fakeInterp{run: func(context.Context, interp.Environment, interp.Script, []string) (int, error) {
		runs <- struct{}{}
		return 0, nil
	}}
	e, _ := newTestEngine(t, fake, 2, newFakeDevices())
	writeScript(t, e, "loop.lua")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.ExecuteAsync(ctx, Request{Path: "loop.lua", KeepAlive: true, Interval: 10 * time.Millisecond}); err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}

	for range 3 {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatal("keep-alive loop stopped although no device was bound")
		}
	}
	cancel()
	waitFor(t, "keep-alive slot to finish", func() bool { return e.registry.Running() == 0 })
}

func TestKeepAlive_StopsOnShutdown(t *testing.T) {
	fake := &fakeInterp{}
	e, _ := newTestEngine(t, fake, 2, nil)
	writeScript(t, e, "loop.lua")

	if err := e.ExecuteAsync(context.Background(), Request{Path: "loop.lua", KeepAlive: true, Interval: time.Hour}); err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}
	waitFor(t, "first run", func() bool { return fake.runs.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !fake.closed.Load() {
		t.Error("interpreter not closed")
	}
	if n := fake.newContexts.Load(); n != 1 {
		t.Errorf("interpreter contexts = %d, want 1 per loop", n)
	}
}
