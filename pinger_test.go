package mqtt

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPingerSendsWhenIdle(t *testing.T) {
	var pings atomic.Int32
	p := newPinger(50*time.Millisecond, time.Second, func() error {
		pings.Add(1)
		return nil
	}, func(error) {})
	p.Start()
	defer p.Stop()

	// Answer every ping so the loop keeps running.
	go func() {
		for range time.Tick(10 * time.Millisecond) {
			p.NotifyPong()
		}
	}()

	time.Sleep(275 * time.Millisecond)
	got := int(pings.Load())
	// At most one PINGREQ per interval within the window, and at least
	// enough of them given no other traffic occurred.
	if got < 3 || got > 5 {
		t.Fatalf("sent %d pings over ~5 intervals, want 3..5", got)
	}
}

func TestPingerSuppressedByActivity(t *testing.T) {
	var pings atomic.Int32
	p := newPinger(50*time.Millisecond, time.Second, func() error {
		pings.Add(1)
		return nil
	}, func(error) {})
	p.Start()
	defer p.Stop()

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.noteActivity()
			}
		}
	}()
	time.Sleep(200 * time.Millisecond)
	close(stop)

	if got := pings.Load(); got != 0 {
		t.Fatalf("sent %d pings while traffic was flowing, want 0", got)
	}
}

func TestPingerTimeoutReportsPingTimeout(t *testing.T) {
	failed := make(chan error, 1)
	p := newPinger(20*time.Millisecond, 30*time.Millisecond, func() error {
		return nil // PINGREQ goes out, PINGRESP never comes
	}, func(err error) {
		failed <- err
	})
	p.Start()
	defer p.Stop()

	select {
	case err := <-failed:
		reason, ok := err.(CloseReason)
		if !ok || reason.Kind != ReasonPingTimeout {
			t.Fatalf("onFail got %v, want ReasonPingTimeout", err)
		}
	case <-time.After(time.Second):
		t.Fatal("missed PINGRESP never reported")
	}
}

func TestPingerSetIntervalAppliesNextCycle(t *testing.T) {
	var pings atomic.Int32
	p := newPinger(time.Hour, time.Second, func() error {
		pings.Add(1)
		return nil
	}, func(error) {})
	p.Start()
	defer p.Stop()
	go func() {
		for range time.Tick(5 * time.Millisecond) {
			p.NotifyPong()
		}
	}()

	p.SetInterval(20 * time.Millisecond)
	// The in-flight hour-long wait is unaffected; restart to pick it up,
	// the way the session core restarts the pinger on each open.
	p.Stop()
	p.Start()

	time.Sleep(110 * time.Millisecond)
	if got := pings.Load(); got < 2 {
		t.Fatalf("sent %d pings after shrinking the interval, want >= 2", got)
	}
}
