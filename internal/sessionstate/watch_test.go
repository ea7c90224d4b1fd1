package sessionstate

import (
	"context"
	"testing"
	"time"
)

func TestWatchReportsChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st, _ := newTestState(t, 0)

	snaps := make(chan Snapshot, 16)
	done := make(chan error, 1)
	go func() {
		done <- st.Watch(ctx, 10*time.Millisecond, func(s Snapshot) { snaps <- s })
	}()

	first := waitSnapshot(t, snaps, func(Snapshot) bool { return true })
	if first.Active || first.Safety != "normal" || first.Tier != "1" {
		t.Fatalf("initial snapshot = %+v", first)
	}

	if err := st.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	waitSnapshot(t, snaps, func(s Snapshot) bool { return s.Active && s.StartedAt != nil })

	if err := st.TripKillSwitch(context.Background()); err != nil {
		t.Fatalf("TripKillSwitch() error = %v", err)
	}
	waitSnapshot(t, snaps, func(s Snapshot) bool {
		return s.KillSwitch && s.Safety == "kill_switch" && !s.Active
	})

	// No change, no callback.
	select {
	case s := <-snaps:
		t.Fatalf("unexpected snapshot without change: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

// waitSnapshot drains ch until a snapshot satisfies match. Writers touch
// several keys, so intermediate snapshots may be observed first.
func waitSnapshot(t *testing.T, ch <-chan Snapshot, match func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return Snapshot{}
		}
	}
}
