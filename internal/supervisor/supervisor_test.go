package supervisor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"restman/internal/profile"
	logx "restman/pkg/logx"
)

func TestNextDuePicksEarliest(t *testing.T) {
	t.Parallel()
	a := testProfile(t, "a", backupKeys())
	b := testProfile(t, "b", backupKeys())
	manual := testProfile(t, "manual", map[string]string{
		"command": "backup", "repository": "/r", "password": "x",
	})
	sup, _, _ := testSupervisor(t, a, b, manual)

	now := time.Now()
	a.NextRun = now.Add(time.Hour)
	b.NextRun = now.Add(time.Minute)
	manual.NextRun = time.Time{}

	p, at := sup.nextDue()
	if p == nil || p.Name != "b" || !at.Equal(b.NextRun) {
		t.Fatalf("nextDue = %v at %s", p, at)
	}
}

func TestNextDueEmpty(t *testing.T) {
	t.Parallel()
	sup := New(Config{}, nil, nil, nil, nil, logx.Nop())
	if p, _ := sup.nextDue(); p != nil {
		t.Fatalf("nextDue on empty supervisor = %v", p)
	}
}

func TestRestoreStateRecentRunCatchesUp(t *testing.T) {
	t.Parallel()
	p := testProfile(t, "nightly", backupKeys())
	sup, _, st := testSupervisor(t, p)

	saved := time.Now().Add(-2 * time.Hour)
	if err := st.MarkFinished("nightly", saved, 0, ""); err != nil {
		t.Fatal(err)
	}

	reg := sup.Registry()
	sup.SetRegistry(reg)

	if !p.LastRun.Equal(saved.Truncate(time.Second)) {
		t.Fatalf("LastRun = %s, want %s", p.LastRun, saved)
	}
	// NextRun must be recomputed from the saved run, not from load time.
	want, ok := scheduleNextFor(p, p.LastRun)
	if !ok || !p.NextRun.Equal(want) {
		t.Fatalf("NextRun = %s, want %s", p.NextRun, want)
	}
}

func TestRestoreStateStaleRunIsDisplayOnly(t *testing.T) {
	t.Parallel()
	p := testProfile(t, "nightly", backupKeys())
	sup, _, st := testSupervisor(t, p)

	fresh := p.NextRun
	saved := time.Now().Add(-10 * 24 * time.Hour)
	if err := st.MarkFinished("nightly", saved, 0, ""); err != nil {
		t.Fatal(err)
	}

	sup.SetRegistry(sup.Registry())

	if p.LastRun.IsZero() {
		t.Fatal("stale LastRun must still be recorded for display")
	}
	if !p.NextRun.Equal(fresh) {
		t.Fatalf("NextRun = %s, stale state must not reschedule (want %s)", p.NextRun, fresh)
	}
}

func TestRestoreStatePrefersImminentFreshSlot(t *testing.T) {
	t.Parallel()
	now := time.Now()
	slot := now.Add(6 * time.Hour)
	keys := backupKeys()
	keys["schedule"] = fmt.Sprintf("daily %02d:%02d", slot.Hour(), slot.Minute())
	p := testProfile(t, "nightly", keys)
	sup, _, st := testSupervisor(t, p)

	// The slot 18 hours before now was missed while the supervisor was
	// down, but the fresh slot is only 6 hours away: run once, not twice.
	saved := now.Add(-22 * time.Hour)
	if err := st.MarkFinished("nightly", saved, 0, ""); err != nil {
		t.Fatal(err)
	}
	sup.SetRegistry(sup.Registry())

	if !p.LastRun.Equal(saved.Truncate(time.Second)) {
		t.Fatalf("LastRun = %s, want %s", p.LastRun, saved)
	}
	if !p.NextRun.After(now) {
		t.Fatalf("NextRun = %s, missed slot must yield to the imminent fresh one", p.NextRun)
	}
}

func TestRestoreStateDistantFreshSlotStillCatchesUp(t *testing.T) {
	t.Parallel()
	now := time.Now()
	slot := now.Add(18 * time.Hour)
	keys := backupKeys()
	keys["schedule"] = fmt.Sprintf("daily %02d:%02d", slot.Hour(), slot.Minute())
	p := testProfile(t, "nightly", keys)
	sup, _, st := testSupervisor(t, p)

	// Fresh slot is 18 hours out, so the slot missed 6 hours ago fires now.
	saved := now.Add(-22 * time.Hour)
	if err := st.MarkFinished("nightly", saved, 0, ""); err != nil {
		t.Fatal(err)
	}
	sup.SetRegistry(sup.Registry())

	if p.NextRun.After(now) {
		t.Fatalf("NextRun = %s, missed slot must stay pending when the fresh one is far", p.NextRun)
	}
}

func TestStatusSorted(t *testing.T) {
	t.Parallel()
	b := testProfile(t, "beta", backupKeys())
	a := testProfile(t, "alpha", backupKeys())
	sup, _, _ := testSupervisor(t, b, a)

	st := sup.Status()
	if len(st) != 2 || st[0].Name != "alpha" || st[1].Name != "beta" {
		t.Fatalf("Status = %+v", st)
	}
	if st[0].Schedule != "daily 02:00" || st[0].Running {
		t.Fatalf("status fields = %+v", st[0])
	}
	if st[0].Repository != "/srv/repo" {
		t.Fatalf("Repository = %q, status must carry the repository locator", st[0].Repository)
	}
}

func TestLoopRunsDueTaskAndStops(t *testing.T) {
	t.Parallel()
	p := testProfile(t, "nightly", backupKeys())
	sup, proc, _ := testSupervisor(t, p)

	ran := make(chan struct{}, 1)
	proc.script = func(call int, argv []string, emit func(string)) (int, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return 0, nil
	}
	p.NextRun = time.Now().Add(-time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Loop(ctx) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("due task never ran")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Loop returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Loop did not stop on cancel")
	}

	// The run must have re-armed the schedule into the future.
	if p.NextRun.IsZero() || p.NextRun.Before(time.Now().Add(-time.Minute)) {
		t.Fatalf("NextRun = %s after scheduled run", p.NextRun)
	}
}

func TestSetRegistryWakesLoop(t *testing.T) {
	t.Parallel()
	p := testProfile(t, "nightly", backupKeys())
	sup, _, _ := testSupervisor(t, p)

	sup.SetRegistry(sup.Registry())
	select {
	case <-sup.wake:
	default:
		t.Fatal("SetRegistry must poke the loop")
	}
}

func scheduleNextFor(p *profile.Profile, from time.Time) (time.Time, bool) {
	cp := profile.New("probe")
	if err := cp.Set("schedule", p.Schedule()); err != nil {
		return time.Time{}, false
	}
	cp.SetLastRun(from)
	return cp.NextRun, true
}
