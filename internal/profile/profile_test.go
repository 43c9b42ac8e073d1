package profile

import (
	"testing"
	"time"
)

func TestSetCoercion(t *testing.T) {
	t.Parallel()
	p := New("test")

	if err := p.Set("command", "backup /home/user"); err != nil {
		t.Fatalf("Set command: %v", err)
	}
	if got := p.Command(); len(got) != 2 || got[0] != "backup" || got[1] != "/home/user" {
		t.Fatalf("Command() = %v", got)
	}

	if err := p.Set("command", `backup "/home/user/My Documents"`); err != nil {
		t.Fatalf("Set quoted command: %v", err)
	}
	if got := p.Command(); len(got) != 2 || got[1] != "/home/user/My Documents" {
		t.Fatalf("quoted Command() = %v", got)
	}

	if err := p.Set("notifications", "off"); err != nil {
		t.Fatalf("Set notifications: %v", err)
	}
	if p.Notifications() {
		t.Fatal("notifications should coerce 'off' to false")
	}
	for _, truthy := range []string{"true", "on", "yes", "1"} {
		if err := p.Set("notifications", truthy); err != nil {
			t.Fatal(err)
		}
		if !p.Notifications() {
			t.Fatalf("notifications %q should be true", truthy)
		}
	}

	if err := p.Set("verbose", "2"); err != nil {
		t.Fatalf("Set verbose: %v", err)
	}
	if p.GetInt("verbose") != 2 {
		t.Fatalf("verbose = %d", p.GetInt("verbose"))
	}

	if err := p.Set("limit-upload", "512"); err != nil {
		t.Fatal(err)
	}
	if p.GetInt("limit-upload") != 512 {
		t.Fatalf("bare size = %d, want 512 (KiB passthrough)", p.GetInt("limit-upload"))
	}
	if err := p.Set("limit-download", "2MiB"); err != nil {
		t.Fatal(err)
	}
	if p.GetInt("limit-download") != 2048 {
		t.Fatalf("human size = %d KiB, want 2048", p.GetInt("limit-download"))
	}
}

func TestSetUnknownKeyRejected(t *testing.T) {
	t.Parallel()
	p := New("test")
	if err := p.Set("no-such-option", "x"); err == nil {
		t.Fatal("expected error for unknown key")
	}
	// Raw destinations pass through.
	if err := p.Set("env.RESTIC_COMPRESSION", "max"); err != nil {
		t.Fatalf("env passthrough: %v", err)
	}
	if err := p.Set("flag.tag", "nightly"); err != nil {
		t.Fatalf("flag passthrough: %v", err)
	}
}

func TestDefaultsAndDefined(t *testing.T) {
	t.Parallel()
	p := New("test")
	if p.Description() != "no description" {
		t.Fatalf("Description default = %q", p.Description())
	}
	if !p.Notifications() {
		t.Fatal("notifications should default to true")
	}
	if got := p.Executable(); len(got) != 1 || got[0] != "restic" {
		t.Fatalf("executable default = %v", got)
	}
	if p.IsDefined("description") {
		t.Fatal("default must not count as defined")
	}
	if err := p.Set("description", "nightly backup"); err != nil {
		t.Fatal(err)
	}
	if !p.IsDefined("description") {
		t.Fatal("explicit set must count as defined")
	}
}

func TestRemapReadsThroughAlias(t *testing.T) {
	t.Parallel()
	p := New("test")
	if err := p.Set("repository", "/tmp/repo"); err != nil {
		t.Fatal(err)
	}
	if p.GetString("repository") != "/tmp/repo" {
		t.Fatal("alias read failed")
	}
	if p.GetString("flag.r") != "/tmp/repo" {
		t.Fatal("destination read failed")
	}
}

func TestRunnable(t *testing.T) {
	t.Parallel()
	p := New("test")
	if p.Runnable() {
		t.Fatal("empty profile must not be runnable")
	}
	_ = p.Set("command", "backup /home")
	if p.Runnable() {
		t.Fatal("command without repository must not be runnable")
	}
	_ = p.Set("repository-file", "/etc/restman/repo")
	if !p.Runnable() {
		t.Fatal("command + repository-file must be runnable")
	}
	if p.Repository() != "/etc/restman/repo" {
		t.Fatalf("Repository() = %q", p.Repository())
	}
}

func TestSetLastRunReschedules(t *testing.T) {
	t.Parallel()
	p := New("test")
	_ = p.Set("schedule", "daily 08:00")
	last := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	p.SetLastRun(last)
	if !p.LastRun.Equal(last) {
		t.Fatalf("LastRun = %s", p.LastRun)
	}
	want := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	if !p.NextRun.Equal(want) {
		t.Fatalf("NextRun = %s, want %s", p.NextRun, want)
	}
	if !p.Pending(want) || p.Pending(want.Add(-time.Minute)) {
		t.Fatal("Pending threshold wrong")
	}
}
