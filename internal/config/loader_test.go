package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"restman/internal/profile"
	logx "restman/pkg/logx"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadNative(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "restman.ini", `
[base]
repository = /srv/backups
password = hunter2
env.RESTIC_CACHE_DIR = /var/cache/restic

[nightly]
inherit = base
command = backup
args = /home /etc
schedule = daily 02:30
`)

	reg, err := Load(path, logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// default profile always exists even when undeclared.
	if _, ok := reg.Profiles[DefaultProfile]; !ok {
		t.Fatal("default profile missing")
	}

	p, ok := reg.Profiles["nightly"]
	if !ok {
		t.Fatal("nightly profile missing")
	}
	if got := p.Repository(); got != "/srv/backups" {
		t.Fatalf("Repository = %q (inheritance broken)", got)
	}
	if got := p.GetString("env.RESTIC_CACHE_DIR"); got != "/var/cache/restic" {
		t.Fatalf("env passthrough = %q", got)
	}
	if !p.Runnable() {
		t.Fatal("nightly must be runnable")
	}
	if p.NextRun.IsZero() {
		t.Fatal("schedule must arm NextRun")
	}

	// Only runnable profiles become tasks.
	if len(reg.Tasks) != 1 || reg.Tasks[0].Name != "nightly" {
		t.Fatalf("Tasks = %v", taskNames(reg))
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "restman.yaml", `
base:
  repository: /srv/backups
  password: hunter2
nightly:
  inherit: base
  command: backup
  args: ["/home dir", "/etc"]
`)

	reg, err := Load(path, logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, ok := reg.Profiles["nightly"]
	if !ok {
		t.Fatal("nightly profile missing")
	}
	args := p.Args()
	if len(args) != 2 || args[0] != "/home dir" || args[1] != "/etc" {
		t.Fatalf("Args = %q (quoting lost)", args)
	}
	if p.Repository() != "/srv/backups" {
		t.Fatalf("Repository = %q", p.Repository())
	}
}

func TestLoadUnknownKeySkipped(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "restman.ini", `
[nightly]
command = backup
repository = /srv/backups
no-such-option = boom
`)

	reg, err := Load(path, logx.Nop())
	if err != nil {
		t.Fatalf("unknown key must not be fatal: %v", err)
	}
	p := reg.Profiles["nightly"]
	if p.IsDefined("no-such-option") {
		t.Fatal("rejected key must not be stored")
	}
	if !p.Runnable() {
		t.Fatal("remaining keys must still apply")
	}
}

func TestLoadKeyCasing(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "restman.ini", `
[nightly]
Command = backup
REPOSITORY = /srv/backups
env.MixedCase = kept
`)

	reg, err := Load(path, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p := reg.Profiles["nightly"]
	if cmd := p.Command(); len(cmd) != 1 || cmd[0] != "backup" || p.Repository() != "/srv/backups" {
		t.Fatal("option keys must be case-insensitive")
	}
	if p.GetString("env.MixedCase") != "kept" {
		t.Fatal("env.* keys must keep their case")
	}
}

func TestLoadInheritCycleFails(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "restman.ini", `
[a]
inherit = b

[b]
inherit = a
`)

	_, err := Load(path, logx.Nop())
	if !errors.Is(err, profile.ErrInheritCycle) {
		t.Fatalf("err = %v, want inherit cycle", err)
	}
}

func TestLoadUnknownParentFails(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "restman.ini", `
[nightly]
inherit = ghost
`)

	_, err := Load(path, logx.Nop())
	if !errors.Is(err, profile.ErrUnknownParent) {
		t.Fatalf("err = %v, want unknown parent", err)
	}
}

func TestManagerLoadCommitPublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "restman.ini", `
[nightly]
command = backup
repository = /srv/backups
`)

	m := NewManager(path)
	m.SetLogger(logx.Nop())

	reg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != reg {
		t.Fatal("Get must return the committed registry")
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	reg2, hash, err := m.Parse()
	if err != nil {
		t.Fatal(err)
	}
	m.Commit(reg2, hash)
	m.publish(reg2)

	select {
	case got := <-sub:
		if got != reg2 {
			t.Fatal("subscriber received stale registry")
		}
	case <-time.After(time.Second):
		t.Fatal("publish never reached subscriber")
	}
}

func TestManagerPublishDropsOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	first := &profile.Registry{}
	second := &profile.Registry{}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-sub:
		if got != second {
			t.Fatal("slow subscriber must see the latest registry")
		}
	default:
		t.Fatal("expected a buffered registry")
	}
}

func TestManagerValidatorHook(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "restman.ini", "[a]\ncommand = backup\nrepository = /x\n")
	m := NewManager(path)
	m.SetValidator(func(ctx context.Context, reg *profile.Registry) error {
		return errors.New("nope")
	})
	// The validator only guards Watch-driven reloads; explicit Load bypasses it.
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func taskNames(reg *profile.Registry) []string {
	out := make([]string, 0, len(reg.Tasks))
	for _, p := range reg.Tasks {
		out = append(out, p.Name)
	}
	return out
}
