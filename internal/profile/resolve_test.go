package profile

import (
	"errors"
	"testing"
)

func mustSet(t *testing.T, p *Profile, key string, value any) {
	t.Helper()
	if err := p.Set(key, value); err != nil {
		t.Fatalf("Set(%s): %v", key, err)
	}
}

func TestResolveChain(t *testing.T) {
	t.Parallel()
	base := New("base")
	mustSet(t, base, "repository", "/srv/repo")
	mustSet(t, base, "password", "hunter2")

	mid := New("mid")
	mid.Inherit = []string{"base"}
	mustSet(t, mid, "schedule", "daily 03:00")

	leaf := New("leaf")
	leaf.Inherit = []string{"mid"}
	mustSet(t, leaf, "command", "backup /home")

	profiles := map[string]*Profile{"base": base, "mid": mid, "leaf": leaf}
	if err := Resolve(profiles); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if leaf.GetString("repository") != "/srv/repo" {
		t.Fatal("leaf should inherit repository transitively")
	}
	if leaf.Schedule() != "daily 03:00" {
		t.Fatal("leaf should inherit schedule from mid")
	}
	if got := leaf.Parents(); len(got) != 2 || got[0] != "mid" || got[1] != "base" {
		t.Fatalf("Parents() = %v", got)
	}
	if len(leaf.Inherit) != 0 {
		t.Fatal("inherit list must be consumed")
	}
}

func TestResolveChildWins(t *testing.T) {
	t.Parallel()
	parent := New("parent")
	mustSet(t, parent, "repository", "/srv/parent")
	mustSet(t, parent, "verbose", 1)

	child := New("child")
	child.Inherit = []string{"parent"}
	mustSet(t, child, "repository", "/srv/child")

	profiles := map[string]*Profile{"parent": parent, "child": child}
	if err := Resolve(profiles); err != nil {
		t.Fatal(err)
	}
	if child.GetString("repository") != "/srv/child" {
		t.Fatal("explicitly set child value must survive inheritance")
	}
	if child.GetInt("verbose") != 1 {
		t.Fatal("unset child key must come from parent")
	}
}

func TestResolveCopiesAreIndependent(t *testing.T) {
	t.Parallel()
	parent := New("parent")
	mustSet(t, parent, "args", "--tag nightly")

	child := New("child")
	child.Inherit = []string{"parent"}

	if err := Resolve(map[string]*Profile{"parent": parent, "child": child}); err != nil {
		t.Fatal(err)
	}
	child.Args()[0] = "mutated"
	if parent.Args()[0] != "--tag" {
		t.Fatal("child mutation leaked into parent")
	}
}

func TestResolveIdempotent(t *testing.T) {
	t.Parallel()
	a := New("a")
	mustSet(t, a, "repository", "/srv/a")
	b := New("b")
	b.Inherit = []string{"a"}

	profiles := map[string]*Profile{"a": a, "b": b}
	if err := Resolve(profiles); err != nil {
		t.Fatal(err)
	}
	before := b.GetString("repository")
	if err := Resolve(profiles); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if b.GetString("repository") != before {
		t.Fatal("second Resolve changed state")
	}
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	t.Run("unknown parent", func(t *testing.T) {
		child := New("child")
		child.Inherit = []string{"ghost"}
		err := Resolve(map[string]*Profile{"child": child})
		if !errors.Is(err, ErrUnknownParent) {
			t.Fatalf("err = %v, want ErrUnknownParent", err)
		}
	})

	t.Run("self inherit", func(t *testing.T) {
		p := New("selfish")
		p.Inherit = []string{"selfish"}
		err := Resolve(map[string]*Profile{"selfish": p})
		if !errors.Is(err, ErrSelfInherit) {
			t.Fatalf("err = %v, want ErrSelfInherit", err)
		}
	})

	t.Run("two profile cycle", func(t *testing.T) {
		a := New("a")
		a.Inherit = []string{"b"}
		b := New("b")
		b.Inherit = []string{"a"}
		err := Resolve(map[string]*Profile{"a": a, "b": b})
		if !errors.Is(err, ErrInheritCycle) {
			t.Fatalf("err = %v, want ErrInheritCycle", err)
		}
	})
}

func TestNewRegistryCollectsTasks(t *testing.T) {
	t.Parallel()
	runnable := New("nightly")
	mustSet(t, runnable, "repository", "/srv/repo")
	mustSet(t, runnable, "command", "backup /home")

	manual := New("tools")
	mustSet(t, manual, "repository", "/srv/repo")

	reg, err := NewRegistry(map[string]*Profile{"nightly": runnable, "tools": manual})
	if err != nil {
		t.Fatal(err)
	}
	if len(reg.Tasks) != 1 || reg.Tasks[0].Name != "nightly" {
		t.Fatalf("Tasks = %v", reg.Tasks)
	}
	if reg.Task("tools") != nil {
		t.Fatal("manual profile must not be a task")
	}
}

func TestNewRegistryArmsInheritedSchedule(t *testing.T) {
	t.Parallel()
	parent := New("parent")
	mustSet(t, parent, "repository", "/srv/repo")
	mustSet(t, parent, "schedule", "daily 02:00")

	leaf := New("leaf")
	leaf.Inherit = []string{"parent"}
	mustSet(t, leaf, "command", "backup /home")

	reg, err := NewRegistry(map[string]*Profile{"parent": parent, "leaf": leaf})
	if err != nil {
		t.Fatal(err)
	}
	p := reg.Task("leaf")
	if p == nil {
		t.Fatal("leaf must be a runnable task")
	}
	if p.Schedule() != "daily 02:00" {
		t.Fatalf("Schedule = %q", p.Schedule())
	}
	// The schedule arrived via inheritance, never through Set, so the
	// registry must arm it or the task would sit unscheduled forever.
	if p.NextRun.IsZero() {
		t.Fatal("inherited schedule must arm NextRun")
	}
}

func TestNewRegistryRejectsCycles(t *testing.T) {
	t.Parallel()
	a := New("a")
	a.Inherit = []string{"b"}
	b := New("b")
	b.Inherit = []string{"a"}
	if _, err := NewRegistry(map[string]*Profile{"a": a, "b": b}); err == nil {
		t.Fatal("expected cycle error, got registry")
	}
}
