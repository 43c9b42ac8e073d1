package profile

import (
	"sort"
	"time"

	"restman/internal/schedule"
)

// Registry is one fully resolved profile set, replaced wholesale on every
// configuration (re)load. Tasks is the runnable subset in name order.
type Registry struct {
	Profiles map[string]*Profile
	Tasks    []*Profile
}

// NewRegistry resolves inheritance, arms every schedule, and collects the
// runnable tasks. Resolution errors are fatal: no registry is produced.
func NewRegistry(profiles map[string]*Profile) (*Registry, error) {
	if err := Resolve(profiles); err != nil {
		return nil, err
	}
	now := time.Now()
	r := &Registry{Profiles: profiles}
	for _, p := range profiles {
		// A schedule merged from a parent bypasses Set, so arm it here.
		if p.NextRun.IsZero() {
			p.NextRun, _ = schedule.Next(p.Schedule(), now)
		}
		if p.Runnable() {
			r.Tasks = append(r.Tasks, p)
		}
	}
	sort.Slice(r.Tasks, func(i, j int) bool { return r.Tasks[i].Name < r.Tasks[j].Name })
	return r, nil
}

// Task returns the runnable profile with the given name, or nil.
func (r *Registry) Task(name string) *Profile {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}
