// Package profile holds the profile data model: a typed property bag per
// named profile, inheritance resolution between profiles, and the command
// builder that turns a resolved profile into a restic argv + environment.
package profile

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	shellquote "github.com/kballard/go-shellquote"

	"restman/internal/schedule"
)

// Profile is one named configuration unit. Only explicitly set keys live in
// props; defaults are resolved on Get. LastRun/NextRun are maintained through
// BuildCommand and SetLastRun (zero means unset).
type Profile struct {
	Name string

	// Inherit is the ordered list of pending parents, consumed by Resolve.
	Inherit []string

	LastRun time.Time
	NextRun time.Time

	props   map[string]any
	parents []string // resolved lineage, for diagnostics
}

func New(name string) *Profile {
	return &Profile{Name: name, props: map[string]any{}}
}

// Set coerces value according to the option table and stores it under the
// key's remap destination. Unknown keys return an error (strict policy).
func (p *Profile) Set(key string, value any) error {
	if key == "inherit" {
		list, err := toList(value)
		if err != nil {
			return fmt.Errorf("profile %s: inherit: %w", p.Name, err)
		}
		p.Inherit = list
		return nil
	}
	if !Known(key) {
		return fmt.Errorf("profile %s: unknown option %q", p.Name, key)
	}
	storage := storageKey(key)

	v, err := coerce(types[storage], value)
	if err != nil {
		return fmt.Errorf("profile %s: option %q: %w", p.Name, key, err)
	}
	p.props[storage] = v

	if storage == "schedule" {
		p.NextRun, _ = schedule.Next(p.Schedule(), time.Now())
	}
	return nil
}

// Get resolves key through the remap table and falls back to the table
// default when the profile (and its ancestors, post-resolution) never set it.
func (p *Profile) Get(key string) any {
	storage := storageKey(key)
	if v, ok := p.props[storage]; ok {
		return v
	}
	return defaults[storage]
}

// IsDefined reports whether key was explicitly set on this profile (or
// merged from a parent), as opposed to coming from a table default.
func (p *Profile) IsDefined(key string) bool {
	_, ok := p.props[storageKey(key)]
	return ok
}

func (p *Profile) GetString(key string) string {
	switch v := p.Get(key).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (p *Profile) GetList(key string) []string {
	if v, ok := p.Get(key).([]string); ok {
		return v
	}
	return nil
}

func (p *Profile) GetBool(key string) bool {
	v, _ := p.Get(key).(bool)
	return v
}

func (p *Profile) GetInt(key string) int64 {
	v, _ := p.Get(key).(int64)
	return v
}

func (p *Profile) Description() string { return p.GetString("description") }
func (p *Profile) Schedule() string    { return p.GetString("schedule") }
func (p *Profile) Executable() []string {
	return p.GetList("executable")
}
func (p *Profile) Command() []string { return p.GetList("command") }
func (p *Profile) Args() []string    { return p.GetList("args") }

// Notifications reports whether runs of this profile should notify.
func (p *Profile) Notifications() bool { return p.GetBool("notifications") }

// Repository returns whichever repository locator the profile carries.
func (p *Profile) Repository() string {
	if r := p.GetString("repository"); r != "" {
		return r
	}
	return p.GetString("repository-file")
}

// Runnable profiles have a default command and a repository locator; only
// those participate in scheduling.
func (p *Profile) Runnable() bool {
	return len(p.Command()) > 0 && p.Repository() != ""
}

// Parents returns the resolved ancestor lineage (closest first).
func (p *Profile) Parents() []string {
	return append([]string(nil), p.parents...)
}

// SetLastRun stamps the completed run time and recomputes the next
// occurrence from it.
func (p *Profile) SetLastRun(t time.Time) {
	if t.IsZero() {
		t = time.Now()
	}
	p.LastRun = t
	p.NextRun, _ = schedule.Next(p.Schedule(), t)
}

// Pending reports whether the profile is due at now.
func (p *Profile) Pending(now time.Time) bool {
	return !p.NextRun.IsZero() && !p.NextRun.After(now)
}

// inheritFrom copies every property the (fully resolved) parent defines and
// the child does not. Copies are independent: list values are cloned.
func (p *Profile) inheritFrom(parent *Profile) {
	for key, value := range parent.props {
		if _, defined := p.props[key]; defined {
			continue
		}
		if list, ok := value.([]string); ok {
			value = append([]string(nil), list...)
		}
		p.props[key] = value
	}
	p.parents = append(p.parents, parent.Name)
	p.parents = append(p.parents, parent.parents...)
}

func coerce(t Type, value any) (any, error) {
	switch t {
	case TypeList:
		return toList(value)
	case TypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		default:
			s := fmt.Sprint(value)
			return s == "true" || s == "on" || s == "yes" || s == "1", nil
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		default:
			n, err := strconv.ParseInt(fmt.Sprint(value), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("not an integer: %v", value)
			}
			return n, nil
		}
	case TypeSize:
		return toSize(value)
	default:
		return fmt.Sprint(value), nil
	}
}

func toList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case string:
		parts, err := shellquote.Split(v)
		if err != nil {
			return nil, fmt.Errorf("bad list value %q: %w", v, err)
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("not a list: %v", value)
	}
}

// toSize returns kibibytes. A bare number is taken as KiB already (restic's
// --limit-* unit); anything else goes through a human size parser.
func toSize(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	}
	s := fmt.Sprint(value)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	b, err := humanize.ParseBytes(s)
	if err != nil {
		return nil, fmt.Errorf("bad size %q: %w", s, err)
	}
	return int64(b / 1024), nil
}
