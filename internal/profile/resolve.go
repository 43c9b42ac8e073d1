package profile

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownParent = errors.New("unknown parent profile")
	ErrSelfInherit   = errors.New("profile inherits from itself")
	ErrInheritCycle  = errors.New("cyclic profile inheritance")
)

// Resolve merges parent profiles into children until no profile has a
// pending Inherit entry. A parent is only merged once it is itself fully
// resolved, so resolution proceeds as a fixed-point iteration; more passes
// than profiles means a cycle. All three failure modes are fatal and name
// the offending profile.
//
// Resolving an already-resolved set is a no-op.
func Resolve(profiles map[string]*Profile) error {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for pass := 0; pass <= len(profiles); pass++ {
		pending := false
		for _, name := range names {
			p := profiles[name]
			if len(p.Inherit) == 0 {
				continue
			}
			pending = true

			// Consume as many parents as are currently resolvable so that
			// the pass cap depends on chain depth, not inherit list length.
			for len(p.Inherit) > 0 {
				parentName := p.Inherit[0]
				parent, ok := profiles[parentName]
				if !ok {
					return fmt.Errorf("profile %s: %w: %s", name, ErrUnknownParent, parentName)
				}
				if parentName == p.Name {
					return fmt.Errorf("profile %s: %w", name, ErrSelfInherit)
				}
				if len(parent.Inherit) > 0 {
					// Parent not resolved yet; pick it up on a later pass.
					break
				}
				p.inheritFrom(parent)
				p.Inherit = p.Inherit[1:]
			}
		}
		if !pending {
			return nil
		}
	}
	return fmt.Errorf("%w involving %s", ErrInheritCycle, firstPending(names, profiles))
}

func firstPending(names []string, profiles map[string]*Profile) string {
	for _, name := range names {
		if len(profiles[name].Inherit) > 0 {
			return name
		}
	}
	return "?"
}
