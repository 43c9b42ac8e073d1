package config

import (
	"fmt"
	"sort"

	shellquote "github.com/kballard/go-shellquote"
	yaml "gopkg.in/yaml.v3"
)

// yamlSections coerces a two-level YAML mapping (profile -> key -> value)
// into the same section list the native format produces, so both formats
// share one loading path.
func yamlSections(data []byte) ([]section, error) {
	var root map[string]map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}

	names := make([]string, 0, len(root))
	for name := range root {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]section, 0, len(root))
	for _, name := range names {
		s := section{name: name}
		keys := make([]string, 0, len(root[name]))
		for k := range root[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s.keys = append(s.keys, [2]string{k, yamlScalar(root[name][k])})
		}
		out = append(out, s)
	}
	return out, nil
}

// yamlScalar renders a YAML value the way the native format would spell it.
// Lists become shell-quoted tokens (list-typed options split them right
// back, spaces intact); everything else stringifies.
func yamlScalar(v any) string {
	switch x := v.(type) {
	case []any:
		items := make([]string, len(x))
		for i, item := range x {
			items[i] = fmt.Sprint(item)
		}
		return shellquote.Join(items...)
	default:
		return fmt.Sprint(v)
	}
}
