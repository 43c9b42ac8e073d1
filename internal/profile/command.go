package profile

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BuildCommand renders the resolved profile into an argv vector and the
// environment entries the subprocess needs on top of the parent environment.
//
// Non-empty overrideArgs fully replace the profile's default command+args.
//
// Side effect: LastRun is stamped to now and NextRun cleared, which disables
// re-triggering while the run is outstanding. This happens before the
// subprocess is spawned; a caller whose spawn fails must call SetLastRun to
// put the task back on schedule.
func BuildCommand(p *Profile, overrideArgs []string) (argv []string, env map[string]string) {
	argv = append(argv, p.Executable()...)
	env = map[string]string{}

	// Stable order keeps command lines and log artifacts reproducible.
	keys := make([]string, 0, len(p.props))
	for key := range p.props {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch {
		case strings.HasPrefix(key, "env."):
			env[key[len("env."):]] = p.GetString(key)
		case strings.HasPrefix(key, "flag."):
			argv = append(argv, renderFlag(key[len("flag."):], p.props[key])...)
		}
	}

	if up := p.GetInt("limit-upload"); up > 0 {
		argv = append(argv, fmt.Sprintf("--limit-upload=%d", up))
	}
	if down := p.GetInt("limit-download"); down > 0 {
		argv = append(argv, fmt.Sprintf("--limit-download=%d", down))
	}
	if p.GetInt("limit-upload") > 0 || p.GetInt("limit-download") > 0 {
		env["RCLONE_BWLIMIT"] = bwLimit(p.GetInt("limit-upload")) + ":" + bwLimit(p.GetInt("limit-download"))
	}

	if len(overrideArgs) > 0 {
		argv = append(argv, overrideArgs...)
	} else {
		argv = append(argv, p.Command()...)
		argv = append(argv, p.Args()...)
	}

	p.LastRun = time.Now()
	p.NextRun = time.Time{} // no re-trigger while the run is outstanding

	return argv, env
}

// renderFlag renders single-character names as short flags ("-r") and
// everything else as long flags. Short flags always take their value as a
// separate token.
func renderFlag(name string, value any) []string {
	flag := "--" + name
	short := len(name) == 1
	if short {
		flag = "-" + name
	}
	switch v := value.(type) {
	case bool:
		if v {
			return []string{flag}
		}
		return nil
	case []string:
		var out []string
		for _, item := range v {
			out = append(out, renderFlag(name, item)...)
		}
		return out
	case int64:
		if short {
			return []string{flag, fmt.Sprintf("%d", v)}
		}
		return []string{fmt.Sprintf("%s=%d", flag, v)}
	default:
		s := fmt.Sprint(v)
		if !short && isAlnum(s) {
			return []string{flag + "=" + s}
		}
		return []string{flag, s}
	}
}

func bwLimit(kib int64) string {
	if kib <= 0 {
		return "off"
	}
	return fmt.Sprintf("%d", kib)
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
