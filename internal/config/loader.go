// Package config loads profile configuration and watches it for changes.
//
// The native format is a section-based key/value file (one section per
// profile); a .yaml/.yml file with the same two-level shape is accepted as
// an alternative. Loading produces a fully resolved profile.Registry or a
// fatal error; unknown keys are rejected with a warning and skipped.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ini "gopkg.in/ini.v1"

	"restman/internal/profile"
	"restman/internal/schedule"
	logx "restman/pkg/logx"
)

// DefaultProfile always exists so every other profile has a common root to
// inherit from, even when the config file doesn't declare it.
const DefaultProfile = "default"

type section struct {
	name string
	keys [][2]string
}

// Load reads, parses and resolves the configuration at path.
func Load(path string, log logx.Logger) (*profile.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(path, data, log)
}

func parse(path string, data []byte, log logx.Logger) (*profile.Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		sections []section
		err      error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		sections, err = yamlSections(data)
	default:
		sections, err = iniSections(data)
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	profiles := map[string]*profile.Profile{
		DefaultProfile: profile.New(DefaultProfile),
	}
	for _, sec := range sections {
		p, ok := profiles[sec.name]
		if !ok {
			p = profile.New(sec.name)
			profiles[sec.name] = p
		}
		for _, kv := range sec.keys {
			// Option keys are case-insensitive, but env.* keys keep their
			// case: environment variable names are case-sensitive.
			key := kv[0]
			if !strings.HasPrefix(key, "env.") {
				key = strings.ToLower(key)
			}
			if err := p.Set(key, kv[1]); err != nil {
				log.Warn("option rejected", logx.String("profile", sec.name),
					logx.String("key", kv[0]), logx.Err(err))
			}
		}
		if !schedule.Valid(p.Schedule()) {
			log.Warn("schedule has no recognized token; profile is manual-only",
				logx.String("profile", sec.name), logx.String("schedule", p.Schedule()))
		}
	}

	return profile.NewRegistry(profiles)
}

func iniSections(data []byte) ([]section, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, err
	}
	var out []section
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection && len(sec.Keys()) == 0 {
			continue
		}
		name := sec.Name()
		if name == ini.DefaultSection {
			name = DefaultProfile
		}
		s := section{name: name}
		for _, key := range sec.Keys() {
			s.keys = append(s.keys, [2]string{key.Name(), key.String()})
		}
		out = append(out, s)
	}
	return out, nil
}
