package profile

import "strings"

// Type is the coercion rule applied to raw option values.
type Type int

const (
	TypeString Type = iota
	TypeList
	TypeBool
	TypeInt
	// TypeSize accepts a plain number (kibibytes, as restic's limit flags
	// expect) or a human size like "2.5MB", stored as kibibytes.
	TypeSize
)

// Option describes one recognized profile key.
//
// Remap names where the value ends up when a command is built:
//   - "flag.<name>": rendered as a --<name> CLI flag
//   - "env.<NAME>":  exported as environment variable <NAME>
//   - "":            plain profile field, not forwarded to restic
type Option struct {
	Key     string
	Type    Type
	Remap   string
	Default any
}

// Options is the full set of recognized profile keys. The table is static:
// lookups go through keymap/types/defaults built below, and call sites
// branch on Type/Remap rather than on runtime reflection.
var Options = []Option{
	{Key: "inherit", Type: TypeList},
	{Key: "description", Type: TypeString, Default: "no description"},
	{Key: "repository", Type: TypeString, Remap: "flag.r"},
	{Key: "repository-file", Type: TypeString, Remap: "flag.repository-file"},
	{Key: "password", Type: TypeString, Remap: "env.RESTIC_PASSWORD"},
	{Key: "password-command", Type: TypeString, Remap: "env.RESTIC_PASSWORD_COMMAND"},
	{Key: "password-file", Type: TypeString, Remap: "env.RESTIC_PASSWORD_FILE"},
	{Key: "executable", Type: TypeList, Default: []string{"restic"}},
	{Key: "command", Type: TypeList},
	{Key: "args", Type: TypeList},
	{Key: "schedule", Type: TypeString},
	{Key: "notifications", Type: TypeBool, Default: true},
	{Key: "limit-upload", Type: TypeSize},
	{Key: "limit-download", Type: TypeSize},
	{Key: "verbose", Type: TypeInt, Remap: "flag.verbose"},
	{Key: "no-cache", Type: TypeBool, Remap: "flag.no-cache"},
	{Key: "no-lock", Type: TypeBool, Remap: "flag.no-lock"},
	{Key: "option", Type: TypeList, Remap: "flag.option"},
	{Key: "cache-dir", Type: TypeString, Remap: "env.RESTIC_CACHE_DIR"},
	{Key: "key-hint", Type: TypeString, Remap: "env.RESTIC_KEY_HINT"},
}

var (
	keymap   = map[string]string{} // user key -> storage key
	types    = map[string]Type{}   // storage key -> type
	defaults = map[string]any{}    // storage key -> default
)

func init() {
	for _, o := range Options {
		storage := o.Remap
		if storage == "" {
			storage = o.Key
		}
		keymap[o.Key] = storage
		types[storage] = o.Type
		defaults[storage] = o.Default
	}
}

// storageKey resolves a user-facing key through the remap table. Raw
// "flag.*" and "env.*" keys pass through untouched so profiles can forward
// options the table doesn't model.
func storageKey(key string) string {
	if s, ok := keymap[key]; ok {
		return s
	}
	return key
}

// Known reports whether key is in the recognized set (directly, via remap
// destination, or as a raw flag./env. passthrough).
func Known(key string) bool {
	if _, ok := keymap[key]; ok {
		return true
	}
	if _, ok := types[key]; ok {
		return true
	}
	return hasDestPrefix(key)
}

func hasDestPrefix(key string) bool {
	return (strings.HasPrefix(key, "flag.") && len(key) > len("flag.")) ||
		(strings.HasPrefix(key, "env.") && len(key) > len("env."))
}
