// Package featureflag toggles optional engine behaviors at startup.
package featureflag

import (
	"sort"
	"strings"
)

// FeatureFlag is the set of flags enabled for a process.
type FeatureFlag map[Flag]struct{}

// New returns the feature flags matching the given names. Names are
// trimmed and upper cased, empty ones are ignored.
func New(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag)
	for _, f := range flags {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		featureFlag[Flag(f)] = struct{}{}
	}
	return featureFlag
}

func (f FeatureFlag) IsSet(flag Flag) bool {
	_, ok := f[flag]
	return ok
}

// IfSet runs do when flag is set.
func (f FeatureFlag) IfSet(flag Flag, do func()) {
	if !f.IsSet(flag) {
		return
	}
	do()
}

// IfNotSet runs do when flag is not set.
func (f FeatureFlag) IfNotSet(flag Flag, do func()) {
	if f.IsSet(flag) {
		return
	}
	do()
}

// List returns the enabled flags in ascending order.
func (f FeatureFlag) List() []string {
	res := make([]string, 0, len(f))
	for flag := range f {
		res = append(res, string(flag))
	}
	sort.Strings(res)
	return res
}
