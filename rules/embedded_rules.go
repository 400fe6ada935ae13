package rules

import (
	_ "embed"
)

// DefaultRules holds the content of rules.yaml, baked into the binary.
//
//go:embed rules.yaml
var DefaultRules []byte
