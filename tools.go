//go:build tools
// +build tools

// Package tools tracks the code generators used by go:generate so go.mod keeps them.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
