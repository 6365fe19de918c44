// Package patch applies ordered transforms to binary modules and reports
// the outcome per module.
package patch

import (
	"errors"
	"fmt"

	"repatch/internal/module"
)

var (
	ErrDuplicateTransform = errors.New("patch: duplicate transform name")
	ErrTransformOrder     = errors.New("patch: transform depends on a later or unknown transform")
	ErrRequiredMissing    = errors.New("patch: required module missing")
	ErrNoBaseDir          = errors.New("patch: base directory not found")
)

// Transform is one named modification. Apply reports whether it changed the
// module. After lists transforms that must run before this one.
type Transform struct {
	Name  string
	After []string
	Apply func(m *module.Module) (bool, error)
}

// ValidateOrder checks that names are unique and that every dependency is
// declared before the transform that needs it.
func ValidateOrder(transforms []Transform) error {
	seen := make(map[string]bool, len(transforms))
	for _, t := range transforms {
		if t.Name == "" {
			return fmt.Errorf("patch: transform without a name")
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateTransform, t.Name)
		}
		for _, dep := range t.After {
			if !seen[dep] {
				return fmt.Errorf("%w: %s after %s", ErrTransformOrder, t.Name, dep)
			}
		}
		seen[t.Name] = true
	}
	return nil
}

// Names returns the transform names in declared order.
func Names(transforms []Transform) []string {
	names := make([]string, len(transforms))
	for i, t := range transforms {
		names[i] = t.Name
	}
	return names
}
