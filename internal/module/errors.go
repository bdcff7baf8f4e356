package module

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownModule     = errors.New("unknown module")
	ErrDuplicateModule   = errors.New("module already registered")
	ErrInvalidDescriptor = errors.New("invalid module descriptor")

	ErrMissingDependency = errors.New("missing dependency")
	ErrVersionMismatch   = errors.New("dependency version mismatch")
	ErrDependencyCycle   = errors.New("dependency cycle")

	ErrAlreadyInstalled       = errors.New("module already installed")
	ErrNotInstalled           = errors.New("module not installed")
	ErrCoreModule             = errors.New("core module cannot be removed or disabled")
	ErrHasDependents          = errors.New("module is required by other modules")
	ErrDependencyNotInstalled = errors.New("required module not installed")
	ErrDependencyDisabled     = errors.New("required module disabled")
)

// DependencyError explains why a module cannot be loaded or installed.
type DependencyError struct {
	Module     string
	Dependency string
	Constraint string
	Found      string
	Path       []string
	Err        error
}

func (e *DependencyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s", e.Module)
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, ": %v: %s", e.Err, strings.Join(e.Path, " -> "))
		return b.String()
	}
	if e.Dependency != "" {
		fmt.Fprintf(&b, " requires %s", e.Dependency)
		if e.Constraint != "" {
			fmt.Fprintf(&b, " %s", e.Constraint)
		}
		if e.Found != "" {
			fmt.Fprintf(&b, " (found %s)", e.Found)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DependencyError) Unwrap() error { return e.Err }

// DependentsError lists the modules blocking the removal of Module.
type DependentsError struct {
	Module     string
	Dependents []string
	Err        error
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("module %s: %v: %s", e.Module, e.Err, strings.Join(e.Dependents, ", "))
}

func (e *DependentsError) Unwrap() error { return e.Err }
