// Package state defines the lifecycle status of a CMS module as seen by the
// kernel. A status is derived from persisted install state and from what the
// last rebuild managed to load.
package state

import (
	"encoding/json"
	"fmt"
)

// Status is the runtime status of a module.
type Status int32

const (
	// StatusUnknown is the zero value.
	StatusUnknown Status = iota

	// StatusAvailable means the module is in the catalog but not installed.
	StatusAvailable

	// StatusDisabled means the module is installed but switched off.
	StatusDisabled

	// StatusSkipped means the module is enabled but could not be loaded,
	// usually because a requirement is missing or a route conflicts.
	StatusSkipped

	// StatusLoaded means routes and hooks are mounted.
	StatusLoaded

	// StatusStarting means Start is running.
	StatusStarting

	// StatusRunning means Start returned without error.
	StatusRunning

	// StatusStopping means Stop is running.
	StatusStopping

	// StatusStopped means Stop completed.
	StatusStopped

	// StatusFailed means construction, Start or Stop returned an error.
	StatusFailed
)

var names = map[Status]string{
	StatusUnknown:   "unknown",
	StatusAvailable: "available",
	StatusDisabled:  "disabled",
	StatusSkipped:   "skipped",
	StatusLoaded:    "loaded",
	StatusStarting:  "starting",
	StatusRunning:   "running",
	StatusStopping:  "stopping",
	StatusStopped:   "stopped",
	StatusFailed:    "failed",
}

func (s Status) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", s)
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseStatus(str)
	return nil
}

// ParseStatus converts a string to Status. Unrecognized input maps to
// StatusUnknown.
func ParseStatus(s string) Status {
	for st, n := range names {
		if n == s {
			return st
		}
	}
	switch s {
	case "active", "started":
		return StatusRunning
	case "uninstalled":
		return StatusAvailable
	}
	return StatusUnknown
}

// IsActive reports whether the module currently contributes routes and hooks.
func (s Status) IsActive() bool {
	switch s {
	case StatusLoaded, StatusStarting, StatusRunning:
		return true
	}
	return false
}

// IsHealthy reports whether the module is in a non-error state.
func (s Status) IsHealthy() bool {
	return s != StatusFailed && s != StatusSkipped && s != StatusUnknown
}

// ValidTransitions defines allowed status changes.
var ValidTransitions = map[Status][]Status{
	StatusUnknown:   {StatusAvailable, StatusDisabled, StatusLoaded, StatusSkipped},
	StatusAvailable: {StatusLoaded, StatusDisabled, StatusSkipped},
	StatusDisabled:  {StatusLoaded, StatusSkipped, StatusAvailable},
	StatusSkipped:   {StatusLoaded, StatusDisabled, StatusAvailable, StatusSkipped},
	StatusLoaded:    {StatusStarting, StatusDisabled, StatusSkipped, StatusAvailable, StatusFailed},
	StatusStarting:  {StatusRunning, StatusFailed},
	StatusRunning:   {StatusStopping, StatusFailed},
	StatusStopping:  {StatusStopped, StatusFailed},
	StatusStopped:   {StatusLoaded, StatusStarting, StatusDisabled, StatusSkipped, StatusAvailable},
	StatusFailed:    {StatusLoaded, StatusStarting, StatusStopping, StatusDisabled, StatusSkipped, StatusAvailable},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned for a disallowed status change.
type TransitionError struct {
	Module string
	From   Status
	To     Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("module %s: invalid state transition: %s -> %s", e.Module, e.From, e.To)
}
