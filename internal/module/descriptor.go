package module

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Descriptor is the static metadata a module ships in its module.yaml.
type Descriptor struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Version     string        `yaml:"version" json:"version"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Author      string        `yaml:"author,omitempty" json:"author,omitempty"`
	Core        bool          `yaml:"core,omitempty" json:"core,omitempty"`
	Requires    []Requirement `yaml:"requires,omitempty" json:"requires,omitempty"`
	Settings    Settings      `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// Requirement declares a dependency on another module.
type Requirement struct {
	ID      string `yaml:"id" json:"id"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

func (r Requirement) String() string {
	if r.Version == "" {
		return r.ID
	}
	return r.ID + " " + r.Version
}

// UnmarshalYAML accepts either a mapping or the short scalar form
// "auth >=1.0.0".
func (r *Requirement) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return r.parseShort(node.Value)
	}
	type plain Requirement
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = Requirement(p)
	return nil
}

// UnmarshalJSON mirrors UnmarshalYAML.
func (r *Requirement) UnmarshalJSON(data []byte) error {
	var short string
	if err := json.Unmarshal(data, &short); err == nil {
		return r.parseShort(short)
	}
	type plain Requirement
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Requirement(p)
	return nil
}

func (r *Requirement) parseShort(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("empty requirement")
	}
	id, constraint, _ := strings.Cut(s, " ")
	r.ID = id
	r.Version = strings.TrimSpace(constraint)
	return nil
}

// ParseDescriptor decodes a descriptor. Files ending in .json are read as
// JSON, everything else as YAML.
func ParseDescriptor(data []byte, filename string) (Descriptor, error) {
	var d Descriptor
	var err error
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		err = json.Unmarshal(data, &d)
	} else {
		err = yaml.Unmarshal(data, &d)
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, filename, err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// MustParseDescriptor is ParseDescriptor for embedded descriptors.
func MustParseDescriptor(data []byte, filename string) Descriptor {
	d, err := ParseDescriptor(data, filename)
	if err != nil {
		panic(err)
	}
	return d
}

// Validate checks identifiers, versions and constraints.
func (d *Descriptor) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidDescriptor, d.ID, fmt.Sprintf(format, args...))
	}

	if !idPattern.MatchString(d.ID) {
		return fmt.Errorf("%w: id %q must match %s", ErrInvalidDescriptor, d.ID, idPattern)
	}
	if strings.TrimSpace(d.Name) == "" {
		d.Name = d.ID
	}
	if !ValidVersion(d.Version) {
		return fail("version %q is not semantic", d.Version)
	}
	d.Version = strings.TrimPrefix(d.Version, "v")

	seen := make(map[string]bool, len(d.Requires))
	for _, req := range d.Requires {
		if !idPattern.MatchString(req.ID) {
			return fail("requirement id %q is invalid", req.ID)
		}
		if req.ID == d.ID {
			return fail("module cannot require itself")
		}
		if seen[req.ID] {
			return fail("requirement %q declared twice", req.ID)
		}
		seen[req.ID] = true
		if _, err := ParseConstraint(req.Version); err != nil {
			return fail("requirement %s: %v", req.ID, err)
		}
	}
	return nil
}

// ValidVersion reports whether v is a semantic version, with or without a
// leading "v".
func ValidVersion(v string) bool {
	return v != "" && semver.IsValid(canonical(v))
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
