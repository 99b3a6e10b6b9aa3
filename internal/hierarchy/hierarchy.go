// Package hierarchy loads class hierarchies declared in YAML files and turns
// them into class descriptors whose constructors and destructors record the
// order they are invoked in.
//
// A declaration file looks like:
//
//	version: 1.0.0
//	classes:
//	  - name: A
//	    construct: true
//	  - name: B
//	    parent: A
//	    destruct: true
//
// Classes without a parent derive from class.Object.
package hierarchy

import (
	"os"
	"unsafe"

	semver "github.com/Masterminds/semver/v3"
	cerr "github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/orizon-lang/classrt/internal/class"
)

// SupportedVersions is the constraint a declaration file version must meet.
const SupportedVersions = "^1.0.0"

var (
	ErrIncompatibleVersion = cerr.New("incompatible declaration version")
	ErrDuplicateClass      = cerr.New("duplicate class")
	ErrUnknownParent       = cerr.New("unknown parent class")
	ErrCycle               = cerr.New("cyclic parent chain")
	ErrInvalidClass        = cerr.New("invalid class declaration")
)

var supported = semver.MustParse("1.0.0")

// File is the YAML form of a declaration file.
type File struct {
	Version string `yaml:"version"`
	Classes []Decl `yaml:"classes"`
}

// Decl declares one class.
type Decl struct {
	Name      string  `yaml:"name"`
	Parent    string  `yaml:"parent,omitempty"`
	Construct bool    `yaml:"construct,omitempty"`
	Destruct  bool    `yaml:"destruct,omitempty"`
	Size      uintptr `yaml:"size,omitempty"`
}

// Hierarchy is a loaded set of class descriptors.
type Hierarchy struct {
	Version *semver.Version
	Classes []*class.Class // declaration order

	byName map[string]*class.Class
}

// Trace is the instance type of declared classes: every constructor and
// destructor appends its class name to Calls.
type Trace struct {
	Calls []string
}

// Load reads and parses the declaration file at path.
func Load(path string) (*Hierarchy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.Wrapf(err, "read %s", path)
	}
	h, err := Parse(data)
	if err != nil {
		return nil, cerr.Wrapf(err, "load %s", path)
	}
	return h, nil
}

// Parse builds a hierarchy from YAML declarations.
func Parse(data []byte) (*Hierarchy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, cerr.Wrap(err, "decode declarations")
	}
	return Build(f)
}

// Build validates f and creates its class descriptors.
func Build(f File) (*Hierarchy, error) {
	v, err := checkVersion(f.Version)
	if err != nil {
		return nil, err
	}

	h := &Hierarchy{
		Version: v,
		Classes: make([]*class.Class, 0, len(f.Classes)),
		byName:  map[string]*class.Class{class.Object.Name: class.Object},
	}

	for _, d := range f.Classes {
		if d.Name == "" {
			return nil, cerr.Wrap(ErrInvalidClass, "class without a name")
		}
		if _, exists := h.byName[d.Name]; exists {
			return nil, cerr.Wrapf(ErrDuplicateClass, "%q", d.Name)
		}
		c := &class.Class{Name: d.Name, Size: d.Size}
		if c.Size == 0 {
			c.Size = unsafe.Sizeof(Trace{})
		}
		if d.Construct {
			c.Construct = record(d.Name + ".ctor")
		}
		if d.Destruct {
			c.Destruct = record(d.Name + ".dtor")
		}
		h.byName[d.Name] = c
		h.Classes = append(h.Classes, c)
	}

	// Parents may be declared after their children.
	for i, d := range f.Classes {
		if d.Parent == "" {
			h.Classes[i].Parent = class.Object
			continue
		}
		parent, ok := h.byName[d.Parent]
		if !ok {
			return nil, cerr.WithHintf(cerr.Wrapf(ErrUnknownParent, "%q (parent of %q)", d.Parent, d.Name),
				"declare %q in the same file", d.Parent)
		}
		h.Classes[i].Parent = parent
	}

	for _, c := range h.Classes {
		if err := checkAcyclic(c, len(h.Classes)); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func checkVersion(raw string) (*semver.Version, error) {
	if raw == "" {
		return nil, cerr.Wrap(ErrIncompatibleVersion, "missing version")
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, cerr.Mark(cerr.Wrapf(err, "version %q", raw), ErrIncompatibleVersion)
	}
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return nil, err
	}
	if !c.Check(v) {
		return nil, cerr.WithHintf(cerr.Wrapf(ErrIncompatibleVersion, "version %s", v),
			"this build reads declaration versions %s (newest %s)", SupportedVersions, supported)
	}
	return v, nil
}

// checkAcyclic walks at most n+1 parents from c; a longer walk must revisit
// a class.
func checkAcyclic(c *class.Class, n int) error {
	steps := 0
	for p := c; p != nil; p = p.Parent {
		if steps > n+1 {
			return cerr.Wrapf(ErrCycle, "starting at %q", c.Name)
		}
		steps++
	}
	return nil
}

func record(call string) func(unsafe.Pointer) {
	return func(obj unsafe.Pointer) {
		if obj == nil {
			return
		}
		t := (*Trace)(obj)
		t.Calls = append(t.Calls, call)
	}
}

// Lookup returns the class declared as name. "Object" resolves to the root
// object class.
func (h *Hierarchy) Lookup(name string) (*class.Class, bool) {
	c, ok := h.byName[name]
	return c, ok
}

// ConstructOrder runs the construct chain of c on a fresh Trace and returns
// the calls. c must be initialized.
func ConstructOrder(c *class.Class) []string {
	var t Trace
	c.RunConstructors(unsafe.Pointer(&t))
	return t.Calls
}

// DestructOrder runs the destruct chain of c on a fresh Trace and returns the
// calls. c must be initialized.
func DestructOrder(c *class.Class) []string {
	var t Trace
	c.RunDestructors(unsafe.Pointer(&t))
	return t.Calls
}
