// Package class implements lazily initialized class descriptors for the
// object system. A Class declares its parent and optional per-level
// constructor and destructor; a Registry computes, once per epoch, the full
// construct chain (base first) and destruct chain (derived first) and keeps
// track of every chain it built so they can be released together.
package class

import (
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/classrt/internal/allocator"
)

// Constructor initializes the part of an instance owned by one class level.
type Constructor func(obj unsafe.Pointer)

// Destructor tears down the part of an instance owned by one class level.
type Destructor func(obj unsafe.Pointer)

// Class describes one class of the object system. Name, Parent, Construct,
// Destruct and Size are declared by the caller and must not change once the
// class has been initialized. The remaining state is written only by a
// Registry, under its lock.
//
// A Class belongs to the first Registry that initializes it and must not be
// used with another. It must not be copied after first use.
type Class struct {
	Name      string      // diagnostic only
	Parent    *Class      // nil for a root class; the chain must be acyclic
	Construct Constructor // nil when this level has no constructor
	Destruct  Destructor  // nil when this level has no destructor
	Size      uintptr     // instance size, opaque to the registry

	preinitialized bool
	stamp          atomic.Uint32 // epoch of the last initialization, 0 = never
	depth          int
	chains         *chainBlock
}

// Object is the root of the object system. It has no parent, constructor or
// destructor and is permanently initialized, independent of any epoch.
var Object = &Class{
	Name:           "Object",
	preinitialized: true,
	depth:          1,
}

// Chains of a class with no constructors or destructors at all.
var (
	terminatorOnlyConstruct = []Constructor{nil}
	terminatorOnlyDestruct  = []Destructor{nil}
)

// chainBlock holds both call chains of one class. The registry accounts and
// releases the block as a unit.
type chainBlock struct {
	owner     *Class
	handle    allocator.Handle
	construct []Constructor // root first, nil terminated
	destruct  []Destructor  // leaf first, nil terminated
}

// slotSize is the accounted size of one chain entry.
const slotSize = unsafe.Sizeof(Constructor(nil))

// IsPreinitialized reports whether c is initialized outside the epoch
// mechanism.
func (c *Class) IsPreinitialized() bool { return c.preinitialized }

// Stamp returns the epoch c was last initialized in, or 0 if it never was.
func (c *Class) Stamp() uint32 { return c.stamp.Load() }

// Depth returns the number of classes from c up to its root, inclusive. It is
// 0 until c has been initialized and again after its chains are released.
func (c *Class) Depth() int { return c.depth }

// ConstructChain returns the constructors of c ordered from the root class
// down to c, followed by a nil terminator. It returns nil while c has no
// computed chains. The returned slice is shared and must not be modified.
func (c *Class) ConstructChain() []Constructor {
	if c.preinitialized {
		return terminatorOnlyConstruct
	}
	if c.chains == nil {
		return nil
	}
	return c.chains.construct
}

// DestructChain returns the destructors of c ordered from c up to the root
// class, followed by a nil terminator. It returns nil while c has no computed
// chains. The returned slice is shared and must not be modified.
func (c *Class) DestructChain() []Destructor {
	if c.preinitialized {
		return terminatorOnlyDestruct
	}
	if c.chains == nil {
		return nil
	}
	return c.chains.destruct
}

// RunConstructors invokes the construct chain on obj, stopping at the
// terminator. c must be initialized.
func (c *Class) RunConstructors(obj unsafe.Pointer) {
	for _, fn := range c.ConstructChain() {
		if fn == nil {
			return
		}
		fn(obj)
	}
}

// RunDestructors invokes the destruct chain on obj, stopping at the
// terminator. c must be initialized.
func (c *Class) RunDestructors(obj unsafe.Pointer) {
	for _, fn := range c.DestructChain() {
		if fn == nil {
			return
		}
		fn(obj)
	}
}

// String returns the class name.
func (c *Class) String() string {
	if c == nil {
		return "<nil>"
	}
	return c.Name
}
