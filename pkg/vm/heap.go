package vm

import (
	"fmt"
	"io"
)

// RootSource supplies GC roots. The VM is one (its stack, frames, globals,
// open upvalues and reserved strings); the compiler registers itself as
// another while a compilation is in flight so half-built functions survive
// collections triggered by their own allocations.
type RootSource interface {
	MarkRoots(mark func(Obj))
}

// initialGCThreshold is the allocation volume that triggers the first
// collection.
const initialGCThreshold = 1024 * 1024

// Heap owns every object the interpreter allocates. All allocation funnels
// through it so the collector's accounting stays correct and the trigger
// stays centralized: each constructor charges an estimated size before the
// object is created, and a growing heap runs a collection before the new
// object exists.
//
// The collector is a stop-the-world tri-color mark-sweep. objects is the
// singly linked sweep list threaded through every object header; strings is
// the intern set, which is weak — it never keeps a string alive, and
// entries whose keys die are removed before the sweep so the set never
// dangles.
type Heap struct {
	objects        Obj
	strings        Table
	bytesAllocated int
	nextGC         int
	grayStack      []Obj
	roots          []RootSource
	protected      []Value

	stress bool
	log    bool
	logW   io.Writer
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		nextGC: initialGCThreshold,
		logW:   io.Discard,
	}
}

// AddRoots registers a root source for the duration of its work.
func (h *Heap) AddRoots(rs RootSource) {
	h.roots = append(h.roots, rs)
}

// RemoveRoots unregisters a previously added root source.
func (h *Heap) RemoveRoots(rs RootSource) {
	for i, existing := range h.roots {
		if existing == rs {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// Protect roots a value that is alive but not yet reachable from any root
// source, spanning the window between its creation and its attachment to
// the object graph. Pair with Unprotect.
func (h *Heap) Protect(v Value) {
	h.protected = append(h.protected, v)
}

// Unprotect drops the most recently protected value.
func (h *Heap) Unprotect() {
	h.protected = h.protected[:len(h.protected)-1]
}

// BytesAllocated returns the heap's current accounted size.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// allocate charges size bytes against the heap, collecting first if the
// heap has grown past its threshold (or always, in stress mode). It runs
// before the object is created so a collection can never see it half-built.
func (h *Heap) allocate(size int) {
	if h.stress || h.bytesAllocated+size > h.nextGC {
		h.CollectGarbage()
	}
	h.bytesAllocated += size
}

// adopt threads a freshly created object onto the sweep list.
func (h *Heap) adopt(o Obj, size int) {
	hdr := o.header()
	hdr.size = size
	hdr.next = h.objects
	h.objects = o
}

// Intern returns the canonical String for chars, creating and interning it
// if no equal string exists yet.
func (h *Heap) Intern(chars string) *String {
	hash := hashString(chars)
	if interned := h.strings.FindString(chars, hash); interned != nil {
		return interned
	}
	size := 40 + len(chars)
	h.allocate(size)
	s := &String{Chars: chars, Hash: hash}
	h.adopt(s, size)
	// Rooting s is unnecessary here: Set cannot trigger a collection.
	h.strings.Set(s, NilValue())
	return s
}

// NewFunction creates a blank function prototype for the compiler to fill.
func (h *Heap) NewFunction() *Function {
	const size = 128
	h.allocate(size)
	fn := &Function{}
	h.adopt(fn, size)
	return fn
}

// NewNative wraps a Go function.
func (h *Heap) NewNative(arity int, fn NativeFn) *Native {
	const size = 48
	h.allocate(size)
	native := &Native{Arity: arity, Function: fn}
	h.adopt(native, size)
	return native
}

// NewClosure creates a closure over fn with room for its upvalues.
func (h *Heap) NewClosure(fn *Function) *Closure {
	size := 48 + 8*fn.UpvalueCount
	h.allocate(size)
	closure := &Closure{
		Function: fn,
		Upvalues: make([]*Upvalue, fn.UpvalueCount),
	}
	h.adopt(closure, size)
	return closure
}

// NewUpvalue creates an open upvalue pointing at a live stack slot.
func (h *Heap) NewUpvalue(slot int, location *Value) *Upvalue {
	const size = 64
	h.allocate(size)
	uv := &Upvalue{Location: location, Slot: slot}
	h.adopt(uv, size)
	return uv
}

// NewClass creates a class with an empty method table.
func (h *Heap) NewClass(name *String) *Class {
	const size = 96
	h.allocate(size)
	class := &Class{Name: name}
	h.adopt(class, size)
	return class
}

// NewInstance creates an instance with an empty field table.
func (h *Heap) NewInstance(class *Class) *Instance {
	const size = 72
	h.allocate(size)
	instance := &Instance{Class: class}
	h.adopt(instance, size)
	return instance
}

// NewBoundMethod pairs a receiver with a method closure.
func (h *Heap) NewBoundMethod(receiver Value, method *Closure) *BoundMethod {
	const size = 56
	h.allocate(size)
	bound := &BoundMethod{Receiver: receiver, Method: method}
	h.adopt(bound, size)
	return bound
}

// CollectGarbage runs a full stop-the-world collection: mark every root,
// trace the gray stack to a fixpoint, drop dead interned strings, then
// sweep the object list.
func (h *Heap) CollectGarbage() {
	if h.log {
		fmt.Fprintln(h.logW, "-- gc begin")
	}
	before := h.bytesAllocated

	h.markRoots()
	h.traceReferences()
	h.removeWhiteStrings()
	h.sweep()

	h.nextGC = h.bytesAllocated * 2

	if h.log {
		fmt.Fprintf(h.logW, "-- gc end: collected %d bytes (from %d to %d) next at %d\n",
			before-h.bytesAllocated, before, h.bytesAllocated, h.nextGC)
	}
}

func (h *Heap) markRoots() {
	for _, rs := range h.roots {
		rs.MarkRoots(h.markObject)
	}
	for _, v := range h.protected {
		h.markValue(v)
	}
}

// markObject colors an object gray: sets its mark bit and queues it for
// tracing. Idempotent, and a nil object is a no-op.
func (h *Heap) markObject(o Obj) {
	if o == nil {
		return
	}
	hdr := o.header()
	if hdr.marked {
		return
	}
	hdr.marked = true
	h.grayStack = append(h.grayStack, o)
}

func (h *Heap) markValue(v Value) {
	if v.IsObj() {
		h.markObject(v.AsObj())
	}
}

func (h *Heap) markTable(t *Table) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.key != nil {
			h.markObject(entry.key)
		}
		h.markValue(entry.value)
	}
}

func (h *Heap) traceReferences() {
	for len(h.grayStack) > 0 {
		o := h.grayStack[len(h.grayStack)-1]
		h.grayStack = h.grayStack[:len(h.grayStack)-1]
		h.blacken(o)
	}
}

// blacken marks everything an object references. Strings and natives have
// no outgoing references.
func (h *Heap) blacken(o Obj) {
	switch obj := o.(type) {
	case *BoundMethod:
		h.markValue(obj.Receiver)
		h.markObject(obj.Method)
	case *Class:
		h.markObject(obj.Name)
		h.markTable(&obj.Methods)
	case *Closure:
		h.markObject(obj.Function)
		for _, uv := range obj.Upvalues {
			if uv != nil {
				h.markObject(uv)
			}
		}
	case *Function:
		if obj.Name != nil {
			h.markObject(obj.Name)
		}
		for _, constant := range obj.Chunk.Constants {
			h.markValue(constant)
		}
	case *Instance:
		h.markObject(obj.Class)
		h.markTable(&obj.Fields)
	case *Upvalue:
		// Closed holds the captured value once the upvalue closes; while
		// open it is nil, so marking it is safe either way.
		h.markValue(obj.Closed)
	}
}

// removeWhiteStrings deletes intern-set entries whose keys were not marked,
// before the sweep frees them.
func (h *Heap) removeWhiteStrings() {
	for i := range h.strings.entries {
		entry := &h.strings.entries[i]
		if entry.key != nil && !entry.key.marked {
			h.strings.Delete(entry.key)
		}
	}
}

// sweep walks the object list, unlinking and freeing every unmarked object
// and clearing the mark bit on survivors.
func (h *Heap) sweep() {
	var previous Obj
	object := h.objects
	for object != nil {
		hdr := object.header()
		if hdr.marked {
			hdr.marked = false
			previous = object
			object = hdr.next
			continue
		}

		unreached := object
		object = hdr.next
		if previous != nil {
			previous.header().next = object
		} else {
			h.objects = object
		}
		h.free(unreached)
	}
}

// free releases an object's owned storage and returns its bytes to the
// accounting. The Go runtime reclaims the memory itself once the object is
// unlinked; dropping the references here severs the dead object's hold on
// the rest of the graph.
func (h *Heap) free(o Obj) {
	h.bytesAllocated -= o.header().size
	switch obj := o.(type) {
	case *String:
		obj.Chars = ""
	case *Function:
		obj.Chunk = Chunk{}
		obj.Name = nil
	case *Native:
		obj.Function = nil
	case *Closure:
		obj.Upvalues = nil
	case *Upvalue:
		obj.Location = nil
		obj.Next = nil
	case *Class:
		obj.Methods = Table{}
	case *Instance:
		obj.Fields = Table{}
	case *BoundMethod:
		obj.Method = nil
	}
	o.header().next = nil
}
