package vm

import "fmt"

// Obj is the common interface of every heap object. The eight variants —
// String, Function, Native, Closure, Upvalue, Class, Instance and
// BoundMethod — each embed objHeader, which carries the GC mark bit and the
// next pointer threading every live object onto the heap's sweep list.
//
// Code that handles every variant does so through type switches in three
// places: blacken, free and objString. Each constructor in heap.go also
// charges its own per-variant size estimate. Adding a variant means
// extending each of those switches and giving it a constructor.
type Obj interface {
	header() *objHeader
}

// objHeader is the shared object header. It is embedded, not referenced, so
// every variant carries its mark bit and sweep link inline.
type objHeader struct {
	marked bool
	size   int
	next   Obj
}

func (h *objHeader) header() *objHeader { return h }

// String is an immutable, interned string. Two strings with equal contents
// are the same object, so identity comparison doubles as content
// comparison. Hash is the precomputed FNV-1a hash of Chars.
type String struct {
	objHeader
	Chars string
	Hash  uint32
}

// Function is a compiled function prototype: its bytecode chunk, arity, and
// the number of upvalues closures over it will capture. Immutable once
// compilation finishes. Name is nil for the top-level script.
type Function struct {
	objHeader
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Name         *String
}

// NativeFn is the signature of a built-in function. It receives the
// arguments still in place on the VM stack.
type NativeFn func(args []Value) Value

// Native wraps a Go function callable from the language. Arity is metadata
// only; the VM does not check it.
type Native struct {
	objHeader
	Arity    int
	Function NativeFn
}

// Upvalue is a heap cell for a captured variable. While the variable's
// stack slot is live the upvalue is open: Location points into the VM stack
// and Slot is the stack index. When the slot is about to die the upvalue is
// closed: the value migrates into Closed, Location is repointed at it, and
// Slot becomes -1. Next links the VM's open-upvalue list, sorted by Slot
// descending.
type Upvalue struct {
	objHeader
	Location *Value
	Closed   Value
	Next     *Upvalue
	Slot     int
}

// Closure pairs a function prototype with the upvalues it captured.
type Closure struct {
	objHeader
	Function *Function
	Upvalues []*Upvalue
}

// Class is a runtime class: a name and a method table mapping interned
// method names to closures.
type Class struct {
	objHeader
	Name    *String
	Methods Table
}

// Instance is an object of some class with its own field table.
type Instance struct {
	objHeader
	Class  *Class
	Fields Table
}

// BoundMethod pairs a receiver with a method closure so the method can be
// called later with `this` already bound.
type BoundMethod struct {
	objHeader
	Receiver Value
	Method   *Closure
}

// objString renders an object the way the print statement does.
func objString(o Obj) string {
	switch obj := o.(type) {
	case *String:
		return obj.Chars
	case *Function:
		return functionName(obj)
	case *Native:
		return "<native fn>"
	case *Closure:
		return functionName(obj.Function)
	case *Upvalue:
		return "upvalue"
	case *Class:
		return obj.Name.Chars
	case *Instance:
		return fmt.Sprintf("%s instance", obj.Class.Name.Chars)
	case *BoundMethod:
		return functionName(obj.Method.Function)
	default:
		return "unknown object"
	}
}

func functionName(fn *Function) string {
	if fn.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", fn.Name.Chars)
}

// hashString computes the 32-bit FNV-1a hash of a string.
func hashString(chars string) uint32 {
	hash := uint32(2166136261)
	for i := 0; i < len(chars); i++ {
		hash ^= uint32(chars[i])
		hash *= 16777619
	}
	return hash
}
