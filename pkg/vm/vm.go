// Package vm implements the runtime half of clox: the value and object
// model, the bytecode chunk format, the garbage-collected heap, and the
// stack-based virtual machine that executes compiled chunks.
//
// The VM is the final stage in the execution pipeline:
//
//	Source Code -> Scanner -> Compiler -> Chunk -> VM -> Output
//
// Execution Model:
//
// The machine is register-less. Every frame of the call stack owns a window
// of the shared value stack, with the callee in slot zero followed by its
// parameters and locals. Instructions pop operands off the stack top and
// push results back:
//
//	Source: print 1 + 2;
//
//	Bytecode:
//	  CONSTANT 0      ; push 1
//	  CONSTANT 1      ; push 2
//	  ADD             ; pop both, push 3
//	  PRINT           ; pop and print
//	  NIL             ; implicit return value
//	  RETURN
//
// Closures capture variables through upvalue cells. While a captured
// variable's frame is live, its upvalue points into the stack and sees
// every assignment; when the frame unwinds, the value migrates into the
// cell, so the closure keeps the variable alive after its frame dies.
//
// Classes hold method tables populated at class-declaration time.
// Inheritance copies the superclass's methods into the subclass up front,
// so method dispatch is a single table lookup with no chain walk.
//
// A runtime error carries a stack trace, resets the machine, and unwinds to
// the caller of Interpret; the VM survives and can run another program,
// which is how the REPL keeps one machine across lines.
package vm

import (
	"fmt"
	"io"
	"os"
	"time"
)

const (
	// FramesMax bounds the call-frame depth.
	FramesMax = 64
	// StackMax bounds the value stack: 256 slots per frame.
	StackMax = FramesMax * 256
)

// CallFrame is one active function call: the closure being executed, the
// instruction pointer within its chunk, and the stack index of its slot
// window. Slot zero of the window holds the callee itself.
type CallFrame struct {
	closure *Closure
	ip      int
	slots   int
}

// VM is the virtual machine. It owns the value stack, the call stack, the
// global bindings, the open-upvalue list and the heap. One VM is one
// isolated interpreter; globals persist across Interpret calls.
type VM struct {
	frames     [FramesMax]CallFrame
	frameCount int

	stack    [StackMax]Value
	stackTop int

	heap         *Heap
	globals      Table
	openUpvalues *Upvalue
	initString   *String

	out    io.Writer
	errOut io.Writer
	trace  bool

	started time.Time
}

// Option configures a VM at construction.
type Option func(*VM)

// WithOutput directs the print statement's output. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithErrorOutput directs trace and GC log output. Defaults to stderr.
func WithErrorOutput(w io.Writer) Option {
	return func(vm *VM) { vm.errOut = w }
}

// WithTraceExecution makes the VM dump the stack and disassemble each
// instruction as it executes.
func WithTraceExecution() Option {
	return func(vm *VM) { vm.trace = true }
}

// WithStressGC makes the heap collect on every allocation, flushing out
// objects that were reachable only by luck.
func WithStressGC() Option {
	return func(vm *VM) { vm.heap.stress = true }
}

// WithGCLog logs each collection's begin, end and byte counts to the error
// output.
func WithGCLog() Option {
	return func(vm *VM) { vm.heap.log = true }
}

// New creates a VM with a fresh heap, registers it as a GC root source,
// interns the reserved "init" string, and installs the built-in natives.
func New(opts ...Option) *VM {
	vm := &VM{
		heap:    NewHeap(),
		out:     os.Stdout,
		errOut:  os.Stderr,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.heap.logW = vm.errOut
	vm.heap.AddRoots(vm)
	vm.initString = vm.heap.Intern("init")

	vm.DefineNative("clock", 0, func(args []Value) Value {
		return NumberValue(time.Since(vm.started).Seconds())
	})
	return vm
}

// Heap returns the VM's heap, shared with the compiler so compiled code and
// the running program agree on interned strings.
func (vm *VM) Heap() *Heap { return vm.heap }

// DefineNative binds a built-in function as a global. The name string and
// the native are protected across the table insert in case it collects.
func (vm *VM) DefineNative(name string, arity int, fn NativeFn) {
	nameStr := vm.heap.Intern(name)
	vm.heap.Protect(ObjValue(nameStr))
	native := vm.heap.NewNative(arity, fn)
	vm.heap.Protect(ObjValue(native))
	vm.globals.Set(nameStr, ObjValue(native))
	vm.heap.Unprotect()
	vm.heap.Unprotect()
}

// MarkRoots marks every object the VM can reach without going through
// another object: the value stack, each frame's closure, the open-upvalue
// list, the globals table, and the reserved "init" string.
func (vm *VM) MarkRoots(mark func(Obj)) {
	for i := 0; i < vm.stackTop; i++ {
		if vm.stack[i].IsObj() {
			mark(vm.stack[i].AsObj())
		}
	}
	for i := 0; i < vm.frameCount; i++ {
		mark(vm.frames[i].closure)
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.Next {
		mark(uv)
	}
	for i := range vm.globals.entries {
		entry := &vm.globals.entries[i]
		if entry.key != nil {
			mark(entry.key)
		}
		if entry.value.IsObj() {
			mark(entry.value.AsObj())
		}
	}
	if vm.initString != nil {
		mark(vm.initString)
	}
}

// Interpret wraps a compiled top-level function in a closure, calls it, and
// runs the machine to completion. The returned error, if any, is a
// *RuntimeError carrying the stack trace.
func (vm *VM) Interpret(fn *Function) error {
	// The function is unrooted until it reaches the stack; push it before
	// the closure allocation can trigger a collection.
	vm.push(ObjValue(fn))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(ObjValue(closure))
	vm.call(closure, 0)

	if err := vm.run(); err != nil {
		vm.resetStack()
		return err
	}
	return nil
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) push(v Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.stackTop-1-distance]
}

// runtimeError builds a RuntimeError from the live call stack, innermost
// frame first.
func (vm *VM) runtimeError(format string, args ...interface{}) *RuntimeError {
	trace := make([]TraceFrame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		name := ""
		if fn.Name != nil {
			name = fn.Name.Chars
		}
		trace = append(trace, TraceFrame{
			Line:     fn.Chunk.GetLine(frame.ip - 1),
			Function: name,
		})
	}
	return &RuntimeError{
		Message: fmt.Sprintf(format, args...),
		Trace:   trace,
	}
}

// call pushes a frame for a closure invocation after checking arity and
// frame depth. The frame's window starts at the callee slot.
func (vm *VM) call(closure *Closure, argCount int) *RuntimeError {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("expected %d arguments but got %d",
			closure.Function.Arity, argCount)
	}
	if vm.frameCount == FramesMax {
		return vm.runtimeError("stack overflow")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
	return nil
}

// callValue dispatches a call on any value: closures and bound methods push
// frames, classes instantiate, natives run inline, everything else is an
// error.
func (vm *VM) callValue(callee Value, argCount int) *RuntimeError {
	if callee.IsObj() {
		switch obj := callee.AsObj().(type) {
		case *BoundMethod:
			vm.stack[vm.stackTop-argCount-1] = obj.Receiver
			return vm.call(obj.Method, argCount)
		case *Class:
			vm.stack[vm.stackTop-argCount-1] = ObjValue(vm.heap.NewInstance(obj))
			if initializer, ok := obj.Methods.Get(vm.initString); ok {
				return vm.call(initializer.AsObj().(*Closure), argCount)
			}
			if argCount != 0 {
				return vm.runtimeError("expected 0 arguments but got %d", argCount)
			}
			return nil
		case *Closure:
			return vm.call(obj, argCount)
		case *Native:
			// Native arity is metadata only and goes unchecked.
			result := obj.Function(vm.stack[vm.stackTop-argCount : vm.stackTop])
			vm.stackTop -= argCount + 1
			vm.push(result)
			return nil
		}
	}
	return vm.runtimeError("can only call functions and classes")
}

// invokeFromClass calls a method looked up on a class, skipping the bound
// method allocation of the slow property path.
func (vm *VM) invokeFromClass(class *Class, name *String, argCount int) *RuntimeError {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("undefined property '%s'", name.Chars)
	}
	return vm.call(method.AsObj().(*Closure), argCount)
}

// invoke handles OpInvoke: a field holding a callable shadows a method of
// the same name, otherwise the method is called directly on the receiver's
// class.
func (vm *VM) invoke(name *String, argCount int) *RuntimeError {
	receiver := vm.peek(argCount)
	instance, ok := receiverInstance(receiver)
	if !ok {
		return vm.runtimeError("only instances have methods")
	}
	if field, found := instance.Fields.Get(name); found {
		vm.stack[vm.stackTop-argCount-1] = field
		return vm.callValue(field, argCount)
	}
	return vm.invokeFromClass(instance.Class, name, argCount)
}

func receiverInstance(v Value) (*Instance, bool) {
	if !v.IsObj() {
		return nil, false
	}
	instance, ok := v.AsObj().(*Instance)
	return instance, ok
}

// bindMethod replaces the instance on the stack top with a bound method
// pairing it with the named method of class.
func (vm *VM) bindMethod(class *Class, name *String) *RuntimeError {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("undefined property '%s'", name.Chars)
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method.AsObj().(*Closure))
	vm.pop()
	vm.push(ObjValue(bound))
	return nil
}

// captureUpvalue returns the open upvalue for a stack slot, creating and
// inserting it into the sorted open list if the slot is not yet captured.
// The list is ordered by slot descending so the walk can stop early.
func (vm *VM) captureUpvalue(slot int) *Upvalue {
	var prev *Upvalue
	uv := vm.openUpvalues
	for uv != nil && uv.Slot > slot {
		prev = uv
		uv = uv.Next
	}
	if uv != nil && uv.Slot == slot {
		return uv
	}

	created := vm.heap.NewUpvalue(slot, &vm.stack[slot])
	created.Next = uv
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given stack slot:
// the captured value moves into the cell and the cell leaves the open list.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= last {
		uv := vm.openUpvalues
		uv.Closed = *uv.Location
		uv.Location = &uv.Closed
		uv.Slot = -1
		vm.openUpvalues = uv.Next
		uv.Next = nil
	}
}

// concatenate joins the two strings on the stack top. The operands stay on
// the stack until the result exists so a collection triggered by the intern
// cannot free them.
func (vm *VM) concatenate() {
	b := vm.peek(0).AsString()
	a := vm.peek(1).AsString()
	result := vm.heap.Intern(a.Chars + b.Chars)
	vm.pop()
	vm.pop()
	vm.push(ObjValue(result))
}

// run is the fetch-decode-execute loop.
func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		hi := frame.closure.Function.Chunk.Code[frame.ip]
		lo := frame.closure.Function.Chunk.Code[frame.ip+1]
		frame.ip += 2
		return int(hi)<<8 | int(lo)
	}
	readConstant := func() Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *String {
		return readConstant().AsString()
	}

	for {
		if vm.trace {
			fmt.Fprintf(vm.errOut, "          ")
			for i := 0; i < vm.stackTop; i++ {
				fmt.Fprintf(vm.errOut, "[ %s ]", vm.stack[i])
			}
			fmt.Fprintln(vm.errOut)
			DisassembleInstruction(vm.errOut, &frame.closure.Function.Chunk, frame.ip)
		}

		switch Opcode(readByte()) {
		case OpConstant:
			vm.push(readConstant())

		case OpNil:
			vm.push(NilValue())

		case OpTrue:
			vm.push(BoolValue(true))

		case OpFalse:
			vm.push(BoolValue(false))

		case OpPop:
			vm.pop()

		case OpGetLocal:
			slot := int(readByte())
			vm.push(vm.stack[frame.slots+slot])

		case OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.slots+slot] = vm.peek(0)

		case OpGetGlobal:
			name := readString()
			value, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError("undefined variable '%s'", name.Chars)
			}
			vm.push(value)

		case OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case OpSetGlobal:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				// The failed assignment just inserted the name; delete the
				// entry so the table stays consistent.
				vm.globals.Delete(name)
				return vm.runtimeError("undefined variable '%s'", name.Chars)
			}

		case OpGetUpvalue:
			slot := int(readByte())
			vm.push(*frame.closure.Upvalues[slot].Location)

		case OpSetUpvalue:
			slot := int(readByte())
			*frame.closure.Upvalues[slot].Location = vm.peek(0)

		case OpGetProperty:
			instance, ok := receiverInstance(vm.peek(0))
			if !ok {
				return vm.runtimeError("only instances have properties")
			}
			name := readString()
			if value, found := instance.Fields.Get(name); found {
				vm.pop()
				vm.push(value)
				break
			}
			if err := vm.bindMethod(instance.Class, name); err != nil {
				return err
			}

		case OpSetProperty:
			instance, ok := receiverInstance(vm.peek(1))
			if !ok {
				return vm.runtimeError("only instances have fields")
			}
			instance.Fields.Set(readString(), vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)

		case OpGetSuper:
			name := readString()
			superclass := vm.pop().AsObj().(*Class)
			if err := vm.bindMethod(superclass, name); err != nil {
				return err
			}

		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(BoolValue(a.Equals(b)))

		case OpGreater:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("operands must be numbers")
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(BoolValue(a > b))

		case OpLess:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("operands must be numbers")
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(BoolValue(a < b))

		case OpAdd:
			if vm.peek(0).IsString() && vm.peek(1).IsString() {
				vm.concatenate()
			} else if vm.peek(0).IsNumber() && vm.peek(1).IsNumber() {
				b := vm.pop().AsNumber()
				a := vm.pop().AsNumber()
				vm.push(NumberValue(a + b))
			} else {
				return vm.runtimeError("operands must be two numbers or two strings")
			}

		case OpSubtract:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("operands must be numbers")
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(NumberValue(a - b))

		case OpMultiply:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("operands must be numbers")
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(NumberValue(a * b))

		case OpDivide:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("operands must be numbers")
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(NumberValue(a / b))

		case OpNot:
			vm.push(BoolValue(vm.pop().IsFalsey()))

		case OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("operand must be a number")
			}
			vm.push(NumberValue(-vm.pop().AsNumber()))

		case OpPrint:
			fmt.Fprintln(vm.out, vm.pop())

		case OpJump:
			offset := readShort()
			frame.ip += offset

		case OpJumpIfFalse:
			offset := readShort()
			if vm.peek(0).IsFalsey() {
				frame.ip += offset
			}

		case OpLoop:
			offset := readShort()
			frame.ip -= offset

		case OpCall:
			argCount := int(readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpInvoke:
			name := readString()
			argCount := int(readByte())
			if err := vm.invoke(name, argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpSuperInvoke:
			name := readString()
			argCount := int(readByte())
			superclass := vm.pop().AsObj().(*Class)
			if err := vm.invokeFromClass(superclass, name, argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpClosure:
			fn := readConstant().AsObj().(*Function)
			closure := vm.heap.NewClosure(fn)
			vm.push(ObjValue(closure))
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case OpClass:
			vm.push(ObjValue(vm.heap.NewClass(readString())))

		case OpInherit:
			superclass, ok := asClass(vm.peek(1))
			if !ok {
				return vm.runtimeError("superclass must be a class")
			}
			subclass := vm.peek(0).AsObj().(*Class)
			subclass.Methods.AddAll(&superclass.Methods)
			vm.pop()

		case OpMethod:
			name := readString()
			method := vm.peek(0).AsObj().(*Closure)
			class := vm.peek(1).AsObj().(*Class)
			class.Methods.Set(name, ObjValue(method))
			vm.pop()
		}
	}
}

func asClass(v Value) (*Class, bool) {
	if !v.IsObj() {
		return nil, false
	}
	class, ok := v.AsObj().(*Class)
	return class, ok
}
