package compiler

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/arieldon/clox/pkg/vm"
)

func compileChunk(t *testing.T, source string) *vm.Function {
	t.Helper()
	fn, err := Compile(source, vm.NewHeap())
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return fn
}

func TestCompileExpressionStatement(t *testing.T) {
	fn := compileChunk(t, "print 1 + 2;")

	expected := []byte{
		byte(vm.OpConstant), 0,
		byte(vm.OpConstant), 1,
		byte(vm.OpAdd),
		byte(vm.OpPrint),
		byte(vm.OpNil),
		byte(vm.OpReturn),
	}
	if !bytes.Equal(fn.Chunk.Code, expected) {
		t.Fatalf("code = %v, expected %v", fn.Chunk.Code, expected)
	}

	if n := len(fn.Chunk.Constants); n != 2 {
		t.Fatalf("constant pool size = %d, expected 2", n)
	}
	if fn.Chunk.Constants[0].AsNumber() != 1 || fn.Chunk.Constants[1].AsNumber() != 2 {
		t.Fatalf("constants = %v", fn.Chunk.Constants)
	}
}

func TestCompileComparisonNegations(t *testing.T) {
	tests := []struct {
		source   string
		expected []byte
	}{
		{"1 != 2;", []byte{byte(vm.OpEqual), byte(vm.OpNot)}},
		{"1 >= 2;", []byte{byte(vm.OpLess), byte(vm.OpNot)}},
		{"1 <= 2;", []byte{byte(vm.OpGreater), byte(vm.OpNot)}},
		{"1 == 2;", []byte{byte(vm.OpEqual)}},
		{"1 < 2;", []byte{byte(vm.OpLess)}},
		{"1 > 2;", []byte{byte(vm.OpGreater)}},
	}

	for _, tt := range tests {
		fn := compileChunk(t, tt.source)
		// Strip the two leading constants and the trailing POP/NIL/RETURN.
		ops := fn.Chunk.Code[4 : len(fn.Chunk.Code)-3]
		if !bytes.Equal(ops, tt.expected) {
			t.Fatalf("%q compiled to %v, expected %v", tt.source, ops, tt.expected)
		}
	}
}

func TestCompileLocalSlots(t *testing.T) {
	fn := compileChunk(t, "{ var a = 1; print a; }")

	expected := []byte{
		byte(vm.OpConstant), 0,
		byte(vm.OpGetLocal), 1, // slot 0 is reserved
		byte(vm.OpPrint),
		byte(vm.OpPop), // scope exit discards a
		byte(vm.OpNil),
		byte(vm.OpReturn),
	}
	if !bytes.Equal(fn.Chunk.Code, expected) {
		t.Fatalf("code = %v, expected %v", fn.Chunk.Code, expected)
	}
}

func TestCompileGlobalAccess(t *testing.T) {
	fn := compileChunk(t, "var a = 1; a = 2;")

	// Each mention of a global re-records its name, so "a" appears at pool
	// indices 0 and 2.
	expected := []byte{
		byte(vm.OpConstant), 1, // 1 (index 0 holds the name "a")
		byte(vm.OpDefineGlobal), 0,
		byte(vm.OpConstant), 3, // 2
		byte(vm.OpSetGlobal), 2,
		byte(vm.OpPop),
		byte(vm.OpNil),
		byte(vm.OpReturn),
	}
	if !bytes.Equal(fn.Chunk.Code, expected) {
		t.Fatalf("code = %v, expected %v", fn.Chunk.Code, expected)
	}
}

// findFunction digs a compiled function out of a chunk's constant pool by
// name.
func findFunction(t *testing.T, chunk *vm.Chunk, name string) *vm.Function {
	t.Helper()
	for _, constant := range chunk.Constants {
		if !constant.IsObj() {
			continue
		}
		if fn, ok := constant.AsObj().(*vm.Function); ok {
			if fn.Name != nil && fn.Name.Chars == name {
				return fn
			}
		}
	}
	t.Fatalf("function %q not found in constant pool", name)
	return nil
}

func TestCompileFunctionArity(t *testing.T) {
	fn := compileChunk(t, "fun f(a, b, c) {}")
	f := findFunction(t, &fn.Chunk, "f")
	if f.Arity != 3 {
		t.Fatalf("arity = %d, expected 3", f.Arity)
	}
	if f.UpvalueCount != 0 {
		t.Fatalf("upvalue count = %d, expected 0", f.UpvalueCount)
	}
}

func TestCompileUpvalueCapture(t *testing.T) {
	fn := compileChunk(t, `
fun outer() {
  var x = 1;
  fun inner() { print x; }
}
`)
	outer := findFunction(t, &fn.Chunk, "outer")
	inner := findFunction(t, &outer.Chunk, "inner")

	if inner.UpvalueCount != 1 {
		t.Fatalf("inner upvalue count = %d, expected 1", inner.UpvalueCount)
	}

	// outer's CLOSURE instruction carries one (isLocal=1, index=1) pair.
	code := outer.Chunk.Code
	idx := bytes.IndexByte(code, byte(vm.OpClosure))
	if idx == -1 {
		t.Fatal("no CLOSURE instruction in outer")
	}
	if code[idx+2] != 1 || code[idx+3] != 1 {
		t.Fatalf("upvalue descriptor = (%d, %d), expected (1, 1)", code[idx+2], code[idx+3])
	}
}

func TestCompileChainedUpvalue(t *testing.T) {
	fn := compileChunk(t, `
fun a() {
  var x = 1;
  fun b() {
    fun c() { print x; }
  }
}
`)
	a := findFunction(t, &fn.Chunk, "a")
	b := findFunction(t, &a.Chunk, "b")
	c := findFunction(t, &b.Chunk, "c")

	// b forwards a's local to c: b captures the local directly, c captures
	// b's upvalue.
	if b.UpvalueCount != 1 {
		t.Fatalf("b upvalue count = %d, expected 1", b.UpvalueCount)
	}
	if c.UpvalueCount != 1 {
		t.Fatalf("c upvalue count = %d, expected 1", c.UpvalueCount)
	}

	code := b.Chunk.Code
	idx := bytes.IndexByte(code, byte(vm.OpClosure))
	if code[idx+2] != 0 {
		t.Fatal("c should capture b's upvalue, not a local")
	}
}

func TestCompileDeterministic(t *testing.T) {
	source := `
class Shape {
  init(n) { this.n = n; }
  area() { return this.n * this.n; }
}
var s = Shape(3);
for (var i = 0; i < 3; i = i + 1) print s.area();
`
	first := compileChunk(t, source)
	second := compileChunk(t, source)

	if !bytes.Equal(first.Chunk.Code, second.Chunk.Code) {
		t.Fatal("two compilations of the same source produced different bytecode")
	}
	if len(first.Chunk.Constants) != len(second.Chunk.Constants) {
		t.Fatal("two compilations produced different constant pools")
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{
			"missing expression",
			"var x = ;",
			"[line 1] error at ';': expect expression",
		},
		{
			"missing semicolon",
			"print 1",
			"[line 1] error at end: expect ';' after value",
		},
		{
			"duplicate local",
			"{ var a = 1; var a = 2; }",
			"[line 1] error at 'a': already a variable with this name in this scope",
		},
		{
			"read own initializer",
			"{ var a = a; }",
			"[line 1] error at 'a': cannot read local variable in its own initializer",
		},
		{
			"invalid assignment target",
			"1 = 2;",
			"[line 1] error at '=': invalid assignment target",
		},
		{
			"this outside class",
			"print this;",
			"[line 1] error at 'this': cannot use 'this' outside of a class",
		},
		{
			"super outside class",
			"print super.x;",
			"[line 1] error at 'super': cannot use 'super' outside of a class",
		},
		{
			"super without superclass",
			"class A { m() { super.m(); } }",
			"[line 1] error at 'super': cannot use 'super' in a class with no superclass",
		},
		{
			"return at top level",
			"return 1;",
			"[line 1] error at 'return': cannot return from top-level code",
		},
		{
			"return value from initializer",
			"class A { init() { return 1; } }",
			"[line 1] error at 'return': cannot return a value from an initializer",
		},
		{
			"self inheritance",
			"class A < A {}",
			"[line 1] error at 'A': a class cannot inherit from itself",
		},
		{
			"unterminated string",
			"var s = \"oops;",
			"[line 1] error: unterminated string",
		},
		{
			"unexpected character",
			"var x = @;",
			"[line 1] error: unexpected character",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := Compile(tt.source, vm.NewHeap())
			if err == nil {
				t.Fatal("expected a compile error")
			}
			if fn != nil {
				t.Fatal("expected nil function on compile error")
			}
			firstLine := strings.SplitN(err.Error(), "\n", 2)[0]
			if firstLine != tt.expected {
				t.Fatalf("error = %q, expected %q", firstLine, tt.expected)
			}
		})
	}
}

func TestCompileReportsMultipleErrors(t *testing.T) {
	_, err := Compile("var x = ;\nvar y = ;", vm.NewHeap())
	if err == nil {
		t.Fatal("expected compile errors")
	}
	lines := strings.Split(err.Error(), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d: %q", len(lines), err)
	}
	if !strings.HasPrefix(lines[1], "[line 2]") {
		t.Fatalf("second diagnostic has wrong line: %q", lines[1])
	}
}

func TestCompileTooManyConstants(t *testing.T) {
	// Each distinct number literal takes its own pool slot; 300 of them
	// overflow the one-byte operand.
	var b strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&b, "print %d;\n", i)
	}
	_, err := Compile(b.String(), vm.NewHeap())
	if err == nil {
		t.Fatal("expected a compile error for an overfull constant pool")
	}
	if !strings.Contains(err.Error(), "too many constants in one chunk") {
		t.Fatalf("unexpected error: %v", err)
	}
}
