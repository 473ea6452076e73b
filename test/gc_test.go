package test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arieldon/clox/pkg/compiler"
	"github.com/arieldon/clox/pkg/vm"
)

// The stress suite runs whole programs with a collection forced on every
// allocation. Any object reachable only through a missed root is freed the
// moment it is needed, so these programs crash or misbehave unless the
// rooting discipline in the compiler and VM is airtight.

func runStressed(t *testing.T, source string) string {
	t.Helper()
	var out bytes.Buffer
	v := vm.New(
		vm.WithOutput(&out),
		vm.WithErrorOutput(io.Discard),
		vm.WithStressGC(),
	)

	fn, err := compiler.Compile(source, v.Heap())
	require.NoError(t, err, "compile error")
	require.NoError(t, v.Interpret(fn))
	return out.String()
}

func TestStressConcatenation(t *testing.T) {
	out := runStressed(t, `
var s = "";
for (var i = 0; i < 10; i = i + 1) {
  s = s + "x";
}
print s;
`)
	require.Equal(t, "xxxxxxxxxx\n", out)
}

func TestStressClosures(t *testing.T) {
	out := runStressed(t, `
fun makeAdder(n) {
  fun add(m) { return n + m; }
  return add;
}
var add5 = makeAdder(5);
var add7 = makeAdder(7);
print add5(1);
print add7(1);
`)
	require.Equal(t, "6\n8\n", out)
}

func TestStressClasses(t *testing.T) {
	out := runStressed(t, `
class Node {
  init(value) {
    this.value = value;
    this.next = nil;
  }
}
var head = Node(0);
var tail = head;
for (var i = 1; i < 5; i = i + 1) {
  tail.next = Node(i);
  tail = tail.next;
}
var sum = 0;
for (var n = head; n != nil; n = n.next) {
  sum = sum + n.value;
}
print sum;
`)
	require.Equal(t, "10\n", out)
}

func TestStressInheritance(t *testing.T) {
	out := runStressed(t, `
class A {
  report() { print "A" + this.tag; }
}
class B < A {
  init(tag) { this.tag = tag; }
  report() {
    super.report();
    print "B" + this.tag;
  }
}
B("!").report();
`)
	require.Equal(t, "A!\nB!\n", out)
}

// TestGarbageIsActuallyCollected drops every reference to a pile of
// allocations and checks that a collection shrinks the heap.
func TestGarbageIsActuallyCollected(t *testing.T) {
	var out bytes.Buffer
	v := vm.New(vm.WithOutput(&out), vm.WithErrorOutput(io.Discard))

	fn, err := compiler.Compile(`
var keep = "kept";
{
  var garbage = "";
  for (var i = 0; i < 100; i = i + 1) {
    garbage = garbage + "waste";
  }
}
`, v.Heap())
	require.NoError(t, err)
	require.NoError(t, v.Interpret(fn))

	before := v.Heap().BytesAllocated()
	v.Heap().CollectGarbage()
	after := v.Heap().BytesAllocated()
	require.Less(t, after, before, "collection should free the dropped strings")
}

func TestGCLogOutput(t *testing.T) {
	var out, log bytes.Buffer
	v := vm.New(
		vm.WithOutput(&out),
		vm.WithErrorOutput(&log),
		vm.WithStressGC(),
		vm.WithGCLog(),
	)

	fn, err := compiler.Compile(`print "logged";`, v.Heap())
	require.NoError(t, err)
	require.NoError(t, v.Interpret(fn))

	require.Equal(t, "logged\n", out.String())
	require.True(t, strings.Contains(log.String(), "-- gc begin"))
	require.True(t, strings.Contains(log.String(), "-- gc end"))
}
