package vm

import (
	"math"
	"testing"
)

func TestValueEquality(t *testing.T) {
	heap := NewHeap()
	str := ObjValue(heap.Intern("str"))

	tests := []struct {
		name     string
		a, b     Value
		expected bool
	}{
		{"nil equals nil", NilValue(), NilValue(), true},
		{"true equals true", BoolValue(true), BoolValue(true), true},
		{"true not equals false", BoolValue(true), BoolValue(false), false},
		{"equal numbers", NumberValue(1.5), NumberValue(1.5), true},
		{"unequal numbers", NumberValue(1), NumberValue(2), false},
		{"NaN not equal to itself", NumberValue(math.NaN()), NumberValue(math.NaN()), false},
		{"nil not equals false", NilValue(), BoolValue(false), false},
		{"zero not equals false", NumberValue(0), BoolValue(false), false},
		{"same string object", str, str, true},
		{"interned strings share identity",
			ObjValue(heap.Intern("twice")), ObjValue(heap.Intern("twice")), true},
		{"different strings", str, ObjValue(heap.Intern("other")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equals(tt.b); got != tt.expected {
				t.Fatalf("Equals(%v, %v) = %t, expected %t", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestValueFalsiness(t *testing.T) {
	heap := NewHeap()

	tests := []struct {
		name   string
		value  Value
		falsey bool
	}{
		{"nil is falsey", NilValue(), true},
		{"false is falsey", BoolValue(false), true},
		{"true is truthy", BoolValue(true), false},
		{"zero is truthy", NumberValue(0), false},
		{"empty string is truthy", ObjValue(heap.Intern("")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.IsFalsey(); got != tt.falsey {
				t.Fatalf("IsFalsey(%v) = %t, expected %t", tt.value, got, tt.falsey)
			}
		})
	}
}

func TestValuePrinting(t *testing.T) {
	heap := NewHeap()

	fnNamed := heap.NewFunction()
	fnNamed.Name = heap.Intern("f")
	script := heap.NewFunction()
	closure := heap.NewClosure(fnNamed)
	native := heap.NewNative(0, func(args []Value) Value { return NilValue() })
	class := heap.NewClass(heap.Intern("Point"))
	instance := heap.NewInstance(class)
	bound := heap.NewBoundMethod(ObjValue(instance), closure)

	tests := []struct {
		name     string
		value    Value
		expected string
	}{
		{"nil", NilValue(), "nil"},
		{"true", BoolValue(true), "true"},
		{"false", BoolValue(false), "false"},
		{"integer", NumberValue(42), "42"},
		{"negative", NumberValue(-7), "-7"},
		{"fraction", NumberValue(2.5), "2.5"},
		{"large", NumberValue(1e21), "1e+21"},
		{"string", ObjValue(heap.Intern("hi")), "hi"},
		{"named function", ObjValue(fnNamed), "<fn f>"},
		{"script function", ObjValue(script), "<script>"},
		{"closure", ObjValue(closure), "<fn f>"},
		{"native", ObjValue(native), "<native fn>"},
		{"class", ObjValue(class), "Point"},
		{"instance", ObjValue(instance), "Point instance"},
		{"bound method", ObjValue(bound), "<fn f>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.String(); got != tt.expected {
				t.Fatalf("String() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestHashString(t *testing.T) {
	// FNV-1a reference values.
	tests := []struct {
		input    string
		expected uint32
	}{
		{"", 2166136261},
		{"a", 0xe40c292c},
		{"foobar", 0xbf9cf968},
	}

	for _, tt := range tests {
		if got := hashString(tt.input); got != tt.expected {
			t.Fatalf("hashString(%q) = %#x, expected %#x", tt.input, got, tt.expected)
		}
	}
}
