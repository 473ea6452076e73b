package vm

import "strconv"

// ValueType is the tag of a dynamic value.
type ValueType int

const (
	ValNil ValueType = iota
	ValBool
	ValNumber
	ValObj
)

// Value is a tagged dynamic value: nil, boolean, IEEE 754 double, or a
// reference to a heap object. Values are small and passed by copy; only
// objects live on the heap.
type Value struct {
	typ ValueType
	num float64
	obj Obj
}

// NilValue returns the nil value.
func NilValue() Value {
	return Value{typ: ValNil}
}

// BoolValue wraps a boolean.
func BoolValue(b bool) Value {
	v := Value{typ: ValBool}
	if b {
		v.num = 1
	}
	return v
}

// NumberValue wraps a float64.
func NumberValue(n float64) Value {
	return Value{typ: ValNumber, num: n}
}

// ObjValue wraps a heap object reference.
func ObjValue(o Obj) Value {
	return Value{typ: ValObj, obj: o}
}

// Type returns the value's tag.
func (v Value) Type() ValueType { return v.typ }

func (v Value) IsNil() bool    { return v.typ == ValNil }
func (v Value) IsBool() bool   { return v.typ == ValBool }
func (v Value) IsNumber() bool { return v.typ == ValNumber }
func (v Value) IsObj() bool    { return v.typ == ValObj }

// AsBool returns the boolean payload. Only valid when IsBool reports true.
func (v Value) AsBool() bool { return v.num != 0 }

// AsNumber returns the numeric payload. Only valid when IsNumber reports true.
func (v Value) AsNumber() float64 { return v.num }

// AsObj returns the object payload. Only valid when IsObj reports true.
func (v Value) AsObj() Obj { return v.obj }

// AsString returns the string payload, or nil if the value is not a string.
func (v Value) AsString() *String {
	if v.typ != ValObj {
		return nil
	}
	s, _ := v.obj.(*String)
	return s
}

// IsString reports whether the value is a heap string.
func (v Value) IsString() bool { return v.AsString() != nil }

// IsFalsey reports the language's truthiness rule: nil and false are falsey,
// everything else is truthy.
func (v Value) IsFalsey() bool {
	return v.typ == ValNil || (v.typ == ValBool && !v.AsBool())
}

// Equals compares two values. Nils are equal; booleans compare by payload;
// numbers by IEEE equality (so NaN != NaN); objects by identity, which for
// interned strings implies content equality.
func (v Value) Equals(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case ValNil:
		return true
	case ValBool:
		return v.AsBool() == other.AsBool()
	case ValNumber:
		return v.num == other.num
	case ValObj:
		return v.obj == other.obj
	default:
		return false
	}
}

// String renders the value the way the print statement does.
func (v Value) String() string {
	switch v.typ {
	case ValNil:
		return "nil"
	case ValBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case ValNumber:
		return formatNumber(v.num)
	case ValObj:
		return objString(v.obj)
	default:
		return "unknown"
	}
}

// formatNumber renders a number as its shortest round-trippable decimal
// representation.
func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}
