package test

import "testing"

func TestPrintFormats(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{"nil", "print nil;", "nil\n"},
		{"true", "print true;", "true\n"},
		{"false", "print false;", "false\n"},
		{"integer-valued number", "print 123;", "123\n"},
		{"negative zero point five", "print -0.5;", "-0.5\n"},
		{"no trailing zeros", "print 2.50;", "2.5\n"},
		{"big number", "print 100000000000000000000000;", "1e+23\n"},
		{"string", "print \"raw bytes\";", "raw bytes\n"},
		{"multiline string", "print \"two\nlines\";", "two\nlines\n"},
		{"function", "fun f() {} print f;", "<fn f>\n"},
		{"division result", "print 1 / 3;", "0.3333333333333333\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectOutput(t, tt.source, tt.expected)
		})
	}
}

func TestIfElse(t *testing.T) {
	expectOutput(t, `
if (1 < 2) print "then"; else print "else";
if (1 > 2) print "then"; else print "else";
if (nil) print "truthy";
if (0) print "zero is truthy";
`, "then\nelse\nzero is truthy\n")
}

func TestWhileLoop(t *testing.T) {
	expectOutput(t, `
var i = 0;
while (i < 3) {
  print i;
  i = i + 1;
}
`, "0\n1\n2\n")
}

func TestForLoop(t *testing.T) {
	expectOutput(t, `
for (var i = 0; i < 3; i = i + 1) print i;
`, "0\n1\n2\n")
}

// TestForLoopClausesOptional drops the initializer and increment; the
// condition alone still controls the loop.
func TestForLoopClausesOptional(t *testing.T) {
	expectOutput(t, `
var i = 0;
for (; i < 2;) {
  print i;
  i = i + 1;
}
`, "0\n1\n")
}

func TestNestedForLoops(t *testing.T) {
	expectOutput(t, `
for (var i = 0; i < 2; i = i + 1) {
  for (var j = 0; j < 2; j = j + 1) {
    print i * 10 + j;
  }
}
`, "0\n1\n10\n11\n")
}

func TestShortCircuit(t *testing.T) {
	expectOutput(t, `
fun loud(label, result) {
  print label;
  return result;
}
print loud("left", false) and loud("right", true);
print loud("left", true) or loud("right", false);
print loud("left", true) and loud("right", "value");
print nil or "fallback";
`, "left\nfalse\nleft\ntrue\nleft\nright\nvalue\nfallback\n")
}

func TestBlockScoping(t *testing.T) {
	expectOutput(t, `
var a = "global";
{
  var a = "outer";
  {
    var a = "inner";
    print a;
  }
  print a;
}
print a;
`, "inner\nouter\nglobal\n")
}

func TestRecursion(t *testing.T) {
	expectOutput(t, `
fun fib(n) {
  if (n < 2) return n;
  return fib(n - 2) + fib(n - 1);
}
print fib(10);
`, "55\n")
}

func TestMutualRecursion(t *testing.T) {
	expectOutput(t, `
fun isEven(n) {
  if (n == 0) return true;
  return isOdd(n - 1);
}
fun isOdd(n) {
  if (n == 0) return false;
  return isEven(n - 1);
}
print isEven(8);
print isOdd(8);
`, "true\nfalse\n")
}

func TestStringEquality(t *testing.T) {
	expectOutput(t, `
print "a" + "b" == "ab";
print "a" == "b";
print "" == "";
`, "true\nfalse\ntrue\n")
}

func TestNaNInequality(t *testing.T) {
	expectOutput(t, `
var nan = 0 / 0;
print nan == nan;
print nan != nan;
`, "false\ntrue\n")
}

func TestRedefineGlobal(t *testing.T) {
	expectOutput(t, `
var x = 1;
var x = 2;
print x;
`, "2\n")
}

func TestFunctionsAreValues(t *testing.T) {
	expectOutput(t, `
fun add(a, b) { return a + b; }
fun apply(f, x, y) { return f(x, y); }
print apply(add, 2, 3);
`, "5\n")
}

func TestCompileErrorScenarios(t *testing.T) {
	expectCompileError(t, "var x = ;",
		"[line 1] error at ';': expect expression")
	expectCompileError(t, "var 1 = 2;",
		"[line 1] error at '1': expect variable name")
	expectCompileError(t, "{",
		"[line 1] error at end: expect '}' after block")
}
