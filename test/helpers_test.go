// Package test holds end-to-end suites: each case compiles and runs a
// complete program on a fresh interpreter and compares its printed output
// line for line.
package test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arieldon/clox/pkg/compiler"
	"github.com/arieldon/clox/pkg/vm"
)

// runProgram compiles and runs source on a fresh VM, returning everything
// it printed. Compile errors fail the test; runtime errors are returned.
func runProgram(t *testing.T, source string, opts ...vm.Option) (string, error) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]vm.Option{
		vm.WithOutput(&out),
		vm.WithErrorOutput(io.Discard),
	}, opts...)
	v := vm.New(opts...)

	fn, err := compiler.Compile(source, v.Heap())
	require.NoError(t, err, "compile error")
	err = v.Interpret(fn)
	return out.String(), err
}

func expectOutput(t *testing.T, source, expected string) {
	t.Helper()
	out, err := runProgram(t, source)
	require.NoError(t, err)
	require.Equal(t, expected, out)
}

func expectRuntimeError(t *testing.T, source, message string) {
	t.Helper()
	_, err := runProgram(t, source)
	var rerr *vm.RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, message, rerr.Message)
}

func expectCompileError(t *testing.T, source, firstDiagnostic string) {
	t.Helper()
	_, err := compiler.Compile(source, vm.NewHeap())
	require.Error(t, err)
	require.Equal(t, firstDiagnostic, firstLine(err.Error()))
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
