package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/arieldon/clox/pkg/compiler"
	"github.com/arieldon/clox/pkg/vm"
)

// Exit codes follow the BSD sysexits convention: 64 for a usage error, 65
// for malformed input (compile error), 70 for an internal software error
// (runtime error), 74 for an I/O error reading the script.
const (
	exitUsage   = 64
	exitCompile = 65
	exitRuntime = 70
	exitIO      = 74
)

func main() {
	switch len(os.Args) {
	case 1:
		runREPL()
	case 2:
		runFile(os.Args[1])
	default:
		fmt.Fprintln(os.Stderr, "usage: clox [script]")
		os.Exit(exitUsage)
	}
}

// runFile reads, compiles, and executes a script, mapping each failure
// kind to its exit code.
func runFile(filename string) {
	source, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not read file %q: %v\n", filename, err)
		os.Exit(exitIO)
	}

	v := vm.New()
	fn, err := compiler.Compile(string(source), v.Heap())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCompile)
	}
	if err := v.Interpret(fn); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntime)
	}
}

// runREPL reads and runs one line at a time. The VM persists across lines
// so globals defined earlier stay visible, and errors print without
// exiting.
func runREPL() {
	v := vm.New()
	in := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			break
		}

		line := in.Text()
		if line == "" {
			continue
		}

		fn, err := compiler.Compile(line, v.Heap())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if err := v.Interpret(fn); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}

	if err := in.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
	}
}
