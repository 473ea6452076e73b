// Package compiler compiles clox source to bytecode in a single pass.
//
// There is no AST. A Pratt parser pulls tokens from the scanner and emits
// instructions into the current function's chunk as it recognizes each
// construct, resolving variables against a stack of lexical scopes on the
// way: locals live in stack slots assigned at declaration order, variables
// captured from enclosing functions become upvalues, and everything else
// compiles to a global lookup by name. Forward jumps are emitted with
// placeholder operands and backpatched once their targets are known.
//
// Compilation of each function body nests: `fun` and method bodies push a
// fresh function compilation onto a chain and pop it when the body ends,
// so the compiler's state mirrors the closure nesting of the source.
package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arieldon/clox/pkg/scanner"
	"github.com/arieldon/clox/pkg/vm"
)

// Precedence is the binding power of an operator, lowest to highest.
type Precedence int

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + -
	PrecFactor                // * /
	PrecUnary                 // ! -
	PrecCall                  // . ()
	PrecPrimary
)

// FunctionType distinguishes what kind of body is being compiled; it
// changes slot zero's name, the implicit return value, and which return
// statements are legal.
type FunctionType int

const (
	TypeScript FunctionType = iota
	TypeFunction
	TypeMethod
	TypeInitializer
)

const (
	maxLocals   = 256
	maxUpvalues = 256
	maxJump     = 65535
	maxArgs     = 255
)

// local is a declared local variable. depth is -1 between declaration and
// initialization so a variable cannot read itself in its own initializer.
type local struct {
	name       scanner.Token
	depth      int
	isCaptured bool
}

// upvalue describes one captured variable: a slot in the enclosing
// function's locals, or an index into the enclosing function's upvalues.
type upvalue struct {
	index   uint8
	isLocal bool
}

// funcCompiler is the per-function compilation state. Compilations nest
// through enclosing, one frame per function body being compiled.
type funcCompiler struct {
	enclosing  *funcCompiler
	function   *vm.Function
	funcType   FunctionType
	locals     [maxLocals]local
	localCount int
	upvalues   [maxUpvalues]upvalue
	scopeDepth int
}

// classCompiler tracks the innermost class declaration being compiled, for
// validating `this` and `super`.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// Compiler holds the parser state: the token pair, the function-compilation
// chain, the class chain, and accumulated diagnostics.
type Compiler struct {
	scanner *scanner.Scanner
	heap    *vm.Heap

	previous scanner.Token
	current  scanner.Token

	hadError  bool
	panicMode bool
	diags     []string

	fc           *funcCompiler
	currentClass *classCompiler
}

type parseFn func(c *Compiler, canAssign bool)

// parseRule drives the Pratt parser: what to do with a token in prefix
// position, in infix position, and how tightly the infix form binds.
type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules [scanner.NumTokenTypes]parseRule

// The table refers to parser methods that consult the table back through
// parsePrecedence, so it is filled in at init time.
func init() {
	rules[scanner.TokenLeftParen] = parseRule{(*Compiler).grouping, (*Compiler).call, PrecCall}
	rules[scanner.TokenDot] = parseRule{nil, (*Compiler).dot, PrecCall}
	rules[scanner.TokenMinus] = parseRule{(*Compiler).unary, (*Compiler).binary, PrecTerm}
	rules[scanner.TokenPlus] = parseRule{nil, (*Compiler).binary, PrecTerm}
	rules[scanner.TokenSlash] = parseRule{nil, (*Compiler).binary, PrecFactor}
	rules[scanner.TokenStar] = parseRule{nil, (*Compiler).binary, PrecFactor}
	rules[scanner.TokenBang] = parseRule{(*Compiler).unary, nil, PrecNone}
	rules[scanner.TokenBangEqual] = parseRule{nil, (*Compiler).binary, PrecEquality}
	rules[scanner.TokenEqualEqual] = parseRule{nil, (*Compiler).binary, PrecEquality}
	rules[scanner.TokenGreater] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[scanner.TokenGreaterEqual] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[scanner.TokenLess] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[scanner.TokenLessEqual] = parseRule{nil, (*Compiler).binary, PrecComparison}
	rules[scanner.TokenIdentifier] = parseRule{(*Compiler).variable, nil, PrecNone}
	rules[scanner.TokenString] = parseRule{(*Compiler).stringLiteral, nil, PrecNone}
	rules[scanner.TokenNumber] = parseRule{(*Compiler).number, nil, PrecNone}
	rules[scanner.TokenAnd] = parseRule{nil, (*Compiler).and, PrecAnd}
	rules[scanner.TokenOr] = parseRule{nil, (*Compiler).or, PrecOr}
	rules[scanner.TokenFalse] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[scanner.TokenTrue] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[scanner.TokenNil] = parseRule{(*Compiler).literal, nil, PrecNone}
	rules[scanner.TokenSuper] = parseRule{(*Compiler).super, nil, PrecNone}
	rules[scanner.TokenThis] = parseRule{(*Compiler).this, nil, PrecNone}
}

// Compile compiles source into a top-level function whose chunk holds the
// script's bytecode. Compile errors are accumulated — the parser
// resynchronizes at statement boundaries to report as many as it can — and
// returned joined as one error, in which case the function is nil.
//
// The compiler registers itself as a GC root source for the duration so
// that functions still under construction survive collections triggered by
// the compiler's own allocations.
func Compile(source string, heap *vm.Heap) (*vm.Function, error) {
	c := &Compiler{
		scanner: scanner.New(source),
		heap:    heap,
	}
	heap.AddRoots(c)
	defer heap.RemoveRoots(c)

	c.beginFunc(TypeScript)
	c.advance()
	for !c.match(scanner.TokenEOF) {
		c.declaration()
	}
	fn := c.endFunc()

	if c.hadError {
		return nil, errors.New(strings.Join(c.diags, "\n"))
	}
	return fn, nil
}

// MarkRoots marks the function of every compilation frame on the chain;
// their chunks' constants keep everything else compiled so far alive.
func (c *Compiler) MarkRoots(mark func(vm.Obj)) {
	for fc := c.fc; fc != nil; fc = fc.enclosing {
		if fc.function != nil {
			mark(fc.function)
		}
	}
}

// beginFunc pushes a compilation frame. Slot zero of every function is
// reserved: methods and initializers name it "this"; scripts and plain
// functions leave it unnamed so no identifier can resolve to it.
func (c *Compiler) beginFunc(ft FunctionType) {
	fc := &funcCompiler{
		enclosing: c.fc,
		funcType:  ft,
	}
	c.fc = fc
	fc.function = c.heap.NewFunction()
	if ft != TypeScript {
		fc.function.Name = c.heap.Intern(c.previous.Lexeme)
	}

	slotZero := &fc.locals[fc.localCount]
	fc.localCount++
	slotZero.depth = 0
	if ft == TypeMethod || ft == TypeInitializer {
		slotZero.name = scanner.Token{Type: scanner.TokenThis, Lexeme: "this"}
	}
}

// endFunc emits the implicit return and pops the compilation frame.
func (c *Compiler) endFunc() *vm.Function {
	c.emitReturn()
	fn := c.fc.function
	c.fc = c.fc.enclosing
	return fn
}

func (c *Compiler) currentChunk() *vm.Chunk {
	return &c.fc.function.Chunk
}

// ---- Token handling ----

// advance moves the token pair forward, reporting error tokens from the
// scanner as compile errors and skipping past them.
func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.ScanToken()
		if c.current.Type != scanner.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) consume(tt scanner.TokenType, message string) {
	if c.current.Type == tt {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) check(tt scanner.TokenType) bool {
	return c.current.Type == tt
}

func (c *Compiler) match(tt scanner.TokenType) bool {
	if !c.check(tt) {
		return false
	}
	c.advance()
	return true
}

// ---- Error reporting ----

// errorAt records a diagnostic. Once the parser is panicking, further
// errors are suppressed until synchronize clears the flag, so one mistake
// does not cascade.
func (c *Compiler) errorAt(token scanner.Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true

	var b strings.Builder
	fmt.Fprintf(&b, "[line %d] error", token.Line)
	switch token.Type {
	case scanner.TokenEOF:
		b.WriteString(" at end")
	case scanner.TokenError:
		// The lexeme is the message, not source text.
	default:
		fmt.Fprintf(&b, " at '%s'", token.Lexeme)
	}
	fmt.Fprintf(&b, ": %s", message)

	c.diags = append(c.diags, b.String())
	c.hadError = true
}

func (c *Compiler) error(message string) {
	c.errorAt(c.previous, message)
}

func (c *Compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

// synchronize skips to the next statement boundary after a parse error.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != scanner.TokenEOF {
		if c.previous.Type == scanner.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case scanner.TokenClass, scanner.TokenFun, scanner.TokenVar,
			scanner.TokenFor, scanner.TokenIf, scanner.TokenWhile,
			scanner.TokenPrint, scanner.TokenReturn:
			return
		}
		c.advance()
	}
}

// ---- Emission ----

func (c *Compiler) emitByte(b byte) {
	c.currentChunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op vm.Opcode) {
	c.emitByte(byte(op))
}

func (c *Compiler) emitOpByte(op vm.Opcode, operand byte) {
	c.emitByte(byte(op))
	c.emitByte(operand)
}

// emitReturn emits the implicit return: an initializer returns its
// instance from slot zero, everything else returns nil.
func (c *Compiler) emitReturn() {
	if c.fc.funcType == TypeInitializer {
		c.emitOpByte(vm.OpGetLocal, 0)
	} else {
		c.emitOp(vm.OpNil)
	}
	c.emitOp(vm.OpReturn)
}

// makeConstant adds a value to the constant pool, protecting it on the
// heap across the append.
func (c *Compiler) makeConstant(value vm.Value) byte {
	c.heap.Protect(value)
	index := c.currentChunk().AddConstant(value)
	c.heap.Unprotect()
	if index > 255 {
		c.error("too many constants in one chunk")
		return 0
	}
	return byte(index)
}

func (c *Compiler) emitConstant(value vm.Value) {
	c.emitOpByte(vm.OpConstant, c.makeConstant(value))
}

// emitJump writes op with a two-byte placeholder operand and returns the
// operand's offset for patchJump.
func (c *Compiler) emitJump(op vm.Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return c.currentChunk().Count() - 2
}

// patchJump backfills a forward jump's operand with the distance from the
// operand to the current end of code.
func (c *Compiler) patchJump(offset int) {
	jump := c.currentChunk().Count() - offset - 2
	if jump > maxJump {
		c.error("too much code to jump over")
	}
	c.currentChunk().Code[offset] = byte(jump >> 8)
	c.currentChunk().Code[offset+1] = byte(jump)
}

// emitLoop writes a backward jump to loopStart.
func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(vm.OpLoop)
	offset := c.currentChunk().Count() - loopStart + 2
	if offset > maxJump {
		c.error("loop body too large")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// ---- Scopes and variables ----

func (c *Compiler) beginScope() {
	c.fc.scopeDepth++
}

// endScope discards the scope's locals. A captured local's value is moved
// into its upvalue cell; an uncaptured one is simply popped.
func (c *Compiler) endScope() {
	c.fc.scopeDepth--
	for c.fc.localCount > 0 &&
		c.fc.locals[c.fc.localCount-1].depth > c.fc.scopeDepth {
		if c.fc.locals[c.fc.localCount-1].isCaptured {
			c.emitOp(vm.OpCloseUpvalue)
		} else {
			c.emitOp(vm.OpPop)
		}
		c.fc.localCount--
	}
}

func identifiersEqual(a, b scanner.Token) bool {
	return a.Lexeme == b.Lexeme
}

// identifierConstant interns the identifier's name and stores it in the
// constant pool.
func (c *Compiler) identifierConstant(name scanner.Token) byte {
	s := c.heap.Intern(name.Lexeme)
	return c.makeConstant(vm.ObjValue(s))
}

// resolveLocal finds name among the function's locals, innermost first.
// Returns -1 when the name is not a local.
func (c *Compiler) resolveLocal(fc *funcCompiler, name scanner.Token) int {
	for i := fc.localCount - 1; i >= 0; i-- {
		l := &fc.locals[i]
		if identifiersEqual(name, l.name) {
			if l.depth == -1 {
				c.error("cannot read local variable in its own initializer")
			}
			return i
		}
	}
	return -1
}

// addUpvalue records that the current function captures the given slot of
// its enclosing function (or one of the enclosing function's upvalues).
// Repeated captures of the same variable share one entry.
func (c *Compiler) addUpvalue(fc *funcCompiler, index uint8, isLocal bool) int {
	count := fc.function.UpvalueCount
	for i := 0; i < count; i++ {
		uv := &fc.upvalues[i]
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if count == maxUpvalues {
		c.error("too many closure variables in function")
		return 0
	}
	fc.upvalues[count] = upvalue{index: index, isLocal: isLocal}
	fc.function.UpvalueCount++
	return count
}

// resolveUpvalue finds name in an enclosing function. A hit on an
// enclosing local marks that local captured and records a direct upvalue;
// a hit further out chains through the intermediate functions' upvalue
// lists so every level between declaration and use can forward the cell.
func (c *Compiler) resolveUpvalue(fc *funcCompiler, name scanner.Token) int {
	if fc.enclosing == nil {
		return -1
	}
	if local := c.resolveLocal(fc.enclosing, name); local != -1 {
		fc.enclosing.locals[local].isCaptured = true
		return c.addUpvalue(fc, uint8(local), true)
	}
	if up := c.resolveUpvalue(fc.enclosing, name); up != -1 {
		return c.addUpvalue(fc, uint8(up), false)
	}
	return -1
}

// addLocal declares a local in the current scope, uninitialized (depth -1)
// until defineVariable marks it.
func (c *Compiler) addLocal(name scanner.Token) {
	if c.fc.localCount == maxLocals {
		c.error("too many local variables in function")
		return
	}
	c.fc.locals[c.fc.localCount] = local{name: name, depth: -1}
	c.fc.localCount++
}

// declareVariable reserves a local slot for the name just parsed. Globals
// are late-bound and need no declaration. Redeclaring a name within the
// same scope is an error; shadowing an outer scope is fine.
func (c *Compiler) declareVariable() {
	if c.fc.scopeDepth == 0 {
		return
	}
	name := c.previous
	for i := c.fc.localCount - 1; i >= 0; i-- {
		l := &c.fc.locals[i]
		if l.depth != -1 && l.depth < c.fc.scopeDepth {
			break
		}
		if identifiersEqual(name, l.name) {
			c.error("already a variable with this name in this scope")
		}
	}
	c.addLocal(name)
}

// parseVariable consumes a variable name and declares it. The returned
// constant index identifies the name for global definitions; locals need
// none and get 0.
func (c *Compiler) parseVariable(message string) byte {
	c.consume(scanner.TokenIdentifier, message)
	c.declareVariable()
	if c.fc.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous)
}

// markInitialized makes the just-declared local visible. Top-level
// declarations are globals and have nothing to mark.
func (c *Compiler) markInitialized() {
	if c.fc.scopeDepth == 0 {
		return
	}
	c.fc.locals[c.fc.localCount-1].depth = c.fc.scopeDepth
}

// defineVariable completes a declaration: globals emit a definition by
// name, locals simply become visible where their value already sits on the
// stack.
func (c *Compiler) defineVariable(global byte) {
	if c.fc.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(vm.OpDefineGlobal, global)
}

// namedVariable compiles a read of name, or — when an `=` follows in
// assignment position — a write. Resolution order: local, then upvalue,
// then global.
func (c *Compiler) namedVariable(name scanner.Token, canAssign bool) {
	var getOp, setOp vm.Opcode
	arg := c.resolveLocal(c.fc, name)
	switch {
	case arg != -1:
		getOp, setOp = vm.OpGetLocal, vm.OpSetLocal
	default:
		if arg = c.resolveUpvalue(c.fc, name); arg != -1 {
			getOp, setOp = vm.OpGetUpvalue, vm.OpSetUpvalue
		} else {
			arg = int(c.identifierConstant(name))
			getOp, setOp = vm.OpGetGlobal, vm.OpSetGlobal
		}
	}

	if canAssign && c.match(scanner.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

func syntheticToken(text string) scanner.Token {
	return scanner.Token{Type: scanner.TokenIdentifier, Lexeme: text}
}

// ---- Expressions ----

// parsePrecedence parses any expression at the given precedence level or
// tighter: dispatch the prefix rule for the leading token, then fold infix
// operators for as long as they bind at least this tightly. An `=` that
// survives to the end was not consumed by any assignment target.
func (c *Compiler) parsePrecedence(prec Precedence) {
	c.advance()
	prefix := rules[c.previous.Type].prefix
	if prefix == nil {
		c.error("expect expression")
		return
	}
	canAssign := prec <= PrecAssignment
	prefix(c, canAssign)

	for prec <= rules[c.current.Type].precedence {
		c.advance()
		rules[c.previous.Type].infix(c, canAssign)
	}

	if canAssign && c.match(scanner.TokenEqual) {
		c.error("invalid assignment target")
	}
}

func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

func (c *Compiler) number(bool) {
	value, _ := strconv.ParseFloat(c.previous.Lexeme, 64)
	c.emitConstant(vm.NumberValue(value))
}

// stringLiteral interns the lexeme's interior, quotes stripped.
func (c *Compiler) stringLiteral(bool) {
	lexeme := c.previous.Lexeme
	s := c.heap.Intern(lexeme[1 : len(lexeme)-1])
	c.emitConstant(vm.ObjValue(s))
}

func (c *Compiler) literal(bool) {
	switch c.previous.Type {
	case scanner.TokenFalse:
		c.emitOp(vm.OpFalse)
	case scanner.TokenNil:
		c.emitOp(vm.OpNil)
	case scanner.TokenTrue:
		c.emitOp(vm.OpTrue)
	}
}

func (c *Compiler) grouping(bool) {
	c.expression()
	c.consume(scanner.TokenRightParen, "expect ')' after expression")
}

func (c *Compiler) unary(bool) {
	operator := c.previous.Type
	c.parsePrecedence(PrecUnary)
	switch operator {
	case scanner.TokenBang:
		c.emitOp(vm.OpNot)
	case scanner.TokenMinus:
		c.emitOp(vm.OpNegate)
	}
}

// binary compiles the right operand one level tighter than the operator so
// operators of equal precedence associate left. The relational negations
// compose: a >= b is !(a < b), a <= b is !(a > b), a != b is !(a == b).
func (c *Compiler) binary(bool) {
	operator := c.previous.Type
	c.parsePrecedence(rules[operator].precedence + 1)

	switch operator {
	case scanner.TokenBangEqual:
		c.emitOp(vm.OpEqual)
		c.emitOp(vm.OpNot)
	case scanner.TokenEqualEqual:
		c.emitOp(vm.OpEqual)
	case scanner.TokenGreater:
		c.emitOp(vm.OpGreater)
	case scanner.TokenGreaterEqual:
		c.emitOp(vm.OpLess)
		c.emitOp(vm.OpNot)
	case scanner.TokenLess:
		c.emitOp(vm.OpLess)
	case scanner.TokenLessEqual:
		c.emitOp(vm.OpGreater)
		c.emitOp(vm.OpNot)
	case scanner.TokenPlus:
		c.emitOp(vm.OpAdd)
	case scanner.TokenMinus:
		c.emitOp(vm.OpSubtract)
	case scanner.TokenStar:
		c.emitOp(vm.OpMultiply)
	case scanner.TokenSlash:
		c.emitOp(vm.OpDivide)
	}
}

// and short-circuits: if the left operand is falsey it stays as the
// result, otherwise it is popped and the right operand takes its place.
func (c *Compiler) and(bool) {
	endJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

// or short-circuits the other way around.
func (c *Compiler) or(bool) {
	elseJump := c.emitJump(vm.OpJumpIfFalse)
	endJump := c.emitJump(vm.OpJump)
	c.patchJump(elseJump)
	c.emitOp(vm.OpPop)
	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

// argumentList compiles a parenthesized argument list and returns its
// length.
func (c *Compiler) argumentList() byte {
	count := 0
	if !c.check(scanner.TokenRightParen) {
		for {
			c.expression()
			if count == maxArgs {
				c.error("cannot have more than 255 arguments")
			}
			count++
			if !c.match(scanner.TokenComma) {
				break
			}
		}
	}
	c.consume(scanner.TokenRightParen, "expect ')' after arguments")
	return byte(count)
}

func (c *Compiler) call(bool) {
	argCount := c.argumentList()
	c.emitOpByte(vm.OpCall, argCount)
}

// dot compiles property access: a set when an `=` follows in assignment
// position, a direct invocation when a call follows (skipping the bound
// method allocation), otherwise a get.
func (c *Compiler) dot(canAssign bool) {
	c.consume(scanner.TokenIdentifier, "expect property name after '.'")
	name := c.identifierConstant(c.previous)

	if canAssign && c.match(scanner.TokenEqual) {
		c.expression()
		c.emitOpByte(vm.OpSetProperty, name)
	} else if c.match(scanner.TokenLeftParen) {
		argCount := c.argumentList()
		c.emitOpByte(vm.OpInvoke, name)
		c.emitByte(argCount)
	} else {
		c.emitOpByte(vm.OpGetProperty, name)
	}
}

// this compiles as a read of the reserved local in slot zero.
func (c *Compiler) this(bool) {
	if c.currentClass == nil {
		c.error("cannot use 'this' outside of a class")
		return
	}
	c.variable(false)
}

// super loads the receiver and the superclass, then either invokes the
// method directly or binds it.
func (c *Compiler) super(bool) {
	if c.currentClass == nil {
		c.error("cannot use 'super' outside of a class")
	} else if !c.currentClass.hasSuperclass {
		c.error("cannot use 'super' in a class with no superclass")
	}

	c.consume(scanner.TokenDot, "expect '.' after 'super'")
	c.consume(scanner.TokenIdentifier, "expect superclass method name")
	name := c.identifierConstant(c.previous)

	c.namedVariable(syntheticToken("this"), false)
	if c.match(scanner.TokenLeftParen) {
		argCount := c.argumentList()
		c.namedVariable(syntheticToken("super"), false)
		c.emitOpByte(vm.OpSuperInvoke, name)
		c.emitByte(argCount)
	} else {
		c.namedVariable(syntheticToken("super"), false)
		c.emitOpByte(vm.OpGetSuper, name)
	}
}

// ---- Declarations and statements ----

func (c *Compiler) declaration() {
	switch {
	case c.match(scanner.TokenClass):
		c.classDeclaration()
	case c.match(scanner.TokenFun):
		c.funDeclaration()
	case c.match(scanner.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(scanner.TokenPrint):
		c.printStatement()
	case c.match(scanner.TokenFor):
		c.forStatement()
	case c.match(scanner.TokenIf):
		c.ifStatement()
	case c.match(scanner.TokenReturn):
		c.returnStatement()
	case c.match(scanner.TokenWhile):
		c.whileStatement()
	case c.match(scanner.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(scanner.TokenRightBrace) && !c.check(scanner.TokenEOF) {
		c.declaration()
	}
	c.consume(scanner.TokenRightBrace, "expect '}' after block")
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("expect variable name")
	if c.match(scanner.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(vm.OpNil)
	}
	c.consume(scanner.TokenSemicolon, "expect ';' after variable declaration")
	c.defineVariable(global)
}

// funDeclaration marks the name initialized before compiling the body so
// the function can call itself.
func (c *Compiler) funDeclaration() {
	global := c.parseVariable("expect function name")
	c.markInitialized()
	c.function(TypeFunction)
	c.defineVariable(global)
}

// function compiles a parameter list and body into a new function object,
// then emits the closure instruction with the upvalue descriptors the VM
// needs to capture at runtime.
func (c *Compiler) function(ft FunctionType) {
	c.beginFunc(ft)
	fc := c.fc
	c.beginScope()

	c.consume(scanner.TokenLeftParen, "expect '(' after function name")
	if !c.check(scanner.TokenRightParen) {
		for {
			fc.function.Arity++
			if fc.function.Arity > maxArgs {
				c.errorAtCurrent("cannot have more than 255 parameters")
			}
			constant := c.parseVariable("expect parameter name")
			c.defineVariable(constant)
			if !c.match(scanner.TokenComma) {
				break
			}
		}
	}
	c.consume(scanner.TokenRightParen, "expect ')' after parameters")
	c.consume(scanner.TokenLeftBrace, "expect '{' before function body")
	c.block()

	fn := c.endFunc()
	c.emitOpByte(vm.OpClosure, c.makeConstant(vm.ObjValue(fn)))
	for i := 0; i < fn.UpvalueCount; i++ {
		if fc.upvalues[i].isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(fc.upvalues[i].index)
	}
}

// method recognizes `init` by name and compiles it as an initializer.
func (c *Compiler) method() {
	c.consume(scanner.TokenIdentifier, "expect method name")
	constant := c.identifierConstant(c.previous)
	ft := TypeMethod
	if c.previous.Lexeme == "init" {
		ft = TypeInitializer
	}
	c.function(ft)
	c.emitOpByte(vm.OpMethod, constant)
}

// classDeclaration compiles the class object, its optional superclass
// clause, and its methods. With a superclass, a scope holding the local
// "super" wraps the method bodies so super calls can resolve it as an
// ordinary variable; the scope is opened and closed only in that case, so
// scope exit never pops a local that was never declared.
func (c *Compiler) classDeclaration() {
	c.consume(scanner.TokenIdentifier, "expect class name")
	className := c.previous
	nameConstant := c.identifierConstant(c.previous)
	c.declareVariable()

	c.emitOpByte(vm.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cc := classCompiler{enclosing: c.currentClass}
	c.currentClass = &cc

	if c.match(scanner.TokenLess) {
		c.consume(scanner.TokenIdentifier, "expect superclass name")
		c.variable(false)
		if identifiersEqual(className, c.previous) {
			c.error("a class cannot inherit from itself")
		}

		c.beginScope()
		c.addLocal(syntheticToken("super"))
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(vm.OpInherit)
		cc.hasSuperclass = true
	}

	// Reload the class so the method instructions find it on the stack.
	c.namedVariable(className, false)
	c.consume(scanner.TokenLeftBrace, "expect '{' before class body")
	for !c.check(scanner.TokenRightBrace) && !c.check(scanner.TokenEOF) {
		c.method()
	}
	c.consume(scanner.TokenRightBrace, "expect '}' after class body")
	c.emitOp(vm.OpPop)

	if cc.hasSuperclass {
		c.endScope()
	}
	c.currentClass = cc.enclosing
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(scanner.TokenSemicolon, "expect ';' after expression")
	c.emitOp(vm.OpPop)
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(scanner.TokenSemicolon, "expect ';' after value")
	c.emitOp(vm.OpPrint)
}

func (c *Compiler) ifStatement() {
	c.consume(scanner.TokenLeftParen, "expect '(' after 'if'")
	c.expression()
	c.consume(scanner.TokenRightParen, "expect ')' after condition")

	thenJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.statement()
	elseJump := c.emitJump(vm.OpJump)

	c.patchJump(thenJump)
	c.emitOp(vm.OpPop)
	if c.match(scanner.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := c.currentChunk().Count()
	c.consume(scanner.TokenLeftParen, "expect '(' after 'while'")
	c.expression()
	c.consume(scanner.TokenRightParen, "expect ')' after condition")

	exitJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(vm.OpPop)
}

// forStatement desugars to initializer, condition check, body, increment,
// loop. The increment textually precedes the body but runs after it, so
// its code is jumped over on the way in and looped back to on the way
// around.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(scanner.TokenLeftParen, "expect '(' after 'for'")
	switch {
	case c.match(scanner.TokenSemicolon):
		// No initializer.
	case c.match(scanner.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := c.currentChunk().Count()
	exitJump := -1
	if !c.match(scanner.TokenSemicolon) {
		c.expression()
		c.consume(scanner.TokenSemicolon, "expect ';' after loop condition")
		exitJump = c.emitJump(vm.OpJumpIfFalse)
		c.emitOp(vm.OpPop)
	}

	if !c.match(scanner.TokenRightParen) {
		bodyJump := c.emitJump(vm.OpJump)
		incrementStart := c.currentChunk().Count()
		c.expression()
		c.emitOp(vm.OpPop)
		c.consume(scanner.TokenRightParen, "expect ')' after for clauses")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(vm.OpPop)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.fc.funcType == TypeScript {
		c.error("cannot return from top-level code")
	}
	if c.match(scanner.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.fc.funcType == TypeInitializer {
		c.error("cannot return a value from an initializer")
	}
	c.expression()
	c.consume(scanner.TokenSemicolon, "expect ';' after return value")
	c.emitOp(vm.OpReturn)
}
