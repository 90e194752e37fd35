package store

import (
	"sync/atomic"

	"github.com/tcproxy/ruleproxy/rule"
)

// defaultProgramSource is the trivial program installed into a fresh
// cell, conventionally equivalent to "if source-ip == 127.0.0.1 then
// REDIRECT(127.0.0.1, 0) else DROP" (spec.md §4.F).
const defaultProgramSource = `(def-rule default (if (exact? :packet-source-ip "127.0.0.1") (REDIRECT "127.0.0.1" 0) DROP))`

// Cell is the process-wide active-program cell: a single-slot container
// holding the compiled program most recently installed (spec.md §3,
// §4.F). Implemented as an atomic pointer swap rather than a lock,
// matching the reader/writer discipline spec.md §9 calls out explicitly:
// readers never suspend and never observe a half-installed program.
type Cell struct {
	ptr atomic.Pointer[rule.Program]
}

// NewCell builds a cell pre-loaded with the default trivial program. It
// panics only if that fixed source string fails to compile, which would
// indicate a bug in this package, not bad user input.
func NewCell() *Cell {
	prog, err := rule.Compile(defaultProgramSource)
	if err != nil {
		panic("store: default program failed to compile: " + err.Error())
	}
	c := &Cell{}
	c.ptr.Store(prog)
	return c
}

// Snapshot returns the currently installed program. Callers must treat
// the returned pointer as immutable and must not hold it across a
// suspension point longer than necessary — in-flight evaluations
// continue against whatever snapshot they captured even after Install
// swaps in a new program.
func (c *Cell) Snapshot() *rule.Program {
	return c.ptr.Load()
}

// Install atomically swaps in a newly compiled program. Every subsequent
// call to Snapshot observes it; callers that already captured a prior
// snapshot are unaffected.
func (c *Cell) Install(prog *rule.Program) {
	c.ptr.Store(prog)
}
