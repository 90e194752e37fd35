package rule

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := Compile(src)
	require.NoError(t, err)
	return prog
}

// Scenario 1: IP block (spec.md §8.1).
func TestIPBlock(t *testing.T) {
	src := `
		(set-mode OPAQUE)
		(def-var bad-ip "192.0.1.2")
		(def-rule r (if (exact? :packet-source-ip bad-ip) DROP (REDIRECT "127.0.0.1" 80)))
	`
	prog := mustCompile(t, src)

	blocked := &Packet{SourceIP: [4]byte{192, 0, 1, 2}, SourcePort: 1234}
	action, err := Run(prog, blocked)
	require.NoError(t, err)
	require.Equal(t, ActionDrop, action.Kind)

	allowed := &Packet{SourceIP: [4]byte{192, 168, 0, 1}, SourcePort: 1234}
	action, err = Run(prog, allowed)
	require.NoError(t, err)
	require.Equal(t, ActionRedirect, action.Kind)
	require.Equal(t, NewIPObject(127, 0, 0, 1), action.RedirectAddr)
	require.Equal(t, NewPortObject(80), action.RedirectPort)
}

// Scenario 2: rewrite then fallthrough via CONTINUE (spec.md §8.2).
func TestRewriteThenFallthrough(t *testing.T) {
	src := `
		(set-mode OPAQUE)
		(def-var bad-ip "192.0.1.2")
		(def-rule rw (if (exact? :packet-source-ip bad-ip) (REWRITE "^bar$" "baz") CONTINUE))
		(def-rule r (if (exact? :packet-source-ip bad-ip) DROP (REDIRECT "127.0.0.1" 80)))
	`
	prog := mustCompile(t, src)

	fromBad := &Packet{SourceIP: [4]byte{192, 0, 1, 2}}
	action, err := Run(prog, fromBad)
	require.NoError(t, err)
	require.Equal(t, ActionRewrite, action.Kind)
	require.Equal(t, NewDataObject([]byte("^bar$")), action.RewriteFind)
	require.Equal(t, NewDataObject([]byte("baz")), action.RewriteRepl)

	fromOther := &Packet{SourceIP: [4]byte{10, 0, 0, 1}}
	action, err = Run(prog, fromOther)
	require.NoError(t, err)
	require.Equal(t, ActionRedirect, action.Kind)
}

// Scenario 3: port equality (spec.md §8.3).
func TestPortEquality(t *testing.T) {
	prog := &Program{
		Data: map[ObjKey]Object{
			0: NewPortObject(10),
			1: NewPortObject(10),
			2: NewPortObject(11),
		},
		Instructions: []Instruction{
			{Op: OpSeq, A: 0, B: 0, C: 1},
			{Op: OpSeq, A: 1, B: 0, C: 2},
			{Op: OpDrop},
		},
	}
	vm := NewVM()
	_, err := vm.run(prog, &Packet{})
	require.NoError(t, err)
	require.Equal(t, uint32(1), vm.registers[0])
	require.Equal(t, uint32(0), vm.registers[1])
}

// Scenario 4: logical gates (spec.md §8.4).
func TestLogicalGates(t *testing.T) {
	prog := &Program{
		Data: map[ObjKey]Object{
			0: NewDataObject([]byte{1, 4, 8}),
			1: NewDataObject([]byte{1, 4, 8}),
			2: NewPortObject(443),
		},
		Instructions: []Instruction{
			{Op: OpSeq, A: 0, B: 0, C: 1},
			{Op: OpSeq, A: 1, B: 0, C: 2},
			{Op: OpOr, A: 2, B: 0, C: 1},
			{Op: OpAnd, A: 3, B: 0, C: 1},
			{Op: OpIte, A: 2, B: 5, C: 6},
			{Op: OpNot, A: 5, B: 5},
			{Op: OpDrop},
			{Op: OpReject},
		},
	}
	vm := NewVM()
	action, err := vm.run(prog, &Packet{})
	require.NoError(t, err)
	require.Equal(t, ActionDrop, action.Kind)
	require.Equal(t, uint32(1), vm.registers[2])
	require.Equal(t, uint32(0), vm.registers[3])
	require.Equal(t, ^uint32(0), vm.registers[5])
}

// Scenario 5: redirect/rewrite branch (spec.md §8.5).
func TestRedirectRewriteBranch(t *testing.T) {
	prog := &Program{
		Data: map[ObjKey]Object{
			0: NewDataObject([]byte{0x41}),
			1: NewDataObject([]byte{0x61}),
			2: NewIPObject(127, 0, 0, 1),
			3: NewPortObject(442),
			4: NewDataObject([]byte{0x41, 0x41, 0x41}),
		},
		Instructions: []Instruction{
			{Op: OpSeq, A: 0, B: uint32(PacketContent), C: 4},
			{Op: OpIte, A: 0, B: 2, C: 3},
			{Op: OpRewrite, A: 0, B: 1},
			{Op: OpRedirect, A: 2, B: 3},
		},
	}

	matching := &Packet{Content: []byte{0x41, 0x41, 0x41}}
	action, err := Run(prog, matching)
	require.NoError(t, err)
	require.Equal(t, ActionRewrite, action.Kind)

	differing := &Packet{Content: []byte{0x42, 0x42, 0x42}}
	action, err = Run(prog, differing)
	require.NoError(t, err)
	require.Equal(t, ActionRedirect, action.Kind)
	require.Equal(t, NewIPObject(127, 0, 0, 1), action.RedirectAddr)
	require.Equal(t, NewPortObject(442), action.RedirectPort)
}

// Scenario 6: structural failure (spec.md §8.6).
func TestStructuralFailure(t *testing.T) {
	_, err := Compile(`(def-rule r (if 69 420 "foo"))`)
	require.Error(t, err)
}

func TestDestinationPseudoAddressesAreNotAliasedToSource(t *testing.T) {
	prog := &Program{
		Data: map[ObjKey]Object{},
		Instructions: []Instruction{
			{Op: OpSeq, A: 0, B: uint32(PacketSourceIP), C: uint32(PacketDestIP)},
			{Op: OpDrop},
		},
	}
	packet := &Packet{
		SourceIP: [4]byte{1, 2, 3, 4},
		DestIP:   [4]byte{5, 6, 7, 8},
	}
	vm := NewVM()
	_, err := vm.run(prog, packet)
	require.NoError(t, err)
	require.Equal(t, uint32(0), vm.registers[0], "source and dest IPs must not compare equal when they differ")
}

func TestUndefinedIdentifierIsCompileErrorNotPanic(t *testing.T) {
	_, err := Compile(`(def-rule r (if (exact? :packet-source-ip nope) DROP REJECT))`)
	require.ErrorIs(t, err, ErrUndefinedIdent)
}

func TestPortWidening(t *testing.T) {
	_, err := Compile(`(def-rule r (REDIRECT "127.0.0.1" 70000))`)
	require.ErrorIs(t, err, ErrPortOutOfRange)
}
