// Package rule implements the surface rule language: lexing, parsing,
// AST construction and validation, code generation, and the bytecode
// virtual machine that evaluates compiled rule programs against packets.
package rule

import "fmt"

// Reg indexes the VM's register file.
type Reg uint32

// Label indexes an instruction within a Program.
type Label uint32

// ObjKey identifies an Object in a Program's data pool, or, when its top
// bit is set, a packet pseudo-address resolved by the VM's memory
// controller instead of the pool.
type ObjKey uint32

// PacketMask flags an ObjKey as a packet pseudo-address rather than a
// pool index. Preserve this encoding: the bytecode format depends on it.
const PacketMask ObjKey = 0x80000000

// Reserved packet pseudo-addresses.
const (
	PacketSourceIP   ObjKey = 0 | PacketMask
	PacketSourcePort ObjKey = 1 | PacketMask
	PacketDestIP     ObjKey = 2 | PacketMask
	PacketDestPort   ObjKey = 3 | PacketMask
	PacketContent    ObjKey = 4 | PacketMask
)

// NumRegs is the minimum required register file size.
const NumRegs = 16

// Op is a bytecode instruction opcode.
type Op byte

const (
	OpSeq Op = iota
	OpAnd
	OpOr
	OpNot
	OpIte
	OpDrop
	OpReject
	OpRedirect
	OpRewrite
)

var opToStr = map[Op]string{
	OpSeq:      "SEQ",
	OpAnd:      "AND",
	OpOr:       "OR",
	OpNot:      "NOT",
	OpIte:      "ITE",
	OpDrop:     "DROP",
	OpReject:   "REJECT",
	OpRedirect: "REDIRECT",
	OpRewrite:  "REWRITE",
}

var strToOp map[string]Op

func init() {
	strToOp = make(map[string]Op, len(opToStr))
	for op, s := range opToStr {
		strToOp[s] = op
	}
}

func (op Op) String() string {
	if s, ok := opToStr[op]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", byte(op))
}

// Instruction is one bytecode instruction. The meaning of A, B, and C
// depends on Op:
//
//	SEQ(r=A, k1=B, k2=C)
//	AND(r=A, r1=B, r2=C)
//	OR(r=A, r1=B, r2=C)
//	NOT(r=A, r1=B)
//	ITE(r=A, Ltrue=B, Lfalse=C)
//	DROP, REJECT — no operands
//	REDIRECT(kAddr=A, kPort=B)
//	REWRITE(kFind=A, kReplace=B)
type Instruction struct {
	Op   Op
	A, B, C uint32
}

func (i Instruction) String() string {
	switch i.Op {
	case OpSeq:
		return fmt.Sprintf("SEQ r%d, k%d, k%d", i.A, i.B, i.C)
	case OpAnd:
		return fmt.Sprintf("AND r%d, r%d, r%d", i.A, i.B, i.C)
	case OpOr:
		return fmt.Sprintf("OR r%d, r%d, r%d", i.A, i.B, i.C)
	case OpNot:
		return fmt.Sprintf("NOT r%d, r%d", i.A, i.B)
	case OpIte:
		return fmt.Sprintf("ITE r%d, L%d, L%d", i.A, i.B, i.C)
	case OpDrop:
		return "DROP"
	case OpReject:
		return "REJECT"
	case OpRedirect:
		return fmt.Sprintf("REDIRECT k%d, k%d", i.A, i.B)
	case OpRewrite:
		return fmt.Sprintf("REWRITE k%d, k%d", i.A, i.B)
	default:
		return i.Op.String()
	}
}

// ObjectKind tags the variant held by an Object.
type ObjectKind byte

const (
	KindIP ObjectKind = iota
	KindPort
	KindData
)

// Object is a tagged value in a Program's data pool. Equality is
// structural. Data objects share their underlying byte slice by
// convention — nothing in this package mutates an Object in place, so
// aliasing a key into an Action is O(1).
type Object struct {
	Kind ObjectKind
	IP   [4]byte
	Port uint16
	Data []byte
}

// NewIPObject builds an IP object from four octets.
func NewIPObject(a, b, c, d byte) Object {
	return Object{Kind: KindIP, IP: [4]byte{a, b, c, d}}
}

// NewPortObject builds a Port object.
func NewPortObject(p uint16) Object {
	return Object{Kind: KindPort, Port: p}
}

// NewDataObject builds a Data object over the given bytes.
func NewDataObject(b []byte) Object {
	return Object{Kind: KindData, Data: b}
}

// Equal reports whether two objects are structurally equal.
func (o Object) Equal(other Object) bool {
	if o.Kind != other.Kind {
		return false
	}
	switch o.Kind {
	case KindIP:
		return o.IP == other.IP
	case KindPort:
		return o.Port == other.Port
	case KindData:
		if len(o.Data) != len(other.Data) {
			return false
		}
		for i := range o.Data {
			if o.Data[i] != other.Data[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (o Object) String() string {
	switch o.Kind {
	case KindIP:
		return fmt.Sprintf("IP(%d.%d.%d.%d)", o.IP[0], o.IP[1], o.IP[2], o.IP[3])
	case KindPort:
		return fmt.Sprintf("Port(%d)", o.Port)
	case KindData:
		return fmt.Sprintf("Data(%d bytes)", len(o.Data))
	default:
		return "Object(?)"
	}
}

// Program is a compiled rule program: a flat instruction sequence plus
// the data-object pool it references. Immutable once installed.
type Program struct {
	Instructions []Instruction
	Data         map[ObjKey]Object
}

// Object resolves a non-packet key from the pool. Callers needing packet
// pseudo-addresses go through VM.getObject instead.
func (p *Program) Object(key ObjKey) (Object, bool) {
	obj, ok := p.Data[key]
	return obj, ok
}
