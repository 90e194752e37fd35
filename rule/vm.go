package rule

// Packet is the VM's input for one evaluation: immutable for the
// duration of the run, discarded after the action is applied (spec.md
// §3).
type Packet struct {
	SourceIP   [4]byte
	SourcePort uint16
	DestIP     [4]byte
	DestPort   uint16
	Content    []byte
}

// ActionKind tags the terminal result of evaluating a program.
type ActionKind byte

const (
	ActionDrop ActionKind = iota
	ActionReject
	ActionRedirect
	ActionRewrite
)

// Action is the terminal result of one VM run.
type Action struct {
	Kind         ActionKind
	RedirectAddr Object // populated for ActionRedirect
	RedirectPort Object
	RewriteFind  Object // populated for ActionRewrite
	RewriteRepl  Object
}

func (a Action) String() string {
	switch a.Kind {
	case ActionDrop:
		return "DROP"
	case ActionReject:
		return "REJECT"
	case ActionRedirect:
		return "REDIRECT(" + a.RedirectAddr.String() + ", " + a.RedirectPort.String() + ")"
	case ActionRewrite:
		return "REWRITE(" + a.RewriteFind.String() + ", " + a.RewriteRepl.String() + ")"
	default:
		return "Action(?)"
	}
}

// VM is a deterministic register-and-label interpreter. The register
// file is strictly per-evaluation state; nothing here is shared across
// calls to Run (spec.md §4.D, §5).
type VM struct {
	registers [NumRegs]uint32
}

// NewVM builds a VM with a zeroed register file.
func NewVM() *VM {
	return &VM{}
}

// Reset zeroes the register file for reuse across evaluations.
func (vm *VM) Reset() {
	for i := range vm.registers {
		vm.registers[i] = 0
	}
}

// Run interprets program against packet and returns the resulting
// Action, or an error if the program terminates without one. With
// identical program and packet the VM always yields an identical action
// and register trace (spec.md §4.D).
func Run(program *Program, packet *Packet) (Action, error) {
	vm := NewVM()
	return vm.run(program, packet)
}

func (vm *VM) run(program *Program, packet *Packet) (Action, error) {
	pc := Label(0)
	for {
		if int(pc) >= len(program.Instructions) {
			return Action{}, ErrNoTerminalAction
		}
		instr := program.Instructions[pc]

		switch instr.Op {
		case OpSeq:
			a, err := vm.getObject(program, packet, ObjKey(instr.B))
			if err != nil {
				return Action{}, err
			}
			b, err := vm.getObject(program, packet, ObjKey(instr.C))
			if err != nil {
				return Action{}, err
			}
			if a.Equal(b) {
				vm.registers[instr.A] = 1
			} else {
				vm.registers[instr.A] = 0
			}
			pc++

		case OpAnd:
			vm.registers[instr.A] = vm.registers[instr.B] & vm.registers[instr.C]
			pc++

		case OpOr:
			vm.registers[instr.A] = vm.registers[instr.B] | vm.registers[instr.C]
			pc++

		case OpNot:
			vm.registers[instr.A] = ^vm.registers[instr.B]
			pc++

		case OpIte:
			if vm.registers[instr.A] != 0 {
				pc = Label(instr.B)
			} else {
				pc = Label(instr.C)
			}

		case OpDrop:
			return Action{Kind: ActionDrop}, nil

		case OpReject:
			return Action{Kind: ActionReject}, nil

		case OpRedirect:
			addr, err := vm.getObject(program, packet, ObjKey(instr.A))
			if err != nil {
				return Action{}, err
			}
			port, err := vm.getObject(program, packet, ObjKey(instr.B))
			if err != nil {
				return Action{}, err
			}
			return Action{Kind: ActionRedirect, RedirectAddr: addr, RedirectPort: port}, nil

		case OpRewrite:
			find, err := vm.getObject(program, packet, ObjKey(instr.A))
			if err != nil {
				return Action{}, err
			}
			repl, err := vm.getObject(program, packet, ObjKey(instr.B))
			if err != nil {
				return Action{}, err
			}
			return Action{Kind: ActionRewrite, RewriteFind: find, RewriteRepl: repl}, nil

		default:
			return Action{}, ErrBadLabel
		}
	}
}

// getObject is the VM's memory controller: pool keys (top bit clear)
// resolve against program.Data; packet pseudo-addresses (top bit set)
// resolve against the current packet. Resolved Open Question (spec §9):
// PacketDestIP/PacketDestPort read packet.Dest*, not packet.Source* — the
// original implementation's aliasing bug is fixed here.
func (vm *VM) getObject(program *Program, packet *Packet, key ObjKey) (Object, error) {
	if key&PacketMask == 0 {
		obj, ok := program.Data[key]
		if !ok {
			return Object{}, ErrMissingObjectKey
		}
		return obj, nil
	}

	switch key {
	case PacketSourceIP:
		return NewIPObject(packet.SourceIP[0], packet.SourceIP[1], packet.SourceIP[2], packet.SourceIP[3]), nil
	case PacketSourcePort:
		return NewPortObject(packet.SourcePort), nil
	case PacketDestIP:
		return NewIPObject(packet.DestIP[0], packet.DestIP[1], packet.DestIP[2], packet.DestIP[3]), nil
	case PacketDestPort:
		return NewPortObject(packet.DestPort), nil
	case PacketContent:
		return NewDataObject(packet.Content), nil
	default:
		return Object{}, ErrUnknownPseudoAddr
	}
}

// Compile runs the full A→B→C pipeline: parse, build, and generate
// bytecode for a rule-file's source text.
func Compile(src string) (*Program, error) {
	forms, err := ParseProgram(src)
	if err != nil {
		return nil, err
	}
	ast, err := Build(forms)
	if err != nil {
		return nil, err
	}
	prog, err := Codegen(ast)
	if err != nil {
		return nil, err
	}
	if err := ValidateProgram(prog); err != nil {
		return nil, err
	}
	return prog, nil
}

// ValidateProgram checks the structural invariants spec.md §8 requires of
// every compiled program: every ITE label is at most the instruction
// count (a jump to exactly the count ends the run with
// ErrNoTerminalAction), and every non-packet object key an instruction
// references exists in the pool.
func ValidateProgram(prog *Program) error {
	n := Label(len(prog.Instructions))
	checkLabel := func(l Label) error {
		if l > n {
			return ErrBadLabel
		}
		return nil
	}
	checkKey := func(k ObjKey) error {
		if k&PacketMask != 0 {
			return nil
		}
		if _, ok := prog.Data[k]; !ok {
			return ErrMissingObjectKey
		}
		return nil
	}

	for _, instr := range prog.Instructions {
		switch instr.Op {
		case OpSeq:
			if err := checkKey(ObjKey(instr.B)); err != nil {
				return err
			}
			if err := checkKey(ObjKey(instr.C)); err != nil {
				return err
			}
		case OpIte:
			if err := checkLabel(Label(instr.B)); err != nil {
				return err
			}
			if err := checkLabel(Label(instr.C)); err != nil {
				return err
			}
		case OpRedirect, OpRewrite:
			if err := checkKey(ObjKey(instr.A)); err != nil {
				return err
			}
			if err := checkKey(ObjKey(instr.B)); err != nil {
				return err
			}
		}
	}
	return nil
}
