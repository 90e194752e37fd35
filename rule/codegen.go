package rule

import "fmt"

// codegenEnv is the code-generation environment: object-pool insertion
// cursor, next register, next instruction label, named-object table, and
// the single pending-CONTINUE label slot. Grounded in
// original_source/rulelib/src/ast/codegen.rs's AstCodeGenEnv.
type codegenEnv struct {
	prog            Program
	namesToKeys     map[string]ObjKey
	nextObjKey      ObjKey
	curReg          Reg
	pendingContinue *Label

	trueKey  ObjKey
	falseKey ObjKey
}

func newCodegenEnv() *codegenEnv {
	env := &codegenEnv{
		prog: Program{
			Data: make(map[ObjKey]Object),
		},
		namesToKeys: make(map[string]ObjKey),
	}
	// Seed constants TRUE->Port(1) and FALSE->Port(0), inserted first and
	// referenced by every predicate lowering (spec.md §4.C).
	env.trueKey = env.insertObject("TRUE", NewPortObject(1))
	env.falseKey = env.insertObject("FALSE", NewPortObject(0))
	return env
}

func (e *codegenEnv) insertObject(name string, obj Object) ObjKey {
	key := e.nextObjKey
	e.prog.Data[key] = obj
	e.namesToKeys[name] = key
	e.nextObjKey++
	return key
}

func (e *codegenEnv) freshName() string {
	return fmt.Sprintf("$%d", e.nextObjKey)
}

func (e *codegenEnv) getObjKey(name string) (ObjKey, error) {
	key, ok := e.namesToKeys[name]
	if !ok {
		return 0, newCodegenErr("reference to undefined identifier "+name, ErrUndefinedIdent)
	}
	return key, nil
}

func (e *codegenEnv) getObj(name string) (Object, error) {
	key, err := e.getObjKey(name)
	if err != nil {
		return Object{}, err
	}
	return e.prog.Data[key], nil
}

func (e *codegenEnv) addInstr(instr Instruction) Label {
	label := Label(len(e.prog.Instructions))
	e.prog.Instructions = append(e.prog.Instructions, instr)
	return label
}

func (e *codegenEnv) updateInstr(label Label, instr Instruction) {
	e.prog.Instructions[label] = instr
}

// Codegen lowers a validated AST into a bytecode Program. Assumes ast was
// already produced by Build (and is therefore structurally valid).
func Codegen(ast *AST) (*Program, error) {
	env := newCodegenEnv()

	for _, tl := range ast.TopLevels {
		if err := codegenTopLevel(env, tl); err != nil {
			return nil, err
		}
	}
	return &env.prog, nil
}

func codegenTopLevel(env *codegenEnv, tl TopLevel) error {
	switch v := tl.(type) {
	case SetMode:
		// Validated only; emits no code. Accepted in any top-level
		// position, not just the first (spec.md §4.C).
		_ = v
		return nil
	case DefVar:
		return codegenVar(env, v.Name, v.Value)
	case DefRule:
		_, err := codegenRuleBody(env, v.Body)
		return err
	default:
		return newCodegenErr(fmt.Sprintf("unhandled top-level form %T", tl), nil)
	}
}

func codegenVar(env *codegenEnv, name string, value Operand) error {
	switch value.Kind {
	case OperandNumber:
		port, err := validatePort(value.Num)
		if err != nil {
			return err
		}
		env.insertObject(name, NewPortObject(port))
		return nil
	case OperandBool:
		// Reuse TRUE/FALSE rather than allocating a fresh pool entry.
		if value.Bool {
			env.namesToKeys[name] = env.trueKey
		} else {
			env.namesToKeys[name] = env.falseKey
		}
		return nil
	case OperandIdent:
		// Alias the existing key instead of cloning the object: the
		// language has no mutation, so two names for one pool entry is
		// observationally identical to a copy and avoids the wasted
		// allocation the original implementation flagged as a FIXME.
		key, err := env.getObjKey(value.Text)
		if err != nil {
			return err
		}
		env.namesToKeys[name] = key
		return nil
	case OperandString:
		if err := validateIPv4Literal(value.Text); err != nil {
			return err
		}
		env.insertObject(name, ipObjectFromLiteral(value.Text))
		return nil
	default:
		return newCodegenErr("unhandled def-var value kind", nil)
	}
}

func ipObjectFromLiteral(s string) Object {
	octets := parseIPv4Literal(s)
	return NewIPObject(octets[0], octets[1], octets[2], octets[3])
}

// codegenRuleBody lowers a rule body (an If or a terminal Outcome) and
// returns the label of the last instruction it emitted.
func codegenRuleBody(env *codegenEnv, body RuleBody) (Label, error) {
	switch v := body.(type) {
	case If:
		return codegenIf(env, v)
	case DropOutcome, RejectOutcome, RedirectOutcome, RewriteOutcome, ContinueOutcome:
		return codegenOutcome(env, v.(Outcome))
	default:
		return 0, newCodegenErr(fmt.Sprintf("unhandled rule body %T", body), nil)
	}
}

func codegenIf(env *codegenEnv, n If) (Label, error) {
	reg := env.curReg
	env.curReg++

	if err := codegenPredicate(env, n.Predicate, reg); err != nil {
		return 0, err
	}

	ite := env.addInstr(Instruction{Op: OpIte, A: uint32(reg)})

	cons, err := codegenRuleBody(env, n.Consequent)
	if err != nil {
		return 0, err
	}
	alt, err := codegenRuleBody(env, n.Alternative)
	if err != nil {
		return 0, err
	}

	env.updateInstr(ite, Instruction{Op: OpIte, A: uint32(reg), B: uint32(ite + 1), C: uint32(cons + 1)})
	env.curReg--

	if env.pendingContinue != nil {
		label := *env.pendingContinue
		existing := env.prog.Instructions[label]
		target := uint32(alt + 1)
		env.updateInstr(label, Instruction{Op: OpIte, A: existing.A, B: target, C: target})
		env.pendingContinue = nil
	}

	return alt, nil
}

func codegenPredicate(env *codegenEnv, pred Predicate, reg Reg) error {
	switch p := pred.(type) {
	case BoolPredicate:
		if p.Value {
			env.addInstr(Instruction{Op: OpSeq, A: uint32(reg), B: uint32(env.trueKey), C: uint32(env.trueKey)})
		} else {
			env.addInstr(Instruction{Op: OpSeq, A: uint32(reg), B: uint32(env.trueKey), C: uint32(env.falseKey)})
		}
		return nil
	case IdentPredicate:
		key, err := env.getObjKey(p.Name)
		if err != nil {
			return err
		}
		env.addInstr(Instruction{Op: OpSeq, A: uint32(reg), B: uint32(key), C: uint32(env.trueKey)})
		return nil
	case ExactPredicate:
		k1, err := resolveOperand(env, p.A)
		if err != nil {
			return err
		}
		k2, err := resolveOperand(env, p.B)
		if err != nil {
			return err
		}
		env.addInstr(Instruction{Op: OpSeq, A: uint32(reg), B: uint32(k1), C: uint32(k2)})
		return nil
	default:
		return newCodegenErr(fmt.Sprintf("unhandled predicate %T", pred), nil)
	}
}

// resolveOperand resolves an exact? operand to an ObjKey: reserved packet
// identifiers map to pseudo-addresses, other identifiers resolve against
// the named-object table, and literals are inserted as fresh pool
// entries under a synthetic name.
func resolveOperand(env *codegenEnv, op Operand) (ObjKey, error) {
	switch op.Kind {
	case OperandIdent:
		switch op.Text {
		case identPacketSourceIP:
			return PacketSourceIP, nil
		case identPacketSourcePort:
			return PacketSourcePort, nil
		case identPacketDestIP:
			return PacketDestIP, nil
		case identPacketDestPort:
			return PacketDestPort, nil
		case identPacketContent:
			return PacketContent, nil
		default:
			return env.getObjKey(op.Text)
		}
	case OperandString:
		if err := validateIPv4Literal(op.Text); err != nil {
			return 0, err
		}
		return env.insertObject(env.freshName(), ipObjectFromLiteral(op.Text)), nil
	case OperandNumber:
		port, err := validatePort(op.Num)
		if err != nil {
			return 0, err
		}
		return env.insertObject(env.freshName(), NewPortObject(port)), nil
	case OperandBool:
		if op.Bool {
			return env.trueKey, nil
		}
		return env.falseKey, nil
	default:
		return 0, newCodegenErr("unhandled operand kind", nil)
	}
}

// codegenOutcome lowers a terminal rule body to its instruction(s) and
// returns the label of the last one emitted.
func codegenOutcome(env *codegenEnv, outcome Outcome) (Label, error) {
	switch o := outcome.(type) {
	case DropOutcome:
		return env.addInstr(Instruction{Op: OpDrop}), nil
	case RejectOutcome:
		return env.addInstr(Instruction{Op: OpReject}), nil
	case RedirectOutcome:
		if err := validateIPv4Literal(o.Addr); err != nil {
			return 0, err
		}
		addrKey := env.insertObject(env.freshName(), ipObjectFromLiteral(o.Addr))
		portKey := env.insertObject(env.freshName(), NewPortObject(o.Port))
		return env.addInstr(Instruction{Op: OpRedirect, A: uint32(addrKey), B: uint32(portKey)}), nil
	case RewriteOutcome:
		findKey := env.insertObject(env.freshName(), NewDataObject([]byte(o.Pattern)))
		replKey := env.insertObject(env.freshName(), NewDataObject([]byte(o.ReplaceWith)))
		return env.addInstr(Instruction{Op: OpRewrite, A: uint32(findKey), B: uint32(replKey)}), nil
	case ContinueOutcome:
		reg := env.curReg
		env.curReg++
		env.addInstr(Instruction{Op: OpSeq, A: uint32(reg), B: uint32(env.trueKey), C: uint32(env.trueKey)})
		ite := env.addInstr(Instruction{Op: OpIte, A: uint32(reg)})
		env.curReg--
		env.pendingContinue = &ite
		return ite, nil
	default:
		return 0, newCodegenErr(fmt.Sprintf("unhandled outcome %T", outcome), nil)
	}
}
