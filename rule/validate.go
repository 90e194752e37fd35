package rule

import (
	"fmt"
	"strconv"
)

// Build lowers a concrete parse tree into a validated AST, enforcing
// arity, reserved-identifier, and argument-shape rules (spec.md §4.B).
// Each recognizer below returns either a populated node or an error; the
// caller sees only the first failure.
func Build(forms []SExpr) (*AST, error) {
	prog := &AST{}
	for _, form := range forms {
		tl, err := buildTopLevel(form)
		if err != nil {
			return nil, err
		}
		prog.TopLevels = append(prog.TopLevels, tl)
	}
	return prog, nil
}

func buildTopLevel(form SExpr) (TopLevel, error) {
	if form.Kind != SExprList {
		return nil, newValidateErr(fmt.Sprintf("top-level form must be a list, got %s", form), ErrBadPredicateShape)
	}
	if len(form.List) == 0 {
		return nil, newValidateErr("empty top-level form", ErrArityMismatch)
	}
	head := form.List[0]
	if head.Kind != SExprIdent {
		return nil, newValidateErr("top-level form must begin with an identifier", ErrUnknownSpecialForm)
	}

	switch head.Text {
	case "set-mode":
		return buildSetMode(form)
	case "def-var":
		return buildDefVar(form)
	case "def-rule":
		return buildDefRule(form)
	default:
		return nil, newValidateErr("unknown top-level form "+head.Text, ErrUnknownSpecialForm)
	}
}

func buildSetMode(form SExpr) (TopLevel, error) {
	args := form.List[1:]
	if len(args) != 1 {
		return nil, newValidateErr("set-mode takes exactly 1 argument", ErrArityMismatch)
	}
	if args[0].Kind != SExprIdent {
		return nil, newValidateErr("set-mode argument must be an identifier", ErrBadPredicateShape)
	}
	switch ProxyMode(args[0].Text) {
	case ModeOpaque, ModeTransparent:
		return SetMode{Mode: ProxyMode(args[0].Text)}, nil
	default:
		return nil, newValidateErr("unknown proxy mode "+args[0].Text, ErrUnknownSpecialForm)
	}
}

func buildDefVar(form SExpr) (TopLevel, error) {
	args := form.List[1:]
	if len(args) != 2 {
		return nil, newValidateErr("def-var takes exactly 2 arguments", ErrArityMismatch)
	}
	name, err := identName(args[0], "def-var name")
	if err != nil {
		return nil, err
	}
	if reservedIdentifiers[name] {
		return nil, newValidateErr("def-var name "+name+" is reserved", ErrReservedIdentifier)
	}
	val, err := buildOperand(args[1])
	if err != nil {
		return nil, err
	}
	return DefVar{Name: name, Value: val}, nil
}

func buildDefRule(form SExpr) (TopLevel, error) {
	args := form.List[1:]
	if len(args) != 2 {
		return nil, newValidateErr("def-rule takes exactly 2 arguments", ErrArityMismatch)
	}
	name, err := identName(args[0], "def-rule name")
	if err != nil {
		return nil, err
	}
	if reservedIdentifiers[name] {
		return nil, newValidateErr("def-rule name "+name+" is reserved", ErrReservedIdentifier)
	}
	body, err := buildRuleBody(args[1])
	if err != nil {
		return nil, err
	}
	return DefRule{Name: name, Body: body}, nil
}

func identName(s SExpr, what string) (string, error) {
	if s.Kind != SExprIdent {
		return "", newValidateErr(what+" must be an identifier", ErrBadPredicateShape)
	}
	return s.Text, nil
}

func buildRuleBody(form SExpr) (RuleBody, error) {
	switch form.Kind {
	case SExprIdent:
		switch form.Text {
		case "DROP":
			return DropOutcome{}, nil
		case "REJECT":
			return RejectOutcome{}, nil
		case "CONTINUE":
			return ContinueOutcome{}, nil
		default:
			return nil, newValidateErr("unknown bare outcome "+form.Text, ErrUnknownOutcome)
		}
	case SExprList:
		if len(form.List) == 0 {
			return nil, newValidateErr("empty rule body", ErrArityMismatch)
		}
		head := form.List[0]
		if head.Kind != SExprIdent {
			return nil, newValidateErr("rule body must begin with an identifier", ErrBadPredicateShape)
		}
		switch head.Text {
		case "if":
			return buildIf(form)
		case "REDIRECT":
			return buildRedirect(form)
		case "REWRITE":
			return buildRewrite(form)
		default:
			return nil, newValidateErr("unknown rule body form "+head.Text, ErrUnknownOutcome)
		}
	default:
		return nil, newValidateErr(fmt.Sprintf("rule body has disallowed shape: %s", form), ErrBadPredicateShape)
	}
}

func buildIf(form SExpr) (RuleBody, error) {
	args := form.List[1:]
	if len(args) != 3 {
		return nil, newValidateErr("if takes exactly 3 arguments", ErrArityMismatch)
	}
	pred, err := buildPredicate(args[0])
	if err != nil {
		return nil, err
	}
	cons, err := buildRuleBody(args[1])
	if err != nil {
		return nil, err
	}
	alt, err := buildRuleBody(args[2])
	if err != nil {
		return nil, err
	}
	return If{Predicate: pred, Consequent: cons, Alternative: alt}, nil
}

// buildPredicate enforces spec.md §4.B's type-shape check: the predicate
// must be an identifier, an (exact? a b) s-expression, or a boolean
// literal #t/#f; number and string literals are rejected.
func buildPredicate(form SExpr) (Predicate, error) {
	switch form.Kind {
	case SExprIdent:
		return IdentPredicate{Name: form.Text}, nil
	case SExprBool:
		return BoolPredicate{Value: form.Bool}, nil
	case SExprList:
		if len(form.List) == 0 {
			return nil, newValidateErr("empty predicate expression", ErrArityMismatch)
		}
		head := form.List[0]
		if head.Kind != SExprIdent || head.Text != "exact?" {
			return nil, newValidateErr("unknown predicate form", ErrBadPredicateShape)
		}
		args := form.List[1:]
		if len(args) != 2 {
			return nil, newValidateErr("exact? takes exactly 2 arguments", ErrArityMismatch)
		}
		a, err := buildOperand(args[0])
		if err != nil {
			return nil, err
		}
		b, err := buildOperand(args[1])
		if err != nil {
			return nil, err
		}
		return ExactPredicate{A: a, B: b}, nil
	default:
		return nil, newValidateErr(fmt.Sprintf("predicate has disallowed shape: %s", form), ErrBadPredicateShape)
	}
}

func buildOperand(form SExpr) (Operand, error) {
	switch form.Kind {
	case SExprIdent:
		return Operand{Kind: OperandIdent, Text: form.Text}, nil
	case SExprString:
		return Operand{Kind: OperandString, Text: form.Text}, nil
	case SExprNumber:
		return Operand{Kind: OperandNumber, Num: form.Num}, nil
	case SExprBool:
		return Operand{Kind: OperandBool, Bool: form.Bool}, nil
	default:
		return Operand{}, newValidateErr("nested expressions are not supported as values", ErrBadPredicateShape)
	}
}

func buildRedirect(form SExpr) (RuleBody, error) {
	args := form.List[1:]
	if len(args) != 2 {
		return nil, newValidateErr("REDIRECT takes exactly 2 arguments", ErrArityMismatch)
	}
	if args[0].Kind != SExprString {
		return nil, newValidateErr("REDIRECT address must be a string", ErrBadPredicateShape)
	}
	if err := validateIPv4Literal(args[0].Text); err != nil {
		return nil, err
	}
	if args[1].Kind != SExprNumber {
		return nil, newValidateErr("REDIRECT port must be a number", ErrBadPredicateShape)
	}
	port, err := validatePort(args[1].Num)
	if err != nil {
		return nil, err
	}
	return RedirectOutcome{Addr: args[0].Text, Port: port}, nil
}

func buildRewrite(form SExpr) (RuleBody, error) {
	args := form.List[1:]
	if len(args) != 2 {
		return nil, newValidateErr("REWRITE takes exactly 2 arguments", ErrArityMismatch)
	}
	if args[0].Kind != SExprString || args[1].Kind != SExprString {
		return nil, newValidateErr("REWRITE arguments must be strings", ErrBadPredicateShape)
	}
	return RewriteOutcome{Pattern: args[0].Text, ReplaceWith: args[1].Text}, nil
}

func validateIPv4Literal(s string) error {
	var a, b, c, d int
	n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d)
	if err != nil || n != 4 {
		return newValidateErr("invalid IPv4 literal "+strconv.Quote(s), ErrInvalidIPLiteral)
	}
	for _, octet := range []int{a, b, c, d} {
		if octet < 0 || octet > 255 {
			return newValidateErr("invalid IPv4 literal "+strconv.Quote(s), ErrInvalidIPLiteral)
		}
	}
	return nil
}

func parseIPv4Literal(s string) [4]byte {
	var a, b, c, d int
	fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d)
	return [4]byte{byte(a), byte(b), byte(c), byte(d)}
}

// validatePort widens port checking to the full u16 range. Resolved Open
// Question (spec §9): the surface accepts any integer in [0, 65535] and
// rejects the rest at validation time, instead of silently truncating to
// a byte.
func validatePort(n int64) (uint16, error) {
	if n < 0 || n > 65535 {
		return 0, newValidateErr(fmt.Sprintf("port %d out of range [0, 65535]", n), ErrPortOutOfRange)
	}
	return uint16(n), nil
}
