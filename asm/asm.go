// Package asm implements a textual format for flow methods.
//
// A file holds a sequence of methods. Each instruction occupies one line and
// comments start with '#':
//
//	method abs(int) int
//		load 0
//		push int 0
//		lt
//		if
//			load 0
//			neg
//			return
//		end
//		load 0
//		return
//	end
//
// Calls may only refer to methods defined earlier in the same file.
package asm

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/benbjohnson/flow"
)

// Error represents a syntax or type error at a given line.
type Error struct {
	Line int
	Msg  string
	Err  error
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Unwrap returns the underlying builder error, if any.
func (e *Error) Unwrap() error { return e.Err }

// Program represents the methods of a parsed file.
type Program struct {
	Methods []*flow.Method

	vars   map[*flow.Method]map[string]*flow.PlaceholderExpr
	labels map[*flow.Method]map[string]*flow.Label
}

// Method returns the method with the given name or nil if not defined.
func (p *Program) Method(name string) *flow.Method {
	for _, m := range p.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Var returns a variable assigned within m by name.
func (p *Program) Var(m *flow.Method, name string) *flow.PlaceholderExpr {
	return p.vars[m][name]
}

// Label returns a label bound within m by name.
func (p *Program) Label(m *flow.Method, name string) *flow.Label {
	return p.labels[m][name]
}

// Parse reads every method from r.
func Parse(r io.Reader) (*Program, error) {
	p := &parser{
		prog: &Program{
			vars:   make(map[*flow.Method]map[string]*flow.PlaceholderExpr),
			labels: make(map[*flow.Method]map[string]*flow.Label),
		},
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line++
		tokens, err := tokenize(scanner.Text())
		if err != nil {
			return nil, p.errorf("%s", err)
		} else if len(tokens) == 0 {
			continue
		}
		if err := p.parseLine(tokens); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if p.b != nil {
		return nil, p.errorf("method %s: unexpected end of file", p.name)
	}
	return p.prog, nil
}

// ParseString is like Parse but reads from a string.
func ParseString(s string) (*Program, error) {
	return Parse(strings.NewReader(s))
}

type parser struct {
	prog *Program
	line int

	// State of the method being parsed.
	b      *flow.Builder
	name   string
	depth  int
	vars   map[string]*flow.PlaceholderExpr
	labels map[string]*flow.Label
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &Error{Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseLine(tokens []string) error {
	if p.b == nil {
		if tokens[0] != "method" {
			return p.errorf("expected method, found %q", tokens[0])
		}
		return p.parseMethod(tokens[1:])
	}

	if err := p.parseInstr(tokens[0], tokens[1:]); err != nil {
		return err
	} else if p.b == nil {
		return nil // method closed
	}

	// Builder errors are sticky so the first one belongs to this line.
	if err := p.b.Err(); err != nil {
		return &Error{Line: p.line, Msg: err.Error(), Err: err}
	}
	return nil
}

// parseMethod starts a method from a header such as "abs(int) int".
func (p *parser) parseMethod(tokens []string) error {
	header := strings.Join(tokens, " ")
	lparen, rparen := strings.Index(header, "("), strings.LastIndex(header, ")")
	if lparen <= 0 || rparen < lparen {
		return p.errorf("invalid method header: %q", header)
	}

	name := strings.TrimSpace(header[:lparen])
	if p.prog.Method(name) != nil {
		return p.errorf("method %s already defined", name)
	}

	var args []flow.ValueType
	if s := strings.TrimSpace(header[lparen+1 : rparen]); s != "" {
		for _, field := range strings.Split(s, ",") {
			typ, err := ParseType(strings.TrimSpace(field))
			if err != nil {
				return p.errorf("%s", err)
			}
			args = append(args, typ)
		}
	}

	ret, err := ParseType(strings.TrimSpace(header[rparen+1:]))
	if err != nil {
		return p.errorf("%s", err)
	}

	p.b = flow.NewBuilder(name, args, ret)
	p.name = name
	p.depth = 0
	p.vars = make(map[string]*flow.PlaceholderExpr)
	p.labels = make(map[string]*flow.Label)
	if err := p.b.Err(); err != nil {
		return &Error{Line: p.line, Msg: err.Error(), Err: err}
	}
	return nil
}

func (p *parser) endMethod() error {
	m, err := p.b.Build()
	if err != nil {
		return &Error{Line: p.line, Msg: err.Error(), Err: err}
	}
	p.prog.Methods = append(p.prog.Methods, m)
	p.prog.vars[m] = p.vars
	p.prog.labels[m] = p.labels
	p.b = nil
	return nil
}

func (p *parser) parseInstr(op string, args []string) error {
	if n, ok := operands[op]; !ok {
		return p.errorf("unknown instruction: %q", op)
	} else if len(args) < n.min || len(args) > n.max {
		if n.min != n.max {
			return p.errorf("%s: expected %d to %d operands, found %d", op, n.min, n.max, len(args))
		}
		return p.errorf("%s: expected %d operand(s), found %d", op, n.max, len(args))
	}

	b := p.b
	switch op {
	case "push":
		v, err := parseLiteral(args[0], args[1])
		if err != nil {
			return p.errorf("%s", err)
		}
		b.Push(v)
	case "dup":
		b.Dup()
	case "pop":
		b.Pop()
	case "not":
		b.Not()
	case "neg":
		b.Neg()
	case "itor":
		b.IntToReal()
	case "rtoi":
		b.RealToInt()
	case "add":
		b.Add()
	case "sub":
		b.Sub()
	case "mul":
		b.Mul()
	case "div":
		b.Div()
	case "mod":
		b.Mod()
	case "and":
		b.And()
	case "or":
		b.Or()
	case "xor":
		b.Xor()
	case "eq":
		b.Eq()
	case "lt":
		b.Lt()
	case "gt":
		b.Gt()
	case "load", "store":
		slot, err := strconv.Atoi(args[0])
		if err != nil || slot < 0 {
			return p.errorf("%s: invalid slot: %q", op, args[0])
		}
		if op == "load" {
			b.Load(slot)
		} else {
			b.Store(slot)
		}
	case "assign":
		typ, err := ParseType(strings.Join(args[1:], " "))
		if err != nil {
			return p.errorf("%s", err)
		}
		v := p.vars[args[0]]
		if v == nil {
			v = flow.NewPlaceholder(args[0], typ)
			p.vars[args[0]] = v
		} else if !flow.TypesEqual(v.Type, typ) {
			return p.errorf("assign: variable %s redeclared as %s", args[0], flow.TypeString(typ))
		}
		b.Assign(v)
	case "label":
		b.Bind(p.label(args[0]))
	case "branch":
		b.Branch(p.label(args[0]))
	case "jump":
		b.Jump(p.label(args[0]))
	case "call":
		m := p.prog.Method(args[0])
		if m == nil {
			return p.errorf("call: undefined method: %s", args[0])
		}
		b.Call(m)
	case "return":
		b.Return()
	case "assert":
		expect := flow.AlwaysTrue
		if len(args) > 0 {
			c, err := flow.ParseClassification(args[0])
			if err != nil {
				return p.errorf("assert: %s", err)
			}
			expect = c
		}
		b.Assert(expect)
	case "if":
		p.depth++
		b.If()
	case "else":
		b.Else()
	case "loop":
		p.depth++
		b.Loop()
	case "break":
		b.Break()
	case "breakif":
		b.BreakIf()
	case "continue":
		b.Continue()
	case "end":
		if p.depth == 0 {
			return p.endMethod()
		}
		p.depth--
		b.End()
	}
	return nil
}

func (p *parser) label(name string) *flow.Label {
	l := p.labels[name]
	if l == nil {
		l = flow.NewLabel(name)
		p.labels[name] = l
	}
	return l
}

// operands holds the accepted operand counts per mnemonic.
var operands = map[string]struct{ min, max int }{
	"push": {2, 2}, "dup": {}, "pop": {},
	"not": {}, "neg": {}, "itor": {}, "rtoi": {},
	"add": {}, "sub": {}, "mul": {}, "div": {}, "mod": {},
	"and": {}, "or": {}, "xor": {}, "eq": {}, "lt": {}, "gt": {},
	"load": {1, 1}, "store": {1, 1}, "assign": {2, 3},
	"label": {1, 1}, "branch": {1, 1}, "jump": {1, 1}, "call": {1, 1},
	"return": {}, "assert": {0, 1},
	"if": {}, "else": {}, "loop": {}, "break": {}, "breakif": {}, "continue": {}, "end": {},
}

// ParseType returns the value type named by s.
func ParseType(s string) (flow.ValueType, error) {
	switch {
	case s == "bool":
		return flow.Boolean, nil
	case s == "int":
		return flow.Integer, nil
	case s == "real":
		return flow.Real, nil
	case s == "string":
		return flow.String, nil
	case s == "void":
		return flow.Empty, nil
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		elem, err := ParseType(s[1 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return flow.NewArrayType(elem), nil
	case strings.HasPrefix(s, "struct "):
		name := strings.TrimSpace(strings.TrimPrefix(s, "struct "))
		if name == "" {
			return nil, fmt.Errorf("structure name required")
		}
		return &flow.StructureType{Name: name}, nil
	default:
		return nil, fmt.Errorf("invalid type: %q", s)
	}
}

func parseLiteral(typ, value string) (*flow.LiteralExpr, error) {
	switch typ {
	case "bool":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid bool: %q", value)
		}
		return flow.NewBoolLiteral(v), nil
	case "int":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid int: %q", value)
		}
		return flow.NewIntegerLiteral(v), nil
	case "real":
		v, ok := new(big.Rat).SetString(value)
		if !ok {
			return nil, fmt.Errorf("invalid real: %q", value)
		}
		return flow.NewRealLiteral(v), nil
	case "string":
		v, err := strconv.Unquote(value)
		if err != nil {
			return nil, fmt.Errorf("invalid string: %s", value)
		}
		return flow.NewStringLiteral(v), nil
	default:
		return nil, fmt.Errorf("push: invalid literal type: %q", typ)
	}
}

// tokenize splits a line into whitespace separated tokens. Quoted strings
// form a single token and '#' outside of a string starts a comment.
func tokenize(line string) ([]string, error) {
	var tokens []string
	for {
		line = strings.TrimLeftFunc(line, unicode.IsSpace)
		if line == "" || line[0] == '#' {
			return tokens, nil
		}

		if line[0] == '"' {
			s, err := strconv.QuotedPrefix(line)
			if err != nil {
				return nil, fmt.Errorf("unterminated string")
			}
			tokens = append(tokens, s)
			line = line[len(s):]
			continue
		}

		i := strings.IndexFunc(line, func(r rune) bool { return unicode.IsSpace(r) || r == '#' })
		if i < 0 {
			i = len(line)
		}
		tokens = append(tokens, line[:i])
		line = line[i:]
	}
}
