package fireproof

import (
	"fmt"
	"strings"
)

// FlowOp identifies the kind of a [Flow] node.
type FlowOp uint8

const (
	// OpScalar is a leaf node naming a single guard.
	OpScalar FlowOp = iota
	// OpAnd is an n-ary conjunction node.
	OpAnd
	// OpOr is an n-ary disjunction node.
	OpOr
)

// Flow is one node of a parsed flow expression. A node is either a scalar
// (a guard name) or an AND/OR operator over an ordered list of children.
//
// Flow trees are built once by [ParseFlow] at registration time and treated
// as immutable afterwards.
type Flow struct {
	Op       FlowOp
	Name     string
	Children []*Flow

	// grouped marks a node produced by explicit parentheses. Grouped nodes
	// are never collapsed into a same-operator parent, which keeps the
	// structure intact for OpenAPI conversion.
	grouped bool
}

// ParseFlow parses a boolean expression over guard names using the infix
// operators && and || with parentheses for grouping. || binds loosest, both
// operators are left-associative, and negation is not part of the language:
// a ! anywhere is a parse error.
//
// Adjacent same-operator nodes are flattened into one n-ary node, so
// "a || b || c" parses to a single OR with three children.
func ParseFlow(expr string) (*Flow, error) {
	tokens, err := lexFlow(expr)
	if err != nil {
		return nil, err
	}

	p := &flowParser{tokens: tokens}
	flow, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected %q", ErrFlowSyntax, tok.text)
	}

	return flow, nil
}

// Evaluate computes the truth value of the flow under the given per-guard
// results. A scalar reads results[name]; AND is true iff all children are
// true; OR is true iff any child is true. Guard names absent from the map
// evaluate to false.
func (f *Flow) Evaluate(results map[string]bool) bool {
	switch f.Op {
	case OpScalar:
		return results[f.Name]
	case OpAnd:
		for _, child := range f.Children {
			if !child.Evaluate(results) {
				return false
			}
		}
		return true
	case OpOr:
		for _, child := range f.Children {
			if child.Evaluate(results) {
				return true
			}
		}
		return false
	}
	return false
}

// Depth returns 1 for a scalar and 1 plus the maximum child depth for an
// operator node.
func (f *Flow) Depth() int {
	if f.Op == OpScalar {
		return 1
	}

	max := 0
	for _, child := range f.Children {
		if d := child.Depth(); d > max {
			max = d
		}
	}
	return 1 + max
}

// Names returns the distinct guard names referenced by the flow, in order
// of first appearance.
func (f *Flow) Names() []string {
	seen := make(map[string]struct{})
	var names []string
	f.walkNames(seen, &names)
	return names
}

func (f *Flow) walkNames(seen map[string]struct{}, names *[]string) {
	if f.Op == OpScalar {
		if _, ok := seen[f.Name]; !ok {
			seen[f.Name] = struct{}{}
			*names = append(*names, f.Name)
		}
		return
	}
	for _, child := range f.Children {
		child.walkNames(seen, names)
	}
}

// String renders the flow back to its surface syntax.
func (f *Flow) String() string {
	switch f.Op {
	case OpScalar:
		return f.Name
	case OpAnd, OpOr:
		sep := " && "
		if f.Op == OpOr {
			sep = " || "
		}
		parts := make([]string, len(f.Children))
		for i, child := range f.Children {
			s := child.String()
			if child.Op != OpScalar {
				s = "(" + s + ")"
			}
			parts[i] = s
		}
		return strings.Join(parts, sep)
	}
	return ""
}

type tokenKind uint8

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenAnd
	tokenOr
	tokenLParen
	tokenRParen
)

type flowToken struct {
	kind tokenKind
	text string
}

func lexFlow(expr string) ([]flowToken, error) {
	var tokens []flowToken

	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, flowToken{kind: tokenLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, flowToken{kind: tokenRParen, text: ")"})
			i++
		case c == '&':
			if i+1 >= len(expr) || expr[i+1] != '&' {
				return nil, fmt.Errorf("%w: single & (use &&)", ErrFlowSyntax)
			}
			tokens = append(tokens, flowToken{kind: tokenAnd, text: "&&"})
			i += 2
		case c == '|':
			if i+1 >= len(expr) || expr[i+1] != '|' {
				return nil, fmt.Errorf("%w: single | (use ||)", ErrFlowSyntax)
			}
			tokens = append(tokens, flowToken{kind: tokenOr, text: "||"})
			i += 2
		case c == '!':
			return nil, fmt.Errorf("%w: negation is not supported", ErrFlowSyntax)
		case isIdentChar(c):
			start := i
			for i < len(expr) && isIdentChar(expr[i]) {
				i++
			}
			tokens = append(tokens, flowToken{kind: tokenIdent, text: expr[start:i]})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrFlowSyntax, string(c))
		}
	}

	tokens = append(tokens, flowToken{kind: tokenEOF})
	return tokens, nil
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '.'
}

type flowParser struct {
	tokens []flowToken
	pos    int
}

func (p *flowParser) peek() flowToken {
	return p.tokens[p.pos]
}

func (p *flowParser) next() flowToken {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *flowParser) parseOr() (*Flow, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	children := []*Flow{first}
	for p.peek().kind == tokenOr {
		p.next()
		child, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	return mergeChildren(OpOr, children), nil
}

func (p *flowParser) parseAnd() (*Flow, error) {
	first, err := p.parseFactor()
	if err != nil {
		return nil, err
	}

	children := []*Flow{first}
	for p.peek().kind == tokenAnd {
		p.next()
		child, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	return mergeChildren(OpAnd, children), nil
}

func (p *flowParser) parseFactor() (*Flow, error) {
	switch tok := p.next(); tok.kind {
	case tokenIdent:
		return &Flow{Op: OpScalar, Name: tok.text}, nil
	case tokenLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrFlowSyntax)
		}
		inner.grouped = true
		return inner, nil
	case tokenEOF:
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrFlowSyntax)
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrFlowSyntax, tok.text)
	}
}

// mergeChildren builds an n-ary node, splicing in same-operator children
// that were not parenthesized. A single child is returned as-is.
func mergeChildren(op FlowOp, children []*Flow) *Flow {
	if len(children) == 1 {
		return children[0]
	}

	merged := make([]*Flow, 0, len(children))
	for _, child := range children {
		if child.Op == op && !child.grouped {
			merged = append(merged, child.Children...)
		} else {
			merged = append(merged, child)
		}
	}

	return &Flow{Op: op, Children: merged}
}
