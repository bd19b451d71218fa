// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graphstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrSyntax is returned for queries outside the supported Cypher subset.
	ErrSyntax = errors.New("query syntax error")

	// ErrReadOnly is returned for queries containing write clauses.
	ErrReadOnly = errors.New("query attempts to modify the graph")

	// ErrUnknownIdentifier is returned for labels, relationship types,
	// properties or variables the graph does not define.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrTooManyMatches is returned when a pattern expands past the
	// binding limit.
	ErrTooManyMatches = errors.New("query matches too many paths")
)

var writeKeywords = map[string]bool{
	"CREATE": true, "MERGE": true, "DELETE": true, "DETACH": true,
	"SET": true, "REMOVE": true, "DROP": true, "ALTER": true,
	"COPY": true, "LOAD": true, "INSTALL": true, "FOREACH": true,
}

var unsupportedClauses = map[string]bool{
	"OPTIONAL": true, "UNWIND": true, "WITH": true, "CALL": true,
	"UNION": true, "EXPLAIN": true, "PROFILE": true,
}

var aggregateFuncs = map[string]bool{
	"count": true, "collect": true, "min": true, "max": true, "sum": true, "avg": true,
}

var scalarFuncs = map[string]bool{
	"tolower": true, "lower": true, "toupper": true, "upper": true,
	"size": true, "length": true, "trim": true, "tostring": true,
}

// =============================================================================
// AST
// =============================================================================

type direction int

const (
	dirEither direction = iota
	dirOut
	dirIn
)

type nodePattern struct {
	variable string
	label    string
	props    map[string]any
}

type relPattern struct {
	variable string
	typ      string
	dir      direction
	props    map[string]any
}

// pathPattern alternates nodes and relationships: nodes[i] -rels[i]- nodes[i+1].
type pathPattern struct {
	nodes []nodePattern
	rels  []relPattern
}

type varKind int

const (
	varNode varKind = iota
	varRel
)

type varInfo struct {
	kind  varKind
	label string // node label or relationship type, "" when unconstrained
	index int
}

type returnItem struct {
	expr  expr
	agg   *aggregate
	alias string
}

func (r returnItem) column() string {
	if r.alias != "" {
		return r.alias
	}
	if r.agg != nil {
		return r.agg.String()
	}
	return r.expr.String()
}

type orderItem struct {
	expr   expr
	agg    *aggregate
	desc   bool
	column int // index into RETURN items, or -1 to evaluate on the binding
}

// Plan is a validated query ready to run.
type Plan struct {
	paths    []pathPattern
	where    expr
	distinct bool
	items    []returnItem
	order    []orderItem
	skip     int
	limit    int
	vars     map[string]varInfo
}

// Columns returns the result column names.
func (p *Plan) Columns() []string {
	cols := make([]string, len(p.items))
	for i, it := range p.items {
		cols[i] = it.column()
	}
	return cols
}

// =============================================================================
// Parser
// =============================================================================

type parser struct {
	toks    []token
	pos     int
	catalog Catalog
	plan    *Plan
}

// Parse validates query against catalog and returns a runnable Plan.
//
// # Description
//
// The supported subset is MATCH (one or more, comma-separated paths), an
// optional WHERE, RETURN [DISTINCT] with aliases and aggregates, ORDER BY,
// SKIP and LIMIT. Anything that could modify the graph is rejected with
// ErrReadOnly before parsing.
//
// # Examples
//
//	plan, err := graphstore.Parse(
//	    "MATCH (s:Subtopic)-[:SUBTOPIC_OF]->(t:Topic) WHERE t.name = 'Go' RETURN s.name",
//	    graphstore.DefaultCatalog())
func Parse(query string, catalog Catalog) (*Plan, error) {
	toks, err := lex(query)
	if err != nil {
		return nil, err
	}
	for i, t := range toks {
		if t.kind != tokIdent || t.quoted || !writeKeywords[strings.ToUpper(t.text)] {
			continue
		}
		// t.set or :SET are names, not clauses.
		if i > 0 && (toks[i-1].punct(".") || toks[i-1].punct(":")) {
			continue
		}
		return nil, fmt.Errorf("%w: %s is not allowed", ErrReadOnly, strings.ToUpper(t.text))
	}

	p := &parser{
		toks:    toks,
		catalog: catalog,
		plan:    &Plan{limit: -1, vars: make(map[string]varInfo)},
	}
	if err := p.parseQuery(); err != nil {
		return nil, err
	}
	return p.plan, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
}

func (p *parser) expectPunct(s string) error {
	if t := p.next(); !t.punct(s) {
		return p.errorf("expected %q, found %s", s, t)
	}
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	if t := p.next(); !t.is(kw) {
		return p.errorf("expected %s, found %s", kw, t)
	}
	return nil
}

func (p *parser) expectIdent() (string, error) {
	t := p.next()
	if t.kind != tokIdent {
		return "", p.errorf("expected a name, found %s", t)
	}
	return t.text, nil
}

func (p *parser) parseQuery() error {
	if !p.peek().is("MATCH") {
		t := p.peek()
		if t.kind == tokIdent && unsupportedClauses[strings.ToUpper(t.text)] {
			return p.errorf("%s is not supported", strings.ToUpper(t.text))
		}
		return p.errorf("query must start with MATCH, found %s", t)
	}

	var wheres []expr
	for p.peek().is("MATCH") {
		p.next()
		for {
			path, err := p.parsePath()
			if err != nil {
				return err
			}
			p.plan.paths = append(p.plan.paths, path)
			if !p.peek().punct(",") {
				break
			}
			p.next()
		}
		if p.peek().is("WHERE") {
			p.next()
			w, err := p.parseExpr()
			if err != nil {
				return err
			}
			wheres = append(wheres, w)
		}
	}
	for _, w := range wheres {
		if p.plan.where == nil {
			p.plan.where = w
		} else {
			p.plan.where = &binaryExpr{op: "AND", left: p.plan.where, right: w}
		}
	}

	if t := p.peek(); t.kind == tokIdent && unsupportedClauses[strings.ToUpper(t.text)] {
		return p.errorf("%s is not supported", strings.ToUpper(t.text))
	}
	if err := p.expectKeyword("RETURN"); err != nil {
		return err
	}
	if p.peek().is("DISTINCT") {
		p.next()
		p.plan.distinct = true
	}
	if err := p.parseReturnItems(); err != nil {
		return err
	}

	if p.peek().is("ORDER") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		if err := p.parseOrderItems(); err != nil {
			return err
		}
	}
	if p.peek().is("SKIP") {
		p.next()
		n, err := p.parseCount("SKIP")
		if err != nil {
			return err
		}
		p.plan.skip = n
	}
	if p.peek().is("LIMIT") {
		p.next()
		n, err := p.parseCount("LIMIT")
		if err != nil {
			return err
		}
		p.plan.limit = n
	}
	if p.peek().punct(";") {
		p.next()
	}
	if t := p.peek(); t.kind != tokEOF {
		return p.errorf("unexpected %s", t)
	}
	return nil
}

func (p *parser) parseCount(clause string) (int, error) {
	t := p.next()
	if t.kind != tokNumber {
		return 0, p.errorf("%s needs a number, found %s", clause, t)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil || n < 0 {
		return 0, p.errorf("%s needs a non-negative integer, found %s", clause, t.text)
	}
	return n, nil
}

// =============================================================================
// Patterns
// =============================================================================

func (p *parser) parsePath() (pathPattern, error) {
	var path pathPattern
	n, err := p.parseNode()
	if err != nil {
		return path, err
	}
	path.nodes = append(path.nodes, n)

	for p.peek().punct("-") || (p.peek().punct("<") && p.peekAt(1).punct("-")) {
		r, err := p.parseRel()
		if err != nil {
			return path, err
		}
		n, err := p.parseNode()
		if err != nil {
			return path, err
		}
		path.rels = append(path.rels, r)
		path.nodes = append(path.nodes, n)
	}
	return path, nil
}

func (p *parser) parseNode() (nodePattern, error) {
	var n nodePattern
	if err := p.expectPunct("("); err != nil {
		return n, err
	}
	if t := p.peek(); t.kind == tokIdent {
		n.variable = p.next().text
	}
	if p.peek().punct(":") {
		p.next()
		label, err := p.expectIdent()
		if err != nil {
			return n, err
		}
		if _, ok := p.catalog.node(label); !ok {
			return n, fmt.Errorf("%w: node label %q", ErrUnknownIdentifier, label)
		}
		n.label = label
		if p.peek().punct(":") {
			return n, p.errorf("multiple labels are not supported")
		}
	}
	if p.peek().punct("{") {
		props, err := p.parsePropMap()
		if err != nil {
			return n, err
		}
		for key := range props {
			if err := p.checkNodeProperty(n.label, key); err != nil {
				return n, err
			}
		}
		n.props = props
	}
	if err := p.expectPunct(")"); err != nil {
		return n, err
	}
	if err := p.declare(n.variable, varNode, n.label); err != nil {
		return n, err
	}
	return n, nil
}

func (p *parser) parseRel() (relPattern, error) {
	var r relPattern
	left := false
	if p.peek().punct("<") {
		p.next()
		left = true
	}
	if err := p.expectPunct("-"); err != nil {
		return r, err
	}
	if p.peek().punct("[") {
		p.next()
		if t := p.peek(); t.kind == tokIdent {
			r.variable = p.next().text
		}
		if p.peek().punct(":") {
			p.next()
			typ, err := p.expectIdent()
			if err != nil {
				return r, err
			}
			if _, ok := p.catalog.rel(typ); !ok {
				return r, fmt.Errorf("%w: relationship type %q", ErrUnknownIdentifier, typ)
			}
			r.typ = typ
			if p.peek().punct("|") {
				return r, p.errorf("relationship type alternatives are not supported")
			}
		}
		if p.peek().punct("*") {
			return r, p.errorf("variable-length relationships are not supported")
		}
		if p.peek().punct("{") {
			props, err := p.parsePropMap()
			if err != nil {
				return r, err
			}
			for key := range props {
				if err := p.checkRelProperty(r.typ, key); err != nil {
					return r, err
				}
			}
			r.props = props
		}
		if err := p.expectPunct("]"); err != nil {
			return r, err
		}
	}
	if err := p.expectPunct("-"); err != nil {
		return r, err
	}
	right := false
	if p.peek().punct(">") {
		p.next()
		right = true
	}
	switch {
	case left && right:
		return r, p.errorf("relationship cannot point both ways")
	case right:
		r.dir = dirOut
	case left:
		r.dir = dirIn
	default:
		r.dir = dirEither
	}
	if r.variable != "" {
		if _, exists := p.plan.vars[r.variable]; exists {
			return r, p.errorf("variable %q is already bound", r.variable)
		}
	}
	if err := p.declare(r.variable, varRel, r.typ); err != nil {
		return r, err
	}
	return r, nil
}

// declare registers a pattern variable. Anonymous elements get no slot.
func (p *parser) declare(name string, kind varKind, label string) error {
	if name == "" {
		return nil
	}
	if prev, ok := p.plan.vars[name]; ok {
		if prev.kind != kind {
			return p.errorf("variable %q is used as both node and relationship", name)
		}
		if prev.label != "" && label != "" && prev.label != label {
			return p.errorf("variable %q has conflicting labels %s and %s", name, prev.label, label)
		}
		if prev.label == "" {
			prev.label = label
			p.plan.vars[name] = prev
		}
		return nil
	}
	p.plan.vars[name] = varInfo{kind: kind, label: label, index: len(p.plan.vars)}
	return nil
}

func (p *parser) parsePropMap() (map[string]any, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	props := make(map[string]any)
	for !p.peek().punct("}") {
		key, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		props[key] = val
		if p.peek().punct(",") {
			p.next()
			continue
		}
		if !p.peek().punct("}") {
			return nil, p.errorf("expected , or } in property map, found %s", p.peek())
		}
	}
	p.next()
	return props, nil
}

func (p *parser) parseLiteral() (any, error) {
	t := p.next()
	switch {
	case t.kind == tokString:
		return t.text, nil
	case t.kind == tokNumber:
		return strconv.ParseFloat(t.text, 64)
	case t.punct("-") && p.peek().kind == tokNumber:
		f, err := strconv.ParseFloat(p.next().text, 64)
		return -f, err
	case t.is("TRUE"):
		return true, nil
	case t.is("FALSE"):
		return false, nil
	case t.is("NULL"):
		return nil, nil
	case t.punct("$"):
		return nil, p.errorf("query parameters are not supported")
	default:
		return nil, p.errorf("expected a literal, found %s", t)
	}
}

func (p *parser) checkNodeProperty(label, prop string) error {
	if label == "" {
		if p.catalog.anyNodeHas(prop) {
			return nil
		}
		return fmt.Errorf("%w: property %q", ErrUnknownIdentifier, prop)
	}
	n, _ := p.catalog.node(label)
	if !hasProperty(n.Properties, prop) {
		return fmt.Errorf("%w: property %s.%s", ErrUnknownIdentifier, label, prop)
	}
	return nil
}

func (p *parser) checkRelProperty(typ, prop string) error {
	if typ == "" {
		if p.catalog.anyRelHas(prop) {
			return nil
		}
		return fmt.Errorf("%w: relationship property %q", ErrUnknownIdentifier, prop)
	}
	r, _ := p.catalog.rel(typ)
	if !hasProperty(r.Properties, prop) {
		return fmt.Errorf("%w: property %s.%s", ErrUnknownIdentifier, typ, prop)
	}
	return nil
}

// =============================================================================
// RETURN and ORDER BY
// =============================================================================

func (p *parser) parseReturnItems() error {
	if p.peek().punct("*") {
		return p.errorf("RETURN * is not supported, name the values to return")
	}
	for {
		item, err := p.parseProjection()
		if err != nil {
			return err
		}
		if p.peek().is("AS") {
			p.next()
			alias, err := p.expectIdent()
			if err != nil {
				return err
			}
			item.alias = alias
		}
		p.plan.items = append(p.plan.items, item)
		if !p.peek().punct(",") {
			return nil
		}
		p.next()
	}
}

// parseProjection reads an aggregate call or an expression.
func (p *parser) parseProjection() (returnItem, error) {
	t := p.peek()
	if t.kind == tokIdent && !t.quoted && aggregateFuncs[strings.ToLower(t.text)] && p.peekAt(1).punct("(") {
		agg, err := p.parseAggregate()
		if err != nil {
			return returnItem{}, err
		}
		return returnItem{agg: agg}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return returnItem{}, err
	}
	return returnItem{expr: e}, nil
}

func (p *parser) parseAggregate() (*aggregate, error) {
	name := strings.ToLower(p.next().text)
	p.next() // (
	agg := &aggregate{fn: name}
	if p.peek().punct("*") {
		if name != "count" {
			return nil, p.errorf("%s(*) is not supported", name)
		}
		p.next()
	} else {
		if p.peek().is("DISTINCT") {
			p.next()
			agg.distinct = true
		}
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		agg.arg = arg
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return agg, nil
}

func (p *parser) parseOrderItems() error {
	for {
		item, err := p.parseProjection()
		if err != nil {
			return err
		}
		o := orderItem{expr: item.expr, agg: item.agg, column: -1}
		if t := p.peek(); t.is("DESC") || t.is("DESCENDING") {
			p.next()
			o.desc = true
		} else if t.is("ASC") || t.is("ASCENDING") {
			p.next()
		}

		text := item.column()
		for i, ri := range p.plan.items {
			if ri.alias == text || ri.column() == text {
				o.column = i
				break
			}
		}
		if o.column < 0 {
			if o.agg != nil {
				return p.errorf("ORDER BY %s must also appear in RETURN", text)
			}
			if ref, ok := o.expr.(*varRef); ok && ref.index < 0 {
				return fmt.Errorf("%w: variable %q", ErrUnknownIdentifier, ref.name)
			}
		}
		p.plan.order = append(p.plan.order, o)
		if !p.peek().punct(",") {
			return nil
		}
		p.next()
	}
}

// =============================================================================
// Expressions
// =============================================================================

// parseExpr parses a boolean expression.
func (p *parser) parseExpr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().is("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "OR", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().is("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "AND", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (expr, error) {
	if p.peek().is("NOT") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	switch {
	case t.punct("=") || t.punct("<>") || t.punct("!=") || t.punct("<") ||
		t.punct("<=") || t.punct(">") || t.punct(">="):
		p.next()
		op := t.text
		if op == "!=" {
			op = "<>"
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: op, left: left, right: right}, nil

	case t.is("CONTAINS"):
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: "CONTAINS", left: left, right: right}, nil

	case t.is("STARTS") || t.is("ENDS"):
		p.next()
		if err := p.expectKeyword("WITH"); err != nil {
			return nil, err
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: strings.ToUpper(t.text) + " WITH", left: left, right: right}, nil

	case t.is("IN"):
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: "IN", left: left, right: right}, nil

	case t.is("IS"):
		p.next()
		negate := false
		if p.peek().is("NOT") {
			p.next()
			negate = true
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &isNullExpr{inner: left, negate: negate}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (expr, error) {
	t := p.peek()
	switch {
	case t.punct("("):
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &parenExpr{inner: e}, nil

	case t.punct("["):
		p.next()
		list := &listExpr{}
		for !p.peek().punct("]") {
			item, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			list.items = append(list.items, item)
			if p.peek().punct(",") {
				p.next()
			} else if !p.peek().punct("]") {
				return nil, p.errorf("expected , or ] in list, found %s", p.peek())
			}
		}
		p.next()
		return list, nil

	case t.kind == tokString, t.kind == tokNumber, t.punct("-"), t.punct("$"),
		t.is("TRUE"), t.is("FALSE"), t.is("NULL"):
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &literal{value: v}, nil

	case t.kind == tokIdent:
		p.next()
		if p.peek().punct("(") {
			return p.parseFunc(t)
		}
		if p.peek().punct(".") {
			p.next()
			prop, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			return p.propRef(t.text, prop)
		}
		info, ok := p.plan.vars[t.text]
		if !ok {
			// May name a RETURN alias inside ORDER BY.
			for _, it := range p.plan.items {
				if it.alias == t.text {
					return &varRef{name: t.text, index: -1}, nil
				}
			}
			return nil, fmt.Errorf("%w: variable %q", ErrUnknownIdentifier, t.text)
		}
		return &varRef{name: t.text, index: info.index}, nil
	}
	return nil, p.errorf("unexpected %s", t)
}

func (p *parser) parseFunc(name token) (expr, error) {
	fn := strings.ToLower(name.text)
	if aggregateFuncs[fn] {
		return nil, p.errorf("%s() is only allowed in RETURN", name.text)
	}
	if !scalarFuncs[fn] {
		return nil, p.errorf("function %s() is not supported", name.text)
	}
	p.next() // (
	arg, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &funcExpr{name: fn, display: name.text, arg: arg}, nil
}

func (p *parser) propRef(variable, prop string) (expr, error) {
	info, ok := p.plan.vars[variable]
	if !ok {
		return nil, fmt.Errorf("%w: variable %q", ErrUnknownIdentifier, variable)
	}
	var err error
	if info.kind == varNode {
		err = p.checkNodeProperty(info.label, prop)
	} else {
		err = p.checkRelProperty(info.label, prop)
	}
	if err != nil {
		return nil, err
	}
	return &propExpr{variable: variable, index: info.index, prop: prop}, nil
}
