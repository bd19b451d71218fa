// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graphstore

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// expr is a WHERE or RETURN expression. eval returns nil for null.
type expr interface {
	eval(b *binding) any
	String() string
}

type literal struct{ value any }

func (l *literal) eval(*binding) any { return l.value }

func (l *literal) String() string {
	switch v := l.value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "\\'") + "'"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "true"
		}
		return "false"
	}
	return "?"
}

type varRef struct {
	name  string
	index int // -1 for a RETURN alias
}

func (v *varRef) eval(b *binding) any {
	if v.index < 0 || v.index >= len(b.vals) {
		return nil
	}
	return b.vals[v.index]
}

func (v *varRef) String() string { return v.name }

type propExpr struct {
	variable string
	index    int
	prop     string
}

func (p *propExpr) eval(b *binding) any {
	switch el := b.vals[p.index].(type) {
	case *node:
		return el.props[p.prop]
	case *edge:
		return el.props[p.prop]
	}
	return nil
}

func (p *propExpr) String() string { return p.variable + "." + p.prop }

type funcExpr struct {
	name    string // lower-cased
	display string
	arg     expr
}

func (f *funcExpr) eval(b *binding) any {
	v := f.arg.eval(b)
	if v == nil {
		return nil
	}
	switch f.name {
	case "tolower", "lower":
		if s, ok := v.(string); ok {
			return strings.ToLower(s)
		}
	case "toupper", "upper":
		if s, ok := v.(string); ok {
			return strings.ToUpper(s)
		}
	case "trim":
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	case "size", "length":
		switch x := v.(type) {
		case string:
			return float64(utf8.RuneCountInString(x))
		case []any:
			return float64(len(x))
		}
	case "tostring":
		switch x := v.(type) {
		case string:
			return x
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(x)
		}
	}
	return nil
}

func (f *funcExpr) String() string { return f.display + "(" + f.arg.String() + ")" }

type listExpr struct{ items []expr }

func (l *listExpr) eval(b *binding) any {
	out := make([]any, len(l.items))
	for i, it := range l.items {
		out[i] = it.eval(b)
	}
	return out
}

func (l *listExpr) String() string {
	parts := make([]string, len(l.items))
	for i, it := range l.items {
		parts[i] = it.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

type parenExpr struct{ inner expr }

func (p *parenExpr) eval(b *binding) any { return p.inner.eval(b) }
func (p *parenExpr) String() string      { return "(" + p.inner.String() + ")" }

type notExpr struct{ inner expr }

func (n *notExpr) eval(b *binding) any {
	if v, ok := n.inner.eval(b).(bool); ok {
		return !v
	}
	return nil
}

func (n *notExpr) String() string { return "NOT " + n.inner.String() }

type isNullExpr struct {
	inner  expr
	negate bool
}

func (e *isNullExpr) eval(b *binding) any {
	isNull := e.inner.eval(b) == nil
	return isNull != e.negate
}

func (e *isNullExpr) String() string {
	if e.negate {
		return e.inner.String() + " IS NOT NULL"
	}
	return e.inner.String() + " IS NULL"
}

type binaryExpr struct {
	op          string
	left, right expr
}

func (e *binaryExpr) String() string {
	return e.left.String() + " " + e.op + " " + e.right.String()
}

// eval follows Cypher's three-valued logic: comparisons involving null
// yield null, and WHERE keeps only true.
func (e *binaryExpr) eval(b *binding) any {
	switch e.op {
	case "AND":
		l, r := e.left.eval(b), e.right.eval(b)
		if l == false || r == false {
			return false
		}
		if l == true && r == true {
			return true
		}
		return nil
	case "OR":
		l, r := e.left.eval(b), e.right.eval(b)
		if l == true || r == true {
			return true
		}
		if l == false && r == false {
			return false
		}
		return nil
	}

	l, r := e.left.eval(b), e.right.eval(b)
	if l == nil || r == nil {
		return nil
	}
	switch e.op {
	case "=":
		return valuesEqual(l, r)
	case "<>":
		return !valuesEqual(l, r)
	case "<", "<=", ">", ">=":
		c, ok := compareValues(l, r)
		if !ok {
			return nil
		}
		switch e.op {
		case "<":
			return c < 0
		case "<=":
			return c <= 0
		case ">":
			return c > 0
		default:
			return c >= 0
		}
	case "CONTAINS":
		needle, ok := r.(string)
		if !ok {
			return nil
		}
		switch hay := l.(type) {
		case string:
			return strings.Contains(hay, needle)
		case []any:
			// Lists of strings (bullet_points) match when any element does.
			for _, item := range hay {
				if s, ok := item.(string); ok && strings.Contains(s, needle) {
					return true
				}
			}
			return false
		}
		return nil
	case "STARTS WITH", "ENDS WITH":
		ls, lok := l.(string)
		rs, rok := r.(string)
		if !lok || !rok {
			return nil
		}
		if e.op == "STARTS WITH" {
			return strings.HasPrefix(ls, rs)
		}
		return strings.HasSuffix(ls, rs)
	case "IN":
		list, ok := r.([]any)
		if !ok {
			return nil
		}
		for _, item := range list {
			if valuesEqual(l, item) {
				return true
			}
		}
		return false
	}
	return nil
}
