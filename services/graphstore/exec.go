// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graphstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const defaultMaxBindings = 100_000

// Result is the output of Execute.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// =============================================================================
// In-memory graph
// =============================================================================

type node struct {
	label string
	id    string
	props map[string]any
}

type edge struct {
	typ   string
	from  *node
	to    *node
	props map[string]any
}

type graph struct {
	byLabel map[string][]*node
	byKey   map[string]*node
	all     []*node
	out     map[*node][]*edge
	in      map[*node][]*edge
}

// loadGraph reads every node and edge inside txn.
//
// # Limitations
//
// The whole graph is materialized per query. Outline graphs are small
// (tens of nodes per document), so this stays cheap for the intended
// corpus sizes.
func loadGraph(txn *badger.Txn, catalog Catalog) (*graph, error) {
	g := &graph{
		byLabel: make(map[string][]*node),
		byKey:   make(map[string]*node),
		out:     make(map[*node][]*edge),
		in:      make(map[*node][]*edge),
	}

	err := scanPrefix(txn, []byte("n/"), func(key, val []byte) error {
		parts := strings.SplitN(string(key), "/", 3)
		if len(parts) != 3 {
			return nil
		}
		props := make(map[string]any)
		if err := json.Unmarshal(val, &props); err != nil {
			return fmt.Errorf("decode node %s: %w", key, err)
		}
		n := &node{label: parts[1], id: parts[2], props: props}
		g.byLabel[n.label] = append(g.byLabel[n.label], n)
		g.byKey[n.label+"/"+n.id] = n
		g.all = append(g.all, n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = scanPrefix(txn, []byte("r/"), func(key, val []byte) error {
		parts := bytes.SplitN(key, []byte("/"), 4)
		if len(parts) != 4 {
			return nil
		}
		rt, ok := catalog.rel(string(parts[1]))
		if !ok {
			return nil
		}
		from := g.byKey[rt.From+"/"+string(parts[2])]
		to := g.byKey[rt.To+"/"+string(parts[3])]
		if from == nil || to == nil {
			return nil
		}
		props := make(map[string]any)
		if err := json.Unmarshal(val, &props); err != nil {
			return fmt.Errorf("decode edge %s: %w", key, err)
		}
		e := &edge{typ: rt.Type, from: from, to: to, props: props}
		g.out[from] = append(g.out[from], e)
		g.in[to] = append(g.in[to], e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// =============================================================================
// Matching
// =============================================================================

type binding struct {
	vals []any
	used []*edge
}

func (b *binding) with(index int, v any) *binding {
	nb := &binding{vals: make([]any, len(b.vals)), used: b.used}
	copy(nb.vals, b.vals)
	if index >= 0 {
		nb.vals[index] = v
	}
	return nb
}

func (b *binding) uses(e *edge) bool {
	for _, u := range b.used {
		if u == e {
			return true
		}
	}
	return false
}

func (p *Plan) slot(variable string) int {
	if variable == "" {
		return -1
	}
	return p.vars[variable].index
}

func (p *Plan) nodeMatches(n *node, np nodePattern, b *binding) bool {
	if np.label != "" && n.label != np.label {
		return false
	}
	if i := p.slot(np.variable); i >= 0 && b.vals[i] != nil {
		if bound, ok := b.vals[i].(*node); !ok || bound != n {
			return false
		}
	}
	for k, v := range np.props {
		if !valuesEqual(n.props[k], v) {
			return false
		}
	}
	return true
}

func (p *Plan) candidates(g *graph, np nodePattern, b *binding) []*node {
	if i := p.slot(np.variable); i >= 0 && b.vals[i] != nil {
		if n, ok := b.vals[i].(*node); ok {
			return []*node{n}
		}
		return nil
	}
	if id, ok := np.props["id"].(string); ok && np.label != "" {
		if n := g.byKey[np.label+"/"+id]; n != nil {
			return []*node{n}
		}
		return nil
	}
	if np.label != "" {
		return g.byLabel[np.label]
	}
	return g.all
}

func (p *Plan) matchPath(g *graph, path pathPattern, b *binding, emit func(*binding) error) error {
	var step func(i int, cur *node, b *binding) error
	step = func(i int, cur *node, b *binding) error {
		if i == len(path.rels) {
			return emit(b)
		}
		rp := path.rels[i]
		np := path.nodes[i+1]

		var edges []*edge
		switch rp.dir {
		case dirOut:
			edges = g.out[cur]
		case dirIn:
			edges = g.in[cur]
		default:
			edges = append(append([]*edge{}, g.out[cur]...), g.in[cur]...)
		}
		for _, e := range edges {
			if rp.typ != "" && e.typ != rp.typ {
				continue
			}
			if b.uses(e) {
				continue
			}
			matched := true
			for k, v := range rp.props {
				if !valuesEqual(e.props[k], v) {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}
			other := e.to
			if e.to == cur && (rp.dir == dirIn || e.from != cur) {
				other = e.from
			}
			if !p.nodeMatches(other, np, b) {
				continue
			}
			nb := b.with(p.slot(rp.variable), e).with(p.slot(np.variable), other)
			nb.used = append(append([]*edge{}, b.used...), e)
			if err := step(i+1, other, nb); err != nil {
				return err
			}
		}
		return nil
	}

	first := path.nodes[0]
	for _, n := range p.candidates(g, first, b) {
		if !p.nodeMatches(n, first, b) {
			continue
		}
		if err := step(0, n, b.with(p.slot(first.variable), n)); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Execution
// =============================================================================

type row struct {
	vals []any
	rep  *binding
}

func (p *Plan) run(ctx context.Context, g *graph, maxBindings int) (*Result, error) {
	bindings := []*binding{{vals: make([]any, len(p.vars))}}
	for _, path := range p.paths {
		var next []*binding
		for _, b := range bindings {
			err := p.matchPath(g, path, b, func(nb *binding) error {
				next = append(next, nb)
				if len(next) > maxBindings {
					return fmt.Errorf("%w (more than %d)", ErrTooManyMatches, maxBindings)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bindings = next
	}

	if p.where != nil {
		kept := bindings[:0]
		for _, b := range bindings {
			if v, ok := p.where.eval(b).(bool); ok && v {
				kept = append(kept, b)
			}
		}
		bindings = kept
	}

	rows := p.project(bindings)
	if p.distinct {
		rows = distinctRows(rows)
	}
	if len(p.order) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, o := range p.order {
				a, b := p.orderValue(o, rows[i]), p.orderValue(o, rows[j])
				c := compareForSort(a, b)
				if c == 0 {
					continue
				}
				if o.desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if p.skip > 0 {
		if p.skip >= len(rows) {
			rows = nil
		} else {
			rows = rows[p.skip:]
		}
	}
	if p.limit >= 0 && len(rows) > p.limit {
		rows = rows[:p.limit]
	}

	res := &Result{Columns: p.Columns(), Rows: make([][]any, len(rows))}
	for i, r := range rows {
		out := make([]any, len(r.vals))
		for j, v := range r.vals {
			out[j] = outputValue(v)
		}
		res.Rows[i] = out
	}
	return res, nil
}

func (p *Plan) orderValue(o orderItem, r row) any {
	if o.column >= 0 {
		return r.vals[o.column]
	}
	if r.rep == nil {
		return nil
	}
	return o.expr.eval(r.rep)
}

func (p *Plan) hasAggregate() bool {
	for _, it := range p.items {
		if it.agg != nil {
			return true
		}
	}
	return false
}

// project evaluates RETURN items, grouping by the non-aggregate items when
// any aggregate is present.
func (p *Plan) project(bindings []*binding) []row {
	if !p.hasAggregate() {
		rows := make([]row, len(bindings))
		for i, b := range bindings {
			vals := make([]any, len(p.items))
			for j, it := range p.items {
				vals[j] = it.expr.eval(b)
			}
			rows[i] = row{vals: vals, rep: b}
		}
		return rows
	}

	type group struct {
		keys []any
		rep  *binding
		accs []*accumulator
	}
	var order []*group
	groups := make(map[string]*group)
	newGroup := func(keys []any, rep *binding) *group {
		grp := &group{keys: keys, rep: rep, accs: make([]*accumulator, len(p.items))}
		for j, it := range p.items {
			if it.agg != nil {
				grp.accs[j] = newAccumulator(it.agg)
			}
		}
		return grp
	}

	for _, b := range bindings {
		keys := make([]any, len(p.items))
		for j, it := range p.items {
			if it.agg == nil {
				keys[j] = it.expr.eval(b)
			}
		}
		k := valueKey(keys)
		grp, ok := groups[k]
		if !ok {
			grp = newGroup(keys, b)
			groups[k] = grp
			order = append(order, grp)
		}
		for j, it := range p.items {
			if it.agg != nil {
				grp.accs[j].add(it.agg, b)
			}
		}
	}

	// Pure aggregation over nothing still yields one row.
	if len(order) == 0 {
		onlyAggs := true
		for _, it := range p.items {
			if it.agg == nil {
				onlyAggs = false
			}
		}
		if onlyAggs {
			order = append(order, newGroup(make([]any, len(p.items)), nil))
		}
	}

	rows := make([]row, len(order))
	for i, grp := range order {
		vals := make([]any, len(p.items))
		for j, it := range p.items {
			if it.agg != nil {
				vals[j] = grp.accs[j].result(it.agg)
			} else {
				vals[j] = grp.keys[j]
			}
		}
		rows[i] = row{vals: vals, rep: grp.rep}
	}
	return rows
}

func distinctRows(rows []row) []row {
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, r := range rows {
		k := valueKey(r.vals)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// =============================================================================
// Aggregates
// =============================================================================

type aggregate struct {
	fn       string
	arg      expr // nil for count(*)
	distinct bool
}

func (a *aggregate) String() string {
	if a.arg == nil {
		return a.fn + "(*)"
	}
	if a.distinct {
		return a.fn + "(DISTINCT " + a.arg.String() + ")"
	}
	return a.fn + "(" + a.arg.String() + ")"
}

type accumulator struct {
	count  int
	sum    float64
	values []any
	best   any
	seen   map[string]bool
}

func newAccumulator(a *aggregate) *accumulator {
	acc := &accumulator{}
	if a.distinct {
		acc.seen = make(map[string]bool)
	}
	return acc
}

func (acc *accumulator) add(a *aggregate, b *binding) {
	if a.arg == nil {
		acc.count++
		return
	}
	v := a.arg.eval(b)
	if v == nil {
		return
	}
	if acc.seen != nil {
		k := valueKey([]any{v})
		if acc.seen[k] {
			return
		}
		acc.seen[k] = true
	}
	acc.count++
	switch a.fn {
	case "collect":
		acc.values = append(acc.values, v)
	case "sum", "avg":
		if f, ok := v.(float64); ok {
			acc.sum += f
		}
	case "min":
		if acc.best == nil || compareForSort(v, acc.best) < 0 {
			acc.best = v
		}
	case "max":
		if acc.best == nil || compareForSort(v, acc.best) > 0 {
			acc.best = v
		}
	}
}

func (acc *accumulator) result(a *aggregate) any {
	switch a.fn {
	case "count":
		return float64(acc.count)
	case "collect":
		if acc.values == nil {
			return []any{}
		}
		return acc.values
	case "sum":
		return acc.sum
	case "avg":
		if acc.count == 0 {
			return nil
		}
		return acc.sum / float64(acc.count)
	default:
		return acc.best
	}
}

// =============================================================================
// Values
// =============================================================================

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case *node:
		return av == b
	case *edge:
		return av == b
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// compareValues orders two numbers or two strings. ok is false for any
// other pairing.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			}
			return 0, true
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	}
	return 0, false
}

// compareForSort is a total order: numbers, then strings, then booleans,
// then everything else, with nulls last.
func compareForSort(a, b any) int {
	if c, ok := compareValues(a, b); ok {
		return c
	}
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		return ra - rb
	}
	if av, ok := a.(bool); ok {
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	}
	return strings.Compare(valueKey([]any{a}), valueKey([]any{b}))
}

func sortRank(v any) int {
	switch v.(type) {
	case float64:
		return 0
	case string:
		return 1
	case bool:
		return 2
	case nil:
		return 4
	}
	return 3
}

// outputValue converts internal values to JSON-friendly ones.
func outputValue(v any) any {
	switch x := v.(type) {
	case *node:
		m := make(map[string]any, len(x.props)+1)
		for k, pv := range x.props {
			m[k] = outputValue(pv)
		}
		m["_label"] = x.label
		return m
	case *edge:
		m := make(map[string]any, len(x.props)+3)
		for k, pv := range x.props {
			m[k] = outputValue(pv)
		}
		m["_type"] = x.typ
		m["_from"] = x.from.id
		m["_to"] = x.to.id
		return m
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = outputValue(e)
		}
		return out
	default:
		return v
	}
}

func valueKey(vals []any) string {
	out := make([]any, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case *node:
			out[i] = "node:" + x.label + "/" + x.id
		case *edge:
			out[i] = "edge:" + x.typ + "/" + x.from.id + "/" + x.to.id
		default:
			out[i] = outputValue(v)
		}
	}
	data, _ := json.Marshal(out)
	return string(data)
}
