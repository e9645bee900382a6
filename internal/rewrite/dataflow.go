/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package rewrite

import (
	"github.com/cloudwego/decaf/internal/ast"
)

var _AddressOf = []ast.Node{
	&ast.Assign{Target: ast.Bind("t"), Value: &ast.AddrOf{X: ast.Bind("v")}},
	&ast.Assign{Target: ast.Any, Value: &ast.Deref{X: ast.Bind("t")}},
}

// addressOf collapses "t = &v; x = *(t)" into "x = v". The temporary goes
// away when nothing else reads it.
func addressOf(c *Context) bool {
	counts := uses(c.Fn.Body)

	return pairs(c.Fn, func(b *ast.Block, i int) bool {
		m, ok := ast.MatchList(_AddressOf, b.Stmts[i:i+2])
		if !ok {
			return false
		}

		name, ok := m["t"].(*ast.Name)
		if !ok {
			return false
		}

		b.Stmts[i+1].(*ast.Assign).Value = ast.Clone(m["v"])

		if counts[name.ID] == 2 && b.Stmts[i].(*ast.Assign).Type == "" {
			b.Stmts[i] = ast.Nop()
		}

		return true
	})
}

func isName(n ast.Node, name string) bool {
	v, ok := n.(*ast.Name)
	return ok && v.ID == name
}

// site is where a node sits in a pre-order walk of the function. Every
// node within its subtree is numbered in [pos, end).
type site struct {
	node ast.Node
	pos  int
	end  int
	path []ast.Node
}

type flow struct {
	order  []*site
	defs   map[string]int
	reads  map[string]int
	def    map[string]*site
	use    map[string]*site
	pinned map[string]bool
}

// analyze numbers the nodes of fn and counts the definitions and reads of
// every variable.
func analyze(fn *ast.Function) *flow {
	f := &flow{
		defs:   make(map[string]int),
		reads:  make(map[string]int),
		def:    make(map[string]*site),
		use:    make(map[string]*site),
		pinned: make(map[string]bool),
	}

	var stack []ast.Node
	var visit func(n ast.Node)

	visit = func(n ast.Node) {
		s := &site{node: n, pos: len(f.order), path: append([]ast.Node(nil), stack...)}
		f.order = append(f.order, s)

		stack = append(stack, n)
		for _, c := range ast.Children(n) {
			visit(c)
		}

		stack = stack[:len(stack)-1]
		s.end = len(f.order)
	}

	visit(fn.Body)

	for _, s := range f.order {
		switch v := s.node.(type) {
		case *ast.Assign:
			if name, ok := v.Target.(*ast.Name); ok {
				f.defs[name.ID]++
				f.def[name.ID] = s
			}

			if fld, ok := v.Target.(*ast.Field); ok {
				if name, ok := fld.X.(*ast.Name); ok {
					f.pinned[name.ID] = true
				}
			}
		case *ast.ForEach:
			f.pinned[v.Var.ID] = true
		case *ast.AddrOf:
			if name, ok := v.X.(*ast.Name); ok {
				f.pinned[name.ID] = true
			}
		case *ast.Name:
			if len(s.path) != 0 {
				if a, ok := s.path[len(s.path)-1].(*ast.Assign); ok && a.Target == ast.Node(v) {
					continue
				}
			}

			f.reads[v.ID]++
			f.use[v.ID] = s
		}
	}

	return f
}

// literal reports values that can be evaluated anywhere, any number of
// times.
func literal(n ast.Node) bool {
	switch n.(type) {
	case *ast.Num, *ast.Str, *ast.ObjCString, *ast.ObjCSelector:
		return true
	}

	return false
}

// impure reports values whose result depends on memory or which have side
// effects.
func impure(n ast.Node) bool {
	ret := false
	ast.Walk(n, func(v ast.Node) bool {
		switch v.(type) {
		case *ast.Call, *ast.MsgSend, *ast.Deref, *ast.Field, *ast.Todo, *ast.BlockLiteral:
			ret = true
		}

		return !ret
	})

	return ret
}

// movable checks that the value defined at d still means the same thing at
// u, and is evaluated exactly as often as before.
func (f *flow) movable(d *site, u *site) bool {
	a := d.node.(*ast.Assign)

	/* the use follows the definition, outside of it */
	if u.pos < d.end {
		return false
	}

	/* and sits in the list holding the definition, or below it */
	holder := d.path[len(d.path)-1]
	depth := -1

	for i, v := range u.path {
		if v == holder {
			depth = i
		}
	}

	if depth < 0 {
		return false
	}

	/* no loop may repeat the use alone */
	for _, v := range u.path[depth:] {
		switch v.(type) {
		case *ast.While, *ast.DoWhile, *ast.ForEach:
			if !literal(a.Value) {
				return false
			}
		}
	}

	/* nothing in between may change what the value reads */
	names := uses(a.Value)
	enclosing := make(map[ast.Node]bool, len(u.path))

	for _, v := range u.path {
		enclosing[v] = true
	}

	for _, s := range f.order[d.end:u.pos] {
		if enclosing[s.node] {
			continue
		}

		switch v := s.node.(type) {
		case *ast.Label:
			return false
		case *ast.Call, *ast.MsgSend:
			if impure(a.Value) {
				return false
			}
		case *ast.Assign:
			if name, ok := v.Target.(*ast.Name); ok && names[name.ID] != 0 {
				return false
			}

			if _, ok := v.Target.(*ast.Name); !ok && impure(a.Value) {
				return false
			}
		}
	}

	return true
}

// propagate moves the value of variables defined and read exactly once
// into the reading expression, one variable at a time.
func propagate(c *Context) bool {
	params := make(map[string]bool)
	for _, p := range c.Fn.Params {
		params[p.Name] = true
	}

	params["self"] = true
	params["_cmd"] = true
	ret := false

	for {
		f := analyze(c.Fn)
		d, u := f.candidate(params)

		if d == nil {
			return ret
		}

		def := d.node.(*ast.Assign)
		use := u.node

		replace(c.Fn.Body, func(n ast.Node) ast.Node {
			switch n {
			case use:
				return def.Value
			case ast.Node(def):
				return ast.Nop()
			default:
				return n
			}
		})

		ret = true
	}
}

// candidate finds the first variable, by definition order, that can be
// propagated.
func (f *flow) candidate(params map[string]bool) (*site, *site) {
	for _, s := range f.order {
		a, name, ok := target(s.node)
		if !ok || a.Type != "" || params[name] || f.pinned[name] {
			continue
		}

		if f.defs[name] != 1 || f.reads[name] != 1 {
			continue
		}

		if u := f.use[name]; f.movable(s, u) {
			return s, u
		}
	}

	return nil, nil
}

// unusedVars drops declarations of variables never mentioned.
func unusedVars(c *Context) bool {
	used := uses(c.Fn.Body)
	ret := false

	ast.Blocks(c.Fn, func(b *ast.Block) {
		stmts := b.Stmts[:0]

		for _, s := range b.Stmts {
			if d, ok := s.(*ast.Declaration); ok && used[d.Name] == 0 {
				ret = true
				continue
			}

			stmts = append(stmts, s)
		}

		b.Stmts = stmts
	})

	return ret
}

// declDef merges a declaration into the assignment that first mentions the
// variable, when that assignment is in the same list.
func declDef(c *Context) bool {
	ret := false
	ast.Blocks(c.Fn, func(b *ast.Block) {
		drop := make(map[int]bool)

		for i, s := range b.Stmts {
			d, ok := s.(*ast.Declaration)
			if !ok {
				continue
			}

			for _, v := range b.Stmts[i+1:] {
				if !refers(v, d.Name) {
					continue
				}

				a, name, ok := target(v)
				if ok && name == d.Name && a.Type == "" && !refers(a.Value, d.Name) {
					a.Type = d.Type
					drop[i] = true
				}

				break
			}
		}

		if len(drop) == 0 {
			return
		}

		stmts := make([]ast.Node, 0, len(b.Stmts))
		for i, s := range b.Stmts {
			if !drop[i] {
				stmts = append(stmts, s)
			}
		}

		b.Stmts = stmts
		ret = true
	})

	return ret
}
