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

// Package rewrite turns the literal rendering of a function into readable
// source with an ordered list of tree rewrites. Every rewrite is
// idempotent: running it again on its own output changes nothing.
package rewrite

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/cloudwego/decaf/internal/ast"
)

// Env carries what the rewrites may know beyond the function itself.
type Env struct {
	// Literal names the local a block literal is built in, and Invoke is
	// the rendered invoke function of that block.
	Literal string
	Invoke  *ast.Function
}

// Context is what every rewrite sees.
type Context struct {
	Fn  *ast.Function
	Env Env
}

// Rewrite is one tree transformation. Apply reports whether anything
// changed.
type Rewrite struct {
	Name  string
	Apply func(*Context) bool
}

// Rewrites is the fixed schedule, in order.
var Rewrites = []Rewrite{
	{"flatten", flatten},
	{"drop-values", dropValues},
	{"trailing-return", trailingReturn},
	{"collapse", collapse},
	{"msgsend", msgSend},
	{"foreach", forEach},
	{"address-of", addressOf},
	{"propagate", propagate},
	{"unused-vars", unusedVars},
	{"negations", negations},
	{"ivar", ivars},
	{"blocks", blocks},
	{"expr-embed", exprEmbed},
	{"decl-def", declDef},
	{"dispatch-once", dispatchOnce},
	{"if-remove", ifRemove},
}

// Run applies every rewrite once, in order. Statements removed by a
// rewrite are swept before the next one runs.
func Run(ctx context.Context, fn *ast.Function, env Env) {
	tr := tlog.SpanFromContext(ctx)
	c := &Context{Fn: fn, Env: env}

	for _, r := range Rewrites {
		if !r.Apply(c) {
			continue
		}

		tidy(c)

		if tr.If("rewrite") {
			tr.Printw("rewrite changed function", "func", fn.Name, "rewrite", r.Name)
		}
	}
}

// tidy drops what rewrites leave behind: empty statements, then
// declarations and globals no longer referenced.
func tidy(c *Context) {
	flatten(c)
	unusedVars(c)

	used := uses(c.Fn.Body)
	globals := c.Fn.Globals[:0]

	for _, g := range c.Fn.Globals {
		if used[g.Name] != 0 {
			globals = append(globals, g)
		}
	}

	c.Fn.Globals = globals
}

/** Helpers **/

// uses counts the occurrences of every name, written or read.
func uses(n ast.Node) map[string]int {
	ret := make(map[string]int)
	ast.Walk(n, func(v ast.Node) bool {
		if v, ok := v.(*ast.Name); ok {
			ret[v.ID]++
		}

		return true
	})

	return ret
}

// refers reports whether a name occurs anywhere in n.
func refers(n ast.Node, name string) bool {
	found := false
	ast.Walk(n, func(v ast.Node) bool {
		if v, ok := v.(*ast.Name); ok && v.ID == name {
			found = true
		}

		return !found
	})

	return found
}

// target returns the variable an assignment writes, if it writes one.
func target(n ast.Node) (*ast.Assign, string, bool) {
	a, ok := n.(*ast.Assign)
	if !ok {
		return nil, "", false
	}

	v, ok := a.Target.(*ast.Name)
	if !ok {
		return nil, "", false
	}

	return a, v.ID, true
}

// pairs calls f with every list and every index i having a statement at
// i+1.
func pairs(n ast.Node, f func(b *ast.Block, i int) bool) bool {
	ret := false
	ast.Blocks(n, func(b *ast.Block) {
		for i := 0; i+1 < len(b.Stmts); i++ {
			if f(b, i) {
				ret = true
			}
		}
	})

	return ret
}

// replace substitutes nodes for which f returns something else.
func replace(n ast.Node, f func(ast.Node) ast.Node) bool {
	ret := false
	ast.Transform(n, func(v ast.Node) ast.Node {
		r := f(v)
		if r != v {
			ret = true
		}

		return r
	})

	return ret
}

// parents maps every node to the statement or expression holding it. Lists
// are skipped: the parent of a statement is the construct owning its list.
func parents(root ast.Node) map[ast.Node]ast.Node {
	ret := make(map[ast.Node]ast.Node)

	var visit func(n ast.Node, parent ast.Node)
	visit = func(n ast.Node, parent ast.Node) {
		owner := n
		if _, ok := n.(*ast.Block); ok {
			owner = parent
		} else {
			ret[n] = parent
		}

		for _, c := range ast.Children(n) {
			visit(c, owner)
		}
	}

	visit(root, nil)

	return ret
}

func callee(n ast.Node) (*ast.Call, string, bool) {
	call, ok := n.(*ast.Call)
	if !ok {
		return nil, "", false
	}

	name, ok := call.Func.(*ast.Name)
	if !ok {
		return nil, "", false
	}

	return call, name.ID, true
}
