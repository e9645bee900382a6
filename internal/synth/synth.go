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

// Package synth turns a structured control-flow tree and the micro-code of
// its blocks into a C-like syntax tree.
package synth

import (
	"context"
	"fmt"
	"sync/atomic"

	"tlog.app/go/tlog"

	"github.com/cloudwego/decaf/internal/ast"
	"github.com/cloudwego/decaf/internal/image"
	"github.com/cloudwego/decaf/internal/structure"
	"github.com/cloudwego/decaf/internal/ucode"
)

var (
	TodoCount uint64 = 0
)

// Signature is what the caller knows about the function beyond its code.
type Signature struct {
	Name   string
	Ret    string
	Method *image.Method
}

// Build renders a structured function. Incomplete outcomes are emitted as
// labelled blocks connected with gotos.
func Build(ctx context.Context, fn *ucode.Function, out structure.Outcome, sig Signature) *ast.Function {
	tr := tlog.SpanFromContext(ctx)
	w := &walker{c: newConverter(), cfg: out.CFG}

	/* parameters are named and declared by the signature */
	params := declare(w.c, fn, sig.Method != nil)

	var body []ast.Node
	if out.Incomplete {
		body = w.fallback(out.Roots)
	} else {
		body = w.visit(out.Root)
	}

	/* locals come first, in order of appearance */
	decls := make([]ast.Node, 0, len(w.c.order)+len(body))
	for _, name := range w.c.order {
		decls = append(decls, w.c.locals[name])
	}

	ret := &ast.Function{
		Name:    sig.Name,
		Ret:     sig.Ret,
		Params:  params,
		Globals: make([]*ast.Declaration, 0, len(w.c.gorder)),
		Body:    ast.NewBlock(append(decls, body...)...),
	}

	if ret.Name == "" {
		ret.Name = fn.Name
	}

	if ret.Ret == "" {
		ret.Ret = "long"
	}

	for _, name := range w.c.gorder {
		ret.Globals = append(ret.Globals, w.c.globals[name])
	}

	if m := sig.Method; m != nil {
		ret.Class, ret.Selector, ret.Static = m.Class, m.Selector, m.Static
	}

	atomic.AddUint64(&TodoCount, uint64(w.c.todos))

	if tr.If("synth") {
		tr.Printw("synthesized", "function", ret.Name, "locals", len(decls), "globals", len(ret.Globals), "todos", w.c.todos, "incomplete", out.Incomplete)
	}

	return ret
}

// declare names the incoming parameters. Methods hide the receiver and the
// selector, which are always the first two.
func declare(c *converter, fn *ucode.Function, method bool) []*ast.Declaration {
	inputs := fn.Inputs
	skip := 0

	if method {
		skip = 2
	}

	ret := make([]*ast.Declaration, 0, len(inputs))

	for i, p := range inputs {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}

		if method && i < 2 {
			name = []string{"self", "_cmd"}[i]
		}

		if p.Reg != nil {
			c.params[p.Reg.Name] = name
		}

		if i < skip {
			continue
		}

		t := "long"
		if p.Type != nil {
			t = p.Type.String()
		}

		ret = append(ret, &ast.Declaration{Type: t, Name: name})
	}

	return ret
}

type walker struct {
	c   *converter
	cfg *structure.CFG
}

func (w *walker) visit(n *structure.Node) []ast.Node {
	if n == nil {
		return nil
	}

	switch n.Kind {
	case structure.Leaf:
		return w.c.block(n.Block)
	case structure.Sequence:
		var ret []ast.Node
		for _, v := range n.Nodes {
			ret = append(ret, w.visit(v)...)
		}

		return ret
	case structure.If:
		pre, cond := w.test(n.Test, n.Negate)
		return append(pre, &ast.If{Cond: cond, Then: ast.NewBlock(w.visit(n.Then)...)})
	case structure.IfElse:
		return w.ifElse(n)
	case structure.While:
		return w.while(n)
	case structure.DoWhile:
		return w.doWhile(n)
	case structure.Switch:
		return w.switchOf(n)
	default:
		panic("synth: unexpected node " + n.String())
	}
}

// negate inverts a condition without stacking negations.
func negate(n ast.Node) ast.Node {
	if v, ok := n.(*ast.Not); ok {
		return v.X
	}

	return &ast.Not{X: n}
}

// split separates the statements computing a test from the condition the
// terminating branch consumes.
func split(stmts []ast.Node) ([]ast.Node, ast.Node) {
	if len(stmts) == 0 {
		panic("synth: empty test block")
	}

	last, ok := stmts[len(stmts)-1].(*ast.ExprStmt)
	if !ok {
		panic("synth: test block does not end with a branch")
	}

	return stmts[:len(stmts)-1], last.X
}

// test converts a test node. The condition holds when the branch is taken,
// or when it is not if neg is set.
func (w *walker) test(n *structure.Node, neg bool) ([]ast.Node, ast.Node) {
	pre, cond := split(w.visit(n))
	if neg {
		cond = negate(cond)
	}

	return pre, cond
}

// pure reports whether a test block computes its condition without
// side effects, so it can be evaluated ahead of the tests before it. Only
// flags and temporaries may be written.
func pure(n *structure.Node) bool {
	if n.Kind != structure.Leaf {
		return false
	}

	for _, ins := range n.Block.Instrs[:len(n.Block.Instrs)-1] {
		switch ins.(type) {
		case *ucode.Mov, *ucode.Binary, *ucode.Unary, *ucode.SetFlag, *ucode.Trunc, *ucode.Extend, *ucode.Nop:
		default:
			return false
		}

		if d := ins.Dest(); d != nil && d.Kind != ucode.Flag && d.Kind != ucode.Temp && d.Name != "branch_condition" {
			return false
		}
	}

	return true
}

func (w *walker) ifElse(n *structure.Node) []ast.Node {
	if n.Test.Kind == structure.AndSequence {
		return w.chain(n.Test, 0, w.visit(n.Then), w.visit(n.Else))
	}

	pre, cond := w.test(n.Test, n.Negate)
	return append(pre, branch(cond, w.visit(n.Then), w.visit(n.Else)))
}

// branch builds an if statement, flipping it when only the else arm has
// statements.
func branch(cond ast.Node, then []ast.Node, other []ast.Node) *ast.If {
	if len(then) == 0 && len(other) != 0 {
		return &ast.If{Cond: negate(cond), Then: ast.NewBlock(other...)}
	}

	ret := &ast.If{Cond: cond, Then: ast.NewBlock(then...)}
	if len(other) != 0 {
		ret.Else = ast.NewBlock(other...)
	}

	return ret
}

// chain renders the tests of an and-sequence starting at i. Tests whose
// set-up is pure are joined into one condition, the others nest.
func (w *walker) chain(n *structure.Node, i int, then []ast.Node, other []ast.Node) []ast.Node {
	pre, cond := w.test(n.Nodes[i], !n.Sense[i])
	return w.join(n, i+1, pre, cond, then, other)
}

func (w *walker) join(n *structure.Node, i int, pre []ast.Node, cond ast.Node, then []ast.Node, other []ast.Node) []ast.Node {
	for ; i < len(n.Nodes); i++ {
		if !pure(n.Nodes[i]) {
			inner := w.chain(n, i, then, other)
			return append(pre, branch(cond, inner, clone(other)))
		}

		/* hoisting must not change what the earlier tests or the else arm read */
		more, next := w.test(n.Nodes[i], !n.Sense[i])
		if clobbers(more, cond, other) {
			inner := w.join(n, i+1, more, next, then, other)
			return append(pre, branch(cond, inner, clone(other)))
		}

		pre = append(pre, more...)
		cond = &ast.BinOp{Op: "&&", L: cond, R: next}
	}

	return append(pre, branch(cond, then, other))
}

// clobbers reports whether stmts assign a name cond or other refer to.
func clobbers(stmts []ast.Node, cond ast.Node, other []ast.Node) bool {
	refs := names(cond)
	for _, s := range other {
		for k := range names(s) {
			refs[k] = true
		}
	}

	for _, s := range stmts {
		if a, ok := s.(*ast.Assign); ok {
			if v, ok := a.Target.(*ast.Name); ok && refs[v.ID] {
				return true
			}
		}
	}

	return false
}

func names(n ast.Node) map[string]bool {
	ret := make(map[string]bool)
	ast.Walk(n, func(v ast.Node) bool {
		if x, ok := v.(*ast.Name); ok {
			ret[x.ID] = true
		}

		return true
	})

	return ret
}

// clone copies statements that end up printed twice.
func clone(v []ast.Node) []ast.Node {
	ret := make([]ast.Node, 0, len(v))
	for _, s := range v {
		ret = append(ret, ast.Clone(s))
	}

	return ret
}

func (w *walker) while(n *structure.Node) []ast.Node {
	pre, cond := w.test(n.Test, n.Negate)
	body := w.visit(n.Then)

	if len(pre) == 0 {
		return []ast.Node{&ast.While{Cond: cond, Body: ast.NewBlock(body...)}}
	}

	/* the test needs statements of its own, so it moves into the loop */
	exit := &ast.If{Cond: negate(cond), Then: ast.NewBlock(&ast.Break{})}
	loop := append(append(pre, exit), body...)

	return []ast.Node{&ast.While{Cond: &ast.Num{Value: 1}, Body: ast.NewBlock(loop...)}}
}

func (w *walker) doWhile(n *structure.Node) []ast.Node {
	body := w.visit(n.Then)

	if n.Forever {
		body = append(body, w.visit(n.Test)...)
		return []ast.Node{&ast.DoWhile{Body: ast.NewBlock(body...), Cond: &ast.Num{Value: 1}}}
	}

	pre, cond := w.test(n.Test, n.Negate)
	body = append(body, pre...)

	return []ast.Node{&ast.DoWhile{Body: ast.NewBlock(body...), Cond: cond}}
}

func (w *walker) switchOf(n *structure.Node) []ast.Node {
	pre, value := split(w.visit(n.Test))
	targets := n.Test.Last().(*ucode.Switch).Targets
	ret := &ast.Switch{Value: value}

	for _, v := range n.Nodes {
		c := &ast.Case{Values: indexes(targets, v.Addr())}
		body := w.visit(v)

		if !returns(body) {
			body = append(body, &ast.Break{})
		}

		c.Body = ast.NewBlock(body...)
		ret.Cases = append(ret.Cases, c)
	}

	return append(pre, ret)
}

// indexes lists the table slots jumping to addr.
func indexes(targets []uint64, addr uint64) []int64 {
	var ret []int64
	for i, t := range targets {
		if t == addr {
			ret = append(ret, int64(i))
		}
	}

	return ret
}

func returns(stmts []ast.Node) bool {
	if len(stmts) == 0 {
		return false
	}

	_, ok := stmts[len(stmts)-1].(*ast.Return)
	return ok
}

// Label names the fallback label of a node.
func Label(n *structure.Node) string {
	return fmt.Sprintf("bb_%x", n.Addr())
}

// fallback emits the roots left by an incomplete structuring one after the
// other, with explicit jumps between them. Roots that are jumped to get a
// label.
func (w *walker) fallback(roots []*structure.Node) []ast.Node {
	var ret []ast.Node
	targets := make(map[int]bool)

	for _, n := range roots {
		for _, s := range n.Succ {
			targets[s] = true
		}
	}

	for i, n := range roots {
		if targets[n.ID] {
			ret = append(ret, &ast.Label{Name: Label(n)})
		}

		var next *structure.Node
		if i+1 < len(roots) {
			next = roots[i+1]
		}

		ret = append(ret, w.jumps(n, w.visit(n), next)...)
	}

	return ret
}

// jumps appends the transfers leaving a root. Falling into the next root
// needs no goto.
func (w *walker) jumps(n *structure.Node, body []ast.Node, next *structure.Node) []ast.Node {
	jump := func(id int) []ast.Node {
		dst := w.cfg.At(id)
		if dst == next {
			return nil
		}

		return []ast.Node{&ast.Goto{Label: Label(dst)}}
	}

	switch n.Succ.Len() {
	case 0:
		return body
	case 1:
		return append(body, jump(n.Succ[0])...)
	}

	/* computed jumps go through a switch of gotos */
	if sw, ok := n.Last().(*ucode.Switch); ok {
		pre, value := split(body)
		ret := &ast.Switch{Value: value}

		for _, s := range n.Succ {
			dst := w.cfg.At(s)
			c := &ast.Case{Values: indexes(sw.Targets, dst.Addr())}
			c.Body = ast.NewBlock(&ast.Goto{Label: Label(dst)})
			ret.Cases = append(ret.Cases, c)
		}

		return append(pre, ret)
	}

	/* a conditional branch and its fall-through */
	pre, cond := split(body)
	taken, other := n.Jump, -1

	for _, s := range n.Succ {
		if s != taken {
			other = s
		}
	}

	if taken < 0 {
		panic("synth: conditional branch without a target: " + n.String())
	}

	ret := append(pre, &ast.If{Cond: cond, Then: ast.NewBlock(&ast.Goto{Label: Label(w.cfg.At(taken))})})
	return append(ret, jump(other)...)
}
