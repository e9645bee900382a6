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

// flatten splices nested statement lists into their parent list and drops
// the placeholders other rewrites leave behind.
func flatten(c *Context) bool {
	ret := false
	ast.Blocks(c.Fn, func(b *ast.Block) {
		stmts := make([]ast.Node, 0, len(b.Stmts))

		for _, s := range b.Stmts {
			switch v := s.(type) {
			case *ast.Block:
				stmts = append(stmts, v.Stmts...)
				ret = true
			case *ast.ExprStmt:
				if _, ok := v.X.(*ast.Num); ok {
					ret = true
					continue
				}

				stmts = append(stmts, s)
			default:
				stmts = append(stmts, s)
			}
		}

		b.Stmts = stmts
	})

	return ret
}

// dropValues removes expression statements computing nothing.
func dropValues(c *Context) bool {
	ret := false
	ast.Blocks(c.Fn, func(b *ast.Block) {
		stmts := b.Stmts[:0]

		for _, s := range b.Stmts {
			if ast.IsNop(s) {
				ret = true
				continue
			}

			stmts = append(stmts, s)
		}

		b.Stmts = stmts
	})

	return ret
}

func trailingReturn(c *Context) bool {
	stmts := c.Fn.Body.Stmts
	if len(stmts) == 0 {
		return false
	}

	if r, ok := stmts[len(stmts)-1].(*ast.Return); !ok || r.Value != nil {
		return false
	}

	c.Fn.Body.Stmts = stmts[:len(stmts)-1]

	return true
}

var (
	_AndSelf = &ast.BinOp{Op: "&&", L: ast.Bind("x"), R: ast.Bind("x")}
	_OrSelf  = &ast.BinOp{Op: "||", L: ast.Bind("x"), R: ast.Bind("x")}
)

// collapse turns "x && x" and "x || x" over a plain name into "x".
func collapse(c *Context) bool {
	return replace(c.Fn, func(n ast.Node) ast.Node {
		for _, p := range []ast.Node{_AndSelf, _OrSelf} {
			if b, ok := ast.Match(p, n); ok {
				if _, ok := b["x"].(*ast.Name); ok {
					return b["x"]
				}
			}
		}

		return n
	})
}

var _NotNot = &ast.Not{X: &ast.Not{X: ast.Bind("x")}}

// negations drops double negations where only the truth of a value
// counts: conditions, and the operands of "!", "&&" and "||" inside them.
func negations(c *Context) bool {
	ret := false
	ast.Walk(c.Fn, func(n ast.Node) bool {
		switch v := n.(type) {
		case *ast.If:
			v.Cond = truth(v.Cond, &ret)
		case *ast.While:
			v.Cond = truth(v.Cond, &ret)
		case *ast.DoWhile:
			v.Cond = truth(v.Cond, &ret)
		}

		return true
	})

	return ret
}

func truth(n ast.Node, changed *bool) ast.Node {
	for {
		b, ok := ast.Match(_NotNot, n)
		if !ok {
			break
		}

		n, *changed = b["x"], true
	}

	switch v := n.(type) {
	case *ast.Not:
		v.X = truth(v.X, changed)
	case *ast.BinOp:
		if v.Op == "&&" || v.Op == "||" {
			v.L = truth(v.L, changed)
			v.R = truth(v.R, changed)
		}
	}

	return n
}

// ifRemove replaces "if (constant)" with its taken arm.
func ifRemove(c *Context) bool {
	ret := false
	ast.Blocks(c.Fn, func(b *ast.Block) {
		stmts := make([]ast.Node, 0, len(b.Stmts))

		for _, s := range b.Stmts {
			v, ok := s.(*ast.If)
			if !ok {
				stmts = append(stmts, s)
				continue
			}

			k, ok := v.Cond.(*ast.Num)
			if !ok {
				stmts = append(stmts, s)
				continue
			}

			arm := v.Then
			if k.Value == 0 {
				arm = v.Else
			}

			if arm != nil {
				stmts = append(stmts, arm.Stmts...)
			}

			ret = true
		}

		b.Stmts = stmts
	})

	return ret
}
