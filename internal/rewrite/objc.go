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
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/decaf/internal/ast"
	"github.com/cloudwego/decaf/internal/image"
)

// the dispatch functions, and whether they send to the superclass
var _MsgSend = map[string]bool{
	"objc_msgSend":       false,
	"objc_msgSendSuper":  true,
	"objc_msgSendSuper2": true,
}

const (
	_EnumerationMutation = "objc_enumerationMutation"
	_CountByEnumerating  = "countByEnumeratingWithState:objects:count:"
	_DispatchOnce        = "dispatch_once"
	_OnceToken           = "onceToken"
)

// dispatch calls with a constant selector
var _Dispatch = &ast.Call{
	Func: ast.Bind("fn"),
	Args: []ast.Node{ast.Bind("recv"), ast.Bind("sel"), ast.Rest("args")},
}

// msgSend turns dispatch calls with a constant selector back into message
// sends, and class references into class names.
func msgSend(c *Context) bool {
	return replace(c.Fn.Body, func(n ast.Node) ast.Node {
		if v, ok := n.(*ast.Name); ok && strings.HasPrefix(v.ID, image.ClassPrefix) {
			return &ast.Name{ID: strings.TrimPrefix(v.ID, image.ClassPrefix)}
		}

		b, ok := ast.Match(_Dispatch, n)
		if !ok {
			return n
		}

		fn, ok1 := b["fn"].(*ast.Name)
		sel, ok2 := b["sel"].(*ast.ObjCSelector)
		if !ok1 || !ok2 {
			return n
		}

		super, ok := _MsgSend[fn.ID]
		if !ok {
			return n
		}

		recv := b["recv"]
		if super {
			recv = &ast.Name{ID: "super"}
		}

		return &ast.MsgSend{Receiver: recv, Selector: sel.Value, Args: b["args"].(ast.List)}
	})
}

// forEach recognizes the fast enumeration state machine:
//
//	if (...) {
//	    do {
//	        do {
//	            if (...) { objc_enumerationMutation(...); }
//	            v = *(...);
//	            body
//	        } while (...);
//	    } while (...);
//	}
//
// and replaces it with "for (id v in collection) { body }".
func forEach(c *Context) bool {
	var mutation ast.Node
	ast.Walk(c.Fn.Body, func(n ast.Node) bool {
		if _, name, ok := callee(n); ok && name == _EnumerationMutation && mutation == nil {
			mutation = n
		}

		return mutation == nil
	})

	if mutation == nil {
		return false
	}

	/* climb the fixed shape */
	up := parents(c.Fn.Body)
	stmt, _ := up[mutation].(*ast.ExprStmt)
	check, _ := up[stmt].(*ast.If)
	inner, _ := up[check].(*ast.DoWhile)
	outer, _ := up[inner].(*ast.DoWhile)
	guard, _ := up[outer].(*ast.If)

	if stmt == nil || check == nil || inner == nil || outer == nil || guard == nil {
		return false
	}

	/* the element is loaded right after the mutation check */
	at := -1
	for i, s := range inner.Body.Stmts {
		if s == ast.Node(check) {
			at = i
		}
	}

	var elem *ast.Name
	rest := []ast.Node(nil)

	for i, s := range inner.Body.Stmts[at+1:] {
		if a, name, ok := target(s); ok {
			if _, ok := a.Value.(*ast.Deref); ok {
				elem = &ast.Name{ID: name}
				rest = inner.Body.Stmts[at+i+2:]
				break
			}
		}
	}

	if elem == nil {
		return false
	}

	/* the collection is the receiver of the first state refill */
	var source ast.Node = &ast.Name{ID: "collection"}
	found := false

	ast.Blocks(c.Fn.Body, func(b *ast.Block) {
		for i, s := range b.Stmts {
			if found {
				return
			}

			a, ok := s.(*ast.Assign)
			if !ok {
				continue
			}

			if m, ok := a.Value.(*ast.MsgSend); ok && m.Selector == _CountByEnumerating && !contains(guard, s) {
				source = m.Receiver
				b.Stmts[i] = ast.Nop()
				found = true
			}
		}
	})

	guard.Cond = &ast.Num{Value: 1}
	guard.Then = ast.NewBlock(&ast.ForEach{Type: "id", Var: elem, Source: source, Body: ast.NewBlock(rest...)})
	guard.Else = nil

	return true
}

// contains reports whether n is within root.
func contains(root ast.Node, n ast.Node) bool {
	found := false
	ast.Walk(root, func(v ast.Node) bool {
		if v == n {
			found = true
		}

		return !found
	})

	return found
}

// ivarName extracts the instance variable an offset symbol names.
func ivarName(n ast.Node) (string, bool) {
	v, ok := n.(*ast.Name)
	if !ok || !strings.HasPrefix(v.ID, image.IvarPrefix) {
		return "", false
	}

	name := strings.TrimPrefix(v.ID, image.IvarPrefix)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}

	return name, true
}

var (
	_IvarRight = &ast.BinOp{Op: "+", L: ast.Bind("obj"), R: ast.Bind("ivar")}
	_IvarLeft  = &ast.BinOp{Op: "+", L: ast.Bind("ivar"), R: ast.Bind("obj")}
)

// ivarField turns "obj + IVAR" into the field it addresses.
func ivarField(n ast.Node) (*ast.Field, bool) {
	for _, p := range []ast.Node{_IvarRight, _IvarLeft} {
		if b, ok := ast.Match(p, n); ok {
			if name, ok := ivarName(b["ivar"]); ok {
				return &ast.Field{X: b["obj"], Name: name}, true
			}
		}
	}

	return nil, false
}

var (
	_IvarLoad = []ast.Node{
		&ast.Assign{Target: ast.Bind("t"), Value: ast.Bind("addr")},
		&ast.Assign{Target: ast.Any, Value: &ast.Deref{X: ast.Bind("t")}},
	}
	_IvarStore = []ast.Node{
		&ast.Assign{Target: ast.Bind("t"), Value: ast.Bind("addr")},
		&ast.Assign{Target: &ast.Deref{X: ast.Bind("t")}, Value: ast.Any},
	}
)

// ivars recovers instance variable accesses, both inline as "*(obj + IVAR)"
// and through a temporary holding "obj + IVAR".
func ivars(c *Context) bool {
	counts := uses(c.Fn.Body)
	ret := replace(c.Fn.Body, func(n ast.Node) ast.Node {
		if b, ok := ast.Match(&ast.Deref{X: ast.Bind("addr")}, n); ok {
			if f, ok := ivarField(b["addr"]); ok {
				return f
			}
		}

		return n
	})

	pair := pairs(c.Fn, func(b *ast.Block, i int) bool {
		stmts := b.Stmts[i : i+2]
		load, isLoad := ast.MatchList(_IvarLoad, stmts)
		store, isStore := ast.MatchList(_IvarStore, stmts)

		m := load
		if !isLoad {
			m = store
		}

		if !isLoad && !isStore {
			return false
		}

		name, ok := m["t"].(*ast.Name)
		if !ok {
			return false
		}

		f, ok := ivarField(m["addr"])
		if !ok {
			return false
		}

		/* a load, or a store */
		tb := stmts[1].(*ast.Assign)
		if isLoad {
			tb.Value = ast.Clone(f)
		} else {
			tb.Target = ast.Clone(f)
		}

		if counts[name.ID] == 2 && stmts[0].(*ast.Assign).Type == "" {
			b.Stmts[i] = ast.Nop()
		}

		return true
	})

	return ret || pair
}

// offset parses the member offset out of a field name.
func offset(name string) (int64, bool) {
	if !strings.HasPrefix(name, "off_") {
		return 0, false
	}

	v, err := strconv.ParseInt(name[4:], 16, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// blocks embeds the invoke function of a block literal built on the stack
// where the literal's address is taken, with the captured slots replaced by
// the variables stored into them.
func blocks(c *Context) bool {
	lit := c.Env.Literal
	if lit == "" {
		return false
	}

	isLit := func(n ast.Node) bool { return isName(n, lit) }

	/* pointers into the literal are pointers to its members */
	ret := replace(c.Fn.Body, func(n ast.Node) ast.Node {
		if b, ok := n.(*ast.BinOp); ok && b.Op == "+" && isLit(b.L) {
			if k, ok := b.R.(*ast.Num); ok {
				return &ast.AddrOf{X: &ast.Field{X: &ast.Name{ID: lit}, Name: fmt.Sprintf("off_%x", k.Value)}}
			}
		}

		return n
	})

	/* the variables captured per slot */
	captures := make(map[int64]string)
	ast.Walk(c.Fn.Body, func(n ast.Node) bool {
		if a, ok := n.(*ast.Assign); ok {
			if f, ok := a.Target.(*ast.Field); ok && isLit(f.X) {
				if off, ok := offset(f.Name); ok {
					if v, ok := a.Value.(*ast.Name); ok {
						captures[off] = v.ID
					}
				}
			}
		}

		return true
	})

	/* the literal itself */
	inv := c.Env.Invoke
	embedded := false

	if inv != nil && len(inv.Params) != 0 {
		self := inv.Params[0].Name
		embedded = replace(c.Fn.Body, func(n ast.Node) ast.Node {
			if a, ok := n.(*ast.AddrOf); ok && isLit(a.X) {
				return &ast.BlockLiteral{Body: bind(ast.Clone(inv.Body).(*ast.Block), self, captures)}
			}

			return n
		})
	}

	/* the stores filling the captures are gone with the literal */
	if embedded {
		replace(c.Fn.Body, func(n ast.Node) ast.Node {
			if a, ok := n.(*ast.Assign); ok {
				if f, ok := a.Target.(*ast.Field); ok && isLit(f.X) {
					return ast.Nop()
				}
			}

			return n
		})
	}

	/* and so is its declaration once nothing refers to it */
	dropped := false
	if !refers(c.Fn.Body, lit) {
		dropped = replace(c.Fn.Body, func(n ast.Node) ast.Node {
			if d, ok := n.(*ast.Declaration); ok && d.Name == lit {
				return ast.Nop()
			}

			return n
		})
	}

	return ret || embedded || dropped
}

// bind rewrites the accesses of an invoke function to its own literal into
// the captured variables.
func bind(body *ast.Block, self string, captures map[int64]string) *ast.Block {
	replace(body, func(n ast.Node) ast.Node {
		switch v := n.(type) {
		case *ast.BinOp:
			if k, ok := v.R.(*ast.Num); ok && v.Op == "+" && isName(v.L, self) {
				if name, ok := captures[k.Value]; ok {
					return &ast.AddrOf{X: &ast.Name{ID: name}}
				}
			}
		case *ast.Field:
			if off, ok := offset(v.Name); ok && isName(v.X, self) {
				if name, ok := captures[off]; ok {
					return &ast.Name{ID: name}
				}
			}
		case *ast.Deref:
			if a, ok := v.X.(*ast.AddrOf); ok {
				if name, ok := a.X.(*ast.Name); ok {
					return name
				}
			}
		}

		return n
	})

	return body
}

// exprEmbed fuses "t = [X alloc]; r = [t init...]" into
// "r = [[X alloc] init...]" when t is used nowhere else.
func exprEmbed(c *Context) bool {
	counts := uses(c.Fn.Body)

	return pairs(c.Fn, func(b *ast.Block, i int) bool {
		ta, name, ok := target(b.Stmts[i])
		if !ok || counts[name] != 2 {
			return false
		}

		alloc, ok := ta.Value.(*ast.MsgSend)
		if !ok || alloc.Selector != "alloc" {
			return false
		}

		var value ast.Node
		switch v := b.Stmts[i+1].(type) {
		case *ast.Assign:
			value = v.Value
		case *ast.ExprStmt:
			value = v.X
		}

		init, ok := value.(*ast.MsgSend)
		if !ok || !strings.HasPrefix(init.Selector, "init") || !isName(init.Receiver, name) {
			return false
		}

		init.Receiver = alloc
		b.Stmts[i] = ast.Nop()

		return true
	})
}

// dispatchOnce recognizes the inlined predicate check around a
// dispatch_once call and replaces it with the call on a static token.
func dispatchOnce(c *Context) bool {
	up := parents(c.Fn.Body)
	ret := false

	ast.Walk(c.Fn.Body, func(n ast.Node) bool {
		stmt, ok := n.(*ast.ExprStmt)
		if !ok {
			return true
		}

		call, name, ok := callee(stmt.X)
		if !ok || name != _DispatchOnce || len(call.Args) < 2 {
			return true
		}

		if a, ok := call.Args[0].(*ast.AddrOf); ok && isName(a.X, _OnceToken) {
			return true
		}

		guard, ok := up[stmt].(*ast.If)
		if !ok || !contains(guard.Then, stmt) {
			return true
		}

		guard.Cond = &ast.Num{Value: 1}
		guard.Else = nil
		guard.Then = ast.NewBlock(
			&ast.Declaration{Type: "static dispatch_once_t", Name: _OnceToken},
			&ast.ExprStmt{X: &ast.Call{
				Func: &ast.Name{ID: _DispatchOnce},
				Args: []ast.Node{&ast.AddrOf{X: &ast.Name{ID: _OnceToken}}, call.Args[1]},
			}},
		)

		ret = true

		return false
	})

	return ret
}
