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

package ast

// Bind is a pattern variable. It matches any node and records it under
// its name. A name used twice in a pattern must match equal nodes.
type Bind string

// Any matches any node without recording it.
const Any = Bind("_")

func (Bind) node() {}

// Rest, as the last element of a pattern list, matches the remaining
// elements, which are recorded as a List.
type Rest string

func (Rest) node() {}

// List holds the elements a Rest pattern matched.
type List []Node

func (List) node() {}

// Bindings maps pattern variable names to the matched nodes.
type Bindings map[string]Node

// Match reports whether node has the shape of pattern. Empty strings in a
// pattern match any string, nil pattern children match only nil.
func Match(pattern Node, node Node) (Bindings, bool) {
	b := Bindings{}
	if !b.match(pattern, node) {
		return nil, false
	}

	return b, true
}

// MatchList matches a sequence of statements element-wise, sharing the
// bindings across all of them.
func MatchList(patterns []Node, nodes []Node) (Bindings, bool) {
	b := Bindings{}
	if !b.list(patterns, nodes) {
		return nil, false
	}

	return b, true
}

func (b Bindings) match(p Node, n Node) bool {
	if v, ok := p.(Bind); ok {
		return b.bind(v, n)
	}

	if isNil(p) || isNil(n) {
		return isNil(p) && isNil(n)
	}

	switch p := p.(type) {
	case *Declaration:
		n, ok := n.(*Declaration)
		return ok && str(p.Type, n.Type) && str(p.Name, n.Name)
	case *Assign:
		n, ok := n.(*Assign)
		return ok && str(p.Type, n.Type) && b.match(p.Target, n.Target) && b.match(p.Value, n.Value)
	case *Return:
		n, ok := n.(*Return)
		return ok && b.match(p.Value, n.Value)
	case *ExprStmt:
		n, ok := n.(*ExprStmt)
		return ok && b.match(p.X, n.X)
	case *If:
		n, ok := n.(*If)
		return ok && b.match(p.Cond, n.Cond) && b.match(p.Then, n.Then) && b.match(p.Else, n.Else)
	case *While:
		n, ok := n.(*While)
		return ok && b.match(p.Cond, n.Cond) && b.match(p.Body, n.Body)
	case *DoWhile:
		n, ok := n.(*DoWhile)
		return ok && b.match(p.Body, n.Body) && b.match(p.Cond, n.Cond)
	case *Block:
		n, ok := n.(*Block)
		return ok && b.list(p.Stmts, n.Stmts)
	case *Name:
		n, ok := n.(*Name)
		return ok && str(p.ID, n.ID)
	case *Num:
		n, ok := n.(*Num)
		return ok && p.Value == n.Value
	case *Str:
		n, ok := n.(*Str)
		return ok && str(p.Value, n.Value)
	case *ObjCString:
		n, ok := n.(*ObjCString)
		return ok && str(p.Value, n.Value)
	case *ObjCSelector:
		n, ok := n.(*ObjCSelector)
		return ok && str(p.Value, n.Value)
	case *Call:
		n, ok := n.(*Call)
		return ok && b.match(p.Func, n.Func) && b.list(p.Args, n.Args)
	case *MsgSend:
		n, ok := n.(*MsgSend)
		return ok && str(p.Selector, n.Selector) && b.match(p.Receiver, n.Receiver) && b.list(p.Args, n.Args)
	case *BinOp:
		n, ok := n.(*BinOp)
		return ok && str(p.Op, n.Op) && b.match(p.L, n.L) && b.match(p.R, n.R)
	case *Not:
		n, ok := n.(*Not)
		return ok && b.match(p.X, n.X)
	case *Deref:
		n, ok := n.(*Deref)
		return ok && b.match(p.X, n.X)
	case *AddrOf:
		n, ok := n.(*AddrOf)
		return ok && b.match(p.X, n.X)
	case *Cast:
		n, ok := n.(*Cast)
		return ok && str(p.Type, n.Type) && b.match(p.X, n.X)
	case *Field:
		n, ok := n.(*Field)
		return ok && str(p.Name, n.Name) && b.match(p.X, n.X)
	case *Todo:
		n, ok := n.(*Todo)
		return ok && str(p.Text, n.Text)
	case *Goto:
		n, ok := n.(*Goto)
		return ok && str(p.Label, n.Label)
	case *Label:
		n, ok := n.(*Label)
		return ok && str(p.Name, n.Name)
	case *Break:
		_, ok := n.(*Break)
		return ok
	}

	/* the remaining kinds only match themselves */
	return p == n
}

func (b Bindings) bind(v Bind, n Node) bool {
	if v == Any {
		return true
	}

	if old, ok := b[string(v)]; ok {
		return Equal(old, n)
	}

	b[string(v)] = n

	return true
}

// list matches element-wise. A pattern list holding a single Any matches
// any list.
func (b Bindings) list(p []Node, n []Node) bool {
	if len(p) == 1 && p[0] == Node(Any) {
		return true
	}

	if k := len(p) - 1; k >= 0 {
		if r, ok := p[k].(Rest); ok {
			if len(n) < k || !b.list(p[:k], n[:k]) {
				return false
			}

			b[string(r)] = List(append([]Node(nil), n[k:]...))
			return true
		}
	}

	if len(p) != len(n) {
		return false
	}

	for i := range p {
		if !b.match(p[i], n[i]) {
			return false
		}
	}

	return true
}

func str(p string, n string) bool {
	return p == "" || p == n
}

// Equal reports whether two trees are structurally identical.
func Equal(a Node, b Node) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}

	return Format(a) == Format(b)
}
