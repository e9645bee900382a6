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

import "fmt"

// Children returns the direct sub-nodes of n in source order. Nil
// children are skipped.
func Children(n Node) []Node {
	var ret []Node

	add := func(v ...Node) {
		for _, x := range v {
			if !isNil(x) {
				ret = append(ret, x)
			}
		}
	}

	switch n := n.(type) {
	case *Function:
		for _, p := range n.Params {
			add(p)
		}
		for _, g := range n.Globals {
			add(g)
		}
		add(n.Body)
	case *Assign:
		add(n.Target, n.Value)
	case *Return:
		add(n.Value)
	case *ExprStmt:
		add(n.X)
	case *If:
		add(n.Cond, n.Then, n.Else)
	case *While:
		add(n.Cond, n.Body)
	case *DoWhile:
		add(n.Body, n.Cond)
	case *ForEach:
		add(n.Var, n.Source, n.Body)
	case *Switch:
		add(n.Value)
		for _, c := range n.Cases {
			add(c)
		}
	case *Case:
		add(n.Body)
	case *Block:
		add(n.Stmts...)
	case *Call:
		add(n.Func)
		add(n.Args...)
	case *MsgSend:
		add(n.Receiver)
		add(n.Args...)
	case *BinOp:
		add(n.L, n.R)
	case *Not:
		add(n.X)
	case *Deref:
		add(n.X)
	case *AddrOf:
		add(n.X)
	case *Cast:
		add(n.X)
	case *Field:
		add(n.X)
	case *BlockLiteral:
		add(n.Body)
	case *Declaration, *Label, *Goto, *Break, *Name, *Num, *Str, *ObjCString, *ObjCSelector, *Todo:
	default:
		panic(fmt.Sprintf("ast: unknown node %T", n))
	}

	return ret
}

// isNil catches typed nil pointers stored in interfaces.
func isNil(n Node) bool {
	switch v := n.(type) {
	case nil:
		return true
	case *Block:
		return v == nil
	case *Name:
		return v == nil
	}

	return false
}

// Walk visits n and its descendants in pre-order. Returning false from f
// skips the children of that node.
func Walk(n Node, f func(Node) bool) {
	if isNil(n) || !f(n) {
		return
	}

	for _, c := range Children(n) {
		Walk(c, f)
	}
}

// Transform rebuilds the tree bottom-up, replacing every node with what f
// returns for it. f sees each node after its children were transformed.
func Transform(n Node, f func(Node) Node) Node {
	if isNil(n) {
		return n
	}

	rewrite(n, func(v Node) Node { return Transform(v, f) })
	return f(n)
}

// rewrite replaces every direct child of n with what t returns for it.
func rewrite(n Node, t func(Node) Node) {
	switch n := n.(type) {
	case *Function:
		n.Body = block(t(n.Body))
	case *Assign:
		n.Target = t(n.Target)
		n.Value = t(n.Value)
	case *Return:
		n.Value = t(n.Value)
	case *ExprStmt:
		n.X = t(n.X)
	case *If:
		n.Cond = t(n.Cond)
		n.Then = block(t(n.Then))
		n.Else = block(t(n.Else))
	case *While:
		n.Cond = t(n.Cond)
		n.Body = block(t(n.Body))
	case *DoWhile:
		n.Body = block(t(n.Body))
		n.Cond = t(n.Cond)
	case *ForEach:
		n.Source = t(n.Source)
		n.Body = block(t(n.Body))
	case *Switch:
		n.Value = t(n.Value)
		for _, c := range n.Cases {
			c.Body = block(t(c.Body))
		}
	case *Case:
		n.Body = block(t(n.Body))
	case *Block:
		for i, s := range n.Stmts {
			n.Stmts[i] = t(s)
		}
	case *Call:
		n.Func = t(n.Func)
		list(n.Args, t)
	case *MsgSend:
		n.Receiver = t(n.Receiver)
		list(n.Args, t)
	case *BinOp:
		n.L = t(n.L)
		n.R = t(n.R)
	case *Not:
		n.X = t(n.X)
	case *Deref:
		n.X = t(n.X)
	case *AddrOf:
		n.X = t(n.X)
	case *Cast:
		n.X = t(n.X)
	case *Field:
		n.X = t(n.X)
	case *BlockLiteral:
		n.Body = block(t(n.Body))
	case *Declaration, *Label, *Goto, *Break, *Name, *Num, *Str, *ObjCString, *ObjCSelector, *Todo, Bind:
	default:
		panic(fmt.Sprintf("ast: unknown node %T", n))
	}
}

func list(v []Node, t func(Node) Node) {
	for i, x := range v {
		v[i] = t(x)
	}
}

// block turns the result of a transformation back into a statement list.
func block(n Node) *Block {
	switch v := n.(type) {
	case nil:
		return nil
	case *Block:
		return v
	default:
		return NewBlock(v)
	}
}

// Blocks calls f for every statement list in the tree, innermost first.
func Blocks(n Node, f func(*Block)) {
	Transform(n, func(v Node) Node {
		if b, ok := v.(*Block); ok && b != nil {
			f(b)
		}

		return v
	})
}

// Clone returns a deep copy of n.
func Clone(n Node) Node {
	if isNil(n) {
		return n
	}

	ret := shallow(n)
	rewrite(ret, Clone)

	return ret
}

// shallow copies a node along with its own slices.
func shallow(n Node) Node {
	switch n := n.(type) {
	case *Function:
		v := *n
		return &v
	case *Declaration:
		v := *n
		return &v
	case *Assign:
		v := *n
		return &v
	case *Return:
		v := *n
		return &v
	case *ExprStmt:
		v := *n
		return &v
	case *If:
		v := *n
		return &v
	case *While:
		v := *n
		return &v
	case *DoWhile:
		v := *n
		return &v
	case *ForEach:
		v := *n
		v.Var = Clone(n.Var).(*Name)
		return &v
	case *Switch:
		v := *n
		v.Cases = make([]*Case, len(n.Cases))
		for i, c := range n.Cases {
			v.Cases[i] = shallow(c).(*Case)
		}
		return &v
	case *Case:
		v := *n
		v.Values = append([]int64(nil), n.Values...)
		return &v
	case *Label:
		v := *n
		return &v
	case *Goto:
		v := *n
		return &v
	case *Break:
		return &Break{}
	case *Block:
		return &Block{Stmts: append([]Node(nil), n.Stmts...)}
	case *Name:
		v := *n
		return &v
	case *Num:
		v := *n
		return &v
	case *Str:
		v := *n
		return &v
	case *ObjCString:
		v := *n
		return &v
	case *ObjCSelector:
		v := *n
		return &v
	case *Call:
		v := *n
		v.Args = append([]Node(nil), n.Args...)
		return &v
	case *MsgSend:
		v := *n
		v.Args = append([]Node(nil), n.Args...)
		return &v
	case *BinOp:
		v := *n
		return &v
	case *Not:
		v := *n
		return &v
	case *Deref:
		v := *n
		return &v
	case *AddrOf:
		v := *n
		return &v
	case *Cast:
		v := *n
		return &v
	case *Field:
		v := *n
		return &v
	case *Todo:
		v := *n
		return &v
	case *BlockLiteral:
		v := *n
		return &v
	case Bind:
		return n
	default:
		panic(fmt.Sprintf("ast: unknown node %T", n))
	}
}
