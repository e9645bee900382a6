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

// Package ast is the C-like syntax tree decompiled functions are rendered
// into.
package ast

// Node is any element of the tree. The set of implementations is closed.
type Node interface {
	node()
}

type (
	// Function is the root of a decompiled function. Methods carry a class
	// and a selector instead of a plain name.
	Function struct {
		Name     string
		Ret      string
		Params   []*Declaration
		Globals  []*Declaration
		Body     *Block
		Class    string
		Selector string
		Static   bool
	}

	Declaration struct {
		Type string
		Name string
	}

	// Assign writes Value to Target. A non-empty Type turns it into a
	// definition.
	Assign struct {
		Target Node
		Value  Node
		Type   string
	}

	Return struct {
		Value Node
	}

	ExprStmt struct {
		X Node
	}

	If struct {
		Cond Node
		Then *Block
		Else *Block
	}

	While struct {
		Cond Node
		Body *Block
	}

	DoWhile struct {
		Body *Block
		Cond Node
	}

	ForEach struct {
		Type   string
		Var    *Name
		Source Node
		Body   *Block
	}

	Switch struct {
		Value Node
		Cases []*Case
	}

	Case struct {
		Values  []int64
		Default bool
		Body    *Block
	}

	Label struct {
		Name string
	}

	Goto struct {
		Label string
	}

	Break struct{}

	Block struct {
		Stmts []Node
	}
)

type (
	Name struct {
		ID string
	}

	Num struct {
		Value int64
	}

	// Str is a C string literal.
	Str struct {
		Value string
	}

	ObjCString struct {
		Value string
	}

	ObjCSelector struct {
		Value string
	}

	Call struct {
		Func Node
		Args []Node
	}

	MsgSend struct {
		Receiver Node
		Selector string
		Args     []Node
	}

	BinOp struct {
		Op string
		L  Node
		R  Node
	}

	Not struct {
		X Node
	}

	Deref struct {
		X Node
	}

	AddrOf struct {
		X Node
	}

	// Cast converts X to the named C type.
	Cast struct {
		Type string
		X    Node
	}

	Field struct {
		X    Node
		Name string
	}

	Todo struct {
		Text string
	}

	BlockLiteral struct {
		Body *Block
	}
)

func (*Function) node()     {}
func (*Declaration) node()  {}
func (*Assign) node()       {}
func (*Return) node()       {}
func (*ExprStmt) node()     {}
func (*If) node()           {}
func (*While) node()        {}
func (*DoWhile) node()      {}
func (*ForEach) node()      {}
func (*Switch) node()       {}
func (*Case) node()         {}
func (*Label) node()        {}
func (*Goto) node()         {}
func (*Break) node()        {}
func (*Block) node()        {}
func (*Name) node()         {}
func (*Num) node()          {}
func (*Str) node()          {}
func (*ObjCString) node()   {}
func (*ObjCSelector) node() {}
func (*Call) node()         {}
func (*MsgSend) node()      {}
func (*BinOp) node()        {}
func (*Not) node()          {}
func (*Deref) node()        {}
func (*AddrOf) node()       {}
func (*Cast) node()         {}
func (*Field) node()        {}
func (*Todo) node()         {}
func (*BlockLiteral) node() {}

// IsMethod reports whether the function is an Objective-C method.
func (f *Function) IsMethod() bool {
	return f.Class != ""
}

// NewBlock wraps statements, dropping nils.
func NewBlock(stmts ...Node) *Block {
	b := &Block{Stmts: make([]Node, 0, len(stmts))}

	for _, s := range stmts {
		if s != nil {
			b.Stmts = append(b.Stmts, s)
		}
	}

	return b
}

// Nop is the statement rewrites leave behind when they remove something.
// Flattening drops it.
func Nop() *ExprStmt {
	return &ExprStmt{X: &Num{Value: 1}}
}

// IsNop reports whether a statement has no effect.
func IsNop(n Node) bool {
	s, ok := n.(*ExprStmt)
	if !ok {
		return false
	}

	switch s.X.(type) {
	case *Num, *Name, *Str, *ObjCString, *ObjCSelector:
		return true
	}

	return false
}
